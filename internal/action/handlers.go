package action

import (
	"encoding/json"
	"slices"

	"github.com/quadpoint/toolengine/internal/state"
)

// handleSubmit marks a submission and asks for a durable record. The
// execution id doubles as the submission id so retries of a failed
// persist stay identifiable.
func handleSubmit(ctx *Context) (*Result, error) {
	values := payloadValues(ctx.Data)
	frag := state.Submission{
		Submitted:    true,
		SubmissionID: ctx.ExecID,
		Values:       values,
		SubmittedAt:  ctx.Now.UnixMilli(),
	}
	return &Result{
		Success: true,
		State:   state.Map{stateKey(ctx, "submission"): frag},
		Data:    map[string]any{"submissionId": ctx.ExecID},
		Submission: &Submission{
			ID:        ctx.ExecID,
			ElementID: ctx.ElementID,
			Values:    values,
		},
	}, nil
}

// handleVote tallies one vote per user with vote-change support: a
// revote decrements the previous option (never below zero) before
// counting the new one.
func handleVote(ctx *Context) (*Result, error) {
	optionID := payloadString(ctx.Data, "optionId")
	if optionID == "" {
		return Failed("optionId is required"), nil
	}

	key := stateKey(ctx, "poll")
	prev, _ := ctx.State[key].(state.Poll)

	votes := cloneInt64Map(prev.Votes)
	choices := cloneStringMap(prev.Choices)
	votedBy := slices.Clone(prev.VotedBy)

	if old, voted := choices[ctx.UserID]; voted && votes[old] > 0 {
		votes[old]--
	}
	votes[optionID]++
	choices[ctx.UserID] = optionID
	if !slices.Contains(votedBy, ctx.UserID) {
		votedBy = append(votedBy, ctx.UserID)
	}

	frag := state.Poll{
		Votes:     votes,
		VotedBy:   votedBy,
		Choices:   choices,
		UpdatedAt: ctx.Now.UnixMilli(),
	}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"optionId": optionID, "votes": votes},
		Outputs: map[string]any{"optionId": optionID},
	}, nil
}

func handleIncrement(ctx *Context) (*Result, error) {
	return stepCounter(ctx, 1)
}

func handleDecrement(ctx *Context) (*Result, error) {
	return stepCounter(ctx, -1)
}

// stepCounter applies one step in the given direction. The count is
// clamped to zero below and, when the element or payload declares a max,
// clamped there above; clamping is not an error.
func stepCounter(ctx *Context, direction int64) (*Result, error) {
	step := payloadInt(ctx.Data, "step", ctx.Element.ConfigInt("step", 1))
	if step < 0 {
		step = -step
	}
	maxCount := payloadInt(ctx.Data, "max", ctx.Element.ConfigInt("max", 0))

	key := stateKey(ctx, "counter")
	prev, _ := ctx.State[key].(state.Counter)

	count := prev.Count + direction*step
	if count < 0 {
		count = 0
	}
	if maxCount > 0 && count > maxCount {
		count = maxCount
	}

	frag := state.Counter{Count: count, UpdatedAt: ctx.Now.UnixMilli()}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"count": count},
		Outputs: map[string]any{"count": count},
	}, nil
}

func handleToggle(ctx *Context) (*Result, error) {
	key := stateKey(ctx, "toggle")
	prev, _ := ctx.State[key].(state.Toggle)

	frag := state.Toggle{On: !prev.On, UpdatedAt: ctx.Now.UnixMilli()}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"on": frag.On},
	}, nil
}

// handleSetField captures keyed values: either a single {field, value}
// pair or a {values: {...}} object merged over the stored values.
func handleSetField(ctx *Context) (*Result, error) {
	key := stateKey(ctx, "fields")
	prev, _ := ctx.State[key].(state.Fields)
	values := cloneAnyMap(prev.Values)

	switch {
	case payloadString(ctx.Data, "field") != "":
		values[payloadString(ctx.Data, "field")] = ctx.Data["value"]
	case len(payloadValues(ctx.Data)) > 0:
		for k, v := range payloadValues(ctx.Data) {
			values[k] = v
		}
	default:
		return Failed("field or values is required"), nil
	}

	frag := state.Fields{Values: values, UpdatedAt: ctx.Now.UnixMilli()}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"values": values},
	}, nil
}

// handleSelect records a selection. Single mode replaces the choice;
// multi mode toggles the chosen option in and out, and an optionIds list
// replaces the whole set.
func handleSelect(ctx *Context) (*Result, error) {
	key := stateKey(ctx, "selection")
	prev, _ := ctx.State[key].(state.Selection)
	multi := payloadBool(ctx.Data, "multi", ctx.Element.ConfigBool("multi", false))

	var selected []string
	switch {
	case len(payloadStrings(ctx.Data, "optionIds")) > 0:
		selected = payloadStrings(ctx.Data, "optionIds")
	case payloadString(ctx.Data, "optionId") != "":
		optionID := payloadString(ctx.Data, "optionId")
		if !multi {
			selected = []string{optionID}
			break
		}
		selected = slices.Clone(prev.Selected)
		if i := slices.Index(selected, optionID); i >= 0 {
			selected = slices.Delete(selected, i, i+1)
		} else {
			selected = append(selected, optionID)
		}
	default:
		return Failed("optionId or optionIds is required"), nil
	}

	frag := state.Selection{Selected: selected, Multi: multi, UpdatedAt: ctx.Now.UnixMilli()}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"selected": selected},
	}, nil
}

func handleRSVP(ctx *Context) (*Result, error) {
	status := payloadString(ctx.Data, "status")
	if status == "" {
		status = "going"
	}

	key := stateKey(ctx, "rsvp")
	prev, _ := ctx.State[key].(state.RSVP)
	statuses := cloneStringMap(prev.Statuses)
	statuses[ctx.UserID] = status

	counts := make(map[string]int64, 3)
	for _, s := range statuses {
		counts[s]++
	}

	frag := state.RSVP{Statuses: statuses, UpdatedAt: ctx.Now.UnixMilli()}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"status": status, "counts": counts},
	}, nil
}

func handleTimerStart(ctx *Context) (*Result, error) {
	key := stateKey(ctx, "timer")
	prev, _ := ctx.State[key].(state.Timer)
	if prev.Running {
		return &Result{Success: true, Data: map[string]any{"running": true}}, nil
	}

	frag := state.Timer{
		Running:   true,
		StartedAt: ctx.Now.UnixMilli(),
		ElapsedMS: prev.ElapsedMS,
		Laps:      slices.Clone(prev.Laps),
		UpdatedAt: ctx.Now.UnixMilli(),
	}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"running": true, "elapsedMs": frag.ElapsedMS},
	}, nil
}

func handleTimerStop(ctx *Context) (*Result, error) {
	key := stateKey(ctx, "timer")
	prev, _ := ctx.State[key].(state.Timer)
	if !prev.Running {
		return &Result{Success: true, Data: map[string]any{"running": false, "elapsedMs": prev.ElapsedMS}}, nil
	}

	frag := state.Timer{
		Running:   false,
		ElapsedMS: prev.ElapsedMS + segmentMillis(prev, ctx),
		Laps:      slices.Clone(prev.Laps),
		UpdatedAt: ctx.Now.UnixMilli(),
	}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"running": false, "elapsedMs": frag.ElapsedMS},
	}, nil
}

func handleTimerReset(ctx *Context) (*Result, error) {
	key := stateKey(ctx, "timer")
	frag := state.Timer{UpdatedAt: ctx.Now.UnixMilli()}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"running": false, "elapsedMs": int64(0)},
	}, nil
}

func handleTimerLap(ctx *Context) (*Result, error) {
	key := stateKey(ctx, "timer")
	prev, _ := ctx.State[key].(state.Timer)

	total := prev.ElapsedMS
	if prev.Running {
		total += segmentMillis(prev, ctx)
	}

	frag := prev
	frag.Laps = append(slices.Clone(prev.Laps), total)
	frag.UpdatedAt = ctx.Now.UnixMilli()
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"lap": total, "laps": frag.Laps},
	}, nil
}

// segmentMillis is the elapsed time of the running segment, clamped to
// zero against clock skew between writes.
func segmentMillis(prev state.Timer, ctx *Context) int64 {
	d := ctx.Now.UnixMilli() - prev.StartedAt
	if d < 0 {
		return 0
	}
	return d
}

func handleSearch(ctx *Context) (*Result, error) {
	key := stateKey(ctx, "search")
	frag := state.Search{
		Query:     payloadString(ctx.Data, "query"),
		Filters:   payloadMap(ctx.Data, "filters"),
		UpdatedAt: ctx.Now.UnixMilli(),
	}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"query": frag.Query},
	}, nil
}

// handleScore updates a leaderboard entry with either an absolute score
// or a signed delta, clamped at zero.
func handleScore(ctx *Context) (*Result, error) {
	target := payloadString(ctx.Data, "userId")
	if target == "" {
		target = ctx.UserID
	}

	key := stateKey(ctx, "leaderboard")
	prev, _ := ctx.State[key].(state.Leaderboard)
	scores := cloneInt64Map(prev.Scores)

	switch {
	case hasPayload(ctx.Data, "score"):
		scores[target] = payloadInt(ctx.Data, "score", 0)
	case hasPayload(ctx.Data, "delta"):
		scores[target] += payloadInt(ctx.Data, "delta", 0)
	default:
		return Failed("score or delta is required"), nil
	}
	if scores[target] < 0 {
		scores[target] = 0
	}

	frag := state.Leaderboard{Scores: scores, UpdatedAt: ctx.Now.UnixMilli()}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"userId": target, "score": scores[target]},
	}, nil
}

// handleSelectMarker records a marker selection and seeds cascade outputs
// with the selection details.
func handleSelectMarker(ctx *Context) (*Result, error) {
	markerID := payloadString(ctx.Data, "markerId")
	if markerID == "" {
		return Failed("markerId is required"), nil
	}

	key := stateKey(ctx, "marker")
	frag := state.Marker{
		SelectedID: markerID,
		Label:      payloadString(ctx.Data, "label"),
		Lat:        payloadFloat(ctx.Data, "lat"),
		Lng:        payloadFloat(ctx.Data, "lng"),
		UpdatedAt:  ctx.Now.UnixMilli(),
	}
	outputs := map[string]any{"markerId": markerID}
	if frag.Label != "" {
		outputs["label"] = frag.Label
	}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"markerId": markerID},
		Outputs: outputs,
	}, nil
}

func handleDismissNotice(ctx *Context) (*Result, error) {
	return markNotice(ctx, "dismiss")
}

func handleReadNotice(ctx *Context) (*Result, error) {
	return markNotice(ctx, "read")
}

func markNotice(ctx *Context, mode string) (*Result, error) {
	noticeID := payloadString(ctx.Data, "noticeId")
	if noticeID == "" {
		return Failed("noticeId is required"), nil
	}

	key := stateKey(ctx, "notices")
	prev, _ := ctx.State[key].(state.Notices)
	frag := state.Notices{
		Dismissed: slices.Clone(prev.Dismissed),
		Read:      slices.Clone(prev.Read),
		UpdatedAt: ctx.Now.UnixMilli(),
	}
	if mode == "dismiss" {
		frag.Dismissed = appendUnique(frag.Dismissed, noticeID)
	} else {
		frag.Read = appendUnique(frag.Read, noticeID)
	}
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"noticeId": noticeID},
	}, nil
}

// handleAnnounce stores the announcement and fans a notification out to
// the active roster when community context is present.
func handleAnnounce(ctx *Context) (*Result, error) {
	message := payloadString(ctx.Data, "message")
	if message == "" {
		return Failed("message is required"), nil
	}

	key := stateKey(ctx, "announcement")
	frag := state.Announcement{
		Message: message,
		SentBy:  ctx.UserID,
		SentAt:  ctx.Now.UnixMilli(),
	}

	res := &Result{
		Success:     true,
		State:       state.Map{key: frag},
		Data:        map[string]any{"message": message},
		FeedContent: &FeedContent{Kind: "announcement", Title: announceTitle(ctx), Body: message},
	}
	if ctx.Community != nil {
		for _, m := range ctx.Community.Members {
			if m.UserID == ctx.UserID {
				continue
			}
			res.Notifications = append(res.Notifications, Notification{
				UserID:  m.UserID,
				Kind:    "announcement",
				Title:   announceTitle(ctx),
				Message: message,
			})
		}
	}
	return res, nil
}

func announceTitle(ctx *Context) string {
	if ctx.Tool != nil && ctx.Tool.Name != "" {
		return ctx.Tool.Name
	}
	return "Announcement"
}

func handleDismissAnnouncement(ctx *Context) (*Result, error) {
	key := stateKey(ctx, "announcement")
	prev, ok := ctx.State[key].(state.Announcement)
	if !ok || prev.Message == "" {
		return &Result{Success: true}, nil
	}

	frag := prev
	frag.DismissedBy = appendUnique(slices.Clone(prev.DismissedBy), ctx.UserID)
	return &Result{
		Success: true,
		State:   state.Map{key: frag},
		Data:    map[string]any{"dismissed": true},
	}, nil
}

// payload helpers. Payload values arrive from JSON or YAML decoding, so
// numbers may be json.Number, float64, or int.

func payloadString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func payloadBool(data map[string]any, key string, def bool) bool {
	if b, ok := data[key].(bool); ok {
		return b
	}
	return def
}

func hasPayload(data map[string]any, key string) bool {
	_, ok := data[key]
	return ok
}

func payloadInt(data map[string]any, key string, def int64) int64 {
	switch v := data[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return def
}

func payloadFloat(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func payloadMap(data map[string]any, key string) map[string]any {
	m, _ := data[key].(map[string]any)
	return m
}

// payloadValues returns data["values"] when it is an object, otherwise
// the payload itself. Submission-style handlers accept both shapes.
func payloadValues(data map[string]any) map[string]any {
	if v, ok := data["values"].(map[string]any); ok {
		return v
	}
	return data
}

func payloadStrings(data map[string]any, key string) []string {
	raw, ok := data[key].([]any)
	if !ok {
		if typed, isTyped := data[key].([]string); isTyped {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, isString := v.(string)
		if !isString {
			return nil
		}
		out = append(out, s)
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneInt64Map(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
