package action

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadpoint/toolengine/internal/state"
	"github.com/quadpoint/toolengine/internal/tool"
)

var testNow = time.UnixMilli(1724500000000)

func testCtx(data map[string]any, st state.Map) *Context {
	return &Context{
		DeploymentID: "dep1",
		ToolID:       "t1",
		UserID:       "user1",
		Data:         data,
		State:        st,
		Now:          testNow,
		ExecID:       "exec-1",
	}
}

func withElement(ctx *Context, el *tool.Element) *Context {
	ctx.Element = el
	ctx.ElementID = el.ID
	return ctx
}

func TestHandleVote_FirstVote(t *testing.T) {
	res, err := handleVote(testCtx(map[string]any{"optionId": "red"}, nil))
	require.NoError(t, err)
	require.True(t, res.Success)

	p, ok := res.State["poll"].(state.Poll)
	require.True(t, ok, "fragment keyed by the poll default key")
	assert.Equal(t, map[string]int64{"red": 1}, p.Votes)
	assert.Equal(t, []string{"user1"}, p.VotedBy)
	assert.Equal(t, "red", p.Choices["user1"])
}

func TestHandleVote_ChangeDecrementsOldOption(t *testing.T) {
	prior := state.Map{"poll": state.Poll{
		Votes:   map[string]int64{"red": 1},
		VotedBy: []string{"user1"},
		Choices: map[string]string{"user1": "red"},
	}}

	res, err := handleVote(testCtx(map[string]any{"optionId": "blue"}, prior))
	require.NoError(t, err)

	p := res.State["poll"].(state.Poll)
	assert.Equal(t, int64(0), p.Votes["red"])
	assert.Equal(t, int64(1), p.Votes["blue"])
	assert.Equal(t, []string{"user1"}, p.VotedBy, "voter listed once")
	assert.Equal(t, "blue", p.Choices["user1"])
}

func TestHandleVote_RevoteSameOptionIsStable(t *testing.T) {
	prior := state.Map{"poll": state.Poll{
		Votes:   map[string]int64{"red": 1},
		VotedBy: []string{"user1"},
		Choices: map[string]string{"user1": "red"},
	}}

	res, err := handleVote(testCtx(map[string]any{"optionId": "red"}, prior))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.State["poll"].(state.Poll).Votes["red"])
}

func TestHandleVote_DoesNotMutatePriorState(t *testing.T) {
	votes := map[string]int64{"red": 1}
	prior := state.Map{"poll": state.Poll{
		Votes:   votes,
		VotedBy: []string{"user1"},
		Choices: map[string]string{"user1": "red"},
	}}

	_, err := handleVote(testCtx(map[string]any{"optionId": "blue"}, prior))
	require.NoError(t, err)
	assert.Equal(t, int64(1), votes["red"], "prior tallies untouched")
}

func TestHandleVote_RequiresOption(t *testing.T) {
	res, err := handleVote(testCtx(map[string]any{}, nil))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "optionId is required", res.Error)
	assert.Nil(t, res.State)
}

func TestCounter_Sequences(t *testing.T) {
	el := &tool.Element{ID: "c1", Type: "counter"}

	tests := []struct {
		name    string
		prior   int64
		actions []string
		data    map[string]any
		config  map[string]any
		want    int64
	}{
		{"increment from empty", 0, []string{"inc"}, nil, nil, 1},
		{"decrement floors at zero", 0, []string{"dec", "dec"}, nil, nil, 0},
		{"decrement from positive", 3, []string{"dec"}, nil, nil, 2},
		{"config step", 0, []string{"inc"}, nil, map[string]any{"step": 5}, 5},
		{"payload step wins", 0, []string{"inc"}, map[string]any{"step": 3}, map[string]any{"step": 5}, 3},
		{"max clamps at five", 5, []string{"inc"}, nil, map[string]any{"max": 5}, 5},
		{"max clamp on overshoot", 4, []string{"inc"}, map[string]any{"step": 10}, map[string]any{"max": 5}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			element := *el
			element.Config = tt.config
			st := state.Map{}
			if tt.prior != 0 {
				st["c1"] = state.Counter{Count: tt.prior}
			}

			var count int64 = tt.prior
			for _, a := range tt.actions {
				ctx := withElement(testCtx(tt.data, st), &element)
				var res *Result
				var err error
				if a == "inc" {
					res, err = handleIncrement(ctx)
				} else {
					res, err = handleDecrement(ctx)
				}
				require.NoError(t, err)
				require.True(t, res.Success)
				c := res.State["c1"].(state.Counter)
				count = c.Count
				st = st.Merge(res.State)
			}
			assert.Equal(t, tt.want, count)
		})
	}
}

func TestHandleToggle_RoundTrip(t *testing.T) {
	st := state.Map{}

	first, err := handleToggle(testCtx(nil, st))
	require.NoError(t, err)
	assert.True(t, first.State["toggle"].(state.Toggle).On)

	second, err := handleToggle(testCtx(nil, st.Merge(first.State)))
	require.NoError(t, err)
	assert.False(t, second.State["toggle"].(state.Toggle).On, "two toggles restore the original value")
}

func TestHandleSetField(t *testing.T) {
	res, err := handleSetField(testCtx(map[string]any{"field": "name", "value": "Ada"}, nil))
	require.NoError(t, err)
	f := res.State["fields"].(state.Fields)
	assert.Equal(t, "Ada", f.Values["name"])

	prior := state.Map{"fields": f}
	res, err = handleSetField(testCtx(map[string]any{"values": map[string]any{"year": 3}}, prior))
	require.NoError(t, err)
	merged := res.State["fields"].(state.Fields)
	assert.Equal(t, "Ada", merged.Values["name"], "existing fields survive")
	assert.Equal(t, 3, merged.Values["year"])

	res, err = handleSetField(testCtx(map[string]any{}, nil))
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestHandleSelect(t *testing.T) {
	t.Run("single replaces", func(t *testing.T) {
		prior := state.Map{"selection": state.Selection{Selected: []string{"a"}}}
		res, err := handleSelect(testCtx(map[string]any{"optionId": "b"}, prior))
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, res.State["selection"].(state.Selection).Selected)
	})

	t.Run("multi toggles membership", func(t *testing.T) {
		el := &tool.Element{ID: "sel", Type: "selector", Config: map[string]any{"multi": true}}
		prior := state.Map{"sel": state.Selection{Selected: []string{"a"}, Multi: true}}

		res, err := handleSelect(withElement(testCtx(map[string]any{"optionId": "b"}, prior), el))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, res.State["sel"].(state.Selection).Selected)

		res, err = handleSelect(withElement(testCtx(map[string]any{"optionId": "a"}, prior), el))
		require.NoError(t, err)
		assert.Equal(t, []string{}, res.State["sel"].(state.Selection).Selected)
	})

	t.Run("list replaces wholesale", func(t *testing.T) {
		res, err := handleSelect(testCtx(map[string]any{"optionIds": []any{"x", "y"}}, nil))
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y"}, res.State["selection"].(state.Selection).Selected)
	})
}

func TestHandleRSVP(t *testing.T) {
	prior := state.Map{"rsvp": state.RSVP{Statuses: map[string]string{"u9": "maybe"}}}
	res, err := handleRSVP(testCtx(map[string]any{"status": "going"}, prior))
	require.NoError(t, err)

	r := res.State["rsvp"].(state.RSVP)
	assert.Equal(t, "going", r.Statuses["user1"])
	assert.Equal(t, "maybe", r.Statuses["u9"])
	assert.Equal(t, map[string]any{"status": "going", "counts": map[string]int64{"going": 1, "maybe": 1}}, res.Data)
}

func TestTimer_Lifecycle(t *testing.T) {
	st := state.Map{}

	at := func(ms int64) *Context {
		ctx := testCtx(nil, st)
		ctx.Now = time.UnixMilli(ms)
		return ctx
	}

	res, err := handleTimerStart(at(1000))
	require.NoError(t, err)
	st = st.Merge(res.State)
	require.True(t, st["timer"].(state.Timer).Running)

	// Starting again while running changes nothing.
	res, err = handleTimerStart(at(1500))
	require.NoError(t, err)
	assert.Nil(t, res.State)

	res, err = handleTimerStop(at(2500))
	require.NoError(t, err)
	st = st.Merge(res.State)
	tm := st["timer"].(state.Timer)
	assert.False(t, tm.Running)
	assert.Equal(t, int64(1500), tm.ElapsedMS)

	// Resume accumulates across the stop gap.
	res, err = handleTimerStart(at(5000))
	require.NoError(t, err)
	st = st.Merge(res.State)

	res, err = handleTimerLap(at(5600))
	require.NoError(t, err)
	st = st.Merge(res.State)
	tm = st["timer"].(state.Timer)
	assert.Equal(t, []int64{2100}, tm.Laps)
	assert.True(t, tm.Running, "lap does not stop the timer")

	res, err = handleTimerStop(at(6000))
	require.NoError(t, err)
	st = st.Merge(res.State)
	assert.Equal(t, int64(2500), st["timer"].(state.Timer).ElapsedMS)

	res, err = handleTimerReset(at(7000))
	require.NoError(t, err)
	st = st.Merge(res.State)
	tm = st["timer"].(state.Timer)
	assert.False(t, tm.Running)
	assert.Zero(t, tm.ElapsedMS)
	assert.Empty(t, tm.Laps)
}

func TestHandleScore(t *testing.T) {
	t.Run("absolute", func(t *testing.T) {
		res, err := handleScore(testCtx(map[string]any{"score": 40}, nil))
		require.NoError(t, err)
		assert.Equal(t, int64(40), res.State["leaderboard"].(state.Leaderboard).Scores["user1"])
	})

	t.Run("delta accumulates and floors", func(t *testing.T) {
		prior := state.Map{"leaderboard": state.Leaderboard{Scores: map[string]int64{"user1": 10}}}
		res, err := handleScore(testCtx(map[string]any{"delta": -25}, prior))
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.State["leaderboard"].(state.Leaderboard).Scores["user1"])
	})

	t.Run("other user via payload", func(t *testing.T) {
		res, err := handleScore(testCtx(map[string]any{"userId": "u2", "delta": 7}, nil))
		require.NoError(t, err)
		assert.Equal(t, int64(7), res.State["leaderboard"].(state.Leaderboard).Scores["u2"])
	})

	t.Run("requires score or delta", func(t *testing.T) {
		res, err := handleScore(testCtx(map[string]any{}, nil))
		require.NoError(t, err)
		assert.False(t, res.Success)
	})
}

func TestHandleSelectMarker_SeedsOutputs(t *testing.T) {
	res, err := handleSelectMarker(testCtx(map[string]any{"markerId": "m7", "label": "Library", "lat": 52.1, "lng": 4.3}, nil))
	require.NoError(t, err)

	m := res.State["marker"].(state.Marker)
	assert.Equal(t, "m7", m.SelectedID)
	assert.Equal(t, 52.1, m.Lat)
	assert.Equal(t, map[string]any{"markerId": "m7", "label": "Library"}, res.Outputs)
}

func TestNotices(t *testing.T) {
	res, err := handleDismissNotice(testCtx(map[string]any{"noticeId": "n1"}, nil))
	require.NoError(t, err)
	st := state.Map{}.Merge(res.State)

	// Dismissing again stays unique.
	res, err = handleDismissNotice(testCtx(map[string]any{"noticeId": "n1"}, st))
	require.NoError(t, err)
	st = st.Merge(res.State)

	res, err = handleReadNotice(testCtx(map[string]any{"noticeId": "n2"}, st))
	require.NoError(t, err)
	st = st.Merge(res.State)

	n := st["notices"].(state.Notices)
	assert.Equal(t, []string{"n1"}, n.Dismissed)
	assert.Equal(t, []string{"n2"}, n.Read)
}

func TestHandleSubmit(t *testing.T) {
	res, err := handleSubmit(testCtx(map[string]any{"values": map[string]any{"answer": "42"}}, nil))
	require.NoError(t, err)

	frag := res.State["submission"].(state.Submission)
	assert.True(t, frag.Submitted)
	assert.Equal(t, "exec-1", frag.SubmissionID)

	require.NotNil(t, res.Submission)
	assert.Equal(t, "exec-1", res.Submission.ID)
	assert.Equal(t, map[string]any{"answer": "42"}, res.Submission.Values)
}
