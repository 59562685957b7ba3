package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadpoint/toolengine/internal/deploy"
	"github.com/quadpoint/toolengine/internal/docstore"
	"github.com/quadpoint/toolengine/internal/perm"
	"github.com/quadpoint/toolengine/internal/ratelimit"
	"github.com/quadpoint/toolengine/internal/sink"
	"github.com/quadpoint/toolengine/internal/state"
	"github.com/quadpoint/toolengine/internal/tool"
)

var fixedNow = time.UnixMilli(1724500000000)

func openTestStore(t *testing.T) *docstore.SQLite {
	t.Helper()
	store, err := docstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seqIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("exec-%d", n)
	}
}

func newTestEngine(t *testing.T, store docstore.Store, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(seqIDs()),
	}
	return New(store, append(base, opts...)...)
}

func gameNightTool() *tool.Tool {
	return &tool.Tool{
		ID:   "t1",
		Name: "Game Night",
		Elements: []tool.Element{
			{ID: "poll1", Type: "poll"},
			{ID: "counter1", Type: "counter", Config: map[string]any{"max": 5}},
			{ID: "toggle1", Type: "toggle"},
			{ID: "form1", Type: "form"},
			{ID: "board", Type: "announcement"},
		},
	}
}

func seedMember(t *testing.T, store docstore.Store, spaceID, userID, role string) {
	t.Helper()
	ref := docstore.NewRef("spaces/"+spaceID+"/members", userID)
	require.NoError(t, store.Set(context.Background(), ref, map[string]any{
		"role":   role,
		"status": "active",
	}))
}

// seedGameNight sets up the composite deployment space:abc_xyz over the
// Game Night tool with user1 as an active member.
func seedGameNight(t *testing.T, store docstore.Store, dep deploy.Deployment) {
	t.Helper()
	ctx := context.Background()
	if dep.Status == "" {
		dep.Status = deploy.StatusActive
	}
	if dep.ToolID == "" {
		dep.ToolID = "t1"
	}
	require.NoError(t, store.Set(ctx, docstore.NewRef("spaces/abc/placements", "xyz"), dep))
	require.NoError(t, store.Set(ctx, docstore.NewRef("tools", "t1"), gameNightTool()))
	seedMember(t, store, "abc", "user1", "member")
}

func voteRequest(optionID string) Request {
	return Request{
		DeploymentID: "space:abc_xyz",
		Action:       "vote",
		UserID:       "user1",
		Data:         map[string]any{"optionId": optionID},
	}
}

func asEngineError(t *testing.T, err error) *Error {
	t.Helper()
	var e *Error
	require.ErrorAs(t, err, &e)
	return e
}

func TestExecute_FirstVote(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, store)

	resp, err := eng.Execute(ctx, voteRequest("red"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "space:abc_xyz", resp.DeploymentID)
	assert.Equal(t, "exec-1", resp.ExecID)
	assert.Equal(t, fixedNow.UnixMilli(), resp.Timestamp)
	poll, ok := resp.State["poll"].(state.Poll)
	require.True(t, ok)
	assert.Equal(t, int64(1), poll.Votes["red"])
	assert.Equal(t, []string{"user1"}, poll.VotedBy)

	// The same envelope lands in both storage locations.
	var legacy, native state.Doc
	require.NoError(t, store.GetInto(ctx, docstore.NewRef("tool_state", "space:abc_xyz__user1"), &legacy))
	require.NoError(t, store.GetInto(ctx, docstore.NewRef("spaces/abc/placements/xyz/state", "user1"), &native))
	assert.Equal(t, legacy, native)
	assert.Equal(t, "space:abc_xyz", legacy.DeploymentID)
	assert.Equal(t, fixedNow.UnixMilli(), legacy.UpdatedAt)
	stored := legacy.State["poll"].(state.Poll)
	assert.Equal(t, int64(1), stored.Votes["red"])

	// Running totals commit with the state; usage bookkeeping follows.
	var rec deploy.Deployment
	require.NoError(t, store.GetInto(ctx, docstore.NewRef("spaces/abc/placements", "xyz"), &rec))
	assert.Equal(t, int64(1), rec.Stats.Executions)
	assert.Equal(t, fixedNow.UnixMilli(), rec.Stats.LastUsedAt)
	assert.Equal(t, int64(1), rec.UsageCount)

	var tl tool.Tool
	require.NoError(t, store.GetInto(ctx, docstore.NewRef("tools", "t1"), &tl))
	assert.Equal(t, int64(1), tl.UseCount)

	events, err := store.List(ctx, sink.AnalyticsCollection, docstore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "vote", events[0].Doc.String("action"))
	assert.True(t, events[0].Doc.Bool("success"))
}

func TestExecute_VoteChange(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, store)

	_, err := eng.Execute(ctx, voteRequest("red"))
	require.NoError(t, err)
	resp, err := eng.Execute(ctx, voteRequest("blue"))
	require.NoError(t, err)

	poll := resp.State["poll"].(state.Poll)
	assert.Equal(t, int64(0), poll.Votes["red"])
	assert.Equal(t, int64(1), poll.Votes["blue"])
	assert.Equal(t, []string{"user1"}, poll.VotedBy)
}

func TestExecute_InactiveDeploymentDeniesTotally(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{Status: "archived"})
	eng := newTestEngine(t, store)

	resp, err := eng.Execute(ctx, voteRequest("red"))

	require.Nil(t, resp)
	e := asEngineError(t, err)
	assert.Equal(t, KindForbidden, e.Kind)
	assert.Equal(t, CodeNotActive, e.Code)

	// Denial writes nothing anywhere.
	stateDocs, err := store.List(ctx, "tool_state", docstore.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, stateDocs)
	events, err := store.List(ctx, sink.AnalyticsCollection, docstore.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, events)
	var rec deploy.Deployment
	require.NoError(t, store.GetInto(ctx, docstore.NewRef("spaces/abc/placements", "xyz"), &rec))
	assert.Zero(t, rec.UsageCount)
	assert.Zero(t, rec.Stats.Executions)
}

func TestExecute_MembershipCheckedBeforeRole(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{
		Policy: deploy.Policy{AllowedRoles: []string{"admin"}},
	})
	eng := newTestEngine(t, store)

	req := voteRequest("red")
	req.UserID = "stranger"
	_, err := eng.Execute(ctx, req)

	e := asEngineError(t, err)
	assert.Equal(t, KindForbidden, e.Kind)
	assert.Equal(t, perm.CodeNotSpaceMember, e.Code)
	assert.True(t, IsForbidden(err))
}

func TestExecute_CounterClampsAtMax(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, store)

	var resp *Response
	for i := 0; i < 7; i++ {
		var err error
		resp, err = eng.Execute(ctx, Request{
			DeploymentID: "space:abc_xyz",
			Action:       "increment",
			ElementID:    "counter1",
			UserID:       "user1",
		})
		require.NoError(t, err)
		require.True(t, resp.Success)
	}

	counter := resp.State["counter1"].(state.Counter)
	assert.Equal(t, int64(5), counter.Count)
}

func TestExecute_ToggleRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, store)
	req := Request{
		DeploymentID: "space:abc_xyz",
		Action:       "toggle",
		ElementID:    "toggle1",
		UserID:       "user1",
	}

	first, err := eng.Execute(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.State["toggle1"].(state.Toggle).On)

	second, err := eng.Execute(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.State["toggle1"].(state.Toggle).On)
}

type denyLimiter struct{ retry time.Duration }

func (d denyLimiter) Check(string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: false, RetryAfter: d.retry}
}

func TestExecute_RateLimitedBeforeResolution(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	// Nothing is seeded: a rate-limited denial must fire before the
	// missing deployment could ever be noticed.
	eng := newTestEngine(t, store, WithLimiter(denyLimiter{retry: 42 * time.Second}))

	_, err := eng.Execute(ctx, voteRequest("red"))

	e := asEngineError(t, err)
	assert.Equal(t, KindRateLimited, e.Kind)
	assert.Equal(t, CodeRateLimited, e.Code)
	assert.Equal(t, 42*time.Second, e.RetryAfter)
	assert.True(t, IsRateLimited(err))

	events, listErr := store.List(ctx, sink.AnalyticsCollection, docstore.ListOptions{})
	require.NoError(t, listErr)
	assert.Empty(t, events)
}

func TestExecute_DeploymentNotFound(t *testing.T) {
	store := openTestStore(t)
	eng := newTestEngine(t, store)

	_, err := eng.Execute(context.Background(), voteRequest("red"))

	e := asEngineError(t, err)
	assert.Equal(t, KindNotFound, e.Kind)
	assert.Equal(t, CodeDeploymentNotFound, e.Code)
	assert.True(t, IsNotFound(err))
}

func TestExecute_ToolNotFound(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{ToolID: "ghost"})
	eng := newTestEngine(t, store)

	_, err := eng.Execute(ctx, voteRequest("red"))

	e := asEngineError(t, err)
	assert.Equal(t, CodeToolNotFound, e.Code)
}

func TestExecute_ElementNotFound(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, store)

	req := voteRequest("red")
	req.ElementID = "nope"
	_, err := eng.Execute(ctx, req)

	e := asEngineError(t, err)
	assert.Equal(t, KindNotFound, e.Kind)
	assert.Equal(t, CodeElementNotFound, e.Code)
}

func TestExecute_MissingToolReference(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	// Seeded directly so the empty tool id survives seeding defaults.
	require.NoError(t, store.Set(ctx, docstore.NewRef("spaces/abc/placements", "xyz"), map[string]any{
		"status": "active",
	}))
	seedMember(t, store, "abc", "user1", "member")
	eng := newTestEngine(t, store)

	_, err := eng.Execute(ctx, voteRequest("red"))

	e := asEngineError(t, err)
	assert.Equal(t, KindInvalid, e.Kind)
	assert.Equal(t, CodeMissingToolRef, e.Code)
	assert.Equal(t, 400, e.HTTPStatus())
}

func TestExecute_MissingRequestFields(t *testing.T) {
	store := openTestStore(t)
	eng := newTestEngine(t, store)

	_, err := eng.Execute(context.Background(), Request{DeploymentID: "d1", UserID: "u1"})

	e := asEngineError(t, err)
	assert.Equal(t, KindInvalid, e.Kind)
	assert.Equal(t, CodeMissingField, e.Code)
}

// A failed handler is a completed execution: no state is written, but
// the attempt is still counted and recorded.
func TestExecute_HandlerFailureStillBookkeeps(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, store)

	resp, err := eng.Execute(ctx, Request{
		DeploymentID: "space:abc_xyz",
		Action:       "vote",
		UserID:       "user1",
	})
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
	assert.Nil(t, resp.State)

	stateDocs, err := store.List(ctx, "tool_state", docstore.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, stateDocs)

	events, err := store.List(ctx, sink.AnalyticsCollection, docstore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Doc.Bool("success"))

	var rec deploy.Deployment
	require.NoError(t, store.GetInto(ctx, docstore.NewRef("spaces/abc/placements", "xyz"), &rec))
	assert.Equal(t, int64(1), rec.UsageCount)
	assert.Zero(t, rec.Stats.Executions)
}

func TestExecute_CascadePersistsDownstreamState(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	tl := gameNightTool()
	tl.Connections = []tool.Connection{
		{From: tool.Endpoint{ElementID: "poll1", Action: "vote"}, To: tool.Endpoint{ElementID: "counter1", Action: "increment"}},
	}
	require.NoError(t, store.Set(ctx, docstore.NewRef("spaces/abc/placements", "xyz"), deploy.Deployment{
		Status: deploy.StatusActive, ToolID: "t1",
	}))
	require.NoError(t, store.Set(ctx, docstore.NewRef("tools", "t1"), tl))
	seedMember(t, store, "abc", "user1", "member")
	eng := newTestEngine(t, store)

	req := voteRequest("red")
	req.ElementID = "poll1"
	resp, err := eng.Execute(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, []string{"counter1:increment"}, resp.Cascaded)
	assert.Contains(t, resp.State, "poll1")
	counter := resp.State["counter1"].(state.Counter)
	assert.Equal(t, int64(1), counter.Count)

	var native state.Doc
	require.NoError(t, store.GetInto(ctx, docstore.NewRef("spaces/abc/placements/xyz/state", "user1"), &native))
	assert.Contains(t, native.State, "counter1")
}

type failingBatchStore struct {
	docstore.Store
}

func (s failingBatchStore) NewBatch() docstore.Batch { return failingBatch{} }

type failingBatch struct{}

func (failingBatch) Set(docstore.Ref, any)                 {}
func (failingBatch) Update(docstore.Ref, map[string]any)   {}
func (failingBatch) Increment(docstore.Ref, string, int64) {}
func (failingBatch) Delete(docstore.Ref)                   {}
func (failingBatch) Len() int                              { return 0 }
func (failingBatch) Commit(context.Context) error          { return errors.New("commit refused") }

func TestExecute_PersistFailureIsExplicit(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, failingBatchStore{store})

	resp, err := eng.Execute(ctx, voteRequest("red"))

	require.Nil(t, resp)
	e := asEngineError(t, err)
	assert.Equal(t, KindInternal, e.Kind)
	assert.Equal(t, CodeStateNotSaved, e.Code)
	assert.Equal(t, "state not saved, retry", e.Message)
	assert.Equal(t, 500, e.HTTPStatus())

	// Nothing partial is observable, and side effects never ran.
	stateDocs, listErr := store.List(ctx, "tool_state", docstore.ListOptions{})
	require.NoError(t, listErr)
	assert.Empty(t, stateDocs)
	events, eventsErr := store.List(ctx, sink.AnalyticsCollection, docstore.ListOptions{})
	require.NoError(t, eventsErr)
	assert.Empty(t, events)
}

func TestExecute_SubmissionRecord(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, store)

	resp, err := eng.Execute(ctx, Request{
		DeploymentID: "space:abc_xyz",
		Action:       "submit_form",
		ElementID:    "form1",
		UserID:       "user1",
		Data:         map[string]any{"values": map[string]any{"name": "Dana"}},
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, resp.ExecID, resp.Data["submissionId"])

	doc, err := store.Get(ctx, docstore.NewRef(SubmissionsCollection, resp.ExecID))
	require.NoError(t, err)
	assert.Equal(t, "user1", doc.String("userId"))
	assert.Equal(t, "form1", doc.String("elementId"))
	assert.Equal(t, fixedNow.UnixMilli(), doc.Int64("submittedAt"))
	values, ok := doc["values"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Dana", values["name"])
}

func TestExecute_AnnouncementFansOut(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{
		Settings: deploy.Settings{AutoPost: boolPtr(true)},
	})
	seedMember(t, store, "abc", "user2", "member")
	eng := newTestEngine(t, store)

	resp, err := eng.Execute(ctx, Request{
		DeploymentID: "space:abc_xyz",
		Action:       "announce",
		ElementID:    "board",
		UserID:       "user1",
		Data:         map[string]any{"message": "Pizza at 6"},
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotNil(t, resp.FeedContent)
	assert.Equal(t, "Game Night", resp.FeedContent.Title)

	posts, err := store.List(ctx, "spaces/abc/feed", docstore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "Pizza at 6", posts[0].Doc.String("body"))
	assert.Equal(t, "user1", posts[0].Doc.String("authorId"))

	// The sender is not notified; the other member is.
	notes, err := store.List(ctx, sink.NotificationsCollection, docstore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "user2", notes[0].Doc.String("userId"))
}

func TestExecute_NoAutoPostWithoutOptIn(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, store)

	resp, err := eng.Execute(ctx, Request{
		DeploymentID: "space:abc_xyz",
		Action:       "announce",
		ElementID:    "board",
		UserID:       "user1",
		Data:         map[string]any{"message": "Pizza at 6"},
	})
	require.NoError(t, err)
	// The content is still returned to the caller; it just is not
	// published.
	require.NotNil(t, resp.FeedContent)

	posts, err := store.List(ctx, "spaces/abc/feed", docstore.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestExecute_ProfileTarget(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.Set(ctx, docstore.NewRef("profiles/u9/placements", "p1"), deploy.Deployment{
		Status: deploy.StatusActive, ToolID: "t1",
	}))
	require.NoError(t, store.Set(ctx, docstore.NewRef("tools", "t1"), gameNightTool()))
	eng := newTestEngine(t, store)

	owner, err := eng.Execute(ctx, Request{
		DeploymentID: "profile:u9_p1",
		Action:       "toggle",
		ElementID:    "toggle1",
		UserID:       "u9",
	})
	require.NoError(t, err)
	assert.True(t, owner.Success)

	_, err = eng.Execute(ctx, Request{
		DeploymentID: "profile:u9_p1",
		Action:       "toggle",
		ElementID:    "toggle1",
		UserID:       "user2",
	})
	e := asEngineError(t, err)
	assert.Equal(t, perm.CodeProfileAccessDenied, e.Code)
}

// Unknown actions succeed with a recorded fallback fragment rather than
// erroring.
func TestExecute_UnknownActionRecorded(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, store)

	resp, err := eng.Execute(ctx, Request{
		DeploymentID: "space:abc_xyz",
		Action:       "warp drive",
		UserID:       "user1",
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	unknown, ok := resp.State["unknown"].(state.Unknown)
	require.True(t, ok)
	assert.Equal(t, "warp_drive", unknown.Action)
}

// Every completed invocation leaves an audit document keyed by its
// execution id, failures included.
func TestExecute_AuditRecordPerInvocation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, store)

	resp, err := eng.Execute(ctx, voteRequest("red"))
	require.NoError(t, err)
	require.True(t, resp.Success)

	audit, err := store.Get(ctx, docstore.NewRef(sink.ExecutionsCollection, resp.ExecID))
	require.NoError(t, err)
	assert.Equal(t, "vote", audit.String("action"))
	assert.Equal(t, "user1", audit.String("userId"))
	assert.True(t, audit.Bool("success"))
	assert.Equal(t, fixedNow.UnixMilli(), audit.Int64("at"))

	failed, err := eng.Execute(ctx, Request{
		DeploymentID: "space:abc_xyz",
		Action:       "vote",
		UserID:       "user1",
	})
	require.NoError(t, err)
	require.False(t, failed.Success)

	audit, err = store.Get(ctx, docstore.NewRef(sink.ExecutionsCollection, failed.ExecID))
	require.NoError(t, err)
	assert.False(t, audit.Bool("success"))
	assert.Equal(t, failed.Error, audit.String("error"))
}

// Sequential executions against different elements leave both fragments
// in place; rewriting one key replaces only that key.
func TestExecute_FragmentWritesAreKeyScoped(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedGameNight(t, store, deploy.Deployment{})
	eng := newTestEngine(t, store)

	req := voteRequest("red")
	req.ElementID = "poll1"
	_, err := eng.Execute(ctx, req)
	require.NoError(t, err)

	_, err = eng.Execute(ctx, Request{
		DeploymentID: "space:abc_xyz",
		Action:       "increment",
		ElementID:    "counter1",
		UserID:       "user1",
	})
	require.NoError(t, err)

	req = voteRequest("blue")
	req.ElementID = "poll1"
	resp, err := eng.Execute(ctx, req)
	require.NoError(t, err)

	poll := resp.State["poll1"].(state.Poll)
	assert.Equal(t, int64(0), poll.Votes["red"])
	assert.Equal(t, int64(1), poll.Votes["blue"])
	counter := resp.State["counter1"].(state.Counter)
	assert.Equal(t, int64(1), counter.Count)

	var legacy state.Doc
	require.NoError(t, store.GetInto(ctx, docstore.NewRef("tool_state", "space:abc_xyz__user1"), &legacy))
	assert.Len(t, legacy.State, 2)
}

func boolPtr(b bool) *bool { return &b }
