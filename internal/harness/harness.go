package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/quadpoint/toolengine/internal/deploy"
	"github.com/quadpoint/toolengine/internal/docstore"
	"github.com/quadpoint/toolengine/internal/engine"
	"github.com/quadpoint/toolengine/internal/ratelimit"
	"github.com/quadpoint/toolengine/internal/state"
	"github.com/quadpoint/toolengine/internal/testutil"
)

// runEpoch is the frozen clock value every scenario runs at. Persisted
// timestamps and trace snapshots all carry this instant.
var runEpoch = time.UnixMilli(1724500000000).UTC()

// Result is the outcome of one scenario run. Failures collects every
// violated expectation and assertion; an empty list means the scenario
// passed.
type Result struct {
	Scenario string
	Steps    []StepResult
	Failures []string
}

// Passed reports whether every expectation and assertion held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

func (r *Result) failf(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// StepResult records one step's outcome in trace form. Typed pipeline
// errors carry ErrorKind and ErrorCode; a completed execution whose
// handler failed has Success=false with only Error set.
type StepResult struct {
	Action       string         `json:"action"`
	DeploymentID string         `json:"deploymentId"`
	UserID       string         `json:"userId"`
	ElementID    string         `json:"elementId,omitempty"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	ErrorKind    string         `json:"errorKind,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	State        map[string]any `json:"state,omitempty"`
	Cascaded     []string       `json:"cascaded,omitempty"`
	ExecID       string         `json:"execId,omitempty"`
}

// Run executes a scenario against a fresh in-memory store and the real
// pipeline. The returned error covers infrastructure problems only;
// expectation and assertion violations are reported in Result.Failures.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	store, err := docstore.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening scenario store: %w", err)
	}
	defer store.Close()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := deploy.NewResolver(store, quiet)

	if err := seed(ctx, store, resolver, sc.Seed); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	opts := []engine.Option{
		engine.WithLogger(quiet),
		engine.WithClock(testutil.NewFrozenClock(runEpoch).Now),
		engine.WithIDGenerator(testutil.NewIDSequence("exec").Next),
	}
	if sc.Limits != nil {
		lim, err := ratelimit.NewUserLimiter(ratelimit.Config{
			PerSecond: sc.Limits.PerSecond,
			Burst:     sc.Limits.Burst,
		})
		if err != nil {
			return nil, fmt.Errorf("scenario %s: building limiter: %w", sc.Name, err)
		}
		opts = append(opts, engine.WithLimiter(lim))
	}
	eng := engine.New(store, opts...)

	result := &Result{Scenario: sc.Name}
	for i, st := range sc.Steps {
		sr, err := runStep(ctx, eng, st)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: step %d: %w", sc.Name, i+1, err)
		}
		result.Steps = append(result.Steps, sr)
		checkExpect(result, i+1, st, sr)
	}

	evaluateAssertions(ctx, store, resolver, sc, result)
	return result, nil
}

func runStep(ctx context.Context, eng *engine.Engine, st Step) (StepResult, error) {
	sr := StepResult{
		Action:       st.Action,
		DeploymentID: st.DeploymentID,
		UserID:       st.UserID,
		ElementID:    st.ElementID,
	}

	resp, err := eng.Execute(ctx, engine.Request{
		DeploymentID: st.DeploymentID,
		Action:       st.Action,
		ElementID:    st.ElementID,
		UserID:       st.UserID,
		Data:         st.Data,
	})
	if err != nil {
		var ee *engine.Error
		if !errors.As(err, &ee) {
			return sr, fmt.Errorf("execute returned untyped error: %w", err)
		}
		sr.Error = ee.Message
		sr.ErrorKind = string(ee.Kind)
		sr.ErrorCode = ee.Code
		return sr, nil
	}

	sr.Success = resp.Success
	sr.Error = resp.Error
	sr.Cascaded = resp.Cascaded
	sr.ExecID = resp.ExecID

	data, err := normalizeMap(resp.Data)
	if err != nil {
		return sr, fmt.Errorf("normalizing response data: %w", err)
	}
	sr.Data = data

	if len(resp.State) > 0 {
		stateMap, err := normalizeMap(resp.State)
		if err != nil {
			return sr, fmt.Errorf("normalizing response state: %w", err)
		}
		sr.State = stateMap
	}
	return sr, nil
}

// checkExpect applies a step's expect clause to its result. Data and
// State match subsets; Cascaded matches exactly.
func checkExpect(r *Result, n int, st Step, sr StepResult) {
	exp := st.Expect
	if exp == nil {
		return
	}

	if exp.Success != nil && sr.Success != *exp.Success {
		r.failf("step %d (%s): success = %v, want %v (error %q)", n, st.Action, sr.Success, *exp.Success, sr.Error)
	}
	if exp.Kind != "" && sr.ErrorKind != exp.Kind {
		r.failf("step %d (%s): error kind = %q, want %q", n, st.Action, sr.ErrorKind, exp.Kind)
	}
	if exp.Code != "" && sr.ErrorCode != exp.Code {
		r.failf("step %d (%s): error code = %q, want %q", n, st.Action, sr.ErrorCode, exp.Code)
	}
	if exp.Error != "" && sr.Error != exp.Error {
		r.failf("step %d (%s): error = %q, want %q", n, st.Action, sr.Error, exp.Error)
	}
	if len(exp.Data) > 0 && !subsetMatch(exp.Data, sr.Data) {
		r.failf("step %d (%s): data %s does not contain %s", n, st.Action, compactJSON(sr.Data), compactJSON(exp.Data))
	}
	if len(exp.State) > 0 && !subsetMatch(exp.State, sr.State) {
		r.failf("step %d (%s): state %s does not contain %s", n, st.Action, compactJSON(sr.State), compactJSON(exp.State))
	}
	if len(exp.Cascaded) > 0 && !slices.Equal(exp.Cascaded, sr.Cascaded) {
		r.failf("step %d (%s): cascaded = %v, want %v", n, st.Action, sr.Cascaded, exp.Cascaded)
	}
}

// seed writes the scenario's documents. Placements and flat deployments
// go in first so state seeds can resolve their storage locations
// through the real resolver.
func seed(ctx context.Context, store docstore.Store, resolver *deploy.Resolver, s Seed) error {
	for _, raw := range s.Tools {
		id := stringField(raw, "id")
		if id == "" {
			return fmt.Errorf("seed tool missing id")
		}
		if err := store.Set(ctx, docstore.NewRef(engine.ToolsCollection, id), raw); err != nil {
			return fmt.Errorf("seeding tool %s: %w", id, err)
		}
	}

	for _, raw := range s.Deployments {
		id := stringField(raw, "id")
		if id == "" {
			return fmt.Errorf("seed deployment missing id")
		}
		if err := store.Set(ctx, docstore.NewRef(deploy.FlatCollection, id), raw); err != nil {
			return fmt.Errorf("seeding deployment %s: %w", id, err)
		}
	}

	for _, p := range s.Placements {
		ref := docstore.NewRef(placementCollection(p), p.PlacementID)
		if err := store.Set(ctx, ref, p.Record); err != nil {
			return fmt.Errorf("seeding placement %s: %w", ref, err)
		}
	}

	for _, m := range s.Members {
		status := m.Status
		if status == "" {
			status = "active"
		}
		ref := docstore.NewRef("spaces/"+m.SpaceID+"/members", m.UserID)
		doc := map[string]any{"role": m.Role, "status": status}
		if err := store.Set(ctx, ref, doc); err != nil {
			return fmt.Errorf("seeding member %s: %w", ref, err)
		}
	}

	for _, ss := range s.State {
		if err := seedState(ctx, store, resolver, ss); err != nil {
			return err
		}
	}

	for _, d := range s.Docs {
		if err := store.Set(ctx, docstore.NewRef(d.Collection, d.Key), d.Doc); err != nil {
			return fmt.Errorf("seeding doc %s/%s: %w", d.Collection, d.Key, err)
		}
	}
	return nil
}

func seedState(ctx context.Context, store docstore.Store, resolver *deploy.Resolver, ss StateSeed) error {
	res, err := resolver.Resolve(ctx, ss.DeploymentID)
	if err != nil {
		return fmt.Errorf("resolving state seed deployment %s: %w", ss.DeploymentID, err)
	}

	m, err := toStateMap(ss.State)
	if err != nil {
		return fmt.Errorf("state seed for %s/%s: %w", ss.DeploymentID, ss.UserID, err)
	}
	doc := state.Doc{
		DeploymentID: res.ID,
		UserID:       ss.UserID,
		State:        m,
		UpdatedAt:    runEpoch.UnixMilli(),
	}

	loc := ss.Location
	if loc == "" {
		loc = "both"
	}
	if loc == "legacy" || loc == "both" {
		if err := store.Set(ctx, res.LegacyStateRef(ss.UserID), doc); err != nil {
			return fmt.Errorf("seeding legacy state for %s/%s: %w", ss.DeploymentID, ss.UserID, err)
		}
	}
	if loc == "native" || loc == "both" {
		if err := store.Set(ctx, res.NativeStateRef(ss.UserID), doc); err != nil {
			return fmt.Errorf("seeding native state for %s/%s: %w", ss.DeploymentID, ss.UserID, err)
		}
	}
	return nil
}

func placementCollection(p Placement) string {
	if p.Surface == deploy.TargetProfile {
		return "profiles/" + p.SurfaceID + "/placements"
	}
	return "spaces/" + p.SurfaceID + "/placements"
}

// toStateMap converts a raw YAML state fragment into typed state via a
// JSON round trip, dispatching each value on its kind discriminator.
func toStateMap(raw map[string]any) (state.Map, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var m state.Map
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
