package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the serialized form of a scenario run, compared
// against golden fixtures. The frozen clock and sequential ids make
// snapshots stable across runs and machines.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Steps    []StepResult `json:"steps"`
	Failures []string     `json:"failures,omitempty"`
}

// RunGolden runs the scenario, fails the test on any expectation or
// assertion violation, and compares the trace snapshot against
// testdata/golden/<name>.golden. Regenerate fixtures with -update.
func RunGolden(t *testing.T, sc *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("running scenario %s: %v", sc.Name, err)
	}
	for _, failure := range result.Failures {
		t.Error(failure)
	}

	snap := TraceSnapshot{Scenario: result.Scenario, Steps: result.Steps, Failures: result.Failures}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		t.Fatalf("encoding trace snapshot: %v", err)
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, data)
	return result
}
