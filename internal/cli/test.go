package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/quadpoint/toolengine/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string
}

// ScenarioOutcome is one scenario's result within a report.
type ScenarioOutcome struct {
	Name     string   `json:"name"`
	Pass     bool     `json:"pass"`
	Failures []string `json:"failures,omitempty"`
}

// TestReport aggregates the outcomes of a run.
type TestReport struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`
}

// NewTestCommand builds the test subcommand.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario files against an in-memory engine",
		Long: `Test runs every scenario file under <scenarios-dir> through the full
execution pipeline against a fresh in-memory store, with a frozen clock
and sequential execution ids so runs are deterministic.

  toolengine test ./scenarios
  toolengine test ./scenarios --filter 'vote_*'

Exit codes:
  0  every scenario passed
  1  at least one scenario failed
  2  command error (unreadable directory, no scenarios)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "run only scenarios whose name matches this glob")

	return cmd
}

func runTest(opts *TestOptions, args []string, cmd *cobra.Command) error {
	f := NewFormatter(opts.RootOptions, cmd.OutOrStdout())

	paths, err := filepath.Glob(filepath.Join(args[0], "*.yaml"))
	if err != nil {
		return WrapExitError(ExitCommandError, "scan scenarios", err)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no scenarios found in %s", args[0]))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report := TestReport{}
	for _, path := range paths {
		outcome, skipped, err := runScenarioFile(ctx, path, opts.Filter)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("run %s", filepath.Base(path)), err)
		}
		if skipped {
			continue
		}
		report.Scenarios = append(report.Scenarios, outcome)
		report.Total++
		if outcome.Pass {
			report.Passed++
			f.Textf("✓ %s\n", outcome.Name)
		} else {
			report.Failed++
			f.Textf("✗ %s\n", outcome.Name)
			for _, failure := range outcome.Failures {
				f.Textf("    %s\n", failure)
			}
		}
	}

	if f.JSONOutput() {
		if report.Failed == 0 {
			return f.OK(report)
		}
		msg := fmt.Sprintf("%d of %d scenario(s) failed", report.Failed, report.Total)
		if err := f.FailWith(report, "", "SCENARIOS_FAILED", msg); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	f.Textf("\n%d passed, %d failed (%d scenario(s))\n", report.Passed, report.Failed, report.Total)
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", report.Failed, report.Total))
	}
	return nil
}

// runScenarioFile loads and runs one file. A file that fails to load is
// a failed outcome, not a command error, so one bad file does not mask
// the rest of the suite.
func runScenarioFile(ctx context.Context, path, filter string) (ScenarioOutcome, bool, error) {
	sc, err := harness.LoadFile(path)
	if err != nil {
		return ScenarioOutcome{
			Name:     filepath.Base(path),
			Failures: []string{err.Error()},
		}, false, nil
	}

	if filter != "" {
		match, err := filepath.Match(filter, sc.Name)
		if err != nil {
			return ScenarioOutcome{}, false, fmt.Errorf("invalid --filter pattern: %w", err)
		}
		if !match {
			return ScenarioOutcome{}, true, nil
		}
	}

	result, err := harness.Run(ctx, sc)
	if err != nil {
		return ScenarioOutcome{}, false, err
	}
	return ScenarioOutcome{
		Name:     sc.Name,
		Pass:     result.Passed(),
		Failures: result.Failures,
	}, false, nil
}
