package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quadpoint/toolengine/internal/tooldef"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// FileResult is one definition file's validation outcome.
type FileResult struct {
	File       string   `json:"file"`
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
}

// NewValidateCommand builds the validate subcommand.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate tool definition files",
		Long: `Validate checks tool definition files against the schema and the
reference rules: unique element ids, alias collisions, named actions
and connection endpoints that exist.

  toolengine validate tools/poll.yaml
  toolengine validate tools/*.yaml --format json

Exit codes:
  0  every file valid
  1  at least one file has violations
  2  command error (unreadable file)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, args []string, cmd *cobra.Command) error {
	f := NewFormatter(opts.RootOptions, cmd.OutOrStdout())

	results := make([]FileResult, 0, len(args))
	invalid := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "read definition", err)
		}

		result := FileResult{File: path, Valid: true}
		for _, violation := range tooldef.Validate(data) {
			result.Valid = false
			result.Violations = append(result.Violations, violation.Error())
		}
		results = append(results, result)

		if result.Valid {
			f.Textf("✓ %s\n", path)
			continue
		}
		invalid++
		f.Textf("✗ %s\n", path)
		for _, violation := range result.Violations {
			f.Textf("    %s\n", violation)
		}
	}

	if f.JSONOutput() {
		if invalid == 0 {
			return f.OK(results)
		}
		msg := fmt.Sprintf("%d of %d file(s) invalid", invalid, len(results))
		if err := f.FailWith(results, "INVALID_INPUT", "TOOL_DEFINITION_INVALID", msg); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d file(s) invalid", invalid, len(results)))
	}
	return nil
}
