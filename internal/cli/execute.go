package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quadpoint/toolengine/internal/docstore"
	"github.com/quadpoint/toolengine/internal/engine"
)

// ExecuteOptions holds flags for the execute command.
type ExecuteOptions struct {
	*RootOptions
	DB      string
	User    string
	Element string
	Data    string
}

// NewExecuteCommand builds the execute subcommand.
func NewExecuteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecuteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "execute <deployment-id> <action>",
		Short: "Execute a tool action against a deployment",
		Long: `Execute runs one action through the full pipeline: deployment
resolution, permission checks, the action handler, state persistence,
cascade propagation and side effects.

The payload is inline JSON or @file to read it from disk:

  toolengine execute poll1 vote --db campus.db --user u1 --data '{"optionId":"opt_a"}'
  toolengine execute form1 submit --db campus.db --user u1 --data @answers.json

Exit codes:
  0  action succeeded
  1  action failed (handler failure or typed execution error)
  2  command error (bad flags, unreadable payload, store unavailable)`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "path to the document store database")
	cmd.Flags().StringVar(&opts.User, "user", "", "acting user id")
	cmd.Flags().StringVar(&opts.Element, "element", "", "element id within a composed tool")
	cmd.Flags().StringVar(&opts.Data, "data", "{}", "action payload as JSON, or @file to load from disk")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runExecute(opts *ExecuteOptions, args []string, cmd *cobra.Command) error {
	f := NewFormatter(opts.RootOptions, cmd.OutOrStdout())

	payload, err := parsePayload(opts.Data)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --data payload", err)
	}

	store, err := docstore.Open(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	eng := engine.New(store, engine.WithLogger(commandLogger(opts.RootOptions)))
	resp, err := eng.Execute(ctx, engine.Request{
		DeploymentID: args[0],
		Action:       args[1],
		ElementID:    opts.Element,
		UserID:       opts.User,
		Data:         payload,
	})
	if err != nil {
		var ee *engine.Error
		if errors.As(err, &ee) {
			if f.JSONOutput() {
				if encErr := f.Fail(string(ee.Kind), ee.Code, ee.Message); encErr != nil {
					return encErr
				}
			} else {
				f.Textf("✗ %s (%s): %s\n", ee.Kind, ee.Code, ee.Message)
			}
			return NewExitError(ExitFailure, ee.Message)
		}
		return WrapExitError(ExitFailure, "execute action", err)
	}

	if f.JSONOutput() {
		return f.OK(resp)
	}
	printResponse(f, resp)
	if !resp.Success {
		return NewExitError(ExitFailure, resp.Error)
	}
	return nil
}

func printResponse(f *Formatter, resp *engine.Response) {
	if !resp.Success {
		f.Textf("✗ action failed: %s\n", resp.Error)
		return
	}
	f.Textf("✓ executed (%s)\n", resp.ExecID)
	for _, key := range sortedKeys(resp.Data) {
		f.Textf("  %s: %s\n", key, compactValue(resp.Data[key]))
	}
	if len(resp.Cascaded) > 0 {
		f.Textf("  cascaded: %s\n", strings.Join(resp.Cascaded, ", "))
	}
	if len(resp.Notifications) > 0 {
		f.Textf("  notifications: %d\n", len(resp.Notifications))
	}
}

// parsePayload decodes the --data flag. A leading @ reads the payload
// from a file. An empty payload is a valid request with no data.
func parsePayload(raw string) (map[string]any, error) {
	data := []byte(raw)
	if strings.HasPrefix(raw, "@") {
		var err error
		data, err = os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, err
		}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return payload, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func compactValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
