package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quadpoint/toolengine/internal/deploy"
	"github.com/quadpoint/toolengine/internal/docstore"
	"github.com/quadpoint/toolengine/internal/state"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	DB   string
	User string
}

// inspectView is the resolved deployment as inspect reports it.
type inspectView struct {
	ID              string            `json:"id"`
	Record          deploy.Deployment `json:"record"`
	RecordRef       string            `json:"recordRef"`
	StateCollection string            `json:"stateCollection"`
	FlatID          string            `json:"flatId,omitempty"`
	Active          bool              `json:"active"`
	AutoPost        bool              `json:"autoPost"`
	LegacyState     *state.Doc        `json:"legacyState,omitempty"`
	NativeState     *state.Doc        `json:"nativeState,omitempty"`
}

// NewInspectCommand builds the inspect subcommand.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <deployment-id>",
		Short: "Resolve a deployment and show its effective record",
		Long: `Inspect resolves a deployment the way the engine does, flat id first
and placement overlay second, then prints the normalized record and
where its state lives. With --user it also loads that user's state
documents from both storage locations.

  toolengine inspect poll1 --db campus.db
  toolengine inspect space:abc_widget1 --db campus.db --user u1

Exit codes:
  0  deployment resolved
  1  deployment not found
  2  command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "path to the document store database")
	cmd.Flags().StringVar(&opts.User, "user", "", "also load this user's state documents")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runInspect(opts *InspectOptions, args []string, cmd *cobra.Command) error {
	f := NewFormatter(opts.RootOptions, cmd.OutOrStdout())

	store, err := docstore.Open(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resolver := deploy.NewResolver(store, commandLogger(opts.RootOptions))
	res, err := resolver.Resolve(ctx, args[0])
	if err != nil {
		if errors.Is(err, deploy.ErrNotFound) {
			if f.JSONOutput() {
				if encErr := f.Fail("NOT_FOUND", "DEPLOYMENT_NOT_FOUND", "deployment not found"); encErr != nil {
					return encErr
				}
			} else {
				f.Textf("✗ deployment %s not found\n", args[0])
			}
			return NewExitError(ExitFailure, "deployment not found")
		}
		return WrapExitError(ExitFailure, "resolve deployment", err)
	}

	view := inspectView{
		ID:              res.ID,
		Record:          res.Record,
		RecordRef:       res.RecordRef.String(),
		StateCollection: res.StateCollection,
		FlatID:          res.FlatID,
		Active:          res.Record.Active(),
		AutoPost:        res.AutoPost(),
	}
	if opts.User != "" {
		view.LegacyState = loadStateDoc(ctx, store, res.LegacyStateRef(opts.User))
		view.NativeState = loadStateDoc(ctx, store, res.NativeStateRef(opts.User))
	}

	if f.JSONOutput() {
		return f.OK(view)
	}
	printInspect(f, &view, opts.User)
	return nil
}

// loadStateDoc returns nil when the document is absent or undecodable;
// inspect reports what it can see rather than failing the command.
func loadStateDoc(ctx context.Context, store docstore.Store, ref docstore.Ref) *state.Doc {
	var doc state.Doc
	if err := store.GetInto(ctx, ref, &doc); err != nil {
		return nil
	}
	return &doc
}

func printInspect(f *Formatter, view *inspectView, userID string) {
	f.Textf("✓ %s\n", view.ID)
	f.Textf("  tool:        %s\n", view.Record.ToolID)
	f.Textf("  status:      %s\n", view.Record.Status)
	f.Textf("  record:      %s\n", view.RecordRef)
	f.Textf("  state:       %s\n", view.StateCollection)
	if view.FlatID != "" && view.FlatID != view.ID {
		f.Textf("  flat id:     %s\n", view.FlatID)
	}
	f.Textf("  auto post:   %t\n", view.AutoPost)
	f.Textf("  executions:  %d\n", view.Record.Stats.Executions)
	if userID != "" {
		f.Textf("  legacy state: %s\n", describeState(view.LegacyState))
		f.Textf("  native state: %s\n", describeState(view.NativeState))
	}
}

func describeState(doc *state.Doc) string {
	if doc == nil {
		return "(none)"
	}
	return fmt.Sprintf("%d element(s), updated %d", len(doc.State), doc.UpdatedAt)
}
