package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quadpoint/toolengine/internal/deploy"
	"github.com/quadpoint/toolengine/internal/docstore"
	"github.com/quadpoint/toolengine/internal/engine"
	"github.com/quadpoint/toolengine/internal/tooldef"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	DB string
}

// seedManifest is the optional deployments.yaml next to the tools
// directory. Unknown keys are rejected so typos fail loudly.
type seedManifest struct {
	Deployments []map[string]any `yaml:"deployments"`
	Placements  []seedPlacement  `yaml:"placements"`
	Members     []seedMember     `yaml:"members"`
}

type seedPlacement struct {
	Surface     string         `yaml:"surface"` // "space" | "profile"
	SurfaceID   string         `yaml:"surfaceId"`
	PlacementID string         `yaml:"placementId"`
	Record      map[string]any `yaml:"record"`
}

type seedMember struct {
	SpaceID string `yaml:"spaceId"`
	UserID  string `yaml:"userId"`
	Role    string `yaml:"role"`
	Status  string `yaml:"status"`
}

// seedReport summarizes what the command wrote.
type seedReport struct {
	Tools       []string `json:"tools"`
	Deployments []string `json:"deployments"`
	Placements  []string `json:"placements"`
	Members     int      `json:"members"`
}

// NewSeedCommand builds the seed subcommand.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <definitions-dir>",
		Short: "Load tool definitions and deployments into a store",
		Long: `Seed validates every tool definition under <definitions-dir>/tools and
writes the parsed tools into the store. When <definitions-dir> holds a
deployments.yaml manifest its deployment records, placements and space
members are written too.

  toolengine seed ./fixtures --db campus.db

Exit codes:
  0  everything written
  1  a definition failed validation
  2  command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "path to the document store database")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSeed(opts *SeedOptions, args []string, cmd *cobra.Command) error {
	f := NewFormatter(opts.RootOptions, cmd.OutOrStdout())
	dir := args[0]

	paths, err := toolDefinitionFiles(filepath.Join(dir, "tools"))
	if err != nil {
		return WrapExitError(ExitCommandError, "scan tool definitions", err)
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

	report := seedReport{}
	for _, path := range paths {
		t, err := tooldef.Load(path)
		if err != nil {
			if f.JSONOutput() {
				if encErr := f.Fail("INVALID_INPUT", "TOOL_DEFINITION_INVALID", err.Error()); encErr != nil {
					return encErr
				}
			} else {
				f.Textf("✗ %s: %v\n", filepath.Base(path), err)
			}
			return NewExitError(ExitFailure, fmt.Sprintf("invalid tool definition %s", filepath.Base(path)))
		}
		ref := docstore.NewRef(engine.ToolsCollection, t.ID)
		if err := store.Set(ctx, ref, t); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("write tool %s", t.ID), err)
		}
		report.Tools = append(report.Tools, t.ID)
		f.Textf("✓ tool %s (%s)\n", t.ID, filepath.Base(path))
	}

	manifest, err := loadManifest(filepath.Join(dir, "deployments.yaml"))
	if err != nil {
		return WrapExitError(ExitCommandError, "load deployments manifest", err)
	}
	if manifest != nil {
		if err := seedFromManifest(ctx, store, f, manifest, &report); err != nil {
			return err
		}
	}

	if f.JSONOutput() {
		return f.OK(report)
	}
	f.Textf("seeded %d tool(s), %d deployment(s), %d placement(s), %d member(s)\n",
		len(report.Tools), len(report.Deployments), len(report.Placements), report.Members)
	return nil
}

// toolDefinitionFiles lists the YAML definitions under dir in name
// order. A missing directory is an empty seed, not an error.
func toolDefinitionFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	return paths, nil
}

// loadManifest reads the optional deployments.yaml. Absence is fine.
func loadManifest(path string) (*seedManifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var manifest seedManifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &manifest, nil
}

func seedFromManifest(ctx context.Context, store docstore.Store, f *Formatter, manifest *seedManifest, report *seedReport) error {
	for _, record := range manifest.Deployments {
		id, ok := record["id"].(string)
		if !ok || id == "" {
			return NewExitError(ExitCommandError, "deployment record missing id")
		}
		ref := docstore.NewRef(deploy.FlatCollection, id)
		if err := store.Set(ctx, ref, record); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("write deployment %s", id), err)
		}
		report.Deployments = append(report.Deployments, id)
		f.Textf("✓ deployment %s\n", id)
	}

	for _, p := range manifest.Placements {
		collection, err := placementCollection(p.Surface, p.SurfaceID)
		if err != nil {
			return WrapExitError(ExitCommandError, "seed placement", err)
		}
		if p.PlacementID == "" {
			return NewExitError(ExitCommandError, "placement missing placementId")
		}
		ref := docstore.NewRef(collection, p.PlacementID)
		if err := store.Set(ctx, ref, p.Record); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("write placement %s", p.PlacementID), err)
		}
		name := p.Surface + ":" + p.SurfaceID + "/" + p.PlacementID
		report.Placements = append(report.Placements, name)
		f.Textf("✓ placement %s\n", name)
	}

	for _, m := range manifest.Members {
		if m.SpaceID == "" || m.UserID == "" {
			return NewExitError(ExitCommandError, "member missing spaceId or userId")
		}
		status := m.Status
		if status == "" {
			status = "active"
		}
		ref := docstore.NewRef("spaces/"+m.SpaceID+"/members", m.UserID)
		doc := map[string]any{"role": m.Role, "status": status}
		if err := store.Set(ctx, ref, doc); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("write member %s", m.UserID), err)
		}
		report.Members++
	}
	if report.Members > 0 {
		f.Textf("✓ %d member(s)\n", report.Members)
	}
	return nil
}

func placementCollection(surface, surfaceID string) (string, error) {
	if surfaceID == "" {
		return "", fmt.Errorf("placement missing surfaceId")
	}
	switch surface {
	case "space":
		return "spaces/" + surfaceID + "/placements", nil
	case "profile":
		return "profiles/" + surfaceID + "/placements", nil
	default:
		return "", fmt.Errorf("unknown placement surface %q", surface)
	}
}
