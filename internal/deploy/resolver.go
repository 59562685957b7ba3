package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quadpoint/toolengine/internal/docstore"
)

// ErrNotFound reports that neither addressing scheme produced a record.
var ErrNotFound = errors.New("deploy: deployment not found")

// Resolved is the normalized view of a deployment the rest of the
// pipeline works against, independent of the addressing scheme that
// located it.
type Resolved struct {
	// ID is the identifier the caller asked for. It anchors cascade
	// propagation and the legacy flat state key.
	ID string

	// Record is the effective deployment after normalization.
	Record Deployment

	// RecordRef addresses the document the record was read from, for
	// stats updates in the persistence batch.
	RecordRef docstore.Ref

	// StateCollection holds per-user native state documents nested
	// under the record.
	StateCollection string

	// FlatID names the flat deployments record that carries the usage
	// counter. Empty when the placement has no flat counterpart.
	FlatID string
}

// NativeStateRef addresses the user's deployment-native state document.
func (r *Resolved) NativeStateRef(userID string) docstore.Ref {
	return docstore.NewRef(r.StateCollection, userID)
}

// LegacyStateRef addresses the user's state document in the flat
// collection older clients write to.
func (r *Resolved) LegacyStateRef(userID string) docstore.Ref {
	return docstore.NewRef(LegacyStateCollection, r.ID+"__"+userID)
}

// AutoPost reports whether successful executions should publish their
// feed content.
func (r *Resolved) AutoPost() bool {
	return r.Record.Settings.AutoPost != nil && *r.Record.Settings.AutoPost
}

// Resolver locates deployment records in the document store.
type Resolver struct {
	store  docstore.Store
	logger *slog.Logger
}

// NewResolver returns a resolver backed by store. A nil logger falls
// back to slog.Default.
func NewResolver(store docstore.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve looks up deploymentID under whichever scheme it encodes.
// Composite identifiers try their nested placement first and fall back
// to the flat collection, so a flat record that happens to carry a
// composite-looking id still resolves. A miss on every path returns an
// error wrapping ErrNotFound without touching the store further.
func (r *Resolver) Resolve(ctx context.Context, deploymentID string) (*Resolved, error) {
	if kind, surfaceID, placementID, ok := parseComposite(deploymentID); ok {
		res, err := r.resolveComposite(ctx, deploymentID, kind, surfaceID, placementID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return nil, err
		}
		r.logger.Debug("placement miss, trying flat collection", "deployment", deploymentID)
	}
	return r.resolveDirect(ctx, deploymentID)
}

func (r *Resolver) resolveComposite(ctx context.Context, id, kind, surfaceID, placementID string) (*Resolved, error) {
	ref := docstore.NewRef(surfaceCollection(kind, surfaceID), placementID)
	var d Deployment
	if err := r.store.GetInto(ctx, ref, &d); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("reading placement %s: %w", ref, err)
	}
	d.normalize()
	if d.ID == "" {
		d.ID = id
	}
	d.TargetKind = kind
	d.TargetID = surfaceID
	r.logger.Debug("resolved placement",
		"deployment", id, "target_kind", kind, "target_id", surfaceID)
	return &Resolved{
		ID:              id,
		Record:          d,
		RecordRef:       ref,
		StateCollection: ref.Child("state"),
		FlatID:          d.DeploymentID,
	}, nil
}

func (r *Resolver) resolveDirect(ctx context.Context, id string) (*Resolved, error) {
	ref := docstore.NewRef(FlatCollection, id)
	var d Deployment
	if err := r.store.GetInto(ctx, ref, &d); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("deployment %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("reading deployment %s: %w", ref, err)
	}
	d.normalize()
	if d.ID == "" {
		d.ID = id
	}
	r.logger.Debug("resolved deployment",
		"deployment", id, "target_kind", d.TargetKind, "target_id", d.TargetID)
	return &Resolved{
		ID:              id,
		Record:          d,
		RecordRef:       ref,
		StateCollection: ref.Child("state"),
		FlatID:          id,
	}, nil
}

// parseComposite splits "<kind>:<surfaceID>_<placementID>" into its
// parts. Identifiers that do not carry a known kind prefix, or whose
// remainder lacks the surface/placement separator, are not composite.
func parseComposite(id string) (kind, surfaceID, placementID string, ok bool) {
	kind, rest, found := strings.Cut(id, ":")
	if !found {
		return "", "", "", false
	}
	switch kind {
	case TargetSpace, TargetProfile:
	default:
		return "", "", "", false
	}
	surfaceID, placementID, found = strings.Cut(rest, "_")
	if !found || surfaceID == "" || placementID == "" {
		return "", "", "", false
	}
	return kind, surfaceID, placementID, true
}

func surfaceCollection(kind, surfaceID string) string {
	if kind == TargetProfile {
		return docstore.NewRef("profiles", surfaceID).Child("placements")
	}
	return docstore.NewRef("spaces", surfaceID).Child("placements")
}
