package perm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/quadpoint/toolengine/internal/deploy"
	"github.com/quadpoint/toolengine/internal/docstore"
)

// Deny codes carried on permission decisions.
const (
	CodeInteractionDisabled = "INTERACTION_DISABLED"
	CodeProfileAccessDenied = "PROFILE_ACCESS_DENIED"
	CodeNotSpaceMember      = "NOT_SPACE_MEMBER"
	CodeRoleNotAllowed      = "ROLE_NOT_ALLOWED"
	CodeUnknownTargetType   = "UNKNOWN_TARGET_TYPE"
	CodeCheckError          = "PERMISSION_CHECK_ERROR"
)

// Decision is the outcome of a permission evaluation. Code and Message
// are set only on denials.
type Decision struct {
	Allowed bool
	Code    string
	Message string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(code, message string) Decision {
	return Decision{Code: code, Message: message}
}

// membership is the member document shape under a space.
type membership struct {
	Role   string `json:"role"`
	Status string `json:"status"`
}

// Evaluator checks deployment policies against space membership records.
type Evaluator struct {
	store  docstore.Store
	logger *slog.Logger
}

// NewEvaluator returns an evaluator backed by store. A nil logger falls
// back to slog.Default.
func NewEvaluator(store docstore.Store, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: store, logger: logger}
}

// CanExecute evaluates the rules in order against the resolved
// deployment. Membership is consulted only for space targets, and only
// after the interaction switch passes.
func (e *Evaluator) CanExecute(ctx context.Context, userID string, res *deploy.Resolved) Decision {
	policy := res.Record.Policy
	if policy.CanInteract != nil && !*policy.CanInteract {
		return deny(CodeInteractionDisabled, "interaction is disabled for this deployment")
	}

	switch res.Record.TargetKind {
	case deploy.TargetProfile:
		if userID != res.Record.TargetID {
			return deny(CodeProfileAccessDenied, "only the profile owner can interact with this tool")
		}
		return allow()

	case deploy.TargetSpace:
		member, err := e.lookupMember(ctx, res.Record.TargetID, userID)
		if err != nil {
			e.logger.Error("membership lookup failed",
				"space", res.Record.TargetID, "user", userID, "error", err)
			return deny(CodeCheckError, "permission check failed")
		}
		if member == nil || member.Status != "active" {
			return deny(CodeNotSpaceMember, "you must be a member of this space to interact")
		}
		if len(policy.AllowedRoles) > 0 && !slices.Contains(policy.AllowedRoles, member.Role) {
			msg := fmt.Sprintf("action requires one of roles %v, you have %q", policy.AllowedRoles, member.Role)
			return deny(CodeRoleNotAllowed, msg)
		}
		return allow()

	default:
		return deny(CodeUnknownTargetType,
			fmt.Sprintf("unknown deployment target kind %q", res.Record.TargetKind))
	}
}

// lookupMember returns nil without error when no membership document
// exists; every other failure is reported so the caller can deny closed.
func (e *Evaluator) lookupMember(ctx context.Context, spaceID, userID string) (*membership, error) {
	ref := docstore.NewRef(docstore.NewRef("spaces", spaceID).Child("members"), userID)
	var m membership
	if err := e.store.GetInto(ctx, ref, &m); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
