package action

import (
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/quadpoint/toolengine/internal/state"
)

// Handler is one registered state transition.
type Handler func(*Context) (*Result, error)

// Registry maps normalized action names to handlers and performs the
// fallback dispatch for names no handler claims.
type Registry struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry returns a registry with the built-in handler set
// registered.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{handlers: make(map[string]Handler), logger: logger}

	builtins := map[string]Handler{
		"submit":               handleSubmit,
		"submit_form":          handleSubmit,
		"vote":                 handleVote,
		"increment":            handleIncrement,
		"decrement":            handleDecrement,
		"toggle":               handleToggle,
		"set_field":            handleSetField,
		"select":               handleSelect,
		"rsvp":                 handleRSVP,
		"timer_start":          handleTimerStart,
		"timer_stop":           handleTimerStop,
		"timer_reset":          handleTimerReset,
		"timer_lap":            handleTimerLap,
		"search":               handleSearch,
		"score":                handleScore,
		"select_marker":        handleSelectMarker,
		"dismiss_notice":       handleDismissNotice,
		"read_notice":          handleReadNotice,
		"announce":             handleAnnounce,
		"dismiss_announcement": handleDismissAnnouncement,
	}
	for name, h := range builtins {
		r.Register(name, h)
	}
	return r
}

// Register adds a handler under the normalized form of name, replacing
// any previous registration.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[Normalize(name)] = h
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute dispatches an action by name. It always returns a well-formed
// result: handler errors and panics downgrade to a failed result, and
// unmatched names fall back to the element's declared custom actions and
// then to a recorded unknown action, both reported as success.
func (r *Registry) Execute(ctx *Context, name string) *Result {
	normalized := Normalize(name)

	if h, ok := r.handlers[normalized]; ok {
		return r.run(ctx, normalized, h)
	}

	if res, ok := r.customAction(ctx, normalized); ok {
		return res
	}

	r.logger.Info("unknown action recorded",
		"action", name,
		"user", ctx.UserID,
		"deployment", ctx.DeploymentID)
	return &Result{
		Success: true,
		State: state.Map{stateKey(ctx, "unknown"): state.Unknown{
			Action:     normalized,
			ExecutedAt: ctx.Now.UnixMilli(),
		}},
		Data: map[string]any{"action": normalized, "handled": false},
	}
}

func (r *Registry) run(ctx *Context, name string, h Handler) (res *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("action handler panicked",
				"action", name,
				"user", ctx.UserID,
				"deployment", ctx.DeploymentID,
				"panic", rec)
			res = Failed("action failed")
		}
	}()

	out, err := h(ctx)
	if err != nil {
		r.logger.Error("action handler failed",
			"action", name,
			"user", ctx.UserID,
			"deployment", ctx.DeploymentID,
			"error", err)
		return Failed("action failed")
	}
	if out == nil {
		r.logger.Error("action handler returned no result", "action", name)
		return Failed("action failed")
	}
	return out
}

// customAction matches the name against the target element's declared
// actions and records a generic execution when one matches.
func (r *Registry) customAction(ctx *Context, normalized string) (*Result, bool) {
	if ctx.Element == nil || normalized == "" {
		return nil, false
	}
	for _, a := range ctx.Element.Actions {
		byName := a.Name != "" && Normalize(a.Name) == normalized
		byID := a.ID != "" && Normalize(a.ID) == normalized
		if !byName && !byID {
			continue
		}
		r.logger.Debug("custom element action executed",
			"action", normalized,
			"element", ctx.Element.ID,
			"user", ctx.UserID)
		return &Result{
			Success: true,
			State: state.Map{stateKey(ctx, "custom"): state.Custom{
				Action:     normalized,
				Data:       ctx.Data,
				ExecutedAt: ctx.Now.UnixMilli(),
			}},
			Data: map[string]any{"action": normalized, "custom": true},
		}, true
	}
	return nil, false
}

// Normalize canonicalizes an action name for lookup: trimmed, Unicode
// NFC, case-folded, with runs of space, dash, dot, and underscore
// separators unified to single underscores.
func Normalize(name string) string {
	folded := cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
	parts := strings.FieldsFunc(folded, func(r rune) bool {
		return r == ' ' || r == '-' || r == '.' || r == '_'
	})
	return strings.Join(parts, "_")
}
