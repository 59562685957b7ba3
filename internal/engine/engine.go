package engine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quadpoint/toolengine/internal/action"
	"github.com/quadpoint/toolengine/internal/cascade"
	"github.com/quadpoint/toolengine/internal/community"
	"github.com/quadpoint/toolengine/internal/deploy"
	"github.com/quadpoint/toolengine/internal/docstore"
	"github.com/quadpoint/toolengine/internal/perm"
	"github.com/quadpoint/toolengine/internal/ratelimit"
	"github.com/quadpoint/toolengine/internal/sink"
	"github.com/quadpoint/toolengine/internal/state"
	"github.com/quadpoint/toolengine/internal/tool"
)

// Collections the engine reads and writes beyond what its collaborators
// own.
const (
	ToolsCollection       = "tools"
	SubmissionsCollection = "submissions"
)

// Request is one inbound action invocation. The transport boundary
// validates shape and sanitizes free-form values before the engine sees
// them; UserID comes from the caller's authentication layer.
type Request struct {
	DeploymentID string         `json:"deploymentId"`
	Action       string         `json:"action"`
	ElementID    string         `json:"elementId,omitempty"`
	UserID       string         `json:"userId"`
	Data         map[string]any `json:"data,omitempty"`
	Meta         map[string]any `json:"context,omitempty"`
}

// Response is the outcome of a completed pipeline. State is the full
// merged execution state after a successful persist; a failed handler
// result reports Success=false with no state.
type Response struct {
	Success       bool                  `json:"success"`
	Data          map[string]any        `json:"data,omitempty"`
	Error         string                `json:"error,omitempty"`
	FeedContent   *action.FeedContent   `json:"feedContent,omitempty"`
	State         state.Map             `json:"state,omitempty"`
	Notifications []action.Notification `json:"notifications,omitempty"`
	Cascaded      []string              `json:"cascaded,omitempty"`
	DeploymentID  string                `json:"deploymentId"`
	ExecID        string                `json:"execId"`
	Timestamp     int64                 `json:"timestamp"`
}

// Engine wires the execution pipeline's collaborators together.
type Engine struct {
	store    docstore.Store
	resolver *deploy.Resolver
	perms    *perm.Evaluator
	registry *action.Registry
	cascader *cascade.Propagator
	graphs   tool.Resolver
	fetcher  community.Fetcher
	sinks    *sink.Sinks
	limiter  ratelimit.Limiter
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by the engine and the collaborators
// it constructs itself.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithLimiter sets the per-user rate limiter consulted before any
// resolution work.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithRegistry replaces the default action registry.
func WithRegistry(r *action.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithFetcher replaces the community context fetcher.
func WithFetcher(f community.Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithSinks replaces the side-effect sinks.
func WithSinks(s *sink.Sinks) Option {
	return func(e *Engine) { e.sinks = s }
}

// WithGraphResolver replaces the composition resolver.
func WithGraphResolver(r tool.Resolver) Option {
	return func(e *Engine) { e.graphs = r }
}

// WithClock fixes the engine's notion of now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator fixes execution id generation.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// New builds an engine over store. Collaborators not supplied through
// options are constructed with their defaults; the default limiter
// never denies, so embedding services choose their own throttling.
func New(store docstore.Store, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now, newID: newExecID}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.resolver == nil {
		e.resolver = deploy.NewResolver(store, e.logger)
	}
	if e.perms == nil {
		e.perms = perm.NewEvaluator(store, e.logger)
	}
	if e.registry == nil {
		e.registry = action.NewRegistry(e.logger)
	}
	if e.cascader == nil {
		e.cascader = cascade.NewPropagator(e.registry, e.logger)
	}
	if e.graphs == nil {
		e.graphs = tool.StaticResolver{}
	}
	if e.fetcher == nil {
		e.fetcher = community.NewStoreFetcher(store)
	}
	if e.sinks == nil {
		e.sinks = sink.New(store, e.logger)
	}
	if e.limiter == nil {
		e.limiter = ratelimit.AllowAll{}
	}
	return e
}

// Registry exposes the action registry so embedding code can add
// handlers before serving traffic.
func (e *Engine) Registry() *action.Registry {
	return e.registry
}

func newExecID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
