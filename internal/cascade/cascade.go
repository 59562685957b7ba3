package cascade

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/quadpoint/toolengine/internal/action"
	"github.com/quadpoint/toolengine/internal/community"
	"github.com/quadpoint/toolengine/internal/state"
	"github.com/quadpoint/toolengine/internal/tool"
)

// DefaultMaxSteps bounds how many downstream executions one action may
// trigger.
const DefaultMaxSteps = 32

// Input describes the completed primary action and everything needed to
// synthesize downstream invocations.
type Input struct {
	Graph        *tool.Graph
	Tool         *tool.Tool
	State        state.Map
	Action       string
	ElementType  string
	ElementID    string
	UserID       string
	DeploymentID string
	Outputs      map[string]any
	Community    *community.Context
	Now          time.Time
	ExecID       string
}

// Outcome is the folded result of one propagation pass.
type Outcome struct {
	// State is the input state with every successful downstream
	// fragment merged in.
	State state.Map

	// Executed lists the fired steps as "<elementID>:<action>", in
	// order.
	Executed []string
}

// Option configures a Propagator.
type Option func(*Propagator)

// WithMaxSteps overrides the downstream step cap.
func WithMaxSteps(n int) Option {
	return func(p *Propagator) {
		if n > 0 {
			p.maxSteps = n
		}
	}
}

// Propagator executes cascade passes against an action registry.
type Propagator struct {
	registry *action.Registry
	logger   *slog.Logger
	maxSteps int
}

// NewPropagator returns a propagator dispatching through registry. A nil
// logger falls back to slog.Default.
func NewPropagator(registry *action.Registry, logger *slog.Logger, opts ...Option) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Propagator{registry: registry, logger: logger, maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Propagate runs one pass over the graph's edges. Downstream results
// never re-trigger their own edges, and nothing Propagate does can
// surface as a primary failure.
func (p *Propagator) Propagate(in Input) (out Outcome) {
	out = Outcome{State: in.State}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("cascade pass aborted", "deployment", in.DeploymentID, "panic", r)
		}
	}()
	if in.Graph == nil || len(in.Graph.Edges) == 0 {
		return out
	}

	steps := 0
	for _, edge := range in.Graph.Edges {
		if !p.matches(edge, in) {
			continue
		}
		if steps >= p.maxSteps {
			p.logger.Warn("cascade step limit reached",
				"deployment", in.DeploymentID, "limit", p.maxSteps)
			break
		}
		steps++

		target, ok := in.Tool.FindElement(edge.TargetID)
		if !ok {
			p.logger.Warn("cascade target missing from tool",
				"deployment", in.DeploymentID, "target", edge.TargetID)
			continue
		}
		res := p.registry.Execute(&action.Context{
			DeploymentID: in.DeploymentID,
			ToolID:       in.Tool.ID,
			Tool:         in.Tool,
			Element:      target,
			ElementID:    target.ID,
			UserID:       in.UserID,
			Data:         edgePayload(edge, in.Outputs),
			State:        out.State,
			Community:    in.Community,
			Now:          in.Now,
			ExecID:       fmt.Sprintf("%s.%d", in.ExecID, steps),
		}, edge.TargetAction)
		if !res.Success {
			p.logger.Warn("cascade step failed",
				"deployment", in.DeploymentID,
				"target", target.ID, "action", edge.TargetAction, "error", res.Error)
			continue
		}
		if len(res.State) > 0 {
			out.State = out.State.Merge(res.State)
		}
		out.Executed = append(out.Executed, target.ID+":"+edge.TargetAction)
	}
	return out
}

// matches reports whether an edge's source side names the completed
// primary action. An edge with a canonical source id fires only for that
// element (aliases included), a type-level edge fires for any element of
// the type, and an edge with neither fires on the action name alone.
func (p *Propagator) matches(edge tool.Edge, in Input) bool {
	if action.Normalize(edge.SourceAction) != in.Action {
		return false
	}
	switch {
	case edge.SourceID != "":
		if edge.SourceID == in.ElementID {
			return true
		}
		node, ok := in.Graph.NodeByID(edge.SourceID)
		return ok && slices.Contains(node.Aliases, in.ElementID)
	case edge.SourceType != "":
		return edge.SourceType == in.ElementType
	default:
		return true
	}
}

// edgePayload builds the downstream payload: the primary outputs first,
// then the edge's static config on top so the wiring can pin values.
func edgePayload(edge tool.Edge, outputs map[string]any) map[string]any {
	data := make(map[string]any, len(outputs)+len(edge.Config))
	for k, v := range outputs {
		data[k] = v
	}
	for k, v := range edge.Config {
		data[k] = v
	}
	return data
}
