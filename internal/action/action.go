package action

import (
	"time"

	"github.com/quadpoint/toolengine/internal/community"
	"github.com/quadpoint/toolengine/internal/state"
	"github.com/quadpoint/toolengine/internal/tool"
)

// Context is the ephemeral bundle assembled for one handler invocation.
// It is never persisted and never mutated by handlers.
type Context struct {
	DeploymentID string
	ToolID       string
	Tool         *tool.Tool
	Element      *tool.Element
	ElementID    string
	UserID       string
	Data         map[string]any
	Meta         map[string]any
	State        state.Map
	Community    *community.Context
	Now          time.Time
	ExecID       string
}

// Result is the output of a handler. State carries only the keys to merge
// into the stored execution state; a Success=false result is never
// persisted.
type Result struct {
	Success       bool
	Error         string
	Data          map[string]any
	State         state.Map
	Outputs       map[string]any
	FeedContent   *FeedContent
	Notifications []Notification
	Submission    *Submission
}

// FeedContent is an auto-post candidate. The orchestrator publishes it
// only when the deployment opts in.
type FeedContent struct {
	Kind  string `json:"kind,omitempty"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// Notification is one outbound notification request.
type Notification struct {
	UserID  string `json:"userId"`
	Kind    string `json:"kind,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// Submission asks the orchestrator to persist a durable submission record
// alongside the state batch.
type Submission struct {
	ID        string         `json:"id"`
	ElementID string         `json:"elementId,omitempty"`
	Values    map[string]any `json:"values"`
}

// Failed returns a failed result with a user-visible reason. Failed
// results carry no state and are never persisted.
func Failed(reason string) *Result {
	return &Result{Success: false, Error: reason}
}

// stateKey returns the key a fragment is stored under: the addressed
// element's id when one is resolved, otherwise the handler's default key.
func stateKey(ctx *Context, def string) string {
	if ctx.Element != nil && ctx.Element.ID != "" {
		return ctx.Element.ID
	}
	return def
}
