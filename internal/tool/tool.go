package tool

import "encoding/json"

// Tool is an authored definition: an ordered collection of elements plus
// optional declared connections between them.
type Tool struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	OwnerID     string         `json:"ownerId,omitempty"`
	Elements    []Element      `json:"elements"`
	Connections []Connection   `json:"connections,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	UseCount    int64          `json:"useCount,omitempty"`
}

// Element is one interactive unit within a tool. Identifiers are unique
// within a tool; composition layers may know the same element under
// aliases.
type Element struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Label   string          `json:"label,omitempty"`
	Aliases []string        `json:"aliases,omitempty"`
	Config  map[string]any  `json:"config,omitempty"`
	Actions []ElementAction `json:"actions,omitempty"`
}

// ElementAction is an action an element declares beyond the built-in set.
type ElementAction struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
}

// Connection declares that firing From should also trigger To.
type Connection struct {
	From   Endpoint       `json:"from"`
	To     Endpoint       `json:"to"`
	Config map[string]any `json:"config,omitempty"`
}

// Endpoint names one side of a connection. ElementID may be a primary id,
// an alias, or (on the source side) an element type; an empty source
// ElementID matches any element firing the action.
type Endpoint struct {
	ElementID string `json:"elementId,omitempty"`
	Action    string `json:"action,omitempty"`
}

// FindElement returns the element whose primary id or any alias equals id.
func (t *Tool) FindElement(id string) (*Element, bool) {
	if id == "" {
		return nil, false
	}
	for i := range t.Elements {
		if t.Elements[i].Matches(id) {
			return &t.Elements[i], true
		}
	}
	return nil, false
}

// Matches reports whether id names this element by primary id or alias.
func (e *Element) Matches(id string) bool {
	if e.ID == id {
		return true
	}
	for _, a := range e.Aliases {
		if a == id {
			return true
		}
	}
	return false
}

// ConfigString returns a string config value, or def when absent.
func (e *Element) ConfigString(key, def string) string {
	if e == nil || e.Config == nil {
		return def
	}
	if s, ok := e.Config[key].(string); ok {
		return s
	}
	return def
}

// ConfigBool returns a boolean config value, or def when absent.
func (e *Element) ConfigBool(key string, def bool) bool {
	if e == nil || e.Config == nil {
		return def
	}
	if b, ok := e.Config[key].(bool); ok {
		return b
	}
	return def
}

// ConfigInt returns an integer config value, or def when absent or not
// numeric. Config maps come from JSON decoding, so numbers may arrive as
// json.Number or float64.
func (e *Element) ConfigInt(key string, def int64) int64 {
	if e == nil || e.Config == nil {
		return def
	}
	switch v := e.Config[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return def
}
