package tool

// Node is one element in the executable composition.
type Node struct {
	ID      string
	Type    string
	Aliases []string
}

// Edge is one executable connection. SourceID is empty for edges that
// match on action alone or on SourceType; TargetID is always a canonical
// element id.
type Edge struct {
	SourceID     string
	SourceType   string
	SourceAction string
	TargetID     string
	TargetAction string
	Config       map[string]any
}

// Graph is the executable composition of a tool: its elements as nodes and
// its compiled connections as edges.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// NodeByID returns the node with the given primary id.
func (g *Graph) NodeByID(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Resolver compiles a tool's declared connections into an executable
// graph. Implementations are pure; a tool without connections resolves to
// a graph without edges.
type Resolver interface {
	Resolve(t *Tool) *Graph
}

// StaticResolver is the default Resolver. It canonicalizes source and
// target element references (aliases resolve to primary ids, a source
// naming an element type becomes a type-level edge), fills empty target
// actions from the per-type defaults or the element's first declared
// action, and drops edges it cannot ground in the tool.
type StaticResolver struct{}

// Resolve implements Resolver.
func (StaticResolver) Resolve(t *Tool) *Graph {
	g := &Graph{Nodes: make([]Node, 0, len(t.Elements))}
	types := make(map[string]bool, len(t.Elements))
	for _, e := range t.Elements {
		g.Nodes = append(g.Nodes, Node{ID: e.ID, Type: e.Type, Aliases: e.Aliases})
		types[e.Type] = true
	}
	for _, c := range t.Connections {
		if edge, ok := compileEdge(t, types, c); ok {
			g.Edges = append(g.Edges, edge)
		}
	}
	return g
}

func compileEdge(t *Tool, types map[string]bool, c Connection) (Edge, bool) {
	if c.From.Action == "" {
		return Edge{}, false
	}
	e := Edge{SourceAction: c.From.Action, Config: c.Config}

	if src := c.From.ElementID; src != "" {
		if el, ok := t.FindElement(src); ok {
			e.SourceID = el.ID
			e.SourceType = el.Type
		} else if types[src] {
			e.SourceType = src
		} else {
			return Edge{}, false
		}
	}

	target, ok := t.FindElement(c.To.ElementID)
	if !ok {
		return Edge{}, false
	}
	e.TargetID = target.ID
	e.TargetAction = c.To.Action
	if e.TargetAction == "" {
		e.TargetAction = defaultAction(target)
	}
	if e.TargetAction == "" {
		return Edge{}, false
	}
	return e, true
}

// defaultActionByType maps an element type to the action a connection
// triggers when the authored endpoint leaves the action blank.
var defaultActionByType = map[string]string{
	"poll":         "vote",
	"counter":      "increment",
	"toggle":       "toggle",
	"form":         "submit_form",
	"rsvp":         "rsvp",
	"timer":        "timer_start",
	"leaderboard":  "score",
	"map":          "select_marker",
	"notice":       "read_notice",
	"announcement": "announce",
	"search":       "search",
	"submission":   "submit",
	"selector":     "select",
}

func defaultAction(e *Element) string {
	if a, ok := defaultActionByType[e.Type]; ok {
		return a
	}
	if len(e.Actions) > 0 {
		if e.Actions[0].Name != "" {
			return e.Actions[0].Name
		}
		return e.Actions[0].ID
	}
	return ""
}
