package graph

// Color is the traffic-light severity of a node, derived from its power usage ratio.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
)

// Hex returns the canvas color used by the web view.
func (c Color) Hex() string {
	switch c {
	case ColorYellow:
		return "#FFFF00"
	case ColorRed:
		return "#FF0000"
	default:
		return "#00FF00"
	}
}

// Severity orders colors green < yellow < red.
func (c Color) Severity() int {
	switch c {
	case ColorYellow:
		return 1
	case ColorRed:
		return 2
	default:
		return 0
	}
}

// Node represents a vertex of the synchronized graph.
type Node struct {
	ID         int     `json:"id"`
	Label      string  `json:"label"`
	PowerUsage float64 `json:"powerUsage"`
	PowerLimit float64 `json:"powerLimit"`
	Color      Color   `json:"color"`
}

// Edge represents a directed, labelled connection between two nodes.
// Seq is assigned by the store and only orders duplicates.
type Edge struct {
	Seq   uint64 `json:"seq"`
	From  int    `json:"from"`
	To    int    `json:"to"`
	Label string `json:"label"`
}

// Graph is a point-in-time snapshot of the store.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given id from the snapshot.
func (g *Graph) NodeByID(id int) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// VisibleEdges returns the edges whose endpoints are both present.
// Edges left behind by a removed node stay in the store but are not drawn.
func (g *Graph) VisibleEdges() []Edge {
	present := make(map[int]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		present[n.ID] = struct{}{}
	}
	visible := make([]Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		_, okFrom := present[e.From]
		_, okTo := present[e.To]
		if okFrom && okTo {
			visible = append(visible, e)
		}
	}
	return visible
}
