package ir

// Flow is one authored narrative graph as exchanged with the graph store.
type Flow struct {
	ID          ID           `json:"id"`
	Name        string       `json:"name"`
	Nodes       []FlowNode   `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// Graph is the arena form of a flow used by the engine: nodes indexed by
// id, connections in declaration order. Graph is read-only after
// construction and safe to share across states.
type Graph struct {
	FlowID      ID
	FlowName    string
	Nodes       map[ID]FlowNode
	Connections []Connection

	order []ID // node declaration order for deterministic lookups
}

// NewGraph builds a graph arena from node and connection lists.
// When node ids repeat, the first declaration wins.
func NewGraph(flowID ID, name string, nodes []FlowNode, connections []Connection) *Graph {
	g := &Graph{
		FlowID:      flowID,
		FlowName:    name,
		Nodes:       make(map[ID]FlowNode, len(nodes)),
		Connections: append([]Connection(nil), connections...),
		order:       make([]ID, 0, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := g.Nodes[n.ID]; dup {
			continue
		}
		g.Nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	return g
}

// Graph builds the arena form of the flow.
func (f *Flow) Graph() *Graph {
	return NewGraph(f.ID, f.Name, f.Nodes, f.Connections)
}

// Node returns the node with the given id.
func (g *Graph) Node(id ID) (FlowNode, bool) {
	if g == nil {
		return FlowNode{}, false
	}
	n, ok := g.Nodes[id]
	return n, ok
}

// Ordered returns the nodes in declaration order.
func (g *Graph) Ordered() []FlowNode {
	out := make([]FlowNode, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.Nodes[id])
	}
	return out
}

// Next returns the target of the first connection leaving nodeID on pin.
func (g *Graph) Next(nodeID ID, pin string) (ID, bool) {
	if g == nil {
		return "", false
	}
	for _, c := range g.Connections {
		if c.SourceNodeID == nodeID && c.SourcePin == pin {
			return c.TargetNodeID, true
		}
	}
	return "", false
}

// NextDefault follows the "default" pin, falling back to the legacy
// "output" pin.
func (g *Graph) NextDefault(nodeID ID) (ID, bool) {
	if id, ok := g.Next(nodeID, PinDefault); ok {
		return id, true
	}
	return g.Next(nodeID, PinOutput)
}

// FindHub returns the first hub node (in declaration order) whose hub_id
// matches.
func (g *Graph) FindHub(hubID string) (FlowNode, bool) {
	if g == nil || hubID == "" {
		return FlowNode{}, false
	}
	for _, id := range g.order {
		n := g.Nodes[id]
		if n.Type != NodeHub {
			continue
		}
		if d, ok := n.Data.(HubData); ok && d.HubID == hubID {
			return n, true
		}
	}
	return FlowNode{}, false
}

// Entry returns the first entry node in declaration order.
func (g *Graph) Entry() (FlowNode, bool) {
	if g == nil {
		return FlowNode{}, false
	}
	for _, id := range g.order {
		if n := g.Nodes[id]; n.Type == NodeEntry {
			return n, true
		}
	}
	return FlowNode{}, false
}
