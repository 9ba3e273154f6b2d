package domain

// LevelGroup collects the nodes sharing a longest-path depth from the starts
type LevelGroup struct {
	Level int      `json:"level"`
	Nodes []NodeID `json:"nodes"`
}

// ExecutableDiagram is the immutable compiled form of a diagram.
// Nodes and edges are stored by id; the adjacency indices are derived at
// compile time and must not be mutated afterwards.
type ExecutableDiagram struct {
	ID             string           `json:"id,omitempty"`
	Nodes          map[NodeID]*Node `json:"nodes"`
	Edges          []*Edge          `json:"edges"`
	ExecutionOrder []NodeID         `json:"execution_order"`
	Levels         []LevelGroup     `json:"levels"`
	StartNodes     []NodeID         `json:"start_nodes"`
	EndNodes       []NodeID         `json:"end_nodes"`
	Persons        map[string]Person `json:"persons,omitempty"`

	outgoing map[NodeID][]*Edge
	incoming map[NodeID][]*Edge
}

// BuildIndices derives the outgoing/incoming adjacency maps. Called once by
// the compiler; edges keep diagram declaration order within each bucket.
func (d *ExecutableDiagram) BuildIndices() {
	d.outgoing = make(map[NodeID][]*Edge, len(d.Nodes))
	d.incoming = make(map[NodeID][]*Edge, len(d.Nodes))
	for _, e := range d.Edges {
		d.outgoing[e.SourceNodeID] = append(d.outgoing[e.SourceNodeID], e)
		d.incoming[e.TargetNodeID] = append(d.incoming[e.TargetNodeID], e)
	}
}

// Node returns the node with the given id, if present
func (d *ExecutableDiagram) Node(id NodeID) (*Node, bool) {
	n, ok := d.Nodes[id]
	return n, ok
}

// Outgoing returns the edges leaving node id in declaration order
func (d *ExecutableDiagram) Outgoing(id NodeID) []*Edge {
	return d.outgoing[id]
}

// Incoming returns the edges entering node id in declaration order
func (d *ExecutableDiagram) Incoming(id NodeID) []*Edge {
	return d.incoming[id]
}
