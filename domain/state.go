package domain

import "time"

// ExecutionStatus is the lifecycle status of an execution
type ExecutionStatus string

const (
	ExecutionStarted   ExecutionStatus = "started"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionAborted   ExecutionStatus = "aborted"
)

// IsTerminal reports whether the execution can no longer transition
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionAborted
}

// NodeStatus is the lifecycle status of a node within an execution
type NodeStatus string

const (
	NodePending        NodeStatus = "pending"
	NodeRunning        NodeStatus = "running"
	NodeCompleted      NodeStatus = "completed"
	NodeFailed         NodeStatus = "failed"
	NodeSkipped        NodeStatus = "skipped"
	NodePaused         NodeStatus = "paused"
	NodeMaxIterReached NodeStatus = "max_iter_reached"
)

// NodeState tracks one node's progress within an execution
type NodeState struct {
	Status    NodeStatus `json:"status"`
	ExecCount int        `json:"exec_count"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// TokenUsage aggregates LLM token consumption
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Cached int `json:"cached"`
}

// Add accumulates usage from a node output
func (t *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	t.Input += other.Input
	t.Output += other.Output
	t.Cached += other.Cached
}

// ExecutionState is the authoritative live view of a running execution.
// It is exclusively owned by the scheduler; stores hold snapshots of it.
type ExecutionState struct {
	ID             ExecutionID               `json:"id"`
	DiagramID      string                    `json:"diagram_id"`
	Status         ExecutionStatus           `json:"status"`
	StartedAt      time.Time                 `json:"started_at"`
	EndedAt        *time.Time                `json:"ended_at,omitempty"`
	NodeStates     map[NodeID]*NodeState     `json:"node_states"`
	NodeOutputs    map[NodeID]*NodeOutput    `json:"node_outputs"`
	Variables      map[string]interface{}    `json:"variables,omitempty"`
	TokenUsage     TokenUsage                `json:"token_usage"`
	IterationCount int                       `json:"iteration_count"`
	Error          string                    `json:"error,omitempty"`
}

// NewExecutionState initializes the state for a fresh execution with every
// node pending
func NewExecutionState(id ExecutionID, diagramID string, nodes []NodeID, variables map[string]interface{}) *ExecutionState {
	states := make(map[NodeID]*NodeState, len(nodes))
	for _, n := range nodes {
		states[n] = &NodeState{Status: NodePending}
	}
	if variables == nil {
		variables = make(map[string]interface{})
	}
	return &ExecutionState{
		ID:          id,
		DiagramID:   diagramID,
		Status:      ExecutionStarted,
		StartedAt:   time.Now().UTC(),
		NodeStates:  states,
		NodeOutputs: make(map[NodeID]*NodeOutput, len(nodes)),
		Variables:   variables,
	}
}

// Clone returns a deep-enough copy for snapshotting. Node outputs are shared
// as immutable values; state maps are copied.
func (s *ExecutionState) Clone() *ExecutionState {
	out := *s
	out.NodeStates = make(map[NodeID]*NodeState, len(s.NodeStates))
	for id, ns := range s.NodeStates {
		c := *ns
		out.NodeStates[id] = &c
	}
	out.NodeOutputs = make(map[NodeID]*NodeOutput, len(s.NodeOutputs))
	for id, o := range s.NodeOutputs {
		out.NodeOutputs[id] = o
	}
	out.Variables = make(map[string]interface{}, len(s.Variables))
	for k, v := range s.Variables {
		out.Variables[k] = v
	}
	return &out
}
