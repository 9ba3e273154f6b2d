package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/diaflow/diaflow/domain"
)

// Tracker owns the live execution state: node statuses, outputs, iteration
// counts, readiness and completion. All mutation goes through it; readers
// get snapshots. It implements resolver.StateReader.
type Tracker struct {
	mu      sync.RWMutex
	diagram *domain.ExecutableDiagram
	state   *domain.ExecutionState

	readyCache []domain.NodeID
	cacheValid bool
}

// NewTracker wraps a fresh execution state for the given diagram
func NewTracker(diagram *domain.ExecutableDiagram, state *domain.ExecutionState) *Tracker {
	return &Tracker{
		diagram: diagram,
		state:   state,
	}
}

// Progress summarizes node counts per status
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Running   int `json:"running"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Pending   int `json:"pending"`
}

// ReadyNodes returns the nodes eligible for dispatch. Results are cached
// until the next state mutation.
func (t *Tracker) ReadyNodes() []*domain.Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.cacheValid {
		t.readyCache = t.computeReady()
		t.cacheValid = true
	}

	nodes := make([]*domain.Node, 0, len(t.readyCache))
	for _, id := range t.readyCache {
		nodes = append(nodes, t.diagram.Nodes[id])
	}
	return nodes
}

// computeReady walks the diagram in execution order so dispatch is FIFO
// within a level. Caller holds the lock.
func (t *Tracker) computeReady() []domain.NodeID {
	var ready []domain.NodeID
	for _, id := range t.diagram.ExecutionOrder {
		if t.nodeReady(id) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (t *Tracker) nodeReady(id domain.NodeID) bool {
	node := t.diagram.Nodes[id]
	ns := t.state.NodeStates[id]
	if ns == nil {
		return false
	}

	iterating := isIterating(node)

	switch ns.Status {
	case domain.NodePending:
	case domain.NodeCompleted:
		// Iterating person_job nodes re-arm themselves until the cap
		if !iterating {
			return false
		}
	default:
		return false
	}

	if iterating && ns.ExecCount >= node.PersonJob.MaxIteration {
		// Terminal: the cap was reached
		ns.Status = domain.NodeMaxIterReached
		return false
	}

	if node.Type == domain.NodeTypeStart {
		return ns.Status == domain.NodePending
	}

	incoming := t.diagram.Incoming(id)
	if len(incoming) == 0 {
		return ns.Status == domain.NodePending
	}

	for _, edge := range t.effectiveEdges(node, incoming, ns.ExecCount) {
		srcState := t.state.NodeStates[edge.SourceNodeID]
		if srcState == nil || !predecessorDone(srcState.Status) {
			return false
		}
		if !t.edgeActive(edge) {
			return false
		}
	}
	return true
}

// effectiveEdges selects the incoming edges that gate readiness for the
// node's current iteration
func (t *Tracker) effectiveEdges(node *domain.Node, incoming []*domain.Edge, execCount int) []*domain.Edge {
	if node.Type != domain.NodeTypePersonJob && node.Type != domain.NodeTypePersonBatch {
		return incoming
	}

	if execCount == 0 {
		var firsts []*domain.Edge
		for _, e := range incoming {
			if e.TargetsFirst() {
				firsts = append(firsts, e)
			}
		}
		if len(firsts) > 0 {
			return firsts
		}
		return incoming
	}

	var rest []*domain.Edge
	for _, e := range incoming {
		if !e.TargetsFirst() {
			rest = append(rest, e)
		}
	}
	return rest
}

// edgeActive reports whether a condition-source edge lies on the taken
// branch. Edges without a branch marker, or from non-condition sources, are
// always active.
func (t *Tracker) edgeActive(edge *domain.Edge) bool {
	src := t.diagram.Nodes[edge.SourceNodeID]
	if src == nil || src.Type != domain.NodeTypeCondition {
		return true
	}
	branch, marked := edge.Branch()
	if !marked {
		return true
	}
	out := t.state.NodeOutputs[edge.SourceNodeID]
	if out == nil || out.Condition == nil {
		return false
	}
	return branch == out.Condition.Value
}

func predecessorDone(s domain.NodeStatus) bool {
	switch s {
	case domain.NodeCompleted, domain.NodeSkipped, domain.NodeMaxIterReached:
		return true
	}
	return false
}

func isIterating(node *domain.Node) bool {
	return (node.Type == domain.NodeTypePersonJob || node.Type == domain.NodeTypePersonBatch) &&
		node.PersonJob != nil
}

// MarkRunning transitions a node to running and counts the dispatch
func (t *Tracker) MarkRunning(id domain.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ns := t.state.NodeStates[id]
	now := time.Now().UTC()
	ns.Status = domain.NodeRunning
	ns.ExecCount++
	ns.StartedAt = &now
	ns.EndedAt = nil
	ns.Error = ""
	t.state.IterationCount++
	t.invalidate()
}

// MarkCompleted records the node's output and re-arms downstream nodes
// that already completed, so loop bodies re-fire when an upstream node
// produces a fresh value.
func (t *Tracker) MarkCompleted(id domain.NodeID, output *domain.NodeOutput) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ns := t.state.NodeStates[id]
	now := time.Now().UTC()
	ns.Status = domain.NodeCompleted
	ns.EndedAt = &now

	if output == nil {
		output = &domain.NodeOutput{}
	}
	t.state.NodeOutputs[id] = output
	t.state.TokenUsage.Add(output.TokenUsage)

	t.retriggerDownstream(id)
	t.invalidate()
}

// retriggerDownstream resets completed targets of active outgoing edges to
// pending. Terminal node states (failed, skipped, max_iter_reached) are
// never reset. Caller holds the lock.
func (t *Tracker) retriggerDownstream(id domain.NodeID) {
	for _, edge := range t.diagram.Outgoing(id) {
		if !t.edgeActive(edge) {
			continue
		}
		target := t.state.NodeStates[edge.TargetNodeID]
		if target != nil && target.Status == domain.NodeCompleted {
			node := t.diagram.Nodes[edge.TargetNodeID]
			if isIterating(node) {
				// Iterating nodes re-arm on their own
				continue
			}
			target.Status = domain.NodePending
		}
	}
}

// MarkFailed records a node failure
func (t *Tracker) MarkFailed(id domain.NodeID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ns := t.state.NodeStates[id]
	now := time.Now().UTC()
	ns.Status = domain.NodeFailed
	ns.EndedAt = &now
	if err != nil {
		ns.Error = err.Error()
	}
	t.invalidate()
}

// MarkSkipped marks a pending node skipped. Downstream readiness treats it
// as completed with an empty output.
func (t *Tracker) MarkSkipped(id domain.NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ns, ok := t.state.NodeStates[id]
	if !ok {
		return fmt.Errorf("unknown node %s", id)
	}
	if ns.Status != domain.NodePending {
		return fmt.Errorf("node %s is %s, only pending nodes can be skipped", id, ns.Status)
	}
	now := time.Now().UTC()
	ns.Status = domain.NodeSkipped
	ns.EndedAt = &now
	t.state.NodeOutputs[id] = &domain.NodeOutput{}
	t.invalidate()
	return nil
}

// IsComplete reports whether the execution has finished: nothing running
// or dispatchable, and all endpoint nodes completed or no node reachable
// from a completed non-endpoint node still pending. Reachability honors
// condition-branch activity.
func (t *Tracker) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ns := range t.state.NodeStates {
		if ns.Status == domain.NodeRunning {
			return false
		}
	}

	// Completion must agree with the ready set: a completed iterating
	// node below its cap re-arms and keeps the execution open
	if !t.cacheValid {
		t.readyCache = t.computeReady()
		t.cacheValid = true
	}
	if len(t.readyCache) > 0 {
		return false
	}

	if len(t.diagram.EndNodes) > 0 {
		allEnds := true
		for _, id := range t.diagram.EndNodes {
			if t.state.NodeStates[id].Status != domain.NodeCompleted {
				allEnds = false
				break
			}
		}
		if allEnds {
			return true
		}
	}

	// Walk active edges from every finished non-endpoint node
	visited := make(map[domain.NodeID]bool)
	var frontier []domain.NodeID
	for id, ns := range t.state.NodeStates {
		node := t.diagram.Nodes[id]
		if node.Type == domain.NodeTypeEndpoint {
			continue
		}
		if ns.Status == domain.NodeCompleted {
			frontier = append(frontier, id)
			visited[id] = true
		}
	}
	// Start nodes that never ran keep the execution open
	for _, id := range t.diagram.StartNodes {
		if t.state.NodeStates[id].Status == domain.NodePending {
			return false
		}
	}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, edge := range t.diagram.Outgoing(cur) {
			if !t.edgeActive(edge) {
				continue
			}
			tgt := edge.TargetNodeID
			ns := t.state.NodeStates[tgt]
			if ns.Status == domain.NodePending || ns.Status == domain.NodeRunning {
				return false
			}
			if !visited[tgt] {
				visited[tgt] = true
				frontier = append(frontier, tgt)
			}
		}
	}

	return true
}

// Progress returns aggregate node counts
func (t *Tracker) Progress() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p := Progress{Total: len(t.state.NodeStates)}
	for _, ns := range t.state.NodeStates {
		switch ns.Status {
		case domain.NodeCompleted:
			p.Completed++
		case domain.NodeRunning:
			p.Running++
		case domain.NodeFailed:
			p.Failed++
		case domain.NodeSkipped:
			p.Skipped++
		case domain.NodePending:
			p.Pending++
		}
	}
	return p
}

// HasFailures reports whether any node failed
func (t *Tracker) HasFailures() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ns := range t.state.NodeStates {
		if ns.Status == domain.NodeFailed {
			return true
		}
	}
	return false
}

// AnyEndpointCompleted reports whether at least one endpoint finished.
// Distinguishes completed-with-failures from failed.
func (t *Tracker) AnyEndpointCompleted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.diagram.EndNodes {
		if t.state.NodeStates[id].Status == domain.NodeCompleted {
			return true
		}
	}
	return false
}

// IterationCount returns the global dispatch counter
func (t *Tracker) IterationCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.IterationCount
}

// Snapshot returns a copy of the live state safe to hand to stores
func (t *Tracker) Snapshot() *domain.ExecutionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Clone()
}

// SetStatus updates the execution-level status
func (t *Tracker) SetStatus(status domain.ExecutionStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Status = status
	if status.IsTerminal() {
		now := time.Now().UTC()
		t.state.EndedAt = &now
	}
}

// SetError records the execution-level error string
func (t *Tracker) SetError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Error = msg
}

// NodeOutput implements resolver.StateReader
func (t *Tracker) NodeOutput(id domain.NodeID) (*domain.NodeOutput, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out, ok := t.state.NodeOutputs[id]
	return out, ok
}

// ExecCount implements resolver.StateReader
func (t *Tracker) ExecCount(id domain.NodeID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if ns, ok := t.state.NodeStates[id]; ok {
		return ns.ExecCount
	}
	return 0
}

// NodeStatus returns a node's current status
func (t *Tracker) NodeStatus(id domain.NodeID) domain.NodeStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if ns, ok := t.state.NodeStates[id]; ok {
		return ns.Status
	}
	return ""
}

// Variables returns the execution's global variable map
func (t *Tracker) Variables() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Variables
}

func (t *Tracker) invalidate() {
	t.cacheValid = false
}
