package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diaflow/diaflow/domain"
)

// Job is one node dispatch: the node, its resolved inputs, and the
// execution context the handler may consult. Inputs are immutable
// snapshots; handlers never mutate live execution state.
type Job struct {
	ExecutionID domain.ExecutionID
	Node        *domain.Node
	Inputs      map[string]interface{}
	Variables   map[string]interface{}
	Diagram     *domain.ExecutableDiagram
	State       StatusReader
	Prompter    Prompter
	DebugMode   bool
}

// StatusReader is the read-only progress view handlers may consult
type StatusReader interface {
	NodeStatus(id domain.NodeID) domain.NodeStatus
	ExecCount(id domain.NodeID) int
}

// Dispatcher looks up the typed handler for a node and invokes it.
// Implemented by the dispatch package.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *Job) (*domain.NodeOutput, error)
}

// Prompter parks a node on an interactive prompt until a matching
// interactive_response control message arrives
type Prompter interface {
	Ask(ctx context.Context, nodeID domain.NodeID, prompt string, timeout time.Duration) (map[string]interface{}, error)
}

// promptBroker is the scheduler's Prompter: one waiter channel per node,
// resolved by the control loop. No busy waiting.
type promptBroker struct {
	mu      sync.Mutex
	waiters map[domain.NodeID]chan map[string]interface{}
	emit    func(kind domain.EventType, nodeID domain.NodeID, data map[string]interface{})
}

func newPromptBroker(emit func(domain.EventType, domain.NodeID, map[string]interface{})) *promptBroker {
	return &promptBroker{
		waiters: make(map[domain.NodeID]chan map[string]interface{}),
		emit:    emit,
	}
}

// Ask emits interactive_prompt and blocks until Resolve, cancellation, or
// the per-prompt timeout
func (b *promptBroker) Ask(ctx context.Context, nodeID domain.NodeID, prompt string, timeout time.Duration) (map[string]interface{}, error) {
	ch := make(chan map[string]interface{}, 1)

	b.mu.Lock()
	b.waiters[nodeID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.waiters, nodeID)
		b.mu.Unlock()
	}()

	b.emit(domain.EventInteractivePrompt, nodeID, map[string]interface{}{"prompt": prompt})

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case resp := <-ch:
		b.emit(domain.EventInteractiveResponse, nodeID, resp)
		return resp, nil
	case <-timeoutC:
		return nil, domain.NewExecError(domain.ErrTimedOut, nodeID, fmt.Errorf("interactive prompt timed out after %s", timeout))
	case <-ctx.Done():
		return nil, domain.NewExecError(domain.ErrCancelled, nodeID, ctx.Err())
	}
}

// Resolve delivers an interactive_response to a parked node. Returns false
// when no node is waiting.
func (b *promptBroker) Resolve(nodeID domain.NodeID, data map[string]interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.waiters[nodeID]
	if !ok {
		return false
	}
	select {
	case ch <- data:
		return true
	default:
		return false
	}
}
