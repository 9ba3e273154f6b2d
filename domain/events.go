package domain

import "time"

// EventType enumerates execution lifecycle events
type EventType string

const (
	EventExecutionStarted    EventType = "execution_started"
	EventNodeStarted         EventType = "node_started"
	EventNodeRunning         EventType = "node_running"
	EventNodeCompleted       EventType = "node_completed"
	EventNodeFailed          EventType = "node_failed"
	EventNodeSkipped         EventType = "node_skipped"
	EventNodePaused          EventType = "node_paused"
	EventInteractivePrompt   EventType = "interactive_prompt"
	EventInteractiveResponse EventType = "interactive_response"
	EventStepComplete        EventType = "step_complete"
	EventExecutionCompleted  EventType = "execution_completed"
	EventExecutionFailed     EventType = "execution_failed"
	EventExecutionAborted    EventType = "execution_aborted"
	EventStateChanged        EventType = "state_changed"
	EventWarning             EventType = "warning"
)

// Event is one entry in an execution's append-only log. Sequence is
// strictly increasing per execution.
type Event struct {
	ID          string                 `json:"id"`
	ExecutionID ExecutionID            `json:"execution_id"`
	Sequence    int64                  `json:"sequence"`
	Type        EventType              `json:"type"`
	NodeID      NodeID                 `json:"node_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// IsTerminal reports whether the event closes its execution's stream
func (e *Event) IsTerminal() bool {
	switch e.Type {
	case EventExecutionCompleted, EventExecutionFailed, EventExecutionAborted:
		return true
	}
	return false
}

// Droppable reports whether the router may shed this event under
// backpressure. Progress-only events are droppable; terminal events never.
func (e *Event) Droppable() bool {
	switch e.Type {
	case EventNodeRunning, EventStepComplete, EventStateChanged:
		return true
	}
	return false
}
