package domain

// ControlKind enumerates control messages the scheduler accepts
type ControlKind string

const (
	ControlPause               ControlKind = "pause"
	ControlResume              ControlKind = "resume"
	ControlAbort               ControlKind = "abort"
	ControlSkipNode            ControlKind = "skip_node"
	ControlInteractiveResponse ControlKind = "interactive_response"
)

// ControlMessage is a control-plane message addressed to an execution.
// Unrecognized kinds are ignored with a warning event.
type ControlMessage struct {
	Kind        ControlKind            `json:"kind"`
	ExecutionID ExecutionID            `json:"execution_id"`
	NodeID      NodeID                 `json:"node_id,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}
