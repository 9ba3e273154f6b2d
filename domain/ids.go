package domain

import (
	"fmt"
	"strings"
)

// NodeID identifies a node within a diagram
type NodeID string

// ArrowID identifies an author-facing arrow
type ArrowID string

// HandleID identifies a named port on a node.
// Canonical form: "<node_id>:<handle_name>:<direction>"
type HandleID string

// ExecutionID identifies a single execution of a diagram
type ExecutionID string

// HandleDirection marks a handle as an input or output port
type HandleDirection string

const (
	HandleInput  HandleDirection = "input"
	HandleOutput HandleDirection = "output"
)

// MakeHandleID builds the canonical handle id
func MakeHandleID(node NodeID, handle string, direction HandleDirection) HandleID {
	return HandleID(fmt.Sprintf("%s:%s:%s", node, handle, direction))
}

// ParseHandleID splits a canonical handle id into its parts.
// A two-part form "<node_id>:<handle_name>" is accepted; the direction is
// then left empty for the caller to infer from position (source vs target).
func ParseHandleID(ref HandleID) (NodeID, string, HandleDirection, error) {
	parts := strings.Split(string(ref), ":")
	switch len(parts) {
	case 3:
		dir := HandleDirection(parts[2])
		if dir != HandleInput && dir != HandleOutput {
			return "", "", "", fmt.Errorf("invalid handle direction %q in %q", parts[2], ref)
		}
		return NodeID(parts[0]), parts[1], dir, nil
	case 2:
		return NodeID(parts[0]), parts[1], "", nil
	default:
		return "", "", "", fmt.Errorf("malformed handle reference %q (want node:handle[:direction])", ref)
	}
}
