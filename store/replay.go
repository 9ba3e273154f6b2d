package store

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/diaflow/diaflow/domain"
)

// Replay reconstructs an execution's state from its event log. The first
// state_changed event carries the full initial snapshot as a merge patch
// against the empty document; later ones carry incremental patches, so
// folding them in sequence yields the same state the scheduler last saved.
func Replay(events []*domain.Event) (*domain.ExecutionState, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("replay: empty event log")
	}

	doc := []byte("{}")
	var lastSeq int64
	for _, ev := range events {
		if ev.Sequence <= lastSeq {
			return nil, fmt.Errorf("replay: sequence %d does not advance past %d", ev.Sequence, lastSeq)
		}
		lastSeq = ev.Sequence

		if ev.Type != domain.EventStateChanged {
			continue
		}
		raw, err := patchBytes(ev.Data["patch"])
		if err != nil {
			return nil, fmt.Errorf("replay: event %d: %w", ev.Sequence, err)
		}
		doc, err = jsonpatch.MergePatch(doc, raw)
		if err != nil {
			return nil, fmt.Errorf("replay: apply patch at %d: %w", ev.Sequence, err)
		}
	}

	var state domain.ExecutionState
	if err := json.Unmarshal(doc, &state); err != nil {
		return nil, fmt.Errorf("replay: decode state: %w", err)
	}
	if state.NodeStates == nil {
		state.NodeStates = make(map[domain.NodeID]*domain.NodeState)
	}
	if state.NodeOutputs == nil {
		state.NodeOutputs = make(map[domain.NodeID]*domain.NodeOutput)
	}
	return &state, nil
}

// patchBytes normalizes the patch payload, which arrives as raw JSON from
// the scheduler but as a decoded map after a store round-trip
func patchBytes(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("state_changed event has no patch")
	case json.RawMessage:
		return t, nil
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return json.Marshal(t)
	}
}
