package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/diaflow/diaflow/domain"
)

// MemoryStore is the in-process store used by the CLI runner and tests
type MemoryStore struct {
	mu     sync.RWMutex
	events map[domain.ExecutionID][]*domain.Event
	states map[domain.ExecutionID]*domain.ExecutionState
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[domain.ExecutionID][]*domain.Event),
		states: make(map[domain.ExecutionID]*domain.ExecutionState),
	}
}

// Append adds an event to the execution's log, enforcing a strictly
// increasing sequence
func (s *MemoryStore) Append(_ context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.events[event.ExecutionID]
	if n := len(log); n > 0 && event.Sequence <= log[n-1].Sequence {
		return fmt.Errorf("%w: got %d after %d", ErrSequenceConflict, event.Sequence, log[n-1].Sequence)
	}
	s.events[event.ExecutionID] = append(log, event)
	return nil
}

// Events returns the execution's events with sequence greater than afterSeq
func (s *MemoryStore) Events(_ context.Context, executionID domain.ExecutionID, afterSeq int64) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.events[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	var out []*domain.Event
	for _, ev := range log {
		if ev.Sequence > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

// SaveState stores the latest state snapshot
func (s *MemoryStore) SaveState(_ context.Context, state *domain.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = state
	return nil
}

// State returns the latest state snapshot
func (s *MemoryStore) State(_ context.Context, executionID domain.ExecutionID) (*domain.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	return state, nil
}
