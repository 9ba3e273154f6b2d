package store

import (
	"context"
	"errors"

	"github.com/diaflow/diaflow/domain"
)

// Logger interface for store logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

var (
	// ErrSequenceConflict rejects an event whose sequence does not advance
	// the execution's log
	ErrSequenceConflict = errors.New("store: event sequence conflict")
	// ErrNotFound reports a missing execution
	ErrNotFound = errors.New("store: execution not found")
)

// Store holds execution event logs and live state snapshots. Implementations
// must reject appends that do not strictly increase the per-execution
// sequence. The scheduler uses a Store as its event sink.
type Store interface {
	Append(ctx context.Context, event *domain.Event) error
	Events(ctx context.Context, executionID domain.ExecutionID, afterSeq int64) ([]*domain.Event, error)
	SaveState(ctx context.Context, state *domain.ExecutionState) error
	State(ctx context.Context, executionID domain.ExecutionID) (*domain.ExecutionState, error)
}
