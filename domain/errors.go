package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies runtime failures per the engine's taxonomy
type ErrorKind string

const (
	ErrValidation       ErrorKind = "Validation"
	ErrHandleResolution ErrorKind = "HandleResolution"
	ErrDependencyCycle  ErrorKind = "DependencyCycle"
	ErrMissingService   ErrorKind = "MissingService"
	ErrHandlerFailure   ErrorKind = "HandlerFailure"
	ErrTimedOut         ErrorKind = "TimedOut"
	ErrCancelled        ErrorKind = "Cancelled"
	ErrDeadlockDetected ErrorKind = "DeadlockDetected"
	ErrMaxIterations    ErrorKind = "MaxIterations"
)

// ExecError is a classified execution error, localized to a node when
// NodeID is set
type ExecError struct {
	Kind   ErrorKind
	NodeID NodeID
	Err    error
}

func (e *ExecError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %v", e.Kind, e.NodeID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// NewExecError wraps err with a kind and optional node id
func NewExecError(kind ErrorKind, nodeID NodeID, err error) *ExecError {
	return &ExecError{Kind: kind, NodeID: nodeID, Err: err}
}

// KindOf extracts the error kind, defaulting to HandlerFailure
func KindOf(err error) ErrorKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ErrHandlerFailure
}
