package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/diaflow/diaflow/domain"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name  string
		state *domain.ExecutionState
		err   error
		want  int
	}{
		{
			name:  "completed",
			state: &domain.ExecutionState{Status: domain.ExecutionCompleted},
			want:  0,
		},
		{
			name:  "aborted",
			state: &domain.ExecutionState{Status: domain.ExecutionAborted},
			err:   domain.NewExecError(domain.ErrCancelled, "", errors.New("execution aborted")),
			want:  4,
		},
		{
			name:  "cancelled without state",
			err:   domain.NewExecError(domain.ErrCancelled, "", errors.New("interrupted")),
			want:  4,
		},
		{
			name:  "timed out",
			state: &domain.ExecutionState{Status: domain.ExecutionFailed},
			err:   domain.NewExecError(domain.ErrTimedOut, "", errors.New("deadline exceeded")),
			want:  5,
		},
		{
			name: "validation",
			err:  domain.NewExecError(domain.ErrValidation, "", errors.New("bad diagram")),
			want: 2,
		},
		{
			name:  "runtime failure",
			state: &domain.ExecutionState{Status: domain.ExecutionFailed},
			err:   domain.NewExecError(domain.ErrHandlerFailure, "", errors.New("boom")),
			want:  3,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.state, tc.err))
		})
	}
}
