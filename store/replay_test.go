package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diaflow/diaflow/compiler"
	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
)

func stateEvent(seq int64, patch string) *domain.Event {
	return &domain.Event{
		ID:          "ev",
		ExecutionID: "e1",
		Sequence:    seq,
		Type:        domain.EventStateChanged,
		Data:        map[string]interface{}{"patch": json.RawMessage(patch)},
	}
}

func TestReplay_FoldsMergePatches(t *testing.T) {
	events := []*domain.Event{
		stateEvent(1, `{"id":"e1","status":"running","node_states":{"a":{"status":"pending","exec_count":0}}}`),
		{ID: "ev", ExecutionID: "e1", Sequence: 2, Type: domain.EventNodeStarted},
		stateEvent(3, `{"node_states":{"a":{"status":"completed","exec_count":1}}}`),
		stateEvent(4, `{"status":"completed"}`),
	}

	state, err := Replay(events)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionID("e1"), state.ID)
	assert.Equal(t, domain.ExecutionCompleted, state.Status)
	require.Contains(t, state.NodeStates, domain.NodeID("a"))
	assert.Equal(t, domain.NodeCompleted, state.NodeStates["a"].Status)
	assert.Equal(t, 1, state.NodeStates["a"].ExecCount)
}

func TestReplay_PatchSurvivesStoreRoundTrip(t *testing.T) {
	// After JSON round-tripping through a store the patch arrives as a
	// decoded map, not raw bytes
	ev := stateEvent(1, `{"id":"e1","status":"running"}`)
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	var decoded domain.Event
	require.NoError(t, json.Unmarshal(raw, &decoded))

	state, err := Replay([]*domain.Event{&decoded})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionRunning, state.Status)
}

func TestReplay_Errors(t *testing.T) {
	_, err := Replay(nil)
	assert.ErrorContains(t, err, "empty event log")

	_, err = Replay([]*domain.Event{
		stateEvent(2, `{}`),
		stateEvent(2, `{}`),
	})
	assert.ErrorContains(t, err, "does not advance")

	_, err = Replay([]*domain.Event{
		{ID: "ev", ExecutionID: "e1", Sequence: 1, Type: domain.EventStateChanged},
	})
	assert.ErrorContains(t, err, "no patch")
}

// nopLogger satisfies scheduler.Logger
type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(_ context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	if job.Node.Type == domain.NodeTypeCondition {
		return domain.NewConditionOutput(true, job.Inputs["default"], job.Inputs["default"]), nil
	}
	return domain.NewOutput(string(job.Node.ID) + "-out"), nil
}

// The event log alone must reconstruct the exact final state the scheduler
// produced, including outputs and per-node counters.
func TestReplay_MatchesLiveExecution(t *testing.T) {
	diagram := &domain.DomainDiagram{
		ID: "replayed",
		Nodes: []domain.Node{
			{ID: "s", Type: domain.NodeTypeStart, Start: &domain.StartConfig{}},
			{ID: "cond", Type: domain.NodeTypeCondition, Condition: &domain.ConditionConfig{
				Kind: domain.ConditionKindExpression, Expression: "input != ''",
			}},
			{ID: "yes", Type: domain.NodeTypeEndpoint, Endpoint: &domain.EndpointConfig{}},
			{ID: "no", Type: domain.NodeTypeEndpoint, Endpoint: &domain.EndpointConfig{}},
		},
		Arrows: []domain.Arrow{
			{ID: "a1", Source: "s:output", Target: "cond:input"},
			{ID: "a2", Source: "cond:true", Target: "yes:input"},
			{ID: "a3", Source: "cond:false", Target: "no:input"},
		},
	}

	compiled, _, err := compiler.Compile(diagram)
	require.NoError(t, err)

	memory := NewMemoryStore()
	state := domain.NewExecutionState("exec-replay", compiled.ID, compiled.ExecutionOrder,
		map[string]interface{}{"env": "test"})

	sched := scheduler.New(&scheduler.SchedulerOpts{
		Diagram:    compiled,
		State:      state,
		Dispatcher: echoDispatcher{},
		Events:     memory,
		Logger:     nopLogger{},
	})

	final, err := sched.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionCompleted, final.Status)

	events, err := memory.Events(context.Background(), "exec-replay", 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].IsTerminal(), "terminal event must close the log")

	replayed, err := Replay(events)
	require.NoError(t, err)

	wantJSON, err := json.Marshal(final)
	require.NoError(t, err)
	gotJSON, err := json.Marshal(replayed)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantJSON), string(gotJSON))
}
