package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diaflow/diaflow/domain"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

// memorySink records appended events and saved snapshots
type memorySink struct {
	mu     sync.Mutex
	events []*domain.Event
	states []*domain.ExecutionState
}

func (s *memorySink) Append(_ context.Context, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memorySink) SaveState(_ context.Context, state *domain.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return nil
}

func (s *memorySink) eventTypes() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]domain.EventType, 0, len(s.events))
	for _, ev := range s.events {
		types = append(types, ev.Type)
	}
	return types
}

func (s *memorySink) lastEvent() *domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

func (s *memorySink) countType(kind domain.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

type dispatchFunc func(ctx context.Context, job *Job) (*domain.NodeOutput, error)

func (f dispatchFunc) Dispatch(ctx context.Context, job *Job) (*domain.NodeOutput, error) {
	return f(ctx, job)
}

// echoDispatcher completes every node with a canned per-type output
func echoDispatcher() dispatchFunc {
	return func(_ context.Context, job *Job) (*domain.NodeOutput, error) {
		if job.Node.Type == domain.NodeTypeCondition {
			return domain.NewConditionOutput(true, job.Inputs["default"], job.Inputs["default"]), nil
		}
		return domain.NewOutput(string(job.Node.ID) + "-out"), nil
	}
}

func newTestScheduler(t *testing.T, d *domain.DomainDiagram, dispatcher Dispatcher, opts *Options) (*Scheduler, *memorySink) {
	t.Helper()
	compiled := compileDiagram(t, d)
	state := domain.NewExecutionState("exec-1", compiled.ID, compiled.ExecutionOrder, nil)
	sink := &memorySink{}
	s := New(&SchedulerOpts{
		Diagram:    compiled,
		State:      state,
		Dispatcher: dispatcher,
		Events:     sink,
		Bus:        nil,
		Logger:     nopLogger{},
		Options:    opts,
	})
	return s, sink
}

func TestRun_LinearCompletes(t *testing.T) {
	s, sink := newTestScheduler(t, linearDiagram(), echoDispatcher(), nil)

	final, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, final.Status)
	assert.NotNil(t, final.EndedAt)

	for _, id := range []domain.NodeID{"s", "c", "e"} {
		assert.Equal(t, domain.NodeCompleted, final.NodeStates[id].Status, "node %s", id)
	}
	assert.Equal(t, "e-out", final.NodeOutputs["e"].Value)

	types := sink.eventTypes()
	assert.Equal(t, domain.EventExecutionStarted, types[0])
	assert.Equal(t, domain.EventExecutionCompleted, types[len(types)-1])
	assert.Equal(t, 3, sink.countType(domain.EventNodeStarted))
	assert.Equal(t, 3, sink.countType(domain.EventNodeCompleted))
	assert.Equal(t, 3, sink.countType(domain.EventStepComplete))
}

func TestRun_SequencesAreStrictlyIncreasing(t *testing.T) {
	s, sink := newTestScheduler(t, linearDiagram(), echoDispatcher(), nil)

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	var last int64
	for _, ev := range sink.events {
		assert.Greater(t, ev.Sequence, last)
		last = ev.Sequence
		assert.Equal(t, domain.ExecutionID("exec-1"), ev.ExecutionID)
		assert.NotEmpty(t, ev.ID)
	}
}

func TestRun_ConditionPrunesUntakenBranch(t *testing.T) {
	s, _ := newTestScheduler(t, conditionDiagram(), echoDispatcher(), nil)

	final, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, final.Status)
	assert.Equal(t, domain.NodeCompleted, final.NodeStates["yes"].Status)
	assert.Equal(t, domain.NodePending, final.NodeStates["no"].Status)
	assert.Zero(t, final.NodeStates["no"].ExecCount)
}

func TestRun_PersonJobLoopsToCap(t *testing.T) {
	var calls int32
	dispatcher := dispatchFunc(func(_ context.Context, job *Job) (*domain.NodeOutput, error) {
		if job.Node.Type == domain.NodeTypePersonJob {
			atomic.AddInt32(&calls, 1)
		}
		return domain.NewOutput(string(job.Node.ID) + "-out"), nil
	})
	s, _ := newTestScheduler(t, loopDiagram(3), dispatcher, nil)

	final, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, final.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 3, final.NodeStates["p"].ExecCount)
	assert.Equal(t, domain.NodeMaxIterReached, final.NodeStates["p"].Status)
	assert.Equal(t, domain.NodeCompleted, final.NodeStates["e"].Status)
}

func TestRun_TwoFeedsDriveIterationsToCap(t *testing.T) {
	// First turn is gated on the dedicated first edge, later turns on the
	// default edge; the run must not end until the cap is reached
	d := &domain.DomainDiagram{
		ID: "two-feeds",
		Nodes: []domain.Node{
			{ID: "s1", Type: domain.NodeTypeStart, Start: &domain.StartConfig{}},
			{ID: "s2", Type: domain.NodeTypeStart, Start: &domain.StartConfig{}},
			{ID: "p", Type: domain.NodeTypePersonJob, PersonJob: &domain.PersonJobConfig{
				LLM:           &domain.LLMConfig{Service: "openai", Model: "gpt-4o-mini"},
				MaxIteration:  2,
				DefaultPrompt: "continue",
			}},
		},
		Arrows: []domain.Arrow{
			{ID: "a1", Source: "s1:output", Target: "p:first"},
			{ID: "a2", Source: "s2:output", Target: "p:input"},
		},
	}

	var calls int32
	dispatcher := dispatchFunc(func(_ context.Context, job *Job) (*domain.NodeOutput, error) {
		if job.Node.Type == domain.NodeTypePersonJob {
			atomic.AddInt32(&calls, 1)
		}
		return domain.NewOutput(string(job.Node.ID) + "-out"), nil
	})

	s, _ := newTestScheduler(t, d, dispatcher, nil)
	final, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, final.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, final.NodeStates["p"].ExecCount)
	assert.Equal(t, domain.NodeMaxIterReached, final.NodeStates["p"].Status)
}

func TestRun_AbortAbandonsStuckHandler(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	dispatcher := dispatchFunc(func(_ context.Context, job *Job) (*domain.NodeOutput, error) {
		if job.Node.ID == "c" {
			// Ignores cancellation entirely
			close(entered)
			<-release
			return domain.NewOutput("late"), nil
		}
		return domain.NewOutput("ok"), nil
	})
	s, sink := newTestScheduler(t, linearDiagram(), dispatcher, &Options{AbortGrace: 30 * time.Millisecond})

	go func() {
		<-entered
		s.Control() <- domain.ControlMessage{Kind: domain.ControlAbort, ExecutionID: "exec-1"}
	}()

	final, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrCancelled, domain.KindOf(err))
	assert.Equal(t, domain.ExecutionAborted, final.Status)
	assert.Equal(t, domain.NodeRunning, final.NodeStates["c"].Status)
	assert.Equal(t, domain.EventExecutionAborted, sink.lastEvent().Type)

	// The abandoned handler finishing late must not bring the process down
	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.EventExecutionAborted, sink.lastEvent().Type)
}

func TestRun_NodeFailureWithoutEndpointFails(t *testing.T) {
	dispatcher := dispatchFunc(func(_ context.Context, job *Job) (*domain.NodeOutput, error) {
		if job.Node.Type == domain.NodeTypeCodeJob {
			return nil, errors.New("boom")
		}
		return domain.NewOutput("ok"), nil
	})
	s, sink := newTestScheduler(t, linearDiagram(), dispatcher, nil)

	final, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrHandlerFailure, domain.KindOf(err))
	assert.Equal(t, domain.ExecutionFailed, final.Status)
	assert.Equal(t, domain.NodeFailed, final.NodeStates["c"].Status)
	assert.Contains(t, final.NodeStates["c"].Error, "boom")

	assert.Equal(t, 1, sink.countType(domain.EventNodeFailed))
	assert.Equal(t, domain.EventExecutionFailed, sink.lastEvent().Type)
}

func TestRun_PanicIsContainedAsFailure(t *testing.T) {
	dispatcher := dispatchFunc(func(_ context.Context, job *Job) (*domain.NodeOutput, error) {
		if job.Node.ID == "c" {
			panic("handler bug")
		}
		return domain.NewOutput("ok"), nil
	})
	s, _ := newTestScheduler(t, linearDiagram(), dispatcher, nil)

	final, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ExecutionFailed, final.Status)
	assert.Contains(t, final.NodeStates["c"].Error, "handler panicked")
}

func TestRun_ParallelCapIsRespected(t *testing.T) {
	var current, peak int32
	dispatcher := dispatchFunc(func(_ context.Context, job *Job) (*domain.NodeOutput, error) {
		if job.Node.Type == domain.NodeTypeCodeJob {
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&current, -1)
		}
		return domain.NewOutput("ok"), nil
	})

	d := &domain.DomainDiagram{
		ID: "fanout",
		Nodes: []domain.Node{
			{ID: "s", Type: domain.NodeTypeStart, Start: &domain.StartConfig{}},
			{ID: "w1", Type: domain.NodeTypeCodeJob, CodeJob: &domain.CodeJobConfig{Language: "bash", Code: "true"}},
			{ID: "w2", Type: domain.NodeTypeCodeJob, CodeJob: &domain.CodeJobConfig{Language: "bash", Code: "true"}},
			{ID: "w3", Type: domain.NodeTypeCodeJob, CodeJob: &domain.CodeJobConfig{Language: "bash", Code: "true"}},
			{ID: "w4", Type: domain.NodeTypeCodeJob, CodeJob: &domain.CodeJobConfig{Language: "bash", Code: "true"}},
		},
		Arrows: []domain.Arrow{
			{ID: "a1", Source: "s:output", Target: "w1:input"},
			{ID: "a2", Source: "s:output", Target: "w2:input"},
			{ID: "a3", Source: "s:output", Target: "w3:input"},
			{ID: "a4", Source: "s:output", Target: "w4:input"},
		},
	}

	s, _ := newTestScheduler(t, d, dispatcher, &Options{MaxParallelNodes: 2})
	final, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, final.Status)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRun_AbortDuringDispatch(t *testing.T) {
	blocking := dispatchFunc(func(ctx context.Context, job *Job) (*domain.NodeOutput, error) {
		if job.Node.ID == "c" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return domain.NewOutput("ok"), nil
	})
	s, sink := newTestScheduler(t, linearDiagram(), blocking, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Control() <- domain.ControlMessage{Kind: domain.ControlAbort, ExecutionID: "exec-1"}
	}()

	final, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrCancelled, domain.KindOf(err))
	assert.Equal(t, domain.ExecutionAborted, final.Status)
	assert.Equal(t, domain.EventExecutionAborted, sink.lastEvent().Type)
}

func TestRun_PauseAndResume(t *testing.T) {
	s, sink := newTestScheduler(t, linearDiagram(), echoDispatcher(), nil)

	s.Control() <- domain.ControlMessage{Kind: domain.ControlPause, ExecutionID: "exec-1"}
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Control() <- domain.ControlMessage{Kind: domain.ControlResume, ExecutionID: "exec-1"}
	}()

	final, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, final.Status)
	assert.Equal(t, 1, sink.countType(domain.EventNodePaused))
}

func TestRun_SkipNodeUnblocksDownstream(t *testing.T) {
	s, sink := newTestScheduler(t, linearDiagram(), echoDispatcher(), nil)

	s.Control() <- domain.ControlMessage{Kind: domain.ControlSkipNode, ExecutionID: "exec-1", NodeID: "c"}

	final, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, final.Status)
	assert.Equal(t, domain.NodeSkipped, final.NodeStates["c"].Status)
	assert.Equal(t, domain.NodeCompleted, final.NodeStates["e"].Status)
	assert.Equal(t, 1, sink.countType(domain.EventNodeSkipped))
}

func TestRun_InteractiveResponse(t *testing.T) {
	dispatcher := dispatchFunc(func(ctx context.Context, job *Job) (*domain.NodeOutput, error) {
		if job.Node.ID == "c" {
			resp, err := job.Prompter.Ask(ctx, job.Node.ID, "proceed?", 5*time.Second)
			if err != nil {
				return nil, err
			}
			return domain.NewOutput(resp["answer"]), nil
		}
		return domain.NewOutput("ok"), nil
	})
	s, sink := newTestScheduler(t, linearDiagram(), dispatcher, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Control() <- domain.ControlMessage{
			Kind:        domain.ControlInteractiveResponse,
			ExecutionID: "exec-1",
			NodeID:      "c",
			Data:        map[string]interface{}{"answer": "yes"},
		}
	}()

	final, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, final.Status)
	assert.Equal(t, "yes", final.NodeOutputs["c"].Value)
	assert.Equal(t, 1, sink.countType(domain.EventInteractivePrompt))
	assert.Equal(t, 1, sink.countType(domain.EventInteractiveResponse))
}

func TestRun_DeadlockDetected(t *testing.T) {
	// The join needs both branches of the condition, but only one can ever
	// be taken
	d := &domain.DomainDiagram{
		ID: "stuck-join",
		Nodes: []domain.Node{
			{ID: "s", Type: domain.NodeTypeStart, Start: &domain.StartConfig{}},
			{ID: "cond", Type: domain.NodeTypeCondition, Condition: &domain.ConditionConfig{
				Kind: domain.ConditionKindExpression, Expression: "true",
			}},
			{ID: "a", Type: domain.NodeTypeCodeJob, CodeJob: &domain.CodeJobConfig{Language: "bash", Code: "true"}},
			{ID: "b", Type: domain.NodeTypeCodeJob, CodeJob: &domain.CodeJobConfig{Language: "bash", Code: "true"}},
			{ID: "join", Type: domain.NodeTypeCodeJob, CodeJob: &domain.CodeJobConfig{Language: "bash", Code: "true"}},
		},
		Arrows: []domain.Arrow{
			{ID: "a1", Source: "s:output", Target: "cond:input"},
			{ID: "a2", Source: "cond:true", Target: "a:input"},
			{ID: "a3", Source: "cond:false", Target: "b:input"},
			{ID: "a4", Source: "a:output", Target: "join:input"},
			{ID: "a5", Source: "b:output", Target: "join:input"},
		},
	}

	opts := &Options{PollInterval: time.Millisecond, MaxPollRetries: 3}
	s, _ := newTestScheduler(t, d, echoDispatcher(), opts)

	final, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrDeadlockDetected, domain.KindOf(err))
	assert.Equal(t, domain.ExecutionFailed, final.Status)
}

func TestRun_GlobalIterationCap(t *testing.T) {
	opts := &Options{MaxIterations: 2}
	s, _ := newTestScheduler(t, linearDiagram(), echoDispatcher(), opts)

	final, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrMaxIterations, domain.KindOf(err))
	assert.Equal(t, domain.ExecutionFailed, final.Status)
}

func TestRun_DebugModeEmitsInputs(t *testing.T) {
	s, sink := newTestScheduler(t, linearDiagram(), echoDispatcher(), &Options{DebugMode: true})

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sink.countType(domain.EventNodeRunning))
}

func TestRun_StateChangedTrailsTerminalNever(t *testing.T) {
	s, sink := newTestScheduler(t, linearDiagram(), echoDispatcher(), nil)

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	// The terminal event is always the last entry so replaying the log
	// reproduces the final snapshot
	last := sink.lastEvent()
	assert.True(t, last.IsTerminal())
	assert.GreaterOrEqual(t, sink.countType(domain.EventStateChanged), 1)
}
