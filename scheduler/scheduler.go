package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/resolver"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// EventSink persists the event log and the live state snapshot
type EventSink interface {
	Append(ctx context.Context, event *domain.Event) error
	SaveState(ctx context.Context, state *domain.ExecutionState) error
}

// Broadcaster fans appended events out to subscribers
type Broadcaster interface {
	Publish(event *domain.Event)
}

// abortGracePeriod is the default Options.AbortGrace: how long the
// scheduler waits for cancelled handlers to unwind before declaring the
// execution aborted anyway
const abortGracePeriod = 5 * time.Second

// Scheduler drives an execution in steps: pick ready nodes up to the
// parallel cap, dispatch concurrently, record results, repeat. The
// scheduler loop is the single owner of execution state; handlers run on
// worker goroutines and only ever see immutable input snapshots.
type Scheduler struct {
	diagram    *domain.ExecutableDiagram
	tracker    *Tracker
	resolver   *resolver.Resolver
	dispatcher Dispatcher
	events     EventSink
	bus        Broadcaster
	logger     Logger
	opts       Options

	control chan domain.ControlMessage
	prompts *promptBroker

	emitMu   sync.Mutex
	seq      int64
	prevSnap []byte

	cancelRun context.CancelFunc
	paused    bool
	aborted   bool
}

// SchedulerOpts contains the collaborators a scheduler needs
type SchedulerOpts struct {
	Diagram    *domain.ExecutableDiagram
	State      *domain.ExecutionState
	Dispatcher Dispatcher
	Events     EventSink
	Bus        Broadcaster
	Logger     Logger
	Options    *Options
}

// New creates a scheduler for one execution
func New(opts *SchedulerOpts) *Scheduler {
	s := &Scheduler{
		diagram:    opts.Diagram,
		tracker:    NewTracker(opts.Diagram, opts.State),
		resolver:   resolver.New(opts.Logger),
		dispatcher: opts.Dispatcher,
		events:     opts.Events,
		bus:        opts.Bus,
		logger:     opts.Logger,
		opts:       opts.Options.withDefaults(),
		control:    make(chan domain.ControlMessage, 64),
	}
	s.prompts = newPromptBroker(s.emit)
	return s
}

// Control returns the channel control messages are delivered on
func (s *Scheduler) Control() chan<- domain.ControlMessage {
	return s.control
}

// Tracker exposes the state tracker, mainly for tests and progress queries
func (s *Scheduler) Tracker() *Tracker {
	return s.tracker
}

// Run executes the diagram to a terminal status and returns the final
// state snapshot. The returned error is nil for a completed execution.
func (s *Scheduler) Run(ctx context.Context) (*domain.ExecutionState, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if s.opts.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(s.opts.TimeoutSeconds)*time.Second)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	s.cancelRun = cancel

	s.tracker.SetStatus(domain.ExecutionRunning)
	s.emit(domain.EventExecutionStarted, "", map[string]interface{}{
		"diagram_id": s.diagram.ID,
	})
	s.saveState()

	step := 0
	emptyPolls := 0
	lastProgress := s.tracker.Progress()

	for {
		if err := runCtx.Err(); err != nil {
			return s.finishInterrupted(ctx, err)
		}

		s.drainControl()
		if s.aborted {
			return s.finishAborted()
		}
		if s.paused {
			if done := s.waitWhilePaused(runCtx); done != nil {
				return done()
			}
			continue
		}

		if s.tracker.IterationCount() >= s.opts.MaxIterations {
			err := domain.NewExecError(domain.ErrMaxIterations, "",
				fmt.Errorf("global iteration cap %d reached", s.opts.MaxIterations))
			return s.finishFailed(err)
		}

		ready := s.tracker.ReadyNodes()
		if len(ready) == 0 {
			if s.tracker.IsComplete() {
				return s.finishCompleted()
			}
			if s.tracker.HasFailures() {
				// Stuck with a failed node and nothing left to run
				if s.tracker.AnyEndpointCompleted() {
					return s.finishCompleted()
				}
				return s.finishFailed(domain.NewExecError(domain.ErrHandlerFailure, "",
					errors.New("execution stuck after node failure")))
			}

			progress := s.tracker.Progress()
			if progress == lastProgress {
				emptyPolls++
			} else {
				emptyPolls = 0
				lastProgress = progress
			}
			if emptyPolls > s.opts.MaxPollRetries {
				err := domain.NewExecError(domain.ErrDeadlockDetected, "",
					fmt.Errorf("no ready nodes after %d polls with no state change", emptyPolls))
				return s.finishFailed(err)
			}

			select {
			case <-runCtx.Done():
				return s.finishInterrupted(ctx, runCtx.Err())
			case msg := <-s.control:
				s.handleControl(msg)
			case <-time.After(s.opts.PollInterval):
			}
			continue
		}
		emptyPolls = 0

		batch := ready
		if len(batch) > s.opts.MaxParallelNodes {
			batch = batch[:s.opts.MaxParallelNodes]
		}

		step++
		executed := s.runStep(runCtx, step, batch)
		lastProgress = s.tracker.Progress()

		s.emit(domain.EventStepComplete, "", map[string]interface{}{
			"step":     step,
			"nodes":    executed,
			"progress": lastProgress,
		})
		s.saveState()

		if s.aborted {
			return s.finishAborted()
		}
		if s.tracker.IsComplete() {
			return s.finishCompleted()
		}
	}
}

type stepResult struct {
	nodeID domain.NodeID
	output *domain.NodeOutput
	err    error
}

// runStep dispatches one batch of ready nodes concurrently and folds the
// results back into the tracker. Control messages are serviced while the
// batch is in flight so aborts and interactive responses are not delayed.
func (s *Scheduler) runStep(runCtx context.Context, step int, batch []*domain.Node) []string {
	executed := make([]string, 0, len(batch))
	results := make(chan stepResult, len(batch))
	var wg sync.WaitGroup

	for _, node := range batch {
		executed = append(executed, string(node.ID))

		// Inputs resolve against the state before this attempt is counted
		inputs, resolveErr := s.resolver.Resolve(node, s.diagram.Incoming(node.ID), s.tracker)

		s.tracker.MarkRunning(node.ID)
		s.emit(domain.EventNodeStarted, node.ID, nil)
		if s.opts.DebugMode {
			s.emit(domain.EventNodeRunning, node.ID, map[string]interface{}{"inputs": inputs})
		}

		if resolveErr != nil {
			results <- stepResult{nodeID: node.ID, err: domain.NewExecError(domain.ErrHandlerFailure, node.ID, resolveErr)}
			continue
		}

		job := &Job{
			ExecutionID: s.tracker.state.ID,
			Node:        node,
			Inputs:      inputs,
			Variables:   s.tracker.Variables(),
			Diagram:     s.diagram,
			State:       s.tracker,
			Prompter:    s.prompts,
			DebugMode:   s.opts.DebugMode,
		}

		wg.Add(1)
		go func(node *domain.Node, job *Job) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- stepResult{
						nodeID: node.ID,
						err:    domain.NewExecError(domain.ErrHandlerFailure, node.ID, fmt.Errorf("handler panicked: %v", r)),
					}
				}
			}()

			nodeCtx := runCtx
			if timeout := nodeTimeout(node); timeout > 0 {
				var cancel context.CancelFunc
				nodeCtx, cancel = context.WithTimeout(runCtx, timeout)
				defer cancel()
			}

			out, err := s.dispatcher.Dispatch(nodeCtx, job)
			if err != nil {
				results <- stepResult{nodeID: node.ID, err: classifyNodeError(node.ID, nodeCtx, runCtx, err)}
				return
			}
			results <- stepResult{nodeID: node.ID, output: out}
		}(node, job)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var grace <-chan time.Time
awaiting:
	for {
		select {
		case <-done:
			break awaiting
		case <-grace:
			s.logger.Warn("abort grace period elapsed with handlers still running",
				"execution_id", s.tracker.state.ID)
			break awaiting
		case msg := <-s.control:
			s.handleControl(msg)
			if s.aborted && grace == nil {
				grace = time.After(s.opts.AbortGrace)
			}
		}
	}

	// The results channel is never closed: a handler that outlives the
	// grace period may still send, and that send must not panic. The
	// buffer holds one slot per dispatched node, so late sends never
	// block and the channel is collected together with its workers.
fold:
	for i := 0; i < len(batch); i++ {
		var res stepResult
		select {
		case res = <-results:
		default:
			// Grace elapsed with handlers still in flight; their
			// results are abandoned and their nodes stay running
			break fold
		}
		if res.err != nil {
			s.tracker.MarkFailed(res.nodeID, res.err)
			s.emit(domain.EventNodeFailed, res.nodeID, map[string]interface{}{
				"error": res.err.Error(),
				"kind":  string(domain.KindOf(res.err)),
			})
			s.logger.Error("node failed",
				"execution_id", s.tracker.state.ID,
				"node_id", res.nodeID,
				"error", res.err)
			continue
		}
		s.tracker.MarkCompleted(res.nodeID, res.output)
		s.emit(domain.EventNodeCompleted, res.nodeID, completionData(res.output))
	}

	return executed
}

// nodeTimeout returns the per-node deadline for node types that carry one
func nodeTimeout(node *domain.Node) time.Duration {
	switch node.Type {
	case domain.NodeTypeCodeJob:
		if node.CodeJob != nil && node.CodeJob.TimeoutSeconds > 0 {
			return time.Duration(node.CodeJob.TimeoutSeconds) * time.Second
		}
	case domain.NodeTypeUserResponse:
		if node.UserResponse != nil && node.UserResponse.TimeoutSeconds > 0 {
			return time.Duration(node.UserResponse.TimeoutSeconds) * time.Second
		}
	}
	return 0
}

func classifyNodeError(nodeID domain.NodeID, nodeCtx, runCtx context.Context, err error) error {
	var ee *domain.ExecError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
		return domain.NewExecError(domain.ErrTimedOut, nodeID, err)
	}
	if runCtx.Err() != nil {
		return domain.NewExecError(domain.ErrCancelled, nodeID, err)
	}
	return domain.NewExecError(domain.ErrHandlerFailure, nodeID, err)
}

func completionData(out *domain.NodeOutput) map[string]interface{} {
	if out == nil {
		return nil
	}
	data := map[string]interface{}{}
	if out.Value != nil {
		data["value"] = out.Value
	}
	if out.Condition != nil {
		data["condition_result"] = out.Condition.Value
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// handleControl applies one control message. Unknown kinds produce a
// warning event rather than an error.
func (s *Scheduler) handleControl(msg domain.ControlMessage) {
	switch msg.Kind {
	case domain.ControlPause:
		s.paused = true
		s.tracker.SetStatus(domain.ExecutionPaused)
		s.emit(domain.EventNodePaused, msg.NodeID, nil)
	case domain.ControlResume:
		s.paused = false
		s.tracker.SetStatus(domain.ExecutionRunning)
	case domain.ControlAbort:
		s.aborted = true
		if s.cancelRun != nil {
			s.cancelRun()
		}
	case domain.ControlSkipNode:
		if err := s.tracker.MarkSkipped(msg.NodeID); err != nil {
			s.emit(domain.EventWarning, msg.NodeID, map[string]interface{}{"error": err.Error()})
			return
		}
		s.emit(domain.EventNodeSkipped, msg.NodeID, nil)
	case domain.ControlInteractiveResponse:
		if !s.prompts.Resolve(msg.NodeID, msg.Data) {
			s.emit(domain.EventWarning, msg.NodeID, map[string]interface{}{
				"error": "no node waiting for interactive response",
			})
		}
	default:
		s.logger.Warn("ignoring unrecognized control message",
			"execution_id", s.tracker.state.ID,
			"kind", string(msg.Kind))
		s.emit(domain.EventWarning, msg.NodeID, map[string]interface{}{
			"error": "unrecognized control kind: " + string(msg.Kind),
		})
	}
}

// drainControl services queued control messages without blocking
func (s *Scheduler) drainControl() {
	for {
		select {
		case msg := <-s.control:
			s.handleControl(msg)
		default:
			return
		}
	}
}

// waitWhilePaused blocks the step loop until resume or abort. Returns a
// finisher when the wait ends the execution.
func (s *Scheduler) waitWhilePaused(runCtx context.Context) func() (*domain.ExecutionState, error) {
	for s.paused {
		select {
		case <-runCtx.Done():
			err := runCtx.Err()
			return func() (*domain.ExecutionState, error) { return s.finishInterrupted(runCtx, err) }
		case msg := <-s.control:
			s.handleControl(msg)
			if s.aborted {
				return s.finishAbortedFn()
			}
		}
	}
	return nil
}

func (s *Scheduler) finishAbortedFn() func() (*domain.ExecutionState, error) {
	return func() (*domain.ExecutionState, error) { return s.finishAborted() }
}

func (s *Scheduler) finishCompleted() (*domain.ExecutionState, error) {
	s.tracker.SetStatus(domain.ExecutionCompleted)
	s.saveState()
	s.emit(domain.EventExecutionCompleted, "", map[string]interface{}{
		"progress": s.tracker.Progress(),
	})
	s.logger.Info("execution completed", "execution_id", s.tracker.state.ID)
	return s.tracker.Snapshot(), nil
}

func (s *Scheduler) finishFailed(cause error) (*domain.ExecutionState, error) {
	s.tracker.SetStatus(domain.ExecutionFailed)
	s.tracker.SetError(cause.Error())
	s.saveState()
	s.emit(domain.EventExecutionFailed, "", map[string]interface{}{
		"error": cause.Error(),
		"kind":  string(domain.KindOf(cause)),
	})
	s.logger.Error("execution failed", "execution_id", s.tracker.state.ID, "error", cause)
	return s.tracker.Snapshot(), cause
}

func (s *Scheduler) finishAborted() (*domain.ExecutionState, error) {
	s.tracker.SetStatus(domain.ExecutionAborted)
	cause := domain.NewExecError(domain.ErrCancelled, "", errors.New("execution aborted"))
	s.tracker.SetError(cause.Error())
	s.saveState()
	s.emit(domain.EventExecutionAborted, "", nil)
	s.logger.Info("execution aborted", "execution_id", s.tracker.state.ID)
	return s.tracker.Snapshot(), cause
}

// finishInterrupted maps a context error to the right terminal status
func (s *Scheduler) finishInterrupted(parent context.Context, err error) (*domain.ExecutionState, error) {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return s.finishFailed(domain.NewExecError(domain.ErrTimedOut, "",
			fmt.Errorf("execution deadline of %ds exceeded", s.opts.TimeoutSeconds)))
	}
	return s.finishAborted()
}

// emit appends an event to the store and fans it out. Sequence numbers are
// assigned here; they are strictly increasing per execution.
func (s *Scheduler) emit(kind domain.EventType, nodeID domain.NodeID, data map[string]interface{}) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.seq++
	ev := &domain.Event{
		ID:          uuid.NewString(),
		ExecutionID: s.tracker.state.ID,
		Sequence:    s.seq,
		Type:        kind,
		NodeID:      nodeID,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}

	if err := s.events.Append(context.Background(), ev); err != nil {
		s.logger.Error("failed to append event",
			"execution_id", ev.ExecutionID,
			"type", string(kind),
			"error", err)
	}
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// saveState snapshots the live state and emits a state_changed event
// carrying the JSON merge patch against the previous snapshot
func (s *Scheduler) saveState() {
	snap := s.tracker.Snapshot()
	if err := s.events.SaveState(context.Background(), snap); err != nil {
		s.logger.Error("failed to save state snapshot",
			"execution_id", snap.ID,
			"error", err)
	}

	cur, err := json.Marshal(snap)
	if err != nil {
		return
	}
	prev := s.prevSnap
	if prev == nil {
		// First snapshot: the patch is the whole document so replay can
		// reconstruct from the event log alone
		prev = []byte("{}")
	}
	patch, err := jsonpatch.CreateMergePatch(prev, cur)
	if err == nil && len(patch) > 2 { // skip empty "{}" patches
		s.emit(domain.EventStateChanged, "", map[string]interface{}{
			"patch": json.RawMessage(patch),
		})
	}
	s.prevSnap = cur
}
