package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/diaflow/diaflow/compiler"
	"github.com/diaflow/diaflow/dispatch"
	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/router"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
	"github.com/diaflow/diaflow/store"
)

// Logger interface for engine logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Engine compiles diagrams and manages their executions. One engine serves
// many concurrent executions; each execution gets its own scheduler.
type Engine struct {
	store    store.Store
	router   *router.Router
	bundle   *services.Bundle
	registry *dispatch.Registry
	archive  *store.Archive
	logger   Logger
	defaults scheduler.Options

	mu      sync.RWMutex
	running map[domain.ExecutionID]*execution
}

type execution struct {
	id    domain.ExecutionID
	sched *scheduler.Scheduler
	done  chan struct{}

	state *domain.ExecutionState
	err   error
}

// Opts configures an engine
type Opts struct {
	Store    store.Store
	Router   *router.Router
	Bundle   *services.Bundle
	Registry *dispatch.Registry // nil installs the built-in handlers
	Archive  *store.Archive     // nil disables archival
	Logger   Logger
	Defaults scheduler.Options
}

// New creates an engine
func New(opts *Opts) *Engine {
	registry := opts.Registry
	if registry == nil {
		registry = dispatch.DefaultRegistry(opts.Bundle, opts.Logger)
	}
	return &Engine{
		store:    opts.Store,
		router:   opts.Router,
		bundle:   opts.Bundle,
		registry: registry,
		archive:  opts.Archive,
		logger:   opts.Logger,
		defaults: opts.Defaults,
		running:  make(map[domain.ExecutionID]*execution),
	}
}

// LoadDiagram reads and decodes a diagram file
func LoadDiagram(path string) (*domain.DomainDiagram, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read diagram: %w", err)
	}
	return ParseDiagram(raw)
}

// ParseDiagram decodes a diagram document
func ParseDiagram(raw []byte) (*domain.DomainDiagram, error) {
	var diagram domain.DomainDiagram
	if err := json.Unmarshal(raw, &diagram); err != nil {
		return nil, fmt.Errorf("decode diagram: %w", err)
	}
	return &diagram, nil
}

// Compile compiles and validates a diagram, including handler-level checks
func (e *Engine) Compile(diagram *domain.DomainDiagram) (*domain.ExecutableDiagram, compiler.Issues, error) {
	compiled, issues, err := compiler.Compile(diagram)
	if err != nil {
		return nil, issues, err
	}

	dispatcher := dispatch.NewDispatcher(&dispatch.DispatcherOpts{
		Registry: e.registry,
		Bundle:   e.bundle,
		Logger:   e.logger,
	})
	if err := dispatcher.ValidateDiagram(compiled); err != nil {
		return nil, issues, err
	}
	return compiled, issues, nil
}

// Start compiles the diagram and launches its execution asynchronously,
// returning the execution id immediately
func (e *Engine) Start(ctx context.Context, diagram *domain.DomainDiagram, opts *scheduler.Options) (domain.ExecutionID, error) {
	compiled, _, err := e.Compile(diagram)
	if err != nil {
		return "", err
	}
	if e.bundle.Has(services.ServiceAPIKeys) {
		for id, envVar := range diagram.APIKeys {
			e.bundle.APIKeys.Register(id, envVar)
		}
	}
	return e.start(ctx, compiled, diagram.ID, opts)
}

// StartCompiled launches an execution of an already compiled diagram
func (e *Engine) StartCompiled(ctx context.Context, compiled *domain.ExecutableDiagram, opts *scheduler.Options) (domain.ExecutionID, error) {
	return e.start(ctx, compiled, compiled.ID, opts)
}

func (e *Engine) start(ctx context.Context, compiled *domain.ExecutableDiagram, diagramID string, opts *scheduler.Options) (domain.ExecutionID, error) {
	runOpts := e.defaults
	if opts != nil {
		runOpts = *opts
	}

	executionID := domain.ExecutionID(uuid.NewString())
	nodeIDs := make([]domain.NodeID, 0, len(compiled.Nodes))
	for id := range compiled.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	state := domain.NewExecutionState(executionID, diagramID, nodeIDs, runOpts.Variables)

	dispatcher := dispatch.NewDispatcher(&dispatch.DispatcherOpts{
		Registry: e.registry,
		Bundle:   e.bundle,
		Logger:   e.logger,
	})

	sched := scheduler.New(&scheduler.SchedulerOpts{
		Diagram:    compiled,
		State:      state,
		Dispatcher: dispatcher,
		Events:     e.store,
		Bus:        e.router,
		Logger:     e.logger,
		Options:    &runOpts,
	})

	exec := &execution{
		id:    executionID,
		sched: sched,
		done:  make(chan struct{}),
	}

	e.mu.Lock()
	e.running[executionID] = exec
	e.mu.Unlock()
	e.router.RegisterControl(executionID, sched.Control())

	go func() {
		defer close(exec.done)
		final, err := sched.Run(ctx)
		exec.state = final
		exec.err = err

		e.archiveTerminal(final)
		if e.bundle.Has(services.ServiceMemory) {
			e.bundle.Memory.Forget(executionID)
		}

		e.mu.Lock()
		delete(e.running, executionID)
		e.mu.Unlock()
	}()

	e.logger.Info("execution started",
		"execution_id", executionID,
		"diagram_id", diagramID,
		"nodes", len(compiled.Nodes))
	return executionID, nil
}

// archiveTerminal stores a finished execution in the archive when configured
func (e *Engine) archiveTerminal(state *domain.ExecutionState) {
	if e.archive == nil || state == nil {
		return
	}
	ctx := context.Background()
	events, err := e.store.Events(ctx, state.ID, 0)
	if err != nil {
		e.logger.Warn("archive skipped, event log unavailable",
			"execution_id", state.ID, "error", err)
		return
	}
	if err := e.archive.Store(ctx, state, events); err != nil {
		e.logger.Error("archive failed", "execution_id", state.ID, "error", err)
	}
}

// Run executes a diagram synchronously and returns the final state
func (e *Engine) Run(ctx context.Context, diagram *domain.DomainDiagram, opts *scheduler.Options) (*domain.ExecutionState, error) {
	executionID, err := e.Start(ctx, diagram, opts)
	if err != nil {
		return nil, err
	}
	return e.Wait(ctx, executionID)
}

// Wait blocks until the execution reaches a terminal status
func (e *Engine) Wait(ctx context.Context, executionID domain.ExecutionID) (*domain.ExecutionState, error) {
	e.mu.RLock()
	exec, ok := e.running[executionID]
	e.mu.RUnlock()
	if !ok {
		// Already finished; the store has the terminal snapshot
		return e.store.State(ctx, executionID)
	}

	select {
	case <-exec.done:
		return exec.state, exec.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Control routes a control message to its execution
func (e *Engine) Control(msg domain.ControlMessage) bool {
	return e.router.Send(msg)
}

// Subscribe returns an event subscription for the execution
func (e *Engine) Subscribe(executionID domain.ExecutionID) *router.Subscription {
	return e.router.Subscribe(executionID)
}

// State returns the latest persisted state snapshot
func (e *Engine) State(ctx context.Context, executionID domain.ExecutionID) (*domain.ExecutionState, error) {
	return e.store.State(ctx, executionID)
}

// Events returns the execution's event log after the given sequence
func (e *Engine) Events(ctx context.Context, executionID domain.ExecutionID, afterSeq int64) ([]*domain.Event, error) {
	return e.store.Events(ctx, executionID, afterSeq)
}

// IsRunning reports whether the execution is still in flight
func (e *Engine) IsRunning(executionID domain.ExecutionID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.running[executionID]
	return ok
}
