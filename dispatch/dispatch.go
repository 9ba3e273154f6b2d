package dispatch

import (
	"context"
	"fmt"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// Logger interface for dispatch logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Handler executes one node type. Validate runs at registration against
// compiled nodes; Execute runs on scheduler worker goroutines and must be
// safe for concurrent use.
type Handler interface {
	Type() domain.NodeType
	RequiredServices() []services.ServiceName
	Validate(node *domain.Node) error
	Execute(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error)
}

// Registry maps node types to handlers
type Registry struct {
	handlers map[domain.NodeType]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.NodeType]Handler)}
}

// Register installs a handler, replacing any previous one for the type
func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

// Get looks up the handler for a node type
func (r *Registry) Get(t domain.NodeType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Dispatcher routes jobs to typed handlers, guarding service requirements.
// It implements scheduler.Dispatcher.
type Dispatcher struct {
	registry *Registry
	bundle   *services.Bundle
	logger   Logger
}

// DispatcherOpts configures a dispatcher
type DispatcherOpts struct {
	Registry *Registry
	Bundle   *services.Bundle
	Logger   Logger
}

// NewDispatcher creates a dispatcher over a handler registry
func NewDispatcher(opts *DispatcherOpts) *Dispatcher {
	return &Dispatcher{
		registry: opts.Registry,
		bundle:   opts.Bundle,
		logger:   opts.Logger,
	}
}

// Dispatch executes the job's node with its registered handler
func (d *Dispatcher) Dispatch(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	handler, ok := d.registry.Get(job.Node.Type)
	if !ok {
		return nil, domain.NewExecError(domain.ErrValidation, job.Node.ID,
			fmt.Errorf("no handler registered for node type %s", job.Node.Type))
	}

	if missing := d.bundle.Missing(handler.RequiredServices()); len(missing) > 0 {
		return nil, domain.NewExecError(domain.ErrMissingService, job.Node.ID,
			fmt.Errorf("node type %s requires unconfigured services %v", job.Node.Type, missing))
	}

	d.logger.Debug("dispatching node",
		"execution_id", job.ExecutionID,
		"node_id", job.Node.ID,
		"type", string(job.Node.Type))

	out, err := handler.Execute(ctx, job)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &domain.NodeOutput{}
	}
	return out, nil
}

// ValidateDiagram runs each handler's Validate over the compiled nodes.
// Collects every failure rather than stopping at the first.
func (d *Dispatcher) ValidateDiagram(diagram *domain.ExecutableDiagram) error {
	var errs []error
	for _, node := range diagram.Nodes {
		handler, ok := d.registry.Get(node.Type)
		if !ok {
			errs = append(errs, fmt.Errorf("node %s: no handler for type %s", node.ID, node.Type))
			continue
		}
		if err := handler.Validate(node); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", node.ID, err))
		}
	}
	if len(errs) > 0 {
		return domain.NewExecError(domain.ErrValidation, "", joinErrors(errs))
	}
	return nil
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msg := fmt.Sprintf("%d validation failures:", len(errs))
	for _, e := range errs {
		msg += "\n  " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}

// DefaultRegistry wires every built-in handler against the bundle
func DefaultRegistry(bundle *services.Bundle, logger Logger) *Registry {
	r := NewRegistry()
	r.Register(NewStartHandler())
	r.Register(NewEndpointHandler(bundle))
	r.Register(NewConditionHandler())
	r.Register(NewPersonJobHandler(bundle, logger))
	r.Register(NewPersonBatchHandler(bundle, logger))
	r.Register(NewCodeJobHandler(logger))
	r.Register(NewAPIJobHandler(bundle, logger))
	r.Register(NewDBHandler(bundle))
	r.Register(NewUserResponseHandler())
	r.Register(NewHookHandler(bundle, logger))
	r.Register(NewNotionHandler(bundle))
	r.Register(NewTemplateJobHandler(bundle))
	return r
}
