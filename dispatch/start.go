package dispatch

import (
	"context"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// StartHandler seeds the execution: its output is the start node's custom
// data overlaid with the run's initial variables
type StartHandler struct{}

func NewStartHandler() *StartHandler { return &StartHandler{} }

func (h *StartHandler) Type() domain.NodeType { return domain.NodeTypeStart }

func (h *StartHandler) RequiredServices() []services.ServiceName { return nil }

func (h *StartHandler) Validate(node *domain.Node) error { return nil }

func (h *StartHandler) Execute(_ context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	seed := make(map[string]interface{})
	if job.Node.Start != nil {
		for k, v := range job.Node.Start.CustomData {
			seed[k] = v
		}
	}
	for k, v := range job.Variables {
		seed[k] = v
	}
	if len(seed) == 0 {
		return domain.NewOutput(""), nil
	}
	return domain.NewOutput(seed), nil
}
