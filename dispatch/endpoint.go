package dispatch

import (
	"context"
	"fmt"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// EndpointHandler terminates a path: it collects the final payload and
// optionally persists it through the file service
type EndpointHandler struct {
	bundle *services.Bundle
}

func NewEndpointHandler(bundle *services.Bundle) *EndpointHandler {
	return &EndpointHandler{bundle: bundle}
}

func (h *EndpointHandler) Type() domain.NodeType { return domain.NodeTypeEndpoint }

func (h *EndpointHandler) RequiredServices() []services.ServiceName { return nil }

func (h *EndpointHandler) Validate(node *domain.Node) error { return nil }

func (h *EndpointHandler) Execute(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	var result interface{}
	if v, ok := defaultInput(job); ok {
		result = v
	} else if len(job.Inputs) > 0 {
		result = job.Inputs
	}

	if job.Node.Endpoint != nil && job.Node.Endpoint.SaveToFile {
		if !h.bundle.Has(services.ServiceFiles) {
			return nil, domain.NewExecError(domain.ErrMissingService, job.Node.ID,
				fmt.Errorf("endpoint save_to_file requires the files service"))
		}
		name := job.Node.Endpoint.FileName
		if name == "" {
			name = fmt.Sprintf("%s_%s.txt", job.ExecutionID, job.Node.ID)
		}
		data := []byte(stringifyValue(result))
		if err := h.bundle.Files.Write(ctx, name, data); err != nil {
			return nil, err
		}
	}

	return domain.NewOutput(result), nil
}
