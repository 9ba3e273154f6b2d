package dispatch

import (
	"context"
	"fmt"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// TemplateJobHandler renders a text template with {key} placeholders from
// inputs and variables, optionally writing the result through the file
// service
type TemplateJobHandler struct {
	bundle *services.Bundle
}

func NewTemplateJobHandler(bundle *services.Bundle) *TemplateJobHandler {
	return &TemplateJobHandler{bundle: bundle}
}

func (h *TemplateJobHandler) Type() domain.NodeType { return domain.NodeTypeTemplateJob }

func (h *TemplateJobHandler) RequiredServices() []services.ServiceName { return nil }

func (h *TemplateJobHandler) Validate(node *domain.Node) error {
	if node.TemplateJob == nil || node.TemplateJob.Template == "" {
		return fmt.Errorf("template_job: template is required")
	}
	return nil
}

func (h *TemplateJobHandler) Execute(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	cfg := job.Node.TemplateJob

	rendered := renderPlaceholders(cfg.Template, job.Variables, job.Inputs)
	if v, ok := defaultInput(job); ok {
		rendered = renderPlaceholders(rendered, map[string]interface{}{"value": v})
	}

	if cfg.OutputPath != "" {
		if !h.bundle.Has(services.ServiceFiles) {
			return nil, domain.NewExecError(domain.ErrMissingService, job.Node.ID,
				fmt.Errorf("template_job: output_path requires the files service"))
		}
		path := renderPlaceholders(cfg.OutputPath, job.Variables, job.Inputs)
		if err := h.bundle.Files.Write(ctx, path, []byte(rendered)); err != nil {
			return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
		}
	}

	return domain.NewOutput(rendered), nil
}
