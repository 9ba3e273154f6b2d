package dispatch

import (
	"context"
	"fmt"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// NotionHandler reads or writes Notion pages through the notion service
type NotionHandler struct {
	bundle *services.Bundle
}

func NewNotionHandler(bundle *services.Bundle) *NotionHandler {
	return &NotionHandler{bundle: bundle}
}

func (h *NotionHandler) Type() domain.NodeType { return domain.NodeTypeNotion }

func (h *NotionHandler) RequiredServices() []services.ServiceName {
	return []services.ServiceName{services.ServiceNotion}
}

func (h *NotionHandler) Validate(node *domain.Node) error {
	cfg := node.Notion
	if cfg == nil {
		return fmt.Errorf("notion: config is required")
	}
	switch cfg.Operation {
	case "read_page", "update_page":
		if cfg.PageID == "" {
			return fmt.Errorf("notion: %s requires page_id", cfg.Operation)
		}
	case "create_page":
		if cfg.DatabaseID == "" {
			return fmt.Errorf("notion: create_page requires database_id")
		}
	default:
		return fmt.Errorf("notion: unknown operation %q", cfg.Operation)
	}
	return nil
}

func (h *NotionHandler) Execute(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	cfg := job.Node.Notion

	var (
		page map[string]interface{}
		err  error
	)
	switch cfg.Operation {
	case "read_page":
		page, err = h.bundle.Notion.ReadPage(ctx, cfg.PageID)
	case "create_page":
		page, err = h.bundle.Notion.CreatePage(ctx, cfg.DatabaseID, h.properties(job))
	case "update_page":
		page, err = h.bundle.Notion.UpdatePage(ctx, cfg.PageID, h.properties(job))
	}
	if err != nil {
		return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
	}
	return domain.NewOutput(page), nil
}

// properties builds the page properties from the default input when it is a
// mapping, else from all inputs
func (h *NotionHandler) properties(job *scheduler.Job) map[string]interface{} {
	if v, ok := defaultInput(job); ok {
		if m, isMap := v.(map[string]interface{}); isMap {
			return m
		}
	}
	return job.Inputs
}
