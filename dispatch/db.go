package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// DBHandler reads and writes flat-file documents through the file service.
// Reads parse JSON documents so downstream transforms can extract fields.
type DBHandler struct {
	bundle *services.Bundle
}

func NewDBHandler(bundle *services.Bundle) *DBHandler {
	return &DBHandler{bundle: bundle}
}

func (h *DBHandler) Type() domain.NodeType { return domain.NodeTypeDB }

func (h *DBHandler) RequiredServices() []services.ServiceName {
	return []services.ServiceName{services.ServiceFiles}
}

func (h *DBHandler) Validate(node *domain.Node) error {
	cfg := node.DB
	if cfg == nil {
		return fmt.Errorf("db: config is required")
	}
	switch cfg.Operation {
	case "read", "write", "append":
	default:
		return fmt.Errorf("db: unknown operation %q", cfg.Operation)
	}
	if cfg.FilePath == "" {
		return fmt.Errorf("db: file_path is required")
	}
	return nil
}

func (h *DBHandler) Execute(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	cfg := job.Node.DB
	path := renderPlaceholders(cfg.FilePath, job.Variables, job.Inputs)

	switch cfg.Operation {
	case "read":
		data, err := h.bundle.Files.Read(ctx, path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return domain.NewOutput(nil), nil
			}
			return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
		}
		return domain.NewOutput(parseMaybeJSON(string(data))), nil

	case "write":
		payload, _ := defaultInput(job)
		if err := h.bundle.Files.Write(ctx, path, []byte(stringifyValue(payload))); err != nil {
			return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
		}
		return domain.NewOutput(payload), nil

	case "append":
		payload, _ := defaultInput(job)
		line := append([]byte(stringifyValue(payload)), '\n')
		if err := h.bundle.Files.Append(ctx, path, line); err != nil {
			return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
		}
		return domain.NewOutput(payload), nil
	}

	return nil, domain.NewExecError(domain.ErrValidation, job.Node.ID,
		fmt.Errorf("db: unknown operation %q", cfg.Operation))
}
