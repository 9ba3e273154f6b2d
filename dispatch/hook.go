package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// HookHandler fires a side effect: a shell command or a webhook POST. The
// incoming payload passes through unchanged so hooks can sit on any edge.
type HookHandler struct {
	bundle *services.Bundle
	logger Logger
}

func NewHookHandler(bundle *services.Bundle, logger Logger) *HookHandler {
	return &HookHandler{bundle: bundle, logger: logger}
}

func (h *HookHandler) Type() domain.NodeType { return domain.NodeTypeHook }

func (h *HookHandler) RequiredServices() []services.ServiceName { return nil }

func (h *HookHandler) Validate(node *domain.Node) error {
	cfg := node.Hook
	if cfg == nil {
		return fmt.Errorf("hook: config is required")
	}
	switch cfg.HookType {
	case "shell":
		if cfg.Command == "" {
			return fmt.Errorf("hook: shell hook requires a command")
		}
	case "webhook":
		if cfg.URL == "" {
			return fmt.Errorf("hook: webhook hook requires a url")
		}
	default:
		return fmt.Errorf("hook: unknown hook_type %q", cfg.HookType)
	}
	return nil
}

func (h *HookHandler) Execute(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	cfg := job.Node.Hook

	switch cfg.HookType {
	case "shell":
		if err := h.runShell(ctx, job); err != nil {
			return nil, err
		}
	case "webhook":
		if err := h.postWebhook(ctx, job); err != nil {
			return nil, err
		}
	}

	payload, _ := defaultInput(job)
	return domain.NewOutput(payload), nil
}

func (h *HookHandler) runShell(ctx context.Context, job *scheduler.Job) error {
	command := renderPlaceholders(job.Node.Hook.Command, job.Variables, job.Inputs)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID,
			fmt.Errorf("hook: shell command: %w: %s", err, strings.TrimSpace(stderr.String())))
	}
	h.logger.Debug("shell hook fired", "node_id", job.Node.ID)
	return nil
}

func (h *HookHandler) postWebhook(ctx context.Context, job *scheduler.Job) error {
	client := h.bundle.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	target := renderPlaceholders(job.Node.Hook.URL, job.Variables, job.Inputs)
	body := map[string]interface{}{
		"execution_id": job.ExecutionID,
		"node_id":      job.Node.ID,
		"inputs":       job.Inputs,
	}
	for k, v := range job.Node.Hook.Config {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID,
			fmt.Errorf("hook: webhook %s: %w", target, err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID,
			fmt.Errorf("hook: webhook %s: status %d", target, resp.StatusCode))
	}
	h.logger.Debug("webhook hook fired", "node_id", job.Node.ID, "status", resp.StatusCode)
	return nil
}
