package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// APIJobHandler performs one HTTP request. URL, headers, and string body
// fields support {key} placeholders from inputs and variables.
type APIJobHandler struct {
	bundle *services.Bundle
	logger Logger
}

func NewAPIJobHandler(bundle *services.Bundle, logger Logger) *APIJobHandler {
	return &APIJobHandler{bundle: bundle, logger: logger}
}

func (h *APIJobHandler) Type() domain.NodeType { return domain.NodeTypeAPIJob }

func (h *APIJobHandler) RequiredServices() []services.ServiceName {
	return []services.ServiceName{services.ServiceHTTP}
}

func (h *APIJobHandler) Validate(node *domain.Node) error {
	cfg := node.APIJob
	if cfg == nil {
		return fmt.Errorf("api_job: config is required")
	}
	if cfg.URL == "" {
		return fmt.Errorf("api_job: url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return fmt.Errorf("api_job: invalid url: %w", err)
	}
	return nil
}

func (h *APIJobHandler) Execute(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	cfg := job.Node.APIJob

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	target := renderPlaceholders(cfg.URL, job.Variables, job.Inputs)

	var reader io.Reader
	contentType := ""
	switch body := cfg.Body.(type) {
	case nil:
		// Non-GET requests without a configured body send the inputs
		if method != http.MethodGet && len(job.Inputs) > 0 {
			raw, err := json.Marshal(job.Inputs)
			if err != nil {
				return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
			}
			reader = bytes.NewReader(raw)
			contentType = "application/json"
		}
	case string:
		reader = strings.NewReader(renderPlaceholders(body, job.Variables, job.Inputs))
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
		}
		reader = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for name, value := range cfg.Headers {
		req.Header.Set(name, renderPlaceholders(value, job.Variables, job.Inputs))
	}

	resp, err := h.bundle.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID,
			fmt.Errorf("api_job: %s %s: %w", method, target, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID,
			fmt.Errorf("api_job: %s %s: status %d: %s", method, target, resp.StatusCode, truncate(string(raw), 512)))
	}

	h.logger.Debug("api_job response",
		"node_id", job.Node.ID,
		"status", resp.StatusCode,
		"bytes", len(raw))

	return &domain.NodeOutput{
		Value: parseMaybeJSON(string(raw)),
		Metadata: map[string]interface{}{
			"status": resp.StatusCode,
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
