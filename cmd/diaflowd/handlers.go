package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/diaflow/diaflow/common/bootstrap"
	"github.com/diaflow/diaflow/compiler"
	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/store"
)

// ExecutionHandler handles diagram and execution requests
type ExecutionHandler struct {
	components *bootstrap.Components
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(components *bootstrap.Components) *ExecutionHandler {
	return &ExecutionHandler{components: components}
}

// startRequest is the body for POST /api/v1/executions
type startRequest struct {
	Diagram *domain.DomainDiagram  `json:"diagram"`
	Options *executionOptions      `json:"options,omitempty"`
}

type executionOptions struct {
	Debug            bool                   `json:"debug,omitempty"`
	TimeoutSeconds   int                    `json:"timeout_seconds,omitempty"`
	MaxParallelNodes int                    `json:"max_parallel_nodes,omitempty"`
	Variables        map[string]interface{} `json:"variables,omitempty"`
}

// CompileDiagram validates a diagram without running it
// POST /api/v1/diagrams/compile
func (h *ExecutionHandler) CompileDiagram(c echo.Context) error {
	var diagram domain.DomainDiagram
	if err := c.Bind(&diagram); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}

	compiled, issues, err := h.components.Engine.Compile(&diagram)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"valid":  false,
			"issues": issueList(issues, err),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"valid":  true,
		"issues": issueList(issues, nil),
		"nodes":  len(compiled.Nodes),
		"edges":  len(compiled.Edges),
		"levels": len(compiled.Levels),
	})
}

// StartExecution compiles and launches an execution
// POST /api/v1/executions
func (h *ExecutionHandler) StartExecution(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	if req.Diagram == nil {
		return c.JSON(http.StatusBadRequest, errorBody(errors.New("diagram is required")))
	}

	var opts *scheduler.Options
	if req.Options != nil {
		cfg := h.components.Config.Engine
		opts = &scheduler.Options{
			DebugMode:        req.Options.Debug || cfg.DebugMode,
			MaxIterations:    cfg.MaxIterations,
			TimeoutSeconds:   req.Options.TimeoutSeconds,
			MaxParallelNodes: req.Options.MaxParallelNodes,
			PollInterval:     cfg.PollInterval,
			MaxPollRetries:   cfg.MaxPollRetries,
			Variables:        req.Options.Variables,
		}
		if opts.TimeoutSeconds == 0 {
			opts.TimeoutSeconds = cfg.TimeoutSeconds
		}
		if opts.MaxParallelNodes == 0 {
			opts.MaxParallelNodes = cfg.MaxParallelNodes
		}
	}

	// Executions outlive the request; they run on the server's context
	executionID, err := h.components.Engine.Start(c.Request().Context(), req.Diagram, opts)
	if err != nil {
		var issues compiler.Issues
		if errors.As(err, &issues) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"issues": issueList(issues, nil),
			})
		}
		if domain.KindOf(err) == domain.ErrValidation {
			return c.JSON(http.StatusUnprocessableEntity, errorBody(err))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"execution_id": executionID,
	})
}

// GetExecution returns the latest state snapshot
// GET /api/v1/executions/:id
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	executionID := domain.ExecutionID(c.Param("id"))

	state, err := h.components.Engine.State(c.Request().Context(), executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody(err))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"state":   state,
		"running": h.components.Engine.IsRunning(executionID),
	})
}

// GetEvents returns the execution's event log
// GET /api/v1/executions/:id/events?after=0
func (h *ExecutionHandler) GetEvents(c echo.Context) error {
	executionID := domain.ExecutionID(c.Param("id"))

	var afterSeq int64
	if after := c.QueryParam("after"); after != "" {
		parsed, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(fmt.Errorf("invalid after parameter: %w", err)))
		}
		afterSeq = parsed
	}

	events, err := h.components.Engine.Events(c.Request().Context(), executionID, afterSeq)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody(err))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}

// StreamEvents streams execution events as server-sent events until the
// terminal event or client disconnect
// GET /api/v1/executions/:id/stream
func (h *ExecutionHandler) StreamEvents(c echo.Context) error {
	executionID := domain.ExecutionID(c.Param("id"))

	sub := h.components.Engine.Subscribe(executionID)
	defer sub.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Type, raw)
			resp.Flush()
			if ev.IsTerminal() {
				return nil
			}
		}
	}
}

// SendControl routes a control message to the execution
// POST /api/v1/executions/:id/control
func (h *ExecutionHandler) SendControl(c echo.Context) error {
	executionID := domain.ExecutionID(c.Param("id"))

	var msg domain.ControlMessage
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	msg.ExecutionID = executionID

	if msg.Kind == "" {
		return c.JSON(http.StatusBadRequest, errorBody(errors.New("kind is required")))
	}

	if !h.components.Engine.Control(msg) {
		return c.JSON(http.StatusNotFound, errorBody(fmt.Errorf("no running execution %s", executionID)))
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"accepted": true,
	})
}

func errorBody(err error) map[string]interface{} {
	return map[string]interface{}{"error": err.Error()}
}

func issueList(issues compiler.Issues, err error) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(issues))
	for _, issue := range issues {
		out = append(out, map[string]interface{}{
			"severity": issue.Severity,
			"message":  issue.Message,
		})
	}
	if err != nil && len(out) == 0 {
		out = append(out, map[string]interface{}{
			"severity": "error",
			"message":  err.Error(),
		})
	}
	return out
}
