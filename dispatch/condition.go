package dispatch

import (
	"context"
	"fmt"

	"github.com/diaflow/diaflow/condition"
	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// ConditionHandler evaluates a condition node to a boolean and routes the
// incoming payload down the taken branch
type ConditionHandler struct {
	evaluator *condition.Evaluator
}

func NewConditionHandler() *ConditionHandler {
	return &ConditionHandler{evaluator: condition.NewEvaluator()}
}

func (h *ConditionHandler) Type() domain.NodeType { return domain.NodeTypeCondition }

func (h *ConditionHandler) RequiredServices() []services.ServiceName { return nil }

func (h *ConditionHandler) Validate(node *domain.Node) error {
	cfg := node.Condition
	if cfg == nil {
		return fmt.Errorf("condition: config is required")
	}
	switch cfg.Kind {
	case domain.ConditionKindExpression:
		if cfg.Expression == "" {
			return fmt.Errorf("condition: expression kind requires an expression")
		}
	case domain.ConditionKindMaxIterations, domain.ConditionKindNonEmpty:
	default:
		return fmt.Errorf("condition: unknown kind %q", cfg.Kind)
	}
	return nil
}

func (h *ConditionHandler) Execute(_ context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	cfg := job.Node.Condition

	var value bool
	switch cfg.Kind {
	case domain.ConditionKindExpression:
		v, err := h.evaluator.Evaluate(cfg.Expression, job.Inputs, job.Variables)
		if err != nil {
			return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
		}
		value = v
	case domain.ConditionKindMaxIterations:
		value = h.allPersonJobsExhausted(job)
	case domain.ConditionKindNonEmpty:
		v, _ := defaultInput(job)
		value = !isEmptyValue(v)
	}

	// Both branches carry the incoming payload; only the taken one delivers
	payload, _ := defaultInput(job)
	return domain.NewConditionOutput(value, payload, payload), nil
}

// allPersonJobsExhausted reports whether every upstream person_job has spent
// its iteration budget. Falls back to scanning all person_jobs when the
// condition has no person_job ancestors among its direct sources.
func (h *ConditionHandler) allPersonJobsExhausted(job *scheduler.Job) bool {
	candidates := make([]*domain.Node, 0, 2)
	for _, edge := range job.Diagram.Incoming(job.Node.ID) {
		src, ok := job.Diagram.Node(edge.SourceNodeID)
		if ok && src.Type == domain.NodeTypePersonJob && src.PersonJob != nil {
			candidates = append(candidates, src)
		}
	}
	if len(candidates) == 0 {
		for _, node := range job.Diagram.Nodes {
			if node.Type == domain.NodeTypePersonJob && node.PersonJob != nil {
				candidates = append(candidates, node)
			}
		}
	}
	if len(candidates) == 0 {
		return false
	}

	for _, node := range candidates {
		if job.State.NodeStatus(node.ID) == domain.NodeMaxIterReached {
			continue
		}
		if job.State.ExecCount(node.ID) < node.PersonJob.MaxIteration {
			return false
		}
	}
	return true
}
