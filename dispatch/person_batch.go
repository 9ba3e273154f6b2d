package dispatch

import (
	"context"
	"fmt"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// PersonBatchHandler fans a list input through the persona, one LLM turn
// per item, and collects the replies in order
type PersonBatchHandler struct {
	bundle *services.Bundle
	logger Logger
}

func NewPersonBatchHandler(bundle *services.Bundle, logger Logger) *PersonBatchHandler {
	return &PersonBatchHandler{bundle: bundle, logger: logger}
}

func (h *PersonBatchHandler) Type() domain.NodeType { return domain.NodeTypePersonBatch }

func (h *PersonBatchHandler) RequiredServices() []services.ServiceName {
	return []services.ServiceName{services.ServiceLLM, services.ServiceMemory}
}

func (h *PersonBatchHandler) Validate(node *domain.Node) error {
	return validatePersonConfig(node)
}

func (h *PersonBatchHandler) Execute(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	items, err := h.batchItems(job)
	if err != nil {
		return nil, domain.NewExecError(domain.ErrValidation, job.Node.ID, err)
	}

	results := make([]interface{}, 0, len(items))
	total := domain.TokenUsage{}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		inputs := make(map[string]interface{}, len(job.Inputs)+1)
		for k, v := range job.Inputs {
			inputs[k] = v
		}
		inputs["default"] = item
		inputs["item"] = item
		inputs["item_index"] = i

		out, err := runPersonTurn(ctx, h.bundle, h.logger, job, inputs)
		if err != nil {
			return nil, err
		}
		results = append(results, out.Value)
		total.Add(out.TokenUsage)
	}

	return &domain.NodeOutput{
		Value: results,
		Metadata: map[string]interface{}{
			"batch_size": len(items),
		},
		TokenUsage: &total,
	}, nil
}

// batchItems extracts the list to iterate: the configured batch key, else
// the default input when it is a list
func (h *PersonBatchHandler) batchItems(job *scheduler.Job) ([]interface{}, error) {
	key := job.Node.PersonJob.BatchKey
	if key == "" {
		key = "default"
	}
	raw, ok := job.Inputs[key]
	if !ok {
		if v, has := defaultInput(job); has {
			raw = v
		} else {
			return nil, fmt.Errorf("person_batch_job: no input under batch key %q", key)
		}
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("person_batch_job: batch input %q is %T, expected a list", key, raw)
	}
	return items, nil
}
