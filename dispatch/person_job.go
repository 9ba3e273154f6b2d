package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// PersonJobHandler runs an LLM persona turn. The first iteration may use a
// dedicated prompt; later iterations use the default prompt. Conversation
// history accumulates in the memory service across iterations.
type PersonJobHandler struct {
	bundle *services.Bundle
	logger Logger
}

func NewPersonJobHandler(bundle *services.Bundle, logger Logger) *PersonJobHandler {
	return &PersonJobHandler{bundle: bundle, logger: logger}
}

func (h *PersonJobHandler) Type() domain.NodeType { return domain.NodeTypePersonJob }

func (h *PersonJobHandler) RequiredServices() []services.ServiceName {
	return []services.ServiceName{services.ServiceLLM, services.ServiceMemory}
}

func (h *PersonJobHandler) Validate(node *domain.Node) error {
	return validatePersonConfig(node)
}

func validatePersonConfig(node *domain.Node) error {
	cfg := node.PersonJob
	if cfg == nil {
		return fmt.Errorf("person_job: config is required")
	}
	if cfg.MaxIteration < 1 {
		return fmt.Errorf("person_job: max_iteration must be at least 1, got %d", cfg.MaxIteration)
	}
	if cfg.PersonID == "" && cfg.LLM == nil {
		return fmt.Errorf("person_job: either person_id or an inline llm config is required")
	}
	if cfg.FirstOnlyPrompt == "" && cfg.DefaultPrompt == "" {
		return fmt.Errorf("person_job: at least one of first_only_prompt or default_prompt is required")
	}
	return nil
}

func (h *PersonJobHandler) Execute(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	return runPersonTurn(ctx, h.bundle, h.logger, job, job.Inputs)
}

// runPersonTurn executes one LLM turn for a person_job-style node against
// the given inputs. Shared with the batch variant.
func runPersonTurn(ctx context.Context, bundle *services.Bundle, logger Logger, job *scheduler.Job, inputs map[string]interface{}) (*domain.NodeOutput, error) {
	cfg := job.Node.PersonJob
	iteration := job.State.ExecCount(job.Node.ID) // includes the current attempt

	llmCfg, system, err := resolvePersona(job, cfg)
	if err != nil {
		return nil, domain.NewExecError(domain.ErrValidation, job.Node.ID, err)
	}
	if llmCfg.APIKeyID != "" && bundle.Has(services.ServiceAPIKeys) {
		if _, err := bundle.APIKeys.Resolve(llmCfg.APIKeyID); err != nil {
			return nil, domain.NewExecError(domain.ErrMissingService, job.Node.ID, err)
		}
	}

	prompt := cfg.DefaultPrompt
	if iteration <= 1 && cfg.FirstOnlyPrompt != "" {
		prompt = cfg.FirstOnlyPrompt
	}
	content := buildUserTurn(prompt, inputs, job.Variables)

	personKey := cfg.PersonID
	if personKey == "" {
		personKey = string(job.Node.ID)
	}

	history := bundle.Memory.History(job.ExecutionID, personKey)
	messages := append(history, services.Message{Role: "user", Content: content})

	req := &services.CompletionRequest{
		Model:       llmCfg.Model,
		System:      system,
		Messages:    messages,
		Temperature: llmCfg.Temperature,
	}

	completion, err := bundle.LLM.Complete(ctx, req)
	if err != nil {
		return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID, err)
	}

	bundle.Memory.Append(job.ExecutionID, personKey, services.Message{Role: "user", Content: content})
	bundle.Memory.Append(job.ExecutionID, personKey, services.Message{Role: "assistant", Content: completion.Content})

	logger.Debug("person turn completed",
		"execution_id", job.ExecutionID,
		"node_id", job.Node.ID,
		"person", personKey,
		"iteration", iteration)

	usage := completion.TokenUsage
	return &domain.NodeOutput{
		Value: completion.Content,
		Metadata: map[string]interface{}{
			"person":    personKey,
			"iteration": iteration,
		},
		TokenUsage: &usage,
	}, nil
}

// resolvePersona picks the model config: a referenced person wins over the
// inline llm block
func resolvePersona(job *scheduler.Job, cfg *domain.PersonJobConfig) (*domain.LLMConfig, string, error) {
	if cfg.PersonID != "" {
		person, ok := job.Diagram.Persons[cfg.PersonID]
		if !ok {
			return nil, "", fmt.Errorf("person_job: unknown person %q", cfg.PersonID)
		}
		llm := person.LLM
		system := person.SystemPrompt
		if system == "" {
			system = llm.SystemPrompt
		}
		return &llm, system, nil
	}
	return cfg.LLM, cfg.LLM.SystemPrompt, nil
}

// buildUserTurn renders the prompt with {key} placeholders and appends any
// inputs the template did not consume
func buildUserTurn(prompt string, inputs, variables map[string]interface{}) string {
	if prompt == "" {
		if v, ok := inputs["default"]; ok {
			return stringifyValue(v)
		}
		return stringifyValue(inputs)
	}

	rendered := renderPlaceholders(prompt, variables, inputs)
	if v, ok := inputs["default"]; ok {
		rendered = strings.ReplaceAll(rendered, "{value}", stringifyValue(v))
	}

	var extra []string
	for key, v := range inputs {
		if isConversation(v) {
			continue
		}
		if strings.Contains(prompt, "{"+key+"}") {
			continue
		}
		if key == "default" && strings.Contains(prompt, "{value}") {
			continue
		}
		s := stringifyValue(v)
		if s == "" {
			continue
		}
		if key == "default" {
			extra = append(extra, s)
		} else {
			extra = append(extra, key+": "+s)
		}
	}
	if len(extra) > 0 {
		rendered = rendered + "\n\n" + strings.Join(extra, "\n")
	}
	return rendered
}

// isConversation detects conversation_state payloads handed over from
// another person_job; they are context, not prompt material
func isConversation(v interface{}) bool {
	items, ok := v.([]interface{})
	if !ok || len(items) == 0 {
		return false
	}
	first, ok := items[0].(map[string]interface{})
	if !ok {
		return false
	}
	_, hasRole := first["role"]
	_, hasContent := first["content"]
	return hasRole && hasContent
}
