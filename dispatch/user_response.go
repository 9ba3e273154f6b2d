package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// defaultPromptTimeout bounds how long a user_response node waits when the
// node does not set its own timeout
const defaultPromptTimeout = 5 * time.Minute

// UserResponseHandler parks the node on an interactive prompt and resumes
// when the matching interactive_response control message arrives
type UserResponseHandler struct{}

func NewUserResponseHandler() *UserResponseHandler { return &UserResponseHandler{} }

func (h *UserResponseHandler) Type() domain.NodeType { return domain.NodeTypeUserResponse }

func (h *UserResponseHandler) RequiredServices() []services.ServiceName { return nil }

func (h *UserResponseHandler) Validate(node *domain.Node) error {
	if node.UserResponse == nil || node.UserResponse.Prompt == "" {
		return fmt.Errorf("user_response: prompt is required")
	}
	return nil
}

func (h *UserResponseHandler) Execute(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	cfg := job.Node.UserResponse
	prompt := renderPlaceholders(cfg.Prompt, job.Variables, job.Inputs)

	timeout := defaultPromptTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	resp, err := job.Prompter.Ask(ctx, job.Node.ID, prompt, timeout)
	if err != nil {
		return nil, err
	}

	// A lone "answer" key unwraps to the bare value
	if len(resp) == 1 {
		if answer, ok := resp["answer"]; ok {
			return domain.NewOutput(answer), nil
		}
	}
	return domain.NewOutput(resp), nil
}
