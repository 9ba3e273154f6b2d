package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/diaflow/diaflow/domain"
)

// Message is one turn of a conversation
type Message struct {
	Role    string `json:"role"` // system|user|assistant
	Content string `json:"content"`
}

// CompletionRequest asks the model for the next assistant turn
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	Temperature *float64
}

// Completion is the model's reply plus its token accounting
type Completion struct {
	Content    string
	TokenUsage domain.TokenUsage
}

// LLM produces chat completions
type LLM interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// OpenAIOpts configures the OpenAI-compatible client
type OpenAIOpts struct {
	APIKey       string
	BaseURL      string // override for OpenAI-compatible endpoints
	DefaultModel string
	Logger       Logger
}

// OpenAIClient is the production LLM backed by the OpenAI chat API
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	logger       Logger
}

// NewOpenAIClient creates the LLM service
func NewOpenAIClient(opts *OpenAIOpts) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.DefaultModel
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: model,
		logger:       opts.Logger,
	}, nil
}

// Complete sends the conversation and returns the assistant turn
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("llm: empty completion response")
	}

	usage := domain.TokenUsage{
		Input:  resp.Usage.PromptTokens,
		Output: resp.Usage.CompletionTokens,
	}
	if resp.Usage.PromptTokensDetails != nil {
		usage.Cached = resp.Usage.PromptTokensDetails.CachedTokens
	}

	c.logger.Debug("completion received",
		"model", model,
		"input_tokens", usage.Input,
		"output_tokens", usage.Output)

	return &Completion{
		Content:    resp.Choices[0].Message.Content,
		TokenUsage: usage,
	}, nil
}

// ScriptedLLM replays canned responses in order, wrapping around when
// exhausted. Used by tests and dry runs.
type ScriptedLLM struct {
	mu        sync.Mutex
	responses []string
	calls     []*CompletionRequest
	next      int
}

// NewScriptedLLM creates a scripted LLM with the given replies
func NewScriptedLLM(responses ...string) *ScriptedLLM {
	return &ScriptedLLM{responses: responses}
}

// Complete returns the next scripted reply
func (s *ScriptedLLM) Complete(_ context.Context, req *CompletionRequest) (*Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)
	if len(s.responses) == 0 {
		return &Completion{Content: ""}, nil
	}
	reply := s.responses[s.next%len(s.responses)]
	s.next++
	return &Completion{
		Content:    reply,
		TokenUsage: domain.TokenUsage{Input: 1, Output: 1},
	}, nil
}

// Calls returns the requests seen so far
func (s *ScriptedLLM) Calls() []*CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*CompletionRequest, len(s.calls))
	copy(out, s.calls)
	return out
}
