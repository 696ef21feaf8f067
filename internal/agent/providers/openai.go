package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/haasonsaas/nexus-runtime/internal/agent"
	"github.com/haasonsaas/nexus-runtime/internal/agent/toolconv"
	"github.com/haasonsaas/nexus-runtime/internal/backoff"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryPolicy  backoff.BackoffPolicy
}

func (c OpenAIConfig) sanitized() OpenAIConfig {
	if c.DefaultModel == "" {
		c.DefaultModel = openai.GPT4o
	}
	if c.RetryPolicy == (backoff.BackoffPolicy{}) {
		c.RetryPolicy = backoff.DefaultPolicy()
	}
	return c
}

// OpenAIProvider implements agent.LLMProvider against the Chat Completions
// API, exercising a second wire format for the same non-streaming
// `call(...)` contract as AnthropicProvider (§4.2, §11).
type OpenAIProvider struct {
	BaseProvider
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider constructs a provider from cfg.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	cfg = cfg.sanitized()
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		BaseProvider: NewBaseProvider("openai", cfg.MaxRetries, cfg.RetryPolicy),
		client:       openai.NewClientWithConfig(clientCfg),
		cfg:          cfg,
	}
}

func (p *OpenAIProvider) Name() string        { return "openai" }
func (p *OpenAIProvider) SupportsTools() bool { return true }

// Call performs one request/response round trip.
func (p *OpenAIProvider) Call(ctx context.Context, req agent.CompletionRequest) (*models.LlmResponse, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, models.NewRuntimeError(models.InvalidInput, "failed to build openai request", err)
	}

	var resp openai.ChatCompletionResponse
	err = p.Retry(ctx, func() error {
		r, callErr := p.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return classifyOpenAIError(callErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return openaiToLlmResponse(resp)
}

func (p *OpenAIProvider) buildRequest(req agent.CompletionRequest) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	messages, err := toOpenAIMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}
	if req.ReasoningEffort != "" && req.ReasoningEffort != agent.ReasoningNone {
		chatReq.ReasoningEffort = string(req.ReasoningEffort)
	}
	return chatReq, nil
}

// toOpenAIMessages converts canonical messages into the flat
// role/content/tool_calls shape the Chat Completions API expects,
// mapping each role=tool message onto its own "tool" role message keyed
// by tool_call_id per §4.1's reverse-direction serialization rule.
func toOpenAIMessages(messages []models.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Text()})
		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Text()})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			if msg.Content != nil {
				oaiMsg.Content = *msg.Content
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			result = append(result, oaiMsg)
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Text(),
				ToolCallID: msg.ToolCallID,
				Name:       msg.Name,
			})
		}
	}
	return result, nil
}

func openaiToLlmResponse(resp openai.ChatCompletionResponse) (*models.LlmResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, models.NewRuntimeError(models.LlmPermanent, "openai response had no choices", nil)
	}
	choice := resp.Choices[0]

	out := &models.LlmResponse{
		Content:    choice.Message.Content,
		StopReason: normalizeOpenAIFinishReason(choice.FinishReason),
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if len(out.ToolCalls) > 0 && out.StopReason == models.StopReasonStop {
		out.StopReason = models.StopReasonToolUse
	}
	return out, nil
}

func normalizeOpenAIFinishReason(reason openai.FinishReason) models.StopReason {
	switch reason {
	case openai.FinishReasonStop:
		return models.StopReasonStop
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return models.StopReasonToolUse
	case openai.FinishReasonLength:
		return models.StopReasonLength
	case openai.FinishReasonContentFilter:
		return models.StopReasonContentFilter
	default:
		return models.StopReasonOther
	}
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return WrapProviderError("openai", ClassifyStatus(apiErr.HTTPStatusCode), err)
	}
	return WrapProviderError("openai", ClassifyError(err), err)
}
