package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/haasonsaas/nexus-runtime/internal/agent"
	"github.com/haasonsaas/nexus-runtime/internal/agent/toolconv"
	"github.com/haasonsaas/nexus-runtime/internal/backoff"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryPolicy  backoff.BackoffPolicy
}

func (c AnthropicConfig) sanitized() AnthropicConfig {
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-sonnet-4-20250514"
	}
	if c.RetryPolicy == (backoff.BackoffPolicy{}) {
		c.RetryPolicy = backoff.DefaultPolicy()
	}
	return c
}

// AnthropicProvider implements agent.LLMProvider against the Anthropic
// Messages API, using a single non-streaming call per §4.2's `call(...)`
// contract.
type AnthropicProvider struct {
	BaseProvider
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicProvider constructs a provider from cfg.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	cfg = cfg.sanitized()
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", cfg.MaxRetries, cfg.RetryPolicy),
		client:       anthropic.NewClient(opts...),
		cfg:          cfg,
	}
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) SupportsTools() bool { return true }

// Call performs one request/response round trip.
func (p *AnthropicProvider) Call(ctx context.Context, req agent.CompletionRequest) (*models.LlmResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, models.NewRuntimeError(models.InvalidInput, "failed to build anthropic request", err)
	}

	var message *anthropic.Message
	err = p.Retry(ctx, func() error {
		msg, callErr := p.client.Messages.New(ctx, params)
		if callErr != nil {
			return classifyAnthropicError(callErr)
		}
		message = msg
		return nil
	})
	if err != nil {
		return nil, err
	}

	return anthropicToLlmResponse(message), nil
}

func (p *AnthropicProvider) buildParams(req agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages, system, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// toAnthropicMessages converts canonical messages into Anthropic's wire
// format, merging the leading system message into a separate field (the
// provider requires that, per §4.2 step 1) and expanding each role=tool
// message into its own tool_result content block.
func toAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, string, error) {
	var system string
	var result []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Text()
		case models.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())))
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != nil && *msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(*msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						return nil, "", fmt.Errorf("tool_call %s has invalid arguments: %w", tc.ID, err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Text(), false),
			))
		}
	}
	return result, system, nil
}

func anthropicToLlmResponse(message *anthropic.Message) *models.LlmResponse {
	resp := &models.LlmResponse{
		StopReason: normalizeAnthropicStopReason(message.StopReason),
		Usage: models.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
			CacheRead:    int(message.Usage.CacheReadInputTokens),
			CacheWrite:   int(message.Usage.CacheCreationInputTokens),
		},
	}

	var text string
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += variant.Text
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		case anthropic.ThinkingBlock:
			resp.Reasoning += variant.Thinking
		}
	}
	resp.Content = text
	if len(resp.ToolCalls) > 0 && resp.StopReason == models.StopReasonStop {
		resp.StopReason = models.StopReasonToolUse
	}
	return resp
}

func normalizeAnthropicStopReason(reason anthropic.StopReason) models.StopReason {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return models.StopReasonStop
	case anthropic.StopReasonToolUse:
		return models.StopReasonToolUse
	case anthropic.StopReasonMaxTokens:
		return models.StopReasonLength
	default:
		return models.StopReasonOther
	}
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return WrapProviderError("anthropic", ClassifyStatus(apiErr.StatusCode), err)
	}
	return WrapProviderError("anthropic", ClassifyError(err), err)
}
