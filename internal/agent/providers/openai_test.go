package providers

import (
	"testing"

	"github.com/haasonsaas/nexus-runtime/pkg/models"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToOpenAIMessages_RoundTripsToolCallAndResult(t *testing.T) {
	messages := []models.Message{
		models.NewSystemMessage("be terse"),
		models.NewUserMessage("what's 2+2"),
		models.NewAssistantMessage("", []models.ToolCall{{ID: "tc-1", Name: "calc", Arguments: []byte(`{"x":1}`)}}),
		models.NewToolMessage("4", "tc-1", "calc"),
	}

	converted, err := toOpenAIMessages(messages)
	require.NoError(t, err)
	require.Len(t, converted, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, converted[0].Role)
	assert.Equal(t, openai.ChatMessageRoleTool, converted[3].Role)
	assert.Equal(t, "tc-1", converted[3].ToolCallID)
}

func TestOpenaiToLlmResponse_MarksToolUseStopReason(t *testing.T) {
	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{
				FinishReason: openai.FinishReasonToolCalls,
				Message: openai.ChatCompletionMessage{
					ToolCalls: []openai.ToolCall{
						{ID: "tc-1", Function: openai.FunctionCall{Name: "calc", Arguments: `{"x":1}`}},
					},
				},
			},
		},
	}
	out, err := openaiToLlmResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, models.StopReasonToolUse, out.StopReason)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "calc", out.ToolCalls[0].Name)
}

func TestOpenaiToLlmResponse_NoChoicesIsPermanentError(t *testing.T) {
	_, err := openaiToLlmResponse(openai.ChatCompletionResponse{})
	require.Error(t, err)
	code, ok := models.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, models.LlmPermanent, code)
}

func TestNormalizeOpenAIFinishReason(t *testing.T) {
	assert.Equal(t, models.StopReasonStop, normalizeOpenAIFinishReason(openai.FinishReasonStop))
	assert.Equal(t, models.StopReasonLength, normalizeOpenAIFinishReason(openai.FinishReasonLength))
	assert.Equal(t, models.StopReasonContentFilter, normalizeOpenAIFinishReason(openai.FinishReasonContentFilter))
}
