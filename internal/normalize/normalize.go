// Package normalize implements the Message Model's normalizer (§4.1):
// it accepts one of three heterogeneous incoming message shapes and
// returns canonical models.Message values.
package normalize

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// block is one entry of the legacy content-blocks shape: {type, text,
// id, name, input, tool_use_id, content, thinking}.
type block struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   string          `json:"content"`
	Thinking  string          `json:"thinking"`
}

// functionCall is the modern tool_calls shape's "function" sub-object.
// Arguments may arrive as either a JSON string or a raw JSON object;
// either way it is re-encoded to a string before storage.
type functionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolCallEntry struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

// incoming is the union of every inbound shape §4.1 must accept:
//   - {role, content: string}
//   - {role, content: [block, ...]}
//   - {role, content?: string, tool_calls: [toolCallEntry, ...]}
//   - {role, content: string, tool_call_id, name} (already-canonical tool message)
type incoming struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCalls  []toolCallEntry `json:"tool_calls"`
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
}

// Normalize converts one inbound message (as raw JSON) into one or more
// canonical models.Message values. A list-of-blocks content carrying
// tool_result blocks expands into one role=tool message per block, so
// the return value is a slice even though every other shape yields
// exactly one message.
func Normalize(raw json.RawMessage) ([]models.Message, error) {
	var in incoming
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, models.NewRuntimeError(models.MalformedMessage, "could not parse message: "+err.Error(), err)
	}
	return normalizeParsed(in)
}

func normalizeParsed(in incoming) ([]models.Message, error) {
	role := models.Role(in.Role)

	// Modern tool_calls shape takes priority when present.
	if len(in.ToolCalls) > 0 {
		calls := make([]models.ToolCall, 0, len(in.ToolCalls))
		for _, tc := range in.ToolCalls {
			calls = append(calls, models.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: normalizeArguments(tc.Function.Arguments),
			})
		}
		content := extractStringContent(in.Content)
		msg := models.NewAssistantMessage(content, calls)
		return []models.Message{msg}, nil
	}

	// Already-canonical tool message shape.
	if role == models.RoleTool || in.ToolCallID != "" {
		content := extractStringContent(in.Content)
		return []models.Message{models.NewToolMessage(content, in.ToolCallID, in.Name)}, nil
	}

	blocks, isBlockList := tryParseBlockList(in.Content)
	if isBlockList {
		return normalizeBlockList(role, blocks)
	}

	// Simple {role, content: string} shape.
	content := extractStringContent(in.Content)
	return []models.Message{buildSimpleMessage(role, content)}, nil
}

func buildSimpleMessage(role models.Role, content string) models.Message {
	switch role {
	case models.RoleSystem:
		return models.NewSystemMessage(content)
	case models.RoleUser:
		return models.NewUserMessage(content)
	case models.RoleAssistant:
		if content == "" {
			return models.Message{Role: models.RoleAssistant}
		}
		return models.NewAssistantMessage(content, nil)
	default:
		return models.NewUserMessage(content)
	}
}

// normalizeArguments JSON-encodes non-string arguments; a string
// argument is assumed to already be a JSON-encoded object and is passed
// through unchanged.
func normalizeArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return json.RawMessage(asString)
	}
	return raw
}

// extractStringContent pulls a plain string out of a content field that
// may be a JSON string, absent, or null.
func extractStringContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// tryParseBlockList reports whether content is a JSON array, returning
// its parsed blocks.
func tryParseBlockList(raw json.RawMessage) ([]block, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var blocks []block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

// normalizeBlockList implements the legacy content-blocks shape: text
// blocks concatenate; tool_use blocks become ToolCall entries; a
// content list of tool_result blocks expands into one role=tool message
// per block; thinking blocks are stripped from content (their
// reasoning text belongs on an LlmResponse, not a stored Message).
func normalizeBlockList(role models.Role, blocks []block) ([]models.Message, error) {
	var texts []string
	var calls []models.ToolCall
	var toolResults []block

	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "tool_use":
			args := b.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			calls = append(calls, models.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		case "tool_result":
			toolResults = append(toolResults, b)
		case "thinking":
			// stripped from content; reasoning lives on LlmResponse, not Message
		}
	}

	if len(toolResults) > 0 {
		out := make([]models.Message, 0, len(toolResults))
		for _, tr := range toolResults {
			out = append(out, models.NewToolMessage(tr.Content, tr.ToolUseID, tr.Name))
		}
		return out, nil
	}

	content := strings.Join(texts, "\n")

	if role == models.RoleAssistant {
		if content == "" && len(calls) == 0 {
			return nil, models.NewRuntimeError(models.MalformedMessage, "assistant message has neither content nor tool_calls", nil)
		}
		return []models.Message{models.NewAssistantMessage(content, calls)}, nil
	}

	if content == "" {
		// No extractable text and no tool_use/tool_result: content = null.
		return []models.Message{{Role: role}}, nil
	}
	return []models.Message{buildSimpleMessage(role, content)}, nil
}
