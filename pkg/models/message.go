// Package models holds the canonical data types shared by every subsystem
// of the runtime: the message/tool-call model, usage accounting, and the
// session and subtask shapes used at the runtime's external boundaries.
package models

import (
	"encoding/json"
	"time"
)

// Role is a closed tag identifying the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopReason is a closed tag describing why an LLM call stopped producing
// tokens. Provider-specific values (e.g. "end_turn", "tool_use_requested",
// "max_tokens") are normalized to one of these at the adapter boundary.
type StopReason string

const (
	StopReasonStop          StopReason = "stop"
	StopReasonToolUse       StopReason = "tool_use"
	StopReasonLength        StopReason = "length"
	StopReasonContentFilter StopReason = "content_filter"
	StopReasonOther         StopReason = "other"
)

// ToolCall is an assistant-issued request to invoke a named tool capability.
// ID is unique within the producing assistant message and is the sole key
// the matching ToolResult uses to refer back to it. Arguments is always a
// JSON object in wire form; callers that build one from a Go value should
// marshal it first.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is always carried by a message with Role == RoleTool.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
}

// Message is a sum type over Role with role-dependent invariants enforced
// by the per-role constructors and by Validate. Content is a pointer so a
// present-but-empty string (a valid assistant "reasoning aloud" stub) is
// distinguishable from an absent one.
type Message struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`

	// IsSummary marks a message synthesized by the Context Compressor or
	// the Memory Graph's merge/ancestor-projection operations, rather
	// than one appended by an agent step.
	IsSummary bool `json:"is_summary,omitempty"`
}

func strPtr(s string) *string { return &s }

// NewSystemMessage builds a system(content) message. System messages never
// carry tool calls or a tool_call_id.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: strPtr(content)}
}

// NewUserMessage builds a user(content) message. User messages never carry
// tool calls or a tool_call_id.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: strPtr(content)}
}

// NewAssistantMessage builds an assistant message. At least one of content
// or toolCalls should be non-empty; violations surface via Validate rather
// than here, so normalization can build a message incrementally.
func NewAssistantMessage(content string, toolCalls []ToolCall) Message {
	m := Message{Role: RoleAssistant, ToolCalls: toolCalls}
	if content != "" {
		m.Content = strPtr(content)
	}
	return m
}

// NewToolMessage builds a tool(content, tool_call_id, name?) message.
// toolCallID must refer to a ToolCall id that appeared in a preceding
// assistant message within the same context; this constructor has no
// context to check that against, so Validate only checks local shape.
func NewToolMessage(content, toolCallID, name string) Message {
	return Message{
		Role:       RoleTool,
		Content:    strPtr(content),
		ToolCallID: toolCallID,
		Name:       name,
	}
}

// Validate enforces the role-dependent invariants from the data model,
// returning a *RuntimeError with Code == MalformedMessage on violation.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser:
		if m.Content == nil {
			return NewRuntimeError(MalformedMessage, string(m.Role)+" message has no content", nil)
		}
		if len(m.ToolCalls) > 0 || m.ToolCallID != "" {
			return NewRuntimeError(MalformedMessage, string(m.Role)+" message must not carry tool calls", nil)
		}
	case RoleAssistant:
		if m.Content == nil && len(m.ToolCalls) == 0 {
			return NewRuntimeError(MalformedMessage, "assistant message has neither content nor tool_calls", nil)
		}
		if m.ToolCallID != "" {
			return NewRuntimeError(MalformedMessage, "assistant message must not carry a tool_call_id", nil)
		}
	case RoleTool:
		if m.Content == nil {
			return NewRuntimeError(MalformedMessage, "tool message has no content", nil)
		}
		if m.ToolCallID == "" {
			return NewRuntimeError(MalformedMessage, "tool message has no tool_call_id", nil)
		}
	default:
		return NewRuntimeError(MalformedMessage, "unknown role: "+string(m.Role), nil)
	}
	return nil
}

// Text returns the message's content, or "" if absent.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Usage reports token accounting for a single LLM call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CacheRead    int `json:"cache_read,omitempty"`
	CacheWrite   int `json:"cache_write,omitempty"`
}

// LlmResponse is the LLM Adapter's normalized output: no provider-native
// objects leak past this boundary.
type LlmResponse struct {
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// AssistantMessage converts the response into the assistant Message that
// should be appended to a memory node.
func (r LlmResponse) AssistantMessage() Message {
	return NewAssistantMessage(r.Content, r.ToolCalls)
}
