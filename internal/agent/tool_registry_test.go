package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name   string
	schema string
	invoke func(ctx context.Context, args json.RawMessage) (string, error)
}

func (s *stubTool) Name() string                 { return s.name }
func (s *stubTool) Description() string          { return "stub tool " + s.name }
func (s *stubTool) InputSchema() json.RawMessage { return json.RawMessage(s.schema) }
func (s *stubTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return s.invoke(ctx, args)
}

func calculatorTool() *stubTool {
	return &stubTool{
		name:   "calculator",
		schema: `{"type":"object","properties":{"expression":{"type":"string"}},"required":["expression"]}`,
		invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Expression string `json:"expression"`
			}
			_ = json.Unmarshal(args, &in)
			if in.Expression == "2+2" {
				return "4", nil
			}
			return "0", nil
		},
	}
}

func TestToolRegistry_UnknownTool(t *testing.T) {
	r := NewToolRegistry()
	got := r.Execute(context.Background(), "nonexistent", nil)
	assert.Equal(t, "Tool 'nonexistent' not found", got)
}

func TestToolRegistry_ValidationFailure(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(calculatorTool()))

	got := r.Execute(context.Background(), "calculator", json.RawMessage(`{}`))
	assert.Contains(t, got, "Error:")
}

func TestToolRegistry_SuccessfulInvoke(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(calculatorTool()))

	got := r.Execute(context.Background(), "calculator", json.RawMessage(`{"expression":"2+2"}`))
	assert.Equal(t, "4", got)
}

func TestToolRegistry_ToolFailureBecomesErrorString(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(&stubTool{
		name:   "flaky",
		schema: `{"type":"object"}`,
		invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", assert.AnError
		},
	}))

	got := r.Execute(context.Background(), "flaky", json.RawMessage(`{}`))
	assert.Contains(t, got, "Error:")
}

func TestToolRegistry_SchemasFilter(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(calculatorTool()))
	require.NoError(t, r.Register(&stubTool{name: "glob", schema: `{"type":"object"}`, invoke: noopInvoke}))

	all := r.Schemas()
	assert.Len(t, all, 2)

	only := r.Schemas("calculator")
	require.Len(t, only, 1)
	assert.Equal(t, "calculator", only[0].Name())
}

func noopInvoke(ctx context.Context, args json.RawMessage) (string, error) { return "", nil }
