package normalize

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus-runtime/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_SimpleShape(t *testing.T) {
	msgs, err := Normalize(json.RawMessage(`{"role":"user","content":"hello"}`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Text())
}

func TestNormalize_LegacyBlockList_TextConcatenates(t *testing.T) {
	raw := json.RawMessage(`{"role":"assistant","content":[{"type":"text","text":"first"},{"type":"text","text":"second"}]}`)
	msgs, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first\nsecond", msgs[0].Text())
}

func TestNormalize_LegacyBlockList_ToolUseBecomesToolCall(t *testing.T) {
	raw := json.RawMessage(`{"role":"assistant","content":[{"type":"tool_use","id":"tc-1","name":"search","input":{"query":"go"}}]}`)
	msgs, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "tc-1", msgs[0].ToolCalls[0].ID)
	assert.Equal(t, "search", msgs[0].ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"go"}`, string(msgs[0].ToolCalls[0].Arguments))
}

func TestNormalize_LegacyBlockList_ToolResultExpandsPerBlock(t *testing.T) {
	raw := json.RawMessage(`{"role":"user","content":[
		{"type":"tool_result","tool_use_id":"tc-1","content":"result one"},
		{"type":"tool_result","tool_use_id":"tc-2","content":"result two"}
	]}`)
	msgs, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleTool, msgs[0].Role)
	assert.Equal(t, "tc-1", msgs[0].ToolCallID)
	assert.Equal(t, "result one", msgs[0].Text())
	assert.Equal(t, "tc-2", msgs[1].ToolCallID)
	assert.Equal(t, "result two", msgs[1].Text())
}

func TestNormalize_LegacyBlockList_ThinkingStrippedFromContent(t *testing.T) {
	raw := json.RawMessage(`{"role":"assistant","content":[{"type":"thinking","thinking":"internal reasoning"},{"type":"text","text":"final answer"}]}`)
	msgs, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "final answer", msgs[0].Text())
}

func TestNormalize_ModernToolCallsShape(t *testing.T) {
	raw := json.RawMessage(`{"role":"assistant","content":null,"tool_calls":[
		{"id":"tc-9","type":"function","function":{"name":"echo","arguments":"{\"value\":\"hi\"}"}}
	]}`)
	msgs, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "tc-9", msgs[0].ToolCalls[0].ID)
	assert.JSONEq(t, `{"value":"hi"}`, string(msgs[0].ToolCalls[0].Arguments))
}

func TestNormalize_ModernToolCallsShape_NonStringArgumentsAreEncoded(t *testing.T) {
	raw := json.RawMessage(`{"role":"assistant","tool_calls":[
		{"id":"tc-9","type":"function","function":{"name":"echo","arguments":{"value":"hi"}}}
	]}`)
	msgs, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"value":"hi"}`, string(msgs[0].ToolCalls[0].Arguments))
}

func TestNormalize_BlockListWithNoExtractableContent_YieldsNilContent(t *testing.T) {
	raw := json.RawMessage(`{"role":"user","content":[{"type":"unknown_type"}]}`)
	msgs, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Content)
}

func TestNormalize_AssistantWithNeitherContentNorToolCalls_Fails(t *testing.T) {
	raw := json.RawMessage(`{"role":"assistant","content":[{"type":"unknown_type"}]}`)
	_, err := Normalize(raw)
	require.Error(t, err)
	var rerr *models.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, models.MalformedMessage, rerr.Code)
}

func TestNormalize_CanonicalToolMessageShape(t *testing.T) {
	raw := json.RawMessage(`{"role":"tool","content":"the result","tool_call_id":"tc-1","name":"search"}`)
	msgs, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleTool, msgs[0].Role)
	assert.Equal(t, "tc-1", msgs[0].ToolCallID)
	assert.Equal(t, "search", msgs[0].Name)
}
