package agent

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus-runtime/internal/compress"
	"github.com/haasonsaas/nexus-runtime/internal/memory"
	"github.com/haasonsaas/nexus-runtime/internal/toolresult"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	results []VerificationResult
	calls   int
}

func (v *stubVerifier) Verify(ctx context.Context, task, result string, iteration int, previous []VerificationResult) (VerificationResult, error) {
	r := v.results[v.calls]
	v.calls++
	return r, nil
}

func newVerifiedTestLoop(t *testing.T, provider LLMProvider, maxOuter int) (*VerifiedLoop, string) {
	t.Helper()
	registry := NewToolRegistry()
	executor := NewToolExecutor(registry, DefaultToolExecConfig())
	results := toolresult.New()
	compressor := compress.New(compress.DefaultConfig(), nil)

	graph := memory.NewGraph(nil)
	root := graph.CreateRoot(map[string]any{"scope": "root"})
	root.AddMessage(models.NewUserMessage("do the task"))

	inner := NewLoop(graph, compressor, provider, registry, executor, results, "test-model", LoopConfig{MaxIterations: 5})
	return inner, root.ID
}

func TestVerifiedLoop_PassesOnFirstAttempt(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LlmResponse{
		{Content: "42", StopReason: models.StopReasonStop},
	}}
	inner, rootID := newVerifiedTestLoop(t, provider, 3)
	verifier := &stubVerifier{results: []VerificationResult{{Complete: true, Reason: "correct"}}}
	v := NewVerifiedLoop(inner, verifier, VerifiedLoopConfig{MaxIterations: 3})

	out, err := v.Run(context.Background(), rootID, "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "42", out)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 1, verifier.calls)
}

func TestVerifiedLoop_RetriesThenPasses(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LlmResponse{
		{Content: "incomplete answer", StopReason: models.StopReasonStop},
		{Content: "complete answer with details", StopReason: models.StopReasonStop},
	}}
	inner, rootID := newVerifiedTestLoop(t, provider, 3)
	verifier := &stubVerifier{results: []VerificationResult{
		{Complete: false, Reason: "missing details"},
		{Complete: true, Reason: "now complete"},
	}}
	v := NewVerifiedLoop(inner, verifier, VerifiedLoopConfig{MaxIterations: 3})

	out, err := v.Run(context.Background(), rootID, "explain x")
	require.NoError(t, err)
	assert.Equal(t, "complete answer with details", out)
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, 2, verifier.calls)
}

func TestVerifiedLoop_InjectsFeedbackAsUserMessage(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LlmResponse{
		{Content: "bad", StopReason: models.StopReasonStop},
		{Content: "good", StopReason: models.StopReasonStop},
	}}
	inner, rootID := newVerifiedTestLoop(t, provider, 3)
	verifier := &stubVerifier{results: []VerificationResult{
		{Complete: false, Reason: "missing X"},
		{Complete: true, Reason: "ok"},
	}}
	v := NewVerifiedLoop(inner, verifier, VerifiedLoopConfig{MaxIterations: 3})

	_, err := v.Run(context.Background(), rootID, "do y")
	require.NoError(t, err)

	node := inner.Graph.Get(rootID)
	var sawFeedback bool
	for _, m := range node.Messages {
		if m.Role == models.RoleUser && m.Text() == "missing X" {
			sawFeedback = true
		}
	}
	assert.True(t, sawFeedback, "verifier feedback must be appended as a user message")
}

func TestVerifiedLoop_LastIterationSkipsVerification(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LlmResponse{
		{Content: "first", StopReason: models.StopReasonStop},
		{Content: "second", StopReason: models.StopReasonStop},
		{Content: "third", StopReason: models.StopReasonStop},
	}}
	inner, rootID := newVerifiedTestLoop(t, provider, 3)
	verifier := &stubVerifier{results: []VerificationResult{
		{Complete: false, Reason: "nope"},
		{Complete: false, Reason: "still nope"},
		{Complete: false, Reason: "unreachable"},
	}}
	v := NewVerifiedLoop(inner, verifier, VerifiedLoopConfig{MaxIterations: 3})

	out, err := v.Run(context.Background(), rootID, "do something")
	require.NoError(t, err)
	assert.Equal(t, "third", out)
	assert.Equal(t, 3, provider.calls)
	assert.Equal(t, 2, verifier.calls, "third iteration must skip verification")
}

func TestParseVerificationResponse(t *testing.T) {
	r := parseVerificationResponse("COMPLETE: The answer correctly solves the task.")
	assert.True(t, r.Complete)
	assert.Equal(t, "The answer correctly solves the task.", r.Reason)

	r2 := parseVerificationResponse("INCOMPLETE: missing a step")
	assert.False(t, r2.Complete)
	assert.Equal(t, "missing a step", r2.Reason)
}

func TestRenderPreviousContext(t *testing.T) {
	assert.Equal(t, "", renderPreviousContext(nil))

	rendered := renderPreviousContext([]VerificationResult{
		{Complete: false, Reason: "Missing details"},
		{Complete: true, Reason: "Now complete"},
	})
	assert.Contains(t, rendered, "Attempt 1: incomplete — Missing details")
	assert.Contains(t, rendered, "Attempt 2: complete — Now complete")
}
