package compress

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/nexus-runtime/internal/observability"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIsolatedMetrics builds an observability.Metrics backed by its own
// registry so this test never touches Prometheus's global default registry.
func newIsolatedMetrics() *observability.Metrics {
	m := &observability.Metrics{
		LLMRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "compress_test_llm_request_duration_seconds", Help: "h", Buckets: []float64{0.1, 1, 10}},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "compress_test_llm_requests_total", Help: "h"},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "compress_test_llm_tokens_total", Help: "h"},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "compress_test_llm_cost_usd_total", Help: "h"},
			[]string{"provider", "model"},
		),
		ToolExecutionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "compress_test_tool_executions_total", Help: "h"},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "compress_test_tool_execution_duration_seconds", Help: "h", Buckets: []float64{0.01, 0.1, 1}},
			[]string{"tool_name"},
		),
		CompositionFanoutWidth: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "compress_test_composition_fanout_width", Help: "h", Buckets: []float64{1, 2, 4, 8}},
			[]string{"pattern"},
		),
		CompressionSavings: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "compress_test_compression_tokens_saved_total", Help: "h"},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "compress_test_errors_total", Help: "h"},
			[]string{"component", "error_type"},
		),
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		m.LLMRequestDuration, m.LLMRequestCounter, m.LLMTokensUsed, m.LLMCostUSD,
		m.ToolExecutionCounter, m.ToolExecutionDuration, m.CompositionFanoutWidth,
		m.CompressionSavings, m.ErrorCounter,
	)
	return m
}

type stubSummarizer struct{ summary string }

func (s stubSummarizer) Summarize(ctx context.Context, messages []models.Message, targetTokens int) (string, error) {
	return s.summary, nil
}

func longMessages(n int, filler string) []models.Message {
	msgs := make([]models.Message, n)
	for i := range msgs {
		msgs[i] = models.NewUserMessage(filler)
	}
	return msgs
}

func TestCompressor_BelowThresholdIsNoop(t *testing.T) {
	c := New(DefaultConfig(), stubSummarizer{summary: "s"})
	msgs := []models.Message{models.NewUserMessage("hi")}
	out, err := c.Apply(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, msgs, out)
	assert.False(t, c.Stats().LastCompressed)
}

func TestCompressor_ExactThresholdDoesNotTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompressionThreshold = 10
	cfg.ShortTermCount = 0
	c := New(cfg, stubSummarizer{summary: "s"})

	filler := strings.Repeat("a", 35) // ~10 tokens at 3.5 chars/token
	out, err := c.Apply(context.Background(), []models.Message{models.NewUserMessage(filler)})
	require.NoError(t, err)
	assert.False(t, c.Stats().LastCompressed)
	assert.Len(t, out, 1)
}

func TestCompressor_OverThresholdCompressesPrefix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompressionThreshold = 50
	cfg.ShortTermCount = 2
	c := New(cfg, stubSummarizer{summary: "condensed history"})

	filler := strings.Repeat("word ", 100)
	msgs := longMessages(10, filler)
	out, err := c.Apply(context.Background(), msgs)
	require.NoError(t, err)

	require.True(t, c.Stats().LastCompressed)
	require.True(t, out[0].IsSummary)
	assert.Contains(t, out[0].Text(), "condensed history")
	assert.Len(t, out, 1+cfg.ShortTermCount)
}

func TestCompressor_ProtectsToolCallPairFromSplitting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompressionThreshold = 10
	cfg.ShortTermCount = 1
	cfg.ProtectedTools = map[string]bool{"critical_tool": true}
	c := New(cfg, stubSummarizer{summary: "s"})

	filler := strings.Repeat("word ", 50)
	msgs := []models.Message{
		models.NewUserMessage(filler),
		models.NewAssistantMessage("", []models.ToolCall{{ID: "tc-1", Name: "critical_tool"}}),
		models.NewToolMessage("result", "tc-1", "critical_tool"),
		models.NewUserMessage(filler), // short-term tail
	}
	out, err := c.Apply(context.Background(), msgs)
	require.NoError(t, err)

	require.True(t, c.Stats().LastCompressed)
	var sawAssistant, sawTool bool
	for _, m := range out {
		if m.Role == models.RoleAssistant && len(m.ToolCalls) > 0 && m.ToolCalls[0].ID == "tc-1" {
			sawAssistant = true
		}
		if m.Role == models.RoleTool && m.ToolCallID == "tc-1" {
			sawTool = true
		}
	}
	assert.True(t, sawAssistant, "protected assistant tool-call message must survive compression")
	assert.True(t, sawTool, "protected tool-result message must survive compression")
}

func TestCompressor_DisabledNeverCompresses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enable = false
	cfg.CompressionThreshold = 1
	c := New(cfg, stubSummarizer{summary: "s"})

	out, err := c.Apply(context.Background(), longMessages(20, strings.Repeat("x", 1000)))
	require.NoError(t, err)
	assert.False(t, c.Stats().LastCompressed)
	assert.Len(t, out, 20)
}

func TestCompressor_RecordsSavingsOnlyWhenCompressed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompressionThreshold = 50
	cfg.ShortTermCount = 2
	c := New(cfg, stubSummarizer{summary: "condensed history"})
	c.Metrics = newIsolatedMetrics()

	_, err := c.Apply(context.Background(), []models.Message{models.NewUserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Metrics.CompressionSavings), "below-threshold call must not record savings")

	filler := strings.Repeat("word ", 100)
	_, err = c.Apply(context.Background(), longMessages(10, filler))
	require.NoError(t, err)
	assert.True(t, c.Stats().LastCompressed)
	assert.Greater(t, testutil.ToFloat64(c.Metrics.CompressionSavings), 0.0, "an over-threshold compression must record its token savings")
}
