package composition

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/nexus-runtime/internal/memory"
	"github.com/haasonsaas/nexus-runtime/internal/observability"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIsolatedMetrics builds an observability.Metrics backed by its own
// registry so these tests never touch Prometheus's global default registry.
func newIsolatedMetrics() *observability.Metrics {
	m := &observability.Metrics{
		LLMRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "sched_test_llm_request_duration_seconds", Help: "h", Buckets: []float64{0.1, 1, 10}},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sched_test_llm_requests_total", Help: "h"},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sched_test_llm_tokens_total", Help: "h"},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sched_test_llm_cost_usd_total", Help: "h"},
			[]string{"provider", "model"},
		),
		ToolExecutionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sched_test_tool_executions_total", Help: "h"},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "sched_test_tool_execution_duration_seconds", Help: "h", Buckets: []float64{0.01, 0.1, 1}},
			[]string{"tool_name"},
		),
		CompositionFanoutWidth: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "sched_test_composition_fanout_width", Help: "h", Buckets: []float64{1, 2, 4, 8}},
			[]string{"pattern"},
		),
		CompressionSavings: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "sched_test_compression_tokens_saved_total", Help: "h"},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sched_test_errors_total", Help: "h"},
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

type stubGraphSummarizer struct{}

func (stubGraphSummarizer) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	return "summary", nil
}

type stubClassifier struct {
	plan Plan
	err  error
}

func (c stubClassifier) Classify(ctx context.Context, task string) (Plan, error) {
	return c.plan, c.err
}

func newTestGraph() (*memory.Graph, string) {
	g := memory.NewGraph(stubGraphSummarizer{})
	root := g.CreateRoot(map[string]any{"scope": "root"})
	root.AddMessage(models.NewUserMessage("do the task"))
	return g, root.ID
}

func recordingSpawn(calls *[]string) SpawnFunc {
	var mu sync.Mutex
	return func(ctx context.Context, nodeID, task string, toolFilter []string, maxIterations int) (string, error) {
		mu.Lock()
		*calls = append(*calls, task)
		mu.Unlock()
		return "ran: " + task, nil
	}
}

func TestScheduler_DisabledRunsDirect(t *testing.T) {
	g, rootID := newTestGraph()
	var calls []string
	s := NewScheduler(g, stubClassifier{plan: Plan{Pattern: models.CompositionSequentialDelegate}}, recordingSpawn(&calls), Config{Enabled: false, MaxDepth: 3, MaxAgents: 10})

	out, err := s.Run(context.Background(), rootID, "do it", 0)
	require.NoError(t, err)
	assert.Equal(t, "ran: do it", out)
	assert.Equal(t, 1, s.AgentCount())
}

func TestScheduler_NoneRunsDirect(t *testing.T) {
	g, rootID := newTestGraph()
	var calls []string
	s := NewScheduler(g, stubClassifier{plan: Plan{Pattern: models.CompositionNone}}, recordingSpawn(&calls), DefaultConfig())

	out, err := s.Run(context.Background(), rootID, "simple task", 0)
	require.NoError(t, err)
	assert.Equal(t, "ran: simple task", out)
}

func TestScheduler_MaxDepthExceeded(t *testing.T) {
	g, rootID := newTestGraph()
	var calls []string
	cfg := DefaultConfig()
	cfg.MaxDepth = 0
	s := NewScheduler(g, nil, recordingSpawn(&calls), cfg)

	_, err := s.Run(context.Background(), rootID, "task", 1)
	require.Error(t, err)
	var rerr *models.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, models.MaxDepthExceeded, rerr.Code)
}

func TestScheduler_MaxAgentsExceeded(t *testing.T) {
	g, rootID := newTestGraph()
	var calls []string
	cfg := DefaultConfig()
	cfg.MaxAgents = 1
	s := NewScheduler(g, nil, recordingSpawn(&calls), cfg)

	_, err := s.Run(context.Background(), rootID, "first", 0)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), rootID, "second", 0)
	require.Error(t, err)
	var rerr *models.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, models.MaxAgentsExceeded, rerr.Code)
}

func TestScheduler_ParallelExploreMergesAndSynthesizes(t *testing.T) {
	g, rootID := newTestGraph()
	var calls []string
	plan := Plan{
		Pattern: models.CompositionParallelExplore,
		Aspects: []ExplorationAspect{
			{Name: "file_structure", Description: "explore files"},
			{Name: "api_docs", Description: "explore docs"},
		},
	}
	s := NewScheduler(g, stubClassifier{plan: plan}, recordingSpawn(&calls), DefaultConfig())

	out, err := s.Run(context.Background(), rootID, "research x", 0)
	require.NoError(t, err)
	assert.Contains(t, out, "ran: Synthesize a final answer")
	require.Len(t, calls, 3) // 2 exploration spawns + 1 synthesis spawn

	node := g.Get(rootID)
	var sawMerge bool
	for _, m := range node.Messages {
		if m.Role == models.RoleUser && strings.Contains(m.Text(), "[Merged Context]") {
			sawMerge = true
		}
	}
	assert.True(t, sawMerge, "merged exploration summary must be appended to the parent node")
}

func TestScheduler_ExplorationChildFailureDoesNotAbortSiblings(t *testing.T) {
	g, rootID := newTestGraph()
	spawn := func(ctx context.Context, nodeID, task string, toolFilter []string, maxIterations int) (string, error) {
		if strings.Contains(task, "Aspect: a1") {
			return "", models.NewRuntimeError(models.ToolFailure, "boom", nil)
		}
		return "ok result", nil
	}
	plan := Plan{
		Pattern: models.CompositionParallelExplore,
		Aspects: []ExplorationAspect{
			{Name: "a1", Description: "first"},
			{Name: "a2", Description: "second"},
		},
	}
	s := NewScheduler(g, stubClassifier{plan: plan}, spawn, DefaultConfig())

	_, err := s.Run(context.Background(), rootID, "research", 0)
	require.NoError(t, err)
}

func TestScheduler_PlanExecuteRunsExplorationThenDirect(t *testing.T) {
	g, rootID := newTestGraph()
	var calls []string
	plan := Plan{
		Pattern: models.CompositionPlanExecute,
		Aspects: []ExplorationAspect{{Name: "setup", Description: "find setup"}},
	}
	s := NewScheduler(g, stubClassifier{plan: plan}, recordingSpawn(&calls), DefaultConfig())

	out, err := s.Run(context.Background(), rootID, "main task", 0)
	require.NoError(t, err)
	assert.Equal(t, "ran: main task", out)
	require.Len(t, calls, 2)
}

func TestScheduler_PlanExecuteBoundsExplorationToStepIterations(t *testing.T) {
	g, rootID := newTestGraph()
	var seenMaxIterations []int
	var mu sync.Mutex
	spawn := func(ctx context.Context, nodeID, task string, toolFilter []string, maxIterations int) (string, error) {
		mu.Lock()
		seenMaxIterations = append(seenMaxIterations, maxIterations)
		mu.Unlock()
		return "ok", nil
	}
	plan := Plan{
		Pattern: models.CompositionPlanExecute,
		Aspects: []ExplorationAspect{{Name: "setup", Description: "find setup"}},
	}
	cfg := DefaultConfig()
	cfg.PlanExecute.MaxStepIterations = 5
	s := NewScheduler(g, stubClassifier{plan: plan}, spawn, cfg)

	_, err := s.Run(context.Background(), rootID, "main task", 0)
	require.NoError(t, err)
	require.Len(t, seenMaxIterations, 2)
	assert.Equal(t, 5, seenMaxIterations[0], "exploration child must carry the plan-execute step budget")
	assert.Equal(t, 0, seenMaxIterations[1], "the main direct run keeps the outer default (no override)")
}

func TestScheduler_RecordsFanoutMetricPerPattern(t *testing.T) {
	g, rootID := newTestGraph()
	var calls []string
	plan := Plan{
		Pattern: models.CompositionParallelExplore,
		Aspects: []ExplorationAspect{
			{Name: "a1", Description: "first"},
			{Name: "a2", Description: "second"},
			{Name: "a3", Description: "third"},
		},
	}
	s := NewScheduler(g, stubClassifier{plan: plan}, recordingSpawn(&calls), DefaultConfig())
	s.Metrics = newIsolatedMetrics()

	_, err := s.Run(context.Background(), rootID, "research x", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, testutil.CollectAndCount(s.Metrics.CompositionFanoutWidth), "one pattern label observed")
}

func TestScheduler_RecordsFanoutTraceSpan(t *testing.T) {
	g, rootID := newTestGraph()
	var calls []string
	plan := Plan{
		Pattern:  models.CompositionSequentialDelegate,
		Subtasks: []models.SubtaskSpec{{ID: "t1", Description: "first"}, {ID: "t2", Description: "second"}},
	}
	s := NewScheduler(g, stubClassifier{plan: plan}, recordingSpawn(&calls), DefaultConfig())
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "scheduler-test"})
	defer func() { _ = shutdown(context.Background()) }()
	s.Tracer = tracer

	out, err := s.Run(context.Background(), rootID, "batch task", 0)
	require.NoError(t, err)
	assert.Contains(t, out, "Subtask 1")
}
