// Package runtime implements the Runtime Coordinator (§4.10): the
// top-level entry point that owns the Memory Graph for one task's
// lifetime, constructs the root agent, hands off to the Composition
// Scheduler when enabled, and persists the finished session.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus-runtime/internal/agent"
	"github.com/haasonsaas/nexus-runtime/internal/collab"
	"github.com/haasonsaas/nexus-runtime/internal/composition"
	"github.com/haasonsaas/nexus-runtime/internal/compress"
	"github.com/haasonsaas/nexus-runtime/internal/memory"
	"github.com/haasonsaas/nexus-runtime/internal/observability"
	"github.com/haasonsaas/nexus-runtime/internal/sessionstore"
	"github.com/haasonsaas/nexus-runtime/internal/toolresult"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// Coordinator is the Runtime Coordinator (§4.10): it owns the Memory
// Graph exclusively for one task's lifetime (§5 "Shared-resource
// policy"), wires the Agent Loop/Verification Loop/Composition
// Scheduler together, and exposes the statistics surface.
type Coordinator struct {
	Graph      *memory.Graph
	Registry   *agent.ToolRegistry
	Executor   *agent.ToolExecutor
	Results    *toolresult.Processor
	Compressor *compress.Compressor
	Provider   agent.LLMProvider
	Scheduler  *composition.Scheduler
	Session    sessionstore.Store
	LongTerm   collab.LongTermMemoryProvider
	Skills     collab.SkillsProvider
	Config     Config
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer

	// Events records a replayable timeline of run/spawn lifecycle
	// events (§10 AMBIENT STACK). Left nil, the zero value, disables
	// recording.
	Events *observability.EventRecorder

	usage *usageTracker
}

// NewCoordinator wires a Coordinator from its required collaborators.
// store may be nil (persistence disabled regardless of
// config.PersistSessions); classifier may be nil (composition always
// runs directly). longTerm/skills default to collab's no-op
// implementations when nil.
func NewCoordinator(provider agent.LLMProvider, classifier composition.Classifier, store sessionstore.Store, config Config) *Coordinator {
	config = config.sanitize()

	tracker := &usageTracker{}
	tracked := newTrackedProvider(provider, tracker)

	graph := memory.NewGraph(nil)
	registry := agent.NewToolRegistry()
	executor := agent.NewToolExecutor(registry, agent.DefaultToolExecConfig())
	results := toolresult.New()
	compressor := compress.New(&config.Compression, nil)

	c := &Coordinator{
		Graph:      graph,
		Registry:   registry,
		Executor:   executor,
		Results:    results,
		Compressor: compressor,
		Provider:   tracked,
		Session:    store,
		LongTerm:   collab.NoOpLongTermMemory{},
		Skills:     collab.NoOpSkills{},
		Config:     config,
		Logger:     observability.NewLogger(observability.LogConfig{}),
		usage:      tracker,
	}
	c.Scheduler = composition.NewScheduler(graph, classifier, c.spawn, config.Composition)
	return c
}

// SetMetrics attaches an observability.Metrics instance and propagates it
// to every already-constructed collaborator that records against it
// (§10 AMBIENT STACK). Call once at application startup, after
// NewCoordinator, with a metrics registry the caller owns — a
// Coordinator built for tests is never given one, so no test registers
// against Prometheus's default global registry.
func (c *Coordinator) SetMetrics(m *observability.Metrics) {
	c.Metrics = m
	c.Compressor.Metrics = m
	c.Scheduler.Metrics = m
}

// SetTracer attaches an observability.Tracer and propagates it to every
// already-constructed collaborator that emits spans against it (§10
// AMBIENT STACK). Call once at application startup, after
// NewCoordinator, alongside SetMetrics.
func (c *Coordinator) SetTracer(t *observability.Tracer) {
	c.Tracer = t
	c.Scheduler.Tracer = t
}

// SetEvents attaches an observability.EventRecorder backed by an
// EventStore the caller owns (§10 AMBIENT STACK). Call once at
// application startup, after NewCoordinator, alongside SetMetrics and
// SetTracer.
func (c *Coordinator) SetEvents(e *observability.EventRecorder) {
	c.Events = e
}

// spawn implements composition.SpawnFunc: it builds a fresh Agent Loop
// (wrapped by the Verification Loop) scoped to nodeID and toolFilter,
// and runs it to completion. maxIterations overrides the loop's own
// iteration budget for this one spawn when > 0 — the plan-execute
// pattern's exploration step uses this to stay within its own budget
// independent of the Coordinator's configured default (§12 SUPPLEMENTED
// FEATURES "Plan-execute step budget"). The Composition Scheduler calls
// this once per individual agent it decides to spawn — the root run,
// each exploration child, each dependency-ordered sub-task.
func (c *Coordinator) spawn(ctx context.Context, nodeID, task string, toolFilter []string, maxIterations int) (string, error) {
	if maxIterations <= 0 {
		maxIterations = c.Config.MaxIterations
	}
	loop := agent.NewLoop(c.Graph, c.Compressor, c.Provider, c.Registry, c.Executor, c.Results, c.Config.Model, agent.LoopConfig{
		MaxIterations: maxIterations,
		MaxTokens:     c.Config.MaxTokens,
	})
	loop.ToolFilter = toolFilter
	loop.Logger = c.Logger
	loop.Metrics = c.Metrics
	loop.Tracer = c.Tracer
	loop.Events = c.Events

	if c.Events != nil {
		_ = c.Events.RecordSpawnEvent(ctx, observability.EventTypeSpawnStart, nodeID, map[string]any{"task": task})
	}
	spawnStart := time.Now()

	verifier := agent.NewLLMVerifier(c.Provider, c.Config.Model)
	verified := agent.NewVerifiedLoop(loop, verifier, agent.VerifiedLoopConfig{MaxIterations: c.Config.RalphMaxIterations})
	result, err := verified.Run(ctx, nodeID, task)

	if c.Events != nil {
		_ = c.Events.RecordSpawnEvent(ctx, observability.EventTypeSpawnEnd, nodeID, map[string]any{"duration_ms": time.Since(spawnStart).Milliseconds()})
	}
	return result, err
}

// Run is the Coordinator's entry operation (§4.10): create the root
// node, construct the root agent over it with the full tool set, run
// the composition assessment (or the agent directly if composition is
// disabled), persist the finished session if enabled, and propagate
// any uncaught error to the caller after logging it.
func (c *Coordinator) Run(ctx context.Context, task string) (string, error) {
	root := c.Graph.CreateRoot(map[string]any{"scope": "root", "task": task})
	c.seedSystemMessages(root, task)

	if c.Events != nil {
		ctx = observability.AddRunID(ctx, root.ID)
		_ = c.Events.RecordRunStart(ctx, root.ID, map[string]any{"task": task})
	}
	runStart := time.Now()

	result, err := c.Scheduler.Run(ctx, root.ID, task, 0)
	if c.Events != nil {
		_ = c.Events.RecordRunEnd(ctx, time.Since(runStart), err)
	}
	if err != nil {
		c.Logger.Error(ctx, "runtime coordinator run failed", "error", err, "task", task)
		return "", err
	}

	if c.Config.PersistSessions && c.Session != nil {
		if perr := c.persist(ctx, root, task); perr != nil {
			c.Logger.Error(ctx, "session persistence failed", "error", perr, "task", task)
			return "", perr
		}
	}

	return result, nil
}

// seedSystemMessages prepends the long-term-memory and skills
// collaborators' optional system-prompt sections ahead of the root
// node's own messages (§6), and rewrites a "$<name>" user message into
// its skill invocation form before recording the task itself.
func (c *Coordinator) seedSystemMessages(root *memory.Node, task string) {
	ctx := context.Background()
	if section, ok := c.LongTerm.LoadAndFormat(ctx); ok && section != "" {
		root.AddMessage(models.NewSystemMessage(section))
	}
	if section, ok := c.Skills.RenderSection(ctx); ok && section != "" {
		root.AddMessage(models.NewSystemMessage(section))
	}
	root.AddMessage(models.NewUserMessage(c.Skills.RewriteInvocation(ctx, task)))
}

func (c *Coordinator) persist(ctx context.Context, root *memory.Node, task string) error {
	id, err := c.Session.CreateSession(ctx, map[string]any{"task": task})
	if err != nil {
		return err
	}
	var systemMessages, messages []models.Message
	for _, msg := range root.Messages {
		if msg.Role == models.RoleSystem {
			systemMessages = append(systemMessages, msg)
			continue
		}
		messages = append(messages, msg)
	}
	return c.Session.SaveMemory(ctx, id, systemMessages, messages)
}

// ComponentStats mirrors the Memory Graph's summary fields in §4.10's
// statistics surface.
type ComponentStats struct {
	NodeCount        int `json:"node_count"`
	TotalMessages    int `json:"total_messages"`
	NodesWithSummary int `json:"nodes_with_summary"`
}

// BoundsStats mirrors §4.10's `config: {max_depth, max_agents}`.
type BoundsStats struct {
	MaxDepth  int `json:"max_depth"`
	MaxAgents int `json:"max_agents"`
}

// Stats is the Coordinator's statistics surface: spec.md §4.10's
// required `{agent_count, memory_graph, config}` shape, plus the §12
// supplemented `usage` sub-object.
type Stats struct {
	AgentCount  int            `json:"agent_count"`
	MemoryGraph ComponentStats `json:"memory_graph"`
	Config      BoundsStats    `json:"config"`
	Usage       UsageStats     `json:"usage"`
}

// Stats reports the Coordinator's current statistics (§4.10, §12).
func (c *Coordinator) Stats() Stats {
	graphStats := c.Graph.Stats()
	return Stats{
		AgentCount: c.Scheduler.AgentCount(),
		MemoryGraph: ComponentStats{
			NodeCount:        graphStats.NodeCount,
			TotalMessages:    graphStats.TotalMessages,
			NodesWithSummary: graphStats.NodesWithSummary,
		},
		Config: BoundsStats{
			MaxDepth:  c.Config.Composition.MaxDepth,
			MaxAgents: c.Config.Composition.MaxAgents,
		},
		Usage: c.usage.snapshot(),
	}
}

// String renders the original's `_print_memory_stats` line format (§12)
// for CLI/log consumption.
func (s Stats) String() string {
	return fmt.Sprintf(
		"agents=%d nodes=%d messages=%d tokens=%d cost=$%.4f",
		s.AgentCount, s.MemoryGraph.NodeCount, s.MemoryGraph.TotalMessages,
		s.Usage.InputTokens+s.Usage.OutputTokens, s.Usage.TotalCost,
	)
}
