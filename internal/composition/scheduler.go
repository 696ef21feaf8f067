// Package composition implements the Composition Scheduler (§4.9): the
// decision of whether a task runs directly, through parallel
// exploration, or through a dependency-ordered batch of sub-tasks, plus
// the bounded fan-out machinery (parallel exploration, dependency
// scheduling) that backs those patterns.
package composition

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus-runtime/internal/memory"
	"github.com/haasonsaas/nexus-runtime/internal/observability"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ExplorationAspect is one facet of parallel, read-only context
// gathering (§4.9 "parallel exploration").
type ExplorationAspect struct {
	Name        string
	Description string
}

// Plan is the scheduler's classification of one task (§4.9 "Decision").
type Plan struct {
	Pattern   models.CompositionPattern
	Aspects   []ExplorationAspect
	Subtasks  []models.SubtaskSpec
	Reasoning string
}

// Classifier consults the LLM to pick a CompositionPattern for a task.
// A nil Classifier is equivalent to always returning CompositionNone.
type Classifier interface {
	Classify(ctx context.Context, task string) (Plan, error)
}

// SpawnFunc runs one agent (the Agent Loop wrapped by the Verification
// Loop) against nodeID for task, restricted to toolFilter (nil means the
// full tool set). maxIterations overrides the Agent Loop's own
// iteration budget for this one spawn when > 0 (0 means "use the
// Runtime Coordinator's configured default"); the plan-execute pattern
// uses this to bound its exploration step independent of the outer
// agent loop's max_iterations. It is supplied by the Runtime
// Coordinator, which owns provider/registry construction; the scheduler
// only decides when and how many agents to spawn.
type SpawnFunc func(ctx context.Context, nodeID, task string, toolFilter []string, maxIterations int) (string, error)

// ExplorationToolFilter is the default read-only tool set parallel
// exploration sub-agents are restricted to (§4.9).
var ExplorationToolFilter = []string{"glob_files", "grep_content", "read_file", "web_search", "web_fetch", "code_navigator"}

// PlanExecuteConfig bounds the plan-execute pattern's own exploration
// step, grounded on original_source/agent/plan_execute_agent.py's
// per-step mini tool-use loop (§12 SUPPLEMENTED FEATURES).
type PlanExecuteConfig struct {
	MaxStepIterations int
}

// Config bounds the scheduler (§4.9).
type Config struct {
	Enabled               bool
	MaxDepth              int
	MaxAgents             int
	ExplorationK          int
	MaxParallelTasks      int
	SubtaskBodyBudget     int
	PreviousResultBudget  int
	ExplorationToolFilter []string
	PlanExecute           PlanExecuteConfig
}

// DefaultConfig returns sensible defaults matching §4.9's stated
// defaults (K=3-4, MAX_PARALLEL=4, 2000/500 char truncation budgets).
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		MaxDepth:              3,
		MaxAgents:             20,
		ExplorationK:          4,
		MaxParallelTasks:      4,
		SubtaskBodyBudget:     2000,
		PreviousResultBudget:  500,
		ExplorationToolFilter: ExplorationToolFilter,
		PlanExecute:           PlanExecuteConfig{MaxStepIterations: 5},
	}
}

func (c Config) sanitize() Config {
	if c.ExplorationK <= 0 {
		c.ExplorationK = 4
	}
	if c.MaxParallelTasks <= 0 {
		c.MaxParallelTasks = 4
	}
	if c.SubtaskBodyBudget <= 0 {
		c.SubtaskBodyBudget = 2000
	}
	if c.PreviousResultBudget <= 0 {
		c.PreviousResultBudget = 500
	}
	if c.PlanExecute.MaxStepIterations <= 0 {
		c.PlanExecute.MaxStepIterations = 5
	}
	if c.ExplorationToolFilter == nil {
		c.ExplorationToolFilter = ExplorationToolFilter
	}
	return c
}

// Scheduler owns the agent-count budget for one task's lifetime and
// dispatches composition patterns over a shared memory Graph.
type Scheduler struct {
	Graph      *memory.Graph
	Classifier Classifier
	Spawn      SpawnFunc
	Config     Config

	// Metrics records each fan-out's width by pattern (§10 AMBIENT STACK).
	// Left nil, the zero value, disables recording.
	Metrics *observability.Metrics

	// Tracer emits one span per composition fan-out (§10 AMBIENT STACK).
	// Left nil, the zero value, disables tracing.
	Tracer *observability.Tracer

	mu         sync.Mutex
	agentCount int
}

// NewScheduler constructs a Scheduler. classifier may be nil, in which
// case every task runs directly (CompositionNone).
func NewScheduler(graph *memory.Graph, classifier Classifier, spawn SpawnFunc, config Config) *Scheduler {
	return &Scheduler{Graph: graph, Classifier: classifier, Spawn: spawn, Config: config.sanitize()}
}

// recordFanout emits both the fan-out metric and its tracing span for
// one completed composition fan-out, nil-safe on either collaborator.
func (s *Scheduler) recordFanout(ctx context.Context, pattern string, width int) {
	if s.Metrics != nil {
		s.Metrics.RecordCompositionFanout(pattern, width)
	}
	if s.Tracer != nil {
		_, span := s.Tracer.TraceCompositionFanout(ctx, pattern, width)
		span.End()
	}
}

// AgentCount reports how many agents this scheduler has spawned so far.
func (s *Scheduler) AgentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentCount
}

// reserveSpawn enforces §4.9's bounds on every individual agent spawn,
// at any depth: the root run, each exploration child, and each
// dependency-ordered sub-task.
func (s *Scheduler) reserveSpawn(depth int) error {
	if depth > s.Config.MaxDepth {
		return models.NewRuntimeError(models.MaxDepthExceeded, fmt.Sprintf("composition depth %d exceeds max_depth %d", depth, s.Config.MaxDepth), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Config.MaxAgents > 0 && s.agentCount >= s.Config.MaxAgents {
		return models.NewRuntimeError(models.MaxAgentsExceeded, fmt.Sprintf("spawning would exceed max_agents %d", s.Config.MaxAgents), nil)
	}
	s.agentCount++
	return nil
}

// Run assesses task and executes it under whichever composition pattern
// the classifier picks (or directly, if composition is disabled or no
// classifier is configured), per §4.9/§4.10 step 3.
func (s *Scheduler) Run(ctx context.Context, nodeID, task string, depth int) (string, error) {
	if !s.Config.Enabled || s.Classifier == nil {
		return s.runDirect(ctx, nodeID, task, depth)
	}

	plan, err := s.Classifier.Classify(ctx, task)
	if err != nil {
		return "", err
	}

	switch plan.Pattern {
	case models.CompositionPlanExecute:
		return s.runPlanExecute(ctx, nodeID, task, plan, depth)
	case models.CompositionParallelExplore:
		return s.runParallelExplore(ctx, nodeID, task, plan, depth)
	case models.CompositionSequentialDelegate:
		return s.runSequentialDelegate(ctx, nodeID, plan, depth)
	default:
		return s.runDirect(ctx, nodeID, task, depth)
	}
}

func (s *Scheduler) runDirect(ctx context.Context, nodeID, task string, depth int) (string, error) {
	if err := s.reserveSpawn(depth); err != nil {
		return "", err
	}
	return s.Spawn(ctx, nodeID, task, nil, 0)
}

// runPlanExecute runs K exploration sub-agents to seed context, each
// bounded to PlanExecute.MaxStepIterations independent of the outer
// agent loop's max_iterations, merges their findings into the parent
// node, then runs the main Agent Loop with the full tool set.
func (s *Scheduler) runPlanExecute(ctx context.Context, nodeID, task string, plan Plan, depth int) (string, error) {
	if _, _, _, err := s.runExploration(ctx, nodeID, plan.Aspects, depth+1, s.Config.PlanExecute.MaxStepIterations); err != nil {
		return "", err
	}
	s.recordFanout(ctx, "plan_execute", min(len(plan.Aspects), s.Config.ExplorationK))
	return s.runDirect(ctx, nodeID, task, depth)
}

// runParallelExplore runs K exploration sub-agents, merges their
// summaries, and synthesizes a final answer with one additional,
// tool-free agent call over the merged node.
func (s *Scheduler) runParallelExplore(ctx context.Context, nodeID, task string, plan Plan, depth int) (string, error) {
	_, usedAspects, results, err := s.runExploration(ctx, nodeID, plan.Aspects, depth+1, 0)
	if err != nil {
		return "", err
	}
	s.recordFanout(ctx, "parallel_explore", len(usedAspects))

	if err := s.reserveSpawn(depth); err != nil {
		return "", err
	}
	synthesisPrompt := renderSynthesisPrompt(task, usedAspects, results)
	return s.Spawn(ctx, nodeID, synthesisPrompt, []string{}, 0)
}

// runExploration spawns up to ExplorationK child agents, one per
// aspect, each on its own memory node linked to parent, restricted to
// the read-only tool filter, run concurrently via an unordered join. A
// child's failure becomes a textual "Exploration failed: <reason>"
// result rather than aborting its siblings. After the join, the
// children are merged back into the parent node. stepMaxIterations
// overrides each child's own iteration budget when > 0.
func (s *Scheduler) runExploration(ctx context.Context, parentID string, aspects []ExplorationAspect, depth, stepMaxIterations int) ([]string, []ExplorationAspect, map[string]string, error) {
	if len(aspects) > s.Config.ExplorationK {
		aspects = aspects[:s.Config.ExplorationK]
	}

	childIDs := make([]string, len(aspects))
	texts := make([]string, len(aspects))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.Config.ExplorationK)

	for i, aspect := range aspects {
		i, aspect := i, aspect
		if err := s.reserveSpawn(depth); err != nil {
			return nil, nil, nil, err
		}
		child, err := s.Graph.CreateNode([]string{parentID}, map[string]any{"scope": "exploration", "aspect": aspect.Name})
		if err != nil {
			return nil, nil, nil, err
		}
		childIDs[i] = child.ID

		g.Go(func() error {
			select {
			case <-gCtx.Done():
				texts[i] = fmt.Sprintf("Exploration failed: %v", gCtx.Err())
				return nil
			default:
			}
			prompt := renderExplorationPrompt(aspect)
			out, spawnErr := s.Spawn(gCtx, child.ID, prompt, s.Config.ExplorationToolFilter, stepMaxIterations)
			if spawnErr != nil {
				texts[i] = fmt.Sprintf("Exploration failed: %v", spawnErr)
				return nil
			}
			texts[i] = out
			return nil
		})
	}
	_ = g.Wait() // every goroutine above captures its own error in texts; never propagated

	results := make(map[string]string, len(aspects))
	for i, aspect := range aspects {
		results[aspect.Name] = texts[i]
	}

	if err := s.Graph.Merge(ctx, childIDs, parentID); err != nil {
		return nil, nil, nil, err
	}
	return childIDs, aspects, results, nil
}

func renderExplorationPrompt(aspect ExplorationAspect) string {
	return fmt.Sprintf("Explore the following aspect and report findings concisely. Do not make changes.\n\nAspect: %s\nDescription: %s", aspect.Name, aspect.Description)
}

func renderSynthesisPrompt(task string, aspects []ExplorationAspect, results map[string]string) string {
	var b strings.Builder
	b.WriteString("Synthesize a final answer to the task below from the exploration findings.\n\n")
	fmt.Fprintf(&b, "Task: %s\n\nFindings:\n", task)
	for _, aspect := range aspects {
		fmt.Fprintf(&b, "## %s\n%s\n\n", aspect.Name, results[aspect.Name])
	}
	return b.String()
}
