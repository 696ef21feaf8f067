package composition

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// color marks a subtask's DFS visitation state for cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully processed
)

// validateDependencies checks that every subtask id and every
// prerequisite id it names exists within the batch, and that the
// dependency relation is acyclic, per §4.9's "Validation" rule (3-color
// DFS: a gray→gray edge is a cycle).
func validateDependencies(subtasks []models.SubtaskSpec) error {
	byID := make(map[string]models.SubtaskSpec, len(subtasks))
	for _, t := range subtasks {
		byID[t.ID] = t
	}
	for _, t := range subtasks {
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return models.NewRuntimeError(models.InvalidInput, fmt.Sprintf("subtask %s depends on unknown id %s", t.ID, dep), nil)
			}
		}
	}

	colors := make(map[string]color, len(subtasks))
	var visit func(id string) error
	visit = func(id string) error {
		switch colors[id] {
		case gray:
			return models.NewRuntimeError(models.CyclicDependency, fmt.Sprintf("dependency cycle detected at %s", id), nil)
		case black:
			return nil
		}
		colors[id] = gray
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		colors[id] = black
		return nil
	}
	for _, t := range subtasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// subtaskOutcome pairs a subtask with its rendered result text.
type subtaskOutcome struct {
	spec models.SubtaskSpec
	text string
}

// runSequentialDelegate implements §4.9's dependency-ordered multi-task
// execution: validate the dependency graph up front (no tasks run on
// failure), then repeatedly run the "ready set" — unfinished tasks
// whose prerequisites are all complete — up to MaxParallelTasks at a
// time, until every task is completed.
func (s *Scheduler) runSequentialDelegate(ctx context.Context, parentID string, plan Plan, depth int) (string, error) {
	subtasks := plan.Subtasks
	if len(subtasks) == 0 {
		return "Error: No subtasks provided", nil
	}
	if err := validateDependencies(subtasks); err != nil {
		if code, ok := models.CodeOf(err); ok && code == models.CyclicDependency {
			return formatCycleErrorString(err), nil
		}
		return "", err
	}

	byID := make(map[string]models.SubtaskSpec, len(subtasks))
	order := make([]string, 0, len(subtasks))
	for _, t := range subtasks {
		byID[t.ID] = t
		order = append(order, t.ID)
	}

	completed := make(map[string]bool, len(subtasks))
	outcomes := make(map[string]subtaskOutcome, len(subtasks))

	s.recordFanout(ctx, "sequential_delegate", len(subtasks))

	for len(completed) < len(subtasks) {
		ready := readySet(order, byID, completed)
		if len(ready) == 0 {
			// Only reachable if validateDependencies was bypassed.
			return formatCycleErrorString(models.NewRuntimeError(models.CyclicDependency, "no ready task but batch incomplete", nil)), nil
		}

		batchResults := make([]subtaskOutcome, len(ready))
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(s.Config.MaxParallelTasks)

		for i, id := range ready {
			i, id := i, id
			spec := byID[id]
			if err := s.reserveSpawn(depth + 1); err != nil {
				return "", err
			}
			g.Go(func() error {
				text := s.runSubtask(gCtx, parentID, spec, order, outcomes, depth+1)
				batchResults[i] = subtaskOutcome{spec: spec, text: text}
				return nil
			})
		}
		_ = g.Wait() // each runSubtask call already converts failure into "Task failed: ..." text

		for _, outcome := range batchResults {
			completed[outcome.spec.ID] = true
			outcomes[outcome.spec.ID] = outcome
		}
	}

	return formatCompositionResult(order, outcomes, s.Config.SubtaskBodyBudget), nil
}

// readySet returns, in batch order, every unfinished id whose
// prerequisites are all in completed.
func readySet(order []string, byID map[string]models.SubtaskSpec, completed map[string]bool) []string {
	var ready []string
	for _, id := range order {
		if completed[id] {
			continue
		}
		allDepsDone := true
		for _, dep := range byID[id].DependsOn {
			if !completed[dep] {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, id)
		}
	}
	return ready
}

// runSubtask spawns one agent for a dependency-ordered sub-task, on a
// node linked to the parent, with the previous_results context
// rendered from the in-order prior outcomes. A spawn failure becomes
// "Task failed: <reason>" rather than aborting the batch.
func (s *Scheduler) runSubtask(ctx context.Context, parentID string, spec models.SubtaskSpec, order []string, outcomes map[string]subtaskOutcome, depth int) string {
	child, err := s.Graph.CreateNode([]string{parentID}, map[string]any{"scope": "subtask", "subtask_id": spec.ID})
	if err != nil {
		return fmt.Sprintf("Task failed: %v", err)
	}

	prompt := renderSubtaskPrompt(spec, order, outcomes, s.Config.PreviousResultBudget)
	out, err := s.Spawn(ctx, child.ID, prompt, spec.ToolFilter, 0)
	if err != nil {
		return fmt.Sprintf("Task failed: %v", err)
	}
	return out
}

// renderSubtaskPrompt builds a sub-task's own description plus a
// previous_results section rendering every already-completed prior
// outcome, each truncated to budget chars.
func renderSubtaskPrompt(spec models.SubtaskSpec, order []string, outcomes map[string]subtaskOutcome, budget int) string {
	var b strings.Builder
	b.WriteString(spec.Description)

	var rendered []string
	for _, id := range order {
		outcome, ok := outcomes[id]
		if !ok {
			continue
		}
		text := outcome.text
		if len(text) > budget {
			text = text[:budget] + "... [truncated]"
		}
		rendered = append(rendered, fmt.Sprintf("- %s: %s", outcome.spec.Description, text))
	}
	if len(rendered) > 0 {
		b.WriteString("\n\nprevious_results:\n")
		b.WriteString(strings.Join(rendered, "\n"))
	}
	return b.String()
}

// formatCycleErrorString renders a cyclic-dependency validation failure as
// the diagnostic string the caller returns as a successful result (§7 tier
// 3: fatal-to-task errors surface as a string, not a propagated Go error),
// matching original_source/tools/multi_task.py:114-115's plain
// "Error: Circular dependency detected in tasks" return.
func formatCycleErrorString(err error) string {
	return fmt.Sprintf("Error: Circular dependency detected in tasks: %v", err)
}

// formatCompositionResult renders §4.9's result format: one heading,
// status, and body per sub-task, body truncated to budget chars.
func formatCompositionResult(order []string, outcomes map[string]subtaskOutcome, budget int) string {
	var b strings.Builder
	for i, id := range order {
		outcome := outcomes[id]
		status := "ok"
		if strings.HasPrefix(outcome.text, "Task failed:") {
			status = "failed"
		}
		body := outcome.text
		if len(body) > budget {
			body = body[:budget] + "... [truncated]"
		}
		fmt.Fprintf(&b, "## Subtask %d: %s\nStatus: %s\n%s\n\n", i+1, outcome.spec.Description, status, body)
	}
	return strings.TrimRight(b.String(), "\n")
}
