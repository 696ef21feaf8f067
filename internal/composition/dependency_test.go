package composition

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/nexus-runtime/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDependencies_UnknownIDFails(t *testing.T) {
	err := validateDependencies([]models.SubtaskSpec{
		{ID: "0", Description: "a", DependsOn: []string{"9"}},
	})
	require.Error(t, err)
	var rerr *models.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, models.InvalidInput, rerr.Code)
}

func TestValidateDependencies_CycleDetected(t *testing.T) {
	err := validateDependencies([]models.SubtaskSpec{
		{ID: "0", Description: "a", DependsOn: []string{"1"}},
		{ID: "1", Description: "b", DependsOn: []string{"0"}},
	})
	require.Error(t, err)
	var rerr *models.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, models.CyclicDependency, rerr.Code)
}

func TestValidateDependencies_AcyclicPasses(t *testing.T) {
	err := validateDependencies([]models.SubtaskSpec{
		{ID: "0", Description: "a"},
		{ID: "1", Description: "b", DependsOn: []string{"0"}},
		{ID: "2", Description: "c", DependsOn: []string{"0", "1"}},
	})
	require.NoError(t, err)
}

func TestScheduler_SequentialDelegate_RunsInDependencyOrder(t *testing.T) {
	g, rootID := newTestGraph()

	var orderMu []string
	spawn := func(ctx context.Context, nodeID, task string, toolFilter []string, maxIterations int) (string, error) {
		orderMu = append(orderMu, task)
		return "done: " + task, nil
	}

	plan := Plan{
		Pattern: models.CompositionSequentialDelegate,
		Subtasks: []models.SubtaskSpec{
			{ID: "0", Description: "setup"},
			{ID: "1", Description: "build", DependsOn: []string{"0"}},
			{ID: "2", Description: "test", DependsOn: []string{"1"}},
		},
	}
	s := NewScheduler(g, stubClassifier{plan: plan}, spawn, DefaultConfig())

	out, err := s.Run(context.Background(), rootID, "ship it", 0)
	require.NoError(t, err)
	assert.Contains(t, out, "Subtask 1: setup")
	assert.Contains(t, out, "Subtask 2: build")
	assert.Contains(t, out, "Subtask 3: test")

	require.Len(t, orderMu, 3)
	assert.Equal(t, "setup", orderMu[0])
	assert.True(t, strings.Contains(orderMu[1], "build"))
}

func TestScheduler_SequentialDelegate_FailedTaskStillCompletes(t *testing.T) {
	g, rootID := newTestGraph()

	spawn := func(ctx context.Context, nodeID, task string, toolFilter []string, maxIterations int) (string, error) {
		if task == "setup" {
			return "", models.NewRuntimeError(models.ToolFailure, "disk full", nil)
		}
		return "done: " + task, nil
	}

	plan := Plan{
		Pattern: models.CompositionSequentialDelegate,
		Subtasks: []models.SubtaskSpec{
			{ID: "0", Description: "setup"},
			{ID: "1", Description: "build", DependsOn: []string{"0"}},
		},
	}
	s := NewScheduler(g, stubClassifier{plan: plan}, spawn, DefaultConfig())

	out, err := s.Run(context.Background(), rootID, "ship it", 0)
	require.NoError(t, err)
	assert.Contains(t, out, "Status: failed")
	assert.Contains(t, out, "Task failed:")
}

func TestScheduler_SequentialDelegate_PreviousResultsRenderedInContext(t *testing.T) {
	g, rootID := newTestGraph()

	var secondPrompt string
	spawn := func(ctx context.Context, nodeID, task string, toolFilter []string, maxIterations int) (string, error) {
		if task == "build, uses setup" || strings.Contains(task, "previous_results") {
			secondPrompt = task
		}
		return "output for " + task, nil
	}

	plan := Plan{
		Pattern: models.CompositionSequentialDelegate,
		Subtasks: []models.SubtaskSpec{
			{ID: "0", Description: "setup"},
			{ID: "1", Description: "build", DependsOn: []string{"0"}},
		},
	}
	s := NewScheduler(g, stubClassifier{plan: plan}, spawn, DefaultConfig())

	_, err := s.Run(context.Background(), rootID, "ship it", 0)
	require.NoError(t, err)
	assert.Contains(t, secondPrompt, "previous_results:")
	assert.Contains(t, secondPrompt, "setup")
}

func TestScheduler_SequentialDelegate_CyclicPlanFailsBeforeRunningAnyTask(t *testing.T) {
	g, rootID := newTestGraph()
	var calls int
	spawn := func(ctx context.Context, nodeID, task string, toolFilter []string, maxIterations int) (string, error) {
		calls++
		return "ok", nil
	}

	plan := Plan{
		Pattern: models.CompositionSequentialDelegate,
		Subtasks: []models.SubtaskSpec{
			{ID: "0", Description: "a", DependsOn: []string{"1"}},
			{ID: "1", Description: "b", DependsOn: []string{"0"}},
		},
	}
	s := NewScheduler(g, stubClassifier{plan: plan}, spawn, DefaultConfig())

	out, err := s.Run(context.Background(), rootID, "ship it", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Error: Circular dependency detected"))
	assert.Equal(t, 0, calls)
}

func TestScheduler_SequentialDelegate_EmptySubtaskListReturnsErrorString(t *testing.T) {
	g, rootID := newTestGraph()
	var calls int
	spawn := func(ctx context.Context, nodeID, task string, toolFilter []string, maxIterations int) (string, error) {
		calls++
		return "ok", nil
	}

	plan := Plan{
		Pattern:  models.CompositionSequentialDelegate,
		Subtasks: nil,
	}
	s := NewScheduler(g, stubClassifier{plan: plan}, spawn, DefaultConfig())

	out, err := s.Run(context.Background(), rootID, "ship it", 0)
	require.NoError(t, err)
	assert.Equal(t, "Error: No subtasks provided", out)
	assert.Equal(t, 0, calls)
}
