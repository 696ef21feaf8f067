package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-runtime/internal/agent"
	"github.com/haasonsaas/nexus-runtime/internal/composition"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// compositionAssessmentPrompt is the LLM Classifier's assessment prompt,
// adapted from original_source/agent/prompts/composition_prompts.py's
// COMPOSITION_ASSESSMENT_PROMPT: decide whether a task runs directly or
// is decomposed, and if decomposed, which aspects to explore first.
const compositionAssessmentPrompt = `Analyze this task and decide the execution strategy.

<task>
%s
</task>

<instructions>
Decide whether to:
1. Execute directly (simple tasks needing 1-3 tool calls)
2. Decompose using a composition pattern (complex multi-step tasks)

If decomposing, pick exactly one pattern:
- "plan_execute": explore a few aspects first, then run the main task with that context
- "parallel_explore": the task itself is research/analysis best answered by synthesizing several independent explorations
- "sequential_delegate": the task is naturally a small number of dependency-ordered sub-tasks

Exploration aspects must be SPECIFIC to this task, not generic, and at most 4.
</instructions>

Respond with ONLY a JSON object of this exact shape (no prose, no markdown fence):
{
  "pattern": "none" | "plan_execute" | "parallel_explore" | "sequential_delegate",
  "aspects": [{"name": "short_identifier", "description": "what to explore and why"}],
  "subtasks": [{"id": "0", "description": "...", "depends_on": ["..."]}],
  "reasoning": "brief explanation"
}`

// assessmentResponse is the wire shape the prompt above asks the LLM to
// produce; it maps directly onto composition.Plan.
type assessmentResponse struct {
	Pattern   string                          `json:"pattern"`
	Aspects   []composition.ExplorationAspect `json:"aspects"`
	Subtasks  []models.SubtaskSpec            `json:"subtasks"`
	Reasoning string                          `json:"reasoning"`
}

// LLMClassifier implements composition.Classifier with a single no-tools
// LLM call parsing a JSON assessment, grounded on the teacher's
// composition-assessment prompt format.
type LLMClassifier struct {
	Provider agent.LLMProvider
	Model    string
}

// NewLLMClassifier constructs the default composition Classifier.
func NewLLMClassifier(provider agent.LLMProvider, model string) *LLMClassifier {
	return &LLMClassifier{Provider: provider, Model: model}
}

func (c *LLMClassifier) Classify(ctx context.Context, task string) (composition.Plan, error) {
	prompt := fmt.Sprintf(compositionAssessmentPrompt, task)

	resp, err := c.Provider.Call(ctx, agent.CompletionRequest{
		Model: c.Model,
		Messages: []models.Message{
			models.NewSystemMessage("You are a task-decomposition planner. Respond with JSON only."),
			models.NewUserMessage(prompt),
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return composition.Plan{}, err
	}

	parsed, err := parseAssessment(resp.Content)
	if err != nil {
		// A malformed assessment degrades to "run directly" rather than
		// failing the whole task outright.
		return composition.Plan{Pattern: models.CompositionNone, Reasoning: "assessment unparseable: " + err.Error()}, nil
	}
	return parsed, nil
}

func parseAssessment(raw string) (composition.Plan, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed assessmentResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return composition.Plan{}, err
	}

	return composition.Plan{
		Pattern:   models.CompositionPattern(parsed.Pattern),
		Aspects:   parsed.Aspects,
		Subtasks:  parsed.Subtasks,
		Reasoning: parsed.Reasoning,
	}, nil
}
