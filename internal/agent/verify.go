package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// VerificationResult is a verifier's judgment on one attempt (§4.8).
type VerificationResult struct {
	Complete bool
	Reason   string
}

// Verifier judges whether result satisfies task, given the attempt
// history so far. iteration is 1-indexed.
type Verifier interface {
	Verify(ctx context.Context, task, result string, iteration int, previous []VerificationResult) (VerificationResult, error)
}

const verificationPrompt = `You are a strict verification assistant. Your job is to determine whether an AI agent's answer fully and correctly completes the user's original task.

<task>
%s
</task>

<agent_answer>
%s
</agent_answer>

%s
<judgment_rules>
1. If the task is a ONE-TIME request (e.g. "calculate 1+1", "summarize this file"), judge whether the answer is correct and complete.

2. If the task requires MULTIPLE steps and only some were done, respond INCOMPLETE with specific feedback on what remains.
</judgment_rules>

Respond with EXACTLY one of:
- COMPLETE: <brief reason why the task is satisfied>
- INCOMPLETE: <specific feedback on what is missing or wrong>

Do NOT restate the answer. Only judge it.`

// maxVerifiedResultChars truncates the candidate answer before it is
// embedded in the verification prompt, to avoid excessive tokens.
const maxVerifiedResultChars = 4000

// LLMVerifier is the default Verifier: one no-tools LLM call per attempt,
// parsing a leading "COMPLETE:"/"INCOMPLETE:" tag out of the response.
type LLMVerifier struct {
	Provider LLMProvider
	Model    string
}

// NewLLMVerifier constructs the default verifier.
func NewLLMVerifier(provider LLMProvider, model string) *LLMVerifier {
	return &LLMVerifier{Provider: provider, Model: model}
}

func (v *LLMVerifier) Verify(ctx context.Context, task, result string, iteration int, previous []VerificationResult) (VerificationResult, error) {
	truncated := result
	if len(truncated) > maxVerifiedResultChars {
		truncated = truncated[:maxVerifiedResultChars]
	}

	prompt := fmt.Sprintf(verificationPrompt, task, truncated, renderPreviousContext(previous))

	resp, err := v.Provider.Call(ctx, CompletionRequest{
		Model: v.Model,
		Messages: []models.Message{
			models.NewSystemMessage("You are a task-completion verifier."),
			models.NewUserMessage(prompt),
		},
		MaxTokens: 512,
	})
	if err != nil {
		return VerificationResult{}, err
	}

	return parseVerificationResponse(resp.Content), nil
}

// renderPreviousContext renders prior attempts as
// "Attempt N: complete|incomplete — <reason>" lines, one per previous
// result, matching the Ralph Loop's verification-prompt format.
func renderPreviousContext(previous []VerificationResult) string {
	if len(previous) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous verification attempts:\n")
	for i, pr := range previous {
		status := "incomplete"
		if pr.Complete {
			status = "complete"
		}
		fmt.Fprintf(&b, "  Attempt %d: %s — %s\n", i+1, status, pr.Reason)
	}
	return b.String()
}

func parseVerificationResponse(text string) VerificationResult {
	text = strings.TrimSpace(text)
	upper := strings.ToUpper(text)

	reason := text
	if idx := strings.Index(text, ":"); idx >= 0 {
		reason = strings.TrimSpace(text[idx+1:])
	}

	return VerificationResult{
		Complete: strings.HasPrefix(upper, "COMPLETE"),
		Reason:   reason,
	}
}

// VerifiedLoopConfig bounds the outer Ralph Loop (§4.8).
type VerifiedLoopConfig struct {
	MaxIterations int
}

// DefaultVerifiedLoopConfig matches the teacher's RALPH_LOOP_MAX_ITERATIONS
// default.
func DefaultVerifiedLoopConfig() VerifiedLoopConfig {
	return VerifiedLoopConfig{MaxIterations: 3}
}

// VerifiedLoop wraps an Agent Loop with the Ralph Loop's verify-and-retry
// policy: run the inner loop, ask the verifier whether the result
// satisfies the task, and if not, inject the verifier's reason as
// feedback and re-run the inner loop — up to MaxIterations attempts. The
// final allowed attempt always returns its result unverified.
type VerifiedLoop struct {
	Inner    *Loop
	Verifier Verifier
	Config   VerifiedLoopConfig
}

// NewVerifiedLoop constructs a VerifiedLoop around an already-built inner
// Agent Loop.
func NewVerifiedLoop(inner *Loop, verifier Verifier, config VerifiedLoopConfig) *VerifiedLoop {
	if config.MaxIterations <= 0 {
		config = DefaultVerifiedLoopConfig()
	}
	return &VerifiedLoop{Inner: inner, Verifier: verifier, Config: config}
}

// Run executes the verify-and-retry policy against nodeID for the given
// task description.
func (v *VerifiedLoop) Run(ctx context.Context, nodeID, task string) (string, error) {
	var previous []VerificationResult

	for i := 1; i <= v.Config.MaxIterations; i++ {
		result, err := v.Inner.Run(ctx, nodeID)
		if err != nil {
			return "", err
		}

		if i == v.Config.MaxIterations || v.Verifier == nil {
			return result, nil
		}

		verdict, err := v.Verifier.Verify(ctx, task, result, i, previous)
		if err != nil {
			return "", err
		}
		if verdict.Complete {
			return result, nil
		}

		previous = append(previous, verdict)
		node := v.Inner.Graph.Get(nodeID)
		if node != nil {
			node.AddMessage(models.NewUserMessage(verdict.Reason))
		}
	}

	return "Max iterations reached without completion.", nil
}
