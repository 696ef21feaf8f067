package agent

import (
	"context"

	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// ReasoningEffort is the LLM Adapter's run-scoped reasoning control (§4.2).
type ReasoningEffort string

const (
	ReasoningNone    ReasoningEffort = "none"
	ReasoningMinimal ReasoningEffort = "minimal"
	ReasoningLow     ReasoningEffort = "low"
	ReasoningMedium  ReasoningEffort = "medium"
	ReasoningHigh    ReasoningEffort = "high"
	ReasoningXHigh   ReasoningEffort = "xhigh"
)

// NormalizeReasoningEffort applies the §4.2 alias rules: "default" or empty
// is omitted entirely (ok=false); "off" becomes "none"; anything else must
// be one of the canonical values or it fails with InvalidReasoningEffort.
func NormalizeReasoningEffort(input string) (effort ReasoningEffort, ok bool, err error) {
	switch input {
	case "", "default":
		return "", false, nil
	case "off":
		return ReasoningNone, true, nil
	}
	canonical := ReasoningEffort(input)
	switch canonical {
	case ReasoningNone, ReasoningMinimal, ReasoningLow, ReasoningMedium, ReasoningHigh, ReasoningXHigh:
		return canonical, true, nil
	default:
		return "", false, models.NewRuntimeError(models.InvalidReasoningEffort, "unknown reasoning_effort: "+input, nil)
	}
}

// CompletionRequest is the LLM Adapter's normalized request shape, matching
// the LlmProvider contract in §6: model, messages, optional tools, a token
// cap, an optional reasoning effort, a timeout, and a bag of provider-
// specific extras.
type CompletionRequest struct {
	Model           string
	Messages        []models.Message
	Tools           []Tool
	MaxTokens       int
	ReasoningEffort ReasoningEffort
	ExtraParams     map[string]any
}

// LLMProvider invokes a configured model for a single, non-streaming call
// (§4.2). Implementations normalize their own wire format into a
// models.LlmResponse and classify failures into LlmTransient/LlmPermanent
// per §6.
type LLMProvider interface {
	// Call performs one request/response round trip against the provider.
	Call(ctx context.Context, req CompletionRequest) (*models.LlmResponse, error)

	// Name returns the provider's identifier (e.g. "anthropic", "openai").
	Name() string

	// SupportsTools reports whether this provider accepts a tools list.
	// Defaults to true for every concrete provider in this module.
	SupportsTools() bool
}
