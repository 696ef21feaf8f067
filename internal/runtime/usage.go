package runtime

import (
	"context"
	"sync"

	"github.com/haasonsaas/nexus-runtime/internal/agent"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// costPerMillionTokens is a small, best-effort price table (input, output)
// in USD per million tokens, keyed by model name, used only to compute
// the supplemented "total_cost" statistic (§12). An unknown model
// contributes zero cost rather than failing the run.
var costPerMillionTokens = map[string][2]float64{
	"claude-sonnet-4-5": {3.00, 15.00},
	"claude-opus-4":     {15.00, 75.00},
	"claude-haiku-4-5":  {0.80, 4.00},
	"gpt-4o":            {2.50, 10.00},
	"gpt-4o-mini":       {0.15, 0.60},
}

// usageTracker accumulates token counts and an approximate dollar cost
// across every LLM call a task makes, folding the original's
// _print_memory_stats fields (§12 SUPPLEMENTED FEATURES) into the
// Runtime Coordinator's Stats().
type usageTracker struct {
	mu           sync.Mutex
	inputTokens  int
	outputTokens int
	totalCost    float64
}

// UsageStats is the Coordinator's supplemented usage sub-object (§12).
type UsageStats struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

func (u *usageTracker) record(model string, usage models.Usage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inputTokens += usage.InputTokens
	u.outputTokens += usage.OutputTokens
	if price, ok := costPerMillionTokens[model]; ok {
		u.totalCost += float64(usage.InputTokens)/1_000_000*price[0] + float64(usage.OutputTokens)/1_000_000*price[1]
	}
}

func (u *usageTracker) snapshot() UsageStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return UsageStats{InputTokens: u.inputTokens, OutputTokens: u.outputTokens, TotalCost: u.totalCost}
}

// trackedProvider wraps an LLMProvider, recording token usage from every
// response into a shared usageTracker before returning it unchanged.
type trackedProvider struct {
	inner   agent.LLMProvider
	tracker *usageTracker
}

func newTrackedProvider(inner agent.LLMProvider, tracker *usageTracker) *trackedProvider {
	return &trackedProvider{inner: inner, tracker: tracker}
}

func (p *trackedProvider) Call(ctx context.Context, req agent.CompletionRequest) (*models.LlmResponse, error) {
	resp, err := p.inner.Call(ctx, req)
	if err != nil {
		return resp, err
	}
	p.tracker.record(req.Model, resp.Usage)
	return resp, nil
}

func (p *trackedProvider) Name() string        { return p.inner.Name() }
func (p *trackedProvider) SupportsTools() bool { return p.inner.SupportsTools() }
