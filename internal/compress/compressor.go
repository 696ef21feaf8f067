// Package compress implements the Context Compressor (§4.6): a rolling
// token-budget monitor that replaces an old message prefix with one
// LLM-written summary once the outbound context crosses a threshold,
// while never splitting a protected assistant/tool-call/tool-result
// trio.
package compress

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/nexus-runtime/internal/observability"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// Summarizer condenses messages into a short text summary, targeting
// roughly targetTokens tokens.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message, targetTokens int) (string, error)
}

// Config configures the compressor (§4.6).
type Config struct {
	MaxContextTokens     int
	TargetTokens         int
	CompressionThreshold int
	ShortTermCount       int
	CompressionRatio     float64
	Enable               bool
	// ProtectedTools names tool calls whose assistant/tool-result pair
	// is never split out of the short-term tail even if it falls in the
	// compressible prefix.
	ProtectedTools map[string]bool
}

// DefaultConfig returns sensible defaults matching the teacher's
// Default*Config() convention.
func DefaultConfig() *Config {
	return &Config{
		MaxContextTokens:     128000,
		TargetTokens:         4000,
		CompressionThreshold: 16000,
		ShortTermCount:       10,
		CompressionRatio:     0.2,
		Enable:               true,
		ProtectedTools:       map[string]bool{},
	}
}

func (c *Config) sanitize() {
	if c.ShortTermCount < 0 {
		c.ShortTermCount = 0
	}
	if c.CompressionRatio <= 0 {
		c.CompressionRatio = 0.2
	}
	if c.ProtectedTools == nil {
		c.ProtectedTools = map[string]bool{}
	}
}

// Compressor applies the §4.6 policy at each append to a node's working
// memory. It tracks cumulative token usage across calls for Stats().
type Compressor struct {
	mu         sync.Mutex
	config     *Config
	summarizer Summarizer

	// Metrics records each compression event's token savings (§10 AMBIENT
	// STACK). Left nil, the zero value, disables recording.
	Metrics *observability.Metrics

	cumulativeTokens int
	lastDelta        int
	lastCompressed   bool
	lastSavings      int
	netSavings       int
}

// New constructs a Compressor. config defaults to DefaultConfig() if nil.
func New(config *Config, summarizer Summarizer) *Compressor {
	if config == nil {
		config = DefaultConfig()
	}
	config.sanitize()
	return &Compressor{config: config, summarizer: summarizer}
}

// Stats reports the rolling counters exposed by §4.6's State section.
type Stats struct {
	CumulativeTokens int
	LastDelta        int
	LastCompressed   bool
	LastSavings      int
	NetSavings       int
}

// Stats returns a snapshot of the compressor's rolling counters.
func (c *Compressor) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		CumulativeTokens: c.cumulativeTokens,
		LastDelta:        c.lastDelta,
		LastCompressed:   c.lastCompressed,
		LastSavings:      c.lastSavings,
		NetSavings:       c.netSavings,
	}
}

// estimateTokens approximates a token count at ~3.5 chars/token (§4.4,
// §4.6); no real tokenizer is required.
func estimateTokens(text string) int {
	return int(float64(len(text)) / 3.5)
}

func estimateMessagesTokens(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m.Text())
		for _, tc := range m.ToolCalls {
			total += estimateTokens(string(tc.Arguments)) + estimateTokens(tc.Name)
		}
	}
	return total
}

// Apply implements §4.6's policy: estimate the outbound context size,
// and if it crosses the threshold, summarize the compressible prefix
// and replace it with one summary message. Returns the (possibly
// unchanged) context to send to the provider.
func (c *Compressor) Apply(ctx context.Context, messages []models.Message) ([]models.Message, error) {
	c.mu.Lock()
	config := c.config
	c.mu.Unlock()

	contextTokens := estimateMessagesTokens(messages)

	c.mu.Lock()
	delta := contextTokens - c.cumulativeTokens
	c.cumulativeTokens = contextTokens
	c.lastDelta = delta
	c.mu.Unlock()

	// Strict `>`, not `>=` (DESIGN.md Open Question #1).
	if !config.Enable || contextTokens <= config.CompressionThreshold {
		c.setCompressed(false, 0)
		return messages, nil
	}

	prefixEnd, protectedIdx := compressiblePrefixEnd(messages, config)
	if prefixEnd == 0 {
		c.setCompressed(false, 0)
		return messages, nil
	}

	prefix := make([]models.Message, 0, prefixEnd)
	for i := 0; i < prefixEnd; i++ {
		if !protectedIdx[i] {
			prefix = append(prefix, messages[i])
		}
	}
	prefixTokens := estimateMessagesTokens(prefix)
	if len(prefix) == 0 || prefixTokens < 100 {
		c.setCompressed(false, 0)
		return messages, nil
	}

	if c.summarizer == nil {
		c.setCompressed(false, 0)
		return messages, nil
	}

	targetTokens := int(config.CompressionRatio * float64(prefixTokens))
	summary, err := c.summarizer.Summarize(ctx, prefix, targetTokens)
	if err != nil {
		return nil, err
	}
	summaryTokens := estimateTokens(summary)

	summaryMsg := models.NewUserMessage(fmt.Sprintf("[Compressed context]\n%s", summary))
	summaryMsg.IsSummary = true

	result := make([]models.Message, 0, len(messages)-prefixEnd+len(protectedIdx)+1)
	result = append(result, summaryMsg)
	for i := 0; i < prefixEnd; i++ {
		if protectedIdx[i] {
			result = append(result, messages[i])
		}
	}
	result = append(result, messages[prefixEnd:]...)

	savings := prefixTokens - summaryTokens
	c.setCompressed(true, savings)
	return result, nil
}

func (c *Compressor) setCompressed(compressed bool, savings int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCompressed = compressed
	c.lastSavings = savings
	if compressed {
		c.netSavings += savings
		if c.Metrics != nil {
			c.Metrics.RecordCompressionSavings(savings)
		}
	}
}

// compressiblePrefixEnd returns the index boundary of the compressible
// prefix (everything before the last ShortTermCount messages), and the
// set of indices within that prefix that belong to a protected
// assistant/tool-call/tool-result pair and must be preserved adjacent to
// the prefix's replacement rather than folded into the summary.
func compressiblePrefixEnd(messages []models.Message, config *Config) (int, map[int]bool) {
	shortTermStart := len(messages) - config.ShortTermCount
	if shortTermStart <= 0 {
		return 0, nil
	}

	protected := map[int]bool{}
	for i := 0; i < shortTermStart; i++ {
		msg := messages[i]
		if msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		hasProtectedCall := false
		callIDs := map[string]bool{}
		for _, tc := range msg.ToolCalls {
			callIDs[tc.ID] = true
			if config.ProtectedTools[tc.Name] {
				hasProtectedCall = true
			}
		}
		if !hasProtectedCall {
			continue
		}
		protected[i] = true
		for j := i + 1; j < shortTermStart; j++ {
			if messages[j].Role == models.RoleTool && callIDs[messages[j].ToolCallID] {
				protected[j] = true
			}
		}
	}
	return shortTermStart, protected
}
