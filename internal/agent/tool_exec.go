package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus-runtime/internal/observability"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// ToolExecConfig configures tool execution timeouts and retry behavior.
type ToolExecConfig struct {
	// Concurrency is the maximum number of concurrent tool executions when
	// ExecuteConcurrently is used. Default: 4.
	Concurrency int

	// PerToolTimeout is the timeout for individual tool executions.
	// Default: 30 seconds.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call (default 1).
	MaxAttempts int

	// RetryBackoff waits between retries of the same call.
	RetryBackoff time.Duration
}

// DefaultToolExecConfig returns sensible defaults: 4-way concurrency, a
// 30 second per-tool timeout, and no automatic retries (the LLM itself is
// the usual self-correction mechanism for a failed tool call).
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
	}
}

func sanitizeToolExecConfig(c ToolExecConfig) ToolExecConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PerToolTimeout <= 0 {
		c.PerToolTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	return c
}

// ToolExecutor dispatches tool calls against a ToolRegistry. Per §4.3, one
// agent's own executor is single-threaded: ExecuteSequentially is the
// agent loop's normal path. ExecuteConcurrently exists for callers (e.g.
// the Composition Scheduler's per-agent dispatch across siblings) that
// genuinely need bounded fan-out across independent calls.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
}

// NewToolExecutor creates a new tool executor with the given registry and
// configuration. Zero-value config fields are replaced with defaults.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	return &ToolExecutor{registry: registry, config: sanitizeToolExecConfig(config)}
}

// ToolExecResult pairs a tool call with its result and timing information.
type ToolExecResult struct {
	Index     int
	ToolCall  models.ToolCall
	Result    models.ToolResult
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
}

// ExecuteSequentially executes tool calls one at a time, in emission order,
// per §4.7's ordering guarantee: "tool calls within one assistant message
// are executed in emission order; all results... are appended before the
// next iteration's LLM call."
func (e *ToolExecutor) ExecuteSequentially(ctx context.Context, toolCalls []models.ToolCall) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))
	for i, tc := range toolCalls {
		results[i] = e.executeOne(ctx, i, tc)
	}
	return results
}

// ExecuteConcurrently executes tool calls with a bounded semaphore, with
// results returned in the same order as the input. Used only where calls
// are known to be independent; the default (§4.7) is sequential.
func (e *ToolExecutor) ExecuteConcurrently(ctx context.Context, toolCalls []models.ToolCall) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, tc := range toolCalls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = ToolExecResult{
					Index:    idx,
					ToolCall: call,
					Result:   models.ToolResult{ToolCallID: call.ID, Content: "context canceled"},
				}
				return
			}
			results[idx] = e.executeOne(ctx, idx, call)
		}(i, tc)
	}
	wg.Wait()
	return results
}

func (e *ToolExecutor) executeOne(ctx context.Context, idx int, tc models.ToolCall) ToolExecResult {
	startTime := time.Now()
	var content string
	var timedOut bool

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
		toolCtx = observability.AddToolCallID(toolCtx, tc.ID)
		content, timedOut = e.runWithTimeout(toolCtx, tc)
		cancel()

		if !strings.HasPrefix(content, "Error:") {
			break
		}
		if attempt < e.config.MaxAttempts && e.config.RetryBackoff > 0 {
			select {
			case <-time.After(e.config.RetryBackoff):
			case <-ctx.Done():
				content = "tool execution canceled"
				attempt = e.config.MaxAttempts
			}
		}
	}

	return ToolExecResult{
		Index:     idx,
		ToolCall:  tc,
		Result:    models.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Content: content},
		StartTime: startTime,
		EndTime:   time.Now(),
		TimedOut:  timedOut,
	}
}

func (e *ToolExecutor) runWithTimeout(ctx context.Context, call models.ToolCall) (string, bool) {
	resultChan := make(chan string, 1)

	go func() {
		content := e.registry.Execute(ctx, call.Name, call.Arguments)
		select {
		case resultChan <- content:
		default:
			slog.Warn("tool execution completed after timeout, result discarded",
				"tool", call.Name, "tool_call_id", call.ID, "run_id", observability.GetRunID(ctx))
		}
	}()

	select {
	case <-ctx.Done():
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		if timedOut {
			return fmt.Sprintf("Error: tool execution timed out after %v", e.config.PerToolTimeout), true
		}
		return "Error: tool execution canceled", false
	case content := <-resultChan:
		return content, false
	}
}

// ExecuteSingle executes a single tool call by name, independent of any
// ToolCall envelope. Used by callers (e.g. the Composition Scheduler's
// synthesis step) invoking a capability directly rather than through an
// LLM-issued call.
func (e *ToolExecutor) ExecuteSingle(ctx context.Context, name string, args []byte) string {
	toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()
	return e.registry.Execute(toolCtx, name, args)
}
