package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-runtime/internal/compress"
	"github.com/haasonsaas/nexus-runtime/internal/memory"
	"github.com/haasonsaas/nexus-runtime/internal/observability"
	"github.com/haasonsaas/nexus-runtime/internal/toolresult"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
	"go.opentelemetry.io/otel/trace"
)

// LoopConfig bounds one Agent Loop run (§4.7).
type LoopConfig struct {
	MaxIterations int
	MaxTokens     int
}

// DefaultLoopConfig returns sensible defaults, following the teacher's
// DefaultLoopConfig()/sanitizeLoopConfig() convention.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{MaxIterations: 25, MaxTokens: 4096}
}

func sanitizeLoopConfig(c LoopConfig) LoopConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 25
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

// Loop is the reason/act/observe state machine of §4.7, executed against
// one MemoryNode at a time.
type Loop struct {
	Graph      *memory.Graph
	Compressor *compress.Compressor
	Provider   LLMProvider
	Registry   *ToolRegistry
	Executor   *ToolExecutor
	Results    *toolresult.Processor
	Model      string
	Config     LoopConfig
	Logger     *observability.Logger

	// Metrics records LLM request and tool execution metrics (§10 AMBIENT
	// STACK). Left nil, the zero value, disables recording.
	Metrics *observability.Metrics

	// Tracer emits an OpenTelemetry span per LLM call and per tool
	// execution (§10 AMBIENT STACK). Left nil, the zero value, disables
	// tracing.
	Tracer *observability.Tracer

	// Events records a replayable tool-call timeline (§10 AMBIENT
	// STACK). Left nil, the zero value, disables recording.
	Events *observability.EventRecorder

	// ToolFilter restricts which registered tools are offered to the LLM
	// this loop is driving. Empty means the full registry (the common
	// case for a root agent); the Composition Scheduler sets this on
	// per-spawn loops to enforce the read-only exploration filter or a
	// sub-task's own ToolFilter.
	ToolFilter []string
}

// NewLoop constructs a Loop, defaulting Config and Logger.
func NewLoop(graph *memory.Graph, compressor *compress.Compressor, provider LLMProvider, registry *ToolRegistry, executor *ToolExecutor, results *toolresult.Processor, model string, config LoopConfig) *Loop {
	logger := observability.NewLogger(observability.LogConfig{})
	return &Loop{
		Graph:      graph,
		Compressor: compressor,
		Provider:   provider,
		Registry:   registry,
		Executor:   executor,
		Results:    results,
		Model:      model,
		Config:     sanitizeLoopConfig(config),
		Logger:     logger,
	}
}

// Run executes the state machine against nodeID until a terminal
// stop_reason is reached or max_iterations is exceeded.
func (l *Loop) Run(ctx context.Context, nodeID string) (string, error) {
	for i := 1; i <= l.Config.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return "", models.NewRuntimeError(models.Cancelled, "agent loop canceled", err)
		}

		if observability.IsDiagnosticsEnabled() {
			observability.EmitRunAttempt(&observability.RunAttemptEvent{RunID: nodeID, Attempt: i})
		}

		raw := l.Graph.ContextFor(nodeID)
		outbound, err := l.Compressor.Apply(ctx, repairTranscript(raw))
		if err != nil {
			return "", err
		}

		llmCtx := ctx
		var llmSpan trace.Span
		if l.Tracer != nil {
			llmCtx, llmSpan = l.Tracer.TraceLLMRequest(ctx, l.Provider.Name(), l.Model)
		}

		callStart := time.Now()
		resp, err := l.Provider.Call(llmCtx, CompletionRequest{
			Model:     l.Model,
			Messages:  outbound,
			Tools:     l.Registry.Schemas(l.ToolFilter...),
			MaxTokens: l.Config.MaxTokens,
		})
		if llmSpan != nil {
			l.Tracer.RecordError(llmSpan, err)
			llmSpan.End()
		}
		if l.Metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			duration := time.Since(callStart).Seconds()
			if err != nil {
				l.Metrics.RecordLLMRequest(l.Provider.Name(), l.Model, status, duration, 0, 0)
			} else {
				l.Metrics.RecordLLMRequest(l.Provider.Name(), l.Model, status, duration, resp.Usage.InputTokens, resp.Usage.OutputTokens)
			}
		}
		if err != nil {
			l.Logger.Error(ctx, "llm call failed", "provider", l.Provider.Name(), "model", l.Model, "error", err, "iteration", i)
			return "", err
		}
		if observability.IsDiagnosticsEnabled() {
			observability.EmitModelUsage(&observability.ModelUsageEvent{
				RunID:      nodeID,
				Provider:   l.Provider.Name(),
				Model:      l.Model,
				Usage:      observability.UsageDetails{Input: int64(resp.Usage.InputTokens), Output: int64(resp.Usage.OutputTokens), Total: int64(resp.Usage.InputTokens + resp.Usage.OutputTokens)},
				DurationMs: time.Since(callStart).Milliseconds(),
			})
		}

		assistantMsg := resp.AssistantMessage()
		node := l.Graph.Get(nodeID)
		if node == nil {
			return "", models.NewRuntimeError(models.InvalidInput, fmt.Sprintf("memory node %s does not exist", nodeID), nil)
		}
		node.AddMessage(assistantMsg)

		switch resp.StopReason {
		case models.StopReasonStop:
			return resp.Content, nil

		case models.StopReasonToolUse:
			if len(resp.ToolCalls) == 0 {
				return resp.Content, nil
			}
			l.runToolCalls(ctx, node, resp.ToolCalls)
			continue

		case models.StopReasonLength, models.StopReasonContentFilter, models.StopReasonOther:
			return resp.Content, nil

		default:
			return resp.Content, nil
		}
	}
	l.Logger.Warn(ctx, "max iterations reached without completion", "max_iterations", l.Config.MaxIterations)
	return "Max iterations reached without completion.", nil
}

// runToolCalls dispatches every tool call from one assistant message in
// emission order, processes each raw result, and appends the resulting
// tool messages before returning — satisfying §4.7's ordering guarantee
// that all results for one assistant message are appended before the
// next iteration's LLM call.
func (l *Loop) runToolCalls(ctx context.Context, node *memory.Node, calls []models.ToolCall) {
	results := l.Executor.ExecuteSequentially(ctx, calls)
	for _, r := range results {
		toolCtx := toolContextFor(r.ToolCall)
		processed, _ := l.Results.Process(r.ToolCall.Name, r.Result.Content, toolCtx)
		node.AddMessage(models.NewToolMessage(processed, r.Result.ToolCallID, r.Result.Name))

		failed := strings.HasPrefix(r.Result.Content, "Error:")
		if failed {
			l.Logger.Warn(ctx, "tool execution failed", "tool", r.ToolCall.Name, "tool_call_id", r.ToolCall.ID, "result", r.Result.Content)
		}
		if l.Events != nil {
			var toolErr error
			if failed {
				toolErr = errors.New(r.Result.Content)
			}
			_ = l.Events.RecordToolEnd(ctx, r.ToolCall.Name, r.EndTime.Sub(r.StartTime), processed, toolErr)
		}
		if l.Metrics != nil {
			status := "success"
			if failed {
				status = "error"
			}
			l.Metrics.RecordToolExecution(r.ToolCall.Name, status, r.EndTime.Sub(r.StartTime).Seconds())
		}
		if l.Tracer != nil {
			_, span := l.Tracer.TraceToolExecution(ctx, r.ToolCall.Name)
			if failed {
				l.Tracer.RecordError(span, errors.New(r.Result.Content))
			}
			span.End()
		}
	}
}

// toolContextFor extracts the tool-specific recovery hints (§4.4) the
// Tool-Result Processor needs from a call's own arguments — e.g. a
// read_file call's "filename" argument, or a grep call's "pattern".
func toolContextFor(call models.ToolCall) map[string]string {
	var args map[string]any
	if len(call.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil
	}
	ctx := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			ctx[k] = s
		}
	}
	return ctx
}
