// Package observability provides metrics, structured logging, distributed
// tracing, and a replayable event timeline for the Nexus runtime.
//
// # Overview
//
// The observability package implements four pillars:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed span tracing with OpenTelemetry
//  4. Events - A replayable timeline of run/spawn/tool/LLM lifecycle events
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: every collaborator (Metrics, Tracer, Events) is an
//     optional field on its consumer, nil by default — a Coordinator or
//     Loop built without calling Set*() records nothing.
//   - Type-safe: strongly-typed APIs reduce configuration errors
//   - Standards-based: uses Prometheus, OpenTelemetry, and slog
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - LLM request latency, token usage, and cost
//   - Tool execution count and duration, by tool and status
//   - Composition fan-out width, by pattern (parallel_explore,
//     plan_execute, sequential_delegate)
//   - Compression savings (tokens removed by the Context Compressor)
//   - Error counts by component and error type
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//	coordinator.SetMetrics(metrics)
//
//	// internally, on every LLM call:
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4-5", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	// on every tool call:
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request/session/run ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx = observability.AddSessionID(ctx, sessionID)
//	logger.Info(ctx, "agent loop started", "node_id", nodeID, "model", model)
//	logger.Error(ctx, "llm call failed", "error", err, "api_key", apiKey) // redacted
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a run across the Agent
// Loop, the Composition Scheduler's fan-out, and every tool call:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:  "nexus-runtime",
//	    Endpoint:     "localhost:4317", // OTLP collector; empty disables export
//	    SamplingRate: 0.1,
//	})
//	defer shutdown(context.Background())
//	coordinator.SetTracer(tracer)
//
//	// internally:
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-sonnet-4-5")
//	defer llmSpan.End()
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "web_search")
//	defer toolSpan.End()
//	_, fanoutSpan := tracer.TraceCompositionFanout(ctx, "parallel_explore", width)
//	defer fanoutSpan.End()
//
// # Events
//
// The Event timeline records a replayable sequence of what happened during
// one run — run start/end, each tool's start/end/error, each LLM
// request/response/error, and each sub-agent the Composition Scheduler
// spawns — independent of whatever logs or metrics were also emitted:
//
//	store := observability.NewMemoryEventStore(10000)
//	recorder := observability.NewEventRecorder(store, logger)
//	coordinator.SetEvents(recorder)
//
//	// after a run:
//	events, _ := store.GetByRunID(runID)
//	timeline := observability.BuildTimeline(events)
//	fmt.Println(observability.FormatTimeline(timeline))
//
// A parallel, lighter-weight diagnostic pub-sub (ModelUsageEvent,
// RunAttemptEvent, DiagnosticHeartbeatEvent) is available via
// observability.OnDiagnosticEvent for callers that want a live feed rather
// than a queryable store — e.g. a CLI progress indicator.
//
// # Context Propagation
//
// All components integrate with Go's context for automatic correlation:
//
//	ctx = observability.AddRunID(ctx, nodeID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//	ctx = observability.AddToolCallID(ctx, toolCall.ID)
//
//	logger.Info(ctx, "processing") // includes run_id, session_id, etc.
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted: password, passwd, pwd,
// secret, api_key, apikey, token, auth, authorization, private_key,
// privatekey.
//
// # Performance
//
// The observability system is designed for minimal overhead:
//   - Metrics use lock-free counters where possible
//   - Logging with slog is highly efficient
//   - Tracing supports sampling to reduce overhead
//   - Every collaborator (Metrics, Tracer, Events) is nil-checked before
//     use, so an application that never calls Set*() pays nothing
//
// # Testing
//
// All components provide testable interfaces:
//   - Metrics can be verified using prometheus/testutil against an
//     isolated prometheus.Registry (never the global default registry)
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works with no-op exporters in tests (an empty Endpoint)
//   - Events can be asserted against a MemoryEventStore directly
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
