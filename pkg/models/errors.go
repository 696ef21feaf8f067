package models

import "fmt"

// ErrorCode is the runtime's closed error taxonomy (§4.12). Every code is
// a short stable string suitable for logging and for dispatch in
// composition/retry code.
type ErrorCode string

const (
	// InvalidInput covers a malformed request, an unknown tool, or a
	// schema violation caught before dispatch.
	InvalidInput ErrorCode = "invalid_input"
	// MalformedMessage means the message normalizer could not extract
	// any content from an inbound shape.
	MalformedMessage ErrorCode = "malformed_message"
	// ToolFailure wraps a tool capability's own error text; it is
	// self-correcting (surfaced back to the LLM), never raised to a
	// caller directly.
	ToolFailure ErrorCode = "tool_failure"
	// LlmTransient is a network, 429, 5xx, or timeout failure; it is
	// retriable under the backoff policy.
	LlmTransient ErrorCode = "llm_transient"
	// LlmPermanent is a 4xx failure other than 408/429; it is not
	// retriable.
	LlmPermanent ErrorCode = "llm_permanent"
	// MaxDepthExceeded means a child-agent spawn would exceed the
	// configured composition depth bound.
	MaxDepthExceeded ErrorCode = "max_depth_exceeded"
	// MaxAgentsExceeded means a child-agent spawn would exceed the
	// configured total-agents bound for the task.
	MaxAgentsExceeded ErrorCode = "max_agents_exceeded"
	// CyclicDependency means a dependency-ordered task batch's
	// prerequisite graph contains a cycle.
	CyclicDependency ErrorCode = "cyclic_dependency"
	// BudgetExceeded means an iteration cap or token cap was hit.
	BudgetExceeded ErrorCode = "budget_exceeded"
	// Cancelled means cooperative cancellation was observed from the
	// coordinator; retries are short-circuited.
	Cancelled ErrorCode = "cancelled"
	// InvalidReasoningEffort means an unrecognized reasoning-effort
	// alias was supplied to the LLM Adapter.
	InvalidReasoningEffort ErrorCode = "invalid_reasoning_effort"
)

// RuntimeError is the single error type carrying the taxonomy above. It
// wraps an optional underlying cause and supports errors.Is/errors.As via
// Unwrap and Is.
type RuntimeError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// NewRuntimeError constructs a RuntimeError. cause may be nil.
func NewRuntimeError(code ErrorCode, message string, cause error) *RuntimeError {
	return &RuntimeError{Code: code, Message: message, Cause: cause}
}

func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, &RuntimeError{Code: X}) to match on Code alone,
// ignoring Message and Cause.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsRetryable reports whether the retry policy should retry an operation
// that failed with this error. Only LlmTransient is retriable; Cancelled
// explicitly short-circuits retries even though it is not itself retried.
func (e *RuntimeError) IsRetryable() bool {
	return e.Code == LlmTransient
}

// IsFatal reports whether this error should abort the current task rather
// than be handled locally (§7 tier 3).
func (e *RuntimeError) IsFatal() bool {
	switch e.Code {
	case MaxDepthExceeded, MaxAgentsExceeded, CyclicDependency, BudgetExceeded:
		return true
	case LlmPermanent:
		return true
	default:
		return false
	}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) a
// *RuntimeError, and reports whether one was found.
func CodeOf(err error) (ErrorCode, bool) {
	var re *RuntimeError
	for err != nil {
		if r, ok := err.(*RuntimeError); ok {
			re = r
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if re == nil {
		return "", false
	}
	return re.Code, true
}
