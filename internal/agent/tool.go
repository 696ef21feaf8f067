package agent

import (
	"context"
	"encoding/json"
)

// Tool is a named capability the registry can dispatch a normalized tool
// call to (§4.3). InputSchema is a JSON Schema object; Invoke receives the
// already-decoded arguments object and returns its textual result. A tool
// that fails (rather than producing a well-formed error string itself) may
// return a non-nil error; the registry converts it into an "Error:"-
// prefixed ToolFailure string rather than propagating a Go error to the
// agent loop, per §7 tier 1 (self-correcting).
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// ReadOnly is implemented by tools that are safe to expose to composition
// sub-agents restricted to the read-only tool filter (§4.9).
type ReadOnly interface {
	ReadOnly() bool
}

// IsReadOnly reports whether tool opts into the ReadOnly marker interface.
func IsReadOnly(tool Tool) bool {
	ro, ok := tool.(ReadOnly)
	return ok && ro.ReadOnly()
}
