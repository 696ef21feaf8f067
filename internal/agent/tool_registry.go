package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolRegistry holds named tool capabilities and answers the two queries
// the rest of the runtime needs (§4.3): "list all schemas" for the LLM
// Adapter, and "invoke by name with arguments" for the Agent Loop.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, replacing any existing tool of the same name. The
// tool's InputSchema is compiled eagerly so a malformed schema fails at
// registration time rather than at the first call.
func (r *ToolRegistry) Register(tool Tool) error {
	compiled, err := compileSchema(tool.Name(), tool.InputSchema())
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = compiled
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	url := "mem://tools/" + name + ".json"
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid input_schema for %s: %w", name, err)
	}
	return c.Compile(url)
}

// Unregister removes a tool by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Schemas returns {name, description, input_schema} for every registered
// tool, filtered to names, for the LLM Adapter's tool-schema conversion.
func (r *ToolRegistry) Schemas(names ...string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(names) == 0 {
		out := make([]Tool, 0, len(r.tools))
		for _, t := range r.tools {
			out = append(out, t)
		}
		return out
	}
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Execute dispatches a tool call and always returns a textual result,
// never a Go error, per §4.3:
//   - unknown name → the literal string `Tool '<name>' not found`
//   - schema validation failure → a string starting with `Error:`
//   - a tool-raised error → a string starting with `Error:` (ToolFailure)
//   - otherwise → the tool's own return string
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) string {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Sprintf("Tool '%s' not found", name)
	}

	if schema != nil {
		var v any
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if err := json.Unmarshal(args, &v); err != nil {
			return "Error: invalid arguments: " + err.Error()
		}
		if err := schema.Validate(v); err != nil {
			return "Error: " + err.Error()
		}
	}

	content, err := tool.Invoke(ctx, args)
	if err != nil {
		return "Error: " + err.Error()
	}
	return content
}
