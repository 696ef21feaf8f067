// Package collab defines the two optional, out-of-scope collaborators
// named by §6: LongTermMemoryProvider and SkillsProvider. Concrete
// implementations (a skills directory scanner, a long-term memory
// store) are outside this module's scope; callers either supply their
// own implementation of these interfaces or use the no-op defaults
// below, matching the runtime's documented "if absent, proceed without
// it" behavior.
package collab

import (
	"context"
	"strings"
)

// LongTermMemoryProvider optionally contributes a system-prompt section
// to the root agent and reports whether its backing store changed since
// it was last read (§6).
type LongTermMemoryProvider interface {
	LoadAndFormat(ctx context.Context) (string, bool)
	HasChangedSinceLoad(ctx context.Context) bool
}

// NoOpLongTermMemory is the default LongTermMemoryProvider: no section,
// never changed. Used when the runtime is configured without one.
type NoOpLongTermMemory struct{}

func (NoOpLongTermMemory) LoadAndFormat(ctx context.Context) (string, bool) { return "", false }
func (NoOpLongTermMemory) HasChangedSinceLoad(ctx context.Context) bool     { return false }

// SkillsProvider optionally contributes a system-prompt section listing
// available skills, and rewrites a "$<name>" prefixed user message into
// an invocation block before it reaches the Agent Loop (§6).
type SkillsProvider interface {
	RenderSection(ctx context.Context) (string, bool)
	RewriteInvocation(ctx context.Context, userInput string) string
}

// NoOpSkills is the default SkillsProvider: no section, no rewriting.
type NoOpSkills struct{}

func (NoOpSkills) RenderSection(ctx context.Context) (string, bool) { return "", false }
func (NoOpSkills) RewriteInvocation(ctx context.Context, userInput string) string {
	return userInput
}

// SkillInvocationPrefix is the trigger prefix a SkillsProvider looks for
// on a user message before rewriting it into an invocation block (§6).
const SkillInvocationPrefix = "$"

// HasSkillInvocation reports whether userInput opens with the
// "$<name>" trigger a concrete SkillsProvider would rewrite.
func HasSkillInvocation(userInput string) bool {
	return strings.HasPrefix(strings.TrimSpace(userInput), SkillInvocationPrefix)
}
