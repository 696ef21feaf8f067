package models

import "time"

// Session is the flat view of a task's conversation used by the
// persistence collaborator (SessionStore). The runtime may reconstitute
// Messages from the root memory node rather than keep this in sync
// continuously.
type Session struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	SystemMessages []Message `json:"system_messages"`
	Messages       []Message `json:"messages"`
}

// SessionStats summarizes a session for list/stat operations on the
// SessionStore, without requiring the full message list.
type SessionStats struct {
	MessageCount int       `json:"message_count"`
	TotalTokens  int       `json:"total_tokens"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionSummary is the shape returned by ListSessions.
type SessionSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Title     string    `json:"title,omitempty"`
}

// CompositionPattern is a closed tag classifying how the Composition
// Scheduler should handle one task.
type CompositionPattern string

const (
	CompositionNone               CompositionPattern = "none"
	CompositionPlanExecute        CompositionPattern = "plan_execute"
	CompositionParallelExplore    CompositionPattern = "parallel_explore"
	CompositionSequentialDelegate CompositionPattern = "sequential_delegate"
)

// SubtaskSpec describes one task in a dependency-ordered composition
// batch. The dependency relation (DependsOn) must be acyclic and every
// referenced id must exist in the same batch.
type SubtaskSpec struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	ToolFilter     []string `json:"tool_filter,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
	Priority       int      `json:"priority,omitempty"`
	InheritContext bool     `json:"inherit_context,omitempty"`
}
