// Package sessionstore implements the Session Store Interface (§4.11):
// the persistence collaborator the Runtime Coordinator writes a
// completed task's conversation to. Concrete back-ends (YAML files,
// SQLite) are out of scope (§4.11); this package defines the interface
// plus one in-memory reference implementation, adapted from the
// teacher's internal/sessions.Store/MemoryStore shape.
package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// LoadResult is the shape returned by LoadSession (§4.11).
type LoadResult struct {
	SystemMessages []models.Message
	Messages       []models.Message
	Stats          models.SessionStats
}

// Store is the Session Store collaborator (§4.11). Every operation is
// documented as asynchronous in the spec; this module models that with
// a context.Context parameter on each method rather than a distinct
// async calling convention, matching the teacher's internal/sessions.Store.
type Store interface {
	CreateSession(ctx context.Context, metadata map[string]any) (string, error)
	SaveMessage(ctx context.Context, id string, msg models.Message, tokens *int) error
	SaveMemory(ctx context.Context, id string, systemMessages, messages []models.Message) error
	// LoadSession returns (nil, nil) if id is unknown, matching spec's "→ {...}?" optional-result shape.
	LoadSession(ctx context.Context, id string) (*LoadResult, error)
	ListSessions(ctx context.Context, limit, offset int) ([]models.SessionSummary, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
	// GetSessionStats returns (nil, nil) if id is unknown.
	GetSessionStats(ctx context.Context, id string) (*models.SessionStats, error)
}

// MemoryStore is an in-memory Store implementation for tests and local
// runs, adapted from the teacher's internal/sessions.MemoryStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	order    []string
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*models.Session{}}
}

func (m *MemoryStore) CreateSession(ctx context.Context, metadata map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	now := time.Now()
	m.sessions[id] = &models.Session{ID: id, CreatedAt: now, UpdatedAt: now}
	m.order = append(m.order, id)
	_ = metadata // metadata is accepted for interface parity; this reference store does not index by it
	return id, nil
}

func (m *MemoryStore) SaveMessage(ctx context.Context, id string, msg models.Message, tokens *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return models.NewRuntimeError(models.InvalidInput, "save_message: unknown session "+id, nil)
	}
	session.Messages = append(session.Messages, msg)
	session.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SaveMemory(ctx context.Context, id string, systemMessages, messages []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return models.NewRuntimeError(models.InvalidInput, "save_memory: unknown session "+id, nil)
	}
	session.SystemMessages = append([]models.Message{}, systemMessages...)
	session.Messages = append([]models.Message{}, messages...)
	session.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) LoadSession(ctx context.Context, id string) (*LoadResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &LoadResult{
		SystemMessages: append([]models.Message{}, session.SystemMessages...),
		Messages:       append([]models.Message{}, session.Messages...),
		Stats:          statsFor(session),
	}, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, limit, offset int) ([]models.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(m.order) {
		return nil, nil
	}
	ids := m.order[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]models.SessionSummary, 0, len(ids))
	for _, id := range ids {
		session := m.sessions[id]
		out = append(out, models.SessionSummary{ID: session.ID, CreatedAt: session.CreatedAt, UpdatedAt: session.UpdatedAt})
	}
	return out, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false, nil
	}
	delete(m.sessions, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryStore) GetSessionStats(ctx context.Context, id string) (*models.SessionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	stats := statsFor(session)
	return &stats, nil
}

func statsFor(session *models.Session) models.SessionStats {
	tokens := 0
	for _, msg := range session.Messages {
		tokens += len(msg.Text()) / 4
	}
	return models.SessionStats{
		MessageCount: len(session.Messages),
		TotalTokens:  tokens,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
	}
}
