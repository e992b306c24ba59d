package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/quill/internal/metrics"
	"github.com/meridianhq/quill/internal/models"
)

// ErrNotFound is returned when a session ID resolves to nothing.
var ErrNotFound = errors.New("session not found")

// Store holds sessions for status polling. Each session has exactly one
// logical writer (the pipeline); reads may come from anywhere at any time.
type Store interface {
	Create(ctx context.Context, query string, deadline time.Time) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the in-process store. Values are copied on the way in and
// out so callers never share the stored struct.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.Session)}
}

func (m *MemoryStore) Create(_ context.Context, query string, deadline time.Time) (*models.Session, error) {
	s := models.Session{
		ID:        uuid.New().String(),
		Query:     query,
		Status:    models.StatusFetching,
		Deadline:  deadline,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	metrics.SessionStoreSize.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	out := s
	return &out, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := s
	return &out, nil
}

func (m *MemoryStore) Update(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	s.UpdatedAt = time.Now()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	metrics.SessionStoreSize.Set(float64(len(m.sessions)))
	return nil
}
