// internal/lobby/store.go
package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/duel-learn/pvp-service/internal/models"
)

// Store is the durable backing for lobby rows. The production implementation
// lives in internal/database (Postgres); MemoryStore backs tests and
// single-node dev runs.
//
// Update must reject writes whose Version does not match the stored row
// (ErrStaleWrite) and bump the version on success.
type Store interface {
	Insert(ctx context.Context, l *models.Lobby) error
	Get(ctx context.Context, code string) (*models.Lobby, error)
	Update(ctx context.Context, l *models.Lobby) error
	Delete(ctx context.Context, code string) error
}

// MemoryStore is an in-memory Store keyed by lobby code.
type MemoryStore struct {
	mu      sync.Mutex
	lobbies map[string]*models.Lobby
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lobbies: make(map[string]*models.Lobby)}
}

// Insert stores a new lobby row, failing with ErrCodeTaken on collision.
func (s *MemoryStore) Insert(_ context.Context, l *models.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.lobbies[l.Code]; exists {
		return ErrCodeTaken
	}
	cp := l.Clone()
	cp.Version = 1
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.lobbies[l.Code] = cp
	l.Version = cp.Version
	l.CreatedAt = cp.CreatedAt
	l.UpdatedAt = cp.UpdatedAt
	return nil
}

// Get returns a copy of the stored row or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, code string) (*models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[code]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

// Update writes the row back, guarded by the version the caller read.
func (s *MemoryStore) Update(_ context.Context, l *models.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.lobbies[l.Code]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != l.Version {
		return ErrStaleWrite
	}
	cp := l.Clone()
	cp.Version = cur.Version + 1
	cp.CreatedAt = cur.CreatedAt
	cp.UpdatedAt = time.Now()
	s.lobbies[l.Code] = cp
	l.Version = cp.Version
	l.UpdatedAt = cp.UpdatedAt
	return nil
}

// Delete removes the row if present.
func (s *MemoryStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lobbies[code]; !ok {
		return ErrNotFound
	}
	delete(s.lobbies, code)
	return nil
}
