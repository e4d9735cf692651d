package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

// Store implements ports.CheckpointStore in memory.
// Safe for concurrent use. Checkpoints are deep-copied on the way in and out.
type Store struct {
	data map[string][]*domain.Checkpoint
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]*domain.Checkpoint),
	}
}

// Save appends the checkpoint to the session history.
func (s *Store) Save(ctx context.Context, sessionID string, cp *domain.Checkpoint) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	copied := cp.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.data[sessionID]
	if n := len(history); n > 0 && history[n-1].Version >= cp.Version {
		return fmt.Errorf("%w: session %s has version %d, got %d",
			domain.ErrStaleCheckpoint, sessionID, history[n-1].Version, cp.Version)
	}
	s.data[sessionID] = append(history, copied)
	return nil
}

// Load retrieves the newest checkpoint.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[sessionID]
	if !ok || len(history) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return history[len(history)-1].Clone(), nil
}

// History returns copies of every checkpoint, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := make([]*domain.Checkpoint, len(history))
	for i, cp := range history {
		out[i] = cp.Clone()
	}
	return out, nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns stored sessions.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		sessions = append(sessions, id)
	}
	return sessions, nil
}
