// Package store holds the durable slots for the current access/refresh token
// pair. Stores never validate what they hold.
//
// Error Contract:
// All stores follow this error pattern:
//   - Load returns an error wrapping sentinel.ErrNotFound when no pair is stored
//   - Save writes both slots in a single atomic operation
//   - Clear is idempotent and returns nil when nothing is stored
//   - infrastructure failures are returned wrapped with context
package store

import (
	"context"
	"fmt"
	"sync"

	"brewlog/internal/session/models"
	"brewlog/pkg/platform/sentinel"
)

// InMemoryStore keeps the token pair in process memory for tests/dev.
type InMemoryStore struct {
	mu   sync.RWMutex
	pair *models.TokenPair
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Load(_ context.Context) (*models.TokenPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair == nil {
		return nil, fmt.Errorf("token pair not found: %w", sentinel.ErrNotFound)
	}
	pair := *s.pair
	return &pair, nil
}

func (s *InMemoryStore) Save(_ context.Context, access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = &models.TokenPair{AccessToken: access, RefreshToken: refresh}
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	return nil
}
