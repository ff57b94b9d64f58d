package entitlements

import (
	"context"
	"sync"
)

// MemoryStore implements Store for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[int64]bool
}

// NewMemoryStore returns a store knowing the provided users and their flags.
func NewMemoryStore(users map[int64]bool) *MemoryStore {
	copied := make(map[int64]bool, len(users))
	for id, paid := range users {
		copied[id] = paid
	}
	return &MemoryStore{users: copied}
}

// GetEntitlement returns the flag or ErrUserNotFound.
func (s *MemoryStore) GetEntitlement(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paid, ok := s.users[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	return paid, nil
}

// SetEntitlement updates the flag of a known user.
func (s *MemoryStore) SetEntitlement(_ context.Context, userID int64, paid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrUserNotFound
	}
	s.users[userID] = paid
	return nil
}
