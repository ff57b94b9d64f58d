// Package entitlements tracks whether a user has paid for the course.
//
// The durable flag lives with the user record (see repositories); this package
// adds the per-user serialization that keeps concurrent grants from a webhook
// and a manual confirmation from losing updates.
package entitlements

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/metrics"
)

// ErrUserNotFound indicates the entitlement store has no record for the user.
var ErrUserNotFound = errors.New("user not found")

// Store is the durable entitlement record backing the service.
type Store interface {
	GetEntitlement(ctx context.Context, userID int64) (bool, error)
	SetEntitlement(ctx context.Context, userID int64, paid bool) error
}

// Service serializes entitlement writes per user id.
type Service struct {
	store   Store
	metrics *metrics.Metrics
	locks   userLocks
}

// NewService wraps store. metrics may be nil.
func NewService(store Store, m *metrics.Metrics) *Service {
	if store == nil {
		panic("entitlements: store must not be nil")
	}
	return &Service{
		store:   store,
		metrics: m,
		locks:   userLocks{held: make(map[int64]*userLock)},
	}
}

// HasAccess reads the entitlement flag from the store. It is never cached.
func (s *Service) HasAccess(ctx context.Context, userID int64) (bool, error) {
	return s.store.GetEntitlement(ctx, userID)
}

// Grant marks the user as paid. It reports whether the flag changed; granting
// an already entitled user is a successful no-op.
func (s *Service) Grant(ctx context.Context, userID int64, source string) (bool, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	paid, err := s.store.GetEntitlement(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("read entitlement for user %d: %w", userID, err)
	}
	if paid {
		return false, nil
	}

	if err := s.store.SetEntitlement(ctx, userID, true); err != nil {
		return false, fmt.Errorf("grant entitlement for user %d: %w", userID, err)
	}

	s.metrics.EntitlementGranted(source)
	logging.FromContext(ctx).Info("entitlement granted", "userId", userID, "source", source)
	return true, nil
}

// Set writes the flag unconditionally under the user's lock.
func (s *Service) Set(ctx context.Context, userID int64, paid bool) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	if err := s.store.SetEntitlement(ctx, userID, paid); err != nil {
		return fmt.Errorf("set entitlement for user %d: %w", userID, err)
	}
	return nil
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// userLocks hands out one mutex per user id and forgets it once unused.
type userLocks struct {
	mu   sync.Mutex
	held map[int64]*userLock
}

func (l *userLocks) lock(userID int64) func() {
	l.mu.Lock()
	ul, ok := l.held[userID]
	if !ok {
		ul = &userLock{}
		l.held[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()

	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.held, userID)
		}
		l.mu.Unlock()
	}
}
