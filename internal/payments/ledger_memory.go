package payments

import (
	"context"
	"sync"
	"time"
)

// MemoryLedgerStore keeps ledger entries in process memory. A restart loses
// every in-flight payment.
type MemoryLedgerStore struct {
	mu      sync.Mutex
	entries map[string]PendingPayment
}

// NewMemoryLedgerStore returns an empty store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{entries: make(map[string]PendingPayment)}
}

func (s *MemoryLedgerStore) Insert(_ context.Context, p PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[p.PaymentID]; ok {
		return ErrDuplicatePayment
	}
	s.entries[p.PaymentID] = p
	return nil
}

func (s *MemoryLedgerStore) Update(_ context.Context, paymentID string, fn func(*PendingPayment) bool) (PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[paymentID]
	if !ok {
		return PendingPayment{}, ErrPaymentNotFound
	}
	if fn(&p) {
		s.entries[paymentID] = p
	}
	return p, nil
}

func (s *MemoryLedgerStore) Get(_ context.Context, paymentID string) (PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[paymentID]
	if !ok {
		return PendingPayment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (s *MemoryLedgerStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, p := range s.entries {
		if p.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}
