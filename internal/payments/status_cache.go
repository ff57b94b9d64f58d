package payments

import (
	"context"
	"sync"
	"time"
)

// StatusFetcher returns the gateway's view of a payment.
type StatusFetcher interface {
	FetchPaymentStatus(ctx context.Context, paymentID string) (PaymentStatus, error)
}

type statusEntry struct {
	status  PaymentStatus
	expires time.Time
}

// CachingStatusFetcher absorbs bursts of client polls by caching gateway
// answers for a short TTL. Errors are never cached.
type CachingStatusFetcher struct {
	base StatusFetcher
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	items map[string]statusEntry
}

// NewCachingStatusFetcher wraps base. A non-positive ttl disables caching.
func NewCachingStatusFetcher(base StatusFetcher, ttl time.Duration) *CachingStatusFetcher {
	return &CachingStatusFetcher{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]statusEntry),
	}
}

// FetchPaymentStatus returns a cached answer when fresh, otherwise it asks
// the underlying fetcher and stores the result.
func (c *CachingStatusFetcher) FetchPaymentStatus(ctx context.Context, paymentID string) (PaymentStatus, error) {
	if c.ttl <= 0 {
		return c.base.FetchPaymentStatus(ctx, paymentID)
	}

	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[paymentID]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.status, nil
	}

	status, err := c.base.FetchPaymentStatus(ctx, paymentID)
	if err != nil {
		return PaymentStatus{}, err
	}

	c.mu.Lock()
	c.items[paymentID] = statusEntry{status: status, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return status, nil
}

// Purge drops expired entries and reports how many were removed.
func (c *CachingStatusFetcher) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, id)
			removed++
		}
	}
	return removed
}
