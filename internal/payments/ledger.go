package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alphacourse/backend/internal/logging"
)

// DefaultRetention is how long ledger entries survive before Sweep removes them.
const DefaultRetention = 48 * time.Hour

// PendingPayment is the local record of a payment created through the gateway.
type PendingPayment struct {
	PaymentID string
	UserID    int64
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerStore persists ledger entries. Update must apply fn atomically for a
// single payment id; fn reports whether the entry should be written back and
// may be invoked again if the store retries.
type LedgerStore interface {
	Insert(ctx context.Context, p PendingPayment) error
	Update(ctx context.Context, paymentID string, fn func(*PendingPayment) bool) (PendingPayment, error)
	Get(ctx context.Context, paymentID string) (PendingPayment, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Ledger applies the status transition rules on top of a LedgerStore.
type Ledger struct {
	store     LedgerStore
	retention time.Duration
	now       func() time.Time
}

// NewLedger wraps store. A non-positive retention uses DefaultRetention.
func NewLedger(store LedgerStore, retention time.Duration) *Ledger {
	if store == nil {
		panic("payments: ledger store must not be nil")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Ledger{store: store, retention: retention, now: time.Now}
}

// Record inserts a new entry in the waiting state.
func (l *Ledger) Record(ctx context.Context, paymentID string, userID int64) (PendingPayment, error) {
	now := l.now().UTC()
	p := PendingPayment{
		PaymentID: paymentID,
		UserID:    userID,
		Status:    StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.Insert(ctx, p); err != nil {
		return PendingPayment{}, fmt.Errorf("record payment %s: %w", paymentID, err)
	}
	return p, nil
}

// UpdateStatus moves paymentID to status when the transition is allowed.
// Unknown payments and rejected transitions are logged and reported with
// applied == false; neither is an error.
func (l *Ledger) UpdateStatus(ctx context.Context, paymentID string, status Status) (PendingPayment, bool, error) {
	logger := logging.FromContext(ctx)

	var from Status
	applied := false
	p, err := l.store.Update(ctx, paymentID, func(p *PendingPayment) bool {
		from, applied = p.Status, false
		if !CanTransition(p.Status, status) {
			return false
		}
		p.Status = status
		p.UpdatedAt = l.now().UTC()
		applied = true
		return true
	})
	if errors.Is(err, ErrPaymentNotFound) {
		logger.Info("status update for unknown payment ignored", "paymentId", paymentID, "status", status)
		return PendingPayment{}, false, nil
	}
	if err != nil {
		return PendingPayment{}, false, fmt.Errorf("update payment %s: %w", paymentID, err)
	}
	if !applied && from != status {
		logger.Info("payment status transition rejected", "paymentId", paymentID, "from", from, "to", status)
	}
	return p, applied, nil
}

// Get returns the entry for paymentID or ErrPaymentNotFound.
func (l *Ledger) Get(ctx context.Context, paymentID string) (PendingPayment, error) {
	return l.store.Get(ctx, paymentID)
}

// Sweep removes entries created before the retention window.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	cutoff := l.now().UTC().Add(-l.retention)
	n, err := l.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep ledger: %w", err)
	}
	return n, nil
}
