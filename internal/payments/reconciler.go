package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/metrics"
)

// Reconciliation sources reported in logs, metrics and entitlement grants.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceAdmin   = "admin"
)

// Grantor marks a user as entitled. Grant must be idempotent.
type Grantor interface {
	Grant(ctx context.Context, userID int64, source string) (bool, error)
}

// Notification is a status change reported by the gateway.
type Notification struct {
	PaymentID        string
	Status           string
	OrderID          string
	OrderDescription string
	PayAmount        decimal.Decimal
	ActuallyPaid     decimal.Decimal
	PayCurrency      string
}

// Outcome describes what a reconciliation changed.
type Outcome struct {
	PaymentID string
	UserID    int64
	Status    string
	// LedgerUpdated is true when the ledger accepted the transition.
	LedgerUpdated bool
	// Granted is true when this notification flipped the entitlement.
	Granted bool
}

type notificationBody struct {
	PaymentID        gatewayID       `json:"payment_id"`
	PaymentStatus    string          `json:"payment_status"`
	OrderID          string          `json:"order_id"`
	OrderDescription string          `json:"order_description"`
	PayAmount        decimal.Decimal `json:"pay_amount"`
	ActuallyPaid     decimal.Decimal `json:"actually_paid"`
	PayCurrency      string          `json:"pay_currency"`
}

// DecodeNotification parses an IPN body.
func DecodeNotification(body []byte) (Notification, error) {
	var nb notificationBody
	if err := json.Unmarshal(body, &nb); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	return Notification{
		PaymentID:        string(nb.PaymentID),
		Status:           nb.PaymentStatus,
		OrderID:          nb.OrderID,
		OrderDescription: nb.OrderDescription,
		PayAmount:        nb.PayAmount,
		ActuallyPaid:     nb.ActuallyPaid,
		PayCurrency:      nb.PayCurrency,
	}, nil
}

// ExtractUserID recovers the payer from the order description, falling back
// to the order id.
func ExtractUserID(description, orderID string) (int64, bool) {
	if id, ok := UserFromDescription(description); ok {
		return id, true
	}
	return UserFromOrderID(orderID)
}

// Reconciler drives entitlement grants from gateway status reports.
type Reconciler struct {
	ledger   *Ledger
	grants   Grantor
	verifier *SignatureVerifier
	metrics  *metrics.Metrics
}

// NewReconciler wires the ledger, entitlement grantor and IPN verifier.
func NewReconciler(ledger *Ledger, grants Grantor, verifier *SignatureVerifier, m *metrics.Metrics) *Reconciler {
	return &Reconciler{ledger: ledger, grants: grants, verifier: verifier, metrics: m}
}

// HandleNotification verifies and applies a raw IPN body. Nothing is mutated
// unless the signature verifies and the user id can be recovered.
func (r *Reconciler) HandleNotification(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if err := r.verifier.Verify(body, signature); err != nil {
		r.metrics.Notification(SourceWebhook, "invalid_signature")
		logging.FromContext(ctx).Warn("payment notification rejected", "reason", "invalid signature")
		return Outcome{}, err
	}

	n, err := DecodeNotification(body)
	if err != nil {
		r.metrics.Notification(SourceWebhook, "malformed")
		return Outcome{}, err
	}
	return r.Reconcile(ctx, SourceWebhook, n)
}

// Reconcile applies a decoded notification: ledger transition, then a grant
// when the reported status is confirmed or finished.
func (r *Reconciler) Reconcile(ctx context.Context, source string, n Notification) (out Outcome, err error) {
	ctx, span := logging.StartSpan(ctx, "payments.reconcile", "paymentId", n.PaymentID, "source", source)
	defer func() { span.End(err) }()
	logger := logging.FromContext(ctx)

	logger.Info("payment notification",
		slog.String("paymentId", n.PaymentID),
		slog.String("status", n.Status),
		slog.String("source", source),
	)

	userID, ok := ExtractUserID(n.OrderDescription, n.OrderID)
	if !ok {
		r.metrics.Notification(source, "malformed")
		return Outcome{}, fmt.Errorf("%w: no user id in order description %q", ErrMalformedNotification, n.OrderDescription)
	}

	out = Outcome{PaymentID: n.PaymentID, UserID: userID, Status: n.Status}

	if n.PaymentID != "" {
		entry, err := r.ledger.Get(ctx, n.PaymentID)
		switch {
		case err == nil && entry.UserID != userID:
			r.metrics.Notification(source, "malformed")
			return Outcome{}, fmt.Errorf("%w: payment %s belongs to another user", ErrMalformedNotification, n.PaymentID)
		case err != nil && !errors.Is(err, ErrPaymentNotFound):
			return Outcome{}, err
		}
	}

	status, err := ParseStatus(n.Status)
	if err != nil {
		r.metrics.Notification(source, "unknown")
		logger.Info("payment status not tracked", "paymentId", n.PaymentID, "status", n.Status)
		return out, nil
	}
	r.metrics.Notification(source, string(status))

	if n.PaymentID != "" {
		_, applied, err := r.ledger.UpdateStatus(ctx, n.PaymentID, status)
		if err != nil {
			return Outcome{}, err
		}
		out.LedgerUpdated = applied
	}

	if status.Confirmed() {
		granted, err := r.grants.Grant(ctx, userID, source)
		if err != nil {
			return Outcome{}, fmt.Errorf("grant entitlement: %w", err)
		}
		out.Granted = granted
	}
	return out, nil
}

// ReconcilePolled applies a status fetched from the gateway on behalf of
// callerID. Payments owned by another user are reported as not found.
func (r *Reconciler) ReconcilePolled(ctx context.Context, callerID int64, ps PaymentStatus) (Outcome, error) {
	owner, err := r.owner(ctx, ps)
	if err != nil {
		return Outcome{}, err
	}
	if owner != callerID {
		return Outcome{}, ErrPaymentNotFound
	}

	return r.Reconcile(ctx, SourcePoll, Notification{
		PaymentID:        ps.PaymentID,
		Status:           ps.Status,
		OrderID:          ps.OrderID,
		OrderDescription: OrderDescription("", owner),
		PayAmount:        ps.PayAmount,
		ActuallyPaid:     ps.ActuallyPaid,
	})
}

func (r *Reconciler) owner(ctx context.Context, ps PaymentStatus) (int64, error) {
	entry, err := r.ledger.Get(ctx, ps.PaymentID)
	if err == nil {
		return entry.UserID, nil
	}
	if !errors.Is(err, ErrPaymentNotFound) {
		return 0, err
	}
	if id, ok := ExtractUserID(ps.OrderDescription, ps.OrderID); ok {
		return id, nil
	}
	return 0, ErrPaymentNotFound
}
