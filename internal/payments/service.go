// Package payments implements the crypto payment lifecycle: gateway calls,
// the local payment ledger and reconciliation of gateway status reports into
// course entitlements.
package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/metrics"
)

// Gateway is the subset of the gateway client the service depends on.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreateRequest) (Payment, error)
	FetchPaymentStatus(ctx context.Context, paymentID string) (PaymentStatus, error)
}

// ServiceOptions wire a Service.
type ServiceOptions struct {
	Gateway Gateway
	// Status overrides how statuses are fetched, e.g. with a cache. Defaults
	// to Gateway.
	Status     StatusFetcher
	Ledger     *Ledger
	Reconciler *Reconciler
	Price      decimal.Decimal
	Metrics    *metrics.Metrics
}

// Service coordinates payment creation and client polling.
type Service struct {
	gateway    Gateway
	status     StatusFetcher
	ledger     *Ledger
	reconciler *Reconciler
	price      decimal.Decimal
	metrics    *metrics.Metrics
}

// NewService validates opts and returns a Service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Gateway == nil || opts.Ledger == nil || opts.Reconciler == nil {
		return nil, fmt.Errorf("payments: gateway, ledger and reconciler are required")
	}
	if !opts.Price.IsPositive() {
		return nil, fmt.Errorf("payments: price must be positive, got %s", opts.Price)
	}
	status := opts.Status
	if status == nil {
		status = opts.Gateway
	}
	return &Service{
		gateway:    opts.Gateway,
		status:     status,
		ledger:     opts.Ledger,
		reconciler: opts.Reconciler,
		price:      opts.Price,
		metrics:    opts.Metrics,
	}, nil
}

// Price is the course price in USD.
func (s *Service) Price() decimal.Decimal {
	return s.price
}

// Create opens a gateway payment for userID and records it as waiting.
// Unsupported currencies fail before the gateway or ledger are touched.
func (s *Service) Create(ctx context.Context, userID int64, currency string) (Payment, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if !IsSupportedCurrency(currency) {
		err := fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
		s.metrics.PaymentCreated("invalid", err)
		return Payment{}, err
	}

	payment, err := s.gateway.CreatePayment(ctx, CreateRequest{
		UserID:    userID,
		Currency:  currency,
		AmountUSD: s.price,
	})
	s.metrics.PaymentCreated(currency, err)
	if err != nil {
		return Payment{}, err
	}

	if _, err := s.ledger.Record(ctx, payment.PaymentID, userID); err != nil {
		return Payment{}, err
	}

	logging.FromContext(ctx).Info("payment created",
		"paymentId", payment.PaymentID,
		"userId", userID,
		"currency", payment.PayCurrency,
		"orderId", payment.OrderID,
	)
	return payment, nil
}

// Poll fetches the gateway status of paymentID for its owner and reconciles
// it, so a confirmed payment grants access even if the webhook never arrives.
func (s *Service) Poll(ctx context.Context, userID int64, paymentID string) (PaymentStatus, error) {
	if !ValidPaymentID(paymentID) {
		return PaymentStatus{}, ErrInvalidPaymentID
	}

	status, err := s.status.FetchPaymentStatus(ctx, paymentID)
	if err != nil {
		return PaymentStatus{}, err
	}
	if _, err := s.reconciler.ReconcilePolled(ctx, userID, status); err != nil {
		return PaymentStatus{}, err
	}
	return status, nil
}

// Sweep garbage collects the ledger.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.ledger.Sweep(ctx)
}
