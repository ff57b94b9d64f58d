package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alphacourse/backend/internal/auth"
	"github.com/alphacourse/backend/internal/entitlements"
	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/payments"
)

// PaymentHandler exposes payment creation, polling, gateway notifications and
// administrative confirmation.
type PaymentHandler struct {
	Payments      PaymentService
	Notifications NotificationHandler
	Entitlements  EntitlementService
	Limiter       RateLimiter
}

// Create handles POST /api/v1/payments/crypto.
func (h PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		respondMessage(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	if !allowRequest(h.Limiter, r, "payments") {
		respondMessage(ctx, w, http.StatusTooManyRequests, "too many payment requests")
		return
	}

	var req createPaymentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logging.FromContext(ctx).Warn("invalid payment payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	payment, err := h.Payments.Create(ctx, id.UserID, req.Crypto)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, createPaymentResponse{
		Success:       true,
		PaymentID:     payment.PaymentID,
		PayAddress:    payment.PayAddress,
		PayAmount:     payment.PayAmount,
		PayCurrency:   payment.PayCurrency,
		OrderID:       payment.OrderID,
		PaymentStatus: payment.Status,
	})
}

// Status handles GET /api/v1/payments/{paymentID}.
func (h PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		respondMessage(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	status, err := h.Payments.Poll(ctx, id.UserID, r.PathValue("paymentID"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	hasAccess, err := h.Entitlements.HasAccess(ctx, id.UserID)
	if err != nil && !errors.Is(err, entitlements.ErrUserNotFound) {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, paymentStatusResponse{
		Success:       true,
		PaymentID:     status.PaymentID,
		PaymentStatus: status.Status,
		HasAccess:     hasAccess,
		PayAmount:     status.PayAmount,
		ActuallyPaid:  status.ActuallyPaid,
		UpdatedAt:     status.UpdatedAt,
	})
}

// Webhook handles POST /api/v1/payments/webhook. The raw body is verified
// against the signature header before it is decoded.
func (h PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logging.FromContext(ctx).Warn("read notification body", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.Notifications.HandleNotification(ctx, body, r.Header.Get(payments.SignatureHeader)); err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, successResponse{Success: true})
}

// Confirm handles POST /api/v1/payments/confirm for administrators recording
// a payment settled outside the gateway.
func (h PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req confirmPaymentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logger.Warn("invalid confirm payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID <= 0 {
		respondMessage(ctx, w, http.StatusBadRequest, "user_id must be a positive integer")
		return
	}

	granted, err := h.Entitlements.Grant(ctx, req.UserID, payments.SourceAdmin)
	if err != nil {
		if errors.Is(err, entitlements.ErrUserNotFound) {
			respondMessage(ctx, w, http.StatusNotFound, entitlements.ErrUserNotFound.Error())
			return
		}
		respondError(ctx, w, err)
		return
	}

	admin, _ := auth.IdentityFromContext(ctx)
	logger.Info("payment confirmed by administrator", "userId", req.UserID, "adminId", admin.UserID, "granted", granted)
	respondJSON(ctx, w, http.StatusOK, successResponse{Success: true})
}

type createPaymentRequest struct {
	Crypto string `json:"crypto"`
}

type createPaymentResponse struct {
	Success       bool            `json:"success"`
	PaymentID     string          `json:"payment_id"`
	PayAddress    string          `json:"pay_address"`
	PayAmount     decimal.Decimal `json:"pay_amount"`
	PayCurrency   string          `json:"pay_currency"`
	OrderID       string          `json:"order_id"`
	PaymentStatus string          `json:"payment_status"`
}

type paymentStatusResponse struct {
	Success       bool            `json:"success"`
	PaymentID     string          `json:"payment_id"`
	PaymentStatus string          `json:"payment_status"`
	HasAccess     bool            `json:"has_access"`
	PayAmount     decimal.Decimal `json:"pay_amount"`
	ActuallyPaid  decimal.Decimal `json:"actually_paid"`
	UpdatedAt     string          `json:"updated_at,omitempty"`
}

type confirmPaymentRequest struct {
	UserID int64 `json:"user_id"`
}
