package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/payments"
	"github.com/alphacourse/backend/internal/streaming"
)

// maxBodyBytes bounds request bodies, including gateway notifications.
const maxBodyBytes = 64 << 10

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondMessage(ctx context.Context, w http.ResponseWriter, status int, message string) {
	respondJSON(ctx, w, status, errorResponse{Success: false, Message: message})
}

// respondError maps domain errors onto the HTTP error taxonomy.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status, message := classifyError(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusGatewayTimeout {
		logging.FromContext(ctx).Error("unhandled error", "error", err)
	}
	respondMessage(ctx, w, status, message)
}

func classifyError(err error) (int, string) {
	var gwErr *payments.GatewayError
	switch {
	case errors.Is(err, payments.ErrInvalidCurrency),
		errors.Is(err, payments.ErrInvalidPaymentID),
		errors.Is(err, streaming.ErrInvalidSegment):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, payments.ErrMalformedNotification):
		return http.StatusBadRequest, payments.ErrMalformedNotification.Error()
	case errors.Is(err, payments.ErrInvalidSignature):
		return http.StatusUnauthorized, payments.ErrInvalidSignature.Error()
	case errors.Is(err, streaming.ErrMediaNotFound):
		return http.StatusNotFound, streaming.ErrMediaNotFound.Error()
	case errors.Is(err, streaming.ErrAccessDenied):
		return http.StatusForbidden, streaming.ErrAccessDenied.Error()
	case errors.Is(err, payments.ErrPaymentNotFound):
		return http.StatusNotFound, payments.ErrPaymentNotFound.Error()
	case errors.As(err, &gwErr):
		return http.StatusBadGateway, gwErr.Error()
	case errors.Is(err, payments.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, payments.ErrUpstreamTimeout.Error()
	case errors.Is(err, payments.ErrGatewayUnreachable):
		return http.StatusBadGateway, payments.ErrGatewayUnreachable.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
