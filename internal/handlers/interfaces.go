package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/alphacourse/backend/internal/auth"
	"github.com/alphacourse/backend/internal/models"
	"github.com/alphacourse/backend/internal/payments"
	"github.com/alphacourse/backend/internal/streaming"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (models.User, error)
}

// LoginTokens signs and verifies login identity tokens.
type LoginTokens interface {
	Sign(user models.User) (string, time.Time, error)
	Parse(token string) (models.Identity, error)
}

// ViewingSessions issues and revokes course viewing tokens.
type ViewingSessions interface {
	Issue(ctx context.Context, userID int64, username string) (auth.ViewingSession, error)
	Revoke(ctx context.Context, token string) error
}

// PaymentService creates payments and polls their status.
type PaymentService interface {
	Create(ctx context.Context, userID int64, currency string) (payments.Payment, error)
	Poll(ctx context.Context, userID int64, paymentID string) (payments.PaymentStatus, error)
}

// NotificationHandler processes signed gateway notifications.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, body []byte, signature string) (payments.Outcome, error)
}

// EntitlementService reads and grants course access.
type EntitlementService interface {
	HasAccess(ctx context.Context, userID int64) (bool, error)
	Grant(ctx context.Context, userID int64, source string) (bool, error)
}

// StreamGate authorizes and serves course segments.
type StreamGate interface {
	Authorize(ctx context.Context, token string, userID int64, segment int) (streaming.Decision, error)
	Serve(w http.ResponseWriter, r *http.Request, d streaming.Decision) error
}

// RateLimiter is the minimal interface required to guard sensitive endpoints.
type RateLimiter interface {
	Allow(key string) bool
}
