package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/alphacourse/backend/internal/auth"
	"github.com/alphacourse/backend/internal/entitlements"
	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/streaming"
)

// CourseHandler issues viewing sessions and streams course segments.
type CourseHandler struct {
	Entitlements EntitlementService
	Viewing      ViewingSessions
	Gate         StreamGate
	SecureCookie bool
}

// Session handles POST /api/v1/course/session. Entitled callers receive a
// fresh viewing token; any token previously held by this browser is revoked.
func (h CourseHandler) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		respondMessage(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	paid, err := h.Entitlements.HasAccess(ctx, id.UserID)
	if err != nil && !errors.Is(err, entitlements.ErrUserNotFound) {
		respondError(ctx, w, err)
		return
	}
	if !paid {
		logger.Info("course session refused", "reason", streaming.ReasonNotEntitled)
		respondMessage(ctx, w, http.StatusForbidden, streaming.ErrAccessDenied.Error())
		return
	}

	if c, err := r.Cookie(ViewingCookie); err == nil && c.Value != "" {
		if err := h.Viewing.Revoke(ctx, c.Value); err != nil {
			logger.Warn("failed to revoke previous viewing token", "error", err)
		}
	}

	session, err := h.Viewing.Issue(ctx, id.UserID, id.Username)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ViewingCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})

	respondJSON(ctx, w, http.StatusOK, courseSessionResponse{
		Success:   true,
		Watermark: session.Watermark,
		ExpiresAt: session.ExpiresAt,
	})
}

// Video handles GET /api/v1/course/videos/{segment}.
func (h CourseHandler) Video(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		respondMessage(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	segment, err := streaming.ParseSegment(r.PathValue("segment"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	var token string
	if c, err := r.Cookie(ViewingCookie); err == nil {
		token = c.Value
	}

	decision, err := h.Gate.Authorize(ctx, token, id.UserID, segment)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	// Libraries only fail before the first byte is written.
	if err := h.Gate.Serve(w, r, decision); err != nil {
		respondError(ctx, w, err)
	}
}

type courseSessionResponse struct {
	Success   bool      `json:"success"`
	Watermark string    `json:"watermark"`
	ExpiresAt time.Time `json:"expires_at"`
}
