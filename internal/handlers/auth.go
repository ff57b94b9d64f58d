package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alphacourse/backend/internal/auth"
	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/middleware"
	"github.com/alphacourse/backend/internal/repositories"
)

// ViewingCookie carries the course viewing token.
const ViewingCookie = "video_token"

// AuthHandler implements login and logout endpoints.
type AuthHandler struct {
	Users        UserStore
	Tokens       LoginTokens
	Viewing      ViewingSessions
	Limiter      RateLimiter
	SecureCookie bool
}

// Login handles POST /api/v1/auth/login requests.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Tokens == nil {
		logger.Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasTokens", h.Tokens != nil)
		respondMessage(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	if !allowRequest(h.Limiter, r, "login") {
		respondMessage(ctx, w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logger.Warn("invalid login payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.Users.FindByUsername(ctx, req.Username)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			logger.Error("login user lookup failed", "username", req.Username, "error", err)
			respondMessage(ctx, w, http.StatusInternalServerError, "internal server error")
			return
		}
		logger.Warn("login unknown user", "username", req.Username)
		respondMessage(ctx, w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		logger.Warn("login password mismatch", "userId", user.ID)
		respondMessage(ctx, w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}

	token, expiresAt, err := h.Tokens.Sign(user)
	if err != nil {
		logger.Error("failed to sign login token", "userId", user.ID, "error", err)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.LoginCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	logger.Info("user logged in", "userId", user.ID, "role", user.Role)
	respondJSON(ctx, w, http.StatusOK, loginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt,
		Username:  user.Username,
		Role:      user.Role,
		HasPaid:   user.HasPaid,
	})
}

// Logout handles POST /api/v1/auth/logout. It revokes the viewing token held
// by this browser and clears both cookies.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if c, err := r.Cookie(ViewingCookie); err == nil && c.Value != "" && h.Viewing != nil {
		if err := h.Viewing.Revoke(ctx, c.Value); err != nil {
			logging.FromContext(ctx).Error("failed to revoke viewing token", "error", err)
		}
	}

	clearCookie(w, middleware.LoginCookie, h.SecureCookie)
	clearCookie(w, ViewingCookie, h.SecureCookie)
	respondJSON(ctx, w, http.StatusOK, successResponse{Success: true})
}

func clearCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	HasPaid   bool      `json:"has_paid"`
}

type successResponse struct {
	Success bool `json:"success"`
}
