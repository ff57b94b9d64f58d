package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/alphacourse/backend/internal/auth"
	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/models"
)

// LoginCookie holds the login token for browser clients.
const LoginCookie = "alpha_session"

// TokenParser verifies login tokens.
type TokenParser interface {
	Parse(token string) (models.Identity, error)
}

// LoginToken extracts the login token from a Bearer header or the login cookie.
func LoginToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(LoginCookie); err == nil {
		return c.Value
	}
	return ""
}

// RequireLogin rejects requests without a valid login token and stores the
// caller identity in the request context.
func RequireLogin(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := parser.Parse(LoginToken(r))
			if err != nil {
				logging.FromContext(r.Context()).Debug("login token rejected", "error", err)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			logger := logging.FromContext(r.Context()).With("userId", id.UserID)
			ctx := logging.WithLogger(r.Context(), logger)
			ctx = auth.WithIdentity(ctx, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run after RequireLogin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}
