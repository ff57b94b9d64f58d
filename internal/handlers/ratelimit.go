package handlers

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/alphacourse/backend/internal/auth"
)

func allowRequest(limiter RateLimiter, r *http.Request, scope string) bool {
	if limiter == nil {
		return true
	}
	return limiter.Allow(rateLimitKey(r, scope))
}

// rateLimitKey buckets logged-in callers by user id and everyone else by IP.
func rateLimitKey(r *http.Request, scope string) string {
	caller := clientIP(r)
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		caller = fmt.Sprintf("user-%d", id.UserID)
	}
	if scope == "" {
		return caller
	}
	return scope + ":" + caller
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
