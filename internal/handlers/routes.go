package handlers

import (
	"net/http"

	"github.com/alphacourse/backend/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Checks: deps.HealthChecks}
	authn := AuthHandler{
		Users:        deps.Users,
		Tokens:       deps.Tokens,
		Viewing:      deps.Viewing,
		Limiter:      deps.Limiter,
		SecureCookie: deps.SecureCookie,
	}
	pay := PaymentHandler{
		Payments:      deps.Payments,
		Notifications: deps.Notifications,
		Entitlements:  deps.Entitlements,
		Limiter:       deps.Limiter,
	}
	course := CourseHandler{
		Entitlements: deps.Entitlements,
		Viewing:      deps.Viewing,
		Gate:         deps.Gate,
		SecureCookie: deps.SecureCookie,
	}

	login := middleware.RequireLogin(deps.Tokens)
	admin := func(h http.HandlerFunc) http.Handler { return login(middleware.RequireAdmin(h)) }

	mux.HandleFunc("GET /healthz", health.Handle)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	mux.HandleFunc("POST /api/v1/auth/login", authn.Login)
	mux.HandleFunc("POST /api/v1/auth/logout", authn.Logout)

	mux.Handle("POST /api/v1/payments/crypto", login(http.HandlerFunc(pay.Create)))
	mux.Handle("GET /api/v1/payments/{paymentID}", login(http.HandlerFunc(pay.Status)))
	mux.HandleFunc("POST /api/v1/payments/webhook", pay.Webhook)
	mux.Handle("POST /api/v1/payments/confirm", admin(pay.Confirm))

	mux.Handle("POST /api/v1/course/session", login(http.HandlerFunc(course.Session)))
	mux.Handle("GET /api/v1/course/videos/{segment}", login(http.HandlerFunc(course.Video)))
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users         UserStore
	Tokens        LoginTokens
	Viewing       ViewingSessions
	Payments      PaymentService
	Notifications NotificationHandler
	Entitlements  EntitlementService
	Gate          StreamGate
	Limiter       RateLimiter
	Metrics       http.Handler
	HealthChecks  map[string]Pinger
	SecureCookie  bool
}
