package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alphacourse/backend/internal/auth"
	"github.com/alphacourse/backend/internal/config"
	"github.com/alphacourse/backend/internal/db"
	"github.com/alphacourse/backend/internal/entitlements"
	"github.com/alphacourse/backend/internal/handlers"
	"github.com/alphacourse/backend/internal/metrics"
	"github.com/alphacourse/backend/internal/middleware"
	"github.com/alphacourse/backend/internal/payments"
	"github.com/alphacourse/backend/internal/repositories"
	"github.com/alphacourse/backend/internal/storage"
	"github.com/alphacourse/backend/internal/streaming"
	"github.com/alphacourse/backend/internal/workers"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. The returned cleanup stops background work and closes clients.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (handlers.Dependencies, func(context.Context) error, error) {
	var closers []func(context.Context) error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (handlers.Dependencies, func(context.Context) error, error) {
		_ = cleanup(context.Background())
		return handlers.Dependencies{}, nil, err
	}

	checks := map[string]handlers.Pinger{"database": pingFunc(pool.Ping)}

	users := repositories.NewPostgresUserRepository(pool)
	ents := entitlements.NewService(users, m)
	tokens := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.LoginTTL)

	var sessionStore auth.SessionStore = auth.NewInMemorySessionStore()
	if cfg.Redis.Addr != "" {
		client, err := repositories.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) error { return client.Close() })
		checks["redis"] = pingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
		sessionStore = repositories.NewRedisSessionStore(client)
	}
	issuer := auth.NewIssuer(cfg.Viewing.SessionTTL, sessionStore, m)

	var ledgerStore payments.LedgerStore
	switch cfg.Payments.LedgerBackend {
	case config.LedgerPostgres:
		ledgerStore = repositories.NewPostgresLedgerStore(pool)
	default:
		logger.Warn("payment ledger is in memory; in-flight payments are lost on restart")
		ledgerStore = payments.NewMemoryLedgerStore()
	}
	ledger := payments.NewLedger(ledgerStore, cfg.Payments.Retention)

	reconciler := payments.NewReconciler(ledger, ents, payments.NewSignatureVerifier(cfg.Gateway.IPNSecret), m)
	gateway := payments.NewClient(payments.ClientOptions{
		BaseURL:          cfg.Gateway.BaseURL,
		APIKey:           cfg.Gateway.APIKey,
		CallbackURL:      cfg.Gateway.CallbackURL,
		OrderDescription: cfg.Gateway.OrderDescription,
		Timeout:          cfg.Gateway.Timeout,
		Metrics:          m,
	})
	statusCache := payments.NewCachingStatusFetcher(gateway, cfg.Payments.StatusCacheTTL)
	paymentService, err := payments.NewService(payments.ServiceOptions{
		Gateway:    gateway,
		Status:     statusCache,
		Ledger:     ledger,
		Reconciler: reconciler,
		Price:      cfg.CoursePriceUSD,
		Metrics:    m,
	})
	if err != nil {
		return fail(err)
	}

	var library streaming.Library
	if cfg.ObjectStore.Bucket != "" {
		client, err := storage.NewS3Client(ctx, cfg.ObjectStore)
		if err != nil {
			return fail(fmt.Errorf("configure object store: %w", err))
		}
		library = storage.NewS3Library(client, cfg.ObjectStore.Bucket, cfg.ObjectStore.Prefix)
	} else {
		library = streaming.NewFileLibrary(cfg.CourseDir)
	}
	gate := streaming.NewGate(issuer, ents, library, streaming.LogAuditor{}, m)

	sweeper := workers.NewSweeper(cfg.Payments.SweepInterval, logger,
		workers.Task{Name: "ledger", Run: ledger.Sweep},
		workers.Task{Name: "viewing_sessions", Run: issuer.Sweep},
		workers.Task{Name: "status_cache", Run: func(context.Context) (int, error) { return statusCache.Purge(), nil }},
	)
	closers = append(closers, sweeper.Shutdown)

	deps := handlers.Dependencies{
		Users:         users,
		Tokens:        tokens,
		Viewing:       issuer,
		Payments:      paymentService,
		Notifications: reconciler,
		Entitlements:  ents,
		Gate:          gate,
		Limiter:       middleware.NewKeyedRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, 0),
		HealthChecks:  checks,
		SecureCookie:  cfg.Auth.SecureCookie,
	}
	if m != nil {
		deps.Metrics = m.Handler()
	}

	logger.Info("dependencies ready",
		"ledgerBackend", cfg.Payments.LedgerBackend,
		"redisSessions", cfg.Redis.Addr != "",
		"objectStore", cfg.ObjectStore.Bucket != "",
	)
	return deps, cleanup, nil
}
