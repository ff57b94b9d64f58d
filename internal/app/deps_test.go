package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/alphacourse/backend/internal/auth"
	"github.com/alphacourse/backend/internal/config"
	"github.com/alphacourse/backend/internal/entitlements"
	"github.com/alphacourse/backend/internal/handlers"
	"github.com/alphacourse/backend/internal/metrics"
	"github.com/alphacourse/backend/internal/models"
	"github.com/alphacourse/backend/internal/repositories"
)

type fakePool struct{}

func (fakePool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, errors.New("not implemented")
}

func (fakePool) Ping(context.Context) error { return nil }

func (fakePool) Close() {}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		AppPort:        8080,
		CourseDir:      t.TempDir(),
		CoursePriceUSD: decimal.NewFromInt(50),
		Gateway: config.GatewayConfig{
			BaseURL:   "http://127.0.0.1:1",
			APIKey:    "test-key",
			IPNSecret: "ipn-secret",
			Timeout:   time.Second,
		},
		Auth:     config.AuthConfig{JWTSecret: "jwt-secret", LoginTTL: time.Hour},
		Viewing:  config.ViewingConfig{SessionTTL: time.Hour},
		Payments: config.PaymentsConfig{LedgerBackend: config.LedgerMemory, Retention: time.Hour, SweepInterval: time.Hour, StatusCacheTTL: time.Second},
		RateLimit: config.RateLimitConfig{
			Requests: 10,
			Window:   time.Minute,
			Burst:    5,
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func newTestMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	return metrics.NewWithRegistry(reg, reg)
}

func TestBuildDependencies(t *testing.T) {
	cfg := testConfig(t)

	deps, cleanup, err := buildDependencies(context.Background(), fakePool{}, cfg, quietLogger(), newTestMetrics())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanup == nil {
		t.Fatal("expected cleanup function")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := cleanup(ctx); err != nil {
			t.Fatalf("cleanup: %v", err)
		}
	}()

	if deps.Users == nil || deps.Tokens == nil || deps.Viewing == nil {
		t.Fatal("expected auth dependencies to be configured")
	}
	if deps.Payments == nil || deps.Notifications == nil || deps.Entitlements == nil {
		t.Fatal("expected payment dependencies to be configured")
	}
	if deps.Gate == nil {
		t.Fatal("expected stream gate to be configured")
	}
	if deps.Limiter == nil || deps.Metrics == nil {
		t.Fatal("expected limiter and metrics handler to be configured")
	}
	if _, ok := deps.HealthChecks["database"]; !ok {
		t.Fatal("expected database health check")
	}
}

func TestBuildDependenciesServesRoutes(t *testing.T) {
	cfg := testConfig(t)

	deps, cleanup, err := buildDependencies(context.Background(), fakePool{}, cfg, quietLogger(), newTestMetrics())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = cleanup(context.Background()) }()

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, deps)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy service, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader(`{"payment_id":"1","payment_status":"finished"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected unsigned notification to be rejected, got %d", rec.Code)
	}
}

func TestBuildDependenciesWithObjectStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObjectStore = config.ObjectStoreConfig{Bucket: "course-media", Endpoint: "http://localhost:9000", Region: "us-east-1"}

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	deps, cleanup, err := buildDependencies(context.Background(), fakePool{}, cfg, quietLogger(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = cleanup(context.Background()) }()

	if deps.Gate == nil {
		t.Fatal("expected stream gate to be configured")
	}
	if deps.Metrics != nil {
		t.Fatal("expected no metrics handler without metrics")
	}
}

type fakeUserAdmin struct {
	users map[int64]models.User
	next  int64
}

func (f *fakeUserAdmin) Create(_ context.Context, user models.User) (models.User, error) {
	for _, u := range f.users {
		if u.Username == user.Username {
			return models.User{}, repositories.ErrConflict
		}
	}
	f.next++
	user.ID = f.next
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeUserAdmin) FindByUsername(_ context.Context, username string) (models.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, repositories.ErrNotFound
}

func (f *fakeUserAdmin) FindByID(_ context.Context, id int64) (models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserAdmin) GetEntitlement(_ context.Context, id int64) (bool, error) {
	u, ok := f.users[id]
	if !ok {
		return false, entitlements.ErrUserNotFound
	}
	return u.HasPaid, nil
}

func (f *fakeUserAdmin) SetEntitlement(_ context.Context, id int64, paid bool) error {
	u, ok := f.users[id]
	if !ok {
		return entitlements.ErrUserNotFound
	}
	u.HasPaid = paid
	f.users[id] = u
	return nil
}

func TestUserCommand(t *testing.T) {
	ctx := context.Background()
	store := &fakeUserAdmin{users: make(map[int64]models.User)}
	var out bytes.Buffer

	if err := userCommand(ctx, store, []string{"create", "teacher", "s3cret-pass", "admin"}, &out); err != nil {
		t.Fatalf("create user: %v", err)
	}
	created, err := store.FindByUsername(ctx, "teacher")
	if err != nil {
		t.Fatalf("find created user: %v", err)
	}
	if created.Role != models.RoleAdmin {
		t.Fatalf("expected admin role, got %q", created.Role)
	}
	if err := auth.CheckPassword(created.PasswordHash, "s3cret-pass"); err != nil {
		t.Fatalf("expected stored password to be hashed: %v", err)
	}

	if err := userCommand(ctx, store, []string{"create", "teacher", "other-pass"}, &out); err == nil {
		t.Fatal("expected duplicate username to fail")
	}

	if err := userCommand(ctx, store, []string{"grant", "1"}, &out); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if paid, _ := store.GetEntitlement(ctx, 1); !paid {
		t.Fatal("expected grant to set entitlement")
	}

	if err := userCommand(ctx, store, []string{"grant", "abc"}, &out); err == nil {
		t.Fatal("expected invalid id to fail")
	}
}

func TestSeedFile(t *testing.T) {
	if got := seedFile("/seeds", "dev"); got != "/seeds/dev_seed.sql" {
		t.Fatalf("unexpected seed path %s", got)
	}
	if got := seedFile("/seeds", "custom.sql"); got != "/seeds/custom.sql" {
		t.Fatalf("unexpected seed path %s", got)
	}
}
