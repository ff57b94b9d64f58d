package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alphacourse/backend/internal/entitlements"
	"github.com/alphacourse/backend/internal/models"
	"github.com/alphacourse/backend/internal/payments"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresUserRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresUserRepository(testPool)

	created, err := repo.Create(ctx, models.User{Username: "alice", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID == 0 || created.Role != models.RoleUser {
		t.Fatalf("unexpected created user %+v", created)
	}

	if _, err := repo.Create(ctx, models.User{Username: "alice", PasswordHash: "other"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for duplicate username got %v", err)
	}

	byName, err := repo.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("find by username: %v", err)
	}
	if byName.ID != created.ID || byName.PasswordHash != "hash" {
		t.Fatalf("unexpected user %+v", byName)
	}

	byID, err := repo.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if byID.Username != "alice" {
		t.Fatalf("unexpected user %+v", byID)
	}

	if _, err := repo.FindByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
}

func TestPostgresUserRepository_Entitlement(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresUserRepository(testPool)
	user := createTestUser(t, repo, "bob")

	paid, err := repo.GetEntitlement(ctx, user.ID)
	if err != nil {
		t.Fatalf("get entitlement: %v", err)
	}
	if paid {
		t.Fatal("new users must not be entitled")
	}

	svc := entitlements.NewService(repo, nil)
	changed, err := svc.Grant(ctx, user.ID, "test")
	if err != nil || !changed {
		t.Fatalf("grant: changed=%v err=%v", changed, err)
	}

	paid, err = repo.GetEntitlement(ctx, user.ID)
	if err != nil || !paid {
		t.Fatalf("expected entitlement after grant, got %v %v", paid, err)
	}

	if _, err := repo.GetEntitlement(ctx, user.ID+1000); !errors.Is(err, entitlements.ErrUserNotFound) {
		t.Fatalf("expected user not found got %v", err)
	}
	if err := repo.SetEntitlement(ctx, user.ID+1000, true); !errors.Is(err, entitlements.ErrUserNotFound) {
		t.Fatalf("expected user not found got %v", err)
	}
}

func TestPostgresLedgerStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	user := createTestUser(t, NewPostgresUserRepository(testPool), "carol")
	ledger := payments.NewLedger(NewPostgresLedgerStore(testPool), time.Hour)

	if _, err := ledger.Record(ctx, "5077125051", user.ID); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := ledger.Record(ctx, "5077125051", user.ID); !errors.Is(err, payments.ErrDuplicatePayment) {
		t.Fatalf("expected duplicate payment got %v", err)
	}

	p, applied, err := ledger.UpdateStatus(ctx, "5077125051", payments.StatusConfirming)
	if err != nil || !applied {
		t.Fatalf("update: applied=%v err=%v", applied, err)
	}
	if p.Status != payments.StatusConfirming {
		t.Fatalf("unexpected status %s", p.Status)
	}

	if _, applied, err := ledger.UpdateStatus(ctx, "5077125051", payments.StatusWaiting); err != nil || applied {
		t.Fatalf("expected backward transition to be ignored: applied=%v err=%v", applied, err)
	}

	if _, applied, err := ledger.UpdateStatus(ctx, "unknown", payments.StatusFinished); err != nil || applied {
		t.Fatalf("expected unknown payment to be a no-op: applied=%v err=%v", applied, err)
	}

	got, err := ledger.Get(ctx, "5077125051")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != user.ID || got.Status != payments.StatusConfirming {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestPostgresLedgerStore_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	user := createTestUser(t, NewPostgresUserRepository(testPool), "dave")
	ledger := payments.NewLedger(NewPostgresLedgerStore(testPool), time.Hour)
	if _, err := ledger.Record(ctx, "P", user.ID); err != nil {
		t.Fatalf("record: %v", err)
	}

	statuses := []payments.Status{payments.StatusConfirming, payments.StatusConfirmed, payments.StatusFinished}
	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func(s payments.Status) {
			defer wg.Done()
			if _, _, err := ledger.UpdateStatus(ctx, "P", s); err != nil {
				t.Errorf("update: %v", err)
			}
		}(statuses[i%len(statuses)])
	}
	wg.Wait()

	got, err := ledger.Get(ctx, "P")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != payments.StatusFinished {
		t.Fatalf("expected finished got %s", got.Status)
	}
}

func TestPostgresLedgerStore_DeleteBefore(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	user := createTestUser(t, NewPostgresUserRepository(testPool), "erin")
	store := NewPostgresLedgerStore(testPool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	for id, created := range map[string]time.Time{"old": now.Add(-72 * time.Hour), "new": now} {
		if err := store.Insert(ctx, payments.PendingPayment{PaymentID: id, UserID: user.ID, Status: payments.StatusWaiting, CreatedAt: created, UpdatedAt: created}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	removed, err := store.DeleteBefore(ctx, now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removed entry got %d", removed)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, payments.ErrPaymentNotFound) {
		t.Fatalf("expected old entry to be gone got %v", err)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE pending_payments, users CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestUser(t *testing.T, repo *PostgresUserRepository, username string) models.User {
	t.Helper()
	user, err := repo.Create(context.Background(), models.User{Username: username, PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}
