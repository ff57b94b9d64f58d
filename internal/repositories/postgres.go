package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alphacourse/backend/internal/db"
	"github.com/alphacourse/backend/internal/entitlements"
	"github.com/alphacourse/backend/internal/models"
	"github.com/alphacourse/backend/internal/payments"
)

// PostgresUserRepository provides PostgreSQL-backed persistence for users and
// their course entitlement flag.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record and returns it with its assigned id.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if user.Role == "" {
		user.Role = models.RoleUser
	}

	row := conn.QueryRow(ctx, `
        INSERT INTO users (username, password_hash, role, has_paid)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at
    `, user.Username, user.PasswordHash, user.Role, user.HasPaid)
	if err := row.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.User{}, ErrConflict
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

// FindByUsername fetches a user by login name.
func (r *PostgresUserRepository) FindByUsername(ctx context.Context, username string) (models.User, error) {
	return r.findOne(ctx, `WHERE username = $1`, username)
}

// FindByID fetches a user by id.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id int64) (models.User, error) {
	return r.findOne(ctx, `WHERE id = $1`, id)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, where string, arg any) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, username, password_hash, role, has_paid, created_at, updated_at
        FROM users
        `+where, arg)

	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.HasPaid, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user: %w", err)
	}

	return user, nil
}

// GetEntitlement implements entitlements.Store.
func (r *PostgresUserRepository) GetEntitlement(ctx context.Context, userID int64) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var paid bool
	if err := conn.QueryRow(ctx, `SELECT has_paid FROM users WHERE id = $1`, userID).Scan(&paid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, entitlements.ErrUserNotFound
		}
		return false, fmt.Errorf("select entitlement: %w", err)
	}
	return paid, nil
}

// SetEntitlement implements entitlements.Store.
func (r *PostgresUserRepository) SetEntitlement(ctx context.Context, userID int64, paid bool) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE users
        SET has_paid = $2, updated_at = NOW()
        WHERE id = $1
    `, userID, paid)
	if err != nil {
		return fmt.Errorf("update entitlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitlements.ErrUserNotFound
	}
	return nil
}

const (
	ledgerMaxRetries   = 5
	ledgerRetryBackoff = 20 * time.Millisecond
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryablePgErrorCodes[pgErr.Code]
		return ok
	}
	return false
}

// PostgresLedgerStore persists pending payments so in-flight payments survive
// restarts.
type PostgresLedgerStore struct {
	pool db.Pool
}

// NewPostgresLedgerStore constructs a ledger store backed by PostgreSQL.
func NewPostgresLedgerStore(pool db.Pool) *PostgresLedgerStore {
	return &PostgresLedgerStore{pool: pool}
}

// Insert implements payments.LedgerStore.
func (s *PostgresLedgerStore) Insert(ctx context.Context, p payments.PendingPayment) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO pending_payments (payment_id, user_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
    `, p.PaymentID, p.UserID, string(p.Status), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return payments.ErrDuplicatePayment
		}
		return fmt.Errorf("insert pending payment: %w", err)
	}
	return nil
}

// Update implements payments.LedgerStore. The row is locked for the duration
// of fn so concurrent webhook and poll updates serialize. Serialization
// failures are retried.
func (s *PostgresLedgerStore) Update(ctx context.Context, paymentID string, fn func(*payments.PendingPayment) bool) (payments.PendingPayment, error) {
	var lastErr error
	for attempt := 0; attempt < ledgerMaxRetries; attempt++ {
		p, err := s.update(ctx, paymentID, fn)
		if err == nil || !isRetryable(err) {
			return p, err
		}
		lastErr = err

		timer := time.NewTimer(time.Duration(attempt+1) * ledgerRetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return payments.PendingPayment{}, ctx.Err()
		case <-timer.C:
		}
	}
	return payments.PendingPayment{}, fmt.Errorf("update pending payment %s: %w", paymentID, lastErr)
}

func (s *PostgresLedgerStore) update(ctx context.Context, paymentID string, fn func(*payments.PendingPayment) bool) (payments.PendingPayment, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return payments.PendingPayment{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return payments.PendingPayment{}, fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPendingPayment(tx.QueryRow(ctx, `
        SELECT payment_id, user_id, status, created_at, updated_at
        FROM pending_payments
        WHERE payment_id = $1
        FOR UPDATE
    `, paymentID))
	if err != nil {
		return payments.PendingPayment{}, err
	}

	if fn(&p) {
		if _, err := tx.Exec(ctx, `
            UPDATE pending_payments
            SET status = $2, updated_at = $3
            WHERE payment_id = $1
        `, p.PaymentID, string(p.Status), p.UpdatedAt.UTC()); err != nil {
			return payments.PendingPayment{}, fmt.Errorf("update pending payment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return payments.PendingPayment{}, fmt.Errorf("commit ledger transaction: %w", err)
	}
	return p, nil
}

// Get implements payments.LedgerStore.
func (s *PostgresLedgerStore) Get(ctx context.Context, paymentID string) (payments.PendingPayment, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return payments.PendingPayment{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return scanPendingPayment(conn.QueryRow(ctx, `
        SELECT payment_id, user_id, status, created_at, updated_at
        FROM pending_payments
        WHERE payment_id = $1
    `, paymentID))
}

// DeleteBefore implements payments.LedgerStore.
func (s *PostgresLedgerStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM pending_payments WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete pending payments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanPendingPayment(row pgx.Row) (payments.PendingPayment, error) {
	var (
		p      payments.PendingPayment
		status string
	)
	if err := row.Scan(&p.PaymentID, &p.UserID, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payments.PendingPayment{}, payments.ErrPaymentNotFound
		}
		return payments.PendingPayment{}, fmt.Errorf("select pending payment: %w", err)
	}
	p.Status = payments.Status(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
