package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/metrics"
)

// DefaultSessionTTL bounds how long a viewing token stays valid.
const DefaultSessionTTL = 6 * time.Hour

var (
	// ErrSessionNotFound indicates the token does not map to an active viewing session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the viewing session outlived its TTL.
	ErrSessionExpired = errors.New("session expired")
)

// SessionStore persists viewing sessions keyed by token.
type SessionStore interface {
	Save(ctx context.Context, session ViewingSession) error
	Find(ctx context.Context, token string) (ViewingSession, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ViewingSession authorizes streaming of course segments for one user.
type ViewingSession struct {
	Token     string
	UserID    int64
	Username  string
	Watermark string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s ViewingSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Issuer mints and tracks viewing-session tokens.
type Issuer struct {
	ttl     time.Duration
	store   SessionStore
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewIssuer constructs an Issuer. A non-positive ttl uses DefaultSessionTTL.
func NewIssuer(ttl time.Duration, store SessionStore, m *metrics.Metrics) *Issuer {
	if store == nil {
		panic("auth: session store must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Issuer{ttl: ttl, store: store, metrics: m, now: time.Now}
}

// TTL reports the lifetime of issued sessions.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue registers a fresh viewing session for the user.
func (i *Issuer) Issue(ctx context.Context, userID int64, username string) (ViewingSession, error) {
	if userID <= 0 {
		return ViewingSession{}, errors.New("user id must be provided")
	}

	now := i.now().UTC()
	token, err := newViewingToken(userID, now)
	if err != nil {
		return ViewingSession{}, err
	}

	session := ViewingSession{
		Token:     token,
		UserID:    userID,
		Username:  username,
		Watermark: fmt.Sprintf("%s#%d-%s", username, userID, token[:8]),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.store.Save(ctx, session); err != nil {
		return ViewingSession{}, fmt.Errorf("save viewing session: %w", err)
	}

	i.metrics.SessionIssued()
	logging.FromContext(ctx).Info("viewing session issued", "userId", userID, "watermark", session.Watermark, "expiresAt", session.ExpiresAt)
	return session, nil
}

// Lookup returns the live session for token. Expired sessions are removed.
func (i *Issuer) Lookup(ctx context.Context, token string) (ViewingSession, error) {
	if token == "" {
		return ViewingSession{}, ErrSessionNotFound
	}

	session, err := i.store.Find(ctx, token)
	if err != nil {
		return ViewingSession{}, err
	}

	if session.Expired(i.now().UTC()) {
		_ = i.store.Delete(ctx, token)
		return ViewingSession{}, ErrSessionExpired
	}
	return session, nil
}

// Revoke removes token from the active set. Unknown tokens are ignored.
func (i *Issuer) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := i.store.Delete(ctx, token); err != nil {
		return fmt.Errorf("revoke viewing session: %w", err)
	}
	i.metrics.SessionRevoked()
	return nil
}

// Sweep drops expired sessions from the store.
func (i *Issuer) Sweep(ctx context.Context) (int, error) {
	return i.store.DeleteExpired(ctx, i.now().UTC())
}

// newViewingToken hashes the user id, the issue time and 128 random bits.
func newViewingToken(userID int64, now time.Time) (string, error) {
	var buf [32]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(userID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(now.UnixNano()))
	if _, err := rand.Read(buf[16:]); err != nil {
		return "", fmt.Errorf("generate viewing token: %w", err)
	}
	sum := sha256.Sum256(buf[:])
	return hex.EncodeToString(sum[:]), nil
}
