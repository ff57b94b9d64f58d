package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alphacourse/backend/internal/auth"
	"github.com/alphacourse/backend/internal/config"
	"github.com/alphacourse/backend/internal/logging"
)

const sessionKeyPrefix = "alphacourse:viewing:"

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logging.FromContext(ctx).Info("connected to redis", "address", cfg.Addr, "db", cfg.DB, "poolSize", poolSize)
	return client, nil
}

// RedisSessionStore persists viewing sessions in Redis. Keys expire with the
// session, so DeleteExpired has nothing to do.
type RedisSessionStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSessionStore constructs a session store backed by Redis.
func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client, now: time.Now}
}

type redisSession struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Watermark string    `json:"watermark"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}

// Save stores the session with a TTL matching its expiry.
func (s *RedisSessionStore) Save(ctx context.Context, session auth.ViewingSession) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(redisSession{
		UserID:    session.UserID,
		Username:  session.Username,
		Watermark: session.Watermark,
		IssuedAt:  session.IssuedAt.UTC(),
		ExpiresAt: session.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(session.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Find loads a session by token.
func (s *RedisSessionStore) Find(ctx context.Context, token string) (auth.ViewingSession, error) {
	data, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return auth.ViewingSession{}, auth.ErrSessionNotFound
	}
	if err != nil {
		return auth.ViewingSession{}, fmt.Errorf("load session: %w", err)
	}

	var rs redisSession
	if err := json.Unmarshal(data, &rs); err != nil {
		return auth.ViewingSession{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return auth.ViewingSession{
		Token:     token,
		UserID:    rs.UserID,
		Username:  rs.Username,
		Watermark: rs.Watermark,
		IssuedAt:  rs.IssuedAt,
		ExpiresAt: rs.ExpiresAt,
	}, nil
}

// Delete removes a session by token.
func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires keys itself.
func (s *RedisSessionStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
