package loginsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "oidc-gateway:session:"

// RedisLoginSessionRepo stores sessions in Redis so several gateway instances can share them.
// Redis expires keys itself, so a lapsed session usually reads as ErrSessionNotFound;
// ErrSessionExpired is only seen inside the final millisecond of a key's life.
type RedisLoginSessionRepo struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisLoginSessionRepo wraps an existing redis client
func NewRedisLoginSessionRepo(client redis.UniversalClient) *RedisLoginSessionRepo {
	return &RedisLoginSessionRepo{client: client, now: time.Now}
}

func (r *RedisLoginSessionRepo) Create(ctx context.Context, session Session, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}

	now := r.now()
	session = session.clone()
	session.CreatedAt = now
	session.ExpiresAt = now.Add(ttl)

	for attempt := 0; attempt < 3; attempt++ {
		id, err := newSessionID()
		if err != nil {
			return "", err
		}
		session.ID = id

		data, err := json.Marshal(session)
		if err != nil {
			return "", fmt.Errorf("failed to encode session: %w", err)
		}

		ok, err := r.client.SetNX(ctx, redisKeyPrefix+id, data, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("failed to store session: %w", err)
		}
		if ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a unique session id")
}

func (r *RedisLoginSessionRepo) Get(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, apperrors.ErrSessionNotFound
	}

	data, err := r.client.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	if !r.now().Before(session.ExpiresAt) {
		_ = r.client.Del(ctx, redisKeyPrefix+sessionID).Err()
		return Session{}, apperrors.ErrSessionExpired
	}
	return session, nil
}

func (r *RedisLoginSessionRepo) Revoke(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}
