package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces refresh slots in Redis.
const DefaultRedisPrefix = "turnstile:refresh:"

// RedisSlot is a HashSlot backed by one Redis key per user.
// SET and DEL are single commands, so every write is atomic.
type RedisSlot struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSlot builds a RedisSlot. Keys expire after ttl (normally the refresh TTL);
// zero keeps them until overwritten.
func NewRedisSlot(rdb redis.UniversalClient, ttl time.Duration) *RedisSlot {
	return &RedisSlot{rdb: rdb, prefix: DefaultRedisPrefix, ttl: ttl}
}

func (s *RedisSlot) key(userID string) string { return s.prefix + userID }

func (s *RedisSlot) PersistHashedRefreshToken(ctx context.Context, userID string, hash *string) error {
	if hash == nil {
		return s.rdb.Del(ctx, s.key(userID)).Err()
	}
	return s.rdb.Set(ctx, s.key(userID), *hash, s.ttl).Err()
}

func (s *RedisSlot) LoadHashedRefreshToken(ctx context.Context, userID string) (*string, error) {
	v, err := s.rdb.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
