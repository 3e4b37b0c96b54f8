package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "turnstile:client:"

// RedisStorage is a storage area shared through Redis, for handles living in
// different processes. Values are plain keys; changes are published on a
// pub/sub channel tagged with the writer's origin id.
type RedisStorage struct {
	rdb     redis.UniversalClient
	prefix  string
	channel string
	origin  string
}

type redisChange struct {
	Origin  string `json:"origin"`
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// NewRedisStorage returns one handle on the area named area. Handles built
// with the same client address and area see each other's writes.
func NewRedisStorage(rdb redis.UniversalClient, area string) (*RedisStorage, error) {
	if rdb == nil {
		return nil, errors.New("authclient: nil redis client")
	}
	if area == "" {
		area = "default"
	}
	prefix := defaultRedisPrefix + area + ":"
	return &RedisStorage{
		rdb:     rdb,
		prefix:  prefix,
		channel: prefix + "changes",
		origin:  uuid.NewString(),
	}, nil
}

func (s *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("authclient: redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStorage) Set(ctx context.Context, key, value string) error {
	old, err := s.rdb.SetArgs(ctx, s.prefix+key, value, redis.SetArgs{Get: true}).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return fmt.Errorf("authclient: redis set %s: %w", key, err)
	case old == value:
		return nil
	}
	return s.publish(ctx, redisChange{Origin: s.origin, Key: key, Value: value})
}

func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	_, err := s.rdb.GetDel(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("authclient: redis remove %s: %w", key, err)
	}
	return s.publish(ctx, redisChange{Origin: s.origin, Key: key, Removed: true})
}

func (s *RedisStorage) publish(ctx context.Context, c redisChange) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, b).Err()
}

// Subscribe returns once the pub/sub subscription is confirmed.
func (s *RedisStorage) Subscribe(ctx context.Context) (<-chan Change, error) {
	ps := s.rdb.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("authclient: redis subscribe: %w", err)
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer func() { _ = ps.Close() }()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var rc redisChange
				if err := json.Unmarshal([]byte(msg.Payload), &rc); err != nil || rc.Origin == s.origin {
					continue
				}
				select {
				case out <- Change{Key: rc.Key, Value: rc.Value, Removed: rc.Removed}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
