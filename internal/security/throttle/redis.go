package throttle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares throttle counters across instances through Redis.
// State is stored as a JSON blob under a namespaced key with the policy
// TTL, so Redis expiry doubles as the cleanup mechanism.
type RedisStore struct {
	client *redis.Client
	prefix string
}

const redisKeyPrefix = "vigil:throttle:"

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

func (r *RedisStore) Get(ctx context.Context, key string) (State, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("redis get: %w", err)
	}

	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupt record fails open to the empty state rather than
		// wedging logins for the identifier.
		return State{}, nil
	}
	return s, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, s State, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
