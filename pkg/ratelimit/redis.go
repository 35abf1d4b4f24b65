package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript bumps a fixed-window counter atomically.
// KEYS[1] = counter key
// ARGV[1] = window length in milliseconds
// Returns {count, ttl_ms}.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// decrementScript takes back one unit without recreating an expired key.
var decrementScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]))
if count and count > 0 then
    redis.call("DECR", KEYS[1])
end
return 0
`)

// RedisStore shares counters across instances through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store over an existing client. Keys are written
// as prefix+key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis increment: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return 0, time.Time{}, fmt.Errorf("invalid response from lua script")
	}
	count, _ := results[0].(int64)
	ttl, _ := results[1].(int64)

	return int(count), time.Now().Add(time.Duration(ttl) * time.Millisecond), nil
}

func (s *RedisStore) Decrement(ctx context.Context, key string) error {
	if err := decrementScript.Run(ctx, s.client, []string{s.prefix + key}).Err(); err != nil {
		return fmt.Errorf("redis decrement: %w", err)
	}
	return nil
}
