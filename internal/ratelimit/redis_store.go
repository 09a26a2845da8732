package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sorted set of request timestamps (unix ms) scored by time. Members are unique ids.
const slidingWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < max then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  count = count + 1
  allowed = 1
end

local oldest = now
local first = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if first[2] then
  oldest = tonumber(first[2])
end
if count > 0 then
  redis.call("PEXPIRE", KEYS[1], window)
end
return {allowed, count, oldest}
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// RedisStore implements Store on a Redis sorted set per key, shared by all instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisStoreConfig holds configuration for RedisStore
type RedisStoreConfig struct {
	// Prefix is prepended to every key. Defaults to "ratelimit:".
	Prefix string
	Now    func() time.Time
}

// NewRedisStore creates a new RedisStore instance
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ratelimit:"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, prefix: prefix, now: now}
}

// Allow checks and records one request for key in a single script call.
func (s *RedisStore) Allow(ctx context.Context, key string, policy Policy) (Result, error) {
	now := s.now()
	nowMs := now.UnixMilli()
	windowMs := policy.Window.Milliseconds()

	vals, err := slidingWindowLua.Run(ctx, s.client, []string{s.prefix + key},
		nowMs, windowMs, policy.Max, uuid.New().String(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("%w: unexpected script reply of %d values", ErrStoreUnavailable, len(vals))
	}

	allowed, count, oldest := vals[0] == 1, int(vals[1]), vals[2]
	res := Result{
		Success: allowed,
		ResetIn: time.Duration(oldest+windowMs-nowMs) * time.Millisecond,
	}
	if allowed {
		res.Remaining = policy.Max - count
	}
	return res, nil
}
