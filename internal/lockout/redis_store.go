package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Each record is a hash {count, first, locked} with times in unix milliseconds.
// locked is 0 while the key is not locked.
const recordFailureScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local lockout = tonumber(ARGV[3])
local max = tonumber(ARGV[4])

local rec = redis.call("HMGET", KEYS[1], "count", "first", "locked")
local count = tonumber(rec[1])
local first = tonumber(rec[2])
local locked = tonumber(rec[3]) or 0

local stale = count == nil or first == nil
if not stale then
  if locked > 0 then
    stale = now >= locked
  else
    stale = (now - first) > window
  end
end
if stale then
  count = 0
  first = now
  locked = 0
end

count = count + 1
if count >= max and locked == 0 then
  locked = now + lockout
end

redis.call("HSET", KEYS[1], "count", count, "first", first, "locked", locked)

local expires = first + window
if locked > expires then
  expires = locked
end
local ttl = expires - now
if ttl < 1 then
  ttl = 1
end
redis.call("PEXPIRE", KEYS[1], ttl)

return {count, locked}
`

const checkScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local rec = redis.call("HMGET", KEYS[1], "count", "first", "locked")
local count = tonumber(rec[1])
local first = tonumber(rec[2])
local locked = tonumber(rec[3]) or 0
if count == nil or first == nil then
  return {0, 0}
end

local stale
if locked > 0 then
  stale = now >= locked
else
  stale = (now - first) > window
end
if stale then
  redis.call("DEL", KEYS[1])
  return {0, 0}
end
return {count, locked}
`

var (
	recordFailureLua = redis.NewScript(recordFailureScript)
	checkLua         = redis.NewScript(checkScript)
)

// RedisStore shares attempt records between server instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisStoreConfig holds configuration for RedisStore
type RedisStoreConfig struct {
	// Prefix is prepended to every key. Defaults to "lockout:".
	Prefix string
	Now    func() time.Time
}

// NewRedisStore creates a new RedisStore instance
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "lockout:"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, prefix: prefix, now: now}
}

// Check returns the status for key, deleting the record if it is stale.
func (s *RedisStore) Check(ctx context.Context, key string, policy Policy) (Status, error) {
	now := s.now()
	vals, err := checkLua.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return statusFromScript(vals, now, policy)
}

// RecordFailure increments the failure count for key in one round trip.
func (s *RedisStore) RecordFailure(ctx context.Context, key string, policy Policy) (Status, error) {
	now := s.now()
	vals, err := recordFailureLua.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(),
		policy.Window.Milliseconds(),
		policy.LockoutDuration.Milliseconds(),
		policy.MaxAttempts,
	).Int64Slice()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return statusFromScript(vals, now, policy)
}

// Reset removes the record for key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func statusFromScript(vals []int64, now time.Time, policy Policy) (Status, error) {
	if len(vals) != 2 {
		return Status{}, fmt.Errorf("%w: unexpected script reply of %d values", ErrStoreUnavailable, len(vals))
	}
	rec := Record{Count: int(vals[0])}
	if vals[1] > 0 {
		rec.LockedUntil = time.UnixMilli(vals[1])
	}
	return rec.status(now, policy), nil
}
