// Package ratelimit implements a per-key rate limiter shared across
// simulator replicas, using Redis sliding window counters with an atomic
// Lua script. A single instance should prefer the in-process limiter.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/llm-simulator/internal/config"
)

// slidingWindowScript is an atomic Lua script that implements a sliding window
// rate limiter using a sorted set.
// KEYS[1] = Redis key
// ARGV[1] = current unix timestamp (nanoseconds as string)
// ARGV[2] = window size in nanoseconds
// ARGV[3] = limit (max requests per window)
// Returns: 1 if allowed, 0 if rate limited.
var slidingWindowScript = redis.NewScript(`
		local key    = KEYS[1]
		local now    = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])
		local limit  = tonumber(ARGV[3])

		-- Remove expired entries.
		redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

		local count = redis.call('ZCARD', key)
		if count >= limit then
			return 0
		end

		-- Add current request with a unique member (now + random suffix).
		local member = tostring(now) .. tostring(math.random(1, 1000000))
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, math.ceil(window / 1000000))  -- window is in ns; PEXPIRE wants ms
		return 1
`)

const keyPrefix = "simrl:key:"

// SharedLimiter enforces per-key requests-per-minute limits in Redis, so
// that several simulator replicas behind one load balancer count against
// the same window.
type SharedLimiter struct {
	rdb *redis.Client
}

// NewSharedLimiter wraps an existing Redis client.
func NewSharedLimiter(rdb *redis.Client) *SharedLimiter {
	return &SharedLimiter{rdb: rdb}
}

// Dial connects to the Redis address from the security config.
func Dial(addr string) *SharedLimiter {
	return NewSharedLimiter(redis.NewClient(&redis.Options{Addr: addr}))
}

// Allow checks whether keyID has budget left in its tier's per-minute
// window. Redis failures degrade to allowing the request.
func (l *SharedLimiter) Allow(ctx context.Context, keyID string, tier config.Tier) (bool, error) {
	if tier == config.TierUnlimited {
		return true, nil
	}
	limits := tier.Limits()
	return l.check(ctx, keyPrefix+keyID, limits.RequestsPerMinute)
}

func (l *SharedLimiter) check(ctx context.Context, key string, limit int) (bool, error) {
	now := time.Now().UnixNano()
	window := time.Minute.Nanoseconds()

	result, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{key},
		now, window, limit,
	).Int()
	if err != nil {
		// Redis unavailable — allow request (graceful degradation).
		return true, nil
	}

	return result == 1, nil
}

// Close releases the underlying client.
func (l *SharedLimiter) Close() error {
	return l.rdb.Close()
}
