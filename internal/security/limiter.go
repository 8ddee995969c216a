package security

import (
	"math"
	"sync"
	"time"

	"github.com/nulpointcorp/llm-simulator/internal/config"
)

// Result is the outcome of one rate-limit check, carrying the values the
// middleware writes into the X-RateLimit-* headers.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int64
	Reset      time.Duration
	RetryAfter time.Duration
}

// Limiter maintains one token bucket per caller. Buckets are created on
// first use; the unlimited tier never touches a bucket.
type Limiter struct {
	buckets sync.Map // key id -> *TokenBucket
}

// NewLimiter returns an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{}
}

// Acquire takes one token from the caller's bucket.
func (l *Limiter) Acquire(keyID string, tier config.Tier) Result {
	if tier == config.TierUnlimited {
		return Result{Allowed: true, Limit: math.MaxInt32, Remaining: math.MaxInt32}
	}

	limits := tier.Limits()
	bucket := l.bucket(keyID, limits)

	if bucket.TryConsume(1) {
		return Result{
			Allowed:   true,
			Limit:     limits.RequestsPerMinute,
			Remaining: bucket.Tokens(),
			Reset:     bucket.TimeUntilToken(),
		}
	}

	retry := bucket.TimeUntilToken()
	if retry < time.Second {
		retry = time.Second
	}
	return Result{
		Allowed:    false,
		Limit:      limits.RequestsPerMinute,
		RetryAfter: retry,
	}
}

func (l *Limiter) bucket(keyID string, limits config.TierLimits) *TokenBucket {
	if b, ok := l.buckets.Load(keyID); ok {
		return b.(*TokenBucket)
	}
	b, _ := l.buckets.LoadOrStore(keyID, NewTokenBucket(limits.Burst, limits.RequestsPerMinute))
	return b.(*TokenBucket)
}

// BucketCount returns the number of live buckets.
func (l *Limiter) BucketCount() int {
	n := 0
	l.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Reset discards all buckets.
func (l *Limiter) Reset() {
	l.buckets.Range(func(k, _ any) bool {
		l.buckets.Delete(k)
		return true
	})
}
