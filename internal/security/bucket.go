package security

import (
	"sync/atomic"
	"time"
)

// TokenBucket is a lock-free token bucket. Consumption uses a CAS loop;
// refill is best-effort and skips intervals under a millisecond so hot
// buckets do not thrash the refill timestamp.
type TokenBucket struct {
	capacity   int64
	tokens     atomic.Int64
	refillRate float64      // tokens per second
	lastRefill atomic.Int64 // nanos since start
	start      time.Time
}

// NewTokenBucket builds a full bucket with the given burst capacity and
// sustained requests-per-minute refill rate.
func NewTokenBucket(capacity, requestsPerMinute int) *TokenBucket {
	b := &TokenBucket{
		capacity:   int64(capacity),
		refillRate: float64(requestsPerMinute) / 60.0,
		start:      time.Now(),
	}
	b.tokens.Store(int64(capacity))
	return b
}

// TryConsume removes count tokens if available.
func (b *TokenBucket) TryConsume(count int64) bool {
	b.refill()
	for {
		current := b.tokens.Load()
		if current < count {
			return false
		}
		if b.tokens.CompareAndSwap(current, current-count) {
			return true
		}
	}
}

func (b *TokenBucket) refill() {
	now := time.Since(b.start).Nanoseconds()
	last := b.lastRefill.Load()

	elapsed := time.Duration(now - last)
	if elapsed < time.Millisecond {
		return
	}

	added := int64(elapsed.Seconds() * b.refillRate)
	if added <= 0 {
		return
	}

	// Only the winner of the timestamp CAS applies the refill. The top-up
	// itself is a CAS loop so a concurrent consume is never overwritten.
	if !b.lastRefill.CompareAndSwap(last, now) {
		return
	}
	for {
		current := b.tokens.Load()
		next := current + added
		if next > b.capacity {
			next = b.capacity
		}
		if b.tokens.CompareAndSwap(current, next) {
			return
		}
	}
}

// Tokens returns the current token count after refilling.
func (b *TokenBucket) Tokens() int64 {
	b.refill()
	return b.tokens.Load()
}

// Capacity returns the burst capacity.
func (b *TokenBucket) Capacity() int64 { return b.capacity }

// TimeUntilToken returns how long until the next token is available, or
// zero if one is available now.
func (b *TokenBucket) TimeUntilToken() time.Duration {
	if b.Tokens() > 0 {
		return 0
	}
	if b.refillRate <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Second) / b.refillRate)
}
