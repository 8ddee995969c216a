package ratelimit_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/llm-simulator/internal/config"
	"github.com/nulpointcorp/llm-simulator/internal/ratelimit"
)

func newTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestSharedLimiter_AllowsUnderLimit(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	limiter := ratelimit.NewSharedLimiter(rdb)
	ctx := context.Background()

	// Standard tier allows 60 per minute.
	for i := 0; i < 60; i++ {
		allowed, err := limiter.Allow(ctx, "key-1", config.TierStandard)
		if err != nil {
			t.Fatalf("unexpected error at iteration %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("expected allowed=true at iteration %d", i)
		}
	}
}

func TestSharedLimiter_BlocksOverLimit(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	limiter := ratelimit.NewSharedLimiter(rdb)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		if allowed, _ := limiter.Allow(ctx, "key-1", config.TierStandard); !allowed {
			t.Fatalf("expected allowed=true at iteration %d", i)
		}
	}

	allowed, err := limiter.Allow(ctx, "key-1", config.TierStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("expected allowed=false after limit exceeded")
	}

	// A different key has its own window.
	if allowed, _ := limiter.Allow(ctx, "key-2", config.TierStandard); !allowed {
		t.Error("expected fresh key to be allowed")
	}
}

func TestSharedLimiter_UnlimitedTierSkipsRedis(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	limiter := ratelimit.NewSharedLimiter(rdb)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		allowed, err := limiter.Allow(ctx, "admin", config.TierUnlimited)
		if err != nil || !allowed {
			t.Fatalf("unlimited tier: allowed=%v err=%v", allowed, err)
		}
	}
}

func TestSharedLimiter_DegradedGracefully_WhenRedisDown(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	// Close Redis before making any calls — limiter must allow requests.
	cleanup()

	limiter := ratelimit.NewSharedLimiter(rdb)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "key-1", config.TierStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("expected allowed=true when Redis is unavailable (graceful degradation)")
	}
}
