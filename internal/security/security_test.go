package security

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-simulator/internal/config"
)

func TestExtractKey(t *testing.T) {
	cases := []struct {
		name    string
		auth    string
		xAPIKey string
		want    string
		status  ExtractStatus
	}{
		{"bearer", "Bearer sk-test-key-123", "", "sk-test-key-123", ExtractOK},
		{"lowercase bearer", "bearer sk-abc", "", "sk-abc", ExtractOK},
		{"x-api-key", "", "sk-test-key-456", "sk-test-key-456", ExtractOK},
		{"bare auth value", "sk-plain", "", "sk-plain", ExtractOK},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", "", ExtractMalformed},
		{"nothing", "", "", "", ExtractMissing},
		{"auth wins over x-api-key", "Bearer first", "second", "first", ExtractOK},
		{"malformed auth, valid x-api-key", "Basic dXNlcjpwYXNz", "sk-fallback", "sk-fallback", ExtractOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, st := ExtractKey(tc.auth, tc.xAPIKey)
			if st != tc.status || got != tc.want {
				t.Errorf("ExtractKey(%q, %q) = %q,%v; want %q,%v",
					tc.auth, tc.xAPIKey, got, st, tc.want, tc.status)
			}
		})
	}
}

func TestExemptPaths(t *testing.T) {
	for _, p := range []string{"/", "/health", "/healthz", "/ready", "/readyz", "/metrics", "/version"} {
		if !IsExemptPath(p) {
			t.Errorf("%s should be exempt", p)
		}
	}
	for _, p := range []string{"/v1/chat/completions", "/admin/stats", "/health/deep"} {
		if IsExemptPath(p) {
			t.Errorf("%s should not be exempt", p)
		}
	}
}

func TestAdminPaths(t *testing.T) {
	if !IsAdminPath("/admin/stats") || !IsAdminPath("/admin/config") {
		t.Error("admin paths should match")
	}
	if IsAdminPath("/v1/models") || IsAdminPath("/health") {
		t.Error("non-admin paths should not match")
	}
}

func TestIdentityRoles(t *testing.T) {
	anon := Anonymous()
	if anon.IsAdmin() || anon.CanWrite() || !anon.Anonymous {
		t.Error("anonymous should be readonly")
	}

	admin := Identity{KeyID: "k1", Role: config.RoleAdmin, Tier: config.TierAdmin}
	if !admin.IsAdmin() || !admin.CanWrite() {
		t.Error("admin should be able to do everything")
	}

	user := Identity{KeyID: "k2", Role: config.RoleUser, Tier: config.TierStandard}
	if user.IsAdmin() || !user.CanWrite() {
		t.Error("user should write but not administer")
	}
}

func TestKeystoreLookup(t *testing.T) {
	ks := NewKeystore([]config.APIKey{
		{ID: "k1", Key: "sk-live", Role: config.RoleUser, Tier: config.TierPremium, Enabled: true},
		{ID: "k2", Key: "sk-off", Role: config.RoleUser, Tier: config.TierStandard, Enabled: false},
	})

	k, ok := ks.Lookup("sk-live")
	if !ok || k.ID != "k1" {
		t.Fatal("known key should resolve")
	}

	k, ok = ks.Lookup("sk-off")
	if !ok || k.Enabled {
		t.Error("disabled key should resolve but be marked disabled")
	}

	if _, ok := ks.Lookup("sk-unknown"); ok {
		t.Error("unknown key should not resolve")
	}

	ks.ReplaceKeys(nil)
	if _, ok := ks.Lookup("sk-live"); ok {
		t.Error("lookup should fail after key table swap")
	}
}

func TestKeyPrefix(t *testing.T) {
	if got := KeyPrefix("sk-1234567890"); got != "sk-12345" {
		t.Errorf("prefix = %q, want sk-12345", got)
	}
	if got := KeyPrefix("short"); got != "short" {
		t.Errorf("short key prefix = %q", got)
	}
}

func TestTokenBucketConsume(t *testing.T) {
	b := NewTokenBucket(5, 60)
	if b.Capacity() != 5 || b.Tokens() != 5 {
		t.Fatalf("fresh bucket = %d/%d", b.Tokens(), b.Capacity())
	}

	for i := 0; i < 5; i++ {
		if !b.TryConsume(1) {
			t.Fatalf("consume %d should succeed", i+1)
		}
	}
	if b.TryConsume(1) {
		t.Error("empty bucket should deny")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	b := NewTokenBucket(2, 6000) // 100 tokens per second

	if !b.TryConsume(2) {
		t.Fatal("initial burst should succeed")
	}
	if b.TryConsume(1) {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond)
	if b.Tokens() == 0 {
		t.Error("bucket should have refilled")
	}
}

func TestTokenBucketConcurrentConsume(t *testing.T) {
	const capacity = 100
	b := NewTokenBucket(capacity, 1) // negligible refill during the test

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if b.TryConsume(1) {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != capacity {
		t.Errorf("granted %d tokens from a bucket of %d", got, capacity)
	}
	if tokens := b.Tokens(); tokens < 0 || tokens > capacity {
		t.Errorf("tokens = %d, outside [0, %d]", tokens, capacity)
	}
}

func TestTokenBucketRefillNeverResurrectsTokens(t *testing.T) {
	const capacity = 64
	b := NewTokenBucket(capacity, 60_000) // 1000 tokens per second

	start := time.Now()
	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2000; j++ {
				if b.TryConsume(1) {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Conservation: grants can never exceed the initial capacity plus what
	// the refill rate could have legitimately added while the test ran.
	budget := int64(capacity) + int64(elapsed.Seconds()*1000) + 1
	if got := granted.Load(); got > budget {
		t.Errorf("granted %d tokens, conservation budget was %d", got, budget)
	}
	if tokens := b.Tokens(); tokens < 0 || tokens > capacity {
		t.Errorf("tokens = %d, outside [0, %d]", tokens, capacity)
	}
}

func TestTokenBucketTimeUntilToken(t *testing.T) {
	b := NewTokenBucket(1, 60) // one token per second
	if got := b.TimeUntilToken(); got != 0 {
		t.Errorf("full bucket wait = %v, want 0", got)
	}
	b.TryConsume(1)
	if got := b.TimeUntilToken(); got != time.Second {
		t.Errorf("empty bucket wait = %v, want 1s", got)
	}
}

func TestLimiterAllowsAndDenies(t *testing.T) {
	l := NewLimiter()

	// Standard tier: burst of 10.
	var denied bool
	for i := 0; i < 11; i++ {
		res := l.Acquire("key-1", config.TierStandard)
		if i < 10 && !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if i == 10 {
			denied = !res.Allowed
			if res.Allowed {
				break
			}
			if res.RetryAfter < time.Second {
				t.Errorf("retry after = %v, want ≥ 1s", res.RetryAfter)
			}
			if res.Limit != 60 {
				t.Errorf("limit = %d, want 60", res.Limit)
			}
		}
	}
	if !denied {
		t.Error("burst exhaustion should deny")
	}

	// Separate keys have separate buckets.
	if res := l.Acquire("key-2", config.TierStandard); !res.Allowed {
		t.Error("fresh key should be allowed")
	}
	if l.BucketCount() != 2 {
		t.Errorf("bucket count = %d, want 2", l.BucketCount())
	}
}

func TestLimiterUnlimitedTier(t *testing.T) {
	l := NewLimiter()
	for i := 0; i < 1000; i++ {
		if res := l.Acquire("admin-key", config.TierUnlimited); !res.Allowed {
			t.Fatal("unlimited tier should never be denied")
		}
	}
	if l.BucketCount() != 0 {
		t.Error("unlimited tier should not allocate buckets")
	}
}

func TestLimiterReset(t *testing.T) {
	l := NewLimiter()
	for i := 0; i < 10; i++ {
		l.Acquire("key-1", config.TierStandard)
	}
	if res := l.Acquire("key-1", config.TierStandard); res.Allowed {
		t.Fatal("bucket should be exhausted")
	}

	l.Reset()
	if res := l.Acquire("key-1", config.TierStandard); !res.Allowed {
		t.Error("reset should restore the burst")
	}
}
