package server

import (
	"log/slog"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-simulator/internal/config"
	"github.com/nulpointcorp/llm-simulator/internal/engine"
	"github.com/nulpointcorp/llm-simulator/internal/security"
)

// newTestServer builds a server over defaults with latency simulation off so
// handlers return instantly. mutate may adjust the config before use.
func newTestServer(t *testing.T, mutate func(*config.SimulatorConfig)) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Latency.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}

	return New(cfg, engine.New(cfg), Options{
		Logger: slog.New(slog.DiscardHandler),
	})
}

func testKeys() []config.APIKey {
	return []config.APIKey{
		{ID: "user-1", Key: "sk-test-user", Role: config.RoleUser, Tier: config.TierStandard, Enabled: true},
		{ID: "admin-1", Key: "sk-test-admin", Role: config.RoleAdmin, Tier: config.TierAdmin, Enabled: true},
		{ID: "off-1", Key: "sk-test-disabled", Role: config.RoleUser, Tier: config.TierStandard, Enabled: false},
	}
}

// --- recovery middleware ----------------------------------------------------

func TestRecovery_CatchesPanic(t *testing.T) {
	handler := recovery(func(ctx *fasthttp.RequestCtx) {
		panic("boom")
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Errorf("expected 500, got %d", ctx.Response.StatusCode())
	}
	if !containsStr(string(ctx.Response.Body()), "internal server error") {
		t.Errorf("unexpected body: %s", ctx.Response.Body())
	}
}

// --- requestID middleware ---------------------------------------------------

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	handler := requestID(func(ctx *fasthttp.RequestCtx) {
		if id, _ := ctx.UserValue("request_id").(string); id == "" {
			t.Error("request_id should be generated")
		}
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if string(ctx.Response.Header.Peek("X-Request-ID")) == "" {
		t.Error("X-Request-ID response header should be set")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	handler := requestID(func(ctx *fasthttp.RequestCtx) {})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("X-Request-ID", "custom-id-123")
	handler(ctx)

	if got := string(ctx.Response.Header.Peek("X-Request-ID")); got != "custom-id-123" {
		t.Errorf("expected preserved ID, got %s", got)
	}
}

// --- securityHeaders middleware ---------------------------------------------

func TestSecurityHeaders_Set(t *testing.T) {
	cfg := config.DefaultSecurityConfig().Headers
	handler := securityHeaders(cfg)(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
		"Cache-Control":          "no-store, max-age=0",
	}
	for header, want := range expected {
		if got := string(ctx.Response.Header.Peek(header)); got != want {
			t.Errorf("header %s: expected %q, got %q", header, want, got)
		}
	}
	if string(ctx.Response.Header.Peek("Strict-Transport-Security")) != "" {
		t.Error("HSTS should be off by default")
	}
}

func TestSecurityHeaders_Disabled(t *testing.T) {
	handler := securityHeaders(config.SecurityHeadersConfig{})(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if string(ctx.Response.Header.Peek("X-Content-Type-Options")) != "" {
		t.Error("disabled policy should add no headers")
	}
}

func TestSecurityHeaders_KeepsHandlerCacheControl(t *testing.T) {
	cfg := config.DefaultSecurityConfig().Headers
	handler := securityHeaders(cfg)(func(ctx *fasthttp.RequestCtx) {
		ctx.Response.Header.Set("Cache-Control", "no-cache")
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if got := string(ctx.Response.Header.Peek("Cache-Control")); got != "no-cache" {
		t.Errorf("handler Cache-Control should survive, got %q", got)
	}
}

// --- corsHandler middleware -------------------------------------------------

func TestCORS_Wildcard(t *testing.T) {
	handler := corsHandler(true, nil)(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	handler(ctx)

	if got := string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}

func TestCORS_SpecificOrigins(t *testing.T) {
	origins := []string{"https://one.example", "https://two.example"}
	handler := corsHandler(true, origins)(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	handler(ctx)

	want := "https://one.example, https://two.example"
	if got := string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestCORS_PreflightReturns204(t *testing.T) {
	handler := corsHandler(true, nil)(func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("should not be reached")
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("OPTIONS")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusNoContent {
		t.Errorf("preflight should return 204, got %d", ctx.Response.StatusCode())
	}
	if len(ctx.Response.Body()) != 0 {
		t.Error("preflight should have empty body")
	}
}

func TestCORS_Disabled(t *testing.T) {
	handler := corsHandler(false, nil)(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	handler(ctx)

	if string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")) != "" {
		t.Error("disabled CORS should add no headers")
	}
}

// --- drainTracking middleware -------------------------------------------------

func TestDrainTracking_RejectsDuringDrain(t *testing.T) {
	s := newTestServer(t, nil)
	handler := s.drainTracking(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200 before drain, got %d", ctx.Response.StatusCode())
	}

	s.drain.StartDrain()
	ctx = &fasthttp.RequestCtx{}
	handler(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Errorf("expected 503 during drain, got %d", ctx.Response.StatusCode())
	}
	if !containsStr(string(ctx.Response.Body()), "shutting down") {
		t.Errorf("unexpected body: %s", ctx.Response.Body())
	}
	if got := s.drain.InFlight(); got != 0 {
		t.Errorf("in-flight should stay 0, got %d", got)
	}
}

// --- rateLimit middleware -----------------------------------------------------

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	s := newTestServer(t, nil)
	handler := s.rateLimit(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	for i := 0; i < 100; i++ {
		ctx := &fasthttp.RequestCtx{}
		handler(ctx)
		if ctx.Response.StatusCode() != fasthttp.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, ctx.Response.StatusCode())
		}
	}
}

func TestRateLimit_BlocksAfterBurst(t *testing.T) {
	s := newTestServer(t, func(cfg *config.SimulatorConfig) {
		cfg.Security.RateLimit.Enabled = true
	})
	handler := s.rateLimit(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	// Anonymous traffic rides the standard tier: burst of 10.
	burst := config.TierStandard.Limits().Burst
	for i := 0; i < burst; i++ {
		ctx := &fasthttp.RequestCtx{}
		ctx.Request.SetRequestURI("/v1/chat/completions")
		handler(ctx)
		if ctx.Response.StatusCode() != fasthttp.StatusOK {
			t.Fatalf("request %d should pass, got %d", i, ctx.Response.StatusCode())
		}
		if string(ctx.Response.Header.Peek("X-RateLimit-Limit")) == "" {
			t.Fatal("allowed responses should carry X-RateLimit-Limit")
		}
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/chat/completions")
	handler(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", ctx.Response.StatusCode())
	}
	if string(ctx.Response.Header.Peek("Retry-After")) == "" {
		t.Error("429 should carry Retry-After")
	}
	if got := string(ctx.Response.Header.Peek("X-RateLimit-Remaining")); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
	if !containsStr(string(ctx.Response.Body()), "rate_limit_error") {
		t.Errorf("unexpected body: %s", ctx.Response.Body())
	}
}

func TestRateLimit_ExemptPathsSkip(t *testing.T) {
	s := newTestServer(t, func(cfg *config.SimulatorConfig) {
		cfg.Security.RateLimit.Enabled = true
	})
	handler := s.rateLimit(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	for i := 0; i < 50; i++ {
		ctx := &fasthttp.RequestCtx{}
		ctx.Request.SetRequestURI("/health")
		handler(ctx)
		if ctx.Response.StatusCode() != fasthttp.StatusOK {
			t.Fatalf("health request %d limited: %d", i, ctx.Response.StatusCode())
		}
	}
}

func TestRateLimit_PerKeyBuckets(t *testing.T) {
	s := newTestServer(t, func(cfg *config.SimulatorConfig) {
		cfg.Security.RateLimit.Enabled = true
		cfg.Security.APIKeys.Keys = testKeys()
	})
	handler := s.rateLimit(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	burst := config.TierStandard.Limits().Burst
	for i := 0; i < burst; i++ {
		ctx := &fasthttp.RequestCtx{}
		ctx.Request.SetRequestURI("/v1/chat/completions")
		ctx.Request.Header.Set("Authorization", "Bearer sk-test-user")
		handler(ctx)
		if ctx.Response.StatusCode() != fasthttp.StatusOK {
			t.Fatalf("keyed request %d should pass, got %d", i, ctx.Response.StatusCode())
		}
	}

	// user-1's bucket is exhausted; a different key still has tokens.
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/chat/completions")
	ctx.Request.Header.Set("Authorization", "Bearer sk-test-user")
	handler(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Fatalf("expected 429 for exhausted key, got %d", ctx.Response.StatusCode())
	}

	ctx = &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/chat/completions")
	ctx.Request.Header.Set("Authorization", "Bearer sk-test-admin")
	handler(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("other key should have its own bucket, got %d", ctx.Response.StatusCode())
	}
}

// --- auth middleware ----------------------------------------------------------

func authTestServer(t *testing.T) *Server {
	return newTestServer(t, func(cfg *config.SimulatorConfig) {
		cfg.Security.APIKeys.Enabled = true
		cfg.Security.APIKeys.Keys = testKeys()
	})
}

func identityProbe(t *testing.T, want string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := identityFrom(ctx)
		if id.KeyID != want {
			t.Errorf("expected identity %q, got %q", want, id.KeyID)
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
	}
}

func TestAuth_DisabledIsAnonymous(t *testing.T) {
	s := newTestServer(t, nil)
	handler := s.auth(identityProbe(t, "anonymous"))

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/chat/completions")
	handler(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("expected 200, got %d", ctx.Response.StatusCode())
	}
}

func TestAuth_MissingHeader(t *testing.T) {
	s := authTestServer(t)
	handler := s.auth(func(ctx *fasthttp.RequestCtx) {
		t.Error("handler should not run without credentials")
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/chat/completions")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", ctx.Response.StatusCode())
	}
	if !containsStr(string(ctx.Response.Body()), "authentication_error") {
		t.Errorf("unexpected body: %s", ctx.Response.Body())
	}
	if !containsStr(string(ctx.Response.Body()), "missing authorization header") {
		t.Errorf("unexpected body: %s", ctx.Response.Body())
	}
}

func TestAuth_MalformedHeader(t *testing.T) {
	s := authTestServer(t)
	handler := s.auth(func(ctx *fasthttp.RequestCtx) {
		t.Error("handler should not run with an unusable header")
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/chat/completions")
	ctx.Request.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", ctx.Response.StatusCode())
	}
	if !containsStr(string(ctx.Response.Body()), "invalid authorization header format") {
		t.Errorf("unexpected body: %s", ctx.Response.Body())
	}
}

func TestAuth_InvalidKey(t *testing.T) {
	s := authTestServer(t)
	handler := s.auth(func(ctx *fasthttp.RequestCtx) {
		t.Error("handler should not run with a bad key")
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/chat/completions")
	ctx.Request.Header.Set("Authorization", "Bearer sk-wrong")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", ctx.Response.StatusCode())
	}
	if !containsStr(string(ctx.Response.Body()), "invalid_api_key") {
		t.Errorf("unexpected body: %s", ctx.Response.Body())
	}
}

func TestAuth_DisabledKey(t *testing.T) {
	s := authTestServer(t)
	handler := s.auth(func(ctx *fasthttp.RequestCtx) {
		t.Error("handler should not run with a disabled key")
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/chat/completions")
	ctx.Request.Header.Set("Authorization", "Bearer sk-test-disabled")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", ctx.Response.StatusCode())
	}
}

func TestAuth_ValidBearerKey(t *testing.T) {
	s := authTestServer(t)
	handler := s.auth(identityProbe(t, "user-1"))

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/chat/completions")
	ctx.Request.Header.Set("Authorization", "Bearer sk-test-user")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("expected 200, got %d", ctx.Response.StatusCode())
	}
}

func TestAuth_XAPIKeyHeader(t *testing.T) {
	s := authTestServer(t)
	handler := s.auth(identityProbe(t, "user-1"))

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/messages")
	ctx.Request.Header.Set("X-Api-Key", "sk-test-user")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("expected 200, got %d", ctx.Response.StatusCode())
	}
}

func TestAuth_AnonymousHealth(t *testing.T) {
	s := authTestServer(t)
	handler := s.auth(identityProbe(t, "anonymous"))

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/health")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("health should bypass auth, got %d", ctx.Response.StatusCode())
	}
}

// --- adminGate middleware -------------------------------------------------------

func TestAdminGate_RejectsNonAdmin(t *testing.T) {
	s := newTestServer(t, func(cfg *config.SimulatorConfig) {
		cfg.Security.Admin.RequireAdminKey = true
	})
	handler := s.adminGate(func(ctx *fasthttp.RequestCtx) {
		t.Error("handler should not run for non-admin callers")
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/admin/stats")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("expected 403, got %d", ctx.Response.StatusCode())
	}
	if !containsStr(string(ctx.Response.Body()), "permission_error") {
		t.Errorf("unexpected body: %s", ctx.Response.Body())
	}
}

func TestAdminGate_AllowsAdminIdentity(t *testing.T) {
	s := newTestServer(t, func(cfg *config.SimulatorConfig) {
		cfg.Security.Admin.RequireAdminKey = true
	})
	handler := s.adminGate(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/admin/stats")
	ctx.SetUserValue("identity", security.Identity{KeyID: "admin-1", Role: config.RoleAdmin, Tier: config.TierAdmin})
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("expected 200 for admin, got %d", ctx.Response.StatusCode())
	}
}

func TestAdminGate_IgnoresNonAdminPaths(t *testing.T) {
	s := newTestServer(t, func(cfg *config.SimulatorConfig) {
		cfg.Security.Admin.RequireAdminKey = true
	})
	handler := s.adminGate(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/models")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("non-admin path should pass, got %d", ctx.Response.StatusCode())
	}
}

// --- applyMiddleware --------------------------------------------------------

func TestApplyMiddleware_Order(t *testing.T) {
	var order []string

	mw := func(name string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return func(ctx *fasthttp.RequestCtx) {
				order = append(order, name+"-before")
				next(ctx)
				order = append(order, name+"-after")
			}
		}
	}

	handler := applyMiddleware(func(ctx *fasthttp.RequestCtx) {
		order = append(order, "handler")
	}, mw("outer"), mw("inner"))

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	expected := []string{"outer-before", "inner-before", "handler", "inner-after", "outer-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("position %d: expected %q, got %q", i, v, order[i])
		}
	}
}

// --- helper -----------------------------------------------------------------

func containsStr(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
