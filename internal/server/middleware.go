package server

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-simulator/internal/config"
	"github.com/nulpointcorp/llm-simulator/internal/security"
	"github.com/nulpointcorp/llm-simulator/pkg/apierr"
)

// recovery catches panics in any handler and returns a 500 without crashing
// the server process. The panic value is logged at ERROR level.
func recovery(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("handler_panic",
					slog.Any("panic", r),
					slog.String("path", string(ctx.Path())),
					slog.String("method", string(ctx.Method())),
				)
				ctx.ResetBody()
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetContentType("application/json")
				ctx.SetBodyString(`{"error":{"message":"internal server error","type":"server_error","code":"internal_error"}}`)
			}
		}()
		next(ctx)
	}
}

// requestID ensures every request has an X-Request-ID header. If the client
// does not supply one a UUID v4 is generated. The ID is also stored in the
// request context under the key "request_id" for downstream handlers.
func requestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek("X-Request-ID"))
		if id == "" {
			id = uuid.New().String()
		}
		ctx.Response.Header.Set("X-Request-ID", id)
		ctx.SetUserValue("request_id", id)
		next(ctx)
	}
}

// timing records the total handler duration in the X-Response-Time response
// header. The value uses Go's default Duration string format (e.g. "2.5ms").
func timing(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		ctx.Response.Header.Set("X-Response-Time", time.Since(start).String())
	}
}

// securityHeaders adds hardening headers from the configured policy to every
// response. Cache-Control is only set when the handler left it empty, so
// SSE responses keep their no-cache value.
func securityHeaders(cfg config.SecurityHeadersConfig) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			next(ctx)
			if !cfg.Enabled {
				return
			}
			h := &ctx.Response.Header
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", cfg.FrameOptions)
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Referrer-Policy", cfg.ReferrerPolicy)
			if cfg.ContentSecurityPolicy != "" {
				h.Set("Content-Security-Policy", cfg.ContentSecurityPolicy)
			}
			if cfg.PermissionsPolicy != "" {
				h.Set("Permissions-Policy", cfg.PermissionsPolicy)
			}
			if len(h.Peek("Cache-Control")) == 0 {
				h.Set("Cache-Control", "no-store, max-age=0")
			}
			if cfg.HSTSEnabled {
				h.Set("Strict-Transport-Security",
					fmt.Sprintf("max-age=%d; includeSubDomains", cfg.HSTSMaxAge))
			}
		}
	}
}

// corsHandler returns a CORS middleware configured for the given allowed origins.
//
//   - nil or []string{"*"} → Access-Control-Allow-Origin: *  (open)
//   - specific origins      → joined with ", "  (strict allowlist)
//
// OPTIONS preflight requests are answered with 204 No Content and no body.
func corsHandler(enabled bool, origins []string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	origin := "*"
	if len(origins) > 0 && !(len(origins) == 1 && origins[0] == "*") {
		origin = strings.Join(origins, ", ")
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		if !enabled {
			return next
		}
		return func(ctx *fasthttp.RequestCtx) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Api-Key, X-Request-ID")

			if string(ctx.Method()) == fasthttp.MethodOptions {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}

// drainTracking rejects new requests with 503 once the server is draining
// and keeps the in-flight count exact otherwise. Streaming handlers return
// before their body writer has run, so they take over the release: the
// stream finisher counts the request out when the stream exits.
func (s *Server) drainTracking(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !s.drain.RequestStarted() {
			apierr.WriteShutdown(ctx)
			return
		}
		defer func() {
			if handed, _ := ctx.UserValue(drainHandoffKey).(bool); !handed {
				s.drain.RequestCompleted()
			}
		}()
		next(ctx)
	}
}

// rateLimit enforces the per-key token buckets. It runs before auth, so it
// resolves the caller's tier itself; unknown or absent keys count against a
// shared anonymous bucket on the standard tier. Exempt paths are never
// limited.
func (s *Server) rateLimit(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !s.config().Security.RateLimit.Enabled || security.IsExemptPath(string(ctx.Path())) {
			next(ctx)
			return
		}

		keyID := "anonymous"
		tier := config.TierStandard
		if raw, st := security.ExtractKey(
			string(ctx.Request.Header.Peek("Authorization")),
			string(ctx.Request.Header.Peek("X-Api-Key")),
		); st == security.ExtractOK {
			if rec, found := s.keystore.Lookup(raw); found {
				keyID = rec.ID
				tier = rec.Tier
			}
		}

		// Shared Redis window when configured; local buckets otherwise.
		if s.shared != nil {
			allowed, _ := s.shared.Allow(ctx, keyID, tier)
			if !allowed {
				if s.metrics != nil {
					s.metrics.RecordRateLimit("blocked")
				}
				apierr.WriteRateLimit(ctx, tier.Limits().RequestsPerMinute, time.Second)
				return
			}
			if s.metrics != nil {
				s.metrics.RecordRateLimit("allowed")
			}
			next(ctx)
			return
		}

		res := s.limiter.Acquire(keyID, tier)
		if !res.Allowed {
			if s.metrics != nil {
				s.metrics.RecordRateLimit("blocked")
			}
			s.log.Warn("rate_limit_exceeded",
				slog.String("key_id", keyID),
				slog.String("tier", string(tier)),
			)
			apierr.WriteRateLimit(ctx, res.Limit, res.RetryAfter)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordRateLimit("allowed")
		}

		ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		ctx.Response.Header.Set("X-RateLimit-Reset", strconv.Itoa(int(res.Reset/time.Second)))
		next(ctx)
	}
}

// auth resolves the caller's identity and stores it under "identity". With
// auth disabled every request is anonymous. Exempt paths stay anonymous when
// allow_anonymous_health is set.
func (s *Server) auth(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		keys := s.config().Security.APIKeys

		if !keys.Enabled {
			ctx.SetUserValue("identity", security.Anonymous())
			next(ctx)
			return
		}
		if keys.AllowAnonymousHealth && security.IsExemptPath(string(ctx.Path())) {
			ctx.SetUserValue("identity", security.Anonymous())
			next(ctx)
			return
		}

		raw, st := security.ExtractKey(
			string(ctx.Request.Header.Peek("Authorization")),
			string(ctx.Request.Header.Peek("X-Api-Key")),
		)
		switch st {
		case security.ExtractMissing:
			if s.metrics != nil {
				s.metrics.RecordAuthFailure("missing_header")
			}
			apierr.WriteAuth(ctx, "missing authorization header")
			return
		case security.ExtractMalformed:
			if s.metrics != nil {
				s.metrics.RecordAuthFailure("invalid_format")
			}
			apierr.WriteAuth(ctx, "invalid authorization header format")
			return
		}

		rec, found := s.keystore.Lookup(raw)
		if !found {
			if s.metrics != nil {
				s.metrics.RecordAuthFailure("invalid_key")
			}
			s.log.Warn("auth_failed",
				slog.String("key_prefix", security.KeyPrefix(raw)),
				slog.String("path", string(ctx.Path())),
			)
			apierr.WriteAuth(ctx, "invalid API key")
			return
		}
		if !rec.Enabled {
			if s.metrics != nil {
				s.metrics.RecordAuthFailure("key_disabled")
			}
			apierr.WriteAuth(ctx, "API key is disabled")
			return
		}

		ctx.SetUserValue("identity", security.Identity{
			KeyID: rec.ID,
			Role:  rec.Role,
			Tier:  rec.Tier,
		})
		next(ctx)
	}
}

// adminGate enforces the admin role on /admin paths when configured.
func (s *Server) adminGate(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if s.config().Security.Admin.RequireAdminKey && security.IsAdminPath(string(ctx.Path())) {
			id := identityFrom(ctx)
			if !id.IsAdmin() {
				apierr.WriteForbidden(ctx, "admin role required")
				return
			}
		}
		next(ctx)
	}
}

// identityFrom reads the identity attached by the auth middleware,
// defaulting to anonymous for handlers reached outside the chain (tests).
func identityFrom(ctx *fasthttp.RequestCtx) security.Identity {
	if id, ok := ctx.UserValue("identity").(security.Identity); ok {
		return id
	}
	return security.Anonymous()
}

// applyMiddleware wraps h with the given middleware chain. The first middleware
// in the slice becomes the outermost wrapper (executes first on request,
// last on response). This matches the conventional "left-to-right" ordering:
//
//	applyMiddleware(h, mw1, mw2) → mw1(mw2(h))
func applyMiddleware(h fasthttp.RequestHandler, mws ...func(fasthttp.RequestHandler) fasthttp.RequestHandler) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
