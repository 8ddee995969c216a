package server

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// Handler builds the full route table wrapped in the middleware chain. It is
// exported so tests can drive the server without a listener.
func (s *Server) Handler() fasthttp.RequestHandler {
	cfg := s.config()
	r := router.New()
	r.RedirectTrailingSlash = false

	// OpenAI dialect.
	r.POST("/v1/chat/completions", s.handleChatCompletions)
	r.POST("/v1/completions", s.handleChatCompletions)
	r.POST("/v1/embeddings", s.handleEmbeddings)
	r.GET("/v1/models", s.handleListModels)
	r.GET("/v1/models/{id}", s.handleGetModel)

	// Anthropic dialect.
	r.POST("/v1/messages", s.handleMessages)
	r.POST("/messages", s.handleMessages)

	// Gemini dialect. The colon form ("model:generateContent") arrives as a
	// single {model} segment; the slash form binds {action} separately. Both
	// /v1 and /v1beta prefixes are accepted.
	for _, prefix := range []string{"/v1", "/v1beta"} {
		r.POST(prefix+"/models/{model}", s.handleGenerateContent)
		r.POST(prefix+"/models/{model}/{action}", s.handleGenerateContent)
	}

	// Ops.
	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/healthz", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/readyz", s.handleReady)
	r.GET("/version", s.handleVersion)
	if s.metrics != nil {
		path := cfg.Telemetry.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, s.metrics.Handler())
	}

	// Admin.
	r.GET("/admin/stats", s.handleAdminStats)
	r.POST("/admin/stats", s.handleAdminStats)
	r.POST("/admin/stats/reset", s.handleAdminStatsReset)
	r.GET("/admin/config", s.handleAdminGetConfig)
	r.POST("/admin/config", s.handleAdminUpdateConfig)
	r.GET("/admin/chaos/status", s.handleChaosStatus)
	r.POST("/admin/chaos/enable", s.handleChaosEnable)
	r.POST("/admin/chaos/disable", s.handleChaosDisable)
	r.GET("/admin/chaos/breakers", s.handleBreakers)
	r.POST("/admin/chaos/breakers/reset", s.handleBreakersReset)
	r.GET("/admin/drain/status", s.handleDrainStatus)
	r.POST("/admin/drain", s.handleDrainStart)

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		securityHeaders(cfg.Security.Headers),
		corsHandler(cfg.Security.CORSEnabled, cfg.Security.CORSOrigins),
		s.drainTracking,
		s.rateLimit,
		s.auth,
		s.adminGate,
	)
}

// Start serves on addr until Shutdown is called. Blocks.
func (s *Server) Start(addr string) error {
	cfg := s.config()
	s.srv = &fasthttp.Server{
		Handler:     s.Handler(),
		Name:        cfg.Telemetry.ServiceName,
		Concurrency: cfg.Server.MaxConcurrentRequests,
		ReadTimeout: cfg.Server.RequestTimeout,
		// Streams sleep out their full schedule inside one response, so the
		// write timeout needs headroom beyond the request timeout.
		WriteTimeout: 2 * cfg.Server.RequestTimeout,
	}
	return s.srv.ListenAndServe(addr)
}

// Shutdown drains in-flight requests and stops the listener. New requests
// are rejected with 503 the moment this is called.
func (s *Server) Shutdown(ctx context.Context) error {
	s.drain.StartDrain()

	remaining := s.drain.Wait(ctx)
	if remaining > 0 {
		s.log.Warn("drain_timeout_forcing_close",
			"in_flight", remaining,
			"waited", s.config().Server.DrainTimeout.String(),
		)
	}

	if s.srv == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.ShutdownWithContext(stopCtx)
}
