package server

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-simulator/internal/chaos"
	"github.com/nulpointcorp/llm-simulator/internal/config"
	"github.com/nulpointcorp/llm-simulator/internal/engine"
	"github.com/nulpointcorp/llm-simulator/internal/version"
	"github.com/nulpointcorp/llm-simulator/pkg/apierr"
)

// adminStats is the /admin/stats response body.
type adminStats struct {
	Engine        engine.Stats `json:"engine"`
	Chaos         chaosStats   `json:"chaos"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Version       string       `json:"version"`
}

type chaosStats struct {
	Active            bool   `json:"active"`
	RequestsEvaluated uint64 `json:"requests_evaluated"`
	ErrorsInjected    uint64 `json:"errors_injected"`
}

func (s *Server) snapshotChaos() chaosStats {
	ch := s.engine.Chaos()
	reqs, injected := ch.Stats()
	return chaosStats{
		Active:            ch.Active(),
		RequestsEvaluated: reqs,
		ErrorsInjected:    injected,
	}
}

// handleAdminStats serves GET /admin/stats.
func (s *Server) handleAdminStats(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, adminStats{
		Engine:        s.engine.Stats(),
		Chaos:         s.snapshotChaos(),
		UptimeSeconds: int64(s.engine.Uptime().Seconds()),
		Version:       version.Version,
	})
}

// handleAdminStatsReset serves POST /admin/stats/reset.
func (s *Server) handleAdminStatsReset(ctx *fasthttp.RequestCtx) {
	s.engine.ResetStats()
	s.log.Info("stats_reset")
	writeJSON(ctx, map[string]string{"status": "ok"})
}

// handleAdminGetConfig serves GET /admin/config with the live configuration.
func (s *Server) handleAdminGetConfig(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, s.config())
}

// handleAdminUpdateConfig serves POST /admin/config. The body is decoded over
// the built-in defaults, validated, and installed atomically: the engine
// rebuilds its latency simulator and chaos pipeline, the key table is
// replaced, and the middleware chain picks up the new snapshot on the next
// request. Invalid configs are rejected without touching the running one.
func (s *Server) handleAdminUpdateConfig(ctx *fasthttp.RequestCtx) {
	next := config.Default()
	if err := json.Unmarshal(ctx.PostBody(), next); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	if err := s.applyConfig(next); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			err.Error(), apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	s.log.Info("config_updated",
		slog.Int("models", len(next.Models)),
		slog.Bool("chaos_enabled", next.Chaos.Enabled),
	)
	writeJSON(ctx, map[string]string{"status": "ok"})
}

// chaosStatus is the /admin/chaos/status response body.
type chaosStatus struct {
	Enabled           bool                           `json:"enabled"`
	Active            bool                           `json:"active"`
	RequestsEvaluated uint64                         `json:"requests_evaluated"`
	ErrorsInjected    uint64                         `json:"errors_injected"`
	Breakers          map[string]chaos.BreakerStatus `json:"breakers"`
}

// handleChaosStatus serves GET /admin/chaos/status.
func (s *Server) handleChaosStatus(ctx *fasthttp.RequestCtx) {
	ch := s.engine.Chaos()
	reqs, injected := ch.Stats()
	writeJSON(ctx, chaosStatus{
		Enabled:           s.config().Chaos.Enabled,
		Active:            ch.Active(),
		RequestsEvaluated: reqs,
		ErrorsInjected:    injected,
		Breakers:          ch.BreakerStatuses(),
	})
}

// handleChaosEnable serves POST /admin/chaos/enable.
func (s *Server) handleChaosEnable(ctx *fasthttp.RequestCtx) {
	s.setChaosEnabled(ctx, true)
}

// handleChaosDisable serves POST /admin/chaos/disable.
func (s *Server) handleChaosDisable(ctx *fasthttp.RequestCtx) {
	s.setChaosEnabled(ctx, false)
}

func (s *Server) setChaosEnabled(ctx *fasthttp.RequestCtx, enabled bool) {
	next := *s.config()
	next.Chaos.Enabled = enabled
	if err := s.applyConfig(&next); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			err.Error(), apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	s.log.Info("chaos_toggled", slog.Bool("enabled", enabled))
	writeJSON(ctx, map[string]any{"status": "ok", "chaos_enabled": enabled})
}

// handleBreakers serves GET /admin/chaos/breakers.
func (s *Server) handleBreakers(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{
		"breakers": s.engine.Chaos().BreakerStatuses(),
	})
}

// handleBreakersReset serves POST /admin/chaos/breakers/reset. All breakers
// return to closed with zeroed counters.
func (s *Server) handleBreakersReset(ctx *fasthttp.RequestCtx) {
	s.engine.Chaos().ResetBreakers()
	s.log.Info("breakers_reset")
	writeJSON(ctx, map[string]string{"status": "ok"})
}

// handleDrainStatus serves GET /admin/drain/status.
func (s *Server) handleDrainStatus(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, s.drain.Status())
}

// handleDrainStart serves POST /admin/drain. It flips the server into drain
// mode and returns immediately; in-flight requests run to completion while
// new ones are rejected with 503.
func (s *Server) handleDrainStart(ctx *fasthttp.RequestCtx) {
	s.drain.StartDrain()
	s.log.Warn("drain_started",
		slog.Int64("in_flight", s.drain.InFlight()),
		slog.Duration("timeout", s.config().Server.DrainTimeout),
	)
	writeJSON(ctx, s.drain.Status())
}
