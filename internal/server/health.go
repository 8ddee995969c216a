package server

import (
	"fmt"
	"runtime"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-simulator/internal/version"
)

// Memory thresholds for the health check, in MiB of live heap.
const (
	memWarnMiB = 1024
	memFailMiB = 4096
)

// healthCheck is one component's verdict: pass, warn, or fail.
type healthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse is the body served on /health.
type healthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Timestamp     time.Time              `json:"timestamp"`
	Checks        map[string]healthCheck `json:"checks"`
}

func pass() healthCheck {
	return healthCheck{Status: "pass"}
}

func warn(format string, a ...any) healthCheck {
	return healthCheck{Status: "warn", Message: fmt.Sprintf(format, a...)}
}

func fail(format string, a ...any) healthCheck {
	return healthCheck{Status: "fail", Message: fmt.Sprintf(format, a...)}
}

// handleHealth serves GET /health and /healthz. Component checks roll up to
// healthy, degraded, or unhealthy; unhealthy responds 503 so orchestrators
// restart the pod.
func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	checks := map[string]healthCheck{
		"engine":  s.checkEngine(),
		"config":  s.checkConfig(),
		"metrics": s.checkMetrics(),
		"memory":  checkMemory(),
	}
	if s.drain.Draining() {
		checks["shutdown"] = warn("draining, %d requests in flight", s.drain.InFlight())
	}

	status := "healthy"
	for _, c := range checks {
		switch c.Status {
		case "fail":
			status = "unhealthy"
		case "warn":
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	if status == "unhealthy" || s.drain.Draining() {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	}
	writeJSON(ctx, healthResponse{
		Status:        status,
		Version:       version.Version,
		UptimeSeconds: int64(s.engine.Uptime().Seconds()),
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
	})
}

func (s *Server) checkEngine() healthCheck {
	if len(s.config().Models) == 0 {
		return fail("no models configured")
	}
	return pass()
}

func (s *Server) checkConfig() healthCheck {
	if err := s.config().Validate(); err != nil {
		return fail("config invalid: %s", err.Error())
	}
	return pass()
}

func (s *Server) checkMetrics() healthCheck {
	if s.metrics == nil {
		return warn("metrics collection disabled")
	}
	return pass()
}

func checkMemory() healthCheck {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapMiB := ms.HeapAlloc / (1 << 20)
	switch {
	case heapMiB >= memFailMiB:
		return fail("heap %d MiB above limit %d MiB", heapMiB, memFailMiB)
	case heapMiB >= memWarnMiB:
		return warn("heap %d MiB above threshold %d MiB", heapMiB, memWarnMiB)
	}
	return pass()
}

// handleReady serves GET /ready and /readyz. Unlike /health this only
// reflects whether the server should receive traffic: it flips to 503 the
// moment draining starts.
func (s *Server) handleReady(ctx *fasthttp.RequestCtx) {
	if s.drain.Ready() {
		writeJSON(ctx, map[string]bool{"ready": true})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]any{"ready": false, "reason": "draining"})
}

// handleVersion serves GET /version.
func (s *Server) handleVersion(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]string{
		"version": version.Version,
		"service": s.config().Telemetry.ServiceName,
	})
}

// handleRoot serves GET / with a short service description and the main
// entry points.
func (s *Server) handleRoot(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{
		"service": s.config().Telemetry.ServiceName,
		"version": version.Version,
		"endpoints": []string{
			"/v1/chat/completions",
			"/v1/completions",
			"/v1/embeddings",
			"/v1/models",
			"/v1/messages",
			"/v1/models/{model}:generateContent",
			"/health",
			"/ready",
			"/version",
			"/metrics",
		},
	})
}
