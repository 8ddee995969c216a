// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra    — external connections (Redis, ClickHouse when configured)
//  2. initServices — metrics registry, async request logger
//  3. initEngine   — the simulation core
//  4. initServer   — HTTP surface over the engine
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/llm-simulator/internal/analytics"
	"github.com/nulpointcorp/llm-simulator/internal/chaos"
	"github.com/nulpointcorp/llm-simulator/internal/config"
	"github.com/nulpointcorp/llm-simulator/internal/engine"
	"github.com/nulpointcorp/llm-simulator/internal/logger"
	"github.com/nulpointcorp/llm-simulator/internal/metrics"
	"github.com/nulpointcorp/llm-simulator/internal/ratelimit"
	"github.com/nulpointcorp/llm-simulator/internal/server"
)

// telemetryInterval is how often breaker states and dropped-log counts are
// synced into the metrics registry.
const telemetryInterval = 5 * time.Second

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.SimulatorConfig
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb    *redis.Client
	shared *ratelimit.SharedLimiter
	sink   *analytics.ClickHouseSink

	reqLogger *logger.Logger
	prom      *metrics.Registry

	eng *engine.Engine
	srv *server.Server
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.SimulatorConfig, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"services", a.initServices},
		{"engine", a.initEngine},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails. On cancellation the server drains in-flight requests
// before resources are released.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)

	a.log.Info("starting simulator",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.Int("models", len(a.cfg.Models)),
		slog.Bool("chaos", a.cfg.Chaos.Enabled),
		slog.Bool("auth", a.cfg.Security.APIKeys.Enabled),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.Start(addr)
	})

	g.Go(func() error {
		a.syncTelemetry(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		a.log.Info("shutting down",
			slog.Int64("in_flight", a.srv.Drain().InFlight()),
			slog.Duration("drain_timeout", a.cfg.Server.DrainTimeout),
		)

		stopCtx, cancel := context.WithTimeout(context.Background(),
			a.cfg.Server.DrainTimeout+5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(stopCtx); err != nil {
			a.log.Error("server shutdown error", slog.String("error", err.Error()))
		}

		a.Close()
		return nil
	})

	return g.Wait()
}

// syncTelemetry periodically mirrors breaker states and the dropped-log
// counter into Prometheus.
func (a *App) syncTelemetry(ctx context.Context) {
	if a.prom == nil {
		return
	}

	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	var lastDropped int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for target, st := range a.eng.Chaos().BreakerStatuses() {
				a.prom.SetCircuitBreaker(target, breakerStateValue(st.State))
			}
			if a.reqLogger != nil {
				if dropped := a.reqLogger.DroppedLogs(); dropped > lastDropped {
					a.prom.AddDroppedLogs(dropped - lastDropped)
					lastDropped = dropped
				}
			}
		}
	}
}

func breakerStateValue(s chaos.BreakerState) int64 {
	switch s {
	case chaos.StateOpen:
		return 1
	case chaos.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times.
func (a *App) Close() {
	if a.reqLogger != nil {
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("logger close error", slog.String("error", err.Error()))
		}
		a.reqLogger = nil
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Error("analytics close error", slog.String("error", err.Error()))
		}
		a.sink = nil
	}
	if a.shared != nil {
		if err := a.shared.Close(); err != nil {
			a.log.Error("shared limiter close error", slog.String("error", err.Error()))
		}
		a.shared = nil
		a.rdb = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// connectRedis parses the URL and verifies connectivity with a PING.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
