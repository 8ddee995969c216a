package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/llm-simulator/internal/analytics"
	"github.com/nulpointcorp/llm-simulator/internal/engine"
	"github.com/nulpointcorp/llm-simulator/internal/logger"
	"github.com/nulpointcorp/llm-simulator/internal/metrics"
	"github.com/nulpointcorp/llm-simulator/internal/ratelimit"
	"github.com/nulpointcorp/llm-simulator/internal/server"
)

// initInfra establishes optional external connections. The simulator runs
// fully self-contained when neither Redis nor ClickHouse is configured.
func (a *App) initInfra(ctx context.Context) error {
	switch {
	case a.cfg.Redis.URL != "":
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.shared = ratelimit.NewSharedLimiter(rdb)
		a.log.Info("redis connected, rate limiter is shared across replicas")

	case a.cfg.Security.RateLimit.RedisAddr != "":
		// Address without credentials; connectivity is verified lazily and
		// the limiter degrades to allow on Redis failure.
		a.shared = ratelimit.Dial(a.cfg.Security.RateLimit.RedisAddr)
		a.log.Info("shared rate limiter configured",
			slog.String("addr", a.cfg.Security.RateLimit.RedisAddr))
	}

	if a.cfg.Analytics.DSN != "" {
		a.log.Info("connecting to clickhouse", slog.String("dsn", redactURL(a.cfg.Analytics.DSN)))

		sink, err := analytics.Open(ctx, a.cfg.Analytics.DSN, a.cfg.Analytics.Table)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.sink = sink
		a.log.Info("clickhouse connected")
	}

	return nil
}

// initServices creates the metrics registry and the async request logger.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	reqLogger, err := logger.New(ctx, a.log)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	if a.sink != nil {
		reqLogger.SetSink(a.sink)
	}
	a.reqLogger = reqLogger

	return nil
}

// initEngine builds the simulation core from the validated configuration.
func (a *App) initEngine(_ context.Context) error {
	a.eng = engine.New(a.cfg)

	seeded := a.cfg.Seed != nil
	a.log.Info("engine ready",
		slog.Int("models", len(a.cfg.Models)),
		slog.Bool("seeded", seeded),
		slog.Bool("latency", a.cfg.Latency.Enabled),
		slog.Bool("chaos", a.cfg.Chaos.Enabled),
	)

	return nil
}

// initServer wires the HTTP surface over the engine.
func (a *App) initServer(_ context.Context) error {
	a.srv = server.New(a.cfg, a.eng, server.Options{
		Metrics:       a.prom,
		RequestLogger: a.reqLogger,
		SharedLimiter: a.shared,
		Logger:        a.log,
	})
	return nil
}
