// Command simulator is an offline stand-in for the OpenAI, Anthropic, and
// Gemini HTTP APIs.
//
// It serves all three dialects on one port with configurable latency,
// deterministic synthetic responses, and optional chaos injection, so
// clients can be load-tested and failure-tested without spending tokens.
//
// Quick-start (defaults, no config file required):
//
//	./simulator
//
// Point any OpenAI SDK at http://localhost:8080/v1 to use it. See
// config.example.yaml for all available settings; every value can also be
// set via LLMSIM_* environment variables.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nulpointcorp/llm-simulator/internal/app"
	"github.com/nulpointcorp/llm-simulator/internal/config"
	"github.com/nulpointcorp/llm-simulator/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/TOML/JSON config file")
	flag.Parse()

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Build the structured logger. All subsystems share this instance.
	logger := buildLogger(cfg.Telemetry.LogLevel)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger, version.Version)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("simulator stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug,
	}))
}
