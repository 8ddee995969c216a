// Package config loads and validates all runtime configuration for the
// simulator.
//
// Configuration is read from an optional config file (YAML, TOML, or JSON,
// selected by extension) with environment-variable overrides on top. Env
// vars use the LLMSIM_ prefix: LLMSIM_PORT, LLMSIM_SEED, LLMSIM_CHAOS_ENABLED
// and so on. A .env file in the working directory is loaded first.
//
// Everything has a usable default — the simulator starts with no file and no
// env vars at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Host to bind. Default: "0.0.0.0".
	Host string `json:"host" mapstructure:"host"`

	// Port to listen on. Default: 8080.
	Port int `json:"port" mapstructure:"port"`

	// MaxConcurrentRequests caps simultaneous connections. Default: 10000.
	MaxConcurrentRequests int `json:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`

	// RequestTimeout bounds a single request end to end. Default: 300s.
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`

	// DrainTimeout bounds the graceful shutdown wait. Default: 30s.
	DrainTimeout time.Duration `json:"drain_timeout" mapstructure:"drain_timeout"`
}

// TelemetryConfig controls logging and metrics exposure.
type TelemetryConfig struct {
	// LogLevel is one of: debug, info, warn, error. Default: info.
	LogLevel string `json:"log_level" mapstructure:"log_level"`

	// MetricsPath is where Prometheus metrics are served. Default: "/metrics".
	MetricsPath string `json:"metrics_path" mapstructure:"metrics_path"`

	// ServiceName labels metrics and logs. Default: "llm-simulator".
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// RedisConfig points the security rate limiter at a shared Redis instance.
// Empty URL (the default) keeps limiting purely in-process.
type RedisConfig struct {
	URL string `json:"url" mapstructure:"url"`
}

// AnalyticsConfig controls the optional ClickHouse request sink. Disabled
// unless DSN is set, so the simulator has no external dependencies by
// default.
type AnalyticsConfig struct {
	// DSN is a clickhouse:// URL. Empty disables the sink.
	DSN string `json:"dsn" mapstructure:"dsn"`

	// Table receives request rows. Default: "simulator_requests".
	Table string `json:"table" mapstructure:"table"`
}

// SimulatorConfig is the top-level configuration container.
type SimulatorConfig struct {
	Server    ServerConfig           `json:"server" mapstructure:"server"`
	Models    map[string]ModelConfig `json:"models" mapstructure:"models"`
	Latency   LatencyConfig          `json:"latency" mapstructure:"latency"`
	Chaos     ChaosConfig            `json:"chaos" mapstructure:"chaos"`
	Security  SecurityConfig         `json:"security" mapstructure:"security"`
	Telemetry TelemetryConfig        `json:"telemetry" mapstructure:"telemetry"`
	Redis     RedisConfig            `json:"redis" mapstructure:"redis"`
	Analytics AnalyticsConfig        `json:"analytics" mapstructure:"analytics"`

	// Seed makes generation and latency sampling deterministic across runs.
	// Nil seeds from entropy.
	Seed *uint64 `json:"seed,omitempty" mapstructure:"seed"`
}

// Default returns the full built-in configuration.
func Default() *SimulatorConfig {
	return &SimulatorConfig{
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  8080,
			MaxConcurrentRequests: 10_000,
			RequestTimeout:        300 * time.Second,
			DrainTimeout:          30 * time.Second,
		},
		Models:   DefaultModels(),
		Latency:  DefaultLatencyConfig(),
		Chaos:    DefaultChaosConfig(),
		Security: DefaultSecurityConfig(),
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			MetricsPath: "/metrics",
			ServiceName: "llm-simulator",
		},
		Analytics: AnalyticsConfig{Table: "simulator_requests"},
	}
}

// Load builds the configuration from defaults, an optional config file, and
// LLMSIM_* environment variables (highest precedence).
func Load(path string) (*SimulatorConfig, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("LLMSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else {
		// Best-effort: pick up config.yaml in the working directory.
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err == nil {
			if err := v.Unmarshal(cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	// ── Environment overrides ─────────────────────────────────────────────────
	if v.IsSet("HOST") {
		cfg.Server.Host = v.GetString("HOST")
	}
	if v.IsSet("PORT") {
		cfg.Server.Port = v.GetInt("PORT")
	}
	if v.IsSet("REQUEST_TIMEOUT") {
		cfg.Server.RequestTimeout = v.GetDuration("REQUEST_TIMEOUT")
	}
	if v.IsSet("DRAIN_TIMEOUT") {
		cfg.Server.DrainTimeout = v.GetDuration("DRAIN_TIMEOUT")
	}
	if v.IsSet("LOG_LEVEL") {
		cfg.Telemetry.LogLevel = strings.ToLower(v.GetString("LOG_LEVEL"))
	}
	if v.IsSet("SEED") {
		seed := v.GetUint64("SEED")
		cfg.Seed = &seed
	}
	if v.IsSet("LATENCY_ENABLED") {
		cfg.Latency.Enabled = v.GetBool("LATENCY_ENABLED")
	}
	if v.IsSet("LATENCY_PROFILE") {
		cfg.Latency.DefaultProfile = v.GetString("LATENCY_PROFILE")
	}
	if v.IsSet("LATENCY_MULTIPLIER") {
		cfg.Latency.Multiplier = v.GetFloat64("LATENCY_MULTIPLIER")
	}
	if v.IsSet("CHAOS_ENABLED") {
		cfg.Chaos.Enabled = v.GetBool("CHAOS_ENABLED")
	}
	if v.IsSet("CHAOS_SCENARIO") {
		if err := cfg.Chaos.ApplyScenario(v.GetString("CHAOS_SCENARIO")); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	if v.IsSet("AUTH_ENABLED") {
		cfg.Security.APIKeys.Enabled = v.GetBool("AUTH_ENABLED")
	}
	if v.IsSet("REQUIRE_ADMIN_KEY") {
		cfg.Security.Admin.RequireAdminKey = v.GetBool("REQUIRE_ADMIN_KEY")
	}
	if v.IsSet("RATE_LIMIT_ENABLED") {
		cfg.Security.RateLimit.Enabled = v.GetBool("RATE_LIMIT_ENABLED")
	}
	if v.IsSet("CORS_ORIGINS") {
		cfg.Security.CORSOrigins = v.GetStringSlice("CORS_ORIGINS")
	}
	if v.IsSet("REDIS_URL") {
		cfg.Redis.URL = v.GetString("REDIS_URL")
	}
	if v.IsSet("ANALYTICS_DSN") {
		cfg.Analytics.DSN = v.GetString("ANALYTICS_DSN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks all semantic constraints that cannot be expressed as
// defaults.
func (c *SimulatorConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port must be in [1,65535], got %d", c.Server.Port)
	}
	if c.Server.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("config: max_concurrent_requests must be > 0")
	}

	switch c.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid log_level %q; must be one of: debug, info, warn, error",
			c.Telemetry.LogLevel,
		)
	}

	if err := c.Latency.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Chaos.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	for name, m := range c.Models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("config: model %q: %w", name, err)
		}
		if m.LatencyProfile != "" {
			if _, ok := c.Latency.Profiles[m.LatencyProfile]; !ok {
				return fmt.Errorf("config: model %q references unknown latency profile %q",
					name, m.LatencyProfile)
			}
		}
	}

	return nil
}

// Model returns the configuration for a model id.
func (c *SimulatorConfig) Model(id string) (ModelConfig, bool) {
	m, ok := c.Models[id]
	return m, ok
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
