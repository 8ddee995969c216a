package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/nulpointcorp/llm-simulator/internal/simerr"
)

// ChaosConfig controls synthetic failure injection.
type ChaosConfig struct {
	// Enabled turns chaos injection on. Default: false.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// GlobalProbability multiplies every rule's probability. 0 disables all
	// rules without toggling them. Must be in [0,1]. Default: 1.0.
	GlobalProbability float64 `json:"global_probability" mapstructure:"global_probability"`

	// Errors are evaluated in order; the first matching rule fires.
	Errors []ErrorInjectionRule `json:"errors" mapstructure:"errors"`

	// CircuitBreaker simulates provider-side breaker trips.
	CircuitBreaker BreakerConfig `json:"circuit_breaker" mapstructure:"circuit_breaker"`

	// RateLimiting simulates provider-side 429 pressure. This is distinct
	// from the security token-bucket limiter: chaos denials are a simulation
	// artifact, the security limiter is an operational control.
	RateLimiting ChaosRateLimitConfig `json:"rate_limiting" mapstructure:"rate_limiting"`
}

// DefaultChaosConfig returns chaos disabled with standard breaker and
// rate-limit parameters ready to be switched on.
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		Enabled:           false,
		GlobalProbability: 1.0,
		Errors:            nil,
		CircuitBreaker:    DefaultBreakerConfig(),
		RateLimiting:      DefaultChaosRateLimitConfig(),
	}
}

// Active reports whether any injection can fire.
func (c ChaosConfig) Active() bool {
	return c.Enabled && c.GlobalProbability > 0
}

// Validate checks the chaos section.
func (c ChaosConfig) Validate() error {
	if c.GlobalProbability < 0 || c.GlobalProbability > 1 {
		return fmt.Errorf("chaos.global_probability must be in [0,1], got %v", c.GlobalProbability)
	}
	for i, r := range c.Errors {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("chaos.errors[%d]: %w", i, err)
		}
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("chaos.circuit_breaker.failure_threshold must be > 0")
	}
	if c.RateLimiting.BurstMultiplier < 1.0 {
		return fmt.Errorf("chaos.rate_limiting.burst_multiplier must be ≥ 1.0")
	}
	return nil
}

// ErrorInjectionRule describes one class of synthetic error.
type ErrorInjectionRule struct {
	Name        string              `json:"name" mapstructure:"name"`
	ErrorType   simerr.InjectedType `json:"error_type" mapstructure:"error_type"`
	Probability float64             `json:"probability" mapstructure:"probability"`

	// Models restricts the rule to matching model ids (exact or prefix).
	// Empty means all models.
	Models []string `json:"models,omitempty" mapstructure:"models"`

	// Endpoints restricts the rule to endpoints containing any entry.
	// Empty means all endpoints.
	Endpoints []string `json:"endpoints,omitempty" mapstructure:"endpoints"`

	// Message overrides the default "Injected <type> error" text.
	Message string `json:"message,omitempty" mapstructure:"message"`

	// StatusCode overrides the error type's default HTTP status.
	StatusCode int `json:"status_code,omitempty" mapstructure:"status_code"`

	// DelayMs is advisory extra latency applied before the error is written.
	DelayMs int `json:"delay_ms,omitempty" mapstructure:"delay_ms"`

	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// Validate checks a single rule.
func (r ErrorInjectionRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if r.Probability < 0 || r.Probability > 1 {
		return fmt.Errorf("probability must be in [0,1], got %v", r.Probability)
	}
	if r.StatusCode != 0 && (r.StatusCode < 100 || r.StatusCode > 599) {
		return fmt.Errorf("status_code must be in [100,599], got %d", r.StatusCode)
	}
	return nil
}

// AppliesToModel reports whether the rule matches the model id.
func (r ErrorInjectionRule) AppliesToModel(model string) bool {
	if len(r.Models) == 0 {
		return true
	}
	for _, m := range r.Models {
		if m == model || strings.HasPrefix(model, m) {
			return true
		}
	}
	return false
}

// AppliesToEndpoint reports whether the rule matches the endpoint path.
func (r ErrorInjectionRule) AppliesToEndpoint(endpoint string) bool {
	if len(r.Endpoints) == 0 {
		return true
	}
	for _, e := range r.Endpoints {
		if strings.Contains(endpoint, e) {
			return true
		}
	}
	return false
}

// BreakerConfig tunes the chaos circuit breakers.
type BreakerConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// FailureThreshold failures within FailureWindowSecs trip the breaker.
	FailureThreshold    int   `json:"failure_threshold" mapstructure:"failure_threshold"`
	FailureWindowSecs   int64 `json:"failure_window_secs" mapstructure:"failure_window_secs"`
	RecoveryTimeoutSecs int64 `json:"recovery_timeout_secs" mapstructure:"recovery_timeout_secs"`

	// SuccessThreshold successes in half-open close the breaker.
	SuccessThreshold int `json:"success_threshold" mapstructure:"success_threshold"`

	// PerModel keys breakers by model id; false uses a single "global" key.
	PerModel bool `json:"per_model" mapstructure:"per_model"`
}

// DefaultBreakerConfig returns the standard breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:             false,
		FailureThreshold:    5,
		FailureWindowSecs:   60,
		RecoveryTimeoutSecs: 30,
		SuccessThreshold:    3,
		PerModel:            true,
	}
}

// FailureWindow returns the rolling failure window as a Duration.
func (c BreakerConfig) FailureWindow() time.Duration {
	return time.Duration(c.FailureWindowSecs) * time.Second
}

// RecoveryTimeout returns the open → half-open timeout as a Duration.
func (c BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSecs) * time.Second
}

// ChaosRateLimitConfig tunes the probabilistic provider-style rate limiter.
type ChaosRateLimitConfig struct {
	Enabled           bool    `json:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int     `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	TokensPerMinute   int     `json:"tokens_per_minute" mapstructure:"tokens_per_minute"`
	BurstMultiplier   float64 `json:"burst_multiplier" mapstructure:"burst_multiplier"`

	// ModelLimits overrides the defaults per model id (exact or prefix).
	ModelLimits map[string]ModelRateLimit `json:"model_limits,omitempty" mapstructure:"model_limits"`
}

// ModelRateLimit is a per-model rpm/tpm pair.
type ModelRateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	TokensPerMinute   int `json:"tokens_per_minute" mapstructure:"tokens_per_minute"`
}

// DefaultChaosRateLimitConfig mirrors typical published provider limits.
func DefaultChaosRateLimitConfig() ChaosRateLimitConfig {
	return ChaosRateLimitConfig{
		Enabled:           false,
		RequestsPerMinute: 1000,
		TokensPerMinute:   100_000,
		BurstMultiplier:   1.5,
		ModelLimits: map[string]ModelRateLimit{
			"gpt-4":   {RequestsPerMinute: 500, TokensPerMinute: 40_000},
			"gpt-3.5": {RequestsPerMinute: 3500, TokensPerMinute: 90_000},
			"claude":  {RequestsPerMinute: 1000, TokensPerMinute: 100_000},
		},
	}
}

// LimitFor resolves the rate limit for a model: exact match, then prefix
// match, then the config defaults.
func (c ChaosRateLimitConfig) LimitFor(model string) ModelRateLimit {
	if l, ok := c.ModelLimits[model]; ok {
		return l
	}
	for prefix, l := range c.ModelLimits {
		if strings.HasPrefix(model, prefix) {
			return l
		}
	}
	return ModelRateLimit{
		RequestsPerMinute: c.RequestsPerMinute,
		TokensPerMinute:   c.TokensPerMinute,
	}
}

// RetryAfter derives the retry hint from token pressure, clamped to [1s, 5m].
func (l ModelRateLimit) RetryAfter(tokensUsed int) time.Duration {
	if l.TokensPerMinute == 0 {
		return time.Minute
	}
	seconds := float64(tokensUsed) / float64(l.TokensPerMinute) * 60.0
	if seconds < 1 {
		seconds = 1
	}
	if seconds > 300 {
		seconds = 300
	}
	return time.Duration(seconds * float64(time.Second))
}

// ApplyScenario mutates the chaos config to one of the predefined scenarios:
// none, intermittent_timeouts, rate_limit_stress, high_latency,
// partial_outage, full_outage. Unknown names are an error; "custom" leaves
// the config untouched.
func (c *ChaosConfig) ApplyScenario(name string) error {
	switch name {
	case "", "custom":
		// Keep the existing config.
	case "none":
		c.Enabled = false
	case "intermittent_timeouts":
		c.Enabled = true
		c.Errors = []ErrorInjectionRule{{
			Name:        "random_timeout",
			ErrorType:   simerr.InjectTimeout,
			Probability: 0.05,
			Message:     "Request timed out",
			StatusCode:  504,
			DelayMs:     30_000,
			Enabled:     true,
		}}
	case "rate_limit_stress":
		c.Enabled = true
		c.RateLimiting.Enabled = true
		c.RateLimiting.RequestsPerMinute = 10
		c.RateLimiting.TokensPerMinute = 1000
		c.Errors = []ErrorInjectionRule{{
			Name:        "rate_limit",
			ErrorType:   simerr.InjectRateLimit,
			Probability: 0.3,
			Message:     "Rate limit exceeded",
			StatusCode:  429,
			Enabled:     true,
		}}
	case "high_latency":
		c.Enabled = true
		// Zero probability: no errors fire, the rule only contributes delay.
		c.Errors = []ErrorInjectionRule{{
			Name:        "high_latency",
			ErrorType:   simerr.InjectTimeout,
			Probability: 0.0,
			DelayMs:     5000,
			Enabled:     true,
		}}
	case "partial_outage":
		c.Enabled = true
		c.CircuitBreaker.Enabled = true
		c.Errors = []ErrorInjectionRule{
			{
				Name:        "server_error",
				ErrorType:   simerr.InjectServerError,
				Probability: 0.25,
				Message:     "Internal server error",
				StatusCode:  500,
				Enabled:     true,
			},
			{
				Name:        "service_unavailable",
				ErrorType:   simerr.InjectUnavailable,
				Probability: 0.1,
				Message:     "Service temporarily unavailable",
				StatusCode:  503,
				Enabled:     true,
			},
		}
	case "full_outage":
		c.Enabled = true
		c.Errors = []ErrorInjectionRule{{
			Name:        "full_outage",
			ErrorType:   simerr.InjectUnavailable,
			Probability: 1.0,
			Message:     "Service is currently unavailable",
			StatusCode:  503,
			Enabled:     true,
		}}
	default:
		return fmt.Errorf("unknown chaos scenario %q", name)
	}
	return nil
}
