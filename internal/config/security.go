package config

import (
	"fmt"
	"math"
)

// Role is the permission level attached to an API key.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleUser     Role = "user"
	RoleReadonly Role = "readonly"
)

// Tier selects rate-limit parameters for an API key.
type Tier string

const (
	TierStandard  Tier = "standard"
	TierPremium   Tier = "premium"
	TierAdmin     Tier = "admin"
	TierUnlimited Tier = "unlimited"
)

// TierLimits describes one tier's token bucket.
type TierLimits struct {
	// RequestsPerMinute is the sustained refill rate.
	RequestsPerMinute int `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	// Burst is the bucket capacity.
	Burst int `json:"burst" mapstructure:"burst"`
}

// Limits returns the bucket parameters for a tier. Unlimited is handled by
// the limiter as a short-circuit; the values here are never consumed.
func (t Tier) Limits() TierLimits {
	switch t {
	case TierPremium:
		return TierLimits{RequestsPerMinute: 600, Burst: 100}
	case TierAdmin:
		return TierLimits{RequestsPerMinute: 1000, Burst: 200}
	case TierUnlimited:
		return TierLimits{RequestsPerMinute: math.MaxInt32, Burst: math.MaxInt32}
	default:
		return TierLimits{RequestsPerMinute: 60, Burst: 10}
	}
}

// APIKey is one configured key record. Lookup is by the Key string.
type APIKey struct {
	ID      string `json:"id" mapstructure:"id"`
	Key     string `json:"key" mapstructure:"key"`
	Role    Role   `json:"role" mapstructure:"role"`
	Tier    Tier   `json:"tier" mapstructure:"tier"`
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
}

// APIKeysConfig controls authentication.
type APIKeysConfig struct {
	// Enabled requires a valid key on every non-exempt request.
	// Default: false (every request is treated as anonymous).
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// AllowAnonymousHealth exempts the health/metrics path set from auth.
	// Default: true.
	AllowAnonymousHealth bool `json:"allow_anonymous_health" mapstructure:"allow_anonymous_health"`

	// Keys is the static key table.
	Keys []APIKey `json:"keys" mapstructure:"keys"`
}

// AdminConfig controls the /admin path gate.
type AdminConfig struct {
	// RequireAdminKey enforces the admin role on /admin paths. Default: false.
	RequireAdminKey bool `json:"require_admin_key" mapstructure:"require_admin_key"`
}

// SecurityHeadersConfig controls the response hardening headers.
type SecurityHeadersConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	HSTSEnabled           bool   `json:"hsts_enabled" mapstructure:"hsts_enabled"`
	HSTSMaxAge            int    `json:"hsts_max_age" mapstructure:"hsts_max_age"`
	FrameOptions          string `json:"frame_options" mapstructure:"frame_options"`
	ReferrerPolicy        string `json:"referrer_policy" mapstructure:"referrer_policy"`
	ContentSecurityPolicy string `json:"content_security_policy" mapstructure:"content_security_policy"`
	PermissionsPolicy     string `json:"permissions_policy" mapstructure:"permissions_policy"`
}

// RateLimitSecurityConfig controls the per-key token-bucket limiter.
type RateLimitSecurityConfig struct {
	// Enabled turns the limiter on. Default: false.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// RedisAddr, when set, shares limiter state across replicas via a Redis
	// sliding window instead of the in-process buckets.
	RedisAddr string `json:"redis_addr" mapstructure:"redis_addr"`
}

// SecurityConfig groups auth, limiter, and header settings.
type SecurityConfig struct {
	APIKeys   APIKeysConfig           `json:"api_keys" mapstructure:"api_keys"`
	Admin     AdminConfig             `json:"admin" mapstructure:"admin"`
	RateLimit RateLimitSecurityConfig `json:"rate_limit" mapstructure:"rate_limit"`
	Headers   SecurityHeadersConfig   `json:"headers" mapstructure:"headers"`

	// CORSEnabled adds permissive CORS headers. Default: true.
	CORSEnabled bool     `json:"cors_enabled" mapstructure:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" mapstructure:"cors_origins"`
}

// DefaultSecurityConfig returns open access with hardening headers on.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		APIKeys: APIKeysConfig{
			Enabled:              false,
			AllowAnonymousHealth: true,
		},
		Admin:     AdminConfig{RequireAdminKey: false},
		RateLimit: RateLimitSecurityConfig{Enabled: false},
		Headers: SecurityHeadersConfig{
			Enabled:               true,
			HSTSEnabled:           false,
			HSTSMaxAge:            31_536_000,
			FrameOptions:          "DENY",
			ReferrerPolicy:        "strict-origin-when-cross-origin",
			ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
			PermissionsPolicy:     "geolocation=(), microphone=(), camera=()",
		},
		CORSEnabled: true,
		CORSOrigins: []string{"*"},
	}
}

// Validate checks the security section.
func (c SecurityConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.APIKeys.Keys))
	for i, k := range c.APIKeys.Keys {
		if k.ID == "" || k.Key == "" {
			return fmt.Errorf("security.api_keys.keys[%d]: id and key are required", i)
		}
		if _, dup := seen[k.Key]; dup {
			return fmt.Errorf("security.api_keys.keys[%d]: duplicate key string", i)
		}
		seen[k.Key] = struct{}{}
		switch k.Role {
		case RoleAdmin, RoleUser, RoleReadonly:
		default:
			return fmt.Errorf("security.api_keys.keys[%d]: invalid role %q", i, k.Role)
		}
		switch k.Tier {
		case TierStandard, TierPremium, TierAdmin, TierUnlimited:
		default:
			return fmt.Errorf("security.api_keys.keys[%d]: invalid tier %q", i, k.Tier)
		}
	}
	if c.APIKeys.Enabled && len(c.APIKeys.Keys) == 0 {
		return fmt.Errorf("security.api_keys.enabled requires at least one key")
	}
	return nil
}
