package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if _, ok := cfg.Models["gpt-4"]; !ok {
		t.Error("default catalog should include gpt-4")
	}
	if _, ok := cfg.Models["claude-3-5-sonnet-20241022"]; !ok {
		t.Error("default catalog should include claude-3-5-sonnet-20241022")
	}
	if _, ok := cfg.Latency.Profiles[cfg.Latency.DefaultProfile]; !ok {
		t.Errorf("default latency profile %q must exist", cfg.Latency.DefaultProfile)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("port 0 should fail validation")
	}
}

func TestValidateRejectsUnknownDefaultProfile(t *testing.T) {
	cfg := Default()
	cfg.Latency.DefaultProfile = "does-not-exist"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown default_profile should fail validation")
	}
}

func TestDistributionValidation(t *testing.T) {
	cases := []struct {
		name string
		dist Distribution
		ok   bool
	}{
		{"fixed ok", Fixed(10), true},
		{"fixed negative", Fixed(-1), false},
		{"normal ok", Normal(100, 20), true},
		{"normal negative stddev", Normal(100, -1), false},
		{"lognormal ok", LogNormal(100, 20), true},
		{"lognormal zero stddev", LogNormal(100, 0), false},
		{"uniform ok", Uniform(1, 2), true},
		{"uniform inverted", Uniform(2, 1), false},
		{"exponential ok", Exponential(0.5), true},
		{"exponential zero rate", Exponential(0), false},
		{"pareto ok", Pareto(10, 2), true},
		{"pareto zero scale", Pareto(0, 2), false},
		{"unknown type", Distribution{Type: "weibull"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.dist.Validate()
			if tc.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestModelValidation(t *testing.T) {
	m := ModelConfig{ID: "", ContextLength: 100, MaxOutputTokens: 10}
	if err := m.Validate(); err == nil {
		t.Error("empty id should fail")
	}

	emb := embeddingModel("emb", 0)
	if err := emb.Validate(); err == nil {
		t.Error("embedding model without dimensions should fail")
	}

	ok := embeddingModel("text-embedding-ada-002", 1536)
	if err := ok.Validate(); err != nil {
		t.Errorf("embedding model should validate: %v", err)
	}
	if ok.MaxOutputTokens != 0 {
		t.Error("embedding models carry no output tokens")
	}
}

func TestChaosRuleMatching(t *testing.T) {
	rule := ErrorInjectionRule{
		Name:        "gpt4_only",
		Probability: 0.5,
		Models:      []string{"gpt-4"},
		Endpoints:   []string{"/chat/completions"},
		Enabled:     true,
	}

	if !rule.AppliesToModel("gpt-4") {
		t.Error("exact model match should apply")
	}
	if !rule.AppliesToModel("gpt-4-turbo") {
		t.Error("prefix model match should apply")
	}
	if rule.AppliesToModel("gpt-3.5-turbo") {
		t.Error("non-matching model should not apply")
	}
	if !rule.AppliesToEndpoint("/v1/chat/completions") {
		t.Error("substring endpoint match should apply")
	}
	if rule.AppliesToEndpoint("/v1/embeddings") {
		t.Error("non-matching endpoint should not apply")
	}
}

func TestChaosScenarios(t *testing.T) {
	cfg := DefaultChaosConfig()
	if err := cfg.ApplyScenario("full_outage"); err != nil {
		t.Fatalf("apply scenario: %v", err)
	}
	if !cfg.Enabled {
		t.Error("full_outage should enable chaos")
	}
	if len(cfg.Errors) != 1 || cfg.Errors[0].Probability != 1.0 {
		t.Errorf("full_outage should install a single always-on rule, got %+v", cfg.Errors)
	}

	if err := cfg.ApplyScenario("nonsense"); err == nil {
		t.Error("unknown scenario name should fail")
	}
}

func TestChaosRateLimitLookup(t *testing.T) {
	cfg := DefaultChaosRateLimitConfig()

	if got := cfg.LimitFor("gpt-4").RequestsPerMinute; got != 500 {
		t.Errorf("exact match rpm = %d, want 500", got)
	}
	if got := cfg.LimitFor("gpt-4-turbo").RequestsPerMinute; got != 500 {
		t.Errorf("prefix match rpm = %d, want 500", got)
	}
	if got := cfg.LimitFor("unknown-model").RequestsPerMinute; got != cfg.RequestsPerMinute {
		t.Errorf("default fallback rpm = %d, want %d", got, cfg.RequestsPerMinute)
	}
}

func TestRetryAfterClamped(t *testing.T) {
	l := ModelRateLimit{RequestsPerMinute: 1000, TokensPerMinute: 100_000}

	if got := l.RetryAfter(0); got != time.Second {
		t.Errorf("floor should be 1s, got %v", got)
	}
	if got := l.RetryAfter(10_000_000); got != 300*time.Second {
		t.Errorf("ceiling should be 300s, got %v", got)
	}
	// 100k tokens at 100k tpm → exactly one minute.
	if got := l.RetryAfter(100_000); got != time.Minute {
		t.Errorf("mid-range retry = %v, want 1m", got)
	}
}

func TestTierLimits(t *testing.T) {
	if l := TierStandard.Limits(); l.RequestsPerMinute != 60 || l.Burst != 10 {
		t.Errorf("standard tier = %+v", l)
	}
	if l := TierPremium.Limits(); l.RequestsPerMinute != 600 || l.Burst != 100 {
		t.Errorf("premium tier = %+v", l)
	}
	if l := TierAdmin.Limits(); l.RequestsPerMinute != 1000 || l.Burst != 200 {
		t.Errorf("admin tier = %+v", l)
	}
}

func TestSecurityKeyValidation(t *testing.T) {
	cfg := Default()
	cfg.Security.APIKeys.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("auth enabled with no keys should fail")
	}

	cfg.Security.APIKeys.Keys = []APIKey{
		{ID: "k1", Key: "sk-test", Role: RoleUser, Tier: TierStandard, Enabled: true},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid key table should pass: %v", err)
	}

	cfg.Security.APIKeys.Keys = append(cfg.Security.APIKeys.Keys,
		APIKey{ID: "k2", Key: "sk-test", Role: RoleAdmin, Tier: TierAdmin, Enabled: true})
	if err := cfg.Validate(); err == nil {
		t.Error("duplicate key strings should fail")
	}
}
