// Package chaos injects synthetic provider failures: rule-driven errors,
// probabilistic rate-limit pressure, and circuit breaking.
package chaos

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/llm-simulator/internal/config"
	"github.com/nulpointcorp/llm-simulator/internal/latency"
	"github.com/nulpointcorp/llm-simulator/internal/simerr"
)

// Engine evaluates chaos rules against incoming requests. Safe for
// concurrent use.
type Engine struct {
	cfg config.ChaosConfig

	mu       sync.Mutex
	breakers map[string]*Breaker

	requests atomic.Uint64
	injected atomic.Uint64

	sampler *latency.Sampler
}

// New builds an engine over cfg. Probability draws go through sampler so a
// seeded run injects the same failures every time.
func New(cfg config.ChaosConfig, sampler *latency.Sampler) *Engine {
	return &Engine{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
		sampler:  sampler,
	}
}

// Active reports whether any injection can fire.
func (e *Engine) Active() bool { return e.cfg.Active() }

// MaybeInject evaluates the chaos pipeline for one request and returns a
// synthetic error when something fires. Evaluation order: circuit breaker,
// rate limiting, then the rule list in declaration order.
func (e *Engine) MaybeInject(model, endpoint string) *simerr.Error {
	if !e.cfg.Active() {
		return nil
	}

	e.requests.Add(1)

	if e.cfg.CircuitBreaker.Enabled {
		if !e.breaker(model).Allow() {
			e.injected.Add(1)
			return simerr.Unavailable("Circuit breaker is open")
		}
	}

	if e.cfg.RateLimiting.Enabled {
		if err := e.checkRateLimit(model); err != nil {
			e.injected.Add(1)
			return err
		}
	}

	for i := range e.cfg.Errors {
		rule := &e.cfg.Errors[i]
		if !rule.Enabled || !rule.AppliesToModel(model) || !rule.AppliesToEndpoint(endpoint) {
			continue
		}
		effective := rule.Probability * e.cfg.GlobalProbability
		if e.sampler.Float64() < effective {
			e.injected.Add(1)
			return e.errorFromRule(rule)
		}
	}

	return nil
}

// checkRateLimit models provider 429 pressure probabilistically: each
// request is denied with probability 1/rpm, so denials appear at roughly the
// configured rate without bookkeeping.
func (e *Engine) checkRateLimit(model string) *simerr.Error {
	limit := e.cfg.RateLimiting.LimitFor(model)
	if limit.RequestsPerMinute <= 0 {
		return nil
	}
	if e.sampler.Float64() < 1.0/float64(limit.RequestsPerMinute) {
		return simerr.RateLimited(limit.RetryAfter(1000))
	}
	return nil
}

func (e *Engine) errorFromRule(rule *config.ErrorInjectionRule) *simerr.Error {
	limit := e.cfg.RateLimiting.LimitFor("")
	return simerr.InjectedError(
		rule.ErrorType,
		rule.Message,
		rule.StatusCode,
		limit.RetryAfter(1000),
		ruleDelay(rule),
	)
}

func ruleDelay(rule *config.ErrorInjectionRule) time.Duration {
	return time.Duration(rule.DelayMs) * time.Millisecond
}

// RecordFailure counts a failed request against the model's breaker.
func (e *Engine) RecordFailure(model string) {
	if !e.cfg.CircuitBreaker.Enabled {
		return
	}
	e.breaker(model).RecordFailure()
}

// RecordSuccess counts a successful request for the model's breaker.
func (e *Engine) RecordSuccess(model string) {
	if !e.cfg.CircuitBreaker.Enabled {
		return
	}
	e.breaker(model).RecordSuccess()
}

// BreakerStatus returns the breaker snapshot for a model, if one exists.
func (e *Engine) BreakerStatus(model string) (BreakerStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[e.breakerKey(model)]
	if !ok {
		return BreakerStatus{}, false
	}
	return b.Status(), true
}

// BreakerStatuses returns snapshots of every breaker by key.
func (e *Engine) BreakerStatuses() map[string]BreakerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]BreakerStatus, len(e.breakers))
	for k, b := range e.breakers {
		out[k] = b.Status()
	}
	return out
}

// ResetBreakers discards all breaker state.
func (e *Engine) ResetBreakers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.breakers = make(map[string]*Breaker)
}

// Stats returns the total requests evaluated and errors injected.
func (e *Engine) Stats() (requests, injected uint64) {
	return e.requests.Load(), e.injected.Load()
}

func (e *Engine) breakerKey(model string) string {
	if e.cfg.CircuitBreaker.PerModel {
		return model
	}
	return "global"
}

func (e *Engine) breaker(model string) *Breaker {
	key := e.breakerKey(model)
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[key]
	if !ok {
		b = NewBreaker(e.cfg.CircuitBreaker)
		e.breakers[key] = b
	}
	return b
}
