package chaos

import (
	"sync"
	"time"

	"github.com/nulpointcorp/llm-simulator/internal/config"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// Breaker is a three-state circuit breaker. Closed counts failures within a
// rolling window and opens at the threshold; open rejects until the recovery
// timeout, then probes in half-open; half-open closes after enough
// consecutive successes and reopens on any failure.
type Breaker struct {
	mu  sync.Mutex
	cfg config.BreakerConfig

	state        BreakerState
	failureCount int
	successCount int
	lastFailure  time.Time
	openedAt     time.Time

	now func() time.Time
}

// NewBreaker returns a closed breaker with the given tuning.
func NewBreaker(cfg config.BreakerConfig) *Breaker {
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Allow reports whether a request may proceed. An open breaker whose
// recovery timeout has elapsed transitions to half-open and allows the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout() {
			b.state = StateHalfOpen
			b.successCount = 0
			return true
		}
		return false
	}
	return true
}

// RecordFailure counts a failed request against the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	prevFailure := b.lastFailure
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		// Failures only accumulate while they land inside the window.
		if !prevFailure.IsZero() && now.Sub(prevFailure) > b.cfg.FailureWindow() {
			b.failureCount = 1
			return
		}
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
	}
}

// RecordSuccess counts a successful request. In closed it clears the failure
// count; in half-open it closes the breaker once the success threshold is
// met.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			b.openedAt = time.Time{}
		}
	}
}

// BreakerStatus is a point-in-time snapshot of one breaker.
type BreakerStatus struct {
	State        BreakerState `json:"state"`
	FailureCount int          `json:"failure_count"`
	SuccessCount int          `json:"success_count"`
	LastFailure  *time.Time   `json:"last_failure,omitempty"`
	OpenedAt     *time.Time   `json:"opened_at,omitempty"`
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BreakerStatus{
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailure = &t
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		s.OpenedAt = &t
	}
	return s
}
