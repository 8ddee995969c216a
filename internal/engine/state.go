package engine

import (
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const maxLatencySamples = 10_000

// State tracks engine-wide counters and a latency reservoir. Safe for
// concurrent use.
type State struct {
	totalRequests     atomic.Uint64
	totalErrors       atomic.Uint64
	totalInputTokens  atomic.Uint64
	totalOutputTokens atomic.Uint64

	mu        sync.Mutex
	samples   []time.Duration
	count     uint64
	sum       time.Duration
	min, max  time.Duration
	hasSample bool
}

// NewState returns empty counters.
func NewState() *State {
	return &State{samples: make([]time.Duration, 0, maxLatencySamples)}
}

// IncRequests counts one request.
func (s *State) IncRequests() { s.totalRequests.Add(1) }

// IncErrors counts one failed request.
func (s *State) IncErrors() { s.totalErrors.Add(1) }

// AddTokens accumulates token usage.
func (s *State) AddTokens(input, output uint64) {
	s.totalInputTokens.Add(input)
	s.totalOutputTokens.Add(output)
}

// RecordLatency feeds one measurement into the reservoir.
func (s *State) RecordLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += d
	if !s.hasSample || d < s.min {
		s.min = d
	}
	if !s.hasSample || d > s.max {
		s.max = d
	}
	s.hasSample = true

	if len(s.samples) < maxLatencySamples {
		s.samples = append(s.samples, d)
		return
	}
	// Reservoir sampling keeps each measurement with equal probability.
	if idx := rand.Uint64N(s.count); idx < maxLatencySamples {
		s.samples[idx] = d
	}
}

// LatencyStats summarizes the recorded latencies in milliseconds.
type LatencyStats struct {
	Count  uint64  `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P90Ms  float64 `json:"p90_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// Stats is the engine-wide counter snapshot.
type Stats struct {
	TotalRequests     uint64       `json:"total_requests"`
	TotalErrors       uint64       `json:"total_errors"`
	TotalInputTokens  uint64       `json:"total_input_tokens"`
	TotalOutputTokens uint64       `json:"total_output_tokens"`
	Latency           LatencyStats `json:"latency"`
}

// ErrorRate returns errors/requests, or 0 with no traffic.
func (s Stats) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalErrors) / float64(s.TotalRequests)
}

// TokensPerRequest returns the mean total tokens per request.
func (s Stats) TokensPerRequest() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalInputTokens+s.TotalOutputTokens) / float64(s.TotalRequests)
}

// Snapshot returns the current statistics.
func (s *State) Snapshot() Stats {
	st := Stats{
		TotalRequests:     s.totalRequests.Load(),
		TotalErrors:       s.totalErrors.Load(),
		TotalInputTokens:  s.totalInputTokens.Load(),
		TotalOutputTokens: s.totalOutputTokens.Load(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return st
	}

	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	sorted := make([]float64, len(s.samples))
	for i, d := range s.samples {
		sorted[i] = ms(d)
	}
	sort.Float64s(sorted)
	pct := func(p float64) float64 {
		if len(sorted) == 0 {
			return 0
		}
		idx := int(p / 100.0 * float64(len(sorted)-1))
		return sorted[idx]
	}

	st.Latency = LatencyStats{
		Count:  s.count,
		MeanMs: ms(s.sum) / float64(s.count),
		MinMs:  ms(s.min),
		MaxMs:  ms(s.max),
		P50Ms:  pct(50),
		P90Ms:  pct(90),
		P95Ms:  pct(95),
		P99Ms:  pct(99),
	}
	return st
}

// Reset clears all counters and the reservoir.
func (s *State) Reset() {
	s.totalRequests.Store(0)
	s.totalErrors.Store(0)
	s.totalInputTokens.Store(0)
	s.totalOutputTokens.Store(0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = s.samples[:0]
	s.count = 0
	s.sum = 0
	s.min, s.max = 0, 0
	s.hasSample = false
}
