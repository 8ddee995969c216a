package engine

import (
	"testing"
	"time"
)

func TestStateCounters(t *testing.T) {
	s := NewState()
	s.IncRequests()
	s.IncRequests()
	s.IncErrors()
	s.AddTokens(100, 50)
	s.RecordLatency(100 * time.Millisecond)

	st := s.Snapshot()
	if st.TotalRequests != 2 {
		t.Errorf("requests = %d, want 2", st.TotalRequests)
	}
	if st.TotalErrors != 1 {
		t.Errorf("errors = %d, want 1", st.TotalErrors)
	}
	if st.TotalInputTokens != 100 || st.TotalOutputTokens != 50 {
		t.Errorf("tokens = %d/%d, want 100/50", st.TotalInputTokens, st.TotalOutputTokens)
	}
}

func TestLatencyStats(t *testing.T) {
	s := NewState()
	s.RecordLatency(100 * time.Millisecond)
	s.RecordLatency(200 * time.Millisecond)
	s.RecordLatency(300 * time.Millisecond)

	st := s.Snapshot().Latency
	if st.Count != 3 {
		t.Fatalf("count = %d, want 3", st.Count)
	}
	if st.MeanMs < 199 || st.MeanMs > 201 {
		t.Errorf("mean = %v, want ≈200", st.MeanMs)
	}
	if st.MinMs != 100 || st.MaxMs != 300 {
		t.Errorf("min/max = %v/%v, want 100/300", st.MinMs, st.MaxMs)
	}
	if st.P50Ms != 200 {
		t.Errorf("p50 = %v, want 200", st.P50Ms)
	}
}

func TestLatencyPercentilesOrdered(t *testing.T) {
	s := NewState()
	for i := 1; i <= 1000; i++ {
		s.RecordLatency(time.Duration(i) * time.Millisecond)
	}
	st := s.Snapshot().Latency
	if !(st.P50Ms <= st.P90Ms && st.P90Ms <= st.P95Ms && st.P95Ms <= st.P99Ms) {
		t.Errorf("percentiles out of order: %v %v %v %v", st.P50Ms, st.P90Ms, st.P95Ms, st.P99Ms)
	}
	if st.P99Ms > st.MaxMs {
		t.Errorf("p99 %v exceeds max %v", st.P99Ms, st.MaxMs)
	}
}

func TestReservoirCap(t *testing.T) {
	s := NewState()
	for i := 0; i < maxLatencySamples+5000; i++ {
		s.RecordLatency(time.Millisecond)
	}
	s.mu.Lock()
	n := len(s.samples)
	s.mu.Unlock()
	if n != maxLatencySamples {
		t.Errorf("reservoir size = %d, want %d", n, maxLatencySamples)
	}

	st := s.Snapshot().Latency
	if st.Count != uint64(maxLatencySamples+5000) {
		t.Errorf("count = %d, want %d", st.Count, maxLatencySamples+5000)
	}
}

func TestStateReset(t *testing.T) {
	s := NewState()
	s.IncRequests()
	s.AddTokens(100, 50)
	s.RecordLatency(time.Second)

	s.Reset()
	st := s.Snapshot()
	if st.TotalRequests != 0 || st.TotalInputTokens != 0 || st.Latency.Count != 0 {
		t.Error("reset should zero everything")
	}
}

func TestTokensPerRequest(t *testing.T) {
	st := Stats{TotalRequests: 2, TotalInputTokens: 100, TotalOutputTokens: 50}
	if got := st.TokensPerRequest(); got != 75 {
		t.Errorf("tokens per request = %v, want 75", got)
	}
	if got := (Stats{}).TokensPerRequest(); got != 0 {
		t.Errorf("empty stats tokens per request = %v, want 0", got)
	}
}
