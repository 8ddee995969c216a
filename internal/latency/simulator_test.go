package latency

import (
	"testing"
	"time"

	"github.com/nulpointcorp/llm-simulator/internal/config"
)

func testLatencyConfig() config.LatencyConfig {
	return config.LatencyConfig{
		Enabled:        true,
		DefaultProfile: "std",
		Multiplier:     1.0,
		Profiles: map[string]config.LatencyProfile{
			"std":  {TTFT: config.Fixed(100), ITL: config.Fixed(20), OverheadMs: 5},
			"slow": {TTFT: config.Fixed(1000), ITL: config.Fixed(200), OverheadMs: 50},
		},
	}
}

func TestScheduleTokenDelayCount(t *testing.T) {
	sim := NewSimulator(testLatencyConfig(), seeded(1))

	for _, tc := range []struct {
		tokens int
		want   int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{10, 10},
	} {
		sched := sim.GenerateSchedule("std", tc.tokens)
		if got := len(sched.TokenDelays); got != tc.want {
			t.Errorf("tokens=%d: expected %d delays, got %d", tc.tokens, tc.want, got)
		}
	}
}

func TestScheduleFixedValues(t *testing.T) {
	sim := NewSimulator(testLatencyConfig(), seeded(2))

	sched := sim.GenerateSchedule("std", 3)
	if sched.TTFT != 100*time.Millisecond {
		t.Errorf("TTFT = %v, want 100ms", sched.TTFT)
	}
	if sched.Overhead != 5*time.Millisecond {
		t.Errorf("Overhead = %v, want 5ms", sched.Overhead)
	}
	for i, d := range sched.TokenDelays {
		if d != 20*time.Millisecond {
			t.Errorf("delay %d = %v, want 20ms", i, d)
		}
	}
	if got, want := sched.Total(), 165*time.Millisecond; got != want {
		t.Errorf("Total = %v, want %v", got, want)
	}
}

func TestScheduleUnknownProfileFallsBack(t *testing.T) {
	sim := NewSimulator(testLatencyConfig(), seeded(3))

	sched := sim.GenerateSchedule("nope", 1)
	if sched.TTFT != 100*time.Millisecond {
		t.Errorf("unknown profile should use the default, got TTFT %v", sched.TTFT)
	}
}

func TestScheduleDisabledIsZero(t *testing.T) {
	cfg := testLatencyConfig()
	cfg.Enabled = false
	sim := NewSimulator(cfg, seeded(4))

	sched := sim.GenerateSchedule("slow", 50)
	if sched.TTFT != 0 || sched.Overhead != 0 || len(sched.TokenDelays) != 0 {
		t.Errorf("disabled simulator should produce a zero schedule, got %+v", sched)
	}
	if sim.TTFT("slow") != 0 || sim.Overhead("slow") != 0 {
		t.Error("disabled simulator should draw zero durations")
	}
}

func TestScheduleMultiplierScales(t *testing.T) {
	cfg := testLatencyConfig()
	cfg.Multiplier = 0.5
	sim := NewSimulator(cfg, seeded(5))

	sched := sim.GenerateSchedule("std", 2)
	if sched.TTFT != 50*time.Millisecond {
		t.Errorf("TTFT = %v, want 50ms with multiplier 0.5", sched.TTFT)
	}
	if len(sched.TokenDelays) != 2 {
		t.Fatalf("delays = %v, want two entries", sched.TokenDelays)
	}
	for i, d := range sched.TokenDelays {
		if d != 10*time.Millisecond {
			t.Errorf("delay %d = %v, want 10ms", i, d)
		}
	}
}
