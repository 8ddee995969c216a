package latency

import (
	"time"

	"github.com/nulpointcorp/llm-simulator/internal/config"
)

// Schedule is the full timing plan for one response: time to first token,
// fixed overhead, and one inter-token delay per streamed token.
type Schedule struct {
	TTFT        time.Duration
	Overhead    time.Duration
	TokenDelays []time.Duration
}

// Total returns the end-to-end simulated duration of the schedule.
func (s Schedule) Total() time.Duration {
	total := s.TTFT + s.Overhead
	for _, d := range s.TokenDelays {
		total += d
	}
	return total
}

// Simulator resolves latency profiles and produces per-request schedules.
type Simulator struct {
	cfg     config.LatencyConfig
	sampler *Sampler
}

// NewSimulator builds a simulator over cfg using the shared sampler.
func NewSimulator(cfg config.LatencyConfig, sampler *Sampler) *Simulator {
	return &Simulator{cfg: cfg, sampler: sampler}
}

// profile resolves the profile for a model's profile name, falling back to
// the default profile.
func (s *Simulator) profile(name string) config.LatencyProfile {
	if name != "" {
		if p, ok := s.cfg.Profiles[name]; ok {
			return p
		}
	}
	return s.cfg.Profiles[s.cfg.DefaultProfile]
}

func (s *Simulator) scale(ms float64) time.Duration {
	if !s.cfg.Enabled {
		return 0
	}
	ms *= s.cfg.Multiplier
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// TTFT draws the time-to-first-token delay for a profile.
func (s *Simulator) TTFT(profileName string) time.Duration {
	if !s.cfg.Enabled {
		return 0
	}
	return s.scale(s.sampler.Sample(s.profile(profileName).TTFT))
}

// Overhead returns the fixed per-request overhead for a profile.
func (s *Simulator) Overhead(profileName string) time.Duration {
	if !s.cfg.Enabled {
		return 0
	}
	return s.scale(s.profile(profileName).OverheadMs)
}

// GenerateSchedule draws the complete timing plan for a response of
// tokenCount tokens: one independent ITL draw per token, applied before that
// token is emitted. The first token pays both TTFT and its own delay.
func (s *Simulator) GenerateSchedule(profileName string, tokenCount int) Schedule {
	if !s.cfg.Enabled {
		return Schedule{}
	}
	p := s.profile(profileName)
	sched := Schedule{
		TTFT:     s.scale(s.sampler.Sample(p.TTFT)),
		Overhead: s.scale(p.OverheadMs),
	}
	if tokenCount > 0 {
		draws := s.sampler.SampleN(p.ITL, tokenCount)
		sched.TokenDelays = make([]time.Duration, len(draws))
		for i, ms := range draws {
			sched.TokenDelays[i] = s.scale(ms)
		}
	}
	return sched
}
