// Package latency draws request timings from configurable distributions.
//
// A Sampler wraps one seeded PRNG; all draws go through it so a fixed seed
// reproduces the exact same timing sequence run after run.
package latency

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/nulpointcorp/llm-simulator/internal/config"
)

// Sampler draws values from latency distributions using a single PRNG
// stream. Safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a sampler seeded from seed. A nil seed uses entropy.
func NewSampler(seed *uint64) *Sampler {
	var src rand.Source
	if seed != nil {
		src = rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Sampler{rng: rand.New(src)}
}

// Sample draws one value in milliseconds from d. Results are never negative.
func (s *Sampler) Sample(d config.Distribution) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleLocked(d)
}

// SampleN draws n values in one lock acquisition.
func (s *Sampler) SampleN(d config.Distribution, n int) []float64 {
	out := make([]float64, n)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range out {
		out[i] = s.sampleLocked(d)
	}
	return out
}

// Float64 draws a uniform value in [0,1). Used by the chaos engine so that
// injection decisions share the deterministic stream.
func (s *Sampler) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// IntN draws a uniform int in [0,n).
func (s *Sampler) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func (s *Sampler) sampleLocked(d config.Distribution) float64 {
	switch d.Type {
	case config.DistFixed:
		return math.Max(0, d.Value)

	case config.DistNormal:
		if d.StdDev <= 0 {
			return math.Max(0, d.Mean)
		}
		v := s.rng.NormFloat64()*d.StdDev + d.Mean
		return math.Max(0, v)

	case config.DistLogNormal:
		// Parameters are the mean/stddev of the resulting distribution;
		// convert to log-space mu/sigma.
		if d.Mean <= 0 || d.StdDev <= 0 {
			return math.Max(0, d.Mean)
		}
		variance := d.StdDev * d.StdDev
		m2 := d.Mean * d.Mean
		sigma2 := math.Log(1 + variance/m2)
		mu := math.Log(m2 / math.Sqrt(m2+variance))
		return math.Exp(s.rng.NormFloat64()*math.Sqrt(sigma2) + mu)

	case config.DistUniform:
		if d.Max <= d.Min {
			return math.Max(0, d.Min)
		}
		return d.Min + s.rng.Float64()*(d.Max-d.Min)

	case config.DistExponential:
		if d.Rate <= 0 {
			return 0
		}
		return s.rng.ExpFloat64() / d.Rate

	case config.DistPareto:
		if d.Scale <= 0 || d.Shape <= 0 {
			return math.Max(0, d.Scale)
		}
		u := s.rng.Float64()
		for u == 0 {
			u = s.rng.Float64()
		}
		return d.Scale / math.Pow(u, 1/d.Shape)

	default:
		return 0
	}
}
