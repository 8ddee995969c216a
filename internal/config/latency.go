package config

import "fmt"

// Distribution types accepted in latency profiles.
const (
	DistFixed       = "fixed"
	DistNormal      = "normal"
	DistLogNormal   = "log_normal"
	DistUniform     = "uniform"
	DistExponential = "exponential"
	DistPareto      = "pareto"
)

// Distribution is a tagged latency distribution. Only the fields relevant to
// Type are meaningful; all values are milliseconds (Rate is events/ms).
type Distribution struct {
	Type string `json:"type" mapstructure:"type"`

	// fixed
	Value float64 `json:"value,omitempty" mapstructure:"value"`

	// normal, log_normal — mean and standard deviation of the resulting
	// distribution (for log_normal these are converted to log-space μ/σ).
	Mean   float64 `json:"mean,omitempty" mapstructure:"mean"`
	StdDev float64 `json:"std_dev,omitempty" mapstructure:"std_dev"`

	// uniform
	Min float64 `json:"min,omitempty" mapstructure:"min"`
	Max float64 `json:"max,omitempty" mapstructure:"max"`

	// exponential
	Rate float64 `json:"rate,omitempty" mapstructure:"rate"`

	// pareto
	Scale float64 `json:"scale,omitempty" mapstructure:"scale"`
	Shape float64 `json:"shape,omitempty" mapstructure:"shape"`
}

// Fixed returns a constant distribution of v milliseconds.
func Fixed(v float64) Distribution { return Distribution{Type: DistFixed, Value: v} }

// Normal returns a normal distribution (negative samples are clamped to zero).
func Normal(mean, stdDev float64) Distribution {
	return Distribution{Type: DistNormal, Mean: mean, StdDev: stdDev}
}

// LogNormal returns a log-normal distribution parameterised by the mean and
// standard deviation of the resulting (not log-space) distribution.
func LogNormal(mean, stdDev float64) Distribution {
	return Distribution{Type: DistLogNormal, Mean: mean, StdDev: stdDev}
}

// Uniform returns a uniform distribution over [min, max].
func Uniform(min, max float64) Distribution {
	return Distribution{Type: DistUniform, Min: min, Max: max}
}

// Exponential returns an exponential distribution with the given rate.
func Exponential(rate float64) Distribution {
	return Distribution{Type: DistExponential, Rate: rate}
}

// Pareto returns a Pareto distribution with the given scale and shape.
func Pareto(scale, shape float64) Distribution {
	return Distribution{Type: DistPareto, Scale: scale, Shape: shape}
}

// Validate checks the distribution parameters.
func (d Distribution) Validate() error {
	switch d.Type {
	case DistFixed:
		if d.Value < 0 {
			return fmt.Errorf("fixed value must be ≥ 0, got %v", d.Value)
		}
	case DistNormal:
		if d.Mean < 0 {
			return fmt.Errorf("normal mean must be ≥ 0, got %v", d.Mean)
		}
		if d.StdDev < 0 {
			return fmt.Errorf("normal std_dev must be ≥ 0, got %v", d.StdDev)
		}
	case DistLogNormal:
		if d.StdDev <= 0 {
			return fmt.Errorf("log_normal std_dev must be > 0, got %v", d.StdDev)
		}
	case DistUniform:
		if d.Min > d.Max {
			return fmt.Errorf("uniform min (%v) must be ≤ max (%v)", d.Min, d.Max)
		}
	case DistExponential:
		if d.Rate <= 0 {
			return fmt.Errorf("exponential rate must be > 0, got %v", d.Rate)
		}
	case DistPareto:
		if d.Scale <= 0 || d.Shape <= 0 {
			return fmt.Errorf("pareto scale and shape must be > 0, got %v/%v", d.Scale, d.Shape)
		}
	default:
		return fmt.Errorf("unknown distribution type %q", d.Type)
	}
	return nil
}

// LatencyProfile shapes a single response's timing: one TTFT draw, one
// overhead, and one ITL draw per streamed token.
type LatencyProfile struct {
	TTFT       Distribution `json:"ttft" mapstructure:"ttft"`
	ITL        Distribution `json:"itl" mapstructure:"itl"`
	OverheadMs float64      `json:"overhead_ms" mapstructure:"overhead_ms"`
}

// LatencyConfig controls the latency simulator.
type LatencyConfig struct {
	// Enabled turns latency simulation on. When false all sampled durations
	// are zero. Default: true.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// DefaultProfile names the profile used when a model does not select one.
	// Must be a key of Profiles. Default: "standard".
	DefaultProfile string `json:"default_profile" mapstructure:"default_profile"`

	// Multiplier scales every sampled duration. 0.5 halves latencies, 2.0
	// doubles them. Must be ≥ 0. Default: 1.0.
	Multiplier float64 `json:"multiplier" mapstructure:"multiplier"`

	// Profiles maps profile names to their timing parameters.
	Profiles map[string]LatencyProfile `json:"profiles" mapstructure:"profiles"`
}

// DefaultLatencyConfig returns the built-in profile set.
func DefaultLatencyConfig() LatencyConfig {
	return LatencyConfig{
		Enabled:        true,
		DefaultProfile: "standard",
		Multiplier:     1.0,
		Profiles: map[string]LatencyProfile{
			"instant": {
				TTFT:       Fixed(0),
				ITL:        Fixed(0),
				OverheadMs: 0,
			},
			"fast": {
				TTFT:       Normal(50, 10),
				ITL:        Normal(15, 3),
				OverheadMs: 5,
			},
			"standard": {
				TTFT:       Normal(200, 50),
				ITL:        Normal(30, 8),
				OverheadMs: 10,
			},
			"slow": {
				TTFT:       Normal(500, 100),
				ITL:        Normal(60, 15),
				OverheadMs: 20,
			},
			"gpt4": {
				TTFT:       LogNormal(300, 150),
				ITL:        LogNormal(40, 15),
				OverheadMs: 15,
			},
			"claude": {
				TTFT:       LogNormal(250, 100),
				ITL:        LogNormal(35, 12),
				OverheadMs: 12,
			},
			"gemini": {
				TTFT:       LogNormal(200, 80),
				ITL:        LogNormal(25, 10),
				OverheadMs: 10,
			},
		},
	}
}

// Validate checks the latency section.
func (c LatencyConfig) Validate() error {
	if c.Multiplier < 0 {
		return fmt.Errorf("latency.multiplier must be ≥ 0, got %v", c.Multiplier)
	}
	if _, ok := c.Profiles[c.DefaultProfile]; !ok {
		return fmt.Errorf("latency.default_profile %q is not a defined profile", c.DefaultProfile)
	}
	for name, p := range c.Profiles {
		if err := p.TTFT.Validate(); err != nil {
			return fmt.Errorf("latency profile %q ttft: %w", name, err)
		}
		if err := p.ITL.Validate(); err != nil {
			return fmt.Errorf("latency profile %q itl: %w", name, err)
		}
		if p.OverheadMs < 0 {
			return fmt.Errorf("latency profile %q overhead_ms must be ≥ 0", name)
		}
	}
	return nil
}
