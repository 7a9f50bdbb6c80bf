package workload

import (
	"math"
	"math/rand"

	"github.com/partsim/partsim/sim"
	"github.com/sirupsen/logrus"
)

// DelaySampler draws the random part of a hop delay.
type DelaySampler interface {
	// SampleDelay returns a non-negative delay.
	SampleDelay(rng *rand.Rand) sim.Time
}

// ExponentialSampler draws exponentially-distributed delays (CV=1).
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) SampleDelay(rng *rand.Rand) sim.Time {
	return sim.Time(rng.ExpFloat64() * s.mean)
}

// UniformSampler draws delays uniformly from [min, max].
type UniformSampler struct {
	min, max sim.Time
}

func (s *UniformSampler) SampleDelay(rng *rand.Rand) sim.Time {
	if s.max <= s.min {
		return s.min
	}
	return s.min + sim.Time(rng.Int63n(int64(s.max-s.min)+1))
}

// ConstantSampler always returns the same delay and draws nothing.
type ConstantSampler struct {
	delay sim.Time
}

func (s *ConstantSampler) SampleDelay(*rand.Rand) sim.Time { return s.delay }

// GammaSampler draws Gamma-distributed delays with the given mean and CV.
// CV > 1 produces bursty traffic.
type GammaSampler struct {
	shape float64 // 1/CV²
	scale float64 // mean·CV²
}

func (s *GammaSampler) SampleDelay(rng *rand.Rand) sim.Time {
	return sim.Time(gammaRand(rng, s.shape, s.scale))
}

// gammaRand samples from Gamma(shape, scale) using Marsaglia-Tsang's method.
// For shape < 1: Gamma(shape) = Gamma(shape+1) * U^(1/shape).
func gammaRand(rng *rand.Rand, shape, scale float64) float64 {
	if shape < 1.0 {
		u := rng.Float64()
		return gammaRand(rng, shape+1.0, scale) * math.Pow(u, 1.0/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// NewDelaySampler builds the sampler for a validated DelaySpec.
func NewDelaySampler(spec DelaySpec) DelaySampler {
	mean := float64(spec.Mean)
	switch spec.Type {
	case "uniform":
		return &UniformSampler{min: spec.Min.Time(), max: spec.Max.Time()}
	case "constant":
		return &ConstantSampler{delay: spec.Mean.Time()}
	case "gamma":
		shape := 1.0 / (spec.CV * spec.CV)
		if shape < 0.01 {
			logrus.Warnf("Gamma shape %.4f (CV=%.1f) is very small; falling back to exponential", shape, spec.CV)
			return &ExponentialSampler{mean: mean}
		}
		return &GammaSampler{shape: shape, scale: mean / shape}
	default:
		return &ExponentialSampler{mean: mean}
	}
}
