package cluster

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/partsim/partsim/sim"
)

// pacer keeps simulated time from running ahead of scaled wall time by more
// than one quantum.
type pacer struct {
	clock   clock.Clock
	start   time.Time
	scale   float64
	quantum sim.Time
}

func newPacer(clk clock.Clock, scale float64, quantum sim.Time) *pacer {
	return &pacer{clock: clk, start: clk.Now(), scale: scale, quantum: quantum}
}

// now returns the simulated time the wall clock has reached.
func (p *pacer) now() sim.Time {
	return sim.Time(float64(p.clock.Since(p.start)) * p.scale)
}

// wallQuantum is one quantum of simulated time in wall-clock time.
func (p *pacer) wallQuantum() time.Duration {
	d := time.Duration(float64(p.quantum) / p.scale)
	if d <= 0 {
		return time.Nanosecond
	}
	return d
}

// pace caps candidate at one quantum past the scaled wall time. When that
// cap would not move past prev it sleeps, so an idle run tracks the wall
// clock instead of spinning through barriers.
func (p *pacer) pace(prev, candidate sim.Time) sim.Time {
	for {
		limit := p.now().Add(p.quantum)
		if candidate <= limit || candidate <= prev {
			return candidate
		}
		if limit > prev {
			return limit
		}
		p.clock.Sleep(p.wallQuantum())
	}
}
