package cluster

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/partsim/partsim/sim"
	"github.com/partsim/partsim/sim/trace"
	"github.com/sirupsen/logrus"
)

// CoordinatorStats counts barrier activity.
type CoordinatorStats struct {
	Barriers   int
	Advances   int
	Exchanged  uint64
	Broadcasts uint64
}

// Coordinator runs the barrier protocol for a set of partitions. The safe
// horizon is written only by the aggregation step, while every partition is
// parked, and read by each partition after release.
type Coordinator struct {
	cfg     Config
	parts   []*sim.Partition
	barrier *Barrier
	pacer   *pacer
	clock   clock.Clock
	trace   *trace.SimulationTrace

	ctx   context.Context
	start time.Time

	horizon sim.Time
	done    bool
	stats   CoordinatorStats
}

// NewCoordinator creates a coordinator over parts, indexed by partition id.
// tr may be nil.
func NewCoordinator(cfg Config, parts []*sim.Partition, clk clock.Clock, tr *trace.SimulationTrace) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	c := &Coordinator{
		cfg:     cfg,
		parts:   parts,
		barrier: NewBarrier(len(parts), cfg.BarrierTimeout, cfg.Greedy, clk),
		clock:   clk,
		trace:   tr,
		ctx:     context.Background(),
		start:   clk.Now(),
	}
	if cfg.Mode == ModeRealTime {
		c.pacer = newPacer(clk, cfg.RealTimeScale, cfg.RealTimeQuantum)
	}
	return c
}

// begin binds the run context and resets the wall-clock origin.
func (c *Coordinator) begin(ctx context.Context) {
	c.ctx = ctx
	c.start = c.clock.Now()
	if c.pacer != nil {
		c.pacer.start = c.start
	}
}

// SynchronizePartitions parks p at the named barrier until every partition
// arrives, then publishes the agreed horizon to p.
func (c *Coordinator) SynchronizePartitions(p *sim.Partition, name BarrierName) error {
	p.SetState(sim.StateAtBarrier)
	if err := c.barrier.Wait(name, func() error { return c.step(name) }); err != nil {
		return err
	}
	p.SetHorizon(c.horizon)
	p.SetState(sim.StateRunning)
	return nil
}

// Horizon returns the last agreed horizon. Partitions read it only after
// a barrier returns.
func (c *Coordinator) Horizon() sim.Time { return c.horizon }

// Done reports whether the last barrier decided to end the run.
func (c *Coordinator) Done() bool { return c.done }

// Stats returns the barrier counters. Valid once the run has finished.
func (c *Coordinator) Stats() CoordinatorStats { return c.stats }

// Abort releases every partition waiting at a barrier with err.
func (c *Coordinator) Abort(err error) { c.barrier.Abort(err) }

// Aborted is closed when the run is aborted by a failure, a timeout or a
// barrier mismatch.
func (c *Coordinator) Aborted() <-chan struct{} { return c.barrier.Aborted() }

// Err returns the error that aborted the run, if any.
func (c *Coordinator) Err() error { return c.barrier.Err() }

// step is the single aggregation step of a barrier, run by the last
// partition to arrive.
func (c *Coordinator) step(name BarrierName) error {
	c.setStates(sim.StateExchanging)
	exchanged, broadcasts := c.exchange()
	c.stats.Barriers++
	c.stats.Exchanged += uint64(exchanged)
	c.stats.Broadcasts += uint64(broadcasts)

	prev := c.horizon
	record := trace.BarrierRecord{
		Seq:        c.stats.Barriers,
		Barrier:    name.String(),
		Previous:   int64(prev),
		Horizon:    int64(prev),
		Bottleneck: -1,
		Exchanged:  exchanged,
		Broadcasts: broadcasts,
	}

	if name != BarrierFinalize {
		c.setStates(sim.StateAdvancing)
		reports := make([]sim.Time, len(c.parts))
		for i, p := range c.parts {
			reports[i] = p.Report()
			record.Reports = append(record.Reports, int64(reports[i]))
		}
		next, bottleneck := c.advance(prev, reports)
		if next < prev {
			sim.Violate(sim.ViolationHorizonRegression,
				"safe horizon regressed from %v to %v at partition %d; a lookahead commitment was withdrawn after it was reported",
				prev, next, bottleneck)
		}
		if c.pacer != nil {
			next = c.pacer.pace(prev, next)
		}
		if next > prev {
			c.stats.Advances++
		}
		c.horizon = next
		c.done = (name == BarrierWindow && prev > c.cfg.EndTime) || c.ctx.Err() != nil
		record.Horizon = int64(next)
		record.Bottleneck = int(bottleneck)
		logrus.Debugf("[barrier %d %v] horizon %v -> %v (bottleneck p%d, exchanged %d)",
			c.stats.Barriers, name, prev, next, bottleneck, exchanged)
	}

	if c.trace != nil && c.trace.Config.Level == trace.TraceLevelBarriers {
		record.Wall = c.clock.Since(c.start)
		c.trace.RecordBarrier(record)
	}
	return nil
}

// advance computes the next horizon from the partition reports and names
// the partition that bounded it.
func (c *Coordinator) advance(prev sim.Time, reports []sim.Time) (sim.Time, sim.PartitionID) {
	next, bottleneck := sim.Infinity, sim.PartitionID(-1)
	for i, r := range reports {
		if r < next {
			next, bottleneck = r, sim.PartitionID(i)
		}
	}
	if c.cfg.Mode == ModeBestEffort {
		// Skip idle gaps, but never step by less than the window.
		next = sim.Later(next, prev.Add(c.cfg.BestEffortWindow))
	}
	return next, bottleneck
}

// exchange delivers every buffered cross-partition message. Sources are
// drained in partition-id order so imports are deterministic.
func (c *Coordinator) exchange() (exchanged, broadcasts int) {
	for _, src := range c.parts {
		out, bc := src.TakeOutbox()
		for dst, msgs := range out {
			for _, m := range msgs {
				c.parts[dst].Import(m)
				src.ReleaseExported(m)
				exchanged++
			}
		}
		for _, m := range bc {
			for _, dst := range c.parts {
				if dst != src {
					dst.Import(m)
				}
			}
			src.ReleaseExported(m)
			broadcasts++
		}
	}
	return exchanged, broadcasts
}

func (c *Coordinator) setStates(s sim.PartitionState) {
	for _, p := range c.parts {
		p.SetState(s)
	}
}
