package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/partsim/partsim/sim"
	"github.com/partsim/partsim/sim/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ClusterSimulator runs one goroutine per partition, synchronized by a
// Coordinator.
type ClusterSimulator struct {
	cfg   Config
	parts []*sim.Partition
	coord *Coordinator
	clock clock.Clock
	trace *trace.SimulationTrace

	ran  bool
	wall time.Duration
}

// Option customizes a ClusterSimulator.
type Option func(*ClusterSimulator)

// WithClock replaces the wall clock used for barrier timeouts and pacing.
func WithClock(clk clock.Clock) Option {
	return func(c *ClusterSimulator) { c.clock = clk }
}

// WithTrace records barrier decisions into tr.
func WithTrace(tr *trace.SimulationTrace) Option {
	return func(c *ClusterSimulator) { c.trace = tr }
}

// NewClusterSimulator normalizes cfg and creates its partitions. Nodes are
// assigned to partitions by placement; nil places every node on partition 0.
func NewClusterSimulator(cfg Config, placement sim.Placement, opts ...Option) *ClusterSimulator {
	cfg = cfg.Normalize()
	if placement == nil {
		placement = func(sim.NodeID) sim.PartitionID { return 0 }
	}
	c := &ClusterSimulator{cfg: cfg, clock: clock.New()}
	for _, opt := range opts {
		opt(c)
	}
	c.parts = make([]*sim.Partition, cfg.Partitions)
	for i := range c.parts {
		c.parts[i] = sim.NewPartition(cfg.partitionConfig(sim.PartitionID(i), placement))
	}
	c.coord = NewCoordinator(cfg, c.parts, c.clock, c.trace)
	return c
}

// RoundRobin places node n on partition n mod count. A count below 1 is
// treated as 1.
func RoundRobin(count int) sim.Placement {
	count = max(count, 1)
	return func(n sim.NodeID) sim.PartitionID {
		return sim.PartitionID(int(n) % count)
	}
}

// Blocks places contiguous runs of perPartition nodes on each partition.
// Both arguments are clamped to at least 1.
func Blocks(perPartition, count int) sim.Placement {
	perPartition = max(perPartition, 1)
	count = max(count, 1)
	return func(n sim.NodeID) sim.PartitionID {
		p := int(n) / perPartition
		if p >= count {
			p = count - 1
		}
		return sim.PartitionID(p)
	}
}

// Config returns the normalized configuration.
func (c *ClusterSimulator) Config() Config { return c.cfg }

// Partitions returns the partitions indexed by id.
func (c *ClusterSimulator) Partitions() []*sim.Partition { return c.parts }

// Partition returns the partition with the given id.
func (c *ClusterSimulator) Partition(id sim.PartitionID) *sim.Partition { return c.parts[id] }

// Coordinator returns the barrier coordinator.
func (c *ClusterSimulator) Coordinator() *Coordinator { return c.coord }

// Trace returns the barrier trace, or nil.
func (c *ClusterSimulator) Trace() *trace.SimulationTrace { return c.trace }

// Run executes the simulation until the end time is covered, the event set
// drains, ctx is cancelled, or a partition fails. A failure in any
// partition aborts all of them; the first failure is returned as soon as the
// abort is raised, without waiting for a partition blocked in a handler.
func (c *ClusterSimulator) Run(ctx context.Context) error {
	if c.ran {
		return errors.New("ClusterSimulator.Run called twice")
	}
	c.ran = true
	c.coord.begin(ctx)
	start := c.clock.Now()
	logrus.Infof("Starting %s run: %d partitions, end=%v", c.cfg.Mode, len(c.parts), c.cfg.EndTime)

	var g errgroup.Group
	for _, p := range c.parts {
		g.Go(func() error { return c.runPartition(p) })
	}
	finished := make(chan error, 1)
	go func() { finished <- g.Wait() }()

	var err error
	select {
	case err = <-finished:
	case <-c.coord.Aborted():
		// A partition stuck inside a handler never reaches the barrier again
		// and is left behind; the run is unusable after an abort.
	}
	c.wall = c.clock.Since(start)

	if root := c.coord.Err(); root != nil {
		return root
	}
	return err
}

// runPartition is the partition main loop. Panics are converted to errors
// and abort the barrier so no peer is left waiting.
func (c *ClusterSimulator) runPartition(p *sim.Partition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
			logrus.Errorf("[p%d] aborting run: %v", p.ID(), err)
			c.coord.Abort(err)
		}
	}()

	if err := c.coord.SynchronizePartitions(p, BarrierInit); err != nil {
		return err
	}
	for !c.coord.Done() {
		limit := sim.Earlier(p.Horizon(), c.cfg.EndTime)
		p.ProcessUntil(limit, c.cfg.StepBudget)
		if err := c.coord.SynchronizePartitions(p, BarrierWindow); err != nil {
			return err
		}
	}
	if err := c.coord.SynchronizePartitions(p, BarrierFinalize); err != nil {
		return err
	}
	p.Finalize()
	return nil
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("partition panic: %v", r)
}

// Metrics summarizes a finished run.
type Metrics struct {
	Partitions     int
	Dispatched     uint64
	Cancelled      uint64
	SentLocal      uint64
	SentRemote     uint64
	Broadcasts     uint64
	LateDeliveries uint64
	Injected       uint64
	LiveMessages   int
	Barriers       int
	Advances       int
	Exchanged      uint64
	FinalHorizon   sim.Time
	Wall           time.Duration
}

// Metrics aggregates partition and coordinator counters. Call it after Run.
func (c *ClusterSimulator) Metrics() Metrics {
	m := Metrics{Partitions: len(c.parts), Wall: c.wall, FinalHorizon: c.coord.Horizon()}
	for _, p := range c.parts {
		s := p.Stats()
		m.Dispatched += s.Dispatched
		m.Cancelled += s.Cancelled
		m.SentLocal += s.SentLocal
		m.SentRemote += s.SentRemote
		m.Broadcasts += s.Broadcasts
		m.LateDeliveries += s.LateDeliveries
		m.Injected += s.Injected
		m.LiveMessages += p.Allocator().Live()
	}
	cs := c.coord.Stats()
	m.Barriers = cs.Barriers
	m.Advances = cs.Advances
	m.Exchanged = cs.Exchanged
	return m
}
