package cluster

import (
	"time"

	"github.com/partsim/partsim/sim"
	"github.com/sirupsen/logrus"
)

// Config describes a partitioned run.
type Config struct {
	Partitions int
	Mode       Mode
	// EndTime is the last simulation time dispatched.
	EndTime sim.Time
	Seed    int64

	// Greedy spin-waits at barriers instead of blocking. It costs a core per
	// partition and lowers synchronization latency.
	Greedy bool
	// StepBudget bounds the events a partition dispatches between barriers;
	// 0 means unbounded.
	StepBudget int
	// BarrierTimeout is how long a partition waits for its peers before the
	// run is aborted.
	BarrierTimeout time.Duration

	IncludeMobilityInLookahead bool
	RequireEOT                 bool
	VerifyLookahead            bool

	// DebugNoRecycle turns off message reuse so stale references are caught.
	DebugNoRecycle bool
	// Capacity bounds live messages per partition; 0 means unbounded.
	Capacity int
	// Ingress enables goroutine-safe event injection on every partition.
	Ingress bool

	// RealTimeScale is simulated seconds per wall-clock second.
	RealTimeScale float64
	// RealTimeQuantum is how far simulated time may run ahead of scaled wall time.
	RealTimeQuantum sim.Time
	// BestEffortWindow is the fixed horizon step in best-effort mode.
	BestEffortWindow sim.Time
}

const (
	defaultPartitions       = 1
	defaultBarrierTimeout   = 30 * time.Second
	defaultRealTimeScale    = 1.0
	defaultRealTimeQuantum  = 10 * sim.Millisecond
	defaultBestEffortWindow = sim.Millisecond
)

// DefaultConfig returns a single-partition synchronous run that never ends
// on its own.
func DefaultConfig() Config {
	return Config{
		Partitions:       defaultPartitions,
		Mode:             ModeSynchronous,
		EndTime:          sim.MaxTime,
		BarrierTimeout:   defaultBarrierTimeout,
		RealTimeScale:    defaultRealTimeScale,
		RealTimeQuantum:  defaultRealTimeQuantum,
		BestEffortWindow: defaultBestEffortWindow,
	}
}

// Normalize replaces out-of-range values with their defaults, logging a
// warning for each substitution.
func (c Config) Normalize() Config {
	if c.Partitions < 1 {
		logrus.Warnf("partitions=%d out of range; using %d", c.Partitions, defaultPartitions)
		c.Partitions = defaultPartitions
	}
	if c.Mode == "" {
		c.Mode = ModeSynchronous
	} else if !IsValidMode(string(c.Mode)) {
		logrus.Warnf("unknown synchronization mode %q; using %s", c.Mode, ModeSynchronous)
		c.Mode = ModeSynchronous
	}
	if c.EndTime <= 0 || c.EndTime > sim.MaxTime {
		logrus.Warnf("end time %v out of range; running until the event set is empty", c.EndTime)
		c.EndTime = sim.MaxTime
	}
	if c.StepBudget < 0 {
		logrus.Warnf("step budget %d out of range; using unbounded", c.StepBudget)
		c.StepBudget = 0
	}
	if c.BarrierTimeout <= 0 {
		logrus.Warnf("barrier timeout %v out of range; using %v", c.BarrierTimeout, defaultBarrierTimeout)
		c.BarrierTimeout = defaultBarrierTimeout
	}
	if c.Capacity < 0 {
		logrus.Warnf("allocator capacity %d out of range; using unbounded", c.Capacity)
		c.Capacity = 0
	}
	if c.RealTimeScale <= 0 {
		if c.Mode == ModeRealTime {
			logrus.Warnf("real-time scale %v out of range; using %v", c.RealTimeScale, defaultRealTimeScale)
		}
		c.RealTimeScale = defaultRealTimeScale
	}
	if c.RealTimeQuantum <= 0 {
		if c.Mode == ModeRealTime {
			logrus.Warnf("real-time quantum %v out of range; using %v", c.RealTimeQuantum, defaultRealTimeQuantum)
		}
		c.RealTimeQuantum = defaultRealTimeQuantum
	}
	if c.BestEffortWindow <= 0 {
		if c.Mode == ModeBestEffort {
			logrus.Warnf("best-effort window %v out of range; using %v", c.BestEffortWindow, defaultBestEffortWindow)
		}
		c.BestEffortWindow = defaultBestEffortWindow
	}
	return c
}

// partitionConfig derives the kernel configuration of partition id.
func (c Config) partitionConfig(id sim.PartitionID, placement sim.Placement) sim.PartitionConfig {
	return sim.PartitionConfig{
		ID:        id,
		Count:     c.Partitions,
		Placement: placement,
		Allocator: sim.AllocatorConfig{
			Recycle:  !c.DebugNoRecycle,
			Capacity: c.Capacity,
		},
		Seed:                       c.Seed,
		IncludeMobilityInLookahead: c.IncludeMobilityInLookahead,
		RequireEOT:                 c.RequireEOT,
		VerifyLookahead:            c.VerifyLookahead,
		LateDelivery:               c.Mode == ModeBestEffort,
		Ingress:                    c.Ingress,
	}
}
