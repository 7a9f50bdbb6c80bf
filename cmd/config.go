package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/partsim/partsim/sim"
	"github.com/partsim/partsim/sim/cluster"
	"github.com/partsim/partsim/sim/trace"
	"github.com/partsim/partsim/sim/workload"
)

// supportedVersions is the range of config schema versions this build reads.
const supportedVersions = "^1.0"

// RunConfig represents a run configuration file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type RunConfig struct {
	Version  string             `yaml:"version"`
	Cluster  ClusterSection     `yaml:"cluster"`
	Workload workload.PHOLDSpec `yaml:"workload"`
	Trace    TraceSection       `yaml:"trace"`
}

// ClusterSection mirrors cluster.Config with YAML durations.
type ClusterSection struct {
	Partitions                 int               `yaml:"partitions"`
	Placement                  string            `yaml:"placement"`
	Mode                       string            `yaml:"mode"`
	End                        workload.Duration `yaml:"end"`
	Seed                       int64             `yaml:"seed"`
	Greedy                     bool              `yaml:"greedy"`
	StepBudget                 int               `yaml:"step_budget"`
	BarrierTimeout             time.Duration     `yaml:"barrier_timeout"`
	IncludeMobilityInLookahead bool              `yaml:"include_mobility_in_lookahead"`
	RequireEOT                 bool              `yaml:"require_eot"`
	VerifyLookahead            bool              `yaml:"verify_lookahead"`
	DebugNoRecycle             bool              `yaml:"debug_no_recycle"`
	Capacity                   int               `yaml:"capacity"`
	RealTimeScale              float64           `yaml:"real_time_scale"`
	RealTimeQuantum            workload.Duration `yaml:"real_time_quantum"`
	BestEffortWindow           workload.Duration `yaml:"best_effort_window"`
}

// TraceSection selects barrier tracing and its SQLite sink.
type TraceSection struct {
	Level string `yaml:"level"`
	DB    string `yaml:"db"`
}

const (
	placementRoundRobin = "round-robin"
	placementBlocks     = "blocks"
)

// defaultRunConfig returns the configuration used when no file is given.
func defaultRunConfig() RunConfig {
	def := cluster.DefaultConfig()
	return RunConfig{
		Version: "1.0",
		Cluster: ClusterSection{
			Partitions:       def.Partitions,
			Placement:        placementRoundRobin,
			Mode:             string(def.Mode),
			End:              workload.Duration(100 * sim.Millisecond),
			Seed:             42,
			BarrierTimeout:   def.BarrierTimeout,
			RealTimeScale:    def.RealTimeScale,
			RealTimeQuantum:  workload.Duration(def.RealTimeQuantum),
			BestEffortWindow: workload.Duration(def.BestEffortWindow),
		},
		Workload: workload.DefaultPHOLDSpec(),
		Trace:    TraceSection{Level: string(trace.TraceLevelNone)},
	}
}

// loadRunConfig parses a run configuration file over the defaults.
// Uses strict field checking: typos must cause errors.
func loadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := defaultRunConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := checkVersion(cfg.Version); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// checkVersion rejects config files written for an unsupported schema.
func checkVersion(v string) error {
	if v == "" {
		return fmt.Errorf("config version is required")
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("config version %q: %w", v, err)
	}
	constraint, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return err
	}
	if !constraint.Check(version) {
		return fmt.Errorf("config version %s is not supported (want %s)", version, supportedVersions)
	}
	return nil
}

// Validate checks values that Normalize cannot repair.
func (c *RunConfig) Validate() error {
	switch c.Cluster.Placement {
	case "", placementRoundRobin, placementBlocks:
	default:
		return fmt.Errorf("unknown placement %q; valid: %s, %s", c.Cluster.Placement, placementRoundRobin, placementBlocks)
	}
	if c.Cluster.Mode != "" && !cluster.IsValidMode(c.Cluster.Mode) {
		return fmt.Errorf("unknown mode %q; valid: %s, %s, %s", c.Cluster.Mode, cluster.ModeSynchronous, cluster.ModeRealTime, cluster.ModeBestEffort)
	}
	if !trace.IsValidTraceLevel(c.Trace.Level) {
		return fmt.Errorf("unknown trace level %q; valid: %s, %s", c.Trace.Level, trace.TraceLevelNone, trace.TraceLevelBarriers)
	}
	return c.Workload.Validate()
}

// clusterConfig converts the cluster section to a cluster.Config.
func (c *RunConfig) clusterConfig() cluster.Config {
	s := c.Cluster
	return cluster.Config{
		Partitions:                 s.Partitions,
		Mode:                       cluster.Mode(s.Mode),
		EndTime:                    s.End.Time(),
		Seed:                       s.Seed,
		Greedy:                     s.Greedy,
		StepBudget:                 s.StepBudget,
		BarrierTimeout:             s.BarrierTimeout,
		IncludeMobilityInLookahead: s.IncludeMobilityInLookahead,
		RequireEOT:                 s.RequireEOT,
		VerifyLookahead:            s.VerifyLookahead,
		DebugNoRecycle:             s.DebugNoRecycle,
		Capacity:                   s.Capacity,
		RealTimeScale:              s.RealTimeScale,
		RealTimeQuantum:            s.RealTimeQuantum.Time(),
		BestEffortWindow:           s.BestEffortWindow.Time(),
	}
}

// placement builds the node placement for partitions partitions.
func (c *RunConfig) placement(partitions int) sim.Placement {
	if c.Cluster.Placement == placementBlocks {
		per := (c.Workload.Nodes + partitions - 1) / partitions
		if per < 1 {
			per = 1
		}
		return cluster.Blocks(per, partitions)
	}
	return cluster.RoundRobin(partitions)
}

// traceLevel returns the effective trace level. A database sink implies
// barrier tracing.
func (c *RunConfig) traceLevel() trace.TraceLevel {
	if c.Trace.DB != "" {
		return trace.TraceLevelBarriers
	}
	if c.Trace.Level == "" {
		return trace.TraceLevelNone
	}
	return trace.TraceLevel(c.Trace.Level)
}
