package workload

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/partsim/partsim/sim"
	"gopkg.in/yaml.v3"
)

// Duration is a simulation duration written as a Go duration string ("250us").
type Duration sim.Time

// UnmarshalYAML accepts duration strings and bare nanosecond integers.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed.Nanoseconds())
		return nil
	}
	var ns int64
	if err := node.Decode(&ns); err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML renders the duration as a Go duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Time converts to simulation time.
func (d Duration) Time() sim.Time { return sim.Time(d) }

// PHOLDSpec configures the PHOLD benchmark.
type PHOLDSpec struct {
	Nodes         int       `yaml:"nodes"`
	EventsPerNode int       `yaml:"events_per_node"`
	Lookahead     Duration  `yaml:"lookahead"`
	Delay         DelaySpec `yaml:"delay"`
	PayloadBytes  int       `yaml:"payload_bytes"`
	VirtualBytes  int       `yaml:"virtual_bytes"`
	// Watchdog is the idle timeout re-armed on every arrival; 0 disables it.
	Watchdog Duration `yaml:"watchdog"`
	// MobilityInterval moves every node periodically; 0 disables mobility.
	MobilityInterval Duration `yaml:"mobility_interval"`
	// CensusInterval makes node 0 broadcast a census to every partition; 0 disables it.
	CensusInterval Duration `yaml:"census_interval"`
}

// DelaySpec is the extra delay added to the lookahead of every hop.
type DelaySpec struct {
	Type string   `yaml:"type"`
	Mean Duration `yaml:"mean"`
	Min  Duration `yaml:"min,omitempty"`
	Max  Duration `yaml:"max,omitempty"`
	CV   float64  `yaml:"cv,omitempty"`
}

var validDelayTypes = map[string]bool{
	"exponential": true, "uniform": true, "constant": true, "gamma": true,
}

// DefaultPHOLDSpec returns the benchmark's standard parameters.
func DefaultPHOLDSpec() PHOLDSpec {
	return PHOLDSpec{
		Nodes:            64,
		EventsPerNode:    4,
		Lookahead:        Duration(100 * sim.Microsecond),
		Delay:            DelaySpec{Type: "exponential", Mean: Duration(sim.Millisecond)},
		PayloadBytes:     64,
		Watchdog:         Duration(5 * sim.Millisecond),
		MobilityInterval: Duration(10 * sim.Millisecond),
	}
}

// LoadPHOLDSpec reads a YAML PHOLD specification file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadPHOLDSpec(path string) (*PHOLDSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload spec: %w", err)
	}
	spec := DefaultPHOLDSpec()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing workload spec: %w", err)
	}
	return &spec, nil
}

// Validate checks that all fields in the spec are valid.
func (s *PHOLDSpec) Validate() error {
	if s.Nodes < 1 {
		return fmt.Errorf("nodes must be positive, got %d", s.Nodes)
	}
	if s.EventsPerNode < 0 {
		return fmt.Errorf("events_per_node must be non-negative, got %d", s.EventsPerNode)
	}
	if s.Lookahead < 0 {
		return fmt.Errorf("lookahead must be non-negative, got %v", s.Lookahead.Time())
	}
	if s.PayloadBytes < 0 || s.VirtualBytes < 0 {
		return fmt.Errorf("payload_bytes and virtual_bytes must be non-negative, got %d and %d", s.PayloadBytes, s.VirtualBytes)
	}
	if s.Watchdog < 0 || s.MobilityInterval < 0 || s.CensusInterval < 0 {
		return fmt.Errorf("watchdog, mobility_interval and census_interval must be non-negative")
	}
	if s.CensusInterval > 0 && s.CensusInterval < s.Lookahead {
		return fmt.Errorf("census_interval %v must not be below lookahead %v", s.CensusInterval.Time(), s.Lookahead.Time())
	}
	return validateDelaySpec(&s.Delay)
}

func validateDelaySpec(d *DelaySpec) error {
	if !validDelayTypes[d.Type] {
		return fmt.Errorf("delay: unknown distribution type %q; valid: exponential, uniform, constant, gamma", d.Type)
	}
	if d.Mean < 0 {
		return fmt.Errorf("delay.mean must be non-negative, got %v", d.Mean.Time())
	}
	if d.Type == "uniform" {
		if d.Min < 0 {
			return fmt.Errorf("delay.min must be non-negative, got %v", d.Min.Time())
		}
		if d.Max < d.Min {
			return fmt.Errorf("delay: max %v is below min %v", d.Max.Time(), d.Min.Time())
		}
	}
	if d.Type == "gamma" {
		if math.IsNaN(d.CV) || math.IsInf(d.CV, 0) || d.CV <= 0 {
			return fmt.Errorf("delay.cv must be a finite positive number, got %f", d.CV)
		}
	}
	return nil
}
