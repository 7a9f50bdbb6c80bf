// Package trace records barrier decisions of a partitioned run.
// It has no dependencies on sim/ or sim/cluster/ and stores pure data types.
package trace

import "sync"

// TraceLevel controls the verbosity of barrier tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelBarriers captures one record per barrier.
	TraceLevelBarriers TraceLevel = "barriers"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:     true,
	TraceLevelBarriers: true,
	"":                 true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects barrier records during a run. Records are
// appended by whichever partition goroutine performs the aggregation step.
type SimulationTrace struct {
	Config TraceConfig

	mu       sync.Mutex
	Barriers []BarrierRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:   config,
		Barriers: make([]BarrierRecord, 0),
	}
}

// RecordBarrier appends a barrier record.
func (st *SimulationTrace) RecordBarrier(record BarrierRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Barriers = append(st.Barriers, record)
}

// Records returns a copy of the recorded barriers.
func (st *SimulationTrace) Records() []BarrierRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]BarrierRecord(nil), st.Barriers...)
}
