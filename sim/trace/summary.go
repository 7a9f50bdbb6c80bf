package trace

import "math"

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	Barriers   int
	Advances   int
	Stalls     int // barriers that left the horizon unchanged
	Exchanged  int
	Broadcasts int
	MeanStep   float64 // mean finite horizon advance, in nanoseconds
	MaxStep    int64
	// BottleneckDistribution counts how often each partition bounded the horizon.
	BottleneckDistribution map[int]int
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		BottleneckDistribution: make(map[int]int),
	}
	if st == nil {
		return summary
	}

	var total float64
	finite := 0
	for _, r := range st.Records() {
		summary.Barriers++
		summary.Exchanged += r.Exchanged
		summary.Broadcasts += r.Broadcasts
		if r.Bottleneck >= 0 {
			summary.BottleneckDistribution[r.Bottleneck]++
		}
		if !r.Advanced() {
			summary.Stalls++
			continue
		}
		summary.Advances++
		if r.Horizon == math.MaxInt64 {
			continue
		}
		step := r.Horizon - r.Previous
		total += float64(step)
		finite++
		if step > summary.MaxStep {
			summary.MaxStep = step
		}
	}
	if finite > 0 {
		summary.MeanStep = total / float64(finite)
	}
	return summary
}
