package trace

import "time"

// BarrierRecord captures one barrier's aggregation step.
type BarrierRecord struct {
	Seq        int
	Barrier    string
	Previous   int64   // horizon in force before the barrier
	Horizon    int64   // horizon agreed at the barrier
	Reports    []int64 // per-partition localClock + lookahead, indexed by partition id
	Bottleneck int     // partition whose report bounded the horizon; -1 if none
	Exchanged  int
	Broadcasts int
	Wall       time.Duration // wall time since run start
}

// Advanced reports whether the barrier moved the horizon forward.
func (r BarrierRecord) Advanced() bool { return r.Horizon > r.Previous }
