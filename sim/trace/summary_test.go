package trace

import (
	"math"
	"testing"
)

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	if summary.Barriers != 0 || summary.Advances != 0 || summary.Stalls != 0 {
		t.Errorf("expected zero counts, got %+v", summary)
	}
	if summary.BottleneckDistribution == nil {
		t.Error("expected a non-nil bottleneck distribution")
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with two advances, one stall and a final barrier
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelBarriers})
	st.RecordBarrier(BarrierRecord{Seq: 1, Barrier: "init", Previous: 0, Horizon: 50, Bottleneck: 1, Exchanged: 0})
	st.RecordBarrier(BarrierRecord{Seq: 2, Barrier: "window", Previous: 50, Horizon: 105, Bottleneck: 1, Exchanged: 3})
	st.RecordBarrier(BarrierRecord{Seq: 3, Barrier: "window", Previous: 105, Horizon: 105, Bottleneck: 0, Exchanged: 2, Broadcasts: 1})
	st.RecordBarrier(BarrierRecord{Seq: 4, Barrier: "window", Previous: 105, Horizon: math.MaxInt64, Bottleneck: -1})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts match
	if summary.Barriers != 4 {
		t.Errorf("expected 4 barriers, got %d", summary.Barriers)
	}
	if summary.Advances != 3 || summary.Stalls != 1 {
		t.Errorf("expected 3 advances and 1 stall, got %d and %d", summary.Advances, summary.Stalls)
	}
	if summary.Exchanged != 5 || summary.Broadcasts != 1 {
		t.Errorf("expected 5 exchanged and 1 broadcast, got %d and %d", summary.Exchanged, summary.Broadcasts)
	}

	// THEN the infinite jump is excluded from step statistics
	if summary.MaxStep != 55 {
		t.Errorf("expected max step 55, got %d", summary.MaxStep)
	}
	if summary.MeanStep != 52.5 {
		t.Errorf("expected mean step 52.5, got %f", summary.MeanStep)
	}

	// THEN partition 1 bounded the horizon twice
	if summary.BottleneckDistribution[1] != 2 || summary.BottleneckDistribution[0] != 1 {
		t.Errorf("unexpected bottleneck distribution %v", summary.BottleneckDistribution)
	}
	if _, ok := summary.BottleneckDistribution[-1]; ok {
		t.Error("records without a bottleneck must not be counted")
	}
}
