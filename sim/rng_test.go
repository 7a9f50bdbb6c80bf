package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeStreams_SameKeySameSequence(t *testing.T) {
	a := NewNodeStreams(42)
	b := NewNodeStreams(42)
	for i := 0; i < 3; i++ {
		assert.Equal(t, a.Stream(7).Int63(), b.Stream(7).Int63(), "draw %d", i)
	}
	assert.NotEqual(t, NewNodeStreams(43).Seed(7), a.Seed(7))
}

func TestNodeStreams_NodesAreIsolated(t *testing.T) {
	a := NewNodeStreams(42)
	b := NewNodeStreams(42)

	// draws from node 1 must not shift node 2's stream
	for i := 0; i < 10; i++ {
		a.Stream(1).Int63()
	}
	assert.Equal(t, b.Stream(2).Int63(), a.Stream(2).Int63())
}

func TestNodeStreams_CachesStreams(t *testing.T) {
	s := NewNodeStreams(1)
	assert.Same(t, s.Stream(0), s.Stream(0))
	assert.NotSame(t, s.Stream(0), s.Stream(1))
	assert.Equal(t, SimulationKey(1), s.Key())
}

func TestNodeStreams_SeedsDistinctAcrossIds(t *testing.T) {
	s := NewNodeStreams(0)
	seen := make(map[int64]NodeID)
	for id := NodeID(-2); id < 4096; id++ {
		seed := s.Seed(id)
		prev, dup := seen[seed]
		assert.False(t, dup, "nodes %d and %d share a seed", prev, id)
		seen[seed] = id
	}
}

func TestNode_RNG_IndependentOfPlacement(t *testing.T) {
	// GIVEN node 5 placed on partition 0 in one run and partition 1 in another
	p0 := newTestPartition(t, PartitionConfig{ID: 0, Count: 2, Seed: 9, Placement: func(NodeID) PartitionID { return 0 }})
	p1 := newTestPartition(t, PartitionConfig{ID: 1, Count: 2, Seed: 9, Placement: func(NodeID) PartitionID { return 1 }})

	// THEN its stream is the same in both
	assert.Equal(t, p0.AddNode(5).RNG().Int63(), p1.AddNode(5).RNG().Int63())
}
