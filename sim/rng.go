package sim

import "math/rand"

// SimulationKey identifies a reproducible run. Two synchronous runs with the
// same key, configuration and model produce identical results whatever the
// partition count.
type SimulationKey int64

// NodeStreams hands out one random stream per node. A stream's seed depends
// only on the key and the node id, so a node draws the same sequence on
// whichever partition it is placed.
//
// Not goroutine-safe: each partition holds its own NodeStreams.
type NodeStreams struct {
	key     SimulationKey
	streams map[NodeID]*rand.Rand
}

// NewNodeStreams creates an empty set of streams for key.
func NewNodeStreams(key SimulationKey) *NodeStreams {
	return &NodeStreams{key: key, streams: make(map[NodeID]*rand.Rand)}
}

// Stream returns node id's stream, creating it on first use.
func (s *NodeStreams) Stream(id NodeID) *rand.Rand {
	if r, ok := s.streams[id]; ok {
		return r
	}
	r := rand.New(rand.NewSource(s.Seed(id)))
	s.streams[id] = r
	return r
}

// Seed returns the seed of node id's stream.
func (s *NodeStreams) Seed(id NodeID) int64 {
	return int64(uint64(s.key) ^ splitmix64(uint64(uint32(id))+1))
}

// Key returns the key the streams derive from.
func (s *NodeStreams) Key() SimulationKey { return s.key }

// splitmix64 scatters consecutive ids across the seed space.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
