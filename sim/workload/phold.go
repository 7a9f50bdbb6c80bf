package workload

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"github.com/partsim/partsim/sim"
	"github.com/sirupsen/logrus"
)

// Protocols, event kinds and info tags used by PHOLD.
const (
	ProtoPHOLD    sim.ProtocolID = 1
	ProtoMobility sim.ProtocolID = 2
	ProtoCensus   sim.ProtocolID = 3

	KindJob      sim.EventKind = 1
	KindWatchdog sim.EventKind = 2
	KindMove     sim.EventKind = 3
	KindCensus   sim.EventKind = 4

	InfoOrigin sim.InfoType = 1
	InfoHops   sim.InfoType = 2

	hopHeaderSize = 8
)

// NodeStats counts what one node saw.
type NodeStats struct {
	Received  uint64
	Sent      uint64
	Remote    uint64
	Timeouts  uint64
	Moves     uint64
	MaxHops   uint32
	Checksum  uint64
	Finalized bool
}

type pholdNode struct {
	node     *sim.Node
	rng      *rand.Rand
	handle   *sim.LookaheadHandle
	watchdog *sim.Message
	x, y     float64
	stats    NodeStats
}

// PHOLD is the classic parallel hold benchmark. Every node starts with a
// fixed number of jobs; each arrival is forwarded to a uniformly random node
// after the lookahead plus a random delay.
//
// Node state is only touched from the goroutine of the partition that owns
// the node; results are read after the run.
type PHOLD struct {
	spec    PHOLDSpec
	delay   DelaySampler
	nodes   []*pholdNode
	census  []uint64 // per partition
	hopTags []uint64 // per partition: forwarded hop headers verified
}

// NewPHOLD validates spec and returns an uninstalled model.
func NewPHOLD(spec PHOLDSpec) (*PHOLD, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PHOLD spec: %w", err)
	}
	return &PHOLD{
		spec:  spec,
		delay: NewDelaySampler(spec.Delay),
		nodes: make([]*pholdNode, spec.Nodes),
	}, nil
}

// Spec returns the model parameters.
func (w *PHOLD) Spec() PHOLDSpec { return w.spec }

// Install creates every node on the partition placement assigns it to and
// schedules the initial jobs.
func (w *PHOLD) Install(parts []*sim.Partition, placement sim.Placement) {
	w.census = make([]uint64, len(parts))
	w.hopTags = make([]uint64, len(parts))
	for _, p := range parts {
		p.RegisterBroadcast(ProtoCensus, w.censusHandler(p))
	}
	for id := 0; id < w.spec.Nodes; id++ {
		nid := sim.NodeID(id)
		p := parts[placement(nid)]
		n := p.AddNode(nid)
		st := &pholdNode{node: n, rng: n.RNG()}
		w.nodes[id] = st

		st.handle = n.AllocateLookaheadHandle()
		n.SetLookaheadHandleEOT(st.handle, w.spec.Lookahead.Time())
		n.Register(sim.LayerApp, ProtoPHOLD, sim.HandlerFunc(w.handleApp))
		n.Register(sim.LayerMobility, ProtoMobility, sim.HandlerFunc(w.handleMove))
		n.OnFinalize(w.finalize)

		for j := 0; j < w.spec.EventsPerNode; j++ {
			m := n.Alloc(sim.LayerApp, ProtoPHOLD, KindJob)
			m.AllocPacket(w.spec.PayloadBytes)
			m.AddVirtualPayload(w.spec.VirtualBytes)
			binary.BigEndian.PutUint32(m.AddInfo(InfoOrigin, 4), uint32(nid))
			binary.BigEndian.PutUint32(m.AddInfo(InfoHops, 4), 0)
			n.Send(m, w.delay.SampleDelay(st.rng))
		}
		if w.spec.Watchdog > 0 {
			w.armWatchdog(st)
		}
		if w.spec.MobilityInterval > 0 {
			st.x, st.y = st.rng.Float64(), st.rng.Float64()
			n.Send(n.Alloc(sim.LayerMobility, ProtoMobility, KindMove), w.spec.MobilityInterval.Time())
		}
		if id == 0 && w.spec.CensusInterval > 0 {
			n.Send(n.Alloc(sim.LayerApp, ProtoPHOLD, KindCensus), w.spec.CensusInterval.Time())
		}
	}
	logrus.Debugf("PHOLD installed: %d nodes, %d jobs each, lookahead %v", w.spec.Nodes, w.spec.EventsPerNode, w.spec.Lookahead.Time())
}

func (w *PHOLD) handleApp(node *sim.Node, msg *sim.Message) {
	st := w.nodes[node.ID]
	switch msg.Kind {
	case KindJob:
		w.arrive(st, msg)
	case KindWatchdog:
		st.stats.Timeouts++
		st.watchdog = nil
		node.Free(msg)
		w.armWatchdog(st)
	case KindCensus:
		census := node.Duplicate(msg)
		binary.BigEndian.PutUint64(census.AllocPacket(8), st.stats.Received)
		node.Broadcast(census, w.spec.Lookahead.Time())
		node.Send(msg, w.spec.CensusInterval.Time())
	default:
		panic(fmt.Sprintf("PHOLD: unexpected event kind %d", msg.Kind))
	}
}

func (w *PHOLD) arrive(st *pholdNode, msg *sim.Message) {
	n := st.node
	st.stats.Received++
	if msg.HeaderDepth() > 0 {
		prev := binary.BigEndian.Uint64(msg.Packet()[:hopHeaderSize])
		msg.RemoveHeader(hopHeaderSize, ProtoPHOLD)
		w.hopTags[n.Partition().ID()]++
		st.stats.Checksum = mix(st.stats.Checksum, prev)
	}
	hops := binary.BigEndian.Uint32(msg.Info(InfoHops)) + 1
	origin := binary.BigEndian.Uint32(msg.Info(InfoOrigin))
	binary.BigEndian.PutUint32(msg.AddInfo(InfoHops, 4), hops)
	if hops > st.stats.MaxHops {
		st.stats.MaxHops = hops
	}
	st.stats.Checksum = mix(st.stats.Checksum, uint64(n.Now()))
	st.stats.Checksum = mix(st.stats.Checksum, uint64(origin)<<32|uint64(hops))

	if st.watchdog != nil {
		n.Cancel(st.watchdog)
		st.watchdog = nil
		w.armWatchdog(st)
	}

	dest := sim.NodeID(st.rng.Intn(w.spec.Nodes))
	delay := w.spec.Lookahead.Time() + w.delay.SampleDelay(st.rng)
	binary.BigEndian.PutUint64(msg.AddHeader(hopHeaderSize, ProtoPHOLD), uint64(n.ID))
	st.stats.Sent++
	if dest == n.ID {
		n.Send(msg, delay)
		return
	}
	if w.nodes[dest].node.Partition() != n.Partition() {
		st.stats.Remote++
	}
	n.RemoteSend(dest, msg, delay)
}

func (w *PHOLD) armWatchdog(st *pholdNode) {
	if w.spec.Watchdog <= 0 {
		return
	}
	st.watchdog = st.node.Alloc(sim.LayerApp, ProtoPHOLD, KindWatchdog)
	st.node.Send(st.watchdog, w.spec.Watchdog.Time())
}

func (w *PHOLD) handleMove(node *sim.Node, msg *sim.Message) {
	st := w.nodes[node.ID]
	st.stats.Moves++
	st.x = math.Mod(st.x+st.rng.NormFloat64()*0.01+1, 1)
	st.y = math.Mod(st.y+st.rng.NormFloat64()*0.01+1, 1)
	node.Send(msg, w.spec.MobilityInterval.Time())
}

func (w *PHOLD) censusHandler(p *sim.Partition) sim.Handler {
	return sim.HandlerFunc(func(_ *sim.Node, msg *sim.Message) {
		w.census[p.ID()]++
		p.Allocator().Release(msg)
	})
}

func (w *PHOLD) finalize(node *sim.Node) {
	st := w.nodes[node.ID]
	st.stats.Finalized = true
	st.stats.Checksum = mix(st.stats.Checksum, st.stats.Received)
	if w.spec.MobilityInterval > 0 {
		st.stats.Checksum = mix(st.stats.Checksum, math.Float64bits(st.x)^math.Float64bits(st.y))
	}
}

// mix folds v into h (FNV-1a over the eight bytes of v).
func mix(h, v uint64) uint64 {
	if h == 0 {
		h = 14695981039346656037
	}
	for i := 0; i < 8; i++ {
		h ^= v & 0xff
		h *= 1099511628211
		v >>= 8
	}
	return h
}

// Result summarizes a finished PHOLD run.
type Result struct {
	Received  uint64
	Sent      uint64
	Remote    uint64
	Timeouts  uint64
	Moves     uint64
	MaxHops   uint32
	Census    uint64
	HopChecks uint64
	Checksum  uint64
}

// Result folds per-node statistics in node-id order.
func (w *PHOLD) Result() Result {
	var r Result
	for _, st := range w.nodes {
		if st == nil {
			continue
		}
		r.Received += st.stats.Received
		r.Sent += st.stats.Sent
		r.Remote += st.stats.Remote
		r.Timeouts += st.stats.Timeouts
		r.Moves += st.stats.Moves
		if st.stats.MaxHops > r.MaxHops {
			r.MaxHops = st.stats.MaxHops
		}
		r.Checksum = mix(r.Checksum, st.stats.Checksum)
	}
	for i := range w.census {
		r.Census += w.census[i]
		r.HopChecks += w.hopTags[i]
	}
	return r
}

// NodeStats returns the statistics of node id.
func (w *PHOLD) NodeStats(id sim.NodeID) NodeStats { return w.nodes[id].stats }
