package cluster

import (
	"bytes"
	"os"
	"testing"

	"github.com/partsim/partsim/sim"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testProto sim.ProtocolID = 1

// captureLogOutput runs fn and returns the log output as a string.
func captureLogOutput(fn func()) string {
	var buf bytes.Buffer
	origOutput := logrus.StandardLogger().Out
	origLevel := logrus.GetLevel()
	logrus.SetOutput(&buf)
	logrus.SetLevel(logrus.WarnLevel)
	defer func() {
		if origOutput != nil {
			logrus.SetOutput(origOutput)
		} else {
			logrus.SetOutput(os.Stderr)
		}
		logrus.SetLevel(origLevel)
	}()
	fn()
	return buf.String()
}

// syncAll drives every partition through one barrier concurrently.
func syncAll(t *testing.T, c *Coordinator, parts []*sim.Partition, name BarrierName) {
	t.Helper()
	var g errgroup.Group
	for _, p := range parts {
		g.Go(func() error { return c.SynchronizePartitions(p, name) })
	}
	require.NoError(t, g.Wait())
}

// freeHandler drops every message it receives.
var freeHandler = sim.HandlerFunc(func(node *sim.Node, msg *sim.Message) { node.Free(msg) })

// ring forwards a token from node i to node i+1 with a random delay of at
// least lookahead, folding every arrival time into a per-node checksum.
type ring struct {
	nodes     int
	lookahead sim.Time
	hops      []uint64
	sums      []uint64
}

func newRing(nodes int, lookahead sim.Time) *ring {
	return &ring{nodes: nodes, lookahead: lookahead, hops: make([]uint64, nodes), sums: make([]uint64, nodes)}
}

func (r *ring) install(c *ClusterSimulator, placement sim.Placement) {
	for id := 0; id < r.nodes; id++ {
		p := c.Partition(placement(sim.NodeID(id)))
		n := p.AddNode(sim.NodeID(id))
		h := n.AllocateLookaheadHandle()
		n.SetLookaheadHandleEOT(h, r.lookahead)
		n.Register(sim.LayerApp, testProto, r)
		n.Send(n.Alloc(sim.LayerApp, testProto, 0), sim.Time(id))
	}
}

func (r *ring) Handle(node *sim.Node, msg *sim.Message) {
	r.hops[node.ID]++
	r.sums[node.ID] = r.sums[node.ID]*31 + uint64(node.Now())
	next := sim.NodeID((int(node.ID) + 1) % r.nodes)
	node.RemoteSend(next, msg, r.lookahead+sim.Time(node.RNG().Int63n(1000)))
}

func (r *ring) checksum() uint64 {
	var total uint64
	for i := range r.sums {
		total = total*1_000_003 + r.sums[i] + r.hops[i]
	}
	return total
}
