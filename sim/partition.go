package sim

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// PartitionState is the partition's position in the barrier protocol.
type PartitionState int

const (
	StateRunning PartitionState = iota
	StateAtBarrier
	StateExchanging
	StateAdvancing
	StateDone
)

var partitionStateNames = [...]string{"RUNNING", "AT_BARRIER", "EXCHANGING", "ADVANCING", "DONE"}

func (s PartitionState) String() string {
	if int(s) < len(partitionStateNames) {
		return partitionStateNames[s]
	}
	return fmt.Sprintf("PartitionState(%d)", int(s))
}

// Placement maps a node to the partition that owns it.
type Placement func(NodeID) PartitionID

// PartitionConfig configures one partition.
type PartitionConfig struct {
	ID        PartitionID
	Count     int
	Placement Placement
	Allocator AllocatorConfig
	Seed      int64

	// IncludeMobilityInLookahead lets pending mobility events bound the
	// partition's lookahead report. Off by default: protocols rarely react
	// to a position change with an immediate cross-partition send.
	IncludeMobilityInLookahead bool
	// RequireEOT warns when the partition has to fall back to minimum
	// lookahead because no protocol registered a lookahead handle.
	RequireEOT bool
	// VerifyLookahead runs the O(n) heap scan after every tracker mutation.
	VerifyLookahead bool
	// LateDelivery delivers cross-partition messages that arrive behind the
	// local clock at the clock instead of aborting. Best-effort mode only.
	LateDelivery bool
	// Ingress enables the goroutine-safe injection path.
	Ingress bool
}

// PartitionStats counts partition activity.
type PartitionStats struct {
	Dispatched     uint64
	Cancelled      uint64
	SentLocal      uint64
	SentRemote     uint64
	Broadcasts     uint64
	Received       uint64
	LateDeliveries uint64
	Injected       uint64
}

// Partition is an independently clocked unit of execution: it owns its
// allocator, event queues, lookahead tracker and outbound buffers. Within a
// partition dispatch is single-threaded and run-to-completion.
type Partition struct {
	cfg   PartitionConfig
	state PartitionState

	clock   Time
	horizon Time
	order   uint64

	alloc    *Allocator
	queue    *EventQueue
	mobility *EventQueue

	tracker      *LookaheadTracker
	minLookahead Time

	nodes     map[NodeID]*Node
	broadcast map[ProtocolID]Handler

	outbox     [][]*Message
	broadcasts []*Message

	ingress *Ingress

	rng   *NodeStreams
	stats PartitionStats

	warnFallback rate.Sometimes
	warnLate     rate.Sometimes
}

// NewPartition creates a partition with no nodes.
func NewPartition(cfg PartitionConfig) *Partition {
	if cfg.Count < 1 {
		panic("NewPartition: Count must be >= 1")
	}
	if cfg.ID < 0 || int(cfg.ID) >= cfg.Count {
		panic(fmt.Sprintf("NewPartition: ID %d out of range [0, %d)", cfg.ID, cfg.Count))
	}
	if cfg.Placement == nil {
		id := cfg.ID
		cfg.Placement = func(NodeID) PartitionID { return id }
	}
	alloc := NewAllocator(cfg.Allocator)
	p := &Partition{
		cfg:          cfg,
		alloc:        alloc,
		queue:        NewEventQueue(alloc),
		mobility:     NewEventQueue(alloc),
		tracker:      NewLookaheadTracker(cfg.VerifyLookahead),
		minLookahead: Infinity,
		nodes:        make(map[NodeID]*Node),
		broadcast:    make(map[ProtocolID]Handler),
		outbox:       make([][]*Message, cfg.Count),
		rng:          NewNodeStreams(SimulationKey(cfg.Seed)),
		warnFallback: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		warnLate:     rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	if cfg.Ingress {
		p.ingress = newIngress(p)
	}
	return p
}

// ID returns the partition id.
func (p *Partition) ID() PartitionID { return p.cfg.ID }

// Clock returns the time of the message being, or last, dispatched.
func (p *Partition) Clock() Time { return p.clock }

// Horizon returns the last safe-time horizon agreed at a barrier.
func (p *Partition) Horizon() Time { return p.horizon }

// SetHorizon publishes a newly agreed horizon to the partition.
func (p *Partition) SetHorizon(h Time) { p.horizon = h }

// State returns the barrier-protocol state.
func (p *Partition) State() PartitionState { return p.state }

// SetState moves the partition through the barrier protocol.
func (p *Partition) SetState(s PartitionState) {
	logrus.Tracef("[p%d] %v -> %v", p.cfg.ID, p.state, s)
	p.state = s
}

// Allocator returns the partition-private message pool.
func (p *Partition) Allocator() *Allocator { return p.alloc }

// Stats returns a snapshot of the activity counters.
func (p *Partition) Stats() PartitionStats { return p.stats }

// Pending returns the number of queued messages, mobility included.
func (p *Partition) Pending() int { return p.queue.Len() + p.mobility.Len() }

// AddNode creates node id on this partition.
func (p *Partition) AddNode(id NodeID) *Node {
	if id == BroadcastNode {
		panic("AddNode: BroadcastNode is reserved")
	}
	if owner := p.cfg.Placement(id); owner != p.cfg.ID {
		panic(fmt.Sprintf("AddNode: node %d is placed on partition %d, not %d", id, owner, p.cfg.ID))
	}
	if _, exists := p.nodes[id]; exists {
		panic(fmt.Sprintf("AddNode: node %d already exists", id))
	}
	n := &Node{ID: id, partition: p, handlers: make(map[handlerKey]Handler)}
	p.nodes[id] = n
	return n
}

// Node returns the local node with the given id, or nil.
func (p *Partition) Node(id NodeID) *Node { return p.nodes[id] }

// Nodes returns the local nodes in id order.
func (p *Partition) Nodes() []*Node {
	out := make([]*Node, 0, len(p.nodes))
	for _, n := range p.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterBroadcast installs the partition-wide handler for broadcasts of protocol.
func (p *Partition) RegisterBroadcast(protocol ProtocolID, h Handler) {
	if h == nil {
		panic("RegisterBroadcast: handler must not be nil")
	}
	p.broadcast[protocol] = h
}

// === Scheduling ===

func (p *Partition) enqueueLocal(m *Message, at Time) {
	if at > MaxTime {
		violate(ViolationInvalidArgument, "message %d scheduled beyond MaxTime", m.handle)
	}
	m.time = at
	m.source = p.cfg.ID
	p.order++
	m.order = p.order
	if m.Layer == LayerMobility {
		p.mobility.Enqueue(m)
	} else {
		p.queue.Enqueue(m)
	}
}

func (p *Partition) send(m *Message, delay Time) {
	m.checkLive("Send")
	if delay < 0 {
		violate(ViolationInvalidArgument, "Send: negative delay %v", delay)
	}
	if dest := p.cfg.Placement(m.Node); m.Node != BroadcastNode && dest != p.cfg.ID {
		violate(ViolationOwnership, "Send: node %d lives on partition %d; use RemoteSend", m.Node, dest)
	}
	p.enqueueLocal(m, p.clock.Add(delay))
	p.stats.SentLocal++
}

func (p *Partition) remoteSend(dest NodeID, m *Message, delay Time) {
	m.checkLive("RemoteSend")
	if delay < 0 {
		violate(ViolationInvalidArgument, "RemoteSend: negative delay %v", delay)
	}
	m.Node = dest
	target := p.cfg.Placement(dest)
	if target == p.cfg.ID {
		p.enqueueLocal(m, p.clock.Add(delay))
		p.stats.SentLocal++
		return
	}
	if int(target) < 0 || int(target) >= p.cfg.Count {
		violate(ViolationInvalidArgument, "RemoteSend: node %d placed on unknown partition %d", dest, target)
	}
	p.export(m, delay)
	p.outbox[target] = append(p.outbox[target], m)
	p.stats.SentRemote++
}

func (p *Partition) broadcastSend(m *Message, delay Time) {
	m.checkLive("Broadcast")
	if delay < 0 {
		violate(ViolationInvalidArgument, "Broadcast: negative delay %v", delay)
	}
	m.Node = BroadcastNode
	p.export(m, delay)
	p.broadcasts = append(p.broadcasts, m)
	p.stats.Broadcasts++
}

// export stamps m for cross-partition delivery. The kernel owns it until
// the next barrier exchange.
func (p *Partition) export(m *Message, delay Time) {
	if m.flags&flagQueued != 0 {
		violate(ViolationOwnership, "message %d is already queued", m.handle)
	}
	at := p.clock.Add(delay)
	if at > MaxTime {
		violate(ViolationInvalidArgument, "message %d scheduled beyond MaxTime", m.handle)
	}
	if !p.cfg.LateDelivery && at < p.horizon {
		violate(ViolationCausality, "cross-partition message at %v precedes the safe horizon %v; lookahead commitment was too large",
			at, p.horizon)
	}
	m.time = at
	m.source = p.cfg.ID
	m.eot = p.clock.Add(p.Lookahead())
	m.flags |= flagQueued | flagRemote
}

// cancel marks a queued self-timer so the dispatcher drops it.
func (p *Partition) cancel(owner NodeID, m *Message) {
	m.checkLive("Cancel")
	if m.flags&flagQueued == 0 {
		violate(ViolationOwnership, "Cancel: message %d is not queued", m.handle)
	}
	if m.flags&flagRemote != 0 || m.Node != owner {
		violate(ViolationInvalidArgument, "Cancel: message %d is not a self timer of node %d", m.handle, owner)
	}
	m.flags |= flagCancelled
}

// === Exchange ===

// TakeOutbox detaches the buffered cross-partition messages, indexed by
// destination partition, and the buffered broadcasts.
func (p *Partition) TakeOutbox() ([][]*Message, []*Message) {
	out, bc := p.outbox, p.broadcasts
	p.outbox = make([][]*Message, p.cfg.Count)
	p.broadcasts = nil
	return out, bc
}

// OutboxLen returns the number of buffered cross-partition messages.
func (p *Partition) OutboxLen() int {
	n := len(p.broadcasts)
	for _, msgs := range p.outbox {
		n += len(msgs)
	}
	return n
}

// ReleaseExported returns an exchanged message to this partition's pool.
func (p *Partition) ReleaseExported(m *Message) {
	m.flags &^= flagQueued
	p.alloc.release(m)
}

// Import copies a message exported by another partition into this one and
// queues it. Natural order is assigned here, so imports in a fixed order
// give a deterministic schedule.
func (p *Partition) Import(src *Message) {
	at := src.time
	if at < p.clock {
		if !p.cfg.LateDelivery {
			violate(ViolationCausality, "partition %d received a message from partition %d at %v behind its clock %v",
				p.cfg.ID, src.source, at, p.clock)
		}
		p.stats.LateDeliveries++
		p.warnLate.Do(func() {
			logrus.Warnf("[p%d] late delivery from partition %d: %v behind clock %v", p.cfg.ID, src.source, p.clock-at, p.clock)
		})
		at = p.clock
	}
	m := p.alloc.Adopt(src)
	p.order++
	m.time = at
	m.order = p.order
	if m.Layer == LayerMobility {
		p.mobility.Enqueue(m)
	} else {
		p.queue.Enqueue(m)
	}
	p.stats.Received++
}

// === Lookahead ===

// Lookahead returns the partition's current commitment: the minimum over
// registered handles and the minimum lookahead, or zero when neither exists.
func (p *Partition) Lookahead() Time {
	if p.tracker.Len() == 0 {
		if p.cfg.RequireEOT {
			p.warnFallback.Do(func() {
				logrus.Warnf("[p%d] strict EOT requested but no protocol registered a lookahead handle; using minimum lookahead", p.cfg.ID)
			})
		}
		if p.minLookahead == Infinity {
			return 0
		}
		return p.minLookahead
	}
	return Earlier(p.tracker.Minimum(), p.minLookahead)
}

// Tracker exposes the lookahead heap.
func (p *Partition) Tracker() *LookaheadTracker { return p.tracker }

// NextEventTime is the partition's local clock for reporting purposes: the
// earliest time at which it could act next. Mobility events only count when
// configured to.
func (p *Partition) NextEventTime() Time {
	t := p.queue.EarliestTime()
	if p.cfg.IncludeMobilityInLookahead {
		t = Earlier(t, p.mobility.EarliestTime())
	}
	return Later(t, p.clock)
}

// Report drains pending ingress and returns localClock + lookahead, the
// partition's bound on the earliest cross-partition message it could still
// originate.
func (p *Partition) Report() Time {
	p.drainIngress()
	next := p.NextEventTime()
	if next == Infinity {
		return Infinity
	}
	return next.Add(p.Lookahead())
}

func (p *Partition) setMinimumLookahead(delta Time) {
	if delta < 0 {
		logrus.Warnf("[p%d] minimum lookahead %v out of range; using 0", p.cfg.ID, delta)
		delta = 0
	}
	p.minLookahead = Earlier(p.minLookahead, delta)
	var stale []*LookaheadHandle
	for _, h := range p.tracker.h {
		if h.fallback && h.eot != p.minLookahead {
			stale = append(stale, h)
		}
	}
	for _, h := range stale {
		p.tracker.updateFallback(h, p.minLookahead)
	}
}

func (p *Partition) setHandleEOT(h *LookaheadHandle, eot Time) {
	if eot >= 0 {
		p.tracker.Update(h, eot)
		return
	}
	fallback := p.minLookahead
	if fallback == Infinity {
		fallback = 0
	}
	p.warnFallback.Do(func() {
		logrus.Warnf("[p%d] protocol could not supply an EOT; holding its handle at minimum lookahead %v", p.cfg.ID, fallback)
	})
	p.tracker.updateFallback(h, fallback)
}

// === Dispatch ===

func (p *Partition) peekNext() *Message {
	a, b := p.queue.Peek(), p.mobility.Peek()
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.before(a):
		return b
	}
	return a
}

// ProcessUntil dispatches every pending message with time <= limit, up to
// budget messages (budget <= 0 means unbounded). Returns the number
// dispatched, cancelled drops included.
func (p *Partition) ProcessUntil(limit Time, budget int) int {
	p.drainIngress()
	n := 0
	for budget <= 0 || n < budget {
		next := p.peekNext()
		if next == nil || next.time > limit {
			break
		}
		var m *Message
		if next.Layer == LayerMobility {
			m = p.mobility.DequeueEarliest()
		} else {
			m = p.queue.DequeueEarliest()
		}
		p.dispatch(m)
		n++
	}
	return n
}

func (p *Partition) dispatch(m *Message) {
	if m.released() {
		violate(ViolationUseAfterFree, "dispatch of released message %d", m.handle)
	}
	if m.time < p.clock {
		violate(ViolationCausality, "partition %d dispatching %v behind its clock %v", p.cfg.ID, m.time, p.clock)
	}
	p.clock = m.time
	if m.Cancelled() {
		p.stats.Cancelled++
		p.alloc.release(m)
		return
	}
	p.stats.Dispatched++
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.Tracef("[p%d %v] dispatch node=%d layer=%v protocol=%d kind=%d", p.cfg.ID, p.clock, m.Node, m.Layer, m.Protocol, m.Kind)
	}
	if m.Node == BroadcastNode {
		h, ok := p.broadcast[m.Protocol]
		if !ok {
			violate(ViolationInvalidArgument, "no broadcast handler for protocol %d on partition %d", m.Protocol, p.cfg.ID)
		}
		h.Handle(nil, m)
		return
	}
	node, ok := p.nodes[m.Node]
	if !ok {
		violate(ViolationInvalidArgument, "node %d does not live on partition %d", m.Node, p.cfg.ID)
	}
	h, ok := node.handlers[handlerKey{m.Layer, m.Protocol}]
	if !ok {
		violate(ViolationInvalidArgument, "node %d has no handler for %v protocol %d", m.Node, m.Layer, m.Protocol)
	}
	h.Handle(node, m)
}

// Finalize runs every node's finalize hooks in node-id order and marks the
// partition done.
func (p *Partition) Finalize() {
	for _, n := range p.Nodes() {
		for _, fn := range n.finalizers {
			fn(n)
		}
	}
	p.SetState(StateDone)
}

// Ingress returns the goroutine-safe injection path, or nil when disabled.
func (p *Partition) Ingress() *Ingress { return p.ingress }

func (p *Partition) drainIngress() {
	if p.ingress == nil {
		return
	}
	l := p.ingress.queue.DequeueAll()
	floor := Later(p.clock, p.horizon)
	for m := l.PopFront(); m != nil; m = l.PopFront() {
		local := p.alloc.Adopt(m)
		at := m.time
		if at < floor {
			p.warnLate.Do(func() {
				logrus.Warnf("[p%d] injected event at %v is behind the safe horizon; delivering at %v", p.cfg.ID, at, floor)
			})
			at = floor
		}
		p.ingress.alloc.Release(m)
		p.order++
		local.time = at
		local.order = p.order
		local.source = p.cfg.ID
		if local.Layer == LayerMobility {
			p.mobility.Enqueue(local)
		} else {
			p.queue.Enqueue(local)
		}
		p.stats.Injected++
	}
}
