package sim

import "math/rand"

// Handler receives a dispatched message. The handler owns msg and must
// either Free it or hand it back to the kernel with a send. node is nil for
// partition-wide broadcasts.
type Handler interface {
	Handle(node *Node, msg *Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(node *Node, msg *Message)

// Handle calls f(node, msg).
func (f HandlerFunc) Handle(node *Node, msg *Message) { f(node, msg) }

type handlerKey struct {
	layer    Layer
	protocol ProtocolID
}

// Node is a simulated entity living on one partition. It is the owner
// argument of every protocol-facing kernel call.
type Node struct {
	ID         NodeID
	partition  *Partition
	handlers   map[handlerKey]Handler
	finalizers []func(*Node)
}

// Register installs the handler for messages addressed to (layer, protocol).
func (n *Node) Register(layer Layer, protocol ProtocolID, h Handler) {
	if h == nil {
		panic("Register: handler must not be nil")
	}
	n.handlers[handlerKey{layer, protocol}] = h
}

// OnFinalize adds a hook run once when the simulation ends.
func (n *Node) OnFinalize(fn func(*Node)) {
	n.finalizers = append(n.finalizers, fn)
}

// Partition returns the partition the node lives on.
func (n *Node) Partition() *Partition { return n.partition }

// Now returns the current simulation time on the node's partition.
func (n *Node) Now() Time { return n.partition.clock }

// RNG returns the node's private random stream. It is derived from the
// simulation seed and the node id only, so it does not depend on placement.
func (n *Node) RNG() *rand.Rand {
	return n.partition.rng.Stream(n.ID)
}

// Alloc returns a zeroed message addressed to this node.
func (n *Node) Alloc(layer Layer, protocol ProtocolID, kind EventKind) *Message {
	return n.partition.alloc.Alloc(n.ID, layer, protocol, kind)
}

// Send schedules msg for delivery delay from now to msg.Node, which must
// live on the same partition.
func (n *Node) Send(msg *Message, delay Time) {
	n.partition.send(msg, delay)
}

// RemoteSend schedules msg for node dest, which may live on any partition.
// Cross-partition messages are buffered until the next barrier exchange.
func (n *Node) RemoteSend(dest NodeID, msg *Message, delay Time) {
	n.partition.remoteSend(dest, msg, delay)
}

// Broadcast delivers a copy of msg to every other partition's broadcast
// handler for msg.Protocol.
func (n *Node) Broadcast(msg *Message, delay Time) {
	n.partition.broadcastSend(msg, delay)
}

// Free releases msg to the partition pool.
func (n *Node) Free(msg *Message) {
	n.partition.alloc.Release(msg)
}

// Duplicate returns a deep copy of msg owned by the caller.
func (n *Node) Duplicate(msg *Message) *Message {
	return n.partition.alloc.Duplicate(msg)
}

// Cancel drops a queued self timer: the dispatcher releases it instead of
// delivering it. Cross-partition messages cannot be cancelled.
func (n *Node) Cancel(msg *Message) {
	n.partition.cancel(n.ID, msg)
}

// AllocateLookaheadHandle registers a commitment for this node's protocol
// instance, initially at the partition's minimum lookahead (zero if unset).
func (n *Node) AllocateLookaheadHandle() *LookaheadHandle {
	initial := n.partition.minLookahead
	if initial == Infinity {
		initial = 0
	}
	return n.partition.tracker.Register(initial)
}

// SetLookaheadHandleEOT updates a commitment. A negative eot means the
// protocol cannot supply one; the handle then falls back to the minimum
// lookahead.
func (n *Node) SetLookaheadHandleEOT(h *LookaheadHandle, eot Time) {
	n.partition.setHandleEOT(h, eot)
}

// RemoveLookaheadHandle withdraws a commitment.
func (n *Node) RemoveLookaheadHandle(h *LookaheadHandle) {
	n.partition.tracker.Remove(h)
}

// SetMinimumLookahead lowers the partition's minimum lookahead to delta if
// delta is smaller than the current value.
func (n *Node) SetMinimumLookahead(delta Time) {
	n.partition.setMinimumLookahead(delta)
}
