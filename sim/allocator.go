package sim

import "sync"

// Handle addresses a message slot in an Allocator's arena.
type Handle uint32

// NilHandle terminates free lists and message lists.
const NilHandle Handle = ^Handle(0)

// AllocatorConfig controls pooling behaviour.
type AllocatorConfig struct {
	// Recycle returns released messages to a free list. When false (debug
	// mode) every message is independently heap-allocated, never reused,
	// and stays poisoned after release so stale references are caught.
	Recycle bool
	// ThreadSafe serializes Alloc and Release with a mutex. Partition pools
	// leave this off; pools shared with external goroutines turn it on.
	ThreadSafe bool
	// Capacity bounds the number of live messages; 0 means unbounded.
	// Exceeding it is fatal.
	Capacity int
}

// DefaultAllocatorConfig recycles without locking and without a bound.
func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{Recycle: true}
}

// AllocatorStats is a snapshot of allocator counters.
type AllocatorStats struct {
	Live      int
	Allocated uint64
	Recycled  uint64
	Released  uint64
}

// Allocator hands out zero-initialized messages from an arena.
// Freed slots are chained through each message's next handle. Without
// recycling a freed slot is left nil and its handle is never reused.
type Allocator struct {
	cfg   AllocatorConfig
	mu    sync.Mutex
	slots []*Message
	free  Handle
	stats AllocatorStats
}

// NewAllocator creates an empty arena.
func NewAllocator(cfg AllocatorConfig) *Allocator {
	return &Allocator{cfg: cfg, free: NilHandle}
}

// Alloc returns a zeroed message addressed to node at (layer, protocol) with
// the given kind. It never returns nil: running out of capacity is fatal.
func (a *Allocator) Alloc(node NodeID, layer Layer, protocol ProtocolID, kind EventKind) *Message {
	if a.cfg.ThreadSafe {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	m := a.take()
	m.Node = node
	m.Layer = layer
	m.Protocol = protocol
	m.Kind = kind
	m.Channel = AnyChannel
	return m
}

func (a *Allocator) take() *Message {
	if a.cfg.Capacity > 0 && a.stats.Live >= a.cfg.Capacity {
		violate(ViolationExhausted, "allocator capacity of %d messages exhausted", a.cfg.Capacity)
	}
	a.stats.Live++
	a.stats.Allocated++
	if a.cfg.Recycle && a.free != NilHandle {
		h := a.free
		m := a.slots[h]
		a.free = m.next
		*m = Message{handle: h, next: NilHandle}
		a.stats.Recycled++
		return m
	}
	h := Handle(len(a.slots))
	if h == NilHandle {
		violate(ViolationExhausted, "allocator arena exhausted")
	}
	m := &Message{handle: h, next: NilHandle}
	a.slots = append(a.slots, m)
	return m
}

// Release returns m to the pool, or poisons it in debug mode. Releasing a
// message twice, releasing a queued message, or releasing a message owned by
// another allocator is fatal.
func (a *Allocator) Release(m *Message) {
	if a.cfg.ThreadSafe {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	a.release(m)
}

func (a *Allocator) release(m *Message) {
	if m == nil {
		violate(ViolationInvalidArgument, "Release: nil message")
	}
	if m.released() {
		violate(ViolationDoubleFree, "Release: message %d released twice", m.handle)
	}
	if int(m.handle) >= len(a.slots) || a.slots[m.handle] != m {
		violate(ViolationOwnership, "Release: message %d does not belong to this allocator", m.handle)
	}
	if m.flags&flagQueued != 0 {
		violate(ViolationOwnership, "Release: message %d is still queued", m.handle)
	}
	a.stats.Live--
	a.stats.Released++
	if !a.cfg.Recycle {
		m.flags |= flagReleased | flagDestroyed
		m.buf = nil
		m.infos = nil
		a.slots[m.handle] = nil
		return
	}
	m.flags |= flagReleased
	m.next = a.free
	a.free = m.handle
}

// Duplicate returns a deep copy of m allocated from this pool. The copy has
// fresh temporal and lifecycle state.
func (a *Allocator) Duplicate(m *Message) *Message {
	m.checkLive("Duplicate")
	if a.cfg.ThreadSafe {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	dup := a.take()
	dup.copyFrom(m)
	return dup
}

// Adopt copies a message owned by another allocator into this one,
// preserving its delivery time, source and EOT escort. The caller still owns
// src and must release it to its own allocator.
func (a *Allocator) Adopt(src *Message) *Message {
	src.checkLive("Adopt")
	if a.cfg.ThreadSafe {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	m := a.take()
	m.copyFrom(src)
	m.time = src.time
	m.source = src.source
	m.eot = src.eot
	m.flags = src.flags & flagRemote
	return m
}

// resolve maps a handle back to its message.
func (a *Allocator) resolve(h Handle) *Message {
	if a.cfg.ThreadSafe {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	if h == NilHandle || int(h) >= len(a.slots) {
		return nil
	}
	return a.slots[h]
}

// Stats returns a snapshot of the counters.
func (a *Allocator) Stats() AllocatorStats {
	if a.cfg.ThreadSafe {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	return a.stats
}

// Live returns the number of messages allocated and not yet released.
func (a *Allocator) Live() int { return a.Stats().Live }
