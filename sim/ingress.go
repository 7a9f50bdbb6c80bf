package sim

// Ingress accepts events from goroutines outside the partition, such as a
// real-time bridge. It has its own thread-safe pool; the partition copies
// each injected message into its private pool when it drains the queue at
// the start of a window and before reporting at a barrier.
type Ingress struct {
	alloc *Allocator
	queue *ConcurrentQueue
}

func newIngress(p *Partition) *Ingress {
	cfg := p.cfg.Allocator
	cfg.ThreadSafe = true
	alloc := NewAllocator(cfg)
	return &Ingress{alloc: alloc, queue: NewConcurrentQueue(alloc)}
}

// Alloc returns a zeroed message for node. Safe for concurrent use.
func (in *Ingress) Alloc(node NodeID, layer Layer, protocol ProtocolID, kind EventKind) *Message {
	return in.alloc.Alloc(node, layer, protocol, kind)
}

// Inject queues m for delivery at the given time. Events behind the
// partition's safe horizon are delivered at the horizon.
func (in *Ingress) Inject(m *Message, at Time) {
	in.queue.Enqueue(m, at)
}

// Pending returns the number of injected events not yet drained.
func (in *Ingress) Pending() int { return in.queue.Len() }
