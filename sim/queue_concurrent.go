package sim

import "sync"

// ConcurrentQueue is the goroutine-safe EventQueue variant. Any number of
// producers may Enqueue while the owning partition dequeues. Producers
// racing in real time get no relative ordering guarantee beyond the
// (time, natural-order) order once both messages are enqueued.
type ConcurrentQueue struct {
	mu    sync.Mutex
	q     *EventQueue
	order uint64
}

// NewConcurrentQueue creates an empty queue over arena, which must itself be
// a ThreadSafe allocator if producers allocate from it concurrently.
func NewConcurrentQueue(arena *Allocator) *ConcurrentQueue {
	return &ConcurrentQueue{q: NewEventQueue(arena)}
}

// Enqueue stamps m with the queue's own natural order and inserts it.
func (c *ConcurrentQueue) Enqueue(m *Message, at Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order++
	m.time = at
	m.order = c.order
	c.q.Enqueue(m)
}

// DequeueEarliest removes and returns the minimum message, or nil.
func (c *ConcurrentQueue) DequeueEarliest() *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.DequeueEarliest()
}

// DequeueAll atomically detaches the whole queue.
func (c *ConcurrentQueue) DequeueAll() *List {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.DequeueAll()
}

// EarliestTime returns the minimum pending time, or Infinity.
func (c *ConcurrentQueue) EarliestTime() Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.EarliestTime()
}

// Len returns the number of pending messages.
func (c *ConcurrentQueue) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.Len()
}
