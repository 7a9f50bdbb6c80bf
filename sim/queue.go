// Implements the EventQueue, which holds every message pending delivery on a
// partition, ordered by (time, natural order).

package sim

import (
	"container/heap"
	"sort"
)

// messageHeap implements heap.Interface over the (time, natural-order) order.
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-IntHeap
type messageHeap []*Message

func (h messageHeap) Len() int           { return len(h) }
func (h messageHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h messageHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) {
	*h = append(*h, x.(*Message))
}

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// EventQueue is the pending-message set of one partition. It exclusively
// owns every message between Enqueue and its removal.
// Not goroutine-safe; see ConcurrentQueue.
type EventQueue struct {
	arena *Allocator
	items messageHeap
}

// NewEventQueue creates an empty queue whose DequeueAll lists are linked
// through arena's handles.
func NewEventQueue(arena *Allocator) *EventQueue {
	return &EventQueue{arena: arena}
}

// Enqueue inserts m. The message's time and natural order must already be
// set; a message may be in at most one queue.
func (q *EventQueue) Enqueue(m *Message) {
	m.checkLive("Enqueue")
	if m.flags&flagQueued != 0 {
		violate(ViolationOwnership, "Enqueue: message %d is already queued", m.handle)
	}
	m.flags |= flagQueued
	heap.Push(&q.items, m)
}

// DequeueEarliest removes and returns the minimum message, or nil if empty.
func (q *EventQueue) DequeueEarliest() *Message {
	if len(q.items) == 0 {
		return nil
	}
	m := heap.Pop(&q.items).(*Message)
	m.flags &^= flagQueued
	return m
}

// Peek returns the minimum message without removing it.
func (q *EventQueue) Peek() *Message {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// EarliestTime returns the minimum pending delivery time, or Infinity.
func (q *EventQueue) EarliestTime() Time {
	if len(q.items) == 0 {
		return Infinity
	}
	return q.items[0].time
}

// Len returns the number of pending messages.
func (q *EventQueue) Len() int { return len(q.items) }

// DequeueAll detaches every pending message as a list in (time, natural
// order) order, leaving the queue empty. Returns an empty list if the queue
// was empty.
func (q *EventQueue) DequeueAll() *List {
	items := q.items
	q.items = nil
	sort.Slice(items, func(i, j int) bool { return items[i].before(items[j]) })
	l := &List{arena: q.arena, head: NilHandle, tail: NilHandle}
	for _, m := range items {
		m.flags &^= flagQueued
		l.PushBack(m)
	}
	return l
}

// List is a singly linked sequence of messages chained through their next
// handles. Splicing a message onto a list is O(1).
type List struct {
	arena *Allocator
	head  Handle
	tail  Handle
	n     int
}

// NewList creates an empty list over arena.
func NewList(arena *Allocator) *List {
	return &List{arena: arena, head: NilHandle, tail: NilHandle}
}

// PushBack appends m, which must belong to the list's arena.
func (l *List) PushBack(m *Message) {
	if l.arena.resolve(m.handle) != m {
		violate(ViolationOwnership, "List.PushBack: message %d belongs to another allocator", m.handle)
	}
	m.next = NilHandle
	if l.tail == NilHandle {
		l.head = m.handle
	} else {
		l.arena.resolve(l.tail).next = m.handle
	}
	l.tail = m.handle
	l.n++
}

// PopFront removes and returns the first message, or nil.
func (l *List) PopFront() *Message {
	if l.head == NilHandle {
		return nil
	}
	m := l.arena.resolve(l.head)
	l.head = m.next
	if l.head == NilHandle {
		l.tail = NilHandle
	}
	m.next = NilHandle
	l.n--
	return m
}

// Len returns the number of messages on the list.
func (l *List) Len() int { return l.n }

// Each calls fn for every message in order without detaching them.
func (l *List) Each(fn func(*Message)) {
	for h := l.head; h != NilHandle; {
		m := l.arena.resolve(h)
		h = m.next
		fn(m)
	}
}
