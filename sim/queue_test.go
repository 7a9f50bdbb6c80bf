package sim

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueueAt(a *Allocator, q *EventQueue, at Time, order uint64) *Message {
	m := a.Alloc(1, LayerApp, 1, EventKind(order))
	m.time = at
	m.order = order
	q.Enqueue(m)
	return m
}

func TestEventQueue_TimestampThenNaturalOrder(t *testing.T) {
	a := NewAllocator(DefaultAllocatorConfig())
	q := NewEventQueue(a)

	enqueueAt(a, q, 100, 1)
	enqueueAt(a, q, 50, 2)
	enqueueAt(a, q, 100, 3)
	enqueueAt(a, q, 50, 4)
	enqueueAt(a, q, 150, 5)

	assert.Equal(t, Time(50), q.EarliestTime())

	var got []EventKind
	for m := q.DequeueEarliest(); m != nil; m = q.DequeueEarliest() {
		got = append(got, m.Kind)
	}
	assert.Equal(t, []EventKind{2, 4, 1, 3, 5}, got)
}

func TestEventQueue_EmptyQueue(t *testing.T) {
	q := NewEventQueue(NewAllocator(DefaultAllocatorConfig()))
	assert.Equal(t, Infinity, q.EarliestTime())
	assert.Nil(t, q.DequeueEarliest())
	assert.Nil(t, q.Peek())
	assert.Equal(t, 0, q.DequeueAll().Len())
}

func TestEventQueue_DoubleEnqueueIsFatal(t *testing.T) {
	a := NewAllocator(DefaultAllocatorConfig())
	q1 := NewEventQueue(a)
	q2 := NewEventQueue(a)
	m := enqueueAt(a, q1, 10, 1)
	requireViolation(t, ViolationOwnership, func() { q2.Enqueue(m) })
}

func TestEventQueue_DequeueAllDetachesInOrder(t *testing.T) {
	a := NewAllocator(DefaultAllocatorConfig())
	q := NewEventQueue(a)
	enqueueAt(a, q, 30, 1)
	enqueueAt(a, q, 10, 2)
	enqueueAt(a, q, 20, 3)

	l := q.DequeueAll()
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, Infinity, q.EarliestTime())
	require.Equal(t, 3, l.Len())

	var times []Time
	l.Each(func(m *Message) { times = append(times, m.Time()) })
	assert.Equal(t, []Time{10, 20, 30}, times)

	first := l.PopFront()
	assert.Equal(t, Time(10), first.Time())
	assert.NotPanics(t, func() { a.Release(first) }, "detached messages belong to the caller")
	assert.Equal(t, 2, l.Len())
}

func TestList_ForeignMessageIsFatal(t *testing.T) {
	a := NewAllocator(DefaultAllocatorConfig())
	b := NewAllocator(DefaultAllocatorConfig())
	l := NewList(a)
	b.Alloc(1, LayerApp, 1, 0)
	m := b.Alloc(1, LayerApp, 1, 0)
	requireViolation(t, ViolationOwnership, func() { l.PushBack(m) })
}

func TestConcurrentQueue_ConcurrentProducers(t *testing.T) {
	a := NewAllocator(AllocatorConfig{Recycle: true, ThreadSafe: true})
	q := NewConcurrentQueue(a)

	const producers, perProducer = 4, 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				m := a.Alloc(NodeID(p), LayerApp, 1, 0)
				q.Enqueue(m, Time((i*7+p*13)%100))
			}
		}(p)
	}

	// Consumer races the producers.
	var drained []*Message
	for len(drained) < producers*perProducer/2 {
		if m := q.DequeueEarliest(); m != nil {
			drained = append(drained, m)
		}
	}
	wg.Wait()

	rest := q.DequeueAll()
	rest.Each(func(m *Message) { drained = append(drained, m) })
	assert.Len(t, drained, producers*perProducer)
	assert.Equal(t, 0, q.Len())

	// The detached remainder is itself ordered.
	var prev *Message
	rest.Each(func(m *Message) {
		if prev != nil {
			assert.True(t, prev.before(m))
		}
		prev = m
	})
}
