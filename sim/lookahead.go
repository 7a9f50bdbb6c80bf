package sim

import (
	"container/heap"
	"fmt"
)

// LookaheadHandle is one protocol instance's commitment not to originate a
// cross-partition message sooner than its EOT. It tracks its own heap slot
// so updates and removal are O(log n).
type LookaheadHandle struct {
	eot   Time
	index int
	// fallback marks a handle whose protocol could not supply a precise EOT
	// and is held at the partition's minimum lookahead instead.
	fallback bool
}

// EOT returns the current commitment.
func (h *LookaheadHandle) EOT() Time { return h.eot }

// Active reports whether the handle is still registered.
func (h *LookaheadHandle) Active() bool { return h.index >= 0 }

// Fallback reports whether the handle is held at the minimum lookahead.
func (h *LookaheadHandle) Fallback() bool { return h.fallback }

// commitmentHeap implements heap.Interface, keeping each handle's index in
// step with every swap.
type commitmentHeap []*LookaheadHandle

func (h commitmentHeap) Len() int           { return len(h) }
func (h commitmentHeap) Less(i, j int) bool { return h[i].eot < h[j].eot }
func (h commitmentHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *commitmentHeap) Push(x any) {
	e := x.(*LookaheadHandle)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *commitmentHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// LookaheadTracker is a partition-private min-heap of lookahead commitments.
type LookaheadTracker struct {
	h commitmentHeap
	// verify runs the O(n) consistency scan after every mutation.
	verify bool
}

// NewLookaheadTracker creates an empty tracker. With verify set, every
// mutation is followed by a full heap and back-pointer consistency check.
func NewLookaheadTracker(verify bool) *LookaheadTracker {
	return &LookaheadTracker{verify: verify}
}

// Register inserts a new commitment and returns its handle.
func (t *LookaheadTracker) Register(eot Time) *LookaheadHandle {
	h := &LookaheadHandle{eot: eot}
	heap.Push(&t.h, h)
	t.check()
	return h
}

// Update changes a handle's commitment and restores the heap from its slot.
func (t *LookaheadTracker) Update(h *LookaheadHandle, eot Time) {
	t.owned("Update", h)
	h.eot = eot
	h.fallback = false
	heap.Fix(&t.h, h.index)
	t.check()
}

// updateFallback holds h at the supplied minimum lookahead.
func (t *LookaheadTracker) updateFallback(h *LookaheadHandle, eot Time) {
	t.Update(h, eot)
	h.fallback = true
}

// Remove deletes the handle's commitment; the handle becomes inactive.
func (t *LookaheadTracker) Remove(h *LookaheadHandle) {
	t.owned("Remove", h)
	heap.Remove(&t.h, h.index)
	t.check()
}

// Minimum returns the smallest commitment, or Infinity if none is registered.
func (t *LookaheadTracker) Minimum() Time {
	if len(t.h) == 0 {
		return Infinity
	}
	return t.h[0].eot
}

// Len returns the number of registered handles.
func (t *LookaheadTracker) Len() int { return len(t.h) }

// Verify runs the consistency scan and returns the first inconsistency found.
func (t *LookaheadTracker) Verify() error {
	for i, h := range t.h {
		if h.index != i {
			return fmt.Errorf("handle at slot %d records slot %d", i, h.index)
		}
		if i > 0 {
			parent := (i - 1) / 2
			if t.h[parent].eot > h.eot {
				return fmt.Errorf("slot %d (eot %d) is below its parent slot %d (eot %d)", i, h.eot, parent, t.h[parent].eot)
			}
		}
	}
	return nil
}

func (t *LookaheadTracker) owned(op string, h *LookaheadHandle) {
	if h == nil || h.index < 0 || h.index >= len(t.h) || t.h[h.index] != h {
		violate(ViolationInvalidArgument, "LookaheadTracker.%s: handle is not registered here", op)
	}
}

func (t *LookaheadTracker) check() {
	if !t.verify {
		return
	}
	if err := t.Verify(); err != nil {
		violate(ViolationInvalidArgument, "lookahead heap corrupted: %v", err)
	}
}
