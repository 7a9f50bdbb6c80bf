package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// requireViolation runs fn and asserts that it panics with a
// ContractViolation of the given kind.
func requireViolation(t *testing.T, kind ViolationKind, fn func()) *ContractViolation {
	t.Helper()
	var got *ContractViolation
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r, "expected a %s violation, got none", kind)
			err, ok := r.(error)
			require.True(t, ok, "panic payload %v is not an error", r)
			require.True(t, errors.As(err, &got), "panic payload %v is not a ContractViolation", r)
		}()
		fn()
	}()
	require.Equal(t, kind, got.Kind, got.Error())
	require.NotEmpty(t, got.Site)
	return got
}

// newTestPartition builds a single partition with recycling on.
func newTestPartition(t *testing.T, cfg PartitionConfig) *Partition {
	t.Helper()
	if cfg.Count == 0 {
		cfg.Count = 1
	}
	if cfg.Allocator == (AllocatorConfig{}) {
		cfg.Allocator = DefaultAllocatorConfig()
	}
	return NewPartition(cfg)
}

// recorder is a handler that remembers what it saw and frees each message.
type recorder struct {
	times  []Time
	orders []uint64
	kinds  []EventKind
}

func (r *recorder) Handle(node *Node, msg *Message) {
	r.times = append(r.times, msg.Time())
	r.orders = append(r.orders, msg.Order())
	r.kinds = append(r.kinds, msg.Kind)
	node.Free(msg)
}
