package cluster

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrBarrierTimeout is returned when a peer does not reach a barrier in time.
	ErrBarrierTimeout = errors.New("barrier timeout")
	// ErrBarrierMismatch is returned when partitions call different barriers.
	ErrBarrierMismatch = errors.New("barrier name mismatch")
	// ErrAborted is returned to parties released by an abort raised elsewhere.
	ErrAborted = errors.New("run aborted")
)

// Barrier is a reusable named rendezvous for a fixed number of parties.
// The last party to arrive runs the aggregation step before anyone is
// released, so the step runs exactly once per generation while every other
// party is parked.
type Barrier struct {
	parties int
	timeout time.Duration
	greedy  bool
	clock   clock.Clock

	mu       sync.Mutex
	gen      uint64
	arrived  int
	complete bool
	name     BarrierName
	release  chan struct{}

	abortOnce sync.Once
	aborted   chan struct{}
	err       error
}

// NewBarrier creates a barrier for parties participants. A greedy barrier
// spin-waits with runtime.Gosched instead of blocking.
func NewBarrier(parties int, timeout time.Duration, greedy bool, clk clock.Clock) *Barrier {
	if parties < 1 {
		panic(fmt.Sprintf("NewBarrier: parties must be >= 1, got %d", parties))
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Barrier{
		parties: parties,
		timeout: timeout,
		greedy:  greedy,
		clock:   clk,
		release: make(chan struct{}),
		aborted: make(chan struct{}),
	}
}

// Wait blocks until every party has called Wait with the same name. The
// last arrival runs step; a non-nil error from step aborts the barrier.
func (b *Barrier) Wait(name BarrierName, step func() error) error {
	b.mu.Lock()
	if err := b.abortErrLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	if b.arrived == 0 {
		b.name = name
	} else if b.name != name {
		b.mu.Unlock()
		err := fmt.Errorf("%w: %v called while peers wait at %v", ErrBarrierMismatch, name, b.name)
		b.Abort(err)
		return err
	}
	b.arrived++
	gen, release := b.gen, b.release
	if b.arrived < b.parties {
		b.mu.Unlock()
		return b.await(gen, release)
	}
	b.complete = true
	b.mu.Unlock()

	if step != nil {
		if err := step(); err != nil {
			b.Abort(err)
			return err
		}
	}

	b.mu.Lock()
	b.arrived = 0
	b.complete = false
	b.gen++
	b.release = make(chan struct{})
	b.mu.Unlock()
	close(release)
	return nil
}

func (b *Barrier) await(gen uint64, release chan struct{}) error {
	start := b.clock.Now()
	if b.greedy {
		for {
			select {
			case <-release:
				return nil
			case <-b.aborted:
				return b.abortErr()
			default:
			}
			if b.clock.Since(start) > b.timeout && b.expire(gen) {
				return b.abortErr()
			}
			runtime.Gosched()
		}
	}

	timer := b.clock.Timer(b.timeout)
	defer timer.Stop()
	for {
		select {
		case <-release:
			return nil
		case <-b.aborted:
			return b.abortErr()
		case <-timer.C:
			if b.expire(gen) {
				return b.abortErr()
			}
			// Every party arrived; the step may take as long as it needs.
			select {
			case <-release:
				return nil
			case <-b.aborted:
				return b.abortErr()
			}
		}
	}
}

// expire aborts the barrier with a timeout if generation gen is still
// waiting for peers. It returns false once all parties have arrived.
func (b *Barrier) expire(gen uint64) bool {
	b.mu.Lock()
	if b.gen != gen || b.complete {
		b.mu.Unlock()
		return false
	}
	arrived, name := b.arrived, b.name
	b.mu.Unlock()
	b.Abort(fmt.Errorf("%w: %d of %d partitions reached %v within %v", ErrBarrierTimeout, arrived, b.parties, name, b.timeout))
	return true
}

// Abort releases every waiting party with err. Only the first abort's error
// is kept.
func (b *Barrier) Abort(err error) {
	if err == nil {
		err = ErrAborted
	}
	b.abortOnce.Do(func() {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		close(b.aborted)
	})
}

// Aborted returns a channel that is closed by the first Abort.
func (b *Barrier) Aborted() <-chan struct{} { return b.aborted }

// Err returns the abort error, or nil.
func (b *Barrier) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Barrier) abortErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.abortErrLocked()
}

func (b *Barrier) abortErrLocked() error {
	if b.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAborted, b.err)
}
