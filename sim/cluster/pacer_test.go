package cluster

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/partsim/partsim/sim"
	"github.com/stretchr/testify/assert"
)

func TestPacer_CapsHorizonAtWallTimePlusQuantum(t *testing.T) {
	mock := clock.NewMock()
	p := newPacer(mock, 1.0, 10*sim.Millisecond)

	assert.Equal(t, 5*sim.Millisecond, p.pace(0, 5*sim.Millisecond), "candidates within the quantum pass through")
	assert.Equal(t, 10*sim.Millisecond, p.pace(0, sim.Second))

	mock.Add(25 * time.Millisecond)
	assert.Equal(t, 35*sim.Millisecond, p.pace(10*sim.Millisecond, sim.Infinity))
}

func TestPacer_ScaleStretchesSimulatedTime(t *testing.T) {
	mock := clock.NewMock()
	p := newPacer(mock, 2.0, sim.Millisecond)
	mock.Add(10 * time.Millisecond)
	assert.Equal(t, 21*sim.Millisecond, p.pace(0, sim.Second))
	assert.Equal(t, 500*time.Microsecond, p.wallQuantum())
}

func TestPacer_SleepsWhenAheadOfWallClock(t *testing.T) {
	mock := clock.NewMock()
	p := newPacer(mock, 1.0, 10*sim.Millisecond)

	done := make(chan sim.Time, 1)
	go func() { done <- p.pace(10*sim.Millisecond, sim.Second) }()

	var got sim.Time
wait:
	for {
		select {
		case got = <-done:
			break wait
		default:
			mock.Add(time.Millisecond)
		}
	}
	assert.Greater(t, got, 10*sim.Millisecond)
	assert.LessOrEqual(t, got, p.now().Add(10*sim.Millisecond))
}

func TestPacer_StalledCandidateReturnsImmediately(t *testing.T) {
	p := newPacer(clock.NewMock(), 1.0, sim.Millisecond)
	assert.Equal(t, 50*sim.Millisecond, p.pace(50*sim.Millisecond, 50*sim.Millisecond))
}
