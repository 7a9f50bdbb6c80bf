package cluster

import "fmt"

// Mode selects how partitions advance the safe-time horizon.
type Mode string

const (
	// ModeSynchronous advances barrier by barrier; runs replay deterministically.
	ModeSynchronous Mode = "synchronous"
	// ModeRealTime additionally paces barriers against the wall clock.
	ModeRealTime Mode = "real-time"
	// ModeBestEffort advances by a fixed window and delivers late events at the receiver's clock.
	ModeBestEffort Mode = "best-effort"
)

var validModes = map[Mode]bool{
	ModeSynchronous: true,
	ModeRealTime:    true,
	ModeBestEffort:  true,
}

// IsValidMode returns true if s names a synchronization mode.
func IsValidMode(s string) bool {
	return validModes[Mode(s)]
}

// BarrierName identifies a rendezvous point. Every partition must call
// the same name at the same step of the run.
type BarrierName int

const (
	BarrierInit BarrierName = iota
	BarrierWindow
	BarrierFinalize
)

func (b BarrierName) String() string {
	switch b {
	case BarrierInit:
		return "init"
	case BarrierWindow:
		return "window"
	case BarrierFinalize:
		return "finalize"
	}
	return fmt.Sprintf("BarrierName(%d)", int(b))
}
