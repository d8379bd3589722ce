package dispatch

import "github.com/san-kum/stepd/internal/unit"

type Mode int

const (
	ModeNone Mode = iota
	ModeTest
	ModeDynamics
	ModeRun
	ModeSweep
)

func (m Mode) String() string {
	switch m {
	case ModeTest:
		return "test"
	case ModeDynamics:
		return "dynamics"
	case ModeRun:
		return "run"
	case ModeSweep:
		return "sweep"
	default:
		return "none"
	}
}

// Streams reports whether the mode may emit dynamics events.
func (m Mode) Streams() bool {
	return m == ModeDynamics || m == ModeRun
}

// SelectMode picks the execution mode in priority order: test marker, step
// capability without a sweep, plain run, sweep.
func SelectMode(req *Request, h *unit.Handle) Mode {
	switch {
	case req.FixedParams.Truthy("test"):
		return ModeTest
	case !req.IsSweep() && h.CanStep():
		return ModeDynamics
	case !req.IsSweep():
		return ModeRun
	default:
		return ModeSweep
	}
}
