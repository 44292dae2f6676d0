package tcs3200

// The GPIO transport abstraction. The sensor engine never touches hardware
// directly: it configures lines, writes levels, and subscribes to edges
// through a Conn. A pigpio-style daemon connection, a memory-mapped driver,
// or the simulated transport in sim_gpio.go can all sit behind it.

import (
	"github.com/CedricGoby/rpi-tcs3200/internal/edgequeue"
)

// PinMode is the direction of a GPIO line.
type PinMode int

// The line modes the engine gets, sets, and restores.
const (
	ModeInput PinMode = iota
	ModeOutput
)

func (m PinMode) String() string {
	if m == ModeInput {
		return "input"
	}
	return "output"
}

// Level is the logic level of a GPIO line.
type Level uint8

// Logic levels.
const (
	Low  Level = 0
	High Level = 1
)

// EdgeKind selects which transitions a subscription reports.
type EdgeKind int

// Edge kinds. The pulse-counter line is watched for rising edges only; the
// filter-select lines are watched for either edge.
const (
	RisingEdge EdgeKind = iota
	EitherEdge
)

// EdgeEvent is one observed transition on a monitored line, tagged with the
// line number, the new level, and a microsecond tick.
type EdgeEvent = edgequeue.Event

// Subscription is a registered edge watch that can be cancelled.
type Subscription interface {
	Cancel() error
}

// Conn is the connection to a GPIO transport. All calls are assumed
// non-blocking; a failed call returns an error and is never retried here.
type Conn interface {
	// SetMode sets the direction of a line.
	SetMode(line int, mode PinMode) error
	// GetMode reports the current direction of a line.
	GetMode(line int) (PinMode, error)
	// Write drives an output line to the given level.
	Write(line int, level Level) error
	// Subscribe delivers future edges on the line to the events channel.
	// The send must be performed on the transport's own execution context
	// and must not be assumed to run on any engine goroutine.
	Subscribe(line int, kind EdgeKind, events chan<- EdgeEvent) (Subscription, error)
	// Tick returns a monotonic microsecond counter. It wraps around every
	// ~72 minutes, which tickDiff accounts for.
	Tick() uint32
}

// NoLine marks an optional line as unassigned.
const NoLine = -1

// Lines assigns GPIO line numbers to the sensor pins. Out, S2 and S3 are
// required. S0/S1 (frequency scaling) and OE (output enable) are optional;
// set them to NoLine when not wired.
type Lines struct {
	Out int // frequency output (the shared pulse-counter line)
	S2  int // colour filter select
	S3  int // colour filter select
	S0  int // frequency scale select
	S1  int // frequency scale select
	OE  int // output enable, active low
}

// DefaultLines is the wiring described in the sensor documentation,
// in BCM numbering.
var DefaultLines = Lines{Out: 24, S2: 22, S3: 23, S0: 4, S1: 17, OE: 18}

// tickDiff returns the microseconds elapsed from tick t0 to tick t1,
// correct across a single wraparound of the 32-bit counter.
func tickDiff(t0, t1 uint32) uint32 {
	return t1 - t0
}
