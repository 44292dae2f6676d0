package tcs3200

import (
	"fmt"
	"sync"
	"time"
)

// SimConn is a software Conn that emulates a TCS3200 wired to the given
// lines. It watches the filter-select and output-enable activity the engine
// performs and synthesizes the pulse trains a real sensor would have
// produced: whenever a window ends, the pulses for the filter that was
// active are delivered before the select-line edge that closes the window.
// Tests and the daemon's simulated transport mode both use it.
type SimConn struct {
	mu     sync.Mutex
	lines  Lines
	cfg    SimConnConfig
	start  time.Time
	modes  map[int]PinMode
	levels map[int]Level
	subs   []*simSubscription

	outEnabled  bool
	windowStart uint32
}

// SimConnConfig sets the emulated output frequency per filter, in Hz.
// A zero frequency means no pulses for that filter (signal absent).
type SimConnConfig struct {
	RedHz   float64
	GreenHz float64
	BlueHz  float64
	ClearHz float64
}

// Cap on pulses synthesized for a single window, to bound a misconfigured
// very-high-frequency emulation.
const maxSimPulses = 1 << 17

type simSubscription struct {
	conn *SimConn
	line int
	kind EdgeKind
	ch   chan<- EdgeEvent
}

// NewSimConn creates a simulated transport for a sensor wired as lines.
func NewSimConn(lines Lines, cfg SimConnConfig) *SimConn {
	return &SimConn{
		lines:  lines,
		cfg:    cfg,
		start:  time.Now(),
		modes:  make(map[int]PinMode),
		levels: make(map[int]Level),
	}
}

// Tick returns microseconds since the connection was created.
func (c *SimConn) Tick() uint32 {
	return uint32(time.Since(c.start).Microseconds())
}

// SetMode records the line direction. Putting the Out line into input mode
// enables pulse counting, as on the real sensor.
func (c *SimConn) SetMode(line int, mode PinMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes[line] = mode
	if line == c.lines.Out && mode == ModeInput {
		c.outEnabled = true
		c.windowStart = c.Tick()
	}
	return nil
}

// GetMode reports the line direction; unconfigured lines read as inputs.
func (c *SimConn) GetMode(line int) (PinMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modes[line], nil
}

// Write drives a line. Driving Out low disables pulse output; a change on a
// select line first flushes the pulses of the window that just ended, then
// delivers the edge itself.
func (c *SimConn) Write(line int, level Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if line == c.lines.Out {
		if level == Low {
			c.flushPulses()
			c.outEnabled = false
		}
		c.levels[line] = level
		return nil
	}

	if c.levels[line] == level {
		return nil // no transition, no edge
	}
	if line == c.lines.S2 || line == c.lines.S3 {
		c.flushPulses()
	}
	c.levels[line] = level
	c.deliver(line, level, c.Tick())
	return nil
}

// Subscribe registers an edge watch delivering to events.
func (c *SimConn) Subscribe(line int, kind EdgeKind, events chan<- EdgeEvent) (Subscription, error) {
	if events == nil {
		return nil, fmt.Errorf("nil events channel")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &simSubscription{conn: c, line: line, kind: kind, ch: events}
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (sub *simSubscription) Cancel() error {
	c := sub.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.subs {
		if other == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	return nil
}

// Level reports the last written level of a line. Test helper.
func (c *SimConn) Level(line int) Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levels[line]
}

// activeFilter decodes the current S2/S3 levels. Callers hold c.mu.
func (c *SimConn) activeFilter() FilterState {
	s2 := c.levels[c.lines.S2]
	s3 := c.levels[c.lines.S3]
	for f, levels := range filterLevels {
		if levels[0] == s2 && levels[1] == s3 {
			return FilterState(f)
		}
	}
	return FilterClear
}

func (c *SimConn) filterHz(f FilterState) float64 {
	switch f {
	case FilterRed:
		return c.cfg.RedHz
	case FilterGreen:
		return c.cfg.GreenHz
	case FilterBlue:
		return c.cfg.BlueHz
	}
	return c.cfg.ClearHz
}

// flushPulses synthesizes the pulse train for the window ending now and
// starts the next window. Callers hold c.mu.
func (c *SimConn) flushPulses() {
	if !c.outEnabled {
		return
	}
	now := c.Tick()
	hz := c.filterHz(c.activeFilter())
	startTick := c.windowStart
	c.windowStart = now
	if hz <= 0 {
		return
	}
	period := uint32(1e6 / hz)
	if period == 0 {
		period = 1
	}
	n := int(tickDiff(startTick, now)/period) + 1
	if n > maxSimPulses {
		n = maxSimPulses
	}
	for i := 0; i < n; i++ {
		c.deliver(c.lines.Out, High, startTick+uint32(i)*period)
	}
}

// deliver sends an edge to every matching subscription. Callers hold c.mu;
// the destination channels are unbounded queues, so sends do not stall.
func (c *SimConn) deliver(line int, level Level, tick uint32) {
	for _, sub := range c.subs {
		if sub.line != line {
			continue
		}
		if sub.kind == RisingEdge && level != High {
			continue
		}
		sub.ch <- EdgeEvent{Line: line, Level: uint8(level), Tick: tick}
	}
}
