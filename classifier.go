package tcs3200

import "sync"

// ColourChannel indexes the three colour filters of the sensor.
type ColourChannel int

// The colour channels, in the index order used by all triplet arrays.
const (
	Red ColourChannel = iota
	Green
	Blue
)

func (c ColourChannel) String() string {
	switch c {
	case Red:
		return "red"
	case Green:
		return "green"
	case Blue:
		return "blue"
	}
	return "unknown"
}

// latestReading is the last fully-committed Hz/tally triplet. The classifier
// replaces it as a whole at the commit point (the Green→Clear transition), so
// readers never observe a half-written triplet.
type latestReading struct {
	mu      sync.Mutex
	hertz   [3]float64
	tally   [3]int
	commits uint64
}

func (l *latestReading) commit(hertz [3]float64, tally [3]int) {
	l.mu.Lock()
	l.hertz = hertz
	l.tally = tally
	l.commits++
	l.mu.Unlock()
}

func (l *latestReading) snapshot() (hertz [3]float64, tally [3]int) {
	l.mu.Lock()
	hertz = l.hertz
	tally = l.tally
	l.mu.Unlock()
	return
}

func (l *latestReading) generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commits
}

// classifier demultiplexes the single shared pulse-counter line into three
// per-colour frequency measurements. Each edge is either a tick on the Out
// line or a transition on one of the filter-select lines; the (line, level)
// pair of a select transition identifies which colour's window just ended,
// because the rotation order guarantees exactly one select line changes per
// transition:
//
//	S2 falling  Clear→Red    new rotation, discard pending ticks
//	S2 rising   Blue→Green   completes Blue
//	S3 falling  Green→Clear  completes Green, commits the triplet
//	S3 rising   Red→Blue     completes Red
//
// All fields are owned by the single goroutine that calls handleEdge; only
// latest is shared with readers.
type classifier struct {
	outLine int
	s2Line  int
	s3Line  int

	cycle     int
	startTick uint32
	lastTick  uint32

	hertz [3]float64
	tally [3]int

	latest   *latestReading
	onCommit func(hertz [3]float64, tally [3]int)
}

func newClassifier(lines Lines, latest *latestReading, onCommit func([3]float64, [3]int)) *classifier {
	return &classifier{
		outLine:  lines.Out,
		s2Line:   lines.S2,
		s3Line:   lines.S3,
		latest:   latest,
		onCommit: onCommit,
	}
}

func (c *classifier) handleEdge(ev EdgeEvent) {
	switch ev.Line {
	case c.outLine:
		if c.cycle == 0 {
			c.startTick = ev.Tick
		} else {
			c.lastTick = ev.Tick
		}
		c.cycle++

	case c.s2Line:
		if ev.Level == 0 {
			// Clear→Red: the ticks seen so far belong to the unfiltered
			// window between rotations. Discard them.
			c.cycle = 0
			return
		}
		c.complete(Blue)

	case c.s3Line:
		if ev.Level == 0 {
			c.complete(Green)
			c.latest.commit(c.hertz, c.tally)
			if c.onCommit != nil {
				c.onCommit(c.hertz, c.tally)
			}
		} else {
			c.complete(Red)
		}
	}
}

// complete closes the current pulse window and attributes it to the given
// colour. A window needs at least two ticks to span a measurable interval;
// anything less, or a zero elapsed time (clock anomaly), scores zero.
func (c *classifier) complete(colour ColourChannel) {
	elapsed := tickDiff(c.startTick, c.lastTick)
	if c.cycle > 1 && elapsed > 0 {
		n := c.cycle - 1
		c.hertz[colour] = 1e6 * float64(n) / float64(elapsed)
		c.tally[colour] = n
	} else {
		c.hertz[colour] = 0
		c.tally[colour] = 0
	}
	c.cycle = 0
}
