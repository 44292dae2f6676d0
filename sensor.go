package tcs3200

import (
	"fmt"
	"sync"
	"time"

	"github.com/CedricGoby/rpi-tcs3200/internal/edgequeue"
)

// SensorState is the lifecycle state of the acquisition engine.
type SensorState int

// Names for the possible values of SensorState.
const (
	Idle      SensorState = iota // constructed, hardware not yet enabled
	Running                      // rotation loop active
	Paused                       // loop alive but skipping rotations
	Cancelled                    // terminal; hardware restored
)

func (s SensorState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Cancelled:
		return "Cancelled"
	}
	return "unknown"
}

// Sample-size and interval bounds.
const (
	minSampleSize = 10
	maxSampleSize = 100
	minInterval   = 0.1 // seconds between rotations
	maxInterval   = 2.0 // exclusive
	pausePoll     = 100 * time.Millisecond
)

// Reading is one committed colour measurement.
type Reading struct {
	Time  time.Time
	RGB   [3]float64
	Hertz [3]float64
	Tally [3]int
}

// Sensor measures the colour of an object with a TCS3200: it rotates the
// colour filters, counts edges of the frequency output, and converts the
// measured frequencies to calibrated RGB. Construct with NewSensor, then
// Start with the line assignment; all methods are safe for concurrent use.
type Sensor struct {
	conn  Conn
	lines Lines

	stateLock sync.Mutex
	state     SensorState
	abort     chan struct{}
	runDone   sync.WaitGroup

	configLock sync.Mutex
	samples    int        // pulse-count goal per channel
	interval   float64    // seconds between rotations
	scale      int        // frequency scaling code, 0..3
	dwell      [3]float64 // seconds per colour window

	savedModes map[int]PinMode
	subs       []Subscription
	events     *edgequeue.Queue
	cls        *classifier

	latest   *latestReading
	cal      *Calibration
	recorder *Recorder
	readings chan<- Reading // optional fan-out of committed readings
}

// NewSensor creates an idle Sensor on the given transport. Committed
// readings are also sent (without blocking) to the readings channel when one
// is supplied.
func NewSensor(conn Conn, readings chan<- Reading) *Sensor {
	s := &Sensor{
		conn:     conn,
		samples:  20,
		interval: 1.0,
		scale:    3, // 100% frequency scaling
		latest:   new(latestReading),
		cal:      NewCalibration(),
		recorder: new(Recorder),
		readings: readings,
	}
	for i := range s.dwell {
		s.dwell[i] = initialDwell
	}
	return s
}

// Start enables the hardware and begins the acquisition loop. The prior mode
// of every line it reconfigures is saved, to be restored by Cancel. Valid
// only in the Idle state.
func (s *Sensor) Start(lines Lines) error {
	if lines.Out < 0 || lines.S2 < 0 || lines.S3 < 0 {
		return fmt.Errorf("sensor requires Out, S2 and S3 line assignments, got %+v", lines)
	}
	if (lines.S0 < 0) != (lines.S1 < 0) {
		return fmt.Errorf("frequency scaling requires both S0 and S1, got S0=%d S1=%d", lines.S0, lines.S1)
	}

	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state != Idle {
		return fmt.Errorf("cannot start sensor in state %v, must be Idle", s.state)
	}
	s.lines = lines

	if err := s.saveModes(); err != nil {
		return err
	}

	// Quiet the frequency output, then claim the control lines. Any failure
	// here hands back the modes already changed.
	if err := s.claimLines(); err != nil {
		s.restoreModes()
		return err
	}

	// Subscriptions are registered only after the filter lines are parked on
	// Clear, so the first transition the classifier sees is Clear→Red.
	s.events = edgequeue.NewQueue()
	s.cls = newClassifier(lines, s.latest, s.publishCommit)
	watches := []struct {
		line int
		kind EdgeKind
	}{
		{lines.Out, RisingEdge},
		{lines.S2, EitherEdge},
		{lines.S3, EitherEdge},
	}
	for _, w := range watches {
		sub, err := s.conn.Subscribe(w.line, w.kind, s.events.In())
		if err != nil {
			s.cancelSubscriptions()
			s.restoreModes()
			return fmt.Errorf("subscribing to edges on line %d: %v", w.line, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.abort = make(chan struct{})
	go s.consumeEdges()
	s.runDone.Add(1)
	go s.runLoop()
	s.state = Running
	return nil
}

// Pause suspends rotations without releasing the hardware. No-op when
// already paused.
func (s *Sensor) Pause() error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	switch s.state {
	case Running:
		s.state = Paused
		return nil
	case Paused:
		return nil
	}
	return fmt.Errorf("cannot pause sensor in state %v", s.state)
}

// Resume restarts rotations after a Pause. No-op when already running.
func (s *Sensor) Resume() error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	switch s.state {
	case Paused:
		s.state = Running
		return nil
	case Running:
		return nil
	}
	return fmt.Errorf("cannot resume sensor in state %v", s.state)
}

// Cancel stops the acquisition loop, cancels the edge subscriptions, switches
// frequency scaling off, parks the filter on Clear, and restores every line
// to its pre-Start mode. Idempotent: a second Cancel is a no-op.
func (s *Sensor) Cancel() error {
	s.stateLock.Lock()
	if s.state == Cancelled {
		s.stateLock.Unlock()
		return nil
	}
	started := s.state == Running || s.state == Paused
	s.state = Cancelled
	if s.abort != nil {
		closeIfOpen(s.abort)
	}
	s.stateLock.Unlock()

	if !started {
		return nil
	}
	s.runDone.Wait()
	s.cancelSubscriptions()
	close(s.events.In())

	// Restoration order mirrors Start in reverse: scaling off, filter
	// cleared, then line modes handed back. The first hardware error is
	// reported but restoration continues past it.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.configLock.Lock()
	s.scale = 0
	s.configLock.Unlock()
	keep(s.applyFrequencyScale())
	keep(s.setFilter(FilterClear))
	if s.lines.OE >= 0 {
		keep(s.conn.Write(s.lines.OE, High)) // disable device
	}
	keep(s.restoreModes())
	return firstErr
}

// State reports the current lifecycle state.
func (s *Sensor) State() SensorState {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.state
}

// Hertz returns the latest committed frequency triplet, in channel order
// red, green, blue.
func (s *Sensor) Hertz() [3]float64 {
	hertz, _ := s.latest.snapshot()
	return hertz
}

// Tally returns the pulse counts behind the latest committed triplet.
func (s *Sensor) Tally() [3]int {
	_, tally := s.latest.snapshot()
	return tally
}

// RGB converts the latest committed reading to colour values on [0, top].
func (s *Sensor) RGB(top float64) [3]float64 {
	return s.cal.RGB(s.Hertz(), top)
}

// Commits reports how many full triplets have been committed since Start.
func (s *Sensor) Commits() uint64 {
	return s.latest.generation()
}

// Calibration returns the sensor's calibration levels.
func (s *Sensor) Calibration() *Calibration {
	return s.cal
}

// Recorder returns the sensor's reading recorder.
func (s *Sensor) Recorder() *Recorder {
	return s.recorder
}

// SetSampleSize sets the pulse-count goal per channel, silently clamped to
// [10, 100]. Returns the value actually applied.
func (s *Sensor) SetSampleSize(n int) int {
	if n < minSampleSize {
		n = minSampleSize
	} else if n > maxSampleSize {
		n = maxSampleSize
	}
	s.configLock.Lock()
	s.samples = n
	s.configLock.Unlock()
	return n
}

// SampleSize returns the pulse-count goal per channel.
func (s *Sensor) SampleSize() int {
	s.configLock.Lock()
	defer s.configLock.Unlock()
	return s.samples
}

// SetUpdateInterval sets the wall-clock interval between rotations, in
// seconds. Values outside [0.1, 2.0) are rejected.
func (s *Sensor) SetUpdateInterval(seconds float64) error {
	if seconds < minInterval || seconds >= maxInterval {
		return fmt.Errorf("update interval %.3f s out of range [%.1f, %.1f)", seconds, minInterval, maxInterval)
	}
	s.configLock.Lock()
	s.interval = seconds
	s.configLock.Unlock()
	return nil
}

// UpdateInterval returns the interval between rotations, in seconds.
func (s *Sensor) UpdateInterval() float64 {
	s.configLock.Lock()
	defer s.configLock.Unlock()
	return s.interval
}

// scaleLevels gives the (S0, S1) encoding of each frequency scaling code:
// 0=off, 1=2%, 2=20%, 3=100%.
var scaleLevels = [4][2]Level{
	{Low, Low},
	{Low, High},
	{High, Low},
	{High, High},
}

// SetFrequencyScale selects the output frequency scaling, code 0 (off),
// 1 (2%), 2 (20%) or 3 (100%). The code is stored even before Start; it is
// written to the S0/S1 lines whenever they are assigned.
func (s *Sensor) SetFrequencyScale(f int) error {
	if f < 0 || f >= len(scaleLevels) {
		return fmt.Errorf("frequency scale code %d out of range [0, 3]", f)
	}
	s.configLock.Lock()
	s.scale = f
	s.configLock.Unlock()
	if s.State() == Idle || s.lines.S0 < 0 {
		return nil
	}
	return s.applyFrequencyScale()
}

// FrequencyScale returns the stored scaling code, or -1 when the scaling
// lines are unassigned on a started sensor.
func (s *Sensor) FrequencyScale() int {
	if s.State() != Idle && s.lines.S0 < 0 {
		return -1
	}
	s.configLock.Lock()
	defer s.configLock.Unlock()
	return s.scale
}

// Dwell returns a copy of the per-channel dwell table, in seconds.
func (s *Sensor) Dwell() [3]float64 {
	s.configLock.Lock()
	defer s.configLock.Unlock()
	return s.dwell
}

func (s *Sensor) applyFrequencyScale() error {
	if s.lines.S0 < 0 {
		return nil
	}
	s.configLock.Lock()
	levels := scaleLevels[s.scale]
	s.configLock.Unlock()
	if err := s.conn.Write(s.lines.S0, levels[0]); err != nil {
		return err
	}
	return s.conn.Write(s.lines.S1, levels[1])
}

// runLoop is the acquisition loop. Each iteration runs one rotation, sleeps
// out the remainder of the update interval, then retunes the dwell table.
// While paused it polls at a fixed short interval instead of rotating.
// Cancellation is observed at every sleep.
func (s *Sensor) runLoop() {
	defer s.runDone.Done()
	for {
		select {
		case <-s.abort:
			return
		default:
		}
		if s.State() == Paused {
			if !s.sleep(pausePoll) {
				return
			}
			continue
		}

		endBy := time.Now().Add(time.Duration(s.UpdateInterval() * float64(time.Second)))
		if err := s.rotate(); err != nil {
			// A failed hardware write is not retried; the loop reports it
			// and carries on to the next rotation.
			ProblemLogger.Printf("rotation failed: %v", err)
		}
		if !s.sleepUntil(endBy) {
			return
		}
		s.retuneDelays()
	}
}

// consumeEdges drains the edge queue into the classifier. It exits when the
// queue is closed by Cancel.
func (s *Sensor) consumeEdges() {
	for ev := range s.events.Out() {
		s.cls.handleEdge(ev)
	}
}

// publishCommit runs at the commit point, on the classifier's goroutine.
func (s *Sensor) publishCommit(hertz [3]float64, tally [3]int) {
	r := Reading{
		Time:  time.Now(),
		RGB:   s.cal.RGB(hertz, 255),
		Hertz: hertz,
		Tally: tally,
	}
	if s.readings != nil {
		select {
		case s.readings <- r:
		default: // a slow consumer must not stall the classifier
		}
	}
	if s.recorder.IsActive() {
		if err := s.recorder.Record(r); err != nil {
			ProblemLogger.Printf("recording reading: %v", err)
		}
	}
}

// sleep waits for d or until cancellation; it reports false when cancelled.
func (s *Sensor) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-s.abort:
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Sensor) sleepUntil(t time.Time) bool {
	return s.sleep(time.Until(t))
}

func (s *Sensor) claimLines() error {
	if err := s.conn.Write(s.lines.Out, Low); err != nil {
		return err
	}
	outputs := []int{s.lines.S2, s.lines.S3}
	if s.lines.S0 >= 0 {
		outputs = append(outputs, s.lines.S0, s.lines.S1)
	}
	if s.lines.OE >= 0 {
		outputs = append(outputs, s.lines.OE)
	}
	for _, line := range outputs {
		if err := s.conn.SetMode(line, ModeOutput); err != nil {
			return err
		}
	}
	if s.lines.OE >= 0 {
		if err := s.conn.Write(s.lines.OE, Low); err != nil { // enable, active low
			return err
		}
	}
	if err := s.applyFrequencyScale(); err != nil {
		return err
	}
	return s.setFilter(FilterClear)
}

func (s *Sensor) saveModes() error {
	s.savedModes = make(map[int]PinMode)
	for _, line := range []int{s.lines.Out, s.lines.S2, s.lines.S3, s.lines.S0, s.lines.S1, s.lines.OE} {
		if line < 0 {
			continue
		}
		mode, err := s.conn.GetMode(line)
		if err != nil {
			return fmt.Errorf("reading mode of line %d: %v", line, err)
		}
		s.savedModes[line] = mode
	}
	return nil
}

func (s *Sensor) restoreModes() error {
	var firstErr error
	for line, mode := range s.savedModes {
		if err := s.conn.SetMode(line, mode); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Sensor) cancelSubscriptions() {
	// Reverse of registration order: the select-line watches go first, so no
	// window can complete once its ticks may no longer be counted.
	for i := len(s.subs) - 1; i >= 0; i-- {
		if err := s.subs[i].Cancel(); err != nil {
			ProblemLogger.Printf("cancelling edge subscription: %v", err)
		}
	}
	s.subs = nil
}

func closeIfOpen(c chan struct{}) {
	select {
	case <-c:
	default:
		close(c)
	}
}
