package tcs3200

// The adaptive dwell controller. After each rotation the dwell time of every
// channel is retuned so that roughly sampleSize pulses land in the next
// window: bright channels get shorter windows, dim or absent channels get
// longer ones, up to a safe ceiling.

// Dwell bounds and tuning step, in seconds.
const (
	minDwell     = 0.001
	maxDwell     = 0.5
	dwellBoost   = 0.1 // added when a window captured no edges
	initialDwell = 0.1
)

// tuneDwell returns the next dwell time for one channel, given its previous
// dwell, its latest measured frequency, and the pulse-count goal.
func tuneDwell(prev, hertz float64, sampleSize int) float64 {
	var next float64
	if hertz > 0 {
		next = float64(sampleSize) / hertz
	} else {
		// No edges captured: signal absent or gain too low. Allow more
		// time next rotation.
		next = prev + dwellBoost
	}
	if next < minDwell {
		next = minDwell
	} else if next > maxDwell {
		next = maxDwell
	}
	return next
}

// retuneDelays retunes the whole dwell table from the latest committed
// frequencies. Called by the acquisition loop once per rotation.
func (s *Sensor) retuneDelays() {
	hertz, _ := s.latest.snapshot()
	s.configLock.Lock()
	for c := range s.dwell {
		s.dwell[c] = tuneDwell(s.dwell[c], hertz[c], s.samples)
	}
	s.configLock.Unlock()
}
