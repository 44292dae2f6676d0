package tcs3200

import "time"

// FilterState selects which photodiode filter is active, encoded on the two
// select lines S2/S3.
type FilterState int

// The four filter states.
const (
	FilterRed FilterState = iota
	FilterGreen
	FilterBlue
	FilterClear
)

// filterLevels gives the (S2, S3) encoding of each FilterState.
var filterLevels = [4][2]Level{
	FilterRed:   {Low, Low},
	FilterGreen: {High, High},
	FilterBlue:  {Low, High},
	FilterClear: {High, Low},
}

// rotationSteps is the fixed sampling order. It is chosen so that every
// transition, including Clear→Red at the start of a rotation, changes exactly
// one select line: that is what lets the classifier identify the completed
// colour from a single (line, level) pair.
var rotationSteps = [3]struct {
	filter FilterState
	colour ColourChannel
}{
	{FilterRed, Red},
	{FilterBlue, Blue},
	{FilterGreen, Green},
}

// setFilter drives the select lines to the given filter state.
func (s *Sensor) setFilter(f FilterState) error {
	levels := filterLevels[f]
	if err := s.conn.Write(s.lines.S2, levels[0]); err != nil {
		return err
	}
	return s.conn.Write(s.lines.S3, levels[1])
}

// rotate performs one full Red→Blue→Green→Clear rotation: enable the pulse
// counter, hold each colour for its current dwell time, then disable the
// counter and park on Clear until the next rotation. Returns early without
// error if the sensor is cancelled mid-rotation; Cancel handles restoration.
func (s *Sensor) rotate() error {
	s.configLock.Lock()
	dwell := s.dwell
	s.configLock.Unlock()

	if err := s.conn.SetMode(s.lines.Out, ModeInput); err != nil {
		return err
	}
	for _, step := range rotationSteps {
		if err := s.setFilter(step.filter); err != nil {
			return err
		}
		if !s.sleep(time.Duration(dwell[step.colour] * float64(time.Second))) {
			return nil
		}
	}
	if err := s.conn.Write(s.lines.Out, Low); err != nil {
		return err
	}
	return s.setFilter(FilterClear)
}
