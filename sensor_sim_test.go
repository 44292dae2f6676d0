package tcs3200

import (
	"math"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// waitForCommits polls until the sensor has committed at least n triplets.
func waitForCommits(t *testing.T, s *Sensor, n uint64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for s.Commits() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d triplets committed after %v, want at least %d", s.Commits(), timeout, n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSensorAcquisition(t *testing.T) {
	cfg := SimConnConfig{RedHz: 2000, GreenHz: 1000, BlueHz: 4000, ClearHz: 5000}
	conn := NewSimConn(DefaultLines, cfg)
	readings := make(chan Reading, 100)
	s := NewSensor(conn, readings)
	s.SetSampleSize(50)
	if err := s.SetUpdateInterval(0.1); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(DefaultLines); err != nil {
		t.Fatalf("could not start sensor: %v", err)
	}
	defer s.Cancel()
	if s.State() != Running {
		t.Fatalf("sensor state is %v after Start, want Running", s.State())
	}

	waitForCommits(t, s, 3, 3*time.Second)

	want := [3]float64{cfg.RedHz, cfg.GreenHz, cfg.BlueHz}
	hertz := s.Hertz()
	for c := Red; c <= Blue; c++ {
		if math.Abs(hertz[c]-want[c])/want[c] > 0.05 {
			t.Errorf("%s channel measures %f Hz, want %f within 5%%", c, hertz[c], want[c])
		}
	}
	tally := s.Tally()
	for c := Red; c <= Blue; c++ {
		if tally[c] < 2 {
			t.Errorf("%s tally is %d, want at least 2", c, tally[c])
		}
	}

	// RGB through the uncalibrated defaults: 255 * hz / 10000.
	rgb := s.RGB(255)
	for c := Red; c <= Blue; c++ {
		wantRGB := 255 * hertz[c] / 10000
		if math.Abs(rgb[c]-wantRGB) > 1e-9 {
			t.Errorf("%s converts to %f, want %f", c, rgb[c], wantRGB)
		}
	}

	// The fan-out channel carries the same committed readings.
	select {
	case rd := <-readings:
		if rd.Hertz[Red] <= 0 || rd.Time.IsZero() {
			t.Errorf("implausible published reading:\n%s", spew.Sdump(rd))
		}
	case <-time.After(time.Second):
		t.Error("no reading published within 1 s")
	}

	// After a few rotations the dwell table has adapted toward
	// sampleSize/hertz per channel, away from the initial 0.1 s.
	dwell := s.Dwell()
	for c := Red; c <= Blue; c++ {
		wantDwell := 50 / want[c]
		if math.Abs(dwell[c]-wantDwell)/wantDwell > 0.25 {
			t.Errorf("%s dwell is %f s, want about %f", c, dwell[c], wantDwell)
		}
	}
}

func TestSensorPauseResume(t *testing.T) {
	conn := NewSimConn(DefaultLines, SimConnConfig{RedHz: 2000, GreenHz: 1000, BlueHz: 4000, ClearHz: 5000})
	s := NewSensor(conn, nil)
	if err := s.Pause(); err == nil {
		t.Error("expected error pausing an Idle sensor, saw none")
	}
	if err := s.Resume(); err == nil {
		t.Error("expected error resuming an Idle sensor, saw none")
	}
	s.SetSampleSize(50)
	if err := s.SetUpdateInterval(0.1); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(DefaultLines); err != nil {
		t.Fatal(err)
	}
	defer s.Cancel()
	waitForCommits(t, s, 2, 3*time.Second)

	if err := s.Pause(); err != nil {
		t.Fatalf("could not pause running sensor: %v", err)
	}
	if err := s.Pause(); err != nil {
		t.Errorf("pausing a paused sensor should be a no-op, got %v", err)
	}
	if s.State() != Paused {
		t.Fatalf("sensor state is %v, want Paused", s.State())
	}

	// Let any rotation already in flight finish, then verify that pausing
	// freezes commits, dwell and calibration.
	time.Sleep(300 * time.Millisecond)
	frozen := s.Commits()
	dwell := s.Dwell()
	white := s.Calibration().White()
	time.Sleep(300 * time.Millisecond)
	if got := s.Commits(); got != frozen {
		t.Errorf("paused sensor committed %d new triplets", got-frozen)
	}
	if got := s.Dwell(); got != dwell {
		t.Errorf("paused sensor retuned dwell from %v to %v", dwell, got)
	}
	if got := s.Calibration().White(); got != white {
		t.Errorf("pause changed the white level from %v to %v", white, got)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("could not resume paused sensor: %v", err)
	}
	if err := s.Resume(); err != nil {
		t.Errorf("resuming a running sensor should be a no-op, got %v", err)
	}
	waitForCommits(t, s, frozen+1, 3*time.Second)
}

func TestSensorCancel(t *testing.T) {
	conn := NewSimConn(DefaultLines, SimConnConfig{RedHz: 2000, GreenHz: 1000, BlueHz: 4000, ClearHz: 5000})
	s := NewSensor(conn, nil)
	if err := s.SetUpdateInterval(0.1); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(DefaultLines); err != nil {
		t.Fatal(err)
	}
	waitForCommits(t, s, 1, 3*time.Second)

	if err := s.Cancel(); err != nil {
		t.Fatalf("cancelling running sensor: %v", err)
	}
	if s.State() != Cancelled {
		t.Errorf("sensor state is %v after Cancel, want Cancelled", s.State())
	}
	if err := s.Cancel(); err != nil {
		t.Errorf("second Cancel should be a no-op, got %v", err)
	}

	// The hardware is handed back: device disabled, every claimed line
	// restored to the input mode it had before Start.
	if conn.Level(DefaultLines.OE) != High {
		t.Error("OE line not driven high on cancel")
	}
	for _, line := range []int{DefaultLines.S2, DefaultLines.S3, DefaultLines.S0, DefaultLines.S1, DefaultLines.OE} {
		if mode, _ := conn.GetMode(line); mode != ModeInput {
			t.Errorf("line %d left in %v mode after cancel, want input", line, mode)
		}
	}

	if err := s.Start(DefaultLines); err == nil {
		t.Error("expected error starting a cancelled sensor, saw none")
	}
}

func TestSensorStartValidation(t *testing.T) {
	conn := NewSimConn(DefaultLines, SimConnConfig{})
	s := NewSensor(conn, nil)

	bad := DefaultLines
	bad.Out = NoLine
	if err := s.Start(bad); err == nil {
		t.Error("expected error starting without an Out line, saw none")
	}

	bad = DefaultLines
	bad.S1 = NoLine
	if err := s.Start(bad); err == nil {
		t.Error("expected error starting with S0 but not S1, saw none")
	}
	if s.State() != Idle {
		t.Errorf("sensor state is %v after rejected starts, want Idle", s.State())
	}

	// The optional lines may all be left unassigned.
	minimal := Lines{Out: 24, S2: 22, S3: 23, S0: NoLine, S1: NoLine, OE: NoLine}
	if err := s.Start(minimal); err != nil {
		t.Fatalf("could not start with minimal wiring: %v", err)
	}
	if f := s.FrequencyScale(); f != -1 {
		t.Errorf("FrequencyScale() = %d without scaling lines, want -1", f)
	}
	s.Cancel()
}

func TestSensorConfiguration(t *testing.T) {
	conn := NewSimConn(DefaultLines, SimConnConfig{})
	s := NewSensor(conn, nil)

	if applied := s.SetSampleSize(3); applied != 10 {
		t.Errorf("SetSampleSize(3) applied %d, want clamp to 10", applied)
	}
	if applied := s.SetSampleSize(1000); applied != 100 {
		t.Errorf("SetSampleSize(1000) applied %d, want clamp to 100", applied)
	}
	if applied := s.SetSampleSize(42); applied != 42 || s.SampleSize() != 42 {
		t.Errorf("SetSampleSize(42) applied %d, want 42", applied)
	}

	for _, bad := range []float64{0, 0.05, 2.0, 5, -1} {
		if err := s.SetUpdateInterval(bad); err == nil {
			t.Errorf("expected error setting update interval to %v, saw none", bad)
		}
	}
	if err := s.SetUpdateInterval(0.5); err != nil {
		t.Errorf("SetUpdateInterval(0.5): %v", err)
	}
	if got := s.UpdateInterval(); got != 0.5 {
		t.Errorf("UpdateInterval() = %v, want 0.5", got)
	}

	if err := s.SetFrequencyScale(4); err == nil {
		t.Error("expected error setting frequency scale 4, saw none")
	}
	if err := s.SetFrequencyScale(1); err != nil {
		t.Errorf("SetFrequencyScale(1): %v", err)
	}
	if got := s.FrequencyScale(); got != 1 {
		t.Errorf("FrequencyScale() = %d before Start, want stored 1", got)
	}

	// The stored code is written to S0/S1 when the sensor starts.
	if err := s.Start(DefaultLines); err != nil {
		t.Fatal(err)
	}
	defer s.Cancel()
	if conn.Level(DefaultLines.S0) != Low || conn.Level(DefaultLines.S1) != High {
		t.Errorf("scale code 1 drives S0=%v S1=%v, want S0=Low S1=High",
			conn.Level(DefaultLines.S0), conn.Level(DefaultLines.S1))
	}
	if err := s.SetFrequencyScale(3); err != nil {
		t.Errorf("SetFrequencyScale(3) on running sensor: %v", err)
	}
	if conn.Level(DefaultLines.S0) != High || conn.Level(DefaultLines.S1) != High {
		t.Error("scale code 3 should drive S0 and S1 high")
	}
}
