package tcs3200

import (
	"math"
	"testing"
)

func TestTuneDwell(t *testing.T) {
	tests := []struct {
		prev       float64
		hertz      float64
		sampleSize int
		want       float64
	}{
		{0.1, 2000, 20, 0.01},   // bright channel shortens
		{0.01, 40, 20, 0.5},     // dim channel capped at the ceiling
		{0.1, 0, 20, 0.2},       // silent channel grows by the boost
		{0.45, 0, 20, 0.5},      // boost clamps at the ceiling
		{0.1, 1e9, 100, 0.001},  // absurd frequency clamps at the floor
		{0.02, 10000, 100, 0.01}, // goal met exactly
	}
	for _, test := range tests {
		got := tuneDwell(test.prev, test.hertz, test.sampleSize)
		if math.Abs(got-test.want) > 1e-12 {
			t.Errorf("tuneDwell(%v, %v, %d) = %v, want %v",
				test.prev, test.hertz, test.sampleSize, got, test.want)
		}
	}
}

func TestRetuneDelays(t *testing.T) {
	s := NewSensor(NewSimConn(DefaultLines, SimConnConfig{}), nil)
	s.SetSampleSize(50)
	s.latest.commit([3]float64{2000, 0, 4000}, [3]int{40, 0, 80})
	s.retuneDelays()

	d := s.Dwell()
	want := [3]float64{0.025, 0.2, 0.0125}
	for c := range d {
		if math.Abs(d[c]-want[c]) > 1e-12 {
			t.Errorf("dwell[%d] = %v after retune, want %v", c, d[c], want[c])
		}
	}
}
