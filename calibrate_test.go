package tcs3200

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalibrationDefaults(t *testing.T) {
	cal := NewCalibration()
	assert.Equal(t, [3]float64{0, 0, 0}, cal.Black(), "uncalibrated black level")
	assert.Equal(t, [3]float64{10000, 10000, 10000}, cal.White(), "uncalibrated white level")

	rgb := cal.RGB([3]float64{5000, 10000, 0}, 255)
	assert.InDelta(t, 127.5, rgb[0], 1e-9)
	assert.InDelta(t, 255, rgb[1], 1e-9)
	assert.InDelta(t, 0, rgb[2], 1e-9)
}

func TestCalibrationScaling(t *testing.T) {
	cal := NewCalibration()
	cal.SetBlack([3]float64{100, 200, 300})
	cal.SetWhite([3]float64{1100, 2200, 3300})

	// Midpoint of each span maps to half scale.
	rgb := cal.RGB([3]float64{600, 1200, 1800}, 100)
	for c := 0; c < 3; c++ {
		assert.InDelta(t, 50, rgb[c], 1e-9, "channel %d", c)
	}

	// Readings beyond the references clamp to the range.
	rgb = cal.RGB([3]float64{0, 9999, 300}, 100)
	assert.Equal(t, [3]float64{0, 100, 0}, rgb)
}

func TestCalibrationDegenerateSpan(t *testing.T) {
	cal := NewCalibration()
	cal.SetBlack([3]float64{500, 0, 0})
	cal.SetWhite([3]float64{500, 10000, 10000})

	// A channel with coincident references converts to 0, never NaN.
	rgb := cal.RGB([3]float64{500, 5000, 5000}, 255)
	assert.Equal(t, 0.0, rgb[0])
	assert.InDelta(t, 127.5, rgb[1], 1e-9)
}

func TestAverageHertz(t *testing.T) {
	samples := [][3]float64{
		{100, 1000, 10},
		{200, 2000, 20},
		{300, 3000, 30},
	}
	assert.Equal(t, [3]float64{200, 2000, 20}, AverageHertz(samples))
	assert.Equal(t, [3]float64{}, AverageHertz(nil))
}
