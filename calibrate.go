package tcs3200

import (
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Default white level when uncalibrated, in Hz.
const defaultWhiteHz = 10000

// Calibration holds the black-level and white-level reference frequencies
// used to scale raw Hz readings onto an RGB range. It persists across
// rotations (and across acquisition restarts within a process) until
// explicitly overwritten.
type Calibration struct {
	mu    sync.Mutex
	black [3]float64
	white [3]float64
}

// NewCalibration returns a Calibration with the uncalibrated defaults:
// black {0,0,0} and white {10000,10000,10000} Hz.
func NewCalibration() *Calibration {
	c := new(Calibration)
	for i := range c.white {
		c.white[i] = defaultWhiteHz
	}
	return c
}

// SetBlack overwrites the black-level Hz triplet.
func (c *Calibration) SetBlack(hertz [3]float64) {
	c.mu.Lock()
	c.black = hertz
	c.mu.Unlock()
}

// SetWhite overwrites the white-level Hz triplet.
func (c *Calibration) SetWhite(hertz [3]float64) {
	c.mu.Lock()
	c.white = hertz
	c.mu.Unlock()
}

// Black returns the black-level Hz triplet.
func (c *Calibration) Black() [3]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.black
}

// White returns the white-level Hz triplet.
func (c *Calibration) White() [3]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.white
}

// RGB converts a Hz triplet into colour values on [0, top]:
//
//	value = top * (hz - black) / (white - black)
//
// clamped to the range. A channel whose white and black levels coincide is
// uncalibrated in any meaningful sense and converts to 0 rather than
// dividing by zero.
func (c *Calibration) RGB(hertz [3]float64, top float64) [3]float64 {
	c.mu.Lock()
	black, white := c.black, c.white
	c.mu.Unlock()

	var rgb [3]float64
	for i := range rgb {
		span := white[i] - black[i]
		if span == 0 {
			rgb[i] = 0
			continue
		}
		v := top * (hertz[i] - black[i]) / span
		if v < 0 {
			v = 0
		} else if v > top {
			v = top
		}
		rgb[i] = v
	}
	return rgb
}

// AverageHertz returns the per-channel mean of a series of Hz triplets.
// It supports the usual calibration protocol: sample several readings with a
// reference object in place, then record the average. An empty series
// averages to zero.
func AverageHertz(samples [][3]float64) [3]float64 {
	var avg [3]float64
	if len(samples) == 0 {
		return avg
	}
	column := make([]float64, len(samples))
	for c := 0; c < 3; c++ {
		for i, s := range samples {
			column[i] = s[c]
		}
		avg[c] = stat.Mean(column, nil)
	}
	return avg
}
