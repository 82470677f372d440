package filters

import (
	"fmt"
	"math"
)

// DCBlocker removes the DC offset with a one-pole, one-zero high-pass:
//
//	y[n] = x[n] - x[n-1] + R*y[n-1]
//
// Reference: Julius O. Smith III, "Introduction to Digital Filters with
// Audio Applications", https://ccrma.stanford.edu/~jos/filters/DC_Blocker.html
type DCBlocker struct {
	pole float64 // R, 0 < R < 1

	x1 float64
	y1 float64
}

// NewDCBlocker creates a DC blocker with the given -3 dB cutoff. The pole is
// placed at R = 1 - 2*pi*fc/fs, valid for fc << fs/2.
func NewDCBlocker(sampleRate int, cutoffHz float64) (*DCBlocker, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("dc blocker: sample rate must be positive: %d", sampleRate)
	}
	if cutoffHz <= 0 || cutoffHz >= float64(sampleRate)/2 {
		return nil, fmt.Errorf("dc blocker: cutoff %.1f Hz outside (0, %d)", cutoffHz, sampleRate/2)
	}

	pole := 1.0 - 2.0*math.Pi*cutoffHz/float64(sampleRate)
	if pole <= 0 {
		pole = 0.001
	}
	return &DCBlocker{pole: pole}, nil
}

// Pole returns R.
func (dc *DCBlocker) Pole() float64 {
	return dc.pole
}

// Process filters one sample.
func (dc *DCBlocker) Process(x float64) float64 {
	y := x - dc.x1 + dc.pole*dc.y1
	dc.x1 = x
	dc.y1 = y
	return y
}

// Reset clears the filter's internal state.
func (dc *DCBlocker) Reset() {
	dc.x1 = 0
	dc.y1 = 0
}

// Response returns the magnitude response at freq Hz:
// |H(e^jw)| = |1 - e^-jw| / |1 - R*e^-jw|
func (dc *DCBlocker) Response(freq float64, sampleRate int) float64 {
	w := 2.0 * math.Pi * freq / float64(sampleRate)
	cosW, sinW := math.Cos(w), math.Sin(w)

	num := math.Hypot(1-cosW, sinW)
	den := math.Hypot(1-dc.pole*cosW, dc.pole*sinW)
	return num / den
}
