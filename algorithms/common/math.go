package common

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Small numeric helpers shared by the classifier, analyzer and output stage.

// Smooth applies one step of exponential smoothing:
// prev*(1-alpha) + raw*alpha. Lower alpha responds more slowly.
func Smooth(prev, raw, alpha float64) float64 {
	return prev*(1-alpha) + raw*alpha
}

// Clamp limits v to [lo, hi]. NaN passes through unchanged so callers can
// detect it.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AllFinite reports whether every value is finite.
func AllFinite(values ...float64) bool {
	for _, v := range values {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// MinMax returns the extremes of data, or zeros for an empty slice.
func MinMax(data []float64) (lo, hi float64) {
	if len(data) == 0 {
		return 0, 0
	}
	return floats.Min(data), floats.Max(data)
}

// ToDecibels converts a linear magnitude to dB. Zero maps to -Inf.
func ToDecibels(linear float64) float64 {
	return 20 * math.Log10(linear)
}

// FromDecibels converts dB to a linear magnitude.
func FromDecibels(db float64) float64 {
	return math.Pow(10, db/20)
}

// TimeConstantCoefficient returns the per-sample smoothing coefficient that
// makes a one-pole follower reach 1-1/e of a step after tau seconds.
func TimeConstantCoefficient(tau float64, sampleRate int) float64 {
	if tau <= 0 || sampleRate <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/(tau*float64(sampleRate)))
}
