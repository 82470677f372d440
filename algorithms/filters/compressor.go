package filters

import (
	"math"

	"github.com/RyanBlaney/sonido-ducker/algorithms/common"
	"github.com/RyanBlaney/sonido-ducker/config"
)

// levelFloorDB keeps silent input away from -Inf.
const levelFloorDB = -100.0

// Compressor is a feed-forward soft-knee dynamics compressor. Gain
// reduction is computed per sample from the input level and smoothed with
// separate attack and release time constants. No makeup gain is applied.
//
// Reference: Giannoulis, Massberg, Reiss, "Digital Dynamic Range Compressor
// Design - A Tutorial and Analysis", JAES 2012.
type Compressor struct {
	thresholdDB float64
	kneeDB      float64
	ratio       float64

	attackCoeff  float64
	releaseCoeff float64

	// smoothed gain reduction in dB, always <= 0
	reductionDB float64
}

// NewCompressor creates a compressor for the given sample rate.
func NewCompressor(cfg config.CompressorConfig, sampleRate int) *Compressor {
	return &Compressor{
		thresholdDB:  cfg.ThresholdDB,
		kneeDB:       cfg.KneeDB,
		ratio:        cfg.Ratio,
		attackCoeff:  common.TimeConstantCoefficient(cfg.Attack.Seconds(), sampleRate),
		releaseCoeff: common.TimeConstantCoefficient(cfg.Release.Seconds(), sampleRate),
	}
}

// StaticCurve returns the output level in dB for a steady input level,
// before attack/release smoothing.
func (c *Compressor) StaticCurve(inputDB float64) float64 {
	over := inputDB - c.thresholdDB
	switch {
	case 2*over < -c.kneeDB:
		return inputDB
	case c.kneeDB > 0 && 2*math.Abs(over) <= c.kneeDB:
		k := over + c.kneeDB/2
		return inputDB + (1/c.ratio-1)*k*k/(2*c.kneeDB)
	default:
		return c.thresholdDB + over/c.ratio
	}
}

// Process compresses one sample.
func (c *Compressor) Process(input float64) float64 {
	level := math.Max(common.ToDecibels(math.Abs(input)), levelFloorDB)
	target := c.StaticCurve(level) - level

	coeff := c.releaseCoeff
	if target < c.reductionDB {
		coeff = c.attackCoeff
	}
	c.reductionDB += coeff * (target - c.reductionDB)

	return input * common.FromDecibels(c.reductionDB)
}

// Reset clears the gain reduction state.
func (c *Compressor) Reset() {
	c.reductionDB = 0
}

// ReductionDB returns the current smoothed gain reduction.
func (c *Compressor) ReductionDB() float64 {
	return c.reductionDB
}
