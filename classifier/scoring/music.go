// Package scoring turns frame features into smoothed music and speech
// likelihoods. Scorers are stateless; the previous smoothed value is passed
// in and the next one returned.
package scoring

import (
	"math"

	"github.com/RyanBlaney/sonido-ducker/algorithms/common"
	"github.com/RyanBlaney/sonido-ducker/classifier/extractors"
)

// Music scoring weights and tiered boosts.
const (
	HarmonicWeight  = 2.5
	TransientWeight = 0.8

	HarmonicBoostRatio = 0.1
	HarmonicBoost      = 1.5
	RhythmBoostRatio   = 0.05
	RhythmBoost        = 1.3
	BalanceBoostRatio  = 0.1
	BalanceBoost       = 1.2
)

// MusicScorer estimates how music-dominant a frame is.
type MusicScorer struct {
	alpha float64
}

// NewMusicScorer creates a scorer smoothing with the given alpha.
func NewMusicScorer(alpha float64) *MusicScorer {
	return &MusicScorer{alpha: alpha}
}

// Raw returns the unsmoothed music likelihood of one frame, clamped to at
// most 1. It is NaN when the frame has no bins.
func (m *MusicScorer) Raw(fs extractors.FeatureSet) float64 {
	score := (fs.HarmonicEnergy*HarmonicWeight + fs.TransientEnergy*TransientWeight) / float64(fs.BinCount)

	if fs.HarmonicRatio > HarmonicBoostRatio {
		score *= HarmonicBoost
	}
	if fs.RhythmicRatio > RhythmBoostRatio {
		score *= RhythmBoost
	}
	// balanced low and high end is typical of a full mix
	if fs.BassRatio > BalanceBoostRatio && fs.TrebleRatio > BalanceBoostRatio {
		score *= BalanceBoost
	}

	return math.Min(score, 1.0)
}

// Score returns the next smoothed music score given the previous one.
func (m *MusicScorer) Score(fs extractors.FeatureSet, prev float64) float64 {
	return common.Smooth(prev, m.Raw(fs), m.alpha)
}
