package scoring

import (
	"math"

	"github.com/RyanBlaney/sonido-ducker/algorithms/common"
	"github.com/RyanBlaney/sonido-ducker/classifier/extractors"
)

// Speech scoring weights and tiered boosts.
const (
	SpeechBandWeight = 2.0
	FormantWeight    = 1.5

	SpeechBandBoostRatio = 0.05
	SpeechBandBoost      = 1.8
	FormantBoostRatio    = 0.02
	FormantBoost         = 1.4
	PauseBoostLow        = 0.1
	PauseBoostHigh       = 0.8
	PauseBoost           = 1.1
)

// SpeechScorer estimates how speech-dominant a frame is.
type SpeechScorer struct {
	alpha float64
}

// NewSpeechScorer creates a scorer smoothing with the given alpha.
func NewSpeechScorer(alpha float64) *SpeechScorer {
	return &SpeechScorer{alpha: alpha}
}

// Raw returns the unsmoothed speech likelihood of one frame, clamped to at
// most 1. It is NaN when the frame has no bins.
func (s *SpeechScorer) Raw(fs extractors.FeatureSet) float64 {
	score := (fs.SpeechBandEnergy*SpeechBandWeight + fs.FormantEnergy*FormantWeight) / float64(fs.BinCount)

	if fs.SpeechBandRatio > SpeechBandBoostRatio {
		score *= SpeechBandBoost
	}
	if fs.FormantRatio > FormantBoostRatio {
		score *= FormantBoost
	}
	// natural pauses: some quiet bins, but neither silence nor a full band
	if fs.SilenceRatio > PauseBoostLow && fs.SilenceRatio < PauseBoostHigh {
		score *= PauseBoost
	}

	return math.Min(score, 1.0)
}

// Score returns the next smoothed speech score given the previous one.
func (s *SpeechScorer) Score(fs extractors.FeatureSet, prev float64) float64 {
	return common.Smooth(prev, s.Raw(fs), s.alpha)
}
