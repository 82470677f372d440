// Package gain maps smoothed music and speech scores to an output gain.
package gain

import (
	"github.com/RyanBlaney/sonido-ducker/algorithms/common"
	"github.com/RyanBlaney/sonido-ducker/config"
)

// Decision table gains.
const (
	// music-dominant tiers, by speech score
	MusicOnlyGain      = 0.05
	MusicLowSpeechGain = 0.15
	MusicMidSpeechGain = 0.35
	MusicAndSpeechGain = 0.6

	SpeechGain         = 0.9
	ModerateSpeechGain = 0.7
	QuietGain          = 0.5
)

// Ratio modulation. The speech offset keeps the ratio finite and damps it
// when speech is near zero.
const (
	RatioSpeechOffset = 0.1

	StrongMusicRatio  = 3.0
	StrongMusicFactor = 0.7
	MusicRatio        = 1.5
	MusicFactor       = 0.85
	SpeechRatio       = 0.5
	SpeechFactor      = 1.1
)

// State is the controller's smoothing memory.
type State struct {
	Gain float64 `json:"gain"`
}

// Controller computes the next gain from the current scores and state.
// It holds configuration only; all memory lives in State.
type Controller struct {
	cfg       config.GainConfig
	threshold float64
}

// NewController creates a controller. musicThreshold is the music-dominance
// threshold shared with the stats counter.
func NewController(cfg config.GainConfig, musicThreshold float64) *Controller {
	return &Controller{cfg: cfg, threshold: musicThreshold}
}

// InitialState is the state used on the first tick and after recovery.
func (c *Controller) InitialState() State {
	return State{Gain: c.cfg.Initial}
}

// Target returns the unsmoothed gain for a score pair: the decision-table
// base gain scaled by the music/speech ratio modulation.
func (c *Controller) Target(music, speech float64) float64 {
	var base float64
	switch {
	case music > c.threshold:
		switch {
		case speech < 0.2:
			base = MusicOnlyGain
		case speech < 0.4:
			base = MusicLowSpeechGain
		case speech < 0.6:
			base = MusicMidSpeechGain
		default:
			base = MusicAndSpeechGain
		}
	case speech > 0.6:
		base = SpeechGain
	case speech > 0.3:
		base = ModerateSpeechGain
	default:
		base = QuietGain
	}

	ratio := music / (speech + RatioSpeechOffset)
	switch {
	case ratio > StrongMusicRatio:
		base *= StrongMusicFactor
	case ratio > MusicRatio:
		base *= MusicFactor
	case ratio < SpeechRatio:
		base *= SpeechFactor
	}
	return base
}

// Compute smooths toward Target and clamps to the safety range.
func (c *Controller) Compute(music, speech float64, prev State) State {
	smoothed := common.Smooth(prev.Gain, c.Target(music, speech), c.cfg.Beta)
	return State{Gain: common.Clamp(smoothed, c.cfg.Min, c.cfg.Max)}
}

// Disabled is the gain applied while ducking is switched off.
func (c *Controller) Disabled() float64 {
	return c.cfg.Disabled
}
