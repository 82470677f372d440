// Package classifier scores each frame for music and speech content.
//
// The classifier is pure: callers own the ScoreState, pass the previous
// value in and keep the returned one. This keeps smoothing testable without
// a live audio path.
package classifier

import (
	"github.com/RyanBlaney/sonido-ducker/algorithms/common"
	"github.com/RyanBlaney/sonido-ducker/classifier/extractors"
	"github.com/RyanBlaney/sonido-ducker/classifier/scoring"
	"github.com/RyanBlaney/sonido-ducker/config"
	"github.com/RyanBlaney/sonido-ducker/frame"
)

// ScoreState holds the smoothed scores carried between ticks. Both values
// stay within [0,1].
type ScoreState struct {
	Music  float64 `json:"music"`
	Speech float64 `json:"speech"`
}

// Finite reports whether both scores are finite numbers.
func (s ScoreState) Finite() bool {
	return common.AllFinite(s.Music, s.Speech)
}

// Classifier runs feature extraction and both scorers.
type Classifier struct {
	extractor *extractors.FeatureExtractor
	music     *scoring.MusicScorer
	speech    *scoring.SpeechScorer
}

// New creates a classifier from the classifier configuration.
func New(cfg config.ClassifierConfig) *Classifier {
	return &Classifier{
		extractor: extractors.NewFeatureExtractor(cfg),
		music:     scoring.NewMusicScorer(cfg.ScoreAlpha),
		speech:    scoring.NewSpeechScorer(cfg.ScoreAlpha),
	}
}

// Classify extracts features once and returns the next smoothed scores.
// The result may be non-finite for a malformed frame; callers must check
// Finite before committing it.
func (c *Classifier) Classify(f *frame.AudioFrame, prev ScoreState) (ScoreState, extractors.FeatureSet) {
	fs := c.extractor.Extract(f)
	next := ScoreState{
		Music:  c.music.Score(fs, prev.Music),
		Speech: c.speech.Score(fs, prev.Speech),
	}
	return next, fs
}
