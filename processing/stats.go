package processing

import (
	"sync"

	"github.com/RyanBlaney/sonido-ducker/algorithms/common"
	"github.com/RyanBlaney/sonido-ducker/config"
)

// Stats is the session-level summary of the processing loop.
type Stats struct {
	FramesProcessed     uint64  `json:"frames_processed"`
	MusicDetectedFrames uint64  `json:"music_detected_frames"`
	AverageMusicLevel   float64 `json:"average_music_level"`
}

// MusicFraction is the share of processed frames that were music-dominant.
func (s Stats) MusicFraction() float64 {
	if s.FramesProcessed == 0 {
		return 0
	}
	return float64(s.MusicDetectedFrames) / float64(s.FramesProcessed)
}

// StatsAggregator accumulates Stats across ticks. It is safe for concurrent
// use, though the loop only updates it from its own goroutine.
type StatsAggregator struct {
	threshold float64
	alpha     float64

	mu    sync.RWMutex
	stats Stats
}

// NewStatsAggregator creates an aggregator using the classifier's music
// threshold and the slow stats smoothing constant.
func NewStatsAggregator(cfg config.ClassifierConfig) *StatsAggregator {
	return &StatsAggregator{
		threshold: cfg.MusicThreshold,
		alpha:     cfg.StatsAlpha,
	}
}

// Update records one frame. speech is accepted for symmetry with the
// scorers but does not affect the summary.
func (a *StatsAggregator) Update(music, speech float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.FramesProcessed++
	if music > a.threshold {
		a.stats.MusicDetectedFrames++
	}
	a.stats.AverageMusicLevel = common.Smooth(a.stats.AverageMusicLevel, music, a.alpha)
}

// Snapshot returns a copy of the current stats.
func (a *StatsAggregator) Snapshot() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}
