// Package frame defines the unit of data handed from a frame source to the
// classifier: one analyser snapshot of frequency magnitudes and time-domain
// amplitudes.
package frame

import "errors"

var (
	// ErrNotReady means the source has no fresh frame for this tick. The tick
	// is skipped rather than scored against stale data.
	ErrNotReady = errors.New("frame source not ready")

	// ErrSourceUnavailable means the source can no longer supply frames, for
	// example because the underlying device or decoder closed.
	ErrSourceUnavailable = errors.New("frame source unavailable")

	// ErrEndOfStream means a finite source has been fully consumed.
	ErrEndOfStream = errors.New("end of stream")
)

// CenterSample is the byte value of a zero-amplitude time-domain sample.
const CenterSample = 128

// AudioFrame is one analysis window. Frequency bins are byte-scaled
// magnitudes (0-255) spanning 0 to Nyquist, time samples are byte-scaled
// amplitudes centered at 128.
type AudioFrame struct {
	FrequencyBins []uint8 `json:"frequency_bins"`
	TimeSamples   []uint8 `json:"time_samples"`
	SampleRate    int     `json:"sample_rate"`
}

// BinCount returns the number of frequency bins.
func (f *AudioFrame) BinCount() int {
	return len(f.FrequencyBins)
}

// BinFrequency returns the center frequency in Hz represented by bin i,
// mapping the bins linearly across the Nyquist range.
func (f *AudioFrame) BinFrequency(i int) float64 {
	return float64(i) * float64(f.SampleRate) / float64(2*len(f.FrequencyBins))
}
