package extractors

import (
	"math"

	"github.com/RyanBlaney/sonido-ducker/config"
	"github.com/RyanBlaney/sonido-ducker/frame"
)

// MusicalNotes are the C4-B4 fundamentals used for harmonic detection.
// Half and double of each are matched too, covering one octave each way.
var MusicalNotes = []float64{261.63, 293.66, 329.63, 349.23, 392.00, 440.00, 493.88}

// FormantCenters are the F1-F4 centers used for formant detection.
var FormantCenters = []float64{500, 1500, 2500, 3500}

// FeatureSet is the per-frame aggregate consumed by the scorers. Energies
// are sums of amplitude/255 (already weighted where noted); ratios are
// divided by the bin count and may locally exceed 1.
type FeatureSet struct {
	BinCount int `json:"bin_count"`

	// HarmonicEnergy sums amplitude over bins near a musical note.
	HarmonicEnergy float64 `json:"harmonic_energy"`
	// HarmonicRatio counts harmonic bins regardless of amplitude.
	HarmonicRatio float64 `json:"harmonic_ratio"`

	BassEnergy   float64 `json:"bass_energy"`
	BassRatio    float64 `json:"bass_ratio"`
	TrebleEnergy float64 `json:"treble_energy"`
	TrebleRatio  float64 `json:"treble_ratio"`

	// TransientEnergy sums |s-128|/128 over samples above the transient threshold.
	TransientEnergy float64 `json:"transient_energy"`
	RhythmicRatio   float64 `json:"rhythmic_ratio"`

	SpeechBandEnergy float64 `json:"speech_band_energy"`
	SpeechBandRatio  float64 `json:"speech_band_ratio"`

	// FormantEnergy accumulates amplitude once per formant match, so a bin
	// near two centers counts twice.
	FormantEnergy float64 `json:"formant_energy"`
	FormantRatio  float64 `json:"formant_ratio"`

	SilenceRatio float64 `json:"silence_ratio"`
}

// FeatureExtractor derives a FeatureSet from one frame in a single pass.
type FeatureExtractor struct {
	cfg config.ClassifierConfig
}

// NewFeatureExtractor creates an extractor for the given bands and tolerances.
func NewFeatureExtractor(cfg config.ClassifierConfig) *FeatureExtractor {
	return &FeatureExtractor{cfg: cfg}
}

// Extract scans the frame once. An empty frame yields NaN ratios, which the
// processing loop treats as an invalid computation.
func (e *FeatureExtractor) Extract(f *frame.AudioFrame) FeatureSet {
	n := f.BinCount()
	fs := FeatureSet{BinCount: n}

	var harmonicCount, speechCount, formantCount, silenceCount int

	for i, b := range f.FrequencyBins {
		freq := f.BinFrequency(i)
		amplitude := float64(b) / 255

		if e.IsHarmonic(freq) {
			fs.HarmonicEnergy += amplitude
			harmonicCount++
		}
		if e.cfg.BassBand.Contains(freq) {
			fs.BassEnergy += amplitude
		}
		if e.cfg.TrebleBand.Contains(freq) {
			fs.TrebleEnergy += amplitude
		}
		if e.cfg.SpeechBand.Contains(freq) {
			fs.SpeechBandEnergy += amplitude
			speechCount++
		}
		for _, formant := range FormantCenters {
			if math.Abs(freq-formant) < e.cfg.FormantTolerance {
				fs.FormantEnergy += amplitude
				formantCount++
			}
		}
		if amplitude < e.cfg.SilenceThreshold {
			silenceCount++
		}
	}

	var transientCount int
	for _, s := range f.TimeSamples {
		magnitude := math.Abs(float64(s)-frame.CenterSample) / frame.CenterSample
		if magnitude > e.cfg.TransientThreshold {
			fs.TransientEnergy += magnitude
			transientCount++
		}
	}

	bins := float64(n)
	fs.HarmonicRatio = float64(harmonicCount) / bins
	fs.BassRatio = fs.BassEnergy / bins
	fs.TrebleRatio = fs.TrebleEnergy / bins
	fs.RhythmicRatio = float64(transientCount) / bins
	fs.SpeechBandRatio = float64(speechCount) / bins
	fs.FormantRatio = float64(formantCount) / bins
	fs.SilenceRatio = float64(silenceCount) / bins

	return fs
}

// IsHarmonic reports whether freq lies within the harmonic tolerance of a
// musical note or of its octave above or below.
func (e *FeatureExtractor) IsHarmonic(freq float64) bool {
	tol := e.cfg.HarmonicTolerance
	for _, note := range MusicalNotes {
		if math.Abs(freq-note) < tol ||
			math.Abs(freq-note*2) < tol ||
			math.Abs(freq-note/2) < tol {
			return true
		}
	}
	return false
}
