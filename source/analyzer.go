// Package source turns PCM audio into analyser frames for the processing
// loop.
package source

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-ducker/algorithms/common"
	"github.com/RyanBlaney/sonido-ducker/algorithms/spectral"
	"github.com/RyanBlaney/sonido-ducker/algorithms/windowing"
	"github.com/RyanBlaney/sonido-ducker/config"
	"github.com/RyanBlaney/sonido-ducker/frame"
)

// Analyzer keeps the most recent FFT-size window of mono samples and
// renders it as byte-scaled frequency and time data: Blackman window,
// magnitude/N, smoothing across frames by the time constant, then dB
// mapped linearly from [MinDecibels, MaxDecibels] to 0-255.
type Analyzer struct {
	cfg        config.AnalyzerConfig
	sampleRate int

	window *windowing.Blackman
	fft    *spectral.FFT

	history *common.History

	scratch  []float64
	mags     []float64
	smoothed []float64
}

// NewAnalyzer creates an analyzer for mono input at sampleRate.
func NewAnalyzer(cfg config.AnalyzerConfig, sampleRate int) (*Analyzer, error) {
	if cfg.FFTSize < 32 || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		return nil, fmt.Errorf("fft size must be a power of two >= 32, got %d", cfg.FFTSize)
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		return nil, fmt.Errorf("max decibels (%v) must exceed min decibels (%v)", cfg.MaxDecibels, cfg.MinDecibels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	bins := cfg.FrequencyBinCount()
	return &Analyzer{
		cfg:        cfg,
		sampleRate: sampleRate,
		window:     windowing.NewBlackman(cfg.FFTSize, false),
		fft:        spectral.NewFFT(cfg.FFTSize),
		history:    common.NewHistory(cfg.FFTSize),
		scratch:    make([]float64, cfg.FFTSize),
		mags:       make([]float64, bins),
		smoothed:   make([]float64, bins),
	}, nil
}

// Write appends mono samples, keeping only the latest FFT-size window.
func (a *Analyzer) Write(samples []float64) {
	a.history.Write(samples)
}

// Frame renders the current window. History not yet written is silence.
func (a *Analyzer) Frame() *frame.AudioFrame {
	n := a.history.Size()
	bins := a.cfg.FrequencyBinCount()
	a.history.CopyTo(a.scratch)

	f := &frame.AudioFrame{
		FrequencyBins: make([]uint8, bins),
		TimeSamples:   make([]uint8, bins),
		SampleRate:    a.sampleRate,
	}

	// most recent half window, like getByteTimeDomainData on a
	// frequencyBinCount-sized array
	for i, s := range a.scratch[n-bins:] {
		f.TimeSamples[i] = timeByte(s)
	}

	// sizes are fixed at construction, so the window cannot fail
	_ = a.window.ApplyTo(a.scratch, a.scratch)
	a.fft.Magnitudes(a.mags, a.scratch)

	tau := a.cfg.SmoothingTimeConstant
	for k, m := range a.mags {
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*m
		f.FrequencyBins[k] = a.decibelByte(a.smoothed[k])
	}

	return f
}

// Reset discards history and smoothing state.
func (a *Analyzer) Reset() {
	a.history.Reset()
	clear(a.smoothed)
}

func (a *Analyzer) decibelByte(magnitude float64) uint8 {
	db := common.ToDecibels(magnitude)
	scaled := 255 * (db - a.cfg.MinDecibels) / (a.cfg.MaxDecibels - a.cfg.MinDecibels)
	if math.IsNaN(scaled) {
		return 0
	}
	return uint8(common.Clamp(math.Floor(scaled), 0, 255))
}

func timeByte(sample float64) uint8 {
	return uint8(common.Clamp(math.Floor(frame.CenterSample*(1+sample)), 0, 255))
}
