package config

import (
	"fmt"
	"time"
)

// Profile names a bundle of engine tuning. Profiles replace runtime
// environment sniffing; the classifier itself never branches on them.
type Profile string

const (
	// ProfileStandard is the balanced default.
	ProfileStandard Profile = "standard"
	// ProfileWide trades latency for frequency resolution.
	ProfileWide Profile = "wide"
	// ProfileLowPower uses small FFTs, wider tolerances and slower ramps.
	ProfileLowPower Profile = "lowpower"
)

// Profiles lists every known profile.
var Profiles = []Profile{ProfileStandard, ProfileWide, ProfileLowPower}

// IsValid reports whether p is a known profile.
func (p Profile) IsValid() bool {
	switch p {
	case ProfileStandard, ProfileWide, ProfileLowPower:
		return true
	}
	return false
}

// harmonicNotchBase are the A2-A6 notch centers used by the output stage.
var harmonicNotchBase = []float64{110, 220, 440, 880, 1760}

// ForProfile returns the complete configuration for a profile. An empty
// profile selects ProfileStandard.
func ForProfile(p Profile) (*Config, error) {
	if p == "" {
		p = ProfileStandard
	}
	if !p.IsValid() {
		return nil, fmt.Errorf("config: unknown profile %q", p)
	}

	cfg := &Config{
		Profile:    p,
		LogLevel:   "info",
		Classifier: DefaultClassifierConfig(),
		Gain:       DefaultGainConfig(),
		Analyzer: AnalyzerConfig{
			FFTSize:               2048,
			SmoothingTimeConstant: 0.8,
			MinDecibels:           -100,
			MaxDecibels:           -30,
			SampleRate:            44100,
		},
		Loop: LoopConfig{
			TickInterval:    16 * time.Millisecond,
			RecoveryBackoff: 16 * time.Millisecond,
		},
		Output: OutputConfig{
			RampTimeConstant: 100 * time.Millisecond,
			EnhanceSpeech:    true,
			DCBlockHz:        5,
			HighPassHz:       80,
			LowPassHz:        8000,
			FilterQ:          1.0,
			NotchHz:          440,
			NotchQ:           10,
			HarmonicNotchHz:  append([]float64(nil), harmonicNotchBase...),
			HarmonicNotchQ:   5,
			Compressor: CompressorConfig{
				ThresholdDB: -24,
				KneeDB:      30,
				Ratio:       12,
				Attack:      3 * time.Millisecond,
				Release:     250 * time.Millisecond,
			},
		},
	}

	switch p {
	case ProfileWide:
		cfg.Analyzer.FFTSize = 4096
		cfg.Analyzer.SmoothingTimeConstant = 0.7
		cfg.Analyzer.SampleRate = 48000
		cfg.Output.HarmonicNotchHz = append(cfg.Output.HarmonicNotchHz, 55, 3520)

	case ProfileLowPower:
		cfg.Analyzer.FFTSize = 1024
		cfg.Analyzer.SmoothingTimeConstant = 0.6
		cfg.Classifier.HarmonicTolerance = 15
		cfg.Loop.RecoveryBackoff = 100 * time.Millisecond
		cfg.Output.RampTimeConstant = 200 * time.Millisecond
		cfg.Output.HarmonicNotchHz = append([]float64(nil), harmonicNotchBase[1:4]...)
	}

	return cfg, nil
}
