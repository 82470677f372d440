// Package config holds every tunable of the classifier, gain controller,
// analyzer, processing loop and output stage. Values are fixed once a
// session is constructed.
package config

import "time"

// Config is the complete session configuration.
type Config struct {
	Profile  Profile `yaml:"profile" json:"profile"`
	LogLevel string  `yaml:"log_level" json:"log_level"`

	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Gain       GainConfig       `yaml:"gain" json:"gain"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer" json:"analyzer"`
	Loop       LoopConfig       `yaml:"loop" json:"loop"`
	Output     OutputConfig     `yaml:"output" json:"output"`
}

// Band is an inclusive frequency range in Hz.
type Band struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// Contains reports whether freq lies within the band, edges included.
func (b Band) Contains(freq float64) bool {
	return freq >= b.Low && freq <= b.High
}

// ClassifierConfig tunes feature extraction and score smoothing.
type ClassifierConfig struct {
	// MusicThreshold is the music-dominance threshold shared by the gain
	// decision table and the music-frame counter.
	MusicThreshold float64 `yaml:"music_threshold" json:"music_threshold"`

	// ScoreAlpha smooths the per-frame music and speech scores.
	ScoreAlpha float64 `yaml:"score_alpha" json:"score_alpha"`

	// StatsAlpha smooths the long-horizon average music level.
	StatsAlpha float64 `yaml:"stats_alpha" json:"stats_alpha"`

	HarmonicTolerance  float64 `yaml:"harmonic_tolerance_hz" json:"harmonic_tolerance_hz"`
	FormantTolerance   float64 `yaml:"formant_tolerance_hz" json:"formant_tolerance_hz"`
	TransientThreshold float64 `yaml:"transient_threshold" json:"transient_threshold"`
	SilenceThreshold   float64 `yaml:"silence_threshold" json:"silence_threshold"`

	BassBand   Band `yaml:"bass_band" json:"bass_band"`
	TrebleBand Band `yaml:"treble_band" json:"treble_band"`
	SpeechBand Band `yaml:"speech_band" json:"speech_band"`
}

// GainConfig tunes the gain controller.
type GainConfig struct {
	// Beta smooths the target gain. Kept well below ScoreAlpha to avoid
	// audible pumping.
	Beta     float64 `yaml:"beta" json:"beta"`
	Min      float64 `yaml:"min" json:"min"`
	Max      float64 `yaml:"max" json:"max"`
	Initial  float64 `yaml:"initial" json:"initial"`
	Disabled float64 `yaml:"disabled" json:"disabled"`
}

// AnalyzerConfig shapes the frames produced from PCM input.
type AnalyzerConfig struct {
	FFTSize               int     `yaml:"fft_size" json:"fft_size"`
	SmoothingTimeConstant float64 `yaml:"smoothing_time_constant" json:"smoothing_time_constant"`
	MinDecibels           float64 `yaml:"min_decibels" json:"min_decibels"`
	MaxDecibels           float64 `yaml:"max_decibels" json:"max_decibels"`
	SampleRate            int     `yaml:"sample_rate" json:"sample_rate"`
}

// FrequencyBinCount is half the FFT size.
func (a AnalyzerConfig) FrequencyBinCount() int {
	return a.FFTSize / 2
}

// LoopConfig controls tick scheduling and recovery.
type LoopConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval" json:"tick_interval"`
	RecoveryBackoff time.Duration `yaml:"recovery_backoff" json:"recovery_backoff"`

	// MaxConsecutiveRecoveries escalates to a fatal stop when the source
	// keeps failing right after successful resumes. Zero means unlimited.
	MaxConsecutiveRecoveries int `yaml:"max_consecutive_recoveries" json:"max_consecutive_recoveries"`
}

// OutputConfig configures the downstream gain stage.
type OutputConfig struct {
	// RampTimeConstant is the exponential approach time toward each new gain.
	RampTimeConstant time.Duration `yaml:"ramp_time_constant" json:"ramp_time_constant"`

	EnhanceSpeech bool `yaml:"enhance_speech" json:"enhance_speech"`

	// DCBlockHz is the cutoff of the DC blocker ahead of the filters. Zero
	// disables it.
	DCBlockHz float64 `yaml:"dc_block_hz" json:"dc_block_hz"`

	HighPassHz      float64   `yaml:"highpass_hz" json:"highpass_hz"`
	LowPassHz       float64   `yaml:"lowpass_hz" json:"lowpass_hz"`
	FilterQ         float64   `yaml:"filter_q" json:"filter_q"`
	NotchHz         float64   `yaml:"notch_hz" json:"notch_hz"`
	NotchQ          float64   `yaml:"notch_q" json:"notch_q"`
	HarmonicNotchHz []float64 `yaml:"harmonic_notch_hz" json:"harmonic_notch_hz"`
	HarmonicNotchQ  float64   `yaml:"harmonic_notch_q" json:"harmonic_notch_q"`

	Compressor CompressorConfig `yaml:"compressor" json:"compressor"`
}

// CompressorConfig mirrors a feed-forward dynamics compressor.
type CompressorConfig struct {
	ThresholdDB float64       `yaml:"threshold_db" json:"threshold_db"`
	KneeDB      float64       `yaml:"knee_db" json:"knee_db"`
	Ratio       float64       `yaml:"ratio" json:"ratio"`
	Attack      time.Duration `yaml:"attack" json:"attack"`
	Release     time.Duration `yaml:"release" json:"release"`
}

// DefaultClassifierConfig returns the classifier defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MusicThreshold:     0.6,
		ScoreAlpha:         0.1,
		StatsAlpha:         0.01,
		HarmonicTolerance:  10,
		FormantTolerance:   100,
		TransientThreshold: 0.3,
		SilenceThreshold:   0.1,
		BassBand:           Band{Low: 20, High: 150},
		TrebleBand:         Band{Low: 800, High: 4000},
		SpeechBand:         Band{Low: 85, High: 255},
	}
}

// DefaultGainConfig returns the gain controller defaults.
func DefaultGainConfig() GainConfig {
	return GainConfig{
		Beta:     0.05,
		Min:      0.01,
		Max:      1.0,
		Initial:  0.5,
		Disabled: 1.0,
	}
}

// DefaultConfig returns the standard profile.
func DefaultConfig() *Config {
	cfg, _ := ForProfile(ProfileStandard)
	return cfg
}
