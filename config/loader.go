package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"

	"github.com/RyanBlaney/sonido-ducker/logging"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// Config. It is a convenience wrapper around LoadFromReader.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of the profile the document
// names (standard when absent), then validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	var head struct {
		Profile Profile `yaml:"profile"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	cfg, err := ForProfile(head.Profile)
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Profile.IsValid() {
		errs = append(errs, fmt.Errorf("profile %q is invalid; valid values: %v", cfg.Profile, Profiles))
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	c := cfg.Classifier
	errs = append(errs,
		openUnit("classifier.music_threshold", c.MusicThreshold),
		smoothing("classifier.score_alpha", c.ScoreAlpha),
		smoothing("classifier.stats_alpha", c.StatsAlpha),
		positive("classifier.harmonic_tolerance_hz", c.HarmonicTolerance),
		positive("classifier.formant_tolerance_hz", c.FormantTolerance),
		openUnit("classifier.transient_threshold", c.TransientThreshold),
		openUnit("classifier.silence_threshold", c.SilenceThreshold),
		band("classifier.bass_band", c.BassBand),
		band("classifier.treble_band", c.TrebleBand),
		band("classifier.speech_band", c.SpeechBand),
	)

	g := cfg.Gain
	errs = append(errs, smoothing("gain.beta", g.Beta))
	if g.Min <= 0 || g.Max > 1 || g.Min > g.Max {
		errs = append(errs, fmt.Errorf("gain range [%.3f, %.3f] must satisfy 0 < min <= max <= 1", g.Min, g.Max))
	} else {
		if g.Initial < g.Min || g.Initial > g.Max {
			errs = append(errs, fmt.Errorf("gain.initial %.3f is outside [%.3f, %.3f]", g.Initial, g.Min, g.Max))
		}
		if g.Disabled <= 0 || g.Disabled > 1 {
			errs = append(errs, fmt.Errorf("gain.disabled %.3f is out of range (0, 1]", g.Disabled))
		}
	}

	a := cfg.Analyzer
	if a.FFTSize < 32 || a.FFTSize > 32768 || bits.OnesCount(uint(a.FFTSize)) != 1 {
		errs = append(errs, fmt.Errorf("analyzer.fft_size %d must be a power of two in [32, 32768]", a.FFTSize))
	}
	if a.SmoothingTimeConstant < 0 || a.SmoothingTimeConstant >= 1 {
		errs = append(errs, fmt.Errorf("analyzer.smoothing_time_constant %.3f is out of range [0, 1)", a.SmoothingTimeConstant))
	}
	if a.MinDecibels >= a.MaxDecibels {
		errs = append(errs, fmt.Errorf("analyzer.min_decibels %.1f must be below max_decibels %.1f", a.MinDecibels, a.MaxDecibels))
	}
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("analyzer.sample_rate %d must be positive", a.SampleRate))
	}

	l := cfg.Loop
	if l.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("loop.tick_interval %v must be positive", l.TickInterval))
	}
	if l.RecoveryBackoff < 0 {
		errs = append(errs, fmt.Errorf("loop.recovery_backoff %v must not be negative", l.RecoveryBackoff))
	}
	if l.MaxConsecutiveRecoveries < 0 {
		errs = append(errs, fmt.Errorf("loop.max_consecutive_recoveries %d must not be negative", l.MaxConsecutiveRecoveries))
	}

	o := cfg.Output
	if o.RampTimeConstant < 0 {
		errs = append(errs, fmt.Errorf("output.ramp_time_constant %v must not be negative", o.RampTimeConstant))
	}
	if o.EnhanceSpeech {
		errs = append(errs,
			positive("output.highpass_hz", o.HighPassHz),
			positive("output.lowpass_hz", o.LowPassHz),
			positive("output.filter_q", o.FilterQ),
			positive("output.notch_q", o.NotchQ),
			positive("output.harmonic_notch_q", o.HarmonicNotchQ),
		)
		if o.DCBlockHz < 0 {
			errs = append(errs, fmt.Errorf("output.dc_block_hz %.1f must not be negative", o.DCBlockHz))
		}
		if o.HighPassHz >= o.LowPassHz {
			errs = append(errs, fmt.Errorf("output.highpass_hz %.1f must be below lowpass_hz %.1f", o.HighPassHz, o.LowPassHz))
		}
		if o.Compressor.Ratio < 1 {
			errs = append(errs, fmt.Errorf("output.compressor.ratio %.2f must be at least 1", o.Compressor.Ratio))
		}
		if o.Compressor.KneeDB < 0 {
			errs = append(errs, fmt.Errorf("output.compressor.knee_db %.1f must not be negative", o.Compressor.KneeDB))
		}
	}

	return errors.Join(errs...)
}

func openUnit(name string, v float64) error {
	if v <= 0 || v >= 1 {
		return fmt.Errorf("%s %.4f is out of range (0, 1)", name, v)
	}
	return nil
}

func smoothing(name string, v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%s %.4f is out of range (0, 1]", name, v)
	}
	return nil
}

func positive(name string, v float64) error {
	if v <= 0 {
		return fmt.Errorf("%s %.2f must be positive", name, v)
	}
	return nil
}

func band(name string, b Band) error {
	if b.Low < 0 || b.Low >= b.High {
		return fmt.Errorf("%s [%.1f, %.1f] must satisfy 0 <= low < high", name, b.Low, b.High)
	}
	return nil
}
