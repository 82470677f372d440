// Package output applies the controller's gain to the audio path.
package output

import (
	"fmt"
	"sync"

	"github.com/RyanBlaney/sonido-ducker/algorithms/common"
	"github.com/RyanBlaney/sonido-ducker/algorithms/filters"
	"github.com/RyanBlaney/sonido-ducker/config"
	"github.com/RyanBlaney/sonido-ducker/logging"
)

// BlockWriter consumes processed interleaved audio.
type BlockWriter interface {
	WriteBlock(samples []float64, channels int) error
}

// Stage is the downstream gain node. SetGain only moves the target; the
// applied gain approaches it exponentially per sample, so abrupt decisions
// never click. When speech enhancement is on, each channel also runs
// through a high-pass, low-pass, notch bank and compressor before the gain.
type Stage struct {
	sampleRate int
	channels   int
	coeff      float64
	out        BlockWriter
	logger     logging.Logger

	mu      sync.Mutex
	target  float64
	current float64
	chains  []filters.Chain
	scratch []float64
}

// NewStage creates a stage starting at initialGain. out may be nil, in
// which case processed audio is dropped.
func NewStage(cfg config.OutputConfig, sampleRate, channels int, initialGain float64, out BlockWriter) (*Stage, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid output format: %d Hz, %d channels", sampleRate, channels)
	}

	s := &Stage{
		sampleRate: sampleRate,
		channels:   channels,
		coeff:      common.TimeConstantCoefficient(cfg.RampTimeConstant.Seconds(), sampleRate),
		out:        out,
		logger:     logging.WithFields(logging.Fields{"component": "output_stage"}),
		target:     initialGain,
		current:    initialGain,
	}

	if cfg.EnhanceSpeech {
		for c := 0; c < channels; c++ {
			s.chains = append(s.chains, s.enhancementChain(cfg))
		}
		s.logger.Debug("speech enhancement enabled", logging.Fields{
			"stages":      len(s.chains[0]),
			"sample_rate": sampleRate,
		})
	}
	return s, nil
}

// enhancementChain builds one channel's filters. Filters that do not fit
// below Nyquist at this sample rate are left out.
func (s *Stage) enhancementChain(cfg config.OutputConfig) filters.Chain {
	var chain filters.Chain
	add := func(kind filters.Kind, freq, q float64) {
		bq, err := filters.NewBiquad(kind, s.sampleRate, freq, q)
		if err != nil {
			s.logger.Debug("skipping filter", logging.Fields{"reason": err.Error()})
			return
		}
		chain = append(chain, bq)
	}

	if cfg.DCBlockHz > 0 {
		if dc, err := filters.NewDCBlocker(s.sampleRate, cfg.DCBlockHz); err == nil {
			chain = append(chain, dc)
		}
	}
	add(filters.Highpass, cfg.HighPassHz, cfg.FilterQ)
	add(filters.Lowpass, cfg.LowPassHz, cfg.FilterQ)
	add(filters.Notch, cfg.NotchHz, cfg.NotchQ)
	for _, hz := range cfg.HarmonicNotchHz {
		add(filters.Notch, hz, cfg.HarmonicNotchQ)
	}
	chain = append(chain, filters.NewCompressor(cfg.Compressor, s.sampleRate))
	return chain
}

// SetGain sets a new target gain in [0, 1].
func (s *Stage) SetGain(gain float64) error {
	if !common.IsFinite(gain) || gain < 0 || gain > 1 {
		return fmt.Errorf("gain %v outside [0, 1]", gain)
	}

	s.mu.Lock()
	s.target = gain
	s.mu.Unlock()
	return nil
}

// Gain returns the applied and target gain.
func (s *Stage) Gain() (current, target float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.target
}

// StageCount returns the number of enhancement stages per channel.
func (s *Stage) StageCount() int {
	if len(s.chains) == 0 {
		return 0
	}
	return len(s.chains[0])
}

// WriteBlock processes one interleaved block and forwards it.
func (s *Stage) WriteBlock(samples []float64, channels int) error {
	if channels != s.channels {
		return fmt.Errorf("block has %d channels, stage expects %d", channels, s.channels)
	}

	s.mu.Lock()
	if cap(s.scratch) < len(samples) {
		s.scratch = make([]float64, len(samples))
	}
	processed := s.scratch[:len(samples)]

	for i := 0; i < len(samples)/channels; i++ {
		s.current += (s.target - s.current) * s.coeff
		for c := 0; c < channels; c++ {
			x := samples[i*channels+c]
			if s.chains != nil {
				x = s.chains[c].Process(x)
			}
			processed[i*channels+c] = x * s.current
		}
	}
	s.mu.Unlock()

	if s.out == nil {
		return nil
	}
	return s.out.WriteBlock(processed, channels)
}

// Reset clears filter state and jumps the applied gain to the target.
func (s *Stage) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chain := range s.chains {
		chain.Reset()
	}
	s.current = s.target
}
