// Package frametest builds synthetic analyser frames for tests.
package frametest

import (
	"math"

	"github.com/RyanBlaney/sonido-ducker/frame"
)

// Silence returns a frame with every bin at zero and every time sample at
// the center value.
func Silence(bins, sampleRate int) *frame.AudioFrame {
	f := &frame.AudioFrame{
		FrequencyBins: make([]uint8, bins),
		TimeSamples:   make([]uint8, bins),
		SampleRate:    sampleRate,
	}
	for i := range f.TimeSamples {
		f.TimeSamples[i] = frame.CenterSample
	}
	return f
}

// WithEnergyAt returns a silent frame whose bins at exactly the given
// frequencies carry amplitude. Frequencies that do not fall on a bin are
// ignored.
func WithEnergyAt(bins, sampleRate int, amplitude uint8, freqs ...float64) *frame.AudioFrame {
	f := Silence(bins, sampleRate)
	for i := range f.FrequencyBins {
		binFreq := f.BinFrequency(i)
		for _, want := range freqs {
			if math.Abs(binFreq-want) < 1e-9 {
				f.FrequencyBins[i] = amplitude
			}
		}
	}
	return f
}

// SineSamples returns count byte-scaled samples of a sine at freq with the
// given peak level in [0,1].
func SineSamples(count, sampleRate int, freq, level float64) []uint8 {
	out := make([]uint8, count)
	for n := range out {
		v := 127 * level * math.Sin(2*math.Pi*freq*float64(n)/float64(sampleRate))
		out[n] = uint8(math.Max(0, math.Min(255, frame.CenterSample+math.Round(v))))
	}
	return out
}

// Harmonic440 is a loud A4 tone: full-scale bins at exactly 440 Hz and its
// upper octave, silence elsewhere, and the matching sine in the time domain.
// The bin layout (32 bins of 55 Hz) puts many bins near musical notes, so
// the harmonic ratio is well above the boost threshold. It is not
// representative of analyser output: in a 1024-bin frame at 44.1 kHz the
// same tone gives a harmonic ratio near 0.02.
func Harmonic440() *frame.AudioFrame {
	const bins, sampleRate = 32, 3520
	f := WithEnergyAt(bins, sampleRate, 255, 440, 880)
	f.TimeSamples = SineSamples(bins, sampleRate, 440, 1.0)
	return f
}

// SpeechBand has full-scale bins spread over 85-235 Hz, all clear of any
// harmonic window, and a flat time domain. 48 bins of 5 Hz.
func SpeechBand() *frame.AudioFrame {
	const bins, sampleRate = 48, 480
	return WithEnergyAt(bins, sampleRate, 255,
		85, 90, 95, 100, 105, 110, 115, 120, 185, 235)
}
