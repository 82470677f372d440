package filters

import (
	"fmt"
	"math"
)

// Kind selects the biquad response.
type Kind int

const (
	Lowpass Kind = iota
	Highpass
	Bandpass
	Notch
)

func (k Kind) String() string {
	switch k {
	case Lowpass:
		return "lowpass"
	case Highpass:
		return "highpass"
	case Bandpass:
		return "bandpass"
	case Notch:
		return "notch"
	default:
		return "unknown"
	}
}

// Biquad is a second-order IIR section using the cookbook formulas from
// Robert Bristow-Johnson's "Cookbook formulae for audio EQ biquad filter
// coefficients".
// Reference: https://webaudio.github.io/Audio-EQ-Cookbook/audio-eq-cookbook.html
type Biquad struct {
	kind       Kind
	sampleRate int
	freq       float64
	q          float64

	// normalized by a0
	b0, b1, b2 float64
	a1, a2     float64

	// direct form II delay line
	w1, w2 float64
}

// NewBiquad creates a filter of the given kind at freq Hz with quality q.
func NewBiquad(kind Kind, sampleRate int, freq, q float64) (*Biquad, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if freq <= 0 || freq >= float64(sampleRate)/2 {
		return nil, fmt.Errorf("%s frequency %.1f Hz must be between 0 and Nyquist (%d Hz)", kind, freq, sampleRate/2)
	}
	if q <= 0 {
		return nil, fmt.Errorf("%s Q must be positive, got %v", kind, q)
	}

	bq := &Biquad{kind: kind, sampleRate: sampleRate, freq: freq, q: q}
	bq.computeCoefficients()
	return bq, nil
}

func (bq *Biquad) computeCoefficients() {
	w0 := 2.0 * math.Pi * bq.freq / float64(bq.sampleRate)
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2.0 * bq.q)

	var b0, b1, b2 float64
	switch bq.kind {
	case Lowpass:
		b0 = (1 - cosW0) / 2
		b1 = 1 - cosW0
		b2 = (1 - cosW0) / 2
	case Highpass:
		b0 = (1 + cosW0) / 2
		b1 = -(1 + cosW0)
		b2 = (1 + cosW0) / 2
	case Bandpass:
		// constant 0 dB peak gain
		b0 = alpha
		b1 = 0
		b2 = -alpha
	case Notch:
		b0 = 1
		b1 = -2 * cosW0
		b2 = 1
	}

	a0 := 1 + alpha
	bq.b0 = b0 / a0
	bq.b1 = b1 / a0
	bq.b2 = b2 / a0
	bq.a1 = -2 * cosW0 / a0
	bq.a2 = (1 - alpha) / a0
}

// Process filters one sample.
//
// w[n] = x[n] - a1*w[n-1] - a2*w[n-2]
// y[n] = b0*w[n] + b1*w[n-1] + b2*w[n-2]
func (bq *Biquad) Process(input float64) float64 {
	w := input - bq.a1*bq.w1 - bq.a2*bq.w2
	output := bq.b0*w + bq.b1*bq.w1 + bq.b2*bq.w2

	bq.w2 = bq.w1
	bq.w1 = w

	return output
}

// Reset clears the delay line. Call it across discontinuities.
func (bq *Biquad) Reset() {
	bq.w1, bq.w2 = 0, 0
}

// Response returns the linear magnitude response at frequency Hz.
//
// H(e^jw) = (b0 + b1*e^-jw + b2*e^-j2w) / (1 + a1*e^-jw + a2*e^-j2w)
func (bq *Biquad) Response(frequency float64) float64 {
	w := 2.0 * math.Pi * frequency / float64(bq.sampleRate)
	z1 := complex(math.Cos(w), -math.Sin(w))
	z2 := z1 * z1

	num := complex(bq.b0, 0) + complex(bq.b1, 0)*z1 + complex(bq.b2, 0)*z2
	den := 1 + complex(bq.a1, 0)*z1 + complex(bq.a2, 0)*z2
	h := num / den
	return math.Hypot(real(h), imag(h))
}

// Kind returns the filter response type.
func (bq *Biquad) Kind() Kind {
	return bq.kind
}

// Frequency returns the cutoff or center frequency in Hz.
func (bq *Biquad) Frequency() float64 {
	return bq.freq
}
