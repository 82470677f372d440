package windowing

import (
	"fmt"
	"math"
)

// Blackman is the classic three-term Blackman window (a0=0.42, a1=0.5,
// a2=0.08). The periodic form divides by N rather than N-1, which is what
// analyser nodes apply before each FFT.
type Blackman struct {
	size         int
	symmetric    bool
	coefficients []float64
}

// NewBlackman creates a Blackman window of the given size.
func NewBlackman(size int, symmetric bool) *Blackman {
	b := &Blackman{
		size:      size,
		symmetric: symmetric,
	}
	b.generate()
	return b
}

func (b *Blackman) generate() {
	b.coefficients = make([]float64, b.size)

	denominator := float64(b.size)
	if b.symmetric {
		denominator = float64(b.size - 1)
	}

	a0, a1, a2 := 0.42, 0.5, 0.08

	for i := range b.size {
		arg := 2 * math.Pi * float64(i) / denominator
		b.coefficients[i] = a0 - a1*math.Cos(arg) + a2*math.Cos(2*arg)
	}
}

// ApplyTo writes signal*window into dst. Both must match the window size.
func (b *Blackman) ApplyTo(dst, signal []float64) error {
	if len(signal) != b.size || len(dst) != b.size {
		return fmt.Errorf("signal length (%d) or destination length (%d) doesn't match window size (%d)",
			len(signal), len(dst), b.size)
	}

	for i, c := range b.coefficients {
		dst[i] = signal[i] * c
	}
	return nil
}

// Coefficients returns a copy of the window coefficients.
func (b *Blackman) Coefficients() []float64 {
	coeffs := make([]float64, len(b.coefficients))
	copy(coeffs, b.coefficients)
	return coeffs
}

// Size returns the window length.
func (b *Blackman) Size() int {
	return b.size
}
