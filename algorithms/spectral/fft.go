package spectral

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// FFT computes magnitude spectra of fixed-size real frames using
// mjibson/go-dsp.
type FFT struct {
	size int
}

// NewFFT creates an FFT for frames of the given size.
func NewFFT(size int) *FFT {
	return &FFT{size: size}
}

// Size returns the frame length.
func (f *FFT) Size() int {
	return f.size
}

// Compute returns the complex spectrum of x.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	// mjibson/go-dsp handles all sizes efficiently, including non-power-of-2
	return fft.FFTReal(x)
}

// Magnitudes writes |X[k]|/N for k < N/2 into dst, which must hold at
// least N/2 values. The 1/N scaling matches analyser-node output, so a
// full-scale sine peaks near 0.5 before windowing loss.
func (f *FFT) Magnitudes(dst, x []float64) {
	spectrum := f.Compute(x)
	n := float64(len(x))
	for k := 0; k < len(x)/2 && k < len(dst); k++ {
		dst[k] = cmplx.Abs(spectrum[k]) / n
	}
}
