package filters

import (
	"math"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-ducker/config"
	"gonum.org/v1/gonum/floats/scalar"
)

const testRate = 44100

func mustBiquad(t *testing.T, kind Kind, freq, q float64) *Biquad {
	t.Helper()
	bq, err := NewBiquad(kind, testRate, freq, q)
	if err != nil {
		t.Fatalf("NewBiquad: %v", err)
	}
	return bq
}

// sineRMS filters a sine and returns the output RMS after settling.
func sineRMS(p Processor, freq float64) float64 {
	const n = testRate / 2
	var sum float64
	var count int
	for i := 0; i < n; i++ {
		y := p.Process(math.Sin(2 * math.Pi * freq * float64(i) / testRate))
		if i >= n/2 {
			sum += y * y
			count++
		}
	}
	return math.Sqrt(sum / float64(count))
}

func TestBiquadResponse(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		freq, q   float64
		probe     float64
		wantAbove float64
		wantBelow float64
	}{
		{"lowpass passes low", Lowpass, 8000, 1, 100, 0.99, 1.01},
		{"lowpass cuts high", Lowpass, 8000, 1, 18000, 0, 0.2},
		{"highpass cuts low", Highpass, 80, 1, 10, 0, 0.05},
		{"highpass passes high", Highpass, 80, 1, 2000, 0.99, 1.01},
		{"bandpass peak", Bandpass, 1000, 2, 1000, 0.999, 1.001},
		{"bandpass skirt", Bandpass, 1000, 2, 100, 0, 0.1},
		{"notch center", Notch, 440, 10, 440, 0, 1e-6},
		{"notch away", Notch, 440, 10, 1000, 0.95, 1.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustBiquad(t, tt.kind, tt.freq, tt.q).Response(tt.probe)
			if got < tt.wantAbove || got > tt.wantBelow {
				t.Errorf("|H(%v)| = %v, want in [%v, %v]", tt.probe, got, tt.wantAbove, tt.wantBelow)
			}
		})
	}
}

func TestBiquadProcessMatchesResponse(t *testing.T) {
	bq := mustBiquad(t, Notch, 440, 10)
	rms := sineRMS(bq, 440)
	if rms > 0.01 {
		t.Errorf("notch output RMS at center = %v", rms)
	}

	bq.Reset()
	rms = sineRMS(bq, 2000)
	want := bq.Response(2000) / math.Sqrt2
	if !scalar.EqualWithinAbs(rms, want, 0.01) {
		t.Errorf("RMS at 2 kHz = %v, want %v", rms, want)
	}
}

func TestNewBiquadValidation(t *testing.T) {
	tests := []struct {
		name string
		rate int
		freq float64
		q    float64
	}{
		{"zero rate", 0, 100, 1},
		{"zero freq", testRate, 0, 1},
		{"above nyquist", testRate, 30000, 1},
		{"zero q", testRate, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBiquad(Lowpass, tt.rate, tt.freq, tt.q); err == nil {
				t.Error("want error")
			}
		})
	}
}

func defaultCompressor() *Compressor {
	return NewCompressor(config.CompressorConfig{
		ThresholdDB: -24,
		KneeDB:      30,
		Ratio:       12,
		Attack:      3 * time.Millisecond,
		Release:     250 * time.Millisecond,
	}, testRate)
}

func TestCompressorStaticCurve(t *testing.T) {
	c := defaultCompressor()
	tests := []struct {
		in, want float64
	}{
		{-60, -60},          // below the knee
		{-39, -39},          // knee starts at threshold - knee/2
		{0, -24 + 24.0/12},  // above the knee: ratio applies
		{-9, -24 + 15.0/12}, // knee ends at threshold + knee/2
	}
	for _, tt := range tests {
		if got := c.StaticCurve(tt.in); !scalar.EqualWithinAbs(got, tt.want, 1e-9) {
			t.Errorf("StaticCurve(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	// monotone and never louder than the input
	prev := math.Inf(-1)
	for in := -80.0; in <= 0; in += 0.5 {
		out := c.StaticCurve(in)
		if out < prev || out > in+1e-12 {
			t.Fatalf("curve not monotone/attenuating at %v: %v", in, out)
		}
		prev = out
	}
}

func TestCompressorReducesLoudSignal(t *testing.T) {
	c := defaultCompressor()
	loud := sineRMS(c, 1000)
	if loud > 0.707*0.5 {
		t.Errorf("full-scale sine RMS after compression = %v, want well below 0.707", loud)
	}

	quiet := defaultCompressor()
	rms := sineRMS(processorFunc(func(x float64) float64 { return quiet.Process(x * 0.001) }), 1000)
	if !scalar.EqualWithinAbs(rms, 0.001/math.Sqrt2, 1e-5) {
		t.Errorf("quiet sine RMS = %v, want unchanged", rms)
	}
}

func TestCompressorReset(t *testing.T) {
	c := defaultCompressor()
	for i := 0; i < 1000; i++ {
		c.Process(1)
	}
	if c.ReductionDB() >= 0 {
		t.Fatalf("no gain reduction: %v", c.ReductionDB())
	}
	c.Reset()
	if c.ReductionDB() != 0 {
		t.Errorf("ReductionDB after reset = %v", c.ReductionDB())
	}
}

func TestChain(t *testing.T) {
	chain := Chain{
		mustBiquad(t, Highpass, 80, 1),
		mustBiquad(t, Lowpass, 8000, 1),
	}
	buf := make([]float64, 4096)
	for i := range buf {
		buf[i] = 0.5 // DC is removed by the high-pass
	}
	chain.ProcessBuffer(buf)
	if math.Abs(buf[len(buf)-1]) > 0.01 {
		t.Errorf("DC not removed: %v", buf[len(buf)-1])
	}
	chain.Reset()
}

type processorFunc func(float64) float64

func (f processorFunc) Process(x float64) float64 { return f(x) }
func (f processorFunc) Reset()                    {}

func TestDCBlocker(t *testing.T) {
	dc, err := NewDCBlocker(testRate, 5)
	if err != nil {
		t.Fatalf("NewDCBlocker: %v", err)
	}

	var y float64
	for range testRate {
		y = dc.Process(0.5)
	}
	if math.Abs(y) > 1e-6 {
		t.Errorf("offset after 1s = %v, want ~0", y)
	}

	dc.Reset()
	if got := dc.Response(1000, testRate); !scalar.EqualWithinAbs(got, 1, 0.001) {
		t.Errorf("|H(1 kHz)| = %v, want ~1", got)
	}
	rms := sineRMS(dc, 1000)
	if want := 1 / math.Sqrt2; !scalar.EqualWithinAbs(rms, want, 0.01) {
		t.Errorf("RMS at 1 kHz = %v, want %v", rms, want)
	}
}

func TestNewDCBlockerValidation(t *testing.T) {
	tests := []struct {
		name   string
		rate   int
		cutoff float64
	}{
		{"zero rate", 0, 5},
		{"zero cutoff", testRate, 0},
		{"above nyquist", 8000, 4000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDCBlocker(tt.rate, tt.cutoff); err == nil {
				t.Error("expected error")
			}
		})
	}
}
