package output

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-ducker/config"
	"github.com/go-audio/wav"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

type captureWriter struct {
	samples []float64
}

func (c *captureWriter) WriteBlock(samples []float64, channels int) error {
	c.samples = append(c.samples, samples...)
	return nil
}

func plainOutput(ramp time.Duration) config.OutputConfig {
	return config.OutputConfig{RampTimeConstant: ramp}
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func TestStageRampsTowardTarget(t *testing.T) {
	const rate = 1000
	out := &captureWriter{}
	s, err := NewStage(plainOutput(100*time.Millisecond), rate, 1, 1, out)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetGain(0); err != nil {
		t.Fatal(err)
	}

	// one time constant: 100 samples at 1 kHz
	if err := s.WriteBlock(ones(100), 1); err != nil {
		t.Fatal(err)
	}
	current, target := s.Gain()
	if target != 0 {
		t.Errorf("target = %v", target)
	}
	if !scalar.EqualWithinAbs(current, math.Exp(-1), 0.01) {
		t.Errorf("gain after one time constant = %v, want ~%v", current, math.Exp(-1))
	}

	// output follows the ramp monotonically
	for i := 1; i < len(out.samples); i++ {
		if out.samples[i] > out.samples[i-1] {
			t.Fatalf("sample %d rose during a downward ramp", i)
		}
	}

	if err := s.WriteBlock(ones(2000), 1); err != nil {
		t.Fatal(err)
	}
	if current, _ := s.Gain(); current > 1e-6 {
		t.Errorf("gain did not settle: %v", current)
	}
}

func TestStageSetGainValidation(t *testing.T) {
	s, err := NewStage(plainOutput(0), 8000, 1, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range []float64{math.NaN(), math.Inf(1), -0.1, 1.5} {
		if err := s.SetGain(g); err == nil {
			t.Errorf("SetGain(%v) accepted", g)
		}
	}
	if _, target := s.Gain(); target != 0.5 {
		t.Errorf("target changed to %v", target)
	}
}

func TestStageZeroRampIsImmediate(t *testing.T) {
	out := &captureWriter{}
	s, _ := NewStage(plainOutput(0), 8000, 2, 1, out)
	_ = s.SetGain(0.25)
	if err := s.WriteBlock([]float64{1, -1, 0.5, 0.5}, 2); err != nil {
		t.Fatal(err)
	}
	want := []float64{0.25, -0.25, 0.125, 0.125}
	if !floats.Equal(out.samples, want) {
		t.Errorf("samples = %v, want %v", out.samples, want)
	}
}

func TestStageChannelMismatch(t *testing.T) {
	s, _ := NewStage(plainOutput(0), 8000, 2, 1, nil)
	if err := s.WriteBlock([]float64{0, 0}, 1); err == nil {
		t.Error("want error")
	}
}

func TestStageEnhancementChain(t *testing.T) {
	cfg := config.DefaultConfig().Output

	s, err := NewStage(cfg, 44100, 1, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	// dc blocker, high-pass, low-pass, 440 notch, five harmonic notches, compressor
	if got := s.StageCount(); got != 10 {
		t.Errorf("StageCount = %d, want 10", got)
	}

	// at 8 kHz the 8 kHz low-pass does not fit below Nyquist
	low, _ := NewStage(cfg, 8000, 1, 1, nil)
	if got := low.StageCount(); got != 9 {
		t.Errorf("StageCount at 8 kHz = %d, want 9", got)
	}
}

func TestStageEnhancementRemovesNotchedTone(t *testing.T) {
	cfg := config.DefaultConfig().Output
	cfg.RampTimeConstant = 0
	out := &captureWriter{}
	s, _ := NewStage(cfg, 44100, 1, 1, out)

	tone := make([]float64, 44100)
	for i := range tone {
		tone[i] = 0.01 * math.Sin(2*math.Pi*440*float64(i)/44100)
	}
	if err := s.WriteBlock(tone, 1); err != nil {
		t.Fatal(err)
	}
	tail := out.samples[len(out.samples)/2:]
	var peak float64
	for _, v := range tail {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak > 0.001 {
		t.Errorf("440 Hz survived the notch: peak %v", peak)
	}

	s.Reset()
}

func TestWAVWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := CreateWAV(path, 16000, 1, 16)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBlock([]float64{0, 0.5, -0.5, 2, -2}, 1); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBlock([]float64{0.25}, 2); err == nil {
		t.Error("want channel mismatch error")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("written file is not a valid wav")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	want := []int{0, 16384, -16384, 32767, -32767}
	if len(buf.Data) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(want))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
	if dec.SampleRate != 16000 {
		t.Errorf("sample rate = %d", dec.SampleRate)
	}
}
