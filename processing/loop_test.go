package processing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-ducker/classifier"
	"github.com/RyanBlaney/sonido-ducker/classifier/gain"
	"github.com/RyanBlaney/sonido-ducker/config"
	"github.com/RyanBlaney/sonido-ducker/frame"
	"github.com/RyanBlaney/sonido-ducker/frame/frametest"
	"github.com/RyanBlaney/sonido-ducker/logging"
)

// step is one scripted source response.
type step struct {
	frame *frame.AudioFrame
	err   error
	panic bool
}

// scriptedSource replays steps in order, then repeats the fallback frame.
type scriptedSource struct {
	mu        sync.Mutex
	steps     []step
	fallback  *frame.AudioFrame
	resumes   int
	resumeErr error
}

func (s *scriptedSource) NextFrame(ctx context.Context) (*frame.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		if s.fallback == nil {
			return nil, frame.ErrEndOfStream
		}
		return s.fallback, nil
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	if next.panic {
		panic("decoder exploded")
	}
	return next.frame, next.err
}

func (s *scriptedSource) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumes++
	return s.resumeErr
}

func (s *scriptedSource) resumeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumes
}

// plainSource cannot resume.
type plainSource struct {
	err error
}

func (p plainSource) NextFrame(ctx context.Context) (*frame.AudioFrame, error) {
	return nil, p.err
}

type recordingSink struct {
	mu    sync.Mutex
	gains []float64
	err   error
}

func (r *recordingSink) SetGain(g float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.gains = append(r.gains, g)
	return nil
}

func (r *recordingSink) all() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.gains...)
}

func (r *recordingSink) last() float64 {
	g := r.all()
	if len(g) == 0 {
		return -1
	}
	return g[len(g)-1]
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Loop.RecoveryBackoff = 0
	return cfg
}

func newTestLoop(t *testing.T, cfg *config.Config, src FrameSource, sink GainSink, opts ...Option) *Loop {
	t.Helper()
	opts = append([]Option{WithLogger(&logging.NoOpLogger{})}, opts...)
	return New(cfg, src, sink, opts...)
}

func mustTick(t *testing.T, l *Loop) TickResult {
	t.Helper()
	res, err := l.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return res
}

func TestTickProcessed(t *testing.T) {
	src := &scriptedSource{fallback: frametest.Harmonic440()}
	sink := &recordingSink{}
	l := newTestLoop(t, testConfig(), src, sink)

	res := mustTick(t, l)
	if res.Status != TickProcessed {
		t.Fatalf("status = %v", res.Status)
	}
	if got := sink.all(); len(got) != 1 || got[0] != res.Gain {
		t.Errorf("sink gains = %v, want [%v]", got, res.Gain)
	}

	snap := l.Stats()
	if snap.FramesProcessed != 1 {
		t.Errorf("frames = %d", snap.FramesProcessed)
	}
	if snap.SampleRate != 3520 {
		t.Errorf("sample rate = %d", snap.SampleRate)
	}
	if snap.MusicScore != res.Scores.Music || snap.Gain != res.Gain {
		t.Errorf("snapshot %+v does not match tick %+v", snap, res)
	}
	if snap.State != "idle" || snap.Processing {
		t.Errorf("direct Tick should not change lifecycle: %+v", snap)
	}
}

func TestTickSkippedWhenNotReady(t *testing.T) {
	src := &scriptedSource{steps: []step{{err: frame.ErrNotReady}}}
	sink := &recordingSink{}
	l := newTestLoop(t, testConfig(), src, sink)

	res := mustTick(t, l)
	if res.Status != TickSkipped {
		t.Fatalf("status = %v", res.Status)
	}
	if len(sink.all()) != 0 {
		t.Error("skipped tick applied a gain")
	}
	if l.Stats().FramesProcessed != 0 {
		t.Error("skipped tick updated stats")
	}
}

func TestTickInvalidFrameContained(t *testing.T) {
	empty := &frame.AudioFrame{SampleRate: 44100}
	src := &scriptedSource{
		steps: []step{
			{frame: frametest.Harmonic440()},
			{frame: empty},
		},
		fallback: frametest.Harmonic440(),
	}
	sink := &recordingSink{}
	l := newTestLoop(t, testConfig(), src, sink)

	first := mustTick(t, l)
	res := mustTick(t, l)
	if res.Status != TickInvalid {
		t.Fatalf("status = %v", res.Status)
	}
	if len(sink.all()) != 1 {
		t.Error("invalid tick applied a gain")
	}
	snap := l.Stats()
	if snap.FramesProcessed != 2 {
		t.Errorf("frames = %d, want 2", snap.FramesProcessed)
	}
	if snap.MusicScore != 0 || snap.SpeechScore != 0 {
		t.Errorf("invalid tick published scores %v/%v", snap.MusicScore, snap.SpeechScore)
	}

	// smoothing continues from the last valid state
	cls := classifier.New(testConfig().Classifier)
	want, _ := cls.Classify(frametest.Harmonic440(), first.Scores)
	third := mustTick(t, l)
	if third.Scores != want {
		t.Errorf("scores after invalid tick = %+v, want %+v", third.Scores, want)
	}
}

// After a source failure and recovery, the next tick starts from the
// default scores and gain.
func TestRecoveryResetsState(t *testing.T) {
	cfg := testConfig()
	tone := frametest.Harmonic440()
	src := &scriptedSource{
		steps: []step{
			{frame: tone}, {frame: tone}, {frame: tone}, {frame: tone},
			{err: frame.ErrSourceUnavailable},
		},
		fallback: tone,
	}
	sink := &recordingSink{}
	l := newTestLoop(t, cfg, src, sink)

	var before TickResult
	for i := 0; i < 4; i++ {
		before = mustTick(t, l)
	}
	if before.Scores.Music == 0 || before.Gain == 0.5 {
		t.Fatalf("state did not move before failure: %+v", before)
	}

	res := mustTick(t, l)
	if res.Status != TickRecovered {
		t.Fatalf("status = %v", res.Status)
	}
	if !errors.Is(res.Err, frame.ErrSourceUnavailable) {
		t.Errorf("recovery cause = %v", res.Err)
	}
	if sink.last() != 0.5 {
		t.Errorf("safe gain not applied: %v", sink.last())
	}
	if src.resumeCount() != 1 {
		t.Errorf("resumes = %d, want 1", src.resumeCount())
	}
	if snap := l.Stats(); snap.Recoveries != 1 || snap.FramesProcessed != 4 {
		t.Errorf("snapshot after recovery = %+v", snap)
	}

	// expected next tick from defaults (0, 0, 0.5)
	cls := classifier.New(cfg.Classifier)
	ctl := gain.NewController(cfg.Gain, cfg.Classifier.MusicThreshold)
	wantScores, _ := cls.Classify(tone, classifier.ScoreState{})
	wantGain := ctl.Compute(wantScores.Music, wantScores.Speech, gain.State{Gain: 0.5})

	after := mustTick(t, l)
	if after.Scores != wantScores {
		t.Errorf("scores = %+v, want %+v", after.Scores, wantScores)
	}
	if after.Gain != wantGain.Gain {
		t.Errorf("gain = %v, want %v", after.Gain, wantGain.Gain)
	}
}

func TestRecoveryFromPanic(t *testing.T) {
	src := &scriptedSource{steps: []step{{panic: true}}, fallback: frametest.Silence(64, 8000)}
	sink := &recordingSink{}
	l := newTestLoop(t, testConfig(), src, sink)

	res := mustTick(t, l)
	if res.Status != TickRecovered {
		t.Fatalf("status = %v", res.Status)
	}
	if next := mustTick(t, l); next.Status != TickProcessed {
		t.Errorf("tick after panic = %v", next.Status)
	}
}

func TestRecoveryWithoutResumer(t *testing.T) {
	sink := &recordingSink{}
	l := newTestLoop(t, testConfig(), plainSource{err: errors.New("device closed")}, sink)

	res := mustTick(t, l)
	if res.Status != TickRecovered {
		t.Fatalf("status = %v", res.Status)
	}
	if sink.last() != 0.5 {
		t.Errorf("gain = %v", sink.last())
	}
}

func TestRecoveryFailureIsFatal(t *testing.T) {
	tests := []struct {
		name string
		src  *scriptedSource
		sink *recordingSink
	}{
		{
			name: "resume fails",
			src: &scriptedSource{
				steps:     []step{{err: frame.ErrSourceUnavailable}},
				resumeErr: errors.New("stream gone"),
			},
			sink: &recordingSink{},
		},
		{
			name: "safe gain fails",
			src:  &scriptedSource{steps: []step{{err: frame.ErrSourceUnavailable}}},
			sink: &recordingSink{err: errors.New("sink closed")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLoop(t, testConfig(), tt.src, tt.sink)
			_, err := l.Tick(context.Background())
			if !errors.Is(err, ErrFatal) {
				t.Fatalf("err = %v, want ErrFatal", err)
			}
		})
	}
}

func TestConsecutiveRecoveryLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Loop.MaxConsecutiveRecoveries = 2
	src := &scriptedSource{steps: []step{
		{err: frame.ErrSourceUnavailable},
		{err: frame.ErrSourceUnavailable},
		{err: frame.ErrSourceUnavailable},
	}}
	l := newTestLoop(t, cfg, src, &recordingSink{})

	for i := 0; i < 2; i++ {
		if res := mustTick(t, l); res.Status != TickRecovered {
			t.Fatalf("tick %d: status = %v", i, res.Status)
		}
	}
	_, err := l.Tick(context.Background())
	if !errors.Is(err, ErrFatal) || !errors.Is(err, frame.ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrFatal wrapping the cause", err)
	}
}

func TestRecoveriesUnlimitedByDefault(t *testing.T) {
	var steps []step
	for i := 0; i < 20; i++ {
		steps = append(steps, step{err: frame.ErrSourceUnavailable})
	}
	src := &scriptedSource{steps: steps, fallback: frametest.Silence(64, 8000)}
	l := newTestLoop(t, testConfig(), src, &recordingSink{})

	for i := 0; i < 20; i++ {
		if res := mustTick(t, l); res.Status != TickRecovered {
			t.Fatalf("tick %d: status = %v", i, res.Status)
		}
	}
	if res := mustTick(t, l); res.Status != TickProcessed {
		t.Errorf("status after recoveries = %v", res.Status)
	}
	if src.resumeCount() != 20 {
		t.Errorf("resumes = %d, want 20", src.resumeCount())
	}
}

func TestConsecutiveCountResetsOnSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.Loop.MaxConsecutiveRecoveries = 1
	tone := frametest.Silence(64, 8000)
	src := &scriptedSource{steps: []step{
		{err: frame.ErrSourceUnavailable},
		{frame: tone},
		{err: frame.ErrSourceUnavailable},
	}}
	l := newTestLoop(t, cfg, src, &recordingSink{})

	for i := 0; i < 3; i++ {
		if _, err := l.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
}

func TestDisabledBypassesScoring(t *testing.T) {
	tone := frametest.Harmonic440()
	src := &scriptedSource{fallback: tone}
	sink := &recordingSink{}
	l := newTestLoop(t, testConfig(), src, sink)

	first := mustTick(t, l)

	l.SetEnabled(false)
	for i := 0; i < 3; i++ {
		if res := mustTick(t, l); res.Status != TickDisabled || res.Gain != 1 {
			t.Fatalf("disabled tick = %+v", res)
		}
	}
	if got := sink.all(); len(got) != 2 || got[1] != 1 {
		t.Errorf("sink gains = %v, want one bypass gain", got)
	}
	snap := l.Stats()
	if snap.FramesProcessed != 1 || snap.Enabled {
		t.Errorf("snapshot while disabled = %+v", snap)
	}

	// re-enabling continues from the preserved smoothing state
	l.SetEnabled(true)
	cls := classifier.New(testConfig().Classifier)
	want, _ := cls.Classify(tone, first.Scores)
	if res := mustTick(t, l); res.Scores != want {
		t.Errorf("scores after re-enable = %+v, want %+v", res.Scores, want)
	}
}

func TestDeterministicGains(t *testing.T) {
	frames := []*frame.AudioFrame{
		frametest.Harmonic440(), frametest.SpeechBand(), frametest.Silence(48, 480),
	}
	runOnce := func() []float64 {
		var steps []step
		for i := 0; i < 60; i++ {
			steps = append(steps, step{frame: frames[i%len(frames)]})
		}
		sink := &recordingSink{}
		l := newTestLoop(t, testConfig(), &scriptedSource{steps: steps}, sink)
		for i := 0; i < 60; i++ {
			mustTick(t, l)
		}
		return sink.all()
	}

	a, b := runOnce(), runOnce()
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("gain %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestRunWithManualDriver(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	driver := NewManualDriver()
	src := &scriptedSource{fallback: frametest.SpeechBand()}
	sink := &recordingSink{}
	l := newTestLoop(t, testConfig(), src, sink, WithDriver(driver))

	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	// the fourth step is accepted only after the third tick finished
	for i := 0; i < 4; i++ {
		if err := driver.Step(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(sink.all()); n < 3 {
		t.Errorf("applied %d gains, want at least 3", n)
	}
	if snap := l.Stats(); !snap.Processing || snap.State != "running" {
		t.Errorf("snapshot while running = %+v", snap)
	}

	l.Stop()
	l.Stop()
	if err := l.Wait(); err != nil {
		t.Fatalf("Wait = %v", err)
	}
	if l.State() != StateStopped {
		t.Errorf("state = %v", l.State())
	}

	// frozen after stop
	frozen := l.Stats().FramesProcessed
	time.Sleep(10 * time.Millisecond)
	if l.Stats().FramesProcessed != frozen {
		t.Error("stats changed after stop")
	}
}

func TestRunStopsAtEndOfStream(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{frame: frametest.Silence(32, 8000)},
		{frame: frametest.Silence(32, 8000)},
	}}
	var mu sync.Mutex
	var statuses []TickStatus
	l := newTestLoop(t, testConfig(), src, &recordingSink{},
		WithDriver(FreeRunDriver{}),
		WithObserver(func(r TickResult) {
			mu.Lock()
			statuses = append(statuses, r.Status)
			mu.Unlock()
		}),
	)

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if l.Stats().FramesProcessed != 2 {
		t.Errorf("frames = %d", l.Stats().FramesProcessed)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 3 || statuses[2] != TickEndOfStream {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestRunFatalLeavesLastGain(t *testing.T) {
	src := &scriptedSource{
		steps: []step{
			{frame: frametest.Harmonic440()},
			{err: frame.ErrSourceUnavailable},
		},
		resumeErr: errors.New("stream gone"),
	}
	sink := &recordingSink{}
	l := newTestLoop(t, testConfig(), src, sink, WithDriver(FreeRunDriver{}))

	err := l.Run(context.Background())
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("Run = %v, want ErrFatal", err)
	}
	if l.State() != StateStopped {
		t.Errorf("state = %v", l.State())
	}
	// the safe gain applied during the failed recovery stays in effect
	if sink.last() != 0.5 {
		t.Errorf("last gain = %v", sink.last())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newTestLoop(t, testConfig(), &scriptedSource{fallback: frametest.Silence(32, 8000)}, &recordingSink{},
		WithDriver(NewManualDriver()))

	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
	if err := l.Wait(); err != nil {
		t.Errorf("Wait = %v", err)
	}
}

// stopDuringWait calls Stop and grants the slot in the same call, as when a
// tick comes due just as the loop is asked to halt.
type stopDuringWait struct {
	loop *Loop
}

func (d *stopDuringWait) Wait(ctx context.Context) error {
	d.loop.Stop()
	return nil
}

func TestNoTickAfterStop(t *testing.T) {
	for i := 0; i < 100; i++ {
		src := &scriptedSource{fallback: frametest.Silence(32, 8000)}
		sink := &recordingSink{}
		driver := &stopDuringWait{}
		l := newTestLoop(t, testConfig(), src, sink, WithDriver(driver))
		driver.loop = l

		if err := l.Run(context.Background()); err != nil {
			t.Fatalf("Run = %v", err)
		}
		if n := l.Stats().FramesProcessed; n != 0 || len(sink.all()) != 0 {
			t.Fatalf("iteration %d: tick ran after Stop (frames %d)", i, n)
		}
	}
}

func TestStopBeforeStart(t *testing.T) {
	l := newTestLoop(t, testConfig(), &scriptedSource{}, &recordingSink{})
	l.Stop()
	if err := l.Wait(); err != nil {
		t.Errorf("Wait = %v", err)
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start after Stop = %v", err)
	}
}
