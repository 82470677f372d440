// Package processing runs the classifier against a frame source and drives
// the output gain, one tick at a time.
package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RyanBlaney/sonido-ducker/classifier"
	"github.com/RyanBlaney/sonido-ducker/classifier/extractors"
	"github.com/RyanBlaney/sonido-ducker/classifier/gain"
	"github.com/RyanBlaney/sonido-ducker/config"
	"github.com/RyanBlaney/sonido-ducker/frame"
	"github.com/RyanBlaney/sonido-ducker/logging"
	"github.com/RyanBlaney/sonido-ducker/observe"
)

// FrameSource supplies one analysis frame per tick. It returns
// frame.ErrNotReady when no fresh frame is available,
// frame.ErrSourceUnavailable when it can no longer produce frames and
// frame.ErrEndOfStream when a finite input is exhausted.
type FrameSource interface {
	NextFrame(ctx context.Context) (*frame.AudioFrame, error)
}

// GainSink applies a gain to the downstream audio path.
type GainSink interface {
	SetGain(gain float64) error
}

// Resumer is implemented by sources that can restart after a failure.
type Resumer interface {
	Resume(ctx context.Context) error
}

// State is the loop lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateRecovering
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateRecovering:
		return "recovering"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TickStatus is the outcome of one tick.
type TickStatus int

const (
	// TickProcessed: frame scored, gain applied, stats updated.
	TickProcessed TickStatus = iota
	// TickSkipped: the source had no fresh frame.
	TickSkipped
	// TickInvalid: scores were not finite; stats updated with zeros, gain untouched.
	TickInvalid
	// TickDisabled: ducking is off, the frame was drained unscored.
	TickDisabled
	// TickRecovered: the tick failed and state was reset to defaults.
	TickRecovered
	// TickEndOfStream: the source is exhausted.
	TickEndOfStream
)

func (s TickStatus) String() string {
	switch s {
	case TickProcessed:
		return observe.ResultProcessed
	case TickSkipped:
		return observe.ResultSkipped
	case TickInvalid:
		return observe.ResultInvalid
	case TickDisabled:
		return observe.ResultDisabled
	case TickRecovered:
		return observe.ResultRecovered
	case TickEndOfStream:
		return "end_of_stream"
	default:
		return "unknown"
	}
}

// TickResult describes what one tick did.
type TickResult struct {
	Status   TickStatus
	Scores   classifier.ScoreState
	Gain     float64
	Features extractors.FeatureSet
	// Err is the failure that triggered recovery, if any.
	Err error
}

// Snapshot is the read-only view of the loop published after every tick.
type Snapshot struct {
	Stats
	SampleRate  int     `json:"sample_rate"`
	Processing  bool    `json:"processing"`
	Enabled     bool    `json:"enabled"`
	State       string  `json:"state"`
	Recoveries  uint64  `json:"recoveries"`
	Gain        float64 `json:"gain"`
	MusicScore  float64 `json:"music_score"`
	SpeechScore float64 `json:"speech_score"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(logger logging.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// WithDriver replaces the default ticker driver.
func WithDriver(d Driver) Option {
	return func(l *Loop) {
		l.driver = d
	}
}

// WithObserver registers a callback run on the loop goroutine after every
// tick. It must not block.
func WithObserver(fn func(TickResult)) Option {
	return func(l *Loop) {
		l.observer = fn
	}
}

// Loop pulls frames, classifies them and applies the resulting gain.
//
// Scores and gain state are owned by the goroutine running ticks; other
// goroutines only read the published Snapshot.
type Loop struct {
	cfg        config.LoopConfig
	source     FrameSource
	sink       GainSink
	classifier *classifier.Classifier
	controller *gain.Controller
	threshold  float64

	driver   Driver
	logger   logging.Logger
	metrics  *observe.Metrics
	observer func(TickResult)

	// tick-owned
	scores      classifier.ScoreState
	gainState   gain.State
	bypassed    bool
	consecutive int

	state   atomic.Int32
	enabled atomic.Bool

	mu         sync.Mutex
	stats      *StatsAggregator
	published  Snapshot
	recoveries uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	err      error
}

// New creates an idle loop reading from source and writing to sink.
func New(cfg *config.Config, source FrameSource, sink GainSink, opts ...Option) *Loop {
	l := &Loop{
		cfg:        cfg.Loop,
		source:     source,
		sink:       sink,
		classifier: classifier.New(cfg.Classifier),
		controller: gain.NewController(cfg.Gain, cfg.Classifier.MusicThreshold),
		threshold:  cfg.Classifier.MusicThreshold,
		stats:      NewStatsAggregator(cfg.Classifier),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.driver == nil {
		l.driver = NewTickerDriver(cfg.Loop.TickInterval)
	}
	if l.logger == nil {
		l.logger = logging.WithFields(logging.Fields{"component": "processing_loop"})
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}

	l.gainState = l.controller.InitialState()
	l.enabled.Store(true)
	l.published = Snapshot{Gain: l.gainState.Gain}
	return l
}

// Start moves the loop from Idle to Running and begins ticking in a new
// goroutine. Cancelling ctx stops the loop like Stop.
func (l *Loop) Start(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	l.logger.Info("processing loop started", logging.Fields{
		"tick_interval_ms": l.cfg.TickInterval.Milliseconds(),
	})

	go func() {
		defer close(l.done)
		l.err = l.run(ctx)
		l.setState(StateStopped)
	}()
	return nil
}

// Run starts the loop and blocks until it stops.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	return l.Wait()
}

// Stop requests the loop to halt. It is observed at the next tick boundary
// and is safe to call more than once, or before Start.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		if l.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
			close(l.done)
		}
	})
}

// Wait blocks until the loop has stopped. It returns nil after Stop, context
// cancellation or end of stream, and an error wrapping ErrFatal otherwise.
func (l *Loop) Wait() error {
	<-l.done
	return l.err
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// SetEnabled toggles ducking. While disabled, frames are drained without
// scoring and the gain is held at the disabled level; smoothing state is
// kept for when ducking resumes.
func (l *Loop) SetEnabled(enabled bool) {
	if l.enabled.Swap(enabled) != enabled {
		l.logger.Info("ducking toggled", logging.Fields{"enabled": enabled})
	}
}

// Enabled reports whether ducking is on.
func (l *Loop) Enabled() bool {
	return l.enabled.Load()
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns a copy of the latest published snapshot.
func (l *Loop) Stats() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.published
	snap.Stats = l.stats.Snapshot()
	snap.Recoveries = l.recoveries
	state := l.State()
	snap.State = state.String()
	snap.Processing = state == StateRunning || state == StateRecovering
	snap.Enabled = l.enabled.Load()
	return snap
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

func (l *Loop) run(ctx context.Context) error {
	// waitCtx ends on Stop so a blocked driver or backoff returns promptly.
	// Ticks themselves get ctx and are never interrupted by Stop.
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.stopCh:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	for {
		if err := l.driver.Wait(waitCtx); err != nil {
			if l.stopRequested() || waitCtx.Err() != nil {
				l.logger.Info("processing loop stopped")
				return nil
			}
			return fmt.Errorf("%w: tick driver: %w", ErrFatal, err)
		}
		if l.stopRequested() || waitCtx.Err() != nil {
			l.logger.Info("processing loop stopped")
			return nil
		}

		res, err := l.Tick(ctx)
		if l.observer != nil {
			l.observer(res)
		}
		if err != nil {
			switch {
			case errors.Is(err, frame.ErrEndOfStream):
				l.logger.Info("frame source exhausted, stopping")
				return nil
			case ctx.Err() != nil:
				l.logger.Info("processing loop stopped")
				return nil
			default:
				l.logger.Error(err, "processing loop halted; last gain left in place", logging.Fields{
					"gain": l.gainState.Gain,
				})
				return err
			}
		}

		if res.Status == TickRecovered && l.cfg.RecoveryBackoff > 0 {
			timer := time.NewTimer(l.cfg.RecoveryBackoff)
			select {
			case <-l.stopCh:
			case <-waitCtx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}
	}
}

// stopRequested reports whether Stop has been called. It reads stopCh
// directly so a slot granted concurrently with Stop never starts a tick.
func (l *Loop) stopRequested() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

// Tick runs one tick synchronously. Failures other than end of stream and
// context cancellation are recovered from inside the tick and reported as
// TickRecovered; the returned error is non-nil only when the loop cannot
// continue. Tick must not be called while the loop goroutine is running.
func (l *Loop) Tick(ctx context.Context) (TickResult, error) {
	start := time.Now()
	defer func() {
		l.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
	}()

	res, err := l.step(ctx)

	switch {
	case err == nil:
		l.consecutive = 0
		l.metrics.RecordTick(ctx, res.Status.String())
		return res, nil
	case errors.Is(err, frame.ErrEndOfStream):
		return TickResult{Status: TickEndOfStream}, err
	case ctx.Err() != nil:
		return TickResult{Status: TickSkipped}, ctx.Err()
	}

	res, err = l.recoverFrom(ctx, err)
	if err == nil {
		l.metrics.RecordTick(ctx, res.Status.String())
	}
	return res, err
}

// step is the body of a tick. A panic is turned into an error so the loop
// can recover from it.
func (l *Loop) step(ctx context.Context) (res TickResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in tick: %v", r)
		}
	}()

	f, err := l.source.NextFrame(ctx)
	if err != nil {
		if errors.Is(err, frame.ErrNotReady) {
			return TickResult{Status: TickSkipped}, nil
		}
		return TickResult{}, err
	}

	if !l.enabled.Load() {
		if !l.bypassed {
			if err := l.sink.SetGain(l.controller.Disabled()); err != nil {
				return TickResult{}, fmt.Errorf("apply bypass gain: %w", err)
			}
			l.bypassed = true
			l.publish(nil, l.controller.Disabled(), f.SampleRate)
		}
		return TickResult{Status: TickDisabled, Scores: l.scores, Gain: l.controller.Disabled()}, nil
	}
	l.bypassed = false

	next, features := l.classifier.Classify(f, l.scores)
	if !next.Finite() {
		// malformed frame: count it with zero scores, keep smoothing state
		l.logger.Debug("non-finite scores, substituting zero", logging.Fields{
			"bins": f.BinCount(),
		})
		zero := classifier.ScoreState{}
		l.publish(&zero, l.gainState.Gain, f.SampleRate)
		return TickResult{Status: TickInvalid, Gain: l.gainState.Gain, Features: features}, nil
	}

	l.scores = next
	gs := l.controller.Compute(next.Music, next.Speech, l.gainState)
	if err := l.sink.SetGain(gs.Gain); err != nil {
		return TickResult{}, fmt.Errorf("apply gain: %w", err)
	}
	l.gainState = gs

	l.publish(&next, gs.Gain, f.SampleRate)
	l.metrics.RecordFrame(ctx, next.Music, next.Speech, gs.Gain, next.Music > l.threshold)

	return TickResult{Status: TickProcessed, Scores: next, Gain: gs.Gain, Features: features}, nil
}

// publish updates the stats and the snapshot together so readers never see
// one without the other. scores is nil when no frame was scored.
func (l *Loop) publish(scores *classifier.ScoreState, gainValue float64, sampleRate int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if scores != nil {
		l.stats.Update(scores.Music, scores.Speech)
		l.published.MusicScore = scores.Music
		l.published.SpeechScore = scores.Speech
	}
	l.published.Gain = gainValue
	if sampleRate > 0 {
		l.published.SampleRate = sampleRate
	}
}

// recoverFrom resets scores and gain to their defaults, applies the safe
// gain and resumes the source. Failing that, or exceeding the allowed run
// of consecutive recoveries, is fatal.
func (l *Loop) recoverFrom(ctx context.Context, cause error) (TickResult, error) {
	prev := l.State()
	l.setState(StateRecovering)
	l.consecutive++

	l.mu.Lock()
	l.recoveries++
	l.mu.Unlock()

	l.logger.Warn("tick failed, recovering", logging.Fields{
		"error":   cause.Error(),
		"attempt": l.consecutive,
	})

	if limit := l.cfg.MaxConsecutiveRecoveries; limit > 0 && l.consecutive > limit {
		l.metrics.RecordRecovery(ctx, "failed")
		return TickResult{Status: TickRecovered, Err: cause},
			fmt.Errorf("%w: %d consecutive recoveries: %w", ErrFatal, l.consecutive, cause)
	}

	l.scores = classifier.ScoreState{}
	l.gainState = l.controller.InitialState()
	l.bypassed = false

	if err := guard(func() error { return l.sink.SetGain(l.gainState.Gain) }); err != nil {
		l.metrics.RecordRecovery(ctx, "failed")
		return TickResult{Status: TickRecovered, Err: cause},
			fmt.Errorf("%w: apply safe gain: %w", ErrFatal, err)
	}
	l.mu.Lock()
	l.published.MusicScore, l.published.SpeechScore = 0, 0
	l.published.Gain = l.gainState.Gain
	l.mu.Unlock()

	if r, ok := l.source.(Resumer); ok {
		if err := guard(func() error { return r.Resume(ctx) }); err != nil {
			l.metrics.RecordRecovery(ctx, "failed")
			return TickResult{Status: TickRecovered, Err: cause},
				fmt.Errorf("%w: resume source: %w", ErrFatal, err)
		}
	}

	l.metrics.RecordRecovery(ctx, "ok")
	if prev == StateIdle {
		l.setState(StateIdle)
	} else {
		l.setState(StateRunning)
	}
	l.logger.Info("recovered", logging.Fields{"gain": l.gainState.Gain})

	return TickResult{Status: TickRecovered, Scores: l.scores, Gain: l.gainState.Gain, Err: cause}, nil
}

// guard runs fn, converting a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
