// Package observe provides the OpenTelemetry metrics recorded by the ducker.
//
// Instruments are created through the OTel Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so the same instruments can be
// scraped from /metrics. A package-level [DefaultMetrics] instance is bound
// to the global provider; tests should use [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every ducker metric.
const meterName = "github.com/RyanBlaney/sonido-ducker"

// Tick results used as the "result" attribute on the tick counter.
const (
	ResultProcessed = "processed"
	ResultSkipped   = "skipped"
	ResultInvalid   = "invalid"
	ResultDisabled  = "disabled"
	ResultRecovered = "recovered"
)

// Metrics holds the instruments for the processing loop and control surface.
type Metrics struct {
	// Ticks counts loop ticks by outcome. Use with attribute
	//   attribute.String("result", ...)
	Ticks metric.Int64Counter

	// MusicFrames counts frames whose smoothed music score exceeded the
	// dominance threshold.
	MusicFrames metric.Int64Counter

	// Recoveries counts reset-and-resume attempts.
	Recoveries metric.Int64Counter

	// Gain records every gain applied to the sink.
	Gain metric.Float64Histogram

	// MusicScore and SpeechScore record the smoothed scores per frame.
	MusicScore  metric.Float64Histogram
	SpeechScore metric.Float64Histogram

	// TickDuration tracks how long one tick takes, source read included.
	TickDuration metric.Float64Histogram

	// HTTPRequestDuration tracks control surface latency. Use with attributes
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// unitBuckets covers gains and scores in [0,1].
var unitBuckets = []float64{
	0.01, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1,
}

// tickBuckets (seconds) sit around the 16ms tick budget.
var tickBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.032, 0.1,
}

// NewMetrics creates every instrument on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Ticks, err = m.Int64Counter("ducker.ticks",
		metric.WithDescription("Processing loop ticks by result."),
	); err != nil {
		return nil, err
	}
	if met.MusicFrames, err = m.Int64Counter("ducker.music_frames",
		metric.WithDescription("Frames classified as music-dominant."),
	); err != nil {
		return nil, err
	}
	if met.Recoveries, err = m.Int64Counter("ducker.recoveries",
		metric.WithDescription("Reset-and-resume attempts after a failed tick."),
	); err != nil {
		return nil, err
	}

	if met.Gain, err = m.Float64Histogram("ducker.gain",
		metric.WithDescription("Gain applied to the output stage."),
		metric.WithExplicitBucketBoundaries(unitBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MusicScore, err = m.Float64Histogram("ducker.score.music",
		metric.WithDescription("Smoothed music score per frame."),
		metric.WithExplicitBucketBoundaries(unitBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechScore, err = m.Float64Histogram("ducker.score.speech",
		metric.WithDescription("Smoothed speech score per frame."),
		metric.WithExplicitBucketBoundaries(unitBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("ducker.tick.duration",
		metric.WithDescription("Wall time of one processing tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("ducker.http.request.duration",
		metric.WithDescription("Control surface request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] bound to
// [otel.GetMeterProvider]. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTick counts one tick with the given result.
func (m *Metrics) RecordTick(ctx context.Context, result string) {
	m.Ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFrame records the scores and gain of a processed frame.
func (m *Metrics) RecordFrame(ctx context.Context, music, speech, gain float64, musicDominant bool) {
	m.MusicScore.Record(ctx, music)
	m.SpeechScore.Record(ctx, speech)
	m.Gain.Record(ctx, gain)
	if musicDominant {
		m.MusicFrames.Add(ctx, 1)
	}
}

// RecordRecovery counts one recovery. status is "ok" or "failed".
func (m *Metrics) RecordRecovery(ctx context.Context, status string) {
	m.Recoveries.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
