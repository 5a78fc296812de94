// Package observe provides observability primitives for parley:
// OpenTelemetry metrics and tracing, trace-aware logging and HTTP
// middleware for the metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// in Prometheus format by [InitProvider]. Tests should build [Metrics] with
// [NewMetrics] over their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every parley instrument.
const meterName = "github.com/MrWong99/parley"

// Pipeline stages reported by [Metrics.RecordStage].
const (
	StageSTT  = "stt"
	StageLLM  = "llm"
	StageTTS  = "tts"
	StageTurn = "turn"
)

// Metrics holds every instrument. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// StageDuration tracks provider latency per stage (stt, llm, tts) and
	// the end-to-end turn latency from recording end to first audio.
	StageDuration metric.Float64Histogram

	// ProviderRequests counts provider calls by provider, stage and status.
	ProviderRequests metric.Int64Counter

	// Interruptions counts confirmed interruptions by heuristic.
	Interruptions metric.Int64Counter

	// PlaybackItems counts queue items by source and outcome.
	PlaybackItems metric.Int64Counter

	// SettleDelay tracks the settling wait applied before each item.
	SettleDelay metric.Float64Histogram

	// QueueDepth is the number of items waiting in the playback queue.
	QueueDepth metric.Int64Gauge

	// Recordings counts completed recordings by mode.
	Recordings metric.Int64Counter

	// RecordingDuration tracks recording length by mode.
	RecordingDuration metric.Float64Histogram

	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks metrics/health endpoint latency.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are bucket boundaries in seconds for voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

var settleBuckets = []float64{0, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1}

var recordingBuckets = []float64{0.5, 1, 2, 5, 10, 15, 20, 30}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("parley.stage.duration",
		metric.WithDescription("Latency of a pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Provider calls by provider, stage and status."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("parley.interruptions",
		metric.WithDescription("Confirmed interruptions by heuristic."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackItems, err = m.Int64Counter("parley.playback.items",
		metric.WithDescription("Playback queue items by source and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SettleDelay, err = m.Float64Histogram("parley.playback.settle_delay",
		metric.WithDescription("Settling delay applied before playing an item."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(settleBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Gauge("parley.playback.queue_depth",
		metric.WithDescription("Items waiting in the playback queue."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("parley.recordings",
		metric.WithDescription("Completed recordings by mode."),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("parley.recording.duration",
		metric.WithDescription("Length of completed recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("parley.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and target state."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// DefaultMetrics returns a package-level [Metrics] built on the global meter
// provider on first use.
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

// RecordStage records one provider call. err decides the status attribute.
func (m *Metrics) RecordStage(ctx context.Context, stage, provider string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		if ctx.Err() != nil {
			status = "cancelled"
		}
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
	if err == nil {
		m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("provider", provider),
		))
	}
}

// RecordTurnLatency records the time from end of user speech to the first
// queued response audio.
func (m *Metrics) RecordTurnLatency(ctx context.Context, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", StageTurn),
	))
}

// RecordInterruption implements interrupt.Metrics.
func (m *Metrics) RecordInterruption(ctx context.Context, heuristic string) {
	m.Interruptions.Add(ctx, 1, metric.WithAttributes(attribute.String("heuristic", heuristic)))
}

// RecordPlaybackItem implements playback.Metrics.
func (m *Metrics) RecordPlaybackItem(ctx context.Context, source, outcome string) {
	m.PlaybackItems.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

// RecordSettleDelay implements playback.Metrics.
func (m *Metrics) RecordSettleDelay(ctx context.Context, source string, d time.Duration) {
	m.SettleDelay.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("source", source)))
}

// RecordQueueDepth implements playback.Metrics.
func (m *Metrics) RecordQueueDepth(ctx context.Context, depth int) {
	m.QueueDepth.Record(ctx, int64(depth))
}

// RecordRecording implements recorder.Metrics.
func (m *Metrics) RecordRecording(ctx context.Context, mode string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.Recordings.Add(ctx, 1, attrs)
	m.RecordingDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordBreakerTransition counts a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", name),
		attribute.String("state", to),
	))
}
