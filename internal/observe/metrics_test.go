package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for the data point carrying every kv.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, kv ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		match := true
		for _, want := range kv {
			got, ok := dp.Attributes.Value(want.Key)
			if !ok || got.Emit() != want.Value.Emit() {
				match = false
				break
			}
		}
		if match {
			return dp.Value
		}
	}
	return 0
}

func TestRecordInterruption(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInterruption(ctx, "doorbell")
	m.RecordInterruption(ctx, "doorbell")
	m.RecordInterruption(ctx, "voice")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "parley.interruptions", attribute.String("heuristic", "doorbell")); got != 2 {
		t.Errorf("doorbell interruptions = %d, want 2", got)
	}
	if got := sumFor(t, rm, "parley.interruptions", attribute.String("heuristic", "voice")); got != 1 {
		t.Errorf("voice interruptions = %d, want 1", got)
	}
}

func TestRecordPlaybackItem(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlaybackItem(ctx, "elevenlabs", "played")
	m.RecordPlaybackItem(ctx, "elevenlabs", "cleared")

	rm := collect(t, reader)
	got := sumFor(t, rm, "parley.playback.items",
		attribute.String("source", "elevenlabs"),
		attribute.String("outcome", "cleared"),
	)
	if got != 1 {
		t.Errorf("cleared items = %d, want 1", got)
	}
}

func TestRecordQueueDepth(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordQueueDepth(ctx, 3)
	m.RecordQueueDepth(ctx, 1)

	rm := collect(t, reader)
	met := findMetric(rm, "parley.playback.queue_depth")
	if met == nil {
		t.Fatal("queue depth metric not found")
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("queue depth is %T, want Gauge[int64]", met.Data)
	}
	if len(g.DataPoints) != 1 || g.DataPoints[0].Value != 1 {
		t.Errorf("queue depth data points = %+v, want single value 1", g.DataPoints)
	}
}

func TestRecordSettleAndRecordingHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSettleDelay(ctx, "elevenlabs", 300*time.Millisecond)
	m.RecordRecording(ctx, "manual", 20*time.Second)

	rm := collect(t, reader)
	for _, name := range []string{"parley.playback.settle_delay", "parley.recording.duration"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("%s not found", name)
		}
		h, ok := met.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Fatalf("%s is %T, want Histogram[float64]", name, met.Data)
		}
		if len(h.DataPoints) != 1 || h.DataPoints[0].Count != 1 {
			t.Errorf("%s data points = %+v, want one observation", name, h.DataPoints)
		}
	}
	if got := sumFor(t, rm, "parley.recordings", attribute.String("mode", "manual")); got != 1 {
		t.Errorf("manual recordings = %d, want 1", got)
	}
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, StageTTS, "elevenlabs", 120*time.Millisecond, nil)
	m.RecordStage(ctx, StageTTS, "elevenlabs", 0, errors.New("boom"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	m.RecordStage(cancelled, StageTTS, "elevenlabs", 0, context.Canceled)

	rm := collect(t, reader)
	for _, status := range []string{"ok", "error", "cancelled"} {
		got := sumFor(t, rm, "parley.provider.requests",
			attribute.String("provider", "elevenlabs"),
			attribute.String("status", status),
		)
		if got != 1 {
			t.Errorf("status %s count = %d, want 1", status, got)
		}
	}

	met := findMetric(rm, "parley.stage.duration")
	if met == nil {
		t.Fatal("stage duration not found")
	}
	h := met.Data.(metricdata.Histogram[float64])
	var total uint64
	for _, dp := range h.DataPoints {
		total += dp.Count
	}
	if total != 1 {
		t.Errorf("stage duration observations = %d, want 1 (failures excluded)", total)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordBreakerTransition(context.Background(), "openai", "open")

	rm := collect(t, reader)
	got := sumFor(t, rm, "parley.breaker.transitions",
		attribute.String("provider", "openai"),
		attribute.String("state", "open"),
	)
	if got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
