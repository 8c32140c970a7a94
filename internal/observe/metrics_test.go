package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
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

// collect gathers all metric data from the reader.
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

// sumValue returns the value of the int64 sum data point of metric name that
// carries attribute key=value.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordReply(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordReply(ctx, "webhook", StatusOK, 120*time.Millisecond)
	m.RecordReply(ctx, "webhook", StatusOK, 80*time.Millisecond)
	m.RecordReply(ctx, "webhook", StatusFallback, 50*time.Millisecond)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "simchat.reply.requests", "status", StatusOK); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumValue(t, rm, "simchat.reply.requests", "status", StatusFallback); got != 1 {
		t.Errorf("fallback requests = %d, want 1", got)
	}

	met := findMetric(rm, "simchat.reply.duration")
	if met == nil {
		t.Fatal("simchat.reply.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("simchat.reply.duration is not a histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("sample count = %d, want 3", count)
	}
}

func TestRecordReplyError(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordReplyError(context.Background(), "webhook", "status")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "simchat.reply.errors", "op", "status"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestPlaybackCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChunk(ctx, "inline")
	m.RecordChunk(ctx, "inline")
	m.RecordChunk(ctx, "modal")
	m.RecordPreemption(ctx, "inline")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "simchat.playback.chunks", "surface", "inline"); got != 2 {
		t.Errorf("inline chunks = %d, want 2", got)
	}
	if got := sumValue(t, rm, "simchat.playback.chunks", "surface", "modal"); got != 1 {
		t.Errorf("modal chunks = %d, want 1", got)
	}
	if got := sumValue(t, rm, "simchat.playback.preemptions", "surface", "inline"); got != 1 {
		t.Errorf("preemptions = %d, want 1", got)
	}
}

func TestRecordSubmission(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSubmission(ctx, "inline", true)
	m.RecordSubmission(ctx, "inline", false)
	m.RecordSubmission(ctx, "inline", false)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "simchat.widget.submissions", "outcome", "accepted"); got != 1 {
		t.Errorf("accepted = %d, want 1", got)
	}
	if got := sumValue(t, rm, "simchat.widget.submissions", "outcome", "ignored"); got != 2 {
		t.Errorf("ignored = %d, want 2", got)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordBreakerTransition(context.Background(), "webhook", "open")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "simchat.breaker.transitions", "to", "open"); got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
}

func TestGatewaySockets(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SocketOpened(ctx, "inline")
	m.SocketOpened(ctx, "inline")
	m.SocketClosed(ctx, "inline")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "simchat.gateway.sockets", "surface", "inline"); got != 1 {
		t.Errorf("open sockets = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.HTTPRequestDuration.Record(context.Background(), 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "simchat.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Errorf("unexpected data points: %+v", hist.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
