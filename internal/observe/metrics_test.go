package observe

import (
	"context"
	"testing"
	"time"

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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// sumByAttr returns the value of the int64 sum data point whose attribute key
// equals value.
func sumByAttr(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(Attr(key, "").Key); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", met.Name, key, value)
	return 0
}

func TestRecordAlignment(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAlignment(ctx, 300*time.Microsecond, 0.5, 2, 1, 1)
	m.RecordAlignment(ctx, 100*time.Microsecond, 1, 3, 0, 0)

	rm := collect(t, reader)

	for _, name := range []string{"readalong.align.duration", "readalong.align.score"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Fatalf("metric %q is not a histogram", name)
		}
		if got := hist.DataPoints[0].Count; got != 2 {
			t.Errorf("%s count = %d, want 2", name, got)
		}
	}

	tokens := findMetric(rm, "readalong.align.tokens")
	if tokens == nil {
		t.Fatal("readalong.align.tokens not found")
	}
	if got := sumByAttr(t, tokens, "type", "ok"); got != 5 {
		t.Errorf("ok tokens = %d, want 5", got)
	}
	if got := sumByAttr(t, tokens, "type", "missing"); got != 1 {
		t.Errorf("missing tokens = %d, want 1", got)
	}
}

func TestRecordTimerEvent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTimerEvent(ctx, "resumed", 0, false)
	m.RecordTimerEvent(ctx, "paused", 0, false)
	m.RecordTimerEvent(ctx, "completed", 42*time.Second, true)

	rm := collect(t, reader)
	events := findMetric(rm, "readalong.timer.events")
	if events == nil {
		t.Fatal("readalong.timer.events not found")
	}
	if got := sumByAttr(t, events, "status", "completed"); got != 1 {
		t.Errorf("completed events = %d, want 1", got)
	}

	elapsed := findMetric(rm, "readalong.timer.elapsed")
	if elapsed == nil {
		t.Fatal("readalong.timer.elapsed not found")
	}
	hist := elapsed.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 42 {
		t.Errorf("elapsed data points = %+v, want one sample of 42s", hist.DataPoints)
	}
}

func TestRecordSinkError_AndActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSinkError(ctx, "http")
	m.RecordSinkError(ctx, "http")
	m.ActiveSessions.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumByAttr(t, findMetric(rm, "readalong.analytics.errors"), "sink", "http"); got != 2 {
		t.Errorf("sink errors = %d, want 2", got)
	}
	active := findMetric(rm, "readalong.active_sessions")
	if active == nil {
		t.Fatal("readalong.active_sessions not found")
	}
	if got := active.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
