package analytics

import (
	"context"
	"time"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/pkg/timer"
)

// MetricsSink counts events by status and records the active time of
// terminal events.
type MetricsSink struct {
	metrics *observe.Metrics
}

// NewMetricsSink returns a MetricsSink recording into m.
func NewMetricsSink(m *observe.Metrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

// Emit records ev. It never fails.
func (s *MetricsSink) Emit(ctx context.Context, ev timer.TaskEvent) error {
	s.metrics.RecordTimerEvent(ctx, string(ev.Status), time.Duration(ev.MS)*time.Millisecond, ev.Status.Terminal())
	return nil
}

var _ timer.EventSink = (*MetricsSink)(nil)
