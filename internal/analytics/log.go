package analytics

import (
	"context"
	"log/slog"

	"github.com/MrWong99/readalong/pkg/timer"
)

// LogSink writes each event as one structured log line.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink returns a LogSink writing to logger at level. A nil logger
// selects [slog.Default] at the time of each event.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	return &LogSink{logger: logger, level: level}
}

// Emit logs ev. It never fails.
func (s *LogSink) Emit(ctx context.Context, ev timer.TaskEvent) error {
	l := s.logger
	if l == nil {
		l = slog.Default()
	}
	attrs := []slog.Attr{
		slog.String("event_id", ev.ID),
		slog.String("task_id", ev.TaskID),
		slog.String("status", string(ev.Status)),
		slog.Int64("ms", ev.MS),
	}
	if len(ev.Meta) > 0 {
		attrs = append(attrs, slog.Any("meta", ev.Meta))
	}
	l.LogAttrs(ctx, s.level, "task event", attrs...)
	return nil
}

var _ timer.EventSink = (*LogSink)(nil)
