// Package analytics delivers task lifecycle events to their destinations.
//
// Every sink implements [timer.EventSink]. [LogSink], [FileSink], [HTTPSink]
// and [MetricsSink] each write to one destination; [Multi] fans an event out
// to several sinks and [Async] moves delivery off the caller's goroutine so
// timer transitions never wait on a slow collector.
package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/pkg/timer"
)

// ErrClosed is returned by sinks that no longer accept events.
var ErrClosed = errors.New("analytics: sink closed")

// Multi delivers each event to every sink in order and joins their errors.
// A failing sink does not stop delivery to the rest.
type Multi []timer.EventSink

// Emit sends ev to every sink.
func (m Multi) Emit(ctx context.Context, ev timer.TaskEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Instrumented counts the failures of a wrapped sink under a name.
type Instrumented struct {
	name    string
	next    timer.EventSink
	metrics *observe.Metrics
}

// Instrument wraps next so that its errors are counted in
// readalong.analytics.errors with the attribute sink=name. The error is
// returned unchanged apart from the name prefix.
func Instrument(name string, next timer.EventSink, m *observe.Metrics) *Instrumented {
	return &Instrumented{name: name, next: next, metrics: m}
}

// Emit forwards ev to the wrapped sink.
func (s *Instrumented) Emit(ctx context.Context, ev timer.TaskEvent) error {
	if err := s.next.Emit(ctx, ev); err != nil {
		s.metrics.RecordSinkError(ctx, s.name)
		return fmt.Errorf("analytics: %s: %w", s.name, err)
	}
	return nil
}

var (
	_ timer.EventSink = Multi(nil)
	_ timer.EventSink = (*Instrumented)(nil)
)
