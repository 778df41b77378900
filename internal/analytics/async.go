package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/readalong/pkg/timer"
)

// ErrQueueFull is returned by [Async.Emit] when the event was dropped.
var ErrQueueFull = errors.New("analytics: queue full")

// Async queues events and delivers them to the next sink from a single
// background goroutine. Emit never blocks: when the queue is full the event
// is dropped. Delivery order matches Emit order.
type Async struct {
	next    timer.EventSink
	timeout time.Duration
	queue   chan queued

	mu     sync.RWMutex
	closed bool

	done    chan struct{}
	dropped atomic.Uint64
	failed  atomic.Uint64
}

type queued struct {
	ctx context.Context
	ev  timer.TaskEvent
}

// AsyncOption configures an [Async] sink.
type AsyncOption func(*Async)

// WithDeliveryTimeout bounds each delivery to the next sink. Default: 5s.
func WithDeliveryTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAsync starts the delivery goroutine. buffer is the queue length; values
// below one select 1. Call [Async.Close] to drain and stop it.
func NewAsync(next timer.EventSink, buffer int, opts ...AsyncOption) *Async {
	a := &Async{
		next:    next,
		timeout: 5 * time.Second,
		queue:   make(chan queued, max(buffer, 1)),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

// Emit enqueues ev. The caller's context values (trace, logger attributes)
// travel with the event but its cancellation does not.
func (a *Async) Emit(ctx context.Context, ev timer.TaskEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for q := range a.queue {
		ctx, cancel := context.WithTimeout(q.ctx, a.timeout)
		if err := a.next.Emit(ctx, q.ev); err != nil {
			a.failed.Add(1)
			slog.DebugContext(ctx, "analytics delivery failed",
				"task_id", q.ev.TaskID,
				"status", string(q.ev.Status),
				"err", err,
			)
		}
		cancel()
	}
}

// Dropped returns the number of events rejected because the queue was full.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Failed returns the number of events the next sink rejected.
func (a *Async) Failed() uint64 { return a.failed.Load() }

// Close stops accepting events and waits until the queued ones are delivered
// or ctx is done. It is safe to call more than once.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ timer.EventSink = (*Async)(nil)
