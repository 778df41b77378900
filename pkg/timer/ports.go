package timer

import (
	"context"
	"time"
)

// Store persists timer state per task ID. Absence of a record is reported as
// found == false and is equivalent to an idle timer. Writes are last-write-wins.
type Store interface {
	Load(ctx context.Context, taskID string) (state State, found bool, err error)
	Save(ctx context.Context, taskID string, state State) error
	Delete(ctx context.Context, taskID string) error
}

// Broadcaster publishes transition notices to other views of the same task.
type Broadcaster interface {
	Publish(taskID string, msg Message) error
}

// Subscriber delivers messages published for a task. The returned cancel
// function releases the subscription and closes the channel; it must be safe
// to call more than once.
type Subscriber interface {
	Subscribe(taskID string) (msgs <-chan Message, cancel func())
}

// EventSink receives lifecycle events. Delivery is best effort.
type EventSink interface {
	Emit(ctx context.Context, ev TaskEvent) error
}

// EventSinkFunc adapts a function to [EventSink].
type EventSinkFunc func(ctx context.Context, ev TaskEvent) error

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, ev TaskEvent) error {
	return f(ctx, ev)
}

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real wall clock.
var SystemClock Clock = systemClock{}
