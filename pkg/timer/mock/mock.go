// Package mock provides test doubles for the timer package interfaces.
//
// Store, Broadcaster and EventSink record every call and can be told to fail.
// Clock is a manually advanced clock.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/readalong/pkg/timer"
)

// Compile-time interface checks.
var (
	_ timer.Store       = (*Store)(nil)
	_ timer.Broadcaster = (*Broadcaster)(nil)
	_ timer.EventSink   = (*EventSink)(nil)
	_ timer.Clock       = (*Clock)(nil)
)

// Store is an in-memory [timer.Store] that records saves.
type Store struct {
	mu sync.Mutex

	// States holds the current record per task.
	States map[string]timer.State

	// LoadErr, if non-nil, is returned from every Load.
	LoadErr error

	// SaveErr, if non-nil, is returned from every Save and nothing is stored.
	SaveErr error

	// Saves records every successful Save in order.
	Saves []timer.State
}

// Load returns the stored record for taskID.
func (s *Store) Load(_ context.Context, taskID string) (timer.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return timer.State{}, false, s.LoadErr
	}
	st, ok := s.States[taskID]
	return st, ok, nil
}

// Save stores state for taskID.
func (s *Store) Save(_ context.Context, taskID string, state timer.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if s.States == nil {
		s.States = make(map[string]timer.State)
	}
	s.States[taskID] = state
	s.Saves = append(s.Saves, state)
	return nil
}

// Delete removes the record for taskID.
func (s *Store) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.States, taskID)
	return nil
}

// SaveCount returns how many saves succeeded. Thread-safe.
func (s *Store) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Saves)
}

// Published is one recorded Broadcaster.Publish call.
type Published struct {
	TaskID string
	Msg    timer.Message
}

// Broadcaster records published messages.
type Broadcaster struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from every Publish after recording it.
	Err error

	Calls []Published
}

// Publish records the call and returns Err.
func (b *Broadcaster) Publish(taskID string, msg timer.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, Published{TaskID: taskID, Msg: msg})
	return b.Err
}

// Types returns the message types published so far. Thread-safe.
func (b *Broadcaster) Types() []timer.MessageType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]timer.MessageType, len(b.Calls))
	for i, c := range b.Calls {
		out[i] = c.Msg.T
	}
	return out
}

// EventSink records emitted events.
type EventSink struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from every Emit after recording it.
	Err error

	Events []timer.TaskEvent
}

// Emit records ev and returns Err.
func (e *EventSink) Emit(_ context.Context, ev timer.TaskEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Events = append(e.Events, ev)
	return e.Err
}

// Statuses returns the statuses emitted so far. Thread-safe.
func (e *EventSink) Statuses() []timer.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]timer.Status, len(e.Events))
	for i, ev := range e.Events {
		out[i] = ev.Status
	}
	return out
}

// Last returns the most recent event, or false if none. Thread-safe.
func (e *EventSink) Last() (timer.TaskEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Events) == 0 {
		return timer.TaskEvent{}, false
	}
	return e.Events[len(e.Events)-1], true
}

// Clock is a manually advanced [timer.Clock].
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
