package timer

import (
	"time"
)

// Status is the lifecycle status carried by a [TaskEvent]. The predefined
// values are emitted by the timer itself; callers may pass any other value to
// [Session.Flush].
type Status string

const (
	StatusStarted   Status = "started"
	StatusResumed   Status = "resumed"
	StatusPaused    Status = "paused"
	StatusReset     Status = "reset"
	StatusCompleted Status = "completed"
	StatusAbandon   Status = "abandon"

	// StatusAttempt marks a scored reading attempt. The timer never emits it;
	// callers send it through the same sink.
	StatusAttempt Status = "attempt"
)

// Terminal reports whether s ends a task: [StatusCompleted], [StatusAbandon]
// and any caller-defined flush status.
func (s Status) Terminal() bool {
	switch s {
	case StatusStarted, StatusResumed, StatusPaused, StatusReset, StatusAttempt:
		return false
	}
	return s != ""
}

// TaskEvent is a write-once analytics record. The timer never reads events
// back.
type TaskEvent struct {
	// ID uniquely identifies the event so collectors can drop duplicates.
	ID string `json:"id"`

	TaskID string         `json:"taskId"`
	Status Status         `json:"status"`
	MS     int64          `json:"ms"`
	Meta   map[string]any `json:"meta"`

	// At is the wall-clock emission time.
	At time.Time `json:"at"`
}

// MessageType is the kind of a cross-view [Message].
type MessageType string

const (
	MessageResumed MessageType = "resumed"
	MessagePaused  MessageType = "paused"
	MessageReset   MessageType = "reset"
	MessageFlush   MessageType = "flush"
)

// Message is the small notice broadcast to other views of the same task after
// every transition. Delivery is best effort and unordered within tolerance.
type Message struct {
	T      MessageType `json:"t"`
	Status Status      `json:"status,omitempty"`
	MS     int64       `json:"ms,omitempty"`

	// Origin identifies the publishing session so it can ignore its own
	// messages.
	Origin string `json:"origin,omitempty"`
}
