// Package broadcast provides a best-effort, per-task message hub used to keep
// several views of the same reading task informed about timer transitions.
//
// Delivery is fire-and-forget: Publish never blocks, and a subscriber whose
// buffer is full simply misses the message. Messages never cross task IDs.
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/readalong/pkg/timer"
)

// ErrClosed is returned by [Hub.Publish] after [Hub.Close].
var ErrClosed = errors.New("broadcast: hub closed")

const defaultBuffer = 16

// Compile-time interface checks.
var (
	_ timer.Broadcaster = (*Hub)(nil)
	_ timer.Subscriber  = (*Hub)(nil)
)

type subscriber struct {
	ch   chan timer.Message
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub fans messages out to the subscribers of each task. It is safe for
// concurrent use.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
	closed bool

	drops atomic.Uint64
}

// Option configures a [Hub].
type Option func(*Hub)

// WithBuffer sets the per-subscriber channel capacity. Default: 16.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub returns an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer: defaultBuffer,
		topics: make(map[string]map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish delivers msg to every current subscriber of taskID without
// blocking.
func (h *Hub) Publish(taskID string, msg timer.Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for sub := range h.topics[taskID] {
		select {
		case sub.ch <- msg:
		default:
			h.drops.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber for taskID. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
// Subscribing to a closed hub yields an already-closed channel.
func (h *Hub) Subscribe(taskID string) (<-chan timer.Message, func()) {
	sub := &subscriber{ch: make(chan timer.Message, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	subs, ok := h.topics[taskID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.topics[taskID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.topics[taskID]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.topics, taskID)
			}
		}
		h.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// Subscribers returns the number of live subscribers for taskID.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[taskID])
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.drops.Load()
}

// Close closes every subscription. Further publishes return [ErrClosed].
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for taskID, subs := range h.topics {
		for sub := range subs {
			sub.close()
		}
		delete(h.topics, taskID)
	}
	return nil
}
