package timer

import (
	"log/slog"
	"time"
)

const (
	defaultTickInterval = time.Second
	defaultIOTimeout    = 2 * time.Second
)

// Option configures a [Session] at [Open].
type Option func(*Session)

// WithStore sets the durable storage. Without a store the session keeps its
// state in memory only.
func WithStore(s Store) Option {
	return func(sess *Session) { sess.store = s }
}

// WithBroadcaster sets where transition notices are published.
func WithBroadcaster(b Broadcaster) Option {
	return func(sess *Session) { sess.broadcaster = b }
}

// WithEventSink sets the analytics collaborator.
func WithEventSink(e EventSink) Option {
	return func(sess *Session) { sess.sink = e }
}

// WithClock overrides [SystemClock]. Intended for tests.
func WithClock(c Clock) Option {
	return func(sess *Session) {
		if c != nil {
			sess.clock = c
		}
	}
}

// WithAutoStart starts the timer on open when nothing was stored for the task.
func WithAutoStart() Option {
	return func(sess *Session) { sess.autoStart = true }
}

// WithTick calls fn with the derived elapsed time every interval while the
// timer is running. fn runs on the tick goroutine and must not call
// [Session.Close]. A non-positive interval selects one second.
func WithTick(interval time.Duration, fn func(elapsed time.Duration)) Option {
	return func(sess *Session) {
		if interval <= 0 {
			interval = defaultTickInterval
		}
		sess.tickInterval = interval
		sess.onTick = fn
	}
}

// WithPeerUpdates subscribes to messages published by other sessions of the
// same task and hands them to fn. Messages from this session are filtered out.
// The subscription is released by [Session.Close].
func WithPeerUpdates(sub Subscriber, fn func(Message)) Option {
	return func(sess *Session) {
		sess.subscriber = sub
		sess.onPeer = fn
	}
}

// WithIOTimeout bounds each storage and event call. Default: 2s.
func WithIOTimeout(d time.Duration) Option {
	return func(sess *Session) {
		if d > 0 {
			sess.ioTimeout = d
		}
	}
}

// WithLogger sets the logger used for the silent fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(sess *Session) {
		if l != nil {
			sess.logger = l
		}
	}
}
