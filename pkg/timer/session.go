// Package timer implements the stopwatch-style session timer for a reading
// exercise.
//
// A [Session] owns a small state machine (idle → running ⇄ paused →
// finalized), persists its [State] after every transition so a reload resumes
// an in-progress exercise (a flush clears the record), broadcasts each
// transition to other views of the same task, and emits lifecycle
// [TaskEvent] records. Storage, broadcast and event failures are never
// surfaced: the in-memory state stays authoritative.
//
// A Session is acquired with [Open] and released with [Session.Close], which
// is idempotent and emits an "abandon" event when the session was never
// finalized explicitly.
package timer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyTaskID is returned by [Open] when no task ID is given.
var ErrEmptyTaskID = errors.New("timer: empty task id")

// Phase is the externally visible state of a [Session].
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseFinalized Phase = "finalized"
)

// Snapshot is a point-in-time view of a [Session].
type Snapshot struct {
	TaskID    string        `json:"taskId"`
	Phase     Phase         `json:"phase"`
	State     State         `json:"state"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMS int64         `json:"elapsedMs"`
	Closed    bool          `json:"closed"`
}

// Session is one task's timer. All methods are safe for concurrent use;
// transitions are applied in call order.
type Session struct {
	taskID string
	origin string

	store        Store
	broadcaster  Broadcaster
	subscriber   Subscriber
	sink         EventSink
	clock        Clock
	logger       *slog.Logger
	autoStart    bool
	ioTimeout    time.Duration
	tickInterval time.Duration
	onTick       func(time.Duration)
	onPeer       func(Message)

	// ctx carries the values of the Open context without its cancellation so
	// late writes and the teardown event still go out.
	ctx context.Context

	mu        sync.Mutex
	state     State
	finalized bool
	finalMS   int64
	closed    bool

	stop        chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()
	closeOnce   sync.Once
}

// Open hydrates the timer for taskID from storage and acquires its
// resources. Missing, unreadable or corrupt records yield an idle timer. When
// nothing was stored and [WithAutoStart] is set, the timer starts running and
// a "started" event is emitted.
func Open(ctx context.Context, taskID string, opts ...Option) (*Session, error) {
	if taskID == "" {
		return nil, ErrEmptyTaskID
	}
	s := &Session{
		taskID:    taskID,
		origin:    uuid.NewString(),
		clock:     SystemClock,
		ioTimeout: defaultIOTimeout,
		logger:    slog.Default(),
		ctx:       context.WithoutCancel(ctx),
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("task_id", taskID)

	s.mu.Lock()
	found := s.hydrate()
	if !found && s.autoStart {
		now := s.nowMS()
		s.state = State{Running: true, StartEpochMS: &now}
		s.persist()
		s.emit(StatusStarted, 0, nil)
	}
	s.mu.Unlock()

	if s.onTick != nil {
		s.wg.Add(1)
		go s.tickLoop()
	}
	if s.subscriber != nil && s.onPeer != nil {
		msgs, cancel := s.subscriber.Subscribe(taskID)
		s.unsubscribe = cancel
		s.wg.Add(1)
		go s.peerLoop(msgs)
	}
	return s, nil
}

// hydrate loads persisted state. Must be called with s.mu held.
func (s *Session) hydrate() bool {
	if s.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.ioTimeout)
	defer cancel()

	st, found, err := s.store.Load(ctx, s.taskID)
	switch {
	case err != nil:
		s.logger.Debug("timer: load failed, starting idle", "err", err)
		return false
	case !found:
		return false
	case !st.Valid():
		s.logger.Debug("timer: stored state invalid, starting idle", "state", st)
		return false
	}
	s.state = st.clone()
	return true
}

// TaskID returns the task identifier the session is scoped to.
func (s *Session) TaskID() string { return s.taskID }

// Start resumes or begins timing. It reports false when the timer is already
// running, finalized or closed.
func (s *Session) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.finalized || s.state.Running {
		return false
	}
	now := s.nowMS()
	s.state.Running = true
	s.state.StartEpochMS = &now
	s.commit(MessageResumed, StatusResumed)
	return true
}

// Pause banks the running interval. It reports false unless the timer was
// running.
func (s *Session) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.finalized || !s.state.Running {
		return false
	}
	s.state.AccumulatedMS = s.state.ElapsedMS(s.nowMS())
	s.state.Running = false
	s.state.StartEpochMS = nil
	s.commit(MessagePaused, StatusPaused)
	return true
}

// Reset zeroes the timer and clears the finalized guard, returning a flushed
// session to idle. It reports false only after [Session.Close].
func (s *Session) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.state = State{}
	s.finalized = false
	s.finalMS = 0
	s.commit(MessageReset, StatusReset)
	return true
}

// Flush finalizes the session with a terminal status such as
// [StatusCompleted] and returns the total active time. Meta is attached to
// the emitted event. The stored record is deleted, so a later [Open] of the
// task starts a fresh attempt instead of resuming time that was already
// reported. Flushing an already finalized or closed session has no effect
// and returns the recorded total.
func (s *Session) Flush(status Status, meta map[string]any) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.finalized {
		return msDuration(s.finalMS)
	}
	ms := s.state.ElapsedMS(s.nowMS())
	s.state = State{AccumulatedMS: ms}
	s.finalized = true
	s.finalMS = ms
	s.forget()
	s.publish(Message{T: MessageFlush, Status: status, MS: ms})
	s.emit(status, ms, meta)
	return msDuration(ms)
}

// Close tears the session down and releases the tick goroutine and the peer
// subscription. If the session was not finalized and has accumulated time,
// an "abandon" event is emitted. Persisted state is left untouched so a
// later [Open] resumes where this one stopped. Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if !s.finalized {
			ms := s.state.ElapsedMS(s.nowMS())
			s.finalized = true
			s.finalMS = ms
			if ms > 0 {
				s.emit(StatusAbandon, ms, nil)
			}
		}
		s.mu.Unlock()

		close(s.stop)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.wg.Wait()
	})
	return nil
}

// Elapsed returns the derived active time, recomputed from the state.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Session) elapsedLocked() time.Duration {
	if s.finalized {
		return msDuration(s.finalMS)
	}
	return msDuration(s.state.ElapsedMS(s.nowMS()))
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseLocked()
}

func (s *Session) phaseLocked() Phase {
	switch {
	case s.finalized:
		return PhaseFinalized
	case s.state.Running:
		return PhaseRunning
	case s.state.AccumulatedMS > 0:
		return PhasePaused
	default:
		return PhaseIdle
	}
}

// Snapshot returns a copy of the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := s.elapsedLocked()
	return Snapshot{
		TaskID:    s.taskID,
		Phase:     s.phaseLocked(),
		State:     s.state.clone(),
		Elapsed:   elapsed,
		ElapsedMS: elapsed.Milliseconds(),
		Closed:    s.closed,
	}
}

// commit persists, broadcasts and emits a transition. Must be called with
// s.mu held.
func (s *Session) commit(t MessageType, status Status) {
	s.persist()
	s.publish(Message{T: t})
	s.emit(status, 0, nil)
}

func (s *Session) persist() {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.ioTimeout)
	defer cancel()
	if err := s.store.Save(ctx, s.taskID, s.state.clone()); err != nil {
		s.logger.Debug("timer: save failed", "err", err)
	}
}

func (s *Session) forget() {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.ioTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, s.taskID); err != nil {
		s.logger.Debug("timer: delete failed", "err", err)
	}
}

func (s *Session) publish(msg Message) {
	if s.broadcaster == nil {
		return
	}
	msg.Origin = s.origin
	if err := s.broadcaster.Publish(s.taskID, msg); err != nil {
		s.logger.Debug("timer: broadcast failed", "type", msg.T, "err", err)
	}
}

func (s *Session) emit(status Status, ms int64, meta map[string]any) {
	if s.sink == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	ev := TaskEvent{
		ID:     uuid.NewString(),
		TaskID: s.taskID,
		Status: status,
		MS:     ms,
		Meta:   meta,
		At:     s.clock.Now(),
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.ioTimeout)
	defer cancel()
	if err := s.sink.Emit(ctx, ev); err != nil {
		s.logger.Debug("timer: emit failed", "status", status, "err", err)
	}
}

func (s *Session) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			running := s.state.Running && !s.finalized
			elapsed := s.elapsedLocked()
			s.mu.Unlock()
			if running {
				s.onTick(elapsed)
			}
		}
	}
}

func (s *Session) peerLoop(msgs <-chan Message) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.Origin == s.origin {
				continue
			}
			s.onPeer(msg)
		}
	}
}

func (s *Session) nowMS() int64 {
	return s.clock.Now().UnixMilli()
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
