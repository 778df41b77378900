// Package practice coordinates reading-practice tasks: it keeps one timer
// session per open task, scores reading attempts against the task's text and
// reports both to analytics.
package practice

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/readalong/internal/capture"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/pkg/assess"
	"github.com/MrWong99/readalong/pkg/timer"
)

var (
	// ErrUnknownTask is returned for operations on a task that is not open.
	ErrUnknownTask = errors.New("practice: unknown task")

	// ErrUnknownAction is returned by [Service.Control] for an unsupported
	// action.
	ErrUnknownAction = errors.New("practice: unknown action")

	// ErrClosed is returned once the service has been closed.
	ErrClosed = errors.New("practice: service closed")
)

// Action is a timer control requested by a learner.
type Action string

const (
	ActionStart Action = "start"
	ActionPause Action = "pause"
	ActionReset Action = "reset"
)

// AttemptRequest carries one reading attempt.
type AttemptRequest struct {
	// Expected is the reference text for this attempt.
	Expected string `json:"expected"`

	// Transcript is what the client recognised, if it did so itself.
	Transcript string `json:"transcript,omitempty"`

	// Audio is the raw captured audio, if any.
	Audio []byte `json:"audio,omitempty"`
}

// AttemptResult is the scored outcome of an attempt.
type AttemptResult struct {
	assess.Result

	// Spoken is the transcript that was scored.
	Spoken string `json:"spoken"`

	// ElapsedMS is the task's active time when the attempt was scored.
	ElapsedMS int64 `json:"elapsedMs"`
}

// Service owns the open timer sessions. It is safe for concurrent use.
type Service struct {
	transcriber capture.Transcriber
	aligner     atomic.Pointer[assess.Aligner]
	metrics     *observe.Metrics
	sink        timer.EventSink
	timerOpts   []timer.Option
	clock       timer.Clock

	opening singleflight.Group

	mu       sync.Mutex
	sessions map[string]*timer.Session
	closed   bool
}

// Option configures a [Service].
type Option func(*Service)

// WithTranscriber sets the transcript source for attempts. Default:
// [capture.Echo].
func WithTranscriber(t capture.Transcriber) Option {
	return func(s *Service) { s.transcriber = t }
}

// WithAligner sets the aligner used to score attempts.
func WithAligner(a *assess.Aligner) Option {
	return func(s *Service) { s.aligner.Store(a) }
}

// WithMetrics sets the instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEventSink sets the sink receiving both timer lifecycle events and
// attempt events.
func WithEventSink(e timer.EventSink) Option {
	return func(s *Service) { s.sink = e }
}

// WithClock sets the clock used for sessions and attempt events.
func WithClock(c timer.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithTimerOptions appends options applied to every opened session, such as
// storage, broadcast or autostart.
func WithTimerOptions(opts ...timer.Option) Option {
	return func(s *Service) { s.timerOpts = append(s.timerOpts, opts...) }
}

// New creates a Service.
func New(opts ...Option) *Service {
	s := &Service{
		transcriber: capture.Echo{},
		clock:       timer.SystemClock,
		sessions:    make(map[string]*timer.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.aligner.Load() == nil {
		s.aligner.Store(assess.NewAligner())
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetFuzzyThreshold replaces the aligner with one using threshold. Attempts
// already being scored finish with the previous aligner.
func (s *Service) SetFuzzyThreshold(threshold float64) {
	s.aligner.Store(assess.NewAligner(assess.WithFuzzyThreshold(threshold)))
}

// FuzzyThreshold returns the threshold of the current aligner.
func (s *Service) FuzzyThreshold() float64 {
	return s.aligner.Load().FuzzyThreshold()
}

// Begin opens the timer for taskID, hydrating it from storage. Opening a task
// that is already open returns the existing session's snapshot, so duplicate
// views of one task share a single timer; extra is then ignored. Options in
// extra apply to this session only.
//
// Storage I/O runs without holding the service lock. Concurrent Begin calls
// for the same task share one open.
func (s *Service) Begin(ctx context.Context, taskID string, extra ...timer.Option) (timer.Snapshot, error) {
	if snap, ok, err := s.existing(taskID); err != nil || ok {
		return snap, err
	}
	v, err, _ := s.opening.Do(taskID, func() (any, error) {
		if snap, ok, err := s.existing(taskID); err != nil || ok {
			return snap, err
		}
		return s.open(ctx, taskID, extra)
	})
	if err != nil {
		return timer.Snapshot{}, err
	}
	return v.(timer.Snapshot), nil
}

// existing returns the snapshot of an already open task.
func (s *Service) existing(taskID string) (timer.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return timer.Snapshot{}, false, ErrClosed
	}
	sess, ok := s.sessions[taskID]
	if !ok {
		return timer.Snapshot{}, false, nil
	}
	return sess.Snapshot(), true, nil
}

func (s *Service) open(ctx context.Context, taskID string, extra []timer.Option) (timer.Snapshot, error) {
	opts := slices.Concat(s.timerOpts, extra, []timer.Option{timer.WithClock(s.clock)})
	if s.sink != nil {
		opts = append(opts, timer.WithEventSink(s.sink))
	}
	sess, err := timer.Open(ctx, taskID, opts...)
	if err != nil {
		return timer.Snapshot{}, fmt.Errorf("practice: begin %q: %w", taskID, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sess.Close()
		return timer.Snapshot{}, ErrClosed
	}
	s.sessions[taskID] = sess
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.mu.Unlock()

	observe.Logger(observe.WithTask(ctx, taskID)).Debug("task opened", "phase", sess.Phase())
	return sess.Snapshot(), nil
}

func (s *Service) session(taskID string) (*timer.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	sess, ok := s.sessions[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, taskID)
	}
	return sess, nil
}

// take removes and returns the session for taskID.
func (s *Service) take(taskID string) (*timer.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	sess, ok := s.sessions[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, taskID)
	}
	delete(s.sessions, taskID)
	return sess, nil
}

// Control applies action to the task's timer. The returned bool reports
// whether the action changed anything.
func (s *Service) Control(ctx context.Context, taskID string, action Action) (timer.Snapshot, bool, error) {
	sess, err := s.session(taskID)
	if err != nil {
		return timer.Snapshot{}, false, err
	}
	var changed bool
	switch action {
	case ActionStart:
		changed = sess.Start()
	case ActionPause:
		changed = sess.Pause()
	case ActionReset:
		changed = sess.Reset()
	default:
		return timer.Snapshot{}, false, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	observe.Logger(observe.WithTask(ctx, taskID)).Debug("timer control", "action", string(action), "changed", changed)
	return sess.Snapshot(), changed, nil
}

// Attempt transcribes and scores one reading attempt for an open task and
// emits an "attempt" event carrying the score.
func (s *Service) Attempt(ctx context.Context, taskID string, req AttemptRequest) (_ AttemptResult, err error) {
	ctx, span := observe.StartSpan(observe.WithTask(ctx, taskID), "practice.attempt")
	defer func() { observe.EndSpan(span, err) }()

	sess, err := s.session(taskID)
	if err != nil {
		return AttemptResult{}, err
	}

	spoken, err := s.transcriber.Transcribe(ctx, capture.Request{
		TaskID:     taskID,
		Expected:   req.Expected,
		Transcript: req.Transcript,
		Audio:      req.Audio,
	})
	if err != nil {
		return AttemptResult{}, fmt.Errorf("practice: transcribe %q: %w", taskID, err)
	}

	res := s.Align(ctx, req.Expected, spoken)
	span.SetAttributes(
		attribute.Float64("assess.score", res.Score),
		attribute.Int("assess.tokens", len(res.Tokens)),
	)

	elapsed := sess.Elapsed().Milliseconds()
	s.emitAttempt(ctx, taskID, elapsed, res)
	return AttemptResult{Result: res, Spoken: spoken, ElapsedMS: elapsed}, nil
}

// Align scores spoken against expected with the current aligner and records
// the alignment metrics. It needs no open task.
func (s *Service) Align(ctx context.Context, expected, spoken string) assess.Result {
	start := time.Now()
	res := s.aligner.Load().Align(expected, spoken)
	ok, missing, mismatch := res.Counts()
	s.metrics.RecordAlignment(ctx, time.Since(start), res.Score, ok, missing, mismatch)
	return res
}

func (s *Service) emitAttempt(ctx context.Context, taskID string, elapsedMS int64, res assess.Result) {
	if s.sink == nil {
		return
	}
	ok, missing, mismatch := res.Counts()
	ev := timer.TaskEvent{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Status: timer.StatusAttempt,
		MS:     elapsedMS,
		Meta: map[string]any{
			"score":    res.Score,
			"ok":       ok,
			"missing":  missing,
			"mismatch": mismatch,
			"verbatim": res.Verbatim,
		},
		At: s.clock.Now(),
	}
	if err := s.sink.Emit(ctx, ev); err != nil {
		observe.Logger(ctx).Debug("attempt event dropped", "err", err)
	}
}

// Finish flushes the task with status, an empty status meaning
// [timer.StatusCompleted], and releases its session. It returns the total
// active time.
func (s *Service) Finish(ctx context.Context, taskID string, status timer.Status, meta map[string]any) (time.Duration, error) {
	if status == "" {
		status = timer.StatusCompleted
	}
	sess, err := s.take(taskID)
	if err != nil {
		return 0, err
	}
	total := sess.Flush(status, meta)
	_ = sess.Close()
	s.metrics.ActiveSessions.Add(ctx, -1)
	observe.Logger(observe.WithTask(ctx, taskID)).Info("task finished", "status", string(status), "elapsed", total)
	return total, nil
}

// End releases the task's session without finalizing it. Accumulated time is
// reported as abandoned and the persisted state is kept for a later Begin.
func (s *Service) End(ctx context.Context, taskID string) error {
	sess, err := s.take(taskID)
	if err != nil {
		return err
	}
	_ = sess.Close()
	s.metrics.ActiveSessions.Add(ctx, -1)
	observe.Logger(observe.WithTask(ctx, taskID)).Debug("task ended")
	return nil
}

// Snapshot returns the current view of an open task.
func (s *Service) Snapshot(taskID string) (timer.Snapshot, error) {
	sess, err := s.session(taskID)
	if err != nil {
		return timer.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// Tasks returns the IDs of all open tasks in sorted order.
func (s *Service) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.sessions))
}

// Close ends every open task and rejects further calls. It is safe to call
// more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := s.sessions
	s.sessions = nil
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Close()
	}
	s.metrics.ActiveSessions.Add(context.Background(), -int64(len(sessions)))
	return nil
}
