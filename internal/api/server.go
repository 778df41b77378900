// Package api exposes alignment scoring and task timers over HTTP.
//
// Routes:
//
//	POST   /v1/align                 score a transcript against a text
//	GET    /v1/tasks                 list open tasks
//	POST   /v1/tasks/{id}            open a task (?autostart=1)
//	GET    /v1/tasks/{id}            task snapshot
//	POST   /v1/tasks/{id}/{action}   start, pause or reset the timer
//	POST   /v1/tasks/{id}/attempts   score a reading attempt
//	POST   /v1/tasks/{id}/flush      finish the task
//	DELETE /v1/tasks/{id}            leave the task without finishing it
//	GET    /v1/tasks/{id}/events     websocket stream of transitions and ticks
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/readalong/internal/health"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/practice"
	"github.com/MrWong99/readalong/pkg/timer"
)

// maxBodyBytes bounds request bodies. Attempts may carry audio.
const maxBodyBytes = 8 << 20

// Config wires a [Server] to its collaborators.
type Config struct {
	// Practice owns the task sessions. Required.
	Practice *practice.Service

	// Events delivers task transitions to websocket clients. When nil the
	// event stream carries only snapshots.
	Events timer.Subscriber

	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// Metrics instruments every request. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// TickInterval is the snapshot period of the event stream while a timer
	// runs. Default: 1s.
	TickInterval time.Duration

	// OriginPatterns lists hosts allowed to open the event stream from a
	// browser on another origin.
	OriginPatterns []string
}

// Server is the HTTP surface.
type Server struct {
	cfg     Config
	handler http.Handler
}

// New builds the route table.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/align", s.handleAlign)
	mux.HandleFunc("GET /v1/tasks", s.handleList)
	mux.HandleFunc("POST /v1/tasks/{id}", s.handleOpen)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleSnapshot)
	mux.HandleFunc("DELETE /v1/tasks/{id}", s.handleEnd)
	mux.HandleFunc("POST /v1/tasks/{id}/{action}", s.handleControl)
	mux.HandleFunc("POST /v1/tasks/{id}/attempts", s.handleAttempt)
	mux.HandleFunc("POST /v1/tasks/{id}/flush", s.handleFlush)
	mux.HandleFunc("GET /v1/tasks/{id}/events", s.handleEvents)
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		observe.Logger(r.Context()).Error("request failed", "route", r.Pattern, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, practice.ErrUnknownTask), errors.Is(err, practice.ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, timer.ErrEmptyTaskID), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, practice.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
