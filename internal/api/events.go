package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/practice"
	"github.com/MrWong99/readalong/pkg/timer"
)

// writeTimeout bounds a single websocket frame write.
const writeTimeout = 5 * time.Second

// FrameType distinguishes the frames of the event stream.
type FrameType string

const (
	// FrameSnapshot carries the task's current [timer.Snapshot]. One is sent
	// on connect, after every transition and on every tick while running.
	FrameSnapshot FrameType = "snapshot"

	// FrameMessage relays a transition notice published by the task's timer.
	FrameMessage FrameType = "message"
)

// Frame is one JSON text message on the event stream.
type Frame struct {
	Type     FrameType       `json:"type"`
	Snapshot *timer.Snapshot `json:"snapshot,omitempty"`
	Message  *timer.Message  `json:"message,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.cfg.Practice.Snapshot(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the failure response.
		observe.Logger(observe.WithTask(r.Context(), id)).Debug("event stream: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	var msgs <-chan timer.Message
	if s.cfg.Events != nil {
		var cancel func()
		msgs, cancel = s.cfg.Events.Subscribe(id)
		defer cancel()
	}

	// Client frames are not expected; CloseRead handles pings and the close
	// handshake and cancels ctx when the client goes away.
	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(observe.WithTask(ctx, id))

	if err := writeFrame(ctx, conn, Frame{Type: FrameSnapshot, Snapshot: &snap}); err != nil {
		return
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-msgs:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeFrame(ctx, conn, Frame{Type: FrameMessage, Message: &msg}); err != nil {
				log.Debug("event stream: write failed", "err", err)
				return
			}
			if !s.sendSnapshot(ctx, conn, id, false) {
				return
			}

		case <-ticker.C:
			if !s.sendSnapshot(ctx, conn, id, true) {
				return
			}
		}
	}
}

// sendSnapshot writes the task's snapshot. With onlyRunning set, nothing is
// written unless the timer is running. It reports whether the stream should
// continue.
func (s *Server) sendSnapshot(ctx context.Context, conn *websocket.Conn, id string, onlyRunning bool) bool {
	snap, err := s.cfg.Practice.Snapshot(id)
	if errors.Is(err, practice.ErrUnknownTask) || errors.Is(err, practice.ErrClosed) {
		conn.Close(websocket.StatusNormalClosure, "task closed")
		return false
	}
	if err != nil || (onlyRunning && snap.Phase != timer.PhaseRunning) {
		return true
	}
	return writeFrame(ctx, conn, Frame{Type: FrameSnapshot, Snapshot: &snap}) == nil
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
