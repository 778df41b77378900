package api

import (
	"fmt"
	"net/http"

	"github.com/MrWong99/readalong/internal/practice"
	"github.com/MrWong99/readalong/pkg/timer"
)

type alignRequest struct {
	Expected string `json:"expected"`
	Spoken   string `json:"spoken"`
}

func (s *Server) handleAlign(w http.ResponseWriter, r *http.Request) {
	var req alignRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Practice.Align(r.Context(), req.Expected, req.Spoken))
}

type taskList struct {
	Tasks []string `json:"tasks"`
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, taskList{Tasks: s.cfg.Practice.Tasks()})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var opts []timer.Option
	switch r.URL.Query().Get("autostart") {
	case "1", "true":
		opts = append(opts, timer.WithAutoStart())
	}
	snap, err := s.cfg.Practice.Begin(r.Context(), r.PathValue("id"), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cfg.Practice.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type controlResponse struct {
	Changed  bool           `json:"changed"`
	Snapshot timer.Snapshot `json:"snapshot"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	action := practice.Action(r.PathValue("action"))
	snap, changed, err := s.cfg.Practice.Control(r.Context(), r.PathValue("id"), action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{Changed: changed, Snapshot: snap})
}

func (s *Server) handleAttempt(w http.ResponseWriter, r *http.Request) {
	var req practice.AttemptRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.cfg.Practice.Attempt(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type flushRequest struct {
	Status timer.Status   `json:"status"`
	Meta   map[string]any `json:"meta"`
}

type flushResponse struct {
	TaskID    string       `json:"taskId"`
	Status    timer.Status `json:"status"`
	ElapsedMS int64        `json:"elapsedMs"`
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	var req flushRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Status == "" {
		req.Status = timer.StatusCompleted
	}
	if !req.Status.Terminal() {
		writeError(w, r, fmt.Errorf("%w: status %q does not end a task", errBadRequest, req.Status))
		return
	}
	id := r.PathValue("id")
	total, err := s.cfg.Practice.Finish(r.Context(), id, req.Status, req.Meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flushResponse{TaskID: id, Status: req.Status, ElapsedMS: total.Milliseconds()})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Practice.End(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
