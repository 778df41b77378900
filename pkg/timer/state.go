package timer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidState is returned by [DecodeState] when a record parses but
// breaks the state invariants.
var ErrInvalidState = errors.New("timer: invalid state")

// State is the persisted form of a session timer. It is also the durable
// storage schema: one record per task ID, absent meaning a fresh idle timer.
//
// Invariants: StartEpochMS is non-nil iff Running, and AccumulatedMS >= 0.
type State struct {
	Running       bool   `json:"running"`
	AccumulatedMS int64  `json:"accumulatedMs"`
	StartEpochMS  *int64 `json:"startEpochMs"`
}

// Valid reports whether s satisfies the state invariants.
func (s State) Valid() bool {
	if s.AccumulatedMS < 0 {
		return false
	}
	return s.Running == (s.StartEpochMS != nil)
}

// ElapsedMS returns the active time in milliseconds as of nowMS. The running
// interval never counts negative, so a clock stepping backwards cannot shrink
// banked time.
func (s State) ElapsedMS(nowMS int64) int64 {
	if !s.Running || s.StartEpochMS == nil {
		return s.AccumulatedMS
	}
	return s.AccumulatedMS + max(nowMS-*s.StartEpochMS, 0)
}

// Elapsed is [State.ElapsedMS] as a [time.Duration] relative to now.
func (s State) Elapsed(now time.Time) time.Duration {
	return time.Duration(s.ElapsedMS(now.UnixMilli())) * time.Millisecond
}

// clone returns a copy of s that does not share the StartEpochMS pointer.
func (s State) clone() State {
	if s.StartEpochMS != nil {
		v := *s.StartEpochMS
		s.StartEpochMS = &v
	}
	return s
}

// EncodeState serialises s in the storage schema.
func EncodeState(s State) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState parses a stored record. Partial or corrupt records and records
// that violate the invariants produce an error; callers fall back to idle.
func DecodeState(data []byte) (State, error) {
	var raw struct {
		Running       *bool  `json:"running"`
		AccumulatedMS *int64 `json:"accumulatedMs"`
		StartEpochMS  *int64 `json:"startEpochMs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return State{}, fmt.Errorf("timer: decode state: %w", err)
	}
	if raw.Running == nil || raw.AccumulatedMS == nil {
		return State{}, fmt.Errorf("%w: missing fields", ErrInvalidState)
	}
	s := State{Running: *raw.Running, AccumulatedMS: *raw.AccumulatedMS, StartEpochMS: raw.StartEpochMS}
	if !s.Valid() {
		return State{}, fmt.Errorf("%w: %+v", ErrInvalidState, s)
	}
	return s, nil
}
