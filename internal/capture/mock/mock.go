// Package mock provides a test double for the capture package.
//
// Example:
//
//	tr := &mock.Transcriber{Transcript: "the cat sat"}
//	text, _ := tr.Transcribe(ctx, capture.Request{TaskID: "t1"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/readalong/internal/capture"
)

// Transcriber is a mock implementation of capture.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Transcript is returned by every call when Err is nil.
	Transcript string

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// Calls records every request passed to Transcribe.
	Calls []capture.Request
}

// Transcribe records req and returns Transcript, Err.
func (t *Transcriber) Transcribe(_ context.Context, req capture.Request) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, req)
	if t.Err != nil {
		return "", t.Err
	}
	return t.Transcript, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Ensure Transcriber implements capture.Transcriber at compile time.
var _ capture.Transcriber = (*Transcriber)(nil)
