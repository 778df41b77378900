package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/readalong/pkg/timer"
)

// FileSink appends events as JSON lines to a local file. It is safe for
// concurrent use.
type FileSink struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens path for appending, creating it and its parent directory
// if needed.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("analytics: create dir for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("analytics: open %q: %w", path, err)
	}
	return &FileSink{path: path, f: f}, nil
}

// Path returns the file the sink appends to.
func (s *FileSink) Path() string { return s.path }

// Emit appends ev as one line. Each line is written with a single call so
// concurrent writers never interleave within a record.
func (s *FileSink) Emit(_ context.Context, ev timer.TaskEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("analytics: marshal event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("analytics: write %q: %w", s.path, err)
	}
	return nil
}

// Close flushes and closes the file. Further events fail with [ErrClosed].
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Sync()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	return err
}

var _ timer.EventSink = (*FileSink)(nil)
