// Package filestore provides a [timer.Store] that keeps one JSON file per task
// in a directory. Writes go to a temporary file that is renamed into place,
// so a crash mid-write never leaves a torn record behind.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/MrWong99/readalong/pkg/timer"
)

var _ timer.Store = (*Store)(nil)

// Store persists timer state under a directory. It is safe for concurrent use
// by multiple goroutines and processes; the last rename wins.
type Store struct {
	dir string
}

// New creates dir if needed and returns a Store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// path maps a task ID onto a single file name inside the root.
func (s *Store) path(taskID string) string {
	return filepath.Join(s.dir, url.PathEscape(taskID)+".json")
}

// Load reads and decodes the record for taskID.
func (s *Store) Load(_ context.Context, taskID string) (timer.State, bool, error) {
	data, err := os.ReadFile(s.path(taskID))
	if errors.Is(err, fs.ErrNotExist) {
		return timer.State{}, false, nil
	}
	if err != nil {
		return timer.State{}, false, fmt.Errorf("filestore: read %q: %w", taskID, err)
	}
	st, err := timer.DecodeState(data)
	if err != nil {
		return timer.State{}, false, fmt.Errorf("filestore: load %q: %w", taskID, err)
	}
	return st, true, nil
}

// Save atomically replaces the record for taskID.
func (s *Store) Save(_ context.Context, taskID string, state timer.State) error {
	data, err := timer.EncodeState(state)
	if err != nil {
		return fmt.Errorf("filestore: encode %q: %w", taskID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: write %q: %w", taskID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close %q: %w", taskID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(taskID)); err != nil {
		return fmt.Errorf("filestore: rename %q: %w", taskID, err)
	}
	return nil
}

// Delete removes the record for taskID. Deleting a missing record is not an
// error.
func (s *Store) Delete(_ context.Context, taskID string) error {
	err := os.Remove(s.path(taskID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: delete %q: %w", taskID, err)
	}
	return nil
}

// Ping verifies the directory is still writable.
func (s *Store) Ping(_ context.Context) error {
	f, err := os.CreateTemp(s.dir, ".ping-*")
	if err != nil {
		return fmt.Errorf("filestore: ping: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
