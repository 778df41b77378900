// Package memstore provides an in-process [timer.Store]. Records are kept in
// their serialised form so a reload through the store behaves like one
// through durable storage.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/readalong/pkg/timer"
)

var _ timer.Store = (*Store)(nil)

// Store is a map-backed [timer.Store]. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string][]byte)}
}

// Load decodes the record for taskID.
func (s *Store) Load(_ context.Context, taskID string) (timer.State, bool, error) {
	s.mu.RLock()
	data, ok := s.records[taskID]
	s.mu.RUnlock()
	if !ok {
		return timer.State{}, false, nil
	}
	st, err := timer.DecodeState(data)
	if err != nil {
		return timer.State{}, false, fmt.Errorf("memstore: load %q: %w", taskID, err)
	}
	return st, true, nil
}

// Save replaces the record for taskID.
func (s *Store) Save(_ context.Context, taskID string, state timer.State) error {
	data, err := timer.EncodeState(state)
	if err != nil {
		return fmt.Errorf("memstore: save %q: %w", taskID, err)
	}
	s.mu.Lock()
	s.records[taskID] = data
	s.mu.Unlock()
	return nil
}

// Delete removes the record for taskID.
func (s *Store) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	delete(s.records, taskID)
	s.mu.Unlock()
	return nil
}

// Put stores raw bytes for taskID without validation, for simulating a
// corrupt record.
func (s *Store) Put(taskID string, raw []byte) {
	s.mu.Lock()
	s.records[taskID] = append([]byte(nil), raw...)
	s.mu.Unlock()
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
