package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/readalong/internal/capture"
	"github.com/MrWong99/readalong/pkg/timer"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: backend not registered")

// StoreFactory opens a timer state store. Stores that hold resources may
// also implement Close, which the caller invokes on shutdown.
type StoreFactory func(ctx context.Context, cfg StorageConfig) (timer.Store, error)

// TranscriberFactory builds a transcript source.
type TranscriberFactory func(cfg CaptureConfig) (capture.Transcriber, error)

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu           sync.RWMutex
	stores       map[StorageBackend]StoreFactory
	transcribers map[string]TranscriberFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stores:       make(map[StorageBackend]StoreFactory),
		transcribers: make(map[string]TranscriberFactory),
	}
}

// RegisterStore registers a storage factory under backend.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterStore(backend StorageBackend, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[backend] = factory
}

// RegisterTranscriber registers a transcriber factory under name.
func (r *Registry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribers[name] = factory
}

// CreateStore opens the store registered under cfg.Backend.
// Returns [ErrNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateStore(ctx context.Context, cfg StorageConfig) (timer.Store, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: storage/%q", ErrNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}

// CreateTranscriber builds the transcriber registered under cfg.Transcriber.
func (r *Registry) CreateTranscriber(cfg CaptureConfig) (capture.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcribers[cfg.Transcriber]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrNotRegistered, cfg.Transcriber)
	}
	return factory(cfg)
}
