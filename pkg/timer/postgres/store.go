// Package postgres provides a PostgreSQL-backed [timer.Store].
//
// Each task owns one row in the timer_states table; the state is stored as
// JSONB in the same schema the other stores use. Saves are upserts, so
// concurrent writers for one task resolve last-write-wins.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	sess, err := timer.Open(ctx, taskID, timer.WithStore(store))
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/readalong/pkg/timer"
)

var _ timer.Store = (*Store)(nil)

const ddlTimerStates = `
CREATE TABLE IF NOT EXISTS timer_states (
    task_id     TEXT         PRIMARY KEY,
    state       JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates the timer_states table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTimerStates); err != nil {
		return fmt.Errorf("postgres timer store: migrate: %w", err)
	}
	return nil
}

// Store keeps timer state in PostgreSQL. All methods are safe for concurrent
// use.
type Store struct {
	pool  *pgxpool.Pool
	owned bool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate]. The
// returned Store owns the pool; call [Store.Close] when done.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres timer store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres timer store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres timer store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, owned: true}, nil
}

// New wraps an existing pool. The caller keeps ownership of pool and must
// have run [Migrate].
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Load reads and decodes the row for taskID.
func (s *Store) Load(ctx context.Context, taskID string) (timer.State, bool, error) {
	const q = `SELECT state FROM timer_states WHERE task_id = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, taskID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return timer.State{}, false, nil
	}
	if err != nil {
		return timer.State{}, false, fmt.Errorf("postgres timer store: load %q: %w", taskID, err)
	}
	st, err := timer.DecodeState(raw)
	if err != nil {
		return timer.State{}, false, fmt.Errorf("postgres timer store: load %q: %w", taskID, err)
	}
	return st, true, nil
}

// Save upserts the row for taskID.
func (s *Store) Save(ctx context.Context, taskID string, state timer.State) error {
	const q = `
		INSERT INTO timer_states (task_id, state, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (task_id) DO UPDATE
		SET    state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`

	data, err := timer.EncodeState(state)
	if err != nil {
		return fmt.Errorf("postgres timer store: encode %q: %w", taskID, err)
	}
	if _, err := s.pool.Exec(ctx, q, taskID, string(data)); err != nil {
		return fmt.Errorf("postgres timer store: save %q: %w", taskID, err)
	}
	return nil
}

// Delete removes the row for taskID.
func (s *Store) Delete(ctx context.Context, taskID string) error {
	const q = `DELETE FROM timer_states WHERE task_id = $1`
	if _, err := s.pool.Exec(ctx, q, taskID); err != nil {
		return fmt.Errorf("postgres timer store: delete %q: %w", taskID, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool if the Store created it.
func (s *Store) Close() {
	if s.owned {
		s.pool.Close()
	}
}
