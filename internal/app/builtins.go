package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/readalong/internal/capture"
	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/pkg/timer"
	"github.com/MrWong99/readalong/pkg/timer/filestore"
	"github.com/MrWong99/readalong/pkg/timer/memstore"
	"github.com/MrWong99/readalong/pkg/timer/postgres"
)

// RegisterBuiltins wires the storage backends and transcribers that ship
// with Readalong into reg.
func RegisterBuiltins(reg *config.Registry) {
	// ── Storage ───────────────────────────────────────────────────────────────

	reg.RegisterStore(config.StorageMemory, func(context.Context, config.StorageConfig) (timer.Store, error) {
		return memstore.New(), nil
	})

	reg.RegisterStore(config.StorageFile, func(_ context.Context, cfg config.StorageConfig) (timer.Store, error) {
		st, err := filestore.New(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return st, nil
	})

	reg.RegisterStore(config.StoragePostgres, func(ctx context.Context, cfg config.StorageConfig) (timer.Store, error) {
		st, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterTranscriber("echo", func(config.CaptureConfig) (capture.Transcriber, error) {
		return capture.Echo{}, nil
	})

	reg.RegisterTranscriber("simulated", func(cfg config.CaptureConfig) (capture.Transcriber, error) {
		return capture.NewSimulated(cfg.Seed,
			capture.WithDropRate(cfg.DropRate),
			capture.WithInsertRate(cfg.InsertRate),
			capture.WithPerturbRate(cfg.PerturbRate),
		), nil
	})

	for _, name := range config.KnownTranscribers {
		slog.Debug("registered transcriber", "name", name)
	}
}
