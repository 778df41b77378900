// Command readalong is the main entry point for the Readalong practice server.
//
// Usage:
//
//	readalong [-config config.yaml]              serve the HTTP API
//	readalong align -expected TEXT -spoken TEXT  score one attempt and print JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/readalong/internal/app"
	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/pkg/assess"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "align" {
		os.Exit(runAlign(os.Args[2:], os.Stdout, os.Stderr))
	}
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload log_level and assess settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "readalong: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "readalong: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("readalong starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(os.Stdout, cfg)

	opts := []app.Option{
		app.WithLogLevel(&level),
		app.WithMetricsHandler(telemetry.MetricsHandler()),
	}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath, 0))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// runAlign scores one attempt offline and writes the result as JSON to out.
func runAlign(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("align", flag.ContinueOnError)
	fs.SetOutput(errOut)
	expected := fs.String("expected", "", "reference text")
	spoken := fs.String("spoken", "", "transcript of what was read")
	threshold := fs.Float64("threshold", assess.DefaultFuzzyThreshold, "minimum similarity for a near miss")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *expected == "" {
		fmt.Fprintln(errOut, "readalong align: -expected is required")
		return 2
	}

	res := assess.NewAligner(assess.WithFuzzyThreshold(*threshold)).Align(*expected, *spoken)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(errOut, "readalong align: %v\n", err)
		return 1
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║       Readalong startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	printRow(w, "Storage", string(cfg.Storage.Backend))
	printRow(w, "Transcriber", cfg.Capture.Transcriber)
	printRow(w, "Fuzzy thresh.", fmt.Sprintf("%.2f", cfg.Assess.FuzzyThreshold))
	printRow(w, "Auto start", fmt.Sprintf("%t", cfg.Timer.AutoStart))
	printRow(w, "Analytics", analyticsSummary(cfg.Analytics))
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func analyticsSummary(ac config.AnalyticsConfig) string {
	s := "metrics"
	if ac.Log {
		s += "+log"
	}
	if ac.FilePath != "" {
		s += "+file"
	}
	if ac.HTTPURL != "" {
		s += "+http"
	}
	return s
}

func printRow(w io.Writer, label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-13s   : %-19s ║\n", label, value)
}
