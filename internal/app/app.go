// Package app wires all Readalong subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until ctx is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithTranscriber, etc.). When an option is not provided, New creates real
// implementations from the config through the [config.Registry].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/readalong/internal/analytics"
	"github.com/MrWong99/readalong/internal/api"
	"github.com/MrWong99/readalong/internal/capture"
	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/health"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/practice"
	"github.com/MrWong99/readalong/internal/resilience"
	"github.com/MrWong99/readalong/pkg/assess"
	"github.com/MrWong99/readalong/pkg/broadcast"
	"github.com/MrWong99/readalong/pkg/timer"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry

	// Hot reload.
	configPath    string
	watchInterval time.Duration
	logLevel      *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	store          timer.Store
	transcriber    capture.Transcriber
	metrics        *observe.Metrics
	metricsHandler http.Handler
	hub            *broadcast.Hub
	events         *analytics.Async
	breaker        *resilience.CircuitBreaker
	practice       *practice.Service
	health         *health.Handler
	handler        http.Handler

	// closers are called in reverse order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the registry used to build the store and transcriber.
// Default: a registry populated by [RegisterBuiltins].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithStore injects a timer state store instead of creating one from config.
// The caller keeps ownership of it.
func WithStore(s timer.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTranscriber injects a transcript source instead of creating one from
// config.
func WithTranscriber(t capture.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithMetrics injects the instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served on /metrics. Default: the
// Prometheus handler for the default registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigWatch makes Run poll path and apply hot-reloadable changes.
// interval <= 0 keeps the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithLogLevel gives the app the level variable of the process logger so
// log_level edits take effect without a restart.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
//
// New performs all initialisation synchronously: store connection,
// transcriber construction, analytics sinks, the practice service and the
// HTTP handler. On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = config.NewRegistry()
		RegisterBuiltins(a.reg)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	if err := a.init(ctx); err != nil {
		_ = a.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Timer state store ─────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Transcriber ───────────────────────────────────────────────────
	if a.transcriber == nil {
		t, err := a.reg.CreateTranscriber(a.cfg.Capture)
		if err != nil {
			return fmt.Errorf("app: init transcriber: %w", err)
		}
		a.transcriber = t
	}

	// ── 3. Broadcast hub ─────────────────────────────────────────────────
	a.hub = broadcast.NewHub()

	// ── 4. Analytics ─────────────────────────────────────────────────────
	if err := a.initAnalytics(); err != nil {
		return fmt.Errorf("app: init analytics: %w", err)
	}

	// ── 5. Practice service ──────────────────────────────────────────────
	a.initPractice()

	// ── 6. Health + HTTP ─────────────────────────────────────────────────
	a.initHTTP()
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	st, err := a.reg.CreateStore(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}
	a.store = st
	if c, ok := st.(interface{ Close() }); ok {
		a.closers = append(a.closers, func(context.Context) error {
			c.Close()
			return nil
		})
	}
	slog.Info("timer store ready", "backend", a.cfg.Storage.Backend)
	return nil
}

// initAnalytics builds the sink fan-out behind one bounded queue. The
// metrics sink is always present; the others follow the config.
func (a *App) initAnalytics() error {
	ac := a.cfg.Analytics
	sinks := analytics.Multi{analytics.NewMetricsSink(a.metrics)}

	if ac.Log {
		sinks = append(sinks, analytics.Instrument("log", analytics.NewLogSink(slog.Default(), slog.LevelInfo), a.metrics))
	}

	if ac.FilePath != "" {
		fs, err := analytics.NewFileSink(ac.FilePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return fs.Close() })
		sinks = append(sinks, analytics.Instrument("file", fs, a.metrics))
	}

	if ac.HTTPURL != "" {
		a.breaker = resilience.New(resilience.Config{
			Name:         "analytics-http",
			MaxFailures:  ac.FailureThreshold,
			ResetTimeout: ac.ResetTimeout,
			IsFailure:    analytics.CollectorFault,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state change", "name", name, "from", from, "to", to)
			},
		})
		hs := analytics.NewHTTPSink(ac.HTTPURL,
			analytics.WithHTTPClient(&http.Client{Timeout: ac.HTTPTimeout}),
			analytics.WithBreaker(a.breaker),
		)
		sinks = append(sinks, analytics.Instrument("http", hs, a.metrics))
	}

	a.events = analytics.NewAsync(sinks, ac.Buffer, analytics.WithDeliveryTimeout(a.cfg.Timer.IOTimeout))
	a.closers = append(a.closers, func(ctx context.Context) error {
		if err := a.events.Close(ctx); err != nil {
			return err
		}
		if n := a.events.Dropped(); n > 0 {
			slog.Warn("analytics events dropped", "count", n)
		}
		return nil
	})
	slog.Info("analytics ready", "sinks", len(sinks), "buffer", ac.Buffer)
	return nil
}

func (a *App) initPractice() {
	timerOpts := []timer.Option{
		timer.WithStore(a.store),
		timer.WithBroadcaster(a.hub),
		timer.WithIOTimeout(a.cfg.Timer.IOTimeout),
		timer.WithLogger(slog.Default()),
	}
	if a.cfg.Timer.AutoStart {
		timerOpts = append(timerOpts, timer.WithAutoStart())
	}

	a.practice = practice.New(
		practice.WithTranscriber(a.transcriber),
		practice.WithAligner(assess.NewAligner(assess.WithFuzzyThreshold(a.cfg.Assess.FuzzyThreshold))),
		practice.WithMetrics(a.metrics),
		practice.WithEventSink(a.events),
		practice.WithTimerOptions(timerOpts...),
	)

	a.closers = append(a.closers, func(context.Context) error { return a.hub.Close() })
	// Closing sessions emits their abandon events, so this runs before the
	// analytics queue drains.
	a.closers = append(a.closers, func(context.Context) error { return a.practice.Close() })
}

func (a *App) initHTTP() {
	var checks []health.Checker
	if p, ok := a.store.(health.Pinger); ok {
		checks = append(checks, health.Ping("storage", p))
	}
	a.health = health.New(checks...)

	a.handler = api.New(api.Config{
		Practice:       a.practice,
		Events:         a.hub,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
		TickInterval:   a.cfg.Timer.TickInterval,
	}).Handler()
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.handler }

// Practice returns the practice service.
func (a *App) Practice() *practice.Service { return a.practice }

// Breaker returns the analytics collector's circuit breaker, or nil when no
// collector is configured.
func (a *App) Breaker() *resilience.CircuitBreaker { return a.breaker }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the server fails. When a config watch is set it also applies
// hot-reloadable edits. After cancellation the server drains in-flight
// requests for at most server.shutdown_timeout and Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	var watcher *config.Watcher
	if a.configPath != "" {
		var opts []config.WatcherOption
		if a.watchInterval > 0 {
			opts = append(opts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.applyReload, opts...)
		if err != nil {
			ln.Close()
			return fmt.Errorf("app: watch config: %w", err)
		}
		watcher = w
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if watcher != nil {
			watcher.Stop()
		}
		a.health.SetDraining(true)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown incomplete", "err", err)
		}
		return nil
	})

	slog.Info("readalong listening", "addr", ln.Addr().String())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// applyReload is the config watcher's callback.
func (a *App) applyReload(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdChanged {
		a.practice.SetFuzzyThreshold(d.NewThreshold)
		slog.Info("fuzzy threshold changed", "threshold", d.NewThreshold)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that only apply after a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order: open sessions
// are closed (emitting their abandon events), the hub closes, the analytics
// queue drains and the storage closes last. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.health != nil {
			a.health.SetDraining(true)
		}

		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				errs = append(errs, ctx.Err())
				shutdownErr = errors.Join(errs...)
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// SlogLevel converts a config log level to its slog counterpart.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
