package app_test

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/readalong/internal/app"
	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/practice"
	"github.com/MrWong99/readalong/internal/resilience"
	"github.com/MrWong99/readalong/pkg/timer"
	"github.com/MrWong99/readalong/pkg/timer/memstore"
)

// testOptions returns options isolating the app from global telemetry.
func testOptions(t *testing.T) []app.Option {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return []app.Option{
		app.WithMetrics(m),
		app.WithMetricsHandler(http.NotFoundHandler()),
	}
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, append(testOptions(t), opts...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func post(t *testing.T, srv *httptest.Server, path string) {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status = %d", path, resp.StatusCode)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	a := newApp(t, config.Default())
	if a.Handler() == nil {
		t.Fatal("Handler() = nil")
	}
	if a.Practice() == nil {
		t.Fatal("Practice() = nil")
	}
	if a.Breaker() != nil {
		t.Error("Breaker() should be nil without a collector")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	// A second call is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

func TestNew_UnknownTranscriber(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Capture.Transcriber = "whisper"
	_, err := app.New(context.Background(), cfg, testOptions(t)...)
	if !errors.Is(err, config.ErrNotRegistered) {
		t.Fatalf("New() error = %v, want ErrNotRegistered", err)
	}
}

func TestNew_InjectedStore(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	cfg := config.Default()
	cfg.Timer.AutoStart = true
	a := newApp(t, cfg, app.WithStore(store))

	snap, err := a.Practice().Begin(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if snap.Phase != timer.PhaseRunning {
		t.Errorf("phase = %s, want running (auto_start)", snap.Phase)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}
}

func TestFileBackendAndSink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Backend: config.StorageFile, Dir: filepath.Join(dir, "state")}
	cfg.Analytics.FilePath = filepath.Join(dir, "events", "events.jsonl")
	cfg.Analytics.Log = true

	a := newApp(t, cfg)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	post(t, srv, "/v1/tasks/done")
	post(t, srv, "/v1/tasks/done/start")
	post(t, srv, "/v1/tasks/done/flush")

	post(t, srv, "/v1/tasks/open")
	post(t, srv, "/v1/tasks/open/start")
	time.Sleep(5 * time.Millisecond)

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "state", "open.json")); err != nil {
		t.Errorf("state file of the unfinished task: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "state", "done.json")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("state file of the finished task: err = %v, want not exist", err)
	}

	lines := readLines(t, cfg.Analytics.FilePath)
	var completed, abandon int
	for _, l := range lines {
		switch {
		case strings.Contains(l, `"status":"completed"`):
			completed++
		case strings.Contains(l, `"status":"abandon"`):
			abandon++
		}
	}
	if completed != 1 || abandon != 1 {
		t.Errorf("completed=%d abandon=%d, want 1 each; lines:\n%s", completed, abandon, strings.Join(lines, "\n"))
	}
}

func TestCollectorFailuresOpenBreaker(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer collector.Close()

	cfg := config.Default()
	cfg.Analytics.HTTPURL = collector.URL
	cfg.Analytics.FailureThreshold = 1
	cfg.Analytics.ResetTimeout = time.Hour

	a := newApp(t, cfg)
	if a.Breaker() == nil {
		t.Fatal("Breaker() = nil with a collector configured")
	}

	ctx := context.Background()
	if _, err := a.Practice().Begin(ctx, "t1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for range 3 {
		if _, _, err := a.Practice().Control(ctx, "t1", practice.ActionStart); err != nil {
			t.Fatal(err)
		}
		if _, _, err := a.Practice().Control(ctx, "t1", practice.ActionPause); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for a.Breaker().State() != resilience.StateOpen && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := a.Breaker().State(); got != resilience.StateOpen {
		t.Fatalf("breaker state = %s, want open", got)
	}

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("collector hits = %d, want 1 (breaker should reject the rest)", n)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	a := newApp(t, config.Default())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.ListenAddr = "256.0.0.1:bad"
	a := newApp(t, cfg)
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail on an invalid address")
	}
}

func TestHotReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(body string, mtime time.Time) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now()
	write("server:\n  listen_addr: \"127.0.0.1:0\"\n  log_level: info\nassess:\n  fuzzy_threshold: 0.75\n", now)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var level slog.LevelVar
	a := newApp(t, cfg, app.WithConfigWatch(path, 10*time.Millisecond), app.WithLogLevel(&level))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	// The watcher is running once the server answers.
	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	write("server:\n  listen_addr: \"127.0.0.1:0\"\n  log_level: debug\nassess:\n  fuzzy_threshold: 0.9\n", now.Add(2*time.Second))

	deadline := time.Now().Add(3 * time.Second)
	for a.Practice().FuzzyThreshold() != 0.9 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := a.Practice().FuzzyThreshold(); got != 0.9 {
		t.Errorf("FuzzyThreshold() = %v, want 0.9", got)
	}
	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", got)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
