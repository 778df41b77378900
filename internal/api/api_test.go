package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/readalong/internal/api"
	"github.com/MrWong99/readalong/internal/health"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/practice"
	"github.com/MrWong99/readalong/pkg/assess"
	"github.com/MrWong99/readalong/pkg/broadcast"
	"github.com/MrWong99/readalong/pkg/timer"
	"github.com/MrWong99/readalong/pkg/timer/memstore"
	"github.com/MrWong99/readalong/pkg/timer/mock"
)

type env struct {
	srv  *httptest.Server
	svc  *practice.Service
	hub  *broadcast.Hub
	sink *mock.EventSink
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	hub := broadcast.NewHub()
	sink := &mock.EventSink{}
	svc := practice.New(
		practice.WithMetrics(m),
		practice.WithEventSink(sink),
		practice.WithTimerOptions(timer.WithStore(memstore.New()), timer.WithBroadcaster(hub)),
	)
	s := api.New(api.Config{
		Practice:     svc,
		Events:       hub,
		Health:       health.New(),
		Metrics:      m,
		TickInterval: 20 * time.Millisecond,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Close()
		_ = hub.Close()
	})
	return &env{srv: srv, svc: svc, hub: hub, sink: sink}
}

func (e *env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func TestAlign(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	resp := e.do(t, "POST", "/v1/align", map[string]string{
		"expected": "the big cat sat",
		"spoken":   "the big big cat sat",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	res := decodeBody[assess.Result](t, resp)
	if len(res.Tokens) != 4 {
		t.Fatalf("tokens = %+v", res.Tokens)
	}
	if res.Tokens[0].Type != assess.KindOK {
		t.Errorf("first token = %+v", res.Tokens[0])
	}
}

func TestAlign_BadBody(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	for _, body := range []string{`{"expected":`, `{"unknown": 1}`} {
		resp, err := e.srv.Client().Post(e.srv.URL+"/v1/align", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestTaskLifecycle(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	resp := e.do(t, "POST", "/v1/tasks/book-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open status = %d", resp.StatusCode)
	}
	if snap := decodeBody[timer.Snapshot](t, resp); snap.Phase != timer.PhaseIdle || snap.TaskID != "book-1" {
		t.Errorf("open snapshot = %+v", snap)
	}

	resp = e.do(t, "POST", "/v1/tasks/book-1/start", nil)
	ctl := decodeBody[struct {
		Changed  bool           `json:"changed"`
		Snapshot timer.Snapshot `json:"snapshot"`
	}](t, resp)
	if !ctl.Changed || ctl.Snapshot.Phase != timer.PhaseRunning {
		t.Errorf("start = %+v", ctl)
	}

	resp = e.do(t, "POST", "/v1/tasks/book-1/attempts", practice.AttemptRequest{
		Expected:   "a big cat",
		Transcript: "a big cat",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("attempt status = %d", resp.StatusCode)
	}
	if att := decodeBody[practice.AttemptResult](t, resp); att.Score != 1 || att.Spoken != "a big cat" {
		t.Errorf("attempt = %+v", att)
	}

	resp = e.do(t, "GET", "/v1/tasks", nil)
	if list := decodeBody[struct{ Tasks []string }](t, resp); len(list.Tasks) != 1 || list.Tasks[0] != "book-1" {
		t.Errorf("tasks = %v", list.Tasks)
	}

	resp = e.do(t, "POST", "/v1/tasks/book-1/flush", map[string]any{"meta": map[string]any{"pages": 3}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("flush status = %d", resp.StatusCode)
	}
	if fl := decodeBody[struct {
		Status timer.Status `json:"status"`
	}](t, resp); fl.Status != timer.StatusCompleted {
		t.Errorf("flush status = %q", fl.Status)
	}

	resp = e.do(t, "GET", "/v1/tasks/book-1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("snapshot after flush status = %d, want 404", resp.StatusCode)
	}

	got := e.sink.Statuses()
	want := []timer.Status{timer.StatusResumed, timer.StatusAttempt, timer.StatusCompleted}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestOpen_AutoStart(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	snap := decodeBody[timer.Snapshot](t, e.do(t, "POST", "/v1/tasks/t1?autostart=1", nil))
	if snap.Phase != timer.PhaseRunning {
		t.Errorf("phase = %s, want running", snap.Phase)
	}
}

func TestFlush_RejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.do(t, "POST", "/v1/tasks/t1", nil)

	resp := e.do(t, "POST", "/v1/tasks/t1/flush", map[string]string{"status": "paused"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.do(t, "POST", "/v1/tasks/t1?autostart=1", nil)
	time.Sleep(5 * time.Millisecond)

	if resp := e.do(t, "DELETE", "/v1/tasks/t1", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if ev, _ := e.sink.Last(); ev.Status != timer.StatusAbandon {
		t.Errorf("last event = %+v, want abandon", ev)
	}
	if resp := e.do(t, "DELETE", "/v1/tasks/t1", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.do(t, "POST", "/v1/tasks/t1", nil)

	tests := []struct {
		method, path string
		want         int
	}{
		{"GET", "/v1/tasks/unknown", http.StatusNotFound},
		{"POST", "/v1/tasks/unknown/start", http.StatusNotFound},
		{"POST", "/v1/tasks/t1/rewind", http.StatusNotFound},
		{"PUT", "/v1/tasks/t1", http.StatusMethodNotAllowed},
		{"GET", "/v1/tasks/unknown/events", http.StatusNotFound},
	}
	for _, tt := range tests {
		if resp := e.do(t, tt.method, tt.path, nil); resp.StatusCode != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if resp := e.do(t, "GET", path, nil); resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status = %d", path, resp.StatusCode)
		}
	}
}

// ── event stream ─────────────────────────────────────────────────────────────

func dial(t *testing.T, e *env, taskID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/v1/tasks/" + taskID + "/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (api.Frame, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return api.Frame{}, err
	}
	var f api.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("frame %s: %v", data, err)
	}
	return f, nil
}

// nextMessage reads frames until a message frame arrives.
func nextMessage(t *testing.T, conn *websocket.Conn) timer.Message {
	t.Helper()
	for {
		f, err := readFrame(t, conn)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if f.Type == api.FrameMessage {
			return *f.Message
		}
	}
}

func TestEvents_RelaysTransitions(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.do(t, "POST", "/v1/tasks/t1", nil)

	conn := dial(t, e, "t1")
	f, err := readFrame(t, conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Type != api.FrameSnapshot || f.Snapshot.Phase != timer.PhaseIdle {
		t.Fatalf("first frame = %+v, want idle snapshot", f)
	}

	// The relay subscribes before writing the first frame.
	if n := e.hub.Subscribers("t1"); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}

	e.do(t, "POST", "/v1/tasks/t1/start", nil)
	if msg := nextMessage(t, conn); msg.T != timer.MessageResumed {
		t.Errorf("message = %+v, want resumed", msg)
	}

	// Running timers produce tick snapshots.
	f, err = readFrame(t, conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Type != api.FrameSnapshot || f.Snapshot.Phase != timer.PhaseRunning {
		t.Errorf("frame after start = %+v, want running snapshot", f)
	}

	e.do(t, "POST", "/v1/tasks/t1/flush", nil)

	// The stream ends once the task is gone. A tick may observe the removal
	// before the flush notice is relayed.
	for {
		f, err := readFrame(t, conn)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Errorf("close error = %v, want normal closure", err)
			}
			return
		}
		if f.Type == api.FrameMessage && (f.Message.T != timer.MessageFlush || f.Message.Status != timer.StatusCompleted) {
			t.Errorf("message = %+v, want flush/completed", *f.Message)
		}
	}
}
