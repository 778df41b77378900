package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/readalong/internal/resilience"
	"github.com/MrWong99/readalong/pkg/timer"
)

// StatusError reports a non-2xx response from the collector.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector responded %d %s", e.Code, http.StatusText(e.Code))
}

// HTTPSink posts each event as a JSON document to a collector URL. Calls go
// through a [resilience.CircuitBreaker] so an unreachable collector is
// skipped quickly instead of stalling every event.
type HTTPSink struct {
	url     string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// HTTPOption configures an [HTTPSink].
type HTTPOption func(*HTTPSink)

// WithHTTPClient sets the client used for requests. The default has a 5s
// timeout.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) HTTPOption {
	return func(s *HTTPSink) {
		if cb != nil {
			s.breaker = cb
		}
	}
}

// NewHTTPSink returns a sink posting to url.
func NewHTTPSink(url string, opts ...HTTPOption) *HTTPSink {
	s := &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = resilience.New(resilience.Config{
			Name:      "analytics-http",
			IsFailure: CollectorFault,
		})
	}
	return s
}

// CollectorFault reports whether err indicates a problem on the collector's
// side. Client errors (4xx) are the sender's fault and do not trip the
// breaker.
func CollectorFault(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

// Breaker exposes the sink's circuit breaker.
func (s *HTTPSink) Breaker() *resilience.CircuitBreaker { return s.breaker }

// Emit posts ev. It returns [resilience.ErrCircuitOpen] without a request
// while the collector is considered down.
func (s *HTTPSink) Emit(ctx context.Context, ev timer.TaskEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("analytics: marshal event: %w", err)
	}
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.post(ctx, body)
	})
}

func (s *HTTPSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("analytics: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("analytics: post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

var _ timer.EventSink = (*HTTPSink)(nil)
