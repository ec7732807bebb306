package rate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// Logger is the subset of logging.Logger used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Request is one logical upstream call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a completed upstream call with its body already read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends requests one at a time, paced by a Guard, retrying
// connection failures, timeouts, 429 and 5xx responses.
type Transport struct {
	decl   Declaration
	guard  *Guard
	client *http.Client
	logger Logger

	// send is the process-wide send critical section.
	send  *semaphore.Weighted
	sleep func(ctx context.Context, d time.Duration) error
}

type TransportOption func(*Transport)

func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *Transport) {
		if client != nil {
			t.client = client
		}
	}
}

func WithLogger(logger Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock replaces the wall clock and the throttle sleep.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) TransportOption {
	return func(t *Transport) {
		if now != nil {
			t.guard.now = now
		}
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

func NewTransport(decl Declaration, guard *Guard, opts ...TransportOption) *Transport {
	t := &Transport{
		decl:   decl,
		guard:  guard,
		client: &http.Client{},
		logger: noopLogger{},
		send:   semaphore.NewWeighted(1),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute performs one logical call. Every attempt waits out the delay owed
// to the previous call and records its own outcome exactly once.
func (t *Transport) Execute(ctx context.Context, req Request) (*Response, error) {
	if err := t.send.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.send.Release(1)

	provider := t.decl.ProviderName()
	attempts := t.decl.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		delay := t.guard.Delay(t.guard.now())
		delayGauge.WithLabelValues(provider).Set(delay.Seconds())
		if delay > 0 {
			t.logger.Info("throttling upstream call", "provider", provider, "delay_s", int(delay.Seconds()), "attempt", attempt)
			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := t.attempt(ctx, req)
		status := StatusNoResponse
		if resp != nil {
			status = resp.StatusCode
		}
		t.guard.Record(ctx, status)

		switch {
		case err != nil:
			attemptsCounter.WithLabelValues(provider, "error").Inc()
			lastErr = err
			if ctx.Err() != nil {
				return nil, &TransportError{Provider: provider, Attempts: attempt, Err: err}
			}
		case status == http.StatusTooManyRequests:
			attemptsCounter.WithLabelValues(provider, "rate_limited").Inc()
			body := truncate(resp.Body)
			t.logger.Warn("upstream rate limited", "provider", provider, "body", body, "next_call_at", t.guard.NextCallAt())
			lastErr = RateLimitError{Provider: provider, Reason: body, RetryAt: t.guard.NextCallAt()}
		case status >= 500:
			attemptsCounter.WithLabelValues(provider, "server_error").Inc()
			lastErr = StatusError{StatusCode: status, Body: truncate(resp.Body)}
		default:
			attemptsCounter.WithLabelValues(provider, outcome(status)).Inc()
			return resp, nil
		}

		if attempt < attempts {
			retriesCounter.WithLabelValues(provider).Inc()
			t.logger.Warn("upstream attempt failed, retrying", "provider", provider, "attempt", attempt, "max_attempts", attempts, "error", lastErr)
		}
	}

	return nil, &TransportError{Provider: provider, Attempts: attempts, Err: lastErr}
}

// CloseIdleConnections releases pooled connections held by the HTTP client.
func (t *Transport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

func (t *Transport) attempt(ctx context.Context, req Request) (*Response, error) {
	if timeout := t.decl.RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

func outcome(status int) string {
	if status >= 200 && status < 300 {
		return "ok"
	}
	return "client_error"
}

func truncate(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
