package rate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshp123/melcloud/internal/store"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

func testDeclaration() Declaration {
	return Provider("melcloud").
		WaitAfterSuccess(5 * time.Minute).
		WaitAfterError(3 * time.Hour).
		MaxAttempts(3).
		AttemptTimeout(2 * time.Second)
}

func newTestTransport(t *testing.T, st store.Store, clock *fakeClock) (*Transport, *Guard) {
	t.Helper()
	guard := NewGuard(testDeclaration(), st, nil)
	transport := NewTransport(testDeclaration(), guard, WithClock(clock.Now, clock.Sleep))
	return transport, guard
}

func TestDelayHonorsLastStatus(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	probe := start.Add(5*time.Minute - time.Second)

	tests := []struct {
		status int
		want   time.Duration
	}{
		{http.StatusOK, time.Second},
		{http.StatusNoContent, time.Second},
		{StatusNoResponse, 3*time.Hour - 5*time.Minute + time.Second},
		{http.StatusNotFound, time.Second},
		{http.StatusTooManyRequests, 3*time.Hour - 5*time.Minute + time.Second},
		{http.StatusServiceUnavailable, 3*time.Hour - 5*time.Minute + time.Second},
	}
	for _, tt := range tests {
		guard := NewGuard(testDeclaration(), nil, nil)
		guard.state = ThrottleState{LastCallAt: start, LastStatus: tt.status}
		if got := guard.Delay(probe); got != tt.want {
			t.Fatalf("status %d: delay = %v, want %v", tt.status, got, tt.want)
		}
	}

	guard := NewGuard(testDeclaration(), nil, nil)
	if got := guard.Delay(probe); got != 0 {
		t.Fatalf("fresh guard should not delay, got %v", got)
	}
	guard.state = ThrottleState{LastCallAt: start, LastStatus: http.StatusOK}
	if got := guard.Delay(start.Add(time.Hour)); got != 0 {
		t.Fatalf("elapsed interval should not delay, got %v", got)
	}
}

func TestGuardLoadsPersistedState(t *testing.T) {
	st := store.NewMemory()
	last := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SaveJSON(context.Background(), st, store.KeyThrottle, ThrottleState{LastCallAt: last, LastStatus: 503}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	guard := NewGuard(testDeclaration(), st, nil)
	if err := guard.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := guard.Delay(last.Add(time.Hour)); got != 2*time.Hour {
		t.Fatalf("restored delay = %v, want 2h", got)
	}

	empty := NewGuard(testDeclaration(), store.NewMemory(), nil)
	if err := empty.Load(context.Background()); err != nil {
		t.Fatalf("missing state should not fail: %v", err)
	}
}

func TestExecuteWaitsForPreviousCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	clock := newFakeClock()
	transport, _ := newTestTransport(t, store.NewMemory(), clock)

	for i := 0; i < 2; i++ {
		if _, err := transport.Execute(context.Background(), Request{Method: http.MethodGet, URL: server.URL}); err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}
	slept := clock.Slept()
	if len(slept) != 1 || slept[0] != 5*time.Minute {
		t.Fatalf("expected one 5m wait, got %v", slept)
	}
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	st := store.NewMemory()
	clock := newFakeClock()
	transport, guard := newTestTransport(t, st, clock)

	resp, err := transport.Execute(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", resp.Body)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits)
	}
	slept := clock.Slept()
	if len(slept) != 2 || slept[0] != 3*time.Hour || slept[1] != 3*time.Hour {
		t.Fatalf("each retry should wait the error interval, got %v", slept)
	}

	var persisted ThrottleState
	if err := store.LoadJSON(context.Background(), st, store.KeyThrottle, &persisted); err != nil {
		t.Fatalf("load persisted state: %v", err)
	}
	if persisted.LastStatus != http.StatusOK || !persisted.LastCallAt.Equal(clock.Now()) {
		t.Fatalf("unexpected persisted state: %+v", persisted)
	}
	if guard.State().LastStatus != http.StatusOK {
		t.Fatalf("unexpected guard state: %+v", guard.State())
	}
}

func TestExecuteExhaustsOnRateLimit(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer server.Close()

	clock := newFakeClock()
	transport, guard := newTestTransport(t, store.NewMemory(), clock)

	_, err := transport.Execute(context.Background(), Request{Method: http.MethodPost, URL: server.URL, Body: []byte("{}")})
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if transportErr.Attempts != 3 {
		t.Fatalf("unexpected attempts: %d", transportErr.Attempts)
	}
	var limited RateLimitError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitError in chain, got %v", err)
	}
	if limited.Reason != "slow down" {
		t.Fatalf("unexpected reason: %q", limited.Reason)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits)
	}
	if guard.State().LastStatus != http.StatusTooManyRequests {
		t.Fatalf("429 should be recorded: %+v", guard.State())
	}
	if got := guard.Delay(clock.Now()); got != 3*time.Hour {
		t.Fatalf("next call should wait the error interval, got %v", got)
	}
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	transport, _ := newTestTransport(t, store.NewMemory(), newFakeClock())
	resp, err := transport.Execute(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", hits)
	}
}

func TestExecuteRetriesTimeouts(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			<-r.Context().Done()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	clock := newFakeClock()
	decl := testDeclaration().AttemptTimeout(50 * time.Millisecond)
	guard := NewGuard(decl, store.NewMemory(), nil)
	transport := NewTransport(decl, guard, WithClock(clock.Now, clock.Sleep))

	if _, err := transport.Execute(context.Background(), Request{Method: http.MethodGet, URL: server.URL}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected a retry after timeout, got %d attempts", hits)
	}
	slept := clock.Slept()
	if len(slept) != 1 || slept[0] != 3*time.Hour {
		t.Fatalf("timeout should use the error interval, got %v", slept)
	}
}

func TestExecuteSerializesCallers(t *testing.T) {
	var inflight, peak int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
	}))
	defer server.Close()

	decl := Provider("melcloud").MaxAttempts(1)
	transport := NewTransport(decl, NewGuard(decl, nil, nil))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := transport.Execute(context.Background(), Request{Method: http.MethodGet, URL: server.URL}); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&peak) != 1 {
		t.Fatalf("expected serialized sends, peak concurrency %d", peak)
	}
}

func TestExecuteHonorsCancelledWait(t *testing.T) {
	decl := testDeclaration()
	guard := NewGuard(decl, nil, nil)
	guard.state = ThrottleState{LastCallAt: time.Now(), LastStatus: http.StatusTooManyRequests}
	transport := NewTransport(decl, guard)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := transport.Execute(ctx, Request{Method: http.MethodGet, URL: "http://127.0.0.1:1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while throttled, got %v", err)
	}
}
