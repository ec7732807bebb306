package melcloud

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joshp123/melcloud/internal/config"
	"github.com/joshp123/melcloud/internal/rate"
)

func TestConfigDefaultsPaceAndBoundAttempts(t *testing.T) {
	decl := Config{Username: "user@example.com", Password: "secret"}.withDefaults().RateLimits()

	if decl.RequestTimeout() != config.DefaultRequestTimeout {
		t.Fatalf("request timeout = %v, want %v", decl.RequestTimeout(), config.DefaultRequestTimeout)
	}
	if decl.ShortInterval() != config.DefaultShortInterval || decl.LongInterval() != config.DefaultLongInterval {
		t.Fatalf("unexpected intervals: short=%v long=%v", decl.ShortInterval(), decl.LongInterval())
	}
	if decl.Attempts() != config.DefaultRetries {
		t.Fatalf("attempts = %d, want %d", decl.Attempts(), config.DefaultRetries)
	}

	explicit := Config{ShortInterval: time.Second, LongInterval: time.Minute, RequestTimeout: 3 * time.Second}.withDefaults()
	if explicit.ShortInterval != time.Second || explicit.LongInterval != time.Minute || explicit.RequestTimeout != 3*time.Second {
		t.Fatalf("explicit values should be kept: %+v", explicit)
	}
}

func TestStalledUpstreamTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == loginPath {
			_, _ = io.WriteString(w, `{"ErrorId":null,"LoginData":{"ContextKey":"key-1","Expiry":"2099-01-01T00:00:00"}}`)
			return
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Retries = 1
	cfg.RequestTimeout = 50 * time.Millisecond
	client, err := NewClient(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := client.ListDevices(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		var transportErr *rate.TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("expected TransportError, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ListDevices still blocked on a stalled upstream")
	}
}
