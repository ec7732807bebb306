package influxdb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/joshp123/melcloud/internal/config"
)

func TestNewPointDropsNilFields(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	point := NewPoint("hvac", map[string]string{"device": "Vp_nere"}, map[string]any{
		"room_temperature": 21.5,
		"set_temperature":  nil,
		"power":            true,
	}, ts)

	line := write.PointToLineProtocol(point, time.Second)
	if !strings.HasPrefix(line, "hvac,device=Vp_nere ") {
		t.Fatalf("unexpected line: %q", line)
	}
	if strings.Contains(line, "set_temperature") {
		t.Fatalf("nil field leaked: %q", line)
	}
	if !strings.Contains(line, "power=true") || !strings.Contains(line, "room_temperature=21.5") {
		t.Fatalf("missing fields: %q", line)
	}
	if !strings.HasSuffix(strings.TrimSpace(line), " 1767323045") {
		t.Fatalf("unexpected timestamp: %q", line)
	}
}

func TestConnectWritesBatch(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			if r.URL.Query().Get("bucket") != "hvac" || r.URL.Query().Get("org") != "home" {
				t.Errorf("unexpected write target: %s", r.URL.RawQuery)
			}
			buf := new(strings.Builder)
			_, _ = io.Copy(buf, r.Body)
			mu.Lock()
			lines = append(lines, buf.String())
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client, err := Connect(context.Background(), &config.InfluxDBConfig{
		URL: server.URL, Token: "token", Org: "home", Bucket: "hvac",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.WritePoint("hvac", map[string]string{"device": "Vp_nere"}, map[string]any{"power": true}, time.Now()); err != nil {
		t.Fatalf("WritePoint: %v", err)
	}
	client.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 || !strings.Contains(lines[0], "device=Vp_nere") {
		t.Fatalf("unexpected writes: %v", lines)
	}
	if err := client.WritePoint("hvac", nil, map[string]any{"power": true}, time.Now()); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestWritePointRequiresFields(t *testing.T) {
	c := &Client{connected: true}
	if err := c.WritePoint("hvac", nil, nil, time.Now()); err == nil {
		t.Fatalf("expected error for empty fields")
	}
}
