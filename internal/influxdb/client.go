package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/joshp123/melcloud/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
	batchSize      = 100
	flushInterval  = 10_000 // milliseconds
)

var ErrNotConnected = errors.New("influxdb: not connected")

// Client batches points through the non-blocking write API.
//
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu        sync.RWMutex
	connected bool
	onError   func(error)
}

// Connect pings the server and opens a write API for the configured bucket.
func Connect(ctx context.Context, cfg *config.InfluxDBConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("influxdb: config is required")
	}
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushInterval),
	)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb: ping %s: %w", cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb: %s is not healthy", cfg.URL)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		connected: true,
	}
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError installs the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// WritePoint queues one point. It never blocks on the network.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(fields) == 0 {
		return fmt.Errorf("influxdb: point %s has no fields", measurement)
	}
	c.writeAPI.WritePoint(NewPoint(measurement, tags, fields, ts))
	return nil
}

// NewPoint builds a point, dropping nil field values.
func NewPoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) *write.Point {
	clean := make(map[string]any, len(fields))
	for key, value := range fields {
		if value != nil {
			clean[key] = value
		}
	}
	return write.NewPoint(measurement, tags, clean, ts)
}

func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := c.client.Ping(pingCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !healthy {
		return errors.New("influxdb health check: server not healthy")
	}
	return nil
}

// Close flushes queued points and releases the client.
func (c *Client) Close() {
	if !c.IsConnected() {
		return
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.writeAPI.Flush()
	c.client.Close()
}
