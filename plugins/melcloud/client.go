package melcloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/joshp123/melcloud/internal/auth"
	"github.com/joshp123/melcloud/internal/rate"
	"github.com/joshp123/melcloud/internal/store"
)

// Logger is the subset of logging.Logger used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateSink receives a copy of every freshly fetched or commanded record.
type StateSink interface {
	PublishState(ctx context.Context, rec DeviceRecord) error
}

// Client is one account's session: it owns the token, the paced transport
// and the device cache. Construct it once and share it.
type Client struct {
	cfg       Config
	store     store.Store
	guard     *rate.Guard
	transport *rate.Transport
	auth      *auth.Manager
	cache     *deviceCache
	discovery singleflight.Group
	sinks     []StateSink
	logger    Logger
}

type options struct {
	httpClient *http.Client
	logger     Logger
	sinks      []StateSink
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*options)

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithSinks(sinks ...StateSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithClock replaces the transport's clock and throttle sleep.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.now = now
		o.sleep = sleep
	}
}

// NewClient builds a session, restoring throttle and token state from st.
func NewClient(ctx context.Context, cfg Config, st store.Store, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if st == nil {
		st = store.NewMemory()
	}
	o := options{logger: noopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = noopLogger{}
	}

	decl := cfg.RateLimits()
	guard := rate.NewGuard(decl, st, o.logger)
	if err := guard.Load(ctx); err != nil {
		o.logger.Warn("ignoring persisted throttle state", "error", err)
	}
	transport := rate.NewTransport(decl, guard,
		rate.WithHTTPClient(o.httpClient),
		rate.WithLogger(o.logger),
		rate.WithClock(o.now, o.sleep),
	)

	c := &Client{
		cfg:       cfg,
		store:     st,
		guard:     guard,
		transport: transport,
		cache:     newDeviceCache(cfg.Location),
		sinks:     o.sinks,
		logger:    o.logger,
	}

	manager, err := auth.NewManager(ctx, providerName, auth.Credentials{
		Username: cfg.Username,
		Password: cfg.Password,
	}, c.loginExchange, st, o.logger)
	if err != nil {
		return nil, err
	}
	c.auth = manager
	return c, nil
}

// Login ensures the session holds a valid token, logging in only if needed.
func (c *Client) Login(ctx context.Context) error {
	_, err := c.auth.AccessToken(ctx)
	return err
}

// Logout drops the session token and releases pooled connections. The
// discovered topology is kept.
func (c *Client) Logout(ctx context.Context) error {
	err := c.auth.Logout(ctx)
	c.transport.CloseIdleConnections()
	return err
}

// ListDevices returns every known device, discovering them on first use.
// Concurrent first calls share one discovery, which outlives any single
// caller's cancellation.
func (c *Client) ListDevices(ctx context.Context) (map[string]DeviceRecord, error) {
	if !c.cache.empty() {
		return c.cache.snapshot(), nil
	}
	shared := context.WithoutCancel(ctx)
	result := c.discovery.DoChan("devices", func() (any, error) {
		return nil, c.discover(shared)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
	}
	return c.cache.snapshot(), nil
}

// Devices returns the cached records without any network call.
func (c *Client) Devices() map[string]DeviceRecord {
	return c.cache.snapshot()
}

// GetDevice fetches the current state of one device and returns a copy of
// the merged record.
func (c *Client) GetDevice(ctx context.Context, name string) (DeviceRecord, error) {
	if _, err := c.ListDevices(ctx); err != nil {
		return DeviceRecord{}, err
	}
	rec, ok := c.cache.lookup(name)
	if !ok {
		return DeviceRecord{}, &UnknownDeviceError{Name: name}
	}
	return c.fetchDevice(ctx, rec)
}

// GetAllDevices refreshes every device one after another. A device that
// fails keeps its last-known record in the result.
func (c *Client) GetAllDevices(ctx context.Context) (map[string]DeviceRecord, error) {
	if _, err := c.ListDevices(ctx); err != nil {
		return nil, err
	}

	out := make(map[string]DeviceRecord)
	for _, name := range c.cache.names() {
		rec, err := c.GetDevice(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			fetchFailures.WithLabelValues(name).Inc()
			c.logger.Warn("device refresh failed", "device", name, "error", err)
			rec, _ = c.cache.lookup(name)
		}
		out[name] = rec
	}
	return out, nil
}

// SetDeviceState submits the set fields of desired as one command. Values are
// validated before anything else happens. The device's pending flags are
// zero when this returns, whatever the outcome.
func (c *Client) SetDeviceState(ctx context.Context, name string, desired DesiredState) error {
	changes, err := desired.compile()
	if err != nil {
		commandsCounter.WithLabelValues("invalid").Inc()
		return err
	}
	if _, err := c.ListDevices(ctx); err != nil {
		return err
	}
	rec, ok := c.cache.lookup(name)
	if !ok {
		commandsCounter.WithLabelValues("unknown_device").Inc()
		return &UnknownDeviceError{Name: name}
	}
	if len(changes) == 0 {
		return nil
	}

	if !c.cache.hasPayload(name) {
		if _, err := c.fetchDevice(ctx, rec); err != nil {
			commandsCounter.WithLabelValues("error").Inc()
			return err
		}
	}

	body, err := c.cache.stage(name, changes)
	if err != nil {
		c.cache.finish(name, nil, nil)
		commandsCounter.WithLabelValues("error").Inc()
		return err
	}

	respBody, err := c.do(ctx, http.MethodPost, setAtaPath, nil, body)
	if err != nil {
		c.cache.finish(name, nil, nil)
		commandsCounter.WithLabelValues("error").Inc()
		return err
	}
	raw, state, err := decodePayload(respBody)
	if err != nil {
		c.cache.finish(name, nil, nil)
		commandsCounter.WithLabelValues("error").Inc()
		return err
	}

	updated, _ := c.cache.finish(name, raw, &state)
	commandsCounter.WithLabelValues("ok").Inc()
	c.logger.Info("device command applied", "device", name, "fields", len(changes))
	c.publish(ctx, updated)
	return nil
}

// TokenExpiry reports the session token's expiry and whether it is valid now.
func (c *Client) TokenExpiry() (time.Time, bool) {
	return c.auth.Expiry()
}

// Throttle reports the outcome of the last upstream call.
func (c *Client) Throttle() rate.ThrottleState {
	return c.guard.State()
}

// NextCallAt is the earliest instant the next upstream call may start.
func (c *Client) NextCallAt() time.Time {
	return c.guard.NextCallAt()
}

func (c *Client) discover(ctx context.Context) error {
	if !c.cache.empty() {
		return nil
	}
	if !c.cache.markRestored() {
		restored, err := c.restoreDevices(ctx)
		if err != nil {
			c.logger.Warn("ignoring persisted devices", "error", err)
		}
		if restored {
			return nil
		}
	}

	c.logger.Info("discovering devices")
	var buildings []buildingEntry
	if err := c.getJSON(ctx, listDevicesPath, nil, &buildings); err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	devices := make(map[string]identity)
	for _, entry := range flatten(buildings) {
		if entry.DeviceName == "" {
			continue
		}
		if _, dup := devices[entry.DeviceName]; dup {
			c.logger.Warn("duplicate device name, keeping first", "device", entry.DeviceName, "device_id", entry.DeviceID)
			continue
		}
		lastSeen, err := parseTimestamp(entry.Device.LastTimeStamp, c.cfg.Location, c.cfg.Location)
		if err != nil {
			c.logger.Debug("unparsed device timestamp", "device", entry.DeviceName, "error", err)
		}
		devices[entry.DeviceName] = identity{
			DeviceID:       entry.DeviceID,
			BuildingID:     entry.BuildingID,
			EnergyConsumed: entry.Device.CurrentEnergyConsumed,
			LastSeenAt:     lastSeen,
		}
	}
	c.cache.populate(devices)
	c.logger.Info("discovered devices", "count", len(devices))

	state := devicesState{SchemaVersion: devicesSchemaVersion, Devices: c.cache.identities()}
	if err := store.SaveJSON(context.WithoutCancel(ctx), c.store, store.KeyDevices, state); err != nil {
		c.logger.Warn("persist devices failed", "error", err)
	}
	return nil
}

func (c *Client) restoreDevices(ctx context.Context) (bool, error) {
	var state devicesState
	if err := store.LoadJSON(ctx, c.store, store.KeyDevices, &state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if state.SchemaVersion != devicesSchemaVersion {
		return false, fmt.Errorf("unsupported devices schema_version %d", state.SchemaVersion)
	}
	if len(state.Devices) == 0 {
		return false, nil
	}
	c.cache.populate(state.Devices)
	c.logger.Info("loaded devices from durable state", "count", len(state.Devices))
	return true, nil
}

func (c *Client) fetchDevice(ctx context.Context, rec DeviceRecord) (DeviceRecord, error) {
	query := url.Values{}
	query.Set("id", strconv.Itoa(rec.DeviceID))
	query.Set("buildingID", strconv.Itoa(rec.BuildingID))

	body, err := c.do(ctx, http.MethodGet, getDevicePath, query, nil)
	if err != nil {
		return DeviceRecord{}, fmt.Errorf("get device %s: %w", rec.Name, err)
	}
	raw, state, err := decodePayload(body)
	if err != nil {
		return DeviceRecord{}, fmt.Errorf("get device %s: %w", rec.Name, err)
	}
	updated, err := c.cache.storeFetched(rec.Name, raw, state)
	if err != nil {
		return DeviceRecord{}, err
	}
	c.publish(ctx, updated)
	return updated, nil
}

func (c *Client) publish(ctx context.Context, rec DeviceRecord) {
	for _, sink := range c.sinks {
		if err := sink.PublishState(ctx, rec); err != nil {
			c.logger.Warn("publish device state failed", "device", rec.Name, "error", err)
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends an authenticated call. A 401 invalidates the token and the call is
// repeated once with a fresh login; anything else is final.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	const maxAuthAttempts = 2
	for attempt := 1; ; attempt++ {
		token, err := c.auth.AccessToken(ctx)
		if err != nil {
			return nil, err
		}

		header := jsonHeader()
		header.Set(tokenHeader, token)
		resp, err := c.transport.Execute(ctx, rate.Request{
			Method: method,
			URL:    c.url(path, query),
			Header: header,
			Body:   body,
		})
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && attempt < maxAuthAttempts:
			c.logger.Info("session token rejected, logging in again", "path", path)
			c.auth.Invalidate(token)
			continue
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, &auth.Error{Provider: providerName, Reason: "token rejected after fresh login"}
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, HTTPStatusError{Status: resp.StatusCode, Body: string(resp.Body)}
		}
		return resp.Body, nil
	}
}

// loginExchange posts the account credentials and returns the context key.
func (c *Client) loginExchange(ctx context.Context, creds auth.Credentials) (*oauth2.Token, error) {
	body, err := json.Marshal(loginRequest{
		Email:      creds.Username,
		Password:   creds.Password,
		Language:   c.cfg.Language,
		AppVersion: c.cfg.AppVersion,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Execute(ctx, rate.Request{
		Method: http.MethodPost,
		URL:    c.url(loginPath, nil),
		Header: jsonHeader(),
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &auth.Error{Provider: providerName, Reason: fmt.Sprintf("login rejected with status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, HTTPStatusError{Status: resp.StatusCode, Body: string(resp.Body)}
	}

	var out loginResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, &auth.Error{Provider: providerName, Reason: "malformed login response", Err: err}
	}
	if out.ErrorID != nil {
		reason := fmt.Sprintf("login error %d", *out.ErrorID)
		if out.ErrorMessage != nil && *out.ErrorMessage != "" {
			reason += ": " + *out.ErrorMessage
		}
		return nil, &auth.Error{Provider: providerName, Reason: reason}
	}
	if out.LoginData == nil || out.LoginData.ContextKey == "" {
		return nil, &auth.Error{Provider: providerName, Reason: "login response carried no context key"}
	}
	expiry, err := parseTimestamp(out.LoginData.Expiry, c.cfg.Location, c.cfg.Location)
	if err != nil || expiry.IsZero() {
		return nil, &auth.Error{Provider: providerName, Reason: "login response carried no usable expiry", Err: err}
	}

	return &oauth2.Token{
		AccessToken: out.LoginData.ContextKey,
		TokenType:   tokenHeader,
		Expiry:      expiry,
	}, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func jsonHeader() http.Header {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	header.Set("Cache-Control", "no-cache")
	return header
}
