package melcloud

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/melcloud/internal/config"
	"github.com/joshp123/melcloud/internal/core"
	"github.com/joshp123/melcloud/internal/rate"
	"github.com/joshp123/melcloud/internal/store"
)

//go:embed AGENTS.md
var agentsMD string

// Plugin implements the plugin contract around one account session.
type Plugin struct {
	client        *Client
	limits        rate.Declaration
	health        core.HealthStatus
	healthMessage string

	pollInterval   time.Duration
	commands       Subscriber
	commandTimeout time.Duration
}

// NewPlugin builds the session from the loaded configuration. A failure is
// reported through Health rather than returned, so the server still starts.
func NewPlugin(ctx context.Context, cfg *config.Config, st store.Store, opts ...Option) Plugin {
	clientCfg, err := ConfigFromFile(cfg)
	if err != nil {
		return Plugin{health: core.HealthError, healthMessage: err.Error()}
	}
	client, err := NewClient(ctx, clientCfg, st, opts...)
	if err != nil {
		return Plugin{health: core.HealthError, healthMessage: err.Error()}
	}
	return Plugin{
		client:         client,
		limits:         client.cfg.RateLimits(),
		health:         core.HealthHealthy,
		pollInterval:   cfg.Server.PollInterval,
		commandTimeout: cfg.Transport.LongInterval + cfg.Transport.RequestTimeout,
	}
}

// WithCommands makes Run apply desired states received through sub.
func (p Plugin) WithCommands(sub Subscriber) Plugin {
	p.commands = sub
	return p
}

// Client returns the session, or nil when the plugin failed to start.
func (p Plugin) Client() *Client {
	return p.client
}

func (p Plugin) ID() string {
	return providerName
}

func (p Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    providerName,
		DisplayName: "MELCloud",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p Plugin) AgentsMD() string {
	return agentsMD
}

func (p Plugin) RegisterGRPC(server *grpc.Server) {
	RegisterMelcloudService(server, p.client)
}

func (p Plugin) Collectors() []prometheus.Collector {
	collectors := MetricsCollectors()
	if p.client != nil {
		collectors = append(collectors, NewMetricsCollector(p.client))
	}
	return collectors
}

func (p Plugin) RateLimits() rate.Declaration {
	return p.limits
}

func (p Plugin) Health() core.HealthStatus {
	return p.health
}

func (p Plugin) HealthMessage() string {
	return p.healthMessage
}

// RegisterHTTP serves the cached device records as JSON at /melcloud/devices.
func (p Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/melcloud/devices", func(w http.ResponseWriter, _ *http.Request) {
		if p.client == nil {
			http.Error(w, p.healthMessage, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p.client.Devices()); err != nil {
			p.client.logger.Warn("encode devices", "error", err)
		}
	})
}
