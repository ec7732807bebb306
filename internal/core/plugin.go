package core

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// HealthStatus represents plugin health states for registry reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Manifest describes a plugin for discovery and registry metadata.
type Manifest struct {
	PluginID    string   `json:"plugin_id"`
	DisplayName string   `json:"display_name"`
	Version     string   `json:"version"`
	Services    []string `json:"services"`
}

// Plugin is the compile-time contract for every device-cloud integration.
type Plugin interface {
	ID() string
	Manifest() Manifest
	AgentsMD() string
	RegisterGRPC(*grpc.Server)
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// HTTPRegistrant allows plugins to expose HTTP handlers.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}

// Runner is implemented by plugins with background work. Run blocks until
// ctx is done.
type Runner interface {
	Run(ctx context.Context)
}
