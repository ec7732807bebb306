package router

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/melcloud/internal/core"
)

// RegisterPlugins registers plugin services and the standard health service
// on the gRPC server. Each plugin service reports SERVING unless the plugin
// is in the error state.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin) *health.Server {
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)

	for _, p := range plugins {
		p.RegisterGRPC(server)
	}
	UpdateHealth(healthServer, plugins)
	return healthServer
}

// UpdateHealth refreshes the serving status of every plugin service.
func UpdateHealth(healthServer *health.Server, plugins []core.Plugin) {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, p := range plugins {
		status := healthpb.HealthCheckResponse_SERVING
		if p.Health() == core.HealthError {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		for _, svc := range p.Manifest().Services {
			healthServer.SetServingStatus(svc, status)
		}
	}
	healthServer.SetServingStatus("", overall)
}
