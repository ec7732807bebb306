package core

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry registers the process-wide collectors followed by each
// plugin's own. A collision names the plugin that caused it.
func MetricsRegistry(plugins []Plugin, shared ...prometheus.Collector) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	for _, collector := range shared {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register shared collector: %w", err)
		}
	}
	for _, plugin := range plugins {
		for _, collector := range plugin.Collectors() {
			if err := registry.Register(collector); err != nil {
				return nil, fmt.Errorf("register %s collector: %w", plugin.ID(), err)
			}
		}
	}
	return registry, nil
}
