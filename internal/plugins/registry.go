package plugins

import (
	"context"

	"github.com/joshp123/melcloud/internal/config"
	"github.com/joshp123/melcloud/internal/core"
	"github.com/joshp123/melcloud/internal/influxdb"
	"github.com/joshp123/melcloud/internal/logging"
	"github.com/joshp123/melcloud/internal/mqtt"
	"github.com/joshp123/melcloud/internal/store"
)

// Env is what a factory may draw on. Optional sinks are nil when disabled.
type Env struct {
	Config   *config.Config
	Store    store.Store
	Logger   *logging.Logger
	MQTT     *mqtt.Client
	InfluxDB *influxdb.Client
}

// Factory builds a plugin instance from the loaded config.
type Factory func(ctx context.Context, env Env) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled returns the configured plugin instances for this build.
func Compiled(ctx context.Context, env Env) []core.Plugin {
	if env.Config == nil {
		return nil
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(ctx, env)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
