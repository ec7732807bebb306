package plugins

import (
	"context"

	"github.com/joshp123/melcloud/internal/core"
	"github.com/joshp123/melcloud/plugins/melcloud"
)

func init() {
	Register(newMelcloud)
}

func newMelcloud(ctx context.Context, env Env) (core.Plugin, bool) {
	var sinks []melcloud.StateSink
	if env.MQTT != nil {
		sinks = append(sinks, melcloud.NewMQTTSink(env.MQTT))
	}
	if env.InfluxDB != nil {
		sinks = append(sinks, melcloud.NewInfluxSink(env.InfluxDB))
	}

	opts := []melcloud.Option{melcloud.WithSinks(sinks...)}
	if env.Logger != nil {
		opts = append(opts, melcloud.WithLogger(env.Logger.With("component", "melcloud")))
	}
	plugin := melcloud.NewPlugin(ctx, env.Config, env.Store, opts...)
	if env.MQTT != nil && env.Config.MQTT != nil && env.Config.MQTT.Commands {
		plugin = plugin.WithCommands(env.MQTT)
	}
	return plugin, true
}
