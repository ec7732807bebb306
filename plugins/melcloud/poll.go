package melcloud

import (
	"context"
	"errors"
	"time"
)

// Run subscribes to MQTT commands when configured and then refreshes every
// device each poll interval until ctx is done. A round can block on the
// transport's pacing, so rounds never overlap.
func (p Plugin) Run(ctx context.Context) {
	if p.client == nil {
		return
	}
	logger := p.client.logger
	if p.commands != nil {
		if err := SubscribeCommands(ctx, p.commands, p.client, p.commandTimeout, logger); err != nil {
			logger.Warn("mqtt command subscription failed", "error", err)
		}
	}
	if p.pollInterval <= 0 {
		<-ctx.Done()
		return
	}
	poll(ctx, p.client, p.pollInterval, logger)
}

func poll(ctx context.Context, client *Client, interval time.Duration, logger Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		devices, err := client.GetAllDevices(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			logger.Warn("device poll failed", "error", err)
		default:
			logger.Debug("device poll complete", "devices", len(devices))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
