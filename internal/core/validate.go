package core

import (
	"fmt"
	"regexp"

	"github.com/joshp123/melcloud/internal/rate"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidatePlugins enforces basic plugin contract invariants at startup.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool)
	for _, plugin := range plugins {
		id := plugin.ID()
		manifest := plugin.Manifest()
		if id == "" {
			return fmt.Errorf("plugin id is empty")
		}
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern.String())
		}
		if manifest.PluginID != id {
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true

		// A plugin in the error state makes no upstream calls.
		if limited, ok := plugin.(rate.RateLimited); ok && plugin.Health() != HealthError {
			if err := validateRateLimits(id, limited.RateLimits()); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateRateLimits(id string, decl rate.Declaration) error {
	if decl.ProviderName() == "" {
		return fmt.Errorf("plugin %s: rate limit provider is empty", id)
	}
	if decl.ShortInterval() < 0 || decl.LongInterval() < decl.ShortInterval() {
		return fmt.Errorf("plugin %s: error interval must not be shorter than success interval", id)
	}
	if decl.RequestTimeout() <= 0 {
		return fmt.Errorf("plugin %s: attempt timeout must be positive", id)
	}
	return nil
}
