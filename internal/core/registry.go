package core

// PluginSummary is the registry view of one plugin.
type PluginSummary struct {
	PluginID    string       `json:"plugin_id"`
	DisplayName string       `json:"display_name"`
	Version     string       `json:"version"`
	Status      HealthStatus `json:"status"`
}

// PluginDescriptor adds services, agent notes and health detail.
type PluginDescriptor struct {
	PluginSummary
	Services      []string `json:"services"`
	AgentsMD      string   `json:"agents_md"`
	HealthMessage string   `json:"health_message,omitempty"`
}

// Registry provides plugin discovery to clients. The plugin set is fixed at
// startup.
type Registry struct {
	plugins []Plugin
}

func NewRegistry(plugins []Plugin) *Registry {
	return &Registry{plugins: plugins}
}

func (r *Registry) ListPlugins() []PluginSummary {
	out := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, summarize(p))
	}
	return out
}

// DescribePlugin returns the descriptor for id, or false if none matches.
func (r *Registry) DescribePlugin(id string) (PluginDescriptor, bool) {
	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != id {
			continue
		}
		return PluginDescriptor{
			PluginSummary: summarize(p),
			Services:      manifest.Services,
			AgentsMD:      p.AgentsMD(),
			HealthMessage: p.HealthMessage(),
		}, true
	}
	return PluginDescriptor{}, false
}

// Healthy reports whether no plugin is in the error state.
func (r *Registry) Healthy() bool {
	for _, p := range r.plugins {
		if p.Health() == HealthError {
			return false
		}
	}
	return true
}

func summarize(p Plugin) PluginSummary {
	manifest := p.Manifest()
	return PluginSummary{
		PluginID:    manifest.PluginID,
		DisplayName: manifest.DisplayName,
		Version:     manifest.Version,
		Status:      p.Health(),
	}
}
