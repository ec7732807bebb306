package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/joshp123/melcloud/internal/core"
)

// HealthHandler returns ok while no plugin is in the error state.
func HealthHandler(registry *core.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !registry.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unhealthy"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// PluginsHandler serves the plugin registry as JSON: /plugins lists all
// plugins, /plugins/<id> describes one.
func PluginsHandler(registry *core.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/plugins"), "/")
		if id == "" {
			writeJSON(w, registry.ListPlugins())
			return
		}
		desc, ok := registry.DescribePlugin(id)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, desc)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
