package store

import "github.com/prometheus/client_golang/prometheus"

var (
	remotePersistOK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "melcloud_state_remote_persist_ok",
			Help: "Remote state mirror health per key (1=ok, 0=error)",
		},
		[]string{"key"},
	)
	persistFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melcloud_state_persist_failure_total",
			Help: "Failed writes to the local state store",
		},
		[]string{"key"},
	)
)

// MetricsCollectors returns collectors for the durable state store.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		remotePersistOK,
		persistFailures,
	}
}
