package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melcloud_upstream_attempts_total",
			Help: "Upstream HTTP attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)
	retriesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melcloud_upstream_retries_total",
			Help: "Upstream attempts that were followed by a retry",
		},
		[]string{"provider"},
	)
	delayGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "melcloud_upstream_throttle_delay_seconds",
			Help: "Delay applied before the most recent upstream attempt",
		},
		[]string{"provider"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "melcloud_upstream_last_status_code",
			Help: "Last HTTP status code observed by the throttled transport (0 = no response)",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors exposes shared transport collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		attemptsCounter,
		retriesCounter,
		delayGauge,
		lastStatusGauge,
	}
}
