package auth

import "github.com/prometheus/client_golang/prometheus"

var (
	loginSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melcloud_login_success_total",
			Help: "Successful login exchanges",
		},
		[]string{"provider"},
	)
	loginFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melcloud_login_failure_total",
			Help: "Failed login exchanges",
		},
		[]string{"provider"},
	)
	tokenValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "melcloud_token_valid",
			Help: "Session token validity (1=valid, 0=invalid)",
		},
		[]string{"provider"},
	)
	tokenPersistFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melcloud_token_persist_failure_total",
			Help: "Failed writes of the session token to durable state",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors exposes session collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		loginSuccess,
		loginFailure,
		tokenValid,
		tokenPersistFailure,
	}
}
