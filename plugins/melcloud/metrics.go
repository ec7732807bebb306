package melcloud

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melcloud_commands_total",
			Help: "Device state commands by result",
		},
		[]string{"result"},
	)
	fetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melcloud_device_refresh_failures_total",
			Help: "Per-device refresh failures during batch refreshes",
		},
		[]string{"device"},
	)
)

// MetricsCollector exports the cached device records. It never calls the
// upstream; scrapes read whatever the poller last fetched.
type MetricsCollector struct {
	client *Client

	roomTemp          *prometheus.GaugeVec
	setpoint          *prometheus.GaugeVec
	powerOn           *prometheus.GaugeVec
	mode              *prometheus.GaugeVec
	fanSpeed          *prometheus.GaugeVec
	pendingCommand    *prometheus.GaugeVec
	offline           *prometheus.GaugeVec
	energy            *prometheus.GaugeVec
	lastCommunication *prometheus.GaugeVec
	tokenValid        prometheus.Gauge
	nextCall          prometheus.Gauge
}

func NewMetricsCollector(client *Client) *MetricsCollector {
	labels := []string{"device", "device_id", "building_id"}
	return &MetricsCollector{
		client: client,
		roomTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "melcloud_room_temperature_celsius",
			Help: "Room temperature reported by the unit",
		}, labels),
		setpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "melcloud_setpoint_celsius",
			Help: "Target temperature of the unit",
		}, labels),
		powerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "melcloud_power_on_bool",
			Help: "Power state (1=on, 0=off)",
		}, labels),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "melcloud_operation_mode",
			Help: "Operation mode (0=heat, 1=cool, 2=auto, 4=fan, 5=dry, -1=unknown)",
		}, labels),
		fanSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "melcloud_fan_speed",
			Help: "Fan speed setting (0=auto)",
		}, labels),
		pendingCommand: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "melcloud_pending_command_bool",
			Help: "Unit reports a command not yet applied (1=pending)",
		}, labels),
		offline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "melcloud_offline_bool",
			Help: "Unit offline according to the cloud (1=offline)",
		}, labels),
		energy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "melcloud_energy_consumed_kwh",
			Help: "Energy counter reported at discovery",
		}, labels),
		lastCommunication: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "melcloud_last_communication_timestamp_seconds",
			Help: "Last unit communication with the cloud (epoch seconds)",
		}, labels),
		tokenValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "melcloud_session_token_valid",
			Help: "Session token currently valid (1=yes)",
		}),
		nextCall: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "melcloud_next_call_timestamp_seconds",
			Help: "Earliest time the next upstream call may start (epoch seconds)",
		}),
	}
}

func (c *MetricsCollector) gauges() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.roomTemp, c.setpoint, c.powerOn, c.mode, c.fanSpeed,
		c.pendingCommand, c.offline, c.energy, c.lastCommunication,
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges() {
		g.Describe(ch)
	}
	c.tokenValid.Describe(ch)
	c.nextCall.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, g := range c.gauges() {
		g.Reset()
	}

	for name, rec := range c.client.Devices() {
		labels := prometheus.Labels{
			"device":      name,
			"device_id":   strconv.Itoa(rec.DeviceID),
			"building_id": strconv.Itoa(rec.BuildingID),
		}
		c.energy.With(labels).Set(rec.EnergyConsumed)
		if !rec.Fetched() {
			continue
		}
		c.roomTemp.With(labels).Set(rec.RoomTemperature)
		c.setpoint.With(labels).Set(rec.CurrentState.Temperature)
		c.powerOn.With(labels).Set(boolFloat(rec.CurrentState.Power))
		c.mode.With(labels).Set(float64(rec.CurrentState.Mode))
		c.fanSpeed.With(labels).Set(float64(rec.CurrentState.FanSpeed))
		c.pendingCommand.With(labels).Set(boolFloat(rec.HasPendingCommand))
		c.offline.With(labels).Set(boolFloat(rec.Offline))
		if !rec.LastCommunicationAt.IsZero() {
			c.lastCommunication.With(labels).Set(float64(rec.LastCommunicationAt.Unix()))
		}
	}

	_, valid := c.client.TokenExpiry()
	c.tokenValid.Set(boolFloat(valid))
	if next := c.client.NextCallAt(); !next.IsZero() {
		c.nextCall.Set(float64(next.Unix()))
	}

	for _, g := range c.gauges() {
		g.Collect(ch)
	}
	c.tokenValid.Collect(ch)
	c.nextCall.Collect(ch)
}

// MetricsCollectors exposes package-level command collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{commandsCounter, fetchFailures}
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
