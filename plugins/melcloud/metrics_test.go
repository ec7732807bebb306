package melcloud

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollectorReadsCache(t *testing.T) {
	cloud, server := newFakeCloud(t)
	client := newTestClient(t, server.URL, nil)
	if _, err := client.GetDevice(context.Background(), "Vp_nere"); err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	before := cloud.total()

	collector := NewMetricsCollector(client)
	expected := `
# HELP melcloud_room_temperature_celsius Room temperature reported by the unit
# TYPE melcloud_room_temperature_celsius gauge
melcloud_room_temperature_celsius{building_id="100",device="Vp_nere",device_id="1"} 21.5
# HELP melcloud_setpoint_celsius Target temperature of the unit
# TYPE melcloud_setpoint_celsius gauge
melcloud_setpoint_celsius{building_id="100",device="Vp_nere",device_id="1"} 20
# HELP melcloud_energy_consumed_kwh Energy counter reported at discovery
# TYPE melcloud_energy_consumed_kwh gauge
melcloud_energy_consumed_kwh{building_id="100",device="Vp_nere",device_id="1"} 12.5
melcloud_energy_consumed_kwh{building_id="100",device="Vp_uppe",device_id="2"} 0
# HELP melcloud_session_token_valid Session token currently valid (1=yes)
# TYPE melcloud_session_token_valid gauge
melcloud_session_token_valid 1
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"melcloud_room_temperature_celsius",
		"melcloud_setpoint_celsius",
		"melcloud_energy_consumed_kwh",
		"melcloud_session_token_valid",
	)
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
	if cloud.total() != before {
		t.Fatalf("scrapes must not call the upstream")
	}
}

func TestPluginCollectors(t *testing.T) {
	_, server := newFakeCloud(t)
	plugin := Plugin{client: newTestClient(t, server.URL, nil)}
	if got := len(plugin.Collectors()); got != len(MetricsCollectors())+1 {
		t.Fatalf("unexpected collector count %d", got)
	}
	if got := len(Plugin{}.Collectors()); got != len(MetricsCollectors()) {
		t.Fatalf("failed plugin should only export package collectors, got %d", got)
	}
}
