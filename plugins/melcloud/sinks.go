package melcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/joshp123/melcloud/internal/mqtt"
)

// Publisher is the part of the MQTT client the sink needs.
type Publisher interface {
	Topics() mqtt.Topics
	Publish(topic string, payload []byte, retained bool) error
}

// MQTTSink publishes every record, retained, to its device state topic.
type MQTTSink struct {
	pub Publisher
}

func NewMQTTSink(pub Publisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

func (s *MQTTSink) PublishState(_ context.Context, rec DeviceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s state: %w", rec.Name, err)
	}
	return s.pub.Publish(s.pub.Topics().State(rec.Name), data, true)
}

// PointWriter is the part of the InfluxDB client the sink needs.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) error
}

const influxMeasurement = "melcloud_device"

// InfluxSink records every fetched record as one point.
type InfluxSink struct {
	writer PointWriter
	now    func() time.Time
}

func NewInfluxSink(writer PointWriter) *InfluxSink {
	return &InfluxSink{writer: writer, now: time.Now}
}

func (s *InfluxSink) PublishState(_ context.Context, rec DeviceRecord) error {
	if !rec.Fetched() {
		return nil
	}
	ts := rec.LastCommunicationAt
	if ts.IsZero() {
		ts = s.now()
	}
	tags := map[string]string{
		"device":      rec.Name,
		"device_id":   strconv.Itoa(rec.DeviceID),
		"building_id": strconv.Itoa(rec.BuildingID),
	}
	fields := map[string]any{
		"room_temperature": rec.RoomTemperature,
		"set_temperature":  rec.CurrentState.Temperature,
		"power":            rec.CurrentState.Power,
		"mode":             rec.CurrentState.Mode,
		"fan_speed":        rec.CurrentState.FanSpeed,
		"vane_vertical":    rec.CurrentState.VaneVertical,
		"vane_horizontal":  rec.CurrentState.VaneHorizontal,
		"offline":          rec.Offline,
		"energy_consumed":  rec.EnergyConsumed,
	}
	return s.writer.WritePoint(influxMeasurement, tags, fields, ts)
}

// Subscriber is the part of the MQTT client the command bridge needs.
type Subscriber interface {
	Topics() mqtt.Topics
	Subscribe(topic string, handler mqtt.Handler) error
}

// SubscribeCommands applies JSON desired states sent to <prefix>/<device>/set.
// Each message runs with its own timeout derived from ctx, since a command
// can wait out the transport's pacing.
func SubscribeCommands(ctx context.Context, sub Subscriber, client *Client, timeout time.Duration, logger Logger) error {
	if logger == nil {
		logger = noopLogger{}
	}
	topics := sub.Topics()
	return sub.Subscribe(topics.AllSet(), func(topic string, data []byte) error {
		name, ok := topics.DeviceFromSet(topic)
		if !ok {
			return fmt.Errorf("unexpected command topic %s", topic)
		}
		var desired DesiredState
		if err := json.Unmarshal(data, &desired); err != nil {
			return fmt.Errorf("decode command for %s: %w", name, err)
		}

		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := client.SetDeviceState(cmdCtx, name, desired); err != nil {
			return fmt.Errorf("command for %s: %w", name, err)
		}
		logger.Info("mqtt command applied", "device", name)
		return nil
	})
}
