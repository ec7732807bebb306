package melcloud

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/melcloud/internal/mqtt"
)

type fakeBroker struct {
	topics mqtt.Topics

	mu        sync.Mutex
	published map[string][]byte
	retained  map[string]bool
	handlers  map[string]mqtt.Handler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		topics:    mqtt.NewTopics("melcloud"),
		published: make(map[string][]byte),
		retained:  make(map[string]bool),
		handlers:  make(map[string]mqtt.Handler),
	}
}

func (b *fakeBroker) Topics() mqtt.Topics { return b.topics }

func (b *fakeBroker) Publish(topic string, payload []byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = payload
	b.retained[topic] = retained
	return nil
}

func (b *fakeBroker) Subscribe(topic string, handler mqtt.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) deliver(filter, topic string, payload []byte) error {
	b.mu.Lock()
	handler := b.handlers[filter]
	b.mu.Unlock()
	if handler == nil {
		return errors.New("no handler")
	}
	return handler(topic, payload)
}

type fakeWriter struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
	ts          time.Time
	writes      int
}

func (w *fakeWriter) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	w.measurement, w.tags, w.fields, w.ts = measurement, tags, fields, ts
	w.writes++
	return nil
}

func fetchedRecord() DeviceRecord {
	return DeviceRecord{
		Name:                "Vp_nere",
		DeviceID:            1,
		BuildingID:          100,
		RoomTemperature:     21.5,
		LastCommunicationAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		CurrentState:        &State{Power: true, Mode: ModeCool, Temperature: 22, FanSpeed: 2},
	}
}

func TestMQTTSinkPublishesRetainedState(t *testing.T) {
	broker := newFakeBroker()
	sink := NewMQTTSink(broker)

	if err := sink.PublishState(context.Background(), fetchedRecord()); err != nil {
		t.Fatalf("PublishState: %v", err)
	}
	data := broker.published["melcloud/Vp_nere/state"]
	if !broker.retained["melcloud/Vp_nere/state"] {
		t.Fatalf("state should be retained")
	}
	var rec DeviceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decode published state: %v", err)
	}
	if rec.DeviceID != 1 || rec.CurrentState == nil || !rec.CurrentState.Power {
		t.Fatalf("unexpected published record: %+v", rec)
	}
}

func TestInfluxSinkWritesFetchedRecords(t *testing.T) {
	writer := &fakeWriter{}
	sink := NewInfluxSink(writer)

	if err := sink.PublishState(context.Background(), DeviceRecord{Name: "Vp_uppe"}); err != nil {
		t.Fatalf("PublishState: %v", err)
	}
	if writer.writes != 0 {
		t.Fatalf("records without fetched state should be skipped")
	}

	rec := fetchedRecord()
	if err := sink.PublishState(context.Background(), rec); err != nil {
		t.Fatalf("PublishState: %v", err)
	}
	if writer.measurement != influxMeasurement || writer.tags["device"] != "Vp_nere" || writer.tags["building_id"] != "100" {
		t.Fatalf("unexpected point: %s %v", writer.measurement, writer.tags)
	}
	if writer.fields["set_temperature"] != 22.0 || writer.fields["power"] != true || writer.fields["mode"] != ModeCool {
		t.Fatalf("unexpected fields: %v", writer.fields)
	}
	if !writer.ts.Equal(rec.LastCommunicationAt) {
		t.Fatalf("point should be stamped with the last communication")
	}
}

func TestSubscribeCommandsAppliesDesiredState(t *testing.T) {
	cloud, server := newFakeCloud(t)
	client := newTestClient(t, server.URL, nil)
	broker := newFakeBroker()

	if err := SubscribeCommands(context.Background(), broker, client, time.Minute, nil); err != nil {
		t.Fatalf("SubscribeCommands: %v", err)
	}
	if err := broker.deliver("melcloud/+/set", "melcloud/Vp_nere/set", []byte(`{"power":1,"fan_speed":0}`)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	sent := cloud.commands()
	if len(sent) != 1 || sent[0]["EffectiveFlags"] != float64(FlagPower|FlagFanSpeed) {
		t.Fatalf("unexpected commands: %v", sent)
	}

	if err := broker.deliver("melcloud/+/set", "melcloud/Vp_nere/set", []byte(`{"mode":99}`)); err == nil {
		t.Fatalf("invalid command should be reported")
	}
	if err := broker.deliver("melcloud/+/set", "melcloud/Vp_nere/set", []byte(`not json`)); err == nil {
		t.Fatalf("malformed command should be reported")
	}
	var unknown *UnknownDeviceError
	if err := broker.deliver("melcloud/+/set", "melcloud/Ghost/set", []byte(`{"power":true}`)); !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownDeviceError, got %v", err)
	}
	if len(cloud.commands()) != 1 {
		t.Fatalf("rejected commands must not reach the upstream")
	}
}
