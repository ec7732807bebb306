package melcloud

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// deviceCache holds every record, the last payload fetched per device and the
// pending command per device. mu is the device-cache critical section; it is
// never held across network I/O and callers only ever receive copies.
type deviceCache struct {
	loc *time.Location

	mu       sync.Mutex
	records  map[string]*DeviceRecord
	payloads map[string]payload
	pending  map[string]*PendingCommand
	restored bool
}

func newDeviceCache(loc *time.Location) *deviceCache {
	if loc == nil {
		loc = time.UTC
	}
	return &deviceCache{
		loc:      loc,
		records:  make(map[string]*DeviceRecord),
		payloads: make(map[string]payload),
		pending:  make(map[string]*PendingCommand),
	}
}

func (c *deviceCache) empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records) == 0
}

// markRestored reports whether durable topology was already consulted and
// marks it consulted.
func (c *deviceCache) markRestored() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.restored
	c.restored = true
	return prev
}

func (c *deviceCache) snapshot() map[string]DeviceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]DeviceRecord, len(c.records))
	for name, rec := range c.records {
		out[name] = rec.clone()
	}
	return out
}

func (c *deviceCache) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.records))
	for name := range c.records {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *deviceCache) lookup(name string) (DeviceRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[name]
	if !ok {
		return DeviceRecord{}, false
	}
	return rec.clone(), true
}

// populate adds discovered devices. Existing records keep their identity.
func (c *deviceCache) populate(devices map[string]identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, id := range devices {
		if rec, ok := c.records[name]; ok {
			rec.EnergyConsumed = id.EnergyConsumed
			rec.LastSeenAt = id.LastSeenAt
			continue
		}
		c.records[name] = &DeviceRecord{
			Name:           name,
			DeviceID:       id.DeviceID,
			BuildingID:     id.BuildingID,
			EnergyConsumed: id.EnergyConsumed,
			LastSeenAt:     id.LastSeenAt,
		}
	}
}

func (c *deviceCache) identities() map[string]identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]identity, len(c.records))
	for name, rec := range c.records {
		out[name] = identity{
			DeviceID:       rec.DeviceID,
			BuildingID:     rec.BuildingID,
			EnergyConsumed: rec.EnergyConsumed,
			LastSeenAt:     rec.LastSeenAt,
		}
	}
	return out
}

func (c *deviceCache) hasPayload(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.payloads[name]
	return ok
}

// storeFetched merges a fetched payload into the record and returns a copy.
func (c *deviceCache) storeFetched(name string, raw payload, state ataState) (DeviceRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[name]
	if !ok {
		return DeviceRecord{}, &UnknownDeviceError{Name: name}
	}
	c.payloads[name] = raw
	c.merge(rec, state)
	return rec.clone(), nil
}

// stage folds changes into the device's pending command and returns the body
// to submit. Bits accumulate until finish resets them.
func (c *deviceCache) stage(name string, changes []change) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[name]
	if !ok {
		return nil, &UnknownDeviceError{Name: name}
	}
	base, ok := c.payloads[name]
	if !ok {
		return nil, fmt.Errorf("device %s has no fetched state", name)
	}

	cmd := c.pendingFor(name, rec.DeviceID)
	cmd.apply(changes)

	body := base.clone()
	for field, value := range cmd.Fields {
		body[field.Key()] = value
	}
	body["DeviceID"] = json.RawMessage(strconv.Itoa(rec.DeviceID))
	body["EffectiveFlags"] = json.RawMessage(strconv.FormatUint(uint64(cmd.Flags), 10))
	body["HasPendingCommand"] = json.RawMessage("true")

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return data, nil
}

// finish clears the pending command unconditionally. A non-nil payload is
// the upstream's resulting state and is merged into the record.
func (c *deviceCache) finish(name string, raw payload, state *ataState) (DeviceRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cmd, ok := c.pending[name]; ok {
		cmd.reset()
	}
	rec, ok := c.records[name]
	if !ok {
		return DeviceRecord{}, false
	}
	if raw != nil && state != nil {
		raw["EffectiveFlags"] = json.RawMessage("0")
		c.payloads[name] = raw
		c.merge(rec, *state)
	}
	return rec.clone(), true
}

func (c *deviceCache) pendingFlags(name string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cmd, ok := c.pending[name]; ok {
		return cmd.Flags
	}
	return 0
}

func (c *deviceCache) pendingFor(name string, deviceID int) *PendingCommand {
	cmd, ok := c.pending[name]
	if !ok {
		cmd = &PendingCommand{DeviceID: deviceID}
		c.pending[name] = cmd
	}
	return cmd
}

// merge copies dynamic state into rec. Identity fields are never touched.
func (c *deviceCache) merge(rec *DeviceRecord, state ataState) {
	rec.RoomTemperature = state.RoomTemperature
	rec.HasPendingCommand = state.HasPendingCommand
	rec.Offline = state.Offline
	if ts, err := parseTimestamp(state.LastCommunication, time.UTC, c.loc); err == nil && !ts.IsZero() {
		rec.LastCommunicationAt = ts
	}
	current := state.toState()
	rec.CurrentState = &current
}
