package melcloud

import "time"

// DeviceRecord is the last-known view of one unit, keyed by its account name.
type DeviceRecord struct {
	Name           string    `json:"name"`
	DeviceID       int       `json:"device_id"`
	BuildingID     int       `json:"building_id"`
	EnergyConsumed float64   `json:"energy_consumed"`
	LastSeenAt     time.Time `json:"last_seen_at"`

	// Dynamic state, populated by the first successful fetch.
	RoomTemperature     float64   `json:"room_temperature"`
	LastCommunicationAt time.Time `json:"last_communication_at"`
	HasPendingCommand   bool      `json:"has_pending_command"`
	Offline             bool      `json:"offline"`
	CurrentState        *State    `json:"current_state,omitempty"`
}

// Fetched reports whether the record carries state from a device fetch.
func (r DeviceRecord) Fetched() bool {
	return r.CurrentState != nil
}

func (r DeviceRecord) clone() DeviceRecord {
	out := r
	if r.CurrentState != nil {
		state := *r.CurrentState
		out.CurrentState = &state
	}
	return out
}

// State is the operating state of a unit in caller-facing values.
type State struct {
	Power          bool    `json:"power"`
	Mode           int     `json:"mode"`
	Temperature    float64 `json:"temperature"`
	FanSpeed       int     `json:"fan_speed"`
	VaneVertical   int     `json:"vane_vertical"`
	VaneHorizontal int     `json:"vane_horizontal"`
}

// identity is the part of a record that discovery produces and that survives
// restarts in durable state.
type identity struct {
	DeviceID       int       `json:"device_id"`
	BuildingID     int       `json:"building_id"`
	EnergyConsumed float64   `json:"energy_consumed"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

type devicesState struct {
	SchemaVersion int                 `json:"schema_version"`
	Devices       map[string]identity `json:"devices"`
}

const devicesSchemaVersion = 1
