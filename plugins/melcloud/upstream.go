package melcloud

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	loginPath       = "/Mitsubishi.Wifi.Client/Login/ClientLogin"
	listDevicesPath = "/Mitsubishi.Wifi.Client/User/Listdevices"
	getDevicePath   = "/Mitsubishi.Wifi.Client/Device/Get"
	setAtaPath      = "/Mitsubishi.Wifi.Client/Device/SetAta"

	tokenHeader = "X-MitsContextKey"
)

type loginRequest struct {
	Email           string  `json:"Email"`
	Password        string  `json:"Password"`
	Language        int     `json:"Language"`
	AppVersion      string  `json:"AppVersion"`
	Persist         bool    `json:"Persist"`
	CaptchaResponse *string `json:"CaptchaResponse"`
}

type loginResponse struct {
	ErrorID      *int    `json:"ErrorId"`
	ErrorMessage *string `json:"ErrorMessage"`
	LoginData    *struct {
		ContextKey string `json:"ContextKey"`
		Expiry     string `json:"Expiry"`
	} `json:"LoginData"`
}

type buildingEntry struct {
	Structure struct {
		Devices []deviceEntry `json:"Devices"`
		Areas   []struct {
			Devices []deviceEntry `json:"Devices"`
		} `json:"Areas"`
		Floors []struct {
			Devices []deviceEntry `json:"Devices"`
			Areas   []struct {
				Devices []deviceEntry `json:"Devices"`
			} `json:"Areas"`
		} `json:"Floors"`
	} `json:"Structure"`
}

type deviceEntry struct {
	DeviceName string `json:"DeviceName"`
	DeviceID   int    `json:"DeviceID"`
	BuildingID int    `json:"BuildingID"`
	Device     struct {
		CurrentEnergyConsumed float64 `json:"CurrentEnergyConsumed"`
		LastTimeStamp         string  `json:"LastTimeStamp"`
	} `json:"Device"`
}

// flatten walks building -> structure devices, areas, floors and floor areas.
func flatten(buildings []buildingEntry) []deviceEntry {
	var out []deviceEntry
	for _, b := range buildings {
		out = append(out, b.Structure.Devices...)
		for _, area := range b.Structure.Areas {
			out = append(out, area.Devices...)
		}
		for _, floor := range b.Structure.Floors {
			out = append(out, floor.Devices...)
			for _, area := range floor.Areas {
				out = append(out, area.Devices...)
			}
		}
	}
	return out
}

// ataState is the subset of the air-to-air payload read back into records.
type ataState struct {
	DeviceID          int     `json:"DeviceID"`
	RoomTemperature   float64 `json:"RoomTemperature"`
	LastCommunication string  `json:"LastCommunication"`
	HasPendingCommand bool    `json:"HasPendingCommand"`
	Offline           bool    `json:"Offline"`
	Power             bool    `json:"Power"`
	OperationMode     int     `json:"OperationMode"`
	SetTemperature    float64 `json:"SetTemperature"`
	SetFanSpeed       int     `json:"SetFanSpeed"`
	VaneVertical      int     `json:"VaneVertical"`
	VaneHorizontal    int     `json:"VaneHorizontal"`
}

// payload is a raw device payload. Unknown keys are carried through untouched
// so the set endpoint receives the full record it handed out.
type payload map[string]json.RawMessage

func decodePayload(data []byte) (payload, ataState, error) {
	var raw payload
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ataState{}, fmt.Errorf("decode device payload: %w", err)
	}
	if raw == nil {
		return nil, ataState{}, fmt.Errorf("decode device payload: empty")
	}
	var state ataState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, ataState{}, fmt.Errorf("decode device state: %w", err)
	}
	return raw, state, nil
}

func (p payload) clone() payload {
	out := make(payload, len(p))
	for k, v := range p {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func (s ataState) toState() State {
	return State{
		Power:          s.Power,
		Mode:           DecodeMode(s.OperationMode),
		Temperature:    s.SetTemperature,
		FanSpeed:       s.SetFanSpeed,
		VaneVertical:   DecodeVaneVertical(s.VaneVertical),
		VaneHorizontal: DecodeVaneHorizontal(s.VaneHorizontal),
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp reads upstream timestamps. Values without an offset are read
// in zone; the result is always expressed in loc.
func parseTimestamp(value string, zone, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, zone); err == nil {
			return ts.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
