package melcloud

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DesiredState is a partial update over the six controllable fields.
// Nil fields are left untouched.
type DesiredState struct {
	Power          *bool    `json:"power,omitempty"`
	Mode           *int     `json:"mode,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	FanSpeed       *int     `json:"fan_speed,omitempty"`
	VaneVertical   *int     `json:"vane_vertical,omitempty"`
	VaneHorizontal *int     `json:"vane_horizontal,omitempty"`
}

// IsEmpty reports whether no field is set.
func (d DesiredState) IsEmpty() bool {
	return d.Power == nil && d.Mode == nil && d.Temperature == nil &&
		d.FanSpeed == nil && d.VaneVertical == nil && d.VaneHorizontal == nil
}

// UnmarshalJSON accepts power as a boolean or as 0/1.
func (d *DesiredState) UnmarshalJSON(data []byte) error {
	type plain DesiredState
	var aux struct {
		plain
		Power json.RawMessage `json:"power,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*d = DesiredState(aux.plain)
	d.Power = nil

	raw := bytes.TrimSpace(aux.Power)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var on bool
	if err := json.Unmarshal(raw, &on); err == nil {
		d.Power = &on
		return nil
	}
	var value int
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("power: %w", err)
	}
	on, err := EncodePower(value)
	if err != nil {
		return err
	}
	d.Power = &on
	return nil
}

// change is one translated field ready to be written into the payload.
type change struct {
	field Field
	value json.RawMessage
}

// compile validates and translates every set field. It never touches shared
// state, so a single bad field rejects the whole command up front.
func (d DesiredState) compile() ([]change, error) {
	var out []change
	add := func(field Field, value any) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", field, err)
		}
		out = append(out, change{field: field, value: raw})
		return nil
	}

	if d.Power != nil {
		if err := add(FieldPower, *d.Power); err != nil {
			return nil, err
		}
	}
	if d.Mode != nil {
		code, err := EncodeMode(*d.Mode)
		if err != nil {
			return nil, err
		}
		if err := add(FieldMode, code); err != nil {
			return nil, err
		}
	}
	if d.Temperature != nil {
		if err := validateTemperature(*d.Temperature); err != nil {
			return nil, err
		}
		if err := add(FieldTemperature, *d.Temperature); err != nil {
			return nil, err
		}
	}
	if d.FanSpeed != nil {
		if err := validateFanSpeed(*d.FanSpeed); err != nil {
			return nil, err
		}
		if err := add(FieldFanSpeed, *d.FanSpeed); err != nil {
			return nil, err
		}
	}
	if d.VaneVertical != nil {
		code, err := EncodeVaneVertical(*d.VaneVertical)
		if err != nil {
			return nil, err
		}
		if err := add(FieldVaneVertical, code); err != nil {
			return nil, err
		}
	}
	if d.VaneHorizontal != nil {
		code, err := EncodeVaneHorizontal(*d.VaneHorizontal)
		if err != nil {
			return nil, err
		}
		if err := add(FieldVaneHorizontal, code); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PendingCommand is the accumulated, not yet submitted change set of a device.
type PendingCommand struct {
	DeviceID int
	Fields   map[Field]json.RawMessage
	Flags    uint32
}

func (p *PendingCommand) apply(changes []change) {
	if p.Fields == nil {
		p.Fields = make(map[Field]json.RawMessage, len(changes))
	}
	for _, c := range changes {
		p.Fields[c.field] = c.value
		p.Flags |= c.field.Flag()
	}
}

func (p *PendingCommand) reset() {
	p.Fields = nil
	p.Flags = 0
}
