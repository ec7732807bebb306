package melcloud

import (
	"fmt"
	"math"
	"sort"
)

// Field is one controllable setting of an air-to-air unit.
type Field string

const (
	FieldPower          Field = "power"
	FieldMode           Field = "mode"
	FieldTemperature    Field = "temperature"
	FieldFanSpeed       Field = "fan_speed"
	FieldVaneVertical   Field = "vane_vertical"
	FieldVaneHorizontal Field = "vane_horizontal"
)

// Fields lists every controllable field in payload order.
var Fields = []Field{FieldPower, FieldMode, FieldTemperature, FieldFanSpeed, FieldVaneVertical, FieldVaneHorizontal}

// Flag bits of EffectiveFlags. A set bit asks the unit to apply that field.
const (
	FlagPower          uint32 = 0x01
	FlagMode           uint32 = 0x02
	FlagTemperature    uint32 = 0x04
	FlagFanSpeed       uint32 = 0x08
	FlagVaneVertical   uint32 = 0x10
	FlagVaneHorizontal uint32 = 0x100
)

// Flag returns the EffectiveFlags bit for f.
func (f Field) Flag() uint32 {
	switch f {
	case FieldPower:
		return FlagPower
	case FieldMode:
		return FlagMode
	case FieldTemperature:
		return FlagTemperature
	case FieldFanSpeed:
		return FlagFanSpeed
	case FieldVaneVertical:
		return FlagVaneVertical
	case FieldVaneHorizontal:
		return FlagVaneHorizontal
	default:
		return 0
	}
}

// Key is the upstream payload key that carries f.
func (f Field) Key() string {
	switch f {
	case FieldPower:
		return "Power"
	case FieldMode:
		return "OperationMode"
	case FieldTemperature:
		return "SetTemperature"
	case FieldFanSpeed:
		return "SetFanSpeed"
	case FieldVaneVertical:
		return "VaneVertical"
	case FieldVaneHorizontal:
		return "VaneHorizontal"
	default:
		return ""
	}
}

// Caller-facing operation modes.
const (
	ModeHeat = 0
	ModeCool = 1
	ModeAuto = 2
	ModeFan  = 4
	ModeDry  = 5
)

// Caller-facing vane positions beyond the fixed 0 (auto) to 5 steps.
const (
	VaneHorizontalSplit = 6
	VaneHorizontalSwing = 7
	VaneVerticalSwing   = 6
)

// Unknown marks an upstream code that has no caller-facing value.
const Unknown = -1

const (
	MinTemperature = 10.0
	MaxTemperature = 31.0
	MaxFanSpeed    = 5
)

// table is a fixed bidirectional lookup between caller values and upstream codes.
type table struct {
	field   Field
	forward map[int]int
	reverse map[int]int
}

func newTable(field Field, forward map[int]int) table {
	reverse := make(map[int]int, len(forward))
	for value, code := range forward {
		reverse[code] = value
	}
	return table{field: field, forward: forward, reverse: reverse}
}

func (t table) encode(value int) (int, error) {
	code, ok := t.forward[value]
	if !ok {
		return 0, &InvalidFieldValueError{Field: t.field, Value: value}
	}
	return code, nil
}

func (t table) decode(code int) int {
	value, ok := t.reverse[code]
	if !ok {
		return Unknown
	}
	return value
}

// values returns the caller-facing values in ascending order.
func (t table) values() []int {
	out := make([]int, 0, len(t.forward))
	for value := range t.forward {
		out = append(out, value)
	}
	sort.Ints(out)
	return out
}

var (
	modeTable = newTable(FieldMode, map[int]int{
		ModeHeat: 1,
		ModeCool: 3,
		ModeAuto: 8,
		ModeFan:  7,
		ModeDry:  2,
	})
	vaneHorizontalTable = newTable(FieldVaneHorizontal, map[int]int{
		0: 0, 1: 1, 2: 2, 3: 3, 4: 4, 5: 5,
		VaneHorizontalSplit: 8,
		VaneHorizontalSwing: 12,
	})
	vaneVerticalTable = newTable(FieldVaneVertical, map[int]int{
		0: 0, 1: 1, 2: 2, 3: 3, 4: 4, 5: 5,
		VaneVerticalSwing: 7,
	})
)

// EncodeMode translates a caller-facing mode to its upstream code.
func EncodeMode(mode int) (int, error) { return modeTable.encode(mode) }

// DecodeMode is the inverse of EncodeMode; unmapped codes yield Unknown.
func DecodeMode(code int) int { return modeTable.decode(code) }

func EncodeVaneHorizontal(position int) (int, error) { return vaneHorizontalTable.encode(position) }

func DecodeVaneHorizontal(code int) int { return vaneHorizontalTable.decode(code) }

func EncodeVaneVertical(position int) (int, error) { return vaneVerticalTable.encode(position) }

func DecodeVaneVertical(code int) int { return vaneVerticalTable.decode(code) }

// EncodePower maps 0/1 to the upstream boolean.
func EncodePower(value int) (bool, error) {
	switch value {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, &InvalidFieldValueError{Field: FieldPower, Value: value}
	}
}

func DecodePower(on bool) int {
	if on {
		return 1
	}
	return 0
}

func validateTemperature(celsius float64) error {
	if math.IsNaN(celsius) || celsius < MinTemperature || celsius > MaxTemperature || math.Mod(celsius*2, 1) != 0 {
		return &InvalidFieldValueError{Field: FieldTemperature, Value: celsius}
	}
	return nil
}

func validateFanSpeed(speed int) error {
	if speed < 0 || speed > MaxFanSpeed {
		return &InvalidFieldValueError{Field: FieldFanSpeed, Value: speed}
	}
	return nil
}

// InvalidFieldValueError reports a command value outside the field's table.
type InvalidFieldValueError struct {
	Field Field
	Value any
}

func (e *InvalidFieldValueError) Error() string {
	return fmt.Sprintf("invalid value %v for field %s", e.Value, e.Field)
}
