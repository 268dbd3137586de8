// Package model holds the data types shared across the bridge: devices,
// tags, and the small enums that describe how a tag's register maps to a
// typed value. It has no behavior of its own beyond validation.
package model

import "fmt"

// DeviceType selects how the engine reaches a device.
type DeviceType string

const (
	DeviceTCP      DeviceType = "tcp"
	DeviceRTU      DeviceType = "rtu"
	DeviceTCPModem DeviceType = "tcp-modem"
)

// RegisterType is one of the four Modbus register classes.
type RegisterType string

const (
	RegisterHolding  RegisterType = "holding"
	RegisterInput    RegisterType = "input"
	RegisterCoil     RegisterType = "coil"
	RegisterDiscrete RegisterType = "discrete"
)

// IsWritable reports whether a register class accepts writes.
func (r RegisterType) IsWritable() bool {
	return r == RegisterHolding || r == RegisterCoil
}

// DataType is one of the six tag value types the bridge understands.
type DataType string

const (
	DataTypeFloat   DataType = "float"
	DataTypeInt32   DataType = "int32"
	DataTypeUint32  DataType = "uint32"
	DataTypeInt16   DataType = "int16"
	DataTypeUint16  DataType = "uint16"
	DataTypeBoolean DataType = "boolean"
)

// RegisterCount is the number of consecutive 16-bit registers a value of
// this data type occupies on the wire.
func RegisterCount(dt DataType) int {
	switch dt {
	case DataTypeFloat, DataTypeInt32, DataTypeUint32:
		return 2
	default:
		return 1
	}
}

// Value is a tagged union over the six tag data types. Exactly one of the
// fields is meaningful, selected by Type; Set reports whether the value
// has ever been assigned.
type Value struct {
	Type    DataType
	Set     bool
	Float   float32
	Int32   int32
	Uint32  uint32
	Int16   int16
	Uint16  uint16
	Boolean bool
}

// FloatValue builds a Value of DataTypeFloat.
func FloatValue(v float32) Value { return Value{Type: DataTypeFloat, Set: true, Float: v} }

// Int32Value builds a Value of DataTypeInt32.
func Int32Value(v int32) Value { return Value{Type: DataTypeInt32, Set: true, Int32: v} }

// Uint32Value builds a Value of DataTypeUint32.
func Uint32Value(v uint32) Value { return Value{Type: DataTypeUint32, Set: true, Uint32: v} }

// Int16Value builds a Value of DataTypeInt16.
func Int16Value(v int16) Value { return Value{Type: DataTypeInt16, Set: true, Int16: v} }

// Uint16Value builds a Value of DataTypeUint16.
func Uint16Value(v uint16) Value { return Value{Type: DataTypeUint16, Set: true, Uint16: v} }

// BoolValue builds a Value of DataTypeBoolean.
func BoolValue(v bool) Value { return Value{Type: DataTypeBoolean, Set: true, Boolean: v} }

// Float64 returns the value coerced to float64, regardless of its
// underlying numeric type. Used by the modem responder, which needs a
// single numeric view.
func (v Value) Float64() float64 {
	switch v.Type {
	case DataTypeFloat:
		return float64(v.Float)
	case DataTypeInt32:
		return float64(v.Int32)
	case DataTypeUint32:
		return float64(v.Uint32)
	case DataTypeInt16:
		return float64(v.Int16)
	case DataTypeUint16:
		return float64(v.Uint16)
	case DataTypeBoolean:
		if v.Boolean {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Tag is a named, typed view onto one (or a pair of) Modbus register(s).
type Tag struct {
	Name         string       `json:"name"`
	Address      uint16       `json:"address"`
	RegisterType RegisterType `json:"registerType"`
	DataType     DataType     `json:"dataType"`
	CurrentValue Value        `json:"currentValue,omitempty"`
}

// Writable reports whether this tag's register class accepts writes.
func (t *Tag) Writable() bool { return t.RegisterType.IsWritable() }

// Validate checks the (registerType, dataType) compatibility invariants
// from the register/data-type compatibility rules below.
func (t *Tag) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tag name is required")
	}
	switch t.RegisterType {
	case RegisterHolding, RegisterInput, RegisterCoil, RegisterDiscrete:
	default:
		return fmt.Errorf("tag %q: unknown register type %q", t.Name, t.RegisterType)
	}
	switch t.DataType {
	case DataTypeFloat, DataTypeInt32, DataTypeUint32, DataTypeInt16, DataTypeUint16, DataTypeBoolean:
	default:
		return fmt.Errorf("tag %q: unknown data type %q", t.Name, t.DataType)
	}
	if t.DataType == DataTypeBoolean {
		if t.RegisterType != RegisterCoil && t.RegisterType != RegisterDiscrete {
			return fmt.Errorf("tag %q: boolean data type only valid on coil/discrete registers", t.Name)
		}
		return nil
	}
	if RegisterCount(t.DataType) == 2 {
		if t.RegisterType != RegisterHolding && t.RegisterType != RegisterInput {
			return fmt.Errorf("tag %q: 32-bit data type only valid on holding/input registers", t.Name)
		}
	}
	return nil
}

// Device is a field device, identified by an opaque id unique across the
// catalog.
type Device struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Type         DeviceType `json:"type"`
	Address      string     `json:"address,omitempty"`      // tcp: host
	Port         int        `json:"port,omitempty"`          // tcp: port, tcp-modem: listen port
	SerialPath   string     `json:"serialPath,omitempty"`    // rtu
	BaudRate     int        `json:"baudRate,omitempty"`      // rtu
	DataBits     int        `json:"dataBits,omitempty"`      // rtu
	Parity       string     `json:"parity,omitempty"`        // rtu: N, E, O
	StopBits     int        `json:"stopBits,omitempty"`      // rtu
	DeviceID     byte       `json:"deviceId"`                // Modbus unit id
	PollInterval int        `json:"pollInterval"`            // milliseconds
	Connected    bool       `json:"connected"`
	Tags         []*Tag     `json:"tags"`
}

// FindTag looks up a tag of this device by name.
func (d *Device) FindTag(name string) *Tag {
	for _, t := range d.Tags {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// FindTagByAddress looks up a tag of this device by its register address.
// Used by the modem responder, which routes on address rather than name.
func (d *Device) FindTagByAddress(addr uint16) *Tag {
	for _, t := range d.Tags {
		if t.Address == addr {
			return t
		}
	}
	return nil
}

// Defaults fills in the bridge's documented defaults for fields left zero.
func (d *Device) Defaults() {
	if d.DeviceID == 0 {
		d.DeviceID = 1
	}
	if d.PollInterval == 0 {
		d.PollInterval = 2000
	}
	if d.Type == DeviceRTU {
		if d.BaudRate == 0 {
			d.BaudRate = 9600
		}
		if d.DataBits == 0 {
			d.DataBits = 8
		}
		if d.Parity == "" {
			d.Parity = "N"
		}
		if d.StopBits == 0 {
			d.StopBits = 1
		}
	}
}
