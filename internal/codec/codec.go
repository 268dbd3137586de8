// Package codec implements the pure conversions between Modbus register
// words and the bridge's typed tag values, and the inverse for writes.
// Multi-register values are packed big-endian, most-significant register
// first.
package codec

import (
	"fmt"
	"math"
	"strconv"

	"modbus-bridge/internal/bridgeerr"
	"modbus-bridge/internal/model"
)

func parseInt(raw string, min, max int64) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, bridgeerr.Wrap(bridgeerr.ValueOutOfRange, "parse", fmt.Sprintf("invalid integer %q", raw), err)
	}
	if n < min || n > max {
		return 0, bridgeerr.New(bridgeerr.ValueOutOfRange, "parse", fmt.Sprintf("%d out of range [%d, %d]", n, min, max))
	}
	return n, nil
}

func parseFloat(raw string) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, bridgeerr.Wrap(bridgeerr.ValueOutOfRange, "parse", fmt.Sprintf("invalid float %q", raw), err)
	}
	return f, nil
}

// RegisterCount returns how many 16-bit registers a value of dt occupies.
func RegisterCount(dt model.DataType) int {
	return model.RegisterCount(dt)
}

// IsWritable reports whether rt accepts writes.
func IsWritable(rt model.RegisterType) bool {
	return rt.IsWritable()
}

// Decode converts an ordered sequence of 16-bit words into a typed value.
// For 32-bit types, words[0] holds the high half (big-endian across
// words). Boolean reads the low bit of the first word.
func Decode(words []uint16, dt model.DataType) (model.Value, error) {
	switch dt {
	case model.DataTypeBoolean:
		if len(words) < 1 {
			return model.Value{}, fmt.Errorf("decode boolean: need 1 word, got %d", len(words))
		}
		return model.BoolValue(words[0]&0x1 != 0), nil

	case model.DataTypeUint16:
		if len(words) < 1 {
			return model.Value{}, fmt.Errorf("decode uint16: need 1 word, got %d", len(words))
		}
		return model.Uint16Value(words[0]), nil

	case model.DataTypeInt16:
		if len(words) < 1 {
			return model.Value{}, fmt.Errorf("decode int16: need 1 word, got %d", len(words))
		}
		// two's-complement with the 65536-bias convention.
		return model.Int16Value(int16(words[0])), nil

	case model.DataTypeUint32:
		if len(words) < 2 {
			return model.Value{}, fmt.Errorf("decode uint32: need 2 words, got %d", len(words))
		}
		raw := uint32(words[0])<<16 | uint32(words[1])
		return model.Uint32Value(raw), nil

	case model.DataTypeInt32:
		if len(words) < 2 {
			return model.Value{}, fmt.Errorf("decode int32: need 2 words, got %d", len(words))
		}
		raw := uint32(words[0])<<16 | uint32(words[1])
		return model.Int32Value(int32(raw)), nil

	case model.DataTypeFloat:
		if len(words) < 2 {
			return model.Value{}, fmt.Errorf("decode float: need 2 words, got %d", len(words))
		}
		raw := uint32(words[0])<<16 | uint32(words[1])
		return model.FloatValue(math.Float32frombits(raw)), nil

	default:
		return model.Value{}, fmt.Errorf("decode: unsupported data type %q", dt)
	}
}

// Encode converts a typed value into its ordered sequence of 16-bit
// words, symmetric to Decode. A set value whose Type is not dt (for
// example an int32 destined for a uint16 register) fails with
// bridgeerr.ValueOutOfRange instead of being truncated.
func Encode(v model.Value, dt model.DataType) ([]uint16, error) {
	if v.Set && v.Type != dt {
		return nil, bridgeerr.New(bridgeerr.ValueOutOfRange, "encode", fmt.Sprintf("%s value does not fit data type %q", v.Type, dt))
	}
	switch dt {
	case model.DataTypeBoolean:
		var w uint16
		if v.Boolean {
			w = 1
		}
		return []uint16{w}, nil

	case model.DataTypeUint16:
		return []uint16{v.Uint16}, nil

	case model.DataTypeInt16:
		return []uint16{uint16(v.Int16)}, nil

	case model.DataTypeUint32:
		return []uint16{uint16(v.Uint32 >> 16), uint16(v.Uint32 & 0xFFFF)}, nil

	case model.DataTypeInt32:
		raw := uint32(v.Int32)
		return []uint16{uint16(raw >> 16), uint16(raw & 0xFFFF)}, nil

	case model.DataTypeFloat:
		raw := math.Float32bits(v.Float)
		return []uint16{uint16(raw >> 16), uint16(raw & 0xFFFF)}, nil

	default:
		return nil, bridgeerr.New(bridgeerr.ValueOutOfRange, "encode", fmt.Sprintf("unsupported data type %q", dt))
	}
}

// ParseValue parses a string representation of a tag value (as accepted
// from HTTP admin writes) into a typed Value, failing with
// bridgeerr.ValueOutOfRange when the numeric string doesn't fit dt.
func ParseValue(raw string, dt model.DataType) (model.Value, error) {
	switch dt {
	case model.DataTypeBoolean:
		switch raw {
		case "1", "true", "TRUE", "True":
			return model.BoolValue(true), nil
		case "0", "false", "FALSE", "False":
			return model.BoolValue(false), nil
		default:
			return model.Value{}, bridgeerr.New(bridgeerr.ValueOutOfRange, "parse", fmt.Sprintf("invalid boolean %q", raw))
		}

	case model.DataTypeUint16:
		n, err := parseInt(raw, 0, math.MaxUint16)
		if err != nil {
			return model.Value{}, err
		}
		return model.Uint16Value(uint16(n)), nil

	case model.DataTypeInt16:
		n, err := parseInt(raw, math.MinInt16, math.MaxInt16)
		if err != nil {
			return model.Value{}, err
		}
		return model.Int16Value(int16(n)), nil

	case model.DataTypeUint32:
		n, err := parseInt(raw, 0, math.MaxUint32)
		if err != nil {
			return model.Value{}, err
		}
		return model.Uint32Value(uint32(n)), nil

	case model.DataTypeInt32:
		n, err := parseInt(raw, math.MinInt32, math.MaxInt32)
		if err != nil {
			return model.Value{}, err
		}
		return model.Int32Value(int32(n)), nil

	case model.DataTypeFloat:
		f, err := parseFloat(raw)
		if err != nil {
			return model.Value{}, err
		}
		return model.FloatValue(float32(f)), nil

	default:
		return model.Value{}, bridgeerr.New(bridgeerr.ValueOutOfRange, "parse", fmt.Sprintf("unsupported data type %q", dt))
	}
}
