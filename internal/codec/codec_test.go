package codec_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modbus-bridge/internal/codec"
	"modbus-bridge/internal/model"
)

func TestDecodeUint16(t *testing.T) {
	v, err := codec.Decode([]uint16{65}, model.DataTypeUint16)
	require.NoError(t, err)
	assert.Equal(t, uint16(65), v.Uint16)
}

func TestDecodeFloatScenario(t *testing.T) {
	// words [0x4048, 0xF5C3] decode to ~3.14.
	v, err := codec.Decode([]uint16{0x4048, 0xF5C3}, model.DataTypeFloat)
	require.NoError(t, err)
	assert.InDelta(t, 3.14, float64(v.Float), 0.001)
}

func TestDecodeInt16TwosComplement(t *testing.T) {
	v, err := codec.Decode([]uint16{0xFFFF}, model.DataTypeInt16)
	require.NoError(t, err)
	assert.Equal(t, int16(-1), v.Int16)
}

func TestDecodeBooleanLowBit(t *testing.T) {
	v, err := codec.Decode([]uint16{0x0003}, model.DataTypeBoolean)
	require.NoError(t, err)
	assert.True(t, v.Boolean)

	v, err = codec.Decode([]uint16{0x0002}, model.DataTypeBoolean)
	require.NoError(t, err)
	assert.False(t, v.Boolean)
}

func TestRoundTripWireSide(t *testing.T) {
	cases := []struct {
		dt    model.DataType
		words []uint16
	}{
		{model.DataTypeUint16, []uint16{1234}},
		{model.DataTypeInt16, []uint16{0xFFF0}},
		{model.DataTypeUint32, []uint16{0x1234, 0x5678}},
		{model.DataTypeInt32, []uint16{0xFFFF, 0xFFFE}},
		{model.DataTypeFloat, []uint16{0x4048, 0xF5C3}},
		{model.DataTypeBoolean, []uint16{0x0001}},
	}
	for _, c := range cases {
		v, err := codec.Decode(c.words, c.dt)
		require.NoError(t, err)
		words, err := codec.Encode(v, c.dt)
		require.NoError(t, err)
		assert.Equal(t, c.words, words, "round trip for %s", c.dt)
	}
}

func TestRoundTripValueSide(t *testing.T) {
	u16 := model.Uint16Value(42)
	words, err := codec.Encode(u16, model.DataTypeUint16)
	require.NoError(t, err)
	back, err := codec.Decode(words, model.DataTypeUint16)
	require.NoError(t, err)
	assert.Equal(t, u16, back)

	f := model.FloatValue(3.14159)
	words, err = codec.Encode(f, model.DataTypeFloat)
	require.NoError(t, err)
	back, err = codec.Decode(words, model.DataTypeFloat)
	require.NoError(t, err)
	assert.Equal(t, math.Float32bits(f.Float), math.Float32bits(back.Float))
}

func TestRegisterCount(t *testing.T) {
	assert.Equal(t, 1, codec.RegisterCount(model.DataTypeUint16))
	assert.Equal(t, 2, codec.RegisterCount(model.DataTypeFloat))
	assert.Equal(t, 2, codec.RegisterCount(model.DataTypeInt32))
	assert.Equal(t, 1, codec.RegisterCount(model.DataTypeBoolean))
}

func TestIsWritable(t *testing.T) {
	assert.True(t, codec.IsWritable(model.RegisterHolding))
	assert.True(t, codec.IsWritable(model.RegisterCoil))
	assert.False(t, codec.IsWritable(model.RegisterInput))
	assert.False(t, codec.IsWritable(model.RegisterDiscrete))
}

func TestParseValueOutOfRange(t *testing.T) {
	_, err := codec.ParseValue("70000", model.DataTypeUint16)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ValueOutOfRange")
}

func TestParseValueBoolean(t *testing.T) {
	v, err := codec.ParseValue("1", model.DataTypeBoolean)
	require.NoError(t, err)
	assert.True(t, v.Boolean)
}
