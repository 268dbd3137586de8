package addressspace_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"modbus-bridge/internal/addressspace"
	"modbus-bridge/internal/model"
	"modbus-bridge/internal/tagstore"
)

type fakeWriter struct {
	lastValue model.Value
	err       error
}

func (f *fakeWriter) WriteTag(deviceID string, tag *model.Tag, v model.Value) error {
	if f.err != nil {
		return f.err
	}
	f.lastValue = v
	return nil
}

func sampleDevice() *model.Device {
	return &model.Device{
		ID:   "d1",
		Name: "Line 1",
		Type: model.DeviceTCP,
		Tags: []*model.Tag{
			{Name: "t", Address: 100, RegisterType: model.RegisterHolding, DataType: model.DataTypeUint16},
			{Name: "i", Address: 200, RegisterType: model.RegisterInput, DataType: model.DataTypeUint16},
		},
	}
}

func TestAttachRegistersFolderAndVariables(t *testing.T) {
	store := tagstore.New()
	device := sampleDevice()
	store.Install(device)

	facade := addressspace.NewInMemoryFacade()
	writer := &fakeWriter{}
	bridge := addressspace.New(zap.NewNop(), store, writer, facade)

	bridge.Attach(device)

	require.True(t, facade.HasFolder("d1"))
	require.Equal(t, 2, facade.VariableCount())

	v, err := facade.ReadVariable("d1", "t")
	require.NoError(t, err)
	require.False(t, v.Set)
}

func TestWriteVariableUpdatesStoreAndRepublishes(t *testing.T) {
	store := tagstore.New()
	device := sampleDevice()
	store.Install(device)

	facade := addressspace.NewInMemoryFacade()
	writer := &fakeWriter{}
	bridge := addressspace.New(zap.NewNop(), store, writer, facade)
	bridge.Attach(device)

	err := facade.WriteVariable("d1", "t", model.Uint16Value(65))
	require.NoError(t, err)

	e, ok := store.Get("d1", "t")
	require.True(t, ok)
	require.Equal(t, uint16(65), e.Value.Uint16)

	last, ok := facade.LastRepublished("d1", "t")
	require.True(t, ok)
	require.Equal(t, uint16(65), last.Uint16)
}

func TestWriteVariableRejectsReadOnlyRegister(t *testing.T) {
	store := tagstore.New()
	device := sampleDevice()
	store.Install(device)

	facade := addressspace.NewInMemoryFacade()
	bridge := addressspace.New(zap.NewNop(), store, &fakeWriter{}, facade)
	bridge.Attach(device)

	err := facade.WriteVariable("d1", "i", model.Uint16Value(1))
	require.Error(t, err)
}

func TestModemDeviceVariablesAreNeverWritable(t *testing.T) {
	store := tagstore.New()
	device := &model.Device{
		ID:   "m1",
		Name: "Modem 1",
		Type: model.DeviceTCPModem,
		Tags: []*model.Tag{
			{Name: "x", Address: 10, RegisterType: model.RegisterHolding, DataType: model.DataTypeUint16},
		},
	}
	store.Install(device)

	facade := addressspace.NewInMemoryFacade()
	bridge := addressspace.New(zap.NewNop(), store, &fakeWriter{}, facade)
	bridge.Attach(device)

	err := facade.WriteVariable("m1", "x", model.Uint16Value(1))
	require.Error(t, err)
}

func TestDetachRemovesFolderAndVariables(t *testing.T) {
	store := tagstore.New()
	device := sampleDevice()
	store.Install(device)

	facade := addressspace.NewInMemoryFacade()
	bridge := addressspace.New(zap.NewNop(), store, &fakeWriter{}, facade)
	bridge.Attach(device)
	bridge.Detach(device)

	require.False(t, facade.HasFolder("d1"))
	require.Equal(t, 0, facade.VariableCount())
}

func TestWriteViaParsesStringAndDelegates(t *testing.T) {
	store := tagstore.New()
	device := sampleDevice()
	store.Install(device)

	facade := addressspace.NewInMemoryFacade()
	writer := &fakeWriter{}
	bridge := addressspace.New(zap.NewNop(), store, writer, facade)
	bridge.Attach(device)

	err := bridge.WriteVia(device, "t", "65")
	require.NoError(t, err)
	e, ok := store.Get("d1", "t")
	require.True(t, ok)
	require.Equal(t, uint16(65), e.Value.Uint16)
}
