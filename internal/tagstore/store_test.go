package tagstore_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modbus-bridge/internal/model"
	"modbus-bridge/internal/tagstore"
)

func sampleDevice() *model.Device {
	return &model.Device{
		ID:   "d1",
		Name: "Line 1 PLC",
		Tags: []*model.Tag{
			{Name: "t", Address: 100, RegisterType: model.RegisterHolding, DataType: model.DataTypeUint16},
			{Name: "c", Address: 0, RegisterType: model.RegisterCoil, DataType: model.DataTypeBoolean},
		},
	}
}

func TestInstallGetUninstall(t *testing.T) {
	s := tagstore.New()
	s.Install(sampleDevice())

	e, ok := s.Get("d1", "t")
	require.True(t, ok)
	assert.Equal(t, uint16(100), e.Address)
	assert.False(t, e.Value.Set)

	require.NoError(t, s.SetFromWire("d1", "t", model.Uint16Value(65)))
	e, ok = s.Get("d1", "t")
	require.True(t, ok)
	assert.Equal(t, uint16(65), e.Value.Uint16)

	s.Uninstall("d1")
	_, ok = s.Get("d1", "t")
	assert.False(t, ok)
}

func TestSnapshotShape(t *testing.T) {
	s := tagstore.New()
	s.Install(sampleDevice())
	require.NoError(t, s.SetFromWire("d1", "t", model.Uint16Value(65)))

	snap := s.Snapshot()
	dev, ok := snap["d1"]
	require.True(t, ok)
	assert.Equal(t, "Line 1 PLC", dev.Name)
	assert.Equal(t, uint16(65), dev.Tags["t"].Value)
	assert.True(t, dev.Tags["t"].Writable)
	assert.True(t, dev.Tags["c"].Writable)
}

func TestConcurrentAccessIsLinearizable(t *testing.T) {
	s := tagstore.New()
	s.Install(sampleDevice())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = s.SetFromWire("d1", "t", model.Uint16Value(uint16(n)))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.Get("d1", "t")
		}()
	}
	wg.Wait()

	e, ok := s.Get("d1", "t")
	require.True(t, ok)
	assert.True(t, e.Value.Uint16 < 100)
}

func TestSetFromWireUnknownTag(t *testing.T) {
	s := tagstore.New()
	s.Install(sampleDevice())
	err := s.SetFromWire("d1", "missing", model.Uint16Value(1))
	assert.Error(t, err)
}
