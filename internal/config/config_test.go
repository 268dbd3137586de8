package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"modbus-bridge/internal/config"
	"modbus-bridge/internal/model"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	c, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, 3000, c.HTTP.Port)
	require.Equal(t, 52000, c.OPCUA.Port)
	require.Equal(t, 8000, c.Modem.LowPort)
	require.Equal(t, 8100, c.Modem.HighPort)
	require.Equal(t, 2000, c.Defaults.PollIntervalMS)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 9000\nmodem:\n  lowPort: 9100\n  highPort: 9110\n"), 0o644))

	c, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, c.HTTP.Port)
	require.Equal(t, 9100, c.Modem.LowPort)
	require.Equal(t, 9110, c.Modem.HighPort)
	require.Equal(t, 52000, c.OPCUA.Port, "fields absent from the file keep their default")
}

func TestApplyDeviceDefaults(t *testing.T) {
	c, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	d := &model.Device{Type: model.DeviceRTU}
	c.ApplyDeviceDefaults(d)
	require.Equal(t, 2000, d.PollInterval)
	require.Equal(t, 9600, d.BaudRate)
	require.Equal(t, 8, d.DataBits)
	require.Equal(t, "N", d.Parity)
	require.Equal(t, 1, d.StopBits)
	require.Equal(t, byte(1), d.DeviceID)
}
