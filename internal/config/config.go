// Package config loads the bridge's YAML configuration file: a struct
// with yaml tags, defaults set before an optional file is unmarshalled
// on top.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"modbus-bridge/internal/model"
)

// Config is the bridge's top-level configuration.
type Config struct {
	HTTP struct {
		Port int `yaml:"port"`
	} `yaml:"http"`

	OPCUA struct {
		Port int `yaml:"port"`
	} `yaml:"opcua"`

	Modem struct {
		LowPort  int `yaml:"lowPort"`
		HighPort int `yaml:"highPort"`
	} `yaml:"modem"`

	Defaults struct {
		PollIntervalMS int    `yaml:"pollIntervalMs"`
		BaudRate       int    `yaml:"baudRate"`
		DataBits       int    `yaml:"dataBits"`
		Parity         string `yaml:"parity"`
		StopBits       int    `yaml:"stopBits"`
	} `yaml:"defaults"`

	Catalog struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`

	LogLevel string `yaml:"logLevel"`
}

// Load reads filename and unmarshals it over the documented defaults
// below. A missing file is not an error: the bridge starts
// with defaults and an empty catalog.
func Load(filename string) (*Config, error) {
	c := &Config{}
	c.HTTP.Port = 3000
	c.OPCUA.Port = 52000
	c.Modem.LowPort = 8000
	c.Modem.HighPort = 8100
	c.Defaults.PollIntervalMS = 2000
	c.Defaults.BaudRate = 9600
	c.Defaults.DataBits = 8
	c.Defaults.Parity = "N"
	c.Defaults.StopBits = 1
	c.Catalog.Path = "devices.json"
	c.LogLevel = "info"

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyDeviceDefaults fills in fields a device left zero using the
// config's defaults section, then the type-specific defaults in
// model.Device.Defaults.
func (c *Config) ApplyDeviceDefaults(d *model.Device) {
	if d.PollInterval == 0 {
		d.PollInterval = c.Defaults.PollIntervalMS
	}
	if d.Type == model.DeviceRTU {
		if d.BaudRate == 0 {
			d.BaudRate = c.Defaults.BaudRate
		}
		if d.DataBits == 0 {
			d.DataBits = c.Defaults.DataBits
		}
		if d.Parity == "" {
			d.Parity = c.Defaults.Parity
		}
		if d.StopBits == 0 {
			d.StopBits = c.Defaults.StopBits
		}
	}
	d.Defaults()
}
