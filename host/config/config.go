// Package config loads the host-side description of an I2C bus and the
// device on it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"dmai2c/i2cdma"
)

// Config describes how to reach the firmware and which device to talk to.
type Config struct {
	Device    string `json:"device"`
	Baud      int    `json:"baud"`
	OID       uint8  `json:"oid"`
	Bus       uint8  `json:"bus"`
	Rate      uint32 `json:"rate"`
	Address   uint8  `json:"address"`
	TimeoutMS int    `json:"timeout_ms"`

	// Sim is used when the host runs the firmware in-process.
	Sim SimConfig `json:"sim"`
}

// SimConfig describes the simulated controller and its attached memories.
type SimConfig struct {
	PCLKHz  uint32      `json:"pclk_hz"`
	Mode    string      `json:"mode"`
	Devices []SimDevice `json:"devices"`
}

// SimDevice is an EEPROM-like memory on the simulated bus.
type SimDevice struct {
	Address uint8 `json:"address"`
	Size    int   `json:"size"`
	PtrSize int   `json:"ptr_size"`
}

// Timeout returns the per-command response timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Validate checks the fields the host cannot default.
func (c *Config) Validate() error {
	if c.Address > 0x7f {
		return fmt.Errorf("address 0x%02x is not a 7-bit address", c.Address)
	}
	if c.Rate > i2cdma.MaxFastHz {
		return fmt.Errorf("rate %d exceeds %d", c.Rate, i2cdma.MaxFastHz)
	}
	if _, err := i2cdma.ParseMode(c.Sim.Mode); err != nil {
		return err
	}
	for _, d := range c.Sim.Devices {
		if d.Address > 0x7f {
			return fmt.Errorf("sim device address 0x%02x is not a 7-bit address", d.Address)
		}
		if d.PtrSize < 0 || d.PtrSize > 2 {
			return fmt.Errorf("sim device 0x%02x: pointer size %d", d.Address, d.PtrSize)
		}
	}
	return nil
}

// LoadConfig parses a JSON configuration and fills in defaults.
func LoadConfig(jsonData []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(jsonData, &config); err != nil {
		return nil, err
	}
	applyDefaults(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Load reads a configuration file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given: a 24C02
// style memory at 0x50 on bus 1 running at 400 kHz.
func Default() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.Device == "" {
		config.Device = "/dev/ttyACM0"
	}
	if config.Baud == 0 {
		config.Baud = 250000
	}
	if config.Bus == 0 {
		config.Bus = 1
	}
	if config.Rate == 0 {
		config.Rate = i2cdma.MaxFastHz
	}
	if config.Address == 0 {
		config.Address = 0x50
	}
	if config.TimeoutMS == 0 {
		config.TimeoutMS = 1000
	}

	if config.Sim.PCLKHz == 0 {
		config.Sim.PCLKHz = 42000000
	}
	if config.Sim.Mode == "" {
		config.Sim.Mode = "fm2"
	}
	if len(config.Sim.Devices) == 0 {
		config.Sim.Devices = []SimDevice{{Address: config.Address}}
	}
	for i, d := range config.Sim.Devices {
		if d.Size == 0 {
			d.Size = 256
		}
		if d.PtrSize == 0 {
			d.PtrSize = 1
		}
		config.Sim.Devices[i] = d
	}
}
