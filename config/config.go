package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/transport"
)

// Config is the application configuration for the bundled commands. Values
// absent from the file keep their defaults.
type Config struct {
	LogLevel string      `toml:"log_level"`
	TCP      TCPConfig   `toml:"tcp"`
	RTU      RTUConfig   `toml:"rtu"`
	Store    StoreConfig `toml:"store"`
}

// TCPConfig configures the Modbus TCP binding.
type TCPConfig struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	UnitID  int    `toml:"unit_id"`
}

// RTUConfig configures the Modbus RTU binding.
type RTUConfig struct {
	Device   string `toml:"device"`
	BaudRate int    `toml:"baud_rate"`
	DataBits int    `toml:"data_bits"`
	Parity   string `toml:"parity"`
	StopBits int    `toml:"stop_bits"`
	UnitID   int    `toml:"unit_id"`

	// Frame timing in microseconds; zero keeps the transport defaults.
	ResponseTimeoutUs  int `toml:"response_timeout_us"`
	InterCharTimeoutUs int `toml:"inter_char_timeout_us"`
}

// StoreConfig sizes the in-memory data store tables.
type StoreConfig struct {
	Coils            int `toml:"coils"`
	DiscreteInputs   int `toml:"discrete_inputs"`
	HoldingRegisters int `toml:"holding_registers"`
	InputRegisters   int `toml:"input_registers"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		TCP: TCPConfig{
			Address: "0.0.0.0",
			Port:    common.DefaultTCPPort,
			UnitID:  1,
		},
		RTU: RTUConfig{
			Device:   "/dev/ttyUSB0",
			BaudRate: 19200,
			DataBits: 8,
			Parity:   "even",
			StopBits: 1,
			UnitID:   1,
		},
		Store: StoreConfig{
			Coils:            65536,
			DiscreteInputs:   65536,
			HoldingRegisters: 65536,
			InputRegisters:   65536,
		},
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// SerialConfig maps the RTU section onto the transport's serial settings.
func (c *RTUConfig) SerialConfig() transport.SerialConfig {
	return transport.SerialConfig{
		Device:   c.Device,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   c.Parity,
		StopBits: c.StopBits,
	}
}
