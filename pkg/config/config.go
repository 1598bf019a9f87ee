// Package config loads the bridge daemon configuration from a json or yaml file, with
// environment variable overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vehiclelink/vehiclelink/pkg/bus"
	"github.com/vehiclelink/vehiclelink/pkg/metrics"
)

// envPrefix marks environment variables that override file values, e.g.
// VLINK_MQTT__BROKER=tcp://broker:1883 overrides mqtt.broker.
const envPrefix = "VLINK_"

type Config struct {
	MQTT     bus.Config      `json:"mqtt"`
	Vehicles []VehicleConfig `json:"vehicles"`
	Keyring  KeyringConfig   `json:"keyring"`
	Logging  LoggingConfig   `json:"logging"`
	Metrics  metrics.Config  `json:"metrics"`
	Timeouts TimeoutConfig   `json:"timeouts"`
	Cache    CacheConfig     `json:"cache"`
}

// VehicleConfig identifies one vehicle the bridge manages.
type VehicleConfig struct {
	VIN string `json:"vin"`
	// KeyName selects the controller key in the keystore. Empty selects the keyring default.
	KeyName string `json:"key_name"`
}

// KeyringConfig selects the credential storage backend for controller keys.
type KeyringConfig struct {
	// Backend restricts key storage to a single named backend ("keychain", "file", ...). Empty
	// keeps the platform default order.
	Backend string `json:"backend"`
	// DefaultKeyName is used for vehicles that do not name a key.
	DefaultKeyName string `json:"default_key_name"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	// Level is one of "none", "error", "warning", "info", or "debug".
	Level string `json:"level"`
}

// TimeoutConfig bounds vehicle operations, in seconds.
type TimeoutConfig struct {
	ConnectSeconds int `json:"connect_seconds"`
	CommandSeconds int `json:"command_seconds"`
}

// CacheConfig controls session state persistence across restarts.
type CacheConfig struct {
	// File holds exported session state. Empty disables persistence.
	File string `json:"file"`
	// MaxVehicles bounds the cache size. Zero means unbounded.
	MaxVehicles int `json:"max_vehicles"`
}

// SetDefaults applies fallback values for optional fields.
func (c *Config) SetDefaults() {
	c.MQTT.SetDefaults()
	if c.Keyring.DefaultKeyName == "" {
		c.Keyring.DefaultKeyName = "controller"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warning"
	}
	if c.Timeouts.ConnectSeconds == 0 {
		c.Timeouts.ConnectSeconds = 20
	}
	if c.Timeouts.CommandSeconds == 0 {
		c.Timeouts.CommandSeconds = 30
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if len(c.Vehicles) == 0 {
		return fmt.Errorf("at least one vehicle is required")
	}
	seen := make(map[string]bool)
	for i, v := range c.Vehicles {
		if v.VIN == "" {
			return fmt.Errorf("vehicle %d: vin is required", i)
		}
		if seen[v.VIN] {
			return fmt.Errorf("duplicate vin %s", v.VIN)
		}
		seen[v.VIN] = true
	}
	switch strings.ToLower(c.Logging.Level) {
	case "none", "error", "warn", "warning", "info", "debug":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	if c.Timeouts.ConnectSeconds < 0 || c.Timeouts.CommandSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// KeyName returns the keystore entry for v, falling back to the keyring default.
func (c Config) KeyName(v VehicleConfig) string {
	if v.KeyName != "" {
		return v.KeyName
	}
	return c.Keyring.DefaultKeyName
}

// Load reads the configuration file at path, applies environment overrides, defaults, and
// validation.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
