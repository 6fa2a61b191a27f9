// Package config loads and validates the typed configuration surface
// for a chainvault node: the redo log's on-disk paths, chain-level
// defaults, trust and compaction parameters, and the mesh transport,
// grounded on the reference storage layer's Config/Validate pattern
// and loaded the same way (go-playground/validator struct tags,
// yaml.v3 decoding) its node-level config files use.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/chainvault/chainvault/internal/mesh"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RedoConfig configures the on-disk redo log.
type RedoConfig struct {
	BasePath    string `yaml:"base_path" validate:"required"`
	BackupPath  string `yaml:"backup_path"`
	RestoreFrom string `yaml:"restore_from"`
}

// ChainConfig configures one chain's defaults: its integrity mode,
// backup policy, signature/timestamp enforcement and the cut-off point
// compaction will never discard past.
type ChainConfig struct {
	Key              string        `yaml:"key" validate:"required"`
	Integrity        string        `yaml:"integrity" validate:"oneof=centralized_server centralized_client distributed"`
	BackupMode       string        `yaml:"backup_mode" validate:"oneof=none rotating full"`
	MaxClockDrift    time.Duration `yaml:"max_clock_drift"`
	NTPServer        string        `yaml:"ntp_server"`
	CutOffMs         int64         `yaml:"cut_off_ms"`
	RequiredSignWith []string      `yaml:"required_sign_with"`
}

// TelemetryConfig configures the zap logger every package in this
// module logs through.
type TelemetryConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
	Encoding    string `yaml:"encoding" validate:"oneof=json console"`
}

// Config is the top-level node configuration: one redo log, any
// number of chains, the mesh transport, telemetry, and the admin
// HTTP listen address.
type Config struct {
	Redo      RedoConfig      `yaml:"redo" validate:"required"`
	Chains    []ChainConfig   `yaml:"chains" validate:"dive"`
	Mesh      mesh.Config     `yaml:"mesh"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	AdminAddr string          `yaml:"admin_addr"`
}

var validate = validator.New()

// Default returns a single-chain, centralized-server, no-mesh
// development configuration.
func Default() *Config {
	return &Config{
		Redo: RedoConfig{BasePath: "./data/chain"},
		Chains: []ChainConfig{{
			Key:           "default",
			Integrity:     "centralized_server",
			BackupMode:    "rotating",
			MaxClockDrift: 5 * time.Minute,
			NTPServer:     "pool.ntp.org:123",
		}},
		Telemetry: TelemetryConfig{Level: "info", Encoding: "console"},
		AdminAddr: "127.0.0.1:8090",
	}
}

// Load reads and validates a YAML configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags plus the cross-field invariants struct
// tags can't express (at least one chain, unique chain keys).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("config: at least one chain must be configured")
	}
	seen := make(map[string]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if seen[ch.Key] {
			return fmt.Errorf("config: duplicate chain key %q", ch.Key)
		}
		seen[ch.Key] = true
	}
	return nil
}
