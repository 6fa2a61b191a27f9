package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsNoChains(t *testing.T) {
	cfg := Default()
	cfg.Chains = nil
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateChainKeys(t *testing.T) {
	cfg := Default()
	cfg.Chains = append(cfg.Chains, ChainConfig{
		Key:        "default",
		Integrity:  "distributed",
		BackupMode: "none",
	})
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate chain key")
}

func TestValidateRejectsMissingRedoBasePath(t *testing.T) {
	cfg := Default()
	cfg.Redo.BasePath = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownIntegrityMode(t *testing.T) {
	cfg := Default()
	cfg.Chains[0].Integrity = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownBackupMode(t *testing.T) {
	cfg := Default()
	cfg.Chains[0].BackupMode = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownTelemetryLevel(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.Level = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestLoadReadsAndValidatesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
redo:
  base_path: /tmp/chainvault-test
chains:
  - key: primary
    integrity: distributed
    backup_mode: full
telemetry:
  level: warn
  encoding: json
admin_addr: "127.0.0.1:9100"
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/chainvault-test", cfg.Redo.BasePath)
	require.Len(t, cfg.Chains, 1)
	assert.Equal(t, "primary", cfg.Chains[0].Key)
	assert.Equal(t, "warn", cfg.Telemetry.Level)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadReturnsErrorForInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chains: []\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
