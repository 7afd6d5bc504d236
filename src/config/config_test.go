package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsp-pool/src/internal/constants"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
servers:
  go:
    command: gopls
    args: ["serve"]
    idle_timeout_ms: 60000
    auto_start: true
  python:
    command: pylsp
pool:
  max_servers: 2
  request_timeout_ms: 5000
  position_tolerance:
    lines: 2
    characters: 3
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Contains(t, cfg.Servers, "go")
	assert.Equal(t, "gopls", cfg.Servers["go"].Command)
	assert.Equal(t, []string{"serve"}, cfg.Servers["go"].Args)
	assert.True(t, cfg.Servers["go"].AutoStart)
	assert.Equal(t, 60000, cfg.Servers["go"].IdleTimeoutMs)

	assert.Equal(t, 2, cfg.Pool.MaxServers)
	assert.Equal(t, 5*time.Second, cfg.Pool.RequestTimeout())
	require.NotNil(t, cfg.Pool.PositionTolerance)
	assert.Equal(t, 2, cfg.Pool.PositionTolerance.Lines)
	assert.Equal(t, 3, cfg.Pool.PositionTolerance.Characters)

	// Unset pool settings fall back to defaults
	assert.Equal(t, constants.DefaultInitializeTimeout, cfg.Pool.InitTimeout())
	assert.Equal(t, 32, cfg.Pool.MaxOpenFiles)
	assert.Equal(t, 100, cfg.Pool.MaxDiagnostics)
	assert.Equal(t, 3, cfg.Pool.MaxRestarts)
	assert.Equal(t, time.Minute, cfg.Pool.RestartWindow())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "servers: [not a map")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidateRejectsMissingCommand(t *testing.T) {
	cfg := &Config{
		Servers: map[string]*ServerConfig{
			"go": {},
		},
		Pool: defaultPoolConfig(),
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command is required")
}

func TestValidateRejectsNonPositiveMaxServers(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Pool.MaxServers = 0
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsNegativeTolerance(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Pool.PositionTolerance = &ToleranceConfig{Lines: -1}
	assert.Error(t, Validate(cfg))
}

func TestValidateAllowsNilTolerance(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Pool.PositionTolerance = nil
	assert.NoError(t, Validate(cfg))
}

func TestIdleTimeoutFallback(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Servers["go"].IdleTimeoutMs = 1500

	assert.Equal(t, 1500*time.Millisecond, cfg.IdleTimeout("go"))
	assert.Equal(t, constants.DefaultIdleTimeout, cfg.IdleTimeout("python"))
	assert.Equal(t, constants.DefaultIdleTimeout, cfg.IdleTimeout("unknown"))
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	require.NoError(t, Validate(cfg))
	assert.Contains(t, cfg.Servers, "go")
	assert.Contains(t, cfg.Servers, "python")
	assert.Contains(t, cfg.Servers, "typescript")
	assert.Equal(t, 4, cfg.Pool.MaxServers)
	require.NotNil(t, cfg.Pool.PositionTolerance)
	assert.Equal(t, 1, cfg.Pool.PositionTolerance.Lines)
	assert.Equal(t, 2, cfg.Pool.PositionTolerance.Characters)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := GetDefaultConfig()
	cfg.Pool.MaxServers = 7

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Pool.MaxServers)
	assert.Equal(t, cfg.Servers["go"].Command, loaded.Servers["go"].Command)
}
