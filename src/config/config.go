package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"lsp-pool/src/internal/constants"
)

// Config contains the per-language server table and pool-wide tuning.
type Config struct {
	Servers map[string]*ServerConfig `yaml:"servers"`
	Pool    PoolConfig               `yaml:"pool"`
}

// ServerConfig contains configuration for a single LSP server.
type ServerConfig struct {
	Command               string      `yaml:"command"`
	Args                  []string    `yaml:"args"`
	WorkingDir            string      `yaml:"working_dir,omitempty"`
	InitializationOptions interface{} `yaml:"initialization_options,omitempty"`
	IdleTimeoutMs         int         `yaml:"idle_timeout_ms,omitempty"`
	AutoStart             bool        `yaml:"auto_start,omitempty"`
}

// PoolConfig contains pool-wide limits and retry tuning.
type PoolConfig struct {
	MaxServers        int              `yaml:"max_servers"`
	RequestTimeoutMs  int              `yaml:"request_timeout_ms"`
	InitTimeoutMs     int              `yaml:"init_timeout_ms"`
	MaxOpenFiles      int              `yaml:"max_open_files"`
	MaxDiagnostics    int              `yaml:"max_diagnostics"`
	MaxRestarts       int              `yaml:"max_restarts"`
	RestartWindowMs   int              `yaml:"restart_window_ms"`
	PositionTolerance *ToleranceConfig `yaml:"position_tolerance,omitempty"`
}

// ToleranceConfig is the radius within which a query position may be
// nudged when the exact position yields no result. A nil ToleranceConfig
// disables nudging entirely.
type ToleranceConfig struct {
	Lines      int `yaml:"lines"`
	Characters int `yaml:"characters"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for structural problems.
func Validate(config *Config) error {
	if config.Servers == nil {
		return fmt.Errorf("servers configuration is required")
	}

	for language, serverConfig := range config.Servers {
		if serverConfig.Command == "" {
			return fmt.Errorf("command is required for language %s", language)
		}
		if serverConfig.IdleTimeoutMs < 0 {
			return fmt.Errorf("idle_timeout_ms must be non-negative for language %s", language)
		}
	}

	if config.Pool.MaxServers <= 0 {
		return fmt.Errorf("pool.max_servers must be positive")
	}
	if tol := config.Pool.PositionTolerance; tol != nil {
		if tol.Lines < 0 || tol.Characters < 0 {
			return fmt.Errorf("pool.position_tolerance values must be non-negative")
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	def := defaultPoolConfig()
	if c.Pool.MaxServers == 0 {
		c.Pool.MaxServers = def.MaxServers
	}
	if c.Pool.RequestTimeoutMs == 0 {
		c.Pool.RequestTimeoutMs = def.RequestTimeoutMs
	}
	if c.Pool.InitTimeoutMs == 0 {
		c.Pool.InitTimeoutMs = def.InitTimeoutMs
	}
	if c.Pool.MaxOpenFiles == 0 {
		c.Pool.MaxOpenFiles = def.MaxOpenFiles
	}
	if c.Pool.MaxDiagnostics == 0 {
		c.Pool.MaxDiagnostics = def.MaxDiagnostics
	}
	if c.Pool.MaxRestarts == 0 {
		c.Pool.MaxRestarts = def.MaxRestarts
	}
	if c.Pool.RestartWindowMs == 0 {
		c.Pool.RestartWindowMs = def.RestartWindowMs
	}
}

func defaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxServers:       4,
		RequestTimeoutMs: int(constants.DefaultRequestTimeout / time.Millisecond),
		InitTimeoutMs:    int(constants.DefaultInitializeTimeout / time.Millisecond),
		MaxOpenFiles:     32,
		MaxDiagnostics:   100,
		MaxRestarts:      3,
		RestartWindowMs:  60000,
		PositionTolerance: &ToleranceConfig{
			Lines:      1,
			Characters: 2,
		},
	}
}

// RequestTimeout returns the per-request timeout as a duration.
func (p PoolConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutMs) * time.Millisecond
}

// InitTimeout returns the initialization timeout as a duration.
func (p PoolConfig) InitTimeout() time.Duration {
	return time.Duration(p.InitTimeoutMs) * time.Millisecond
}

// RestartWindow returns the rolling restart-budget window as a duration.
func (p PoolConfig) RestartWindow() time.Duration {
	return time.Duration(p.RestartWindowMs) * time.Millisecond
}

// IdleTimeout returns the idle eviction timeout for a language, falling
// back to the default when the server entry does not set one.
func (c *Config) IdleTimeout(language string) time.Duration {
	if sc, ok := c.Servers[language]; ok && sc.IdleTimeoutMs > 0 {
		return time.Duration(sc.IdleTimeoutMs) * time.Millisecond
	}
	return constants.DefaultIdleTimeout
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lsp-pool", "config.yaml")
}

// GetDefaultConfig returns a default configuration for common LSP servers
func GetDefaultConfig() *Config {
	return &Config{
		Servers: map[string]*ServerConfig{
			"go": {
				Command: "gopls",
				Args:    []string{"serve"},
			},
			"python": {
				Command: "pylsp",
				Args:    []string{},
			},
			"javascript": {
				Command: "typescript-language-server",
				Args:    []string{"--stdio"},
			},
			"typescript": {
				Command: "typescript-language-server",
				Args:    []string{"--stdio"},
			},
			"java": {
				Command: "jdtls",
				Args:    []string{},
			},
		},
		Pool: defaultPoolConfig(),
	}
}
