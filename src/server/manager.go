package server

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"go.lsp.dev/protocol"

	"lsp-pool/src/config"
	"lsp-pool/src/internal/common"
	"lsp-pool/src/internal/types"
	"lsp-pool/src/server/operations"
	"lsp-pool/src/server/pool"
)

// ClientStatus represents the status of one configured language server
type ClientStatus struct {
	Active    bool
	Error     error
	Available bool // Whether the server command is available on system
}

// Manager is the façade over the client pool and operation layer for one
// workspace root. It owns the resolved configuration and the pool's
// background eviction sweep.
type Manager struct {
	cfg           *config.Config
	workspaceRoot string
	pool          *pool.ClientPool
	ops           *operations.Operations

	mu      sync.Mutex
	started bool
}

// NewManager validates the configuration and creates a manager for the
// given workspace root. An empty root defaults to the current directory.
func NewManager(cfg *config.Config, workspaceRoot string) (*Manager, error) {
	factory := func(language, workspaceRoot string, serverCfg *config.ServerConfig, poolCfg config.PoolConfig) types.LSPClient {
		return NewStdioClient(language, workspaceRoot, serverCfg, poolCfg)
	}
	return newManager(cfg, workspaceRoot, factory)
}

// newManager wires the manager with an explicit client factory so tests
// can substitute fakes.
func newManager(cfg *config.Config, workspaceRoot string, factory pool.ClientFactory) (*Manager, error) {
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if workspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
		}
		workspaceRoot = wd
	}
	workspaceRoot, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	clientPool := pool.NewClientPool(cfg, factory)
	return &Manager{
		cfg:           cfg,
		workspaceRoot: workspaceRoot,
		pool:          clientPool,
		ops:           operations.NewOperations(cfg, clientPool, workspaceRoot),
	}, nil
}

// Start launches the idle-eviction sweep and pre-warms every language
// configured with auto_start. Pre-warm failures are logged, not thrown.
// Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.pool.StartSweep()

	for language, serverCfg := range m.cfg.Servers {
		if !serverCfg.AutoStart {
			continue
		}
		go func(lang string) {
			if _, err := m.pool.GetClient(ctx, lang, m.workspaceRoot); err != nil {
				common.PoolLogger.Warn("Failed to pre-warm %s client: %v", lang, err)
			}
		}(language)
	}

	return nil
}

// Stop shuts down the pool and stops the sweep. Idempotent.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.mu.Unlock()

	m.pool.Clear()
	return nil
}

// WorkspaceRoot returns the manager's fixed workspace root.
func (m *Manager) WorkspaceRoot() string {
	return m.workspaceRoot
}

// Pool exposes the client pool, mainly for status reporting.
func (m *Manager) Pool() *pool.ClientPool {
	return m.pool
}

// CheckServerAvailability checks which configured server commands exist
// on the system without starting them.
func (m *Manager) CheckServerAvailability() map[string]ClientStatus {
	status := make(map[string]ClientStatus)

	for language, serverConfig := range m.cfg.Servers {
		if _, err := exec.LookPath(serverConfig.Command); err != nil {
			status[language] = ClientStatus{
				Active:    false,
				Available: false,
				Error:     fmt.Errorf("command not found: %s", serverConfig.Command),
			}
			continue
		}

		status[language] = ClientStatus{
			Active:    m.pool.Has(language, m.workspaceRoot),
			Available: true,
		}
	}

	return status
}

// Hover returns hover information for the position in file.
func (m *Manager) Hover(ctx context.Context, file string, line, character int) (*protocol.Hover, error) {
	return m.ops.Hover(ctx, file, line, character)
}

// Definition returns the definition locations for the position in file.
func (m *Manager) Definition(ctx context.Context, file string, line, character int) ([]protocol.Location, error) {
	return m.ops.Definition(ctx, file, line, character)
}

// References returns the references to the symbol at the position.
func (m *Manager) References(ctx context.Context, file string, line, character int, includeDeclaration bool) ([]protocol.Location, error) {
	return m.ops.References(ctx, file, line, character, includeDeclaration)
}

// Implementation returns the implementations of the symbol at the position.
func (m *Manager) Implementation(ctx context.Context, file string, line, character int) ([]protocol.Location, error) {
	return m.ops.Implementation(ctx, file, line, character)
}

// DocumentSymbols returns the symbol outline of file.
func (m *Manager) DocumentSymbols(ctx context.Context, file string) ([]protocol.DocumentSymbol, error) {
	return m.ops.DocumentSymbols(ctx, file)
}

// WorkspaceSymbols searches for symbols, optionally restricted to one
// language.
func (m *Manager) WorkspaceSymbols(ctx context.Context, query, language string) ([]protocol.SymbolInformation, error) {
	return m.ops.WorkspaceSymbols(ctx, query, language)
}

// Rename renames the symbol at the position to newName.
func (m *Manager) Rename(ctx context.Context, file string, line, character int, newName string) (*protocol.WorkspaceEdit, error) {
	return m.ops.Rename(ctx, file, line, character, newName)
}

// Diagnostics returns the last published diagnostics for file.
func (m *Manager) Diagnostics(ctx context.Context, file string) ([]protocol.Diagnostic, error) {
	return m.ops.Diagnostics(ctx, file)
}
