package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsp-pool/src/config"
	"lsp-pool/src/internal/types"
	"lsp-pool/src/server/cache"
)

// stubClient is an inert LSPClient for manager wiring tests.
type stubClient struct {
	mu          sync.Mutex
	language    string
	active      bool
	diagnostics *cache.DiagnosticsCache
}

func newStubClient(language string) *stubClient {
	return &stubClient{language: language, diagnostics: cache.NewDiagnosticsCache(4)}
}

func (c *stubClient) Start(ctx context.Context) error {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	return nil
}

func (c *stubClient) Stop() error {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	return nil
}

func (c *stubClient) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return json.RawMessage("null"), nil
}

func (c *stubClient) SendNotification(ctx context.Context, method string, params interface{}) error {
	return nil
}

func (c *stubClient) EnsureOpen(ctx context.Context, uri string) error { return nil }
func (c *stubClient) OnCrash(fn func())                                {}

func (c *stubClient) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *stubClient) Supports(method string) bool         { return true }
func (c *stubClient) Language() string                    { return c.language }
func (c *stubClient) Diagnostics() types.DiagnosticsStore { return c.diagnostics }

func stubFactory(language, workspaceRoot string, serverCfg *config.ServerConfig, poolCfg config.PoolConfig) types.LSPClient {
	return newStubClient(language)
}

func managerConfig() *config.Config {
	return &config.Config{
		Servers: map[string]*config.ServerConfig{
			"go":     {Command: "gopls"},
			"python": {Command: "pylsp"},
		},
		Pool: config.PoolConfig{
			MaxServers:       4,
			RequestTimeoutMs: 1000,
			InitTimeoutMs:    1000,
			MaxOpenFiles:     8,
			MaxDiagnostics:   16,
			MaxRestarts:      2,
			RestartWindowMs:  60000,
		},
	}
}

func TestNewManagerDefaultsConfig(t *testing.T) {
	mgr, err := newManager(nil, t.TempDir(), stubFactory)
	require.NoError(t, err)
	require.NotNil(t, mgr)
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	cfg := managerConfig()
	cfg.Pool.MaxServers = -1

	_, err := newManager(cfg, t.TempDir(), stubFactory)
	assert.Error(t, err)
}

func TestNewManagerResolvesWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	mgr, err := newManager(managerConfig(), root, stubFactory)
	require.NoError(t, err)
	assert.Equal(t, root, mgr.WorkspaceRoot())

	// An empty root falls back to the working directory
	mgr, err = newManager(managerConfig(), "", stubFactory)
	require.NoError(t, err)
	assert.NotEmpty(t, mgr.WorkspaceRoot())
}

func TestStartStopIdempotent(t *testing.T) {
	mgr, err := newManager(managerConfig(), t.TempDir(), stubFactory)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))
	require.NoError(t, mgr.Start(ctx))

	require.NoError(t, mgr.Stop())
	require.NoError(t, mgr.Stop())
}

func TestStartPreWarmsAutoStartLanguages(t *testing.T) {
	cfg := managerConfig()
	cfg.Servers["go"].AutoStart = true

	mgr, err := newManager(cfg, t.TempDir(), stubFactory)
	require.NoError(t, err)

	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop()

	require.Eventually(t, func() bool {
		return mgr.Pool().Has("go", mgr.WorkspaceRoot())
	}, 2*time.Second, 10*time.Millisecond, "auto_start language should be pre-warmed")

	assert.False(t, mgr.Pool().Has("python", mgr.WorkspaceRoot()),
		"languages without auto_start stay cold")
}

func TestStopClearsPool(t *testing.T) {
	mgr, err := newManager(managerConfig(), t.TempDir(), stubFactory)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))
	_, err = mgr.Pool().GetClient(ctx, "go", mgr.WorkspaceRoot())
	require.NoError(t, err)
	require.Equal(t, 1, mgr.Pool().ActiveCount())

	require.NoError(t, mgr.Stop())
	assert.Zero(t, mgr.Pool().ActiveCount())
}

func TestCheckServerAvailability(t *testing.T) {
	cfg := managerConfig()
	cfg.Servers["go"].Command = "sh"
	cfg.Servers["python"].Command = "definitely-not-a-real-binary-zz"

	mgr, err := newManager(cfg, t.TempDir(), stubFactory)
	require.NoError(t, err)

	status := mgr.CheckServerAvailability()
	require.Contains(t, status, "go")
	require.Contains(t, status, "python")

	assert.True(t, status["go"].Available)
	assert.NoError(t, status["go"].Error)
	assert.False(t, status["go"].Active)

	assert.False(t, status["python"].Available)
	assert.Error(t, status["python"].Error)
}

func TestManagerOperationsReachPool(t *testing.T) {
	cfg := managerConfig()
	mgr, err := newManager(cfg, t.TempDir(), stubFactory)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop()

	hover, err := mgr.Hover(ctx, "/tmp/main.go", 0, 0)
	require.NoError(t, err)
	assert.Nil(t, hover)
	assert.True(t, mgr.Pool().Has("go", mgr.WorkspaceRoot()),
		"an operation starts the language's client on demand")

	diagnostics, err := mgr.Diagnostics(ctx, "/tmp/main.go")
	require.NoError(t, err)
	assert.Empty(t, diagnostics)
}
