package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"lsp-pool/src/config"
	"lsp-pool/src/internal/types"
)

// fakeClient is a minimal in-memory LSPClient for pool tests.
type fakeClient struct {
	mu       sync.Mutex
	language string
	startErr error
	started  bool
	stopped  bool
	crashFn  func()
	delay    time.Duration
}

func (c *fakeClient) Start(ctx context.Context) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return json.RawMessage("null"), nil
}

func (c *fakeClient) SendNotification(ctx context.Context, method string, params interface{}) error {
	return nil
}

func (c *fakeClient) EnsureOpen(ctx context.Context, uri string) error { return nil }

func (c *fakeClient) OnCrash(fn func()) {
	c.mu.Lock()
	c.crashFn = fn
	c.mu.Unlock()
}

func (c *fakeClient) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.stopped
}

func (c *fakeClient) Supports(method string) bool { return true }

func (c *fakeClient) Language() string { return c.language }

func (c *fakeClient) Diagnostics() types.DiagnosticsStore { return noopDiagnostics{} }

func (c *fakeClient) crash() {
	c.mu.Lock()
	fn := c.crashFn
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeClient) wasStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

type noopDiagnostics struct{}

func (noopDiagnostics) Set(string, []protocol.Diagnostic) {}
func (noopDiagnostics) Get(string) ([]protocol.Diagnostic, bool) {
	return nil, false
}
func (noopDiagnostics) Delete(string) {}
func (noopDiagnostics) Clear()        {}
func (noopDiagnostics) Len() int      { return 0 }

// fakeFactory builds fakeClients and records every construction.
type fakeFactory struct {
	mu       sync.Mutex
	clients  []*fakeClient
	startErr error
	delay    time.Duration
}

func (f *fakeFactory) build(language, workspaceRoot string, serverCfg *config.ServerConfig, poolCfg config.PoolConfig) types.LSPClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	client := &fakeClient{language: language, startErr: f.startErr, delay: f.delay}
	f.clients = append(f.clients, client)
	return client
}

func (f *fakeFactory) constructed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) setStartErr(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

func testConfig(maxServers int) *config.Config {
	return &config.Config{
		Servers: map[string]*config.ServerConfig{
			"go":         {Command: "gopls", Args: []string{"serve"}},
			"python":     {Command: "pylsp"},
			"typescript": {Command: "typescript-language-server", Args: []string{"--stdio"}},
		},
		Pool: config.PoolConfig{
			MaxServers:       maxServers,
			RequestTimeoutMs: 1000,
			InitTimeoutMs:    1000,
			MaxOpenFiles:     4,
			MaxDiagnostics:   4,
			MaxRestarts:      2,
			RestartWindowMs:  60000,
		},
	}
}

const workspace = "/workspace"

func TestGetClientReusesActiveEntry(t *testing.T) {
	factory := &fakeFactory{}
	p := NewClientPool(testConfig(4), factory.build)
	ctx := context.Background()

	first, err := p.GetClient(ctx, "go", workspace)
	require.NoError(t, err)
	second, err := p.GetClient(ctx, "go", workspace)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, factory.constructed())
	assert.Equal(t, 1, p.ActiveCount())
}

func TestConcurrentGetSharesInitialization(t *testing.T) {
	factory := &fakeFactory{delay: 50 * time.Millisecond}
	p := NewClientPool(testConfig(4), factory.build)
	ctx := context.Background()

	const callers = 8
	results := make([]types.LSPClient, callers)
	var wg sync.WaitGroup
	var failures int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, err := p.GetClient(ctx, "go", workspace)
			if err != nil {
				atomic.AddInt32(&failures, 1)
				return
			}
			results[i] = client
		}(i)
	}
	wg.Wait()

	require.Zero(t, failures)
	assert.Equal(t, 1, factory.constructed(), "concurrent callers for one key must share a single initialization")
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	factory := &fakeFactory{}
	p := NewClientPool(testConfig(2), factory.build)
	ctx := context.Background()

	goClient, err := p.GetClient(ctx, "go", workspace)
	require.NoError(t, err)
	_, err = p.GetClient(ctx, "python", workspace)
	require.NoError(t, err)

	// Touch go so python becomes the least recently used entry
	touched, err := p.GetClient(ctx, "go", workspace)
	require.NoError(t, err)
	require.Same(t, goClient, touched)

	_, err = p.GetClient(ctx, "typescript", workspace)
	require.NoError(t, err)

	assert.False(t, p.Has("python", workspace))
	assert.True(t, p.Has("go", workspace))
	assert.True(t, p.Has("typescript", workspace))
	assert.Equal(t, 2, p.ActiveCount())
	assert.True(t, factory.clients[1].wasStopped(), "evicted client must be shut down")
}

func TestUnconfiguredLanguage(t *testing.T) {
	factory := &fakeFactory{}
	p := NewClientPool(testConfig(4), factory.build)

	_, err := p.GetClient(context.Background(), "ruby", workspace)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No server configuration for language 'ruby'")
	assert.Zero(t, factory.constructed())
}

func TestHasTracksActiveOnly(t *testing.T) {
	factory := &fakeFactory{}
	p := NewClientPool(testConfig(4), factory.build)

	assert.False(t, p.Has("go", workspace))

	_, err := p.GetClient(context.Background(), "go", workspace)
	require.NoError(t, err)
	assert.True(t, p.Has("go", workspace))
}

func TestClearEmptiesPoolAndAllowsReuse(t *testing.T) {
	factory := &fakeFactory{}
	p := NewClientPool(testConfig(4), factory.build)
	ctx := context.Background()

	_, err := p.GetClient(ctx, "go", workspace)
	require.NoError(t, err)
	_, err = p.GetClient(ctx, "python", workspace)
	require.NoError(t, err)

	p.Clear()

	assert.Zero(t, p.ActiveCount())
	for _, client := range factory.clients {
		assert.True(t, client.wasStopped())
	}

	// The pool must admit new keys after a clear
	_, err = p.GetClient(ctx, "go", workspace)
	require.NoError(t, err)
	assert.Equal(t, 1, p.ActiveCount())
}

func TestInitializationFailureLeavesNoResidualState(t *testing.T) {
	factory := &fakeFactory{startErr: fmt.Errorf("spawn failed")}
	p := NewClientPool(testConfig(4), factory.build)
	ctx := context.Background()

	_, err := p.GetClient(ctx, "go", workspace)
	require.Error(t, err)
	assert.False(t, p.Has("go", workspace))
	assert.Zero(t, p.ActiveCount())

	// A later call must retry cleanly
	factory.setStartErr(nil)
	_, err = p.GetClient(ctx, "go", workspace)
	require.NoError(t, err)
	assert.True(t, p.Has("go", workspace))
}

func TestCrashRemovesEntryAndRestarts(t *testing.T) {
	factory := &fakeFactory{}
	p := NewClientPool(testConfig(4), factory.build)
	ctx := context.Background()

	_, err := p.GetClient(ctx, "go", workspace)
	require.NoError(t, err)

	factory.clients[0].crash()

	assert.False(t, p.Has("go", workspace), "crashed entry must be removed immediately")

	require.Eventually(t, func() bool {
		return p.Has("go", workspace)
	}, 3*time.Second, 20*time.Millisecond, "pool should restart the crashed client after backoff")
	assert.Equal(t, 2, factory.constructed())
}

func TestCrashWithExhaustedBudgetStaysAbsent(t *testing.T) {
	cfg := testConfig(4)
	cfg.Pool.MaxRestarts = 0
	factory := &fakeFactory{}
	p := NewClientPool(cfg, factory.build)
	ctx := context.Background()

	_, err := p.GetClient(ctx, "go", workspace)
	require.NoError(t, err)

	factory.clients[0].crash()

	time.Sleep(800 * time.Millisecond)
	assert.False(t, p.Has("go", workspace))
	assert.Equal(t, 1, factory.constructed(), "no restart may be scheduled once the budget is exhausted")

	// An explicit call performs a normal initialization attempt
	_, err = p.GetClient(ctx, "go", workspace)
	require.NoError(t, err)
	assert.True(t, p.Has("go", workspace))
}

func TestIdleSweepEvictsStaleClients(t *testing.T) {
	cfg := testConfig(4)
	cfg.Servers["go"].IdleTimeoutMs = 20
	factory := &fakeFactory{}
	p := NewClientPool(cfg, factory.build)
	p.sweepInterval = 10 * time.Millisecond
	ctx := context.Background()

	_, err := p.GetClient(ctx, "go", workspace)
	require.NoError(t, err)

	p.StartSweep()
	defer p.StopSweep()

	require.Eventually(t, func() bool {
		return !p.Has("go", workspace)
	}, 2*time.Second, 10*time.Millisecond, "idle client should be evicted by the sweep")
	assert.True(t, factory.clients[0].wasStopped())
}
