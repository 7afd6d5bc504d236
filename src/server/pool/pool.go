// Package pool owns the set of active per-(language, workspace) LSP
// clients: get-or-create with initialization deduplication, LRU and idle
// eviction, and crash-triggered restart with backoff.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lsp-pool/src/config"
	"lsp-pool/src/internal/common"
	"lsp-pool/src/internal/constants"
	"lsp-pool/src/internal/types"
)

// ClientFactory constructs a client for a language/workspace pair. The
// pool never spawns processes itself; the factory is injected so tests
// can substitute fakes.
type ClientFactory func(language, workspaceRoot string, serverCfg *config.ServerConfig, poolCfg config.PoolConfig) types.LSPClient

type entry struct {
	client        types.LSPClient
	language      string
	workspaceRoot string
	lastUsed      time.Time
}

// pendingInit is the shared marker for an initialization in flight. All
// concurrent callers for the same key wait on done and observe the same
// client/err pair.
type pendingInit struct {
	done   chan struct{}
	client types.LSPClient
	err    error
}

// ClientPool manages at most MaxServers concurrently active clients. One
// mutex guards the bookkeeping tables only; initialization, shutdown and
// sweeping always run outside the lock.
type ClientPool struct {
	cfg     *config.Config
	factory ClientFactory

	mu       sync.Mutex
	active   map[string]*entry
	pending  map[string]*pendingInit
	trackers map[string]*RestartTracker

	sweepInterval time.Duration
	sweepStop     chan struct{}
}

// NewClientPool creates a pool over the given configuration and factory.
func NewClientPool(cfg *config.Config, factory ClientFactory) *ClientPool {
	return &ClientPool{
		cfg:           cfg,
		factory:       factory,
		active:        make(map[string]*entry),
		pending:       make(map[string]*pendingInit),
		trackers:      make(map[string]*RestartTracker),
		sweepInterval: constants.IdleSweepInterval,
	}
}

func poolKey(language, workspaceRoot string) string {
	return language + "\x00" + workspaceRoot
}

// GetClient returns the active client for the pair, waits on an
// initialization already in flight, or starts a new one. At capacity the
// least recently used active client is evicted first. A failed
// initialization leaves the slot absent so a later call retries cleanly.
func (p *ClientPool) GetClient(ctx context.Context, language, workspaceRoot string) (types.LSPClient, error) {
	key := poolKey(language, workspaceRoot)

	p.mu.Lock()

	if e, ok := p.active[key]; ok {
		e.lastUsed = time.Now()
		p.mu.Unlock()
		return e.client, nil
	}

	if pend, ok := p.pending[key]; ok {
		p.mu.Unlock()
		select {
		case <-pend.done:
			return pend.client, pend.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	serverCfg, ok := p.cfg.Servers[language]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("No server configuration for language '%s'", language)
	}

	// Evict-for-capacity and pending-marker insertion happen in one lock
	// section so concurrent callers cannot both free space for a single
	// admission.
	evicted := p.evictLRULocked()
	pend := &pendingInit{done: make(chan struct{})}
	p.pending[key] = pend
	p.mu.Unlock()

	if evicted != nil {
		p.shutdownEntry(evicted, "lru eviction")
	}

	client := p.factory(language, workspaceRoot, serverCfg, p.cfg.Pool)
	err := client.Start(ctx)

	// Pending-marker cleanup must run on every path so a failed or stuck
	// initialization never wedges the key.
	p.mu.Lock()
	delete(p.pending, key)
	if err == nil {
		p.active[key] = &entry{
			client:        client,
			language:      language,
			workspaceRoot: workspaceRoot,
			lastUsed:      time.Now(),
		}
		p.trackerLocked(key).Reset()
	}
	p.mu.Unlock()

	if err != nil {
		pend.err = err
		close(pend.done)
		return nil, err
	}

	client.OnCrash(func() {
		p.handleCrash(key, language, workspaceRoot, client)
	})

	pend.client = client
	close(pend.done)
	return client, nil
}

// Has reports whether an active (not pending) client exists for the pair.
func (p *ClientPool) Has(language, workspaceRoot string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[poolKey(language, workspaceRoot)]
	return ok
}

// ActiveCount returns the number of active clients.
func (p *ClientPool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// ActiveClients returns a snapshot of the currently active clients.
func (p *ClientPool) ActiveClients() []types.LSPClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	clients := make([]types.LSPClient, 0, len(p.active))
	for _, e := range p.active {
		clients = append(clients, e.client)
	}
	return clients
}

// StartSweep launches the periodic idle-eviction sweep. Idempotent.
func (p *ClientPool) StartSweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sweepStop != nil {
		return
	}
	stop := make(chan struct{})
	p.sweepStop = stop
	go p.sweepLoop(stop)
}

// StopSweep stops the idle-eviction sweep. Idempotent.
func (p *ClientPool) StopSweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sweepStop != nil {
		close(p.sweepStop)
		p.sweepStop = nil
	}
}

// Clear stops the sweep, shuts down every active client (best effort,
// in parallel) and empties all tracking state.
func (p *ClientPool) Clear() {
	p.StopSweep()

	p.mu.Lock()
	evicted := make([]*entry, 0, len(p.active))
	for _, e := range p.active {
		evicted = append(evicted, e)
	}
	p.active = make(map[string]*entry)
	p.pending = make(map[string]*pendingInit)
	p.trackers = make(map[string]*RestartTracker)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range evicted {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			p.shutdownEntry(e, "pool clear")
		}(e)
	}
	wg.Wait()
}

// evictLRULocked removes and returns the least recently used active entry
// when the pool (active + pending) is at capacity. Caller holds the lock
// and must shut the returned entry down outside it.
func (p *ClientPool) evictLRULocked() *entry {
	if len(p.active)+len(p.pending) < p.cfg.Pool.MaxServers {
		return nil
	}

	var lruKey string
	var lru *entry
	for key, e := range p.active {
		if lru == nil || e.lastUsed.Before(lru.lastUsed) {
			lruKey = key
			lru = e
		}
	}
	if lru == nil {
		// Everything at capacity is still initializing; admit transiently
		// rather than evicting a pending slot.
		return nil
	}

	delete(p.active, lruKey)
	return lru
}

// sweepLoop runs the idle sweep on a fixed interval, independent of call
// volume.
func (p *ClientPool) sweepLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

// sweepIdle evicts every active client idle longer than its language's
// configured timeout.
func (p *ClientPool) sweepIdle() {
	now := time.Now()

	p.mu.Lock()
	var expired []*entry
	for key, e := range p.active {
		if now.Sub(e.lastUsed) > p.cfg.IdleTimeout(e.language) {
			delete(p.active, key)
			expired = append(expired, e)
		}
	}
	p.mu.Unlock()

	for _, e := range expired {
		common.PoolLogger.Info("Evicting idle %s client for %s", e.language, e.workspaceRoot)
		p.shutdownEntry(e, "idle eviction")
	}
}

// handleCrash removes the dead slot and, if the restart budget allows,
// schedules a best-effort re-initialization after backoff. Once the
// budget is exhausted the slot stays absent until an explicit GetClient
// call retries.
func (p *ClientPool) handleCrash(key, language, workspaceRoot string, crashed types.LSPClient) {
	p.mu.Lock()
	e, ok := p.active[key]
	if !ok || e.client != crashed {
		// Slot already evicted or repopulated; nothing to restart.
		p.mu.Unlock()
		return
	}
	delete(p.active, key)

	tracker := p.trackerLocked(key)
	if !tracker.CanRestart() {
		p.mu.Unlock()
		common.PoolLogger.Warn("Restart budget exhausted for %s client in %s", language, workspaceRoot)
		return
	}
	tracker.RecordRestart()
	delay := tracker.BackoffDelay()
	p.mu.Unlock()

	common.PoolLogger.Warn("%s client for %s crashed, restarting in %v", language, workspaceRoot, delay)

	// Detached best-effort attempt: failures are swallowed and the slot
	// simply stays absent until the next GetClient call.
	go func() {
		time.Sleep(delay)
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Pool.InitTimeout())
		defer cancel()
		if _, err := p.GetClient(ctx, language, workspaceRoot); err != nil {
			common.PoolLogger.Warn("Restart of %s client for %s failed: %v", language, workspaceRoot, err)
		}
	}()
}

// trackerLocked returns the slot's restart tracker, creating it on first
// use. Caller holds the lock.
func (p *ClientPool) trackerLocked(key string) *RestartTracker {
	t, ok := p.trackers[key]
	if !ok {
		t = NewRestartTracker(p.cfg.Pool.MaxRestarts, p.cfg.Pool.RestartWindow())
		p.trackers[key] = t
	}
	return t
}

// shutdownEntry stops a client outside the pool lock. Shutdown errors are
// cleanup noise and always swallowed.
func (p *ClientPool) shutdownEntry(e *entry, reason string) {
	if err := e.client.Stop(); err != nil {
		common.PoolLogger.Debug("Ignoring shutdown error during %s for %s client: %v", reason, e.language, err)
	}
}
