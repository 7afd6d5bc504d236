// Package cache holds the bounded per-client diagnostics cache.
package cache

import (
	"container/list"
	"sync"

	"go.lsp.dev/protocol"
)

// DiagnosticsCache is a bounded least-recently-used cache mapping a
// document URI to its last published diagnostics. Both Set and Get count
// as use. Stored and returned slices are copies, so callers can never
// mutate cached state.
type DiagnosticsCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type diagEntry struct {
	uri         string
	diagnostics []protocol.Diagnostic
}

// NewDiagnosticsCache creates a cache holding up to capacity documents.
// A capacity of zero or less falls back to a single entry.
func NewDiagnosticsCache(capacity int) *DiagnosticsCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &DiagnosticsCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Set stores a copy of diagnostics for uri and marks it most recently
// used, evicting the least recently used document if the cache is full.
func (c *DiagnosticsCache) Set(uri string, diagnostics []protocol.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]protocol.Diagnostic, len(diagnostics))
	copy(stored, diagnostics)

	if elem, ok := c.entries[uri]; ok {
		elem.Value.(*diagEntry).diagnostics = stored
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*diagEntry).uri)
		}
	}

	c.entries[uri] = c.order.PushFront(&diagEntry{uri: uri, diagnostics: stored})
}

// Get returns a copy of the stored diagnostics for uri and marks it most
// recently used. The second result is false if uri is not present.
func (c *DiagnosticsCache) Get(uri string) ([]protocol.Diagnostic, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[uri]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)

	stored := elem.Value.(*diagEntry).diagnostics
	out := make([]protocol.Diagnostic, len(stored))
	copy(out, stored)
	return out, true
}

// Delete removes uri from the cache.
func (c *DiagnosticsCache) Delete(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[uri]; ok {
		c.order.Remove(elem)
		delete(c.entries, uri)
	}
}

// Clear removes every entry.
func (c *DiagnosticsCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// Len returns the number of cached documents.
func (c *DiagnosticsCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
