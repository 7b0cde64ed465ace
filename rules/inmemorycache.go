package rules

import (
	"sync"
	"time"
)

type cachedSnapshot struct {
	rules    []Rule
	cachedAt time.Time
}

// InMemorySnapshotCache is a map-backed SnapshotCache.
// Thread-safe for concurrent access
type InMemorySnapshotCache struct {
	entries map[string]cachedSnapshot
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemorySnapshotCache creates a new in-memory snapshot cache
func NewInMemorySnapshotCache(config CacheConfig) *InMemorySnapshotCache {
	return &InMemorySnapshotCache{
		entries: make(map[string]cachedSnapshot),
		config:  config,
	}
}

// Get returns a copy of the cached snapshot
func (c *InMemorySnapshotCache) Get(group string) ([]Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[group]
	if !ok {
		return nil, false
	}

	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil, false
	}

	// Return copy to prevent external modifications
	out := make([]Rule, len(entry.rules))
	copy(out, entry.rules)
	return out, true
}

// Set stores a copy of snapshot for group
func (c *InMemorySnapshotCache) Set(group string, snapshot []Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]Rule, len(snapshot))
	copy(stored, snapshot)
	c.entries[group] = cachedSnapshot{rules: stored, cachedAt: time.Now()}
}

// Invalidate drops the snapshot for group
func (c *InMemorySnapshotCache) Invalidate(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, group)
}

// InvalidateAll clears the cache
func (c *InMemorySnapshotCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cachedSnapshot)
}
