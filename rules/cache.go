package rules

import "time"

// SnapshotCache caches the ordered rule list of each group.
// This allows swapping the in-memory implementation for a shared one later.
type SnapshotCache interface {
	// Get returns the cached snapshot for group, or false on a miss or expiry
	Get(group string) ([]Rule, bool)

	// Set stores a snapshot for group
	Set(group string, snapshot []Rule)

	// Invalidate drops the snapshot of a single group
	Invalidate(group string)

	// InvalidateAll drops every snapshot
	InvalidateAll()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached snapshots.
	// Set to 0 for no expiration (invalidate on mutation only)
	TTL time.Duration
}

// DefaultCacheConfig returns the configuration used by NewStore
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
