package core

import (
	"context"
	"time"
)

// Cache is the invalidation cache used by the API handlers: populate on first
// read, invalidate on write, lazily refetch on next read. Keys are logical
// resources, never request identities, so concurrent mutations from any
// source converge on the same invalidation.
type Cache interface {
	// Get unmarshals the cached value for key into dest and reports whether
	// the key was present.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	// Set stores a value under key with the given expiration.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// Invalidate removes key from the cache.
	Invalidate(ctx context.Context, key string) error
}

// Logical cache keys for the shared, server-owned resources.
const (
	CacheKeyAnomalies = "anomalies"
	CacheKeyLogFiles  = "log-files"

	cacheKeyAnomalyPrefix = "anomaly:"
)

// AnomalyCacheKey generates the cache key for a single anomaly record.
func AnomalyCacheKey(id string) string {
	return cacheKeyAnomalyPrefix + id
}
