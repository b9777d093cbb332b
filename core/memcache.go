package core

import (
	"context"
	"time"

	"logguard/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// memEntry is one stored cache value with its expiry deadline.
type memEntry struct {
	data    []byte
	expires time.Time
}

// MemoryCache is the in-process implementation of Cache, backed by an LRU so
// a deployment without Redis still gets the invalidation semantics. Entries
// carry their own TTL and are dropped lazily on read.
type MemoryCache struct {
	entries *lru.Cache[string, memEntry]
}

// NewMemoryCache creates an in-process cache holding at most size entries.
func NewMemoryCache(size int) (*MemoryCache, error) {
	entries, err := lru.New[string, memEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{entries: entries}, nil
}

// Set stores a value under key with the given expiration.
func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("memory", "marshal").Inc()
		return err
	}
	mc.entries.Add(key, memEntry{data: data, expires: time.Now().Add(expiration)})
	return nil
}

// Get unmarshals the cached value for key into dest.
func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	entry, ok := mc.entries.Get(key)
	if !ok {
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return false, nil
	}
	if time.Now().After(entry.expires) {
		mc.entries.Remove(key)
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return false, nil
	}
	if err := msgpack.Unmarshal(entry.data, dest); err != nil {
		metrics.CacheErrors.WithLabelValues("memory", "unmarshal").Inc()
		return false, err
	}
	metrics.CacheHits.WithLabelValues("memory").Inc()
	return true, nil
}

// Invalidate removes key from the cache.
func (mc *MemoryCache) Invalidate(_ context.Context, key string) error {
	mc.entries.Remove(key)
	return nil
}

// Purge drops every entry.
func (mc *MemoryCache) Purge() {
	mc.entries.Purge()
}
