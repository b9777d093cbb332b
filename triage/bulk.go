package triage

import (
	"context"
	"errors"
	"sync"

	"logguard/core"
)

// ErrBulkInFlight rejects a second bulk update while one is outstanding.
var ErrBulkInFlight = errors.New("a bulk update is already in flight")

// BulkClient is the slice of the API client the coordinator needs.
type BulkClient interface {
	BulkUpdate(ctx context.Context, ids []string, status string) (int, error)
}

// BulkUpdater coordinates batched status updates over a selection. The
// re-entrancy guard is an explicit state transition, not a UI affordance: a
// concurrent call fails with ErrBulkInFlight regardless of who asked.
type BulkUpdater struct {
	client    BulkClient
	selection *Selection
	cache     core.Cache

	mu      sync.Mutex
	running bool
}

// NewBulkUpdater wires the coordinator. cache may be nil.
func NewBulkUpdater(client BulkClient, selection *Selection, cache core.Cache) *BulkUpdater {
	return &BulkUpdater{client: client, selection: selection, cache: cache}
}

// Running reports whether an update is in flight.
func (b *BulkUpdater) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Run issues one batched update for the current selection. Empty selection is
// a no-op with no network call. On success the selection is cleared and the
// anomaly list cache invalidated; on failure the selection is preserved so
// the analyst can retry.
func (b *BulkUpdater) Run(ctx context.Context, status string) (int, error) {
	ids := b.selection.IDs()
	if len(ids) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return 0, ErrBulkInFlight
	}
	b.running = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	updated, err := b.client.BulkUpdate(ctx, ids, status)
	if err != nil {
		return 0, err
	}

	b.selection.ClearAll()
	if b.cache != nil {
		_ = b.cache.Invalidate(ctx, core.CacheKeyAnomalies)
	}
	return updated, nil
}
