package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logguard/core"
)

// stubBulkClient counts calls and records the last batch it received.
type stubBulkClient struct {
	calls   int
	lastIDs []string
	status  string
	err     error
	block   chan struct{}
}

func (s *stubBulkClient) BulkUpdate(ctx context.Context, ids []string, status string) (int, error) {
	s.calls++
	s.lastIDs = ids
	s.status = status
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return 0, s.err
	}
	return len(ids), nil
}

func TestBulkUpdaterEmptySelectionIsNoOp(t *testing.T) {
	client := &stubBulkClient{}
	updater := NewBulkUpdater(client, NewSelection(), nil)

	updated, err := updater.Run(context.Background(), core.StatusConfirmed)

	require.NoError(t, err)
	assert.Equal(t, 0, updated)
	assert.Equal(t, 0, client.calls, "empty selection must not hit the network")
}

func TestBulkUpdaterSuccessClearsSelection(t *testing.T) {
	client := &stubBulkClient{}
	selection := NewSelection()
	selection.SelectAll([]string{"a-1", "a-2", "a-3"})
	cache, err := core.NewMemoryCache(8)
	require.NoError(t, err)
	require.NoError(t, cache.Set(context.Background(), core.CacheKeyAnomalies, []string{"stale"}, 0))

	updater := NewBulkUpdater(client, selection, cache)
	updated, err := updater.Run(context.Background(), core.StatusConfirmed)

	require.NoError(t, err)
	assert.Equal(t, 3, updated)
	assert.Equal(t, 1, client.calls, "one batched request for the whole selection")
	assert.Equal(t, []string{"a-1", "a-2", "a-3"}, client.lastIDs)
	assert.Equal(t, core.StatusConfirmed, client.status)
	assert.Equal(t, 0, selection.Count(), "selection clears after a successful batch")

	var dest []string
	found, err := cache.Get(context.Background(), core.CacheKeyAnomalies, &dest)
	require.NoError(t, err)
	assert.False(t, found, "anomaly list cache invalidated")
}

func TestBulkUpdaterFailurePreservesSelection(t *testing.T) {
	client := &stubBulkClient{err: errors.New("boom")}
	selection := NewSelection()
	selection.SelectAll([]string{"a-1", "a-2"})

	updater := NewBulkUpdater(client, selection, nil)
	_, err := updater.Run(context.Background(), core.StatusDismissed)

	require.Error(t, err)
	assert.Equal(t, 2, selection.Count(), "failed batch keeps the selection for retry")
}

func TestBulkUpdaterRejectsConcurrentRun(t *testing.T) {
	client := &stubBulkClient{block: make(chan struct{})}
	selection := NewSelection()
	selection.SelectAll([]string{"a-1"})
	updater := NewBulkUpdater(client, selection, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = updater.Run(context.Background(), core.StatusConfirmed)
	}()

	require.Eventually(t, updater.Running, time.Second, 5*time.Millisecond)

	_, err := updater.Run(context.Background(), core.StatusConfirmed)
	assert.ErrorIs(t, err, ErrBulkInFlight)

	close(client.block)
	<-done
	assert.False(t, updater.Running())
}
