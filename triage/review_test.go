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

type stubReviewClient struct {
	calls      int
	lastID     string
	lastUpdate core.AnomalyUpdate
	err        error
}

func (c *stubReviewClient) UpdateAnomaly(ctx context.Context, id string, update core.AnomalyUpdate) (*core.Anomaly, error) {
	c.calls++
	c.lastID = id
	c.lastUpdate = update
	if c.err != nil {
		return nil, c.err
	}
	status := core.StatusPending
	if update.Status != nil {
		status = *update.Status
	}
	return &core.Anomaly{ID: id, Status: status}, nil
}

func TestReviewFormRequiresStatus(t *testing.T) {
	client := &stubReviewClient{}
	form := NewReviewForm("a-1")
	form.SetNotes("looked at the raw entry, seems real")

	_, err := form.Submit(context.Background(), client, nil)

	assert.ErrorIs(t, err, ErrStatusRequired)
	assert.Equal(t, 0, client.calls, "no network call without a chosen status")
}

func TestReviewFormRejectsUnknownValues(t *testing.T) {
	form := NewReviewForm("a-1")
	assert.Error(t, form.SetStatus("bogus"))
	assert.Error(t, form.SetPriority("urgent"))
	assert.False(t, form.Ready())
}

func TestReviewFormSendsOnlyChangedFields(t *testing.T) {
	client := &stubReviewClient{}
	cache, err := core.NewMemoryCache(16)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, core.CacheKeyAnomalies, []core.Anomaly{{ID: "a-1"}}, 0))

	form := NewReviewForm("a-1")
	require.NoError(t, form.SetStatus(core.StatusConfirmed))
	form.SetNotes("correlates with the firewall drop at 12:00")

	updated, err := form.Submit(ctx, client, cache)

	require.NoError(t, err)
	assert.Equal(t, core.StatusConfirmed, updated.Status)
	assert.Equal(t, "a-1", client.lastID)
	require.NotNil(t, client.lastUpdate.Status)
	require.NotNil(t, client.lastUpdate.AnalystNotes)
	assert.Nil(t, client.lastUpdate.Priority, "untouched fields stay off the wire")
	require.NotNil(t, client.lastUpdate.ReviewedAt)
	assert.WithinDuration(t, time.Now().UTC(), *client.lastUpdate.ReviewedAt, time.Minute)

	var cached []core.Anomaly
	found, err := cache.Get(ctx, core.CacheKeyAnomalies, &cached)
	require.NoError(t, err)
	assert.False(t, found, "anomaly list cache invalidated on success")
}

func TestReviewFormFailurePreservesEntries(t *testing.T) {
	client := &stubReviewClient{err: errors.New("backend unavailable")}
	ctx := context.Background()

	form := NewReviewForm("a-1")
	require.NoError(t, form.SetStatus(core.StatusFalsePositive))
	require.NoError(t, form.SetPriority(core.PriorityLow))
	form.SetNotes("scanner traffic from the QA subnet")

	_, err := form.Submit(ctx, client, nil)
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)

	// Nothing entered is lost on failure.
	assert.Equal(t, core.StatusFalsePositive, form.Status())
	assert.Equal(t, core.PriorityLow, form.Priority())
	assert.Equal(t, "scanner traffic from the QA subnet", form.Notes())

	// A retry resends the same edits.
	client.err = nil
	updated, err := form.Submit(ctx, client, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	assert.Equal(t, core.StatusFalsePositive, updated.Status)
	require.NotNil(t, client.lastUpdate.AnalystNotes)
	assert.Equal(t, "scanner traffic from the QA subnet", *client.lastUpdate.AnalystNotes)
}
