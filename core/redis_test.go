package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRedisCache(t *testing.T) *RedisCache {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "Failed to start miniredis")
	t.Cleanup(mr.Close)

	cache := NewRedisCache(mr.Addr(), "", 0, 10, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestRedisCache_SetGet(t *testing.T) {
	cache := newTestRedisCache(t)
	ctx := context.Background()

	anomalies := []Anomaly{
		{ID: "a1", AnomalyType: "suspicious_access", RiskScore: 8.1, Status: StatusPending},
		{ID: "a2", AnomalyType: "malware_detection", RiskScore: 9.6, Status: StatusConfirmed},
	}

	require.NoError(t, cache.Set(ctx, CacheKeyAnomalies, anomalies, time.Minute))

	var got []Anomaly
	found, err := cache.Get(ctx, CacheKeyAnomalies, &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, 9.6, got[1].RiskScore)
}

func TestRedisCache_Get_Miss(t *testing.T) {
	cache := newTestRedisCache(t)

	var dest []Anomaly
	found, err := cache.Get(context.Background(), "absent", &dest)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_Invalidate(t *testing.T) {
	cache := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, CacheKeyLogFiles, []LogFile{{ID: "f1"}}, time.Minute))
	require.NoError(t, cache.Invalidate(ctx, CacheKeyLogFiles))

	var dest []LogFile
	found, err := cache.Get(ctx, CacheKeyLogFiles, &dest)
	require.NoError(t, err)
	assert.False(t, found, "invalidated key must read as a miss")
}

func TestMemoryCache_SetGetInvalidate(t *testing.T) {
	cache, err := NewMemoryCache(16)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, AnomalyCacheKey("a1"), Anomaly{ID: "a1", RiskScore: 5.5}, time.Minute))

	var got Anomaly
	found, err := cache.Get(ctx, AnomalyCacheKey("a1"), &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 5.5, got.RiskScore)

	require.NoError(t, cache.Invalidate(ctx, AnomalyCacheKey("a1")))
	found, err = cache.Get(ctx, AnomalyCacheKey("a1"), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_Expiry(t *testing.T) {
	cache, err := NewMemoryCache(16)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "short-lived", LogFile{ID: "f1"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var dest LogFile
	found, err := cache.Get(ctx, "short-lived", &dest)
	require.NoError(t, err)
	assert.False(t, found, "expired entry must read as a miss")
}
