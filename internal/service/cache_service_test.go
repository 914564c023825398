package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
)

type brokenCacheRepo struct{ stubCacheRepo }

func (brokenCacheRepo) Get(context.Context, string, interface{}) error {
	return errors.New("connection refused")
}

func TestCacheServiceDisabledIsAlwaysMiss(t *testing.T) {
	var nilCache *CacheService
	hit, err := nilCache.Get(context.Background(), "dash:admin:a1", &struct{}{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, nilCache.Set(context.Background(), "k", 1, 0))
	nilCache.InvalidateDashboards(context.Background())

	off := NewCacheService(&stubCacheRepo{}, nil, time.Minute, nil, false)
	assert.False(t, off.Enabled())
}

func TestCacheServiceCountsLookups(t *testing.T) {
	metrics := NewMetricsService()
	cache := NewCacheService(&stubCacheRepo{}, metrics, time.Minute, zap.NewNop(), true)
	ctx := context.Background()
	key := DashboardKey(models.RoleStudent, "s1")
	assert.Equal(t, "dash:student:s1", key)

	var out map[string]int
	hit, err := cache.Get(ctx, key, &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, key, map[string]int{"courses": 3}, 0))
	hit, err = cache.Get(ctx, key, &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 3, out["courses"])

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
	assert.InDelta(t, 0.5, snap.CacheHitRatio, 1e-9)
}

func TestCacheServiceSurfacesRedisErrors(t *testing.T) {
	cache := NewCacheService(&brokenCacheRepo{}, nil, time.Minute, zap.NewNop(), true)
	hit, err := cache.Get(context.Background(), "analytics:data", &struct{}{})
	assert.False(t, hit)
	assert.EqualError(t, err, "connection refused")
}

func TestKeyspace(t *testing.T) {
	assert.Equal(t, "dash", keyspace("dash:teacher:t1"))
	assert.Equal(t, "plain", keyspace("plain"))
}
