package implementation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisLatestCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := NewRedisLatestCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestRedisLatestCache_OfferKeepsNewest(t *testing.T) {
	cache, mr := newTestCache(t, time.Hour)
	ctx := context.Background()

	miss, err := cache.Get(ctx, "d")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, cache.Offer(ctx, mqtmodels.TelemetryReading{ID: 5, DeviceID: "d", Ts: 200, Temperature: 20}))
	require.NoError(t, cache.Offer(ctx, mqtmodels.TelemetryReading{ID: 6, DeviceID: "d", Ts: 100, Temperature: 10}))
	require.NoError(t, cache.Offer(ctx, mqtmodels.TelemetryReading{ID: 4, DeviceID: "d", Ts: 200, Temperature: 19}))

	got, err := cache.Get(ctx, "d")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(5), got.ID)
	assert.Equal(t, 20.0, got.Temperature)

	require.NoError(t, cache.Offer(ctx, mqtmodels.TelemetryReading{ID: 7, DeviceID: "d", Ts: 200, Temperature: 21}))
	got, err = cache.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)

	assert.True(t, mr.Exists(latestKeyPrefix+"d"))
	assert.Greater(t, mr.TTL(latestKeyPrefix+"d"), time.Duration(0))

	mr.FastForward(2 * time.Hour)
	got, err = cache.Get(ctx, "d")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCachedTelemetryRepository(t *testing.T) {
	cache, mr := newTestCache(t, time.Hour)
	repo := NewCachedTelemetryRepository(newTestRepo(t), cache, logger.NewNop())
	ctx := context.Background()

	first, err := repo.InsertTelemetry(ctx, "d", 100, 1, 1)
	require.NoError(t, err)
	assert.True(t, mr.Exists(latestKeyPrefix+"d"), "insert writes through")

	_, err = repo.InsertTelemetry(ctx, "d", 50, 2, 2)
	require.NoError(t, err)

	latest, err := repo.LatestFor(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID, "older reading must not replace cached latest")

	mr.FlushAll()
	latest, err = repo.LatestFor(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID, "miss falls back to the store")
	assert.True(t, mr.Exists(latestKeyPrefix+"d"), "miss repopulates the cache")

	none, err := repo.LatestFor(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (*mqtmodels.TelemetryReading, error) {
	return nil, errors.New("cache down")
}
func (brokenCache) Offer(context.Context, mqtmodels.TelemetryReading) error {
	return errors.New("cache down")
}
func (brokenCache) Invalidate(context.Context, string) error {
	return errors.New("cache down")
}
func (brokenCache) Close() error { return nil }

func TestCachedTelemetryRepository_CacheFailuresAreIgnored(t *testing.T) {
	repo := NewCachedTelemetryRepository(newTestRepo(t), brokenCache{}, logger.NewNop())
	ctx := context.Background()

	inserted, err := repo.InsertTelemetry(ctx, "d", 100, 1, 1)
	require.NoError(t, err)

	latest, err := repo.LatestFor(ctx, "d")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, inserted.ID, latest.ID)
}

func TestCachedTelemetryRepository_FailedWriteThroughIsNotServed(t *testing.T) {
	cache, mr := newTestCache(t, time.Hour)
	repo := NewCachedTelemetryRepository(newTestRepo(t), cache, logger.NewNop())
	ctx := context.Background()

	_, err := repo.InsertTelemetry(ctx, "d", 100, 1, 1)
	require.NoError(t, err)

	mr.SetError("ERR cache unavailable")
	newer, err := repo.InsertTelemetry(ctx, "d", 200, 2, 2)
	require.NoError(t, err, "cache outage never fails the insert")
	mr.SetError("")

	// the stale entry survived because the invalidation failed too
	stored, err := cache.Get(ctx, "d")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(100), stored.Ts)

	latest, err := repo.LatestFor(ctx, "d")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newer.ID, latest.ID)
	assert.Equal(t, int64(200), latest.Ts)

	// the store read repaired the cache, so it is served from Redis again
	repaired, err := cache.Get(ctx, "d")
	require.NoError(t, err)
	require.NotNil(t, repaired)
	assert.Equal(t, int64(200), repaired.Ts)
	_, stale := repo.staleGeneration("d")
	assert.False(t, stale)
}

func TestCachedTelemetryRepository_OutOfOrderInsertAfterFailureStaysStale(t *testing.T) {
	cache, mr := newTestCache(t, time.Hour)
	repo := NewCachedTelemetryRepository(newTestRepo(t), cache, logger.NewNop())
	ctx := context.Background()

	mr.SetError("ERR cache unavailable")
	_, err := repo.InsertTelemetry(ctx, "d", 300, 3, 3)
	require.NoError(t, err)
	mr.SetError("")

	// an older reading written through successfully must not hide ts=300
	_, err = repo.InsertTelemetry(ctx, "d", 200, 2, 2)
	require.NoError(t, err)

	latest, err := repo.LatestFor(ctx, "d")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(300), latest.Ts)
}

func TestCachedTelemetryRepository_FailureDuringRefreshKeepsMark(t *testing.T) {
	repo := NewCachedTelemetryRepository(newTestRepo(t), brokenCache{}, logger.NewNop())

	repo.markStale("d")
	gen, _ := repo.staleGeneration("d")
	repo.markStale("d")
	repo.clearStale("d", gen)

	_, stale := repo.staleGeneration("d")
	assert.True(t, stale, "a newer failure keeps the device stale")
}
