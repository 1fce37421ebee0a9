package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

const latestKeyPrefix = "telemetry:latest:"

// offerLatest writes the reading only if it is newer in (ts, id) order than
// what the hash already holds. ARGV: ts, id, body, ttl in ms (0 keeps no expiry).
var offerLatest = redis.NewScript(`
local cur_ts = redis.call('HGET', KEYS[1], 'ts')
if cur_ts then
	local cur_id = tonumber(redis.call('HGET', KEYS[1], 'id'))
	local ts = tonumber(ARGV[1])
	local id = tonumber(ARGV[2])
	cur_ts = tonumber(cur_ts)
	if cur_ts > ts or (cur_ts == ts and cur_id >= id) then
		return 0
	end
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'id', ARGV[2], 'body', ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// RedisLatestCache keeps the newest reading per device in a Redis hash
type RedisLatestCache struct {
	redis *redis.Client
	ttl   time.Duration
}

var _ interfaces.LatestReadingCache = (*RedisLatestCache)(nil)

func NewRedisLatestCache(client *redis.Client, ttl time.Duration) *RedisLatestCache {
	return &RedisLatestCache{redis: client, ttl: ttl}
}

// OpenRedisLatestCache connects to addr and verifies the connection
func OpenRedisLatestCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisLatestCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("unable to ping Redis at %s: %w", addr, err)
	}
	return NewRedisLatestCache(rdb, ttl), nil
}

func latestKey(deviceID string) string {
	return latestKeyPrefix + deviceID
}

func (c *RedisLatestCache) Get(ctx context.Context, deviceID string) (*mqtmodels.TelemetryReading, error) {
	body, err := c.redis.HGet(ctx, latestKey(deviceID), "body").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var reading mqtmodels.TelemetryReading
	if err := json.Unmarshal([]byte(body), &reading); err != nil {
		return nil, fmt.Errorf("corrupt cache entry for %s: %w", deviceID, err)
	}
	return &reading, nil
}

func (c *RedisLatestCache) Offer(ctx context.Context, r mqtmodels.TelemetryReading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return offerLatest.Run(ctx, c.redis,
		[]string{latestKey(r.DeviceID)},
		strconv.FormatInt(r.Ts, 10),
		strconv.FormatInt(r.ID, 10),
		string(body),
		c.ttl.Milliseconds(),
	).Err()
}

func (c *RedisLatestCache) Invalidate(ctx context.Context, deviceID string) error {
	return c.redis.Del(ctx, latestKey(deviceID)).Err()
}

func (c *RedisLatestCache) Close() error {
	return c.redis.Close()
}

// CachedTelemetryRepository writes every stored reading through to a
// LatestReadingCache and serves LatestFor from it. Cache failures are logged
// and never fail the underlying operation.
//
// A device whose write-through failed is marked stale: LatestFor reads it
// from the store until a store-sourced Offer for it succeeds again.
type CachedTelemetryRepository struct {
	interfaces.TelemetryRepository
	cache  interfaces.LatestReadingCache
	logger *logger.Logger

	mu    sync.Mutex
	stale map[string]uint64 // device id -> generation of the last failed write-through
	gen   uint64
}

func NewCachedTelemetryRepository(inner interfaces.TelemetryRepository, cache interfaces.LatestReadingCache, log *logger.Logger) *CachedTelemetryRepository {
	return &CachedTelemetryRepository{
		TelemetryRepository: inner,
		cache:               cache,
		logger:              log.WithComponent("latest-cache"),
		stale:               make(map[string]uint64),
	}
}

func (r *CachedTelemetryRepository) markStale(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.stale[deviceID] = r.gen
}

// staleGeneration reports whether deviceID is stale and the generation that marked it
func (r *CachedTelemetryRepository) staleGeneration(deviceID string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.stale[deviceID]
	return g, ok
}

// clearStale only clears the mark if no write-through failed since gen was read
func (r *CachedTelemetryRepository) clearStale(deviceID string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stale[deviceID] == gen {
		delete(r.stale, deviceID)
	}
}

func (r *CachedTelemetryRepository) InsertTelemetry(ctx context.Context, deviceID string, ts int64, temperature, humidity float64) (*mqtmodels.TelemetryReading, error) {
	reading, err := r.TelemetryRepository.InsertTelemetry(ctx, deviceID, ts, temperature, humidity)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Offer(ctx, *reading); err != nil {
		r.markStale(deviceID)
		r.logger.Logger.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to update latest-reading cache")
		if err := r.cache.Invalidate(ctx, deviceID); err != nil {
			r.logger.Logger.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to invalidate latest-reading cache")
		}
	}
	return reading, nil
}

func (r *CachedTelemetryRepository) LatestFor(ctx context.Context, deviceID string) (*mqtmodels.TelemetryReading, error) {
	gen, stale := r.staleGeneration(deviceID)
	if !stale {
		cached, err := r.cache.Get(ctx, deviceID)
		if err != nil {
			r.logger.Logger.Warn().Err(err).Str("device_id", deviceID).Msg("Latest-reading cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	reading, err := r.TelemetryRepository.LatestFor(ctx, deviceID)
	if err != nil || reading == nil {
		return reading, err
	}
	if err := r.cache.Offer(ctx, *reading); err != nil {
		r.logger.Logger.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to populate latest-reading cache")
	} else if stale {
		r.clearStale(deviceID, gen)
	}
	return reading, nil
}

func (r *CachedTelemetryRepository) Close() error {
	return errors.Join(r.cache.Close(), r.TelemetryRepository.Close())
}
