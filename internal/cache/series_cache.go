package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/pkg/interfaces"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "series_set:"

// SeriesCacheEntry is the stored form of a cached SeriesSet.
type SeriesCacheEntry struct {
	Set      *models.SeriesSet `json:"set"`
	CachedAt time.Time         `json:"cached_at"`
}

// SeriesCacheStats tracks cache performance.
type SeriesCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// HitRate returns hits as a percentage of lookups.
func (s SeriesCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// RedisSeriesCache stores SeriesSets in Redis keyed by request.
type RedisSeriesCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger

	mu    sync.RWMutex
	stats SeriesCacheStats
}

// NewRedisSeriesCache creates a new Redis-backed series cache.
func NewRedisSeriesCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisSeriesCache {
	return &RedisSeriesCache{
		redis:  client,
		ttl:    ttl,
		logger: logging.OrDiscard(logger),
	}
}

// Key returns the cache key of a normalized request.
func Key(req interfaces.SeriesRequest) string {
	req = req.Normalized()
	until := "latest"
	if !req.Until.IsZero() {
		until = strconv.FormatInt(req.Until.Unix(), 10)
	}
	return fmt.Sprintf("%s%s:%d:%s", keyPrefix, strings.Join(req.Symbols, ","), req.Hours, until)
}

// Get returns the cached set for req. Redis and decoding failures count as misses.
func (c *RedisSeriesCache) Get(ctx context.Context, req interfaces.SeriesRequest) (*models.SeriesSet, bool) {
	key := Key(req)
	start := time.Now()

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("key", key).Warn("Redis error reading series cache")
		}
		c.record(func(s *SeriesCacheStats) { s.Misses++ })
		logging.LogCacheOperation(c.logger, "get", key, false, time.Since(start))
		return nil, false
	}

	var entry SeriesCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Set == nil {
		c.logger.WithField("key", key).Warn("Discarding undecodable series cache entry")
		c.record(func(s *SeriesCacheStats) { s.Misses++ })
		return nil, false
	}

	c.record(func(s *SeriesCacheStats) { s.Hits++ })
	logging.LogCacheOperation(c.logger, "get", key, true, time.Since(start))
	return entry.Set, true
}

// Set stores set under the key of req with the cache TTL.
func (c *RedisSeriesCache) Set(ctx context.Context, req interfaces.SeriesRequest, set *models.SeriesSet) error {
	key := Key(req)
	data, err := json.Marshal(SeriesCacheEntry{Set: set, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("error serializing series set: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("error caching series set: %w", err)
	}
	c.record(func(s *SeriesCacheStats) { s.Sets++ })
	return nil
}

// Clear removes every cached series set.
func (c *RedisSeriesCache) Clear(ctx context.Context) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing cache: %w", err)
	}
	c.logger.WithField("keys", len(keys)).Info("Cleared series cache")
	return nil
}

// GetStats returns a snapshot of the cache counters.
func (c *RedisSeriesCache) GetStats() SeriesCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *RedisSeriesCache) record(f func(*SeriesCacheStats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

// CachedSource serves requests from the cache and falls back to next.
type CachedSource struct {
	cache *RedisSeriesCache
	next  interfaces.SeriesSource
}

var _ interfaces.SeriesSource = (*CachedSource)(nil)

// NewCachedSource fronts next with cache.
func NewCachedSource(cache *RedisSeriesCache, next interfaces.SeriesSource) *CachedSource {
	return &CachedSource{cache: cache, next: next}
}

// LoadSeries implements interfaces.SeriesSource. A failed cache write is logged, not returned.
func (s *CachedSource) LoadSeries(ctx context.Context, req interfaces.SeriesRequest) (*models.SeriesSet, error) {
	if set, ok := s.cache.Get(ctx, req); ok {
		return set, nil
	}
	set, err := s.next.LoadSeries(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, req, set); err != nil {
		s.cache.logger.WithError(err).Warn("Failed to cache series set")
	}
	return set, nil
}
