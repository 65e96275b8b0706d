package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/irfndi/decoupling-detector/internal/analysis"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// PriceCacheStats tracks cache performance metrics
type PriceCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// HitRate returns hits as a percentage of lookups.
func (s PriceCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// PriceCache stores loaded price tables in Redis.
type PriceCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger logrus.FieldLogger

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// cachedTable is the JSON form of a PriceTable. Missing prices are null
// because JSON has no NaN.
type cachedTable struct {
	Timestamps []time.Time                     `json:"timestamps"`
	Assets     []analysis.AssetID              `json:"assets"`
	Prices     map[analysis.AssetID][]*float64 `json:"prices"`
	CachedAt   time.Time                       `json:"cached_at"`
}

// NewRedisPriceCache creates a new Redis-based price table cache
func NewRedisPriceCache(redisClient *redis.Client, ttl time.Duration, logger logrus.FieldLogger) *PriceCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PriceCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: "price_table:",
		logger: logger.WithField("component", "price_cache"),
	}
}

// Get returns the cached table for key. Redis and decoding errors count as
// misses.
func (c *PriceCache) Get(ctx context.Context, key string) (*analysis.PriceTable, bool) {
	data, err := c.redis.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("key", key).Warn("Redis error reading price table")
		}
		c.misses.Add(1)
		return nil, false
	}

	table, err := decodeTable(data)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Discarding undecodable cached price table")
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return table, true
}

// Set stores table under key for the cache TTL.
func (c *PriceCache) Set(ctx context.Context, key string, table *analysis.PriceTable) error {
	data, err := encodeTable(table, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache price table: %w", err)
	}
	c.sets.Add(1)
	return nil
}

// GetStats returns current cache statistics
func (c *PriceCache) GetStats() PriceCacheStats {
	return PriceCacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
	}
}

// Clear removes all cached price tables.
func (c *PriceCache) Clear(ctx context.Context) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
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
	return nil
}

func encodeTable(table *analysis.PriceTable, cachedAt time.Time) ([]byte, error) {
	prices := make(map[analysis.AssetID][]*float64, len(table.Assets))
	for _, asset := range table.Assets {
		column := make([]*float64, len(table.Prices[asset]))
		for i, p := range table.Prices[asset] {
			if math.IsNaN(p) || math.IsInf(p, 0) {
				continue
			}
			v := p
			column[i] = &v
		}
		prices[asset] = column
	}
	return json.Marshal(cachedTable{
		Timestamps: table.Timestamps,
		Assets:     table.Assets,
		Prices:     prices,
		CachedAt:   cachedAt,
	})
}

func decodeTable(data []byte) (*analysis.PriceTable, error) {
	var entry cachedTable
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	prices := make(map[analysis.AssetID][]float64, len(entry.Assets))
	for _, asset := range entry.Assets {
		column := make([]float64, len(entry.Prices[asset]))
		for i, p := range entry.Prices[asset] {
			if p == nil {
				column[i] = math.NaN()
			} else {
				column[i] = *p
			}
		}
		prices[asset] = column
	}
	return analysis.NewPriceTable(entry.Timestamps, entry.Assets, prices)
}

// PriceLoader loads price tables; database.PriceRepository implements it.
type PriceLoader interface {
	LoadPriceTable(ctx context.Context, assets []analysis.AssetID, lookbackDays int, now time.Time) (*analysis.PriceTable, error)
}

// CachedSource serves price tables from the cache and falls back to the
// wrapped loader on a miss. Requests whose now falls in the same bucket
// share an entry.
type CachedSource struct {
	source PriceLoader
	cache  *PriceCache
	bucket time.Duration
}

// NewCachedSource wraps source. A bucket of zero keys entries by the minute.
func NewCachedSource(source PriceLoader, cache *PriceCache, bucket time.Duration) *CachedSource {
	if bucket <= 0 {
		bucket = time.Minute
	}
	return &CachedSource{source: source, cache: cache, bucket: bucket}
}

func (s *CachedSource) LoadPriceTable(ctx context.Context, assets []analysis.AssetID, lookbackDays int, now time.Time) (*analysis.PriceTable, error) {
	key := CacheKey(assets, lookbackDays, now, s.bucket)
	if table, ok := s.cache.Get(ctx, key); ok {
		return table, nil
	}

	table, err := s.source.LoadPriceTable(ctx, assets, lookbackDays, now)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, table); err != nil {
		s.cache.logger.WithError(err).Warn("Serving uncached price table")
	}
	return table, nil
}

// CacheKey identifies a price load. Asset order is part of the key because
// it is the column order of the table.
func CacheKey(assets []analysis.AssetID, lookbackDays int, now time.Time, bucket time.Duration) string {
	names := make([]string, len(assets))
	for i, asset := range assets {
		names[i] = string(asset)
	}
	return fmt.Sprintf("%s:%d:%d", strings.Join(names, ","), lookbackDays, now.UTC().Truncate(bucket).Unix())
}
