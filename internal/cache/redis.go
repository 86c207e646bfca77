package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/wardenlabs/llm-warden/internal/scan"
)

// VerdictCache handles Redis-based caching for scan verdicts. Identical
// content scanned under the same resolved policy and rule pack version
// gets the cached result instead of a fresh pipeline run. Cache failures
// are never fatal: lookups report a miss and scans proceed uncached.
type VerdictCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// NewVerdictCache creates a new Redis-based verdict cache
func NewVerdictCache(config *Config, logger *zap.Logger) (*VerdictCache, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	cache := &VerdictCache{
		client: client,
		config: config,
		logger: logger,
		stats:  &cacheStats{},
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Verdict cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// ping tests the Redis connection
func (vc *VerdictCache) ping(ctx context.Context) error {
	_, err := vc.client.Ping(ctx).Result()
	return err
}

// Lookup fetches a cached verdict for (content hash, policy id, rules
// version). A Redis error is logged and reported as a miss.
func (vc *VerdictCache) Lookup(ctx context.Context, contentHash, policyID, rulesVersion string) (*LookupResult, error) {
	start := time.Now()
	cacheKey := vc.verdictKey(contentHash, policyID, rulesVersion)

	cachedData, err := vc.client.Get(ctx, cacheKey).Result()
	if err == redis.Nil {
		// Cache miss
		vc.stats.misses.Add(1)
		vc.logger.Debug("Cache miss", zap.String("key", cacheKey))
		return &LookupResult{CacheHit: false}, nil
	} else if err != nil {
		vc.logger.Error("Cache lookup failed", zap.Error(err))
		return &LookupResult{CacheHit: false}, nil
	}

	var verdict CachedVerdict
	if err := json.Unmarshal([]byte(cachedData), &verdict); err != nil {
		vc.logger.Error("Failed to unmarshal cached verdict", zap.Error(err))
		// Delete corrupted cache entry
		vc.client.Del(ctx, cacheKey)
		return &LookupResult{CacheHit: false}, nil
	}

	vc.stats.hits.Add(1)
	vc.logger.Debug("Cache hit",
		zap.String("key", cacheKey),
		zap.Duration("duration", time.Since(start)))

	return &LookupResult{Verdict: &verdict, CacheHit: true}, nil
}

// Store caches a scan result under its content hash and policy context.
func (vc *VerdictCache) Store(ctx context.Context, policyID, rulesVersion string, result *scan.Result) error {
	cacheKey := vc.verdictKey(result.ContentHash, policyID, rulesVersion)

	verdict := CachedVerdict{
		Result:   result,
		CachedAt: time.Now(),
		TTL:      int64(vc.config.DefaultTTL.Seconds()),
	}

	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict for caching: %w", err)
	}

	if err := vc.client.Set(ctx, cacheKey, data, vc.config.DefaultTTL).Err(); err != nil {
		vc.logger.Error("Failed to cache verdict", zap.Error(err))
		return fmt.Errorf("failed to cache verdict: %w", err)
	}

	vc.logger.Debug("Verdict cached successfully",
		zap.String("key", cacheKey),
		zap.Bool("should_block", result.ShouldBlock))

	return nil
}

// GetStats returns cache performance statistics
func (vc *VerdictCache) GetStats(ctx context.Context) (*Stats, error) {
	// Get Redis info
	info, err := vc.client.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &Stats{
		Hits:   vc.stats.hits.Load(),
		Misses: vc.stats.misses.Load(),
	}

	// Calculate hit rate
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	// Parse memory usage from Redis info
	lines := strings.Split(info, "\r\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "used_memory:") {
			if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != "" {
				if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
					stats.MemoryUsage = mem
				}
			}
		}
	}

	// Get total keys count
	keys, err := vc.client.DBSize(ctx).Result()
	if err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached verdicts
func (vc *VerdictCache) Clear(ctx context.Context) error {
	pattern := vc.config.KeyPrefix + "*"

	// Use SCAN to find all keys with our prefix
	iter := vc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := vc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			vc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	vc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (vc *VerdictCache) Close() error {
	if vc.client != nil {
		return vc.client.Close()
	}
	return nil
}

func (vc *VerdictCache) verdictKey(contentHash, policyID, rulesVersion string) string {
	return fmt.Sprintf("%s:verdict:%s:%s:%s", vc.config.KeyPrefix, contentHash, policyID, rulesVersion)
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
