package cache

import (
	"time"

	"github.com/wardenlabs/llm-warden/internal/scan"
)

// CachedVerdict is a stored scan result together with cache bookkeeping.
// It carries only audit-safe fields; the scanned text itself is never
// stored.
type CachedVerdict struct {
	Result   *scan.Result `json:"result"`
	CachedAt time.Time    `json:"cached_at"`
	TTL      int64        `json:"ttl"`
}

// LookupResult represents a cache lookup result
type LookupResult struct {
	Verdict  *CachedVerdict `json:"verdict"`
	CacheHit bool           `json:"cache_hit"`
}

// Stats represents cache performance statistics
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}
