package scan

import (
	"crypto/sha256"
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cohortCacheSize bounds the bucket cache; assignment is cheap to recompute
// on eviction.
const cohortCacheSize = 65536

// CohortAssigner deterministically buckets keys for gradual rollout. The same
// key always lands in the same bucket, so a customer flips into a rollout
// exactly once as the percentage grows. Assignment is side-effect-free; the
// cache only avoids rehashing hot keys and is safe for concurrent use.
type CohortAssigner struct {
	buckets *lru.Cache[string, int]
}

// NewCohortAssigner creates the assigner with an empty bucket cache.
func NewCohortAssigner() (*CohortAssigner, error) {
	cache, err := lru.New[string, int](cohortCacheSize)
	if err != nil {
		return nil, err
	}
	return &CohortAssigner{buckets: cache}, nil
}

// Bucket returns the stable 0-99 bucket for key.
func (c *CohortAssigner) Bucket(key string) int {
	if b, ok := c.buckets.Get(key); ok {
		return b
	}
	sum := sha256.Sum256([]byte(key))
	b := int(binary.BigEndian.Uint64(sum[:8]) % 100)
	c.buckets.Add(key, b)
	return b
}

// Enabled reports whether key falls inside a rollout of percent (0-100).
// percent <= 0 disables everyone, percent >= 100 enables everyone; an empty
// key is never enrolled (no stable identity to bucket).
func (c *CohortAssigner) Enabled(key string, percent int) bool {
	if percent <= 0 {
		return false
	}
	if percent >= 100 {
		return true
	}
	if key == "" {
		return false
	}
	return c.Bucket(key) < percent
}
