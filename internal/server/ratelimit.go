package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/wardenlabs/llm-warden/internal/config"
)

// rateLimiter tracks a token bucket per client IP. Idle clients are
// evicted periodically so the map does not grow without bound.
type rateLimiter struct {
	cfg     config.RateLimitConfig
	mu      sync.RWMutex
	clients map[string]*clientLimiter
	done    chan struct{}
}

type clientLimiter struct {
	limiter *rate.Limiter
	// lastSeen holds unix nanos; atomic so the read-locked fast path can
	// refresh it without racing concurrent requests from the same client.
	lastSeen atomic.Int64
}

func (c *clientLimiter) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func newRateLimiter(cfg config.RateLimitConfig) *rateLimiter {
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = 10 * time.Minute
	}
	return &rateLimiter{
		cfg:     cfg,
		clients: make(map[string]*clientLimiter),
		done:    make(chan struct{}),
	}
}

// allow reports whether a request from clientIP may proceed.
func (rl *rateLimiter) allow(clientIP string) bool {
	if !rl.cfg.Enabled {
		return true
	}
	return rl.getClient(clientIP).limiter.Allow()
}

func (rl *rateLimiter) getClient(clientIP string) *clientLimiter {
	rl.mu.RLock()
	c, exists := rl.clients[clientIP]
	rl.mu.RUnlock()

	if exists {
		c.touch()
		return c
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if c, exists := rl.clients[clientIP]; exists {
		c.touch()
		return c
	}

	c = &clientLimiter{
		limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
	}
	c.touch()
	rl.clients[clientIP] = c
	return c
}

// runCleanup evicts clients idle longer than ClientTTL.
func (rl *rateLimiter) runCleanup() {
	ticker := time.NewTicker(rl.cfg.ClientTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.cfg.ClientTTL).UnixNano()
			rl.mu.Lock()
			for ip, c := range rl.clients {
				if c.lastSeen.Load() < cutoff {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	select {
	case <-rl.done:
	default:
		close(rl.done)
	}
}
