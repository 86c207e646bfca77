package server

import (
	"sync"
	"testing"
	"time"

	"github.com/wardenlabs/llm-warden/internal/config"
)

func TestRateLimiter(t *testing.T) {
	t.Run("DisabledAllowsEverything", func(t *testing.T) {
		rl := newRateLimiter(config.RateLimitConfig{Enabled: false})
		for i := 0; i < 100; i++ {
			if !rl.allow("10.0.0.1") {
				t.Fatal("Disabled limiter rejected a request")
			}
		}
	})

	t.Run("BurstExhausts", func(t *testing.T) {
		rl := newRateLimiter(config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 0.001,
			Burst:             2,
		})
		if !rl.allow("10.0.0.1") || !rl.allow("10.0.0.1") {
			t.Fatal("Requests within burst rejected")
		}
		if rl.allow("10.0.0.1") {
			t.Error("Request beyond burst allowed")
		}
	})

	t.Run("ClientsAreIndependent", func(t *testing.T) {
		rl := newRateLimiter(config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 0.001,
			Burst:             1,
		})
		if !rl.allow("10.0.0.1") {
			t.Fatal("First request rejected")
		}
		if rl.allow("10.0.0.1") {
			t.Error("Exhausted client allowed")
		}
		if !rl.allow("10.0.0.2") {
			t.Error("Fresh client rejected by another client's bucket")
		}
	})

	t.Run("ConcurrentSameClient", func(t *testing.T) {
		rl := newRateLimiter(config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 1000,
			Burst:             1000,
			ClientTTL:         time.Minute,
		})

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					rl.allow("10.0.0.1")
				}
			}()
		}
		wg.Wait()

		rl.mu.RLock()
		defer rl.mu.RUnlock()
		if len(rl.clients) != 1 {
			t.Errorf("clients = %d, want 1", len(rl.clients))
		}
	})

	t.Run("LastSeenRefreshesOnHit", func(t *testing.T) {
		rl := newRateLimiter(config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 100,
			Burst:             100,
		})
		rl.allow("10.0.0.1")
		c := rl.getClient("10.0.0.1")
		first := c.lastSeen.Load()

		time.Sleep(time.Millisecond)
		rl.allow("10.0.0.1")
		if c.lastSeen.Load() <= first {
			t.Error("lastSeen not refreshed on the read-locked fast path")
		}
	})
}
