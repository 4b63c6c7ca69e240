package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// rateLimiter is a token bucket per client key.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     float64
	rate    float64 // tokens per second
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(burst int, perMinute float64) *rateLimiter {
	if burst <= 0 {
		burst = 10
	}
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		max:     float64(burst),
		rate:    perMinute / 60.0,
		now:     time.Now,
	}
}

// allow takes one token for key, reporting false when the bucket is empty.
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.max, last: now}
		rl.buckets[key] = b
	}
	b.tokens += now.Sub(b.last).Seconds() * rl.rate
	if b.tokens > rl.max {
		b.tokens = rl.max
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	// A bucket that has refilled carries no state worth keeping.
	if len(rl.buckets) > 4096 {
		for k, other := range rl.buckets {
			if k != key && other.tokens+now.Sub(other.last).Seconds()*rl.rate >= rl.max {
				delete(rl.buckets, k)
			}
		}
	}
	return true
}

func rateLimit(rl *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
