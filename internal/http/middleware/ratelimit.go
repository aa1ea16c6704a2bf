// README: Per-client token-bucket rate limiting.
package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"foodcourt/internal/config"
)

type rateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	if l, ok := rl.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.rate, rl.burst)
	actual, _ := rl.limiters.LoadOrStore(key, l)
	return actual.(*rate.Limiter)
}

// RateLimit buckets by client IP. Disabled config short-circuits to a no-op.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	rl := &rateLimiter{rate: rate.Limit(cfg.Rate), burst: cfg.Burst}
	return func(c *gin.Context) {
		if !rl.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
