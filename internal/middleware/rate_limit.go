package middleware

import (
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"tripbook/pkg/limiter"
	"tripbook/pkg/log"
	"tripbook/pkg/utils"
)

// RateLimit applies a process-local token bucket shared by all clients.
// Used as a coarse ceiling on the whole API surface.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	l := limiter.NewTokenBucketLimiter(rate.Limit(rps), burst)
	return limitWith(l, func(c *gin.Context) string { return "global" })
}

// IPRateLimit applies a per-client-IP token bucket. Entries idle longer
// than ttl are evicted so the map cannot grow without bound.
func IPRateLimit(rps float64, burst int, ttl time.Duration) gin.HandlerFunc {
	type entry struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var mu sync.Mutex
	buckets := make(map[string]*entry)
	lastSweep := time.Now()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		if time.Since(lastSweep) > ttl {
			for k, e := range buckets {
				if time.Since(e.lastSeen) > ttl {
					delete(buckets, k)
				}
			}
			lastSweep = time.Now()
		}

		e, ok := buckets[ip]
		if !ok {
			e = &entry{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[ip] = e
		}
		e.lastSeen = time.Now()
		allowed := e.limiter.Allow()
		mu.Unlock()

		if !allowed {
			rejectRateLimited(c, ip)
			return
		}
		c.Next()
	}
}

// PaymentRateLimit limits payment routes per user with the redis sliding
// window, so the limit holds across instances. Money endpoints get the
// distributed limiter; browse endpoints make do with local buckets.
func PaymentRateLimit(l *limiter.SlidingWindowLimiter) gin.HandlerFunc {
	return limitWith(l, func(c *gin.Context) string {
		if id, ok := UserID(c); ok {
			return fmt.Sprintf("payment:user:%d", id)
		}
		return "payment:ip:" + c.ClientIP()
	})
}

func limitWith(l limiter.RateLimiter, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)

		allowed, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			// limiter backend down; let traffic through rather than
			// turning a redis outage into a full outage
			log.WithError(err).Warn("Rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		if !allowed {
			rejectRateLimited(c, key)
			return
		}
		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, key string) {
	log.WithFields(map[string]interface{}{
		"key":    key,
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"ip":     c.ClientIP(),
	}).Warn("Rate limit exceeded")

	c.Header("Retry-After", "1")
	utils.ErrorResponse(c, utils.CodeRateLimit, "Too many requests")
	c.Abort()
}
