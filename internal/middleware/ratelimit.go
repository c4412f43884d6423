package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/pkg/logger"
	"github.com/huangang/tracer/pkg/response"
	"golang.org/x/time/rate"
)

const (
	limiterIdle  = 5 * time.Minute
	limiterSweep = 3 * time.Minute
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// ClientIPKey buckets requests by client address.
func ClientIPKey(c *gin.Context) string { return c.ClientIP() }

// UserKey buckets authenticated requests by user and falls back to the address.
func UserKey(c *gin.Context) string {
	if id := GetUserID(c); id > 0 {
		return "user:" + strconv.FormatUint(uint64(id), 10)
	}
	return "ip:" + c.ClientIP()
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per key.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	rps      rate.Limit
	burst    int
	key      KeyFunc
	name     string
	now      func() time.Time
}

// NewRateLimiter creates a limiter keyed by client IP.
// rps is the allowed requests per second; burst is the max burst size.
func NewRateLimiter(name string, rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*keyedLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		key:      ClientIPKey,
		name:     name,
		now:      time.Now,
	}
}

// WithKey replaces the bucket key function.
func (rl *RateLimiter) WithKey(fn KeyFunc) *RateLimiter {
	rl.key = fn
	return rl
}

// Run sweeps idle buckets until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for k, v := range rl.limiters {
		if rl.now().Sub(v.lastSeen) > limiterIdle {
			delete(rl.limiters, k)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.limiters[key]
	if !exists {
		v = &keyedLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Middleware enforces the limit and answers 429 when a bucket is empty.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.key(c)
		if !rl.getLimiter(key).Allow() {
			logger.Warn().
				Str("limiter", rl.name).
				Str("key", key).
				Str("path", c.Request.URL.Path).
				Msg("[RateLimit] request rejected")
			c.JSON(http.StatusTooManyRequests, response.Response{
				Code:    http.StatusTooManyRequests,
				Message: "too many requests, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
