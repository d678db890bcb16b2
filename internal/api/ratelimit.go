package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// DefaultLimiterIdle is how long an idle per-IP limiter is kept.
const DefaultLimiterIdle = 5 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client identifier.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a limiter allowing rps sustained requests with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		idle:     DefaultLimiterIdle,
		now:      time.Now,
	}
}

// Allow reports whether one more request from id fits its bucket.
func (rl *RateLimiter) Allow(id string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.idle {
		for key, e := range rl.limiters {
			if now.Sub(e.lastSeen) > rl.idle {
				delete(rl.limiters, key)
			}
		}
		rl.lastSweep = now
	}

	e, ok := rl.limiters[id]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[id] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// PerIP returns middleware answering 429 once a client IP exceeds its bucket.
func (rl *RateLimiter) PerIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.Allow(ip) {
			slog.Warn("RateLimiter.PerIP: rate limit exceeded", "ip", ip, "path", c.Request.URL.Path)
			writeJSON(c, http.StatusTooManyRequests, models.Error("Rate limit exceeded"))
			c.Abort()
			return
		}
		c.Next()
	}
}
