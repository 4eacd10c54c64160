package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per caller key. Buckets idle for
// longer than idleTTL are dropped; idleTTL is never shorter than a full
// refill, so a dropped bucket would have been full anyway.
type RateLimiter struct {
	mu        sync.Mutex
	limits    map[string]*limiterEntry
	rps       rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	idle := defaultIdleTTL
	if requestsPerSecond > 0 {
		if refill := time.Duration(float64(burst) / requestsPerSecond * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &RateLimiter{
		limits:    make(map[string]*limiterEntry),
		rps:       rate.Limit(requestsPerSecond),
		burst:     burst,
		idleTTL:   idle,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		rl.sweep(now)
	}

	if entry, ok := rl.limits[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	limiter := rate.NewLimiter(rl.rps, rl.burst)
	rl.limits[key] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// sweep drops idle buckets. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, entry := range rl.limits {
		if now.Sub(entry.lastSeen) >= rl.idleTTL {
			delete(rl.limits, key)
		}
	}
	rl.lastSweep = now
}

func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Len reports how many callers currently hold a bucket.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limits)
}

// RateLimitMiddleware keys on the authenticated identity, falling back to the
// client IP. Place it after AuthMiddleware.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := GetUserID(c)
		if !ok {
			key = c.ClientIP()
		}
		if !rl.Allow(key) {
			RespondWithError(c, http.StatusTooManyRequests, "Too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
