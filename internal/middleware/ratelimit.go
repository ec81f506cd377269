// ratelimit.go provides Gin middleware that enforces per-client token-bucket
// rate limits at the HTTP edge, returning 429 when a client exceeds the
// configured requests-per-minute budget. This is the coarse outer limiter;
// the per-actor permission-check limiter lives in internal/access.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/config"
)

// EdgeLimiterConfig holds configuration for the HTTP edge rate limiter.
type EdgeLimiterConfig struct {
	// RequestsPerMinute is the sustained refill rate per client.
	RequestsPerMinute int
	// Burst is the bucket capacity, the number of back-to-back requests a
	// client can make before refill matters.
	Burst int
	// CleanupInterval is how often idle client buckets get evicted.
	CleanupInterval time.Duration
}

// EdgeLimiterConfigFrom maps the loaded security settings onto limiter
// settings, filling in defaults for anything unset.
func EdgeLimiterConfigFrom(cfg config.RateLimitingConfig) EdgeLimiterConfig {
	out := EdgeLimiterConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
		CleanupInterval:   5 * time.Minute,
	}
	if out.RequestsPerMinute <= 0 {
		out.RequestsPerMinute = 300
	}
	if out.Burst <= 0 {
		out.Burst = 50
	}
	return out
}

// clientBucket tracks the token balance for a single client.
type clientBucket struct {
	tokens     float64
	lastUpdate time.Time
}

// EdgeLimiter implements a per-client token bucket keyed by authenticated
// actor when available, client IP otherwise.
type EdgeLimiter struct {
	config  EdgeLimiterConfig
	buckets map[string]*clientBucket
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewEdgeLimiter creates an edge limiter and starts its idle-bucket janitor.
func NewEdgeLimiter(cfg EdgeLimiterConfig) *EdgeLimiter {
	l := &EdgeLimiter{
		config:  cfg,
		buckets: make(map[string]*clientBucket),
		stopCh:  make(chan struct{}),
	}

	go l.cleanup()

	return l
}

func (l *EdgeLimiter) cleanup() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, bucket := range l.buckets {
				if now.Sub(bucket.lastUpdate) > 10*time.Minute {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *EdgeLimiter) Stop() {
	close(l.stopCh)
}

// Allow reports whether a request from the given key fits the budget.
func (l *EdgeLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	bucket, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &clientBucket{
			tokens:     float64(l.config.Burst) - 1,
			lastUpdate: now,
		}
		return true
	}

	refill := now.Sub(bucket.lastUpdate).Seconds() * float64(l.config.RequestsPerMinute) / 60.0
	bucket.tokens = minTokens(float64(l.config.Burst), bucket.tokens+refill)
	bucket.lastUpdate = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

// Remaining returns the whole tokens left for a key.
func (l *EdgeLimiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok {
		return l.config.Burst
	}

	refill := time.Since(bucket.lastUpdate).Seconds() * float64(l.config.RequestsPerMinute) / 60.0
	return int(minTokens(float64(l.config.Burst), bucket.tokens+refill))
}

// EdgeRateLimit rate limits all requests through the given limiter. Runs
// after auth so authenticated actors are keyed by identity rather than IP,
// which keeps clients behind a shared NAT from starving each other.
func EdgeRateLimit(limiter *EdgeLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := edgeLimitKey(c)

		if !limiter.Allow(key) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"code":        "RATE_LIMITED",
				"retry_after": 60,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))

		c.Next()
	}
}

// edgeLimitKey prefers the authenticated actor, falling back to client IP.
func edgeLimitKey(c *gin.Context) string {
	if actorID, exists := c.Get(ActorIDKey); exists {
		if id, ok := actorID.(string); ok && id != "" {
			return "actor:" + id
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

func minTokens(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
