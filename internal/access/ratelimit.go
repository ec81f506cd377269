// ratelimit.go implements the per-actor budget on permission checks. The
// shared implementation runs on Redis via redis_rate so the budget holds
// across replicas; the local fallback is a token bucket kept per process.
package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// CheckLimiter budgets permission checks per actor. Allow returns whether the
// check may proceed and, when it may not, how long the actor should wait.
type CheckLimiter interface {
	Allow(ctx context.Context, actorID string) (bool, time.Duration, error)
}

// RedisLimiter enforces the budget atomically in Redis, shared by every
// replica of the service.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisLimiter builds a limiter allowing checksPerMinute per actor.
func NewRedisLimiter(client *redis.Client, checksPerMinute int) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.PerMinute(checksPerMinute),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, actorID string) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, fmt.Sprintf("access:check:%s", actorID), l.limit)
	if err != nil {
		return false, 0, err
	}
	if res.Allowed == 0 {
		return false, res.RetryAfter, nil
	}
	return true, 0, nil
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// LocalLimiter is the in-process fallback used when no Redis address is
// configured. State is per replica, so the effective budget scales with the
// replica count; acceptable for the fallback, not for production fleets.
type LocalLimiter struct {
	perMinute int
	mu        sync.Mutex
	buckets   map[string]*bucket
	stopCh    chan struct{}
}

// NewLocalLimiter builds an in-memory limiter and starts its cleanup loop.
func NewLocalLimiter(checksPerMinute int) *LocalLimiter {
	l := &LocalLimiter{
		perMinute: checksPerMinute,
		buckets:   make(map[string]*bucket),
		stopCh:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Stop terminates the cleanup loop.
func (l *LocalLimiter) Stop() {
	close(l.stopCh)
}

func (l *LocalLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, b := range l.buckets {
				if now.Sub(b.lastUpdate) > 10*time.Minute {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *LocalLimiter) Allow(_ context.Context, actorID string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[actorID]
	if !ok {
		l.buckets[actorID] = &bucket{tokens: float64(l.perMinute) - 1, lastUpdate: now}
		return true, 0, nil
	}

	tokensPerSecond := float64(l.perMinute) / 60.0
	b.tokens = min(float64(l.perMinute), b.tokens+now.Sub(b.lastUpdate).Seconds()*tokensPerSecond)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0, nil
	}

	wait := time.Duration((1 - b.tokens) / tokensPerSecond * float64(time.Second))
	return false, wait, nil
}
