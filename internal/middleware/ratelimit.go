// Package middleware holds HTTP middleware shared by the storefront routes.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request from key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter keeps one token bucket per key. Idle buckets are evicted
// after ttl and the map never grows beyond maxEntries.
type MemoryLimiter struct {
	limit      rate.Limit
	burst      int
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	sweptAt time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter allows perMinute requests per key with a burst of the same
// size.
func NewMemoryLimiter(perMinute int, maxEntries int) *MemoryLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryLimiter{
		limit:      rate.Every(time.Minute / time.Duration(perMinute)),
		burst:      perMinute,
		ttl:        10 * time.Minute,
		maxEntries: maxEntries,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
}

// Allow implements Limiter.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.sweptAt) >= m.ttl {
		m.evictIdle(now)
		m.sweptAt = now
	}

	b, ok := m.buckets[key]
	if !ok {
		if len(m.buckets) >= m.maxEntries {
			m.evictIdle(now)
			if len(m.buckets) >= m.maxEntries {
				m.evictOldest()
			}
		}
		b = &bucket{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// Len reports the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func (m *MemoryLimiter) evictIdle(now time.Time) {
	for key, b := range m.buckets {
		if now.Sub(b.lastSeen) >= m.ttl {
			delete(m.buckets, key)
		}
	}
}

func (m *MemoryLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, b := range m.buckets {
		if oldestKey == "" || b.lastSeen.Before(oldest) {
			oldestKey, oldest = key, b.lastSeen
		}
	}
	delete(m.buckets, oldestKey)
}

// RedisLimiter is a fixed-window counter shared by every instance.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// NewRedisLimiter allows perMinute requests per key per minute window.
func NewRedisLimiter(client *redis.Client, perMinute int) *RedisLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RedisLimiter{client: client, limit: int64(perMinute), window: time.Minute, prefix: "ratelimit"}
}

// Allow implements Limiter.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowStart := time.Now().Unix() / int64(r.window.Seconds())
	redisKey := fmt.Sprintf("%s:%s:%d", r.prefix, key, windowStart)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= r.limit, nil
}

// RateLimit rejects requests over the limit with 429. Limiter errors let the
// request through.
func RateLimit(l Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			ok, err := l.Allow(r.Context(), key)
			if err != nil {
				log.Printf("[ratelimit] limiter error for %s: %v", key, err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(60))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey is the client IP taken from RemoteAddr. Forwarded headers only
// count when the server installs chi's RealIP ahead of this middleware.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
