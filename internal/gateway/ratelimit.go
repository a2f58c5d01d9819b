package gateway

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/basket/scenecrew/internal/config"
)

// TokenBucket implements a simple token bucket rate limiter.
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastAccess time.Time
	mu         sync.Mutex
}

func NewTokenBucket(requestsPerMinute, burstSize int) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     float64(burstSize),
		maxTokens:  float64(burstSize),
		refillRate: float64(requestsPerMinute) / 60.0,
		lastRefill: now,
		lastAccess: now,
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now
	tb.lastAccess = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

func (tb *TokenBucket) LastAccess() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastAccess
}

// RateLimitMiddleware keeps one bucket per token, or per remote host for
// unauthenticated requests.
type RateLimitMiddleware struct {
	cfg     config.RateLimitConfig
	mu      sync.RWMutex
	buckets map[string]*TokenBucket
}

func NewRateLimitMiddleware(cfg config.RateLimitConfig) *RateLimitMiddleware {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 120
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 20
	}
	return &RateLimitMiddleware{cfg: cfg, buckets: make(map[string]*TokenBucket)}
}

// StartEviction periodically drops buckets idle for longer than maxAge.
func (rl *RateLimitMiddleware) StartEviction(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.EvictStale(maxAge)
			}
		}
	}()
}

func (rl *RateLimitMiddleware) EvictStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	evicted := 0
	for key, b := range rl.buckets {
		if b.LastAccess().Before(cutoff) {
			delete(rl.buckets, key)
			evicted++
		}
	}
	return evicted
}

func (rl *RateLimitMiddleware) BucketCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	if !rl.cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Status polling is the client contract; never throttle health or
		// the long-lived stream.
		if r.URL.Path == "/healthz" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		key := ExtractToken(r)
		if key == "" {
			key = remoteHost(r)
		}
		if !rl.bucket(key).Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) bucket(key string) *TokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.buckets[key]; ok {
		return b
	}
	b = NewTokenBucket(rl.cfg.RequestsPerMinute, rl.cfg.BurstSize)
	rl.buckets[key] = b
	return b
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
