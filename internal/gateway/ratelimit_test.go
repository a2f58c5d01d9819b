package gateway_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/basket/scenecrew/internal/config"
	"github.com/basket/scenecrew/internal/gateway"
)

func limited(t *testing.T, burst int) (*gateway.RateLimitMiddleware, func(path, key string) int) {
	t.Helper()
	rl := gateway.NewRateLimitMiddleware(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: burst})
	h := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return rl, func(path, key string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "1" {
			t.Fatalf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
		}
		return rec.Code
	}
}

func TestRateLimit_BurstThenLimited(t *testing.T) {
	_, do := limited(t, 3)
	for i := 0; i < 3; i++ {
		if code := do("/api/commands/x", "k"); code != http.StatusOK {
			t.Fatalf("burst request %d: got %d", i, code)
		}
	}
	if code := do("/api/commands/x", "k"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestRateLimit_RefillOverTime(t *testing.T) {
	_, do := limited(t, 1)
	do("/api/commands/x", "refill")
	if code := do("/api/commands/x", "refill"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 immediately after, got %d", code)
	}
	// 60/min refills one token per second.
	time.Sleep(1100 * time.Millisecond)
	if code := do("/api/commands/x", "refill"); code != http.StatusOK {
		t.Fatalf("expected 200 after refill, got %d", code)
	}
}

func TestRateLimit_PerTokenIsolation(t *testing.T) {
	_, do := limited(t, 1)
	do("/api/commands/x", "key-a")
	if code := do("/api/commands/x", "key-a"); code != http.StatusTooManyRequests {
		t.Fatalf("key-a: expected 429, got %d", code)
	}
	if code := do("/api/commands/x", "key-b"); code != http.StatusOK {
		t.Fatalf("key-b: expected 200, got %d", code)
	}
}

func TestRateLimit_ExemptPaths(t *testing.T) {
	_, do := limited(t, 1)
	do("/api/commands/x", "")
	if code := do("/api/commands/x", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected remote-addr bucket to be exhausted, got %d", code)
	}
	for _, p := range []string{"/healthz", "/ws"} {
		if code := do(p, ""); code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", p, code)
		}
	}
}

func TestRateLimit_EvictStale(t *testing.T) {
	rl, do := limited(t, 10)
	for _, key := range []string{"key-1", "key-2", "key-3"} {
		do("/api/commands/x", key)
	}
	if rl.BucketCount() != 3 {
		t.Fatalf("expected 3 buckets, got %d", rl.BucketCount())
	}
	if n := rl.EvictStale(time.Hour); n != 0 || rl.BucketCount() != 3 {
		t.Fatalf("hour eviction removed %d, buckets %d", n, rl.BucketCount())
	}
	time.Sleep(5 * time.Millisecond)
	rl.EvictStale(time.Millisecond)
	if rl.BucketCount() != 0 {
		t.Fatalf("expected 0 buckets after eviction, got %d", rl.BucketCount())
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	rl := gateway.NewRateLimitMiddleware(config.RateLimitConfig{Enabled: false, BurstSize: 1})
	h := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/commands/x", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}
