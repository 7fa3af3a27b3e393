package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/platinummonkey/chronicle/pkg/contextkeys"
)

func TestLocalLimiter_Allow(t *testing.T) {
	rl := NewLocalLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute, BurstSize: 1})
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow(ctx, "user:alice"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if ok, _ := rl.Allow(ctx, "user:alice"); ok {
		t.Error("fourth request should be rejected")
	}
	if ok, _ := rl.Allow(ctx, "user:bob"); !ok {
		t.Error("other keys have their own bucket")
	}

	// half a window refills one token
	now = now.Add(30 * time.Second)
	if ok, _ := rl.Allow(ctx, "user:alice"); !ok {
		t.Error("expected refill after half a window")
	}
}

func TestLocalLimiter_Cleanup(t *testing.T) {
	rl := NewLocalLimiter(nil)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.Allow(context.Background(), "ip:10.0.0.1")
	now = now.Add(3 * time.Minute)
	rl.Cleanup()

	if len(rl.buckets) != 0 {
		t.Errorf("expected idle bucket to be removed, got %d", len(rl.buckets))
	}
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewRedisLimiter(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "user:alice")
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, "user:alice"); ok {
		t.Error("third request should be rejected")
	}

	if ttl := mr.TTL("ratelimit:user:alice"); ttl != time.Minute {
		t.Errorf("expected window TTL of 1m, got %v", ttl)
	}
	if remaining, _ := rl.Remaining(ctx, "user:alice"); remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}
	if remaining, _ := rl.Remaining(ctx, "user:bob"); remaining != 2 {
		t.Errorf("expected full quota for unknown key, got %d", remaining)
	}

	mr.FastForward(time.Minute)
	if ok, _ := rl.Allow(ctx, "user:alice"); !ok {
		t.Error("expected a fresh window after expiry")
	}

	if err := rl.Reset(ctx, "user:alice"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("ratelimit:user:alice") {
		t.Error("expected key to be cleared")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (failingLimiter) Config() *RateLimitConfig { return DefaultRateLimitConfig() }

func TestRateLimit_Handler(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("limits per user", func(t *testing.T) {
		limiter := NewLocalLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
		handler := NewRateLimit(limiter, nil).Handler(ok)

		send := func(user string) *httptest.ResponseRecorder {
			req := httptest.NewRequest("GET", "/audit/export", nil)
			req = req.WithContext(contextkeys.WithUserID(req.Context(), user))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			return w
		}

		if w := send("alice"); w.Code != http.StatusOK || w.Header().Get("X-RateLimit-Limit") != "1" {
			t.Fatalf("first request: status %d, limit %q", w.Code, w.Header().Get("X-RateLimit-Limit"))
		}
		w := send("alice")
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", w.Code)
		}
		if w.Header().Get("Retry-After") != "60" {
			t.Errorf("expected Retry-After 60, got %q", w.Header().Get("Retry-After"))
		}
		if w.Body.String() != `{"error":"rate limit exceeded","retry_after":60}` {
			t.Errorf("unexpected body: %s", w.Body.String())
		}
		if w := send("bob"); w.Code != http.StatusOK {
			t.Errorf("expected other users to be unaffected, got %d", w.Code)
		}
	})

	t.Run("limits anonymous callers by ip", func(t *testing.T) {
		limiter := NewLocalLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
		handler := NewRateLimit(limiter, nil).Handler(ok)

		for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
			req := httptest.NewRequest("GET", "/audit/export", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != want {
				t.Errorf("request %d: expected %d, got %d", i+1, want, w.Code)
			}
		}
		if _, exists := limiter.buckets["ip:203.0.113.9"]; !exists {
			t.Error("expected bucket keyed by the first forwarded address")
		}
	})

	t.Run("fails open", func(t *testing.T) {
		logger, hook := logtest.NewNullLogger()
		handler := NewRateLimit(failingLimiter{}, logger).Handler(ok)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/audit/export", nil))
		if w.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", w.Code)
		}
		if len(hook.AllEntries()) != 1 {
			t.Errorf("expected limiter failure to be logged")
		}
	})

	t.Run("fails closed", func(t *testing.T) {
		m := NewRateLimit(failingLimiter{}, nil)
		m.SetFailOpen(false)

		w := httptest.NewRecorder()
		m.Handler(ok).ServeHTTP(w, httptest.NewRequest("GET", "/audit/export", nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", w.Code)
		}
	})
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:54321"
	if got := getClientIP(req); got != "192.0.2.1" {
		t.Errorf("expected 192.0.2.1, got %q", got)
	}

	req.Header.Set("X-Real-IP", "198.51.100.4")
	if got := getClientIP(req); got != "198.51.100.4" {
		t.Errorf("expected 198.51.100.4, got %q", got)
	}
}
