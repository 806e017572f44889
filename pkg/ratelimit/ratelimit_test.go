package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kadirpekel/nestor/pkg/config"
)

func newTestLimiter(t *testing.T, limits ...config.WindowLimitConfig) *Limiter {
	t.Helper()

	l, err := New(&config.RateLimitConfig{
		Enabled: config.BoolPtr(true),
		Limits:  limits,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.RateLimitConfig
	}{
		{"nil config", nil},
		{"no limits", &config.RateLimitConfig{}},
		{"unknown window", &config.RateLimitConfig{
			Limits: []config.WindowLimitConfig{{Window: "fortnight", Limit: 5}},
		}},
		{"zero limit", &config.RateLimitConfig{
			Limits: []config.WindowLimitConfig{{Window: "minute", Limit: 0}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestAllowCountsPerIdentifier(t *testing.T) {
	l := newTestLimiter(t, config.WindowLimitConfig{Window: "minute", Limit: 2})

	for i := 0; i < 2; i++ {
		result, err := l.Allow("alice")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !result.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}

	result, err := l.Allow("alice")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if result.Allowed {
		t.Error("third request allowed, want denied")
	}
	if result.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", result.RetryAfter)
	}

	// A different identifier has its own budget.
	result, err = l.Allow("bob")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !result.Allowed {
		t.Error("other identifier denied, want allowed")
	}
}

func TestDeniedRequestIsNotCharged(t *testing.T) {
	l := newTestLimiter(t, config.WindowLimitConfig{Window: "minute", Limit: 1})

	if result, _ := l.Allow("alice"); !result.Allowed {
		t.Fatal("first request denied")
	}

	// Denials must not consume budget: remaining stays 0, it never
	// goes further negative across repeated attempts.
	for i := 0; i < 3; i++ {
		result, err := l.Allow("alice")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if result.Allowed {
			t.Fatal("over-limit request allowed")
		}
		if result.Remaining != 0 {
			t.Errorf("Remaining = %d, want 0", result.Remaining)
		}
	}
}

func TestWindowRollsOver(t *testing.T) {
	l := newTestLimiter(t, config.WindowLimitConfig{Window: "minute", Limit: 1})

	now := time.Now()
	l.now = func() time.Time { return now }

	if result, _ := l.Allow("alice"); !result.Allowed {
		t.Fatal("first request denied")
	}
	if result, _ := l.Allow("alice"); result.Allowed {
		t.Fatal("second request allowed within window")
	}

	now = now.Add(time.Minute + time.Second)

	result, err := l.Allow("alice")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !result.Allowed {
		t.Error("request denied after window rolled over")
	}
}

func TestTightestWindowWins(t *testing.T) {
	l := newTestLimiter(t,
		config.WindowLimitConfig{Window: "minute", Limit: 2},
		config.WindowLimitConfig{Window: "hour", Limit: 100},
	)

	result, err := l.Allow("alice")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if result.Limit != 2 {
		t.Errorf("Limit = %d, want 2 (the tighter window)", result.Limit)
	}
	if result.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", result.Remaining)
	}
}

func TestResetClearsIdentifier(t *testing.T) {
	l := newTestLimiter(t, config.WindowLimitConfig{Window: "minute", Limit: 1})

	l.Allow("alice")
	if result, _ := l.Allow("alice"); result.Allowed {
		t.Fatal("second request allowed")
	}

	l.Reset("alice")

	if result, _ := l.Allow("alice"); !result.Allowed {
		t.Error("request denied after reset")
	}
}

func TestSweepDropsExpiredBuckets(t *testing.T) {
	l := newTestLimiter(t, config.WindowLimitConfig{Window: "minute", Limit: 5})

	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("alice")
	l.Allow("bob")

	l.sweep(now.Add(2 * time.Minute))

	l.mu.Lock()
	size := len(l.buckets)
	l.mu.Unlock()
	if size != 0 {
		t.Errorf("buckets after sweep = %d, want 0", size)
	}
}

func TestMiddlewareDeniesWithHeaders(t *testing.T) {
	l := newTestLimiter(t, config.WindowLimitConfig{Window: "minute", Limit: 1})

	handler := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.RemoteAddr = "203.0.113.9:41234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Errorf("X-RateLimit-Limit = %q, want 1", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on 429")
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body["error"] == "" {
		t.Error("429 body has no error message")
	}
}

func TestMiddlewareSkipsExcludedPaths(t *testing.T) {
	l := newTestLimiter(t, config.WindowLimitConfig{Window: "minute", Limit: 1})

	handler := Middleware(l, "/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.9:41234"

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("health check %d status = %d, want 200", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "" {
			t.Error("excluded path carries rate limit headers")
		}
	}
}

func TestIdentifyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:41234"

	if got := Identify(req); got != "203.0.113.9" {
		t.Errorf("Identify() = %q, want 203.0.113.9", got)
	}
}
