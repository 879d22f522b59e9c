package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ocrs/api-gateway/internal/ratelimit"
)

func TestIPKeyResolver(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"ipv4 with port", "10.0.0.5:1234", "10.0.0.5"},
		{"same ip different port", "10.0.0.5:9999", "10.0.0.5"},
		{"ipv6 with port", "[2001:db8::1]:443", "2001:db8::1"},
		{"bare host", "10.0.0.5", "10.0.0.5"},
		{"empty", "", "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user/cases", nil)
			req.RemoteAddr = tt.remoteAddr
			if got := IPKeyResolver(req); got != tt.want {
				t.Errorf("IPKeyResolver() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserKeyResolver(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		setIt  bool
		want   string
	}{
		{"present", "999", true, "999"},
		{"absent", "", false, "anonymous"},
		{"empty value", "", true, "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user/cases", nil)
			if tt.setIt {
				req.Header.Set("X-User-Id", tt.userID)
			}
			if got := UserKeyResolver(req); got != tt.want {
				t.Errorf("UserKeyResolver() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyResolvers_Idempotent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/user/cases", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	req.Header.Set("X-User-Id", "7")

	if IPKeyResolver(req) != IPKeyResolver(req) {
		t.Error("IPKeyResolver is not idempotent")
	}
	if UserKeyResolver(req) != UserKeyResolver(req) {
		t.Error("UserKeyResolver is not idempotent")
	}
}

func TestResolverFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/user/cases", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	req.Header.Set("X-User-Id", "7")

	if got := ResolverFor("user")(req); got != "7" {
		t.Errorf("user strategy resolved %q, want %q", got, "7")
	}
	if got := ResolverFor("ip")(req); got != "192.0.2.7" {
		t.Errorf("ip strategy resolved %q, want %q", got, "192.0.2.7")
	}
	if got := ResolverFor("")(req); got != "192.0.2.7" {
		t.Errorf("default strategy resolved %q, want ip key", got)
	}
}

// stubLimiter returns canned decisions or an error.
type stubLimiter struct {
	decision ratelimit.Decision
	err      error
	calls    int
	lastKey  string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (ratelimit.Decision, error) {
	s.calls++
	s.lastKey = key
	return s.decision, s.err
}

func TestRateLimitMiddleware_Allowed(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true, Limit: 10, Remaining: 9}}
	nextCalled := false
	handler := NewRateLimit(limiter, UserKeyResolver, "user-route", nil, testLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalled = true
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/user/cases", nil)
	req.Header.Set("X-User-Id", "999")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected chain to continue")
	}
	if limiter.lastKey != "999" {
		t.Errorf("limiter key = %q, want %q", limiter.lastKey, "999")
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want 10", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("X-RateLimit-Remaining = %q, want 9", got)
	}
}

func TestRateLimitMiddleware_Rejected(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{
		Allowed:    false,
		Limit:      10,
		Remaining:  0,
		RetryAfter: 2 * time.Second,
	}}
	nextCalled := false
	handler := NewRateLimit(limiter, IPKeyResolver, "user-route", nil, testLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalled = true
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user/cases", nil))

	if nextCalled {
		t.Fatal("chain must not continue after rejection")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	nextCalled := false
	handler := NewRateLimit(limiter, IPKeyResolver, "user-route", nil, testLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalled = true
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user/cases", nil))

	if !nextCalled {
		t.Error("limiter errors must fail open")
	}
}
