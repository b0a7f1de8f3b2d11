package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnlo/service_layer/internal/logging"
)

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterPerUser(t *testing.T) {
	rl := NewRateLimiter(PerMinute("ai", 2), logging.Discard())
	handler := rl.Handler(ok())

	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/cards/generate", nil)
		req = req.WithContext(logging.WithUserID(req.Context(), user))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, call("a").Code)
	assert.Equal(t, http.StatusOK, call("a").Code)

	rr := call("a")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.NotEqual(t, "0", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "RATE_LIMIT_EXCEEDED")

	// other users have their own bucket
	assert.Equal(t, http.StatusOK, call("b").Code)
}

func TestRateLimiterByIP(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Scope: "api", Rate: 1, Burst: 1, Window: "1s"}, logging.Discard())
	handler := rl.Handler(ok())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req.RemoteAddr = "10.0.0.1:5678"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(PerSecond("api", 10, 20), logging.Discard())
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.getLimiter("a")

	now = now.Add(time.Hour)
	rl.getLimiter("b")

	assert.Equal(t, 1, rl.Cleanup(time.Minute))
	assert.Len(t, rl.visitors, 1)
}

func TestRateLimiterEvictsIdleVisitorsWhileRunning(t *testing.T) {
	rl := NewRateLimiter(PerMinute("ai", 5), logging.Discard())
	var clock atomic.Int64
	clock.Store(time.Now().UnixNano())
	rl.now = func() time.Time { return time.Unix(0, clock.Load()) }
	rl.sweep = 5 * time.Millisecond
	assert.Equal(t, "ratelimit-ai", rl.Name())

	rl.getLimiter("user:a")
	rl.getLimiter("user:b")
	require.Equal(t, 2, rl.Visitors())

	ctx := context.Background()
	require.NoError(t, rl.Start(ctx))
	defer rl.Stop(ctx)

	clock.Add(int64(limiterIdleTTL + time.Minute))
	assert.Eventually(t, func() bool { return rl.Visitors() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "192.0.2.1", clientIP(req, false))
	assert.Equal(t, "203.0.113.7", clientIP(req, true))
}

func TestCORSMiddleware(t *testing.T) {
	m := NewCORSMiddleware([]string{"http://localhost:3000", "*.pinnlo.app"})
	handler := m.Handler(ok())

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:3000", true},
		{"https://app.pinnlo.app", true},
		{"https://evilpinnlo.app", false},
		{"https://example.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/strategies", nil)
		req.Header.Set("Origin", tt.origin)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		got := rr.Header().Get("Access-Control-Allow-Origin")
		if tt.allowed {
			assert.Equal(t, tt.origin, got, tt.origin)
		} else {
			assert.Empty(t, got, tt.origin)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	m := NewCORSMiddleware([]string{"*"})
	called := false
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/cards/1", nil)
	req.Header.Set("Origin", "https://anywhere.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestTracingMiddleware(t *testing.T) {
	m := NewTracingMiddleware(logging.Discard())
	var seen string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "trace-123", seen)
	assert.Equal(t, "trace-123", rr.Header().Get("X-Trace-ID"))
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rr.Header().Get("X-Trace-ID"))
}
