package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*RateLimiter, *time.Time) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rl := NewRateLimiter(ctx, limit, window)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.mu.Lock()
	rl.now = func() time.Time { return now }
	rl.mu.Unlock()
	return rl, &now
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()
	rl, now := newTestLimiter(t, 2, time.Hour)

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u2"), "keys are limited independently")

	rl.mu.Lock()
	*now = now.Add(time.Hour + time.Second)
	rl.mu.Unlock()
	assert.True(t, rl.Allow("u1"))
}

func TestRateLimiter_Evict(t *testing.T) {
	t.Parallel()
	rl, now := newTestLimiter(t, 5, time.Hour)

	rl.Allow("u1")
	rl.Allow("u2")
	require.Equal(t, 2, rl.keys())

	rl.mu.Lock()
	*now = now.Add(2 * time.Hour)
	rl.mu.Unlock()
	rl.evict()
	assert.Equal(t, 0, rl.keys())
}

func TestRateLimit_Middleware(t *testing.T) {
	t.Parallel()
	rl, _ := newTestLimiter(t, 1, time.Minute)
	h := RateLimit(rl, func(r *http.Request) string { return r.Header.Get("X-User") })(okHandler())

	do := func(method, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/simulations/session/s1/respond", nil)
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusTeapot, do(http.MethodPost, "u1").Code)

	limited := do(http.MethodPost, "u1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, limited.Body.String())

	assert.Equal(t, http.StatusTeapot, do(http.MethodGet, "u1").Code, "reads are not limited")
	assert.Equal(t, http.StatusTeapot, do(http.MethodPost, "").Code, "anonymous requests pass")
}
