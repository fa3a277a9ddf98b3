package ratelimit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/ratelimit"
)

func newLimiter(t *testing.T) ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.Limiter{Client: client, Prefix: "rl:test:"}
}

func TestAllowWithinLimit(t *testing.T) {
	limiter := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "user:1", time.Minute, 3)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := limiter.Allow(ctx, "user:1", time.Minute, 3)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Zero(t, res.Remaining)
}

func TestAllowKeysAreIndependent(t *testing.T) {
	limiter := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.Allow(ctx, "user:1", time.Minute, 2)
		require.NoError(t, err)
	}
	res, err := limiter.Allow(ctx, "user:2", time.Minute, 2)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestAllowNilClientPassesThrough(t *testing.T) {
	res, err := ratelimit.Limiter{}.Allow(context.Background(), "x", time.Minute, 5)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestMiddlewareReturns429(t *testing.T) {
	handler := ratelimit.Handler{
		Limiter: newLimiter(t),
		Config: ratelimit.Config{
			Key:    func(*http.Request) string { return "fixed" },
			Window: time.Minute,
			Max:    1,
		},
	}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/checkout", nil))
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/checkout", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.NotEmpty(t, second.Header().Get("Retry-After"))
	require.Contains(t, second.Body.String(), "RATE_LIMITED")
}

func TestKeyByUserOrIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req.RemoteAddr = "10.0.0.9:51234"
	require.Equal(t, "ip:10.0.0.9", ratelimit.KeyByUserOrIP(req))

	req = req.WithContext(common.WithUserID(req.Context(), "user-42"))
	require.Equal(t, "user:user-42", ratelimit.KeyByUserOrIP(req))
}
