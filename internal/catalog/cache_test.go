package catalog_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/catalog"
)

func newTestCache(t *testing.T) *catalog.Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return catalog.NewCache(client, time.Minute)
}

func TestCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	var out []string
	ok, err := cache.GetJSON(ctx, "k", &out)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.SetJSON(ctx, "k", []string{"a", "b"}))
	ok, err = cache.GetJSON(ctx, "k", &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"a", "b"}, out)

	require.NoError(t, cache.Invalidate(ctx, "k"))
	ok, err = cache.GetJSON(ctx, "k", &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNilCacheIsNoop(t *testing.T) {
	var cache *catalog.Cache
	ctx := context.Background()

	ok, err := cache.GetJSON(ctx, "k", nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, cache.SetJSON(ctx, "k", 1))
	require.NoError(t, cache.Invalidate(ctx, "k"))
}

func TestCheckoutProductsServedFromCache(t *testing.T) {
	queries := newFakeQueries()
	cache := newTestCache(t)
	svc, err := catalog.NewService(catalog.ServiceConfig{Queries: queries, Cache: cache})
	require.NoError(t, err)
	handler := catalog.NewHandler(catalog.HandlerConfig{Service: svc})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.CheckoutProducts(rec, httptest.NewRequest(http.MethodGet, "/api/v1/checkout/products", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 1, queries.checkoutCalls)

	svc.InvalidateCheckoutCache(context.Background())
	rec := httptest.NewRecorder()
	handler.CheckoutProducts(rec, httptest.NewRequest(http.MethodGet, "/api/v1/checkout/products", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, queries.checkoutCalls)
}
