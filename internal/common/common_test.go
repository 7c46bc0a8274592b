package common_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/common"
)

func TestIdemRejectsReplayPerRoute(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	handler := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))
	send := func(path, key string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusCreated, send("/carts/c1/items", "k1"))
	require.Equal(t, http.StatusConflict, send("/carts/c1/items", "k1"))
	require.Equal(t, http.StatusCreated, send("/carts/c2/items", "k1"))
	require.Equal(t, http.StatusCreated, send("/carts/c1/items", ""))
	require.Equal(t, 3, calls)
	require.Len(t, mr.Keys(), 2)
}

func TestIdemReleasesKeyOnFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	statuses := []int{http.StatusInternalServerError, http.StatusConflict, http.StatusCreated}
	calls := 0
	handler := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(statuses[calls])
		calls++
	}))
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/carts/c1/items", nil)
		req.Header.Set("Idempotency-Key", "retry")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusInternalServerError, send())
	require.Empty(t, mr.Keys())
	require.Equal(t, http.StatusConflict, send())
	require.Empty(t, mr.Keys())
	require.Equal(t, http.StatusCreated, send())
	require.Len(t, mr.Keys(), 1)
	require.Equal(t, http.StatusConflict, send())
	require.Equal(t, 3, calls)
}

func TestIdemWithoutRedisPassesThrough(t *testing.T) {
	handler := common.Idem{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/carts/c1", nil)
		req.Header.Set("Idempotency-Key", "same")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusNoContent, rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:443"
	require.Equal(t, "198.51.100.4", common.ClientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.2")
	require.Equal(t, "203.0.113.2", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	require.Equal(t, "203.0.113.7", common.ClientIP(req))
	require.Empty(t, common.ClientIP(nil))
}

func TestParsePagination(t *testing.T) {
	page, perPage := common.ParsePagination(httptest.NewRequest(http.MethodGet, "/products?page=3&limit=5", nil), 20)
	require.Equal(t, 3, page)
	require.Equal(t, 5, perPage)

	page, perPage = common.ParsePagination(httptest.NewRequest(http.MethodGet, "/products?page=-1&limit=x", nil), 20)
	require.Equal(t, 1, page)
	require.Equal(t, 20, perPage)
}

func TestAppErrorUnwraps(t *testing.T) {
	base := errors.New("stock exhausted")
	err := common.NewAppError("INSUFFICIENT_STOCK", "not enough stock", http.StatusConflict, base)
	require.ErrorIs(t, err, base)
	require.True(t, common.IsAppError(err))
	require.Equal(t, "stock exhausted", err.Error())
	require.Equal(t, 7, common.AtoiDefault("7", 1))
	require.Equal(t, 1, common.AtoiDefault("seven", 1))
}
