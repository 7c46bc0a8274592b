package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestHandlerMiddlewareEnforcesLimitPerCart(t *testing.T) {
	_, client := newClient(t)
	handler := Handler{
		Limiter: Limiter{Client: client},
		Config:  Config{Key: CartKey, Window: time.Minute, Max: 1},
	}

	r := chi.NewRouter()
	r.With(handler.Middleware).Post("/carts/{id}/items", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	send := func(cartID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/carts/"+cartID+"/items", nil)
		req.RemoteAddr = "10.0.0.7:5123"
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusCreated, send("c1").Code)
	second := send("c1")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Equal(t, "1", second.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, second.Header().Get("Retry-After"))
	require.Contains(t, second.Body.String(), "RATE_LIMITED")

	require.Equal(t, http.StatusCreated, send("c2").Code)
}

func TestCartKey(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/carts/{id}", func(_ http.ResponseWriter, req *http.Request) { got = CartKey(req) })
	req := httptest.NewRequest(http.MethodGet, "/carts/abc", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "ip:203.0.113.9:cart:abc", got)

	plain := httptest.NewRequest(http.MethodGet, "/health", nil)
	plain.RemoteAddr = "192.0.2.1:80"
	require.Equal(t, "ip:192.0.2.1", CartKey(plain))
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	called := false
	handler := Handler{
		Limiter: Limiter{Client: client},
		Config:  Config{Key: func(*http.Request) string { return "err" }, Window: time.Second, Max: 1},
		OnError: func(error) { called = true },
	}

	rr := httptest.NewRecorder()
	handler.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
