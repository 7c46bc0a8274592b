package cartsync_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/cart"
	"github.com/noah-isme/toko-pricing/internal/cartsync"
)

func TestRegistryLifecycle(t *testing.T) {
	store := cart.NewMemoryStore()
	insertLine(t, store, "l1", 10, false)
	clock := &fakeClock{}
	clock.active.Store(true)
	reg := cartsync.NewRegistry(context.Background(), store, clock, cartsync.Config{PollInterval: time.Hour}, nil)
	t.Cleanup(reg.Close)

	reg.Ensure("c1")
	reg.Ensure("c1")
	reg.Ensure("")
	require.Equal(t, 1, reg.Active())

	require.Eventually(t, func() bool {
		return grossOf(t, store, "l1").Equal(dec("80"))
	}, time.Second, 5*time.Millisecond)

	require.True(t, reg.Release("c1"))
	require.False(t, reg.Release("c1"))
	require.Zero(t, reg.Active())

	reg.LinesChanged("c1")
	require.Zero(t, reg.Active())
}

func TestRegistrySyncRunsForcedPass(t *testing.T) {
	store := cart.NewMemoryStore()
	insertLine(t, store, "l1", 10, true)
	reg := cartsync.NewRegistry(context.Background(), store, &fakeClock{}, cartsync.Config{PollInterval: time.Hour}, nil)
	t.Cleanup(reg.Close)

	require.Eventually(t, func() bool {
		res, err := reg.Sync(context.Background(), "c1")
		return err == nil && res.Checked == 1
	}, time.Second, 5*time.Millisecond)
	require.True(t, grossOf(t, store, "l1").Equal(dec("90")))
}

func TestRegistrySweepReleasesIdleSessions(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	reg := cartsync.NewRegistry(context.Background(), cart.NewMemoryStore(), &fakeClock{}, cartsync.Config{PollInterval: time.Hour}, nil)
	reg.IdleTimeout = 10 * time.Minute
	reg.Now = func() time.Time { return now }
	t.Cleanup(reg.Close)

	reg.Ensure("old")
	now = now.Add(8 * time.Minute)
	reg.Ensure("fresh")
	now = now.Add(5 * time.Minute)

	require.Equal(t, 1, reg.Sweep())
	require.Equal(t, 1, reg.Active())
	require.False(t, reg.Release("old"))
	require.True(t, reg.Release("fresh"))
}

func TestRegistryCloseStopsEverything(t *testing.T) {
	reg := cartsync.NewRegistry(context.Background(), cart.NewMemoryStore(), &fakeClock{}, cartsync.Config{PollInterval: time.Hour}, nil)
	reg.Ensure("a")
	reg.Ensure("b")
	require.Equal(t, 2, reg.Active())

	reg.Close()
	require.Zero(t, reg.Active())
	reg.Ensure("c")
	require.Zero(t, reg.Active())
	_, err := reg.Sync(context.Background(), "c")
	require.ErrorIs(t, err, cartsync.ErrClosed)
	reg.Close()
}

func TestRegistrySyncRejectsEmptyCartID(t *testing.T) {
	reg := cartsync.NewRegistry(context.Background(), cart.NewMemoryStore(), &fakeClock{}, cartsync.Config{PollInterval: time.Hour}, nil)
	t.Cleanup(reg.Close)

	_, err := reg.Sync(context.Background(), "")
	require.ErrorIs(t, err, cart.ErrInvalidInput)
	require.Zero(t, reg.Active())
}

func TestHandlerSyncErrors(t *testing.T) {
	reg := cartsync.NewRegistry(context.Background(), cart.NewMemoryStore(), &fakeClock{}, cartsync.Config{PollInterval: time.Hour}, nil)
	h := &cartsync.Handler{Registry: reg}

	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodPost, "/api/v1/carts//sync", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_INPUT")

	reg.Close()
	r := chi.NewRouter()
	r.Post("/api/v1/carts/{id}/sync", h.Sync)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/carts/c1/sync", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "UNAVAILABLE")
}

func TestHandler(t *testing.T) {
	store := cart.NewMemoryStore()
	insertLine(t, store, "l1", 10, true)
	reg := cartsync.NewRegistry(context.Background(), store, &fakeClock{}, cartsync.Config{PollInterval: time.Hour}, nil)
	t.Cleanup(reg.Close)
	h := &cartsync.Handler{Registry: reg}
	r := chi.NewRouter()
	r.Post("/api/v1/carts/{id}/sync", h.Sync)
	r.Delete("/api/v1/carts/{id}/session", h.EndSession)

	var body struct {
		Data cartsync.Result `json:"data"`
	}
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/carts/c1/sync", nil))
		if rec.Code != http.StatusOK {
			return false
		}
		return json.Unmarshal(rec.Body.Bytes(), &body) == nil
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, body.Data.Checked)
	require.False(t, body.Data.PromoActive)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/carts/c1/session", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/carts/c1/session", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
