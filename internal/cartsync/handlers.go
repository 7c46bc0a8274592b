package cartsync

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pricing/internal/cart"
	"github.com/noah-isme/toko-pricing/internal/common"
)

// Handler exposes session control for cart price reconciliation.
type Handler struct {
	Registry *Registry
}

// Sync handles POST /api/v1/carts/{id}/sync and runs a forced pass.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart sync not configured", nil)
		return
	}
	res, err := h.Registry.Sync(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, cart.ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "cart id is required", nil)
		return
	case errors.Is(err, ErrClosed):
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "cart sync is shutting down", nil)
		return
	case errors.Is(err, ErrBusy):
		common.JSONError(w, http.StatusConflict, "SYNC_BUSY", "a reconciliation pass is already running", nil)
		return
	case err != nil:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to reconcile cart", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

// EndSession handles DELETE /api/v1/carts/{id}/session.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart sync not configured", nil)
		return
	}
	if !h.Registry.Release(chi.URLParam(r, "id")) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no active session", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
