package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/common"
)

var validate = validator.New()

// SessionStarter begins background price reconciliation for a cart.
type SessionStarter interface {
	Ensure(cartID string)
}

// Handler wires cart services to HTTP.
type Handler struct {
	Svc      *Service
	Sessions SessionStarter
	Currency string
}

type addItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Qty       int    `json:"qty" validate:"gt=0"`
}

// setQuantityRequest carries the quantity as typed by the shopper.
type setQuantityRequest struct {
	Qty json.RawMessage `json:"qty"`
}

// Get returns cart contents and order totals.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	cartID := chi.URLParam(r, "id")
	if h.Sessions != nil {
		h.Sessions.Ensure(cartID)
	}
	h.render(w, r, http.StatusOK, nil)
}

// AddItem adds a product or increases the quantity of its existing line.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "productId and a positive qty are required", validationDetails(err))
		return
	}
	cartID := chi.URLParam(r, "id")
	if _, err := h.Svc.AddProduct(r.Context(), cartID, payload.ProductID, payload.Qty); err != nil {
		h.writeError(w, err)
		return
	}
	if h.Sessions != nil {
		h.Sessions.Ensure(cartID)
	}
	h.render(w, r, http.StatusCreated, nil)
}

// Increment adds one unit to a line.
func (h *Handler) Increment(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	ch, err := h.Svc.Increment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, http.StatusOK, map[string]any{"applied": !ch.Noop})
}

// Decrement removes one unit from a line.
func (h *Handler) Decrement(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	ch, err := h.Svc.Decrement(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, http.StatusOK, map[string]any{"applied": !ch.Noop, "removed": ch.Removed})
}

// UpdateItem applies a directly entered quantity. Unusable input is ignored
// and reported with applied=false.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	ch, err := h.Svc.SetQuantity(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineId"), rawQuantity(payload.Qty))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, http.StatusOK, map[string]any{"applied": !ch.Noop})
}

// RemoveItem deletes a cart line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	if err := h.Svc.Remove(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineId")); err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, http.StatusOK, nil)
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	if err := h.Svc.Clear(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, extra map[string]any) {
	cartID := chi.URLParam(r, "id")
	totals, err := h.Svc.Totals(r.Context(), cartID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	lines := make([]map[string]any, 0, len(totals.Lines))
	for _, l := range totals.Lines {
		lines = append(lines, map[string]any{
			"id":              l.ID,
			"productId":       l.ProductID,
			"name":            l.Name,
			"qty":             l.Quantity,
			"unitGrossPrice":  l.UnitGrossPrice.StringFixed(2),
			"unitTaxableRate": l.UnitTaxableRate.StringFixed(2),
			"taxPercent":      l.TaxPercent.String(),
			"snapshotMissing": l.Policy == nil,
		})
	}
	body := map[string]any{
		"data": map[string]any{
			"cartId":   cartID,
			"currency": h.Currency,
			"lines":    lines,
			"summary": map[string]any{
				"items":   totals.Summary.Items,
				"taxable": totals.Summary.Taxable.StringFixed(2),
				"tax":     totals.Summary.Tax.StringFixed(2),
				"gross":   totals.Summary.Gross.StringFixed(2),
			},
		},
	}
	for k, v := range extra {
		body[k] = v
	}
	common.JSON(w, status, body)
}

// rawQuantity accepts both JSON numbers and strings so typed input reaches
// the parser as entered.
func rawQuantity(msg json.RawMessage) string {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(msg, &n); err == nil {
		return n.String()
	}
	return ""
}

func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+":"+fe.Tag())
	}
	return out
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = "BAD_REQUEST"
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, catalog.ErrProductNotFound):
		common.JSONError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrInsufficientStock):
		common.JSONError(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error(), nil)
	case errors.Is(err, ErrConflict):
		common.JSONError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		h.Svc.logger().Error().Err(err).Msg("cart request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process cart", nil)
	}
}
