package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// Lister enumerates product identifiers.
type Lister interface {
	IDs() []string
}

// Handler exposes public catalog endpoints.
type Handler struct {
	catalog Catalog
	lister  Lister
	promo   interface{ Active() bool }
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Catalog Catalog
	Lister  Lister
	Promo   interface{ Active() bool }
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{catalog: cfg.Catalog, lister: cfg.Lister, promo: cfg.Promo}
}

// Products handles GET /api/v1/products with pagination.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil || h.lister == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	ids := h.lister.IDs()
	start := (page - 1) * perPage
	if start > len(ids) {
		start = len(ids)
	}
	end := start + perPage
	if end > len(ids) {
		end = len(ids)
	}
	items := make([]map[string]any, 0, end-start)
	for _, id := range ids[start:end] {
		p, err := h.catalog.Product(r.Context(), id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		items = append(items, h.summary(p))
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(ids)))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: len(ids)},
	})
}

// ProductDetail handles GET /api/v1/products/{id}.
func (h *Handler) ProductDetail(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog not configured", nil)
		return
	}
	p, err := h.catalog.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := h.summary(p)
	out["policy"] = p.Policy
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// Price handles GET /api/v1/products/{id}/price?qty=N and previews the unit
// price a cart line of that quantity would get right now.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog not configured", nil)
		return
	}
	p, err := h.catalog.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	qty := common.AtoiDefault(r.URL.Query().Get("qty"), p.MinQuantity())
	if qty <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "qty must be positive", nil)
		return
	}
	active := h.promoActive()
	q := pricing.Resolve(p.Policy, qty, active)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"productId":          p.ID,
			"qty":                qty,
			"promoActive":        active,
			"source":             q.Source,
			"tierMinQuantity":    q.MinQuantity,
			"grossPricePerUnit":  q.GrossPricePerUnit.StringFixed(2),
			"taxableRatePerUnit": q.TaxableRatePerUnit.StringFixed(2),
		},
	})
}

func (h *Handler) promoActive() bool {
	return h.promo != nil && h.promo.Active()
}

func (h *Handler) summary(p Product) map[string]any {
	return map[string]any{
		"id":               p.ID,
		"name":             p.Name,
		"stock":            p.Stock,
		"minOrderQuantity": p.MinQuantity(),
		"grossUnitPrice":   p.Policy.GrossUnitPrice.StringFixed(2),
		"taxPercent":       p.Policy.TaxPercent.String(),
		"hasPromo":         p.Policy.HasPromo(),
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to load product", nil)
	}
}
