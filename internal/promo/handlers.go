package promo

import (
	"net/http"
	"time"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// Handler reports the promotional window state.
type Handler struct {
	Clock *Clock
}

// State handles GET /api/v1/promo.
func (h *Handler) State(w http.ResponseWriter, _ *http.Request) {
	if h.Clock == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promo clock not configured", nil)
		return
	}
	data := map[string]any{
		"active":     h.Clock.Active(),
		"hour":       h.Clock.Hour(),
		"startHour":  h.Clock.Window.StartHour,
		"endHour":    h.Clock.Window.EndHour,
		"timezone":   h.Clock.Window.location().String(),
		"overridden": h.Clock.Overridden(),
	}
	if next := h.Clock.NextBoundary(); !next.IsZero() {
		data["nextChangeAt"] = next.Format(time.RFC3339)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": data})
}
