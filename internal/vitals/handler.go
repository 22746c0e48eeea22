package vitals

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"teleconsult/internal/platform/respond"
)

type Handler struct {
	cmp *Comparator
}

func NewHandler(cmp *Comparator) *Handler {
	if cmp == nil {
		cmp = NewComparator(DefaultRules())
	}
	return &Handler{cmp: cmp}
}

type CompareRequest struct {
	Previous Snapshot `json:"previous"`
	Current  Snapshot `json:"current"`
}

func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	cmp := h.cmp.Compare(req.Previous, req.Current)
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"comparison": cmp,
		"empty":      cmp.IsEmpty(),
	})
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/vitals/compare", h.Compare)
}
