package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"teleconsult/internal/consultation"
	"teleconsult/internal/platform/respond"
)

type RecordSource interface {
	GetDetail(ctx context.Context, id uuid.UUID) (consultation.Record, error)
}

type Handler struct {
	records  RecordSource
	renderer Renderer
}

func NewHandler(records RecordSource, renderer Renderer) *Handler {
	return &Handler{records: records, renderer: renderer}
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid consultation id", err)
		return
	}

	rec, err := h.records.GetDetail(r.Context(), id)
	if errors.Is(err, consultation.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "consultation not found", err)
		return
	}
	if err != nil {
		respond.Error(w, http.StatusServiceUnavailable, "history unavailable", err)
		return
	}

	doc, err := h.renderer.Render(Kind(chi.URLParam(r, "kind")), rec)
	switch {
	case errors.Is(err, ErrUnknownKind):
		respond.Error(w, http.StatusBadRequest, "unknown document kind", err)
		return
	case errors.Is(err, ErrEmptyDocument):
		respond.Error(w, http.StatusNotFound, "document has no content", err)
		return
	case err != nil:
		respond.Error(w, http.StatusInternalServerError, "failed to render document", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Data)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/consultations/{id}/documents/{kind}", h.GetDocument)
}
