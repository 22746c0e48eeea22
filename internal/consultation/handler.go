package consultation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"teleconsult/internal/platform/pagination"
	"teleconsult/internal/platform/respond"
)

type Handler struct {
	sessions *Sessions
	history  *HistoryStore
}

func NewHandler(sessions *Sessions, history *HistoryStore) *Handler {
	return &Handler{sessions: sessions, history: history}
}

type CreateConsultationRequest struct {
	PatientID string `json:"patientId"`
	Type      Type   `json:"type"`
}

func (h *Handler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	var req CreateConsultationRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if req.PatientID == "" {
		// walk-in patient without a registry id
		req.PatientID = uuid.NewString()
	}

	s, err := h.sessions.Start(r.Context(), req.PatientID, req.Type)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Failed to create consultation", err)
		return
	}

	respond.JSON(w, http.StatusCreated, map[string]interface{}{
		"success":        true,
		"consultationId": s.ID.String(),
		"patientId":      s.PatientID,
		"type":           s.Type,
	})
}

func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	data, err := s.AllData(r.Context())
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Failed to assemble consultation", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"data":        data,
		"completed":   s.Completed(),
		"syncPending": s.SyncPending(r.Context()),
	})
}

func (h *Handler) SaveStep(w http.ResponseWriter, r *http.Request) {
	step, err := ParseStep(chi.URLParam(r, "step"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid step", err)
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 5<<20))
	if err != nil || !json.Valid(raw) {
		respond.Error(w, http.StatusBadRequest, "Invalid step payload", err)
		return
	}
	payload, err := DecodeStep(step, raw)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid step payload", err)
		return
	}
	if err := s.SaveStep(payload); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			respond.Error(w, http.StatusConflict, "Consultation session is closed", err)
			return
		}
		respond.Error(w, http.StatusInternalServerError, "Failed to save step", err)
		return
	}

	respond.JSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"step":    step.String(),
	})
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.SyncNow(r.Context()); err != nil {
		// the data is still cached; the client keeps working
		respond.JSON(w, http.StatusAccepted, map[string]interface{}{
			"success":     false,
			"syncPending": true,
			"error":       err.Error(),
		})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "syncPending": false})
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid consultation ID", err)
		return
	}
	var report ReportStep
	if err := respond.Decode(r, &report); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid report", err)
		return
	}

	res, err := h.sessions.Finalize(r.Context(), id, report)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "Consultation not found", err)
			return
		}
		respond.Error(w, http.StatusInternalServerError, "Failed to finalize consultation", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"record":      res.Record,
		"syncPending": res.SyncPending,
	})
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid consultation ID", err)
		return
	}
	if err := h.sessions.Close(r.Context(), id); err != nil {
		respond.Error(w, http.StatusInternalServerError, "Failed to flush consultation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	page := h.history.ListHistory(r.Context(), patientID, pagination.FromRequest(r))
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"success": page.Status != HistoryUnavailable,
		"history": page,
	})
}

func (h *Handler) GetHistoryDetail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "recordID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid record ID", err)
		return
	}
	rec, err := h.history.GetDetail(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "Consultation not found", err)
			return
		}
		respond.Error(w, http.StatusServiceUnavailable, "Could not load consultation", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "record": rec})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid consultation ID", err)
		return nil, false
	}
	s, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "Consultation not found", err)
			return nil, false
		}
		respond.Error(w, http.StatusInternalServerError, "Failed to load consultation", err)
		return nil, false
	}
	return s, true
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/consultations", h.CreateConsultation)
	r.Get("/consultations/{id}", h.GetConsultation)
	r.Put("/consultations/{id}/steps/{step}", h.SaveStep)
	r.Post("/consultations/{id}/sync", h.Sync)
	r.Post("/consultations/{id}/finalize", h.Finalize)
	r.Delete("/consultations/{id}/session", h.CloseSession)
	r.Get("/patients/{patientID}/history", h.ListHistory)
	r.Get("/history/{recordID}", h.GetHistoryDetail)
}
