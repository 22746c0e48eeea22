package followup

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"teleconsult/internal/consultation"
	"teleconsult/internal/handoff"
	"teleconsult/internal/platform/respond"
)

type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

// StartRequest opens a follow-up either from a patient id or from a referral
// handoff payload.
type StartRequest struct {
	PatientID string `json:"patientId"`
	Handoff   string `json:"handoff"`
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	c := h.mgr.New()
	var err error
	if req.Handoff != "" {
		var p handoff.Payload
		if p, err = handoff.Decode(req.Handoff); err == nil {
			err = c.StartFromReferral(r.Context(), p)
		}
	} else {
		err = c.Lookup(r.Context(), req.PatientID)
	}
	if err != nil && !errors.Is(err, ErrHistoryUnavailable) {
		h.mgr.Remove(c.ID)
		h.fail(w, err)
		return
	}
	// an unavailable history keeps the session in search for a retry
	respond.JSON(w, http.StatusCreated, map[string]interface{}{"success": err == nil, "followup": c.View()})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "followup": c.View()})
}

func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	h.apply(w, r, func(c *Controller) error { return c.Lookup(r.Context(), req.PatientID) })
}

func (h *Handler) Proceed(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(c *Controller) error { return c.Proceed() })
}

type selectTypeRequest struct {
	Type consultation.Type `json:"type"`
}

func (h *Handler) SelectType(w http.ResponseWriter, r *http.Request) {
	var req selectTypeRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	h.apply(w, r, func(c *Controller) error { return c.SelectType(req.Type) })
}

func (h *Handler) SubmitClinical(w http.ResponseWriter, r *http.Request) {
	var form consultation.ClinicalStep
	if err := respond.Decode(r, &form); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	h.apply(w, r, func(c *Controller) error { return c.SubmitClinical(form) })
}

func (h *Handler) ConfirmImages(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(c *Controller) error { return c.ConfirmImages() })
}

func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(c *Controller) error { return c.GenerateReport(r.Context()) })
}

func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(c *Controller) error { return c.Regenerate(r.Context()) })
}

type backRequest struct {
	To State `json:"to"`
}

func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	var req backRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	h.apply(w, r, func(c *Controller) error { return c.Back(req.To) })
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	h.mgr.Remove(c.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, fn func(*Controller) error) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := fn(c); err != nil {
		h.fail(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "followup": c.View()})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, handoff.ErrDecode):
		respond.Error(w, http.StatusUnprocessableEntity, err.Error(), err)
	case errors.Is(err, ErrInvalidTransition):
		respond.Error(w, http.StatusConflict, err.Error(), err)
	case errors.Is(err, ErrHistoryUnavailable):
		respond.Error(w, http.StatusServiceUnavailable, "Could not load consultation history", err)
	default:
		respond.Error(w, http.StatusInternalServerError, "Follow-up step failed", err)
	}
}

func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*Controller, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid follow-up ID", err)
		return nil, false
	}
	c, err := h.mgr.Get(id)
	if err != nil {
		respond.Error(w, http.StatusNotFound, "Follow-up not found", err)
		return nil, false
	}
	return c, true
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/followup", h.Start)
	r.Route("/followup/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/lookup", h.Lookup)
		r.Post("/proceed", h.Proceed)
		r.Post("/type", h.SelectType)
		r.Post("/clinical", h.SubmitClinical)
		r.Post("/images/confirm", h.ConfirmImages)
		r.Post("/report", h.GenerateReport)
		r.Post("/back", h.Back)
		r.Post("/regenerate", h.Regenerate)
	})
}
