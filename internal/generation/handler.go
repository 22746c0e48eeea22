package generation

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"teleconsult/internal/agent"
	"teleconsult/internal/platform/respond"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

// Metadata accompanies every generation response. FallbackUsed is the only
// signal that the payload is a conservative default rather than model output.
type Metadata struct {
	FallbackUsed   bool                 `json:"fallbackUsed"`
	FallbackReason agent.FallbackReason `json:"fallbackReason,omitempty"`
	Model          string               `json:"model"`
	GeneratedAt    time.Time            `json:"generatedAt"`
	DurationMs     int64                `json:"durationMs"`
}

func (h *Handler) Questions(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "questions", h.svc.Questions)
}

func (h *Handler) Diagnosis(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "diagnosis", h.svc.Diagnosis)
}

func (h *Handler) Prescription(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "prescription", h.svc.Prescription)
}

func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "report", h.svc.Report)
}

func (h *Handler) FollowUpReport(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "report", h.svc.FollowUpReport)
}

// serve decodes Req, runs gen and writes the envelope. Model failures still
// answer 200 with success set; only malformed or incomplete input is refused.
func serve[Req, Out any](h *Handler, w http.ResponseWriter, r *http.Request, key string,
	gen func(context.Context, Req) (agent.Result[Out], error)) {
	var req Req
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	res, err := gen(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			respond.Error(w, http.StatusUnprocessableEntity, err.Error(), err)
			return
		}
		respond.Error(w, http.StatusInternalServerError, "Generation failed", err)
		return
	}
	respond.JSON(w, http.StatusOK, envelope(key, res, h.now()))
}

func envelope[T any](key string, res agent.Result[T], now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"success":  true,
		"fallback": res.Fallback,
		key:        res.Value,
		"metadata": Metadata{
			FallbackUsed:   res.Fallback,
			FallbackReason: res.Reason,
			Model:          res.Model,
			GeneratedAt:    now.UTC(),
			DurationMs:     res.Duration.Milliseconds(),
		},
	}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/generate", func(r chi.Router) {
		r.Post("/questions", h.Questions)
		r.Post("/diagnosis", h.Diagnosis)
		r.Post("/prescription", h.Prescription)
		r.Post("/report", h.Report)
		r.Post("/follow-up-report", h.FollowUpReport)
	})
}
