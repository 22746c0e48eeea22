package handoff

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"teleconsult/internal/platform/respond"
)

type DecodeRequest struct {
	Payload string `json:"payload"`
}

func DecodeHandler(w http.ResponseWriter, r *http.Request) {
	var req DecodeRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	p, err := Decode(req.Payload)
	if err != nil {
		respond.Error(w, http.StatusUnprocessableEntity, "Could not read referral data", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "handoff": p})
}

func EncodeHandler(w http.ResponseWriter, r *http.Request) {
	var p Payload
	if err := respond.Decode(r, &p); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	s, err := Encode(p)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Could not encode referral data", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "payload": s})
}

func RegisterRoutes(r chi.Router) {
	r.Post("/handoff/decode", DecodeHandler)
	r.Post("/handoff/encode", EncodeHandler)
}
