package respond

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Warnw("failed to encode response", "error", err)
	}
}

// Error logs err and writes {"success": false, "error": message}.
func Error(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		zap.S().With("error", err).Warnw(message, "status", status)
	}
	JSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// Decode reads a JSON request body into v.
func Decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
