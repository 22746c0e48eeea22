package vitals

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Compare(t *testing.T) {
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(nil))

	tests := []struct {
		name      string
		body      string
		code      int
		empty     bool
		hasMetric string
	}{
		{
			name:      "blood pressure improves",
			body:      `{"previous":{"systolic":165,"diastolic":95},"current":{"systolic":128,"diastolic":82}}`,
			code:      http.StatusOK,
			hasMetric: "bloodPressure",
		},
		{
			name:  "nothing comparable",
			body:  `{"previous":{"heartRate":70},"current":{}}`,
			code:  http.StatusOK,
			empty: true,
		},
		{
			name: "malformed",
			body: `{"previous":`,
			code: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/vitals/compare", strings.NewReader(tt.body)))
			require.Equal(t, tt.code, w.Code)
			if tt.code != http.StatusOK {
				return
			}
			var res struct {
				Success    bool                       `json:"success"`
				Empty      bool                       `json:"empty"`
				Comparison map[string]json.RawMessage `json:"comparison"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			assert.True(t, res.Success)
			assert.Equal(t, tt.empty, res.Empty)
			if tt.hasMetric != "" {
				assert.Contains(t, res.Comparison, tt.hasMetric)
			}
		})
	}
}
