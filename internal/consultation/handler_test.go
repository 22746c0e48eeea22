package consultation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teleconsult/internal/cache"
)

func newTestRouter(t *testing.T) (http.Handler, fixture) {
	t.Helper()
	f := newFixture(t, cache.NewMemoryBackend(), NewMemoryRepository(), time.Hour)
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(f.sessions, NewHistoryStore(f.repo, nil)))
	return r, f
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHandler_ConsultationLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, body := do(t, router, http.MethodPost, "/consultations", CreateConsultationRequest{PatientID: "patient-9", Type: TypeChronic})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["consultationId"].(string)

	rec, _ = do(t, router, http.MethodPut, "/consultations/"+id+"/steps/clinical", ClinicalStep{ChiefComplaint: "polyuria"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, body = do(t, router, http.MethodGet, "/consultations/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "polyuria", data["clinical"].(map[string]interface{})["chiefComplaint"])

	rec, body = do(t, router, http.MethodPost, "/consultations/"+id+"/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["syncPending"])

	rec, body = do(t, router, http.MethodPost, "/consultations/"+id+"/finalize", ReportStep{Report: FullReport{Summary: "type 2 diabetes follow-up"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "completed", body["record"].(map[string]interface{})["status"])

	rec, body = do(t, router, http.MethodGet, "/patients/patient-9/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := body["history"].(map[string]interface{})
	assert.Equal(t, "loaded", history["status"])
	assert.EqualValues(t, 1, history["totalCount"])

	rec, body = do(t, router, http.MethodGet, "/history/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
}

func TestHandler_BadInput(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, body := do(t, router, http.MethodGet, "/consultations/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])

	rec, _ = do(t, router, http.MethodGet, "/consultations/7f1d9a52-3a57-4b8e-9a43-6a1c2f0de001", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, router, http.MethodPost, "/consultations", CreateConsultationRequest{PatientID: "p", Type: TypeNormal})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["consultationId"].(string)

	rec, _ = do(t, router, http.MethodPut, "/consultations/"+id+"/steps/billing", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, router, http.MethodDelete, "/consultations/"+id+"/session", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
