package report

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"teleconsult/internal/consultation"
	"teleconsult/internal/vitals"
)

func sampleRecord() consultation.Record {
	return consultation.Record{
		ID:        uuid.MustParse("6f1c1b9e-2f7a-4d2c-9d3e-5b8a7c6d5e4f"),
		PatientID: "p-17",
		Type:      consultation.TypeChronic,
		Status:    consultation.StatusCompleted,
		Patient:   consultation.Demographics{FirstName: "Ana", LastName: "Ruiz"},
		Diagnosis: "Essential hypertension",
		Vitals: vitals.Snapshot{
			Systolic:  vitals.Value(150),
			Diastolic: vitals.Value(95),
			Weight:    vitals.Value(82),
			Height:    vitals.Value(170),
		},
		Medications: []consultation.Medication{{Name: "Losartan", Dosage: "50 mg daily"}},
		LabStudies:  []consultation.StudyRef{{Name: "Lipid panel", Urgency: "routine"}},
		Report:      &consultation.FullReport{Summary: "Stable", TreatmentPlan: "Continue therapy"},
		HasReport:   true,
		UpdatedAt:   time.Date(2024, 5, 14, 10, 30, 0, 0, time.UTC),
	}
}

// fakeRenderer produces one tiny document per non-empty kind.
type fakeRenderer struct {
	err error
}

func (f fakeRenderer) Render(kind Kind, rec consultation.Record) (Document, error) {
	switch kind {
	case KindConsultation:
	case KindPrescription:
		if len(rec.Medications) == 0 {
			return Document{}, ErrEmptyDocument
		}
	case KindLab:
		if len(rec.LabStudies) == 0 {
			return Document{}, ErrEmptyDocument
		}
	case KindImaging:
		if len(rec.ImagingStudies) == 0 {
			return Document{}, ErrEmptyDocument
		}
	default:
		return Document{}, ErrUnknownKind
	}
	return Document{Kind: kind, FileName: string(kind) + ".pdf", Data: []byte("%PDF-" + string(kind))}, nil
}

func (f fakeRenderer) RenderAll(rec consultation.Record) ([]Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	var docs []Document
	for _, k := range Kinds {
		d, err := f.Render(k, rec)
		if err == nil {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

type fakeNotifier struct {
	messages []string
	files    []string
	err      error
}

func (f *fakeNotifier) SendMessage(_ context.Context, _ int64, text string) error {
	f.messages = append(f.messages, text)
	return f.err
}

func (f *fakeNotifier) SendDocument(_ context.Context, _ int64, _ []byte, name, _ string) error {
	f.files = append(f.files, name)
	return f.err
}

type fakeArchive struct {
	keys []string
}

func (f *fakeArchive) Put(_ context.Context, key, contentType string, _ []byte) (string, error) {
	if contentType != "application/pdf" {
		return "", errors.New("unexpected content type")
	}
	f.keys = append(f.keys, key)
	return "s3://docs/" + key, nil
}

type fakePublisher struct {
	events []FinalizedEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, eventType, _ string, v interface{}) error {
	if eventType != EventFinalized {
		return errors.New("unexpected event " + eventType)
	}
	f.events = append(f.events, v.(FinalizedEvent))
	return f.err
}

func TestDeliver_AllSinks(t *testing.T) {
	n, a, p := &fakeNotifier{}, &fakeArchive{}, &fakePublisher{}
	svc := NewService(fakeRenderer{}, Options{
		Notifier: n, DoctorChatID: 99, Archive: a, Publisher: p, Logger: zap.NewNop().Sugar(),
	})
	rec := sampleRecord()

	d := svc.Deliver(context.Background(), rec)

	assert.Empty(t, d.Errors)
	assert.True(t, d.Notified)
	assert.True(t, d.Published)
	require.Len(t, d.Documents, 3)

	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "Ana Ruiz (p-17)")
	assert.Contains(t, n.messages[0], "Diagnosis: Essential hypertension")
	assert.Equal(t, []string{"consultation.pdf", "prescription.pdf", "lab.pdf"}, n.files)

	id := rec.ID.String()
	assert.Equal(t, []string{id + "/consultation.pdf", id + "/prescription.pdf", id + "/lab.pdf"}, a.keys)

	require.Len(t, p.events, 1)
	assert.Equal(t, id, p.events[0].ConsultationID)
	assert.Len(t, p.events[0].Documents, 3)
	assert.Equal(t, rec.UpdatedAt, p.events[0].FinalizedAt)
}

func TestDeliver_SinkFailuresAreCollected(t *testing.T) {
	n := &fakeNotifier{err: errors.New("bot blocked")}
	p := &fakePublisher{err: errors.New("broker down")}
	a := &fakeArchive{}
	svc := NewService(fakeRenderer{}, Options{
		Notifier: n, DoctorChatID: 99, Archive: a, Publisher: p, Logger: zap.NewNop().Sugar(),
	})

	d := svc.Deliver(context.Background(), sampleRecord())

	assert.False(t, d.Notified)
	assert.False(t, d.Published)
	assert.Len(t, d.Errors, 2)
	assert.Len(t, a.keys, 3, "archive still runs after telegram fails")
	assert.Empty(t, n.files, "documents are not sent after the summary fails")
}

func TestDeliver_NoChatDisablesTelegram(t *testing.T) {
	n := &fakeNotifier{}
	svc := NewService(fakeRenderer{}, Options{Notifier: n, Logger: zap.NewNop().Sugar()})

	d := svc.Deliver(context.Background(), sampleRecord())

	assert.False(t, d.Notified)
	assert.Empty(t, n.messages)
	assert.Empty(t, d.Errors)
}

func TestDeliver_RenderFailureStillPublishes(t *testing.T) {
	p := &fakePublisher{}
	svc := NewService(fakeRenderer{err: ErrNoFont}, Options{Publisher: p, Logger: zap.NewNop().Sugar()})

	d := svc.Deliver(context.Background(), sampleRecord())

	require.Len(t, d.Errors, 1)
	assert.ErrorIs(t, d.Errors[0], ErrNoFont)
	assert.True(t, d.Published)
	assert.Empty(t, p.events[0].Documents)
}

type recordSource map[uuid.UUID]consultation.Record

func (s recordSource) GetDetail(_ context.Context, id uuid.UUID) (consultation.Record, error) {
	r, ok := s[id]
	if !ok {
		return consultation.Record{}, consultation.ErrNotFound
	}
	return r, nil
}

func TestGetDocument(t *testing.T) {
	rec := sampleRecord()
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(recordSource{rec.ID: rec}, fakeRenderer{}))

	tests := []struct {
		name string
		path string
		code int
	}{
		{"consultation", "/consultations/" + rec.ID.String() + "/documents/consultation", http.StatusOK},
		{"lab", "/consultations/" + rec.ID.String() + "/documents/lab", http.StatusOK},
		{"no imaging ordered", "/consultations/" + rec.ID.String() + "/documents/imaging", http.StatusNotFound},
		{"unknown kind", "/consultations/" + rec.ID.String() + "/documents/xray", http.StatusBadRequest},
		{"unknown record", "/consultations/" + uuid.NewString() + "/documents/lab", http.StatusNotFound},
		{"bad id", "/consultations/nope/documents/lab", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
				assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
			}
		})
	}
}

func fontAvailable(r *PDFRenderer) bool {
	for _, p := range r.fontPaths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func TestPDFRenderer_RenderAll(t *testing.T) {
	r := NewPDFRenderer(os.Getenv("FONT_PATH"))
	if !fontAvailable(r) {
		t.Skip("DejaVuSans.ttf not installed")
	}

	docs, err := r.RenderAll(sampleRecord())
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for _, d := range docs {
		assert.True(t, bytes.HasPrefix(d.Data, []byte("%PDF")), d.Kind)
	}
	assert.Equal(t, "consultation_6f1c1b9e-2f7a-4d2c-9d3e-5b8a7c6d5e4f.pdf", docs[0].FileName)
}

func TestPDFRenderer_Errors(t *testing.T) {
	r := &PDFRenderer{fontPaths: []string{"/nonexistent/font.ttf"}, now: time.Now}

	_, err := r.Render(KindConsultation, sampleRecord())
	assert.ErrorIs(t, err, ErrNoFont)

	_, err = r.Render("xray", sampleRecord())
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = r.Render(KindImaging, sampleRecord())
	assert.ErrorIs(t, err, ErrEmptyDocument)
}
