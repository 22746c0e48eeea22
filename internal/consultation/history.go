package consultation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"teleconsult/internal/platform/pagination"
)

type HistoryStatus string

const (
	HistoryLoaded      HistoryStatus = "loaded"
	HistoryEmpty       HistoryStatus = "empty"
	HistoryUnavailable HistoryStatus = "unavailable"
)

// HistoryPage is one page of a patient's consultations. A failed fetch is a
// page with Status HistoryUnavailable, never an empty HistoryEmpty page.
// Limit and Offset are the bounds actually applied, which differ from the
// request when its limit exceeded pagination.MaxLimit.
type HistoryPage struct {
	Records    []Record      `json:"records"`
	TotalCount int           `json:"totalCount"`
	HasMore    bool          `json:"hasMore"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
	Status     HistoryStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
}

// HistoryStore lists prior consultations and lazily loads full records.
// Pages come back newest first; offsets are stable only while no record is
// added for the patient between calls.
type HistoryStore struct {
	repo Repository
	log  *zap.SugaredLogger

	flight  singleflight.Group
	mu      sync.RWMutex
	details map[uuid.UUID]Record
}

func NewHistoryStore(repo Repository, log *zap.SugaredLogger) *HistoryStore {
	if log == nil {
		log = zap.S()
	}
	return &HistoryStore{
		repo:    repo,
		log:     log,
		details: make(map[uuid.UUID]Record),
	}
}

func (h *HistoryStore) ListHistory(ctx context.Context, patientID string, p pagination.Params) HistoryPage {
	records, total, err := h.repo.ListByPatient(ctx, patientID, p.Limit, p.Offset)
	if err != nil {
		h.log.Errorw("failed to load consultation history", "patient_id", patientID, "offset", p.Offset, "error", err)
		return HistoryPage{
			Records: []Record{},
			Limit:   p.Limit,
			Offset:  p.Offset,
			Status:  HistoryUnavailable,
			Error:   "could not load consultation history",
		}
	}

	page := HistoryPage{
		Records:    lo.Map(records, func(r Record, _ int) Record { return lightweight(r) }),
		TotalCount: total,
		HasMore:    p.HasNext(total),
		Limit:      p.Limit,
		Offset:     p.Offset,
		Status:     HistoryLoaded,
	}
	if total == 0 {
		page.Status = HistoryEmpty
	}
	return page
}

// GetDetail returns the full record. Each record is fetched at most once per
// store; concurrent callers for the same id share a single fetch. The
// returned record must be treated as read-only.
func (h *HistoryStore) GetDetail(ctx context.Context, id uuid.UUID) (Record, error) {
	if r, ok := h.cached(id); ok {
		return r, nil
	}
	v, err, shared := h.flight.Do(id.String(), func() (interface{}, error) {
		if r, ok := h.cached(id); ok {
			return r, nil
		}
		rec, err := h.repo.GetByID(ctx, id)
		if err != nil {
			return Record{}, err
		}
		full := normalize(*rec)
		h.mu.Lock()
		h.details[id] = full
		h.mu.Unlock()
		return full, nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("load consultation %s: %w", id, err)
	}
	if shared {
		h.log.Debugw("coalesced consultation detail fetch", "consultation_id", id)
	}
	return v.(Record), nil
}

// Forget drops a cached detail, e.g. after the record was finalized again.
func (h *HistoryStore) Forget(id uuid.UUID) {
	h.mu.Lock()
	delete(h.details, id)
	h.mu.Unlock()
}

func (h *HistoryStore) cached(id uuid.UUID) (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.details[id]
	return r, ok
}

// normalize gives every consultation type the same shape: type-specific
// fields are simply empty when a type does not use them.
func normalize(r Record) Record {
	if !r.Type.Valid() {
		r.Type = TypeNormal
	}
	if r.Status == "" {
		r.Status = StatusCompleted
	}
	if r.Medications == nil {
		r.Medications = []Medication{}
	}
	if r.LabStudies == nil {
		r.LabStudies = []StudyRef{}
	}
	if r.ImagingStudies == nil {
		r.ImagingStudies = []StudyRef{}
	}
	r.Medications = lo.Filter(r.Medications, func(m Medication, _ int) bool { return m.Name != "" })
	r.HasReport = r.HasReport || r.Report != nil
	r.Lightweight = false
	return r
}

func lightweight(r Record) Record {
	r = normalize(r)
	r.Report = nil
	r.Lightweight = true
	return r
}
