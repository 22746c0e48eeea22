// Package followup drives the follow-up consultation workflow from patient
// lookup to the generated report.
package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teleconsult/internal/agent"
	"teleconsult/internal/consultation"
	"teleconsult/internal/generation"
	"teleconsult/internal/handoff"
	"teleconsult/internal/platform/pagination"
	"teleconsult/internal/vitals"
)

var (
	ErrInvalidTransition  = errors.New("followup: invalid transition")
	ErrValidation         = errors.New("followup: missing required data")
	ErrHistoryUnavailable = errors.New("followup: history unavailable")
)

type State string

const (
	StateSearch           State = "search"
	StateSummary          State = "summary"
	StateWorkflow         State = "workflow"
	StateClinicalCapture  State = "clinical-capture"
	StateImageComparison  State = "image-comparison"
	StateReportGeneration State = "report-generation"
	StateReportDisplay    State = "report-display"
)

// History is the part of consultation.HistoryStore the workflow reads.
type History interface {
	ListHistory(ctx context.Context, patientID string, p pagination.Params) consultation.HistoryPage
	GetDetail(ctx context.Context, id uuid.UUID) (consultation.Record, error)
}

type ReportGenerator interface {
	FollowUpReport(ctx context.Context, r generation.FollowUpReportRequest) (agent.Result[generation.FollowUpReport], error)
}

// Archiver stores the finished follow-up as a consultation record.
type Archiver interface {
	Archive(ctx context.Context, rec consultation.Record) (bool, error)
}

type Deps struct {
	History    History
	Reports    ReportGenerator
	Archiver   Archiver
	Comparator *vitals.Comparator
	Now        func() time.Time
	Logger     *zap.SugaredLogger
}

// Controller is the state machine of one follow-up. It moves forward one
// state at a time; Back and Regenerate are the only ways to return to an
// earlier state and they drop everything collected after it.
type Controller struct {
	ID uuid.UUID

	deps Deps
	log  *zap.SugaredLogger

	mu   sync.Mutex
	path []State

	patientID  string
	patient    consultation.Demographics
	history    []consultation.Record
	previous   *consultation.Record
	followType consultation.Type
	clinical   *consultation.ClinicalStep
	comparison *vitals.Comparison
	imagesOK   bool
	report     *agent.Result[generation.FollowUpReport]
	recordID   *uuid.UUID
	syncPend   bool
	lastError  string
	updatedAt  time.Time

	// generating is set while a report request runs without c.mu held.
	// epoch changes on every rewind so a late result for an abandoned
	// path is dropped.
	generating bool
	epoch      uint64
}

func NewController(deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.S()
	}
	if deps.Comparator == nil {
		deps.Comparator = vitals.NewComparator(vitals.DefaultRules())
	}
	id := uuid.New()
	return &Controller{
		ID:        id,
		deps:      deps,
		log:       deps.Logger.With("followup_id", id),
		path:      []State{StateSearch},
		updatedAt: deps.Now(),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *Controller) state() State { return c.path[len(c.path)-1] }

// View is a copy of the controller state for rendering.
type View struct {
	ID              uuid.UUID                  `json:"id"`
	State           State                      `json:"state"`
	Path            []State                    `json:"path"`
	PatientID       string                     `json:"patientId,omitempty"`
	Patient         consultation.Demographics  `json:"patient"`
	History         []consultation.Record      `json:"history"`
	Previous        *consultation.Record       `json:"previous,omitempty"`
	Type            consultation.Type          `json:"type,omitempty"`
	Clinical        *consultation.ClinicalStep `json:"clinical,omitempty"`
	Comparison      *vitals.Comparison         `json:"comparison,omitempty"`
	ImagesConfirmed bool                       `json:"imagesConfirmed"`
	Report          *generation.FollowUpReport `json:"report,omitempty"`
	Fallback        bool                       `json:"fallback"`
	FallbackReason  agent.FallbackReason       `json:"fallbackReason,omitempty"`
	RecordID        *uuid.UUID                 `json:"recordId,omitempty"`
	SyncPending     bool                       `json:"syncPending"`
	Generating      bool                       `json:"generating"`
	LastError       string                     `json:"lastError,omitempty"`
	UpdatedAt       time.Time                  `json:"updatedAt"`
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		ID:              c.ID,
		State:           c.state(),
		Path:            append([]State(nil), c.path...),
		PatientID:       c.patientID,
		Patient:         c.patient,
		History:         append([]consultation.Record{}, c.history...),
		Previous:        c.previous,
		Type:            c.followType,
		Clinical:        c.clinical,
		Comparison:      c.comparison,
		ImagesConfirmed: c.imagesOK,
		RecordID:        c.recordID,
		SyncPending:     c.syncPend,
		Generating:      c.generating,
		LastError:       c.lastError,
		UpdatedAt:       c.updatedAt,
	}
	if c.report != nil {
		rep := c.report.Value
		v.Report = &rep
		v.Fallback = c.report.Fallback
		v.FallbackReason = c.report.Reason
	}
	return v
}

func (c *Controller) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// Lookup loads the patient's history. With prior consultations the workflow
// shows their summary; without any it goes straight to the type selector. A
// failed load keeps the controller in search so the lookup can be retried.
func (c *Controller) Lookup(ctx context.Context, patientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(StateSearch); err != nil {
		return err
	}
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return fmt.Errorf("%w: patient id", ErrValidation)
	}

	page := c.deps.History.ListHistory(ctx, patientID, pagination.New(pagination.DefaultLimit, 0))
	if page.Status == consultation.HistoryUnavailable {
		c.lastError = page.Error
		c.touch()
		return ErrHistoryUnavailable
	}

	c.patientID = patientID
	c.history = page.Records
	c.previous = nil
	c.lastError = ""
	if len(page.Records) == 0 {
		c.enter(StateWorkflow)
		return nil
	}

	latest := page.Records[0]
	if full, err := c.deps.History.GetDetail(ctx, latest.ID); err == nil {
		latest = full
	} else {
		c.log.Warnw("using lightweight record as previous consultation", "consultation_id", latest.ID, "error", err)
	}
	c.previous = &latest
	c.patient = latest.Patient
	c.enter(StateSummary)
	return nil
}

// StartFromReferral skips the lookup: the registry supplied the patient.
func (c *Controller) StartFromReferral(ctx context.Context, p handoff.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(StateSearch); err != nil {
		return err
	}
	c.patientID = p.PatientID
	c.patient = p.Patient
	c.history = nil
	c.previous = nil
	if p.PreviousConsultationID != nil {
		rec, err := c.deps.History.GetDetail(ctx, *p.PreviousConsultationID)
		if err != nil {
			c.log.Warnw("referral names an unknown previous consultation", "consultation_id", *p.PreviousConsultationID, "error", err)
		} else {
			c.previous = &rec
			c.history = []consultation.Record{rec}
			if c.patientID == "" {
				c.patientID = rec.PatientID
			}
		}
	}
	c.lastError = ""
	c.enter(StateWorkflow)
	return nil
}

func (c *Controller) Proceed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(StateSummary); err != nil {
		return err
	}
	c.enter(StateWorkflow)
	return nil
}

func (c *Controller) SelectType(t consultation.Type) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(StateWorkflow); err != nil {
		return err
	}
	if !t.Valid() {
		return fmt.Errorf("%w: unknown follow-up type %q", ErrValidation, t)
	}
	c.followType = t
	c.enter(StateClinicalCapture)
	return nil
}

// SubmitClinical validates the form for the selected type and compares its
// vitals with the most recent prior consultation that recorded any.
func (c *Controller) SubmitClinical(form consultation.ClinicalStep) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(StateClinicalCapture); err != nil {
		return err
	}
	if missing := missingFields(c.followType, form); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(missing, ", "))
	}

	c.clinical = &form
	c.comparison = nil
	if prev, ok := c.previousVitals(); ok {
		cmp := c.deps.Comparator.Compare(prev, form.Vitals)
		c.comparison = &cmp
	}
	c.lastError = ""
	if c.followType == consultation.TypeDermatology {
		c.enter(StateImageComparison)
		return nil
	}
	c.enter(StateReportGeneration)
	return nil
}

func (c *Controller) ConfirmImages() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(StateImageComparison); err != nil {
		return err
	}
	c.imagesOK = true
	c.enter(StateReportGeneration)
	return nil
}

// GenerateReport requests the follow-up report. On error the controller
// stays in report-generation with LastError set. The controller stays
// readable while the request runs; a second request meanwhile is rejected.
func (c *Controller) GenerateReport(ctx context.Context) error {
	return c.generate(ctx, func() error {
		return c.expect(StateReportGeneration)
	})
}

// Regenerate discards the displayed report and generates a new one.
func (c *Controller) Regenerate(ctx context.Context) error {
	return c.generate(ctx, func() error {
		if err := c.expect(StateReportDisplay); err != nil {
			return err
		}
		c.rewind(StateReportGeneration)
		return nil
	})
}

// Back re-enters an earlier state of the current path and discards the data
// collected after it.
func (c *Controller) Back(target State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := -1
	for i, s := range c.path[:len(c.path)-1] {
		if s == target {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s is not behind %s", ErrInvalidTransition, target, c.state())
	}
	c.rewind(target)
	return nil
}

func (c *Controller) generate(ctx context.Context, prepare func() error) error {
	c.mu.Lock()
	if c.generating {
		c.mu.Unlock()
		return fmt.Errorf("%w: report generation already running", ErrInvalidTransition)
	}
	if err := prepare(); err != nil {
		c.mu.Unlock()
		return err
	}
	req := generation.FollowUpReportRequest{
		Type:     c.followType,
		Patient:  c.patient,
		Clinical: *c.clinical,
	}
	if c.previous != nil {
		req.Previous = *c.previous
	}
	c.generating = true
	epoch := c.epoch
	c.mu.Unlock()

	res, err := c.deps.Reports.FollowUpReport(ctx, req)

	c.mu.Lock()
	if c.epoch != epoch {
		c.generating = false
		c.mu.Unlock()
		c.log.Infow("dropping follow-up report for an abandoned workflow step")
		return fmt.Errorf("%w: workflow moved back during generation", ErrInvalidTransition)
	}
	if err != nil {
		c.generating = false
		c.lastError = err.Error()
		c.touch()
		c.mu.Unlock()
		c.log.Warnw("follow-up report generation failed", "error", err)
		return err
	}
	if res.Fallback {
		c.log.Infow("follow-up report generated from fallback", "reason", res.Reason)
	}
	c.report = &res
	c.lastError = ""
	c.enter(StateReportDisplay)
	rec := c.record()
	c.mu.Unlock()

	c.archive(ctx, rec, epoch)
	return nil
}

// record builds the consultation record of the displayed report. A
// regenerated report keeps the id of the one it replaces.
func (c *Controller) record() consultation.Record {
	id := uuid.New()
	if c.recordID != nil {
		id = *c.recordID
	}
	rep := c.report.Value.FullReport
	rec := consultation.Record{
		ID:             id,
		PatientID:      c.patientID,
		Type:           c.followType,
		Patient:        c.patient,
		ChiefComplaint: c.clinical.ChiefComplaint,
		Vitals:         c.clinical.Vitals,
		Images:         c.clinical.Images,
		Medications:    []consultation.Medication{},
		LabStudies:     []consultation.StudyRef{},
		ImagingStudies: []consultation.StudyRef{},
		Report:         &rep,
		CreatedAt:      c.deps.Now(),
	}
	if c.previous != nil {
		rec.Diagnosis = c.previous.Diagnosis
	}
	return rec
}

// archive stores rec and ends the generation started at epoch.
func (c *Controller) archive(ctx context.Context, rec consultation.Record, epoch uint64) {
	var (
		pending bool
		err     error
	)
	if c.deps.Archiver != nil {
		pending, err = c.deps.Archiver.Archive(ctx, rec)
		if err != nil {
			c.log.Errorw("could not archive follow-up consultation", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generating = false
	if c.deps.Archiver == nil || err != nil || c.epoch != epoch {
		return
	}
	id := rec.ID
	c.recordID = &id
	c.syncPend = pending
}

func (c *Controller) expect(s State) error {
	if cur := c.state(); cur != s {
		return fmt.Errorf("%w: in %s, expected %s", ErrInvalidTransition, cur, s)
	}
	return nil
}

func (c *Controller) enter(s State) {
	c.path = append(c.path, s)
	c.touch()
}

func (c *Controller) touch() {
	c.updatedAt = c.deps.Now()
}

// rewind truncates the path to the last occurrence of target and drops the
// data owned by every state after it.
func (c *Controller) rewind(target State) {
	for i := len(c.path) - 1; i >= 0; i-- {
		if c.path[i] == target {
			c.path = c.path[:i+1]
			break
		}
	}
	switch target {
	case StateSearch, StateSummary:
		c.followType = ""
		fallthrough
	case StateWorkflow:
		c.clinical = nil
		c.comparison = nil
		// a new follow-up from here is a new record
		c.recordID = nil
		c.syncPend = false
		fallthrough
	case StateClinicalCapture, StateImageComparison:
		c.imagesOK = false
		fallthrough
	case StateReportGeneration:
		c.report = nil
	}
	c.lastError = ""
	c.epoch++
	c.touch()
}

func (c *Controller) previousVitals() (vitals.Snapshot, bool) {
	if c.previous != nil && !c.previous.Vitals.IsEmpty() {
		return c.previous.Vitals, true
	}
	for _, r := range c.history {
		if !r.Vitals.IsEmpty() {
			return r.Vitals, true
		}
	}
	return vitals.Snapshot{}, false
}

func missingFields(t consultation.Type, f consultation.ClinicalStep) []string {
	var missing []string
	if strings.TrimSpace(f.ChiefComplaint) == "" {
		missing = append(missing, "chief complaint")
	}
	switch t {
	case consultation.TypeNormal:
		if f.Vitals.Systolic == nil || f.Vitals.Diastolic == nil {
			missing = append(missing, "blood pressure")
		}
	case consultation.TypeDermatology:
		if strings.TrimSpace(f.LesionLocation) == "" {
			missing = append(missing, "lesion location")
		}
		if len(f.Images) == 0 {
			missing = append(missing, "at least one image")
		}
	}
	return missing
}
