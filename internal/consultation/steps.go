package consultation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"teleconsult/internal/vitals"
)

var ErrUnknownStep = errors.New("unknown consultation step")

// Step indexes the sequential stages of a consultation.
type Step int

const (
	StepPatient Step = iota
	StepClinical
	StepQuestions
	StepDiagnosis
	StepReport
)

// Steps lists every step in workflow order.
var Steps = []Step{StepPatient, StepClinical, StepQuestions, StepDiagnosis, StepReport}

var stepNames = map[Step]string{
	StepPatient:   "patient",
	StepClinical:  "clinical",
	StepQuestions: "questions",
	StepDiagnosis: "diagnosis",
	StepReport:    "report",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "step(" + strconv.Itoa(int(s)) + ")"
}

// ParseStep accepts a step index ("0".."4") or name ("clinical", "report").
func ParseStep(v string) (Step, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if i, err := strconv.Atoi(v); err == nil {
		s := Step(i)
		if _, ok := stepNames[s]; ok {
			return s, nil
		}
		return 0, fmt.Errorf("%w: %d", ErrUnknownStep, i)
	}
	for s, n := range stepNames {
		if n == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStep, v)
}

// StepPayload is one of PatientStep, ClinicalStep, QuestionsStep,
// DiagnosisStep or ReportStep.
type StepPayload interface {
	Step() Step
}

type PatientStep struct {
	PatientID string       `json:"patientId"`
	Patient   Demographics `json:"patient"`
}

type ClinicalStep struct {
	ChiefComplaint   string          `json:"chiefComplaint"`
	Symptoms         []string        `json:"symptoms,omitempty"`
	SymptomDuration  string          `json:"symptomDuration,omitempty"`
	HistoryOfIllness string          `json:"historyOfIllness,omitempty"`
	Vitals           vitals.Snapshot `json:"vitals"`
	LesionLocation   string          `json:"lesionLocation,omitempty"`
	Images           []ImageRef      `json:"images,omitempty"`
}

type Question struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

type QuestionsStep struct {
	Questions []Question `json:"questions"`
	Fallback  bool       `json:"fallback,omitempty"`
}

type DiagnosisStep struct {
	PrimaryDiagnosis string       `json:"primaryDiagnosis"`
	Differentials    []string     `json:"differentials,omitempty"`
	Medications      []Medication `json:"medications,omitempty"`
	LabStudies       []StudyRef   `json:"labStudies,omitempty"`
	ImagingStudies   []StudyRef   `json:"imagingStudies,omitempty"`
	Fallback         bool         `json:"fallback,omitempty"`
}

type ReportStep struct {
	Report   FullReport `json:"report"`
	Fallback bool       `json:"fallback,omitempty"`
}

func (PatientStep) Step() Step   { return StepPatient }
func (ClinicalStep) Step() Step  { return StepClinical }
func (QuestionsStep) Step() Step { return StepQuestions }
func (DiagnosisStep) Step() Step { return StepDiagnosis }
func (ReportStep) Step() Step    { return StepReport }

// StepRecord is the stored form of a step payload. Seq orders edits made
// within one session.
type StepRecord struct {
	ConsultationID uuid.UUID       `json:"consultationId"`
	Step           Step            `json:"step"`
	Seq            uint64          `json:"seq"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Data           json.RawMessage `json:"data"`
}

func encodeStep(id uuid.UUID, p StepPayload, seq uint64, at time.Time) (StepRecord, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return StepRecord{}, fmt.Errorf("encode %s step: %w", p.Step(), err)
	}
	return StepRecord{ConsultationID: id, Step: p.Step(), Seq: seq, UpdatedAt: at, Data: raw}, nil
}

// Payload decodes the stored data into its typed variant.
func (r StepRecord) Payload() (StepPayload, error) {
	return DecodeStep(r.Step, r.Data)
}

// DecodeStep decodes raw JSON into the payload type belonging to step.
func DecodeStep(step Step, raw json.RawMessage) (StepPayload, error) {
	var (
		p   StepPayload
		err error
	)
	switch step {
	case StepPatient:
		var v PatientStep
		err = json.Unmarshal(raw, &v)
		p = v
	case StepClinical:
		var v ClinicalStep
		err = json.Unmarshal(raw, &v)
		p = v
	case StepQuestions:
		var v QuestionsStep
		err = json.Unmarshal(raw, &v)
		p = v
	case StepDiagnosis:
		var v DiagnosisStep
		err = json.Unmarshal(raw, &v)
		p = v
	case StepReport:
		var v ReportStep
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStep, step)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s step: %w", step, err)
	}
	return p, nil
}

type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Data is the merged view of every step of a consultation.
type Data struct {
	ConsultationID uuid.UUID       `json:"consultationId"`
	Type           Type            `json:"type"`
	Patient        *PatientStep    `json:"patient,omitempty"`
	Clinical       *ClinicalStep   `json:"clinical,omitempty"`
	Questions      *QuestionsStep  `json:"questions,omitempty"`
	Diagnosis      *DiagnosisStep  `json:"diagnosis,omitempty"`
	Report         *ReportStep     `json:"report,omitempty"`
	Sources        map[Step]Source `json:"sources"`
}

func (d *Data) put(p StepPayload) {
	switch v := p.(type) {
	case PatientStep:
		d.Patient = &v
	case ClinicalStep:
		d.Clinical = &v
	case QuestionsStep:
		d.Questions = &v
	case DiagnosisStep:
		d.Diagnosis = &v
	case ReportStep:
		d.Report = &v
	}
}

// Record assembles the consultation record from the merged steps.
func (d Data) Record(patientID string, createdAt time.Time) Record {
	r := Record{
		ID:             d.ConsultationID,
		PatientID:      patientID,
		Type:           d.Type,
		Status:         StatusInProgress,
		Medications:    []Medication{},
		LabStudies:     []StudyRef{},
		ImagingStudies: []StudyRef{},
		CreatedAt:      createdAt,
	}
	if d.Patient != nil {
		r.Patient = d.Patient.Patient
		if d.Patient.PatientID != "" {
			r.PatientID = d.Patient.PatientID
		}
	}
	if d.Clinical != nil {
		r.ChiefComplaint = d.Clinical.ChiefComplaint
		r.Vitals = d.Clinical.Vitals
		r.Images = d.Clinical.Images
	}
	if d.Diagnosis != nil {
		r.Diagnosis = d.Diagnosis.PrimaryDiagnosis
		r.Medications = append(r.Medications, d.Diagnosis.Medications...)
		r.LabStudies = append(r.LabStudies, d.Diagnosis.LabStudies...)
		r.ImagingStudies = append(r.ImagingStudies, d.Diagnosis.ImagingStudies...)
	}
	if d.Report != nil {
		rep := d.Report.Report
		r.Report = &rep
		r.HasReport = true
	}
	return r
}
