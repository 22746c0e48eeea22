package consultation

import (
	"time"

	"github.com/google/uuid"

	"teleconsult/internal/vitals"
)

type Type string

const (
	TypeNormal      Type = "normal"
	TypeChronic     Type = "chronic"
	TypeDermatology Type = "dermatology"
)

// Valid reports whether t is one of the known consultation types.
func (t Type) Valid() bool {
	switch t {
	case TypeNormal, TypeChronic, TypeDermatology:
		return true
	}
	return false
}

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Demographics is owned by the patient registry; consultations only read it.
type Demographics struct {
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	DateOfBirth string   `json:"dateOfBirth,omitempty"`
	Age         int      `json:"age,omitempty"`
	Sex         string   `json:"sex,omitempty"`
	Height      *float64 `json:"height,omitempty"` // cm
	Weight      *float64 `json:"weight,omitempty"` // kg
	Phone       string   `json:"phone,omitempty"`
	Email       string   `json:"email,omitempty"`
}

// FullName joins first and last name.
func (d Demographics) FullName() string {
	switch {
	case d.FirstName == "":
		return d.LastName
	case d.LastName == "":
		return d.FirstName
	}
	return d.FirstName + " " + d.LastName
}

type Medication struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
}

// StudyRef points at an ordered or reported lab or imaging study.
type StudyRef struct {
	Name      string `json:"name"`
	Urgency   string `json:"urgency,omitempty"`
	Reference string `json:"reference,omitempty"`
}

type ImageRef struct {
	URL     string    `json:"url"`
	Label   string    `json:"label,omitempty"`
	TakenAt time.Time `json:"takenAt,omitempty"`
}

// FullReport holds the structured sections only loaded for detail views.
type FullReport struct {
	Summary       string `json:"summary,omitempty"`
	Anamnesis     string `json:"anamnesis,omitempty"`
	Examination   string `json:"examination,omitempty"`
	TreatmentPlan string `json:"treatmentPlan,omitempty"`
	DietPlan      string `json:"dietPlan,omitempty"`
	FollowUpPlan  string `json:"followUpPlan,omitempty"`
}

// Record is one clinical encounter. List views receive the lightweight
// variant: Report is nil and Lightweight is set.
type Record struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	PatientID      string          `json:"patientId" db:"patient_id"`
	Type           Type            `json:"type" db:"type"`
	Status         Status          `json:"status" db:"status"`
	Patient        Demographics    `json:"patient"`
	ChiefComplaint string          `json:"chiefComplaint"`
	Diagnosis      string          `json:"diagnosis"`
	Vitals         vitals.Snapshot `json:"vitals"`
	Medications    []Medication    `json:"medications"`
	LabStudies     []StudyRef      `json:"labStudies"`
	ImagingStudies []StudyRef      `json:"imagingStudies"`
	Images         []ImageRef      `json:"images,omitempty"`
	Report         *FullReport     `json:"report,omitempty"`
	HasReport      bool            `json:"hasReport"`
	Lightweight    bool            `json:"_lightweight,omitempty"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}
