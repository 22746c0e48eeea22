// Package generation turns consultation data into LLM prompts and decodes the
// answers, substituting conservative defaults whenever the model fails.
package generation

import (
	"errors"
	"fmt"
	"strings"

	"teleconsult/internal/consultation"
	"teleconsult/internal/vitals"
)

// ErrValidation marks a request missing data the prompt cannot do without.
var ErrValidation = errors.New("invalid generation request")

type QuestionsRequest struct {
	Type     consultation.Type         `json:"type"`
	Patient  consultation.Demographics `json:"patient"`
	Clinical consultation.ClinicalStep `json:"clinical"`
}

type Questions struct {
	Questions []consultation.Question `json:"questions"`
}

type DiagnosisRequest struct {
	Type      consultation.Type         `json:"type"`
	Patient   consultation.Demographics `json:"patient"`
	Clinical  consultation.ClinicalStep `json:"clinical"`
	Questions []consultation.Question   `json:"questions"`
}

type Diagnosis struct {
	PrimaryDiagnosis string   `json:"primaryDiagnosis"`
	Differentials    []string `json:"differentials"`
	Reasoning        string   `json:"reasoning"`
	Urgency          string   `json:"urgency"`
	RedFlags         []string `json:"redFlags"`
}

type PrescriptionRequest struct {
	Patient   consultation.Demographics `json:"patient"`
	Clinical  consultation.ClinicalStep `json:"clinical"`
	Diagnosis string                    `json:"diagnosis"`
	Allergies []string                  `json:"allergies,omitempty"`
}

type Prescription struct {
	Medications     []consultation.Medication `json:"medications"`
	LabStudies      []consultation.StudyRef   `json:"labStudies"`
	ImagingStudies  []consultation.StudyRef   `json:"imagingStudies"`
	Recommendations []string                  `json:"recommendations"`
}

type ReportRequest struct {
	Type         consultation.Type         `json:"type"`
	Patient      consultation.Demographics `json:"patient"`
	Clinical     consultation.ClinicalStep `json:"clinical"`
	Questions    []consultation.Question   `json:"questions"`
	Diagnosis    string                    `json:"diagnosis"`
	Prescription Prescription              `json:"prescription"`
}

// FollowUpReportRequest carries the new encounter and the prior one it is
// compared against. Comparison is filled by the service from the vitals.
type FollowUpReportRequest struct {
	Type     consultation.Type         `json:"type"`
	Patient  consultation.Demographics `json:"patient"`
	Previous consultation.Record       `json:"previous"`
	Clinical consultation.ClinicalStep `json:"clinical"`
}

type FollowUpReport struct {
	consultation.FullReport
	Evolution       string             `json:"evolution"`
	LesionEvolution string             `json:"lesionEvolution,omitempty"`
	Comparison      *vitals.Comparison `json:"comparison,omitempty"`
}

func (r QuestionsRequest) validate() error {
	if strings.TrimSpace(r.Clinical.ChiefComplaint) == "" {
		return fmt.Errorf("%w: chief complaint is required", ErrValidation)
	}
	return nil
}

func (r DiagnosisRequest) validate() error {
	if strings.TrimSpace(r.Clinical.ChiefComplaint) == "" {
		return fmt.Errorf("%w: chief complaint is required", ErrValidation)
	}
	return nil
}

func (r PrescriptionRequest) validate() error {
	if strings.TrimSpace(r.Diagnosis) == "" {
		return fmt.Errorf("%w: diagnosis is required", ErrValidation)
	}
	return nil
}

func (r ReportRequest) validate() error {
	if strings.TrimSpace(r.Clinical.ChiefComplaint) == "" {
		return fmt.Errorf("%w: chief complaint is required", ErrValidation)
	}
	return nil
}

func (r FollowUpReportRequest) validate() error {
	if strings.TrimSpace(r.Clinical.ChiefComplaint) == "" {
		return fmt.Errorf("%w: chief complaint is required", ErrValidation)
	}
	if r.Type != "" && !r.Type.Valid() {
		return fmt.Errorf("%w: unknown consultation type %q", ErrValidation, r.Type)
	}
	return nil
}
