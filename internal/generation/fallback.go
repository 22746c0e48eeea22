package generation

import (
	"fmt"
	"strings"

	"teleconsult/internal/consultation"
	"teleconsult/internal/vitals"
)

var baseQuestions = []string{
	"When did the symptoms start, and did they begin suddenly or gradually?",
	"How severe are the symptoms on a scale from 1 to 10?",
	"Has anything made the symptoms better or worse?",
	"Are you currently taking any medications or supplements?",
	"Do you have any known allergies?",
}

var typeQuestions = map[consultation.Type][]string{
	consultation.TypeChronic: {
		"Have you been taking your usual treatment as prescribed?",
		"Have you noticed any side effects from your current medications?",
		"Have your home measurements changed since the last visit?",
	},
	consultation.TypeDermatology: {
		"Has the lesion changed in size, shape or colour?",
		"Does the area itch, bleed or hurt?",
		"Have you used any creams or new products on the skin?",
	},
}

func fallbackQuestions(t consultation.Type) Questions {
	texts := append(append([]string{}, baseQuestions...), typeQuestions[t]...)
	out := Questions{Questions: make([]consultation.Question, 0, len(texts))}
	for i, q := range texts {
		out.Questions = append(out.Questions, consultation.Question{ID: fmt.Sprintf("q%d", i+1), Question: q})
	}
	return out
}

func fallbackDiagnosis(r DiagnosisRequest) Diagnosis {
	return Diagnosis{
		PrimaryDiagnosis: "Clinical evaluation pending: " + strings.TrimSpace(r.Clinical.ChiefComplaint),
		Differentials:    []string{},
		Reasoning:        "Automatic analysis was unavailable. The diagnosis must be established by the treating clinician.",
		Urgency:          "routine",
		RedFlags: []string{
			"Chest pain or shortness of breath",
			"Loss of consciousness or confusion",
			"High fever that does not respond to treatment",
		},
	}
}

// fallbackPrescription never suggests medication.
func fallbackPrescription(PrescriptionRequest) Prescription {
	return Prescription{
		Medications: []consultation.Medication{},
		LabStudies: []consultation.StudyRef{
			{Name: "Complete blood count", Urgency: "routine"},
			{Name: "Basic metabolic panel", Urgency: "routine"},
		},
		ImagingStudies: []consultation.StudyRef{},
		Recommendations: []string{
			"Prescription to be decided by the treating clinician.",
			"Seek in-person care if symptoms worsen.",
		},
	}
}

func fallbackReport(r ReportRequest) consultation.FullReport {
	rep := consultation.FullReport{
		Summary:       fmt.Sprintf("Consultation for %s.", strings.TrimSpace(r.Clinical.ChiefComplaint)),
		Anamnesis:     anamnesis(r.Clinical),
		Examination:   vitalsLine(r.Clinical.Vitals),
		TreatmentPlan: treatmentPlan(r.Prescription),
		FollowUpPlan:  "Review in 2 weeks or earlier if symptoms worsen.",
	}
	if r.Diagnosis != "" {
		rep.Summary += " Working diagnosis: " + r.Diagnosis + "."
	}
	return rep
}

func fallbackFollowUpReport(r FollowUpReportRequest, cmp vitals.Comparison) FollowUpReport {
	evolution := "No comparable measurements between the two consultations."
	if lines := cmp.Interpretations(); len(lines) > 0 {
		evolution = strings.Join(lines, ". ") + "."
	}
	rep := FollowUpReport{
		FullReport: consultation.FullReport{
			Summary:       fmt.Sprintf("Follow-up consultation for %s.", strings.TrimSpace(r.Clinical.ChiefComplaint)),
			Anamnesis:     anamnesis(r.Clinical),
			Examination:   vitalsLine(r.Clinical.Vitals),
			TreatmentPlan: "Continue the current treatment unless the clinician decides otherwise.",
			FollowUpPlan:  "Next follow-up in 4 weeks.",
		},
		Evolution: evolution,
	}
	if r.Previous.Diagnosis != "" {
		rep.Summary += " Previous diagnosis: " + r.Previous.Diagnosis + "."
	}
	switch r.Type {
	case consultation.TypeChronic:
		rep.DietPlan = "Maintain the diet agreed at the previous visit."
		rep.FollowUpPlan = "Next follow-up in 3 months with home measurements."
	case consultation.TypeDermatology:
		rep.LesionEvolution = fmt.Sprintf("%d new image(s) of %s to be compared by the clinician.",
			len(r.Clinical.Images), r.Clinical.LesionLocation)
	}
	if !cmp.IsEmpty() {
		rep.Comparison = &cmp
	}
	return rep
}

func anamnesis(c consultation.ClinicalStep) string {
	parts := []string{strings.TrimSpace(c.ChiefComplaint)}
	if len(c.Symptoms) > 0 {
		parts = append(parts, "Symptoms: "+strings.Join(c.Symptoms, ", "))
	}
	if c.SymptomDuration != "" {
		parts = append(parts, "Duration: "+c.SymptomDuration)
	}
	if c.HistoryOfIllness != "" {
		parts = append(parts, c.HistoryOfIllness)
	}
	return strings.Join(parts, ". ")
}

func vitalsLine(s vitals.Snapshot) string {
	var parts []string
	if s.Systolic != nil && s.Diastolic != nil {
		parts = append(parts, fmt.Sprintf("BP %.0f/%.0f mmHg", *s.Systolic, *s.Diastolic))
	}
	if s.HeartRate != nil {
		parts = append(parts, fmt.Sprintf("HR %.0f bpm", *s.HeartRate))
	}
	if s.Temperature != nil {
		parts = append(parts, fmt.Sprintf("T %.1f °C", *s.Temperature))
	}
	if s.Weight != nil {
		parts = append(parts, fmt.Sprintf("weight %.1f kg", *s.Weight))
	}
	if bmi := s.BMI(); bmi != nil {
		parts = append(parts, fmt.Sprintf("BMI %.1f", *bmi))
	}
	if s.Glucose != nil {
		parts = append(parts, fmt.Sprintf("glucose %.1f mmol/L", *s.Glucose))
	}
	if len(parts) == 0 {
		return "No vital signs recorded."
	}
	return strings.Join(parts, ", ")
}

func treatmentPlan(p Prescription) string {
	if len(p.Medications) == 0 {
		return "To be decided by the treating clinician."
	}
	lines := make([]string, 0, len(p.Medications))
	for _, m := range p.Medications {
		lines = append(lines, strings.TrimSpace(m.Name+" "+m.Dosage))
	}
	return strings.Join(lines, "; ")
}
