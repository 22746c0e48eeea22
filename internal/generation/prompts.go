package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"teleconsult/internal/consultation"
	"teleconsult/internal/vitals"
)

const systemPrompt = "You are a clinical decision support assistant for a licensed physician. " +
	"Answer with one JSON object matching the requested schema and nothing else."

func questionsPrompt(r QuestionsRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consultation type: %s\n", typeOrDefault(r.Type))
	writePatient(&b, r.Patient)
	writeClinical(&b, r.Clinical)
	b.WriteString("\nPropose 5 to 8 follow-up questions the physician should ask the patient.\n")
	b.WriteString(`Schema: {"questions": [{"id": "q1", "question": "..."}]}`)
	return b.String()
}

func diagnosisPrompt(r DiagnosisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consultation type: %s\n", typeOrDefault(r.Type))
	writePatient(&b, r.Patient)
	writeClinical(&b, r.Clinical)
	writeAnswers(&b, r.Questions)
	b.WriteString("\nSuggest the most likely diagnosis and the main differentials.\n")
	b.WriteString(`Schema: {"primaryDiagnosis": "...", "differentials": ["..."], "reasoning": "...", ` +
		`"urgency": "routine|soon|urgent", "redFlags": ["..."]}`)
	return b.String()
}

func prescriptionPrompt(r PrescriptionRequest) string {
	var b strings.Builder
	writePatient(&b, r.Patient)
	writeClinical(&b, r.Clinical)
	fmt.Fprintf(&b, "Diagnosis: %s\n", r.Diagnosis)
	if len(r.Allergies) > 0 {
		fmt.Fprintf(&b, "Known allergies: %s\n", strings.Join(r.Allergies, ", "))
	}
	b.WriteString("\nPropose medications with dosing, laboratory studies and imaging studies.\n")
	b.WriteString(`Schema: {"medications": [{"name": "...", "dosage": "..."}], ` +
		`"labStudies": [{"name": "...", "urgency": "routine|urgent"}], ` +
		`"imagingStudies": [{"name": "...", "urgency": "routine|urgent"}], "recommendations": ["..."]}`)
	return b.String()
}

func reportPrompt(r ReportRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consultation type: %s\n", typeOrDefault(r.Type))
	writePatient(&b, r.Patient)
	writeClinical(&b, r.Clinical)
	writeAnswers(&b, r.Questions)
	fmt.Fprintf(&b, "Diagnosis: %s\n", r.Diagnosis)
	writeJSON(&b, "Prescription", r.Prescription)
	b.WriteString("\nWrite the consultation report.\n")
	b.WriteString(`Schema: {"summary": "...", "anamnesis": "...", "examination": "...", ` +
		`"treatmentPlan": "...", "dietPlan": "...", "followUpPlan": "..."}`)
	return b.String()
}

func followUpPrompt(r FollowUpReportRequest, cmp vitals.Comparison) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Follow-up consultation type: %s\n", typeOrDefault(r.Type))
	writePatient(&b, r.Patient)
	fmt.Fprintf(&b, "Previous consultation (%s): complaint %q, diagnosis %q\n",
		r.Previous.CreatedAt.Format("2006-01-02"), r.Previous.ChiefComplaint, r.Previous.Diagnosis)
	if len(r.Previous.Medications) > 0 {
		writeJSON(&b, "Previous medications", r.Previous.Medications)
	}
	writeClinical(&b, r.Clinical)
	if lines := cmp.Interpretations(); len(lines) > 0 {
		fmt.Fprintf(&b, "Vital sign evolution: %s\n", strings.Join(lines, "; "))
	}

	b.WriteString("\nWrite the follow-up report comparing both consultations.\n")
	schema := `{"summary": "...", "anamnesis": "...", "examination": "...", "treatmentPlan": "...", ` +
		`"followUpPlan": "...", "evolution": "..."`
	switch r.Type {
	case consultation.TypeChronic:
		schema += `, "dietPlan": "..."`
	case consultation.TypeDermatology:
		schema += `, "lesionEvolution": "..."`
	}
	b.WriteString("Schema: " + schema + "}")
	return b.String()
}

func typeOrDefault(t consultation.Type) consultation.Type {
	if t == "" {
		return consultation.TypeNormal
	}
	return t
}

func writePatient(b *strings.Builder, p consultation.Demographics) {
	if name := p.FullName(); name != "" {
		fmt.Fprintf(b, "Patient: %s\n", name)
	}
	if p.Age > 0 {
		fmt.Fprintf(b, "Age: %d\n", p.Age)
	}
	if p.Sex != "" {
		fmt.Fprintf(b, "Sex: %s\n", p.Sex)
	}
}

func writeClinical(b *strings.Builder, c consultation.ClinicalStep) {
	fmt.Fprintf(b, "Chief complaint: %s\n", c.ChiefComplaint)
	if len(c.Symptoms) > 0 {
		fmt.Fprintf(b, "Symptoms: %s\n", strings.Join(c.Symptoms, ", "))
	}
	if c.SymptomDuration != "" {
		fmt.Fprintf(b, "Duration: %s\n", c.SymptomDuration)
	}
	if c.HistoryOfIllness != "" {
		fmt.Fprintf(b, "History of present illness: %s\n", c.HistoryOfIllness)
	}
	if c.LesionLocation != "" {
		fmt.Fprintf(b, "Lesion location: %s\n", c.LesionLocation)
	}
	if !c.Vitals.IsEmpty() {
		fmt.Fprintf(b, "Vital signs: %s\n", vitalsLine(c.Vitals))
	}
}

func writeAnswers(b *strings.Builder, qs []consultation.Question) {
	for _, q := range qs {
		if q.Answer == "" {
			continue
		}
		fmt.Fprintf(b, "Q: %s\nA: %s\n", q.Question, q.Answer)
	}
}

func writeJSON(b *strings.Builder, label string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, raw)
}
