package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"teleconsult/internal/consultation"
)

type Kind string

const (
	KindConsultation Kind = "consultation"
	KindPrescription Kind = "prescription"
	KindLab          Kind = "lab"
	KindImaging      Kind = "imaging"
)

var Kinds = []Kind{KindConsultation, KindPrescription, KindLab, KindImaging}

var (
	ErrNoFont        = errors.New("report: no usable font found")
	ErrUnknownKind   = errors.New("report: unknown document kind")
	ErrEmptyDocument = errors.New("report: nothing to print")
)

// DejaVuSans covers Latin, Cyrillic and Greek.
var defaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

const (
	fontName    = "DejaVu"
	textWidth   = 500.0
	pageBottom  = 780.0
	marginLeft  = 48.0
	lineHeight  = 14.0
	headingSize = 14
	bodySize    = 11
)

type Document struct {
	Kind     Kind   `json:"kind"`
	FileName string `json:"fileName"`
	Data     []byte `json:"-"`
}

type PDFRenderer struct {
	fontPaths []string
	now       func() time.Time
}

// NewPDFRenderer tries fontPath first, then the usual DejaVu locations.
func NewPDFRenderer(fontPath string) *PDFRenderer {
	paths := defaultFontPaths
	if fontPath != "" {
		paths = append([]string{fontPath}, defaultFontPaths...)
	}
	return &PDFRenderer{fontPaths: paths, now: time.Now}
}

// RenderAll renders the consultation report plus every order document that
// has content.
func (r *PDFRenderer) RenderAll(rec consultation.Record) ([]Document, error) {
	var docs []Document
	for _, k := range Kinds {
		d, err := r.Render(k, rec)
		if errors.Is(err, ErrEmptyDocument) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (r *PDFRenderer) Render(kind Kind, rec consultation.Record) (Document, error) {
	var build func(*page, consultation.Record) error
	switch kind {
	case KindConsultation:
		build = consultationPage
	case KindPrescription:
		if len(rec.Medications) == 0 {
			return Document{}, ErrEmptyDocument
		}
		build = prescriptionPage
	case KindLab:
		if len(rec.LabStudies) == 0 {
			return Document{}, ErrEmptyDocument
		}
		build = func(p *page, rec consultation.Record) error {
			return studiesPage(p, rec, "Laboratory orders", rec.LabStudies)
		}
	case KindImaging:
		if len(rec.ImagingStudies) == 0 {
			return Document{}, ErrEmptyDocument
		}
		build = func(p *page, rec consultation.Record) error {
			return studiesPage(p, rec, "Imaging orders", rec.ImagingStudies)
		}
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	p, err := r.newPage()
	if err != nil {
		return Document{}, err
	}
	if err := build(p, rec); err != nil {
		return Document{}, err
	}
	data, err := p.bytes()
	if err != nil {
		return Document{}, err
	}
	return Document{
		Kind:     kind,
		FileName: fmt.Sprintf("%s_%s.pdf", kind, rec.ID),
		Data:     data,
	}, nil
}

func (r *PDFRenderer) newPage() (*page, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})

	var fontErr error
	loaded := false
	for _, path := range r.fontPaths {
		if err := pdf.AddTTFFont(fontName, path); err == nil {
			loaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !loaded {
		return nil, fmt.Errorf("%w: %v", ErrNoFont, fontErr)
	}

	pdf.AddPage()
	return &page{pdf: pdf, now: r.now}, nil
}

type page struct {
	pdf *gopdf.GoPdf
	now func() time.Time
}

func (p *page) font(size int) error {
	return p.pdf.SetFont(fontName, "", size)
}

func (p *page) breakIfNeeded() {
	if p.pdf.GetY() > pageBottom {
		p.pdf.AddPage()
	}
}

func (p *page) line(text string) error {
	lines, err := p.pdf.SplitText(text, textWidth)
	if err != nil {
		// SplitText fails on empty input
		lines = []string{text}
	}
	for _, l := range lines {
		p.breakIfNeeded()
		p.pdf.SetX(marginLeft)
		if err := p.pdf.Cell(nil, l); err != nil {
			return err
		}
		p.pdf.Br(lineHeight)
	}
	return nil
}

func (p *page) title(text string) error {
	if err := p.font(20); err != nil {
		return err
	}
	p.pdf.SetX(marginLeft)
	if err := p.pdf.Cell(nil, text); err != nil {
		return err
	}
	p.pdf.Br(30)
	return p.font(bodySize)
}

func (p *page) section(heading, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	p.pdf.Br(6)
	if err := p.font(headingSize); err != nil {
		return err
	}
	if err := p.line(heading); err != nil {
		return err
	}
	if err := p.font(bodySize); err != nil {
		return err
	}
	for _, para := range strings.Split(body, "\n") {
		if err := p.line(para); err != nil {
			return err
		}
	}
	return nil
}

func (p *page) header(title string, rec consultation.Record) error {
	if err := p.title(title); err != nil {
		return err
	}
	lines := []string{
		"Date: " + p.now().Format("02.01.2006 15:04"),
		"Patient: " + patientLabel(rec),
		"Consultation: " + rec.ID.String(),
	}
	for _, l := range lines {
		if err := p.line(l); err != nil {
			return err
		}
	}
	p.pdf.Br(10)
	return nil
}

func (p *page) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func consultationPage(p *page, rec consultation.Record) error {
	if err := p.header("Consultation report", rec); err != nil {
		return err
	}
	sections := [][2]string{
		{"Consultation type", string(rec.Type)},
		{"Chief complaint", rec.ChiefComplaint},
		{"Vital signs", vitalsText(rec)},
		{"Diagnosis", rec.Diagnosis},
	}
	if rec.Report != nil {
		sections = append(sections,
			[2]string{"Summary", rec.Report.Summary},
			[2]string{"Anamnesis", rec.Report.Anamnesis},
			[2]string{"Examination", rec.Report.Examination},
			[2]string{"Treatment plan", rec.Report.TreatmentPlan},
			[2]string{"Diet plan", rec.Report.DietPlan},
			[2]string{"Follow-up plan", rec.Report.FollowUpPlan},
		)
	}
	sections = append(sections, [2]string{"Medications", medicationsText(rec.Medications)})
	for _, s := range sections {
		if err := p.section(s[0], s[1]); err != nil {
			return err
		}
	}
	return nil
}

func prescriptionPage(p *page, rec consultation.Record) error {
	if err := p.header("Prescription", rec); err != nil {
		return err
	}
	if err := p.section("Diagnosis", rec.Diagnosis); err != nil {
		return err
	}
	return p.section("Medications", medicationsText(rec.Medications))
}

func studiesPage(p *page, rec consultation.Record, title string, studies []consultation.StudyRef) error {
	if err := p.header(title, rec); err != nil {
		return err
	}
	if err := p.section("Diagnosis", rec.Diagnosis); err != nil {
		return err
	}
	lines := make([]string, 0, len(studies))
	for _, s := range studies {
		l := "- " + s.Name
		if s.Urgency != "" {
			l += " (" + s.Urgency + ")"
		}
		lines = append(lines, l)
	}
	return p.section("Requested studies", strings.Join(lines, "\n"))
}

func patientLabel(rec consultation.Record) string {
	if name := rec.Patient.FullName(); name != "" {
		return name + " (" + rec.PatientID + ")"
	}
	return rec.PatientID
}

func medicationsText(meds []consultation.Medication) string {
	lines := make([]string, 0, len(meds))
	for _, m := range meds {
		lines = append(lines, strings.TrimSpace("- "+m.Name+" "+m.Dosage))
	}
	return strings.Join(lines, "\n")
}

func vitalsText(rec consultation.Record) string {
	v := rec.Vitals
	var parts []string
	if v.Systolic != nil && v.Diastolic != nil {
		parts = append(parts, fmt.Sprintf("Blood pressure %.0f/%.0f mmHg", *v.Systolic, *v.Diastolic))
	}
	if v.HeartRate != nil {
		parts = append(parts, fmt.Sprintf("Heart rate %.0f bpm", *v.HeartRate))
	}
	if v.Temperature != nil {
		parts = append(parts, fmt.Sprintf("Temperature %.1f °C", *v.Temperature))
	}
	if v.Weight != nil {
		parts = append(parts, fmt.Sprintf("Weight %.1f kg", *v.Weight))
	}
	if bmi := v.BMI(); bmi != nil {
		parts = append(parts, fmt.Sprintf("BMI %.1f", *bmi))
	}
	if v.Glucose != nil {
		parts = append(parts, fmt.Sprintf("Glucose %.1f mmol/L", *v.Glucose))
	}
	return strings.Join(parts, "\n")
}
