package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"teleconsult/internal/agent"
	"teleconsult/internal/consultation"
	"teleconsult/internal/vitals"
)

// Service generates each AI-assisted consultation artifact. Every method
// returns a usable value; Result.Fallback tells whether the model produced it.
// Only request validation errors are returned.
type Service struct {
	llm agent.Client
	cmp *vitals.Comparator
}

func NewService(llm agent.Client, cmp *vitals.Comparator) *Service {
	if cmp == nil {
		cmp = vitals.NewComparator(vitals.DefaultRules())
	}
	return &Service{llm: llm, cmp: cmp}
}

func (s *Service) Model() string { return s.llm.Model() }

func (s *Service) Questions(ctx context.Context, r QuestionsRequest) (agent.Result[Questions], error) {
	if err := r.validate(); err != nil {
		return agent.Result[Questions]{}, err
	}
	res := agent.Generate(ctx, s.llm, systemPrompt, questionsPrompt(r),
		func() Questions { return fallbackQuestions(r.Type) },
		func(q Questions) error {
			if len(q.Questions) == 0 {
				return errors.New("no questions")
			}
			return nil
		})
	for i := range res.Value.Questions {
		if res.Value.Questions[i].ID == "" {
			res.Value.Questions[i].ID = fmt.Sprintf("q%d", i+1)
		}
	}
	return res, nil
}

func (s *Service) Diagnosis(ctx context.Context, r DiagnosisRequest) (agent.Result[Diagnosis], error) {
	if err := r.validate(); err != nil {
		return agent.Result[Diagnosis]{}, err
	}
	return agent.Generate(ctx, s.llm, systemPrompt, diagnosisPrompt(r),
		func() Diagnosis { return fallbackDiagnosis(r) },
		func(d Diagnosis) error {
			if strings.TrimSpace(d.PrimaryDiagnosis) == "" {
				return errors.New("empty primary diagnosis")
			}
			return nil
		}), nil
}

func (s *Service) Prescription(ctx context.Context, r PrescriptionRequest) (agent.Result[Prescription], error) {
	if err := r.validate(); err != nil {
		return agent.Result[Prescription]{}, err
	}
	res := agent.Generate(ctx, s.llm, systemPrompt, prescriptionPrompt(r),
		func() Prescription { return fallbackPrescription(r) },
		func(p Prescription) error {
			for _, m := range p.Medications {
				if strings.TrimSpace(m.Name) == "" {
					return errors.New("medication without a name")
				}
			}
			return nil
		})
	res.Value = nonNil(res.Value)
	return res, nil
}

func (s *Service) Report(ctx context.Context, r ReportRequest) (agent.Result[consultation.FullReport], error) {
	if err := r.validate(); err != nil {
		return agent.Result[consultation.FullReport]{}, err
	}
	return agent.Generate(ctx, s.llm, systemPrompt, reportPrompt(r),
		func() consultation.FullReport { return fallbackReport(r) },
		func(rep consultation.FullReport) error {
			if strings.TrimSpace(rep.Summary) == "" {
				return errors.New("empty summary")
			}
			return nil
		}), nil
}

// FollowUpReport compares the new vitals with the previous consultation and
// attaches that comparison to the report whether or not the model answered.
func (s *Service) FollowUpReport(ctx context.Context, r FollowUpReportRequest) (agent.Result[FollowUpReport], error) {
	if err := r.validate(); err != nil {
		return agent.Result[FollowUpReport]{}, err
	}
	cmp := s.cmp.Compare(r.Previous.Vitals, r.Clinical.Vitals)
	res := agent.Generate(ctx, s.llm, systemPrompt, followUpPrompt(r, cmp),
		func() FollowUpReport { return fallbackFollowUpReport(r, cmp) },
		func(rep FollowUpReport) error {
			if strings.TrimSpace(rep.Summary) == "" {
				return errors.New("empty summary")
			}
			return nil
		})
	if !cmp.IsEmpty() {
		res.Value.Comparison = &cmp
	}
	return res, nil
}

func nonNil(p Prescription) Prescription {
	if p.Medications == nil {
		p.Medications = []consultation.Medication{}
	}
	if p.LabStudies == nil {
		p.LabStudies = []consultation.StudyRef{}
	}
	if p.ImagingStudies == nil {
		p.ImagingStudies = []consultation.StudyRef{}
	}
	if p.Recommendations == nil {
		p.Recommendations = []string{}
	}
	return p
}
