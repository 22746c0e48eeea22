package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"teleconsult/internal/consultation"
)

const EventFinalized = "consultation.finalized"

type Renderer interface {
	Render(kind Kind, rec consultation.Record) (Document, error)
	RenderAll(rec consultation.Record) ([]Document, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName, caption string) error
}

type Archive interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, eventType, key string, v interface{}) error
}

// Options holds the optional sinks. A nil sink is skipped.
type Options struct {
	Notifier     Notifier
	DoctorChatID int64
	Archive      Archive
	Publisher    Publisher
	Logger       *zap.SugaredLogger
}

type Service struct {
	renderer Renderer
	opts     Options
	log      *zap.SugaredLogger
}

func NewService(r Renderer, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.S()
	}
	if opts.Notifier != nil && opts.DoctorChatID == 0 {
		log.Warn("doctor chat id is not set, reports will not be sent to telegram")
		opts.Notifier = nil
	}
	return &Service{renderer: r, opts: opts, log: log}
}

// FinalizedEvent is published once a consultation is archived.
type FinalizedEvent struct {
	ConsultationID string            `json:"consultationId"`
	PatientID      string            `json:"patientId"`
	Type           consultation.Type `json:"type"`
	Diagnosis      string            `json:"diagnosis"`
	HasReport      bool              `json:"hasReport"`
	Documents      []string          `json:"documents"`
	FinalizedAt    time.Time         `json:"finalizedAt"`
}

// Delivery summarizes what each sink accepted.
type Delivery struct {
	Documents []Document
	Notified  bool
	Stored    []string
	Published bool
	Errors    []error
}

func (d *Delivery) fail(err error) {
	d.Errors = append(d.Errors, err)
}

// Deliver renders the documents of a finished consultation and hands them to
// every configured sink. Sink failures are logged and collected, never fatal.
func (s *Service) Deliver(ctx context.Context, rec consultation.Record) Delivery {
	var out Delivery

	docs, err := s.renderer.RenderAll(rec)
	if err != nil {
		s.log.Errorw("failed to render consultation documents", "consultation_id", rec.ID, "error", err)
		out.fail(err)
	}
	out.Documents = docs

	if s.opts.Notifier != nil {
		s.notify(ctx, rec, docs, &out)
	}
	if s.opts.Archive != nil {
		for _, d := range docs {
			key := fmt.Sprintf("%s/%s.pdf", rec.ID, d.Kind)
			loc, err := s.opts.Archive.Put(ctx, key, "application/pdf", d.Data)
			if err != nil {
				s.log.Errorw("failed to store document", "key", key, "error", err)
				out.fail(err)
				continue
			}
			out.Stored = append(out.Stored, loc)
		}
	}
	if s.opts.Publisher != nil {
		ev := FinalizedEvent{
			ConsultationID: rec.ID.String(),
			PatientID:      rec.PatientID,
			Type:           rec.Type,
			Diagnosis:      rec.Diagnosis,
			HasReport:      rec.HasReport,
			Documents:      out.Stored,
			FinalizedAt:    rec.UpdatedAt,
		}
		if err := s.opts.Publisher.Publish(ctx, EventFinalized, ev.ConsultationID, ev); err != nil {
			s.log.Errorw("failed to publish finalized event", "consultation_id", rec.ID, "error", err)
			out.fail(err)
		} else {
			out.Published = true
		}
	}

	s.log.Infow("consultation delivered",
		"consultation_id", rec.ID,
		"documents", len(out.Documents),
		"notified", out.Notified,
		"stored", len(out.Stored),
		"published", out.Published,
	)
	return out
}

// Hook adapts Deliver to consultation.FinalizeHook.
func (s *Service) Hook() consultation.FinalizeHook {
	return func(ctx context.Context, r consultation.Record) {
		s.Deliver(ctx, r)
	}
}

func (s *Service) notify(ctx context.Context, rec consultation.Record, docs []Document, out *Delivery) {
	chat := s.opts.DoctorChatID
	if err := s.opts.Notifier.SendMessage(ctx, chat, summary(rec)); err != nil {
		s.log.Errorw("failed to send telegram message", "chat_id", chat, "error", err)
		out.fail(err)
		return
	}
	for _, d := range docs {
		caption := strings.ToUpper(string(d.Kind[:1])) + string(d.Kind[1:])
		if err := s.opts.Notifier.SendDocument(ctx, chat, d.Data, d.FileName, caption); err != nil {
			s.log.Errorw("failed to send telegram document", "file", d.FileName, "error", err)
			out.fail(err)
			return
		}
	}
	out.Notified = true
}

func summary(rec consultation.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consultation finished: %s\n", patientLabel(rec))
	fmt.Fprintf(&b, "Type: %s\n", rec.Type)
	if rec.Diagnosis != "" {
		fmt.Fprintf(&b, "Diagnosis: %s\n", rec.Diagnosis)
	}
	if n := len(rec.Medications); n > 0 {
		fmt.Fprintf(&b, "Medications: %d\n", n)
	}
	if n := len(rec.LabStudies) + len(rec.ImagingStudies); n > 0 {
		fmt.Fprintf(&b, "Studies ordered: %d\n", n)
	}
	return strings.TrimRight(b.String(), "\n")
}
