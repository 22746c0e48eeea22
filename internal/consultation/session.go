package consultation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teleconsult/internal/cache"
)

var ErrSessionClosed = errors.New("consultation session is closed")

// StepKey is the cache key of one step of a consultation.
func StepKey(id uuid.UUID, step Step) string {
	return fmt.Sprintf("consultation:%s:step:%d", id, step)
}

// RecordKey is the cache key of a finalized consultation record.
func RecordKey(id uuid.UUID) string {
	return fmt.Sprintf("consultation:%s:record", id)
}

type FinalizeResult struct {
	Record Record `json:"record"`
	// SyncPending is set when the record is complete locally but has not
	// reached the remote store yet.
	SyncPending bool `json:"syncPending"`
}

// Session holds the working state of one in-progress consultation. Steps are
// merged last-write-wins per step: edits to one step never touch another,
// but two writers on the same step keep only the later one.
type Session struct {
	ID        uuid.UUID
	PatientID string
	Type      Type
	CreatedAt time.Time

	steps    *cache.Cache[StepRecord]
	records  *cache.Cache[Record]
	repo     Repository
	debounce time.Duration
	now      func() time.Time
	log      *zap.SugaredLogger

	mu        sync.Mutex
	seq       uint64
	state     map[Step]StepRecord
	pending   map[Step]*time.Timer
	closed    bool
	completed bool

	// writeMu orders cache writes; written holds the last seq written per step.
	writeMu sync.Mutex
	written map[Step]uint64
}

func newSession(id uuid.UUID, patientID string, t Type, createdAt time.Time, deps sessionDeps) *Session {
	return &Session{
		ID:        id,
		PatientID: patientID,
		Type:      t,
		CreatedAt: createdAt,
		steps:     deps.steps,
		records:   deps.records,
		repo:      deps.repo,
		debounce:  deps.debounce,
		now:       deps.now,
		log:       deps.log.With("consultation_id", id),
		state:     make(map[Step]StepRecord),
		pending:   make(map[Step]*time.Timer),
		written:   make(map[Step]uint64),
	}
}

// restore loads steps left in the cache by an earlier session.
func (s *Session) restore(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range Steps {
		key := StepKey(s.ID, step)
		e, ok := s.steps.Get(ctx, key)
		if !ok {
			continue
		}
		if e.Stale {
			s.log.Infow("restoring stale cached step", "step", step, "cached_at", e.Timestamp)
		}
		s.state[step] = e.Payload
		s.written[step] = e.Payload.Seq
		if e.Payload.Seq > s.seq {
			s.seq = e.Payload.Seq
		}
		if e.Dirty {
			s.steps.Track(key)
		}
	}
}

// SaveStep records payload in memory and schedules a debounced cache write.
// It never blocks on I/O. Rapid calls for the same step coalesce into one
// write of the last payload.
func (s *Session) SaveStep(p StepPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.seq++
	rec, err := encodeStep(s.ID, p, s.seq, s.now())
	if err != nil {
		return err
	}
	step, seq := rec.Step, rec.Seq
	s.state[step] = rec

	if t, ok := s.pending[step]; ok {
		t.Stop()
	}
	s.pending[step] = time.AfterFunc(s.debounce, func() {
		s.flushStep(context.Background(), step, seq)
	})
	return nil
}

func (s *Session) flushStep(ctx context.Context, step Step, seq uint64) {
	s.mu.Lock()
	rec, ok := s.state[step]
	if !ok || rec.Seq != seq {
		// superseded by a newer edit
		s.mu.Unlock()
		return
	}
	delete(s.pending, step)
	s.mu.Unlock()

	if err := s.writeStep(ctx, rec); err != nil {
		s.log.Warnw("debounced save failed, step kept in memory", "step", step, "error", err)
	}
}

// writeStep refuses to replace a newer cached edit with an older one.
func (s *Session) writeStep(ctx context.Context, rec StepRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if rec.Seq <= s.written[rec.Step] {
		return nil
	}
	if err := s.steps.Set(ctx, StepKey(s.ID, rec.Step), rec); err != nil {
		return err
	}
	s.written[rec.Step] = rec.Seq
	return nil
}

// Flush writes every pending debounced save immediately.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	recs := make([]StepRecord, 0, len(s.pending))
	for step, t := range s.pending {
		t.Stop()
		recs = append(recs, s.state[step])
		delete(s.pending, step)
	}
	s.mu.Unlock()

	var errs []error
	for _, rec := range recs {
		if err := s.writeStep(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncNow flushes pending saves and pushes every step to the remote store.
func (s *Session) SyncNow(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		s.log.Warnw("flush before sync incomplete", "error", err)
	}

	s.mu.Lock()
	recs := make([]StepRecord, 0, len(s.state))
	for _, rec := range s.state {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	var errs []error
	for _, rec := range recs {
		err := s.steps.Sync(ctx, StepKey(s.ID, rec.Step))
		if errors.Is(err, cache.ErrNotCached) {
			// the cache write failed earlier; push the in-memory copy
			err = s.repo.SaveStep(ctx, s.ID, rec)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s step: %w", rec.Step, err))
		}
	}
	return errors.Join(errs...)
}

// AllData merges local and remote copies of every step. The remote copy is
// used only when it is strictly newer than the local one.
func (s *Session) AllData(ctx context.Context) (Data, error) {
	s.mu.Lock()
	local := make(map[Step]StepRecord, len(s.state))
	for k, v := range s.state {
		local[k] = v
	}
	s.mu.Unlock()

	remote, err := s.repo.LoadSteps(ctx, s.ID)
	if err != nil {
		s.log.Warnw("remote steps unavailable, using local copy", "error", err)
		remote = nil
	}

	data := Data{ConsultationID: s.ID, Type: s.Type, Sources: make(map[Step]Source)}
	for _, step := range Steps {
		l, hasLocal := local[step]
		r, hasRemote := remote[step]

		var (
			pick StepRecord
			src  Source
		)
		switch {
		case hasLocal && hasRemote && r.UpdatedAt.After(l.UpdatedAt):
			pick, src = r, SourceRemote
		case hasLocal:
			pick, src = l, SourceLocal
		case hasRemote:
			pick, src = r, SourceRemote
		default:
			continue
		}

		p, err := pick.Payload()
		if err != nil {
			return Data{}, err
		}
		data.put(p)
		data.Sources[step] = src
	}
	return data, nil
}

// Finalize attaches the report, completes the consultation and forces a
// sync. A failed sync does not fail Finalize; it sets SyncPending and the
// record stays dirty in the cache for the automatic sync to retry.
func (s *Session) Finalize(ctx context.Context, report ReportStep) (FinalizeResult, error) {
	if err := s.SaveStep(report); err != nil {
		return FinalizeResult{}, err
	}
	if err := s.Flush(ctx); err != nil {
		s.log.Warnw("could not cache final steps", "error", err)
	}

	data, err := s.AllData(ctx)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("assemble consultation: %w", err)
	}
	rec := data.Record(s.PatientID, s.CreatedAt)
	rec.Status = StatusCompleted
	rec.UpdatedAt = s.now()

	s.mu.Lock()
	s.completed = true
	s.mu.Unlock()

	res := FinalizeResult{Record: rec}
	if err := s.forceSync(ctx, rec); err != nil {
		s.log.Warnw("consultation finalized but not yet backed up", "error", err)
		res.SyncPending = true
	}
	return res, nil
}

func (s *Session) forceSync(ctx context.Context, rec Record) error {
	stepErr := s.SyncNow(ctx)

	key := RecordKey(s.ID)
	if err := s.records.Set(ctx, key, rec); err != nil {
		// no local copy to retry from: push directly
		return errors.Join(stepErr, s.repo.Save(ctx, &rec))
	}
	return errors.Join(stepErr, s.records.Sync(ctx, key))
}

// SyncPending reports whether a finalized record still waits for the remote
// store.
func (s *Session) SyncPending(ctx context.Context) bool {
	e, ok := s.records.Get(ctx, RecordKey(s.ID))
	return ok && e.Dirty
}

// Completed reports whether Finalize has run.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Close flushes pending saves and rejects further edits.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush(ctx)
}
