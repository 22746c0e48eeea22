package consultation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teleconsult/internal/cache"
)

// FinalizeHook receives every finalized record. It runs in the background
// with a detached context.
type FinalizeHook func(ctx context.Context, r Record)

type SessionOptions struct {
	Debounce time.Duration
	Now      func() time.Time
	Logger   *zap.SugaredLogger
	// HookTimeout bounds the background OnFinalize call.
	HookTimeout time.Duration
}

type sessionDeps struct {
	steps    *cache.Cache[StepRecord]
	records  *cache.Cache[Record]
	repo     Repository
	debounce time.Duration
	now      func() time.Time
	log      *zap.SugaredLogger
}

// NewStepCache builds the step cache whose sync pushes steps to repo.
func NewStepCache(backend cache.Backend, repo Repository, opts cache.Options) *cache.Cache[StepRecord] {
	opts.Namespace = "steps"
	return cache.New[StepRecord](backend, func(ctx context.Context, _ string, rec StepRecord) error {
		return repo.SaveStep(ctx, rec.ConsultationID, rec)
	}, opts)
}

// NewRecordCache builds the cache of finalized records awaiting sync.
func NewRecordCache(backend cache.Backend, repo Repository, opts cache.Options) *cache.Cache[Record] {
	opts.Namespace = "records"
	return cache.New[Record](backend, func(ctx context.Context, _ string, r Record) error {
		return repo.Save(ctx, &r)
	}, opts)
}

// Sessions owns the open consultation sessions. A session is constructed on
// Start or Resume and torn down by Close or Finalize.
type Sessions struct {
	deps       sessionDeps
	history    *HistoryStore
	onFinalize FinalizeHook
	hookTTL    time.Duration

	mu   sync.Mutex
	open map[uuid.UUID]*Session
	wg   sync.WaitGroup
}

func NewSessions(repo Repository, steps *cache.Cache[StepRecord], records *cache.Cache[Record], history *HistoryStore, opts SessionOptions) *Sessions {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.S()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	if opts.HookTimeout <= 0 {
		opts.HookTimeout = 2 * time.Minute
	}
	return &Sessions{
		deps: sessionDeps{
			steps:    steps,
			records:  records,
			repo:     repo,
			debounce: opts.Debounce,
			now:      opts.Now,
			log:      opts.Logger,
		},
		history: history,
		hookTTL: opts.HookTimeout,
		open:    make(map[uuid.UUID]*Session),
	}
}

// OnFinalize registers the hook run after every successful Finalize.
func (m *Sessions) OnFinalize(h FinalizeHook) {
	m.onFinalize = h
}

// Start opens a new consultation. The initial record is pushed remotely on a
// best-effort basis; if that fails it stays cached for the automatic sync.
func (m *Sessions) Start(ctx context.Context, patientID string, t Type) (*Session, error) {
	if t == "" {
		t = TypeNormal
	}
	if !t.Valid() {
		return nil, errors.New("unknown consultation type " + string(t))
	}
	now := m.deps.now()
	s := newSession(uuid.New(), patientID, t, now, m.deps)

	rec := Record{
		ID:             s.ID,
		PatientID:      patientID,
		Type:           t,
		Status:         StatusInProgress,
		Medications:    []Medication{},
		LabStudies:     []StudyRef{},
		ImagingStudies: []StudyRef{},
		CreatedAt:      now,
	}
	key := RecordKey(s.ID)
	if err := m.deps.records.Set(ctx, key, rec); err != nil {
		if err := m.deps.repo.Save(ctx, &rec); err != nil {
			return nil, err
		}
	} else if err := m.deps.records.Sync(ctx, key); err != nil {
		m.deps.log.Warnw("new consultation not yet stored remotely", "consultation_id", s.ID, "error", err)
	}

	m.mu.Lock()
	m.open[s.ID] = s
	m.mu.Unlock()
	m.deps.log.Infow("consultation session started", "consultation_id", s.ID, "patient_id", patientID, "type", t)
	return s, nil
}

// Get returns the open session for id, resuming it from the cache or the
// remote store when it is not open in this process.
func (m *Sessions) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	s, ok := m.open[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}
	return m.resume(ctx, id)
}

func (m *Sessions) resume(ctx context.Context, id uuid.UUID) (*Session, error) {
	var rec Record
	if e, ok := m.deps.records.Get(ctx, RecordKey(id)); ok {
		rec = e.Payload
	} else {
		r, err := m.deps.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		rec = *r
	}

	s := newSession(id, rec.PatientID, rec.Type, rec.CreatedAt, m.deps)
	s.restore(ctx)
	s.completed = rec.Status == StatusCompleted

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.open[id]; ok {
		return existing, nil
	}
	m.open[id] = s
	m.deps.log.Infow("consultation session resumed", "consultation_id", id)
	return s, nil
}

// Close flushes and forgets the session.
func (m *Sessions) Close(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.open[id]
	delete(m.open, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// Finalize completes the session and hands the record to the finalize hook.
func (m *Sessions) Finalize(ctx context.Context, id uuid.UUID, report ReportStep) (FinalizeResult, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return FinalizeResult{}, err
	}
	res, err := s.Finalize(ctx, report)
	if err != nil {
		return FinalizeResult{}, err
	}
	if err := s.Close(ctx); err != nil {
		m.deps.log.Warnw("closing finalized session", "consultation_id", id, "error", err)
	}
	m.mu.Lock()
	delete(m.open, id)
	m.mu.Unlock()
	if m.history != nil {
		m.history.Forget(id)
	}

	m.runHook(res.Record)
	return res, nil
}

// Archive stores a completed record produced outside a session, such as a
// follow-up report, and runs the finalize hook. It reports whether the record
// still waits for the remote store.
func (m *Sessions) Archive(ctx context.Context, rec Record) (bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Status = StatusCompleted
	rec.HasReport = rec.Report != nil

	pending := false
	key := RecordKey(rec.ID)
	if err := m.deps.records.Set(ctx, key, rec); err != nil {
		if err := m.deps.repo.Save(ctx, &rec); err != nil {
			return false, err
		}
	} else if err := m.deps.records.Sync(ctx, key); err != nil {
		m.deps.log.Warnw("archived consultation not yet backed up", "consultation_id", rec.ID, "error", err)
		pending = true
	}
	if m.history != nil {
		m.history.Forget(rec.ID)
	}
	m.runHook(rec)
	return pending, nil
}

func (m *Sessions) runHook(r Record) {
	if m.onFinalize == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		bgCtx, cancel := context.WithTimeout(context.Background(), m.hookTTL)
		defer cancel()
		m.onFinalize(bgCtx, r)
	}()
}

// Shutdown flushes every open session and waits for finalize hooks.
func (m *Sessions) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.open))
	for _, s := range m.open {
		open = append(open, s)
	}
	m.open = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.wg.Wait()
	return errors.Join(errs...)
}
