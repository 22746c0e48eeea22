package consultation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"teleconsult/internal/platform/pagination"
)

var ErrNotFound = errors.New("consultation not found")

// Repository is the remote consultation store. Writes are last-write-wins.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	Save(ctx context.Context, r *Record) error
	// ListByPatient returns lightweight records, newest first, and the total
	// number of records for the patient.
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Record, int, error)
	SaveStep(ctx context.Context, id uuid.UUID, rec StepRecord) error
	LoadSteps(ctx context.Context, id uuid.UUID) (map[Step]StepRecord, error)
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	query := `SELECT document FROM consultations WHERE id = $1`

	var doc []byte
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var c Record
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal consultation %s: %w", id, err)
	}
	return &c, nil
}

func (r *postgresRepo) Save(ctx context.Context, c *Record) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = time.Now()
	if c.Type == "" {
		c.Type = TypeNormal
	}
	if c.Status == "" {
		c.Status = StatusInProgress
	}
	c.Lightweight = false
	c.HasReport = c.Report != nil

	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO consultations (id, patient_id, type, status, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			patient_id = $2,
			type = $3,
			status = $4,
			document = $5,
			updated_at = $7
	`
	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.PatientID, c.Type, c.Status, doc, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *postgresRepo) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Record, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM consultations WHERE patient_id = $1`, patientID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	// id breaks created_at ties so that offsets stay stable between pages
	rows, err := r.db.QueryContext(ctx, `
		SELECT document - 'report', document ? 'report'
		FROM consultations
		WHERE patient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var (
			doc       []byte
			hasReport bool
		)
		if err := rows.Scan(&doc, &hasReport); err != nil {
			return nil, 0, err
		}
		var c Record
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal consultation: %w", err)
		}
		c.HasReport = hasReport
		c.Lightweight = true
		records = append(records, c)
	}
	return records, total, rows.Err()
}

func (r *postgresRepo) SaveStep(ctx context.Context, id uuid.UUID, rec StepRecord) error {
	// an older write arriving late must not replace a newer one
	query := `
		INSERT INTO consultation_steps (consultation_id, step, seq, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (consultation_id, step) DO UPDATE SET
			seq = EXCLUDED.seq,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
		WHERE consultation_steps.updated_at <= EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, id, int(rec.Step), int64(rec.Seq), []byte(rec.Data), rec.UpdatedAt)
	return err
}

func (r *postgresRepo) LoadSteps(ctx context.Context, id uuid.UUID) (map[Step]StepRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT step, seq, data, updated_at FROM consultation_steps WHERE consultation_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Step]StepRecord)
	for rows.Next() {
		var (
			step int
			seq  int64
			rec  StepRecord
			data []byte
		)
		if err := rows.Scan(&step, &seq, &data, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.ConsultationID = id
		rec.Step = Step(step)
		rec.Seq = uint64(seq)
		rec.Data = data
		out[rec.Step] = rec
	}
	return out, rows.Err()
}

// MemoryRepository keeps records in process memory. Used when no database
// is configured and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
	steps   map[uuid.UUID]map[Step]StepRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[uuid.UUID]Record),
		steps:   make(map[uuid.UUID]map[Step]StepRecord),
	}
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(c), nil
}

func (m *MemoryRepository) Save(_ context.Context, c *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = time.Now()
	if c.Type == "" {
		c.Type = TypeNormal
	}
	if c.Status == "" {
		c.Status = StatusInProgress
	}
	c.Lightweight = false
	c.HasReport = c.Report != nil
	m.records[c.ID] = *cloneRecord(*c)
	return nil
}

func (m *MemoryRepository) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]Record, int, error) {
	m.mu.RLock()
	var all []Record
	for _, c := range m.records {
		if c.PatientID == patientID {
			all = append(all, *cloneRecord(c))
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() > all[j].ID.String()
	})

	total := len(all)
	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(total)
	page := all[start:end]
	for i := range page {
		page[i].Report = nil
		page[i].Lightweight = true
	}
	return page, total, nil
}

func (m *MemoryRepository) SaveStep(_ context.Context, id uuid.UUID, rec StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps, ok := m.steps[id]
	if !ok {
		steps = make(map[Step]StepRecord)
		m.steps[id] = steps
	}
	if cur, ok := steps[rec.Step]; ok && cur.UpdatedAt.After(rec.UpdatedAt) {
		return nil
	}
	rec.Data = append(json.RawMessage(nil), rec.Data...)
	steps[rec.Step] = rec
	return nil
}

func (m *MemoryRepository) LoadSteps(_ context.Context, id uuid.UUID) (map[Step]StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Step]StepRecord, len(m.steps[id]))
	for k, v := range m.steps[id] {
		out[k] = v
	}
	return out, nil
}

// cloneRecord deep-copies through JSON so callers cannot alias stored slices.
func cloneRecord(c Record) *Record {
	raw, err := json.Marshal(c)
	if err != nil {
		cp := c
		return &cp
	}
	var out Record
	if err := json.Unmarshal(raw, &out); err != nil {
		cp := c
		return &cp
	}
	out.Lightweight = c.Lightweight
	return &out
}
