package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/hip/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const runsTable = "smoke_runs"

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrRunNotFound is returned when a run lookup matches nothing.
var ErrRunNotFound = errors.New("run not found")

// Store provides database operations for recorded smoke runs.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Run is one recorded smoke check. It describes the checker's attempt, not
// any on-chain state.
type Run struct {
	ID          int64
	Program     string
	Instruction string
	Cluster     string
	ProgramID   *string
	Signature   *string // nil when the check failed before submission
	Status      string
	ErrorKind   *string
	Error       *string
	Slot        int64
	Duration    time.Duration
	WorkflowID  *string
	CreatedAt   time.Time
}

// CreateRunParams contains the parameters for recording a run.
type CreateRunParams struct {
	Program     string
	Instruction string
	Cluster     string
	ProgramID   *string
	Signature   *string
	Status      string
	ErrorKind   *string
	Error       *string
	Slot        int64
	Duration    time.Duration
	WorkflowID  *string
}

// ListRunsParams contains filter and pagination parameters. An empty
// Program lists runs of every program.
type ListRunsParams struct {
	Program string
	Limit   int32
	Offset  int32
}

const runColumns = `id, program, instruction, cluster, program_id, signature, status,
	error_kind, error, slot, duration_ms, workflow_id, created_at`

// EnsureSchema creates the runs table and its indexes if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, schemaSQL)
	s.record("ensure_schema", start, err)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateRun inserts a run record.
func (s *Store) CreateRun(ctx context.Context, params CreateRunParams) (*Run, error) {
	if params.Status != StatusSuccess && params.Status != StatusFailed {
		return nil, fmt.Errorf("invalid run status %q", params.Status)
	}

	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO smoke_runs (program, instruction, cluster, program_id, signature, status,
			error_kind, error, slot, duration_ms, workflow_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+runColumns,
		params.Program,
		params.Instruction,
		params.Cluster,
		pgtextFromStringPtr(params.ProgramID),
		pgtextFromStringPtr(params.Signature),
		params.Status,
		pgtextFromStringPtr(params.ErrorKind),
		pgtextFromStringPtr(params.Error),
		params.Slot,
		params.Duration.Milliseconds(),
		pgtextFromStringPtr(params.WorkflowID),
	)
	run, err := scanRun(row)
	s.record("insert", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM smoke_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	s.record("select", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// LatestRun retrieves the most recent run of a program.
func (s *Store) LatestRun(ctx context.Context, program string) (*Run, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM smoke_runs
		WHERE program = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, program)
	run, err := scanRun(row)
	s.record("select", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: program %s", ErrRunNotFound, program)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns retrieves runs newest first.
func (s *Store) ListRuns(ctx context.Context, params ListRunsParams) ([]*Run, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM smoke_runs
		WHERE ($1 = '' OR program = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, params.Program, params.Limit, params.Offset)
	if err != nil {
		s.record("select", start, err)
		return nil, err
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			s.record("select", start, err)
			return nil, err
		}
		runs = append(runs, run)
	}
	err = rows.Err()
	s.record("select", start, err)
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// CountRuns returns how many runs of a program ended with the given status.
// An empty status counts all runs.
func (s *Store) CountRuns(ctx context.Context, program, status string) (int64, error) {
	start := time.Now()
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM smoke_runs
		WHERE program = $1 AND ($2 = '' OR status = $2)`, program, status).Scan(&n)
	s.record("count", start, err)
	return n, err
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, runsTable, time.Since(start).Seconds(), err)
}

func scanRun(row pgx.Row) (*Run, error) {
	var (
		run        Run
		programID  pgtype.Text
		signature  pgtype.Text
		errorKind  pgtype.Text
		errMsg     pgtype.Text
		workflowID pgtype.Text
		durationMS int64
		createdAt  pgtype.Timestamptz
	)
	if err := row.Scan(
		&run.ID,
		&run.Program,
		&run.Instruction,
		&run.Cluster,
		&programID,
		&signature,
		&run.Status,
		&errorKind,
		&errMsg,
		&run.Slot,
		&durationMS,
		&workflowID,
		&createdAt,
	); err != nil {
		return nil, err
	}
	run.ProgramID = stringPtrFromPgtext(programID)
	run.Signature = stringPtrFromPgtext(signature)
	run.ErrorKind = stringPtrFromPgtext(errorKind)
	run.Error = stringPtrFromPgtext(errMsg)
	run.WorkflowID = stringPtrFromPgtext(workflowID)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	run.CreatedAt = createdAt.Time
	return &run, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
