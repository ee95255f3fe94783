package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"muxd/internal/config"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "jobs.db")
	// Pragmas ride on the DSN so every connection in the database/sql pool
	// gets them; applying them with db.Exec would configure only one
	// pooled connection.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the filesystem location of the job database.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// NewJobParams describes a job to insert.
type NewJobParams struct {
	Inputs         []InputRef
	Options        MergeOptions
	CallbackURL    string
	IdempotencyKey string
}

// ErrDuplicateKey indicates an idempotency key already maps to a job.
var ErrDuplicateKey = errors.New("idempotency key already in use")

// NewJob inserts a new queued job. When the idempotency key collides with an
// existing job, ErrDuplicateKey is returned; callers resolve the existing job
// via FindByIdempotencyKey.
func (s *Store) NewJob(ctx context.Context, params NewJobParams) (*Job, error) {
	if len(params.Inputs) == 0 {
		return nil, errors.New("job requires at least one input")
	}

	inputsJSON, err := json.Marshal(params.Inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}
	optionsJSON, err := json.Marshal(params.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}

	id := uuid.NewString()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, idempotency_key, status, inputs_json, options_json,
            callback_url, created_at, updated_at, progress_percent
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		nullableString(params.IdempotencyKey),
		StatusQueued,
		string(inputsJSON),
		string(optionsJSON),
		nullableString(params.CallbackURL),
		timestamp,
		timestamp,
		0.0,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil when not found.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindByIdempotencyKey returns the job recorded for a caller-supplied key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*Job, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = ? LIMIT 1`,
		key,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by idempotency key: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	inputsJSON, err := json.Marshal(job.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	job.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, inputs_json = ?, options_json = ?, callback_url = ?,
             result_url = ?, error_kind = ?, error_message = ?,
             progress_stage = ?, progress_percent = ?, progress_message = ?,
             attempts = ?, updated_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		job.Status,
		string(inputsJSON),
		string(optionsJSON),
		nullableString(job.CallbackURL),
		nullableString(job.ResultURL),
		nullableString(job.ErrorKind),
		nullableString(job.ErrorMessage),
		nullableString(job.ProgressStage),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		job.Attempts,
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.LastHeartbeat),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// UpdateProgress persists only the progress fields of a job.
func (s *Store) UpdateProgress(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET progress_stage = ?, progress_percent = ?, progress_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(job.ProgressStage),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// ClaimNext atomically moves the oldest queued job to fetching and returns
// it. Returns nil when the queue is empty. The claim is a single conditional
// UPDATE: concurrent workers serialize on the write lock instead of racing to
// upgrade a deferred read transaction, so contention never surfaces as a
// busy error.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs
         SET status = ?, progress_stage = 'Fetching', progress_percent = 0,
             progress_message = 'fetch started', updated_at = ?, last_heartbeat = ?
         WHERE id = (SELECT id FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1)
           AND status = ?
         RETURNING id`,
		StatusFetching,
		now,
		now,
		StatusQueued,
		StatusQueued,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next queued: %w", err)
	}
	return s.GetByID(ctx, id)
}

// CancelQueued fails a job with the cancelled kind only if it has not been
// claimed yet. Returns true when the job was cancelled.
func (s *Store) CancelQueued(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, error_kind = ?, error_message = ?, result_url = NULL,
             progress_stage = 'Failed', progress_percent = 0, progress_message = ?,
             updated_at = ?, last_heartbeat = NULL
         WHERE id = ? AND status = ?`,
		StatusFailed,
		ErrorKindCancelled,
		CancelledMessage,
		CancelledMessage,
		now,
		id,
		StatusQueued,
	)
	if err != nil {
		return false, fmt.Errorf("cancel queued job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusDone:
			health.Done += count
		case StatusFailed:
			health.Failed += count
		default:
			if _, ok := processingStatuses[status]; ok {
				health.Processing += count
			}
		}
	}
	return health, nil
}

const jobColumns = "id, idempotency_key, status, inputs_json, options_json, callback_url, result_url, error_kind, error_message, progress_stage, progress_percent, progress_message, attempts, created_at, updated_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id               string
		idempotencyKey   sql.NullString
		statusStr        string
		inputsJSON       string
		optionsJSON      string
		callbackURL      sql.NullString
		resultURL        sql.NullString
		errorKind        sql.NullString
		errorMessage     sql.NullString
		progressStage    sql.NullString
		progressPercent  sql.NullFloat64
		progressMessage  sql.NullString
		attempts         sql.NullInt64
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&idempotencyKey,
		&statusStr,
		&inputsJSON,
		&optionsJSON,
		&callbackURL,
		&resultURL,
		&errorKind,
		&errorMessage,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&attempts,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		IdempotencyKey:  idempotencyKey.String,
		Status:          Status(statusStr),
		CallbackURL:     callbackURL.String,
		ResultURL:       resultURL.String,
		ErrorKind:       errorKind.String,
		ErrorMessage:    errorMessage.String,
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		Attempts:        int(attempts.Int64),
	}

	if err := json.Unmarshal([]byte(inputsJSON), &job.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs for job %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(optionsJSON), &job.Options); err != nil {
		return nil, fmt.Errorf("decode options for job %s: %w", id, err)
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
