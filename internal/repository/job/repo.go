package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/video-transcoder/internal/model"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinalized is returned when mutating a completed or failed job.
	ErrJobFinalized = errors.New("job already finalized")
)

const jobColumns = `id, owner_id, input_ref, input_filename, spec, status, outputs,
	error_detail, progress, created_at, updated_at, expires_at`

// Repository persists transcode jobs in PostgreSQL.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a pending job and returns its id.
func (r *Repository) Create(ctx context.Context, job model.Job) (uuid.UUID, error) {
	query := `
		INSERT INTO transcode_jobs (owner_id, input_ref, input_filename, spec, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	specJSON, err := json.Marshal(job.Spec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create: failed to marshal spec: %w", err)
	}

	var id uuid.UUID
	err = r.db.QueryRowContext(
		ctx, query, job.OwnerID, job.InputRef, job.InputFilename, specJSON, model.StatusPending, job.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create: failed to insert job: %w", err)
	}

	return id, nil
}

// Get returns the job with the given id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transcode_jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, ErrJobNotFound
		}
		return model.Job{}, fmt.Errorf("get: %w", err)
	}

	return job, nil
}

// ListByOwner returns the owner's jobs, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM transcode_jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	return r.list(ctx, query, ownerID, limit)
}

// ListExpired returns up to limit jobs whose retention horizon is at or
// before now, oldest first.
func (r *Repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM transcode_jobs
		WHERE expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`

	return r.list(ctx, query, now, limit)
}

// UpdateStatus moves a live job to status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error {
	query := `
		UPDATE transcode_jobs
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status IN ('pending', 'processing')
	`

	return r.mutate(ctx, "update status", id, query, status, id)
}

// UpdateOutputs replaces the artifact list of a live job.
func (r *Repository) UpdateOutputs(ctx context.Context, id uuid.UUID, outputs []model.OutputArtifact) error {
	query := `
		UPDATE transcode_jobs
		SET outputs = $1, updated_at = now()
		WHERE id = $2 AND status IN ('pending', 'processing')
	`

	outputsJSON, err := marshalOutputs(outputs)
	if err != nil {
		return err
	}

	return r.mutate(ctx, "update outputs", id, query, outputsJSON, id)
}

// UpdateProgress stores the overall percentage of a live job.
func (r *Repository) UpdateProgress(ctx context.Context, id uuid.UUID, percent int) error {
	query := `
		UPDATE transcode_jobs
		SET progress = $1, updated_at = now()
		WHERE id = $2 AND status IN ('pending', 'processing')
	`

	return r.mutate(ctx, "update progress", id, query, clampPercent(percent), id)
}

// Complete finalizes a job with its artifacts. error_detail stays empty;
// units that failed are visible only as gaps in outputs.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, outputs []model.OutputArtifact) error {
	query := `
		UPDATE transcode_jobs
		SET status = 'completed', outputs = $1, error_detail = '', progress = 100, updated_at = now()
		WHERE id = $2 AND status IN ('pending', 'processing')
	`

	outputsJSON, err := marshalOutputs(outputs)
	if err != nil {
		return err
	}

	return r.mutate(ctx, "complete", id, query, outputsJSON, id)
}

// Fail finalizes a job as failed. Outputs are cleared.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, detail string) error {
	query := `
		UPDATE transcode_jobs
		SET status = 'failed', outputs = '[]'::jsonb, error_detail = $1, updated_at = now()
		WHERE id = $2 AND status IN ('pending', 'processing')
	`

	return r.mutate(ctx, "fail", id, query, detail, id)
}

// Delete removes the job record.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `
		DELETE FROM transcode_jobs WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete: failed to delete job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: failed to get number of rows affected: %w", err)
	}

	if n == 0 {
		return ErrJobNotFound
	}

	return nil
}

func (r *Repository) list(ctx context.Context, query string, arg any, limit int) ([]model.Job, error) {
	rows, err := r.db.Master.QueryContext(ctx, query, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("list: failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]model.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: failed to iterate jobs: %w", err)
	}

	return jobs, nil
}

// mutate runs a guarded update and tells a missing job apart from a
// finalized one when nothing matched.
func (r *Repository) mutate(ctx context.Context, op string, id uuid.UUID, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: failed to update job: %w", op, err)
	}

	rows, _ := res.RowsAffected()
	if rows > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM transcode_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("%s: failed to read job status: %w", op, err)
	}

	return ErrJobFinalized
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (model.Job, error) {
	var (
		job         model.Job
		specBytes   []byte
		outputBytes []byte
	)

	err := row.Scan(
		&job.ID, &job.OwnerID, &job.InputRef, &job.InputFilename, &specBytes, &job.Status, &outputBytes,
		&job.ErrorDetail, &job.Progress, &job.CreatedAt, &job.UpdatedAt, &job.ExpiresAt,
	)
	if err != nil {
		return model.Job{}, err
	}

	if err := decodeColumns(&job, specBytes, outputBytes); err != nil {
		return model.Job{}, err
	}

	return job, nil
}

func decodeColumns(job *model.Job, specBytes, outputBytes []byte) error {
	if err := json.Unmarshal(specBytes, &job.Spec); err != nil {
		return fmt.Errorf("failed to unmarshal spec: %w", err)
	}

	job.Outputs = []model.OutputArtifact{}
	if len(outputBytes) > 0 {
		if err := json.Unmarshal(outputBytes, &job.Outputs); err != nil {
			return fmt.Errorf("failed to unmarshal outputs: %w", err)
		}
	}

	return nil
}

func marshalOutputs(outputs []model.OutputArtifact) ([]byte, error) {
	if outputs == nil {
		outputs = []model.OutputArtifact{}
	}
	b, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outputs: %w", err)
	}
	return b, nil
}

func clampPercent(p int) int {
	return max(0, min(100, p))
}
