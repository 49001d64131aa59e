package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/tapestry/internal/apperr"
	"github.com/starford/tapestry/internal/models"
)

const jobColumns = `id, type, status, progress, owner_id, tapestry_id, parent_id, archive_key,
	title, description, error, created_at, updated_at`

// CreateJob inserts a job record.
func (db *DB) CreateJob(ctx context.Context, j models.Job) error {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	if j.Status == "" {
		j.Status = models.JobPending
	}
	_, err := db.exec(ctx, `INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Type), string(j.Status), j.Progress, j.OwnerID, j.TapestryID, j.ParentID, j.ArchiveKey,
		j.Title, j.Description, j.Error, formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: insert job: %w", err)
	}
	return nil
}

// GetJob returns a job by ID.
func (db *DB) GetJob(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanJob(db.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return j, nil
}

// PendingJobs returns up to limit pending jobs, oldest first.
func (db *DB) PendingJobs(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at, id LIMIT ?`,
		string(models.JobPending), limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ClaimJob moves a pending job to processing. It reports false when the job
// was not pending, i.e. another worker owns it.
func (db *DB) ClaimJob(ctx context.Context, id string) (bool, error) {
	res, err := db.exec(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.JobProcessing), formatTime(time.Now()), id, string(models.JobPending))
	if err != nil {
		return false, fmt.Errorf("store: claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: claim job: %w", err)
	}
	return n == 1, nil
}

// UpdateJobProgress persists the progress of a running job.
func (db *DB) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	_, err := db.exec(ctx, `UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?`,
		progress, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: update job progress: %w", err)
	}
	return nil
}

// FinishJob moves a job to a terminal status with progress 1. tapestryID is
// recorded for completed jobs, code for failed ones.
func (db *DB) FinishJob(ctx context.Context, id string, status models.JobStatus, tapestryID, code string) error {
	if !status.Done() {
		return fmt.Errorf("store: finish job: %q is not a terminal status: %w", status, apperr.ErrInvalidInput)
	}
	res, err := db.exec(ctx, `UPDATE jobs SET status = ?, progress = 1, tapestry_id = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), tapestryID, code, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: finish job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j                    models.Job
		typ, status          string
		createdAt, updatedAt string
	)
	if err := row.Scan(&j.ID, &typ, &status, &j.Progress, &j.OwnerID, &j.TapestryID, &j.ParentID, &j.ArchiveKey,
		&j.Title, &j.Description, &j.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.Type = models.JobType(typ)
	j.Status = models.JobStatus(status)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}
