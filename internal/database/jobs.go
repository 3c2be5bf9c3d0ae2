package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"zapis/internal/domain"
	"zapis/internal/models"
)

const jobColumns = `id, idempotency_key, job_type, booking_id, recipient, payload, status, attempts,
	last_error, run_at, locked_until, created_at, processed_at`

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.IdempotencyKey, &j.Type, &j.BookingID, &j.Recipient, &j.Payload, &j.Status,
		&j.Attempts, &j.LastError, &j.RunAt, &j.LockedUntil, &j.CreatedAt, &j.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob inserts the job unless another job with the same idempotency key
// exists. It reports whether a row was created.
func (db *DB) CreateJob(ctx context.Context, job *models.Job) (bool, error) {
	now := time.Now().UTC()
	if job.Status == "" {
		job.Status = models.JobPending
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	query := `INSERT INTO jobs (idempotency_key, job_type, booking_id, recipient, payload, status, attempts,
                  run_at, created_at)
              VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
              ON CONFLICT(idempotency_key) DO NOTHING`
	result, err := db.ExecContext(ctx, query, job.IdempotencyKey, job.Type, job.BookingID, job.Recipient,
		job.Payload, job.Status, job.RunAt.UTC(), now)
	if err != nil {
		return false, fmt.Errorf("failed to create job: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now
	return true, nil
}

func (db *DB) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	job, err := scanJob(db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetDueJobs lists pending or retrying jobs whose run time has come.
func (db *DB) GetDueJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
              WHERE status IN (?, ?) AND run_at <= ?
              ORDER BY run_at ASC LIMIT ?`
	return db.queryJobs(ctx, query, models.JobPending, models.JobRetry, now.UTC(), limit)
}

// ClaimJob leases a due job to the caller until leaseUntil. Only one caller wins.
func (db *DB) ClaimJob(ctx context.Context, id int64, now, leaseUntil time.Time) (bool, error) {
	query := `UPDATE jobs SET status = ?, locked_until = ?
              WHERE id = ? AND status IN (?, ?) AND run_at <= ?`
	result, err := db.ExecContext(ctx, query, models.JobProcessing, leaseUntil.UTC(), id,
		models.JobPending, models.JobRetry, now.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (db *DB) CompleteJob(ctx context.Context, id int64) error {
	query := `UPDATE jobs SET status = ?, locked_until = NULL, processed_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, models.JobCompleted, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (db *DB) RetryJob(ctx context.Context, id int64, attempts int, nextRun time.Time, lastErr string) error {
	query := `UPDATE jobs SET status = ?, attempts = ?, run_at = ?, last_error = ?, locked_until = NULL WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, models.JobRetry, attempts, nextRun.UTC(), lastErr, id); err != nil {
		return fmt.Errorf("failed to schedule job retry: %w", err)
	}
	return nil
}

// FailJob parks the job in the failed set.
func (db *DB) FailJob(ctx context.Context, id int64, attempts int, lastErr string) error {
	query := `UPDATE jobs SET status = ?, attempts = ?, last_error = ?, locked_until = NULL, processed_at = ?
              WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, models.JobFailed, attempts, lastErr, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

func (db *DB) GetFailedJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY processed_at DESC, id DESC LIMIT ?`
	return db.queryJobs(ctx, query, models.JobFailed, limit)
}

// RequeueJob returns a failed job to the queue with a fresh attempt budget.
func (db *DB) RequeueJob(ctx context.Context, id int64, now time.Time) error {
	query := `UPDATE jobs SET status = ?, attempts = 0, run_at = ?, last_error = NULL, processed_at = NULL
              WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query, models.JobPending, now.UTC(), id, models.JobFailed)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// ReleaseExpiredLeases hands jobs abandoned by a crashed worker back to the queue.
func (db *DB) ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE jobs SET status = ?, locked_until = NULL WHERE status = ? AND locked_until < ?`
	result, err := db.ExecContext(ctx, query, models.JobRetry, models.JobProcessing, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to release expired leases: %w", err)
	}
	return result.RowsAffected()
}

// CountJobsByStatus backs the queue depth gauge.
func (db *DB) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (db *DB) queryJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
