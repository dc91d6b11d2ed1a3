// Package pgstore implements coordinator.Store against Postgres via pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hwrig/testbed/coordinator"
)

// Store is a coordinator.Store backed by a pgxpool.Pool. Table names match
// the data model in the job-dispatch design: jobs(id, user_id,
// controller_id, code, status) and slots(user_id, controller_id, start_at,
// end_at).
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) NextPendingJob(ctx context.Context, controllerID int64) (*coordinator.Job, error) {
	const q = `
		SELECT j.id, j.user_id, j.controller_id, j.code, j.status
		FROM jobs j
		WHERE j.controller_id = $1
		  AND j.status = 'pending'
		  AND EXISTS (
			SELECT 1 FROM slots s
			WHERE s.controller_id = j.controller_id
			  AND s.user_id = j.user_id
			  AND s.start_at <= now() AND s.end_at > now()
		  )
		ORDER BY j.id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	job, err := scanJob(s.pool.QueryRow(ctx, q, controllerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: next pending job: %w", err)
	}
	return job, nil
}

func (s *Store) MarkRunning(ctx context.Context, jobID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'running' WHERE id = $1 AND status = 'pending'`, jobID)
	if err != nil {
		return fmt.Errorf("pgstore: mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coordinator.ErrInvalidOperationForStatus
	}
	return nil
}

func (s *Store) FinishJob(ctx context.Context, jobID int64, successful bool) error {
	status := "failed"
	if successful {
		status = "successful"
	}
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $2 WHERE id = $1 AND status IN ('pending', 'running')`, jobID, status)
	if err != nil {
		return fmt.Errorf("pgstore: finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coordinator.ErrInvalidOperationForStatus
	}
	return nil
}

func (s *Store) JobByID(ctx context.Context, jobID int64) (*coordinator.Job, error) {
	const q = `SELECT id, user_id, controller_id, code, status FROM jobs WHERE id = $1`
	job, err := scanJob(s.pool.QueryRow(ctx, q, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coordinator.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: job by id: %w", err)
	}
	return job, nil
}

func (s *Store) AbortPending(ctx context.Context, jobID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'failed' WHERE id = $1 AND status = 'pending'`, jobID)
	if err != nil {
		return fmt.Errorf("pgstore: abort pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coordinator.ErrInvalidOperationForStatus
	}
	return nil
}

func (s *Store) AbortRunning(ctx context.Context, jobID int64) (int64, error) {
	const q = `UPDATE jobs SET status = 'failed' WHERE id = $1 AND status = 'running' RETURNING controller_id`
	var controllerID int64
	err := s.pool.QueryRow(ctx, q, jobID).Scan(&controllerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, coordinator.ErrInvalidOperationForStatus
	}
	if err != nil {
		return 0, fmt.Errorf("pgstore: abort running: %w", err)
	}
	return controllerID, nil
}

func scanJob(row pgx.Row) (*coordinator.Job, error) {
	var (
		job    coordinator.Job
		status string
	)
	if err := row.Scan(&job.ID, &job.UserID, &job.ControllerID, &job.Code, &status); err != nil {
		return nil, err
	}
	job.Status = dbStatusToJobStatus(status)
	return &job, nil
}

func dbStatusToJobStatus(status string) coordinator.JobStatus {
	switch status {
	case "pending":
		return coordinator.JobPending
	case "running":
		return coordinator.JobRunning
	case "successful":
		return coordinator.JobSuccessful
	case "failed":
		return coordinator.JobFailed
	default:
		return coordinator.JobStatus(status)
	}
}
