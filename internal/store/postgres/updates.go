package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"execplane/internal/store"

	"github.com/google/uuid"
)

const updateJobColumns = "id, client_id, target_version, status, reason, created_at, updated_at"

func scanUpdateJob(row rowScanner) (*store.ClientUpdateJob, error) {
	var j store.ClientUpdateJob
	if err := row.Scan(&j.ID, &j.ClientID, &j.TargetVersion, &j.Status, &j.Reason, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) CreateUpdateJob(ctx context.Context, job *store.ClientUpdateJob) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO client_update_jobs (id, client_id, target_version, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, job.ID, job.ClientID, job.TargetVersion, job.Status).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create update job: %w", err)
	}
	return nil
}

func (s *Store) GetUpdateJob(ctx context.Context, id uuid.UUID) (*store.ClientUpdateJob, error) {
	job, err := scanUpdateJob(s.db.QueryRowContext(ctx, "SELECT "+updateJobColumns+" FROM client_update_jobs WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// TransitionUpdateJob uses a guarded UPDATE; when nothing matched, a probe
// tells a missing job apart from a job that already left QUEUED.
func (s *Store) TransitionUpdateJob(ctx context.Context, id uuid.UUID, to store.UpdateJobStatus, reason *string) (*store.ClientUpdateJob, error) {
	if to == store.UpdateJobQueued {
		return nil, fmt.Errorf("%w: -> %s", store.ErrInvalidTransition, to)
	}

	job, err := scanUpdateJob(s.db.QueryRowContext(ctx, `
		UPDATE client_update_jobs
		SET status = $2, reason = COALESCE($3, reason), updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING `+updateJobColumns,
		id, to, reason, store.UpdateJobQueued,
	))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition update job %s: %w", id, err)
	}

	var current store.UpdateJobStatus
	err = s.db.QueryRowContext(ctx, "SELECT status FROM client_update_jobs WHERE id = $1", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, current, to)
}
