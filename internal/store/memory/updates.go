package memory

import (
	"context"
	"fmt"

	"execplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateUpdateJob(ctx context.Context, job *store.ClientUpdateJob) error {
	s.updatesMu.Lock()
	defer s.updatesMu.Unlock()

	if _, ok := s.updates[job.ID]; ok {
		return fmt.Errorf("update job %s already exists", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.UpdatedAt = job.CreatedAt
	s.updates[job.ID] = cloneUpdateJob(job)
	return nil
}

func (s *Store) GetUpdateJob(ctx context.Context, id uuid.UUID) (*store.ClientUpdateJob, error) {
	s.updatesMu.Lock()
	defer s.updatesMu.Unlock()

	job, ok := s.updates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUpdateJob(job), nil
}

func (s *Store) TransitionUpdateJob(ctx context.Context, id uuid.UUID, to store.UpdateJobStatus, reason *string) (*store.ClientUpdateJob, error) {
	s.updatesMu.Lock()
	defer s.updatesMu.Unlock()

	job, ok := s.updates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if job.Status != store.UpdateJobQueued || to == store.UpdateJobQueued {
		return nil, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, job.Status, to)
	}

	job.Status = to
	if reason != nil {
		r := *reason
		job.Reason = &r
	}
	job.UpdatedAt = s.now()
	return cloneUpdateJob(job), nil
}

func cloneUpdateJob(j *store.ClientUpdateJob) *store.ClientUpdateJob {
	c := *j
	if j.TargetVersion != nil {
		v := *j.TargetVersion
		c.TargetVersion = &v
	}
	if j.Reason != nil {
		r := *j.Reason
		c.Reason = &r
	}
	return &c
}
