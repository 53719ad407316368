// Package clientupdate dispatches self-update jobs to remote clients.
package clientupdate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"execplane/internal/logger"
	"execplane/internal/metrics"
	"execplane/internal/store"
	"execplane/internal/transport"

	"github.com/google/uuid"
)

// Dispatcher creates update jobs and applies delivery acknowledgements.
// Jobs are independent: every trigger creates a new job.
type Dispatcher struct {
	jobs      store.UpdateJobStore
	transport transport.Transport
	metrics   metrics.Sink
	logger    *slog.Logger
}

func NewDispatcher(jobs store.UpdateJobStore, t transport.Transport, m metrics.Sink, log *slog.Logger) *Dispatcher {
	if m == nil {
		m = metrics.NewNoopSink()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{jobs: jobs, transport: t, metrics: m, logger: log}
}

// Trigger queues an update for clientID. A nil targetVersion means latest.
// A delivery failure is recorded on the returned job, not returned as an error.
func (d *Dispatcher) Trigger(ctx context.Context, clientID string, targetVersion *string) (*store.ClientUpdateJob, error) {
	if clientID == "" {
		return nil, store.Invalid("clientId", "must not be empty")
	}
	if targetVersion != nil && *targetVersion == "" {
		targetVersion = nil
	}

	job := &store.ClientUpdateJob{
		ID:            uuid.New(),
		ClientID:      clientID,
		TargetVersion: targetVersion,
		Status:        store.UpdateJobQueued,
	}
	if err := d.jobs.CreateUpdateJob(ctx, job); err != nil {
		return nil, err
	}
	d.metrics.UpdateJobOutcome(string(store.UpdateJobQueued))

	err := d.transport.DeliverUpdate(ctx, transport.UpdateCommand{
		JobID:         job.ID,
		ClientID:      clientID,
		TargetVersion: targetVersion,
	})
	if err == nil {
		return job, nil
	}

	logger.FromContext(ctx, d.logger).Warn("update delivery failed", "job_id", job.ID, "client_id", clientID, "error", err)
	reason := store.UpdateReasonClientUnreachable
	return d.resolve(ctx, job.ID, store.UpdateJobFailed, &reason)
}

// HandleAck applies the agent's answer to an update command.
func (d *Dispatcher) HandleAck(ctx context.Context, id uuid.UUID, delivered bool, reason string) (*store.ClientUpdateJob, error) {
	if delivered {
		return d.resolve(ctx, id, store.UpdateJobDelivered, nil)
	}
	r := store.UpdateReasonRejectedPrefix + reason
	return d.resolve(ctx, id, store.UpdateJobFailed, &r)
}

// resolve applies a guarded transition. A job that was already resolved is
// returned as-is.
func (d *Dispatcher) resolve(ctx context.Context, id uuid.UUID, to store.UpdateJobStatus, reason *string) (*store.ClientUpdateJob, error) {
	job, err := d.jobs.TransitionUpdateJob(ctx, id, to, reason)
	if errors.Is(err, store.ErrInvalidTransition) {
		current, gerr := d.jobs.GetUpdateJob(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		logger.FromContext(ctx, d.logger).Info("late update ack ignored", "job_id", id, "status", current.Status, "requested", to)
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	d.metrics.UpdateJobOutcome(string(to))
	return job, nil
}

// Get returns an update job.
func (d *Dispatcher) Get(ctx context.Context, id uuid.UUID) (*store.ClientUpdateJob, error) {
	return d.jobs.GetUpdateJob(ctx, id)
}
