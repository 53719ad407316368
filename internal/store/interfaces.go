package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ExecutionStore is the source of truth for execution lifecycle.
// Implementations must make CreateExecution an atomic check-and-insert per
// (script, client) pair and apply each TransitionExecution atomically per id.
type ExecutionStore interface {
	// CreateExecution inserts e. It returns ErrConflict if a non-terminal
	// execution already exists for e's (ScriptID, ClientID).
	CreateExecution(ctx context.Context, e *Execution) error

	// FindActiveExecution returns the non-terminal execution for the pair, or ErrNotFound.
	FindActiveExecution(ctx context.Context, scriptID, clientID string) (*Execution, error)

	// GetExecutionByID returns an execution by its ID, or ErrNotFound.
	GetExecutionByID(ctx context.Context, id uuid.UUID) (*Execution, error)

	// TransitionExecution moves an execution to a new status and records the transition.
	// Returns ErrNotFound or ErrInvalidTransition.
	TransitionExecution(ctx context.Context, id uuid.UUID, to ExecutionStatus, meta TransitionMeta) (*Execution, error)

	// TouchExecution refreshes last activity of a non-terminal execution.
	TouchExecution(ctx context.Context, id uuid.UUID) error

	// ListExecutions returns one page of matching executions and the filtered total.
	ListExecutions(ctx context.Context, filter ExecutionFilter, page Page) ([]Execution, int, error)

	// ListTransitions returns the recorded transitions of an execution, oldest first.
	ListTransitions(ctx context.Context, id uuid.UUID) ([]Transition, error)

	// ListStalledExecutions returns non-terminal executions idle past their deadline.
	// Executions without their own timeout use defaultDeadline.
	ListStalledExecutions(ctx context.Context, now time.Time, defaultDeadline time.Duration, limit int) ([]Execution, error)

	// CountExecutionsByStatus returns the number of executions per status.
	CountExecutionsByStatus(ctx context.Context) (map[ExecutionStatus]int64, error)

	// PurgeTerminalBefore deletes terminal executions finished before cutoff.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OutputStore holds captured output. AppendOutput assigns gap-free sequence
// numbers per execution and fails with ErrBufferSealed once the execution is
// terminal or a final chunk was stored.
type OutputStore interface {
	AppendOutput(ctx context.Context, executionID uuid.UUID, stream, payload string, isFinal bool) (*OutputChunk, error)

	// ReadOutput returns up to limit chunks with SequenceNumber >= fromSequence, in order.
	ReadOutput(ctx context.Context, executionID uuid.UUID, fromSequence int64, limit int) ([]OutputChunk, error)
}

// UpdateJobStore persists client update jobs.
type UpdateJobStore interface {
	CreateUpdateJob(ctx context.Context, job *ClientUpdateJob) error
	GetUpdateJob(ctx context.Context, id uuid.UUID) (*ClientUpdateJob, error)

	// TransitionUpdateJob moves a QUEUED job to DELIVERED or FAILED.
	// Any other move returns ErrInvalidTransition.
	TransitionUpdateJob(ctx context.Context, id uuid.UUID, to UpdateJobStatus, reason *string) (*ClientUpdateJob, error)
}

// ScriptStore is the script catalog and its client assignments.
type ScriptStore interface {
	UpsertScript(ctx context.Context, s *Script) error
	GetScript(ctx context.Context, id string) (*Script, error)
	// ListScripts returns every script ordered by id.
	ListScripts(ctx context.Context) ([]Script, error)
	// DeleteScript removes the script and its assignments. Executions keep
	// their snapshot.
	DeleteScript(ctx context.Context, id string) error

	AssignScript(ctx context.Context, scriptID, clientID string) error
	// UnassignScript returns ErrNotFound when the pair was not assigned.
	UnassignScript(ctx context.Context, scriptID, clientID string) error
	IsAssigned(ctx context.Context, scriptID, clientID string) (bool, error)
	// ListAssignments returns matching assignments ordered by script, then client.
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error)
}

// Store combines every repository the controller needs.
type Store interface {
	ExecutionStore
	OutputStore
	UpdateJobStore
	ScriptStore
	Ping(ctx context.Context) error
	Close() error
}
