package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"execplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const executionColumns = `id, script_id, script_name, script_hash, client_id, trigger_type, status,
	created_at, dispatched_at, started_at, finished_at, last_activity_at, timeout_seconds,
	exit_code, error_kind, error_message, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*store.Execution, error) {
	var e store.Execution
	err := row.Scan(
		&e.ID, &e.ScriptID, &e.ScriptName, &e.ScriptHash, &e.ClientID, &e.TriggerType, &e.Status,
		&e.CreatedAt, &e.DispatchedAt, &e.StartedAt, &e.FinishedAt, &e.LastActivityAt, &e.TimeoutSeconds,
		&e.ExitCode, &e.ErrorKind, &e.ErrorMessage, &e.DurationMs,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateExecution relies on the executions_one_active_per_pair partial unique
// index for the check-and-insert.
func (s *Store) CreateExecution(ctx context.Context, e *store.Execution) error {
	if e.Status == "" {
		e.Status = store.ExecutionStatusPending
	}
	if e.TriggerType == "" {
		e.TriggerType = store.TriggerTypeUIPush
	}

	query := `
		INSERT INTO executions (id, script_id, script_name, script_hash, client_id, trigger_type, status, timeout_seconds, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, last_activity_at
	`

	err := s.db.QueryRowContext(ctx, query,
		e.ID, e.ScriptID, e.ScriptName, e.ScriptHash, e.ClientID, e.TriggerType, e.Status, e.TimeoutSeconds,
	).Scan(&e.CreatedAt, &e.LastActivityAt)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return store.ErrConflict
		}
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (s *Store) FindActiveExecution(ctx context.Context, scriptID, clientID string) (*store.Execution, error) {
	query := "SELECT " + executionColumns + " FROM executions WHERE script_id = $1 AND client_id = $2 AND status = ANY($3)"

	e, err := scanExecution(s.db.QueryRowContext(ctx, query, scriptID, clientID, pq.Array(statusStrings(store.ActiveStatuses))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active execution: %w", err)
	}
	return e, nil
}

func (s *Store) GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	query := "SELECT " + executionColumns + " FROM executions WHERE id = $1"

	e, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	return e, nil
}

// TransitionExecution locks the row, validates the edge, applies it and
// appends to execution_transitions in one transaction. meta.IdleSince turns
// the UPDATE into a no-row result when the execution saw newer activity. Timestamps use
// GREATEST(NOW(), last_activity_at) so they never run backwards.
func (s *Store) TransitionExecution(ctx context.Context, id uuid.UUID, to store.ExecutionStatus, meta store.TransitionMeta) (*store.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var from store.ExecutionStatus
	err = tx.QueryRowContext(ctx, "SELECT status FROM executions WHERE id = $1 FOR UPDATE", id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock execution %s: %w", id, err)
	}

	if err := store.CheckTransition(from, to); err != nil {
		return nil, err
	}

	update := `
		UPDATE executions SET
			status = $2,
			last_activity_at = GREATEST(NOW(), last_activity_at),
			dispatched_at = CASE WHEN $2 = 'DISPATCHED' THEN GREATEST(NOW(), last_activity_at) ELSE dispatched_at END,
			started_at = CASE WHEN $2 = 'RUNNING' THEN GREATEST(NOW(), last_activity_at) ELSE started_at END,
			finished_at = CASE WHEN $3 THEN GREATEST(NOW(), last_activity_at) ELSE finished_at END,
			exit_code = COALESCE($4, exit_code),
			error_kind = COALESCE($5, error_kind),
			error_message = COALESCE($6, error_message),
			duration_ms = COALESCE($7, duration_ms)
		WHERE id = $1 AND status = $8
		AND ($9::timestamptz IS NULL OR last_activity_at <= $9)
		RETURNING ` + executionColumns

	e, err := scanExecution(tx.QueryRowContext(ctx, update,
		id, to, to.Terminal(), meta.ExitCode, meta.ErrorKind, meta.ErrorMessage, meta.DurationMs, from, meta.IdleSince,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: execution %s was active after the idle check", store.ErrInvalidTransition, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition execution %s: %w", id, err)
	}

	if err := recordTransition(ctx, tx, store.Transition{ExecutionID: id, From: from, To: to, At: e.LastActivityAt}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

func recordTransition(ctx context.Context, q store.DBTransaction, tr store.Transition) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO execution_transitions (execution_id, from_status, to_status, at) VALUES ($1, $2, $3, $4)",
		tr.ExecutionID, tr.From, tr.To, tr.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

func (s *Store) TouchExecution(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET last_activity_at = GREATEST(NOW(), last_activity_at)
		WHERE id = $1 AND status = ANY($2)
	`, id, pq.Array(statusStrings(store.ActiveStatuses)))
	return err
}

func buildExecutionWhere(filter store.ExecutionFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.ScriptID != nil {
		args = append(args, *filter.ScriptID)
		conds = append(conds, fmt.Sprintf("script_id = $%d", len(args)))
	}
	if filter.ClientID != nil {
		args = append(args, *filter.ClientID)
		conds = append(conds, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) ListExecutions(ctx context.Context, filter store.ExecutionFilter, page store.Page) ([]store.Execution, int, error) {
	where, args := buildExecutionWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	items := []store.Execution{}
	if page.Offset() >= total {
		return items, total, nil
	}

	args = append(args, page.Size, page.Offset())
	query := fmt.Sprintf("SELECT %s FROM executions%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		executionColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

func (s *Store) ListTransitions(ctx context.Context, id uuid.UUID) ([]store.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, from_status, to_status, at
		FROM execution_transitions
		WHERE execution_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transitions := []store.Transition{}
	for rows.Next() {
		var tr store.Transition
		if err := rows.Scan(&tr.ExecutionID, &tr.From, &tr.To, &tr.At); err != nil {
			return nil, err
		}
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

func (s *Store) ListStalledExecutions(ctx context.Context, now time.Time, defaultDeadline time.Duration, limit int) ([]store.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE status = ANY($1)
		AND last_activity_at + make_interval(secs => CASE WHEN timeout_seconds > 0 THEN timeout_seconds ELSE $2 END) < $3
		ORDER BY last_activity_at ASC
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, query,
		pq.Array(statusStrings(store.ActiveStatuses)), defaultDeadline.Seconds(), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled executions: %w", err)
	}
	defer rows.Close()

	var stalled []store.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		stalled = append(stalled, *e)
	}
	return stalled, rows.Err()
}

func (s *Store) CountExecutionsByStatus(ctx context.Context) (map[store.ExecutionStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM executions GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[store.ExecutionStatus]int64)
	for rows.Next() {
		var st store.ExecutionStatus
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// PurgeTerminalBefore relies on ON DELETE CASCADE for chunks and transitions.
func (s *Store) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM executions WHERE status = ANY($1) AND finished_at < $2",
		pq.Array(statusStrings(terminalStatuses())), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge executions: %w", err)
	}
	return res.RowsAffected()
}
