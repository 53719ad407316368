package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"execplane/internal/store"
)

const scriptColumns = "id, name, script_type, content, content_hash, version, enabled, timeout_seconds, updated_at"

func scanScript(row rowScanner) (*store.Script, error) {
	var script store.Script
	err := row.Scan(
		&script.ID, &script.Name, &script.Type, &script.Content, &script.ContentHash,
		&script.Version, &script.Enabled, &script.TimeoutSeconds, &script.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &script, nil
}

// UpsertScript bumps the version only when the content hash changes.
func (s *Store) UpsertScript(ctx context.Context, script *store.Script) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scripts (id, name, script_type, content, content_hash, enabled, timeout_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			script_type = EXCLUDED.script_type,
			content = EXCLUDED.content,
			version = scripts.version + CASE WHEN scripts.content_hash <> EXCLUDED.content_hash THEN 1 ELSE 0 END,
			content_hash = EXCLUDED.content_hash,
			enabled = EXCLUDED.enabled,
			timeout_seconds = EXCLUDED.timeout_seconds,
			updated_at = NOW()
		RETURNING version, updated_at
	`, script.ID, script.Name, script.Type, script.Content, script.ContentHash, script.Enabled, script.TimeoutSeconds,
	).Scan(&script.Version, &script.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert script %s: %w", script.ID, err)
	}
	return nil
}

func (s *Store) GetScript(ctx context.Context, id string) (*store.Script, error) {
	script, err := scanScript(s.db.QueryRowContext(ctx, "SELECT "+scriptColumns+" FROM scripts WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return script, nil
}

func (s *Store) ListScripts(ctx context.Context) ([]store.Script, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+scriptColumns+" FROM scripts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	defer rows.Close()

	scripts := []store.Script{}
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, *script)
	}
	return scripts, rows.Err()
}

// DeleteScript relies on ON DELETE CASCADE for assignments.
func (s *Store) DeleteScript(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scripts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete script %s: %w", id, err)
	}
	return requireAffected(res)
}

func (s *Store) AssignScript(ctx context.Context, scriptID, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO script_assignments (script_id, client_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		scriptID, clientID,
	)
	if hasCode(err, codeForeignKeyViolation) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) UnassignScript(ctx context.Context, scriptID, clientID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM script_assignments WHERE script_id = $1 AND client_id = $2",
		scriptID, clientID,
	)
	if err != nil {
		return fmt.Errorf("failed to unassign script %s: %w", scriptID, err)
	}
	return requireAffected(res)
}

func (s *Store) IsAssigned(ctx context.Context, scriptID, clientID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM script_assignments WHERE script_id = $1 AND client_id = $2)",
		scriptID, clientID,
	).Scan(&ok)
	return ok, err
}

func (s *Store) ListAssignments(ctx context.Context, filter store.AssignmentFilter) ([]store.Assignment, error) {
	var conds []string
	var args []any
	if filter.ScriptID != "" {
		args = append(args, filter.ScriptID)
		conds = append(conds, fmt.Sprintf("script_id = $%d", len(args)))
	}
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		conds = append(conds, fmt.Sprintf("client_id = $%d", len(args)))
	}

	query := "SELECT script_id, client_id, created_at FROM script_assignments"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY script_id, client_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	assignments := []store.Assignment{}
	for rows.Next() {
		var a store.Assignment
		if err := rows.Scan(&a.ScriptID, &a.ClientID, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
