package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"execplane/internal/store"

	"github.com/google/uuid"
)

// AppendOutput serializes appends per execution with a transaction-scoped
// advisory lock and holds a share lock on the execution row so a terminal
// transition cannot commit between the seal check and the insert.
func (s *Store) AppendOutput(ctx context.Context, executionID uuid.UUID, stream, payload string, isFinal bool) (*store.OutputChunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", executionID.String()); err != nil {
		return nil, fmt.Errorf("failed to lock output of %s: %w", executionID, err)
	}

	var status store.ExecutionStatus
	err = tx.QueryRowContext(ctx, "SELECT status FROM executions WHERE id = $1 FOR SHARE", executionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if status.Terminal() {
		return nil, store.ErrBufferSealed
	}

	next := int64(0)
	var lastSeq int64
	var lastFinal bool
	err = tx.QueryRowContext(ctx,
		"SELECT seq, is_final FROM output_chunks WHERE execution_id = $1 ORDER BY seq DESC LIMIT 1",
		executionID,
	).Scan(&lastSeq, &lastFinal)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	case lastFinal:
		return nil, store.ErrBufferSealed
	default:
		next = lastSeq + 1
	}

	chunk := store.OutputChunk{
		ExecutionID:    executionID,
		SequenceNumber: next,
		Stream:         stream,
		Payload:        payload,
		IsFinal:        isFinal,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO output_chunks (execution_id, seq, stream, payload, is_final)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, executionID, next, stream, payload, isFinal).Scan(&chunk.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append output: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &chunk, nil
}

func (s *Store) ReadOutput(ctx context.Context, executionID uuid.UUID, fromSequence int64, limit int) ([]store.OutputChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, seq, stream, payload, is_final, created_at
		FROM output_chunks
		WHERE execution_id = $1 AND seq >= $2
		ORDER BY seq ASC
		LIMIT $3
	`, executionID, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []store.OutputChunk{}
	for rows.Next() {
		var c store.OutputChunk
		if err := rows.Scan(&c.ExecutionID, &c.SequenceNumber, &c.Stream, &c.Payload, &c.IsFinal, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
