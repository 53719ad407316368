// Package output is the ordered, append-only log of captured execution output.
package output

import (
	"context"
	"errors"

	"execplane/internal/metrics"
	"execplane/internal/store"

	"github.com/google/uuid"
)

const (
	DefaultMaxChunks = 500
	MaxChunksLimit   = 5000
)

// Window is the result of a read.
type Window struct {
	Chunks []store.OutputChunk
	// Complete is true once the execution is terminal and Chunks reaches the last stored chunk.
	Complete bool
}

// Buffer appends and reads output on top of the store.
type Buffer struct {
	chunks     store.OutputStore
	executions store.ExecutionStore
	metrics    metrics.Sink
}

func NewBuffer(chunks store.OutputStore, executions store.ExecutionStore, m metrics.Sink) *Buffer {
	if m == nil {
		m = metrics.NewNoopSink()
	}
	return &Buffer{chunks: chunks, executions: executions, metrics: m}
}

// Append stores the next chunk. It fails with store.ErrBufferSealed once the
// execution is terminal or a final chunk was stored.
func (b *Buffer) Append(ctx context.Context, executionID uuid.UUID, stream, payload string, isFinal bool) (*store.OutputChunk, error) {
	if stream == "" {
		stream = store.StreamStdout
	}
	if stream != store.StreamStdout && stream != store.StreamStderr {
		return nil, store.Invalid("stream", "must be %q or %q", store.StreamStdout, store.StreamStderr)
	}

	chunk, err := b.chunks.AppendOutput(ctx, executionID, stream, payload, isFinal)
	if errors.Is(err, store.ErrBufferSealed) {
		b.metrics.SealedAppendRejected()
	}
	return chunk, err
}

// Read returns up to maxChunks chunks starting at fromSequence. A zero
// maxChunks means DefaultMaxChunks; larger values are clamped to MaxChunksLimit.
func (b *Buffer) Read(ctx context.Context, executionID uuid.UUID, fromSequence int64, maxChunks int) (*Window, error) {
	if fromSequence < 0 {
		return nil, store.Invalid("fromSequence", "must not be negative")
	}
	if maxChunks < 0 {
		return nil, store.Invalid("maxChunks", "must not be negative")
	}
	if maxChunks == 0 {
		maxChunks = DefaultMaxChunks
	}
	if maxChunks > MaxChunksLimit {
		maxChunks = MaxChunksLimit
	}

	// Status first: once terminal, no chunk can follow, so the read below is final.
	e, err := b.executions.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	chunks, err := b.chunks.ReadOutput(ctx, executionID, fromSequence, maxChunks+1)
	if err != nil {
		return nil, err
	}

	more := len(chunks) > maxChunks
	if more {
		chunks = chunks[:maxChunks]
	}
	return &Window{Chunks: chunks, Complete: e.Terminal() && !more}, nil
}

// ReadAll returns every stored chunk of an execution in order.
func (b *Buffer) ReadAll(ctx context.Context, executionID uuid.UUID) ([]store.OutputChunk, error) {
	var all []store.OutputChunk
	from := int64(0)
	for {
		chunks, err := b.chunks.ReadOutput(ctx, executionID, from, MaxChunksLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
		if len(chunks) < MaxChunksLimit {
			return all, nil
		}
		from = chunks[len(chunks)-1].SequenceNumber + 1
	}
}
