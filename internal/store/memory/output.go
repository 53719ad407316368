package memory

import (
	"context"

	"execplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) logFor(id uuid.UUID) *outputLog {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	l, ok := s.outputs[id]
	if !ok {
		l = &outputLog{}
		s.outputs[id] = l
	}
	return l
}

// AppendOutput holds the execution read lock for the whole append so a
// concurrent terminal transition cannot slip in between the seal check and
// the write.
func (s *Store) AppendOutput(ctx context.Context, executionID uuid.UUID, stream, payload string, isFinal bool) (*store.OutputChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.executions[executionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if e.Terminal() {
		return nil, store.ErrBufferSealed
	}

	l := s.logFor(executionID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.final {
		return nil, store.ErrBufferSealed
	}

	chunk := store.OutputChunk{
		ExecutionID:    executionID,
		SequenceNumber: int64(len(l.chunks)),
		Stream:         stream,
		Payload:        payload,
		IsFinal:        isFinal,
		CreatedAt:      s.now(),
	}
	l.chunks = append(l.chunks, chunk)
	l.final = isFinal

	return &chunk, nil
}

func (s *Store) ReadOutput(ctx context.Context, executionID uuid.UUID, fromSequence int64, limit int) ([]store.OutputChunk, error) {
	s.mu.RLock()
	_, ok := s.executions[executionID]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}

	l := s.logFor(executionID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if fromSequence >= int64(len(l.chunks)) {
		return []store.OutputChunk{}, nil
	}
	end := fromSequence + int64(limit)
	if end > int64(len(l.chunks)) {
		end = int64(len(l.chunks))
	}

	out := make([]store.OutputChunk, end-fromSequence)
	copy(out, l.chunks[fromSequence:end])
	return out, nil
}
