package output

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"execplane/internal/store"
	"execplane/internal/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Buffer, *memory.Store, uuid.UUID) {
	t.Helper()
	s := memory.New()
	e := &store.Execution{ID: uuid.New(), ScriptID: "deploy-check", ClientID: "c-42"}
	require.NoError(t, s.CreateExecution(context.Background(), e))
	return NewBuffer(s, s, nil), s, e.ID
}

func TestAppend_SequenceStartsAtZero(t *testing.T) {
	b, _, id := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		chunk, err := b.Append(ctx, id, "", fmt.Sprintf("line %d\n", i), false)
		require.NoError(t, err)
		assert.Equal(t, int64(i), chunk.SequenceNumber)
		assert.Equal(t, store.StreamStdout, chunk.Stream)
	}
}

func TestAppend_RejectsUnknownStream(t *testing.T) {
	b, _, id := setup(t)

	_, err := b.Append(context.Background(), id, "stdlog", "x", false)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestAppend_ConcurrentIsGapFree(t *testing.T) {
	b, _, id := setup(t)
	ctx := context.Background()

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := b.Append(ctx, id, store.StreamStderr, fmt.Sprintf("%d-%d", w, i), false)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	all, err := b.ReadAll(ctx, id)
	require.NoError(t, err)
	require.Len(t, all, writers*perWriter)
	for i, c := range all {
		assert.Equal(t, int64(i), c.SequenceNumber)
	}
}

func TestAppend_SealedAfterTerminal(t *testing.T) {
	b, s, id := setup(t)
	ctx := context.Background()

	_, err := s.TransitionExecution(ctx, id, store.ExecutionStatusCancelled, store.TransitionMeta{})
	require.NoError(t, err)

	_, err = b.Append(ctx, id, store.StreamStdout, "late", false)
	assert.ErrorIs(t, err, store.ErrBufferSealed)
}

func TestAppend_SealedAfterFinalChunk(t *testing.T) {
	b, _, id := setup(t)
	ctx := context.Background()

	_, err := b.Append(ctx, id, store.StreamStdout, "done", true)
	require.NoError(t, err)

	_, err = b.Append(ctx, id, store.StreamStdout, "more", false)
	assert.ErrorIs(t, err, store.ErrBufferSealed)
}

func TestRead_Validation(t *testing.T) {
	b, _, id := setup(t)
	ctx := context.Background()

	_, err := b.Read(ctx, id, -1, 10)
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = b.Read(ctx, id, 0, -5)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestRead_UnknownExecution(t *testing.T) {
	b, _, _ := setup(t)

	_, err := b.Read(context.Background(), uuid.New(), 0, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRead_CompleteOnlyWhenTerminalAndAtEnd(t *testing.T) {
	b, s, id := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Append(ctx, id, store.StreamStdout, fmt.Sprint(i), false)
		require.NoError(t, err)
	}

	w, err := b.Read(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.Len(t, w.Chunks, 5)
	assert.False(t, w.Complete, "running execution is never complete")

	_, err = s.TransitionExecution(ctx, id, store.ExecutionStatusFailed, store.TransitionMeta{})
	require.NoError(t, err)

	w, err = b.Read(ctx, id, 0, 3)
	require.NoError(t, err)
	assert.Len(t, w.Chunks, 3)
	assert.False(t, w.Complete, "window stops before the last chunk")

	w, err = b.Read(ctx, id, 3, 3)
	require.NoError(t, err)
	assert.Len(t, w.Chunks, 2)
	assert.True(t, w.Complete)

	// Exactly reaching the end is complete too.
	w, err = b.Read(ctx, id, 0, 5)
	require.NoError(t, err)
	assert.True(t, w.Complete)

	again, err := b.Read(ctx, id, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, w, again, "terminal reads are repeatable")
}

func TestRead_PastEndOfTerminal(t *testing.T) {
	b, s, id := setup(t)
	ctx := context.Background()

	_, err := s.TransitionExecution(ctx, id, store.ExecutionStatusTimedOut, store.TransitionMeta{})
	require.NoError(t, err)

	w, err := b.Read(ctx, id, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, w.Chunks)
	assert.True(t, w.Complete)
}
