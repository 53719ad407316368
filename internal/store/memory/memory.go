// Package memory implements the store interfaces in process memory.
// It is used for development and tests and gives the same atomicity
// guarantees as the Postgres store within one process.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"execplane/internal/store"

	"github.com/google/uuid"
)

type pairKey struct {
	scriptID string
	clientID string
}

type outputLog struct {
	mu     sync.Mutex
	chunks []store.OutputChunk
	final  bool
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	clock func() time.Time

	// mu guards executions, the active-pair index and transitions.
	mu          sync.RWMutex
	executions  map[uuid.UUID]*store.Execution
	active      map[pairKey]uuid.UUID
	transitions map[uuid.UUID][]store.Transition

	outMu   sync.Mutex
	outputs map[uuid.UUID]*outputLog

	catalogMu   sync.RWMutex
	scripts     map[string]*store.Script
	assignments map[pairKey]time.Time

	updatesMu sync.Mutex
	updates   map[uuid.UUID]*store.ClientUpdateJob
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:       time.Now,
		executions:  make(map[uuid.UUID]*store.Execution),
		active:      make(map[pairKey]uuid.UUID),
		transitions: make(map[uuid.UUID][]store.Transition),
		outputs:     make(map[uuid.UUID]*outputLog),
		scripts:     make(map[string]*store.Script),
		assignments: make(map[pairKey]time.Time),
		updates:     make(map[uuid.UUID]*store.ClientUpdateJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) CreateExecution(ctx context.Context, e *store.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{e.ScriptID, e.ClientID}
	if _, ok := s.active[key]; ok {
		return store.ErrConflict
	}
	if _, ok := s.executions[e.ID]; ok {
		return fmt.Errorf("execution %s already exists", e.ID)
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.LastActivityAt.IsZero() {
		e.LastActivityAt = e.CreatedAt
	}
	if e.Status == "" {
		e.Status = store.ExecutionStatusPending
	}

	stored := cloneExecution(e)
	s.executions[e.ID] = stored
	if !stored.Terminal() {
		s.active[key] = e.ID
	}
	return nil
}

func (s *Store) FindActiveExecution(ctx context.Context, scriptID, clientID string) (*store.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[pairKey{scriptID, clientID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneExecution(s.executions[id]), nil
}

func (s *Store) GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneExecution(e), nil
}

func (s *Store) TransitionExecution(ctx context.Context, id uuid.UUID, to store.ExecutionStatus, meta store.TransitionMeta) (*store.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := store.CheckTransition(e.Status, to); err != nil {
		return nil, err
	}
	if meta.IdleSince != nil && e.LastActivityAt.After(*meta.IdleSince) {
		return nil, fmt.Errorf("%w: active since %s", store.ErrInvalidTransition, meta.IdleSince.Format(time.RFC3339Nano))
	}

	// Never let a timestamp run backwards, even if the clock does.
	at := s.now()
	if at.Before(e.LastActivityAt) {
		at = e.LastActivityAt
	}

	from := e.Status
	e.Status = to
	e.LastActivityAt = at
	switch {
	case to == store.ExecutionStatusDispatched:
		e.DispatchedAt = timePtr(at)
	case to == store.ExecutionStatusRunning:
		e.StartedAt = timePtr(at)
	case to.Terminal():
		e.FinishedAt = timePtr(at)
	}
	applyMeta(e, meta)

	if to.Terminal() {
		delete(s.active, pairKey{e.ScriptID, e.ClientID})
	}
	s.transitions[id] = append(s.transitions[id], store.Transition{
		ExecutionID: id,
		From:        from,
		To:          to,
		At:          at,
	})

	return cloneExecution(e), nil
}

func (s *Store) TouchExecution(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.Terminal() {
		return nil
	}
	if now := s.now(); now.After(e.LastActivityAt) {
		e.LastActivityAt = now
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, filter store.ExecutionFilter, page store.Page) ([]store.Execution, int, error) {
	s.mu.RLock()
	var matched []*store.Execution
	for _, e := range s.executions {
		if filter.ScriptID != nil && e.ScriptID != *filter.ScriptID {
			continue
		}
		if filter.ClientID != nil && e.ClientID != *filter.ClientID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		matched = append(matched, cloneExecution(e))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return bytes.Compare(matched[i].ID[:], matched[j].ID[:]) > 0
	})

	total := len(matched)
	start := page.Offset()
	if start >= total {
		return []store.Execution{}, total, nil
	}
	end := start + page.Size
	if end > total {
		end = total
	}

	items := make([]store.Execution, 0, end-start)
	for _, e := range matched[start:end] {
		items = append(items, *e)
	}
	return items, total, nil
}

func (s *Store) ListTransitions(ctx context.Context, id uuid.UUID) ([]store.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.executions[id]; !ok {
		return nil, store.ErrNotFound
	}
	out := make([]store.Transition, len(s.transitions[id]))
	copy(out, s.transitions[id])
	return out, nil
}

func (s *Store) ListStalledExecutions(ctx context.Context, now time.Time, defaultDeadline time.Duration, limit int) ([]store.Execution, error) {
	s.mu.RLock()
	var stalled []store.Execution
	for _, e := range s.executions {
		if e.Terminal() {
			continue
		}
		deadline := defaultDeadline
		if e.TimeoutSeconds > 0 {
			deadline = time.Duration(e.TimeoutSeconds) * time.Second
		}
		if e.LastActivityAt.Add(deadline).Before(now) {
			stalled = append(stalled, *cloneExecution(e))
		}
	}
	s.mu.RUnlock()

	sort.Slice(stalled, func(i, j int) bool {
		return stalled[i].LastActivityAt.Before(stalled[j].LastActivityAt)
	})
	if limit > 0 && len(stalled) > limit {
		stalled = stalled[:limit]
	}
	return stalled, nil
}

func (s *Store) CountExecutionsByStatus(ctx context.Context) (map[store.ExecutionStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[store.ExecutionStatus]int64)
	for _, e := range s.executions {
		counts[e.Status]++
	}
	return counts, nil
}

func (s *Store) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	var purged []uuid.UUID
	for id, e := range s.executions {
		if e.Terminal() && e.FinishedAt != nil && e.FinishedAt.Before(cutoff) {
			purged = append(purged, id)
			delete(s.executions, id)
			delete(s.transitions, id)
		}
	}
	s.mu.Unlock()

	s.outMu.Lock()
	for _, id := range purged {
		delete(s.outputs, id)
	}
	s.outMu.Unlock()

	return int64(len(purged)), nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func applyMeta(e *store.Execution, meta store.TransitionMeta) {
	if meta.ExitCode != nil {
		v := *meta.ExitCode
		e.ExitCode = &v
	}
	if meta.ErrorKind != nil {
		v := *meta.ErrorKind
		e.ErrorKind = &v
	}
	if meta.ErrorMessage != nil {
		v := *meta.ErrorMessage
		e.ErrorMessage = &v
	}
	if meta.DurationMs != nil {
		v := *meta.DurationMs
		e.DurationMs = &v
	}
}

func cloneExecution(e *store.Execution) *store.Execution {
	c := *e
	if e.DispatchedAt != nil {
		c.DispatchedAt = timePtr(*e.DispatchedAt)
	}
	if e.StartedAt != nil {
		c.StartedAt = timePtr(*e.StartedAt)
	}
	if e.FinishedAt != nil {
		c.FinishedAt = timePtr(*e.FinishedAt)
	}
	c.ExitCode, c.ErrorKind, c.ErrorMessage, c.DurationMs = nil, nil, nil, nil
	applyMeta(&c, store.TransitionMeta{
		ExitCode:     e.ExitCode,
		ErrorKind:    e.ErrorKind,
		ErrorMessage: e.ErrorMessage,
		DurationMs:   e.DurationMs,
	})
	return &c
}
