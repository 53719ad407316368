// Package query is the read side: filtered, paginated listings and lookups.
package query

import (
	"context"

	"execplane/internal/store"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filters narrows a listing. Empty strings impose no constraint.
type Filters struct {
	ScriptID string
	ClientID string
	Status   string
}

// Paging selects a page. Page is 1-indexed; a zero PageSize means the default.
type Paging struct {
	Page     int
	PageSize int
}

// Result is one page plus the total number of matching executions.
type Result struct {
	Items []store.Execution
	Total int
}

// Service answers read queries against the execution store.
type Service struct {
	executions      store.ExecutionStore
	defaultPageSize int
	maxPageSize     int
}

// NewService creates a Service. Non-positive sizes fall back to the package defaults.
func NewService(executions store.ExecutionStore, defaultPageSize, maxPageSize int) *Service {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}
	return &Service{executions: executions, defaultPageSize: defaultPageSize, maxPageSize: maxPageSize}
}

// List returns executions matching every given filter, newest first.
func (s *Service) List(ctx context.Context, f Filters, p Paging) (*Result, error) {
	filter, err := s.resolveFilter(f)
	if err != nil {
		return nil, err
	}
	page, err := s.resolvePage(p)
	if err != nil {
		return nil, err
	}

	items, total, err := s.executions.ListExecutions(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	return &Result{Items: items, Total: total}, nil
}

func (s *Service) resolveFilter(f Filters) (store.ExecutionFilter, error) {
	var filter store.ExecutionFilter
	if f.ScriptID != "" {
		filter.ScriptID = &f.ScriptID
	}
	if f.ClientID != "" {
		filter.ClientID = &f.ClientID
	}
	if f.Status != "" {
		st, err := store.ParseStatus(f.Status)
		if err != nil {
			return filter, err
		}
		filter.Status = &st
	}
	return filter, nil
}

func (s *Service) resolvePage(p Paging) (store.Page, error) {
	if p.Page < 1 {
		return store.Page{}, store.Invalid("page", "must be at least 1")
	}
	if p.PageSize < 0 {
		return store.Page{}, store.Invalid("pageSize", "must not be negative")
	}

	size := p.PageSize
	if size == 0 {
		size = s.defaultPageSize
	}
	if size > s.maxPageSize {
		size = s.maxPageSize
	}
	return store.Page{Number: p.Page, Size: size}, nil
}

// Get returns one execution.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	return s.executions.GetExecutionByID(ctx, id)
}

// Transitions returns the recorded history of an execution.
func (s *Service) Transitions(ctx context.Context, id uuid.UUID) ([]store.Transition, error) {
	return s.executions.ListTransitions(ctx, id)
}

// Stats counts executions per status. Every known status is present.
func (s *Service) Stats(ctx context.Context) (map[store.ExecutionStatus]int64, error) {
	counts, err := s.executions.CountExecutionsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range store.AllStatuses {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	return counts, nil
}
