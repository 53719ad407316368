package store

import "fmt"

// allowedTransitions is the execution state graph. Terminal states have no edges.
// Only RUNNING may succeed or fail on a result; PENDING fails when delivery or
// the ack is refused.
var allowedTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending: {
		ExecutionStatusDispatched,
		ExecutionStatusFailed,
		ExecutionStatusTimedOut,
		ExecutionStatusCancelled,
	},
	ExecutionStatusDispatched: {
		ExecutionStatusRunning,
		ExecutionStatusTimedOut,
		ExecutionStatusCancelled,
	},
	ExecutionStatusRunning: {
		ExecutionStatusSucceeded,
		ExecutionStatusFailed,
		ExecutionStatusTimedOut,
		ExecutionStatusCancelled,
	},
}

// ActiveStatuses are the non-terminal statuses.
var ActiveStatuses = []ExecutionStatus{
	ExecutionStatusPending,
	ExecutionStatusDispatched,
	ExecutionStatusRunning,
}

// AllStatuses lists every execution status in lifecycle order.
var AllStatuses = []ExecutionStatus{
	ExecutionStatusPending,
	ExecutionStatusDispatched,
	ExecutionStatusRunning,
	ExecutionStatusSucceeded,
	ExecutionStatusFailed,
	ExecutionStatusTimedOut,
	ExecutionStatusCancelled,
}

// Terminal reports whether no further transition is permitted from s.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusSucceeded, ExecutionStatusFailed, ExecutionStatusTimedOut, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether (from, to) is an edge of the state graph.
func CanTransition(from, to ExecutionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status that may transition into to.
func SourcesOf(to ExecutionStatus) []ExecutionStatus {
	var from []ExecutionStatus
	for _, st := range ActiveStatuses {
		if CanTransition(st, to) {
			from = append(from, st)
		}
	}
	return from
}

// ParseStatus validates a status string from the outside world.
func ParseStatus(s string) (ExecutionStatus, error) {
	st := ExecutionStatus(s)
	if !st.Valid() {
		return "", Invalid("status", "unknown status %q", s)
	}
	return st, nil
}

// CheckTransition returns ErrInvalidTransition wrapped with context when
// (from, to) is not allowed.
func CheckTransition(from, to ExecutionStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
