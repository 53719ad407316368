package store

import (
	"errors"
	"math"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from ExecutionStatus
		to   ExecutionStatus
		want bool
	}{
		{ExecutionStatusPending, ExecutionStatusDispatched, true},
		{ExecutionStatusPending, ExecutionStatusFailed, true},
		{ExecutionStatusPending, ExecutionStatusRunning, false},
		{ExecutionStatusPending, ExecutionStatusSucceeded, false},
		{ExecutionStatusDispatched, ExecutionStatusRunning, true},
		{ExecutionStatusDispatched, ExecutionStatusPending, false},
		{ExecutionStatusDispatched, ExecutionStatusSucceeded, false},
		{ExecutionStatusDispatched, ExecutionStatusFailed, false},
		{ExecutionStatusRunning, ExecutionStatusFailed, true},
		{ExecutionStatusRunning, ExecutionStatusDispatched, false},
		{ExecutionStatusRunning, ExecutionStatusSucceeded, true},
		{ExecutionStatusRunning, ExecutionStatusTimedOut, true},
		{ExecutionStatusRunning, ExecutionStatusRunning, false},
		{ExecutionStatusSucceeded, ExecutionStatusFailed, false},
		{ExecutionStatusCancelled, ExecutionStatusRunning, false},
		{ExecutionStatusTimedOut, ExecutionStatusCancelled, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransition_FullGraph(t *testing.T) {
	want := map[ExecutionStatus][]ExecutionStatus{
		ExecutionStatusPending:    {ExecutionStatusDispatched, ExecutionStatusFailed, ExecutionStatusTimedOut, ExecutionStatusCancelled},
		ExecutionStatusDispatched: {ExecutionStatusRunning, ExecutionStatusTimedOut, ExecutionStatusCancelled},
		ExecutionStatusRunning:    {ExecutionStatusSucceeded, ExecutionStatusFailed, ExecutionStatusTimedOut, ExecutionStatusCancelled},
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			expected := false
			for _, next := range want[from] {
				if next == to {
					expected = true
				}
			}
			if got := CanTransition(from, to); got != expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, expected)
			}
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, from := range AllStatuses {
		if !from.Terminal() {
			continue
		}
		for _, to := range AllStatuses {
			if CanTransition(from, to) {
				t.Errorf("terminal %s must not reach %s", from, to)
			}
		}
	}
}

func TestEveryActiveStateCanBeCancelledOrTimedOut(t *testing.T) {
	for _, from := range ActiveStatuses {
		if !CanTransition(from, ExecutionStatusCancelled) {
			t.Errorf("%s cannot be cancelled", from)
		}
		if !CanTransition(from, ExecutionStatusTimedOut) {
			t.Errorf("%s cannot time out", from)
		}
	}
}

func TestSourcesOf(t *testing.T) {
	got := SourcesOf(ExecutionStatusRunning)
	if len(got) != 1 || got[0] != ExecutionStatusDispatched {
		t.Errorf("SourcesOf(RUNNING) = %v, want [DISPATCHED]", got)
	}

	got = SourcesOf(ExecutionStatusCancelled)
	if len(got) != len(ActiveStatuses) {
		t.Errorf("SourcesOf(CANCELLED) = %v, want all active statuses", got)
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := ParseStatus("SUCCEEDED"); err != nil || st != ExecutionStatusSucceeded {
		t.Errorf("ParseStatus(SUCCEEDED) = %v, %v", st, err)
	}

	_, err := ParseStatus("succeeded")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "status" {
		t.Errorf("expected ValidationError on field status, got %v", err)
	}
}

func TestCheckTransition_WrapsSentinel(t *testing.T) {
	err := CheckTransition(ExecutionStatusSucceeded, ExecutionStatusRunning)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := CheckTransition(ExecutionStatusPending, ExecutionStatusDispatched); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPageOffset(t *testing.T) {
	tests := []struct {
		page Page
		want int
	}{
		{Page{Number: 1, Size: 20}, 0},
		{Page{Number: 3, Size: 10}, 20},
		{Page{Number: 1e17, Size: 100}, math.MaxInt},
		{Page{Number: math.MaxInt, Size: 2}, math.MaxInt},
	}

	for _, tt := range tests {
		if got := tt.page.Offset(); got != tt.want {
			t.Errorf("%+v.Offset() = %d, want %d", tt.page, got, tt.want)
		}
	}
}

func TestHashContent(t *testing.T) {
	if got := HashContent(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("unexpected digest of empty content: %s", got)
	}
	if HashContent("echo hi") == HashContent("echo hi ") {
		t.Error("expected whitespace to change the digest")
	}
}
