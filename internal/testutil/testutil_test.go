package testutil

import (
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	fixed := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(fixed)

	if got := clock.Now(); !got.Equal(fixed) {
		t.Errorf("Now() = %v, want %v", got, fixed)
	}

	clock.Advance(5 * time.Minute)
	if got := clock.Now(); !got.Equal(fixed.Add(5 * time.Minute)) {
		t.Errorf("after Advance, Now() = %v", got)
	}

	clock.Set(fixed.Add(-time.Hour))
	if got := clock.Now(); !got.Equal(fixed.Add(-time.Hour)) {
		t.Errorf("after Set, Now() = %v", got)
	}
}

func TestTestContext_HasDeadline(t *testing.T) {
	ctx := TestContext(t)
	if _, ok := ctx.Deadline(); !ok {
		t.Error("expected deadline")
	}
}
