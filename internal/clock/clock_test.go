package clock_test

import (
	"strings"
	"testing"
	"time"

	"pkt.systems/addrlease/internal/clock"
)

func TestRealNowKeepsMonotonicReading(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if !strings.Contains(now.String(), " m=") {
		t.Fatalf("expected monotonic reading in %q", now.String())
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestRealAfterFires(t *testing.T) {
	t.Parallel()

	select {
	case <-clock.Real{}.After(5 * time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("After did not fire within timeout")
	}
}

func TestManualAdvanceFiresDueWaiters(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	m := clock.NewManual(start)
	short := m.After(10 * time.Second)
	long := m.After(time.Minute)
	if m.Pending() != 2 {
		t.Fatalf("expected 2 pending waiters, got %d", m.Pending())
	}

	now := m.Advance(10 * time.Second)
	if !now.Equal(start.Add(10 * time.Second)) {
		t.Fatalf("unexpected advanced time %v", now)
	}
	select {
	case got := <-short:
		if !got.Equal(now) {
			t.Fatalf("expected fire time %v, got %v", now, got)
		}
	default:
		t.Fatal("expected short waiter to fire")
	}
	select {
	case <-long:
		t.Fatal("long waiter fired early")
	default:
	}
	if m.Pending() != 1 {
		t.Fatalf("expected 1 pending waiter, got %d", m.Pending())
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(0, 0))
	select {
	case <-m.After(0):
	default:
		t.Fatal("expected immediate delivery")
	}
	if m.Pending() != 0 {
		t.Fatalf("expected no pending waiters, got %d", m.Pending())
	}
}

func TestManualSetAndNegativeAdvance(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	m := clock.NewManual(start)
	if got := m.Advance(-time.Second); !got.Equal(start.UTC()) {
		t.Fatalf("negative advance moved clock to %v", got)
	}
	target := start.Add(time.Hour)
	m.Set(target)
	if !m.Now().Equal(target.UTC()) {
		t.Fatalf("expected %v, got %v", target.UTC(), m.Now())
	}
}
