package chronofsm

import (
	"testing"
	"time"
)

func TestFakeSchedulerAdvanceFiresDueTasks(t *testing.T) {
	s := NewFakeScheduler()
	var fired []string

	s.Schedule(10*time.Millisecond, func() { fired = append(fired, "a") })
	s.Schedule(20*time.Millisecond, func() { fired = append(fired, "b") })

	s.Advance(15 * time.Millisecond)
	if len(fired) != 1 || fired[0] != "a" {
		t.Fatalf("expected only a to fire, got %v", fired)
	}

	s.Advance(10 * time.Millisecond)
	if len(fired) != 2 || fired[1] != "b" {
		t.Fatalf("expected b to fire next, got %v", fired)
	}
}

func TestFakeSchedulerCancelPreventsFiring(t *testing.T) {
	s := NewFakeScheduler()
	fired := false
	h := s.Schedule(10*time.Millisecond, func() { fired = true })
	s.Cancel(h)
	s.Advance(50 * time.Millisecond)
	if fired {
		t.Fatal("expected cancelled task not to fire")
	}
}

func TestFakeSchedulerOrdersBySeqOnTie(t *testing.T) {
	s := NewFakeScheduler()
	var order []int
	s.Schedule(5*time.Millisecond, func() { order = append(order, 1) })
	s.Schedule(5*time.Millisecond, func() { order = append(order, 2) })
	s.Advance(5 * time.Millisecond)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected insertion order [1 2], got %v", order)
	}
}

func TestFakeSchedulerNestedScheduleWithinWindow(t *testing.T) {
	s := NewFakeScheduler()
	var fired []string
	s.Schedule(5*time.Millisecond, func() {
		fired = append(fired, "first")
		s.Schedule(3*time.Millisecond, func() { fired = append(fired, "nested") })
	})
	s.Advance(10 * time.Millisecond)
	if len(fired) != 2 || fired[1] != "nested" {
		t.Fatalf("expected nested task scheduled within the window to also fire, got %v", fired)
	}
}

func TestRealSchedulerCancelIsNoOp(t *testing.T) {
	s := NewRealScheduler()
	s.Cancel(zeroHandle)
	s.CancelIdle(zeroHandle)
}

func TestRealSchedulerScheduleRuns(t *testing.T) {
	s := NewRealScheduler()
	done := make(chan struct{})
	s.Schedule(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scheduled callback")
	}
}
