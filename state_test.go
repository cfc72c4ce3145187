package chronofsm

import (
	"testing"
	"time"
)

// TestScenarioS2DebounceCollapsesBursts is spec.md scenario S2: two
// updateContext bursts within the debounce window collapse into a single
// fired transition at the debounce deadline, not at either burst's time.
func TestScenarioS2DebounceCollapsesBursts(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "idle", Scheduler: sched})
	m.AddTransition("idle", "active", AutoTransition{
		Condition: func(s *State, ctx Context) bool {
			v, _ := ctx["value"].(int)
			return v > 5
		},
		DebounceMs: 200,
	})
	if _, err := m.Start(); err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}

	idle := m.GetState("idle")
	idle.UpdateContext(Context{"value": 10})
	sched.Advance(150 * time.Millisecond)
	idle.UpdateContext(Context{"value": 15})

	sched.Advance(190 * time.Millisecond) // cumulative t=340
	if name, _ := m.currentName(); name != "idle" {
		t.Fatalf("expected current still 'idle' at t=340, got %q", name)
	}

	sched.Advance(10 * time.Millisecond) // cumulative t=350
	if name, _ := m.currentName(); name != "active" {
		t.Fatalf("expected current 'active' at t=350, got %q", name)
	}
}

// TestScenarioS3ExitCancelsDebounce is spec.md scenario S3: leaving the
// source state before its debounce fires must prevent the deferred
// transition entirely.
func TestScenarioS3ExitCancelsDebounce(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "idle", Scheduler: sched})
	m.AddTransition("idle", "active", AutoTransition{
		Condition: func(s *State, ctx Context) bool {
			v, _ := ctx["value"].(int)
			return v > 5
		},
		DebounceMs: 200,
	})
	m.AddTransition("idle", "immediate", AutoTransition{
		Condition: func(s *State, ctx Context) bool { return false },
	})
	if _, err := m.Start(); err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}

	idle := m.GetState("idle")
	idle.UpdateContext(Context{"value": 10})
	sched.Advance(60 * time.Millisecond)

	if ok, err := m.Transition("immediate", nil); err != nil || !ok {
		t.Fatalf("expected manual transition to succeed, got ok=%v err=%v", ok, err)
	}

	sched.Advance(440 * time.Millisecond) // cumulative t=500
	if name, _ := m.currentName(); name != "immediate" {
		t.Fatalf("expected current 'immediate' at t=500, got %q", name)
	}
}

// TestScenarioS4WatchedPropertiesGateReevaluation is spec.md scenario S4.
func TestScenarioS4WatchedPropertiesGateReevaluation(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "counter", Scheduler: sched})
	m.AddTransition("counter", "counting", AutoTransition{
		Condition: func(s *State, ctx Context) bool {
			v, _ := ctx["count"].(int)
			return v > 0
		},
		DebounceMs: 100,
		Policy:     EvaluationPolicy{WatchProperties: []string{"count"}},
	})
	if _, err := m.Start(); err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}

	counter := m.GetState("counter")
	counter.UpdateContext(Context{"count": 1})
	sched.Advance(50 * time.Millisecond)
	counter.UpdateContext(Context{"unrelated": "x"})

	sched.Advance(60 * time.Millisecond) // cumulative t=110
	if name, _ := m.currentName(); name != "counting" {
		t.Fatalf("expected current 'counting' at t=110, got %q", name)
	}
}

// TestScenarioS5SkipIfShortCircuits is spec.md scenario S5.
func TestScenarioS5SkipIfShortCircuits(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "pending", Scheduler: sched})
	conditionCalled := false
	m.AddTransition("pending", "processing", AutoTransition{
		Condition: func(s *State, ctx Context) bool {
			conditionCalled = true
			needs, _ := ctx["needsProcessing"].(bool)
			return needs
		},
		Policy: EvaluationPolicy{SkipIf: func(ctx Context) bool {
			skip, _ := ctx["shouldSkip"].(bool)
			return skip
		}},
	})
	if _, err := m.Start(); err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}
	// the entry evaluation on Start runs the condition once; only calls made
	// by the UpdateContext below matter here.
	conditionCalled = false

	pending := m.GetState("pending")
	pending.UpdateContext(Context{"shouldSkip": true, "needsProcessing": true})
	if conditionCalled {
		t.Fatal("expected skipIf to short-circuit before the condition ran")
	}
	if name, _ := m.currentName(); name != "pending" {
		t.Fatalf("expected current unchanged at 'pending', got %q", name)
	}

	ok, err := m.Transition("processing", nil)
	if err != nil || !ok {
		t.Fatalf("expected manual transition to still succeed, got ok=%v err=%v", ok, err)
	}
}

// TestScenarioS6RetryThenSuccess is spec.md scenario S6, with DelayMs=0 so
// the retry loop's scheduler wait resolves without a second goroutine
// driving the fake clock.
func TestScenarioS6RetryThenSuccess(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "start", Scheduler: sched})
	attempts := 0
	m.AddTransition("start", "target", AutoTransition{
		Condition: func(s *State, ctx Context) bool {
			attempts++
			if attempts < 3 {
				panic("transient failure")
			}
			return true
		},
		Retry: &RetryConfig{MaxAttempts: 3, DelayMs: 0},
	})

	if _, err := m.Start(); err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
	if name, _ := m.currentName(); name != "target" {
		t.Fatalf("expected current 'target' after retry succeeds, got %q", name)
	}
}

func TestStateReentrancyGuardShortCircuitsRecursiveEvaluate(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "s", Scheduler: sched})
	calls := 0
	s := m.AddState("s")
	s.AddTransition(AutoTransition{
		Target: "s",
		Condition: func(st *State, ctx Context) bool {
			calls++
			if calls == 1 {
				// re-entrant evaluate call while already evaluating must be a no-op.
				st.evaluate(ctx, Context{}, false)
			}
			return false
		},
	})
	m.SetState("s")
	s.evaluate(s.Context(), Context{}, false)
	if calls != 1 {
		t.Fatalf("expected the re-entrant evaluate call to be guarded out, got %d condition calls", calls)
	}
}
