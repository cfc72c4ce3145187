package chronofsm

import "testing"

// TestScenarioS1PriorityWins is spec.md scenario S1.
func TestScenarioS1PriorityWins(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "start", Scheduler: sched})
	lowCalled := false
	m.AddTransition("start", "low", AutoTransition{
		Condition: func(s *State, ctx Context) bool { lowCalled = true; return true },
		Priority:  1,
	})
	m.AddTransition("start", "high", AutoTransition{
		Condition: func(s *State, ctx Context) bool { return true },
		Priority:  2,
	})

	ok, err := m.Start()
	if err != nil || !ok {
		t.Fatalf("expected Start to succeed, got ok=%v err=%v", ok, err)
	}
	name, _ := m.currentName()
	if name != "high" {
		t.Fatalf("expected current 'high', got %q", name)
	}
	if lowCalled {
		t.Fatal("expected the lower-priority condition never to run once high fired")
	}
}

// TestScenarioS7Veto is spec.md scenario S7.
func TestScenarioS7Veto(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "start", EnableHistory: true, Scheduler: sched})
	m.AddTransition("start", "diced", AutoTransition{Condition: func(s *State, ctx Context) bool { return false }})
	if _, err := m.Start(); err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}

	var failedPrev *string
	var failedTarget string
	m.ObserveBefore(func(prev *string, next string) bool {
		return next != "diced"
	})
	m.ObserveFailed(func(prev *string, target string) {
		failedPrev, failedTarget = prev, target
	})

	ok, err := m.Transition("diced", nil)
	if err != nil || ok {
		t.Fatalf("expected vetoed transition to return false, got ok=%v err=%v", ok, err)
	}
	if name, _ := m.currentName(); name != "start" {
		t.Fatalf("expected current unchanged at 'start', got %q", name)
	}
	if failedTarget != "diced" || failedPrev == nil || *failedPrev != "start" {
		t.Fatalf("expected failed channel to fire with (start, diced), got (%v, %q)", failedPrev, failedTarget)
	}
	last, ok := m.History().Last()
	if !ok || last.Success || last.To != "diced" {
		t.Fatalf("expected a failed history entry for 'diced', got %+v", last)
	}
}

// TestScenarioS8HistoryPathMatch is spec.md scenario S8.
func TestScenarioS8HistoryPathMatch(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "idle", EnableHistory: true, Scheduler: sched})
	m.AddTransition("idle", "loading", AutoTransition{Condition: func(s *State, ctx Context) bool { return false }})
	m.AddTransition("loading", "processing", AutoTransition{Condition: func(s *State, ctx Context) bool { return false }})
	m.AddTransition("processing", "success", AutoTransition{Condition: func(s *State, ctx Context) bool { return false }})

	if _, err := m.Start(); err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}
	for _, target := range []string{"loading", "processing", "success"} {
		if ok, err := m.Transition(target, nil); err != nil || !ok {
			t.Fatalf("expected manual transition to %q to succeed, got ok=%v err=%v", target, ok, err)
		}
	}

	if !m.History().HasPath([]string{"idle", "loading", "processing", "success"}) {
		t.Fatal("expected the full recorded path to match")
	}
	if m.History().HasPath([]string{"idle", "success"}) {
		t.Fatal("expected a non-contiguous path not to match")
	}
}

func TestMachineCanReflectsDeclaredEdges(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "a", Scheduler: sched})
	m.AddTransition("a", "b", AutoTransition{Condition: func(s *State, ctx Context) bool { return false }})
	m.Start()

	if !m.Can("b") {
		t.Fatal("expected Can('b') to be true for a declared edge")
	}
	if m.Can("c") {
		t.Fatal("expected Can('c') to be false for an undeclared edge")
	}
}

func TestMachineTransitionWithEmptyTargetReturnsTransitionError(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "a", Scheduler: sched})
	m.Start()

	ok, err := m.Transition("", nil)
	if ok {
		t.Fatal("expected an empty target never to succeed")
	}
	if err == nil {
		t.Fatal("expected a synchronous TransitionError for an empty target")
	}
	if !IsTransitionError(err) {
		t.Fatalf("expected a *TransitionError, got %T", err)
	}
}

func TestMachineTransitionToUndeclaredTargetFails(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "a", EnableHistory: true, Scheduler: sched})
	m.AddState("b")
	m.Start()

	ok, err := m.Transition("b", nil)
	if err != nil || ok {
		t.Fatalf("expected transition to an undeclared edge to fail structurally, got ok=%v err=%v", ok, err)
	}
	last, _ := m.History().Last()
	if last.Success {
		t.Fatal("expected a failed history entry for the undeclared transition")
	}
}

func TestMachinePluginCanAbortTransition(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "a", Scheduler: sched})
	m.AddTransition("a", "b", AutoTransition{Condition: func(s *State, ctx Context) bool { return false }})
	m.Start()

	m.Use(func(prev *string, next string, proceed func()) {
		if next == "b" {
			return // suppress: never call proceed
		}
		proceed()
	})

	ok, _ := m.Transition("b", nil)
	if ok {
		t.Fatal("expected the plugin to abort the transition by not calling proceed")
	}
	if name, _ := m.currentName(); name != "a" {
		t.Fatalf("expected current unchanged at 'a', got %q", name)
	}
}

func TestMachinePluginOrderingIsInstallationOrder(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "a", Scheduler: sched})
	m.AddTransition("a", "b", AutoTransition{Condition: func(s *State, ctx Context) bool { return false }})
	m.Start()

	var order []int
	m.Use(func(prev *string, next string, proceed func()) { order = append(order, 1); proceed() })
	m.Use(func(prev *string, next string, proceed func()) { order = append(order, 2); proceed() })

	m.Transition("b", nil)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected plugins to run in installation order, got %v", order)
	}
}

func TestMachineRemovePrunesOutgoingEdges(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "a", Scheduler: sched})
	m.AddTransition("a", "b", AutoTransition{Condition: func(s *State, ctx Context) bool { return false }})
	m.Remove("b")

	a := m.GetState("a")
	for _, n := range a.TransitionNames() {
		if n == "b" {
			t.Fatal("expected the outgoing edge to 'b' to be pruned after Remove")
		}
	}
}

func TestMachineGroupDisabledFiltersTransition(t *testing.T) {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "a", Scheduler: sched})
	fired := false
	m.AddTransition("a", "b", AutoTransition{
		Condition: func(s *State, ctx Context) bool { fired = true; return true },
		Group:     "g",
	})
	g := NewTransitionGroup("g")
	g.Enabled = false
	m.AddGroup(g)

	m.Start()
	if fired {
		t.Fatal("expected a transition tagged with a disabled group never to be evaluated")
	}
	if name, _ := m.currentName(); name != "a" {
		t.Fatalf("expected current unchanged at 'a', got %q", name)
	}
}
