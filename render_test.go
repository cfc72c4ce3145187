package chronofsm

import (
	"strings"
	"testing"
)

func buildRenderMachine() *Machine {
	sched := NewFakeScheduler()
	m := NewMachine(MachineOptions{InitialState: "idle", Scheduler: sched})
	m.AddTransition("idle", "running", AutoTransition{
		Condition: func(s *State, ctx Context) bool { return false },
		Priority:  2,
		Group:     "main",
	})
	m.Start()
	return m
}

func TestRenderDOTContainsStatesAndEdges(t *testing.T) {
	m := buildRenderMachine()
	out := RenderDOT(m, DefaultDOTOptions())

	if !strings.Contains(out, "digraph StateMachine") {
		t.Fatal("expected a digraph header")
	}
	if !strings.Contains(out, `"idle"`) || !strings.Contains(out, `"running"`) {
		t.Fatalf("expected both state names quoted, got:\n%s", out)
	}
	if !strings.Contains(out, `"idle" -> "running"`) {
		t.Fatalf("expected the edge idle->running, got:\n%s", out)
	}
	if !strings.Contains(out, "priority=2") || !strings.Contains(out, "group=main") {
		t.Fatalf("expected edge label with priority and group, got:\n%s", out)
	}
	if !strings.Contains(out, "fillcolor=lightgrey") {
		t.Fatalf("expected the current state highlighted, got:\n%s", out)
	}
}

func TestRenderMermaidContainsStatesAndEdges(t *testing.T) {
	m := buildRenderMachine()
	out := RenderMermaid(m)

	if !strings.HasPrefix(out, "stateDiagram-v2") {
		t.Fatal("expected a stateDiagram-v2 header")
	}
	if !strings.Contains(out, "[*] --> idle") {
		t.Fatalf("expected an initial arrow to the current state, got:\n%s", out)
	}
	if !strings.Contains(out, "idle --> running") {
		t.Fatalf("expected the edge idle-->running, got:\n%s", out)
	}
}
