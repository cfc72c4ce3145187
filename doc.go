// Package chronofsm is a finite state machine library for Go built around
// conditional, context-driven auto-transitions.
//
// A host program declares named states and, for each ordered pair of
// (source, target) states, a transition carrying a condition predicate
// evaluated against an opaque context value owned by the source state.
// Mutating a source state's context re-evaluates its outgoing transitions;
// if a condition holds, the machine moves to the target state, firing
// lifecycle observers and per-state handlers, and optionally recording the
// move in a bounded transition history.
//
// The engine is single-threaded in spirit: at most one evaluation pass runs
// per state at a time (guarded by an internal re-entrancy flag), and apart
// from the test-only Machine.SetState and time travel, state changes only
// ever happen inside Machine.Transition. Time and scheduling
// are injected through the Scheduler interface so the evaluation pipeline
// is deterministic under test.
package chronofsm
