package chronofsm

import "sync"

// ChangedValue is one top-level key's before/after pair in a Diff.
type ChangedValue struct {
	From any
	To   any
}

// Diff is the result of TimeTravel.GetDiff, per spec §4.7.
type Diff struct {
	Added         []string
	Removed       []string
	Changed       map[string]ChangedValue
	FromTimestamp int64
	ToTimestamp   int64
}

// TimeTravel walks a Machine's global history, freezing the live state and
// context on first entry and restoring them on exit. While active, State
// evaluation is suppressed machine-wide via the inTimeTravel gate. Spec
// component C7.
type TimeTravel struct {
	machine *Machine

	mu              sync.Mutex
	active          bool
	index           int
	snapshotState   string
	snapshotContext Context
	hasSnapshot     bool
}

func newTimeTravel(m *Machine) *TimeTravel {
	return &TimeTravel{machine: m, index: -1}
}

// IsActive reports whether the machine is currently in time-travel mode.
func (tt *TimeTravel) IsActive() bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.active
}

// TravelTo jumps to the history entry at index (0 = newest), applying its
// (state, context) without running handlers, observers, or recording
// history. The live state is snapshotted once, on the first call after
// returning to normal operation.
func (tt *TimeTravel) TravelTo(index int) bool {
	if tt.machine.history == nil {
		return false
	}
	entries := tt.machine.history.All()
	if index < 0 || index >= len(entries) {
		return false
	}
	entry := entries[index]
	target := tt.machine.GetState(entry.To)
	if target == nil {
		return false
	}

	tt.mu.Lock()
	if !tt.active {
		if cur := tt.machine.CurrentState(); cur != nil {
			tt.snapshotState = cur.Name
			tt.snapshotContext = cur.Context()
			tt.hasSnapshot = true
		}
		tt.active = true
		tt.machine.setInTimeTravel(true)
	}
	tt.index = index
	tt.mu.Unlock()

	target.manager.Replace(entry.Context)
	tt.machine.mu.Lock()
	tt.machine.current = target
	tt.machine.mu.Unlock()
	return true
}

// Previous walks one entry older (toward higher ring indices), returning
// false at the oldest entry or when not currently traveling.
func (tt *TimeTravel) Previous() bool {
	tt.mu.Lock()
	if !tt.active {
		tt.mu.Unlock()
		return false
	}
	next := tt.index + 1
	tt.mu.Unlock()
	return tt.TravelTo(next)
}

// Next walks one entry newer (toward index 0), returning false at the
// newest entry or when not currently traveling.
func (tt *TimeTravel) Next() bool {
	tt.mu.Lock()
	if !tt.active {
		tt.mu.Unlock()
		return false
	}
	next := tt.index - 1
	tt.mu.Unlock()
	if next < 0 {
		return false
	}
	return tt.TravelTo(next)
}

// ReturnToCurrent restores the snapshot taken on TravelTo's first call and
// clears time-travel mode, re-enabling evaluation.
func (tt *TimeTravel) ReturnToCurrent() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if !tt.active {
		return
	}
	if tt.hasSnapshot {
		if s := tt.machine.GetState(tt.snapshotState); s != nil {
			s.manager.Replace(tt.snapshotContext)
			tt.machine.mu.Lock()
			tt.machine.current = s
			tt.machine.mu.Unlock()
		}
	}
	tt.active = false
	tt.hasSnapshot = false
	tt.index = -1
	tt.machine.setInTimeTravel(false)
}

// GetDiff computes the top-level key difference between old and new,
// stamping the result with the given timestamp range, per spec §4.7.
func GetDiff(old, next Context, t0, t1 int64) Diff {
	d := Diff{Changed: make(map[string]ChangedValue), FromTimestamp: t0, ToTimestamp: t1}
	for k, v := range next {
		pv, ok := old[k]
		if !ok {
			d.Added = append(d.Added, k)
			continue
		}
		if !deepEqualValue(pv, v) {
			d.Changed[k] = ChangedValue{From: pv, To: v}
		}
	}
	for k := range old {
		if _, ok := next[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	return d
}
