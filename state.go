package chronofsm

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// EvaluationStrategy picks which scheduling lane a non-debounced, non-skipped
// transition lands in during evaluate's bucketing pass, per spec §4.5 step 4.
type EvaluationStrategy int

const (
	// StrategyImmediate runs in the synchronous bucket within the same
	// evaluate pass. The zero value, so an unset Policy.Strategy behaves as
	// immediate.
	StrategyImmediate EvaluationStrategy = iota
	// StrategyNextTick defers to a single delay=0 scheduler callback shared
	// by every nextTick transition in the pass.
	StrategyNextTick
	// StrategyIdle defers to the scheduler's idle callback facility.
	StrategyIdle
)

// EvaluationPolicy narrows when and how a transition is considered during
// an evaluate pass, per spec §3 "AutoTransition".
type EvaluationPolicy struct {
	// WatchProperties, if non-empty, gates the transition on at least one
	// listed path differing between the previous and current context; see
	// §4.5a. Ignored when the previous context is undefined (state entry).
	WatchProperties []string
	// SkipIf, if set and truthy for the current context, drops the
	// transition for this pass and cancels its debounce timer.
	SkipIf func(Context) bool
	// Strategy selects the scheduling lane for a non-debounced transition.
	Strategy EvaluationStrategy
}

// Condition is an auto-transition's guard: true fires the transition toward
// Target. s is supplied so a condition can read the owning state's identity;
// most conditions only need ctx. A panicking Condition is recovered and
// treated as a failed attempt, per spec §4.5b/§7 kind 2.
type Condition func(s *State, ctx Context) bool

// AutoTransition is one outgoing edge from a State, per spec §3.
type AutoTransition struct {
	Target    string
	Condition Condition
	// Priority breaks ties by highest-first; equal priorities keep
	// insertion order (stable sort), per spec §3.
	Priority int
	// DebounceMs, when > 0, moves the transition to the debounced bucket
	// regardless of Policy.Strategy.
	DebounceMs int
	// Retry, if set, re-attempts a throwing condition up to MaxAttempts
	// times, waiting DelayMs between attempts. A falsy (non-throwing)
	// result still stops the loop without retrying, per spec §4.5b.
	Retry *RetryConfig
	// Group tags this transition with a TransitionGroup name. A disabled
	// group filters its tagged transitions out before bucketing.
	Group  string
	Policy EvaluationPolicy
}

// EnterHandler runs when a state becomes current. previous is nil when
// there was no prior current state (machine start).
type EnterHandler func(ctx Context, previous *string)

// ExitHandler runs when a state stops being current. next is the state
// about to become current.
type ExitHandler func(ctx Context, next string)

// Handler is a generic per-state hook with no fixed lifecycle point,
// available for callers who register via the general handler list rather
// than OnEnter/OnExit.
type Handler func(ctx Context)

// BatchOptions configures State.BatchUpdate, per spec §4.5c.
type BatchOptions struct {
	// EvaluateAfterComplete runs evaluate exactly once after the final
	// partial instead of once per partial.
	EvaluateAfterComplete bool
	// Atomic snapshots the context before the first partial and restores it
	// (without running evaluate) if any partial fails, also clearing every
	// debounce timer to preserve atomicity.
	Atomic bool
}

// indexedTransition pairs an AutoTransition with its position in the
// state's original (insertion-ordered) transitions slice, since scheduling
// tables (debounce/idle handles) are keyed by that original index, not by
// a pass's sorted position.
type indexedTransition struct {
	index int
	t     AutoTransition
}

// State owns its outgoing transitions, lifecycle handlers, one
// StateManager, and the per-state evaluation pipeline. Spec component C5.
type State struct {
	Name    string
	machine *Machine
	manager *StateManager
	logger  *slog.Logger

	transitions []AutoTransition

	enterHandlers   []EnterHandler
	exitHandlers    []ExitHandler
	genericHandlers []Handler

	mu                   sync.Mutex
	isEvaluating         bool
	suppressAutoEvaluate bool
	debounceHandles      map[int]Handle
	idleHandles          map[int]Handle
	pathCache            map[string]path
}

// newState creates a State owned by machine, wiring its StateManager to
// drive evaluate on every committed context change via Subscribe - the
// mechanism that also implements the spec's combined StateManager-batch +
// evaluate ordering (§9c): one notify, one evaluate, whether or not
// StateManager-level batching is enabled.
func newState(name string, machine *Machine, cfg StateManagerConfig, logger *slog.Logger) *State {
	s := &State{
		Name:            name,
		machine:         machine,
		logger:          logger,
		debounceHandles: make(map[int]Handle),
		idleHandles:     make(map[int]Handle),
		pathCache:       make(map[string]path),
	}
	s.manager = NewStateManager(name, cfg, machine.scheduler)
	s.manager.Subscribe(s.onContextChange)
	return s
}

// AddTransition appends an outgoing auto-transition in declaration order.
func (s *State) AddTransition(t AutoTransition) {
	s.transitions = append(s.transitions, t)
}

// TransitionNames returns the target names this state declares, in
// insertion order, used by Machine.Transition's structural check (spec
// §4.6 step 3) and by Can.
func (s *State) TransitionNames() []string {
	names := make([]string, len(s.transitions))
	for i, t := range s.transitions {
		names[i] = t.Target
	}
	return names
}

// OnEnter registers an enter handler, run in registration order whenever
// this state becomes current.
func (s *State) OnEnter(h EnterHandler) { s.enterHandlers = append(s.enterHandlers, h) }

// OnExit registers an exit handler, run in registration order whenever
// this state stops being current.
func (s *State) OnExit(h ExitHandler) { s.exitHandlers = append(s.exitHandlers, h) }

// OnHandler registers a generic per-state handler.
func (s *State) OnHandler(h Handler) { s.genericHandlers = append(s.genericHandlers, h) }

// Context returns the state's current context.
func (s *State) Context() Context { return s.manager.Get() }

// Manager exposes the owned StateManager (for Derive/batching callers).
func (s *State) Manager() *StateManager { return s.manager }

// UpdateContext merges partial over the current context via the
// StateManager; if a change results and this state is current, one
// evaluate pass runs automatically through the Subscribe listener.
func (s *State) UpdateContext(partial Context) {
	s.manager.Set(partial)
}

func (s *State) isCurrent() bool {
	name, ok := s.machine.currentName()
	return ok && name == s.Name
}

func (s *State) setSuppressed(v bool) {
	s.mu.Lock()
	s.suppressAutoEvaluate = v
	s.mu.Unlock()
}

// onContextChange is the StateManager.Subscribe callback driving automatic
// evaluation, per spec §4.5 ("On any other context mutation to the current
// state, updateContext... calls evaluate").
func (s *State) onContextChange(prev, next Context) {
	s.mu.Lock()
	suppressed := s.suppressAutoEvaluate
	s.mu.Unlock()
	if suppressed || !s.isCurrent() {
		return
	}
	s.evaluate(next, prev, true)
}

// triggerEnter runs enter handlers to completion, then runs the initial
// evaluate pass for this state (previous context undefined), per spec
// §4.5.
func (s *State) triggerEnter(previous *string) {
	for _, h := range s.enterHandlers {
		s.safeEnter(h, previous)
	}
	if s.machine.inTimeTravel() {
		return
	}
	s.evaluate(s.manager.Get(), Context{}, false)
}

func (s *State) safeEnter(h EnterHandler, previous *string) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(s.logger, "State.enter", s.Name, r)
		}
	}()
	h(s.manager.Get(), previous)
}

// triggerExit cancels every pending debounce and idle handle owned by this
// state, then runs exit handlers sequentially, per spec §4.5d: the leaving
// state must never fire a deferred transition after another state becomes
// current.
func (s *State) triggerExit(next string) {
	s.clearAllDebounce()
	s.clearAllIdle()
	for _, h := range s.exitHandlers {
		s.safeExit(h, next)
	}
}

func (s *State) safeExit(h ExitHandler, next string) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(s.logger, "State.exit", s.Name, r)
		}
	}()
	h(s.manager.Get(), next)
}

// evaluate is the core algorithm of spec §4.5: re-entrancy guarded,
// priority-sorted, bucketized selection of at most one firing transition
// per pass.
func (s *State) evaluate(ctx Context, prev Context, prevDefined bool) bool {
	if s.machine.inTimeTravel() {
		return false
	}
	s.mu.Lock()
	if s.isEvaluating {
		s.mu.Unlock()
		return false
	}
	s.isEvaluating = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.isEvaluating = false
		s.mu.Unlock()
	}()

	s.clearAllIdle()

	sorted := s.sortedTransitions()

	var immediate, debounced, nextTick, idle []indexedTransition
	for _, it := range sorted {
		if s.groupDisabled(it.t.Group) {
			continue
		}
		if it.t.Policy.SkipIf != nil && s.safeSkipIf(it.t.Policy.SkipIf, ctx) {
			s.cancelDebounce(it.index)
			continue
		}
		if len(it.t.Policy.WatchProperties) > 0 && prevDefined && !s.anyPathDiffers(it.t.Policy.WatchProperties, prev, ctx) {
			continue
		}
		switch {
		case it.t.DebounceMs > 0:
			debounced = append(debounced, it)
		case it.t.Policy.Strategy == StrategyNextTick:
			nextTick = append(nextTick, it)
		case it.t.Policy.Strategy == StrategyIdle:
			idle = append(idle, it)
		default:
			immediate = append(immediate, it)
		}
	}

	if s.runBucket(immediate, ctx) {
		return true
	}

	for _, it := range debounced {
		s.scheduleDebounced(it, ctx)
	}

	if len(nextTick) > 0 {
		snapshot := nextTick
		s.machine.scheduler.Schedule(0, func() {
			if !s.isCurrent() {
				return
			}
			s.runBucket(snapshot, ctx)
		})
	}

	for _, it := range idle {
		s.scheduleIdle(it, ctx)
	}

	return false
}

// sortedTransitions returns this state's transitions paired with their
// original index, sorted highest-priority-first with a stable tie-break on
// insertion order.
func (s *State) sortedTransitions() []indexedTransition {
	out := make([]indexedTransition, len(s.transitions))
	for i, t := range s.transitions {
		out[i] = indexedTransition{index: i, t: t}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].t.Priority > out[j].t.Priority
	})
	return out
}

func (s *State) groupDisabled(name string) bool {
	if name == "" {
		return false
	}
	return s.machine.groupDisabled(name)
}

func (s *State) safeSkipIf(fn func(Context) bool, ctx Context) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(s.logger, "State.skipIf", s.Name, r)
			result = false
		}
	}()
	return fn(ctx)
}

// anyPathDiffers reports whether at least one watched path differs between
// prev and ctx, using the per-state parsed-path cache.
func (s *State) anyPathDiffers(paths []string, prev, ctx Context) bool {
	for _, raw := range paths {
		p, ok := s.pathCache[raw]
		if !ok {
			p = parsePath(raw)
			s.pathCache[raw] = p
		}
		if p.differs(prev, ctx) {
			return true
		}
	}
	return false
}

// runBucket evaluates each transition in order, firing (and returning true
// on) the first whose condition holds.
func (s *State) runBucket(bucket []indexedTransition, ctx Context) bool {
	for _, it := range bucket {
		if s.evaluateOne(it.t, ctx) {
			return true
		}
	}
	return false
}

// evaluateOne implements spec §4.5b: a single transition's condition
// evaluation, with or without retry.
func (s *State) evaluateOne(t AutoTransition, ctx Context) bool {
	if t.Retry == nil {
		ok, err := s.safeCondition(t, ctx)
		if err != nil {
			logConditionAttempt(s.logger, s.Name, t.Target, 1, err)
			return false
		}
		if !ok {
			return false
		}
		s.requestTransition(t.Target)
		return true
	}

	attempts := t.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ok, err := s.safeCondition(t, ctx)
		if err != nil {
			lastErr = err
			logConditionAttempt(s.logger, s.Name, t.Target, attempt, err)
			if attempt < attempts {
				waitScheduler(s.machine.scheduler, time.Duration(t.Retry.DelayMs)*time.Millisecond)
				continue
			}
			logRetryExhausted(s.logger, s.Name, t.Target, attempts, lastErr)
			return false
		}
		if !ok {
			return false
		}
		s.requestTransition(t.Target)
		return true
	}
	logRetryExhausted(s.logger, s.Name, t.Target, attempts, lastErr)
	return false
}

func (s *State) safeCondition(t AutoTransition, ctx Context) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverToError(r)
		}
	}()
	return t.Condition(s, ctx), nil
}

// requestTransition asks the machine to move to target, swallowing and
// logging any error so a broken transition attempt never aborts the
// evaluate pass, per spec §4.5b.
func (s *State) requestTransition(target string) {
	_, err := s.machine.Transition(target, nil)
	if err != nil {
		s.logger.Error("chronofsm: transition request failed",
			slog.String("from", s.Name), slog.String("to", target), slog.Any("error", err))
	}
}

// waitScheduler blocks the caller until a scheduled callback after delay
// runs. Used by the retry loop to honor RetryConfig.DelayMs while staying
// inside the synchronous evaluate call stack; a FakeScheduler-driven test
// must advance the clock from another goroutine to unblock it.
func waitScheduler(sched Scheduler, delay time.Duration) {
	if delay <= 0 {
		return
	}
	done := make(chan struct{})
	sched.Schedule(delay, func() { close(done) })
	<-done
}

func (s *State) cancelDebounce(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.debounceHandles[index]; ok {
		s.machine.scheduler.Cancel(h)
		delete(s.debounceHandles, index)
	}
}

func (s *State) cancelIdle(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.idleHandles[index]; ok {
		s.machine.scheduler.CancelIdle(h)
		delete(s.idleHandles, index)
	}
}

func (s *State) clearAllDebounce() {
	s.mu.Lock()
	handles := s.debounceHandles
	s.debounceHandles = make(map[int]Handle)
	s.mu.Unlock()
	for _, h := range handles {
		s.machine.scheduler.Cancel(h)
	}
}

func (s *State) clearAllIdle() {
	s.mu.Lock()
	handles := s.idleHandles
	s.idleHandles = make(map[int]Handle)
	s.mu.Unlock()
	for _, h := range handles {
		s.machine.scheduler.CancelIdle(h)
	}
}

// scheduleDebounced cancels this transition's prior debounce timer (if any)
// and arms a new one, per spec §4.5 step 6.
func (s *State) scheduleDebounced(it indexedTransition, ctx Context) {
	s.cancelDebounce(it.index)
	h := s.machine.scheduler.Schedule(time.Duration(it.t.DebounceMs)*time.Millisecond, func() {
		s.mu.Lock()
		delete(s.debounceHandles, it.index)
		s.mu.Unlock()
		if !s.isCurrent() {
			return
		}
		ok, err := s.safeCondition(it.t, ctx)
		if err != nil {
			logConditionAttempt(s.logger, s.Name, it.t.Target, 1, err)
			return
		}
		if ok {
			s.requestTransition(it.t.Target)
		}
	})
	s.mu.Lock()
	s.debounceHandles[it.index] = h
	s.mu.Unlock()
}

// scheduleIdle cancels this transition's prior idle handle (if any) and
// arms a new one, per spec §4.5 step 8.
func (s *State) scheduleIdle(it indexedTransition, ctx Context) {
	s.cancelIdle(it.index)
	h := s.machine.scheduler.ScheduleIdle(func() {
		s.mu.Lock()
		delete(s.idleHandles, it.index)
		s.mu.Unlock()
		if !s.isCurrent() {
			return
		}
		ok, err := s.safeCondition(it.t, ctx)
		if err != nil {
			logConditionAttempt(s.logger, s.Name, it.t.Target, 1, err)
			return
		}
		if ok {
			s.requestTransition(it.t.Target)
		}
	})
	s.mu.Lock()
	s.idleHandles[it.index] = h
	s.mu.Unlock()
}

// BatchUpdate applies partials sequentially through the StateManager,
// suppressing the usual per-Set auto-evaluate so it can honor
// opts.EvaluateAfterComplete itself, per spec §4.5c.
func (s *State) BatchUpdate(partials []Context, opts BatchOptions) bool {
	if len(partials) == 0 {
		return false
	}
	if opts.Atomic {
		return s.batchAtomic(partials, opts)
	}
	return s.batchNonAtomic(partials, opts)
}

func (s *State) batchNonAtomic(partials []Context, opts BatchOptions) bool {
	s.setSuppressed(true)
	defer s.setSuppressed(false)

	anySuccess := false
	initialPrev := s.manager.Get()
	for _, p := range partials {
		prev := s.manager.Get()
		if s.applyPartialSafe(p) {
			anySuccess = true
		}
		if !opts.EvaluateAfterComplete && s.isCurrent() {
			s.evaluate(s.manager.Get(), prev, true)
		}
	}
	if opts.EvaluateAfterComplete && s.isCurrent() {
		s.evaluate(s.manager.Get(), initialPrev, true)
	}
	return anySuccess
}

func (s *State) batchAtomic(partials []Context, opts BatchOptions) bool {
	snapshot := s.manager.Get()
	s.setSuppressed(true)
	defer s.setSuppressed(false)

	initialPrev := snapshot
	for _, p := range partials {
		prev := s.manager.Get()
		if !s.applyPartialSafe(p) {
			s.manager.Replace(snapshot)
			s.clearAllDebounce()
			return false
		}
		if !opts.EvaluateAfterComplete && s.isCurrent() {
			s.evaluate(s.manager.Get(), prev, true)
		}
	}
	if opts.EvaluateAfterComplete && s.isCurrent() {
		s.evaluate(s.manager.Get(), initialPrev, true)
	}
	return true
}

// applyPartialSafe merges one partial through the StateManager, treating a
// panic from a user-supplied AreEqual hook as a failed partial.
func (s *State) applyPartialSafe(p Context) (ok bool) {
	ok = true
	defer func() {
		if r := recover(); r != nil {
			logPanic(s.logger, "State.batchUpdate", s.Name, r)
			ok = false
		}
	}()
	s.manager.Set(p)
	return ok
}
