package chronofsm

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Metrics is the caller-supplied collector for StateManager activity
// (spec §3's stateManagerConfig.metrics). A nil Metrics is replaced by
// noopMetrics, so callers never need to check for nil before wiring one.
type Metrics interface {
	// ObserveSet is called once per applied update (each Set, or each
	// coalesced batch when BatchUpdates is on), reporting whether the merge
	// actually changed the context (areEqual returned false).
	ObserveSet(state string, changed bool)
	// ObserveDerive is called once per StateManager.Derive while
	// memoization is enabled, reporting whether the cached value was
	// reused. It is not called when memoization is disabled.
	ObserveDerive(state, key string, hit bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSet(string, bool)      {}
func (noopMetrics) ObserveDerive(string, string, bool) {}

// memoEntry is one cached StateManager.Derive result.
type memoEntry struct {
	value any
	deps  []string
}

func sameDeps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// StateManagerConfig configures a StateManager, per spec §3.
type StateManagerConfig struct {
	// BatchUpdates, when true, coalesces Set calls arriving within
	// BatchWindowMs into a single merge + notify + evaluate.
	BatchUpdates bool
	// BatchWindowMs is the coalescing window; ignored unless BatchUpdates.
	BatchWindowMs int
	// EnableMemoization turns on Derive caching. When false, Derive always
	// recomputes.
	EnableMemoization bool
	// AreEqual decides whether a merged context differs from the prior one.
	// Defaults to shallowEqualContext.
	AreEqual func(prev, next Context) bool
	// Metrics receives Set/Derive observations. Defaults to a no-op.
	Metrics Metrics
	// Logger receives panic/error records from listeners and Derive
	// functions. Defaults to a discard logger.
	Logger *slog.Logger
}

func (c StateManagerConfig) normalize() StateManagerConfig {
	if c.AreEqual == nil {
		c.AreEqual = shallowEqualContext
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
	return c
}

// Listener observes committed context changes. Set never calls a listener
// when areEqual reports no change.
type Listener func(prev, next Context)

// StateManager owns one state's context: the current value, optional
// update batching, a shallow-equality change gate, and keyed memoized
// derivations with dependency invalidation. Spec component C2.
type StateManager struct {
	name      string
	cfg       StateManagerConfig
	scheduler Scheduler

	mu        sync.Mutex
	current   Context
	pending   []Context
	batchTs   time.Time
	batching  bool
	batchTimer Handle

	listeners   []subscription
	nextSubID   int
	memo        map[string]memoEntry
}

// subscription pairs a Listener with an id so Subscribe's returned
// unsubscribe closure can remove exactly the entry it registered, in
// registration-order-preserving fashion, without requiring Listener to be
// comparable (Go funcs never are).
type subscription struct {
	id int
	fn Listener
}

// NewStateManager creates a StateManager for the named owning state,
// starting from an empty context.
func NewStateManager(name string, cfg StateManagerConfig, scheduler Scheduler) *StateManager {
	return &StateManager{
		name:      name,
		cfg:       cfg.normalize(),
		scheduler: scheduler,
		current:   Context{},
		memo:      make(map[string]memoEntry),
	}
}

// Get returns the current context. The returned value is the manager's
// own snapshot; callers must not mutate it in place.
func (m *StateManager) Get() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe registers listener to be notified on every committed (non-equal)
// context change, in registration order. It returns an unsubscribe func.
func (m *StateManager) Subscribe(listener Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.listeners = append(m.listeners, subscription{id: id, fn: listener})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.listeners {
			if s.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				break
			}
		}
	}
}

// Set applies partial as a shallow merge over the current context. When
// BatchUpdates is enabled, partial is queued and merged with any other
// partials pending in the same BatchWindowMs window; otherwise it is
// applied immediately. Per spec §4.2, Set never throws from the merge
// itself - only listener panics are caught, one per listener.
func (m *StateManager) Set(partial Context) {
	m.mu.Lock()
	if m.cfg.BatchUpdates {
		m.pending = append(m.pending, partial)
		if !m.batching {
			m.batching = true
			delay := time.Duration(m.cfg.BatchWindowMs) * time.Millisecond
			m.batchTimer = m.scheduler.Schedule(delay, m.applyBatch)
		}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.apply([]Context{partial})
}

// applyBatch is the scheduled callback that commits every partial queued
// during one batch window as a single merge + notify.
func (m *StateManager) applyBatch() {
	m.mu.Lock()
	partials := m.pending
	m.pending = nil
	m.batching = false
	m.batchTimer = zeroHandle
	m.mu.Unlock()
	if len(partials) == 0 {
		return
	}
	m.apply(partials)
}

// apply merges partials left-to-right over current, compares via AreEqual,
// and on a real change swaps in the result, invalidates affected memo
// entries, and notifies subscribers - all exactly once per call, per spec
// §4.2's "Apply" definition.
func (m *StateManager) apply(partials []Context) {
	m.mu.Lock()
	prev := m.current
	next := prev
	touched := map[string]bool{}
	for _, p := range partials {
		next = next.merge(p)
		for k := range p {
			touched[k] = true
		}
	}
	changed := !m.cfg.AreEqual(prev, next)
	if !changed {
		m.mu.Unlock()
		m.cfg.Metrics.ObserveSet(m.name, false)
		return
	}
	m.current = next
	m.invalidateLocked(touched)
	listeners := append([]subscription(nil), m.listeners...)
	m.mu.Unlock()

	m.cfg.Metrics.ObserveSet(m.name, true)
	for _, s := range listeners {
		m.notifyOne(s.fn, prev, next)
	}
}

// notifyOne invokes one listener with panic isolation, per spec §4.2
// ("listener exceptions are isolated per listener").
func (m *StateManager) notifyOne(l Listener, prev, next Context) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(m.cfg.Logger, "StateManager.listener", m.name, r)
		}
	}()
	l(prev, next)
}

// invalidateLocked drops memo entries whose dependency list's top-level key
// intersects touched. Caller must hold m.mu.
func (m *StateManager) invalidateLocked(touched map[string]bool) {
	for key, entry := range m.memo {
		for _, dep := range entry.deps {
			if touched[parsePath(dep).topLevelKey()] {
				delete(m.memo, key)
				break
			}
		}
	}
}

// Derive returns a memoized computation of fn(current context), keyed by
// key and invalidated whenever a top-level property in deps changes. When
// memoization is disabled, fn always runs. Per spec §4.2.
func (m *StateManager) Derive(key string, fn func(ctx Context) any, deps []string) any {
	if !m.cfg.EnableMemoization {
		return m.runDerive(fn)
	}
	m.mu.Lock()
	if entry, ok := m.memo[key]; ok && sameDeps(entry.deps, deps) {
		m.mu.Unlock()
		m.cfg.Metrics.ObserveDerive(m.name, key, true)
		return entry.value
	}
	m.mu.Unlock()

	value := m.runDerive(fn)

	m.mu.Lock()
	m.memo[key] = memoEntry{value: value, deps: append([]string(nil), deps...)}
	m.mu.Unlock()
	m.cfg.Metrics.ObserveDerive(m.name, key, false)
	return value
}

func (m *StateManager) runDerive(fn func(ctx Context) any) (result any) {
	ctx := m.Get()
	defer func() {
		if r := recover(); r != nil {
			logPanic(m.cfg.Logger, "StateManager.derive", m.name, r)
			result = nil
		}
	}()
	return fn(ctx)
}

// Replace swaps in ctx directly, bypassing AreEqual, memo invalidation, and
// listener notification. Three call sites rely on that bypass: restoring a
// pre-batch snapshot after an atomic State.BatchUpdate failure (per spec
// §4.5c, "using setState without triggering evaluation semantics");
// Machine.commit merging a Transition's contextPatch into the target state
// before it becomes current; and TimeTravel.TravelTo/ReturnToCurrent
// swapping a state's context to/from a historical snapshot without
// re-running handlers or observers.
func (m *StateManager) Replace(ctx Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ctx
}

// ClearMemo drops every cached Derive entry.
func (m *StateManager) ClearMemo() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memo = make(map[string]memoEntry)
}

// ClearMemoKeys drops the named cached Derive entries, leaving others intact.
func (m *StateManager) ClearMemoKeys(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.memo, k)
	}
}

// memoKeysSorted returns the currently cached Derive keys, sorted, mostly
// useful for tests and introspection.
func (m *StateManager) memoKeysSorted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.memo))
	for k := range m.memo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
