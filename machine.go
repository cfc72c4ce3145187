package chronofsm

import (
	"log/slog"
	"sync"
)

// Plugin is transition middleware installed around Machine.Transition's
// step 5 (exit/swap/enter/after), per spec §4.6 "Plugins". A plugin must
// call next() exactly once to let the transition proceed, or return
// without calling it to suppress/abort.
type Plugin func(prev *string, next string, nextFn func())

// MachineOptions configures a Machine, per spec §6.
type MachineOptions struct {
	InitialState      string
	EnableHistory     bool
	HistoryOptions    HistoryOptions
	StateManagerConfig StateManagerConfig
	Scheduler         Scheduler
	Logger            *slog.Logger
	Metrics           Metrics
}

// Machine holds the state registry, the current-state pointer, the
// observer registry, an optional global history, and an optional
// time-travel overlay. Only its Transition, SetState, Remove and Clear and
// its TimeTravel overlay mutate current. Spec component C6.
type Machine struct {
	opts      MachineOptions
	scheduler Scheduler
	logger    *slog.Logger
	observers *ObserverRegistry
	history   *TransitionHistory
	timeTravel *TimeTravel

	mu           sync.Mutex
	states       map[string]*State
	stateOrder   []string
	current      *State
	plugins      []Plugin
	groups       map[string]*TransitionGroup
	inTimeTravelMode bool
}

// NewMachine creates a Machine per opts. A nil Scheduler defaults to a
// RealScheduler; a nil Logger defaults to a discard logger.
func NewMachine(opts MachineOptions) *Machine {
	if opts.Scheduler == nil {
		opts.Scheduler = NewRealScheduler()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.StateManagerConfig.Logger == nil {
		opts.StateManagerConfig.Logger = opts.Logger
	}
	if opts.StateManagerConfig.Metrics == nil {
		opts.StateManagerConfig.Metrics = opts.Metrics
	}
	m := &Machine{
		opts:      opts,
		scheduler: opts.Scheduler,
		logger:    opts.Logger,
		observers: NewObserverRegistry(opts.Logger),
		states:    make(map[string]*State),
		groups:    make(map[string]*TransitionGroup),
	}
	if opts.EnableHistory {
		m.history = NewTransitionHistory(opts.HistoryOptions, m.scheduler)
		m.timeTravel = newTimeTravel(m)
	}
	return m
}

// AddState registers name if absent and returns its State, per spec §6
// "addState"/"from". Calling it multiple times for the same name is a
// no-op beyond the first.
func (m *Machine) AddState(name string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(name)
}

// From is an alias for AddState, matching the spec's external-interface
// naming.
func (m *Machine) From(name string) *State { return m.AddState(name) }

func (m *Machine) getOrCreateLocked(name string) *State {
	if s, ok := m.states[name]; ok {
		return s
	}
	s := newState(name, m, m.opts.StateManagerConfig, m.logger)
	m.states[name] = s
	m.stateOrder = append(m.stateOrder, name)
	return s
}

// GetState returns the named state, or nil if it was never registered.
func (m *Machine) GetState(name string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[name]
}

// States returns every registered state name, in registration order.
func (m *Machine) States() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.stateOrder))
	copy(out, m.stateOrder)
	return out
}

// Has reports whether name was registered.
func (m *Machine) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[name]
	return ok
}

// Remove deletes the named state and prunes any outgoing edge from every
// other state that targeted it, per spec §6.
func (m *Machine) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, name)
	for i, n := range m.stateOrder {
		if n == name {
			m.stateOrder = append(m.stateOrder[:i], m.stateOrder[i+1:]...)
			break
		}
	}
	for _, s := range m.states {
		kept := s.transitions[:0:0]
		for _, t := range s.transitions {
			if t.Target != name {
				kept = append(kept, t)
			}
		}
		s.transitions = kept
	}
	if m.current != nil && m.current.Name == name {
		m.current = nil
	}
}

// Clear removes every state and resets current to nil.
func (m *Machine) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*State)
	m.stateOrder = nil
	m.current = nil
}

// AddTransition registers an outgoing auto-transition from `from` to `to`,
// creating both states if they don't yet exist, per spec §6.
func (m *Machine) AddTransition(from, to string, auto AutoTransition) {
	auto.Target = to
	s := m.AddState(from)
	m.AddState(to)
	s.AddTransition(auto)
}

// currentName returns the current state's name, or ("", false) if unset.
func (m *Machine) currentName() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.Name, true
}

// CurrentState returns the current State, or nil before Start/SetState.
func (m *Machine) CurrentState() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Can reports whether target is a declared outgoing edge of the current
// state, mirroring Transition's structural check, per spec §6.
func (m *Machine) Can(target string) bool {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur == nil {
		return target == m.opts.InitialState
	}
	for _, n := range cur.TransitionNames() {
		if n == target {
			return true
		}
	}
	return false
}

// Start transitions to the configured initial state, per spec §4.6.
func (m *Machine) Start() (bool, error) {
	return m.Transition(m.opts.InitialState, nil)
}

// SetState forcibly sets current to name, bypassing observers, history,
// and handlers entirely. For tests only, per spec §6.
func (m *Machine) SetState(name string) error {
	m.mu.Lock()
	s, ok := m.states[name]
	if !ok {
		m.mu.Unlock()
		return NewStateError(name, "state not registered")
	}
	m.current = s
	m.mu.Unlock()
	return nil
}

// Transition is the only path that changes current apart from the
// test-only SetState and time travel. It implements spec §4.6's five-step
// contract.
func (m *Machine) Transition(targetName string, contextPatch Context) (bool, error) {
	if targetName == "" {
		return false, NewTransitionError(ErrCodeNoTarget, "", "", "no target specified")
	}

	m.mu.Lock()
	cur := m.current
	_, exists := m.states[targetName]
	m.mu.Unlock()

	var prevName *string
	if cur != nil {
		n := cur.Name
		prevName = &n
	}

	if cur == nil {
		if targetName != m.opts.InitialState {
			m.observers.TriggerFailed(nil, targetName)
			m.recordFailed(nil, targetName)
			return false, nil
		}
		if !m.observers.TriggerBefore(nil, targetName) {
			m.observers.TriggerFailed(nil, targetName)
			m.recordFailed(nil, targetName)
			return false, nil
		}
		target := m.AddState(targetName)
		return m.commit(nil, target, contextPatch), nil
	}

	if !exists {
		m.observers.TriggerFailed(prevName, targetName)
		m.recordFailed(prevName, targetName)
		return false, nil
	}

	declared := false
	for _, n := range cur.TransitionNames() {
		if n == targetName {
			declared = true
			break
		}
	}
	if !declared {
		m.observers.TriggerFailed(prevName, targetName)
		m.recordFailed(prevName, targetName)
		return false, nil
	}

	if !m.observers.TriggerBefore(prevName, targetName) {
		m.observers.TriggerFailed(prevName, targetName)
		m.recordFailed(prevName, targetName)
		return false, nil
	}

	target := m.GetState(targetName)
	return m.runMiddleware(cur, prevName, target, contextPatch), nil
}

// runMiddleware applies installed plugins around commit, in installation
// order, per spec §4.6 "Plugins".
func (m *Machine) runMiddleware(cur *State, prevName *string, target *State, contextPatch Context) bool {
	fired := false
	var chain func(i int)
	chain = func(i int) {
		if i >= len(m.plugins) {
			fired = m.commit(cur, target, contextPatch)
			return
		}
		m.plugins[i](prevName, target.Name, func() { chain(i + 1) })
	}
	chain(0)
	return fired
}

// commit performs the exit/swap/enter/after sequence of step 5, recording
// history and swapping m.current under lock for the swap itself.
func (m *Machine) commit(cur *State, target *State, contextPatch Context) bool {
	var prevName *string
	if cur != nil {
		n := cur.Name
		prevName = &n
		cur.triggerExit(target.Name)
	}
	if contextPatch != nil {
		target.manager.Replace(target.manager.Get().merge(contextPatch))
	}

	m.mu.Lock()
	m.current = target
	m.mu.Unlock()

	m.recordSuccess(prevName, target.Name)
	target.triggerEnter(prevName)
	m.observers.TriggerAfter(prevName, target.Name)
	return true
}

func (m *Machine) recordSuccess(prevName *string, to string) {
	if m.history == nil {
		return
	}
	m.history.Record(prevName, to, RecordOptions{Success: true})
}

func (m *Machine) recordFailed(prevName *string, to string) {
	if m.history == nil {
		return
	}
	m.history.Record(prevName, to, RecordOptions{Success: false})
}

// ObserveBefore registers handler on the before channel, per spec §6
// "observe". A handler returning false vetoes the attempted transition.
func (m *Machine) ObserveBefore(handler BeforeHandler) func() { return m.observers.AddBefore(handler) }

// ObserveFailed registers handler on the failed channel.
func (m *Machine) ObserveFailed(handler FailedHandler) func() { return m.observers.AddFailed(handler) }

// ObserveAfter registers handler on the after channel.
func (m *Machine) ObserveAfter(handler AfterHandler) func() { return m.observers.AddAfter(handler) }

// Use installs a plugin, in installation order.
func (m *Machine) Use(p Plugin) {
	m.plugins = append(m.plugins, p)
}

// AddGroup registers a transition group, keyed by its Name.
func (m *Machine) AddGroup(g *TransitionGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.Name] = g
}

// Group returns the named group, or nil.
func (m *Machine) Group(name string) *TransitionGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[name]
}

func (m *Machine) groupDisabled(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[name]
	if !ok {
		return false
	}
	return !g.Enabled
}

// History returns the global TransitionHistory, or nil if history was not
// enabled.
func (m *Machine) History() *TransitionHistory { return m.history }

// GetTimeTravel returns the TimeTravel overlay, or nil if history was not
// enabled.
func (m *Machine) GetTimeTravel() *TimeTravel { return m.timeTravel }

func (m *Machine) inTimeTravel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inTimeTravelMode
}

func (m *Machine) setInTimeTravel(v bool) {
	m.mu.Lock()
	m.inTimeTravelMode = v
	m.mu.Unlock()
}
