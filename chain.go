package chronofsm

// Chain is fluent sugar over AddState/AddTransition/OnEnter, mirroring the
// teacher's StateBuilder/TransitionBuilder chains. It is a thin convenience
// layer, not part of the core evaluation engine: the chain only ever calls
// AddState, AddTransition and OnEnter on the machine.
type Chain struct {
	machine *Machine
}

// NewChain wraps machine for fluent construction.
func NewChain(machine *Machine) *Chain { return &Chain{machine: machine} }

// From starts a chain of outgoing transitions from the named state.
func (c *Chain) From(name string) *FromChain {
	c.machine.AddState(name)
	return &FromChain{chain: c, from: name}
}

// FromChain is the "from(name)" step of the fluent chain.
type FromChain struct {
	chain *Chain
	from  string
}

// To starts configuring an outgoing transition toward target.
func (f *FromChain) To(target string) *TransitionChain {
	return &TransitionChain{chain: f.chain, from: f.from, auto: AutoTransition{Target: target}}
}

// TransitionChain accumulates one AutoTransition's fields before it is
// committed to the machine by Or, And, or End.
type TransitionChain struct {
	chain     *Chain
	from      string
	auto      AutoTransition
	committed bool
}

// When sets the transition's condition.
func (t *TransitionChain) When(cond Condition) *TransitionChain {
	t.auto.Condition = cond
	return t
}

// Priority sets the transition's tie-break priority.
func (t *TransitionChain) Priority(p int) *TransitionChain {
	t.auto.Priority = p
	return t
}

// Debounce sets the transition's debounce window in milliseconds.
func (t *TransitionChain) Debounce(ms int) *TransitionChain {
	t.auto.DebounceMs = ms
	return t
}

// WithRetry sets the transition's retry policy.
func (t *TransitionChain) WithRetry(cfg RetryConfig) *TransitionChain {
	t.auto.Retry = &cfg
	return t
}

// InGroup tags the transition with a TransitionGroup name.
func (t *TransitionChain) InGroup(name string) *TransitionChain {
	t.auto.Group = name
	return t
}

// WatchProperties sets the watched-property gate.
func (t *TransitionChain) WatchProperties(paths ...string) *TransitionChain {
	t.auto.Policy.WatchProperties = paths
	return t
}

// SkipIf sets the skip-condition gate.
func (t *TransitionChain) SkipIf(fn func(Context) bool) *TransitionChain {
	t.auto.Policy.SkipIf = fn
	return t
}

// Strategy sets the scheduling lane for a non-debounced transition.
func (t *TransitionChain) Strategy(strategy EvaluationStrategy) *TransitionChain {
	t.auto.Policy.Strategy = strategy
	return t
}

// Do registers an enter handler on the transition's target state.
func (t *TransitionChain) Do(h EnterHandler) *TransitionChain {
	t.chain.machine.AddState(t.auto.Target).OnEnter(h)
	return t
}

// flush commits the accumulated AutoTransition to the machine, once.
func (t *TransitionChain) flush() {
	if t.committed {
		return
	}
	t.chain.machine.AddTransition(t.from, t.auto.Target, t.auto)
	t.committed = true
}

// Or commits the current transition and starts another one from the same
// source state toward a different target.
func (t *TransitionChain) Or(target string) *TransitionChain {
	t.flush()
	return &TransitionChain{chain: t.chain, from: t.from, auto: AutoTransition{Target: target}}
}

// And is an alias for Or, matching the spec's named "from/to/or/when/do/and"
// surface.
func (t *TransitionChain) And(target string) *TransitionChain {
	return t.Or(target)
}

// End commits the current transition, terminating the chain.
func (t *TransitionChain) End() {
	t.flush()
}
