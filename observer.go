package chronofsm

import "log/slog"

// ObserverChannel names one of the three lifecycle channels a Machine
// dispatches to around a transition attempt, per spec §4.3.
type ObserverChannel int

const (
	// ChannelBefore runs before current is swapped; any handler returning
	// false vetoes the attempt.
	ChannelBefore ObserverChannel = iota
	// ChannelFailed runs when a transition attempt is rejected or vetoed.
	ChannelFailed
	// ChannelAfter runs after current is swapped and enter handlers run.
	ChannelAfter
)

// BeforeHandler observes an about-to-happen transition and may veto it by
// returning false.
type BeforeHandler func(prev *string, next string) bool

// AfterHandler observes a completed transition.
type AfterHandler func(prev *string, next string)

// FailedHandler observes a rejected or vetoed transition attempt.
type FailedHandler func(prev *string, target string)

// observerEntry pairs a registered handler with an id so Remove can drop
// exactly the occurrence Add returned, mirroring subscription in
// statemanager.go.
type observerEntry[T any] struct {
	id int
	fn T
}

// ObserverRegistry holds the ordered before/failed/after handler lists for
// one Machine and dispatches to them with panic isolation. Spec component
// C4.
type ObserverRegistry struct {
	logger *slog.Logger
	nextID int

	before []observerEntry[BeforeHandler]
	failed []observerEntry[FailedHandler]
	after  []observerEntry[AfterHandler]
}

// NewObserverRegistry creates an empty registry. A nil logger falls back to
// a discard logger.
func NewObserverRegistry(logger *slog.Logger) *ObserverRegistry {
	if logger == nil {
		logger = discardLogger()
	}
	return &ObserverRegistry{logger: logger}
}

// AddBefore appends handler to the before channel and returns a remove func.
func (o *ObserverRegistry) AddBefore(handler BeforeHandler) (remove func()) {
	id := o.nextID
	o.nextID++
	o.before = append(o.before, observerEntry[BeforeHandler]{id: id, fn: handler})
	return func() {
		for i, e := range o.before {
			if e.id == id {
				o.before = append(o.before[:i], o.before[i+1:]...)
				return
			}
		}
	}
}

// AddFailed appends handler to the failed channel and returns a remove func.
func (o *ObserverRegistry) AddFailed(handler FailedHandler) (remove func()) {
	id := o.nextID
	o.nextID++
	o.failed = append(o.failed, observerEntry[FailedHandler]{id: id, fn: handler})
	return func() {
		for i, e := range o.failed {
			if e.id == id {
				o.failed = append(o.failed[:i], o.failed[i+1:]...)
				return
			}
		}
	}
}

// AddAfter appends handler to the after channel and returns a remove func.
func (o *ObserverRegistry) AddAfter(handler AfterHandler) (remove func()) {
	id := o.nextID
	o.nextID++
	o.after = append(o.after, observerEntry[AfterHandler]{id: id, fn: handler})
	return func() {
		for i, e := range o.after {
			if e.id == id {
				o.after = append(o.after[:i], o.after[i+1:]...)
				return
			}
		}
	}
}

// TriggerBefore runs every before handler in insertion order. If any
// returns false the aggregate result is a veto (false). A handler panic
// is logged and treated as non-veto (true), per spec §4.3.
func (o *ObserverRegistry) TriggerBefore(prev *string, next string) bool {
	ok := true
	for _, e := range o.before {
		if !o.callBefore(e.fn, prev, next) {
			ok = false
		}
	}
	return ok
}

func (o *ObserverRegistry) callBefore(h BeforeHandler, prev *string, next string) (result bool) {
	result = true
	defer func() {
		if r := recover(); r != nil {
			logPanic(o.logger, "ObserverRegistry.before", next, r)
			result = true
		}
	}()
	return h(prev, next)
}

// TriggerFailed runs every failed handler in insertion order, ignoring
// return values; panics are logged and swallowed.
func (o *ObserverRegistry) TriggerFailed(prev *string, target string) {
	for _, e := range o.failed {
		o.callFailed(e.fn, prev, target)
	}
}

func (o *ObserverRegistry) callFailed(h FailedHandler, prev *string, target string) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(o.logger, "ObserverRegistry.failed", target, r)
		}
	}()
	h(prev, target)
}

// TriggerAfter runs every after handler in insertion order, ignoring
// return values; panics are logged and swallowed.
func (o *ObserverRegistry) TriggerAfter(prev *string, next string) {
	for _, e := range o.after {
		o.callAfter(e.fn, prev, next)
	}
}

func (o *ObserverRegistry) callAfter(h AfterHandler, prev *string, next string) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(o.logger, "ObserverRegistry.after", next, r)
		}
	}()
	h(prev, next)
}
