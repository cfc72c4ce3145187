package chronofsm

import (
	"fmt"
)

// RetryConfig governs re-attempting a panicking auto-transition condition
// before giving up; a falsy result is not retried, per spec §4.5c.
type RetryConfig struct {
	// MaxAttempts is the number of times the condition is evaluated before
	// the transition is abandoned. Must be >= 1.
	MaxAttempts int
	// DelayMs is the wait, via the Scheduler, between a failed attempt and
	// the next one.
	DelayMs int
}

// GroupDefaults carries the priority/debounce/retry values stored on a group
// or edge and round-tripped through its serialized document, per spec §4.6
// "Groups". Evaluation does not apply them to tagged transitions; each
// AutoTransition's own fields are used as they are.
type GroupDefaults struct {
	Priority *int
	DebounceMs *int
	Retry      *RetryConfig
}

// GroupEdge is one (from, to) pair a group owns, with optional config and
// free-form tags used only for bookkeeping/serialization.
type GroupEdge struct {
	From string
	To   string
	Config GroupDefaults
	Tags   []string
}

// TransitionGroup owns a name, an enabled flag, shared defaults, and a list
// of edges. Disabling a group filters every transition tagged with it out
// of evaluation before bucketing, per spec §4.6. Spec's "transition groups"
// concept, restricted (per the spec's own Non-goals) to the gating flag and
// naming; grouping beyond that is caller bookkeeping.
type TransitionGroup struct {
	Name        string
	Namespace   string
	Enabled     bool
	Config      GroupDefaults
	Edges       []GroupEdge
	ParentGroup string
}

// NewTransitionGroup creates an enabled, empty group.
func NewTransitionGroup(name string) *TransitionGroup {
	return &TransitionGroup{Name: name, Enabled: true}
}

// AddEdge records that this group owns the (from, to) transition.
func (g *TransitionGroup) AddEdge(edge GroupEdge) {
	g.Edges = append(g.Edges, edge)
}

// HasEdge reports whether the group owns the given (from, to) pair.
func (g *TransitionGroup) HasEdge(from, to string) bool {
	for _, e := range g.Edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// groupConfigDoc mirrors GroupConfig's serialized JSON/YAML shape, per spec
// §7 "Serialized group".
type groupConfigDoc struct {
	Name        string             `json:"name" yaml:"name"`
	Namespace   string             `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Enabled     bool               `json:"enabled" yaml:"enabled"`
	Config      *groupDefaultsDoc  `json:"config,omitempty" yaml:"config,omitempty"`
	Transitions []groupEdgeDoc     `json:"transitions" yaml:"transitions"`
	ParentGroup string             `json:"parentGroup,omitempty" yaml:"parentGroup,omitempty"`
}

type groupDefaultsDoc struct {
	Priority    *int             `json:"priority,omitempty" yaml:"priority,omitempty"`
	DebounceMs  *int             `json:"debounce,omitempty" yaml:"debounce,omitempty"`
	RetryConfig *retryConfigDoc  `json:"retryConfig,omitempty" yaml:"retryConfig,omitempty"`
}

type retryConfigDoc struct {
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`
	Delay       int `json:"delay" yaml:"delay"`
}

type groupEdgeDoc struct {
	From   string   `json:"from" yaml:"from"`
	To     string   `json:"to" yaml:"to"`
	Config *groupDefaultsDoc `json:"config,omitempty" yaml:"config,omitempty"`
	Tags   []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

func (d groupDefaultsDoc) toDefaults() GroupDefaults {
	out := GroupDefaults{Priority: d.Priority, DebounceMs: d.DebounceMs}
	if d.RetryConfig != nil {
		out.Retry = &RetryConfig{MaxAttempts: d.RetryConfig.MaxAttempts, DelayMs: d.RetryConfig.Delay}
	}
	return out
}

func fromDefaults(d GroupDefaults) *groupDefaultsDoc {
	if d.Priority == nil && d.DebounceMs == nil && d.Retry == nil {
		return nil
	}
	doc := &groupDefaultsDoc{Priority: d.Priority, DebounceMs: d.DebounceMs}
	if d.Retry != nil {
		doc.RetryConfig = &retryConfigDoc{MaxAttempts: d.Retry.MaxAttempts, Delay: d.Retry.DelayMs}
	}
	return doc
}

// toDoc converts g into its serializable shape. Edge conditions are not
// part of the document: they are behavior, not data, per spec §4.6
// ("condition functions cannot be serialized").
func (g *TransitionGroup) toDoc() groupConfigDoc {
	doc := groupConfigDoc{
		Name:        g.Name,
		Namespace:   g.Namespace,
		Enabled:     g.Enabled,
		Config:      fromDefaults(g.Config),
		ParentGroup: g.ParentGroup,
		Transitions: make([]groupEdgeDoc, len(g.Edges)),
	}
	for i, e := range g.Edges {
		doc.Transitions[i] = groupEdgeDoc{From: e.From, To: e.To, Config: fromDefaults(e.Config), Tags: e.Tags}
	}
	return doc
}

// toGroup rebuilds a TransitionGroup from its serialized document.
func (g *TransitionGroup) toGroup(doc groupConfigDoc) *TransitionGroup {
	out := &TransitionGroup{
		Name:        doc.Name,
		Namespace:   doc.Namespace,
		Enabled:     doc.Enabled,
		ParentGroup: doc.ParentGroup,
	}
	if doc.Config != nil {
		out.Config = doc.Config.toDefaults()
	}
	out.Edges = make([]GroupEdge, len(doc.Transitions))
	for i, e := range doc.Transitions {
		edge := GroupEdge{From: e.From, To: e.To, Tags: e.Tags}
		if e.Config != nil {
			edge.Config = e.Config.toDefaults()
		}
		out.Edges[i] = edge
	}
	return out
}

// createGroupFromConfig rehydrates a group from its serialized document.
// Edge conditions are not part of the document and must be supplied by the
// caller afterward (e.g. by looking each edge up in a user-provided
// condition map keyed by "from->to"), per spec §4.6.
func createGroupFromConfig(doc groupConfigDoc) (*TransitionGroup, error) {
	if doc.Name == "" {
		return nil, NewGroupConfigError("", "name is required")
	}
	for i, e := range doc.Transitions {
		if e.From == "" || e.To == "" {
			return nil, NewGroupConfigError(doc.Name, fmt.Sprintf("transitions[%d]: from/to are required", i))
		}
	}
	return (&TransitionGroup{}).toGroup(doc), nil
}
