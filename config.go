package chronofsm

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// transitionConfig is one declarative outgoing edge, per spec §10.3:
// condition/skip functions are referenced by name and resolved against a
// caller-supplied Registry at load time, since they cannot be serialized.
type transitionConfig struct {
	From       string              `json:"from" yaml:"from"`
	To         string              `json:"to" yaml:"to"`
	Condition  string              `json:"condition" yaml:"condition"`
	Priority   int                 `json:"priority,omitempty" yaml:"priority,omitempty"`
	DebounceMs int                 `json:"debounce,omitempty" yaml:"debounce,omitempty"`
	Retry      *retryConfigDoc     `json:"retry,omitempty" yaml:"retry,omitempty"`
	Group      string              `json:"group,omitempty" yaml:"group,omitempty"`
	Policy     *policyConfig       `json:"policy,omitempty" yaml:"policy,omitempty"`
}

type policyConfig struct {
	WatchProperties []string `json:"watchProperties,omitempty" yaml:"watchProperties,omitempty"`
	SkipIf          string   `json:"skipIf,omitempty" yaml:"skipIf,omitempty"`
	Strategy        string   `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// MachineConfig is the declarative, serializable description of a
// Machine's topology (states, transitions, groups) per spec §10.3/§11. It
// never carries live state or condition bodies.
type MachineConfig struct {
	InitialState   string             `json:"initialState" yaml:"initialState"`
	EnableHistory  bool               `json:"enableHistory,omitempty" yaml:"enableHistory,omitempty"`
	HistoryMaxSize int                `json:"historyMaxSize,omitempty" yaml:"historyMaxSize,omitempty"`
	States         []string           `json:"states" yaml:"states"`
	Transitions    []transitionConfig `json:"transitions" yaml:"transitions"`
	Groups         []groupConfigDoc   `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// ConditionRegistry resolves the named conditions and skip predicates a
// MachineConfig's transitions reference.
type ConditionRegistry struct {
	Conditions map[string]Condition
	SkipFns    map[string]func(Context) bool
}

func strategyFromName(name string) EvaluationStrategy {
	switch name {
	case "nextTick":
		return StrategyNextTick
	case "idle":
		return StrategyIdle
	default:
		return StrategyImmediate
	}
}

// DecodeMachineConfigJSON parses text as JSON into a MachineConfig.
func DecodeMachineConfigJSON(text []byte) (MachineConfig, error) {
	var cfg MachineConfig
	if err := json.Unmarshal(text, &cfg); err != nil {
		return MachineConfig{}, fmt.Errorf("chronofsm: machine config: %w", err)
	}
	return cfg, nil
}

// DecodeMachineConfigYAML parses text as YAML into a MachineConfig.
func DecodeMachineConfigYAML(text []byte) (MachineConfig, error) {
	var cfg MachineConfig
	if err := yaml.Unmarshal(text, &cfg); err != nil {
		return MachineConfig{}, fmt.Errorf("chronofsm: machine config: %w", err)
	}
	return cfg, nil
}

// EncodeJSON serializes cfg as JSON.
func (cfg MachineConfig) EncodeJSON() ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}

// EncodeYAML serializes cfg as YAML.
func (cfg MachineConfig) EncodeYAML() ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Build constructs a live Machine from cfg, resolving every transition's
// named condition/skip function against registry. It returns a
// *GroupConfigError-wrapped error for an unresolvable name or a malformed
// group, per spec §4.6's createGroupFromConfig rehydration path.
func (cfg MachineConfig) Build(opts MachineOptions, registry ConditionRegistry) (*Machine, error) {
	opts.InitialState = cfg.InitialState
	if cfg.EnableHistory {
		opts.EnableHistory = true
		if cfg.HistoryMaxSize > 0 {
			opts.HistoryOptions.MaxSize = cfg.HistoryMaxSize
		}
	}
	m := NewMachine(opts)

	for _, name := range cfg.States {
		m.AddState(name)
	}

	for _, t := range cfg.Transitions {
		cond, ok := registry.Conditions[t.Condition]
		if !ok {
			return nil, NewGroupConfigError(t.Group, fmt.Sprintf("unresolved condition %q for %s->%s", t.Condition, t.From, t.To))
		}
		auto := AutoTransition{
			Target:     t.To,
			Condition:  cond,
			Priority:   t.Priority,
			DebounceMs: t.DebounceMs,
			Group:      t.Group,
		}
		if t.Retry != nil {
			auto.Retry = &RetryConfig{MaxAttempts: t.Retry.MaxAttempts, DelayMs: t.Retry.Delay}
		}
		if t.Policy != nil {
			auto.Policy.WatchProperties = t.Policy.WatchProperties
			auto.Policy.Strategy = strategyFromName(t.Policy.Strategy)
			if t.Policy.SkipIf != "" {
				fn, ok := registry.SkipFns[t.Policy.SkipIf]
				if !ok {
					return nil, NewGroupConfigError(t.Group, fmt.Sprintf("unresolved skipIf %q for %s->%s", t.Policy.SkipIf, t.From, t.To))
				}
				auto.Policy.SkipIf = fn
			}
		}
		m.AddTransition(t.From, t.To, auto)
	}

	for _, gdoc := range cfg.Groups {
		g, err := createGroupFromConfig(gdoc)
		if err != nil {
			return nil, err
		}
		m.AddGroup(g)
	}

	return m, nil
}
