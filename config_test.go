package chronofsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConfig() MachineConfig {
	return MachineConfig{
		InitialState: "idle",
		States:       []string{"idle", "running"},
		Transitions: []transitionConfig{
			{From: "idle", To: "running", Condition: "alwaysGo", Priority: 1,
				Policy: &policyConfig{WatchProperties: []string{"go"}, SkipIf: "neverSkip", Strategy: "nextTick"}},
		},
	}
}

func TestMachineConfigJSONRoundTrip(t *testing.T) {
	cfg := sampleConfig()
	data, err := cfg.EncodeJSON()
	require.NoError(t, err)

	decoded, err := DecodeMachineConfigJSON(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.InitialState, decoded.InitialState)
	require.Len(t, decoded.Transitions, 1)
	assert.Equal(t, "alwaysGo", decoded.Transitions[0].Condition)
	assert.Equal(t, "nextTick", decoded.Transitions[0].Policy.Strategy)
}

func TestMachineConfigYAMLRoundTrip(t *testing.T) {
	cfg := sampleConfig()
	data, err := cfg.EncodeYAML()
	require.NoError(t, err)

	decoded, err := DecodeMachineConfigYAML(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.InitialState, decoded.InitialState)
	require.Len(t, decoded.Transitions, 1)
	assert.Equal(t, "idle", decoded.Transitions[0].From)
}

func TestMachineConfigBuildResolvesNamedConditions(t *testing.T) {
	cfg := sampleConfig()
	registry := ConditionRegistry{
		Conditions: map[string]Condition{
			"alwaysGo": func(s *State, ctx Context) bool { return true },
		},
		SkipFns: map[string]func(Context) bool{
			"neverSkip": func(ctx Context) bool { return false },
		},
	}

	m, err := cfg.Build(MachineOptions{Scheduler: NewFakeScheduler()}, registry)
	require.NoError(t, err)
	assert.True(t, m.Has("idle"))
	assert.True(t, m.Has("running"))
}

func TestMachineConfigBuildFailsOnUnresolvedCondition(t *testing.T) {
	cfg := sampleConfig()
	registry := ConditionRegistry{}

	_, err := cfg.Build(MachineOptions{Scheduler: NewFakeScheduler()}, registry)
	require.Error(t, err)
	var gce *GroupConfigError
	require.ErrorAs(t, err, &gce)
}

func TestMachineConfigBuildFailsOnUnresolvedSkipIf(t *testing.T) {
	cfg := sampleConfig()
	registry := ConditionRegistry{
		Conditions: map[string]Condition{
			"alwaysGo": func(s *State, ctx Context) bool { return true },
		},
	}

	_, err := cfg.Build(MachineOptions{Scheduler: NewFakeScheduler()}, registry)
	require.Error(t, err)
}

func TestMachineConfigBuildWiresGroups(t *testing.T) {
	cfg := sampleConfig()
	cfg.Groups = []groupConfigDoc{{Name: "g", Enabled: false, Transitions: []groupEdgeDoc{{From: "idle", To: "running"}}}}
	registry := ConditionRegistry{
		Conditions: map[string]Condition{
			"alwaysGo": func(s *State, ctx Context) bool { return true },
		},
		SkipFns: map[string]func(Context) bool{
			"neverSkip": func(ctx Context) bool { return false },
		},
	}

	m, err := cfg.Build(MachineOptions{Scheduler: NewFakeScheduler()}, registry)
	require.NoError(t, err)
	g := m.Group("g")
	require.NotNil(t, g)
	assert.False(t, g.Enabled)
}
