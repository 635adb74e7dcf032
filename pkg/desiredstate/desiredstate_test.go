package desiredstate

import (
	"testing"

	"github.com/ankaios-go/ankaios/pkg/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spec(name, agent, runtimeConfig string, deps map[string]workload.AddCondition) workload.Spec {
	return workload.Spec{Name: name, Agent: agent, RuntimeConfig: runtimeConfig, Dependencies: deps}
}

func TestUpdateEmptyMaskReplacesWholesale(t *testing.T) {
	current := State{Workloads: map[string]workload.Spec{"a": spec("a", "agent_A", "1", nil)}}
	incoming := State{Workloads: map[string]workload.Spec{"b": spec("b", "agent_A", "1", nil)}}

	next, err := Update(current, incoming, nil)
	require.NoError(t, err)
	assert.Len(t, next.Workloads, 1)
	_, hasB := next.Workloads["b"]
	assert.True(t, hasB)
}

func TestUpdateMaskAddsWorkload(t *testing.T) {
	current := Empty()
	incoming := State{Workloads: map[string]workload.Spec{"a": spec("a", "agent_A", "1", nil)}}

	next, err := Update(current, incoming, []string{"desiredState.workloads.a"})
	require.NoError(t, err)
	assert.Contains(t, next.Workloads, "a")
}

func TestUpdateMaskRemovesWorkloadWhenAbsentFromIncoming(t *testing.T) {
	current := State{Workloads: map[string]workload.Spec{"a": spec("a", "agent_A", "1", nil)}}
	incoming := Empty()

	next, err := Update(current, incoming, []string{"desiredState.workloads.a"})
	require.NoError(t, err)
	assert.NotContains(t, next.Workloads, "a")
}

func TestUpdateMaskLeavesOtherWorkloadsUntouched(t *testing.T) {
	current := State{Workloads: map[string]workload.Spec{
		"a": spec("a", "agent_A", "1", nil),
		"b": spec("b", "agent_A", "1", nil),
	}}
	incoming := State{Workloads: map[string]workload.Spec{"a": spec("a", "agent_A", "2", nil)}}

	next, err := Update(current, incoming, []string{"desiredState.workloads.a"})
	require.NoError(t, err)
	assert.Equal(t, "2", next.Workloads["a"].RuntimeConfig)
	assert.Contains(t, next.Workloads, "b")
}

func TestUpdateMaskFieldNotFoundOnDeeperMissingPath(t *testing.T) {
	current := Empty()
	incoming := Empty()

	_, err := Update(current, incoming, []string{"desiredState.workloads.a.tags"})
	assert.ErrorContains(t, err, "FieldNotFound")
}

func TestUpdateMaskInvalidShape(t *testing.T) {
	_, err := Update(Empty(), Empty(), []string{"desiredState"})
	assert.ErrorContains(t, err, "ResultInvalid")
}

func TestComputeDiffAddedAndDeleted(t *testing.T) {
	old := State{Workloads: map[string]workload.Spec{"a": spec("a", "agent_A", "1", nil)}}
	next := State{Workloads: map[string]workload.Spec{"b": spec("b", "agent_A", "1", nil)}}

	diff := ComputeDiff(old, next, NewDeleteGraph(nil))
	require.Len(t, diff.Added, 1)
	require.Len(t, diff.Deleted, 1)
	assert.Equal(t, "b", diff.Added[0].Name)
	assert.Equal(t, "a", diff.Deleted[0].Name)
}

func TestComputeDiffChangedSpecEmitsBothDeleteAndAdd(t *testing.T) {
	old := State{Workloads: map[string]workload.Spec{"a": spec("a", "agent_A", "1", nil)}}
	next := State{Workloads: map[string]workload.Spec{"a": spec("a", "agent_A", "2", nil)}}

	diff := ComputeDiff(old, next, NewDeleteGraph(nil))
	require.Len(t, diff.Added, 1)
	require.Len(t, diff.Deleted, 1)
	assert.Equal(t, "a", diff.Added[0].Name)
	assert.Equal(t, "a", diff.Deleted[0].Name)
}

func TestComputeDiffDependencyOnlyChangeEmitsBothDeleteAndAdd(t *testing.T) {
	old := State{Workloads: map[string]workload.Spec{"a": spec("a", "agent_A", "1", nil)}}
	next := State{Workloads: map[string]workload.Spec{
		"a": spec("a", "agent_A", "1", map[string]workload.AddCondition{"b": workload.AddConditionRunning}),
	}}

	diff := ComputeDiff(old, next, NewDeleteGraph(nil))
	require.Len(t, diff.Added, 1, "a dependency change must surface as an update even though RuntimeConfig is unchanged")
	require.Len(t, diff.Deleted, 1)
}

func TestComputeDiffUnchangedSpecIsNoOp(t *testing.T) {
	old := State{Workloads: map[string]workload.Spec{"a": spec("a", "agent_A", "1", nil)}}
	next := State{Workloads: map[string]workload.Spec{"a": spec("a", "agent_A", "1", nil)}}

	diff := ComputeDiff(old, next, NewDeleteGraph(nil))
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Deleted)
}

// TestDeleteGraphDiagram mirrors the original fixture: workloads 1 and 2
// depend on each other (Running), 3 and 5 depend on each other
// (Running), 4 depends on 1 with AddConditionFailed (no edge), and 6
// stands alone.
func TestDeleteGraphDiagram(t *testing.T) {
	specs := []workload.Spec{
		spec("wl1", "agent_A", "1", map[string]workload.AddCondition{"wl2": workload.AddConditionRunning}),
		spec("wl2", "agent_A", "1", map[string]workload.AddCondition{"wl1": workload.AddConditionRunning}),
		spec("wl3", "agent_A", "1", map[string]workload.AddCondition{"wl5": workload.AddConditionRunning}),
		spec("wl4", "agent_A", "1", map[string]workload.AddCondition{"wl1": workload.AddConditionFailed}),
		spec("wl5", "agent_A", "1", map[string]workload.AddCondition{"wl3": workload.AddConditionRunning}),
		spec("wl6", "agent_A", "1", nil),
	}
	graph := NewDeleteGraph(specs)

	deleted := []workload.DeletedWorkload{
		{Name: "wl1"}, {Name: "wl2"}, {Name: "wl3"},
		{Name: "wl4"}, {Name: "wl5"}, {Name: "wl6"},
	}
	graph.ApplyTo(deleted)

	byName := make(map[string]workload.DeletedWorkload, len(deleted))
	for _, d := range deleted {
		byName[d.Name] = d
	}

	assert.Equal(t, map[string]workload.DeleteCondition{"wl2": workload.DeleteConditionNotPendingNorRunning}, byName["wl1"].Dependencies)
	assert.Equal(t, map[string]workload.DeleteCondition{"wl1": workload.DeleteConditionNotPendingNorRunning}, byName["wl2"].Dependencies)
	assert.Equal(t, map[string]workload.DeleteCondition{"wl5": workload.DeleteConditionNotPendingNorRunning}, byName["wl3"].Dependencies)
	assert.Empty(t, byName["wl4"].Dependencies, "AddConditionFailed never produces a delete-graph edge")
	assert.Equal(t, map[string]workload.DeleteCondition{"wl3": workload.DeleteConditionNotPendingNorRunning}, byName["wl5"].Dependencies)
	assert.Empty(t, byName["wl6"].Dependencies)
}
