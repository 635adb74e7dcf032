package state

import (
	"testing"

	"github.com/ankaios-go/ankaios/pkg/workload"
	"github.com/stretchr/testify/assert"
)

func TestReportAndState(t *testing.T) {
	s := New(nil)
	s.Report("agent_A", "nginx", workload.RunningOk())

	st, ok := s.State("agent_A", "nginx")
	assert.True(t, ok)
	assert.Equal(t, workload.CategoryRunning, st.Category)
}

func TestStateUnknownWorkload(t *testing.T) {
	s := New(nil)
	_, ok := s.State("agent_A", "nope")
	assert.False(t, ok)
}

func TestHysteresisDropsTransitionsOutOfStoppingRequestedAtRuntime(t *testing.T) {
	s := New(nil)
	s.Report("agent_A", "nginx", workload.StoppingRequestedAtRuntime())
	s.Report("agent_A", "nginx", workload.RunningOk())

	st, _ := s.State("agent_A", "nginx")
	assert.Equal(t, workload.CategoryStopping, st.Category, "Running must not override a pending teardown")
	assert.Equal(t, workload.SubstateStoppingRequestedAtRuntime, st.Substate)
}

func TestHysteresisAcceptsDeleteFailedDuringStopping(t *testing.T) {
	s := New(nil)
	s.Report("agent_A", "nginx", workload.StoppingWaitingToStop())
	s.Report("agent_A", "nginx", workload.StoppingDeleteFailed("boom"))

	st, _ := s.State("agent_A", "nginx")
	assert.Equal(t, workload.CategoryStopping, st.Category)
	assert.Equal(t, workload.SubstateStoppingDeleteFailed, st.Substate)
}

func TestMarkAgentUnknownTransitionsOnlyThatAgentsWorkloads(t *testing.T) {
	s := New(nil)
	s.Report("agent_A", "on_a", workload.RunningOk())
	s.Report("agent_B", "on_b", workload.RunningOk())

	s.MarkAgentUnknown("agent_A")

	stA, _ := s.State("agent_A", "on_a")
	assert.Equal(t, workload.CategoryAgentDisconnected, stA.Category)

	stB, _ := s.State("agent_B", "on_b")
	assert.Equal(t, workload.CategoryRunning, stB.Category)
}

func TestRemoveDeletesState(t *testing.T) {
	s := New(nil)
	s.Report("agent_A", "nginx", workload.RunningOk())
	s.Remove("agent_A", "nginx")

	_, ok := s.State("agent_A", "nginx")
	assert.False(t, ok)
}

func TestSameWorkloadNameDistinctAcrossAgents(t *testing.T) {
	s := New(nil)
	s.Report("agent_A", "nginx", workload.RunningOk())
	s.Report("agent_B", "nginx", workload.PendingStarting())

	stA, _ := s.State("agent_A", "nginx")
	stB, _ := s.State("agent_B", "nginx")
	assert.Equal(t, workload.CategoryRunning, stA.Category)
	assert.Equal(t, workload.CategoryPending, stB.Category)
}

func TestGetAllReturnsCopy(t *testing.T) {
	s := New(nil)
	s.Report("agent_A", "nginx", workload.RunningOk())

	snap := s.GetAll()
	assert.Len(t, snap, 1)
	snap["agent_A"]["extra"] = workload.RunningOk()

	_, ok := s.State("agent_A", "extra")
	assert.False(t, ok, "mutating the snapshot must not affect the store")
}

func TestGetForAgentScopesToOneAgent(t *testing.T) {
	s := New(nil)
	s.Report("agent_A", "on_a", workload.RunningOk())
	s.Report("agent_B", "on_b", workload.RunningOk())

	got := s.GetForAgent("agent_A")
	assert.Len(t, got, 1)
	_, ok := got["on_a"]
	assert.True(t, ok)
}

func TestGetExcludingAgentOmitsThatAgent(t *testing.T) {
	s := New(nil)
	s.Report("agent_A", "on_a", workload.RunningOk())
	s.Report("agent_B", "on_b", workload.RunningOk())

	got := s.GetExcludingAgent("agent_A")
	assert.Len(t, got, 1)
	_, ok := got["agent_A"]
	assert.False(t, ok)
	_, ok = got["agent_B"]
	assert.True(t, ok)
}

func TestInsertBatchAppliesHysteresisPerEntry(t *testing.T) {
	s := New(nil)
	s.Insert([]Entry{
		{Agent: "agent_A", Name: "nginx", State: workload.StoppingWaitingToStop()},
		{Agent: "agent_A", Name: "redis", State: workload.PendingStarting()},
	})
	s.Insert([]Entry{
		{Agent: "agent_A", Name: "nginx", State: workload.FailedUnknown()},
		{Agent: "agent_A", Name: "redis", State: workload.RunningOk()},
	})

	st, _ := s.State("agent_A", "nginx")
	assert.Equal(t, workload.CategoryStopping, st.Category, "Failed must not override a pending teardown")
	st, _ = s.State("agent_A", "redis")
	assert.Equal(t, workload.CategoryRunning, st.Category, "unrelated entries in the same batch are unaffected")
}

func TestForAgentSatisfiesSchedulerStateLookup(t *testing.T) {
	s := New(nil)
	s.Report("agent_A", "a", workload.RunningOk())

	lookup := s.ForAgent("agent_A")
	st, ok := lookup.State("a")
	assert.True(t, ok)
	assert.Equal(t, workload.CategoryRunning, st.Category)

	_, ok = lookup.State("nope")
	assert.False(t, ok)
}

func TestGlobalFindsWorkloadRegardlessOfOwningAgent(t *testing.T) {
	s := New(nil)
	s.Report("agent_A", "on_a", workload.RunningOk())
	s.Report("agent_B", "on_b", workload.PendingStarting())

	lookup := s.Global()

	st, ok := lookup.State("on_b")
	assert.True(t, ok, "a dependency on a workload owned by another agent must still resolve")
	assert.Equal(t, workload.CategoryPending, st.Category)

	_, ok = lookup.State("nope")
	assert.False(t, ok)
}
