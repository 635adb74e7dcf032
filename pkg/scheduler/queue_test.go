package scheduler

import (
	"testing"

	"github.com/ankaios-go/ankaios/pkg/workload"
	"github.com/stretchr/testify/assert"
)

type fakeStates struct {
	states map[string]workload.ExecutionState
}

func (f *fakeStates) State(name string) (workload.ExecutionState, bool) {
	s, ok := f.states[name]
	return s, ok
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[string]workload.ExecutionState)}
}

func TestEnqueueStartNoDependenciesIsImmediatelyReady(t *testing.T) {
	q := NewQueue(newFakeStates())
	ready := q.EnqueueStart(workload.Spec{Name: "a"})
	assert.True(t, ready)
	assert.Equal(t, 0, q.StartQueueDepth())
}

func TestEnqueueStartUnmetDependencyIsQueued(t *testing.T) {
	states := newFakeStates()
	q := NewQueue(states)

	ready := q.EnqueueStart(workload.Spec{
		Name:         "b",
		Dependencies: map[string]workload.AddCondition{"a": workload.AddConditionRunning},
	})
	assert.False(t, ready)
	assert.Equal(t, 1, q.StartQueueDepth())
}

func TestNextReturnsStartOpsOnceDependencyRunning(t *testing.T) {
	states := newFakeStates()
	q := NewQueue(states)

	q.EnqueueStart(workload.Spec{
		Name:         "b",
		Dependencies: map[string]workload.AddCondition{"a": workload.AddConditionRunning},
	})

	assert.Empty(t, q.Next(), "dependency 'a' not yet observed, must not be returned")

	states.states["a"] = workload.RunningOk()
	ops := q.Next()
	assert.Len(t, ops, 1)
	assert.Equal(t, "b", ops[0].Name())
	assert.Equal(t, 0, q.StartQueueDepth())
}

func TestEnqueueDeleteSatisfiedImmediately(t *testing.T) {
	q := NewQueue(newFakeStates())
	ready := q.EnqueueDelete(workload.DeletedWorkload{Name: "x"})
	assert.True(t, ready)
}

func TestEnqueueDeleteBlockedByRunningDependent(t *testing.T) {
	states := newFakeStates()
	states.states["dependent"] = workload.RunningOk()
	q := NewQueue(states)

	ready := q.EnqueueDelete(workload.DeletedWorkload{
		Name:         "x",
		Dependencies: map[string]workload.DeleteCondition{"dependent": workload.DeleteConditionNotPendingNorRunning},
	})
	assert.False(t, ready)
	assert.Equal(t, 1, q.DeleteQueueDepth())

	assert.Empty(t, q.Next())

	states.states["dependent"] = workload.SucceededOk()
	ops := q.Next()
	assert.Len(t, ops, 1)
	assert.Equal(t, workload.OpDelete, ops[0].Kind)
}

func TestEnqueueDeleteUnknownDependentDoesNotBlock(t *testing.T) {
	q := NewQueue(newFakeStates())
	ready := q.EnqueueDelete(workload.DeletedWorkload{
		Name:         "x",
		Dependencies: map[string]workload.DeleteCondition{"gone": workload.DeleteConditionNotPendingNorRunning},
	})
	assert.True(t, ready, "a dependent with no recorded state can no longer block a delete")
}

func TestEnqueueFilteredUpdateFulfilledDeletePendingCreate(t *testing.T) {
	states := newFakeStates()
	q := NewQueue(states)

	deleteReady, startReady := q.EnqueueFilteredUpdate(
		workload.Spec{Name: "svc", Dependencies: map[string]workload.AddCondition{"dep": workload.AddConditionRunning}},
		workload.DeletedWorkload{Name: "svc"},
	)

	assert.True(t, deleteReady, "delete with no conditions is immediately ready")
	assert.False(t, startReady, "create still waits on its own dependency")
	assert.Equal(t, 1, q.StartQueueDepth())
	assert.Equal(t, 0, q.DeleteQueueDepth())
}

func TestRemoveDropsFromBothQueues(t *testing.T) {
	states := newFakeStates()
	states.states["y"] = workload.RunningOk()
	q := NewQueue(states)
	q.EnqueueStart(workload.Spec{Name: "a", Dependencies: map[string]workload.AddCondition{"x": workload.AddConditionRunning}})
	q.EnqueueDelete(workload.DeletedWorkload{Name: "a", Dependencies: map[string]workload.DeleteCondition{"y": workload.DeleteConditionNotPendingNorRunning}})

	q.Remove("a")
	assert.Equal(t, 0, q.StartQueueDepth())
	assert.Equal(t, 0, q.DeleteQueueDepth())
}
