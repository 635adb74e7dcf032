// Package scheduler implements the dependency-aware pending queue (C6)
// that gates workload create and delete operations on the execution
// states of their dependencies.
package scheduler

import (
	"sync"

	"github.com/ankaios-go/ankaios/pkg/log"
	"github.com/ankaios-go/ankaios/pkg/workload"
)

// StateLookup answers execution-state questions the queue needs to
// decide readiness without owning the state store itself.
type StateLookup interface {
	State(workloadName string) (workload.ExecutionState, bool)
}

// Queue holds workload create and delete operations that are blocked
// on a dependency condition, in two independent maps — mirroring the
// split start/delete design rather than a single combined map, so a
// workload stuck waiting to start never blocks evaluation of an
// unrelated pending delete.
type Queue struct {
	mu sync.Mutex

	startQueue  map[string]workload.Spec
	deleteQueue map[string]workload.DeletedWorkload

	states StateLookup
}

// NewQueue creates an empty queue backed by states for dependency
// lookups.
func NewQueue(states StateLookup) *Queue {
	return &Queue{
		startQueue:  make(map[string]workload.Spec),
		deleteQueue: make(map[string]workload.DeletedWorkload),
		states:      states,
	}
}

// StartQueueDepth implements metrics.QueueDepther.
func (q *Queue) StartQueueDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.startQueue)
}

// DeleteQueueDepth implements metrics.QueueDepther.
func (q *Queue) DeleteQueueDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deleteQueue)
}

// EnqueueStart inserts a create operation. If spec has no unmet
// dependencies it is returned immediately as ready instead of being
// queued, mirroring insert_and_notify's immediate-pass-through.
func (q *Queue) EnqueueStart(spec workload.Spec) (ready bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dependenciesSatisfiedLocked(spec.Dependencies) {
		return true
	}
	q.startQueue[spec.Name] = spec
	log.WithComponent("scheduler").Debug().Str("workload", spec.Name).Msg("queued pending start")
	return false
}

// EnqueueDelete inserts a delete operation. If del has no unmet
// delete-dependency conditions it is returned immediately as ready.
func (q *Queue) EnqueueDelete(del workload.DeletedWorkload) (ready bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deleteDependenciesSatisfiedLocked(del.Dependencies) {
		return true
	}
	q.deleteQueue[del.Name] = del
	log.WithComponent("scheduler").Debug().Str("workload", del.Name).Msg("queued pending delete")
	return false
}

// EnqueueFilteredUpdate handles the fulfilled-delete-but-pending-create
// case: if del's delete conditions are already satisfied, the delete
// is reported ready immediately and newSpec is queued for create (or
// returned ready too, if its own dependencies are already met).
// Otherwise both are queued together so next_workload_operations's
// accounting treats them as one unit.
func (q *Queue) EnqueueFilteredUpdate(newSpec workload.Spec, del workload.DeletedWorkload) (deleteReady, startReady bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	deleteReady = q.deleteDependenciesSatisfiedLocked(del.Dependencies)
	if !deleteReady {
		q.deleteQueue[del.Name] = del
	}
	startReady = q.dependenciesSatisfiedLocked(newSpec.Dependencies)
	if !startReady {
		q.startQueue[newSpec.Name] = newSpec
	}
	return deleteReady, startReady
}

// Next drains the queue, re-evaluating every entry's dependency
// condition against the current state lookup. Entries whose
// dependencies are now satisfied are returned as ready operations and
// removed; the rest remain queued for the next call.
func (q *Queue) Next() []workload.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []workload.Operation

	for name, spec := range q.startQueue {
		if q.dependenciesSatisfiedLocked(spec.Dependencies) {
			specCopy := spec
			ready = append(ready, workload.Operation{Kind: workload.OpCreate, Create: &specCopy})
			delete(q.startQueue, name)
		}
	}

	for name, del := range q.deleteQueue {
		if q.deleteDependenciesSatisfiedLocked(del.Dependencies) {
			delCopy := del
			ready = append(ready, workload.Operation{Kind: workload.OpDelete, Delete: &delCopy})
			delete(q.deleteQueue, name)
		}
	}

	return ready
}

// Remove drops name from both queues unconditionally, used when an
// operation is superseded before ever becoming ready.
func (q *Queue) Remove(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.startQueue, name)
	delete(q.deleteQueue, name)
}

func (q *Queue) dependenciesSatisfiedLocked(deps map[string]workload.AddCondition) bool {
	for dep, cond := range deps {
		state, ok := q.states.State(dep)
		if !ok || !state.SatisfiesAddCondition(cond) {
			return false
		}
	}
	return true
}

func (q *Queue) deleteDependenciesSatisfiedLocked(deps map[string]workload.DeleteCondition) bool {
	for dep, cond := range deps {
		state, ok := q.states.State(dep)
		if !ok {
			continue
		}
		if !state.SatisfiesDeleteCondition(cond) {
			return false
		}
	}
	return true
}
