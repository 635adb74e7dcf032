package runtimemanager

import (
	"context"
	"sync"
	"testing"
	"time"

	ankruntime "github.com/ankaios-go/ankaios/pkg/runtime"
	"github.com/ankaios-go/ankaios/pkg/scheduler"
	"github.com/ankaios-go/ankaios/pkg/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	mu       sync.Mutex
	created  []string
	deleted  []string
	reusable []ankruntime.ReusableInstance
}

func (f *fakeRuntime) Create(ctx context.Context, spec workload.Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, spec.Name)
	return spec.Name + "-id", nil
}

func (f *fakeRuntime) Delete(ctx context.Context, instance workload.InstanceName, workloadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, instance.WorkloadName)
	return nil
}

func (f *fakeRuntime) State(ctx context.Context, instance workload.InstanceName, workloadID string) (workload.ExecutionState, error) {
	return workload.RunningOk(), nil
}

func (f *fakeRuntime) ListReusable(ctx context.Context, agent string) ([]ankruntime.ReusableInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reusable, nil
}

func (f *fakeRuntime) hasCreated(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.created {
		if n == name {
			return true
		}
	}
	return false
}

func (f *fakeRuntime) hasDeleted(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.deleted {
		if n == name {
			return true
		}
	}
	return false
}

func (f *fakeRuntime) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type stubStates struct {
	mu sync.Mutex
	m  map[string]workload.ExecutionState
}

func (s *stubStates) State(name string) (workload.ExecutionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[name]
	return st, ok
}

func (s *stubStates) set(name string, st workload.ExecutionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]workload.ExecutionState)
	}
	s.m[name] = st
}

type stubReporter struct {
	mu      sync.Mutex
	reports []string
}

func (r *stubReporter) Report(instance workload.InstanceName, state workload.ExecutionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, instance.WorkloadName+":"+state.String())
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within timeout")
}

func newTestManager(t *testing.T, states *stubStates, reporter *stubReporter) (*Manager, *fakeRuntime) {
	t.Helper()
	fr := &fakeRuntime{}
	queue := scheduler.NewQueue(states)
	m := New("agent_A", t.TempDir(), queue, reporter, nil)
	m.RegisterRuntime("fake", fr)
	return m, fr
}

func TestApplyInitialDeltaResumesMatchingInstance(t *testing.T) {
	spec := workload.Spec{Name: "a", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "x"}
	states := &stubStates{}
	m, fr := newTestManager(t, states, &stubReporter{})
	fr.reusable = []ankruntime.ReusableInstance{{
		Instance:   workload.InstanceName{WorkloadName: "a", Agent: "agent_A", ConfigHash: spec.ConfigHash()},
		WorkloadID: "existing-id",
	}}

	m.ApplyInitialDelta(context.Background(), []workload.Spec{spec})

	waitUntil(t, func() bool { return m.Active() == 1 })
	assert.False(t, fr.hasCreated("a"), "a matching reusable instance must be resumed, not recreated")
}

func TestApplyInitialDeltaReplacesStaleInstance(t *testing.T) {
	spec := workload.Spec{Name: "a", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "x"}
	states := &stubStates{}
	m, fr := newTestManager(t, states, &stubReporter{})
	fr.reusable = []ankruntime.ReusableInstance{{
		Instance:   workload.InstanceName{WorkloadName: "a", Agent: "agent_A", ConfigHash: "stale-hash"},
		WorkloadID: "existing-id",
	}}

	m.ApplyInitialDelta(context.Background(), []workload.Spec{spec})

	waitUntil(t, func() bool { return fr.hasDeleted("a") && fr.hasCreated("a") })
}

func TestApplyInitialDeltaDeletesUnclaimedInstance(t *testing.T) {
	states := &stubStates{}
	m, fr := newTestManager(t, states, &stubReporter{})
	fr.reusable = []ankruntime.ReusableInstance{{
		Instance:   workload.InstanceName{WorkloadName: "orphan", Agent: "agent_A", ConfigHash: "h"},
		WorkloadID: "orphan-id",
	}}

	m.ApplyInitialDelta(context.Background(), nil)

	waitUntil(t, func() bool { return fr.hasDeleted("orphan") })
	assert.Equal(t, 0, m.Active())
}

func TestApplyDeltaCreatesAddedWorkload(t *testing.T) {
	states := &stubStates{}
	m, fr := newTestManager(t, states, &stubReporter{})
	spec := workload.Spec{Name: "a", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "x"}

	m.ApplyDelta(context.Background(), []workload.Spec{spec}, nil)

	waitUntil(t, func() bool { return fr.hasCreated("a") })
}

func TestApplyDeltaDeletesRemovedWorkload(t *testing.T) {
	states := &stubStates{}
	m, fr := newTestManager(t, states, &stubReporter{})
	spec := workload.Spec{Name: "a", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "x"}

	m.ApplyDelta(context.Background(), []workload.Spec{spec}, nil)
	waitUntil(t, func() bool { return m.Active() == 1 })

	m.ApplyDelta(context.Background(), nil, []workload.DeletedWorkload{{Name: "a", Agent: "agent_A"}})

	waitUntil(t, func() bool { return fr.hasDeleted("a") })
	assert.Equal(t, 0, m.Active())
}

func TestApplyDeltaNameInBothIsTreatedAsUpdate(t *testing.T) {
	states := &stubStates{}
	m, fr := newTestManager(t, states, &stubReporter{})
	original := workload.Spec{Name: "a", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "x"}
	m.ApplyDelta(context.Background(), []workload.Spec{original}, nil)
	waitUntil(t, func() bool { return m.Active() == 1 })

	updated := workload.Spec{Name: "a", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "y"}
	m.ApplyDelta(context.Background(), []workload.Spec{updated}, []workload.DeletedWorkload{{Name: "a", Agent: "agent_A"}})

	waitUntil(t, func() bool { return fr.hasDeleted("a") && fr.createdCount() == 2 })
}

func TestApplyDeltaAddTargetingTrackedWorkloadIsDowngradedToUpdate(t *testing.T) {
	states := &stubStates{}
	m, fr := newTestManager(t, states, &stubReporter{})
	original := workload.Spec{Name: "a", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "x"}
	m.ApplyDelta(context.Background(), []workload.Spec{original}, nil)
	waitUntil(t, func() bool { return m.Active() == 1 })

	again := workload.Spec{Name: "a", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "z"}
	m.ApplyDelta(context.Background(), []workload.Spec{again}, nil)

	waitUntil(t, func() bool { return fr.hasDeleted("a") && fr.createdCount() == 2 })
}

func TestCreateWaitsForUnmetDependency(t *testing.T) {
	states := &stubStates{}
	m, fr := newTestManager(t, states, &stubReporter{})
	spec := workload.Spec{
		Name: "a", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "x",
		Dependencies: map[string]workload.AddCondition{"b": workload.AddConditionRunning},
	}

	m.ApplyDelta(context.Background(), []workload.Spec{spec}, nil)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, fr.hasCreated("a"), "a must stay queued until its dependency is Running")

	states.set("b", workload.RunningOk())
	m.Drain(context.Background())

	waitUntil(t, func() bool { return fr.hasCreated("a") })
}

func TestReporterForDrainsQueueOnEveryReport(t *testing.T) {
	states := &stubStates{}
	reporter := &stubReporter{}
	m, fr := newTestManager(t, states, reporter)

	blocked := workload.Spec{
		Name: "a", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "x",
		Dependencies: map[string]workload.AddCondition{"b": workload.AddConditionRunning},
	}
	unblocked := workload.Spec{Name: "b", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "y"}

	m.ApplyDelta(context.Background(), []workload.Spec{blocked, unblocked}, nil)
	waitUntil(t, func() bool { return fr.hasCreated("b") })

	states.set("b", workload.RunningOk())
	m.reporterFor("b").Report(workload.InstanceName{WorkloadName: "b", Agent: "agent_A"}, workload.RunningOk())

	waitUntil(t, func() bool { return fr.hasCreated("a") })
}

func TestCloseStopsTrackedControlLoops(t *testing.T) {
	states := &stubStates{}
	m, fr := newTestManager(t, states, &stubReporter{})
	spec := workload.Spec{Name: "a", Agent: "agent_A", Runtime: "fake", RuntimeConfig: "x"}

	m.ApplyDelta(context.Background(), []workload.Spec{spec}, nil)
	waitUntil(t, func() bool { return m.Active() == 1 })

	require.NotPanics(t, m.Close)
}
