// Package state is the workload-state store (C8): a nested
// agent -> workload name -> execution state map, applying hysteresis
// on every update and exposing a bulk-disconnect operation for when an
// agent drops off the transport session. The same Store type backs
// both the server's authoritative view (C10) and each agent's local
// mirror fed by broadcast deltas, which is what lets the agent's
// dependency scheduler (pkg/scheduler) answer readiness questions
// without a round trip to the server.
package state

import (
	"sync"

	"github.com/ankaios-go/ankaios/pkg/events"
	"github.com/ankaios-go/ankaios/pkg/workload"
)

// Entry pairs a workload name with its current execution state, the
// shape batch operations move around.
type Entry struct {
	Agent    string
	Name     string
	State    workload.ExecutionState
}

// Store holds the last known execution state of every workload
// instance heard about, indexed by agent then workload name.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]workload.ExecutionState

	broker *events.Broker
}

// New creates an empty store. broker may be nil, in which case state
// changes are not published as events.
func New(broker *events.Broker) *Store {
	return &Store{
		data:   make(map[string]map[string]workload.ExecutionState),
		broker: broker,
	}
}

// Report records a freshly observed state for workloadName running on
// agent, applying hysteresis against whatever was previously recorded.
// It is the single-entry convenience form of Insert.
func (s *Store) Report(agent, workloadName string, observed workload.ExecutionState) {
	s.Insert([]Entry{{Agent: agent, Name: workloadName, State: observed}})
}

// Insert applies a batch of freshly observed states, each under its
// own agent's hysteresis rule (§4.8's insert(batch) operation).
func (s *Store) Insert(batch []Entry) {
	type change struct {
		agent, name string
		state       workload.ExecutionState
	}
	var changed []change

	s.mu.Lock()
	for _, e := range batch {
		bucket, ok := s.data[e.Agent]
		if !ok {
			bucket = make(map[string]workload.ExecutionState)
			s.data[e.Agent] = bucket
		}
		previous := bucket[e.Name]
		next := workload.Hysteresis(previous, e.State)
		bucket[e.Name] = next
		if next != previous {
			changed = append(changed, change{agent: e.Agent, name: e.Name, state: next})
		}
	}
	s.mu.Unlock()

	if s.broker == nil {
		return
	}
	for _, c := range changed {
		s.broker.Publish(&events.Event{
			Type:    events.EventWorkloadStateChanged,
			Message: c.state.String(),
			Metadata: map[string]string{
				"agent":    c.agent,
				"workload": c.name,
			},
		})
	}
}

// State returns the last known execution state for workloadName under
// agent, reporting false if no state has ever been recorded for it.
func (s *Store) State(agent, workloadName string) (workload.ExecutionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[agent][workloadName]
	return st, ok
}

// MarkAgentUnknown transitions every workload last reported by agent
// into AgentDisconnected, called when the server's transport session
// with that agent drops. It does not clear the agent's workload set: a
// subsequent reconnect and re-report overwrites these entries in
// place, per §4.8.
func (s *Store) MarkAgentUnknown(agent string) {
	s.mu.Lock()
	bucket, ok := s.data[agent]
	if !ok {
		s.mu.Unlock()
		return
	}
	var changed []string
	for name, st := range bucket {
		if st.Category != workload.CategoryAgentDisconnected {
			bucket[name] = workload.AgentDisconnected()
			changed = append(changed, name)
		}
	}
	s.mu.Unlock()

	if s.broker == nil {
		return
	}
	for _, name := range changed {
		s.broker.Publish(&events.Event{
			Type:    events.EventWorkloadStateChanged,
			Message: workload.AgentDisconnected().String(),
			Metadata: map[string]string{
				"agent":    agent,
				"workload": name,
			},
		})
	}
}

// Remove deletes workloadName's recorded state entirely. Neither the
// router nor the agent calls it: a workload reported as Removed keeps
// its entry.
func (s *Store) Remove(agent, workloadName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.data[agent]; ok {
		delete(bucket, workloadName)
	}
}

// GetAll returns a copy of every currently recorded workload state,
// nested by agent.
func (s *Store) GetAll() map[string]map[string]workload.ExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]workload.ExecutionState, len(s.data))
	for agent, bucket := range s.data {
		copied := make(map[string]workload.ExecutionState, len(bucket))
		for k, v := range bucket {
			copied[k] = v
		}
		out[agent] = copied
	}
	return out
}

// GetForAgent returns a copy of the states recorded for agent only.
func (s *Store) GetForAgent(agent string) map[string]workload.ExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.data[agent]
	out := make(map[string]workload.ExecutionState, len(bucket))
	for k, v := range bucket {
		out[k] = v
	}
	return out
}

// GetExcludingAgent returns a copy of every recorded state except
// those belonging to agent. The router's broadcast does not use it: it
// sends an agent's bucket back to that agent as well.
func (s *Store) GetExcludingAgent(agent string) map[string]map[string]workload.ExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]workload.ExecutionState, len(s.data))
	for a, bucket := range s.data {
		if a == agent {
			continue
		}
		copied := make(map[string]workload.ExecutionState, len(bucket))
		for k, v := range bucket {
			copied[k] = v
		}
		out[a] = copied
	}
	return out
}

// Snapshot is an alias for GetAll kept for callers that only need a
// flat read of the whole store (e.g. CompleteState projections).
func (s *Store) Snapshot() map[string]map[string]workload.ExecutionState {
	return s.GetAll()
}

// ForAgent returns a StateLookup (see pkg/scheduler) scoped to a
// single agent, so the agent-local dependency scheduler can query
// readiness by workload name alone.
func (s *Store) ForAgent(agent string) StateLookup {
	return agentView{store: s, agent: agent}
}

// StateLookup mirrors pkg/scheduler.StateLookup without importing it,
// avoiding a dependency cycle; agentView satisfies both.
type StateLookup interface {
	State(workloadName string) (workload.ExecutionState, bool)
}

type agentView struct {
	store *Store
	agent string
}

func (v agentView) State(workloadName string) (workload.ExecutionState, bool) {
	return v.store.State(v.agent, workloadName)
}

// Global returns a StateLookup that searches every agent's bucket for
// workloadName. AddCondition/DeleteCondition dependencies name only a
// workload, never its owning agent, so an agent whose scheduler must
// gate on a dependency running elsewhere in the cluster needs this
// cross-agent view rather than ForAgent's single-bucket scope.
func (s *Store) Global() StateLookup {
	return globalView{store: s}
}

type globalView struct {
	store *Store
}

func (v globalView) State(workloadName string) (workload.ExecutionState, bool) {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	for _, bucket := range v.store.data {
		if st, ok := bucket[workloadName]; ok {
			return st, true
		}
	}
	return workload.ExecutionState{}, false
}
