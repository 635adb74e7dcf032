// Package server implements the server-side router (C10): the single
// bidirectional session handler that terminates every agent and CLI
// connection, holds the authoritative desired state (C9) and
// workload-state store (C8), and turns incoming requests into
// per-agent UpdateWorkload dispatches and broadcast state deltas.
package server

import (
	"fmt"
	"sync"

	"github.com/ankaios-go/ankaios/pkg/desiredstate"
	"github.com/ankaios-go/ankaios/pkg/events"
	"github.com/ankaios-go/ankaios/pkg/log"
	"github.com/ankaios-go/ankaios/pkg/metrics"
	"github.com/ankaios-go/ankaios/pkg/proto"
	"github.com/ankaios-go/ankaios/pkg/state"
	"github.com/ankaios-go/ankaios/pkg/transport"
	"github.com/ankaios-go/ankaios/pkg/workload"
)

// outboundQueueSize bounds how far a session's writer goroutine may
// lag behind dispatches addressed to it before Send blocks.
const outboundQueueSize = 64

// session is one connected peer's outbound mailbox. agent is empty for
// a CLI session. closed is signalled exactly once, by whichever side
// (read loop or registration replacement) notices the session is done,
// so a concurrent send never races a channel close.
type session struct {
	agent  string
	conn   *transport.ServerSession
	out    chan proto.FromServer
	closed chan struct{}
	once   sync.Once
}

func newSession(agent string, conn *transport.ServerSession) *session {
	return &session{
		agent:  agent,
		conn:   conn,
		out:    make(chan proto.FromServer, outboundQueueSize),
		closed: make(chan struct{}),
	}
}

func (s *session) close() {
	s.once.Do(func() { close(s.closed) })
}

// Router holds the server's authoritative state and every connected
// session, and implements transport.Handler via HandleSession.
type Router struct {
	mu      sync.Mutex
	desired desiredstate.State
	graph   *desiredstate.DeleteGraph
	states  *state.Store
	sessions map[string]*session

	broker *events.Broker
}

// New creates a router with empty desired state. broker is used for
// the underlying workload-state store's change notifications and may
// be nil.
func New(broker *events.Broker) *Router {
	return &Router{
		desired:  desiredstate.Empty(),
		graph:    desiredstate.NewDeleteGraph(nil),
		states:   state.New(broker),
		sessions: make(map[string]*session),
		broker:   broker,
	}
}

// HandleSession services one transport connection end to end: reads
// the mandatory AgentHello (an empty AgentName marks a CLI session),
// registers it if it's an agent, replays the agent's share of the
// current desired state, then dispatches every subsequent frame until
// the stream errs out or closes.
func (r *Router) HandleSession(conn *transport.ServerSession) error {
	first, err := conn.Recv()
	if err != nil {
		return fmt.Errorf("server: read hello: %w", err)
	}
	if first.Hello == nil {
		return fmt.Errorf("server: first frame was not AgentHello")
	}
	agentName := first.Hello.AgentName
	isAgent := agentName != ""

	sess := newSession(agentName, conn)
	peerKind := "cli"
	if isAgent {
		peerKind = "agent"
	}
	metrics.TransportSessionsTotal.WithLabelValues(peerKind).Inc()
	defer metrics.TransportSessionsTotal.WithLabelValues(peerKind).Dec()

	writerDone := make(chan error, 1)
	go func() { writerDone <- r.drainOutbound(sess) }()

	if isAgent {
		r.registerAgent(sess)
		r.sendInitialDelta(sess)
	}

	var loopErr error
	for {
		msg, err := conn.Recv()
		if err != nil {
			loopErr = err
			break
		}
		r.dispatch(sess, msg)
	}

	if isAgent {
		r.unregisterAgent(agentName, sess)
	} else {
		sess.close()
	}
	<-writerDone
	return loopErr
}

// send enqueues msg for sess's writer goroutine, or drops it silently
// if sess has already closed.
func (r *Router) send(sess *session, msg proto.FromServer) {
	select {
	case sess.out <- msg:
	case <-sess.closed:
	}
}

func (r *Router) drainOutbound(sess *session) error {
	for {
		select {
		case msg := <-sess.out:
			if err := sess.conn.Send(msg); err != nil {
				return err
			}
		case <-sess.closed:
			return nil
		}
	}
}

func (r *Router) snapshotSessionsLocked() map[string]*session {
	out := make(map[string]*session, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}

func (r *Router) registerAgent(sess *session) {
	r.mu.Lock()
	r.sessions[sess.agent] = sess
	r.mu.Unlock()

	metrics.AgentsConnectedTotal.Inc()
	log.WithComponent("server").Info().Str("agent", sess.agent).Msg("agent connected")
}

// unregisterAgent removes sess from the session table only if it is
// still the agent's current session (a reconnect may already have
// replaced it), marks the agent's workloads AgentDisconnected, and
// broadcasts that transition.
func (r *Router) unregisterAgent(agent string, sess *session) {
	r.mu.Lock()
	if current, ok := r.sessions[agent]; ok && current == sess {
		delete(r.sessions, agent)
	}
	r.mu.Unlock()

	sess.close()
	metrics.AgentsConnectedTotal.Dec()
	log.WithComponent("server").Info().Str("agent", agent).Msg("agent disconnected")

	r.states.MarkAgentUnknown(agent)
	r.broadcastStateDelta(agent)
}

// sendInitialDelta replays sess.agent's current share of the desired
// state as a synthetic UpdateWorkload, the same shape a live diff
// dispatch would take, so a freshly (re)connected agent rebuilds its
// runtime manager's view from scratch (§4.7).
func (r *Router) sendInitialDelta(sess *session) {
	r.mu.Lock()
	var added []workload.Spec
	for _, spec := range r.desired.Workloads {
		if spec.Agent == sess.agent {
			added = append(added, spec)
		}
	}
	r.mu.Unlock()

	r.send(sess, proto.FromServer{
		UpdateWorkload: &proto.UpdateWorkloadSpec{
			AddedWorkloads: desiredstate.EncodeSpecs(added),
		},
	})
}

func (r *Router) dispatch(sess *session, msg proto.ToServer) {
	switch {
	case msg.WorkloadState != nil:
		r.handleWorkloadState(sess.agent, *msg.WorkloadState)
	case msg.UpdateStateRequest != nil:
		r.handleUpdateStateRequest(sess, *msg.UpdateStateRequest)
	case msg.CompleteStateRequest != nil:
		r.handleCompleteStateRequest(sess, *msg.CompleteStateRequest)
	case msg.ControlInterface != nil:
		r.handleControlInterfaceRequest(sess, *msg.ControlInterface)
	case msg.Hello != nil:
		log.WithComponent("server").Warn().Str("agent", sess.agent).Msg("ignoring duplicate hello")
	}
}

// handleWorkloadState folds a reported state batch into the store and
// rebroadcasts the agent's updated bucket to every registered agent
// session, the reporting agent included (§4.8, §4.10), so every agent's
// local scheduler can see cross-agent dependency conditions. CLI
// sessions are not registered and receive no broadcasts.
func (r *Router) handleWorkloadState(agent string, m proto.UpdateWorkloadState) {
	if agent == "" {
		agent = m.AgentName
	}
	batch := make([]state.Entry, 0, len(m.States))
	for _, e := range m.States {
		batch = append(batch, state.Entry{Agent: agent, Name: e.InstanceName, State: fromWireState(e.State)})
	}
	r.states.Insert(batch)
	r.broadcastStateDelta(agent)
}

// broadcastStateDelta resends agent's full current bucket to every
// registered agent session; CLI sessions receive none. Resending the whole bucket rather than computing
// a minimal diff is a deliberate simplification: buckets are small
// (one entry per workload on that agent) and every receiver discards
// unchanged entries via its own local Hysteresis-backed store anyway.
func (r *Router) broadcastStateDelta(agent string) {
	bucket := r.states.GetForAgent(agent)
	if len(bucket) == 0 {
		return
	}
	entries := make([]proto.WorkloadStateEntry, 0, len(bucket))
	for name, st := range bucket {
		entries = append(entries, proto.WorkloadStateEntry{InstanceName: name, State: toWireState(st)})
	}

	r.mu.Lock()
	sessions := r.snapshotSessionsLocked()
	r.mu.Unlock()

	msg := proto.FromServer{WorkloadState: &proto.UpdateWorkloadState{AgentName: agent, States: entries}}
	for _, sess := range sessions {
		r.send(sess, msg)
	}
}

// handleUpdateStateRequest applies an incoming desired-state update
// (§4.9), dispatches the resulting diff to every affected agent
// (§4.7), and replies to the requester with the named
// UpdateStateSuccess (§4.10).
func (r *Router) handleUpdateStateRequest(sess *session, req proto.UpdateStateRequest) {
	timer := metrics.NewTimer()
	incoming, err := desiredstate.DecodeState(req.DesiredState)
	if err != nil {
		r.send(sess, proto.FromServer{UpdateStateResult: &proto.UpdateStateSuccess{RequestID: req.RequestID, Error: err.Error()}})
		return
	}

	r.mu.Lock()
	next, err := desiredstate.Update(r.desired, incoming, req.UpdateMask)
	if err != nil {
		r.mu.Unlock()
		r.send(sess, proto.FromServer{UpdateStateResult: &proto.UpdateStateSuccess{RequestID: req.RequestID, Error: err.Error()}})
		return
	}

	diff := desiredstate.ComputeDiff(r.desired, next, r.graph)
	r.graph.Insert(diff.Added)
	r.desired = next
	sessions := r.snapshotSessionsLocked()
	r.mu.Unlock()
	timer.ObserveDuration(metrics.DesiredStateUpdateDuration)

	r.dispatchDiff(diff, sessions)

	r.send(sess, proto.FromServer{UpdateStateResult: &proto.UpdateStateSuccess{
		RequestID:        req.RequestID,
		AddedWorkloads:   specNames(diff.Added),
		DeletedWorkloads: deletedNames(diff.Deleted),
	}})
}

// dispatchDiff groups an add/delete diff by the agent each entry
// belongs to and sends one UpdateWorkload per affected, currently
// connected agent. An agent that is offline when a diff lands simply
// catches up from r.desired on its next sendInitialDelta — the diff
// itself is not queued for later replay.
func (r *Router) dispatchDiff(diff desiredstate.Diff, sessions map[string]*session) {
	addedByAgent := make(map[string][]workload.Spec)
	for _, s := range diff.Added {
		addedByAgent[s.Agent] = append(addedByAgent[s.Agent], s)
	}
	deletedByAgent := make(map[string][]workload.DeletedWorkload)
	for _, d := range diff.Deleted {
		deletedByAgent[d.Agent] = append(deletedByAgent[d.Agent], d)
	}

	agents := make(map[string]struct{}, len(addedByAgent)+len(deletedByAgent))
	for a := range addedByAgent {
		agents[a] = struct{}{}
	}
	for a := range deletedByAgent {
		agents[a] = struct{}{}
	}

	for agent := range agents {
		sess, ok := sessions[agent]
		if !ok {
			continue
		}
		r.send(sess, proto.FromServer{UpdateWorkload: &proto.UpdateWorkloadSpec{
			AddedWorkloads:   desiredstate.EncodeSpecs(addedByAgent[agent]),
			DeletedWorkloads: desiredstate.EncodeDeleted(deletedByAgent[agent]),
		}})
	}
}

// handleCompleteStateRequest answers with a field-masked projection of
// the desired state plus every currently known workload state (§4.10).
func (r *Router) handleCompleteStateRequest(sess *session, req proto.CompleteStateRequest) {
	r.mu.Lock()
	projected := desiredstate.Project(r.desired, req.FieldMask)
	r.mu.Unlock()

	payload := desiredstate.EncodeSnapshot(projected, r.states.GetAll())
	r.send(sess, proto.FromServer{CompleteStateResponse: &proto.CompleteStateResponse{RequestID: req.RequestID, Payload: payload}})
}

// handleControlInterfaceRequest services a relayed Control Interface
// request (§4.4, §4.10). The Control Interface's opaque Payload is
// "<path>\n<body>": an empty body is a read, answered with a
// Project-ed snapshot scoped to path; a non-empty body is a
// desiredstate-encoded single-workload update, applied with path as
// the sole update_mask entry. Authorization against the workload's
// allow/deny rules has already happened agent-side, in
// pkg/controlinterface's endpoint, before the request ever reaches
// here.
func (r *Router) handleControlInterfaceRequest(sess *session, req proto.ControlInterfaceRequest) {
	path, body := splitControlInterfacePayload(req.Payload)

	if len(body) == 0 {
		r.mu.Lock()
		projected := desiredstate.Project(r.desired, []string{path})
		r.mu.Unlock()

		payload := desiredstate.EncodeSnapshot(projected, r.states.GetAll())
		r.send(sess, proto.FromServer{ControlInterfaceResp: &proto.ControlInterfaceResponse{RequestID: req.RequestID, Payload: payload}})
		metrics.ControlInterfaceRequestsTotal.WithLabelValues("ok").Inc()
		return
	}

	incoming, err := desiredstate.DecodeState(body)
	if err != nil {
		r.send(sess, proto.FromServer{ControlInterfaceResp: &proto.ControlInterfaceResponse{RequestID: req.RequestID, Error: err.Error()}})
		metrics.ControlInterfaceRequestsTotal.WithLabelValues("error").Inc()
		return
	}

	r.mu.Lock()
	next, err := desiredstate.Update(r.desired, incoming, []string{path})
	if err != nil {
		r.mu.Unlock()
		r.send(sess, proto.FromServer{ControlInterfaceResp: &proto.ControlInterfaceResponse{RequestID: req.RequestID, Error: err.Error()}})
		metrics.ControlInterfaceRequestsTotal.WithLabelValues("error").Inc()
		return
	}
	diff := desiredstate.ComputeDiff(r.desired, next, r.graph)
	r.graph.Insert(diff.Added)
	r.desired = next
	sessions := r.snapshotSessionsLocked()
	r.mu.Unlock()

	r.dispatchDiff(diff, sessions)
	r.send(sess, proto.FromServer{ControlInterfaceResp: &proto.ControlInterfaceResponse{RequestID: req.RequestID}})
	metrics.ControlInterfaceRequestsTotal.WithLabelValues("ok").Inc()
}

func splitControlInterfacePayload(payload []byte) (string, []byte) {
	for i, b := range payload {
		if b == '\n' {
			return string(payload[:i]), payload[i+1:]
		}
	}
	return string(payload), nil
}

func toWireState(s workload.ExecutionState) proto.ExecutionState {
	return proto.ExecutionState{Category: string(s.Category), Substate: string(s.Substate), Additional: s.Additional}
}

func fromWireState(s proto.ExecutionState) workload.ExecutionState {
	return workload.ExecutionState{Category: workload.StateCategory(s.Category), Substate: workload.Substate(s.Substate), Additional: s.Additional}
}

func specNames(specs []workload.Spec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}

func deletedNames(deleted []workload.DeletedWorkload) []string {
	out := make([]string, len(deleted))
	for i, d := range deleted {
		out[i] = d.Name
	}
	return out
}
