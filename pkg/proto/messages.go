package proto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ExecutionState is the wire form of a workload's execution state.
type ExecutionState struct {
	Category   string
	Substate   string
	Additional string
}

func (e ExecutionState) marshal() []byte {
	w := &fieldWriter{}
	w.string(1, e.Category)
	w.string(2, e.Substate)
	w.string(3, e.Additional)
	return w.buf
}

func unmarshalExecutionState(buf []byte) (ExecutionState, error) {
	var e ExecutionState
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			e.Category = string(v)
		case 2:
			e.Substate = string(v)
		case 3:
			e.Additional = string(v)
		}
		return nil
	})
	return e, err
}

// WorkloadStateEntry pairs a workload name with its current state, as
// observed by the agent reporting it. The workload-state DB (C8) keys
// on (agent, workload_name), not the full instance triple, so
// InstanceName here carries just the workload name.
type WorkloadStateEntry struct {
	InstanceName string
	State        ExecutionState
}

func (e WorkloadStateEntry) marshal() []byte {
	w := &fieldWriter{}
	w.string(1, e.InstanceName)
	w.message(2, e.State.marshal())
	return w.buf
}

func unmarshalWorkloadStateEntry(buf []byte) (WorkloadStateEntry, error) {
	var e WorkloadStateEntry
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			e.InstanceName = string(v)
		case 2:
			st, err := unmarshalExecutionState(v)
			if err != nil {
				return err
			}
			e.State = st
		}
		return nil
	})
	return e, err
}

// AgentHello is the first message an agent sends over a freshly
// dialed transport session.
type AgentHello struct {
	AgentName       string
	ProtocolVersion string
}

func (m AgentHello) Marshal() []byte {
	w := &fieldWriter{}
	w.string(1, m.AgentName)
	w.string(2, m.ProtocolVersion)
	return w.buf
}

func UnmarshalAgentHello(buf []byte) (AgentHello, error) {
	var m AgentHello
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			m.AgentName = string(v)
		case 2:
			m.ProtocolVersion = string(v)
		}
		return nil
	})
	return m, err
}

// AgentGone names an agent whose transport session has ended. It is
// encoded as FromServer field 2; pkg/server's router does not send it,
// and marks the agent's workloads AgentDisconnected directly instead.
type AgentGone struct {
	AgentName string
}

// UpdateWorkloadState carries a batch of execution-state changes an
// agent has observed for its own workloads.
type UpdateWorkloadState struct {
	AgentName string
	States    []WorkloadStateEntry
}

func (m UpdateWorkloadState) Marshal() []byte {
	w := &fieldWriter{}
	w.string(1, m.AgentName)
	for _, s := range m.States {
		w.message(2, s.marshal())
	}
	return w.buf
}

func UnmarshalUpdateWorkloadState(buf []byte) (UpdateWorkloadState, error) {
	var m UpdateWorkloadState
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			m.AgentName = string(v)
		case 2:
			e, err := unmarshalWorkloadStateEntry(v)
			if err != nil {
				return err
			}
			m.States = append(m.States, e)
		}
		return nil
	})
	return m, err
}

// UpdateStateRequest carries a desired-state update from a client
// (CLI or API caller) to the server. DesiredState is the
// already-serialized bytes of the proposed desiredstate.State; the
// wire layer treats it opaquely so C9's own encoding can evolve
// independently of the envelope.
type UpdateStateRequest struct {
	RequestID     string
	DesiredState  []byte
	UpdateMask    []string
}

func (m UpdateStateRequest) Marshal() []byte {
	w := &fieldWriter{}
	w.string(1, m.RequestID)
	w.bytes(2, m.DesiredState)
	for _, p := range m.UpdateMask {
		w.string(3, p)
	}
	return w.buf
}

func UnmarshalUpdateStateRequest(buf []byte) (UpdateStateRequest, error) {
	var m UpdateStateRequest
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			m.RequestID = string(v)
		case 2:
			m.DesiredState = append([]byte(nil), v...)
		case 3:
			m.UpdateMask = append(m.UpdateMask, string(v))
		}
		return nil
	})
	return m, err
}

// CompleteStateRequest asks for a (possibly field-masked) snapshot of
// desired and workload state.
type CompleteStateRequest struct {
	RequestID string
	FieldMask []string
}

func (m CompleteStateRequest) Marshal() []byte {
	w := &fieldWriter{}
	w.string(1, m.RequestID)
	for _, p := range m.FieldMask {
		w.string(2, p)
	}
	return w.buf
}

func UnmarshalCompleteStateRequest(buf []byte) (CompleteStateRequest, error) {
	var m CompleteStateRequest
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			m.RequestID = string(v)
		case 2:
			m.FieldMask = append(m.FieldMask, string(v))
		}
		return nil
	})
	return m, err
}

// CompleteStateResponse answers a CompleteStateRequest with an
// opaquely encoded snapshot.
type CompleteStateResponse struct {
	RequestID string
	Payload   []byte
}

func (m CompleteStateResponse) Marshal() []byte {
	w := &fieldWriter{}
	w.string(1, m.RequestID)
	w.bytes(2, m.Payload)
	return w.buf
}

func UnmarshalCompleteStateResponse(buf []byte) (CompleteStateResponse, error) {
	var m CompleteStateResponse
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			m.RequestID = string(v)
		case 2:
			m.Payload = append([]byte(nil), v...)
		}
		return nil
	})
	return m, err
}

// UpdateStateSuccess answers an UpdateStateRequest with the names of
// workloads added and deleted as a result of applying it (§4.10), or a
// non-empty Error if the request could not be applied.
type UpdateStateSuccess struct {
	RequestID        string
	AddedWorkloads   []string
	DeletedWorkloads []string
	Error            string
}

func (m UpdateStateSuccess) Marshal() []byte {
	w := &fieldWriter{}
	w.string(1, m.RequestID)
	for _, n := range m.AddedWorkloads {
		w.string(2, n)
	}
	for _, n := range m.DeletedWorkloads {
		w.string(3, n)
	}
	w.string(4, m.Error)
	return w.buf
}

func UnmarshalUpdateStateSuccess(buf []byte) (UpdateStateSuccess, error) {
	var m UpdateStateSuccess
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			m.RequestID = string(v)
		case 2:
			m.AddedWorkloads = append(m.AddedWorkloads, string(v))
		case 3:
			m.DeletedWorkloads = append(m.DeletedWorkloads, string(v))
		case 4:
			m.Error = string(v)
		}
		return nil
	})
	return m, err
}

// ControlInterfaceRequest is a request a workload sends over its FIFO
// pair, relayed by the agent to the server's router.
type ControlInterfaceRequest struct {
	WorkloadName string
	RequestID    string
	Payload      []byte
}

func (m ControlInterfaceRequest) Marshal() []byte {
	w := &fieldWriter{}
	w.string(1, m.WorkloadName)
	w.string(2, m.RequestID)
	w.bytes(3, m.Payload)
	return w.buf
}

func UnmarshalControlInterfaceRequest(buf []byte) (ControlInterfaceRequest, error) {
	var m ControlInterfaceRequest
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			m.WorkloadName = string(v)
		case 2:
			m.RequestID = string(v)
		case 3:
			m.Payload = append([]byte(nil), v...)
		}
		return nil
	})
	return m, err
}

// ControlInterfaceResponse answers a ControlInterfaceRequest, carrying
// either Payload or a non-empty Error, never both.
type ControlInterfaceResponse struct {
	RequestID string
	Payload   []byte
	Error     string
}

func (m ControlInterfaceResponse) Marshal() []byte {
	w := &fieldWriter{}
	w.string(1, m.RequestID)
	w.bytes(2, m.Payload)
	w.string(3, m.Error)
	return w.buf
}

func UnmarshalControlInterfaceResponse(buf []byte) (ControlInterfaceResponse, error) {
	var m ControlInterfaceResponse
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			m.RequestID = string(v)
		case 2:
			m.Payload = append([]byte(nil), v...)
		case 3:
			m.Error = string(v)
		}
		return nil
	})
	return m, err
}

// ToServer is the envelope sent from an agent or CLI client to the
// server, over the single bidirectional transport session. Exactly
// one field is set.
type ToServer struct {
	Hello                *AgentHello
	WorkloadState        *UpdateWorkloadState
	UpdateStateRequest   *UpdateStateRequest
	CompleteStateRequest *CompleteStateRequest
	ControlInterface     *ControlInterfaceRequest
}

// Marshal encodes whichever field of m is set as a tagged submessage
// inside the envelope.
func (m ToServer) Marshal() []byte {
	w := &fieldWriter{}
	switch {
	case m.Hello != nil:
		w.message(1, m.Hello.Marshal())
	case m.WorkloadState != nil:
		w.message(2, m.WorkloadState.Marshal())
	case m.UpdateStateRequest != nil:
		w.message(3, m.UpdateStateRequest.Marshal())
	case m.CompleteStateRequest != nil:
		w.message(4, m.CompleteStateRequest.Marshal())
	case m.ControlInterface != nil:
		w.message(5, m.ControlInterface.Marshal())
	}
	return w.buf
}

// UnmarshalToServer decodes an envelope, setting exactly the field
// that matches whichever tag was present.
func UnmarshalToServer(buf []byte) (ToServer, error) {
	var m ToServer
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			hello, err := UnmarshalAgentHello(v)
			if err != nil {
				return err
			}
			m.Hello = &hello
		case 2:
			ws, err := UnmarshalUpdateWorkloadState(v)
			if err != nil {
				return err
			}
			m.WorkloadState = &ws
		case 3:
			req, err := UnmarshalUpdateStateRequest(v)
			if err != nil {
				return err
			}
			m.UpdateStateRequest = &req
		case 4:
			req, err := UnmarshalCompleteStateRequest(v)
			if err != nil {
				return err
			}
			m.CompleteStateRequest = &req
		case 5:
			req, err := UnmarshalControlInterfaceRequest(v)
			if err != nil {
				return err
			}
			m.ControlInterface = &req
		}
		return nil
	})
	if err != nil {
		return ToServer{}, fmt.Errorf("proto: decode ToServer: %w", err)
	}
	return m, nil
}

// FromServer is the envelope sent from the server down to an agent or
// CLI client. Exactly one field is set.
type FromServer struct {
	UpdateWorkload        *UpdateWorkloadSpec
	AgentGone             *AgentGone
	CompleteStateResponse *CompleteStateResponse
	ControlInterfaceResp  *ControlInterfaceResponse

	// WorkloadState rebroadcasts a workload-state delta the server
	// received from one agent out to every connected agent session (§4.10),
	// so an agent's local scheduler can evaluate AddCondition/
	// DeleteCondition dependencies that target a workload running on a
	// different agent.
	WorkloadState *UpdateWorkloadState

	// UpdateStateResult answers the requester of an UpdateStateRequest.
	UpdateStateResult *UpdateStateSuccess
}

// UpdateWorkloadSpec carries the Added/Deleted workload lists an agent
// must reconcile against, already filtered to that agent (§4.7).
// Specs/Deletes are carried as opaque encoded bytes matching
// UpdateStateRequest's DesiredState convention.
type UpdateWorkloadSpec struct {
	AddedWorkloads   []byte
	DeletedWorkloads []byte
}

func (m UpdateWorkloadSpec) marshal() []byte {
	w := &fieldWriter{}
	w.bytes(1, m.AddedWorkloads)
	w.bytes(2, m.DeletedWorkloads)
	return w.buf
}

func unmarshalUpdateWorkloadSpec(buf []byte) (UpdateWorkloadSpec, error) {
	var m UpdateWorkloadSpec
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			m.AddedWorkloads = append([]byte(nil), v...)
		case 2:
			m.DeletedWorkloads = append([]byte(nil), v...)
		}
		return nil
	})
	return m, err
}

func (m AgentGone) marshal() []byte {
	w := &fieldWriter{}
	w.string(1, m.AgentName)
	return w.buf
}

func unmarshalAgentGone(buf []byte) (AgentGone, error) {
	var m AgentGone
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		if num == 1 {
			m.AgentName = string(v)
		}
		return nil
	})
	return m, err
}

func (m FromServer) Marshal() []byte {
	w := &fieldWriter{}
	switch {
	case m.UpdateWorkload != nil:
		w.message(1, m.UpdateWorkload.marshal())
	case m.AgentGone != nil:
		w.message(2, m.AgentGone.marshal())
	case m.CompleteStateResponse != nil:
		w.message(3, m.CompleteStateResponse.Marshal())
	case m.ControlInterfaceResp != nil:
		w.message(4, m.ControlInterfaceResp.Marshal())
	case m.WorkloadState != nil:
		w.message(5, m.WorkloadState.Marshal())
	case m.UpdateStateResult != nil:
		w.message(6, m.UpdateStateResult.Marshal())
	}
	return w.buf
}

func UnmarshalFromServer(buf []byte) (FromServer, error) {
	var m FromServer
	err := parseFields(buf, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case 1:
			u, err := unmarshalUpdateWorkloadSpec(v)
			if err != nil {
				return err
			}
			m.UpdateWorkload = &u
		case 2:
			g, err := unmarshalAgentGone(v)
			if err != nil {
				return err
			}
			m.AgentGone = &g
		case 3:
			r, err := UnmarshalCompleteStateResponse(v)
			if err != nil {
				return err
			}
			m.CompleteStateResponse = &r
		case 4:
			r, err := UnmarshalControlInterfaceResponse(v)
			if err != nil {
				return err
			}
			m.ControlInterfaceResp = &r
		case 5:
			ws, err := UnmarshalUpdateWorkloadState(v)
			if err != nil {
				return err
			}
			m.WorkloadState = &ws
		case 6:
			res, err := UnmarshalUpdateStateSuccess(v)
			if err != nil {
				return err
			}
			m.UpdateStateResult = &res
		}
		return nil
	})
	if err != nil {
		return FromServer{}, fmt.Errorf("proto: decode FromServer: %w", err)
	}
	return m, nil
}
