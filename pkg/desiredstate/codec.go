package desiredstate

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ankaios-go/ankaios/pkg/workload"
)

// This file hand-encodes Spec/DeletedWorkload/State/ExecutionState onto
// the wire using the same protobuf wire primitives pkg/proto's envelopes
// use, but independently of that package: C9's own encoding evolves on
// its own schedule, which is exactly why pkg/proto's envelope fields
// (UpdateStateRequest.DesiredState, UpdateWorkloadSpec.AddedWorkloads,
// CompleteStateResponse.Payload) carry these bytes opaquely.

type writer struct{ buf []byte }

func (w *writer) str(num protowire.Number, s string) {
	if s == "" {
		return
	}
	w.buf = protowire.AppendTag(w.buf, num, protowire.BytesType)
	w.buf = protowire.AppendString(w.buf, s)
}

func (w *writer) msg(num protowire.Number, encoded []byte) {
	if len(encoded) == 0 {
		return
	}
	w.buf = protowire.AppendTag(w.buf, num, protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, encoded)
}

func parse(buf []byte, handle func(num protowire.Number, v []byte) error) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fmt.Errorf("desiredstate: invalid tag")
		}
		buf = buf[n:]

		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return fmt.Errorf("desiredstate: invalid field %d", num)
			}
			buf = buf[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return fmt.Errorf("desiredstate: invalid length-delimited field %d", num)
		}
		if err := handle(num, v); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func encodeFile(f workload.File) []byte {
	w := &writer{}
	w.str(1, f.MountPoint)
	w.str(2, f.Text)
	w.str(3, f.Base64)
	return w.buf
}

func decodeFile(buf []byte) (workload.File, error) {
	var f workload.File
	err := parse(buf, func(num protowire.Number, v []byte) error {
		switch num {
		case 1:
			f.MountPoint = string(v)
		case 2:
			f.Text = string(v)
		case 3:
			f.Base64 = string(v)
		}
		return nil
	})
	return f, err
}

func encodeSpec(s workload.Spec) []byte {
	w := &writer{}
	w.str(1, s.Name)
	w.str(2, s.Agent)
	w.str(3, s.Runtime)
	w.str(4, s.RuntimeConfig)
	w.str(5, string(s.RestartPolicy))
	for name, cond := range s.Dependencies {
		w.str(6, name+"="+string(cond))
	}
	for k, v := range s.Tags {
		w.str(7, k+"="+v)
	}
	for _, rule := range s.ControlInterfaceAccess.AllowRules {
		w.str(8, strings.Join(rule, "."))
	}
	for _, rule := range s.ControlInterfaceAccess.DenyRules {
		w.str(9, strings.Join(rule, "."))
	}
	for _, f := range s.Files {
		w.msg(10, encodeFile(f))
	}
	return w.buf
}

func decodeSpec(buf []byte) (workload.Spec, error) {
	var s workload.Spec
	var deps map[string]workload.AddCondition
	var tags map[string]string

	err := parse(buf, func(num protowire.Number, v []byte) error {
		switch num {
		case 1:
			s.Name = string(v)
		case 2:
			s.Agent = string(v)
		case 3:
			s.Runtime = string(v)
		case 4:
			s.RuntimeConfig = string(v)
		case 5:
			s.RestartPolicy = workload.RestartPolicy(string(v))
		case 6:
			kv := strings.SplitN(string(v), "=", 2)
			if len(kv) == 2 {
				if deps == nil {
					deps = make(map[string]workload.AddCondition)
				}
				deps[kv[0]] = workload.AddCondition(kv[1])
			}
		case 7:
			kv := strings.SplitN(string(v), "=", 2)
			if len(kv) == 2 {
				if tags == nil {
					tags = make(map[string]string)
				}
				tags[kv[0]] = kv[1]
			}
		case 8:
			s.ControlInterfaceAccess.AllowRules = append(s.ControlInterfaceAccess.AllowRules, strings.Split(string(v), "."))
		case 9:
			s.ControlInterfaceAccess.DenyRules = append(s.ControlInterfaceAccess.DenyRules, strings.Split(string(v), "."))
		case 10:
			f, err := decodeFile(v)
			if err != nil {
				return err
			}
			s.Files = append(s.Files, f)
		}
		return nil
	})
	s.Dependencies = deps
	s.Tags = tags
	return s, err
}

// EncodeState encodes a full desired-state tree as a flat sequence of
// encoded specs.
func EncodeState(s State) []byte {
	w := &writer{}
	for _, spec := range s.Workloads {
		w.msg(1, encodeSpec(spec))
	}
	return w.buf
}

// DecodeState decodes bytes produced by EncodeState.
func DecodeState(buf []byte) (State, error) {
	st := Empty()
	err := parse(buf, func(num protowire.Number, v []byte) error {
		if num != 1 {
			return nil
		}
		spec, err := decodeSpec(v)
		if err != nil {
			return err
		}
		st.Workloads[spec.Name] = spec
		return nil
	})
	return st, err
}

// EncodeSpecs encodes a plain list of specs, the shape
// UpdateWorkloadSpec.AddedWorkloads carries.
func EncodeSpecs(specs []workload.Spec) []byte {
	w := &writer{}
	for _, s := range specs {
		w.msg(1, encodeSpec(s))
	}
	return w.buf
}

// DecodeSpecs decodes bytes produced by EncodeSpecs.
func DecodeSpecs(buf []byte) ([]workload.Spec, error) {
	var out []workload.Spec
	err := parse(buf, func(num protowire.Number, v []byte) error {
		if num != 1 {
			return nil
		}
		s, err := decodeSpec(v)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func encodeDeleted(d workload.DeletedWorkload) []byte {
	w := &writer{}
	w.str(1, d.Name)
	w.str(2, d.Agent)
	for dep, cond := range d.Dependencies {
		w.str(3, dep+"="+string(cond))
	}
	return w.buf
}

func decodeDeleted(buf []byte) (workload.DeletedWorkload, error) {
	var d workload.DeletedWorkload
	var deps map[string]workload.DeleteCondition

	err := parse(buf, func(num protowire.Number, v []byte) error {
		switch num {
		case 1:
			d.Name = string(v)
		case 2:
			d.Agent = string(v)
		case 3:
			kv := strings.SplitN(string(v), "=", 2)
			if len(kv) == 2 {
				if deps == nil {
					deps = make(map[string]workload.DeleteCondition)
				}
				deps[kv[0]] = workload.DeleteCondition(kv[1])
			}
		}
		return nil
	})
	d.Dependencies = deps
	return d, err
}

// EncodeDeleted encodes a list of deleted-workload stamps, the shape
// UpdateWorkloadSpec.DeletedWorkloads carries.
func EncodeDeleted(list []workload.DeletedWorkload) []byte {
	w := &writer{}
	for _, d := range list {
		w.msg(1, encodeDeleted(d))
	}
	return w.buf
}

// DecodeDeleted decodes bytes produced by EncodeDeleted.
func DecodeDeleted(buf []byte) ([]workload.DeletedWorkload, error) {
	var out []workload.DeletedWorkload
	err := parse(buf, func(num protowire.Number, v []byte) error {
		if num != 1 {
			return nil
		}
		d, err := decodeDeleted(v)
		if err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func encodeExecutionState(s workload.ExecutionState) []byte {
	w := &writer{}
	w.str(1, string(s.Category))
	w.str(2, string(s.Substate))
	w.str(3, s.Additional)
	return w.buf
}

func decodeExecutionState(buf []byte) (workload.ExecutionState, error) {
	var s workload.ExecutionState
	err := parse(buf, func(num protowire.Number, v []byte) error {
		switch num {
		case 1:
			s.Category = workload.StateCategory(string(v))
		case 2:
			s.Substate = workload.Substate(string(v))
		case 3:
			s.Additional = string(v)
		}
		return nil
	})
	return s, err
}

type stateEntry struct {
	agent string
	name  string
	state workload.ExecutionState
}

func encodeStateEntry(e stateEntry) []byte {
	w := &writer{}
	w.str(1, e.agent)
	w.str(2, e.name)
	w.msg(3, encodeExecutionState(e.state))
	return w.buf
}

func decodeStateEntry(buf []byte) (stateEntry, error) {
	var e stateEntry
	err := parse(buf, func(num protowire.Number, v []byte) error {
		switch num {
		case 1:
			e.agent = string(v)
		case 2:
			e.name = string(v)
		case 3:
			st, err := decodeExecutionState(v)
			if err != nil {
				return err
			}
			e.state = st
		}
		return nil
	})
	return e, err
}

// EncodeSnapshot encodes a CompleteStateRequest response: the desired
// state plus every currently known workload execution state, nested by
// agent.
func EncodeSnapshot(desired State, states map[string]map[string]workload.ExecutionState) []byte {
	w := &writer{}
	w.msg(1, EncodeState(desired))
	for agent, bucket := range states {
		for name, st := range bucket {
			w.msg(2, encodeStateEntry(stateEntry{agent: agent, name: name, state: st}))
		}
	}
	return w.buf
}

// DecodeSnapshot decodes bytes produced by EncodeSnapshot.
func DecodeSnapshot(buf []byte) (State, map[string]map[string]workload.ExecutionState, error) {
	desired := Empty()
	states := make(map[string]map[string]workload.ExecutionState)

	err := parse(buf, func(num protowire.Number, v []byte) error {
		switch num {
		case 1:
			st, err := DecodeState(v)
			if err != nil {
				return err
			}
			desired = st
		case 2:
			e, err := decodeStateEntry(v)
			if err != nil {
				return err
			}
			bucket, ok := states[e.agent]
			if !ok {
				bucket = make(map[string]workload.ExecutionState)
				states[e.agent] = bucket
			}
			bucket[e.name] = e.state
		}
		return nil
	})
	return desired, states, err
}
