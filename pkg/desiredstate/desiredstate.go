// Package desiredstate is the server's authoritative desired state
// (C9): the current set of workload specs, update-mask-scoped partial
// updates, the add/update/delete diff computation, and the
// delete-dependency graph used to stamp outgoing deletes with the
// conditions that must hold before an agent may act on them.
package desiredstate

import (
	"fmt"
	"strings"

	"github.com/ankaios-go/ankaios/pkg/workload"
)

// State is the full set of currently desired workloads, keyed by
// workload name.
type State struct {
	Workloads map[string]workload.Spec
}

// Empty returns a state with no workloads.
func Empty() State {
	return State{Workloads: make(map[string]workload.Spec)}
}

// Update applies newState to current under the given update_mask
// paths, each of the form "desiredState.workloads.<name>[.<field>]".
// An empty mask list replaces current wholesale with newState. A
// "desiredState.workloads.<name>" path copies that workload from
// newState, or removes it from current if newState lacks it; if
// neither tree has it, the path changes nothing. A deeper path is
// resolved at the workload level only: the whole workload is copied
// from newState, not just the named field, and a deeper path whose
// workload is absent from newState is a FieldNotFound error, even when
// current has it. A mask path of the wrong shape is a ResultInvalid
// error.
func Update(current, newState State, mask []string) (State, error) {
	if len(mask) == 0 {
		return newState, nil
	}

	next := State{Workloads: make(map[string]workload.Spec, len(current.Workloads))}
	for k, v := range current.Workloads {
		next.Workloads[k] = v
	}

	for _, path := range mask {
		if err := applyMaskPath(next, newState, path); err != nil {
			return State{}, err
		}
	}
	return next, nil
}

// applyMaskPath splices the workload named by a single update_mask
// path from newState into next. A workload-level path deletes the entry
// from next if newState has nothing there; a deeper path in that case
// is a FieldNotFound error.
func applyMaskPath(next, newState State, path string) error {
	parts := strings.Split(path, ".")
	if len(parts) < 3 || parts[0] != "desiredState" || parts[1] != "workloads" {
		return fmt.Errorf("desiredstate: ResultInvalid: malformed update_mask path %q", path)
	}
	name := parts[2]

	spec, present := newState.Workloads[name]
	if len(parts) == 3 {
		if present {
			next.Workloads[name] = spec
		} else {
			delete(next.Workloads, name)
		}
		return nil
	}

	// A deeper path (e.g. "...workloads.<name>.tags") without the
	// workload itself present in newState addresses nothing: the field
	// it names cannot be located to either set or clear.
	if !present {
		return fmt.Errorf("desiredstate: FieldNotFound: %q", path)
	}
	next.Workloads[name] = spec
	return nil
}

// Project returns the subset of full addressed by mask, following the
// same "desiredState.workloads.<name>[...]" path grammar Update uses —
// a path is resolved down to the whole workload it names, since State's
// granularity stops at the workload level. An empty mask returns full
// unchanged. Used by C10's CompleteStateRequest projection (§4.10).
func Project(full State, mask []string) State {
	if len(mask) == 0 {
		return full
	}
	out := Empty()
	for _, path := range mask {
		parts := strings.Split(path, ".")
		if len(parts) < 3 || parts[0] != "desiredState" || parts[1] != "workloads" {
			continue
		}
		if spec, ok := full.Workloads[parts[2]]; ok {
			out.Workloads[parts[2]] = spec
		}
	}
	return out
}

// Diff is the set of added, changed, and removed workloads between an
// old and a new State.
type Diff struct {
	Added   []workload.Spec
	Deleted []workload.DeletedWorkload
}

// ComputeDiff compares old against next: a workload present only in
// next is Added; present only in old is Deleted; present in both but
// differing in any field ("specs differ", §4.9 — not merely a
// config-hash change) is both Deleted(old) and Added(new), since an
// update can only be realized as a tear-down-and-recreate against the
// control loop. Deleted entries are stamped with delete-dependency
// conditions from graph.
func ComputeDiff(old, next State, graph *DeleteGraph) Diff {
	var diff Diff

	for name, spec := range next.Workloads {
		oldSpec, existed := old.Workloads[name]
		if !existed {
			diff.Added = append(diff.Added, spec)
			continue
		}
		if !oldSpec.Equal(spec) {
			diff.Deleted = append(diff.Deleted, graph.stamp(workload.DeletedWorkload{Name: name, Agent: oldSpec.Agent}))
			diff.Added = append(diff.Added, spec)
		}
	}

	for name, spec := range old.Workloads {
		if _, stillPresent := next.Workloads[name]; !stillPresent {
			diff.Deleted = append(diff.Deleted, graph.stamp(workload.DeletedWorkload{Name: name, Agent: spec.Agent}))
		}
	}

	return diff
}

// DeleteGraph records, for every workload whose dependents declared
// AddConditionRunning on it, the inverse edge: when that workload is
// deleted, each such dependent must first satisfy
// DeleteConditionNotPendingNorRunning. Only AddConditionRunning
// produces an edge — Succeeded/Failed dependencies never block a
// delete, since by definition they are already past Running.
type DeleteGraph struct {
	// edges[dependencyName][dependentName] = condition
	edges map[string]map[string]workload.DeleteCondition
}

// NewDeleteGraph builds a graph from the given workload specs.
func NewDeleteGraph(specs []workload.Spec) *DeleteGraph {
	g := &DeleteGraph{edges: make(map[string]map[string]workload.DeleteCondition)}
	g.Insert(specs)
	return g
}

// Insert adds edges for newWorkloads without clearing existing ones,
// mirroring the original's incremental insert behavior.
func (g *DeleteGraph) Insert(newWorkloads []workload.Spec) {
	for _, spec := range newWorkloads {
		for depName, cond := range spec.Dependencies {
			if cond != workload.AddConditionRunning {
				continue
			}
			if g.edges[depName] == nil {
				g.edges[depName] = make(map[string]workload.DeleteCondition)
			}
			g.edges[depName][spec.Name] = workload.DeleteConditionNotPendingNorRunning
		}
	}
}

// stamp overwrites del.Dependencies with whatever this graph holds for
// del.Name, leaving it empty if nothing depends on del.Name with an
// AddConditionRunning edge.
func (g *DeleteGraph) stamp(del workload.DeletedWorkload) workload.DeletedWorkload {
	edges, ok := g.edges[del.Name]
	if !ok {
		del.Dependencies = nil
		return del
	}
	del.Dependencies = make(map[string]workload.DeleteCondition, len(edges))
	for k, v := range edges {
		del.Dependencies[k] = v
	}
	return del
}

// ApplyTo stamps every entry of deleted in place against g, used when
// deletes are computed outside of ComputeDiff (e.g. an explicit delete
// request for a single workload).
func (g *DeleteGraph) ApplyTo(deleted []workload.DeletedWorkload) {
	for i := range deleted {
		deleted[i] = g.stamp(deleted[i])
	}
}
