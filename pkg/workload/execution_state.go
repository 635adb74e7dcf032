package workload

import "fmt"

// StateCategory groups the fine-grained ExecutionState substates the
// way AddCondition/DeleteCondition predicates and CLI summaries
// reason about them.
type StateCategory string

const (
	CategoryAgentDisconnected StateCategory = "AgentDisconnected"
	CategoryPending           StateCategory = "Pending"
	CategoryRunning           StateCategory = "Running"
	CategorySucceeded         StateCategory = "Succeeded"
	CategoryFailed            StateCategory = "Failed"
	CategoryStopping          StateCategory = "Stopping"
	CategoryNotScheduled      StateCategory = "NotScheduled"
	CategoryRemoved           StateCategory = "Removed"
)

// Substate is the fine-grained reason within a StateCategory.
type Substate string

const (
	SubstateNone Substate = ""

	// Pending
	SubstatePendingInitial        Substate = "Initial"
	SubstatePendingWaitingToStart Substate = "WaitingToStart"
	SubstatePendingStarting       Substate = "Starting"
	SubstatePendingStartingFailed Substate = "StartingFailed"

	// Running
	SubstateRunningOk Substate = "Ok"

	// Succeeded
	SubstateSucceededOk Substate = "Ok"

	// Failed
	SubstateFailedExecFailed Substate = "ExecFailed"
	SubstateFailedLost       Substate = "Lost"
	SubstateFailedUnknown    Substate = "Unknown"

	// Stopping
	SubstateStoppingRequestedAtRuntime Substate = "RequestedAtRuntime"
	SubstateStoppingWaitingToStop      Substate = "WaitingToStop"
	SubstateStoppingStopping          Substate = "Stopping"
	SubstateStoppingDeleteFailed       Substate = "DeleteFailed"
)

// ExecutionState is the full observed state of a workload instance.
// Additional is a free-text detail (e.g. an error message) surfaced to
// operators but never used in transition logic.
type ExecutionState struct {
	Category   StateCategory
	Substate   Substate
	Additional string
}

func (s ExecutionState) String() string {
	if s.Substate == SubstateNone {
		return string(s.Category)
	}
	return fmt.Sprintf("%s(%s)", s.Category, s.Substate)
}

// Constructors for every reachable state, mirroring the original
// execution-state enum one-for-one.
func AgentDisconnected() ExecutionState { return ExecutionState{Category: CategoryAgentDisconnected} }
func NotScheduled() ExecutionState      { return ExecutionState{Category: CategoryNotScheduled} }
func Removed() ExecutionState           { return ExecutionState{Category: CategoryRemoved} }

func PendingInitial() ExecutionState {
	return ExecutionState{Category: CategoryPending, Substate: SubstatePendingInitial}
}
func PendingWaitingToStart() ExecutionState {
	return ExecutionState{Category: CategoryPending, Substate: SubstatePendingWaitingToStart}
}
func PendingStarting() ExecutionState {
	return ExecutionState{Category: CategoryPending, Substate: SubstatePendingStarting}
}
func PendingStartingFailed(detail string) ExecutionState {
	return ExecutionState{Category: CategoryPending, Substate: SubstatePendingStartingFailed, Additional: detail}
}

func RunningOk() ExecutionState {
	return ExecutionState{Category: CategoryRunning, Substate: SubstateRunningOk}
}

func SucceededOk() ExecutionState {
	return ExecutionState{Category: CategorySucceeded, Substate: SubstateSucceededOk}
}

func FailedExecFailed(detail string) ExecutionState {
	return ExecutionState{Category: CategoryFailed, Substate: SubstateFailedExecFailed, Additional: detail}
}
func FailedLost() ExecutionState {
	return ExecutionState{Category: CategoryFailed, Substate: SubstateFailedLost}
}
func FailedUnknown() ExecutionState {
	return ExecutionState{Category: CategoryFailed, Substate: SubstateFailedUnknown}
}

func StoppingRequestedAtRuntime() ExecutionState {
	return ExecutionState{Category: CategoryStopping, Substate: SubstateStoppingRequestedAtRuntime}
}
func StoppingWaitingToStop() ExecutionState {
	return ExecutionState{Category: CategoryStopping, Substate: SubstateStoppingWaitingToStop}
}
func StoppingStopping() ExecutionState {
	return ExecutionState{Category: CategoryStopping, Substate: SubstateStoppingStopping}
}
func StoppingDeleteFailed(detail string) ExecutionState {
	return ExecutionState{Category: CategoryStopping, Substate: SubstateStoppingDeleteFailed, Additional: detail}
}

// SatisfiesAddCondition reports whether s permits a workload whose
// dependency declares cond to proceed past its wait.
func (s ExecutionState) SatisfiesAddCondition(cond AddCondition) bool {
	switch cond {
	case AddConditionRunning:
		return s.Category == CategoryRunning
	case AddConditionSucceeded:
		return s.Category == CategorySucceeded
	case AddConditionFailed:
		return s.Category == CategoryFailed
	default:
		return false
	}
}

// SatisfiesDeleteCondition reports whether s permits a workload whose
// dependent declares cond to be deleted.
//
// "NotPendingNorRunning" is read literally: the instance must have left
// both the Pending and Running categories. AgentDisconnected is treated
// as satisfying the condition since a disconnected agent can no longer
// block a delete it has no visibility into (hysteresis edge case,
// see SPEC_FULL.md §12).
func (s ExecutionState) SatisfiesDeleteCondition(cond DeleteCondition) bool {
	if cond != DeleteConditionNotPendingNorRunning {
		return false
	}
	return s.Category != CategoryPending && s.Category != CategoryRunning
}

// IsTerminal reports whether s is a stable end state requiring no
// further control-loop action (Succeeded, Failed, Removed).
func (s ExecutionState) IsTerminal() bool {
	switch s.Category {
	case CategorySucceeded, CategoryFailed, CategoryRemoved:
		return true
	default:
		return false
	}
}

// Hysteresis decides the next reported ExecutionState given the
// previously reported state and a freshly observed one. Once previous
// is Stopping.RequestedAtRuntime or Stopping.WaitingToStop, an incoming
// Running/Succeeded/Failed report (including the Lost/Unknown Failed
// substates) is dropped in favor of previous — a workload mid-teardown
// must not be reported as having come back up by a stale or racing
// sample. A transition into Stopping.DeleteFailed is always accepted
// regardless of the current substate, since it is C5's own terminal
// report for that teardown. AgentDisconnected observed while already
// AgentDisconnected is likewise a no-op. Everything else overwrites.
func Hysteresis(previous, observed ExecutionState) ExecutionState {
	if observed.Category == CategoryStopping && observed.Substate == SubstateStoppingDeleteFailed {
		return observed
	}
	if previous.Category == CategoryAgentDisconnected && observed.Category == CategoryAgentDisconnected {
		return previous
	}
	if previous.Category == CategoryStopping &&
		(previous.Substate == SubstateStoppingRequestedAtRuntime || previous.Substate == SubstateStoppingWaitingToStop) {
		switch observed.Category {
		case CategoryRunning, CategorySucceeded, CategoryFailed:
			return previous
		}
	}
	return observed
}
