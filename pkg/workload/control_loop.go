package workload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ankaios-go/ankaios/pkg/log"
	"github.com/ankaios-go/ankaios/pkg/metrics"
)

// RuntimeConnector is the interface a concrete workload runtime (see
// pkg/runtime) implements for the control loop to drive. Every method
// is scoped to a single InstanceName so the loop never has to reason
// about cross-instance state.
type RuntimeConnector interface {
	Create(ctx context.Context, spec Spec) (workloadID string, err error)
	Delete(ctx context.Context, instance InstanceName, workloadID string) error
	State(ctx context.Context, instance InstanceName, workloadID string) (ExecutionState, error)
}

// pollInterval is how often the control loop samples the runtime
// connector for a workload's state while it is active.
const pollInterval = 2 * time.Second

// Reporter is notified whenever a workload's reported execution state
// changes. Implemented by pkg/runtimemanager's per-workload wrapper,
// which forwards to the agent's own reporter.
type Reporter interface {
	Report(instance InstanceName, state ExecutionState)
}

// ControlLoop drives a single workload instance through
// create/poll/retry/delete against a RuntimeConnector, reporting every
// state transition to a Reporter. One ControlLoop exists per workload
// instance for the instance's lifetime; it is created on first Create
// and torn down after Delete completes.
type ControlLoop struct {
	instance  InstanceName
	runtime   RuntimeConnector
	reporter  Reporter
	retry     *RetryManager
	restart   RestartPolicy

	mu         sync.Mutex
	workloadID string
	state      ExecutionState
	stopCh     chan struct{}
	stopped    bool
}

// NewControlLoop creates a control loop for instance, ready to run.
func NewControlLoop(instance InstanceName, runtime RuntimeConnector, reporter Reporter, restart RestartPolicy) *ControlLoop {
	return &ControlLoop{
		instance: instance,
		runtime:  runtime,
		reporter: reporter,
		retry:    NewRetryManager(),
		restart:  restart,
		state:    PendingInitial(),
		stopCh:   make(chan struct{}),
	}
}

// State returns the most recently reported execution state.
func (l *ControlLoop) State() ExecutionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *ControlLoop) setState(s ExecutionState) {
	l.mu.Lock()
	s = Hysteresis(l.state, s)
	l.state = s
	l.mu.Unlock()
	if l.reporter != nil {
		l.reporter.Report(l.instance, s)
	}
}

// Run creates the workload and then polls its runtime state until ctx
// is cancelled or Stop is called. A failed create is retried according
// to RestartPolicy; a failed state poll is reported as Failed(Unknown)
// and polling continues on the next tick, without the retry backoff.
func (l *ControlLoop) Run(ctx context.Context, spec Spec) {
	l.setState(PendingWaitingToStart())

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		default:
		}

		l.setState(PendingStarting())
		id, err := l.runtime.Create(ctx, spec)
		if err == nil {
			l.mu.Lock()
			l.workloadID = id
			l.mu.Unlock()
			l.retry.Reset()
			break
		}

		log.WithComponent("workload").Error().
			Str("instance", l.instance.String()).
			Err(err).
			Msg("create failed")
		l.setState(PendingStartingFailed(err.Error()))

		if l.restart == RestartNever {
			return
		}
		metrics.RetryBackoffSeconds.Observe(backoffDelay(l.retry.Attempt()).Seconds())
		tok := l.retry.Schedule(ctx)
		select {
		case <-tok.Done():
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		}
	}

	metrics.WorkloadTransitionsTotal.WithLabelValues(string(CategoryRunning)).Inc()
	l.poll(ctx)
}

// poll repeatedly samples the runtime connector for this instance's
// state until the instance reaches a terminal state, ctx is cancelled,
// or Stop is called.
func (l *ControlLoop) poll(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		id := l.workloadID
		l.mu.Unlock()

		observed, err := l.runtime.State(ctx, l.instance, id)
		if err != nil {
			log.WithComponent("workload").Warn().
				Str("instance", l.instance.String()).
				Err(err).
				Msg("state poll failed")
			l.setState(FailedUnknown())
			continue
		}

		l.setState(observed)
		metrics.WorkloadTransitionsTotal.WithLabelValues(string(observed.Category)).Inc()

		if observed.IsTerminal() {
			return
		}
	}
}

// Resume takes over supervision of a workload instance the runtime
// connector reports already exists, skipping Create entirely. Used on
// agent startup when the runtime manager finds a workload from a
// previous process lifetime still present in the runtime.
func (l *ControlLoop) Resume(ctx context.Context, workloadID string) {
	l.mu.Lock()
	l.workloadID = workloadID
	l.mu.Unlock()

	observed, err := l.runtime.State(ctx, l.instance, workloadID)
	if err != nil {
		l.setState(FailedUnknown())
		return
	}
	l.setState(observed)
	if observed.IsTerminal() {
		return
	}
	l.poll(ctx)
}

// Delete requests removal of the workload's runtime resources,
// reporting Stopping substates along the way.
func (l *ControlLoop) Delete(ctx context.Context) error {
	l.setState(StoppingRequestedAtRuntime())

	l.mu.Lock()
	id := l.workloadID
	l.mu.Unlock()

	l.setState(StoppingStopping())
	if err := l.runtime.Delete(ctx, l.instance, id); err != nil {
		l.setState(StoppingDeleteFailed(err.Error()))
		return fmt.Errorf("workload: delete %s: %w", l.instance, err)
	}
	l.setState(Removed())
	return nil
}

// Stop halts the control loop's goroutine without deleting the
// underlying runtime resource: the workload keeps running, only local
// supervision stops. The runtime manager calls it after Delete.
func (l *ControlLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stopCh)
}
