// Package runtimemanager implements the per-agent runtime manager
// (C7): the map of live workload control loops on one agent, and the
// logic that turns a server-sent UpdateWorkload delta into
// create/update/delete/resume dispatches against them, gated by the
// dependency scheduler (C6).
package runtimemanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/ankaios-go/ankaios/pkg/controlinterface"
	"github.com/ankaios-go/ankaios/pkg/log"
	"github.com/ankaios-go/ankaios/pkg/proto"
	"github.com/ankaios-go/ankaios/pkg/runtime"
	"github.com/ankaios-go/ankaios/pkg/scheduler"
	"github.com/ankaios-go/ankaios/pkg/workload"
)

// Runtime is the capability set a concrete workload backend exposes to
// the runtime manager: everything workload.RuntimeConnector needs for
// a single instance, plus the ability to enumerate instances already
// present from a prior agent process lifetime.
type Runtime interface {
	workload.RuntimeConnector
	ListReusable(ctx context.Context, agent string) ([]runtime.ReusableInstance, error)
}

// RelayFunc forwards an authorized Control Interface request to the
// server and blocks for its response; supplied by the agent's
// transport wiring.
type RelayFunc func(proto.ControlInterfaceRequest) (proto.ControlInterfaceResponse, error)

type trackedWorkload struct {
	loop     *workload.ControlLoop
	spec     workload.Spec
	endpoint *controlinterface.Endpoint
}

// Manager owns every active workload control loop for one agent.
type Manager struct {
	agent     string
	runFolder string
	relay     RelayFunc
	reporter  workload.Reporter
	queue     *scheduler.Queue

	runCtx    context.Context
	runCancel context.CancelFunc

	mu       sync.Mutex
	runtimes map[string]Runtime
	tracked  map[string]*trackedWorkload
}

// New creates a runtime manager for agent. runFolder is the base
// directory under which Control Interface FIFO pairs are created
// (§4.4). reporter receives every execution-state transition observed
// by a control loop, typically forwarding it both into the agent's
// local state mirror and upstream to the server. queue is the
// dependency scheduler gating creates and deletes.
func New(agent, runFolder string, queue *scheduler.Queue, reporter workload.Reporter, relay RelayFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		agent:     agent,
		runFolder: runFolder,
		relay:     relay,
		reporter:  reporter,
		queue:     queue,
		runCtx:    ctx,
		runCancel: cancel,
		runtimes:  make(map[string]Runtime),
		tracked:   make(map[string]*trackedWorkload),
	}
}

// RegisterRuntime associates runtimeName (as named in WorkloadSpec.Runtime)
// with the connector that implements it.
func (m *Manager) RegisterRuntime(runtimeName string, rt Runtime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runtimes[runtimeName] = rt
}

// Close stops every tracked control loop's local supervision (without
// deleting their runtime resources — the workloads keep running) and
// tears down Control Interface endpoints. Used when the agent process
// shuts down; a lost transport session leaves the manager running.
func (m *Manager) Close() {
	m.runCancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tw := range m.tracked {
		if tw.endpoint != nil {
			tw.endpoint.Close()
		}
	}
}

// Active reports the number of currently tracked workloads.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

func (m *Manager) runtimeFor(name string) (Runtime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[name]
	return rt, ok
}

// ApplyInitialDelta handles the first UpdateWorkload an agent receives
// after connecting (§4.7): added workloads are grouped by runtime;
// each runtime connector's already-present instances are listed and
// matched by workload name against the added workloads of that
// runtime. A matching instance
// with an unchanged instance name is resumed; a matching instance
// whose instance name differs is replaced; an unclaimed instance is
// deleted; an added workload with no match is created fresh.
func (m *Manager) ApplyInitialDelta(ctx context.Context, added []workload.Spec) {
	addedByName := make(map[string]workload.Spec, len(added))
	for _, s := range added {
		addedByName[s.Name] = s
	}
	claimed := make(map[string]bool, len(added))

	m.mu.Lock()
	runtimes := make(map[string]Runtime, len(m.runtimes))
	for name, rt := range m.runtimes {
		runtimes[name] = rt
	}
	m.mu.Unlock()

	for rtName, rt := range runtimes {
		reused, err := rt.ListReusable(ctx, m.agent)
		if err != nil {
			log.WithComponent("runtimemanager").Warn().Err(err).Msg("list reusable instances failed")
			continue
		}
		for _, ri := range reused {
			spec, ok := addedByName[ri.Instance.WorkloadName]
			if !ok || spec.Runtime != rtName {
				if err := rt.Delete(ctx, ri.Instance, ri.WorkloadID); err != nil {
					log.WithComponent("runtimemanager").Warn().Err(err).Str("workload", ri.Instance.WorkloadName).Msg("delete unclaimed reusable instance failed")
				}
				continue
			}
			claimed[ri.Instance.WorkloadName] = true
			if ri.Instance.ConfigHash == spec.ConfigHash() {
				m.resume(ctx, spec, ri.WorkloadID)
			} else {
				if err := rt.Delete(ctx, ri.Instance, ri.WorkloadID); err != nil {
					log.WithComponent("runtimemanager").Warn().Err(err).Str("workload", spec.Name).Msg("delete stale reusable instance before replace failed")
				}
				m.enqueueCreate(ctx, spec)
			}
		}
	}

	for name, spec := range addedByName {
		if claimed[name] {
			continue
		}
		m.enqueueCreate(ctx, spec)
	}
}

// ApplyDelta handles every subsequent UpdateWorkload: deletes are
// applied before adds; a name appearing in both lists is an update; an
// add targeting an already-tracked workload is logged and downgraded
// to an update (§4.7).
func (m *Manager) ApplyDelta(ctx context.Context, added []workload.Spec, deleted []workload.DeletedWorkload) {
	addedByName := make(map[string]workload.Spec, len(added))
	for _, s := range added {
		addedByName[s.Name] = s
	}

	for _, del := range deleted {
		if spec, ok := addedByName[del.Name]; ok {
			m.enqueueUpdate(ctx, spec, del)
			delete(addedByName, del.Name)
		} else {
			m.enqueueDelete(ctx, del)
		}
	}

	for name, spec := range addedByName {
		if m.isTracked(name) {
			log.WithComponent("runtimemanager").Warn().Str("workload", name).
				Msg("add targets an already-known workload, downgraded to update")
			m.enqueueUpdate(ctx, spec, workload.DeletedWorkload{Name: name, Agent: m.agent})
			continue
		}
		m.enqueueCreate(ctx, spec)
	}
}

func (m *Manager) isTracked(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracked[name]
	return ok
}

// Drain re-evaluates the dependency scheduler's queue and dispatches
// whatever is now ready. It is called by the Reporter wrapper every
// time a tracked workload's observed state changes, and by the agent
// for every workload-state batch the server rebroadcasts (§4.6: "after every
// incoming workload-state update, the scheduler re-evaluates the
// queue").
func (m *Manager) Drain(ctx context.Context) {
	for _, op := range m.queue.Next() {
		switch op.Kind {
		case workload.OpCreate:
			m.create(ctx, *op.Create)
		case workload.OpDelete:
			m.delete(ctx, *op.Delete)
		}
	}
}

func (m *Manager) enqueueCreate(ctx context.Context, spec workload.Spec) {
	if m.queue.EnqueueStart(spec) {
		m.create(ctx, spec)
		return
	}
	m.reportPending(spec.Name, workload.PendingWaitingToStart())
}

func (m *Manager) enqueueDelete(ctx context.Context, del workload.DeletedWorkload) {
	if m.queue.EnqueueDelete(del) {
		m.delete(ctx, del)
		return
	}
	m.reportPending(del.Name, workload.StoppingWaitingToStop())
}

func (m *Manager) enqueueUpdate(ctx context.Context, newSpec workload.Spec, old workload.DeletedWorkload) {
	deleteReady, startReady := m.queue.EnqueueFilteredUpdate(newSpec, old)
	if deleteReady {
		m.delete(ctx, old)
	} else {
		m.reportPending(old.Name, workload.StoppingWaitingToStop())
	}
	if startReady {
		m.create(ctx, newSpec)
	} else {
		m.reportPending(newSpec.Name, workload.PendingWaitingToStart())
	}
}

func (m *Manager) reportPending(name string, state workload.ExecutionState) {
	if m.reporter == nil {
		return
	}
	m.reporter.Report(workload.InstanceName{WorkloadName: name, Agent: m.agent}, state)
}

// create instantiates a control loop for spec and its Control
// Interface endpoint, and starts both. Unknown runtimes are skipped
// with a warning (§4.7): nothing here blocks on them.
func (m *Manager) create(ctx context.Context, spec workload.Spec) {
	rt, ok := m.runtimeFor(spec.Runtime)
	if !ok {
		log.WithComponent("runtimemanager").Warn().Str("workload", spec.Name).Str("runtime", spec.Runtime).
			Msg("unknown runtime, skipping workload")
		return
	}

	ep := m.openControlInterface(spec)
	loop := workload.NewControlLoop(spec.InstanceName(), rt, m.reporterFor(spec.Name), spec.RestartPolicy)

	m.mu.Lock()
	m.tracked[spec.Name] = &trackedWorkload{loop: loop, spec: spec, endpoint: ep}
	m.mu.Unlock()

	go loop.Run(m.runCtx, spec)
	if ep != nil {
		go m.serveControlInterface(spec.Name, ep)
	}
}

// resume adopts an already-running instance found by ListReusable,
// attaching a fresh state checker without invoking Create.
func (m *Manager) resume(ctx context.Context, spec workload.Spec, workloadID string) {
	rt, ok := m.runtimeFor(spec.Runtime)
	if !ok {
		return
	}

	ep := m.openControlInterface(spec)
	loop := workload.NewControlLoop(spec.InstanceName(), rt, m.reporterFor(spec.Name), spec.RestartPolicy)

	m.mu.Lock()
	m.tracked[spec.Name] = &trackedWorkload{loop: loop, spec: spec, endpoint: ep}
	m.mu.Unlock()

	go loop.Resume(m.runCtx, workloadID)
	if ep != nil {
		go m.serveControlInterface(spec.Name, ep)
	}
}

// delete tears down the tracked workload named by del, if any. It
// never blocks the manager's internal mutex across the runtime's
// delete I/O (§5: "held only for the duration of map operations,
// never across I/O").
func (m *Manager) delete(ctx context.Context, del workload.DeletedWorkload) {
	m.mu.Lock()
	tw, ok := m.tracked[del.Name]
	if ok {
		delete(m.tracked, del.Name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if tw.endpoint != nil {
		tw.endpoint.Close()
	}
	if err := tw.loop.Delete(ctx); err != nil {
		log.WithComponent("runtimemanager").Warn().Err(err).Str("workload", del.Name).Msg("runtime delete failed")
	}
	tw.loop.Stop()
}

// openControlInterface creates the FIFO pair for spec's instance, or
// returns nil and logs if creation failed (a file-creation error here
// is not fatal to the control loop itself — the workload simply has
// no Control Interface).
func (m *Manager) openControlInterface(spec workload.Spec) *controlinterface.Endpoint {
	if m.relay == nil {
		return nil
	}
	dir := controlinterface.Dir(m.runFolder, spec.InstanceName().String())
	authz := controlinterface.NewAuthorizer(toRules(spec.ControlInterfaceAccess.AllowRules), toRules(spec.ControlInterfaceAccess.DenyRules))

	ep, err := controlinterface.New(dir, authz, func(req proto.ControlInterfaceRequest) (proto.ControlInterfaceResponse, error) {
		req.RequestID = fmt.Sprintf("%s@%s", spec.Name, req.RequestID)
		resp, err := m.relay(req)
		resp.RequestID = stripWorkloadPrefix(resp.RequestID, spec.Name)
		return resp, err
	})
	if err != nil {
		log.WithComponent("runtimemanager").Error().Err(err).Str("workload", spec.Name).Msg("control interface setup failed")
		return nil
	}
	return ep
}

func (m *Manager) serveControlInterface(name string, ep *controlinterface.Endpoint) {
	// Serve only returns once ctx is cancelled, Close is called, or a
	// non-framing error occurs; an ordinary EOF with no writer attached
	// is handled internally by reopening, so a returned error here is
	// always a genuine shutdown or failure, never routine FIFO traffic.
	if err := ep.Serve(m.runCtx); err != nil {
		log.WithComponent("runtimemanager").Debug().Err(err).Str("workload", name).Msg("control interface endpoint stopped")
	}
}

func toRules(segs [][]string) []controlinterface.Rule {
	rules := make([]controlinterface.Rule, len(segs))
	for i, s := range segs {
		rules[i] = controlinterface.Rule(s)
	}
	return rules
}

// stripWorkloadPrefix removes the "<name>@" request-id prefix the
// endpoint's relay closure added, so the workload sees the id it
// originally sent (§3: "the prefix is stripped before delivery").
func stripWorkloadPrefix(id, name string) string {
	prefix := name + "@"
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		return id[len(prefix):]
	}
	return id
}

// reporterFor wraps the manager's external reporter so every reported
// transition also re-evaluates the dependency scheduler's queue
// (§4.6), without requiring every control loop to know about the
// scheduler itself.
func (m *Manager) reporterFor(name string) workload.Reporter {
	return reporterFunc(func(instance workload.InstanceName, state workload.ExecutionState) {
		if m.reporter != nil {
			m.reporter.Report(instance, state)
		}
		m.Drain(m.runCtx)
	})
}

type reporterFunc func(workload.InstanceName, workload.ExecutionState)

func (f reporterFunc) Report(instance workload.InstanceName, state workload.ExecutionState) {
	f(instance, state)
}
