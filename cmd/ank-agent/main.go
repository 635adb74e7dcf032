// Command ank-agent runs the Ankaios agent (C7): it receives desired-
// state deltas for one agent name from the server, drives the workload
// control loops (C5) gated by the dependency scheduler (C6) against a
// containerd runtime connector, and reports execution-state changes
// back upstream.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankaios-go/ankaios/pkg/desiredstate"
	"github.com/ankaios-go/ankaios/pkg/log"
	"github.com/ankaios-go/ankaios/pkg/metrics"
	"github.com/ankaios-go/ankaios/pkg/proto"
	"github.com/ankaios-go/ankaios/pkg/runtime"
	"github.com/ankaios-go/ankaios/pkg/runtimemanager"
	"github.com/ankaios-go/ankaios/pkg/scheduler"
	"github.com/ankaios-go/ankaios/pkg/security"
	"github.com/ankaios-go/ankaios/pkg/state"
	"github.com/ankaios-go/ankaios/pkg/transport"
	"github.com/ankaios-go/ankaios/pkg/workload"
)

const protocolVersion = "0.1.0"
const controlInterfaceTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:     "ank-agent",
	Short:   "Ankaios agent: runs the workloads assigned to this node",
	Version: protocolVersion,
	RunE:    runAgent,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("name", "", "Agent name, unique cluster-wide (required)")
	flags.String("server-addr", "127.0.0.1:25551", "Server address to dial")
	flags.String("run-folder", "/tmp/ankaios/agent", "Base directory for Control Interface FIFO pairs")
	flags.String("containerd-socket", runtime.DefaultSocketPath, "containerd socket path")
	flags.String("metrics-addr", "127.0.0.1:9091", "Address to serve Prometheus metrics on")
	flags.String("ca-cert", "", "PEM-encoded CA certificate")
	flags.String("cert", "", "PEM-encoded client certificate")
	flags.String("key", "", "PEM-encoded client key")
	flags.Bool("insecure", false, "Disable mTLS and dial in plaintext (development only)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	_ = rootCmd.MarkFlagRequired("name")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	serverAddr, _ := cmd.Flags().GetString("server-addr")
	runFolder, _ := cmd.Flags().GetString("run-folder")
	socketPath, _ := cmd.Flags().GetString("containerd-socket")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	logger := log.WithAgentName(name)

	if !workload.ValidName(name) {
		return fmt.Errorf("invalid agent name %q", name)
	}

	tlsConfig, err := loadClientTLS(cmd)
	if err != nil {
		return fmt.Errorf("resolve TLS material: %w", err)
	}

	connector, err := runtime.NewContainerdConnector(socketPath)
	if err != nil {
		return fmt.Errorf("connect to containerd: %w", err)
	}
	defer connector.Close()

	metrics.SetCriticalComponents("transport", "containerd")
	metrics.RegisterComponent("containerd", true, "")

	a := newAgent(name, runFolder, connector)
	a.collector.Start()
	defer a.collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- a.run(ctx, serverAddr, tlsConfig) }()
	logger.Info().Str("server", serverAddr).Msg("ankaios agent started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
		cancel()
		a.manager.Close()
		_ = metricsSrv.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

func loadClientTLS(cmd *cobra.Command) (*tls.Config, error) {
	caCert, _ := cmd.Flags().GetString("ca-cert")
	certPath, _ := cmd.Flags().GetString("cert")
	keyPath, _ := cmd.Flags().GetString("key")
	insecureFlag, _ := cmd.Flags().GetBool("insecure")

	var mat security.Material
	var err error
	if caCert != "" {
		if mat.CACert, err = os.ReadFile(caCert); err != nil {
			return nil, err
		}
	}
	if certPath != "" {
		if mat.Cert, err = os.ReadFile(certPath); err != nil {
			return nil, err
		}
	}
	if keyPath != "" {
		if mat.Key, err = os.ReadFile(keyPath); err != nil {
			return nil, err
		}
	}

	mode, err := security.ResolveMode(mat, insecureFlag)
	if err != nil {
		return nil, err
	}
	if mode == security.TLSModeInsecure {
		return nil, nil
	}
	return security.ClientTLSConfig(mat)
}

// agent wires the transport session, the local cross-agent state
// mirror, the dependency scheduler, and the runtime manager together,
// and relays Control Interface requests over the active session.
type agent struct {
	name      string
	states    *state.Store
	manager   *runtimemanager.Manager
	collector *metrics.Collector

	mu            sync.Mutex
	session       *transport.ClientSession
	gotFirstDelta bool
	pending       map[string]chan proto.ControlInterfaceResponse
}

func newAgent(name, runFolder string, connector *runtime.ContainerdConnector) *agent {
	states := state.New(nil)
	queue := scheduler.NewQueue(states.Global())

	a := &agent{
		name:      name,
		states:    states,
		collector: metrics.NewCollector(nil, queue),
		pending:   make(map[string]chan proto.ControlInterfaceResponse),
	}

	reporter := reporterFunc(func(instance workload.InstanceName, st workload.ExecutionState) {
		a.states.Report(name, instance.WorkloadName, st)
		a.sendWorkloadState(instance.WorkloadName, st)
	})
	a.manager = runtimemanager.New(name, runFolder, queue, reporter, a.relay)
	a.manager.RegisterRuntime("containerd", connector)
	return a
}

type reporterFunc func(workload.InstanceName, workload.ExecutionState)

func (f reporterFunc) Report(instance workload.InstanceName, st workload.ExecutionState) {
	f(instance, st)
}

// run dials the server and serves the session until ctx is cancelled,
// reconnecting (via transport.DialAgent's own 1s retry loop) whenever
// the session drops.
func (a *agent) run(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	logger := log.WithAgentName(a.name)
	for {
		sess, err := transport.DialAgent(ctx, addr, tlsConfig)
		if err != nil {
			return err
		}

		if err := sess.Send(proto.ToServer{Hello: &proto.AgentHello{AgentName: a.name, ProtocolVersion: protocolVersion}}); err != nil {
			sess.Close()
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		a.mu.Lock()
		a.session = sess
		a.gotFirstDelta = false
		a.mu.Unlock()
		metrics.TransportReconnectsTotal.Inc()
		metrics.RegisterComponent("transport", true, "")

		err = a.serve(ctx, sess)

		a.mu.Lock()
		a.session = nil
		a.mu.Unlock()
		sess.Close()
		metrics.RegisterComponent("transport", false, "session disconnected")

		if ctx.Err() != nil {
			return nil
		}
		logger.Warn().Err(err).Msg("session ended, reconnecting")
	}
}

func (a *agent) serve(ctx context.Context, sess *transport.ClientSession) error {
	for {
		msg, err := sess.Recv()
		if err != nil {
			return err
		}
		a.dispatch(ctx, msg)
	}
}

func (a *agent) dispatch(ctx context.Context, msg proto.FromServer) {
	switch {
	case msg.UpdateWorkload != nil:
		a.handleUpdateWorkload(ctx, *msg.UpdateWorkload)
	case msg.WorkloadState != nil:
		a.handleWorkloadState(*msg.WorkloadState)
		a.manager.Drain(ctx)
	case msg.ControlInterfaceResp != nil:
		a.handleControlInterfaceResp(*msg.ControlInterfaceResp)
	case msg.AgentGone != nil:
		// Another agent dropped off; nothing to act on locally — this
		// agent's own control loops are unaffected.
	}
}

func (a *agent) handleUpdateWorkload(ctx context.Context, u proto.UpdateWorkloadSpec) {
	logger := log.WithAgentName(a.name)

	added, err := desiredstate.DecodeSpecs(u.AddedWorkloads)
	if err != nil {
		logger.Error().Err(err).Msg("decode added workloads")
		return
	}
	deleted, err := desiredstate.DecodeDeleted(u.DeletedWorkloads)
	if err != nil {
		logger.Error().Err(err).Msg("decode deleted workloads")
		return
	}

	a.mu.Lock()
	first := !a.gotFirstDelta
	a.gotFirstDelta = true
	a.mu.Unlock()

	if first {
		a.manager.ApplyInitialDelta(ctx, added)
		return
	}
	a.manager.ApplyDelta(ctx, added, deleted)
}

func (a *agent) handleWorkloadState(u proto.UpdateWorkloadState) {
	for _, e := range u.States {
		a.states.Report(u.AgentName, e.InstanceName, fromWireState(e.State))
	}
}

func (a *agent) handleControlInterfaceResp(resp proto.ControlInterfaceResponse) {
	a.mu.Lock()
	ch, ok := a.pending[resp.RequestID]
	if ok {
		delete(a.pending, resp.RequestID)
	}
	a.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (a *agent) sendWorkloadState(name string, st workload.ExecutionState) {
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()
	if sess == nil {
		return
	}
	msg := proto.ToServer{WorkloadState: &proto.UpdateWorkloadState{
		AgentName: a.name,
		States:    []proto.WorkloadStateEntry{{InstanceName: name, State: toWireState(st)}},
	}}
	if err := sess.Send(msg); err != nil {
		log.WithAgentName(a.name).Warn().Err(err).Str("workload", name).Msg("failed to report workload state")
	}
}

// relay implements runtimemanager.RelayFunc: it forwards an authorized
// Control Interface request over the active session and blocks for
// the matching response, correlated by RequestID.
func (a *agent) relay(req proto.ControlInterfaceRequest) (proto.ControlInterfaceResponse, error) {
	ch := make(chan proto.ControlInterfaceResponse, 1)

	a.mu.Lock()
	a.pending[req.RequestID] = ch
	sess := a.session
	a.mu.Unlock()

	if sess == nil {
		a.mu.Lock()
		delete(a.pending, req.RequestID)
		a.mu.Unlock()
		return proto.ControlInterfaceResponse{}, fmt.Errorf("ank-agent: no active session to relay control interface request")
	}

	if err := sess.Send(proto.ToServer{ControlInterface: &req}); err != nil {
		a.mu.Lock()
		delete(a.pending, req.RequestID)
		a.mu.Unlock()
		return proto.ControlInterfaceResponse{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(controlInterfaceTimeout):
		a.mu.Lock()
		delete(a.pending, req.RequestID)
		a.mu.Unlock()
		return proto.ControlInterfaceResponse{}, fmt.Errorf("ank-agent: control interface request %s timed out", req.RequestID)
	}
}

func toWireState(s workload.ExecutionState) proto.ExecutionState {
	return proto.ExecutionState{Category: string(s.Category), Substate: string(s.Substate), Additional: s.Additional}
}

func fromWireState(s proto.ExecutionState) workload.ExecutionState {
	return workload.ExecutionState{Category: workload.StateCategory(s.Category), Substate: workload.Substate(s.Substate), Additional: s.Additional}
}
