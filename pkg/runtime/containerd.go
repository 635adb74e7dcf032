// Package runtime adapts the workload control loop's RuntimeConnector
// interface onto containerd, the one concrete workload execution
// backend this module ships.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/ankaios-go/ankaios/pkg/log"
	"github.com/ankaios-go/ankaios/pkg/workload"
)

const (
	// Namespace isolates Ankaios-managed containers from anything else
	// sharing the containerd socket.
	Namespace = "ankaios"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	stopGracePeriod = 10 * time.Second
)

// ContainerdConnector implements workload.RuntimeConnector against a
// containerd daemon. A workload's RuntimeConfig is treated as an
// opaque string by every other component; here it is parsed as a
// minimal "key=value" list (image, cmd, env entries) since containerd
// is the only concrete backend that needs to understand it.
type ContainerdConnector struct {
	client *containerd.Client
}

// NewContainerdConnector dials socketPath, defaulting to DefaultSocketPath.
func NewContainerdConnector(socketPath string) (*ContainerdConnector, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: connect to containerd: %w", err)
	}
	return &ContainerdConnector{client: client}, nil
}

// Close releases the containerd client connection.
func (r *ContainerdConnector) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// runtimeConfig is the parsed form of a workload's opaque RuntimeConfig
// string for the containerd backend: semicolon-separated
// "key=value" pairs, e.g. "image=docker.io/library/nginx:latest;cmd=/start.sh".
type runtimeConfig struct {
	image string
	cmd   []string
	env   []string
}

func parseRuntimeConfig(raw string) (runtimeConfig, error) {
	var cfg runtimeConfig
	for _, field := range strings.Split(raw, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return runtimeConfig{}, fmt.Errorf("runtime: malformed runtime_config field %q", field)
		}
		key, value := kv[0], kv[1]
		switch key {
		case "image":
			cfg.image = value
		case "cmd":
			cfg.cmd = strings.Fields(value)
		case "env":
			cfg.env = append(cfg.env, value)
		}
	}
	if cfg.image == "" {
		return runtimeConfig{}, fmt.Errorf("runtime: runtime_config missing required %q field", "image")
	}
	return cfg, nil
}

// containerID derives a containerd container ID from a workload
// instance name. It must be a valid containerd ID: instance names
// already satisfy the [A-Za-z0-9_.-] alphabet.
func containerID(instance workload.InstanceName) string {
	return strings.ReplaceAll(instance.String(), ".", "-")
}

// Create pulls the image named in spec's runtime config, creates a new
// containerd container and task, and starts it.
func (r *ContainerdConnector) Create(ctx context.Context, spec workload.Spec) (string, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	cfg, err := parseRuntimeConfig(spec.RuntimeConfig)
	if err != nil {
		return "", err
	}

	image, err := r.client.Pull(ctx, cfg.image, containerd.WithPullUnpack)
	if err != nil {
		return "", fmt.Errorf("runtime: pull image %s: %w", cfg.image, err)
	}

	id := containerID(spec.InstanceName())

	opts := []oci.SpecOpts{oci.WithImageConfig(image)}
	if len(cfg.env) > 0 {
		opts = append(opts, oci.WithEnv(cfg.env))
	}
	if len(cfg.cmd) > 0 {
		opts = append(opts, oci.WithProcessArgs(cfg.cmd...))
	}

	container, err := r.client.NewContainer(
		ctx, id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("runtime: create container %s: %w", id, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return "", fmt.Errorf("runtime: create task for %s: %w", id, err)
	}
	if err := task.Start(ctx); err != nil {
		return "", fmt.Errorf("runtime: start task for %s: %w", id, err)
	}

	log.WithComponent("runtime").Info().Str("workload_id", id).Str("image", cfg.image).Msg("workload created")
	return id, nil
}

// Delete stops and removes the container identified by workloadID,
// sending SIGTERM and escalating to SIGKILL after stopGracePeriod.
func (r *ContainerdConnector) Delete(ctx context.Context, instance workload.InstanceName, workloadID string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	if workloadID == "" {
		workloadID = containerID(instance)
	}

	container, err := r.client.LoadContainer(ctx, workloadID)
	if err != nil {
		return nil // already gone
	}

	if task, err := container.Task(ctx, nil); err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopGracePeriod)
		defer cancel()

		if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
			return fmt.Errorf("runtime: signal task for %s: %w", workloadID, err)
		}
		statusC, err := task.Wait(stopCtx)
		if err != nil {
			return fmt.Errorf("runtime: wait for task %s: %w", workloadID, err)
		}
		select {
		case <-statusC:
		case <-stopCtx.Done():
			if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
				return fmt.Errorf("runtime: force kill task %s: %w", workloadID, err)
			}
		}
		if _, err := task.Delete(ctx); err != nil {
			return fmt.Errorf("runtime: delete task %s: %w", workloadID, err)
		}
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("runtime: delete container %s: %w", workloadID, err)
	}
	return nil
}

// ReusableInstance is a workload instance the runtime connector found
// already present (from a previous agent process lifetime), which the
// runtime manager's initial delta (§4.7) may resume instead of
// recreating.
type ReusableInstance struct {
	Instance   workload.InstanceName
	WorkloadID string
}

// splitContainerID reverses containerID: the config hash is always a
// 64-character hex SHA-256 digest, so the workload name is whatever
// precedes the final "-<64 hex chars>" suffix.
func splitContainerID(id string) (name, hash string, ok bool) {
	const hashLen = 64
	if len(id) < hashLen+2 || id[len(id)-hashLen-1] != '-' {
		return "", "", false
	}
	return id[:len(id)-hashLen-1], id[len(id)-hashLen:], true
}

// ListReusable returns every container in the Ankaios namespace whose
// ID parses as an instance name, stamping each with agent, for the
// runtime manager's initial-delta reconciliation (§4.7 step 2).
// Container IDs carry no agent name, so containers are not filtered by
// agent.
func (r *ContainerdConnector) ListReusable(ctx context.Context, agent string) ([]ReusableInstance, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: list containers: %w", err)
	}

	var out []ReusableInstance
	for _, c := range containers {
		name, hash, ok := splitContainerID(c.ID())
		if !ok {
			continue
		}
		out = append(out, ReusableInstance{
			Instance:   workload.InstanceName{WorkloadName: name, Agent: agent, ConfigHash: hash},
			WorkloadID: c.ID(),
		})
	}
	return out, nil
}

// State samples the containerd task status and maps it onto the
// workload execution-state categories.
func (r *ContainerdConnector) State(ctx context.Context, instance workload.InstanceName, workloadID string) (workload.ExecutionState, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	if workloadID == "" {
		workloadID = containerID(instance)
	}

	container, err := r.client.LoadContainer(ctx, workloadID)
	if err != nil {
		return workload.ExecutionState{}, fmt.Errorf("runtime: load container %s: %w", workloadID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return workload.PendingStarting(), nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return workload.ExecutionState{}, fmt.Errorf("runtime: task status for %s: %w", workloadID, err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused:
		return workload.RunningOk(), nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return workload.SucceededOk(), nil
		}
		return workload.FailedExecFailed(fmt.Sprintf("exit code %d", status.ExitStatus)), nil
	default:
		return workload.PendingStarting(), nil
	}
}
