// Package workload defines the Ankaios workload domain model and the
// per-workload control loop (C5) that drives it against a runtime
// connector.
package workload

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// nameGrammar matches workload names, agent names, and config aliases:
// non-empty, at most 63 characters, [A-Za-z0-9_-].
var nameGrammar = regexp.MustCompile(`^[A-Za-z0-9_-]{1,63}$`)

// ValidName reports whether s satisfies the workload-config grammar.
func ValidName(s string) bool {
	return nameGrammar.MatchString(s)
}

// RestartPolicy controls whether a failed create is retried.
type RestartPolicy string

const (
	RestartNever      RestartPolicy = "Never"
	RestartOnFailure  RestartPolicy = "OnFailure"
	RestartAlways     RestartPolicy = "Always"
)

// AddCondition is the execution-state predicate a dependency must
// satisfy before a workload that depends on it may be created.
type AddCondition string

const (
	AddConditionRunning   AddCondition = "Running"
	AddConditionSucceeded AddCondition = "Succeeded"
	AddConditionFailed    AddCondition = "Failed"
)

// DeleteCondition is the execution-state predicate a dependent must
// satisfy before the workload it depends on may be deleted. Only one
// variant exists today; it is derived, never declared directly.
type DeleteCondition string

const (
	DeleteConditionNotPendingNorRunning DeleteCondition = "NotPendingNorRunning"
)

// File is mounted into a workload's runtime-visible filesystem.
// Invariant: MountPoint is absolute, does not end in "/", and every
// path component after the root is "Normal" (no "..", no empty
// segments).
type File struct {
	MountPoint string
	Text       string
	Base64     string
}

// Validate checks File's mount-point invariant.
func (f File) Validate() error {
	if !strings.HasPrefix(f.MountPoint, "/") {
		return fmt.Errorf("workload: file mount_point %q must be absolute", f.MountPoint)
	}
	if f.MountPoint != "/" && strings.HasSuffix(f.MountPoint, "/") {
		return fmt.Errorf("workload: file mount_point %q must not end in '/'", f.MountPoint)
	}
	for _, part := range strings.Split(strings.TrimPrefix(f.MountPoint, "/"), "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("workload: file mount_point %q has an invalid path component %q", f.MountPoint, part)
		}
	}
	return nil
}

// Content returns the decoded file content, decoding Base64 if Text is
// unset.
func (f File) Content() ([]byte, error) {
	if f.Text != "" || f.Base64 == "" {
		return []byte(f.Text), nil
	}
	return base64.StdEncoding.DecodeString(f.Base64)
}

// ControlInterfaceAccess is the set of allow/deny path-pattern rules a
// workload is granted over the Control Interface (see pkg/controlinterface).
type ControlInterfaceAccess struct {
	AllowRules [][]string
	DenyRules  [][]string
}

// Equal reports whether two access sets contain the same rule lists,
// used to decide Control Interface endpoint reuse (§4.4).
func (a ControlInterfaceAccess) Equal(other ControlInterfaceAccess) bool {
	return ruleSetEqual(a.AllowRules, other.AllowRules) && ruleSetEqual(a.DenyRules, other.DenyRules)
}

func ruleSetEqual(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

// Spec is a workload's desired configuration.
type Spec struct {
	Name                   string
	Agent                  string
	Runtime                string
	RuntimeConfig          string
	RestartPolicy          RestartPolicy
	Dependencies           map[string]AddCondition
	Tags                   map[string]string
	ControlInterfaceAccess ControlInterfaceAccess
	Files                  []File
}

// Equal reports whether two specs are identical in every field C9's
// diff cares about (§4.9: "specs differ" is a whole-spec comparison,
// not merely a config-hash comparison — a dependency, tag, or
// control-interface-access change must surface as an update even when
// RuntimeConfig itself is untouched).
func (s Spec) Equal(other Spec) bool {
	if s.Name != other.Name || s.Agent != other.Agent || s.Runtime != other.Runtime ||
		s.RuntimeConfig != other.RuntimeConfig || s.RestartPolicy != other.RestartPolicy {
		return false
	}
	if !addConditionMapEqual(s.Dependencies, other.Dependencies) {
		return false
	}
	if !stringMapEqual(s.Tags, other.Tags) {
		return false
	}
	if !s.ControlInterfaceAccess.Equal(other.ControlInterfaceAccess) {
		return false
	}
	return filesEqual(s.Files, other.Files)
}

func addConditionMapEqual(a, b map[string]AddCondition) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func stringMapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func filesEqual(a, b []File) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ConfigHash is the hex SHA-256 of the spec's runtime-config bytes,
// used as the third element of an instance name. Any one-byte change
// to RuntimeConfig changes the hash (testable property #9).
func (s Spec) ConfigHash() string {
	sum := sha256.Sum256([]byte(s.RuntimeConfig))
	return hex.EncodeToString(sum[:])
}

// InstanceName uniquely identifies a deployment: two specs sharing
// (Name, Agent) but differing in ConfigHash are distinct instances.
func (s Spec) InstanceName() InstanceName {
	return InstanceName{WorkloadName: s.Name, Agent: s.Agent, ConfigHash: s.ConfigHash()}
}

// InstanceName is the triple identifying a specific deployment.
type InstanceName struct {
	WorkloadName string
	Agent        string
	ConfigHash   string
}

// String renders "<workload_name>.<config_hash>", the Control
// Interface directory-naming convention (§4.4).
func (n InstanceName) String() string {
	return fmt.Sprintf("%s.%s", n.WorkloadName, n.ConfigHash)
}

// DeletedWorkload names a workload slated for deletion, stamped with
// the delete-dependency conditions computed by the delete graph.
type DeletedWorkload struct {
	Name         string
	Agent        string
	Dependencies map[string]DeleteCondition
}

// InstanceName reconstructs the identity of a deleted workload. Note
// DeletedWorkload does not carry a config hash; callers that need the
// exact instance being torn down keep it alongside, as C7 does.
func (d DeletedWorkload) InstanceName(configHash string) InstanceName {
	return InstanceName{WorkloadName: d.Name, Agent: d.Agent, ConfigHash: configHash}
}

// Operation is one pending change against the runtime: a create or a
// delete. An update against a dependency-scheduled workload is always
// split into its own delete and create (see enqueueUpdate in C7) rather
// than represented as a single combined operation here.
type Operation struct {
	Kind   OperationKind
	Create *Spec
	Delete *DeletedWorkload
}

// OperationKind discriminates Operation's active field.
type OperationKind int

const (
	OpCreate OperationKind = iota
	OpDelete
)

// Name returns the workload name the operation concerns.
func (o Operation) Name() string {
	switch o.Kind {
	case OpCreate:
		return o.Create.Name
	case OpDelete:
		return o.Delete.Name
	}
	return ""
}
