package runtime

import (
	"testing"

	"github.com/ankaios-go/ankaios/pkg/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRuntimeConfig(t *testing.T) {
	cfg, err := parseRuntimeConfig("image=docker.io/library/nginx:latest;cmd=/start.sh --foo;env=FOO=bar")
	require.NoError(t, err)
	assert.Equal(t, "docker.io/library/nginx:latest", cfg.image)
	assert.Equal(t, []string{"/start.sh", "--foo"}, cfg.cmd)
	assert.Equal(t, []string{"FOO=bar"}, cfg.env)
}

func TestParseRuntimeConfigRequiresImage(t *testing.T) {
	_, err := parseRuntimeConfig("cmd=/start.sh")
	assert.Error(t, err)
}

func TestParseRuntimeConfigRejectsMalformedField(t *testing.T) {
	_, err := parseRuntimeConfig("image")
	assert.Error(t, err)
}

func TestContainerIDReplacesDotsFromInstanceName(t *testing.T) {
	instance := workload.InstanceName{WorkloadName: "nginx", Agent: "agent_A", ConfigHash: "deadbeef"}
	id := containerID(instance)
	assert.Equal(t, "nginx-deadbeef", id)
	assert.NotContains(t, id, ".")
}

func TestSplitContainerIDRoundTripsThroughConfigHash(t *testing.T) {
	spec := workload.Spec{Name: "nginx", Agent: "agent_A", RuntimeConfig: "image=nginx"}
	id := containerID(spec.InstanceName())

	name, hash, ok := splitContainerID(id)
	require.True(t, ok)
	assert.Equal(t, "nginx", name)
	assert.Equal(t, spec.ConfigHash(), hash)
}

func TestSplitContainerIDRejectsShortID(t *testing.T) {
	_, _, ok := splitContainerID("too-short")
	assert.False(t, ok)
}
