package controlinterface

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ankaios-go/ankaios/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathExtractsFirstLine(t *testing.T) {
	assert.Equal(t, []string{"desiredState", "workloads", "nginx"}, parsePath([]byte("desiredState.workloads.nginx\nbody")))
	assert.Equal(t, []string{"desiredState", "workloads", "nginx"}, parsePath([]byte("desiredState.workloads.nginx")))
}

func TestHandleDeniesUnauthorizedPath(t *testing.T) {
	e := &Endpoint{
		authorizer: NewAuthorizer(nil, nil),
		relay: func(req proto.ControlInterfaceRequest) (proto.ControlInterfaceResponse, error) {
			t.Fatal("relay must not be called for a denied request")
			return proto.ControlInterfaceResponse{}, nil
		},
	}

	resp := e.handle(proto.ControlInterfaceRequest{RequestID: "r1", Payload: []byte("desiredState.workloads.nginx")})
	assert.Equal(t, "Access denied", resp.Error)
	assert.Equal(t, "r1", resp.RequestID)
}

func TestHandleRelaysAuthorizedRequest(t *testing.T) {
	relayCalled := false
	e := &Endpoint{
		authorizer: NewAuthorizer([]Rule{ParseRule("desiredState.workloads.*")}, nil),
		relay: func(req proto.ControlInterfaceRequest) (proto.ControlInterfaceResponse, error) {
			relayCalled = true
			return proto.ControlInterfaceResponse{Payload: []byte("ok")}, nil
		},
	}

	resp := e.handle(proto.ControlInterfaceRequest{RequestID: "r2", Payload: []byte("desiredState.workloads.nginx\nbody")})
	assert.True(t, relayCalled)
	assert.Equal(t, "r2", resp.RequestID)
	assert.Equal(t, []byte("ok"), resp.Payload)
	assert.Empty(t, resp.Error)
}

func TestHandleSurfacesRelayError(t *testing.T) {
	e := &Endpoint{
		authorizer: NewAuthorizer([]Rule{ParseRule("desiredState.workloads.*")}, nil),
		relay: func(req proto.ControlInterfaceRequest) (proto.ControlInterfaceResponse, error) {
			return proto.ControlInterfaceResponse{}, errors.New("boom")
		},
	}

	resp := e.handle(proto.ControlInterfaceRequest{RequestID: "r3", Payload: []byte("desiredState.workloads.nginx")})
	assert.Equal(t, "boom", resp.Error)
}

func TestNewCreatesDirectoryAndFifos(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nginx.deadbeef")
	e, err := New(dir, NewAuthorizer(nil, nil), nil)
	require.NoError(t, err)
	defer e.Close()

	for _, name := range []string{RequestFIFO, ResponseFIFO} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&os.ModeNamedPipe)
	}
}

func TestDirJoinsInstanceName(t *testing.T) {
	assert.Equal(t, filepath.Join("/run/ankaios/control_interface", "nginx.deadbeef"), Dir("/run/ankaios/control_interface", "nginx.deadbeef"))
}
