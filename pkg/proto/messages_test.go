package proto

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentHelloRoundTrip(t *testing.T) {
	m := AgentHello{AgentName: "agent_A", ProtocolVersion: "0.1.0"}
	decoded, err := UnmarshalAgentHello(m.Marshal())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestUpdateWorkloadStateRoundTrip(t *testing.T) {
	m := UpdateWorkloadState{
		AgentName: "agent_A",
		States: []WorkloadStateEntry{
			{InstanceName: "nginx.abcd", State: ExecutionState{Category: "Running", Substate: "Ok"}},
			{InstanceName: "redis.efgh", State: ExecutionState{Category: "Pending", Substate: "Starting"}},
		},
	}
	decoded, err := UnmarshalUpdateWorkloadState(m.Marshal())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestUpdateStateRequestRoundTrip(t *testing.T) {
	m := UpdateStateRequest{
		RequestID:    "req-1",
		DesiredState: []byte{0x01, 0x02, 0x03},
		UpdateMask:   []string{"desiredState.workloads.a", "desiredState.workloads.b"},
	}
	decoded, err := UnmarshalUpdateStateRequest(m.Marshal())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestToServerEnvelopeRoundTripSelectsCorrectVariant(t *testing.T) {
	hello := AgentHello{AgentName: "agent_A", ProtocolVersion: "0.1.0"}
	m := ToServer{Hello: &hello}

	decoded, err := UnmarshalToServer(m.Marshal())
	require.NoError(t, err)
	require.NotNil(t, decoded.Hello)
	assert.Equal(t, hello, *decoded.Hello)
	assert.Nil(t, decoded.WorkloadState)
	assert.Nil(t, decoded.UpdateStateRequest)
}

func TestFromServerEnvelopeRoundTrip(t *testing.T) {
	resp := ControlInterfaceResponse{RequestID: "req-1", Payload: []byte("ok")}
	m := FromServer{ControlInterfaceResp: &resp}

	decoded, err := UnmarshalFromServer(m.Marshal())
	require.NoError(t, err)
	require.NotNil(t, decoded.ControlInterfaceResp)
	assert.Equal(t, resp, *decoded.ControlInterfaceResp)
	assert.Nil(t, decoded.AgentGone)
}

func TestUpdateStateSuccessRoundTrip(t *testing.T) {
	m := UpdateStateSuccess{RequestID: "req-1", AddedWorkloads: []string{"a", "b"}, DeletedWorkloads: []string{"c"}}
	decoded, err := UnmarshalUpdateStateSuccess(m.Marshal())
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestFromServerWorkloadStateRoundTrip(t *testing.T) {
	ws := UpdateWorkloadState{
		AgentName: "agent_A",
		States:    []WorkloadStateEntry{{InstanceName: "nginx", State: ExecutionState{Category: "Running", Substate: "Ok"}}},
	}
	m := FromServer{WorkloadState: &ws}

	decoded, err := UnmarshalFromServer(m.Marshal())
	require.NoError(t, err)
	require.NotNil(t, decoded.WorkloadState)
	assert.Equal(t, ws, *decoded.WorkloadState)
	assert.Nil(t, decoded.UpdateWorkload)
}

func TestWriteReadDelimitedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello control interface")

	require.NoError(t, WriteDelimited(&buf, payload))

	got, err := ReadDelimited(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadDelimitedMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDelimited(&buf, []byte("first")))
	require.NoError(t, WriteDelimited(&buf, []byte("second")))

	r := bufio.NewReader(&buf)
	first, err := ReadDelimited(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), first)

	second, err := ReadDelimited(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), second)
}

func TestReadDelimitedCleanEOFBeforeVarintStarts(t *testing.T) {
	_, err := ReadDelimited(bufio.NewReader(bytes.NewReader(nil)))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadDelimitedVarintPastTenBytesIsInvalidVarint(t *testing.T) {
	// 10 bytes, every one with the continuation bit set: the varint
	// never terminates within the 10-byte bound (§4.1).
	buf := bytes.Repeat([]byte{0x80}, 10)
	_, err := ReadDelimited(bufio.NewReader(bytes.NewReader(buf)))
	assert.ErrorIs(t, err, ErrInvalidVarint)
}

func TestReadDelimitedTruncatedVarintIsUnexpectedEOF(t *testing.T) {
	// A continuation byte with nothing following it: the stream ends
	// mid-varint, after at least one byte was already consumed.
	buf := []byte{0x80}
	_, err := ReadDelimited(bufio.NewReader(bytes.NewReader(buf)))
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestReadDelimitedTruncatedPayloadIsUnexpectedEOF(t *testing.T) {
	var full bytes.Buffer
	require.NoError(t, WriteDelimited(&full, []byte("hello")))
	truncated := full.Bytes()[:full.Len()-2]

	_, err := ReadDelimited(bufio.NewReader(bytes.NewReader(truncated)))
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestReadDelimitedRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	length := uint64(maxFrameSize) + 1
	var lenBuf []byte
	for {
		b := byte(length & 0x7f)
		length >>= 7
		if length != 0 {
			b |= 0x80
		}
		lenBuf = append(lenBuf, b)
		if length == 0 {
			break
		}
	}
	buf.Write(lenBuf)

	_, err := ReadDelimited(bufio.NewReader(&buf))
	assert.Error(t, err)
}
