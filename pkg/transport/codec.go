// Package transport implements the single bidirectional transport
// session (C2) that carries every ToServer/FromServer envelope
// between an agent (or the CLI) and the server, over gRPC streaming.
package transport

import "google.golang.org/grpc/encoding"

const codecName = "ankaios-raw"

// rawFrame is the only value ankaios-raw ever marshals: an
// already protobuf-wire-encoded buffer produced by pkg/proto. Framing
// is handled entirely by pkg/proto's message types; this codec exists
// only so gRPC's stream plumbing has somewhere to hand off bytes
// without requiring generated proto.Message implementations.
type rawFrame []byte

type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	return []byte(v.(rawFrame)), nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	*v.(*rawFrame) = append(rawFrame(nil), data...)
	return nil
}

func (rawCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}
