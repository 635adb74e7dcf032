package transport

import (
	"google.golang.org/grpc"
)

// ServiceName names the single transport service, standing in for the
// protoc-generated service registration this protocol would normally
// use (see pkg/proto's package doc for why codegen is unavailable here).
const ServiceName = "ankaios.v1.Transport"

// sessionMethod is the full gRPC method path for the bidirectional
// Session stream.
const sessionMethod = "/" + ServiceName + "/Session"

// Handler processes one agent's or CLI's session for as long as the
// underlying stream is open. It is invoked server-side for every new
// connection.
type Handler func(session *ServerSession) error

type serviceImpl struct {
	handler Handler
}

func sessionStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	impl := srv.(*serviceImpl)
	return impl.handler(&ServerSession{stream: stream})
}

// ServiceDesc is the hand-written gRPC service descriptor for the
// Session RPC.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       sessionStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ankaios/transport.proto",
}

// Register installs handler as the session handler for s. Only one
// handler may be registered per server.
func Register(s *grpc.Server, handler Handler) {
	s.RegisterService(&ServiceDesc, &serviceImpl{handler: handler})
}
