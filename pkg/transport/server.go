package transport

import (
	"google.golang.org/grpc"

	"github.com/ankaios-go/ankaios/pkg/proto"
)

// ServerSession is one connected peer's bidirectional stream, from the
// server's point of view.
type ServerSession struct {
	stream grpc.ServerStream
}

// Send writes one FromServer envelope to the peer.
func (s *ServerSession) Send(msg proto.FromServer) error {
	return s.stream.SendMsg(rawFrame(msg.Marshal()))
}

// Recv blocks for the next ToServer envelope from the peer.
func (s *ServerSession) Recv() (proto.ToServer, error) {
	var frame rawFrame
	if err := s.stream.RecvMsg(&frame); err != nil {
		return proto.ToServer{}, err
	}
	return proto.UnmarshalToServer(frame)
}
