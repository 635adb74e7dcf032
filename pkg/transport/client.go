package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ankaios-go/ankaios/pkg/log"
	"github.com/ankaios-go/ankaios/pkg/proto"
)

// reconnectInterval is how long an agent waits between dial attempts
// after its transport session drops or fails to establish.
const reconnectInterval = time.Second

// ClientSession is one side of the bidirectional Session RPC, from an
// agent's or the CLI's point of view.
type ClientSession struct {
	stream grpc.ClientStream
	conn   *grpc.ClientConn
}

// Send writes one ToServer envelope.
func (s *ClientSession) Send(msg proto.ToServer) error {
	return s.stream.SendMsg(rawFrame(msg.Marshal()))
}

// Recv blocks for the next FromServer envelope.
func (s *ClientSession) Recv() (proto.FromServer, error) {
	var frame rawFrame
	if err := s.stream.RecvMsg(&frame); err != nil {
		return proto.FromServer{}, err
	}
	return proto.UnmarshalFromServer(frame)
}

// Close tears down the underlying connection.
func (s *ClientSession) Close() error {
	return s.conn.Close()
}

func dialOnce(ctx context.Context, addr string, tlsConfig *tls.Config, extra ...grpc.DialOption) (*ClientSession, error) {
	var creds credentials.TransportCredentials
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds), grpc.WithBlock()}, extra...)
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], sessionMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: open session stream: %w", err)
	}

	return &ClientSession{stream: stream, conn: conn}, nil
}

// DialCLI opens a single, non-retrying session, since the CLI prefers
// a clear dial error to an agent's indefinite reconnect loop.
func DialCLI(ctx context.Context, addr string, tlsConfig *tls.Config) (*ClientSession, error) {
	return dialOnce(ctx, addr, tlsConfig)
}

// DialAgent opens a session against addr, retrying every
// reconnectInterval until ctx is cancelled or a session is
// established.
func DialAgent(ctx context.Context, addr string, tlsConfig *tls.Config) (*ClientSession, error) {
	for {
		session, err := dialOnce(ctx, addr, tlsConfig)
		if err == nil {
			return session, nil
		}
		log.WithComponent("transport").Warn().Err(err).Str("addr", addr).Msg("session dial failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reconnectInterval):
		}
	}
}
