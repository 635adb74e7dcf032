package controlinterface

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/ankaios-go/ankaios/pkg/log"
	"github.com/ankaios-go/ankaios/pkg/proto"
)

// Request and Response file names within an instance's Control
// Interface directory, matching the convention workloads are told to
// open.
const (
	RequestFIFO  = "input"
	ResponseFIFO = "output"
)

// Dir returns the Control Interface directory path for instanceName
// under root (the agent's run directory), following the
// "<workload_name>.<config_hash>" naming convention.
func Dir(root, instanceName string) string {
	return filepath.Join(root, instanceName)
}

// Endpoint is one workload instance's Control Interface: a pair of
// named pipes mounted into the workload's filesystem, an authorizer
// scoping what it may ask for, and the channel back to the agent's
// runtime manager that relays authorized requests to the server.
type Endpoint struct {
	dir        string
	authorizer *Authorizer
	relay      func(req proto.ControlInterfaceRequest) (proto.ControlInterfaceResponse, error)

	mu  sync.Mutex
	in  *os.File // "input": server→workload, responses are written here
	out *os.File // "output": workload→server, requests are read from here

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates the Control Interface directory and its FIFO pair at
// dir, ready for Serve to be called. relay forwards an authorized
// request to the server and blocks for its response.
func New(dir string, authorizer *Authorizer, relay func(proto.ControlInterfaceRequest) (proto.ControlInterfaceResponse, error)) (*Endpoint, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("controlinterface: create directory %s: %w", dir, err)
	}

	reqPath := filepath.Join(dir, RequestFIFO)
	respPath := filepath.Join(dir, ResponseFIFO)

	for _, p := range []string{reqPath, respPath} {
		if err := syscall.Mkfifo(p, 0o600); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("controlinterface: create fifo %s: %w", p, err)
		}
	}

	return &Endpoint{dir: dir, authorizer: authorizer, relay: relay, closed: make(chan struct{})}, nil
}

// Close removes the Control Interface directory and its pipes, and
// stops Serve's reopen-on-EOF loop from resurrecting them.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })

	e.mu.Lock()
	in, out := e.in, e.out
	e.mu.Unlock()
	if in != nil {
		in.Close()
	}
	if out != nil {
		out.Close()
	}
	return os.RemoveAll(e.dir)
}

// Serve opens both FIFOs (blocking until the workload opens its ends)
// and processes requests until ctx is cancelled, Close is called, or a
// non-framing error occurs. "input" is server→workload, so the
// endpoint writes responses to that path; "output" is workload→server,
// so the endpoint reads requests from that path (§4.4, §6).
//
// A request read that hits a framing error — a clean EOF because no
// writer is currently attached, a truncated frame, or an invalid
// varint — is not fatal: the endpoint reopens "output" and keeps
// serving, since a FIFO reader must tolerate its writer closing and
// reopening (§4.1, §7).
func (e *Endpoint) Serve(ctx context.Context) error {
	reqPath := filepath.Join(e.dir, RequestFIFO)
	respPath := filepath.Join(e.dir, ResponseFIFO)

	out, err := os.OpenFile(reqPath, os.O_WRONLY, os.ModeNamedPipe)
	if err != nil {
		return fmt.Errorf("controlinterface: open input fifo: %w", err)
	}
	e.setIn(out)

	in, err := openReopenable(respPath)
	if err != nil {
		out.Close()
		return fmt.Errorf("controlinterface: open output fifo: %w", err)
	}
	e.setOut(in)

	reader := bufio.NewReader(in)
	logger := log.WithComponent("controlinterface")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return nil
		default:
		}

		frame, err := proto.ReadDelimited(reader)
		if err != nil {
			if isFramingError(err) {
				in.Close()
				in, err = openReopenable(respPath)
				if err != nil {
					return fmt.Errorf("controlinterface: reopen output fifo: %w", err)
				}
				e.setOut(in)
				reader = bufio.NewReader(in)
				continue
			}
			return fmt.Errorf("controlinterface: read request: %w", err)
		}

		req, err := proto.UnmarshalControlInterfaceRequest(frame)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping malformed control interface request")
			continue
		}

		resp := e.handle(req)
		if err := proto.WriteDelimited(out, resp.Marshal()); err != nil {
			return fmt.Errorf("controlinterface: write response: %w", err)
		}
	}
}

// isFramingError reports whether err is one of the recoverable framing
// errors a FIFO reader retries past by reopening (§7): a clean EOF, a
// truncated frame, or an over-long varint.
func isFramingError(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, proto.ErrUnexpectedEOF) || errors.Is(err, proto.ErrInvalidVarint)
}

// openReopenable opens path for reading, blocking until a writer
// attaches — the same semantics a freshly (re)created request FIFO
// needs on every reopen.
func openReopenable(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, os.ModeNamedPipe)
}

func (e *Endpoint) setIn(f *os.File) {
	e.mu.Lock()
	e.in = f
	e.mu.Unlock()
}

func (e *Endpoint) setOut(f *os.File) {
	e.mu.Lock()
	e.out = f
	e.mu.Unlock()
}

func (e *Endpoint) handle(req proto.ControlInterfaceRequest) proto.ControlInterfaceResponse {
	path := parsePath(req.Payload)
	if !e.authorizer.Authorize(path) {
		return proto.ControlInterfaceResponse{RequestID: req.RequestID, Error: "Access denied"}
	}

	resp, err := e.relay(req)
	if err != nil {
		return proto.ControlInterfaceResponse{RequestID: req.RequestID, Error: err.Error()}
	}
	resp.RequestID = req.RequestID
	return resp
}

// parsePath extracts the dotted field path a request's payload
// addresses, so the authorizer can evaluate it. The wire-level request
// payload is opaque beyond its first line: by convention producers
// prefix it with "<path>\n" before the operation-specific body.
func parsePath(payload []byte) []string {
	for i, b := range payload {
		if b == '\n' {
			return ParseRule(string(payload[:i]))
		}
	}
	return ParseRule(string(payload))
}
