// Command ank is the Ankaios CLI against a running ank-server, over
// the same transport session (C2) an agent uses, identifying itself
// with an empty AgentName so the server treats the connection as a
// CLI session rather than registering it as an agent (§4.10). CLI UX
// and table rendering, and YAML/TOML manifest parsing, are explicit
// out-of-scope external collaborators (§1): the command surface is
// deliberately minimal ("get state", "set state", "apply") and every
// command prints raw JSON rather than a formatted report.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ankaios-go/ankaios/pkg/log"
	"github.com/ankaios-go/ankaios/pkg/proto"
	"github.com/ankaios-go/ankaios/pkg/security"
	"github.com/ankaios-go/ankaios/pkg/transport"
)

const (
	protocolVersion = "0.1.0"
	dialTimeout     = 5 * time.Second
	requestTimeout  = 10 * time.Second
)

var rootCmd = &cobra.Command{
	Use:     "ank",
	Short:   "Ankaios CLI: inspect and change the cluster's desired state",
	Version: protocolVersion,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("server-addr", "127.0.0.1:25551", "ank-server address")
	flags.String("ca-cert", "", "PEM-encoded CA certificate")
	flags.String("cert", "", "PEM-encoded client certificate")
	flags.String("key", "", "PEM-encoded client key")
	flags.Bool("insecure", false, "Disable mTLS and dial in plaintext (development only)")
	flags.String("log-level", "error", "Log level (debug, info, warn, error)")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logLevel, _ := cmd.Flags().GetString("log-level")
		log.Init(log.Config{Level: log.Level(logLevel)})
	}

	rootCmd.AddCommand(getCmd, setCmd, applyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadClientTLS(cmd *cobra.Command) (*tls.Config, error) {
	caCert, _ := cmd.Flags().GetString("ca-cert")
	certPath, _ := cmd.Flags().GetString("cert")
	keyPath, _ := cmd.Flags().GetString("key")
	insecureFlag, _ := cmd.Flags().GetBool("insecure")

	var mat security.Material
	var err error
	if caCert != "" {
		if mat.CACert, err = os.ReadFile(caCert); err != nil {
			return nil, err
		}
	}
	if certPath != "" {
		if mat.Cert, err = os.ReadFile(certPath); err != nil {
			return nil, err
		}
	}
	if keyPath != "" {
		if mat.Key, err = os.ReadFile(keyPath); err != nil {
			return nil, err
		}
	}

	mode, err := security.ResolveMode(mat, insecureFlag)
	if err != nil {
		return nil, err
	}
	if mode == security.TLSModeInsecure {
		return nil, nil
	}
	return security.ClientTLSConfig(mat)
}

// dial opens a CLI session against the configured server and
// completes the mandatory Hello handshake with an empty AgentName.
func dial(cmd *cobra.Command) (*transport.ClientSession, error) {
	addr, _ := cmd.Flags().GetString("server-addr")
	tlsConfig, err := loadClientTLS(cmd)
	if err != nil {
		return nil, fmt.Errorf("resolve TLS material: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	sess, err := transport.DialCLI(ctx, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	if err := sess.Send(proto.ToServer{Hello: &proto.AgentHello{ProtocolVersion: protocolVersion}}); err != nil {
		sess.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	return sess, nil
}

func newRequestID() string {
	return uuid.NewString()
}

// roundTrip sends req and blocks until want returns a non-nil
// FromServer field carrying the matching RequestID, discarding any
// unrelated broadcast frames (e.g. WorkloadState deltas) in between.
func roundTrip(sess *transport.ClientSession, req proto.ToServer, want func(proto.FromServer) bool) (proto.FromServer, error) {
	if err := sess.Send(req); err != nil {
		return proto.FromServer{}, fmt.Errorf("send request: %w", err)
	}

	deadline := time.After(requestTimeout)
	for {
		type result struct {
			msg proto.FromServer
			err error
		}
		recvCh := make(chan result, 1)
		go func() {
			msg, err := sess.Recv()
			recvCh <- result{msg, err}
		}()

		select {
		case r := <-recvCh:
			if r.err != nil {
				return proto.FromServer{}, fmt.Errorf("receive response: %w", r.err)
			}
			if want(r.msg) {
				return r.msg, nil
			}
		case <-deadline:
			return proto.FromServer{}, fmt.Errorf("timed out waiting for server response")
		}
	}
}
