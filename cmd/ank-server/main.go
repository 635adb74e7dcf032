// Command ank-server runs the Ankaios server (C10): the authoritative
// desired state, routed to connected agents over the transport session
// (C2) and exposed to the ank CLI for reads and updates.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ankaios-go/ankaios/pkg/events"
	"github.com/ankaios-go/ankaios/pkg/log"
	"github.com/ankaios-go/ankaios/pkg/metrics"
	"github.com/ankaios-go/ankaios/pkg/security"
	"github.com/ankaios-go/ankaios/pkg/server"
	"github.com/ankaios-go/ankaios/pkg/transport"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "ank-server",
	Short:   "Ankaios server: holds the cluster's desired state and routes it to agents",
	Version: version,
	RunE:    runServer,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("bind-addr", "0.0.0.0:25551", "Address to listen on for agent and CLI sessions")
	flags.String("metrics-addr", "127.0.0.1:9090", "Address to serve Prometheus metrics on")
	flags.String("ca-cert", "", "PEM-encoded CA certificate")
	flags.String("cert", "", "PEM-encoded server certificate")
	flags.String("key", "", "PEM-encoded server key")
	flags.Bool("insecure", false, "Disable mTLS and serve in plaintext (development only)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	logger := log.WithComponent("ank-server")

	creds, err := serverCredentials(cmd)
	if err != nil {
		return fmt.Errorf("resolve TLS material: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	router := server.New(broker)

	lis, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", bindAddr, err)
	}

	grpcServer := grpc.NewServer(grpc.Creds(creds))
	transport.Register(grpcServer, router.HandleSession)

	metrics.SetVersion(version)
	metrics.RegisterComponent("transport", true, "")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	errCh := make(chan error, 1)
	go func() { errCh <- grpcServer.Serve(lis) }()
	logger.Info().Str("addr", bindAddr).Msg("ankaios server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
		grpcServer.GracefulStop()
		_ = metricsSrv.Close()
		return nil
	case err := <-errCh:
		return fmt.Errorf("grpc server error: %w", err)
	}
}

func serverCredentials(cmd *cobra.Command) (credentials.TransportCredentials, error) {
	mat, insecureFlag, err := readMaterial(cmd)
	if err != nil {
		return nil, err
	}

	mode, err := security.ResolveMode(mat, insecureFlag)
	if err != nil {
		return nil, err
	}
	if mode == security.TLSModeInsecure {
		return insecure.NewCredentials(), nil
	}

	tlsConfig, err := security.ServerTLSConfig(mat)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(tlsConfig), nil
}

func readMaterial(cmd *cobra.Command) (security.Material, bool, error) {
	caCert, _ := cmd.Flags().GetString("ca-cert")
	certPath, _ := cmd.Flags().GetString("cert")
	keyPath, _ := cmd.Flags().GetString("key")
	insecureFlag, _ := cmd.Flags().GetBool("insecure")

	var mat security.Material
	var err error
	if caCert != "" {
		if mat.CACert, err = os.ReadFile(caCert); err != nil {
			return mat, insecureFlag, err
		}
	}
	if certPath != "" {
		if mat.Cert, err = os.ReadFile(certPath); err != nil {
			return mat, insecureFlag, err
		}
	}
	if keyPath != "" {
		if mat.Key, err = os.ReadFile(keyPath); err != nil {
			return mat, insecureFlag, err
		}
	}
	return mat, insecureFlag, nil
}
