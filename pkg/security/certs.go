// Package security builds crypto/tls configurations for the transport
// session (C2). Certificate issuance and the on-disk certificate layout
// are external collaborators; this package only turns already-loaded
// CA/cert/key bytes into a *tls.Config.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// ServerName is the SNI name agents and the CLI dial the server with
// when mTLS is in effect.
const ServerName = "ank-server"

// TLSMode describes which of the two valid (CA, cert, key) /
// insecure combinations a caller selected.
type TLSMode int

const (
	// TLSModeMutual requires CA, cert, and key all present.
	TLSModeMutual TLSMode = iota
	// TLSModeInsecure is selected when none of CA/cert/key are present
	// and the caller explicitly opted into plaintext.
	TLSModeInsecure
)

// Material is the raw PEM-encoded bytes a caller has already loaded.
// The file layout that produced these bytes is out of scope here.
type Material struct {
	CACert []byte
	Cert   []byte
	Key    []byte
}

// ResolveMode implements the decision table in the transport session
// design: mTLS requires all three of CA/cert/key; plaintext requires
// none of them plus an explicit insecure opt-in; any other combination
// is a configuration error reported before dialing.
func ResolveMode(m Material, insecure bool) (TLSMode, error) {
	allPresent := len(m.CACert) > 0 && len(m.Cert) > 0 && len(m.Key) > 0
	nonePresent := len(m.CACert) == 0 && len(m.Cert) == 0 && len(m.Key) == 0

	switch {
	case allPresent:
		return TLSModeMutual, nil
	case nonePresent && insecure:
		return TLSModeInsecure, nil
	case nonePresent && !insecure:
		return 0, fmt.Errorf("security: no TLS material provided and insecure mode not set")
	default:
		return 0, fmt.Errorf("security: partial TLS material provided; CA, cert and key must all be set")
	}
}

// ServerTLSConfig builds a mutual-TLS server configuration requiring and
// verifying client certificates against the given CA.
func ServerTLSConfig(m Material) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(m.Cert, m.Key)
	if err != nil {
		return nil, fmt.Errorf("security: parse server keypair: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(m.CACert) {
		return nil, fmt.Errorf("security: no CA certificates found in PEM input")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLSConfig builds a mutual-TLS client configuration presenting
// the given client certificate and verifying the server against CA,
// with the fixed server-name indication used by the transport session.
func ClientTLSConfig(m Material) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(m.Cert, m.Key)
	if err != nil {
		return nil, fmt.Errorf("security: parse client keypair: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(m.CACert) {
		return nil, fmt.Errorf("security: no CA certificates found in PEM input")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   ServerName,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
