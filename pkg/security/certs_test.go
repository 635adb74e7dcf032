package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestMaterial(t *testing.T) Material {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER})
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "ank-server"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey)
	require.NoError(t, err)
	leafPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER})

	keyDER, err := x509.MarshalECPrivateKey(leafKey)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return Material{CACert: caPEM, Cert: leafPEM, Key: keyPEM}
}

func TestResolveMode(t *testing.T) {
	m := generateTestMaterial(t)

	mode, err := ResolveMode(m, false)
	require.NoError(t, err)
	assert.Equal(t, TLSModeMutual, mode)

	mode, err = ResolveMode(Material{}, true)
	require.NoError(t, err)
	assert.Equal(t, TLSModeInsecure, mode)

	_, err = ResolveMode(Material{}, false)
	assert.Error(t, err)

	_, err = ResolveMode(Material{CACert: m.CACert}, false)
	assert.Error(t, err)
}

func TestServerAndClientTLSConfig(t *testing.T) {
	m := generateTestMaterial(t)

	serverCfg, err := ServerTLSConfig(m)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0304), serverCfg.MinVersion) // TLS 1.3
	assert.NotNil(t, serverCfg.ClientCAs)

	clientCfg, err := ClientTLSConfig(m)
	require.NoError(t, err)
	assert.Equal(t, ServerName, clientCfg.ServerName)
	assert.NotNil(t, clientCfg.RootCAs)
}

func TestServerTLSConfigInvalidMaterial(t *testing.T) {
	_, err := ServerTLSConfig(Material{Cert: []byte("bogus"), Key: []byte("bogus")})
	assert.Error(t, err)
}
