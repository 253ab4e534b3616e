package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)

	require.Equal(t, "localhost", leaf.Subject.CommonName)
	require.Contains(t, leaf.DNSNames, "localhost")

	var ips []string
	for _, ip := range leaf.IPAddresses {
		ips = append(ips, ip.String())
	}
	require.Contains(t, ips, "127.0.0.1")

	validDuration := leaf.NotAfter.Sub(leaf.NotBefore)
	require.InDelta(t, float64(365*24*time.Hour), float64(validDuration), float64(time.Hour))

	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok, "public key is not ECDSA")
	require.Equal(t, elliptic.P256(), ecKey.Curve)
}

func TestServerConfig_SelfSigned(t *testing.T) {
	t.Parallel()

	cfg, err := ServerConfig("", "")
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.Equal(t, uint16(standardtls.VersionTLS12), cfg.MinVersion)
}

func TestServerConfig_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := ServerConfig("/nonexistent/cert.pem", "/nonexistent/key.pem")
	require.Error(t, err)
}

func TestClientConfig_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := ClientConfig(ClientOptions{})
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestClientConfig_CAFile(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	require.NoError(t, err)

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	require.NoError(t, os.WriteFile(caFile, caPEM, 0o600))

	cfg, err := ClientConfig(ClientOptions{ServerName: "localhost", CAFile: caFile})
	require.NoError(t, err)
	require.Equal(t, "localhost", cfg.ServerName)
	require.NotNil(t, cfg.RootCAs)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	_, err = leaf.Verify(x509.VerifyOptions{DNSName: "localhost", Roots: cfg.RootCAs})
	require.NoError(t, err, "certificate should verify against the CA file")
}

func TestClientConfig_BadCAFile(t *testing.T) {
	t.Parallel()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caFile, []byte("not a certificate"), 0o600))

	_, err := ClientConfig(ClientOptions{CAFile: caFile})
	require.Error(t, err)
}

func TestTrustPool(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	require.NoError(t, err)
	pool, err := TrustPool(cert)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	_, err = leaf.Verify(x509.VerifyOptions{DNSName: "localhost", Roots: pool})
	require.NoError(t, err)

	_, err = TrustPool(nil)
	require.Error(t, err)
}
