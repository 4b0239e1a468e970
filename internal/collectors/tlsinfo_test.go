// File: internal/collectors/tlsinfo_test.go
package collectors

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elara-sec/verdict/api/schemas"
)

// selfSignedCert mints an untrusted certificate for a host with a chosen
// validity window.
func selfSignedCert(t *testing.T, host string, notBefore, notAfter time.Time) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func tlsCollectorWith(state *tls.ConnectionState, dialErr error) *TLSInfoCollector {
	c := NewTLSInfoCollector()
	c.dial = func(_ context.Context, _ string) (*tls.ConnectionState, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return state, nil
	}
	return c
}

func TestTLSInfoHandshakeFailure(t *testing.T) {
	c := tlsCollectorWith(nil, errors.New("connection refused"))

	report, err := c.Collect(context.Background(), testTarget(t, "https://example.com"))
	require.NoError(t, err)

	require.NotNil(t, report.Facts.TLSValid)
	assert.False(t, *report.Facts.TLSValid)

	f := findingByCheck(t, report.Findings, "tlsinfo.handshake")
	require.NotNil(t, f)
	assert.InDelta(t, 25, f.Points, 1e-9)
}

func TestTLSInfoEmptyCertificateChain(t *testing.T) {
	c := tlsCollectorWith(&tls.ConnectionState{Version: tls.VersionTLS13}, nil)

	report, err := c.Collect(context.Background(), testTarget(t, "https://example.com"))
	require.NoError(t, err)

	f := findingByCheck(t, report.Findings, "tlsinfo.handshake")
	require.NotNil(t, f)
	assert.InDelta(t, 25, f.Points, 1e-9)
}

func TestTLSInfoUntrustedChain(t *testing.T) {
	now := time.Now()
	cert := selfSignedCert(t, "example.com", now.AddDate(0, -6, 0), now.AddDate(0, 6, 0))
	c := tlsCollectorWith(&tls.ConnectionState{
		Version:          tls.VersionTLS13,
		PeerCertificates: []*x509.Certificate{cert},
	}, nil)

	report, err := c.Collect(context.Background(), testTarget(t, "https://example.com"))
	require.NoError(t, err)

	require.NotNil(t, report.Facts.TLSValid)
	assert.False(t, *report.Facts.TLSValid, "a self-signed chain must not count as valid")

	f := findingByCheck(t, report.Findings, "tlsinfo.chain")
	require.NotNil(t, f)
	assert.Equal(t, schemas.ResultFail, f.Result)
	assert.InDelta(t, 20, f.Points, 1e-9)

	// A mature certificate with months to live raises neither age flag.
	assert.Nil(t, findingByCheck(t, report.Findings, "tlsinfo.cert_age"))
	assert.Nil(t, findingByCheck(t, report.Findings, "tlsinfo.expiry"))
}

func TestTLSInfoYoungCertificate(t *testing.T) {
	now := time.Now()
	cert := selfSignedCert(t, "example.com", now.AddDate(0, 0, -2), now.AddDate(0, 3, 0))
	c := tlsCollectorWith(&tls.ConnectionState{
		Version:          tls.VersionTLS13,
		PeerCertificates: []*x509.Certificate{cert},
	}, nil)

	report, err := c.Collect(context.Background(), testTarget(t, "https://example.com"))
	require.NoError(t, err)

	f := findingByCheck(t, report.Findings, "tlsinfo.cert_age")
	require.NotNil(t, f)
	assert.InDelta(t, 8, f.Points, 1e-9)
	assert.Contains(t, f.Explanation, "2 day")
}

func TestTLSInfoExpiringCertificate(t *testing.T) {
	now := time.Now()
	cert := selfSignedCert(t, "example.com", now.AddDate(0, -3, 0), now.AddDate(0, 0, 10))
	c := tlsCollectorWith(&tls.ConnectionState{
		Version:          tls.VersionTLS13,
		PeerCertificates: []*x509.Certificate{cert},
	}, nil)

	report, err := c.Collect(context.Background(), testTarget(t, "https://example.com"))
	require.NoError(t, err)

	f := findingByCheck(t, report.Findings, "tlsinfo.expiry")
	require.NotNil(t, f)
	assert.InDelta(t, 5, f.Points, 1e-9)
}

func TestTLSInfoObsoleteProtocol(t *testing.T) {
	now := time.Now()
	cert := selfSignedCert(t, "example.com", now.AddDate(0, -3, 0), now.AddDate(0, 3, 0))
	c := tlsCollectorWith(&tls.ConnectionState{
		Version:          tls.VersionTLS10,
		PeerCertificates: []*x509.Certificate{cert},
	}, nil)

	report, err := c.Collect(context.Background(), testTarget(t, "https://example.com"))
	require.NoError(t, err)

	f := findingByCheck(t, report.Findings, "tlsinfo.protocol")
	require.NotNil(t, f)
	assert.InDelta(t, 7, f.Points, 1e-9)
}
