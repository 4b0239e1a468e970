// File: internal/collectors/tlsinfo.go
package collectors

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/elara-sec/verdict/api/schemas"
)

const (
	tlsInfoBudget = 40.0

	pointsNoTLS        = 25.0
	pointsInvalidChain = 20.0
	pointsYoungCert    = 8.0
	pointsExpiresSoon  = 5.0
	pointsWeakVersion  = 7.0

	youngCertDays   = 7
	expiresSoonDays = 14
)

// TLSInfoCollector probes the target's TLS endpoint and inspects the
// presented certificate chain.
type TLSInfoCollector struct {
	// dial is swapped in tests to avoid the network.
	dial func(ctx context.Context, host string) (*tls.ConnectionState, error)
}

func NewTLSInfoCollector() *TLSInfoCollector {
	return &TLSInfoCollector{dial: dialTLS}
}

func (c *TLSInfoCollector) Name() string       { return "tlsinfo" }
func (c *TLSInfoCollector) MaxPoints() float64 { return tlsInfoBudget }

func dialTLS(ctx context.Context, host string) (*tls.ConnectionState, error) {
	d := &net.Dialer{}
	// Skip chain verification at the transport and verify manually below, so
	// an invalid chain is evidence rather than a dead end.
	conn, err := (&tls.Dialer{
		NetDialer: d,
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true,
		},
	}).DialContext(ctx, "tcp", net.JoinHostPort(host, "443"))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	return &state, nil
}

type tlsEvidence struct {
	Issuer      string `json:"issuer,omitempty"`
	Subject     string `json:"subject,omitempty"`
	NotBefore   string `json:"not_before,omitempty"`
	NotAfter    string `json:"not_after,omitempty"`
	Version     string `json:"version,omitempty"`
	ChainError  string `json:"chain_error,omitempty"`
	DaysToLive  int    `json:"days_to_live"`
	CertAgeDays int    `json:"cert_age_days"`
}

func (c *TLSInfoCollector) Collect(ctx context.Context, target *Target) (*Report, error) {
	report := &Report{}

	state, err := c.dial(ctx, target.Host)
	if err != nil {
		report.Facts.TLSValid = boolPtr(false)
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "tlsinfo.handshake",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityHigh,
			Points:      pointsNoTLS,
			MaxPoints:   pointsNoTLS,
			Explanation: fmt.Sprintf("No TLS service reachable on %s:443.", target.Host),
		})
		return report, nil
	}
	if len(state.PeerCertificates) == 0 {
		report.Facts.TLSValid = boolPtr(false)
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "tlsinfo.handshake",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityHigh,
			Points:      pointsNoTLS,
			MaxPoints:   pointsNoTLS,
			Explanation: "TLS endpoint presented no certificate.",
		})
		return report, nil
	}

	leaf := state.PeerCertificates[0]
	now := time.Now()
	ev := tlsEvidence{
		Issuer:      leaf.Issuer.CommonName,
		Subject:     leaf.Subject.CommonName,
		NotBefore:   leaf.NotBefore.Format(time.RFC3339),
		NotAfter:    leaf.NotAfter.Format(time.RFC3339),
		Version:     tls.VersionName(state.Version),
		DaysToLive:  int(time.Until(leaf.NotAfter).Hours() / 24),
		CertAgeDays: int(now.Sub(leaf.NotBefore).Hours() / 24),
	}

	chainErr := verifyChain(state.PeerCertificates, target.Host, now)
	valid := chainErr == nil
	report.Facts.TLSValid = boolPtr(valid)

	if chainErr != nil {
		ev.ChainError = chainErr.Error()
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "tlsinfo.chain",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityHigh,
			Points:      pointsInvalidChain,
			MaxPoints:   pointsInvalidChain,
			Explanation: fmt.Sprintf("Certificate chain does not verify: %v.", chainErr),
			Evidence:    mustJSON(ev),
		})
	} else {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "tlsinfo.chain",
			Result:      schemas.ResultPass,
			Severity:    schemas.SeverityInfo,
			MaxPoints:   pointsInvalidChain,
			Explanation: fmt.Sprintf("Certificate issued by %q verifies for %s.", ev.Issuer, target.Host),
			Evidence:    mustJSON(ev),
		})
	}

	// Freshly minted certificates correlate strongly with throwaway phishing
	// infrastructure, even when the chain itself verifies.
	if ev.CertAgeDays >= 0 && ev.CertAgeDays < youngCertDays {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "tlsinfo.cert_age",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityMedium,
			Points:      pointsYoungCert,
			MaxPoints:   pointsYoungCert,
			Explanation: fmt.Sprintf("Certificate was issued only %d day(s) ago.", ev.CertAgeDays),
		})
	}
	if ev.DaysToLive >= 0 && ev.DaysToLive < expiresSoonDays {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "tlsinfo.expiry",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityLow,
			Points:      pointsExpiresSoon,
			MaxPoints:   pointsExpiresSoon,
			Explanation: fmt.Sprintf("Certificate expires in %d day(s).", ev.DaysToLive),
		})
	}
	if state.Version < tls.VersionTLS12 {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "tlsinfo.protocol",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityMedium,
			Points:      pointsWeakVersion,
			MaxPoints:   pointsWeakVersion,
			Explanation: fmt.Sprintf("Server negotiated an obsolete protocol version (%s).", ev.Version),
		})
	}

	return report, nil
}

// verifyChain checks the presented chain against the system roots and the
// expected hostname.
func verifyChain(certs []*x509.Certificate, host string, now time.Time) error {
	leaf := certs[0]
	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		DNSName:       host,
		Intermediates: intermediates,
		CurrentTime:   now,
	})
	return err
}
