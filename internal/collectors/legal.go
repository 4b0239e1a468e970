// File: internal/collectors/legal.go
package collectors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elara-sec/verdict/api/schemas"
)

const (
	legalBudget = 35.0

	pointsNoPrivacy = 12.0
	pointsNoTerms   = 10.0
	pointsNoContact = 8.0
	pointsNoLegalID = 5.0

	legalBodyLimit = 512 * 1024
)

// LegalCollector scans the page body for the compliance texture legitimate
// businesses carry: privacy policy, terms, contact details, legal identity.
// Phishing kits are cloned page shells and almost never bother.
type LegalCollector struct {
	client *http.Client
}

func NewLegalCollector(client *http.Client) *LegalCollector {
	return &LegalCollector{client: client}
}

func (c *LegalCollector) Name() string       { return "legal" }
func (c *LegalCollector) MaxPoints() float64 { return legalBudget }

type legalProbe struct {
	name        string
	points      float64
	markers     []string
	explanation string
}

var legalProbes = []legalProbe{
	{
		name:        "legal.privacy_policy",
		points:      pointsNoPrivacy,
		markers:     []string{"privacy policy", "privacy-policy", "/privacy", "datenschutz"},
		explanation: "No privacy policy is referenced anywhere on the page.",
	},
	{
		name:        "legal.terms",
		points:      pointsNoTerms,
		markers:     []string{"terms of service", "terms of use", "terms and conditions", "/terms", "/tos"},
		explanation: "No terms of service are referenced on the page.",
	},
	{
		name:        "legal.contact",
		points:      pointsNoContact,
		markers:     []string{"contact us", "/contact", "mailto:", "support@"},
		explanation: "No contact information is offered on the page.",
	},
	{
		name:        "legal.identity",
		points:      pointsNoLegalID,
		markers:     []string{"impressum", "legal notice", "copyright", "&copy;", "all rights reserved"},
		explanation: "No legal identity or copyright notice on the page.",
	},
}

func (c *LegalCollector) Collect(ctx context.Context, target *Target) (*Report, error) {
	body, err := c.pageBody(ctx, target)
	if err != nil {
		return nil, err
	}
	body = strings.ToLower(body)

	report := &Report{}
	for _, probe := range legalProbes {
		found := ""
		for _, marker := range probe.markers {
			if strings.Contains(body, marker) {
				found = marker
				break
			}
		}
		if found == "" {
			report.Findings = append(report.Findings, schemas.Finding{
				Check:       probe.name,
				Result:      schemas.ResultWarn,
				Severity:    schemas.SeverityLow,
				Points:      probe.points,
				MaxPoints:   probe.points,
				Explanation: probe.explanation,
			})
		} else {
			report.Findings = append(report.Findings, schemas.Finding{
				Check:       probe.name,
				Result:      schemas.ResultPass,
				Severity:    schemas.SeverityInfo,
				MaxPoints:   probe.points,
				Explanation: fmt.Sprintf("Found %q on the page.", found),
			})
		}
	}

	return report, nil
}

// pageBody prefers the rendered DOM when the pipeline captured one, so
// client-side rendered footers still count.
func (c *LegalCollector) pageBody(ctx context.Context, target *Target) (string, error) {
	if target.Snapshot != nil && target.Snapshot.DOM != "" {
		return target.Snapshot.DOM, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Raw, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", scanUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching page body: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, legalBodyLimit))
	if err != nil {
		return "", fmt.Errorf("reading page body: %w", err)
	}
	return string(data), nil
}
