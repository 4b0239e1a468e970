// File: internal/collectors/emailauth.go
package collectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/elara-sec/verdict/api/schemas"
)

const (
	emailAuthBudget = 25.0

	pointsNoSPF         = 6.0
	pointsPermissiveSPF = 6.0
	pointsNeutralSPF    = 4.0
	pointsSoftSPF       = 2.0
	pointsNoDMARC       = 8.0
	pointsMonitorDMARC  = 5.0
	pointsSoftDMARC     = 2.0
	pointsNoDKIM        = 5.0
	pointsNoMTASTS      = 2.0
)

// spfInfo holds the parsed SPF posture of a domain.
type spfInfo struct {
	Found    bool     `json:"found"`
	Raw      string   `json:"raw,omitempty"`
	Policy   string   `json:"policy,omitempty"` // "-all", "~all", "+all", "?all"
	Includes []string `json:"includes,omitempty"`
}

// dmarcInfo holds the parsed DMARC posture of a domain.
type dmarcInfo struct {
	Found           bool   `json:"found"`
	Raw             string `json:"raw,omitempty"`
	Policy          string `json:"policy,omitempty"` // none, quarantine, reject
	SubdomainPolicy string `json:"subdomain_policy,omitempty"`
}

// EmailAuthCollector inspects the sending domain's mail authentication
// records. Spoofable domains are a common phishing launchpad.
type EmailAuthCollector struct {
	resolver  Resolver
	selectors []string
}

func NewEmailAuthCollector(resolver Resolver, dkimSelectors []string) *EmailAuthCollector {
	if len(dkimSelectors) == 0 {
		dkimSelectors = []string{"default"}
	}
	return &EmailAuthCollector{resolver: resolver, selectors: dkimSelectors}
}

func (c *EmailAuthCollector) Name() string       { return "emailauth" }
func (c *EmailAuthCollector) MaxPoints() float64 { return emailAuthBudget }

func (c *EmailAuthCollector) Collect(ctx context.Context, target *Target) (*Report, error) {
	report := &Report{}
	domain := target.Domain

	spf, err := c.checkSPF(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("spf lookup: %w", err)
	}
	switch {
	case !spf.Found:
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "emailauth.spf",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityMedium,
			Points:      pointsNoSPF,
			MaxPoints:   pointsNoSPF,
			Explanation: fmt.Sprintf("No SPF record published for %s; the domain is trivially spoofable.", domain),
		})
	case spf.Policy == "+all":
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "emailauth.spf",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityMedium,
			Points:      pointsPermissiveSPF,
			MaxPoints:   pointsNoSPF,
			Explanation: "SPF record ends in +all, which authorizes any sender.",
			Evidence:    mustJSON(spf),
		})
	case spf.Policy == "?all":
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "emailauth.spf",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityLow,
			Points:      pointsNeutralSPF,
			MaxPoints:   pointsNoSPF,
			Explanation: "SPF record uses a neutral ?all policy.",
			Evidence:    mustJSON(spf),
		})
	case spf.Policy == "~all":
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "emailauth.spf",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityInfo,
			Points:      pointsSoftSPF,
			MaxPoints:   pointsNoSPF,
			Explanation: "SPF record uses a soft-fail ~all policy.",
			Evidence:    mustJSON(spf),
		})
	default:
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "emailauth.spf",
			Result:      schemas.ResultPass,
			Severity:    schemas.SeverityInfo,
			MaxPoints:   pointsNoSPF,
			Explanation: fmt.Sprintf("SPF record present with policy %q.", spf.Policy),
			Evidence:    mustJSON(spf),
		})
	}

	dmarc, err := c.checkDMARC(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("dmarc lookup: %w", err)
	}
	switch {
	case !dmarc.Found:
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "emailauth.dmarc",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityMedium,
			Points:      pointsNoDMARC,
			MaxPoints:   pointsNoDMARC,
			Explanation: fmt.Sprintf("No DMARC record published for %s.", domain),
		})
	case dmarc.Policy == "none":
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "emailauth.dmarc",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityLow,
			Points:      pointsMonitorDMARC,
			MaxPoints:   pointsNoDMARC,
			Explanation: "DMARC policy is p=none; failures are only monitored.",
			Evidence:    mustJSON(dmarc),
		})
	case dmarc.Policy == "quarantine":
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "emailauth.dmarc",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityInfo,
			Points:      pointsSoftDMARC,
			MaxPoints:   pointsNoDMARC,
			Explanation: "DMARC policy is p=quarantine rather than reject.",
			Evidence:    mustJSON(dmarc),
		})
	default:
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "emailauth.dmarc",
			Result:      schemas.ResultPass,
			Severity:    schemas.SeverityInfo,
			MaxPoints:   pointsNoDMARC,
			Explanation: fmt.Sprintf("DMARC policy is p=%s.", dmarc.Policy),
			Evidence:    mustJSON(dmarc),
		})
	}

	foundSelector := ""
	for _, sel := range c.selectors {
		records, err := LookupTXT(ctx, c.resolver, fmt.Sprintf("%s._domainkey.%s", sel, domain))
		if err == nil && len(records) > 0 {
			foundSelector = sel
			break
		}
	}
	if foundSelector == "" {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "emailauth.dkim",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityLow,
			Points:      pointsNoDKIM,
			MaxPoints:   pointsNoDKIM,
			Explanation: fmt.Sprintf("No DKIM key found under common selectors (%s).", strings.Join(c.selectors, ", ")),
		})
	} else {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "emailauth.dkim",
			Result:      schemas.ResultPass,
			Severity:    schemas.SeverityInfo,
			MaxPoints:   pointsNoDKIM,
			Explanation: fmt.Sprintf("DKIM key published under selector %q.", foundSelector),
		})
	}

	if records, err := LookupTXT(ctx, c.resolver, "_mta-sts."+domain); err == nil {
		found := false
		for _, txt := range records {
			if strings.HasPrefix(txt, "v=STSv1") {
				found = true
				break
			}
		}
		if !found {
			report.Findings = append(report.Findings, schemas.Finding{
				Check:       "emailauth.mta_sts",
				Result:      schemas.ResultWarn,
				Severity:    schemas.SeverityInfo,
				Points:      pointsNoMTASTS,
				MaxPoints:   pointsNoMTASTS,
				Explanation: "No MTA-STS policy is published.",
			})
		}
	}

	return report, nil
}

func (c *EmailAuthCollector) checkSPF(ctx context.Context, domain string) (spfInfo, error) {
	info := spfInfo{}
	records, err := LookupTXT(ctx, c.resolver, domain)
	if err != nil {
		return info, err
	}
	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}
		info.Found = true
		info.Raw = txt
		for _, part := range strings.Fields(txt) {
			switch {
			case strings.HasPrefix(part, "include:"):
				info.Includes = append(info.Includes, strings.TrimPrefix(part, "include:"))
			case strings.HasSuffix(part, "all"):
				info.Policy = part
			}
		}
		break
	}
	return info, nil
}

func (c *EmailAuthCollector) checkDMARC(ctx context.Context, domain string) (dmarcInfo, error) {
	info := dmarcInfo{}
	records, err := LookupTXT(ctx, c.resolver, "_dmarc."+domain)
	if err != nil {
		return info, err
	}
	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=DMARC1") {
			continue
		}
		info.Found = true
		info.Raw = txt
		for _, part := range strings.Split(txt, ";") {
			part = strings.TrimSpace(part)
			switch {
			case strings.HasPrefix(part, "p="):
				info.Policy = strings.TrimPrefix(part, "p=")
			case strings.HasPrefix(part, "sp="):
				info.SubdomainPolicy = strings.TrimPrefix(part, "sp=")
			}
		}
		break
	}
	return info, nil
}
