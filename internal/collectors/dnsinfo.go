// File: internal/collectors/dnsinfo.go
package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	whois "github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/miekg/dns"

	"github.com/elara-sec/verdict/api/schemas"
)

const (
	dnsInfoBudget = 40.0

	pointsNoAddress = 20.0
	pointsLowTTL    = 6.0
	pointsFastFlux  = 6.0
	pointsAgeWeek   = 25.0
	pointsAgeMonth  = 15.0
	pointsAgeSixMo  = 8.0

	lowTTLThreshold  = 300
	fastFluxHostsMin = 8
)

// WhoisClient fetches raw WHOIS text for a domain. Wrapped in an interface so
// tests never hit registry servers.
type WhoisClient interface {
	Whois(domain string) (string, error)
}

// LiveWhoisClient queries real registries.
type LiveWhoisClient struct{}

func (LiveWhoisClient) Whois(domain string) (string, error) {
	return whois.Whois(domain)
}

// DNSInfoCollector inspects the target's DNS posture and registration age.
// Unresolvable hosts mark the scan unreachable for the branch-correction
// stage. Young domains are the single strongest phishing predictor this
// collector owns.
type DNSInfoCollector struct {
	resolver Resolver
	whois    WhoisClient
}

func NewDNSInfoCollector(resolver Resolver, whoisClient WhoisClient) *DNSInfoCollector {
	return &DNSInfoCollector{resolver: resolver, whois: whoisClient}
}

func (c *DNSInfoCollector) Name() string       { return "dnsinfo" }
func (c *DNSInfoCollector) MaxPoints() float64 { return dnsInfoBudget }

type dnsEvidence struct {
	Addresses     []string `json:"addresses,omitempty"`
	MinTTL        uint32   `json:"min_ttl,omitempty"`
	DomainAgeDays int      `json:"domain_age_days,omitempty"`
	CreatedDate   string   `json:"created_date,omitempty"`
	Registrar     string   `json:"registrar,omitempty"`
}

func (c *DNSInfoCollector) Collect(ctx context.Context, target *Target) (*Report, error) {
	report := &Report{}
	ev := dnsEvidence{}

	a, errA := c.resolver.Lookup(ctx, target.Host, dns.TypeA)
	aaaa, errAAAA := c.resolver.Lookup(ctx, target.Host, dns.TypeAAAA)
	if errA != nil && errAAAA != nil {
		return nil, fmt.Errorf("address lookup failed: %w", errA)
	}

	minTTL := uint32(0)
	for _, rr := range append(a, aaaa...) {
		switch v := rr.(type) {
		case *dns.A:
			ev.Addresses = append(ev.Addresses, v.A.String())
		case *dns.AAAA:
			ev.Addresses = append(ev.Addresses, v.AAAA.String())
		default:
			continue
		}
		if ttl := rr.Header().Ttl; minTTL == 0 || ttl < minTTL {
			minTTL = ttl
		}
	}
	ev.MinTTL = minTTL

	if len(ev.Addresses) == 0 {
		report.Facts.Reachability = schemas.ReachabilityUnreachable
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "dnsinfo.resolution",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityHigh,
			Points:      pointsNoAddress,
			MaxPoints:   pointsNoAddress,
			Explanation: fmt.Sprintf("Host %s does not resolve to any address.", target.Host),
			Evidence:    mustJSON(ev),
		})
	} else {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "dnsinfo.resolution",
			Result:      schemas.ResultPass,
			Severity:    schemas.SeverityInfo,
			MaxPoints:   pointsNoAddress,
			Explanation: fmt.Sprintf("Host resolves to %d address(es).", len(ev.Addresses)),
			Evidence:    mustJSON(ev),
		})

		switch {
		case minTTL > 0 && minTTL < lowTTLThreshold && len(ev.Addresses) >= fastFluxHostsMin:
			report.Findings = append(report.Findings, schemas.Finding{
				Check:       "dnsinfo.fast_flux",
				Result:      schemas.ResultWarn,
				Severity:    schemas.SeverityMedium,
				Points:      pointsLowTTL + pointsFastFlux,
				MaxPoints:   pointsLowTTL + pointsFastFlux,
				Explanation: fmt.Sprintf("Many addresses (%d) with a very low TTL (%ds) resemble fast-flux hosting.", len(ev.Addresses), minTTL),
			})
		case minTTL > 0 && minTTL < lowTTLThreshold:
			report.Findings = append(report.Findings, schemas.Finding{
				Check:       "dnsinfo.low_ttl",
				Result:      schemas.ResultWarn,
				Severity:    schemas.SeverityLow,
				Points:      pointsLowTTL,
				MaxPoints:   pointsLowTTL,
				Explanation: fmt.Sprintf("Address records carry a very low TTL (%ds).", minTTL),
			})
		}
	}

	ageDays, created, registrar, err := c.domainAge(target.Domain, 0)
	if err != nil {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "dnsinfo.domain_age",
			Result:      schemas.ResultError,
			Severity:    schemas.SeverityInfo,
			MaxPoints:   pointsAgeWeek,
			Explanation: fmt.Sprintf("Registration age unavailable: %v.", err),
		})
		return report, nil
	}

	ev.DomainAgeDays = ageDays
	ev.CreatedDate = created
	ev.Registrar = registrar
	report.Facts.DomainAgeDays = intPtr(ageDays)

	ageFinding := schemas.Finding{
		Check:     "dnsinfo.domain_age",
		MaxPoints: pointsAgeWeek,
		Evidence:  mustJSON(ev),
	}
	switch {
	case ageDays < 7:
		ageFinding.Result = schemas.ResultFail
		ageFinding.Severity = schemas.SeverityHigh
		ageFinding.Points = pointsAgeWeek
		ageFinding.Explanation = fmt.Sprintf("Domain %s was registered %d day(s) ago.", target.Domain, ageDays)
	case ageDays < 30:
		ageFinding.Result = schemas.ResultWarn
		ageFinding.Severity = schemas.SeverityMedium
		ageFinding.Points = pointsAgeMonth
		ageFinding.Explanation = fmt.Sprintf("Domain %s is under a month old (%d days).", target.Domain, ageDays)
	case ageDays < 180:
		ageFinding.Result = schemas.ResultWarn
		ageFinding.Severity = schemas.SeverityLow
		ageFinding.Points = pointsAgeSixMo
		ageFinding.Explanation = fmt.Sprintf("Domain %s is under six months old (%d days).", target.Domain, ageDays)
	default:
		ageFinding.Result = schemas.ResultPass
		ageFinding.Severity = schemas.SeverityInfo
		ageFinding.Explanation = fmt.Sprintf("Domain %s is %d days old.", target.Domain, ageDays)
	}
	report.Findings = append(report.Findings, ageFinding)

	return report, nil
}

// whoisDateLayouts covers the formats registries actually emit.
var whoisDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
}

// domainAge resolves the registration age in days. Registries often have no
// record for subdomains, so it falls back to the parent domain, at most twice.
func (c *DNSInfoCollector) domainAge(domain string, depth int) (int, string, string, error) {
	raw, err := c.whois.Whois(domain)
	if err != nil {
		return 0, "", "", fmt.Errorf("whois query for %s: %w", domain, err)
	}

	parsed, err := whoisparser.Parse(raw)
	if err != nil || parsed.Domain == nil || strings.TrimSpace(parsed.Domain.CreatedDate) == "" {
		parts := strings.Split(domain, ".")
		if len(parts) > 2 && depth < 2 {
			return c.domainAge(strings.Join(parts[1:], "."), depth+1)
		}
		return 0, "", "", fmt.Errorf("no creation date in whois record for %s", domain)
	}

	createdStr := strings.TrimSpace(parsed.Domain.CreatedDate)
	var created time.Time
	for _, layout := range whoisDateLayouts {
		if t, err := time.Parse(layout, createdStr); err == nil {
			created = t
			break
		}
	}
	if created.IsZero() {
		return 0, "", "", fmt.Errorf("unparseable creation date %q for %s", createdStr, domain)
	}

	registrar := ""
	if parsed.Registrar != nil {
		registrar = parsed.Registrar.Name
	}
	ageDays := int(time.Since(created).Hours() / 24)
	return ageDays, created.Format("2006-01-02"), registrar, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
