// File: internal/collectors/threatintel.go
package collectors

import (
	"context"
	"fmt"

	"github.com/miekg/dns"

	"github.com/elara-sec/verdict/api/schemas"
)

const threatIntelBudget = 60.0

// hitPoints scales a confirmed indicator hit by its severity.
var hitPoints = map[schemas.Severity]float64{
	schemas.SeverityCritical: 30.0,
	schemas.SeverityHigh:     20.0,
	schemas.SeverityMedium:   12.0,
	schemas.SeverityLow:      6.0,
	schemas.SeverityInfo:     3.0,
}

// IndicatorSource answers point lookups against the threat-intel store.
// A miss returns (nil, nil).
type IndicatorSource interface {
	Lookup(ctx context.Context, t schemas.IndicatorType, value string) (*schemas.ThreatIndicator, error)
}

// ThreatIntelCollector checks the target URL, its domain, and its resolved
// addresses against aggregated threat intelligence. Hit counts feed the
// policy engine's hard overrides.
type ThreatIntelCollector struct {
	source   IndicatorSource
	resolver Resolver
}

func NewThreatIntelCollector(source IndicatorSource, resolver Resolver) *ThreatIntelCollector {
	return &ThreatIntelCollector{source: source, resolver: resolver}
}

func (c *ThreatIntelCollector) Name() string       { return "threatintel" }
func (c *ThreatIntelCollector) MaxPoints() float64 { return threatIntelBudget }

func (c *ThreatIntelCollector) Collect(ctx context.Context, target *Target) (*Report, error) {
	type probe struct {
		kind  schemas.IndicatorType
		value string
	}
	probes := []probe{
		{schemas.IndicatorURL, target.Raw},
		{schemas.IndicatorDomain, target.Host},
	}
	if target.Host != target.Domain {
		probes = append(probes, probe{schemas.IndicatorDomain, target.Domain})
	}
	if c.resolver != nil {
		if answers, err := c.resolver.Lookup(ctx, target.Host, dns.TypeA); err == nil {
			for _, rr := range answers {
				if a, ok := rr.(*dns.A); ok {
					probes = append(probes, probe{schemas.IndicatorIP, a.A.String()})
				}
			}
		}
	}

	report := &Report{}
	hits := 0
	criticalHits := 0
	seen := map[string]bool{}

	for _, p := range probes {
		normalized := schemas.NormalizeIndicatorValue(p.kind, p.value)
		key := string(p.kind) + "|" + normalized
		if seen[key] {
			continue
		}
		seen[key] = true

		indicator, err := c.source.Lookup(ctx, p.kind, normalized)
		if err != nil {
			return nil, fmt.Errorf("indicator lookup %s %q: %w", p.kind, normalized, err)
		}
		if indicator == nil || !indicator.Active {
			continue
		}

		hits++
		if indicator.Severity == schemas.SeverityCritical {
			criticalHits++
		}
		report.Findings = append(report.Findings, schemas.Finding{
			Check:     "threatintel." + string(p.kind),
			Result:    schemas.ResultFail,
			Severity:  indicator.Severity,
			Points:    hitPoints[indicator.Severity],
			MaxPoints: threatIntelBudget,
			Explanation: fmt.Sprintf("%s %q is listed by %s (severity %s, confidence %d).",
				p.kind, indicator.Value, indicator.SourceID, indicator.Severity, indicator.Confidence),
			Evidence: mustJSON(indicator),
		})
	}

	report.Facts.TIHits = intPtr(hits)
	report.Facts.TICriticalHits = intPtr(criticalHits)

	if hits == 0 {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "threatintel.lookup",
			Result:      schemas.ResultPass,
			Severity:    schemas.SeverityInfo,
			MaxPoints:   threatIntelBudget,
			Explanation: "No active threat intelligence matches the target.",
		})
	}

	return report, nil
}
