// File: internal/collectors/threatintel_test.go
package collectors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elara-sec/verdict/api/schemas"
)

// stubIntel answers lookups from a fixed indicator set keyed by
// type|normalized value.
type stubIntel struct {
	indicators map[string]*schemas.ThreatIndicator
	err        error
	queries    []string
}

func (s *stubIntel) Lookup(_ context.Context, t schemas.IndicatorType, value string) (*schemas.ThreatIndicator, error) {
	if s.err != nil {
		return nil, s.err
	}
	key := string(t) + "|" + value
	s.queries = append(s.queries, key)
	return s.indicators[key], nil
}

func TestThreatIntelNoHits(t *testing.T) {
	source := &stubIntel{indicators: map[string]*schemas.ThreatIndicator{}}
	c := NewThreatIntelCollector(source, nil)

	report, err := c.Collect(context.Background(), testTarget(t, "https://example.com/login"))
	require.NoError(t, err)

	require.NotNil(t, report.Facts.TIHits)
	assert.Zero(t, *report.Facts.TIHits)

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "threatintel.lookup", report.Findings[0].Check)
	assert.Equal(t, schemas.ResultPass, report.Findings[0].Result)
}

func TestThreatIntelDomainHit(t *testing.T) {
	source := &stubIntel{indicators: map[string]*schemas.ThreatIndicator{
		"domain|evil.example.com": {
			Type: schemas.IndicatorDomain, Value: "evil.example.com",
			NormalizedValue: "evil.example.com",
			Severity:        schemas.SeverityHigh, Confidence: 85,
			SourceID: "openphish", Active: true,
		},
	}}
	c := NewThreatIntelCollector(source, nil)

	report, err := c.Collect(context.Background(), testTarget(t, "https://evil.example.com/verify"))
	require.NoError(t, err)

	require.NotNil(t, report.Facts.TIHits)
	assert.Equal(t, 1, *report.Facts.TIHits)
	assert.Zero(t, *report.Facts.TICriticalHits)

	f := findingByCheck(t, report.Findings, "threatintel.domain")
	require.NotNil(t, f)
	assert.InDelta(t, 20, f.Points, 1e-9, "a high-severity hit scores 20")
	assert.Contains(t, f.Explanation, "openphish")
}

func TestThreatIntelCriticalHitCounts(t *testing.T) {
	source := &stubIntel{indicators: map[string]*schemas.ThreatIndicator{
		"url|evil.example.com/verify": {
			Type: schemas.IndicatorURL, Value: "https://evil.example.com/verify",
			NormalizedValue: "evil.example.com/verify",
			Severity:        schemas.SeverityCritical, Confidence: 95,
			SourceID: "urlhaus", Active: true,
		},
		"domain|evil.example.com": {
			Type: schemas.IndicatorDomain, Value: "evil.example.com",
			NormalizedValue: "evil.example.com",
			Severity:        schemas.SeverityMedium, Confidence: 60,
			SourceID: "feed2", Active: true,
		},
	}}
	c := NewThreatIntelCollector(source, nil)

	report, err := c.Collect(context.Background(), testTarget(t, "https://evil.example.com/verify"))
	require.NoError(t, err)

	assert.Equal(t, 2, *report.Facts.TIHits)
	assert.Equal(t, 1, *report.Facts.TICriticalHits)
}

func TestThreatIntelIgnoresInactiveIndicators(t *testing.T) {
	source := &stubIntel{indicators: map[string]*schemas.ThreatIndicator{
		"domain|stale.example.com": {
			Type: schemas.IndicatorDomain, NormalizedValue: "stale.example.com",
			Severity: schemas.SeverityCritical, Active: false,
		},
	}}
	c := NewThreatIntelCollector(source, nil)

	report, err := c.Collect(context.Background(), testTarget(t, "https://stale.example.com"))
	require.NoError(t, err)
	assert.Zero(t, *report.Facts.TIHits, "deactivated indicators never count")
}

func TestThreatIntelDedupesProbes(t *testing.T) {
	source := &stubIntel{indicators: map[string]*schemas.ThreatIndicator{}}
	c := NewThreatIntelCollector(source, nil)

	// Host and registrable domain are the same; the probe list must collapse.
	_, err := c.Collect(context.Background(), testTarget(t, "https://example.com"))
	require.NoError(t, err)

	seen := map[string]int{}
	for _, q := range source.queries {
		seen[q]++
	}
	for q, n := range seen {
		assert.Equal(t, 1, n, "duplicate lookup for %s", q)
	}
}

func TestThreatIntelLookupFailure(t *testing.T) {
	c := NewThreatIntelCollector(&stubIntel{err: errors.New("store down")}, nil)

	_, err := c.Collect(context.Background(), testTarget(t, "https://example.com"))
	assert.Error(t, err)
}

func TestThreatIntelProbesResolvedAddresses(t *testing.T) {
	source := &stubIntel{indicators: map[string]*schemas.ThreatIndicator{
		"ip|192.0.2.66": {
			Type: schemas.IndicatorIP, Value: "192.0.2.66", NormalizedValue: "192.0.2.66",
			Severity: schemas.SeverityHigh, SourceID: "spamhaus", Active: true,
		},
	}}
	c := NewThreatIntelCollector(source, &stubDNS{addrs: []string{"192.0.2.66"}, ttl: 300})

	report, err := c.Collect(context.Background(), testTarget(t, "https://example.com"))
	require.NoError(t, err)

	assert.Equal(t, 1, *report.Facts.TIHits)
	require.NotNil(t, findingByCheck(t, report.Findings, "threatintel.ip"))
}
