// File: internal/policy/engine_test.go
package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
)

func newTestEngine() *Engine {
	return NewEngine(zap.NewNop(), nil)
}

func TestNoMatchReturnsNil(t *testing.T) {
	e := newTestEngine()

	ev := schemas.EvidenceSummary{
		DomainAgeKnown: true,
		DomainAgeDays:  400,
		TLSValid:       true,
	}
	assert.Nil(t, e.Evaluate(ev, schemas.RiskLow))
}

func TestMultipleTIHitsForceCritical(t *testing.T) {
	e := newTestEngine()

	override := e.Evaluate(schemas.EvidenceSummary{TIHits: 2}, schemas.RiskLow)
	require.NotNil(t, override)
	assert.Equal(t, "ti_multiple_hits", override.Rule)
	assert.Equal(t, schemas.RiskCritical, override.ForcedLevel)
	assert.Contains(t, override.Reason, "2", "reason must mention the hit count")
	assert.Equal(t, 1, override.Priority)
}

func TestYoungDomainWithLoginForcesHigh(t *testing.T) {
	e := newTestEngine()

	ev := schemas.EvidenceSummary{
		DomainAgeKnown: true,
		DomainAgeDays:  3,
		HasLoginForm:   true,
	}
	override := e.Evaluate(ev, schemas.RiskLow)
	require.NotNil(t, override)
	assert.Equal(t, "young_domain_login", override.Rule)
	assert.Equal(t, schemas.RiskHigh, override.ForcedLevel)

	// Unknown age must not trigger the rule, however suspicious the form.
	ev.DomainAgeKnown = false
	assert.Nil(t, e.Evaluate(ev, schemas.RiskLow))

	// A login form on an old domain is normal.
	ev.DomainAgeKnown = true
	ev.DomainAgeDays = 3650
	assert.Nil(t, e.Evaluate(ev, schemas.RiskLow))
}

func TestDownloadWithoutTLSForcesHigh(t *testing.T) {
	e := newTestEngine()

	override := e.Evaluate(schemas.EvidenceSummary{AutoDownload: true, TLSValid: false}, schemas.RiskMedium)
	require.NotNil(t, override)
	assert.Equal(t, "download_without_tls", override.Rule)
	assert.Equal(t, schemas.RiskHigh, override.ForcedLevel)

	assert.Nil(t, e.Evaluate(schemas.EvidenceSummary{AutoDownload: true, TLSValid: true}, schemas.RiskMedium))
}

func TestSingleCriticalHitForcesCritical(t *testing.T) {
	e := newTestEngine()

	override := e.Evaluate(schemas.EvidenceSummary{TIHits: 1, TICriticalHits: 1}, schemas.RiskSafe)
	require.NotNil(t, override)
	assert.Equal(t, "ti_critical_hit", override.Rule)
	assert.Equal(t, schemas.RiskCritical, override.ForcedLevel)
}

func TestFirstMatchWins(t *testing.T) {
	e := newTestEngine()

	// Evidence satisfying both the multi-hit and young-domain rules must
	// resolve to the higher-priority rule.
	ev := schemas.EvidenceSummary{
		TIHits:         3,
		DomainAgeKnown: true,
		DomainAgeDays:  2,
		HasLoginForm:   true,
	}
	override := e.Evaluate(ev, schemas.RiskLow)
	require.NotNil(t, override)
	assert.Equal(t, "ti_multiple_hits", override.Rule)
}

func TestOverrideNeverLowersStatisticalLevel(t *testing.T) {
	e := newTestEngine()

	// The young-domain rule targets high, but the statistical verdict is
	// already critical; the override must not downgrade it.
	ev := schemas.EvidenceSummary{
		DomainAgeKnown: true,
		DomainAgeDays:  2,
		HasLoginForm:   true,
	}
	override := e.Evaluate(ev, schemas.RiskCritical)
	require.NotNil(t, override)
	assert.Equal(t, schemas.RiskCritical, override.ForcedLevel)
}

func TestCustomRuleOrder(t *testing.T) {
	rules := []Rule{
		{
			Name:     "always",
			Priority: 1,
			Level:    schemas.RiskMedium,
			Match: func(schemas.EvidenceSummary) (bool, string) {
				return true, "always matches"
			},
		},
	}
	e := NewEngine(zap.NewNop(), rules)

	override := e.Evaluate(schemas.EvidenceSummary{}, schemas.RiskSafe)
	require.NotNil(t, override)
	assert.Equal(t, "always", override.Rule)
	assert.Equal(t, schemas.RiskMedium, override.ForcedLevel)
}
