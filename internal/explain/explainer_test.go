// File: internal/explain/explainer_test.go
package explain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/config"
)

type fakeLLM struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	f.prompt = req.UserPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func sampleScanResult() *schemas.ScanResult {
	return &schemas.ScanResult{
		ID:          "scan-1",
		URL:         "https://paypal-login.weebly.com",
		RiskScore:   72,
		MaxScore:    100,
		Probability: 0.84,
		Interval:    schemas.ConfidenceInterval{Lower: 0.66, Upper: 1.0},
		RiskLevel:   schemas.RiskHigh,
		Findings: []schemas.Finding{
			{Check: "urlpattern.free_hosting_brand", Points: 50, Explanation: "Brand name on a free hosting provider."},
			{Check: "tlsinfo.cert_age", Points: 8, Explanation: "Certificate issued 2 days ago."},
			{Check: "headers.hsts", Points: 6, Explanation: "No HSTS header."},
			{Check: "dnsinfo.resolution", Points: 0, Explanation: "Domain resolves normally."},
			{Check: "urlpattern.tld_impersonation", Points: 35, Explanation: "Registrable domain impersonates a known brand."},
			{Check: "emailauth.dmarc", Points: 8, Explanation: "No DMARC record."},
			{Check: "legal.privacy_policy", Points: 10, Explanation: "No privacy policy found."},
		},
		DecisionGraph: []schemas.DecisionGraphNode{
			{Component: "collectors", Contribution: 0.45},
			{Component: "stage1", Contribution: 0.20},
			{Component: "calibration", Contribution: 0.10},
			{Component: "stage2", Contribution: 0.25},
		},
		ScannedAt: time.Now().UTC(),
	}
}

func newTestExplainer(llm schemas.LLMClient) *Explainer {
	return New(zap.NewNop(), config.ExplainerConfig{
		Enabled:         llm != nil,
		Timeout:         5 * time.Second,
		DefaultLanguage: "en",
	}, llm)
}

func TestExplainRejectsNilResult(t *testing.T) {
	e := newTestExplainer(nil)
	_, err := e.Explain(context.Background(), schemas.ConsensusRequest{})
	assert.Error(t, err)
}

func TestExplainStructuredResponse(t *testing.T) {
	e := newTestExplainer(nil)

	resp, err := e.Explain(context.Background(), schemas.ConsensusRequest{Result: sampleScanResult()})
	require.NoError(t, err)

	assert.Contains(t, resp.Summary, "paypal-login.weebly.com")
	assert.Contains(t, resp.Summary, "high")
	assert.Contains(t, resp.Summary, "84%")
	assert.Empty(t, resp.DetailedExplanation, "no prose without a text backend")

	// Top five adverse findings by points; the zero-point finding never appears.
	require.Len(t, resp.KeyFindings, 5)
	assert.Equal(t, "Brand name on a free hosting provider.", resp.KeyFindings[0])
	assert.Equal(t, "Registrable domain impersonates a known brand.", resp.KeyFindings[1])
	assert.NotContains(t, resp.KeyFindings, "Domain resolves normally.")
	assert.NotContains(t, resp.KeyFindings, "No HSTS header.", "only the top five survive")

	require.Len(t, resp.DecisionBreakdown, 4)
	assert.Equal(t, "collectors", resp.DecisionBreakdown[0].Component)
	assert.Equal(t, "stage2", resp.DecisionBreakdown[1].Component)
	assert.Equal(t, "calibration", resp.DecisionBreakdown[3].Component)
	assert.NotEmpty(t, resp.DecisionBreakdown[0].Summary)

	require.NotEmpty(t, resp.RecommendedActions)
	assert.Contains(t, resp.RecommendedActions[0], "credentials")
}

func TestExplainSummaryIncludesOverride(t *testing.T) {
	result := sampleScanResult()
	result.RiskLevel = schemas.RiskCritical
	result.Override = &schemas.PolicyOverride{
		Rule:   "ti_multiple_hits",
		Reason: "2 threat intelligence sources list this target",
	}

	e := newTestExplainer(nil)
	resp, err := e.Explain(context.Background(), schemas.ConsensusRequest{Result: result})
	require.NoError(t, err)

	assert.Contains(t, resp.Summary, "2 threat intelligence sources")
	assert.Contains(t, resp.RecommendedActions[0], "Do not visit")
}

func TestExplainEnrichesWithLLM(t *testing.T) {
	llm := &fakeLLM{reply: "  This page imitates a payment brand on free hosting.  "}
	e := newTestExplainer(llm)

	resp, err := e.Explain(context.Background(), schemas.ConsensusRequest{
		Result:      sampleScanResult(),
		UserContext: schemas.UserContext{TechnicalLevel: schemas.LevelAdvanced, Language: "de"},
	})
	require.NoError(t, err)

	assert.Equal(t, "This page imitates a payment brand on free hosting.", resp.DetailedExplanation)
	assert.Contains(t, llm.prompt, "Technical level: advanced")
	assert.Contains(t, llm.prompt, "Language: de")
	assert.Contains(t, llm.prompt, "Brand name on a free hosting provider.")
}

func TestExplainDegradesWhenLLMFails(t *testing.T) {
	llm := &fakeLLM{err: errors.New("provider timeout")}
	e := newTestExplainer(llm)

	resp, err := e.Explain(context.Background(), schemas.ConsensusRequest{Result: sampleScanResult()})
	require.NoError(t, err, "enrichment failures never fail the explanation")
	assert.Empty(t, resp.DetailedExplanation)
	assert.NotEmpty(t, resp.Summary)
	assert.NotEmpty(t, resp.KeyFindings)
}

func TestRecommendedActionsPerLevel(t *testing.T) {
	e := newTestExplainer(nil)
	for _, level := range []schemas.RiskLevel{schemas.RiskLow, schemas.RiskMedium, schemas.RiskHigh, schemas.RiskCritical} {
		t.Run(fmt.Sprintf("should recommend actions for %s", level), func(t *testing.T) {
			result := sampleScanResult()
			result.RiskLevel = level
			resp, err := e.Explain(context.Background(), schemas.ConsensusRequest{Result: result})
			require.NoError(t, err)
			assert.NotEmpty(t, resp.RecommendedActions)
		})
	}
}
