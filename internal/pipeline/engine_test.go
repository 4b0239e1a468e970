// File: internal/pipeline/engine_test.go
package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/calibration"
	"github.com/elara-sec/verdict/internal/collectors"
	"github.com/elara-sec/verdict/internal/config"
	"github.com/elara-sec/verdict/internal/policy"
	"github.com/elara-sec/verdict/internal/render"
)

type stubCollector struct {
	name   string
	max    float64
	report *collectors.Report
	err    error
}

func (c *stubCollector) Name() string       { return c.name }
func (c *stubCollector) MaxPoints() float64 { return c.max }

func (c *stubCollector) Collect(_ context.Context, _ *collectors.Target) (*collectors.Report, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.report, nil
}

func ptrBool(b bool) *bool { return &b }
func ptrInt(i int) *int    { return &i }

func benignCollector(name string, max float64) *stubCollector {
	return &stubCollector{
		name: name,
		max:  max,
		report: &collectors.Report{
			Findings: []schemas.Finding{{
				Check:       name,
				Result:      schemas.ResultPass,
				Severity:    schemas.SeverityInfo,
				MaxPoints:   max,
				Explanation: "no issues observed",
			}},
			Facts: collectors.Facts{
				DomainAgeDays: ptrInt(3650),
				TLSValid:      ptrBool(true),
			},
		},
	}
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Stage2Threshold: 0, // deterministic: never escalate unless a test raises it
		Stage1Weight:    0.3,
		Stage2Weight:    0.7,
		ConsensusModels: 3,
	}
}

func newScanEngine(t *testing.T, cfg config.PipelineConfig, llm schemas.LLMClient, cols ...collectors.Collector) *Engine {
	t.Helper()

	runner := collectors.NewRunner(zap.NewNop(), config.CollectorsConfig{
		OuterTimeout: 5 * time.Second,
		CheckTimeout: time.Second,
	}, cols)

	cal, err := calibration.New(config.CalibrationConfig{Alpha: 0.10})
	require.NoError(t, err)

	return NewEngine(zap.NewNop(), cfg, runner, render.NoopRenderer{}, llm, cal,
		policy.NewEngine(zap.NewNop(), nil))
}

func findNode(t *testing.T, nodes []schemas.DecisionGraphNode, component string) *schemas.DecisionGraphNode {
	t.Helper()
	for i := range nodes {
		if nodes[i].Component == component {
			return &nodes[i]
		}
	}
	return nil
}

func TestScanRejectsInvalidURL(t *testing.T) {
	e := newScanEngine(t, testPipelineConfig(), nil, benignCollector("dnsinfo", 40))

	_, err := e.Scan(context.Background(), "http://")
	assert.Error(t, err)
}

func TestScanThreatIntelOverride(t *testing.T) {
	ti := &stubCollector{
		name: "threatintel",
		max:  60,
		report: &collectors.Report{
			Findings: []schemas.Finding{{
				Check:       "threatintel",
				Result:      schemas.ResultFail,
				Severity:    schemas.SeverityHigh,
				Points:      40,
				MaxPoints:   60,
				Explanation: "listed by two feeds",
			}},
			Facts: collectors.Facts{TIHits: ptrInt(2)},
		},
	}
	e := newScanEngine(t, testPipelineConfig(), nil, benignCollector("dnsinfo", 40), ti)

	result, err := e.Scan(context.Background(), "https://example.com")
	require.NoError(t, err)

	require.NotNil(t, result.Override)
	assert.Equal(t, "ti_multiple_hits", result.Override.Rule)
	assert.Equal(t, schemas.RiskCritical, result.RiskLevel)
	assert.Contains(t, result.Override.Reason, "2")

	policyNode := findNode(t, result.DecisionGraph, "policy")
	require.NotNil(t, policyNode, "the forced verdict must be visible in the graph")
}

func TestScanBranchCorrectionForUnreachable(t *testing.T) {
	dns := &stubCollector{
		name: "dnsinfo",
		max:  40,
		report: &collectors.Report{
			Findings: []schemas.Finding{{
				Check:       "dnsinfo",
				Result:      schemas.ResultFail,
				Severity:    schemas.SeverityMedium,
				Points:      20,
				MaxPoints:   40,
				Explanation: "domain does not resolve",
			}},
			Facts: collectors.Facts{Reachability: schemas.ReachabilityUnreachable},
		},
	}
	e := newScanEngine(t, testPipelineConfig(), nil, dns, benignCollector("tlsinfo", 40))

	result, err := e.Scan(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, schemas.ReachabilityUnreachable, result.Evidence.Reachability)

	// p' = 0.5*p + 0.5*0.35
	want := 0.5*result.Stage1.Probability + 0.5*0.35
	assert.InDelta(t, want, result.Probability, 1e-9)

	require.NotNil(t, findNode(t, result.DecisionGraph, "branch"))
}

func TestScanStage2GateSkipsWhenConfident(t *testing.T) {
	e := newScanEngine(t, testPipelineConfig(), nil, benignCollector("dnsinfo", 40))

	result, err := e.Scan(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Nil(t, result.Stage2)
	require.NotNil(t, findNode(t, result.DecisionGraph, "stage2_gate"),
		"the gate decision is recorded even when stage-2 is skipped")
	assert.Nil(t, findNode(t, result.DecisionGraph, "stage2"))
}

func TestScanStage2RunsAndCombines(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Stage2Threshold = 1.0 // always escalate

	llm := &scriptedLLM{responses: []string{
		`{"probability": 0.9, "verdict": "phishing"}`,
		`{"probability": 0.9, "verdict": "phishing"}`,
		`{"probability": 0.9, "verdict": "phishing"}`,
	}}
	e := newScanEngine(t, cfg, llm, benignCollector("dnsinfo", 40))

	result, err := e.Scan(context.Background(), "https://example.com")
	require.NoError(t, err)

	require.NotNil(t, result.Stage2)
	assert.InDelta(t, 0.9, result.Stage2.Probability, 1e-9)

	// 0.3*stage1 + 0.7*stage2, reachable so no branch movement.
	want := 0.3*result.Stage1.Probability + 0.7*0.9
	assert.InDelta(t, want, result.Probability, 1e-9)
	require.NotNil(t, findNode(t, result.DecisionGraph, "stage2"))
}

func TestScanStage2FullFailureFallsBack(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Stage2Threshold = 1.0

	llm := &scriptedLLM{errs: []error{
		errors.New("quota"), errors.New("quota"), errors.New("quota"),
	}}
	e := newScanEngine(t, cfg, llm, benignCollector("dnsinfo", 40))

	result, err := e.Scan(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Nil(t, result.Stage2, "a failed stage-2 must not appear in the result")
	assert.InDelta(t, result.Stage1.Probability, result.Probability, 1e-9,
		"the verdict falls back to stage-1")

	fallback := findNode(t, result.DecisionGraph, "stage2")
	require.NotNil(t, fallback, "the fallback is still recorded")
	assert.Contains(t, string(fallback.Output), "fallback")
}

func TestScanDegradedCollectorLowersCompleteness(t *testing.T) {
	broken := &stubCollector{name: "headers", max: 25, err: errors.New("connection refused")}
	e := newScanEngine(t, testPipelineConfig(), nil, benignCollector("dnsinfo", 40), broken)

	result, err := e.Scan(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Evidence.CollectorsCompleted)
	assert.Equal(t, 2, result.Evidence.CollectorsTotal)
	assert.InDelta(t, 65, result.MaxScore, 1e-9, "a degraded collector still counts toward the ceiling")

	var degraded *schemas.Finding
	for i := range result.Findings {
		if result.Findings[i].Check == "headers" {
			degraded = &result.Findings[i]
		}
	}
	require.NotNil(t, degraded)
	assert.Equal(t, schemas.ResultError, degraded.Result)
	assert.Zero(t, degraded.Points)
	assert.Contains(t, degraded.Explanation, "connection refused")
}

func TestScanIntervalContainsProbability(t *testing.T) {
	e := newScanEngine(t, testPipelineConfig(), nil, benignCollector("dnsinfo", 40))

	result, err := e.Scan(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.LessOrEqual(t, result.Interval.Lower, result.Probability)
	assert.LessOrEqual(t, result.Probability, result.Interval.Upper)
	assert.NotEmpty(t, result.ID)
	assert.False(t, result.ScannedAt.IsZero())
}
