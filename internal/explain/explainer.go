// File: internal/explain/explainer.go

// Package explain turns a finalized scan result into a human-facing
// consensus explanation. The structured parts are deterministic; the prose
// enrichment uses the LLM when one is available and degrades silently when
// not.
package explain

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/config"
	"github.com/elara-sec/verdict/internal/metrics"
)

const maxKeyFindings = 5

// Explainer produces ConsensusResponses for completed scans.
type Explainer struct {
	logger *zap.Logger
	cfg    config.ExplainerConfig
	llm    schemas.LLMClient
}

func New(logger *zap.Logger, cfg config.ExplainerConfig, llm schemas.LLMClient) *Explainer {
	return &Explainer{
		logger: logger.Named("explainer"),
		cfg:    cfg,
		llm:    llm,
	}
}

// Explain builds the consensus explanation. The structured fields are always
// populated; DetailedExplanation stays empty when text generation is
// unavailable. The only error paths are a nil result or caller cancellation.
func (e *Explainer) Explain(ctx context.Context, req schemas.ConsensusRequest) (*schemas.ConsensusResponse, error) {
	if req.Result == nil {
		return nil, fmt.Errorf("consensus request carries no scan result")
	}
	result := req.Result

	resp := &schemas.ConsensusResponse{
		Summary:            buildSummary(result),
		KeyFindings:        keyFindings(result.Findings),
		DecisionBreakdown:  decisionBreakdown(result.DecisionGraph),
		RecommendedActions: recommendedActions(result),
	}

	if e.cfg.Enabled && e.llm != nil {
		detailed, err := e.enrich(ctx, req, resp)
		if err != nil {
			// Prose is optional; the structured response stands alone.
			e.logger.Warn("Explanation enrichment unavailable.", zap.Error(err))
		} else {
			resp.DetailedExplanation = detailed
		}
	}

	return resp, nil
}

func buildSummary(result *schemas.ScanResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is rated %s risk (probability %.0f%%, interval %.0f%%-%.0f%%).",
		result.URL, result.RiskLevel,
		result.Probability*100, result.Interval.Lower*100, result.Interval.Upper*100)
	if result.Override != nil {
		fmt.Fprintf(&b, " A policy rule forced this verdict: %s", result.Override.Reason)
	}
	return b.String()
}

// keyFindings surfaces the highest-scoring adverse findings.
func keyFindings(findings []schemas.Finding) []string {
	adverse := make([]schemas.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Points > 0 {
			adverse = append(adverse, f)
		}
	}
	sort.SliceStable(adverse, func(i, j int) bool {
		return adverse[i].Points > adverse[j].Points
	})
	if len(adverse) > maxKeyFindings {
		adverse = adverse[:maxKeyFindings]
	}

	out := make([]string, 0, len(adverse))
	for _, f := range adverse {
		out = append(out, f.Explanation)
	}
	return out
}

// decisionBreakdown orders pipeline stages by how much they moved the final
// verdict.
func decisionBreakdown(nodes []schemas.DecisionGraphNode) []schemas.DecisionFactor {
	factors := make([]schemas.DecisionFactor, 0, len(nodes))
	for _, node := range nodes {
		factors = append(factors, schemas.DecisionFactor{
			Component:    node.Component,
			Contribution: node.Contribution,
			Summary:      componentSummary(node.Component),
		})
	}
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Contribution > factors[j].Contribution
	})
	return factors
}

func componentSummary(component string) string {
	switch component {
	case "collectors":
		return "Evidence gathered directly from the target (DNS, TLS, content, threat intelligence)."
	case "stage1":
		return "Fast lexical and tabular risk models over the URL and evidence."
	case "stage2_gate":
		return "Decision whether deep analysis was warranted."
	case "stage2":
		return "Deep analysis: page persuasion signals and multi-model AI consensus."
	case "branch":
		return "Correction for how the target responded when fetched."
	case "calibration":
		return "Conversion of the raw score into a probability with a known-coverage interval."
	case "policy":
		return "Deterministic override rules for unambiguous threat signals."
	default:
		return ""
	}
}

func recommendedActions(result *schemas.ScanResult) []string {
	switch result.RiskLevel {
	case schemas.RiskCritical:
		return []string{
			"Do not visit this URL or enter any information on it.",
			"Block the domain at your network perimeter.",
			"Report the URL to your security team.",
		}
	case schemas.RiskHigh:
		return []string{
			"Avoid entering credentials or personal data on this site.",
			"Verify the site through an independent, trusted channel before use.",
		}
	case schemas.RiskMedium:
		return []string{
			"Proceed with caution and verify the site's identity before sharing data.",
		}
	default:
		return []string{
			"No specific action required; standard browsing caution applies.",
		}
	}
}

const enrichSystemPrompt = `You are a security analyst explaining a URL risk assessment to a user. Write a clear explanation of the verdict using only the facts provided. Do not invent evidence. Match the requested technical level and language.`

func (e *Explainer) enrich(ctx context.Context, req schemas.ConsensusRequest, structured *schemas.ConsensusResponse) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	level := req.UserContext.TechnicalLevel
	if level == "" {
		level = schemas.LevelIntermediate
	}
	language := req.UserContext.Language
	if language == "" {
		language = e.cfg.DefaultLanguage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Technical level: %s\nLanguage: %s\n\n", level, language)
	fmt.Fprintf(&b, "Verdict summary: %s\n\nKey findings:\n", structured.Summary)
	for _, f := range structured.KeyFindings {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	fmt.Fprintf(&b, "\nDecision factors (by contribution):\n")
	for _, factor := range structured.DecisionBreakdown {
		fmt.Fprintf(&b, "- %s (%.0f%%): %s\n", factor.Component, factor.Contribution*100, factor.Summary)
	}

	out, err := e.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: enrichSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.3},
	})
	if err != nil {
		metrics.LLMRequests.WithLabelValues(string(schemas.TierPowerful), "error").Inc()
		return "", err
	}
	metrics.LLMRequests.WithLabelValues(string(schemas.TierPowerful), "ok").Inc()
	return strings.TrimSpace(out), nil
}
