package schemas

import (
	"encoding/json"
	"fmt"
	"time"
)

// -- Pipeline Stage Schemas --

// StageOutput is the combined verdict of one model stage. Signals carries the
// per-model probabilities that went into the combination, keyed by model name
// (url_lexical_a, tabular_risk, text_persuasion, ...).
type StageOutput struct {
	Probability float64            `json:"probability"`
	Confidence  float64            `json:"confidence"`
	Signals     map[string]float64 `json:"signals,omitempty"`
}

// ConfidenceInterval is a calibrated [lower, upper] band with known coverage.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// PolicyOverride records a deterministic rule that forced the verdict. The
// statistical outputs are preserved alongside for transparency, but the
// RiskLevel the caller sees reflects the override.
type PolicyOverride struct {
	Rule        string    `json:"rule"`
	ForcedLevel RiskLevel `json:"forced_level"`
	Reason      string    `json:"reason"`
	Priority    int       `json:"priority"`
}

// DecisionGraphNode is one entry in the append-only explanation log. One node
// per pipeline stage that materially affected the outcome; never mutated
// after the scan completes.
type DecisionGraphNode struct {
	Component    string          `json:"component"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Contribution float64         `json:"contribution"`
}

// -- Scan Result --

// ScanResult is the aggregate root produced by one run of the scoring
// pipeline. Invariants: RiskScore <= MaxScore; Interval.Lower <= Probability
// <= Interval.Upper; if PolicyOverride is present, RiskLevel equals the
// override's forced level regardless of Probability.
type ScanResult struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ScannedAt time.Time `json:"scanned_at"`

	RiskScore float64   `json:"risk_score"`
	MaxScore  float64   `json:"max_score"`
	RiskLevel RiskLevel `json:"risk_level"`

	Probability float64            `json:"probability"`
	Interval    ConfidenceInterval `json:"confidence_interval"`

	Stage1 StageOutput  `json:"stage1"`
	Stage2 *StageOutput `json:"stage2,omitempty"`

	Evidence      EvidenceSummary     `json:"evidence"`
	Findings      []Finding           `json:"findings"`
	Categories    map[string]float64  `json:"categories,omitempty"`
	Override      *PolicyOverride     `json:"policy_override,omitempty"`
	DecisionGraph []DecisionGraphNode `json:"decision_graph"`
}

// Validate checks the result's structural invariants. A violation here is a
// programming defect in the scoring pipeline, not a recoverable condition.
func (r *ScanResult) Validate() error {
	if r.RiskScore < 0 || r.RiskScore > r.MaxScore {
		return fmt.Errorf("risk score %.2f outside [0, %.2f]", r.RiskScore, r.MaxScore)
	}
	if r.Probability < 0 || r.Probability > 1 {
		return fmt.Errorf("probability %.4f outside [0, 1]", r.Probability)
	}
	if r.Interval.Lower > r.Probability || r.Probability > r.Interval.Upper {
		return fmt.Errorf("probability %.4f outside interval [%.4f, %.4f]",
			r.Probability, r.Interval.Lower, r.Interval.Upper)
	}
	if r.Override != nil && r.RiskLevel != r.Override.ForcedLevel {
		return fmt.Errorf("risk level %q does not honor policy override %q",
			r.RiskLevel, r.Override.ForcedLevel)
	}
	return nil
}

// -- Consensus / Explainer Schemas --

// TechnicalLevel selects the register of the generated explanation.
type TechnicalLevel string

const (
	LevelBasic        TechnicalLevel = "basic"
	LevelIntermediate TechnicalLevel = "intermediate"
	LevelAdvanced     TechnicalLevel = "advanced"
)

// UserContext carries the caller's presentation preferences.
type UserContext struct {
	TechnicalLevel TechnicalLevel `json:"technical_level"`
	Language       string         `json:"language"`
}

// ConsensusRequest asks the explainer to summarize a finalized ScanResult.
type ConsensusRequest struct {
	ScanID      string      `json:"scan_id"`
	Result      *ScanResult `json:"scan_result"`
	UserContext UserContext `json:"user_context"`
}

// DecisionFactor is one entry of the decision breakdown, ordered by how much
// the stage moved the final score.
type DecisionFactor struct {
	Component    string  `json:"component"`
	Contribution float64 `json:"contribution"`
	Summary      string  `json:"summary"`
}

// ConsensusResponse is the explainer's output. DetailedExplanation is empty
// when the text-generation backend is unavailable; the structured fields are
// always populated.
type ConsensusResponse struct {
	Summary             string           `json:"summary"`
	DetailedExplanation string           `json:"detailed_explanation,omitempty"`
	KeyFindings         []string         `json:"key_findings"`
	DecisionBreakdown   []DecisionFactor `json:"decision_breakdown"`
	RecommendedActions  []string         `json:"recommended_actions"`
}
