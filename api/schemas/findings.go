package schemas

import (
	"encoding/json"
)

// -- Finding Schemas --

// CheckResult is the outcome of a single collector sub-check. Failures inside
// a collector are surfaced explicitly ("timeout"/"error") instead of being
// silently omitted, so degraded evidence is always visible in the result.
type CheckResult string

const (
	ResultPass    CheckResult = "pass"
	ResultFail    CheckResult = "fail"
	ResultWarn    CheckResult = "warn"
	ResultTimeout CheckResult = "timeout"
	ResultError   CheckResult = "error"
	ResultSkipped CheckResult = "skipped"
)

// Finding is one scored observation emitted by an evidence collector.
// Points are additive penalties; a collector's finding points never exceed
// its declared MaxPoints budget.
type Finding struct {
	Check       string      `json:"check"`
	Result      CheckResult `json:"result"`
	Severity    Severity    `json:"severity"`
	Points      float64     `json:"points"`
	MaxPoints   float64     `json:"max_points"`
	Explanation string      `json:"explanation"`

	// Evidence is structured, machine-readable proof backing the finding,
	// stored as JSONB in the database.
	Evidence json.RawMessage `json:"evidence,omitempty"`
}

// EvidenceSummary is the per-scan snapshot of collector facts consumed by
// Stage-1 features, branch correction, and the policy engine. Immutable once
// the collector phase completes.
type EvidenceSummary struct {
	DomainAgeDays       int          `json:"domain_age_days"`
	DomainAgeKnown      bool         `json:"domain_age_known"`
	TLSValid            bool         `json:"tls_valid"`
	TIHits              int          `json:"ti_hits"`
	TICriticalHits      int          `json:"ti_critical_hits"`
	HasLoginForm        bool         `json:"has_login_form"`
	FormOriginMismatch  bool         `json:"form_origin_mismatch"`
	AutoDownload        bool         `json:"auto_download"`
	Reachability        Reachability `json:"reachability"`
	CollectorsCompleted int          `json:"collectors_completed"`
	CollectorsTotal     int          `json:"collectors_total"`
}

// Completeness is the fraction of collectors that finished cleanly, in
// [0, 1]. Used by the calibrator to widen intervals under evidence scarcity.
func (e EvidenceSummary) Completeness() float64 {
	if e.CollectorsTotal <= 0 {
		return 0
	}
	return float64(e.CollectorsCompleted) / float64(e.CollectorsTotal)
}
