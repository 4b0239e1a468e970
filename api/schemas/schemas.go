package schemas

import (
	"time"
)

// -- Risk Level Schemas --

// RiskLevel is the discrete verdict band presented to callers. The values are
// lowercase to align with database ENUMs and the public API.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskRank orders risk levels from least to most severe.
var riskRank = map[RiskLevel]int{
	RiskSafe:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the ordinal position of the level (safe=0 .. critical=4).
// Unknown levels rank below safe so they can never out-vote a real verdict.
func (r RiskLevel) Rank() int {
	if rank, ok := riskRank[r]; ok {
		return rank
	}
	return -1
}

// AtLeast reports whether r is as severe as other or more so.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// Max returns the more severe of the two levels.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Rank() > r.Rank() {
		return other
	}
	return r
}

// RiskLevelForScore maps a riskScore/maxScore ratio onto the discrete bands.
// The mapping is monotonic: a higher score can never produce a lower level.
func RiskLevelForScore(score, maxScore float64) RiskLevel {
	if maxScore <= 0 {
		return RiskSafe
	}
	ratio := score / maxScore
	switch {
	case ratio < 0.10:
		return RiskSafe
	case ratio < 0.25:
		return RiskLow
	case ratio < 0.45:
		return RiskMedium
	case ratio < 0.70:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// -- Severity Schemas --

// Severity classifies a single finding or threat indicator.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity (info=0 .. critical=4).
func (s Severity) Rank() int {
	if rank, ok := severityRank[s]; ok {
		return rank
	}
	return -1
}

// Max returns the more severe of the two severities.
func (s Severity) Max(other Severity) Severity {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// -- Reachability Schemas --

// Reachability classifies how the target responded when fetched. It drives
// the branch-correction stage of the pipeline.
type Reachability string

const (
	ReachabilityReachable   Reachability = "reachable"
	ReachabilityUnreachable Reachability = "unreachable"
	ReachabilityRedirected  Reachability = "redirected"
	ReachabilityParked      Reachability = "parked"
)

// -- Scan Job Schemas --

// JobStatus tracks the lifecycle of a queued scan job. A job transitions
// processing -> completed or processing -> failed exactly once.
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ScanJob is the persistent unit of work consumed by the worker pool.
type ScanJob struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error captures the terminal failure reason for operator visibility.
	// Empty unless Status is failed.
	Error string `json:"error,omitempty"`
}
