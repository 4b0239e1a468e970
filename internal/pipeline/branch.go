// File: internal/pipeline/branch.go
package pipeline

import (
	"github.com/elara-sec/verdict/api/schemas"
)

// branchPrior pulls the model probability toward what we know about targets
// in a given reachability state. An unreachable page gave the models almost
// nothing to look at, so the output leans toward the population prior.
type branchPrior struct {
	Prior  float64
	Weight float64
}

// branchPriors are fixed; reachable is identity and absent by design.
var branchPriors = map[schemas.Reachability]branchPrior{
	schemas.ReachabilityUnreachable: {Prior: 0.35, Weight: 0.5},
	schemas.ReachabilityRedirected:  {Prior: 0.55, Weight: 0.3},
	schemas.ReachabilityParked:      {Prior: 0.30, Weight: 0.4},
}

// branchCorrection is the record appended to the decision graph.
type branchCorrection struct {
	Reachability schemas.Reachability `json:"reachability"`
	Prior        float64              `json:"prior,omitempty"`
	Weight       float64              `json:"weight,omitempty"`
	Before       float64              `json:"probability_before"`
	After        float64              `json:"probability_after"`
}

// correctForBranch blends probability with the branch prior:
// p' = (1-w)*p + w*prior. Reachable targets pass through unchanged.
func correctForBranch(probability float64, reach schemas.Reachability) branchCorrection {
	corr := branchCorrection{
		Reachability: reach,
		Before:       probability,
		After:        probability,
	}
	bp, ok := branchPriors[reach]
	if !ok {
		return corr
	}
	corr.Prior = bp.Prior
	corr.Weight = bp.Weight
	corr.After = (1-bp.Weight)*probability + bp.Weight*bp.Prior
	return corr
}
