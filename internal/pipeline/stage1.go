// File: internal/pipeline/stage1.go
package pipeline

import (
	"math"
	"strings"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/collectors"
)

// Stage-1 is the cheap, deterministic tier: three heuristic models over the
// URL string and the collector evidence. It always runs and its confidence
// decides whether the expensive Stage-2 tier is worth invoking.

// stage1Weights combine the three model probabilities. The tabular model
// dominates because it sees actual evidence rather than just the string.
var stage1Weights = map[string]float64{
	"url_lexical_a": 0.3,
	"url_lexical_b": 0.3,
	"tabular_risk":  0.4,
}

// suspiciousTLDs over-represented in abuse feeds relative to legitimate
// registrations.
var suspiciousTLDs = map[string]bool{
	"xyz": true, "top": true, "icu": true, "tk": true, "ml": true,
	"ga": true, "cf": true, "gq": true, "work": true, "click": true,
	"link": true, "rest": true, "zip": true, "mov": true,
}

// runStage1 produces the combined Stage-1 output. Confidence is model
// agreement (1 - dispersion) scaled by evidence completeness: disagreeing
// models or missing collectors both push the pipeline toward Stage-2.
func runStage1(target *collectors.Target, evidence schemas.EvidenceSummary, scoreRatio float64) schemas.StageOutput {
	signals := map[string]float64{
		"url_lexical_a": urlLexicalA(target),
		"url_lexical_b": urlLexicalB(target),
		"tabular_risk":  tabularRisk(evidence, scoreRatio),
	}

	var combined float64
	for name, p := range signals {
		combined += stage1Weights[name] * p
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range signals {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	dispersion := hi - lo

	confidence := (1 - dispersion) * evidence.Completeness()
	return schemas.StageOutput{
		Probability: clamp01(combined),
		Confidence:  clamp01(confidence),
		Signals:     signals,
	}
}

// urlLexicalA scores character-level URL shape: entropy, digits, length,
// punycode, hyphen stuffing.
func urlLexicalA(target *collectors.Target) float64 {
	host := strings.ToLower(target.Host)
	full := strings.ToLower(target.Raw)

	var score float64

	if e := shannonEntropy(host); e > 3.5 {
		score += math.Min((e-3.5)/1.5, 1) * 0.30
	}

	digits := 0
	for _, r := range host {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if len(host) > 0 {
		score += math.Min(float64(digits)/float64(len(host))/0.3, 1) * 0.20
	}

	if len(full) > 75 {
		score += math.Min(float64(len(full)-75)/125, 1) * 0.20
	}

	if strings.Contains(host, "xn--") {
		score += 0.20
	}

	if hyphens := strings.Count(host, "-"); hyphens >= 2 {
		score += math.Min(float64(hyphens)/5, 1) * 0.10
	}

	return clamp01(score)
}

// urlLexicalB scores token-level URL content: suspicious TLD, subdomain
// depth, credential keywords, raw-IP hosts.
func urlLexicalB(target *collectors.Target) float64 {
	host := strings.ToLower(target.Host)
	path := strings.ToLower(target.URL.Path + "?" + target.URL.RawQuery)

	var score float64

	labels := strings.Split(host, ".")
	if tld := labels[len(labels)-1]; suspiciousTLDs[tld] {
		score += 0.30
	}

	if depth := len(labels) - 2; depth >= 3 {
		score += math.Min(float64(depth)/6, 1) * 0.25
	}

	keywords := 0
	for _, kw := range []string{"login", "verify", "secure", "account", "update", "confirm", "wallet"} {
		if strings.Contains(host, kw) || strings.Contains(path, kw) {
			keywords++
		}
	}
	score += math.Min(float64(keywords)/3, 1) * 0.30

	// Raw IPv4 host: no domain reputation at all.
	if isIPv4(host) {
		score += 0.15
	}

	return clamp01(score)
}

// tabularRisk converts the collector evidence into a probability. The score
// ratio anchors it; the binary facts adjust around that anchor.
func tabularRisk(ev schemas.EvidenceSummary, scoreRatio float64) float64 {
	score := scoreRatio

	if ev.DomainAgeKnown && ev.DomainAgeDays < 30 {
		score += 0.15
	}
	if !ev.TLSValid {
		score += 0.10
	}
	if ev.FormOriginMismatch {
		score += 0.20
	}
	if ev.AutoDownload {
		score += 0.15
	}
	if ev.TIHits > 0 {
		score += 0.20
	}

	return clamp01(score)
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]float64)
	for _, r := range s {
		freq[r]++
	}
	n := float64(len([]rune(s)))
	var entropy float64
	for _, count := range freq {
		p := count / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func isIPv4(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
