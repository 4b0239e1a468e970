// File: internal/policy/engine.go

// Package policy applies deterministic override rules on top of the
// statistical verdict. Rules are evaluated in priority order, first match
// wins, and an override can only raise the risk level, never lower it.
package policy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/metrics"
)

// Rule is one deterministic override. Match inspects the evidence only; the
// statistical outputs are never inputs to policy.
type Rule struct {
	Name     string
	Priority int
	Level    schemas.RiskLevel
	Match    func(ev schemas.EvidenceSummary) (bool, string)
}

// youngDomainDays bounds the "freshly registered" window for rule 2.
const youngDomainDays = 7

// DefaultRules are the shipped overrides, in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "ti_multiple_hits",
			Priority: 1,
			Level:    schemas.RiskCritical,
			Match: func(ev schemas.EvidenceSummary) (bool, string) {
				if ev.TIHits >= 2 {
					return true, fmt.Sprintf("%d independent threat-intelligence sources list this target.", ev.TIHits)
				}
				return false, ""
			},
		},
		{
			Name:     "young_domain_login",
			Priority: 2,
			Level:    schemas.RiskHigh,
			Match: func(ev schemas.EvidenceSummary) (bool, string) {
				if ev.DomainAgeKnown && ev.DomainAgeDays < youngDomainDays && ev.HasLoginForm {
					return true, fmt.Sprintf("A %d-day-old domain is collecting credentials.", ev.DomainAgeDays)
				}
				return false, ""
			},
		},
		{
			Name:     "download_without_tls",
			Priority: 3,
			Level:    schemas.RiskHigh,
			Match: func(ev schemas.EvidenceSummary) (bool, string) {
				if ev.AutoDownload && !ev.TLSValid {
					return true, "The page pushes an automatic download without a valid TLS certificate."
				}
				return false, ""
			},
		},
		{
			Name:     "ti_critical_hit",
			Priority: 4,
			Level:    schemas.RiskCritical,
			Match: func(ev schemas.EvidenceSummary) (bool, string) {
				if ev.TICriticalHits >= 1 {
					return true, "A critical-severity threat indicator matches this target."
				}
				return false, ""
			},
		},
	}
}

// Engine evaluates the rule set against scan evidence.
type Engine struct {
	logger *zap.Logger
	rules  []Rule
}

func NewEngine(logger *zap.Logger, rules []Rule) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Engine{logger: logger.Named("policy"), rules: rules}
}

// Evaluate returns the first matching override, or nil. The forced level is
// floored at the statistical level: policy raises verdicts, never lowers
// them.
func (e *Engine) Evaluate(ev schemas.EvidenceSummary, statistical schemas.RiskLevel) *schemas.PolicyOverride {
	for _, rule := range e.rules {
		matched, reason := rule.Match(ev)
		if !matched {
			continue
		}

		forced := rule.Level.Max(statistical)
		e.logger.Info("Policy override applied.",
			zap.String("rule", rule.Name),
			zap.String("forced_level", string(forced)),
			zap.String("reason", reason))
		metrics.PolicyOverrides.WithLabelValues(rule.Name).Inc()

		return &schemas.PolicyOverride{
			Rule:        rule.Name,
			ForcedLevel: forced,
			Reason:      reason,
			Priority:    rule.Priority,
		}
	}
	return nil
}
