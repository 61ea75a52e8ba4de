/*
rules.go - Validation rule engine: advisory and fatal invariant checks

PURPOSE:
  Evaluates pool-bound and cross-pool invariants after each mutation (or on
  demand). Rules never mutate state and violations are returned, never
  thrown - callers decide whether Error-severity findings should block
  further writes.

RULE TARGETS:
  PoolRange:          balance within [min, max] per pool      (Warning)
  CrossPoolRatio:     sustainability ratio above a floor      (Warning)
  BatchIntegrity:     no invalid reconciliation events        (Warning)
  TemporalContinuity: sealed slice N closing == N+1 opening   (Warning)
  ChainIntegrity:     full hash chain verifies                (Error)

SEE ALSO:
  - engine.go: Runs Evaluate after every mutation; maps findings to health
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULES AND VIOLATIONS
// =============================================================================

type RuleTarget string

const (
	RulePoolRange          RuleTarget = "pool_range"
	RuleCrossPoolRatio     RuleTarget = "cross_pool_ratio"
	RuleBatchIntegrity     RuleTarget = "batch_integrity"
	RuleTemporalContinuity RuleTarget = "temporal_continuity"
	RuleChainIntegrity     RuleTarget = "chain_integrity"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type ValidationRule struct {
	ID       string
	Target   RuleTarget
	Severity Severity

	// MinRatio applies to CrossPoolRatio rules.
	MinRatio decimal.Decimal
}

// Violation is a finding. It carries enough context to act on without
// re-running the check.
type Violation struct {
	RuleID   string
	Target   RuleTarget
	Severity Severity
	PoolID   PoolID // empty for cross-pool and chain findings
	Message  string
}

// =============================================================================
// RULE ENGINE
// =============================================================================

// RuleEngine evaluates the configured rules against read-only views of the
// registry, event store, and slice manager.
type RuleEngine struct {
	rules      []ValidationRule
	registry   *Registry
	events     *EventStore
	slices     *SliceManager
	systemPool PoolID
}

// DefaultRules returns the standard rule set for a facility instance.
func DefaultRules(minSustainabilityRatio decimal.Decimal) []ValidationRule {
	return []ValidationRule{
		{ID: "pool-range", Target: RulePoolRange, Severity: SeverityWarning},
		{ID: "sustainability-floor", Target: RuleCrossPoolRatio, Severity: SeverityWarning, MinRatio: minSustainabilityRatio},
		{ID: "batch-integrity", Target: RuleBatchIntegrity, Severity: SeverityWarning},
		{ID: "slice-continuity", Target: RuleTemporalContinuity, Severity: SeverityWarning},
		{ID: "chain-integrity", Target: RuleChainIntegrity, Severity: SeverityError},
	}
}

func NewRuleEngine(rules []ValidationRule, registry *Registry, events *EventStore, slices *SliceManager, systemPool PoolID) *RuleEngine {
	return &RuleEngine{
		rules:      rules,
		registry:   registry,
		events:     events,
		slices:     slices,
		systemPool: systemPool,
	}
}

// Evaluate runs every configured rule and returns all findings.
func (re *RuleEngine) Evaluate() []Violation {
	var out []Violation
	for _, rule := range re.rules {
		switch rule.Target {
		case RulePoolRange:
			out = append(out, re.checkPoolRanges(rule)...)
		case RuleCrossPoolRatio:
			out = append(out, re.checkRatio(rule)...)
		case RuleBatchIntegrity:
			out = append(out, re.checkBatches(rule)...)
		case RuleTemporalContinuity:
			out = append(out, re.checkContinuity(rule)...)
		case RuleChainIntegrity:
			out = append(out, re.checkChain(rule)...)
		}
	}
	return out
}

func (re *RuleEngine) checkPoolRanges(rule ValidationRule) []Violation {
	var out []Violation
	for _, p := range re.registry.List() {
		if !p.Active || p.AllowNegative {
			continue
		}
		if p.Balance.LessThan(p.MinBalance) {
			out = append(out, Violation{
				RuleID: rule.ID, Target: rule.Target, Severity: rule.Severity, PoolID: p.ID,
				Message: fmt.Sprintf("balance %s below minimum %s", p.Balance, p.MinBalance),
			})
		}
		if p.MaxBalance.IsPositive() && p.Balance.GreaterThan(p.MaxBalance) {
			out = append(out, Violation{
				RuleID: rule.ID, Target: rule.Target, Severity: rule.Severity, PoolID: p.ID,
				Message: fmt.Sprintf("balance %s above maximum %s", p.Balance, p.MaxBalance),
			})
		}
	}
	return out
}

func (re *RuleEngine) checkRatio(rule ValidationRule) []Violation {
	if !rule.MinRatio.IsPositive() {
		return nil
	}
	sustainable, conventional := re.registry.TotalByClassification(re.systemPool)
	r := ratio(sustainable, conventional)
	if r.LessThan(rule.MinRatio) && sustainable.Add(conventional).IsPositive() {
		return []Violation{{
			RuleID: rule.ID, Target: rule.Target, Severity: rule.Severity,
			Message: fmt.Sprintf("sustainability ratio %s below floor %s", r.StringFixed(4), rule.MinRatio),
		}}
	}
	return nil
}

func (re *RuleEngine) checkBatches(rule ValidationRule) []Violation {
	var out []Violation
	for _, e := range re.events.Events(EventFilter{Kind: KindBatchReconciliation}) {
		if e.Provenance.Status == StatusInvalid {
			out = append(out, Violation{
				RuleID: rule.ID, Target: rule.Target, Severity: rule.Severity, PoolID: e.PoolID,
				Message: fmt.Sprintf("batch %s variance %s beyond tolerance", e.BatchID, e.Metadata[MetaVariance]),
			})
		}
	}
	return out
}

func (re *RuleEngine) checkContinuity(rule ValidationRule) []Violation {
	var out []Violation
	slices := re.slices.All()
	for i := 1; i < len(slices); i++ {
		prev, next := slices[i-1], slices[i]
		if prev.Status != SliceSealed {
			continue
		}
		for id, closing := range prev.ClosingBalances {
			if opening, ok := next.OpeningBalances[id]; !ok || !opening.Equal(closing) {
				out = append(out, Violation{
					RuleID: rule.ID, Target: rule.Target, Severity: rule.Severity, PoolID: id,
					Message: fmt.Sprintf("slice %s closing balance does not match slice %s opening", prev.ID, next.ID),
				})
			}
		}
	}
	return out
}

func (re *RuleEngine) checkChain(rule ValidationRule) []Violation {
	if err := re.events.VerifyChain(); err != nil {
		return []Violation{{
			RuleID: rule.ID, Target: rule.Target, Severity: rule.Severity,
			Message: err.Error(),
		}}
	}
	return nil
}
