/*
summary.go - Mass-balance summary over a reporting period

PURPOSE:
  Aggregates period events into the figures an auditor asks for: certified
  vs. conventional inflow and outflow, closing balances, sustainability
  ratio, process efficiency, and an integrity verdict.

CLOSING BALANCES - AS OF WHEN?
  A period that ends in the past must not report today's balances as its
  closing balances. When a sealed slice boundary falls at or before the
  period end, the calculator reconstructs the as-of-then balance from the
  nearest sealed slice snapshot plus the events between that boundary and
  the period end. Only a period extending to now reads live balances.

SEE ALSO:
  - slice.go: The sealed snapshots reconstruction is built on
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MASS BALANCE SUMMARY - Derived, never stored
// =============================================================================

type MassBalanceSummary struct {
	Period Period

	SustainableInflow   decimal.Decimal
	SustainableOutflow  decimal.Decimal
	ConventionalInflow  decimal.Decimal
	ConventionalOutflow decimal.Decimal

	// Closing balances as of period end (reconstructed; see file header).
	SustainableBalance  decimal.Decimal
	ConventionalBalance decimal.Decimal

	// sustainable / (sustainable + conventional); zero when both are zero.
	SustainabilityRatio decimal.Decimal

	// outward / inward over the period, capped at 1.
	Efficiency decimal.Decimal

	// Estimated CO2e avoided by the certified share of inflow.
	CarbonAvoidedKg decimal.Decimal

	Integrity IntegrityReport
}

// IntegrityReport carries the audit verdict for the period.
type IntegrityReport struct {
	ChainValid      bool
	Tolerance       decimal.Decimal
	Variance        decimal.Decimal // net reconciliation variance in period
	WithinTolerance bool            // no invalid reconciliation in period
}

// =============================================================================
// SUMMARY CALCULATOR - Read-only over events, registry, slices
// =============================================================================

type SummaryCalculator struct {
	events       *EventStore
	registry     *Registry
	slices       *SliceManager
	systemPool   PoolID
	tolerance    decimal.Decimal
	carbonFactor decimal.Decimal // kg CO2e avoided per kg certified inflow
}

func NewSummaryCalculator(events *EventStore, registry *Registry, slices *SliceManager, systemPool PoolID, tolerance, carbonFactor decimal.Decimal) *SummaryCalculator {
	return &SummaryCalculator{
		events:       events,
		registry:     registry,
		slices:       slices,
		systemPool:   systemPool,
		tolerance:    tolerance,
		carbonFactor: carbonFactor,
	}
}

// Summarize aggregates the period. Fails only on a malformed period; an
// empty period yields a zero summary with a valid integrity verdict.
func (c *SummaryCalculator) Summarize(period Period) (MassBalanceSummary, error) {
	if !period.Valid() {
		return MassBalanceSummary{}, ErrInvalidPeriod
	}

	s := MassBalanceSummary{Period: period}
	s.Integrity.Tolerance = c.tolerance
	s.Integrity.WithinTolerance = true

	for _, e := range c.events.Events(EventFilter{From: period.Start, To: period.End}) {
		switch e.Kind {
		case KindInwardSustainable:
			s.SustainableInflow = s.SustainableInflow.Add(e.Quantity.Value)
		case KindInwardConventional:
			s.ConventionalInflow = s.ConventionalInflow.Add(e.Quantity.Value)
		case KindOutwardSustainable:
			s.SustainableOutflow = s.SustainableOutflow.Add(e.Quantity.Value.Abs())
		case KindOutwardConventional:
			s.ConventionalOutflow = s.ConventionalOutflow.Add(e.Quantity.Value.Abs())
		case KindTransformation:
			c.addTransformationLeg(&s, e)
		case KindBatchReconciliation:
			s.Integrity.Variance = s.Integrity.Variance.Add(e.Quantity.Value)
			if e.Provenance.Status == StatusInvalid {
				s.Integrity.WithinTolerance = false
			}
		}
	}

	s.SustainableBalance, s.ConventionalBalance = c.closingBalances(period)
	s.SustainabilityRatio = ratio(s.SustainableBalance, s.ConventionalBalance)

	inflow := s.SustainableInflow.Add(s.ConventionalInflow)
	outflow := s.SustainableOutflow.Add(s.ConventionalOutflow)
	if inflow.IsPositive() {
		s.Efficiency = outflow.Div(inflow)
		if s.Efficiency.GreaterThan(decimal.NewFromInt(1)) {
			s.Efficiency = decimal.NewFromInt(1)
		}
	}

	s.CarbonAvoidedKg = s.SustainableInflow.Mul(c.carbonFactor)
	s.Integrity.ChainValid = c.events.VerifyChain() == nil
	return s, nil
}

// addTransformationLeg attributes a transformation leg to the flow totals
// of the pool's classification: the source leg counts as outflow, the
// target leg as inflow. The difference between the two legs is the process
// loss, recoverable from either leg's metadata.
func (c *SummaryCalculator) addTransformationLeg(s *MassBalanceSummary, e LedgerEvent) {
	pool, err := c.registry.Get(e.PoolID)
	if err != nil {
		return
	}
	v := e.Quantity.Value
	switch {
	case v.IsNegative() && pool.Classification == ClassSustainable:
		s.SustainableOutflow = s.SustainableOutflow.Add(v.Abs())
	case v.IsNegative():
		s.ConventionalOutflow = s.ConventionalOutflow.Add(v.Abs())
	case pool.Classification == ClassSustainable:
		s.SustainableInflow = s.SustainableInflow.Add(v)
	default:
		s.ConventionalInflow = s.ConventionalInflow.Add(v)
	}
}

// closingBalances reconstructs per-classification balances as of the
// period end. Base: the nearest sealed slice snapshot at or before the
// end; on top, every event between the snapshot and the end. Without a
// usable snapshot it replays the full log up to the end, which is exact
// but unbounded; with one it is bounded by the slice width.
func (c *SummaryCalculator) closingBalances(period Period) (sustainable, conventional decimal.Decimal) {
	balances := make(map[PoolID]decimal.Decimal)

	base, ok := c.slices.LatestSealedBefore(period.End)
	var from EventFilter
	if ok {
		for id, v := range base.ClosingBalances {
			balances[id] = v
		}
		from = EventFilter{From: base.End, To: period.End}
	} else {
		from = EventFilter{To: period.End}
	}

	for _, e := range c.events.Events(from) {
		// The slice snapshot already includes events at exactly base.End.
		if ok && !e.Timestamp.After(base.End) {
			continue
		}
		balances[e.PoolID] = balances[e.PoolID].Add(e.Quantity.Value)
	}

	for id, v := range balances {
		if id == c.systemPool {
			continue
		}
		pool, err := c.registry.Get(id)
		if err != nil {
			continue
		}
		if pool.Classification == ClassSustainable {
			sustainable = sustainable.Add(v)
		} else {
			conventional = conventional.Add(v)
		}
	}
	return sustainable, conventional
}

func ratio(part, rest decimal.Decimal) decimal.Decimal {
	total := part.Add(rest)
	if !total.IsPositive() {
		return decimal.Zero
	}
	return part.Div(total)
}
