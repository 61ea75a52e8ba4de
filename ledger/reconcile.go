/*
reconcile.go - Batch reconciliation: expected vs. actual mass

PURPOSE:
  Records the variance between the mass a batch was expected to contain and
  the mass actually measured. The variance books against the system
  adjustment pool, not a production pool - an adjustment is bookkeeping,
  not a physical flow.

AUDIT TRAILS RECORD FAILURES:
  A variance beyond tolerance does NOT reject the write. The event is
  appended with validation status Invalid so the anomaly is captured, not
  hidden. Hiding a failed check would misrepresent the trail.

SEE ALSO:
  - engine.go: Wires the system pool and configured tolerance
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Metadata keys carried by reconciliation events.
const (
	MetaExpectedQuantity = "expected_quantity"
	MetaActualQuantity   = "actual_quantity"
	MetaVariance         = "variance"
	MetaTolerance        = "tolerance"
	MetaReasonCode       = "reason_code"
)

// ReconcileResult is the outcome of a recorded reconciliation.
type ReconcileResult struct {
	Event           LedgerEvent
	Variance        decimal.Decimal
	WithinTolerance bool
}

// Reconciler records batch variances against the system pool.
type Reconciler struct {
	events     *EventStore
	systemPool PoolID
	tolerance  decimal.Decimal // fraction of expected, e.g. 0.01
	unit       Unit
}

func NewReconciler(events *EventStore, systemPool PoolID, tolerance decimal.Decimal, unit Unit) *Reconciler {
	return &Reconciler{events: events, systemPool: systemPool, tolerance: tolerance, unit: unit}
}

// Reconcile records variance = actual - expected for a batch. Requires
// expected > 0 and actual >= 0. A zero variance is recorded too: the audit
// trail should show that the batch was checked.
func (r *Reconciler) Reconcile(ctx context.Context, batch BatchID, actual, expected decimal.Decimal, reasonCode string, prov Provenance) (*ReconcileResult, error) {
	if !expected.IsPositive() || actual.IsNegative() {
		return nil, ErrInvalidQuantity
	}

	variance := actual.Sub(expected)
	limit := r.tolerance.Mul(expected)
	within := !variance.Abs().GreaterThan(limit)

	prov.Status = StatusValid
	if !within {
		prov.Status = StatusInvalid
	}

	draft := EventDraft{
		Kind:       KindBatchReconciliation,
		PoolID:     r.systemPool,
		Quantity:   Quantity{Value: variance, Unit: r.unit},
		BatchID:    batch,
		Provenance: prov,
		Metadata: map[string]string{
			MetaExpectedQuantity: expected.String(),
			MetaActualQuantity:   actual.String(),
			MetaVariance:         variance.String(),
			MetaTolerance:        r.tolerance.String(),
			MetaReasonCode:       reasonCode,
		},
	}

	event, err := r.events.Append(ctx, draft)
	if err != nil {
		return nil, err
	}

	return &ReconcileResult{Event: event, Variance: variance, WithinTolerance: within}, nil
}
