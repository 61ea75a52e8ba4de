/*
transform.go - Transformation processor: source pool -> target pool at a yield

PURPOSE:
  Converts mass from a source pool into a target pool through a process
  step that loses some of it (e.g. polymerization, carbonization). This is
  the one place conservation of mass breaks BY DESIGN: the yield factor
  says how much survives, and the loss must stay auditable.

LINKED PAIR:
  A transformation emits an outward event on the source for the full input
  and an inward event on the target for input x yield. Each leg carries the
  counterpart pool id, the yield factor, and a shared transformation id in
  metadata, so the pairing - and the process loss - is reconstructible from
  either leg.

SEE ALSO:
  - eventstore.go: AppendPair, the all-or-nothing persistence of both legs
*/
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Metadata keys carried by both legs of a transformation.
const (
	MetaTransformationID = "transformation_id"
	MetaCounterpartPool  = "counterpart_pool"
	MetaYieldFactor      = "yield_factor"
	MetaInputQuantity    = "input_quantity"
	MetaOutputQuantity   = "output_quantity"
	MetaProcessLoss      = "process_loss"
	MetaLegRole          = "leg" // "source" or "target"
)

// TransformResult is the outcome of a committed transformation.
type TransformResult struct {
	Outward     LedgerEvent
	Inward      LedgerEvent
	ProcessLoss Quantity
}

// Transformer emits linked event pairs for yield-factor conversions.
type Transformer struct {
	registry *Registry
	events   *EventStore
}

func NewTransformer(registry *Registry, events *EventStore) *Transformer {
	return &Transformer{registry: registry, events: events}
}

// Transform moves inputQty from source to target at the given yield.
//
// Preconditions, checked before anything is written:
//   - inputQty > 0
//   - 0 < yield <= 1
//   - both pools exist and are active
//   - source balance covers inputQty
//
// outputQty = inputQty x yield; process loss = inputQty - outputQty >= 0.
func (t *Transformer) Transform(ctx context.Context, source, target PoolID, inputQty Quantity, yield decimal.Decimal, reference string, prov Provenance) (*TransformResult, error) {
	if !inputQty.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	if !yield.IsPositive() || yield.GreaterThan(decimal.NewFromInt(1)) {
		return nil, ErrInvalidYieldFactor
	}

	src, err := t.registry.Get(source)
	if err != nil {
		return nil, err
	}
	if !src.Active {
		return nil, ErrPoolInactive
	}
	dst, err := t.registry.Get(target)
	if err != nil {
		return nil, err
	}
	if !dst.Active {
		return nil, ErrPoolInactive
	}
	if src.Balance.LessThan(inputQty.Value) {
		return nil, &InsufficientBalanceError{
			PoolID:    source,
			Available: src.Balance,
			Requested: inputQty.Value,
		}
	}

	outputQty := inputQty.Mul(yield)
	loss := inputQty.Sub(outputQty)
	txID := uuid.NewString()

	shared := map[string]string{
		MetaTransformationID: txID,
		MetaYieldFactor:      yield.String(),
		MetaInputQuantity:    inputQty.Value.String(),
		MetaOutputQuantity:   outputQty.Value.String(),
		MetaProcessLoss:      loss.Value.String(),
	}

	outMeta := cloneMeta(shared)
	outMeta[MetaCounterpartPool] = string(target)
	outMeta[MetaLegRole] = "source"

	inMeta := cloneMeta(shared)
	inMeta[MetaCounterpartPool] = string(source)
	inMeta[MetaLegRole] = "target"

	outward, inward, err := t.events.AppendPair(ctx,
		EventDraft{
			Kind:       KindTransformation,
			PoolID:     source,
			Quantity:   inputQty.Neg(),
			Reference:  reference,
			Provenance: prov,
			Metadata:   outMeta,
		},
		EventDraft{
			Kind:       KindTransformation,
			PoolID:     target,
			Quantity:   outputQty,
			Reference:  reference,
			Provenance: prov,
			Metadata:   inMeta,
		},
	)
	if err != nil {
		return nil, err
	}

	return &TransformResult{Outward: outward, Inward: inward, ProcessLoss: loss}, nil
}

func cloneMeta(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
