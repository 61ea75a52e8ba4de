/*
pool.go - Pool registry: the only component permitted to mutate a balance

PURPOSE:
  Owns the catalog of material pools and their live balances. Balances are
  a derived, rebuildable projection of the event log; the registry applies
  signed deltas on behalf of the event store and enforces the non-negativity
  invariant at apply time.

BOUNDS POLICY:
  ApplyDelta does NOT enforce min/max bounds. Bound breaches are advisory,
  surfaced as Warning violations by the rule engine. Deployments whose
  certification scheme demands hard rejection configure the engine with
  RejectBoundViolations, which checks bounds BEFORE the mutation is applied.

SEE ALSO:
  - eventstore.go: Calls ApplyDelta atomically with event append
  - rules.go: Advisory range checks
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POOL REGISTRY
// =============================================================================

// Registry holds all material pools. It has no lock of its own: the engine
// serializes mutations and holds a shared lock for reads (see engine.go).
type Registry struct {
	pools map[PoolID]*MaterialPool
	order []PoolID // creation order, for stable listings
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[PoolID]*MaterialPool)}
}

// Create registers a new pool with a zero balance. Opening stock must
// arrive as inward events so every kilogram is explained by the ledger.
func (r *Registry) Create(def PoolDefinition) (*MaterialPool, error) {
	if def.ID == "" {
		return nil, ErrInvalidPoolDefinition
	}
	if _, ok := r.pools[def.ID]; ok {
		return nil, ErrPoolExists
	}

	p := &MaterialPool{
		ID:             def.ID,
		Name:           def.Name,
		Classification: def.Classification,
		MaterialCode:   def.MaterialCode,
		Balance:        decimal.Zero,
		Unit:           def.Unit,
		MinBalance:     def.MinBalance,
		MaxBalance:     def.MaxBalance,
		QualityStatus:  def.QualityStatus,
		Certification:  def.Certification,
		Active:         true,
		AllowNegative:  def.AllowNegative,
		CreatedAt:      time.Now().UTC(),
	}
	r.pools[def.ID] = p
	r.order = append(r.order, def.ID)
	return p, nil
}

// Get returns a copy of the pool, or ErrPoolNotFound.
func (r *Registry) Get(id PoolID) (MaterialPool, error) {
	p, ok := r.pools[id]
	if !ok {
		return MaterialPool{}, ErrPoolNotFound
	}
	return *p, nil
}

// ApplyDelta adjusts a pool balance and returns the new value. A negative
// delta that would drive the balance below zero fails with
// InsufficientBalanceError unless the pool allows negative balances.
func (r *Registry) ApplyDelta(id PoolID, delta decimal.Decimal) (decimal.Decimal, error) {
	p, ok := r.pools[id]
	if !ok {
		return decimal.Zero, ErrPoolNotFound
	}
	if !p.Active {
		return decimal.Zero, ErrPoolInactive
	}

	next := p.Balance.Add(delta)
	if next.IsNegative() && !p.AllowNegative {
		return decimal.Zero, &InsufficientBalanceError{
			PoolID:    id,
			Available: p.Balance,
			Requested: delta.Neg(),
		}
	}

	p.Balance = next
	return next, nil
}

// revertDelta undoes a previously applied delta. Only the event store uses
// this, to back out the balance change when a durable append fails.
func (r *Registry) revertDelta(id PoolID, delta decimal.Decimal) {
	if p, ok := r.pools[id]; ok {
		p.Balance = p.Balance.Sub(delta)
	}
}

// Deactivate marks a pool inactive. Pools are never deleted; history must
// stay traceable.
func (r *Registry) Deactivate(id PoolID) error {
	p, ok := r.pools[id]
	if !ok {
		return ErrPoolNotFound
	}
	p.Active = false
	return nil
}

// List returns copies of all pools in creation order.
func (r *Registry) List() []MaterialPool {
	out := make([]MaterialPool, 0, len(r.pools))
	for _, id := range r.order {
		out = append(out, *r.pools[id])
	}
	return out
}

// ActiveCount returns the number of active pools.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, p := range r.pools {
		if p.Active {
			n++
		}
	}
	return n
}

// BalanceSnapshot captures every pool balance. Used by the time-slice
// manager for opening/closing snapshots.
func (r *Registry) BalanceSnapshot() map[PoolID]decimal.Decimal {
	snap := make(map[PoolID]decimal.Decimal, len(r.pools))
	for id, p := range r.pools {
		snap[id] = p.Balance
	}
	return snap
}

// TotalByClassification sums live balances per classification. The system
// adjustment pool is excluded: variances are bookkeeping, not material.
func (r *Registry) TotalByClassification(exclude PoolID) (sustainable, conventional decimal.Decimal) {
	for id, p := range r.pools {
		if id == exclude {
			continue
		}
		switch p.Classification {
		case ClassSustainable:
			sustainable = sustainable.Add(p.Balance)
		case ClassConventional:
			conventional = conventional.Add(p.Balance)
		}
	}
	return sustainable, conventional
}

// restore installs a pool loaded from the durable store, preserving its
// recorded creation order. Replay then rebuilds the balance.
func (r *Registry) restore(p MaterialPool) {
	cp := p
	cp.Balance = decimal.Zero
	r.pools[p.ID] = &cp
	r.order = append(r.order, p.ID)
	sort.SliceStable(r.order, func(i, j int) bool {
		return r.pools[r.order[i]].CreatedAt.Before(r.pools[r.order[j]].CreatedAt)
	})
}

// replayDelta applies a delta during startup replay without balance checks:
// the log already proved these movements valid when they were appended.
func (r *Registry) replayDelta(id PoolID, delta decimal.Decimal) {
	if p, ok := r.pools[id]; ok {
		p.Balance = p.Balance.Add(delta)
	}
}
