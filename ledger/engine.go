/*
engine.go - The single-writer facade collaborators call

PURPOSE:
  One explicit engine object per facility instance, constructed at process
  start and passed by reference - no ambient globals. Every mutation
  (inward, outward, transform, reconcile, close-slice) runs under one
  writer lock around {validate -> apply delta -> append -> attach to
  slice}; any interleaving of two mutations would corrupt the hash chain
  or double-apply a delta. Reads take the shared lock and may run
  concurrently with each other.

PROPAGATION POLICY:
  Precondition failures (unknown pool, invalid quantity, insufficient
  balance) reject synchronously BEFORE any mutation - nothing happened.
  Post-condition anomalies (bound breaches, reconciliation variance) are
  recorded alongside the successful write and returned as warnings on the
  result. Callers must keep the two apart: conflating them misrepresents
  the audit trail.

SEE ALSO:
  - eventstore.go: The append unit the lock protects
  - rules.go: The warnings attached to mutation results
*/
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIG
// =============================================================================

type Config struct {
	// Unit is the facility's unit of measure for quantities.
	Unit Unit

	// SystemPoolID receives reconciliation variances. Created at engine
	// construction if missing; allowed to go negative.
	SystemPoolID PoolID

	// Tolerance is the reconciliation variance limit as a fraction of the
	// expected quantity. Default 1%.
	Tolerance decimal.Decimal

	// RejectBoundViolations turns min/max bound breaches from advisory
	// warnings into hard rejections. Some certification regimes demand
	// this; the default mirrors the advisory behavior.
	RejectBoundViolations bool

	// CarbonFactor estimates kg CO2e avoided per kg of certified inflow.
	CarbonFactor decimal.Decimal

	// SliceWidth, when positive, auto-closes the open slice once it has
	// covered the width. Zero means slices close only on explicit cut-off.
	SliceWidth time.Duration

	// MinSustainabilityRatio is the advisory floor for the cross-pool
	// ratio check. Zero disables the check.
	MinSustainabilityRatio decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		Unit:         UnitKilograms,
		SystemPoolID: "SYSTEM_ADJUSTMENT",
		Tolerance:    decimal.NewFromFloat(0.01),
		CarbonFactor: decimal.NewFromFloat(2.5),
	}
}

// =============================================================================
// RESULTS
// =============================================================================

// MutationResult pairs a committed event with the advisory findings
// evaluated immediately after the write.
type MutationResult struct {
	Event      LedgerEvent
	NewBalance decimal.Decimal
	Warnings   []Violation
}

// TransformationResult is MutationResult's shape for linked pairs.
type TransformationResult struct {
	Outward     LedgerEvent
	Inward      LedgerEvent
	ProcessLoss Quantity
	Warnings    []Violation
}

// ReconciliationResult reports a recorded variance.
type ReconciliationResult struct {
	Event           LedgerEvent
	Variance        decimal.Decimal
	WithinTolerance bool
	Warnings        []Violation
}

type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)

type SystemHealth struct {
	Status      HealthStatus
	EventCount  int
	ActivePools int
	Violations  []Violation
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	mu  sync.RWMutex
	cfg Config
	log zerolog.Logger

	store    Store
	registry *Registry
	events   *EventStore
	slices   *SliceManager

	transformer *Transformer
	reconciler  *Reconciler
	summaries   *SummaryCalculator
	rules       *RuleEngine
	metrics     *Metrics
}

// NewEngine constructs the facility instance: loads pool definitions,
// replays the durable event log to rebuild balances and the chain tip,
// verifies the replayed chain, restores slices, and guarantees both the
// system adjustment pool and an open slice exist.
func NewEngine(ctx context.Context, store Store, cfg Config, log zerolog.Logger) (*Engine, error) {
	if cfg.Unit == "" {
		cfg.Unit = UnitKilograms
	}
	if cfg.SystemPoolID == "" {
		cfg.SystemPoolID = DefaultConfig().SystemPoolID
	}
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = DefaultConfig().Tolerance
	}

	registry := NewRegistry()
	pools, err := store.LoadPools(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pools {
		registry.restore(p)
	}

	slices := NewSliceManager(store, cfg.SliceWidth, log)
	events := NewEventStore(store, registry, slices, log)
	if err := events.Bootstrap(ctx); err != nil {
		return nil, err
	}

	loadedSlices, err := store.LoadSlices(ctx)
	if err != nil {
		return nil, err
	}
	if err := slices.Bootstrap(ctx, loadedSlices, registry.BalanceSnapshot()); err != nil {
		return nil, err
	}
	slices.RebuildOpenMembership(events.Events(EventFilter{}))

	e := &Engine{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: registry,
		events:   events,
		slices:   slices,
		metrics:  NewMetrics(),
	}

	if _, err := registry.Get(cfg.SystemPoolID); err != nil {
		pool, err := registry.Create(PoolDefinition{
			ID:             cfg.SystemPoolID,
			Name:           "System Adjustment",
			Classification: ClassConventional,
			MaterialCode:   "ADJ",
			Unit:           cfg.Unit,
			AllowNegative:  true,
		})
		if err != nil {
			return nil, err
		}
		if err := store.SavePool(ctx, *pool); err != nil {
			return nil, err
		}
	}

	e.transformer = NewTransformer(registry, events)
	e.reconciler = NewReconciler(events, cfg.SystemPoolID, cfg.Tolerance, cfg.Unit)
	e.summaries = NewSummaryCalculator(events, registry, slices, cfg.SystemPoolID, cfg.Tolerance, cfg.CarbonFactor)
	e.rules = NewRuleEngine(DefaultRules(cfg.MinSustainabilityRatio), registry, events, slices, cfg.SystemPoolID)

	log.Info().
		Int("events", events.Count()).
		Int("pools", len(registry.List())).
		Int("sealed_slices", len(slices.Sealed())).
		Msg("ledger engine ready")
	return e, nil
}

// Metrics exposes the engine's collectors for explicit registration.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// =============================================================================
// POOL ADMINISTRATION
// =============================================================================

func (e *Engine) CreatePool(ctx context.Context, def PoolDefinition) (MaterialPool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if def.Unit == "" {
		def.Unit = e.cfg.Unit
	}
	pool, err := e.registry.Create(def)
	if err != nil {
		return MaterialPool{}, err
	}
	if err := e.store.SavePool(ctx, *pool); err != nil {
		return MaterialPool{}, err
	}
	e.log.Info().Str("pool", string(def.ID)).Str("classification", string(def.Classification)).Msg("pool created")
	return *pool, nil
}

func (e *Engine) DeactivatePool(ctx context.Context, id PoolID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.Deactivate(id); err != nil {
		return err
	}
	pool, _ := e.registry.Get(id)
	return e.store.SavePool(ctx, pool)
}

// =============================================================================
// MUTATIONS - Serialized by the writer lock
// =============================================================================

// AddInward records a receipt of qty into the pool. The event kind follows
// the pool's classification.
func (e *Engine) AddInward(ctx context.Context, poolID PoolID, qty Quantity, prov Provenance, reference string) (*MutationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if qty.Unit == "" {
		qty.Unit = e.cfg.Unit
	}
	if !qty.IsPositive() {
		e.metrics.OpsRejected.WithLabelValues("precondition").Inc()
		return nil, ErrInvalidQuantity
	}
	pool, err := e.registry.Get(poolID)
	if err != nil {
		e.metrics.OpsRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}
	if e.cfg.RejectBoundViolations && pool.MaxBalance.IsPositive() &&
		pool.Balance.Add(qty.Value).GreaterThan(pool.MaxBalance) {
		e.metrics.OpsRejected.WithLabelValues("bound").Inc()
		return nil, &BoundViolationError{PoolID: poolID, Balance: pool.Balance.Add(qty.Value), Min: pool.MinBalance, Max: pool.MaxBalance}
	}

	e.maybeRoll(ctx)

	prov.Status = StatusValid
	event, err := e.events.Append(ctx, EventDraft{
		Kind:       InwardKindFor(pool.Classification),
		PoolID:     poolID,
		Quantity:   qty,
		Reference:  reference,
		Provenance: prov,
	})
	if err != nil {
		e.metrics.OpsRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	return e.mutationResult(event)
}

// AddOutward records a shipment of qty out of the pool. qty is the
// positive magnitude; the event's signed quantity is negative.
func (e *Engine) AddOutward(ctx context.Context, poolID PoolID, qty Quantity, prov Provenance, reference string) (*MutationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if qty.Unit == "" {
		qty.Unit = e.cfg.Unit
	}
	if !qty.IsPositive() {
		e.metrics.OpsRejected.WithLabelValues("precondition").Inc()
		return nil, ErrInvalidQuantity
	}
	pool, err := e.registry.Get(poolID)
	if err != nil {
		e.metrics.OpsRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}
	if e.cfg.RejectBoundViolations &&
		pool.Balance.Sub(qty.Value).LessThan(pool.MinBalance) {
		e.metrics.OpsRejected.WithLabelValues("bound").Inc()
		return nil, &BoundViolationError{PoolID: poolID, Balance: pool.Balance.Sub(qty.Value), Min: pool.MinBalance, Max: pool.MaxBalance}
	}

	e.maybeRoll(ctx)

	prov.Status = StatusValid
	event, err := e.events.Append(ctx, EventDraft{
		Kind:       OutwardKindFor(pool.Classification),
		PoolID:     poolID,
		Quantity:   qty.Neg(),
		Reference:  reference,
		Provenance: prov,
	})
	if err != nil {
		e.metrics.OpsRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	return e.mutationResult(event)
}

// Transform converts mass between pools at a yield factor.
func (e *Engine) Transform(ctx context.Context, source, target PoolID, inputQty Quantity, yield decimal.Decimal, prov Provenance, reference string) (*TransformationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if inputQty.Unit == "" {
		inputQty.Unit = e.cfg.Unit
	}
	if e.cfg.RejectBoundViolations {
		if err := e.checkTransformBounds(source, target, inputQty.Value, yield); err != nil {
			e.metrics.OpsRejected.WithLabelValues("bound").Inc()
			return nil, err
		}
	}
	e.maybeRoll(ctx)

	prov.Status = StatusValid
	res, err := e.transformer.Transform(ctx, source, target, inputQty, yield, reference, prov)
	if err != nil {
		e.metrics.OpsRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	e.metrics.EventsAppended.WithLabelValues(string(KindTransformation)).Add(2)
	warnings := e.evaluateLocked()
	e.log.Info().
		Str("source", string(source)).Str("target", string(target)).
		Str("input", inputQty.Value.String()).Str("yield", yield.String()).
		Str("loss", res.ProcessLoss.Value.String()).
		Msg("transformation recorded")

	return &TransformationResult{
		Outward:     res.Outward,
		Inward:      res.Inward,
		ProcessLoss: res.ProcessLoss,
		Warnings:    warnings,
	}, nil
}

// Reconcile records a batch variance against the system pool. The event is
// appended even when the variance exceeds tolerance; it is then flagged
// invalid and surfaced through warnings.
func (e *Engine) Reconcile(ctx context.Context, batch BatchID, actual, expected decimal.Decimal, reasonCode string, prov Provenance) (*ReconciliationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.maybeRoll(ctx)

	res, err := e.reconciler.Reconcile(ctx, batch, actual, expected, reasonCode, prov)
	if err != nil {
		e.metrics.OpsRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	e.metrics.EventsAppended.WithLabelValues(string(KindBatchReconciliation)).Inc()
	warnings := e.evaluateLocked()
	e.log.Info().
		Str("batch", string(batch)).
		Str("variance", res.Variance.String()).
		Bool("within_tolerance", res.WithinTolerance).
		Msg("batch reconciled")

	return &ReconciliationResult{
		Event:           res.Event,
		Variance:        res.Variance,
		WithinTolerance: res.WithinTolerance,
		Warnings:        warnings,
	}, nil
}

// CloseSlice seals the open slice on an explicit audit cut-off and opens
// its successor.
func (e *Engine) CloseSlice(ctx context.Context) (TimeSlice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeSliceLocked(ctx)
}

func (e *Engine) closeSliceLocked(ctx context.Context) (TimeSlice, error) {
	sealed, err := e.slices.Close(ctx, e.registry.BalanceSnapshot())
	if err != nil {
		return TimeSlice{}, err
	}
	e.metrics.SlicesSealed.Inc()
	e.log.Info().Str("slice", string(sealed.ID)).Int("events", len(sealed.EventIDs)).Msg("slice sealed")
	return sealed, nil
}

// RollIfDue closes the open slice when the configured width has elapsed.
// Mutations perform this check inline; a background ticker calls it so
// quiet periods still get sealed on schedule.
func (e *Engine) RollIfDue(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeRoll(ctx)
}

// checkTransformBounds applies the hard-reject bound policy to both legs
// of a transformation before anything is written: the source leg must not
// drop below its minimum, the target leg must not exceed its maximum.
// Input, yield, and pool-existence validation stay with the transformer;
// drafts it would reject anyway pass through unchecked.
func (e *Engine) checkTransformBounds(source, target PoolID, input, yield decimal.Decimal) error {
	if !input.IsPositive() || !yield.IsPositive() || yield.GreaterThan(decimal.NewFromInt(1)) {
		return nil
	}
	if src, err := e.registry.Get(source); err == nil &&
		src.Balance.Sub(input).LessThan(src.MinBalance) {
		return &BoundViolationError{PoolID: source, Balance: src.Balance.Sub(input), Min: src.MinBalance, Max: src.MaxBalance}
	}
	if dst, err := e.registry.Get(target); err == nil && dst.MaxBalance.IsPositive() {
		if next := dst.Balance.Add(input.Mul(yield)); next.GreaterThan(dst.MaxBalance) {
			return &BoundViolationError{PoolID: target, Balance: next, Min: dst.MinBalance, Max: dst.MaxBalance}
		}
	}
	return nil
}

func (e *Engine) maybeRoll(ctx context.Context) {
	if e.slices.ShouldRoll(time.Now().UTC()) {
		if _, err := e.closeSliceLocked(ctx); err != nil {
			e.log.Error().Err(err).Msg("width-driven slice close failed")
		}
	}
}

func (e *Engine) mutationResult(event LedgerEvent) (*MutationResult, error) {
	e.metrics.EventsAppended.WithLabelValues(string(event.Kind)).Inc()
	pool, _ := e.registry.Get(event.PoolID)
	warnings := e.evaluateLocked()
	e.log.Info().
		Str("kind", string(event.Kind)).
		Str("pool", string(event.PoolID)).
		Str("quantity", event.Quantity.Value.String()).
		Int("warnings", len(warnings)).
		Msg("event appended")
	return &MutationResult{Event: event, NewBalance: pool.Balance, Warnings: warnings}, nil
}

func (e *Engine) evaluateLocked() []Violation {
	violations := e.rules.Evaluate()
	e.metrics.recordViolations(violations)
	return violations
}

// =============================================================================
// READS - Shared lock, safe to run concurrently
// =============================================================================

func (e *Engine) Pools() []MaterialPool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.List()
}

func (e *Engine) Pool(id PoolID) (MaterialPool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Get(id)
}

func (e *Engine) RecentEvents(limit int) []LedgerEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.events.Recent(limit)
}

func (e *Engine) Events(filter EventFilter) []LedgerEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.events.Events(filter)
}

func (e *Engine) Slices() []TimeSlice {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.slices.All()
}

func (e *Engine) CurrentSlice() (TimeSlice, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.slices.Current()
}

// VerifyChain walks the full chain recomputing hashes. Returns nil when
// the chain is intact; a ChainIntegrityError requires manual audit.
func (e *Engine) VerifyChain() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.metrics.ChainVerifications.Inc()
	return e.events.VerifyChain()
}

func (e *Engine) Summarize(start, end time.Time) (MassBalanceSummary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.summaries.Summarize(Period{Start: start, End: end})
}

// Health reports the engine status: Error when any Error-severity
// violation is open, Warning when only warnings are, Healthy otherwise.
func (e *Engine) Health() SystemHealth {
	e.mu.RLock()
	defer e.mu.RUnlock()

	violations := e.rules.Evaluate()
	e.metrics.recordViolations(violations)

	status := HealthHealthy
	for _, v := range violations {
		if v.Severity == SeverityError {
			status = HealthError
			break
		}
		status = HealthWarning
	}

	return SystemHealth{
		Status:      status,
		EventCount:  e.events.Count(),
		ActivePools: e.registry.ActiveCount(),
		Violations:  violations,
	}
}
