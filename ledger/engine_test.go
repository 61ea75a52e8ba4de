package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/certflow/massbalance-engine/ledger"
	"github.com/certflow/massbalance-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine, err := ledger.NewEngine(context.Background(), mem, ledger.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, mem
}

func mustCreatePool(t *testing.T, e *ledger.Engine, id string, class ledger.Classification) {
	t.Helper()
	_, err := e.CreatePool(context.Background(), ledger.PoolDefinition{
		ID:             ledger.PoolID(id),
		Name:           id,
		Classification: class,
	})
	if err != nil {
		t.Fatalf("CreatePool(%s): %v", id, err)
	}
}

func mustInward(t *testing.T, e *ledger.Engine, pool string, qty float64) {
	t.Helper()
	_, err := e.AddInward(context.Background(), ledger.PoolID(pool),
		ledger.NewQuantity(qty, ""), prov(), "test-receipt")
	if err != nil {
		t.Fatalf("AddInward(%s, %v): %v", pool, qty, err)
	}
}

func prov() ledger.Provenance {
	return ledger.Provenance{SourceSystem: "test", Actor: "tester"}
}

func poolBalance(t *testing.T, e *ledger.Engine, id string) decimal.Decimal {
	t.Helper()
	p, err := e.Pool(ledger.PoolID(id))
	if err != nil {
		t.Fatalf("Pool(%s): %v", id, err)
	}
	return p.Balance
}

func decimalEqual(t *testing.T, want string, got decimal.Decimal, label string) {
	t.Helper()
	if !got.Equal(ledger.MustParseDecimal(want)) {
		t.Errorf("%s = %s, want %s", label, got.String(), want)
	}
}

// =============================================================================
// HASH CHAIN
// =============================================================================

func TestChain_FirstEventLinksToGenesis(t *testing.T) {
	// GIVEN: A fresh engine with one pool
	// WHEN: The first event is appended
	// THEN: Its PreviousHash is the genesis marker and the chain verifies

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)

	res, err := engine.AddInward(context.Background(), "SUSTAINABLE_PAN",
		ledger.NewQuantity(100, ""), prov(), "PO-1")
	if err != nil {
		t.Fatalf("AddInward: %v", err)
	}

	if res.Event.PreviousHash != ledger.GenesisHash {
		t.Errorf("first event PreviousHash = %q, want genesis", res.Event.PreviousHash)
	}
	if res.Event.Sequence != 1 {
		t.Errorf("first event Sequence = %d, want 1", res.Event.Sequence)
	}
	if err := engine.VerifyChain(); err != nil {
		t.Errorf("VerifyChain: %v", err)
	}
}

func TestChain_EachEventLinksToPredecessor(t *testing.T) {
	// GIVEN: Several appended events
	// WHEN: The log is read back
	// THEN: Every event's PreviousHash equals its predecessor's CurrentHash

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	for i := 0; i < 5; i++ {
		mustInward(t, engine, "SUSTAINABLE_PAN", 10)
	}

	events := engine.Events(ledger.EventFilter{})
	if len(events) != 5 {
		t.Fatalf("event count = %d, want 5", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].PreviousHash != events[i-1].CurrentHash {
			t.Errorf("event %d not linked to predecessor", i)
		}
	}
	if err := engine.VerifyChain(); err != nil {
		t.Errorf("VerifyChain: %v", err)
	}
}

// =============================================================================
// CONSERVATION AND TRANSFORMATION
// =============================================================================

func TestTransform_ConservesAccountedMass(t *testing.T) {
	// GIVEN: 100 kg in the source pool
	// WHEN: Transforming 100 kg at yield 0.85
	// THEN: Source drops 100, target gains 85, process loss 15 is recorded,
	//       and inputs equal outputs plus loss

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustCreatePool(t, engine, "SUSTAINABLE_CF", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 100)

	res, err := engine.Transform(context.Background(), "SUSTAINABLE_PAN", "SUSTAINABLE_CF",
		ledger.NewQuantity(100, ""), decimal.NewFromFloat(0.85), prov(), "RUN-1")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	decimalEqual(t, "0", poolBalance(t, engine, "SUSTAINABLE_PAN"), "source balance")
	decimalEqual(t, "85", poolBalance(t, engine, "SUSTAINABLE_CF"), "target balance")
	decimalEqual(t, "15", res.ProcessLoss.Value, "process loss")

	// Conservation: output + loss = input.
	sum := poolBalance(t, engine, "SUSTAINABLE_CF").Add(res.ProcessLoss.Value)
	decimalEqual(t, "100", sum, "output plus loss")

	// The two legs are adjacent, chained events.
	if res.Inward.PreviousHash != res.Outward.CurrentHash {
		t.Error("transformation legs are not chained")
	}
}

func TestTransform_FullYieldHasNoLoss(t *testing.T) {
	// GIVEN: Stock in the source pool
	// WHEN: Transforming at yield 1.0
	// THEN: No mass is lost

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustCreatePool(t, engine, "SUSTAINABLE_CF", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 50)

	res, err := engine.Transform(context.Background(), "SUSTAINABLE_PAN", "SUSTAINABLE_CF",
		ledger.NewQuantity(50, ""), decimal.NewFromInt(1), prov(), "RUN-2")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	decimalEqual(t, "0", res.ProcessLoss.Value, "process loss at full yield")
	decimalEqual(t, "50", poolBalance(t, engine, "SUSTAINABLE_CF"), "target balance")
}

func TestTransform_RejectsInvalidYield(t *testing.T) {
	// GIVEN: Stock in the source pool
	// WHEN: Transforming with a yield outside (0, 1]
	// THEN: The operation is rejected and nothing is written

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustCreatePool(t, engine, "SUSTAINABLE_CF", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 100)
	before := len(engine.Events(ledger.EventFilter{}))

	for _, yield := range []float64{0, -0.5, 1.2} {
		_, err := engine.Transform(context.Background(), "SUSTAINABLE_PAN", "SUSTAINABLE_CF",
			ledger.NewQuantity(10, ""), decimal.NewFromFloat(yield), prov(), "RUN-X")
		if err == nil {
			t.Errorf("yield %v accepted, want rejection", yield)
		}
	}

	if got := len(engine.Events(ledger.EventFilter{})); got != before {
		t.Errorf("event count changed from %d to %d on rejected transforms", before, got)
	}
	decimalEqual(t, "100", poolBalance(t, engine, "SUSTAINABLE_PAN"), "source balance after rejections")
}

func TestTransform_RejectsInsufficientSourceBalance(t *testing.T) {
	// GIVEN: 10 kg in the source pool
	// WHEN: Transforming 50 kg
	// THEN: Rejected atomically, both balances unchanged

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustCreatePool(t, engine, "SUSTAINABLE_CF", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 10)

	_, err := engine.Transform(context.Background(), "SUSTAINABLE_PAN", "SUSTAINABLE_CF",
		ledger.NewQuantity(50, ""), decimal.NewFromFloat(0.9), prov(), "RUN-3")
	if err == nil {
		t.Fatal("expected insufficient balance rejection")
	}
	decimalEqual(t, "10", poolBalance(t, engine, "SUSTAINABLE_PAN"), "source balance")
	decimalEqual(t, "0", poolBalance(t, engine, "SUSTAINABLE_CF"), "target balance")
}

// =============================================================================
// OUTWARD REJECTION ATOMICITY
// =============================================================================

func TestOutward_InsufficientBalanceLeavesNoTrace(t *testing.T) {
	// GIVEN: A pool holding 30 kg
	// WHEN: Shipping 100 kg
	// THEN: The mutation is rejected; balance, event count, and chain tip
	//       are exactly as before

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 30)
	eventsBefore := len(engine.Events(ledger.EventFilter{}))

	_, err := engine.AddOutward(context.Background(), "SUSTAINABLE_PAN",
		ledger.NewQuantity(100, ""), prov(), "SH-1")
	if err == nil {
		t.Fatal("expected insufficient balance rejection")
	}
	if !ledger.IsClientError(err) {
		t.Errorf("insufficient balance should be a client error, got %v", err)
	}

	decimalEqual(t, "30", poolBalance(t, engine, "SUSTAINABLE_PAN"), "balance after rejection")
	if got := len(engine.Events(ledger.EventFilter{})); got != eventsBefore {
		t.Errorf("event count changed from %d to %d", eventsBefore, got)
	}
	if err := engine.VerifyChain(); err != nil {
		t.Errorf("VerifyChain after rejection: %v", err)
	}
}

func TestMutations_RejectUnknownPool(t *testing.T) {
	// GIVEN: A fresh engine
	// WHEN: Moving mass through a pool that does not exist
	// THEN: ErrPoolNotFound, nothing written

	engine, _ := newTestEngine(t)

	_, err := engine.AddInward(context.Background(), "NOPE",
		ledger.NewQuantity(10, ""), prov(), "PO-X")
	if !ledger.IsNotFound(err) {
		t.Errorf("AddInward to unknown pool: got %v, want not-found", err)
	}
	if got := len(engine.Events(ledger.EventFilter{})); got != 0 {
		t.Errorf("event count = %d, want 0", got)
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconcile_WithinToleranceIsValid(t *testing.T) {
	// GIVEN: Default 1% tolerance
	// WHEN: Reconciling expected 100 against actual 101
	// THEN: Variance 1 is within tolerance and the event is valid

	engine, _ := newTestEngine(t)

	res, err := engine.Reconcile(context.Background(), "BATCH-1",
		decimal.NewFromInt(101), decimal.NewFromInt(100), "scale_drift", prov())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !res.WithinTolerance {
		t.Error("variance 1 on expected 100 should be within 1% tolerance")
	}
	decimalEqual(t, "1", res.Variance, "variance")
	if res.Event.Provenance.Status != ledger.StatusValid {
		t.Errorf("event status = %s, want valid", res.Event.Provenance.Status)
	}
}

func TestReconcile_BeyondToleranceIsRecordedAndFlagged(t *testing.T) {
	// GIVEN: Default 1% tolerance
	// WHEN: Reconciling expected 100 against actual 102
	// THEN: The event is still appended, flagged invalid, and the variance
	//       lands on the system adjustment pool

	engine, _ := newTestEngine(t)

	res, err := engine.Reconcile(context.Background(), "BATCH-2",
		decimal.NewFromInt(102), decimal.NewFromInt(100), "unknown", prov())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.WithinTolerance {
		t.Error("variance 2 on expected 100 should exceed 1% tolerance")
	}
	if res.Event.Provenance.Status != ledger.StatusInvalid {
		t.Errorf("event status = %s, want invalid", res.Event.Provenance.Status)
	}

	if got := len(engine.Events(ledger.EventFilter{Kind: ledger.KindBatchReconciliation})); got != 1 {
		t.Errorf("reconciliation events = %d, want 1", got)
	}
	decimalEqual(t, "2", poolBalance(t, engine, "SYSTEM_ADJUSTMENT"), "system pool balance")
}

func TestReconcile_NegativeVarianceDrivesSystemPoolNegative(t *testing.T) {
	// GIVEN: A shortfall batch
	// WHEN: Reconciling expected 100 against actual 90
	// THEN: The system pool absorbs -10 without an insufficient-balance error

	engine, _ := newTestEngine(t)

	res, err := engine.Reconcile(context.Background(), "BATCH-3",
		decimal.NewFromInt(90), decimal.NewFromInt(100), "spillage", prov())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	decimalEqual(t, "-10", res.Variance, "variance")
	decimalEqual(t, "-10", poolBalance(t, engine, "SYSTEM_ADJUSTMENT"), "system pool balance")
}

func TestReconcile_RejectsNonPositiveExpected(t *testing.T) {
	// GIVEN: A fresh engine
	// WHEN: Reconciling with expected <= 0
	// THEN: Rejected before anything is written

	engine, _ := newTestEngine(t)

	_, err := engine.Reconcile(context.Background(), "BATCH-4",
		decimal.NewFromInt(10), decimal.Zero, "", prov())
	if err == nil {
		t.Fatal("expected rejection for zero expected quantity")
	}
	if got := len(engine.Events(ledger.EventFilter{})); got != 0 {
		t.Errorf("event count = %d, want 0", got)
	}
}

// =============================================================================
// TIME SLICES
// =============================================================================

func TestCloseSlice_ContinuityBetweenWindows(t *testing.T) {
	// GIVEN: Movements in the open slice
	// WHEN: Closing the slice twice with movements in between
	// THEN: Each sealed slice's closing balances equal the successor's
	//       opening balances, and sealed slices carry a slice hash

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 100)

	first, err := engine.CloseSlice(context.Background())
	if err != nil {
		t.Fatalf("CloseSlice: %v", err)
	}
	if first.Status != ledger.SliceSealed {
		t.Errorf("slice status = %s, want sealed", first.Status)
	}
	if first.SliceHash == "" {
		t.Error("sealed slice has no hash")
	}
	decimalEqual(t, "100", first.ClosingBalances["SUSTAINABLE_PAN"], "first closing balance")

	mustInward(t, engine, "SUSTAINABLE_PAN", 50)
	second, err := engine.CloseSlice(context.Background())
	if err != nil {
		t.Fatalf("CloseSlice: %v", err)
	}
	decimalEqual(t, "100", second.OpeningBalances["SUSTAINABLE_PAN"], "second opening balance")
	decimalEqual(t, "150", second.ClosingBalances["SUSTAINABLE_PAN"], "second closing balance")

	// Exactly one open slice remains.
	open, err := engine.CurrentSlice()
	if err != nil {
		t.Fatalf("CurrentSlice: %v", err)
	}
	if open.Status != ledger.SliceOpen {
		t.Errorf("current slice status = %s, want open", open.Status)
	}
	decimalEqual(t, "150", open.OpeningBalances["SUSTAINABLE_PAN"], "open slice opening balance")
}

func TestCloseSlice_MembershipCoversEveryEvent(t *testing.T) {
	// GIVEN: Events appended across two windows
	// WHEN: Slices are sealed
	// THEN: Every event belongs to exactly one slice

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 10)
	mustInward(t, engine, "SUSTAINABLE_PAN", 20)
	if _, err := engine.CloseSlice(context.Background()); err != nil {
		t.Fatalf("CloseSlice: %v", err)
	}
	mustInward(t, engine, "SUSTAINABLE_PAN", 30)

	seen := make(map[ledger.EventID]int)
	for _, s := range engine.Slices() {
		for _, id := range s.EventIDs {
			seen[id]++
		}
	}
	for _, e := range engine.Events(ledger.EventFilter{}) {
		if seen[e.ID] != 1 {
			t.Errorf("event %s appears in %d slices, want 1", e.ID, seen[e.ID])
		}
	}
}

// =============================================================================
// REPLAY
// =============================================================================

func TestReplay_RebuildsBalancesAndChainTip(t *testing.T) {
	// GIVEN: A populated ledger in a durable store
	// WHEN: A second engine is constructed over the same store
	// THEN: Balances, event count, and chain integrity all match

	mem := store.NewMemory()
	ctx := context.Background()

	first, err := ledger.NewEngine(ctx, mem, ledger.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	mustCreatePool(t, first, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustCreatePool(t, first, "SUSTAINABLE_CF", ledger.ClassSustainable)
	mustInward(t, first, "SUSTAINABLE_PAN", 500)
	if _, err := first.Transform(ctx, "SUSTAINABLE_PAN", "SUSTAINABLE_CF",
		ledger.NewQuantity(200, ""), decimal.NewFromFloat(0.85), prov(), "RUN-9"); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	second, err := ledger.NewEngine(ctx, mem, ledger.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine (replay): %v", err)
	}

	decimalEqual(t, "300", poolBalance(t, second, "SUSTAINABLE_PAN"), "replayed source balance")
	decimalEqual(t, "170", poolBalance(t, second, "SUSTAINABLE_CF"), "replayed target balance")
	if got, want := len(second.Events(ledger.EventFilter{})), len(first.Events(ledger.EventFilter{})); got != want {
		t.Errorf("replayed event count = %d, want %d", got, want)
	}
	if err := second.VerifyChain(); err != nil {
		t.Errorf("VerifyChain after replay: %v", err)
	}

	// The replayed engine appends on the same chain.
	res, err := second.AddInward(ctx, "SUSTAINABLE_PAN", ledger.NewQuantity(1, ""), prov(), "PO-9")
	if err != nil {
		t.Fatalf("AddInward after replay: %v", err)
	}
	if res.Event.Sequence != 4 {
		t.Errorf("post-replay sequence = %d, want 4", res.Event.Sequence)
	}
}

// =============================================================================
// SUMMARY
// =============================================================================

func TestSummarize_CertifiedProductionRun(t *testing.T) {
	// GIVEN: 2500 kg certified PAN on hand, 500 kg more received, then
	//        300 kg transformed to carbon fiber at yield 0.85
	// WHEN: Summarizing the full period
	// THEN: PAN holds 2700, CF holds 255, the chain is valid, and the
	//       facility is fully sustainable

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustCreatePool(t, engine, "SUSTAINABLE_CF", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 2500)
	mustInward(t, engine, "SUSTAINABLE_PAN", 500)
	if _, err := engine.Transform(context.Background(), "SUSTAINABLE_PAN", "SUSTAINABLE_CF",
		ledger.NewQuantity(300, ""), decimal.NewFromFloat(0.85), prov(), "RUN-10"); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	decimalEqual(t, "2700", poolBalance(t, engine, "SUSTAINABLE_PAN"), "PAN balance")
	decimalEqual(t, "255", poolBalance(t, engine, "SUSTAINABLE_CF"), "CF balance")

	now := time.Now().UTC()
	summary, err := engine.Summarize(now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	decimalEqual(t, "2955", summary.SustainableBalance, "sustainable closing balance")
	decimalEqual(t, "1", summary.SustainabilityRatio, "sustainability ratio")
	if !summary.Integrity.ChainValid {
		t.Error("chain should be valid")
	}
	if !summary.Integrity.WithinTolerance {
		t.Error("no reconciliations recorded, integrity should be within tolerance")
	}
}

func TestSummarize_MixedFlowsAndRatio(t *testing.T) {
	// GIVEN: Certified and conventional intake plus a shipment
	// WHEN: Summarizing the period
	// THEN: Flows split by classification and the ratio reflects holdings

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustCreatePool(t, engine, "CONVENTIONAL_PAN", ledger.ClassConventional)
	mustInward(t, engine, "SUSTAINABLE_PAN", 600)
	mustInward(t, engine, "CONVENTIONAL_PAN", 400)
	if _, err := engine.AddOutward(context.Background(), "CONVENTIONAL_PAN",
		ledger.NewQuantity(100, ""), prov(), "SH-2"); err != nil {
		t.Fatalf("AddOutward: %v", err)
	}

	now := time.Now().UTC()
	summary, err := engine.Summarize(now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	decimalEqual(t, "600", summary.SustainableInflow, "sustainable inflow")
	decimalEqual(t, "400", summary.ConventionalInflow, "conventional inflow")
	decimalEqual(t, "100", summary.ConventionalOutflow, "conventional outflow")
	decimalEqual(t, "600", summary.SustainableBalance, "sustainable balance")
	decimalEqual(t, "300", summary.ConventionalBalance, "conventional balance")

	// 600 / 900
	want := decimal.NewFromInt(600).Div(decimal.NewFromInt(900))
	if !summary.SustainabilityRatio.Equal(want) {
		t.Errorf("ratio = %s, want %s", summary.SustainabilityRatio, want)
	}

	// Efficiency = 100 / 1000.
	decimalEqual(t, "0.1", summary.Efficiency, "efficiency")

	// Carbon estimate: certified inflow x default factor 2.5.
	decimalEqual(t, "1500", summary.CarbonAvoidedKg, "carbon avoided")
}

func TestSummarize_AsOfPeriodEndExcludesLaterEvents(t *testing.T) {
	// GIVEN: A sealed slice boundary followed by more movements
	// WHEN: Summarizing a period ending at the boundary
	// THEN: Closing balances reflect the boundary, not live state

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 100)

	sealed, err := engine.CloseSlice(context.Background())
	if err != nil {
		t.Fatalf("CloseSlice: %v", err)
	}
	mustInward(t, engine, "SUSTAINABLE_PAN", 900)

	summary, err := engine.Summarize(sealed.Start.Add(-time.Minute), sealed.End)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	decimalEqual(t, "100", summary.SustainableBalance, "as-of balance")
}

func TestSummarize_RejectsMalformedPeriod(t *testing.T) {
	// GIVEN: A fresh engine
	// WHEN: Summarizing a period whose end precedes its start
	// THEN: ErrInvalidPeriod

	engine, _ := newTestEngine(t)
	now := time.Now()
	if _, err := engine.Summarize(now, now.Add(-time.Hour)); err == nil {
		t.Fatal("expected invalid period rejection")
	}
}

// =============================================================================
// POOL ADMINISTRATION
// =============================================================================

func TestCreatePool_RejectsDuplicate(t *testing.T) {
	// GIVEN: An existing pool
	// WHEN: Creating a pool with the same ID
	// THEN: ErrPoolExists

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)

	_, err := engine.CreatePool(context.Background(), ledger.PoolDefinition{
		ID: "SUSTAINABLE_PAN", Name: "dup", Classification: ledger.ClassSustainable,
	})
	if err == nil {
		t.Fatal("expected duplicate pool rejection")
	}
}

func TestCreatePool_RejectsEmptyID(t *testing.T) {
	// GIVEN: A pool definition with no id
	// WHEN: Creating it
	// THEN: Rejected as an invalid definition, not as a missing pool

	engine, _ := newTestEngine(t)
	_, err := engine.CreatePool(context.Background(), ledger.PoolDefinition{
		Name: "unnamed", Classification: ledger.ClassSustainable,
	})
	if !errors.Is(err, ledger.ErrInvalidPoolDefinition) {
		t.Fatalf("error = %v, want ErrInvalidPoolDefinition", err)
	}
	if ledger.IsNotFound(err) {
		t.Error("an invalid definition must not classify as not-found")
	}
	if !ledger.IsClientError(err) {
		t.Error("an invalid definition is a client error")
	}
}

func TestDeactivatePool_BlocksFurtherMovements(t *testing.T) {
	// GIVEN: A deactivated pool
	// WHEN: Recording an inward movement on it
	// THEN: Rejected; history remains readable

	engine, _ := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 10)

	if err := engine.DeactivatePool(context.Background(), "SUSTAINABLE_PAN"); err != nil {
		t.Fatalf("DeactivatePool: %v", err)
	}
	if _, err := engine.AddInward(context.Background(), "SUSTAINABLE_PAN",
		ledger.NewQuantity(5, ""), prov(), "PO-Z"); err == nil {
		t.Fatal("expected rejection on inactive pool")
	}

	if got := len(engine.Events(ledger.EventFilter{PoolID: "SUSTAINABLE_PAN"})); got != 1 {
		t.Errorf("history events = %d, want 1", got)
	}
}

func TestEngine_SystemPoolExistsAtConstruction(t *testing.T) {
	// GIVEN: A fresh engine with default config
	// WHEN: Looking up the system adjustment pool
	// THEN: It exists, conventional, and allowed to go negative

	engine, _ := newTestEngine(t)
	p, err := engine.Pool("SYSTEM_ADJUSTMENT")
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if p.Classification != ledger.ClassConventional {
		t.Errorf("system pool classification = %s", p.Classification)
	}
	if !p.AllowNegative {
		t.Error("system pool must allow negative balances")
	}
}

// =============================================================================
// DURABILITY FAILURES
// =============================================================================

func TestAppend_StoreFailureRevertsBalance(t *testing.T) {
	// GIVEN: A store that refuses writes
	// WHEN: Recording an inward movement
	// THEN: The error surfaces and the pool balance is unchanged

	engine, mem := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 100)

	mem.FailAppends = true
	_, err := engine.AddInward(context.Background(), "SUSTAINABLE_PAN",
		ledger.NewQuantity(50, ""), prov(), "PO-F")
	if err == nil {
		t.Fatal("expected persistence failure")
	}
	mem.FailAppends = false

	decimalEqual(t, "100", poolBalance(t, engine, "SUSTAINABLE_PAN"), "balance after failed append")
	if err := engine.VerifyChain(); err != nil {
		t.Errorf("VerifyChain after failed append: %v", err)
	}

	// The chain continues cleanly once the store recovers.
	mustInward(t, engine, "SUSTAINABLE_PAN", 25)
	decimalEqual(t, "125", poolBalance(t, engine, "SUSTAINABLE_PAN"), "balance after recovery")
}

func TestTransform_StoreFailureRevertsBothLegs(t *testing.T) {
	// GIVEN: A store that refuses writes
	// WHEN: Transforming between pools
	// THEN: Both balances are restored; no partial transformation exists

	engine, mem := newTestEngine(t)
	mustCreatePool(t, engine, "SUSTAINABLE_PAN", ledger.ClassSustainable)
	mustCreatePool(t, engine, "SUSTAINABLE_CF", ledger.ClassSustainable)
	mustInward(t, engine, "SUSTAINABLE_PAN", 100)

	mem.FailAppends = true
	_, err := engine.Transform(context.Background(), "SUSTAINABLE_PAN", "SUSTAINABLE_CF",
		ledger.NewQuantity(40, ""), decimal.NewFromFloat(0.9), prov(), "RUN-F")
	if err == nil {
		t.Fatal("expected persistence failure")
	}
	mem.FailAppends = false

	decimalEqual(t, "100", poolBalance(t, engine, "SUSTAINABLE_PAN"), "source after failed transform")
	decimalEqual(t, "0", poolBalance(t, engine, "SUSTAINABLE_CF"), "target after failed transform")
}

// =============================================================================
// HEALTH
// =============================================================================

func TestHealth_ReportsWarningOnInvalidReconciliation(t *testing.T) {
	// GIVEN: A reconciliation beyond tolerance
	// WHEN: Checking engine health
	// THEN: Status degrades and the violation names the batch check

	engine, _ := newTestEngine(t)
	if _, err := engine.Reconcile(context.Background(), "BATCH-BAD",
		decimal.NewFromInt(120), decimal.NewFromInt(100), "unknown", prov()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	health := engine.Health()
	if health.Status == ledger.HealthHealthy {
		t.Error("health should degrade after an out-of-tolerance reconciliation")
	}
	found := false
	for _, v := range health.Violations {
		if v.Target == ledger.RuleBatchIntegrity {
			found = true
		}
	}
	if !found {
		t.Error("expected a batch integrity violation")
	}
}
