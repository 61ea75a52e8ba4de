package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/certflow/massbalance-engine/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEvent(seq int64, prev string) ledger.LedgerEvent {
	e := ledger.LedgerEvent{
		ID:        ledger.EventID("evt-" + string(rune('0'+seq))),
		Sequence:  seq,
		Timestamp: time.Date(2026, 8, 1, 10, 0, int(seq), 0, time.UTC),
		Kind:      ledger.KindInwardSustainable,
		PoolID:    "SUSTAINABLE_PAN",
		Quantity:  ledger.NewQuantity(100, ledger.UnitKilograms),
		Reference: "PO-1",
		Provenance: ledger.Provenance{
			SourceSystem: "erp", Actor: "tester", Status: ledger.StatusValid,
		},
		Metadata:     map[string]string{"lot": "L-1"},
		PreviousHash: prev,
	}
	e.CurrentHash = ledger.EventHash(e)
	return e
}

func TestEventRoundTrip(t *testing.T) {
	// GIVEN: An event with metadata and provenance
	// WHEN: Persisting and reloading
	// THEN: Every field survives, including the hashes

	s := newTestStore(t)
	ctx := context.Background()

	e := sampleEvent(1, ledger.GenesisHash)
	require.NoError(t, s.AppendEvent(ctx, e))

	loaded, err := s.LoadEvents(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	require.Equal(t, e.ID, got.ID)
	require.Equal(t, e.Sequence, got.Sequence)
	require.True(t, e.Timestamp.Equal(got.Timestamp))
	require.Equal(t, e.Kind, got.Kind)
	require.Equal(t, e.PoolID, got.PoolID)
	require.True(t, e.Quantity.Value.Equal(got.Quantity.Value))
	require.Equal(t, e.Quantity.Unit, got.Quantity.Unit)
	require.Equal(t, e.Provenance, got.Provenance)
	require.Equal(t, e.Metadata, got.Metadata)
	require.Equal(t, e.PreviousHash, got.PreviousHash)
	require.Equal(t, e.CurrentHash, got.CurrentHash)

	// The reloaded event still hashes to its stored hash.
	require.Equal(t, got.CurrentHash, ledger.EventHash(got))
}

func TestAppendEvents_AtomicPair(t *testing.T) {
	// GIVEN: A pair where the second event collides with a stored sequence
	// WHEN: Appending the pair
	// THEN: The transaction rolls back and neither event is persisted

	s := newTestStore(t)
	ctx := context.Background()

	first := sampleEvent(1, ledger.GenesisHash)
	require.NoError(t, s.AppendEvent(ctx, first))

	e2 := sampleEvent(2, first.CurrentHash)
	dup := sampleEvent(1, e2.CurrentHash) // primary key collision
	dup.ID = "evt-dup"
	require.Error(t, s.AppendEvents(ctx, []ledger.LedgerEvent{e2, dup}))

	loaded, err := s.LoadEvents(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1, "failed pair must leave the log untouched")
}

func TestPoolRoundTrip(t *testing.T) {
	// GIVEN: A pool definition with a certification
	// WHEN: Saving, updating, and reloading
	// THEN: Definition fields persist; the balance column does not exist

	s := newTestStore(t)
	ctx := context.Background()

	p := ledger.MaterialPool{
		ID:             "SUSTAINABLE_PAN",
		Name:           "Certified PAN",
		Classification: ledger.ClassSustainable,
		MaterialCode:   "PAN",
		Balance:        decimal.NewFromInt(999), // must NOT persist
		Unit:           ledger.UnitKilograms,
		MinBalance:     decimal.Zero,
		MaxBalance:     decimal.NewFromInt(5000),
		QualityStatus:  "released",
		Certification: &ledger.Certification{
			Scheme:        "ISCC+",
			CertificateID: "CERT-1",
			ValidFrom:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			ValidUntil:    time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		},
		Active:    true,
		CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SavePool(ctx, p))

	p.Active = false
	require.NoError(t, s.SavePool(ctx, p)) // upsert

	loaded, err := s.LoadPools(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	require.Equal(t, p.ID, got.ID)
	require.Equal(t, p.Classification, got.Classification)
	require.False(t, got.Active)
	require.True(t, got.Balance.IsZero(), "balances are a replay projection")
	require.NotNil(t, got.Certification)
	require.Equal(t, "CERT-1", got.Certification.CertificateID)
	require.True(t, p.MaxBalance.Equal(got.MaxBalance))
}

func TestSliceRoundTrip(t *testing.T) {
	// GIVEN: An open slice later sealed with balances and a hash
	// WHEN: Reloading
	// THEN: The sealed state is what comes back

	s := newTestStore(t)
	ctx := context.Background()

	sl := ledger.TimeSlice{
		ID:     "slice-1",
		Start:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Status: ledger.SliceOpen,
		OpeningBalances: map[ledger.PoolID]decimal.Decimal{
			"SUSTAINABLE_PAN": decimal.NewFromInt(100),
		},
	}
	require.NoError(t, s.SaveSlice(ctx, sl))

	sl.End = sl.Start.Add(time.Hour)
	sl.Status = ledger.SliceSealed
	sl.EventIDs = []ledger.EventID{"evt-1", "evt-2"}
	sl.EventHashes = []string{"aa", "bb"}
	sl.ClosingBalances = map[ledger.PoolID]decimal.Decimal{
		"SUSTAINABLE_PAN": decimal.NewFromInt(250),
	}
	sl.SliceHash = ledger.ChainHash(sl.EventHashes)
	require.NoError(t, s.SaveSlice(ctx, sl))

	loaded, err := s.LoadSlices(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	require.Equal(t, ledger.SliceSealed, got.Status)
	require.True(t, got.End.Equal(sl.End))
	require.Equal(t, sl.EventIDs, got.EventIDs)
	require.Equal(t, sl.SliceHash, got.SliceHash)
	require.True(t, got.ClosingBalances["SUSTAINABLE_PAN"].Equal(decimal.NewFromInt(250)))
}

func TestEngineReplayOverSQLite(t *testing.T) {
	// GIVEN: An engine that wrote movements to a database file
	// WHEN: A second engine opens the same file
	// THEN: Balances, slices, and chain integrity are fully restored

	path := filepath.Join(t.TempDir(), "replay.db")
	ctx := context.Background()

	s1, err := New(path)
	require.NoError(t, err)
	e1, err := ledger.NewEngine(ctx, s1, ledger.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, err = e1.CreatePool(ctx, ledger.PoolDefinition{
		ID: "SUSTAINABLE_PAN", Name: "PAN", Classification: ledger.ClassSustainable,
	})
	require.NoError(t, err)
	_, err = e1.AddInward(ctx, "SUSTAINABLE_PAN", ledger.NewQuantity(400, ""),
		ledger.Provenance{SourceSystem: "test", Actor: "tester"}, "PO-1")
	require.NoError(t, err)
	_, err = e1.CloseSlice(ctx)
	require.NoError(t, err)
	_, err = e1.AddInward(ctx, "SUSTAINABLE_PAN", ledger.NewQuantity(100, ""),
		ledger.Provenance{SourceSystem: "test", Actor: "tester"}, "PO-2")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := New(path)
	require.NoError(t, err)
	defer s2.Close()
	e2, err := ledger.NewEngine(ctx, s2, ledger.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	p, err := e2.Pool("SUSTAINABLE_PAN")
	require.NoError(t, err)
	require.True(t, p.Balance.Equal(decimal.NewFromInt(500)))
	require.NoError(t, e2.VerifyChain())

	var sealed int
	for _, sl := range e2.Slices() {
		if sl.Status == ledger.SliceSealed {
			sealed++
		}
	}
	require.Equal(t, 1, sealed)
}
