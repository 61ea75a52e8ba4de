/*
eventstore.go - Append-only, hash-chained event log

PURPOSE:
  The event store is the source of truth for all mass movements. Every
  inward receipt, outward shipment, transformation leg, and reconciliation
  is recorded here, chained by SHA-256 to its predecessor.

APPEND UNIT:
  Append performs, as one unit under the engine's writer lock:
    1. validate the draft (non-zero quantity, sign matches kind)
    2. take PreviousHash from the chain tip (genesis if empty)
    3. apply the balance delta through the pool registry
    4. materialize CurrentHash over the full event
    5. persist durably, then append to the in-memory log
    6. attach the event to the open time slice
  If the balance application fails nothing is appended. If the durable
  write fails the delta is reverted and the chain tip is unchanged.

  Slice attachment is persisted best-effort: membership is re-derived from
  the event log at startup (see engine.go), so a failed slice save cannot
  corrupt anything an auditor reads.

CORRECTIONS:
  Never by edit. A mistaken movement is corrected by a compensating
  movement; both remain in the log.

SEE ALSO:
  - hash.go: Canonical serialization
  - pool.go: Balance application
  - slice.go: Window membership
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// EVENT DRAFT - What mutation operations hand to the store
// =============================================================================

// EventDraft carries the caller-supplied fields of a movement. Identity,
// sequence, hashes, and timestamp (when zero) are assigned at append time.
type EventDraft struct {
	Kind       EventKind
	PoolID     PoolID
	Quantity   Quantity // signed: positive inward, negative outward
	Reference  string
	BatchID    BatchID
	Provenance Provenance
	Metadata   map[string]string
	Timestamp  time.Time
}

func (d EventDraft) validate() error {
	// Reconciliations may legitimately record a zero variance; every other
	// kind must move mass.
	if d.Quantity.IsZero() && d.Kind != KindBatchReconciliation {
		return ErrInvalidQuantity
	}
	if d.Kind.IsInward() && !d.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if d.Kind.IsOutward() && !d.Quantity.IsNegative() {
		return ErrInvalidQuantity
	}
	return nil
}

// =============================================================================
// EVENT STORE
// =============================================================================

// EventStore owns the in-memory chain and drives the durable store. It
// carries no lock; the engine serializes all access.
type EventStore struct {
	store    Store
	registry *Registry
	slices   *SliceManager
	log      zerolog.Logger

	events   []LedgerEvent
	lastHash string
	nextSeq  int64
	now      func() time.Time
}

func NewEventStore(store Store, registry *Registry, slices *SliceManager, log zerolog.Logger) *EventStore {
	return &EventStore{
		store:    store,
		registry: registry,
		slices:   slices,
		log:      log,
		lastHash: GenesisHash,
		nextSeq:  1,
		now:      time.Now,
	}
}

// Bootstrap replays persisted events: rebuilds pool balances and re-anchors
// the chain tip. The replayed chain is verified before the engine accepts
// writes, so a tampered store is caught at startup.
func (s *EventStore) Bootstrap(ctx context.Context) error {
	events, err := s.store.LoadEvents(ctx)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	s.events = events
	for _, e := range events {
		s.registry.replayDelta(e.PoolID, e.Quantity.Value)
	}
	if n := len(events); n > 0 {
		s.lastHash = events[n-1].CurrentHash
		s.nextSeq = events[n-1].Sequence + 1
	}
	return s.VerifyChain()
}

// Append runs the atomic append unit for a single movement.
func (s *EventStore) Append(ctx context.Context, draft EventDraft) (LedgerEvent, error) {
	if err := draft.validate(); err != nil {
		return LedgerEvent{}, err
	}

	e := s.materialize(draft, s.lastHash, s.nextSeq)

	if _, err := s.registry.ApplyDelta(e.PoolID, e.Quantity.Value); err != nil {
		return LedgerEvent{}, err
	}
	e.CurrentHash = EventHash(e)

	if err := s.store.AppendEvent(ctx, e); err != nil {
		s.registry.revertDelta(e.PoolID, e.Quantity.Value)
		return LedgerEvent{}, fmt.Errorf("persist event: %w", err)
	}

	s.commit(ctx, e)
	return e, nil
}

// AppendPair runs the append unit for two linked movements (the legs of a
// transformation). Both deltas apply and both events persist atomically,
// or the pool balances are restored and the chain tip is unchanged. No
// partial transformation is ever observable to readers.
func (s *EventStore) AppendPair(ctx context.Context, first, second EventDraft) (LedgerEvent, LedgerEvent, error) {
	if err := first.validate(); err != nil {
		return LedgerEvent{}, LedgerEvent{}, err
	}
	if err := second.validate(); err != nil {
		return LedgerEvent{}, LedgerEvent{}, err
	}

	e1 := s.materialize(first, s.lastHash, s.nextSeq)
	if _, err := s.registry.ApplyDelta(e1.PoolID, e1.Quantity.Value); err != nil {
		return LedgerEvent{}, LedgerEvent{}, err
	}
	e1.CurrentHash = EventHash(e1)

	e2 := s.materialize(second, e1.CurrentHash, s.nextSeq+1)
	if _, err := s.registry.ApplyDelta(e2.PoolID, e2.Quantity.Value); err != nil {
		s.registry.revertDelta(e1.PoolID, e1.Quantity.Value)
		return LedgerEvent{}, LedgerEvent{}, err
	}
	e2.CurrentHash = EventHash(e2)

	if err := s.store.AppendEvents(ctx, []LedgerEvent{e1, e2}); err != nil {
		s.registry.revertDelta(e2.PoolID, e2.Quantity.Value)
		s.registry.revertDelta(e1.PoolID, e1.Quantity.Value)
		return LedgerEvent{}, LedgerEvent{}, fmt.Errorf("persist event pair: %w", err)
	}

	s.commit(ctx, e1)
	s.commit(ctx, e2)
	return e1, e2, nil
}

func (s *EventStore) materialize(draft EventDraft, prevHash string, seq int64) LedgerEvent {
	ts := draft.Timestamp
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	return LedgerEvent{
		ID:           EventID(uuid.NewString()),
		Sequence:     seq,
		Timestamp:    ts,
		Kind:         draft.Kind,
		PoolID:       draft.PoolID,
		Quantity:     draft.Quantity,
		Reference:    draft.Reference,
		BatchID:      draft.BatchID,
		Provenance:   draft.Provenance,
		Metadata:     draft.Metadata,
		PreviousHash: prevHash,
	}
}

func (s *EventStore) commit(ctx context.Context, e LedgerEvent) {
	s.events = append(s.events, e)
	s.lastHash = e.CurrentHash
	s.nextSeq = e.Sequence + 1

	if err := s.slices.Attach(ctx, e); err != nil {
		// Membership is re-derived from the log at startup.
		s.log.Warn().Err(err).Str("event_id", string(e.ID)).
			Msg("slice attachment not persisted")
	}
}

// =============================================================================
// READS
// =============================================================================

// Events returns copies of events matching the filter, in append order.
func (s *EventStore) Events(filter EventFilter) []LedgerEvent {
	var out []LedgerEvent
	for _, e := range s.events {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns the newest events, at most limit, oldest first.
func (s *EventStore) Recent(limit int) []LedgerEvent {
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]LedgerEvent, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out
}

func (s *EventStore) Count() int       { return len(s.events) }
func (s *EventStore) LastHash() string { return s.lastHash }

// VerifyChain walks the full chain recomputing every hash. Used by audits.
// Returns a ChainIntegrityError pinpointing the first broken link.
func (s *EventStore) VerifyChain() error {
	prev := GenesisHash
	for i, e := range s.events {
		if e.Sequence != int64(i)+1 {
			return &ChainIntegrityError{
				Sequence: e.Sequence, EventID: e.ID,
				Stored: "", Computed: fmt.Sprintf("expected sequence %d", i+1),
			}
		}
		if e.PreviousHash != prev {
			return &ChainIntegrityError{
				Sequence: e.Sequence, EventID: e.ID,
				Stored: e.PreviousHash, Computed: prev,
			}
		}
		if computed := EventHash(e); computed != e.CurrentHash {
			return &ChainIntegrityError{
				Sequence: e.Sequence, EventID: e.ID,
				Stored: e.CurrentHash, Computed: computed,
			}
		}
		prev = e.CurrentHash
	}
	return nil
}

// tamper is a test hook: it mutates a stored event in place to prove that
// VerifyChain detects the alteration. Package-private on purpose.
func (s *EventStore) tamper(index int, mutate func(*LedgerEvent)) {
	if index >= 0 && index < len(s.events) {
		mutate(&s.events[index])
	}
}
