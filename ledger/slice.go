/*
slice.go - Time-slice manager: sealed accounting windows

PURPOSE:
  Partitions the event stream into contiguous, non-overlapping windows with
  snapshotted opening/closing balances. Sealed slices are the audit
  checkpoints: an auditor can verify any window in isolation and chain the
  windows together through the continuity invariant.

CONTINUITY INVARIANT:
  Exactly one slice is Open at any time. Closing a slice snapshots closing
  balances, computes the slice hash over its ordered member event hashes,
  marks it Sealed, and atomically opens the successor whose opening
  balances EQUAL the closing balances just captured.

BOUNDARIES:
  Slices close either on an explicit audit cut-off (CloseSlice) or, when a
  width is configured, automatically once the open slice has covered the
  width. Both paths run under the engine's writer lock and preserve the
  continuity invariant.

SEE ALSO:
  - eventstore.go: Attaches each appended event to the open slice
  - rules.go: Advisory continuity check across sealed slices
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TIME SLICE
// =============================================================================

type SliceStatus string

const (
	SliceOpen   SliceStatus = "open"
	SliceClosed SliceStatus = "closed"
	SliceSealed SliceStatus = "sealed"
)

type TimeSlice struct {
	ID     SliceID
	Start  time.Time
	End    time.Time // zero while open
	Status SliceStatus

	// Ordered membership; hashes retained so the slice hash is
	// recomputable without walking the full log.
	EventIDs    []EventID
	EventHashes []string

	OpeningBalances map[PoolID]decimal.Decimal
	ClosingBalances map[PoolID]decimal.Decimal

	SliceHash string // set when sealed
}

// =============================================================================
// SLICE MANAGER
// =============================================================================

// SliceManager owns the slice lifecycle. Like the registry it carries no
// lock; the engine serializes all access.
type SliceManager struct {
	store  Store
	log    zerolog.Logger
	sealed []TimeSlice
	open   *TimeSlice
	width  time.Duration // 0 = explicit close only
	now    func() time.Time
}

func NewSliceManager(store Store, width time.Duration, log zerolog.Logger) *SliceManager {
	return &SliceManager{store: store, width: width, log: log, now: time.Now}
}

// Bootstrap installs slices loaded from the durable store, or opens the
// very first slice on a fresh ledger.
func (m *SliceManager) Bootstrap(ctx context.Context, loaded []TimeSlice, opening map[PoolID]decimal.Decimal) error {
	for _, s := range loaded {
		if s.Status == SliceOpen {
			cp := s
			m.open = &cp
		} else {
			m.sealed = append(m.sealed, s)
		}
	}
	if m.open != nil {
		return nil
	}
	return m.openSlice(ctx, m.now().UTC(), opening)
}

// openSlice installs the next open slice in memory first and persists it
// after. The in-memory install is what keeps exactly one slice open;
// a lost durable record is rebuilt at the next startup.
func (m *SliceManager) openSlice(ctx context.Context, start time.Time, opening map[PoolID]decimal.Decimal) error {
	s := &TimeSlice{
		ID:              SliceID(uuid.NewString()),
		Start:           start,
		Status:          SliceOpen,
		OpeningBalances: cloneBalances(opening),
	}
	m.open = s
	return m.store.SaveSlice(ctx, *s)
}

// Current returns a copy of the open slice.
func (m *SliceManager) Current() (TimeSlice, error) {
	if m.open == nil {
		return TimeSlice{}, ErrNoOpenSlice
	}
	return *m.open, nil
}

// Attach registers an appended event with the open slice and persists the
// updated membership. Part of the atomic append unit in eventstore.go.
func (m *SliceManager) Attach(ctx context.Context, e LedgerEvent) error {
	if m.open == nil {
		return ErrNoOpenSlice
	}
	m.open.EventIDs = append(m.open.EventIDs, e.ID)
	m.open.EventHashes = append(m.open.EventHashes, e.CurrentHash)
	return m.store.SaveSlice(ctx, *m.open)
}

// Close seals the open slice and opens its successor. The successor's
// opening balances equal the closing balances captured here.
func (m *SliceManager) Close(ctx context.Context, closing map[PoolID]decimal.Decimal) (TimeSlice, error) {
	if m.open == nil {
		return TimeSlice{}, ErrNoOpenSlice
	}

	s := m.open
	s.End = m.now().UTC()
	s.Status = SliceClosed
	s.ClosingBalances = cloneBalances(closing)
	s.SliceHash = ChainHash(s.EventHashes)
	s.Status = SliceSealed

	if err := m.store.SaveSlice(ctx, *s); err != nil {
		// Leave the slice open; nothing was sealed.
		s.End = time.Time{}
		s.Status = SliceOpen
		s.ClosingBalances = nil
		s.SliceHash = ""
		return TimeSlice{}, err
	}

	sealed := *s
	m.sealed = append(m.sealed, sealed)

	if err := m.openSlice(ctx, sealed.End, closing); err != nil {
		// The successor exists in memory, so exactly one slice stays
		// open. Its membership is re-derived from the log at startup,
		// the same way lost attachment saves are (see eventstore.go).
		m.log.Warn().Err(err).Str("slice", string(m.open.ID)).
			Msg("successor slice not persisted")
	}
	return sealed, nil
}

// RebuildOpenMembership re-derives the open slice's member list from the
// event log: every event not claimed by a sealed slice belongs to it. This
// makes a lost best-effort slice save (see eventstore.go) self-healing.
func (m *SliceManager) RebuildOpenMembership(all []LedgerEvent) {
	if m.open == nil {
		return
	}
	sealed := make(map[EventID]bool)
	for _, s := range m.sealed {
		for _, id := range s.EventIDs {
			sealed[id] = true
		}
	}
	m.open.EventIDs = nil
	m.open.EventHashes = nil
	for _, e := range all {
		if !sealed[e.ID] {
			m.open.EventIDs = append(m.open.EventIDs, e.ID)
			m.open.EventHashes = append(m.open.EventHashes, e.CurrentHash)
		}
	}
}

// ShouldRoll reports whether a configured width has elapsed for the open
// slice. The engine closes the slice before applying the next mutation so
// width-driven windows stay aligned with the event stream.
func (m *SliceManager) ShouldRoll(now time.Time) bool {
	return m.width > 0 && m.open != nil && !now.Before(m.open.Start.Add(m.width))
}

// Sealed returns copies of all sealed slices in close order.
func (m *SliceManager) Sealed() []TimeSlice {
	out := make([]TimeSlice, len(m.sealed))
	copy(out, m.sealed)
	return out
}

// All returns sealed slices followed by the open slice, if any.
func (m *SliceManager) All() []TimeSlice {
	out := m.Sealed()
	if m.open != nil {
		out = append(out, *m.open)
	}
	return out
}

// LatestSealedBefore returns the sealed slice with the latest end time not
// after t, for as-of-then balance reconstruction.
func (m *SliceManager) LatestSealedBefore(t time.Time) (TimeSlice, bool) {
	for i := len(m.sealed) - 1; i >= 0; i-- {
		if !m.sealed[i].End.After(t) {
			return m.sealed[i], true
		}
	}
	return TimeSlice{}, false
}

func cloneBalances(in map[PoolID]decimal.Decimal) map[PoolID]decimal.Decimal {
	out := make(map[PoolID]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
