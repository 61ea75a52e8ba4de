/*
store.go - Durable persistence interface for the ledger

PURPOSE:
  Defines the boundary between the engine and its backing store. Events are
  the source of truth; pool definitions and slices are supporting records.
  Pool balances are NOT persisted - they are rebuilt by replaying events at
  startup, which also re-anchors the chain tip.

APPEND-ONLY CONTRACT:
  - AppendEvent / AppendEvents are the ONLY event writes.
  - AppendEvents is atomic: the paired transformation events either both
    reach the store or neither does.
  - No update or delete of events exists, here or in any implementation.

DURABILITY:
  The engine persists an event BEFORE acknowledging it to the caller. An
  acknowledged event can never be lost; a failed persist reverts the
  in-memory balance delta and leaves the chain untouched.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite in WAL mode, for a facility instance

SEE ALSO:
  - eventstore.go: The append path that drives this interface
*/
package ledger

import "context"

// Store persists ledger state. Event methods are append-only.
type Store interface {
	// AppendEvent persists a single materialized event.
	AppendEvent(ctx context.Context, e LedgerEvent) error

	// AppendEvents persists multiple events atomically. Either all reach
	// the store or none do. Used by transformations.
	AppendEvents(ctx context.Context, events []LedgerEvent) error

	// LoadEvents returns all events in sequence order.
	LoadEvents(ctx context.Context) ([]LedgerEvent, error)

	// SavePool upserts a pool definition. Balance is not persisted.
	SavePool(ctx context.Context, p MaterialPool) error

	// LoadPools returns all pool definitions.
	LoadPools(ctx context.Context) ([]MaterialPool, error)

	// SaveSlice upserts a time slice. Sealed slices never change again;
	// the open slice is rewritten as events attach to it.
	SaveSlice(ctx context.Context, s TimeSlice) error

	// LoadSlices returns all slices ordered by start time.
	LoadSlices(ctx context.Context) ([]TimeSlice, error)

	Close() error
}
