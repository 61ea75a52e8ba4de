/*
Package sqlite provides the durable SQLite-backed Store.

PURPOSE:
  The append-only durable log a facility instance acknowledges writes
  against. The events table is the source of truth; pool balances are
  rebuilt by replay at startup, so only definitions are persisted.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements exist for the events table.
  - AppendEvents wraps the transformation pair in one SQL transaction.
  - Sealed slices are written once and never touched again; only the open
    slice row is rewritten as events attach to it.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block the
  single writer, and an acknowledged append survives a crash.

KEY TABLES:
  events:  Immutable hash-chained ledger (sequence is the primary key)
  pools:   Pool definitions (no balances)
  slices:  Time-slice windows with balance snapshots

SEE ALSO:
  - ledger/store.go: Interface definition and durability contract
  - ledger/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/certflow/massbalance-engine/ledger"
)

// Store implements ledger.Store on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	-- Events (append-only hash-chained ledger)
	CREATE TABLE IF NOT EXISTS events (
		sequence INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		kind TEXT NOT NULL,
		pool_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit TEXT NOT NULL,
		reference TEXT,
		batch_id TEXT,
		source_system TEXT,
		actor TEXT,
		status TEXT NOT NULL,
		metadata_json TEXT,
		previous_hash TEXT NOT NULL,
		current_hash TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_pool ON events(pool_id);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_events_batch ON events(batch_id) WHERE batch_id != '';

	-- Pool definitions (balances are a replay projection, not stored)
	CREATE TABLE IF NOT EXISTS pools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		classification TEXT NOT NULL,
		material_code TEXT,
		unit TEXT NOT NULL,
		min_balance TEXT NOT NULL,
		max_balance TEXT NOT NULL,
		quality_status TEXT,
		certification_json TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		allow_negative INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Time slices (sealed rows never change; the open row is rewritten)
	CREATE TABLE IF NOT EXISTS slices (
		id TEXT PRIMARY KEY,
		start TEXT NOT NULL,
		end_time TEXT,
		status TEXT NOT NULL,
		event_ids_json TEXT,
		event_hashes_json TEXT,
		opening_json TEXT,
		closing_json TEXT,
		slice_hash TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_slices_start ON slices(start);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EVENTS
// =============================================================================

const insertEvent = `
	INSERT INTO events (sequence, id, timestamp, kind, pool_id, quantity, unit,
		reference, batch_id, source_system, actor, status, metadata_json,
		previous_hash, current_hash)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) AppendEvent(ctx context.Context, e ledger.LedgerEvent) error {
	args, err := eventArgs(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, insertEvent, args...)
	return err
}

func (s *Store) AppendEvents(ctx context.Context, events []ledger.LedgerEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		args, err := eventArgs(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertEvent, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func eventArgs(e ledger.LedgerEvent) ([]any, error) {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		e.Sequence,
		string(e.ID),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Kind),
		string(e.PoolID),
		e.Quantity.Value.String(),
		string(e.Quantity.Unit),
		e.Reference,
		string(e.BatchID),
		e.Provenance.SourceSystem,
		e.Provenance.Actor,
		string(e.Provenance.Status),
		string(meta),
		e.PreviousHash,
		e.CurrentHash,
	}, nil
}

func (s *Store) LoadEvents(ctx context.Context) ([]ledger.LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, id, timestamp, kind, pool_id, quantity, unit,
			reference, batch_id, source_system, actor, status, metadata_json,
			previous_hash, current_hash
		FROM events ORDER BY sequence`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.LedgerEvent
	for rows.Next() {
		var (
			e                        ledger.LedgerEvent
			id, ts, kind, pool       string
			qty, unit, ref, batch    string
			src, actor, status, meta string
		)
		if err := rows.Scan(&e.Sequence, &id, &ts, &kind, &pool, &qty, &unit,
			&ref, &batch, &src, &actor, &status, &meta,
			&e.PreviousHash, &e.CurrentHash); err != nil {
			return nil, err
		}

		e.ID = ledger.EventID(id)
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad timestamp: %w", id, err)
		}
		e.Kind = ledger.EventKind(kind)
		e.PoolID = ledger.PoolID(pool)
		value, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad quantity: %w", id, err)
		}
		e.Quantity = ledger.Quantity{Value: value, Unit: ledger.Unit(unit)}
		e.Reference = ref
		e.BatchID = ledger.BatchID(batch)
		e.Provenance = ledger.Provenance{SourceSystem: src, Actor: actor, Status: ledger.ValidationStatus(status)}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("event %s: bad metadata: %w", id, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// POOLS
// =============================================================================

func (s *Store) SavePool(ctx context.Context, p ledger.MaterialPool) error {
	var cert []byte
	if p.Certification != nil {
		var err error
		cert, err = json.Marshal(p.Certification)
		if err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pools (id, name, classification, material_code, unit,
			min_balance, max_balance, quality_status, certification_json,
			active, allow_negative, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			quality_status = excluded.quality_status,
			certification_json = excluded.certification_json,
			active = excluded.active`,
		string(p.ID), p.Name, string(p.Classification), p.MaterialCode,
		string(p.Unit), p.MinBalance.String(), p.MaxBalance.String(),
		p.QualityStatus, string(cert), boolInt(p.Active), boolInt(p.AllowNegative),
		p.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) LoadPools(ctx context.Context) ([]ledger.MaterialPool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, classification, material_code, unit, min_balance,
			max_balance, quality_status, certification_json, active,
			allow_negative, created_at
		FROM pools ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.MaterialPool
	for rows.Next() {
		var (
			p                        ledger.MaterialPool
			id, class, unit          string
			minBal, maxBal, cert, at string
			active, allowNeg         int
		)
		if err := rows.Scan(&id, &p.Name, &class, &p.MaterialCode, &unit,
			&minBal, &maxBal, &p.QualityStatus, &cert, &active, &allowNeg, &at); err != nil {
			return nil, err
		}

		p.ID = ledger.PoolID(id)
		p.Classification = ledger.Classification(class)
		p.Unit = ledger.Unit(unit)
		if p.MinBalance, err = decimal.NewFromString(minBal); err != nil {
			return nil, err
		}
		if p.MaxBalance, err = decimal.NewFromString(maxBal); err != nil {
			return nil, err
		}
		if cert != "" {
			var c ledger.Certification
			if err := json.Unmarshal([]byte(cert), &c); err != nil {
				return nil, err
			}
			p.Certification = &c
		}
		p.Active = active == 1
		p.AllowNegative = allowNeg == 1
		if p.CreatedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// SLICES
// =============================================================================

func (s *Store) SaveSlice(ctx context.Context, sl ledger.TimeSlice) error {
	ids, err := json.Marshal(sl.EventIDs)
	if err != nil {
		return err
	}
	hashes, err := json.Marshal(sl.EventHashes)
	if err != nil {
		return err
	}
	opening, err := json.Marshal(sl.OpeningBalances)
	if err != nil {
		return err
	}
	closing, err := json.Marshal(sl.ClosingBalances)
	if err != nil {
		return err
	}

	end := ""
	if !sl.End.IsZero() {
		end = sl.End.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO slices (id, start, end_time, status, event_ids_json,
			event_hashes_json, opening_json, closing_json, slice_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			end_time = excluded.end_time,
			status = excluded.status,
			event_ids_json = excluded.event_ids_json,
			event_hashes_json = excluded.event_hashes_json,
			closing_json = excluded.closing_json,
			slice_hash = excluded.slice_hash`,
		string(sl.ID), sl.Start.UTC().Format(time.RFC3339Nano), end,
		string(sl.Status), string(ids), string(hashes), string(opening),
		string(closing), sl.SliceHash)
	return err
}

func (s *Store) LoadSlices(ctx context.Context) ([]ledger.TimeSlice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start, end_time, status, event_ids_json, event_hashes_json,
			opening_json, closing_json, slice_hash
		FROM slices ORDER BY start`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.TimeSlice
	for rows.Next() {
		var (
			sl                            ledger.TimeSlice
			id, start, end, status        string
			ids, hashes, opening, closing string
		)
		if err := rows.Scan(&id, &start, &end, &status, &ids, &hashes,
			&opening, &closing, &sl.SliceHash); err != nil {
			return nil, err
		}

		sl.ID = ledger.SliceID(id)
		sl.Status = ledger.SliceStatus(status)
		if sl.Start, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, err
		}
		if end != "" {
			if sl.End, err = time.Parse(time.RFC3339Nano, end); err != nil {
				return nil, err
			}
		}
		if err := json.Unmarshal([]byte(ids), &sl.EventIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(hashes), &sl.EventHashes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opening), &sl.OpeningBalances); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(closing), &sl.ClosingBalances); err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
