/*
Package ledger provides the mass-balance ledger engine.

PURPOSE:
  This package contains the core accounting engine for chain-of-custody
  mass-balance tracking (ISCC+-style certification). Certified-sustainable
  and conventional feedstocks flow through shared process equipment; the
  engine proves, to an external auditor, exactly how much mass of each
  classification entered, was transformed, was shipped, and remains on hand
  over any reporting period - without being able to retroactively alter
  history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity: A mass with a unit, backed by decimal.Decimal
  - MaterialPool: A tracked quantity of sustainable or conventional material
  - LedgerEvent: An immutable, hash-chained entry recording a mass movement
  - Provenance: Who/what submitted an event and its validation status

DESIGN PRINCIPLES:
  1. Immutability: Events are never modified; corrections are new events
  2. Tamper-evidence: Every event is SHA-256 chained to its predecessor
  3. Precision: decimal.Decimal throughout - mass accounting must not drift
  4. Explicit state: One Engine object, no globals

SEE ALSO:
  - hash.go: Canonical serialization and chain hashing
  - pool.go: Pool registry and balance mutation
  - eventstore.go: Append-only event log
  - engine.go: The single-writer facade collaborators call
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY - Mass with a unit
// =============================================================================

type Quantity struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitKilograms Unit = "kg"
	UnitTonnes    Unit = "t"
	UnitPounds    Unit = "lb"
)

func NewQuantity(value float64, unit Unit) Quantity {
	return Quantity{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewQuantityFromDecimal(value decimal.Decimal, unit Unit) Quantity {
	return Quantity{Value: value, Unit: unit}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (q Quantity) Zero() Quantity                 { return Quantity{Value: decimal.Zero, Unit: q.Unit} }
func (q Quantity) Add(o Quantity) Quantity        { return Quantity{Value: q.Value.Add(o.Value), Unit: q.Unit} }
func (q Quantity) Sub(o Quantity) Quantity        { return Quantity{Value: q.Value.Sub(o.Value), Unit: q.Unit} }
func (q Quantity) Mul(s decimal.Decimal) Quantity { return Quantity{Value: q.Value.Mul(s), Unit: q.Unit} }
func (q Quantity) Neg() Quantity                  { return Quantity{Value: q.Value.Neg(), Unit: q.Unit} }
func (q Quantity) Abs() Quantity                  { return Quantity{Value: q.Value.Abs(), Unit: q.Unit} }
func (q Quantity) IsZero() bool                   { return q.Value.IsZero() }
func (q Quantity) IsNegative() bool               { return q.Value.IsNegative() }
func (q Quantity) IsPositive() bool               { return q.Value.IsPositive() }
func (q Quantity) GreaterThan(o Quantity) bool    { return q.Value.GreaterThan(o.Value) }
func (q Quantity) LessThan(o Quantity) bool       { return q.Value.LessThan(o.Value) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PoolID string
type EventID string
type SliceID string
type BatchID string

// =============================================================================
// CLASSIFICATION - The axis the whole system pivots on
// =============================================================================

// Classification says whether mass in a pool counts toward sustainability
// claims. Mass-balance accounting attributes claims to a measured share of
// output consistent with total certified input, without physical segregation.
type Classification string

const (
	ClassSustainable  Classification = "sustainable"
	ClassConventional Classification = "conventional"
)

// =============================================================================
// EVENT KIND - Direction and classification of a movement
// =============================================================================

type EventKind string

const (
	KindInwardSustainable   EventKind = "inward_sustainable"
	KindInwardConventional  EventKind = "inward_conventional"
	KindOutwardSustainable  EventKind = "outward_sustainable"
	KindOutwardConventional EventKind = "outward_conventional"
	KindTransformation      EventKind = "transformation"
	KindBatchReconciliation EventKind = "batch_reconciliation"
)

// IsInward reports whether the kind increases a pool balance.
func (k EventKind) IsInward() bool {
	return k == KindInwardSustainable || k == KindInwardConventional
}

// IsOutward reports whether the kind decreases a pool balance.
func (k EventKind) IsOutward() bool {
	return k == KindOutwardSustainable || k == KindOutwardConventional
}

// InwardKindFor returns the inward event kind for a classification.
func InwardKindFor(c Classification) EventKind {
	if c == ClassSustainable {
		return KindInwardSustainable
	}
	return KindInwardConventional
}

// OutwardKindFor returns the outward event kind for a classification.
func OutwardKindFor(c Classification) EventKind {
	if c == ClassSustainable {
		return KindOutwardSustainable
	}
	return KindOutwardConventional
}

// =============================================================================
// PROVENANCE - Who submitted an event and whether it passed validation
// =============================================================================

type ValidationStatus string

const (
	StatusValid   ValidationStatus = "valid"
	StatusInvalid ValidationStatus = "invalid"
)

type Provenance struct {
	SourceSystem string // e.g. "erp", "scale-gateway", "manual"
	Actor        string // submitting user or system identity
	Status       ValidationStatus
}

// =============================================================================
// LEDGER EVENT - Immutable, hash-chained movement record
// =============================================================================

// LedgerEvent is one entry in the append-only log.
//
// INVARIANTS:
//   - Sequence is monotonically assigned, gap-free, starting at 1.
//   - CurrentHash = SHA-256 over the canonical serialization of all
//     immutable fields including PreviousHash (see hash.go).
//   - The first event's PreviousHash is GenesisHash.
//   - Events are never edited or deleted once appended.
type LedgerEvent struct {
	ID         EventID
	Sequence   int64
	Timestamp  time.Time
	Kind       EventKind
	PoolID     PoolID
	Quantity   Quantity // signed: positive inward, negative outward
	Reference  string   // external receipt/shipment id
	BatchID    BatchID
	Provenance Provenance
	Metadata   map[string]string

	PreviousHash string
	CurrentHash  string
}

// EventFilter narrows read queries over the log. Zero values match all.
type EventFilter struct {
	PoolID PoolID
	Kind   EventKind
	From   time.Time
	To     time.Time
}

// Matches reports whether the event satisfies the filter.
func (f EventFilter) Matches(e LedgerEvent) bool {
	if f.PoolID != "" && e.PoolID != f.PoolID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// =============================================================================
// CERTIFICATION REFERENCE - Optional pool-level certificate linkage
// =============================================================================

type Certification struct {
	Scheme        string // e.g. "ISCC+"
	CertificateID string
	ValidFrom     time.Time
	ValidUntil    time.Time
}

// ValidAt reports whether the certificate covers the given instant.
func (c Certification) ValidAt(t time.Time) bool {
	if c.CertificateID == "" {
		return false
	}
	return !t.Before(c.ValidFrom) && !t.After(c.ValidUntil)
}

// =============================================================================
// MATERIAL POOL - A tracked quantity of classified material
// =============================================================================

// MaterialPool is a named bucket of mass with a classification. Balances
// are mutated exclusively by the event store on behalf of engine mutations;
// pools are never deleted, only deactivated, to preserve traceability.
type MaterialPool struct {
	ID             PoolID
	Name           string
	Classification Classification
	MaterialCode   string // e.g. "PAN", "CF"
	Balance        decimal.Decimal
	Unit           Unit
	MinBalance     decimal.Decimal
	MaxBalance     decimal.Decimal // zero = unbounded
	QualityStatus  string
	Certification  *Certification
	Active         bool

	// AllowNegative permits the balance to go below zero. Reserved for the
	// system adjustment pool, which absorbs signed reconciliation variances.
	AllowNegative bool

	CreatedAt time.Time
}

// BalanceQuantity returns the live balance as a Quantity.
func (p MaterialPool) BalanceQuantity() Quantity {
	return Quantity{Value: p.Balance, Unit: p.Unit}
}

// PoolDefinition is the input to pool creation. The live balance always
// starts at zero; opening stock arrives as inward events so the ledger
// explains every kilogram.
type PoolDefinition struct {
	ID             PoolID
	Name           string
	Classification Classification
	MaterialCode   string
	Unit           Unit
	MinBalance     decimal.Decimal
	MaxBalance     decimal.Decimal
	QualityStatus  string
	Certification  *Certification
	AllowNegative  bool
}

// =============================================================================
// PERIOD - Reporting window for summaries
// =============================================================================

type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

func (p Period) Valid() bool { return !p.End.Before(p.Start) }
