/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Collaborators (HTTP layer, ingestion adapters) classify errors with the
  helpers at the bottom rather than matching strings.

ERROR CATEGORIES:
  1. Precondition failures - rejected synchronously, no state change
     (unknown pool, invalid quantity, insufficient balance)
  2. Post-condition anomalies - the write succeeded but is flagged
     (bound violations, reconciliation variance) - these are NOT errors,
     they surface as Violation values on the result
  3. Integrity failures - a recomputed hash disagrees with a stored hash;
     fatal for the affected read, never auto-repaired

SEE ALSO:
  - engine.go: Propagation policy (reject vs. flag)
  - rules.go: Violation values for flagged-but-written anomalies
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPoolNotFound is returned when a referenced pool id is unknown.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrPoolExists is returned when creating a pool with a taken id.
	ErrPoolExists = errors.New("pool already exists")

	// ErrPoolInactive is returned when a movement targets a deactivated pool.
	ErrPoolInactive = errors.New("pool is deactivated")

	// ErrInvalidPoolDefinition is returned when a pool definition is
	// malformed (e.g. an empty id).
	ErrInvalidPoolDefinition = errors.New("invalid pool definition")

	// ErrInvalidQuantity is returned when a quantity is zero or negative
	// where a strictly positive value is required.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInsufficientBalance is returned when an outward movement or
	// transformation would drive a pool balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidYieldFactor is returned when a transformation yield factor
	// is outside (0, 1].
	ErrInvalidYieldFactor = errors.New("yield factor must be in (0, 1]")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrBoundViolation is returned only when the deployment is configured
	// for hard rejection of min/max bound breaches. The default policy
	// records a warning and lets the write proceed.
	ErrBoundViolation = errors.New("balance bound violation")

	// ErrChainIntegrity is returned when a recomputed hash does not match a
	// stored hash. The affected read fails; the condition requires manual
	// audit and is never auto-repaired.
	ErrChainIntegrity = errors.New("hash chain integrity violation")

	// ErrNoOpenSlice is returned when a mutation arrives while no time
	// slice is open. This indicates a programming error: the engine opens
	// a slice at construction and after every close.
	ErrNoOpenSlice = errors.New("no open time slice")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError details a balance shortage.
type InsufficientBalanceError struct {
	PoolID    PoolID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on pool %s: available %s, requested %s",
		e.PoolID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// BoundViolationError details a min/max breach under the hard-reject policy.
type BoundViolationError struct {
	PoolID  PoolID
	Balance decimal.Decimal
	Min     decimal.Decimal
	Max     decimal.Decimal
}

func (e *BoundViolationError) Error() string {
	return fmt.Sprintf("pool %s balance %s outside bounds [%s, %s]",
		e.PoolID, e.Balance, e.Min, e.Max)
}

func (e *BoundViolationError) Unwrap() error { return ErrBoundViolation }

// ChainIntegrityError pinpoints where chain verification failed.
type ChainIntegrityError struct {
	Sequence int64
	EventID  EventID
	Stored   string
	Computed string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("chain broken at sequence %d (event %s): stored %s, computed %s",
		e.Sequence, e.EventID, e.Stored, e.Computed)
}

func (e *ChainIntegrityError) Unwrap() error { return ErrChainIntegrity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
// The HTTP layer maps these to 4xx; nothing was written.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidYieldFactor) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrPoolExists) ||
		errors.Is(err, ErrPoolInactive) ||
		errors.Is(err, ErrInvalidPoolDefinition) ||
		errors.Is(err, ErrBoundViolation)
}

// IsNotFound returns true if the error indicates a missing pool.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPoolNotFound)
}
