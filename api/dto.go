/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the HTTP boundary, decoupled from the ledger types.
  Quantities serialize as decimal strings so no client-side float rounding
  leaks back into the audit trail.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

THE ONE RULE THAT MATTERS HERE:
  Responses must let clients tell "rejected, nothing happened" (4xx error
  body) apart from "succeeded, but flagged" (2xx with a warnings array).

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/certflow/massbalance-engine/ledger"
)

// =============================================================================
// POOLS
// =============================================================================

type PoolDTO struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Classification string            `json:"classification"`
	MaterialCode   string            `json:"material_code,omitempty"`
	Balance        string            `json:"balance"`
	Unit           string            `json:"unit"`
	MinBalance     string            `json:"min_balance"`
	MaxBalance     string            `json:"max_balance"`
	QualityStatus  string            `json:"quality_status,omitempty"`
	Certification  *CertificationDTO `json:"certification,omitempty"`
	Active         bool              `json:"active"`
	CreatedAt      string            `json:"created_at"`
}

type CertificationDTO struct {
	Scheme         string `json:"scheme"`
	CertificateID  string `json:"certificate_id"`
	ValidFrom      string `json:"valid_from"`
	ValidUntil     string `json:"valid_until"`
	CurrentlyValid bool   `json:"currently_valid"`
}

type CertificationRequest struct {
	Scheme        string `json:"scheme"`
	CertificateID string `json:"certificate_id"`
	ValidFrom     string `json:"valid_from"`
	ValidUntil    string `json:"valid_until"`
}

type CreatePoolRequest struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Classification string                `json:"classification"`
	MaterialCode   string                `json:"material_code"`
	Unit           string                `json:"unit"`
	MinBalance     float64               `json:"min_balance"`
	MaxBalance     float64               `json:"max_balance"`
	QualityStatus  string                `json:"quality_status"`
	Certification  *CertificationRequest `json:"certification,omitempty"`
}

// =============================================================================
// MOVEMENTS
// =============================================================================

type MovementRequest struct {
	PoolID   string  `json:"pool_id"`
	Quantity float64 `json:"quantity"`
	// Source system for inward movements, destination for outward.
	Source    string `json:"source"`
	Actor     string `json:"actor"`
	Reference string `json:"reference"`
}

type TransformRequest struct {
	SourcePoolID string  `json:"source_pool_id"`
	TargetPoolID string  `json:"target_pool_id"`
	Quantity     float64 `json:"quantity"`
	YieldFactor  float64 `json:"yield_factor"`
	Actor        string  `json:"actor"`
	Reference    string  `json:"reference"`
}

type ReconcileRequest struct {
	BatchID    string  `json:"batch_id"`
	Actual     float64 `json:"actual_quantity"`
	Expected   float64 `json:"expected_quantity"`
	ReasonCode string  `json:"reason_code"`
	Actor      string  `json:"actor"`
}

// =============================================================================
// EVENTS
// =============================================================================

type EventDTO struct {
	ID           string            `json:"id"`
	Sequence     int64             `json:"sequence"`
	Timestamp    string            `json:"timestamp"`
	Kind         string            `json:"kind"`
	PoolID       string            `json:"pool_id"`
	Quantity     string            `json:"quantity"`
	Unit         string            `json:"unit"`
	Reference    string            `json:"reference,omitempty"`
	BatchID      string            `json:"batch_id,omitempty"`
	SourceSystem string            `json:"source_system,omitempty"`
	Actor        string            `json:"actor,omitempty"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	PreviousHash string            `json:"previous_hash"`
	CurrentHash  string            `json:"current_hash"`
}

// =============================================================================
// MUTATION RESPONSES - Success plus any advisory findings
// =============================================================================

type MovementResponse struct {
	Event      EventDTO       `json:"event"`
	NewBalance string         `json:"new_balance"`
	Warnings   []ViolationDTO `json:"warnings"`
}

type TransformResponse struct {
	OutwardEvent EventDTO       `json:"outward_event"`
	InwardEvent  EventDTO       `json:"inward_event"`
	ProcessLoss  string         `json:"process_loss"`
	Warnings     []ViolationDTO `json:"warnings"`
}

type ReconcileResponse struct {
	Event           EventDTO       `json:"event"`
	Variance        string         `json:"variance"`
	WithinTolerance bool           `json:"within_tolerance"`
	Warnings        []ViolationDTO `json:"warnings"`
}

// =============================================================================
// SLICES, SUMMARY, HEALTH
// =============================================================================

type SliceDTO struct {
	ID              string            `json:"id"`
	Start           string            `json:"start"`
	End             string            `json:"end,omitempty"`
	Status          string            `json:"status"`
	EventCount      int               `json:"event_count"`
	OpeningBalances map[string]string `json:"opening_balances"`
	ClosingBalances map[string]string `json:"closing_balances,omitempty"`
	SliceHash       string            `json:"slice_hash,omitempty"`
}

type SummaryDTO struct {
	PeriodStart         string `json:"period_start"`
	PeriodEnd           string `json:"period_end"`
	SustainableInflow   string `json:"sustainable_inflow"`
	SustainableOutflow  string `json:"sustainable_outflow"`
	ConventionalInflow  string `json:"conventional_inflow"`
	ConventionalOutflow string `json:"conventional_outflow"`
	SustainableBalance  string `json:"sustainable_balance"`
	ConventionalBalance string `json:"conventional_balance"`
	SustainabilityRatio string `json:"sustainability_ratio"`
	Efficiency          string `json:"efficiency"`
	CarbonAvoidedKg     string `json:"carbon_avoided_kg"`

	Integrity IntegrityDTO `json:"integrity"`
}

type IntegrityDTO struct {
	ChainValid      bool   `json:"chain_valid"`
	Tolerance       string `json:"tolerance"`
	Variance        string `json:"variance"`
	WithinTolerance bool   `json:"within_tolerance"`
}

type ViolationDTO struct {
	RuleID   string `json:"rule_id"`
	Target   string `json:"target"`
	Severity string `json:"severity"`
	PoolID   string `json:"pool_id,omitempty"`
	Message  string `json:"message"`
}

type HealthDTO struct {
	Status      string         `json:"status"`
	EventCount  int            `json:"event_count"`
	ActivePools int            `json:"active_pools"`
	Violations  []ViolationDTO `json:"violations"`
}

type ChainVerificationDTO struct {
	Valid  bool   `json:"valid"`
	Detail string `json:"detail,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPoolDTO(p ledger.MaterialPool) PoolDTO {
	dto := PoolDTO{
		ID:             string(p.ID),
		Name:           p.Name,
		Classification: string(p.Classification),
		MaterialCode:   p.MaterialCode,
		Balance:        p.Balance.String(),
		Unit:           string(p.Unit),
		MinBalance:     p.MinBalance.String(),
		MaxBalance:     p.MaxBalance.String(),
		QualityStatus:  p.QualityStatus,
		Active:         p.Active,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
	if c := p.Certification; c != nil {
		dto.Certification = &CertificationDTO{
			Scheme:         c.Scheme,
			CertificateID:  c.CertificateID,
			ValidFrom:      c.ValidFrom.Format(time.RFC3339),
			ValidUntil:     c.ValidUntil.Format(time.RFC3339),
			CurrentlyValid: c.ValidAt(time.Now()),
		}
	}
	return dto
}

func toEventDTO(e ledger.LedgerEvent) EventDTO {
	return EventDTO{
		ID:           string(e.ID),
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp.Format(time.RFC3339Nano),
		Kind:         string(e.Kind),
		PoolID:       string(e.PoolID),
		Quantity:     e.Quantity.Value.String(),
		Unit:         string(e.Quantity.Unit),
		Reference:    e.Reference,
		BatchID:      string(e.BatchID),
		SourceSystem: e.Provenance.SourceSystem,
		Actor:        e.Provenance.Actor,
		Status:       string(e.Provenance.Status),
		Metadata:     e.Metadata,
		PreviousHash: e.PreviousHash,
		CurrentHash:  e.CurrentHash,
	}
}

func toEventDTOs(events []ledger.LedgerEvent) []EventDTO {
	out := make([]EventDTO, len(events))
	for i, e := range events {
		out[i] = toEventDTO(e)
	}
	return out
}

func toViolationDTOs(violations []ledger.Violation) []ViolationDTO {
	out := make([]ViolationDTO, 0, len(violations))
	for _, v := range violations {
		out = append(out, ViolationDTO{
			RuleID:   v.RuleID,
			Target:   string(v.Target),
			Severity: string(v.Severity),
			PoolID:   string(v.PoolID),
			Message:  v.Message,
		})
	}
	return out
}

func toSliceDTO(s ledger.TimeSlice) SliceDTO {
	dto := SliceDTO{
		ID:              string(s.ID),
		Start:           s.Start.Format(time.RFC3339Nano),
		Status:          string(s.Status),
		EventCount:      len(s.EventIDs),
		OpeningBalances: balancesToStrings(s.OpeningBalances),
		SliceHash:       s.SliceHash,
	}
	if !s.End.IsZero() {
		dto.End = s.End.Format(time.RFC3339Nano)
	}
	if s.ClosingBalances != nil {
		dto.ClosingBalances = balancesToStrings(s.ClosingBalances)
	}
	return dto
}

func toSummaryDTO(s ledger.MassBalanceSummary) SummaryDTO {
	return SummaryDTO{
		PeriodStart:         s.Period.Start.Format(time.RFC3339),
		PeriodEnd:           s.Period.End.Format(time.RFC3339),
		SustainableInflow:   s.SustainableInflow.String(),
		SustainableOutflow:  s.SustainableOutflow.String(),
		ConventionalInflow:  s.ConventionalInflow.String(),
		ConventionalOutflow: s.ConventionalOutflow.String(),
		SustainableBalance:  s.SustainableBalance.String(),
		ConventionalBalance: s.ConventionalBalance.String(),
		SustainabilityRatio: s.SustainabilityRatio.StringFixed(6),
		Efficiency:          s.Efficiency.StringFixed(6),
		CarbonAvoidedKg:     s.CarbonAvoidedKg.String(),
		Integrity: IntegrityDTO{
			ChainValid:      s.Integrity.ChainValid,
			Tolerance:       s.Integrity.Tolerance.String(),
			Variance:        s.Integrity.Variance.String(),
			WithinTolerance: s.Integrity.WithinTolerance,
		},
	}
}

func balancesToStrings(in map[ledger.PoolID]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(in))
	for id, v := range in {
		out[string(id)] = v.String()
	}
	return out
}
