/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate a fresh ledger with
	realistic data for testing and demos. Each scenario creates pools and
	appends movements that demonstrate specific features.

AVAILABLE SCENARIOS:

	carbon-fiber:     PAN precursor converted to carbon fiber at yield
	variance-audit:   Batch reconciliations inside and outside tolerance
	mixed-intake:     Certified and conventional feedstock side by side

HOW SCENARIOS WORK:
 1. Refuse to load unless the ledger is empty (events are immutable,
    so there is no reset; use a fresh database)
 2. Create pools
 3. Append inward movements for opening stock
 4. Optionally transform and reconcile

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "carbon-fiber"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Response helpers
  - server.go: Scenario routes
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/certflow/massbalance-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "carbon-fiber",
		Name:        "Carbon Fiber Line",
		Description: "Certified PAN precursor converted to carbon fiber at 85% yield",
	},
	{
		ID:          "variance-audit",
		Name:        "Variance Audit",
		Description: "Batch reconciliations inside and outside the tolerance",
	},
	{
		ID:          "mixed-intake",
		Name:        "Mixed Intake",
		Description: "Certified and conventional feedstock received side by side",
	},
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	// Events are immutable, so a scenario can only seed a fresh ledger.
	if len(h.Engine.RecentEvents(1)) > 0 {
		writeError(w, http.StatusConflict, "ledger is not empty", "scenarios seed a fresh database only")
		return
	}

	var err error
	switch req.ScenarioID {
	case "carbon-fiber":
		err = loadCarbonFiberScenario(r.Context(), h)
	case "variance-audit":
		err = loadVarianceAuditScenario(r.Context(), h)
	case "mixed-intake":
		err = loadMixedIntakeScenario(r.Context(), h)
	default:
		writeError(w, http.StatusNotFound, "unknown scenario", req.ScenarioID)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.ScenarioID})
}

// =============================================================================
// LOADERS
// =============================================================================

func seedProvenance() ledger.Provenance {
	return ledger.Provenance{SourceSystem: "scenario", Actor: "demo-loader"}
}

func loadCarbonFiberScenario(ctx context.Context, h *Handler) error {
	if _, err := h.Engine.CreatePool(ctx, ledger.PoolDefinition{
		ID:             "SUSTAINABLE_PAN",
		Name:           "Certified PAN Precursor",
		Classification: ledger.ClassSustainable,
		MaterialCode:   "PAN",
	}); err != nil {
		return err
	}
	if _, err := h.Engine.CreatePool(ctx, ledger.PoolDefinition{
		ID:             "SUSTAINABLE_CF",
		Name:           "Certified Carbon Fiber",
		Classification: ledger.ClassSustainable,
		MaterialCode:   "CF",
	}); err != nil {
		return err
	}

	if _, err := h.Engine.AddInward(ctx, "SUSTAINABLE_PAN", ledger.NewQuantity(2500, ""), seedProvenance(), "PO-1001"); err != nil {
		return err
	}
	_, err := h.Engine.Transform(ctx, "SUSTAINABLE_PAN", "SUSTAINABLE_CF",
		ledger.NewQuantity(300, ""), decimal.NewFromFloat(0.85), seedProvenance(), "LINE-A-RUN-1")
	return err
}

func loadVarianceAuditScenario(ctx context.Context, h *Handler) error {
	if _, err := h.Engine.CreatePool(ctx, ledger.PoolDefinition{
		ID:             "CONVENTIONAL_RESIN",
		Name:           "Conventional Resin",
		Classification: ledger.ClassConventional,
		MaterialCode:   "RSN",
	}); err != nil {
		return err
	}
	if _, err := h.Engine.AddInward(ctx, "CONVENTIONAL_RESIN", ledger.NewQuantity(1000, ""), seedProvenance(), "PO-2001"); err != nil {
		return err
	}

	// Within the default 1% tolerance.
	if _, err := h.Engine.Reconcile(ctx, "BATCH-OK",
		decimal.NewFromInt(1005), decimal.NewFromInt(1000), "scale_drift", seedProvenance()); err != nil {
		return err
	}
	// Outside tolerance; recorded and flagged.
	_, err := h.Engine.Reconcile(ctx, "BATCH-SHORT",
		decimal.NewFromInt(940), decimal.NewFromInt(1000), "spillage", seedProvenance())
	return err
}

func loadMixedIntakeScenario(ctx context.Context, h *Handler) error {
	pools := []ledger.PoolDefinition{
		{ID: "SUSTAINABLE_PAN", Name: "Certified PAN Precursor", Classification: ledger.ClassSustainable, MaterialCode: "PAN"},
		{ID: "CONVENTIONAL_PAN", Name: "Conventional PAN Precursor", Classification: ledger.ClassConventional, MaterialCode: "PAN"},
	}
	for _, def := range pools {
		if _, err := h.Engine.CreatePool(ctx, def); err != nil {
			return err
		}
	}

	if _, err := h.Engine.AddInward(ctx, "SUSTAINABLE_PAN", ledger.NewQuantity(1200, ""), seedProvenance(), "PO-3001"); err != nil {
		return err
	}
	if _, err := h.Engine.AddInward(ctx, "CONVENTIONAL_PAN", ledger.NewQuantity(1800, ""), seedProvenance(), "PO-3002"); err != nil {
		return err
	}
	_, err := h.Engine.AddOutward(ctx, "CONVENTIONAL_PAN", ledger.NewQuantity(400, ""), seedProvenance(), "SH-3001")
	return err
}
