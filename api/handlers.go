/*
handlers.go - HTTP API handlers for the mass-balance ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Pools:
    GET    /api/pools                  List all pools
    POST   /api/pools                  Create pool
    GET    /api/pools/{id}             Get pool details

  Movements:
    POST   /api/events/inward          Record an inward movement
    POST   /api/events/outward         Record an outward movement
    POST   /api/transformations        Convert mass between pools
    POST   /api/reconciliations        Record a batch reconciliation

  Slices and reporting:
    POST   /api/slices/close           Explicit audit cut-off
    GET    /api/slices                 List slices
    GET    /api/summary                Mass-balance summary for a period
    GET    /api/events                 Recent events
    GET    /api/chain/verify           Walk and verify the hash chain
    GET    /api/health                 Engine health

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, insufficient balance, bound rejections
  - 404: Pool not found
  - 409: Pool already exists
  - 500: Internal errors

  Mutations that succeed but trigger advisory rule findings return 2xx
  with a warnings array. A 4xx means nothing was written.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/certflow/massbalance-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
}

func NewHandler(engine *ledger.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, details string) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// writeDomainError maps ledger errors onto HTTP statuses. Precondition
// rejections are client errors; anything else is a server fault.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrPoolNotFound):
		writeError(w, http.StatusNotFound, "pool not found", err.Error())
	case errors.Is(err, ledger.ErrPoolExists):
		writeError(w, http.StatusConflict, "pool already exists", err.Error())
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "operation rejected", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

// =============================================================================
// POOL HANDLERS
// =============================================================================

func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools := h.Engine.Pools()
	out := make([]PoolDTO, 0, len(pools))
	for _, p := range pools {
		out = append(out, toPoolDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	id := ledger.PoolID(chi.URLParam(r, "id"))
	pool, err := h.Engine.Pool(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolDTO(pool))
}

func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", "")
		return
	}

	def := ledger.PoolDefinition{
		ID:             ledger.PoolID(req.ID),
		Name:           req.Name,
		Classification: ledger.Classification(req.Classification),
		MaterialCode:   req.MaterialCode,
		Unit:           ledger.Unit(req.Unit),
		MinBalance:     decimal.NewFromFloat(req.MinBalance),
		MaxBalance:     decimal.NewFromFloat(req.MaxBalance),
		QualityStatus:  req.QualityStatus,
	}
	if def.Classification != ledger.ClassSustainable && def.Classification != ledger.ClassConventional {
		writeError(w, http.StatusBadRequest, "classification must be sustainable or conventional", req.Classification)
		return
	}
	if c := req.Certification; c != nil {
		from, err := time.Parse(time.RFC3339, c.ValidFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid certification valid_from", err.Error())
			return
		}
		until, err := time.Parse(time.RFC3339, c.ValidUntil)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid certification valid_until", err.Error())
			return
		}
		def.Certification = &ledger.Certification{
			Scheme:        c.Scheme,
			CertificateID: c.CertificateID,
			ValidFrom:     from,
			ValidUntil:    until,
		}
	}

	pool, err := h.Engine.CreatePool(r.Context(), def)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPoolDTO(pool))
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

func (h *Handler) AddInward(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := h.Engine.AddInward(
		r.Context(),
		ledger.PoolID(req.PoolID),
		ledger.NewQuantity(req.Quantity, ""),
		ledger.Provenance{SourceSystem: req.Source, Actor: req.Actor},
		req.Reference,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MovementResponse{
		Event:      toEventDTO(res.Event),
		NewBalance: res.NewBalance.String(),
		Warnings:   toViolationDTOs(res.Warnings),
	})
}

func (h *Handler) AddOutward(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := h.Engine.AddOutward(
		r.Context(),
		ledger.PoolID(req.PoolID),
		ledger.NewQuantity(req.Quantity, ""),
		ledger.Provenance{SourceSystem: req.Source, Actor: req.Actor},
		req.Reference,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MovementResponse{
		Event:      toEventDTO(res.Event),
		NewBalance: res.NewBalance.String(),
		Warnings:   toViolationDTOs(res.Warnings),
	})
}

func (h *Handler) Transform(w http.ResponseWriter, r *http.Request) {
	var req TransformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := h.Engine.Transform(
		r.Context(),
		ledger.PoolID(req.SourcePoolID),
		ledger.PoolID(req.TargetPoolID),
		ledger.NewQuantity(req.Quantity, ""),
		decimal.NewFromFloat(req.YieldFactor),
		ledger.Provenance{SourceSystem: "api", Actor: req.Actor},
		req.Reference,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransformResponse{
		OutwardEvent: toEventDTO(res.Outward),
		InwardEvent:  toEventDTO(res.Inward),
		ProcessLoss:  res.ProcessLoss.Value.String(),
		Warnings:     toViolationDTOs(res.Warnings),
	})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.BatchID == "" {
		writeError(w, http.StatusBadRequest, "batch_id is required", "")
		return
	}

	res, err := h.Engine.Reconcile(
		r.Context(),
		ledger.BatchID(req.BatchID),
		decimal.NewFromFloat(req.Actual),
		decimal.NewFromFloat(req.Expected),
		req.ReasonCode,
		ledger.Provenance{SourceSystem: "api", Actor: req.Actor},
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReconcileResponse{
		Event:           toEventDTO(res.Event),
		Variance:        res.Variance.String(),
		WithinTolerance: res.WithinTolerance,
		Warnings:        toViolationDTOs(res.Warnings),
	})
}

// =============================================================================
// SLICE HANDLERS
// =============================================================================

func (h *Handler) CloseSlice(w http.ResponseWriter, r *http.Request) {
	sealed, err := h.Engine.CloseSlice(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSliceDTO(sealed))
}

func (h *Handler) ListSlices(w http.ResponseWriter, r *http.Request) {
	slices := h.Engine.Slices()
	out := make([]SliceDTO, 0, len(slices))
	for _, s := range slices {
		out = append(out, toSliceDTO(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit", s)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, toEventDTOs(h.Engine.RecentEvents(limit)))
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start (want RFC3339)", q.Get("start"))
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end (want RFC3339)", q.Get("end"))
		return
	}

	summary, err := h.Engine.Summarize(start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.VerifyChain(); err != nil {
		writeJSON(w, http.StatusOK, ChainVerificationDTO{Valid: false, Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ChainVerificationDTO{Valid: true})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.Engine.Health()
	status := http.StatusOK
	if health.Status == ledger.HealthError {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthDTO{
		Status:      string(health.Status),
		EventCount:  health.EventCount,
		ActivePools: health.ActivePools,
		Violations:  toViolationDTOs(health.Violations),
	})
}
