/*
handlers.go - HTTP API handlers for the credit servicing engine

PURPOSE:
  Exposes the servicing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to servicing.Service.

ENDPOINTS:
  Credits:
    GET    /api/credits                    List credits (?state=&modality=)
    POST   /api/credits                    Create credit from JSON definition
    PUT    /api/credits/{id}               Edit credit (only without payments)
    GET    /api/credits/{id}               Snapshot as of today
    GET    /api/credits/{id}/snapshot      Snapshot (?as_of=YYYY-MM-DD)

  Operations:
    POST   /api/installments/{id}/payments Apply a payment
    POST   /api/credits/{id}/cancel/quote  Price a payoff without writing
    POST   /api/credits/{id}/cancel        Pay off the whole credit
    POST   /api/credits/{id}/refinance     Replace with a new fixed credit
    POST   /api/credits/{id}/void          Void a credit without payments

  Admin:
    POST   /api/admin/sweep                Run the overdue sweep now
    GET    /api/admin/sweep                Last sweep result

  Scenarios:
    GET    /api/scenarios                  List demo portfolios
    POST   /api/scenarios/load             Load a demo portfolio

REQUEST FLOW:
  1. Parse HTTP request
  2. Resolve actor role (RoleMiddleware)
  3. Call servicing engine
  4. Serialize response
  5. Map errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Bad bearer token
  - 403: Role not allowed (discounts, manual rates)
  - 404: Credit or installment not found
  - 409: State conflict, with a stable "code"
  - 422: Overpayment
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Role extraction
  - scenarios.go: Demo portfolio loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/servicing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *servicing.Service
	Credits *factory.CreditFactory
	Sweeper *OverdueSweeper
	Logger  *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around the servicing engine.
func NewHandler(svc *servicing.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service: svc,
		Credits: factory.NewCreditFactory(),
		Logger:  logger,
	}
}

// =============================================================================
// CREDIT HANDLERS
// =============================================================================

// ListCredits returns credits, optionally filtered.
// GET /api/credits?state=overdue,pending&modality=open-ended
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	var filter lending.CreditFilter
	if states := r.URL.Query().Get("state"); states != "" {
		for _, s := range strings.Split(states, ",") {
			filter.States = append(filter.States, lending.CreditState(strings.TrimSpace(s)))
		}
	}
	filter.Modality = lending.Modality(r.URL.Query().Get("modality"))

	list, err := h.Service.ListCredits(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list credits", err)
		return
	}

	dtos := make([]CreditDTO, len(list))
	for i, c := range list {
		dtos[i] = toCreditDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCredit creates a credit and its schedule.
// POST /api/credits
func (h *Handler) CreateCredit(w http.ResponseWriter, r *http.Request) {
	var req factory.CreditJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	draft, err := h.Credits.FromJSON(req)
	if err != nil {
		h.writeServiceError(w, r, "Invalid credit", err)
		return
	}

	credit, insts, err := h.Service.CreateCredit(r.Context(), draft)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create credit", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreditWithScheduleDTO{
		Credit:       toCreditDTO(credit),
		Installments: toInstallmentDTOs(insts),
	})
}

// EditCredit replaces the terms of a credit that has no payments.
// PUT /api/credits/{id}
func (h *Handler) EditCredit(w http.ResponseWriter, r *http.Request) {
	id := lending.CreditID(chi.URLParam(r, "id"))

	var req factory.CreditJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = string(id)

	draft, err := h.Credits.FromJSON(req)
	if err != nil {
		h.writeServiceError(w, r, "Invalid credit", err)
		return
	}

	credit, insts, err := h.Service.EditCredit(r.Context(), id, draft)
	if err != nil {
		h.writeServiceError(w, r, "Failed to edit credit", err)
		return
	}

	writeJSON(w, http.StatusOK, CreditWithScheduleDTO{
		Credit:       toCreditDTO(credit),
		Installments: toInstallmentDTOs(insts),
	})
}

// GetSnapshot returns the servicing view of a credit.
// GET /api/credits/{id}/snapshot?as_of=2024-01-13
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := lending.CreditID(chi.URLParam(r, "id"))

	var asOf *lending.Date
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		d, err := lending.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of date (use YYYY-MM-DD)", err)
			return
		}
		asOf = &d
	}

	snap, err := h.Service.GetCreditSnapshot(r.Context(), id, asOf)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get credit", err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// =============================================================================
// OPERATION HANDLERS
// =============================================================================

// ApplyPayment pays an installment.
// POST /api/installments/{id}/payments
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	res, err := h.Service.ApplyPayment(r.Context(), servicing.PaymentRequest{
		InstallmentID:  lending.InstallmentID(chi.URLParam(r, "id")),
		Amount:         req.Amount,
		Discount:       toDiscountSpec(req.Discount),
		Method:         lending.PaymentMethod(req.Method),
		Note:           req.Note,
		ActorRole:      RoleFrom(r.Context()),
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to apply payment", err)
		return
	}

	dto := PaymentDTO{
		PaymentID:   string(res.Payment.ID),
		Allocation:  toAllocationDTO(res.Allocation),
		Installment: toInstallmentDTO(res.Installment),
		CreditState: string(res.CreditState),
		Receipt:     toReceiptDTO(res.Receipt),
		Replayed:    res.Replayed,
	}
	if res.Roll != nil {
		dto.RolledTo = res.Roll.To.String()
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, dto)
}

// QuoteCancellation prices a payoff as of today.
// POST /api/credits/{id}/cancel/quote
func (h *Handler) QuoteCancellation(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Service.QuoteCancellation(r.Context(),
		lending.CreditID(chi.URLParam(r, "id")), toDiscountSpec(req.Discount), RoleFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "Failed to quote cancellation", err)
		return
	}
	writeJSON(w, http.StatusOK, toCancelDTO(res, false))
}

// CancelCredit pays off a credit in full.
// POST /api/credits/{id}/cancel
func (h *Handler) CancelCredit(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	res, err := h.Service.CancelCredit(r.Context(), servicing.CancelRequest{
		CreditID:       lending.CreditID(chi.URLParam(r, "id")),
		Discount:       toDiscountSpec(req.Discount),
		Method:         lending.PaymentMethod(req.Method),
		Note:           req.Note,
		ActorRole:      RoleFrom(r.Context()),
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to cancel credit", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toCancelDTO(res, true))
}

// RefinanceCredit replaces a credit with a new fixed-equal credit.
// POST /api/credits/{id}/refinance
func (h *Handler) RefinanceCredit(w http.ResponseWriter, r *http.Request) {
	var req RefinanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Service.RefinanceCredit(r.Context(), servicing.RefinanceRequest{
		CreditID:   lending.CreditID(chi.URLParam(r, "id")),
		RateOption: lending.RateOption(req.RateOption),
		ManualRate: req.ManualRate,
		Cadence:    lending.Cadence(req.Cadence),
		Count:      req.Installments,
		ActorRole:  RoleFrom(r.Context()),
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to refinance credit", err)
		return
	}

	writeJSON(w, http.StatusCreated, RefinanceDTO{
		OriginalCreditID: string(res.Original.ID),
		NewCreditID:      string(res.Credit.ID),
		PayoffBase:       res.Base,
		PeriodRate:       res.PeriodRate,
		NewTotal:         res.NewTotal,
		Credit: CreditWithScheduleDTO{
			Credit:       toCreditDTO(res.Credit),
			Installments: toInstallmentDTOs(res.Installments),
		},
	})
}

// VoidCredit voids a credit that has no payments.
// POST /api/credits/{id}/void
func (h *Handler) VoidCredit(w http.ResponseWriter, r *http.Request) {
	credit, err := h.Service.VoidCredit(r.Context(), lending.CreditID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to void credit", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTO(credit))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the overdue sweep synchronously.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.SweepOverdue(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to sweep credits", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepDTO(res))
}

// GetLastSweep returns the last scheduled sweep.
// GET /api/admin/sweep
func (h *Handler) GetLastSweep(w http.ResponseWriter, r *http.Request) {
	if h.Sweeper == nil {
		writeError(w, http.StatusNotFound, "Sweeper not running", nil)
		return
	}
	res, _, ok := h.Sweeper.LastRun()
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toSweepDTO(res))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps engine errors to HTTP statuses. Only 500s are
// logged; client errors are the caller's problem.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	resp := ErrorResponse{Error: message, Details: err.Error()}
	status := http.StatusInternalServerError

	var (
		validation *lending.ValidationError
		conflict   *lending.StateConflictError
	)
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		resp.Field = validation.Field
	case errors.Is(err, lending.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, lending.ErrPermission):
		status = http.StatusForbidden
	case lending.IsNotFound(err):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
		resp.Code = string(conflict.Code)
	case errors.Is(err, lending.ErrOverpayment):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err), zap.String("path", r.URL.Path))
	}
	writeJSON(w, status, resp)
}

// decodeOptional decodes a JSON body that may be empty.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func toCancelDTO(res servicing.CancelResult, committed bool) CancelDTO {
	dto := CancelDTO{
		Debt:       toAllocationDTO(res.Debt),
		Allocation: toAllocationDTO(res.Allocation),
		Net:        res.Net,
		Replayed:   res.Replayed,
	}
	if committed {
		receipt := toReceiptDTO(res.Receipt)
		dto.Receipt = &receipt
		dto.CreditState = string(res.Credit.State)
	}
	return dto
}

func toSweepDTO(res servicing.SweepResult) SweepDTO {
	return SweepDTO{
		AsOf:    res.AsOf.String(),
		Checked: res.Checked,
		Changed: res.Changed,
		Failed:  res.Failed,
	}
}
