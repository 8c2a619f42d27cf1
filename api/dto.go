/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the servicing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal.Decimal, which marshal as JSON strings ("1075.5").
  Requests accept either strings or numbers.

TYPES:
  Credit:
    CreditDTO (embeds factory.CreditJSON), InstallmentDTO, SnapshotDTO, CycleDTO

  Operations:
    PaymentRequest, PaymentDTO, CancelRequest, CancelDTO,
    RefinanceRequest, RefinanceDTO, SweepDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the factory and the servicing engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/credit.go: CreditJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/servicing"
)

// =============================================================================
// CREDIT
// =============================================================================

// CreditDTO represents a credit in API responses.
type CreditDTO struct {
	factory.CreditJSON
	Outstanding    decimal.Decimal `json:"outstanding"`
	State          string          `json:"state"`
	RefinancedFrom *string         `json:"refinanced_from,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty"`
}

// InstallmentDTO represents one schedule row.
type InstallmentDTO struct {
	ID               string           `json:"id"`
	Number           int              `json:"number"`
	Amount           decimal.Decimal  `json:"amount"`
	DueDate          string           `json:"due_date"`
	OriginalDueDate  string           `json:"original_due_date,omitempty"`
	Discount         decimal.Decimal  `json:"discount"`
	PrincipalPaid    decimal.Decimal  `json:"principal_paid"`
	PrincipalPending *decimal.Decimal `json:"principal_pending,omitempty"`
	Penalty          decimal.Decimal  `json:"penalty"`
	DaysLate         int              `json:"days_late,omitempty"`
	State            string           `json:"state"`
}

// CycleDTO represents one open-ended billing cycle.
type CycleDTO struct {
	Index           int             `json:"index"`
	Start           string          `json:"start"`
	DueDate         string          `json:"due_date"`
	InterestGross   decimal.Decimal `json:"interest_gross"`
	InterestPending decimal.Decimal `json:"interest_pending"`
	PenaltyPending  decimal.Decimal `json:"penalty_pending"`
	DaysLate        int             `json:"days_late"`
	SettledOn       string          `json:"settled_on,omitempty"`
}

// SnapshotDTO is the servicing view of a credit.
type SnapshotDTO struct {
	Credit               CreditDTO        `json:"credit"`
	AsOf                 string           `json:"as_of"`
	OutstandingPrincipal decimal.Decimal  `json:"outstanding_principal"`
	PendingInterest      decimal.Decimal  `json:"pending_interest"`
	PendingPenalty       decimal.Decimal  `json:"pending_penalty"`
	TotalOwed            decimal.Decimal  `json:"total_owed"`
	State                string           `json:"state"`
	Installments         []InstallmentDTO `json:"installments"`
	Cycles               []CycleDTO       `json:"cycles,omitempty"`
	CurrentCycle         int              `json:"current_cycle,omitempty"`
	CapExceeded          bool             `json:"cap_exceeded,omitempty"`
}

// CreditWithScheduleDTO is returned by create and edit.
type CreditWithScheduleDTO struct {
	Credit       CreditDTO        `json:"credit"`
	Installments []InstallmentDTO `json:"installments"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// DiscountRequest asks for a discount on a payment or cancellation.
type DiscountRequest struct {
	Scope   string          `json:"scope"`
	Percent decimal.Decimal `json:"percent"`
}

// PaymentRequest is the request to pay an installment.
type PaymentRequest struct {
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Discount       *DiscountRequest `json:"discount,omitempty"`
	Method         string           `json:"method"`
	Note           string           `json:"note,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// AllocationDTO is the bucket breakdown of a payment.
type AllocationDTO struct {
	Penalty   decimal.Decimal `json:"penalty"`
	Interest  decimal.Decimal `json:"interest"`
	Principal decimal.Decimal `json:"principal"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
}

// ReceiptDTO represents an issued receipt.
type ReceiptDTO struct {
	ID         string        `json:"id"`
	CreditID   string        `json:"credit_id"`
	Kind       string        `json:"kind"`
	Allocation AllocationDTO `json:"allocation"`
	Method     string        `json:"method"`
	Note       string        `json:"note,omitempty"`
	IssuedOn   string        `json:"issued_on"`
	PaymentIDs []string      `json:"payment_ids"`
}

// PaymentDTO is the response to a payment.
type PaymentDTO struct {
	PaymentID   string         `json:"payment_id"`
	Allocation  AllocationDTO  `json:"allocation"`
	Installment InstallmentDTO `json:"installment"`
	RolledTo    string         `json:"rolled_to,omitempty"`
	CreditState string         `json:"credit_state"`
	Receipt     ReceiptDTO     `json:"receipt"`
	Replayed    bool           `json:"replayed,omitempty"`
}

// CancelRequest is the request to pay off a credit.
type CancelRequest struct {
	Discount       *DiscountRequest `json:"discount,omitempty"`
	Method         string           `json:"method"`
	Note           string           `json:"note,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// CancelDTO is the response to a cancellation or a cancellation quote.
type CancelDTO struct {
	Debt        AllocationDTO   `json:"debt"`
	Allocation  AllocationDTO   `json:"allocation"`
	Net         decimal.Decimal `json:"net"`
	CreditState string          `json:"credit_state,omitempty"`
	Receipt     *ReceiptDTO     `json:"receipt,omitempty"`
	Replayed    bool            `json:"replayed,omitempty"`
}

// RefinanceRequest is the request to refinance a credit.
type RefinanceRequest struct {
	RateOption   string          `json:"rate_option"`
	ManualRate   decimal.Decimal `json:"manual_rate,omitempty"`
	Cadence      string          `json:"cadence"`
	Installments int             `json:"installments"`
}

// RefinanceDTO is the response to a refinancing.
type RefinanceDTO struct {
	OriginalCreditID string                `json:"original_credit_id"`
	NewCreditID      string                `json:"new_credit_id"`
	PayoffBase       decimal.Decimal       `json:"payoff_base"`
	PeriodRate       decimal.Decimal       `json:"period_rate"`
	NewTotal         decimal.Decimal       `json:"new_total"`
	Credit           CreditWithScheduleDTO `json:"credit"`
}

// SweepDTO is the response to a manual overdue sweep.
type SweepDTO struct {
	AsOf    string `json:"as_of"`
	Checked int    `json:"checked"`
	Changed int    `json:"changed"`
	Failed  int    `json:"failed"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo portfolio.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse lists what a scenario created.
type LoadScenarioResponse struct {
	Scenario ScenarioDTO `json:"scenario"`
	Credits  []CreditDTO `json:"credits"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

var credits = factory.NewCreditFactory()

func toCreditDTO(c lending.Credit) CreditDTO {
	dto := CreditDTO{
		CreditJSON:  credits.ToJSON(c),
		Outstanding: c.Outstanding,
		State:       string(c.State),
	}
	if c.RefinancedFrom != nil {
		from := string(*c.RefinancedFrom)
		dto.RefinancedFrom = &from
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toInstallmentDTO(inst lending.Installment) InstallmentDTO {
	dto := InstallmentDTO{
		ID:            string(inst.ID),
		Number:        inst.Number,
		Amount:        inst.Amount,
		DueDate:       inst.DueDate.String(),
		Discount:      inst.Discount,
		PrincipalPaid: inst.PrincipalPaid,
		Penalty:       inst.Penalty,
		State:         string(inst.State),
	}
	if len(inst.Rolls) > 0 {
		dto.OriginalDueDate = inst.OriginalDueDate().String()
	}
	return dto
}

func toInstallmentDTOs(insts []lending.Installment) []InstallmentDTO {
	dtos := make([]InstallmentDTO, len(insts))
	for i, inst := range insts {
		dtos[i] = toInstallmentDTO(inst)
	}
	return dtos
}

func toSnapshotDTO(snap servicing.Snapshot) SnapshotDTO {
	dto := SnapshotDTO{
		Credit:               toCreditDTO(snap.Credit),
		AsOf:                 snap.AsOf.String(),
		OutstandingPrincipal: snap.OutstandingPrincipal,
		PendingInterest:      snap.PendingInterest,
		PendingPenalty:       snap.PendingPenalty,
		TotalOwed:            snap.TotalOwed(),
		State:                string(snap.State()),
		Installments:         make([]InstallmentDTO, len(snap.Installments)),
		CurrentCycle:         snap.CurrentCycle,
		CapExceeded:          snap.CapExceeded,
	}
	for i, v := range snap.Installments {
		inst := toInstallmentDTO(v.Installment)
		pending := v.PrincipalPending
		inst.PrincipalPending = &pending
		inst.Penalty = v.PenaltyOwed
		inst.DaysLate = v.DaysLate
		dto.Installments[i] = inst
	}
	for _, c := range snap.Cycles {
		cycle := CycleDTO{
			Index:           c.Index,
			Start:           c.Start.String(),
			DueDate:         c.DueDate.String(),
			InterestGross:   c.InterestGross,
			InterestPending: c.InterestPending,
			PenaltyPending:  c.PenaltyPending,
			DaysLate:        c.DaysLate,
		}
		if c.SettledOn != nil {
			cycle.SettledOn = c.SettledOn.String()
		}
		dto.Cycles = append(dto.Cycles, cycle)
	}
	return dto
}

func toAllocationDTO(a lending.Allocation) AllocationDTO {
	return AllocationDTO{
		Penalty:   a.Penalty,
		Interest:  a.Interest,
		Principal: a.Principal,
		Discount:  a.Discount,
		Total:     a.Total(),
	}
}

func toReceiptDTO(r lending.Receipt) ReceiptDTO {
	ids := make([]string, len(r.PaymentIDs))
	for i, id := range r.PaymentIDs {
		ids[i] = string(id)
	}
	return ReceiptDTO{
		ID:         string(r.ID),
		CreditID:   string(r.CreditID),
		Kind:       string(r.Kind),
		Allocation: toAllocationDTO(r.Allocation),
		Method:     string(r.Method),
		Note:       r.Note,
		IssuedOn:   r.IssuedOn.String(),
		PaymentIDs: ids,
	}
}

func toDiscountSpec(d *DiscountRequest) *lending.DiscountSpec {
	if d == nil {
		return nil
	}
	return &lending.DiscountSpec{Scope: lending.DiscountScope(d.Scope), Percent: d.Percent}
}
