package openended

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator binds the open-ended algorithms to a servicing policy.
type Calculator struct {
	Policy lending.Policy
}

func NewCalculator(policy lending.Policy) Calculator {
	return Calculator{Policy: policy}
}

// Accrue runs the cycle accrual engine with the calculator's policy.
func (c Calculator) Accrue(credit lending.Credit, payments []lending.Payment, asOf lending.Date) Statement {
	return Accrue(credit, payments, asOf, c.Policy)
}

// =============================================================================
// PAYMENT ALLOCATOR
// =============================================================================
//
// The oldest open cycle is settled first, penalty before interest, then the
// outstanding capital. Money beyond that reaches younger cycles, oldest
// first, so nothing owed as of today is ever left unpaid by an accepted
// amount:
//
//   open.penalty -> open.interest -> capital -> next.penalty -> next.interest ...
//
// A discount only ever reduces the open cycle's penalty.

// Plan is the allocation of one payment against an open-ended credit.
type Plan struct {
	Before Statement
	// Allocation holds the cash buckets; Allocation.Discount is the penalty
	// discount granted on the open cycle.
	Allocation lending.Allocation
	Splits     []lending.CycleSplit
	// Defaulted is set when the amount was derived from the open cycle.
	Defaulted bool
}

// Amount returns the cash allocated.
func (p Plan) Amount() decimal.Decimal { return p.Allocation.Total() }

// Payable returns the total owed as of the payment day after discount.
func (p Plan) Payable() decimal.Decimal {
	return lending.Sub(p.Before.TotalOwed(), p.Allocation.Discount)
}

// Allocate sizes a payment landing on payDay. A nil amount means "exactly
// enough to close the oldest open cycle".
func (c Calculator) Allocate(credit lending.Credit, payments []lending.Payment, amount *decimal.Decimal, discount lending.Discount, payDay lending.Date) (Plan, error) {
	if !credit.IsOpenEnded() {
		return Plan{}, &lending.ValidationError{Field: "credit_id", Message: "credit is not open-ended"}
	}

	before := c.Accrue(credit, payments, payDay)
	if !before.TotalOwed().IsPositive() {
		return Plan{}, &lending.StateConflictError{Code: lending.ConflictNothingToPay, Message: fmt.Sprintf("credit %s has nothing pending", credit.ID)}
	}

	open, hasOpen := before.OpenCycle()
	penaltyDiscount := decimal.Zero
	if hasOpen {
		penaltyDiscount = lending.DiscountBreakdown(discount, open.PenaltyPending, decimal.Zero, decimal.Zero).Discount
	}

	plan := Plan{Before: before}
	plan.Allocation.Discount = penaltyDiscount
	payable := plan.Payable()

	var amt decimal.Decimal
	switch {
	case amount != nil:
		amt = lending.Round(*amount)
		if !amt.IsPositive() {
			return Plan{}, &lending.ValidationError{Field: "amount", Message: "amount must be positive"}
		}
	case !hasOpen:
		return Plan{}, &lending.ValidationError{Field: "amount", Message: "amount is required when no cycle is open"}
	case before.CapExceeded:
		return Plan{}, capExceededError(credit, before)
	default:
		amt = lending.Sub(open.Pending(), penaltyDiscount)
		plan.Defaulted = true
		if !amt.IsPositive() {
			return Plan{}, &lending.ValidationError{Field: "amount", Message: "the open cycle has nothing left to collect after discount"}
		}
	}

	if amt.GreaterThan(payable) {
		return Plan{}, &lending.OverpaymentError{Submitted: amt, Payable: payable}
	}
	if before.CapExceeded && amt.LessThan(payable) {
		return Plan{}, capExceededError(credit, before)
	}

	plan.Splits, plan.Allocation = waterfall(before, amt, penaltyDiscount)
	return plan, nil
}

func capExceededError(credit lending.Credit, st Statement) error {
	return &lending.StateConflictError{
		Code: lending.ConflictCycleCapExceeded,
		Message: fmt.Sprintf("credit %s is past its last cycle (%d); only cancellation or refinancing is accepted",
			credit.ID, st.Current),
	}
}

// waterfall pours amt through the open-ended bucket order and returns the
// per-cycle splits and the aggregate allocation.
func waterfall(st Statement, amt, penaltyDiscount decimal.Decimal) ([]lending.CycleSplit, lending.Allocation) {
	var order []Cycle
	if open, ok := st.OpenCycle(); ok {
		order = append(order, open)
		for _, cy := range st.Cycles {
			if cy.Index > open.Index && cy.Open() {
				order = append(order, cy)
			}
		}
	}

	// Capacities: [open.penalty, open.interest, capital, younger cycles...]
	var caps []decimal.Decimal
	for i, cy := range order {
		pen := cy.PenaltyPending
		if i == 0 {
			pen = lending.Sub(pen, penaltyDiscount)
		}
		caps = append(caps, pen, cy.InterestPending)
		if i == 0 {
			caps = append(caps, st.OutstandingCapital)
		}
	}
	if len(order) == 0 {
		caps = append(caps, st.OutstandingCapital)
	}
	fills, _ := lending.Waterfall(amt, caps...)

	alloc := lending.Allocation{Penalty: decimal.Zero, Interest: decimal.Zero, Principal: decimal.Zero, Discount: penaltyDiscount}
	var splits []lending.CycleSplit
	pos := 0
	for i, cy := range order {
		split := lending.CycleSplit{
			Cycle:            cy.Index,
			Penalty:          fills[pos],
			Interest:         fills[pos+1],
			PenaltyDiscount:  decimal.Zero,
			InterestDiscount: decimal.Zero,
		}
		pos += 2
		if i == 0 {
			split.PenaltyDiscount = penaltyDiscount
			alloc.Principal = fills[pos]
			pos++
		}
		alloc.Penalty = lending.Add(alloc.Penalty, split.Penalty)
		alloc.Interest = lending.Add(alloc.Interest, split.Interest)
		if split.Penalty.IsPositive() || split.Interest.IsPositive() || split.PenaltyDiscount.IsPositive() {
			splits = append(splits, split)
		}
	}
	if len(order) == 0 {
		alloc.Principal = fills[0]
	}
	return splits, alloc
}
