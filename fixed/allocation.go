package fixed

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator binds the fixed-schedule algorithms to a servicing policy.
type Calculator struct {
	Policy lending.Policy
}

func NewCalculator(policy lending.Policy) Calculator {
	return Calculator{Policy: policy}
}

// Simulate runs the accrual simulator with the policy's daily rate.
func (c Calculator) Simulate(inst lending.Installment, payments []lending.Payment, asOf lending.Date) Accrual {
	return Simulate(inst, payments, asOf, c.Policy.DailyPenaltyRate)
}

// =============================================================================
// PAYMENT ALLOCATOR - penalty -> principal
// =============================================================================

// Plan is the allocation of one payment against one installment.
type Plan struct {
	Before Accrual
	// Allocation holds the cash buckets; Allocation.Discount is the total
	// discount granted on top of the cash.
	Allocation        lending.Allocation
	PenaltyDiscount   decimal.Decimal
	PrincipalDiscount decimal.Decimal
	Roll              *lending.DueDateRoll
}

// Payable returns what the installment accepts after discount.
func (p Plan) Payable() decimal.Decimal {
	return lending.Sub(p.Before.Owed(), p.Allocation.Discount)
}

// Allocate sizes a payment of amount landing on payDay. The amount is
// required for fixed credits and must not exceed what is payable after
// discount.
func (c Calculator) Allocate(credit lending.Credit, inst lending.Installment, payments []lending.Payment, amount decimal.Decimal, discount lending.Discount, payDay lending.Date) (Plan, error) {
	terms, ok := credit.Terms.(lending.FixedTerms)
	if !ok {
		return Plan{}, &lending.ValidationError{Field: "installment_id", Message: "installment does not belong to a fixed-schedule credit"}
	}
	if inst.State.Terminal() {
		return Plan{}, &lending.StateConflictError{
			Code:    lending.ConflictInstallmentClosed,
			Message: fmt.Sprintf("installment %d is %s", inst.Number, inst.State),
		}
	}
	if !amount.IsPositive() {
		return Plan{}, &lending.ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	amount = lending.Round(amount)

	before := c.Simulate(inst, payments, payDay)
	if !before.Owed().IsPositive() {
		return Plan{}, &lending.StateConflictError{
			Code:    lending.ConflictNothingToPay,
			Message: fmt.Sprintf("installment %d has nothing pending", inst.Number),
		}
	}

	disc := lending.DiscountForPayment(discount, amount, before.PenaltyOwed, decimal.Zero, before.PrincipalPending)
	plan := Plan{
		Before:            before,
		PenaltyDiscount:   disc.Penalty,
		PrincipalDiscount: disc.Principal,
	}
	plan.Allocation.Discount = disc.Discount

	if payable := plan.Payable(); amount.GreaterThan(payable) {
		return Plan{}, &lending.OverpaymentError{Submitted: amount, Payable: payable}
	}

	fills, _ := lending.Waterfall(amount,
		lending.Sub(before.PenaltyOwed, disc.Penalty),
		lending.Sub(before.PrincipalPending, disc.Principal))
	plan.Allocation.Penalty = fills[0]
	plan.Allocation.Interest = decimal.Zero
	plan.Allocation.Principal = fills[1]

	if c.Policy.RollDueDateOnInterest {
		plan.Roll = RollFor(inst, terms.Cadence, credit.Rate, before, plan, payDay)
	}
	return plan, nil
}
