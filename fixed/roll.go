package fixed

import (
	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// DUE-DATE ROLL POLICY
// =============================================================================
//
// An overdue installment embeds interest: amount = principal x (1 + rate).
// When a payment clears every pending penalty and puts at least that
// embedded interest toward principal, the installment is given another
// cadence period: its due date moves forward one step. The roll is recorded
// on the installment, never inferred later from allocation math.

// InterestPortion returns the interest embedded in an installment amount
// under a flat rate: amount - amount/(1+rate).
func InterestPortion(amount, rate decimal.Decimal) decimal.Decimal {
	principal := lending.Round(amount.Div(decimal.NewFromInt(1).Add(rate)))
	return lending.Sub(amount, principal)
}

// RollFor decides whether an allocation rolls the installment's due date.
// It returns nil when the rule does not apply.
func RollFor(inst lending.Installment, cadence lending.Cadence, rate decimal.Decimal, before Accrual, plan Plan, payDay lending.Date) *lending.DueDateRoll {
	due := inst.DueDateOn(payDay)
	if !payDay.After(due) {
		return nil
	}
	for _, r := range inst.Rolls {
		if r.On.Equal(payDay) {
			return nil
		}
	}

	penaltyCleared := lending.Add(plan.Allocation.Penalty, plan.PenaltyDiscount).Equal(before.PenaltyOwed)
	principal := lending.Add(plan.Allocation.Principal, plan.PrincipalDiscount)
	remaining := lending.Sub(before.PrincipalPending, principal)
	if !penaltyCleared || !remaining.IsPositive() {
		return nil
	}
	if principal.LessThan(InterestPortion(inst.Amount, rate)) {
		return nil
	}
	return &lending.DueDateRoll{On: payDay, From: due, To: cadence.Step(due, 1)}
}
