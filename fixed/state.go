package fixed

import (
	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// STATUS DERIVATION
// =============================================================================

// DeriveState maps an accrual to the installment state it implies.
func DeriveState(acc Accrual) lending.InstallmentState {
	switch {
	case !acc.Owed().IsPositive():
		return lending.InstallmentPaid
	case acc.Overdue():
		return lending.InstallmentOverdue
	case acc.Credited():
		return lending.InstallmentPartial
	default:
		return lending.InstallmentPending
	}
}

// Refresh recomputes an installment as of asOf without side effects: cached
// penalty, principal paid and discount from the payment buckets, and the
// state reached through the lifecycle machine. Refinanced and voided
// installments carry no debt and are returned unchanged.
func (c Calculator) Refresh(inst lending.Installment, payments []lending.Payment, asOf lending.Date) (lending.Installment, Accrual) {
	if inst.State == lending.InstallmentRefinanced || inst.State == lending.InstallmentVoided {
		return inst, Accrual{
			AsOf:              asOf,
			DueDate:           inst.DueDate,
			PenaltyAccrued:    decimal.Zero,
			PenaltyCredited:   decimal.Zero,
			PenaltyOwed:       decimal.Zero,
			PrincipalCredited: decimal.Zero,
			PrincipalPending:  decimal.Zero,
		}
	}

	acc := c.Simulate(inst, payments, asOf)

	paid, discount := decimal.Zero, decimal.Zero
	for _, p := range payments {
		if p.InstallmentID != inst.ID || p.PaidOn.After(asOf) {
			continue
		}
		paid = lending.Add(paid, p.Principal)
		discount = lending.Add(discount, p.PrincipalDiscount)
	}

	inst.PrincipalPaid = paid
	inst.Discount = discount
	inst.Penalty = acc.PenaltyOwed
	inst.DueDate = acc.DueDate
	inst.State = lending.NextInstallmentState(inst.State, DeriveState(acc), false)
	return inst, acc
}

// PrincipalPending returns scheduled amount minus principal paid minus
// principal discount.
func PrincipalPending(inst lending.Installment) decimal.Decimal {
	return lending.NonNegative(lending.Sub(lending.Sub(inst.Amount, inst.PrincipalPaid), inst.Discount))
}
