package openended

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// STATUS DERIVATION
// =============================================================================

// DeriveState maps a statement to the single installment's state: paid once
// nothing is owed, overdue while an elapsed cycle owes (or the cap passed
// with capital outstanding), pending otherwise.
func DeriveState(st Statement) lending.InstallmentState {
	switch {
	case !st.TotalOwed().IsPositive():
		return lending.InstallmentPaid
	case st.Overdue():
		return lending.InstallmentOverdue
	default:
		return lending.InstallmentPending
	}
}

// Refresh recomputes the container installment as of asOf: its amount tracks
// outstanding capital, its penalty the pending penalty across cycles.
// Refinanced and voided installments are returned unchanged.
func (c Calculator) Refresh(credit lending.Credit, inst lending.Installment, payments []lending.Payment, asOf lending.Date) (lending.Installment, Statement) {
	st := c.Accrue(credit, payments, asOf)
	if inst.State == lending.InstallmentRefinanced || inst.State == lending.InstallmentVoided {
		return inst, st
	}

	paid, discount := decimal.Zero, decimal.Zero
	for _, p := range relevantPayments(credit.ID, payments, asOf) {
		paid = lending.Add(paid, p.Principal)
		discount = lending.Add(discount, p.PrincipalDiscount)
	}

	inst.Amount = st.OutstandingCapital
	inst.PrincipalPaid = paid
	inst.Discount = discount
	inst.Penalty = st.PenaltyPending
	inst.State = lending.NextInstallmentState(inst.State, DeriveState(st), true)
	return inst, st
}

// =============================================================================
// PAYOFF CALCULATORS
// =============================================================================

// Payoff closes an open-ended credit in full.
type Payoff struct {
	Before Statement
	// Debt is what was owed before discount.
	Debt lending.Allocation
	// Allocation holds the cash buckets and the total discount.
	Allocation        lending.Allocation
	PenaltyDiscount   decimal.Decimal
	InterestDiscount  decimal.Decimal
	PrincipalDiscount decimal.Decimal
	Splits            []lending.CycleSplit
}

// Net returns the cash needed to close the credit.
func (p Payoff) Net() decimal.Decimal { return p.Allocation.Total() }

// Cancellation computes a full payoff as of asOf. Scope penalty discounts
// penalty only; scope total takes the percent of the whole debt and spreads
// it penalty -> interest -> principal. Within a bucket, the discount reaches
// the oldest cycle first. Cancellation is accepted past the cycle cap.
func (c Calculator) Cancellation(credit lending.Credit, payments []lending.Payment, asOf lending.Date, discount lending.Discount) (Payoff, error) {
	st := c.Accrue(credit, payments, asOf)
	if !st.TotalOwed().IsPositive() {
		return Payoff{}, &lending.StateConflictError{Code: lending.ConflictNothingToPay, Message: fmt.Sprintf("credit %s has nothing pending", credit.ID)}
	}

	payoff := Payoff{
		Before: st,
		Debt: lending.Allocation{
			Penalty:   st.PenaltyPending,
			Interest:  st.InterestPending,
			Principal: st.OutstandingCapital,
			Discount:  decimal.Zero,
		},
	}
	disc := lending.DiscountBreakdown(discount, st.PenaltyPending, st.InterestPending, st.OutstandingCapital)
	payoff.PenaltyDiscount = disc.Penalty
	payoff.InterestDiscount = disc.Interest
	payoff.PrincipalDiscount = disc.Principal

	penalties := make([]decimal.Decimal, len(st.Cycles))
	interests := make([]decimal.Decimal, len(st.Cycles))
	for i, cy := range st.Cycles {
		penalties[i] = cy.PenaltyPending
		interests[i] = cy.InterestPending
	}
	penaltyShares, _ := lending.Waterfall(disc.Penalty, penalties...)
	interestShares, _ := lending.Waterfall(disc.Interest, interests...)

	for i, cy := range st.Cycles {
		if !cy.Open() {
			continue
		}
		payoff.Splits = append(payoff.Splits, lending.CycleSplit{
			Cycle:            cy.Index,
			Penalty:          lending.Sub(cy.PenaltyPending, penaltyShares[i]),
			Interest:         lending.Sub(cy.InterestPending, interestShares[i]),
			PenaltyDiscount:  penaltyShares[i],
			InterestDiscount: interestShares[i],
		})
	}

	payoff.Allocation = lending.Allocation{
		Penalty:   lending.Sub(st.PenaltyPending, disc.Penalty),
		Interest:  lending.Sub(st.InterestPending, disc.Interest),
		Principal: lending.Sub(st.OutstandingCapital, disc.Principal),
		Discount:  disc.Discount,
	}
	return payoff, nil
}

// RefinanceBase is the debt carried into a new credit: outstanding capital
// plus the pending interest and penalty of the oldest open cycle only.
func (c Calculator) RefinanceBase(credit lending.Credit, payments []lending.Payment, asOf lending.Date) decimal.Decimal {
	st := c.Accrue(credit, payments, asOf)
	base := st.OutstandingCapital
	if open, ok := st.OpenCycle(); ok {
		base = lending.Add(base, open.Pending())
	}
	return base
}
