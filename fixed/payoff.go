package fixed

import (
	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// PAYOFF CALCULATORS
// =============================================================================

// PayoffLine is the share of a payoff settled against one installment.
type PayoffLine struct {
	Installment       lending.Installment
	Accrual           Accrual
	Allocation        lending.Allocation
	PenaltyDiscount   decimal.Decimal
	PrincipalDiscount decimal.Decimal
}

// Payoff settles every open installment of a credit at once.
type Payoff struct {
	AsOf  lending.Date
	Lines []PayoffLine
	// Debt is what was owed before discount (penalty and principal).
	Debt lending.Allocation
	// Allocation holds the cash buckets and the total discount.
	Allocation lending.Allocation
}

// Net returns the cash needed to close the credit.
func (p Payoff) Net() decimal.Decimal { return p.Allocation.Total() }

func openDebts(c Calculator, insts []lending.Installment, payments []lending.Payment, asOf lending.Date) []PayoffLine {
	var lines []PayoffLine
	for _, inst := range insts {
		if inst.State.Terminal() {
			continue
		}
		acc := c.Simulate(inst, payments, asOf)
		if !acc.Owed().IsPositive() {
			continue
		}
		lines = append(lines, PayoffLine{Installment: inst, Accrual: acc})
	}
	return lines
}

// Cancellation computes a full payoff as of asOf. The discount is taken on
// the credit's whole debt, then spread across installments: the penalty part
// in proportion to each installment's pending penalty, the principal part in
// proportion to its pending principal. The last installment absorbs the
// rounding remainder of each split.
func (c Calculator) Cancellation(insts []lending.Installment, payments []lending.Payment, asOf lending.Date, discount lending.Discount) (Payoff, error) {
	lines := openDebts(c, insts, payments, asOf)
	if len(lines) == 0 {
		return Payoff{}, &lending.StateConflictError{Code: lending.ConflictNothingToPay, Message: "no installment has pending debt"}
	}

	penalties := make([]decimal.Decimal, len(lines))
	principals := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		penalties[i] = l.Accrual.PenaltyOwed
		principals[i] = l.Accrual.PrincipalPending
	}

	payoff := Payoff{AsOf: asOf}
	payoff.Debt = lending.Allocation{
		Penalty:   lending.Sum(penalties...),
		Interest:  decimal.Zero,
		Principal: lending.Sum(principals...),
		Discount:  decimal.Zero,
	}

	disc := lending.DiscountBreakdown(discount, payoff.Debt.Penalty, decimal.Zero, payoff.Debt.Principal)
	penaltyShares := lending.SplitProportional(disc.Penalty, penalties)
	principalShares := lending.SplitProportional(disc.Principal, principals)

	payoff.Allocation = lending.Allocation{Penalty: decimal.Zero, Interest: decimal.Zero, Principal: decimal.Zero, Discount: decimal.Zero}
	for i := range lines {
		l := &lines[i]
		l.PenaltyDiscount = penaltyShares[i]
		l.PrincipalDiscount = principalShares[i]
		l.Allocation = lending.Allocation{
			Penalty:   lending.Sub(penalties[i], penaltyShares[i]),
			Interest:  decimal.Zero,
			Principal: lending.Sub(principals[i], principalShares[i]),
			Discount:  lending.Add(penaltyShares[i], principalShares[i]),
		}
		payoff.Allocation = payoff.Allocation.Plus(l.Allocation)
	}
	payoff.Lines = lines
	return payoff, nil
}

// RefinanceBase is the debt carried into a new credit: pending principal
// plus pending penalty across open installments.
func (c Calculator) RefinanceBase(insts []lending.Installment, payments []lending.Payment, asOf lending.Date) decimal.Decimal {
	base := decimal.Zero
	for _, l := range openDebts(c, insts, payments, asOf) {
		base = lending.Add(base, l.Accrual.Owed())
	}
	return base
}
