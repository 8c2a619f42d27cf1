package lending

import "github.com/shopspring/decimal"

// =============================================================================
// WATERFALL - fixed-priority allocation across buckets
// =============================================================================

// Waterfall pours amount into the buckets in order, never filling a later
// bucket while an earlier one still has room. It returns the fill of each
// bucket and whatever did not fit.
func Waterfall(amount decimal.Decimal, capacities ...decimal.Decimal) ([]decimal.Decimal, decimal.Decimal) {
	fills := make([]decimal.Decimal, len(capacities))
	remaining := Round(amount)
	for i, capacity := range capacities {
		take := Min(remaining, NonNegative(capacity))
		fills[i] = take
		remaining = Sub(remaining, take)
	}
	return fills, remaining
}

// SplitProportional divides total across weights. Every share is rounded to
// cents and the last positive weight absorbs the rounding remainder, so the
// shares always add up to total exactly.
func SplitProportional(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	for i := range shares {
		shares[i] = decimal.Zero
	}

	sum := decimal.Zero
	last := -1
	for i, w := range weights {
		if w.IsPositive() {
			sum = Add(sum, w)
			last = i
		}
	}
	if last < 0 || !total.IsPositive() {
		return shares
	}

	allocated := decimal.Zero
	for i, w := range weights {
		if !w.IsPositive() {
			continue
		}
		if i == last {
			shares[i] = Sub(total, allocated)
			break
		}
		shares[i] = Round(total.Mul(w).Div(sum))
		allocated = Add(allocated, shares[i])
	}
	return shares
}

// DiscountBreakdown applies a validated discount to a debt. Scope penalty
// reduces penalty only; scope total takes the percent of the whole debt and
// distributes it penalty -> interest -> principal.
func DiscountBreakdown(d Discount, penalty, interest, principal decimal.Decimal) Allocation {
	if d.None() {
		return Allocation{Penalty: decimal.Zero, Interest: decimal.Zero, Principal: decimal.Zero, Discount: decimal.Zero}
	}
	switch d.Scope {
	case ScopeTotal:
		amount := Percent(Sum(penalty, interest, principal), d.Percent)
		fills, _ := Waterfall(amount, penalty, interest, principal)
		return Allocation{Penalty: fills[0], Interest: fills[1], Principal: fills[2], Discount: amount}
	default:
		amount := Percent(penalty, d.Percent)
		return Allocation{Penalty: amount, Interest: decimal.Zero, Principal: decimal.Zero, Discount: amount}
	}
}

// DiscountForPayment sizes the discount a single payment of amount earns
// against a debt. A payment that settles the debt gets the full
// DiscountBreakdown. Under scope total a smaller payment earns the percent
// only of the debt it settles, amount x p / (100 - p), so repeated partial
// payments never add up to more than the percent of the whole debt.
func DiscountForPayment(d Discount, amount, penalty, interest, principal decimal.Decimal) Allocation {
	full := DiscountBreakdown(d, penalty, interest, principal)
	if d.None() || d.Scope != ScopeTotal || !d.Percent.LessThan(hundred) {
		return full
	}
	owed := Sum(penalty, interest, principal)
	if !amount.LessThan(Sub(owed, full.Discount)) {
		return full
	}
	share := Round(amount.Mul(d.Percent).Div(hundred.Sub(d.Percent)))
	share = decimal.Min(share, full.Discount, Sub(owed, amount))
	fills, _ := Waterfall(share, penalty, interest, principal)
	return Allocation{Penalty: fills[0], Interest: fills[1], Principal: fills[2], Discount: share}
}
