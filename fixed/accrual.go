/*
Package fixed implements the fixed-schedule servicing regime.

PURPOSE:
  A fixed-schedule credit is repaid through N installments due on a weekly,
  biweekly or monthly cadence. Each installment accrues late penalty on its
  own pending principal once its due date passes. This package replays that
  accrual, allocates payments, derives installment state and computes the
  payoff bases used by cancellation and refinancing.

ACCRUAL (this file):
  Penalty is charged on a shrinking base, so no closed formula works once
  partial payments land mid-delinquency. The simulator walks one calendar
  day at a time:

    for each day d after the due date, up to asOf:
        penalty += round(pendingPrincipal x dailyRate)
        apply d's payments: penalty first, remainder to principal

  A payment on day N therefore stops accruing from day N+1, never
  retroactively. Payments dated on or before the due date go straight to
  principal. The walk stops early once principal is zero and no payment
  remains to replay.

DUE-DATE ROLLS:
  A due date pushed forward by a payment (see roll.go) is in force from the
  day after that payment. The simulator asks the installment which due date
  governs each day, so replaying history always reproduces the allocation
  that was made at payment time.

EXAMPLE:
  Installment 1000 due 2024-01-10, daily rate 2.5%, no payments:
    Simulate(inst, nil, 2024-01-13, 0.025).PenaltyOwed == 75.00

SEE ALSO:
  - allocation.go: Uses the simulator to size a payment
  - openended/cycle.go: The per-cycle regime
*/
package fixed

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// ACCRUAL SIMULATOR
// =============================================================================

// Accrual is the debt of one installment as of a reference date.
type Accrual struct {
	AsOf lending.Date
	// DueDate is the due date governing the day after AsOf, so a roll made
	// on AsOf is already reflected.
	DueDate  lending.Date
	DaysLate int

	PenaltyAccrued  decimal.Decimal
	PenaltyCredited decimal.Decimal
	PenaltyOwed     decimal.Decimal

	PrincipalCredited decimal.Decimal
	PrincipalPending  decimal.Decimal
}

// Owed returns pending penalty plus pending principal.
func (a Accrual) Owed() decimal.Decimal { return lending.Add(a.PenaltyOwed, a.PrincipalPending) }

// Overdue reports whether AsOf is past the governing due date.
func (a Accrual) Overdue() bool { return a.AsOf.After(a.DueDate) }

// Credited reports whether any payment or discount reached the installment.
func (a Accrual) Credited() bool {
	return a.PenaltyCredited.IsPositive() || a.PrincipalCredited.IsPositive()
}

type dayCredit struct {
	On     lending.Date
	Amount decimal.Decimal
}

// creditsByDay aggregates the installment's payments dated on or before asOf
// into one credit per day, oldest first. Cash and discount both count.
func creditsByDay(instID lending.InstallmentID, payments []lending.Payment, asOf lending.Date) []dayCredit {
	var relevant []lending.Payment
	for _, p := range payments {
		if p.InstallmentID == instID && !p.PaidOn.After(asOf) {
			relevant = append(relevant, p)
		}
	}
	sort.SliceStable(relevant, func(i, j int) bool { return relevant[i].PaidOn.Before(relevant[j].PaidOn) })

	var days []dayCredit
	for _, p := range relevant {
		if n := len(days); n > 0 && days[n-1].On.Equal(p.PaidOn) {
			days[n-1].Amount = lending.Add(days[n-1].Amount, p.Credited())
			continue
		}
		days = append(days, dayCredit{On: p.PaidOn, Amount: p.Credited()})
	}
	return days
}

// Simulate replays the installment's history up to asOf.
func Simulate(inst lending.Installment, payments []lending.Payment, asOf lending.Date, dailyRate decimal.Decimal) Accrual {
	acc := Accrual{
		AsOf:              asOf,
		DueDate:           inst.DueDateOn(asOf.AddDays(1)),
		PenaltyAccrued:    decimal.Zero,
		PenaltyCredited:   decimal.Zero,
		PenaltyOwed:       decimal.Zero,
		PrincipalCredited: decimal.Zero,
		PrincipalPending:  lending.Round(inst.Amount),
	}

	days := creditsByDay(inst.ID, payments, asOf)
	start := inst.OriginalDueDate().AddDays(1)
	if len(days) > 0 && days[0].On.Before(start) {
		start = days[0].On
	}

	next := 0
	for d := start; !d.After(asOf); d = d.AddDays(1) {
		if d.After(inst.DueDateOn(d)) && acc.PrincipalPending.IsPositive() {
			charge := lending.Mul(acc.PrincipalPending, dailyRate)
			acc.PenaltyAccrued = lending.Add(acc.PenaltyAccrued, charge)
			acc.PenaltyOwed = lending.Add(acc.PenaltyOwed, charge)
			acc.DaysLate++
		}

		if next < len(days) && days[next].On.Equal(d) {
			fills, _ := lending.Waterfall(days[next].Amount, acc.PenaltyOwed, acc.PrincipalPending)
			acc.PenaltyCredited = lending.Add(acc.PenaltyCredited, fills[0])
			acc.PenaltyOwed = lending.Sub(acc.PenaltyOwed, fills[0])
			acc.PrincipalCredited = lending.Add(acc.PrincipalCredited, fills[1])
			acc.PrincipalPending = lending.Sub(acc.PrincipalPending, fills[1])
			next++
		}

		if !acc.PrincipalPending.IsPositive() && next == len(days) {
			break
		}
	}
	return acc
}
