/*
Package openended implements the open-ended (revolving) servicing regime.

PURPOSE:
  An open-ended credit has no installment schedule. It is billed per monthly
  cycle anchored on the commitment date, up to a hard cap of cycles. Each
  cycle charges interest once on the capital it started with, and accrues
  penalty while that interest stays unpaid after the cycle's due date.

CYCLES:
  Cycle k covers [committedOn + (k-1) months, committedOn + k months). Its
  due date is the last day of that window; the first day of the next cycle
  is already the first late day.

    committed       due(1)        due(2)        due(3)
       |-- cycle 1 --]-- cycle 2 --]-- cycle 3 --]  cap exceeded ->

  The current cycle is the first whose due date is on or after asOf. Past
  due(MaxCycles) the credit accepts only cancellation or refinancing.

PER-CYCLE DEBT:
  capitalBase(k)  = capital - principal credited before the cycle's start
  interestGross   = capitalBase x rate
  penaltyGross    = interestGross x dailyRate x daysLate
  daysLate        = days from due(k) to the earlier of asOf and the day the
                    cycle's interest became fully credited

  The base is frozen when the cycle starts: principal paid mid-cycle shrinks
  the next cycle, never the current one. Penalty stops the day interest is
  covered, so advancing asOf after that day never grows it.

ATTRIBUTION:
  Payments carry per-cycle splits written by the allocator. Older payments
  without splits are attributed to the cycle whose window contains their
  date.

SEE ALSO:
  - allocation.go: Multi-cycle waterfall
  - fixed/accrual.go: The day-by-day regime for fixed schedules
*/
package openended

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// CYCLE CALENDAR
// =============================================================================

// DueDate returns the last day of cycle k.
func DueDate(committed lending.Date, k int) lending.Date { return committed.AddMonths(k).AddDays(-1) }

// StartDate returns the first day of cycle k.
func StartDate(committed lending.Date, k int) lending.Date {
	if k <= 1 {
		return committed
	}
	return committed.AddMonths(k - 1)
}

// CycleAt returns the cycle whose window contains d, capped at maxCycles,
// and whether d lies past the last cycle's due date.
func CycleAt(committed lending.Date, d lending.Date, maxCycles int) (int, bool) {
	if maxCycles < 1 {
		maxCycles = 1
	}
	for k := 1; k <= maxCycles; k++ {
		if !d.After(DueDate(committed, k)) {
			return k, false
		}
	}
	return maxCycles, true
}

// =============================================================================
// CYCLE ACCRUAL ENGINE
// =============================================================================

// Cycle is the derived debt of one billing cycle.
type Cycle struct {
	Index   int
	Start   lending.Date
	DueDate lending.Date

	CapitalBase decimal.Decimal

	InterestGross     decimal.Decimal
	InterestCollected decimal.Decimal
	InterestPending   decimal.Decimal

	PenaltyGross     decimal.Decimal
	PenaltyCollected decimal.Decimal
	PenaltyPending   decimal.Decimal

	DaysLate int
	// SettledOn is the day the cycle's interest became fully credited.
	SettledOn *lending.Date
}

// Pending returns pending interest plus pending penalty.
func (c Cycle) Pending() decimal.Decimal { return lending.Add(c.InterestPending, c.PenaltyPending) }

// Open reports whether the cycle still owes interest or penalty.
func (c Cycle) Open() bool { return c.Pending().IsPositive() }

// Statement is the debt of an open-ended credit as of a reference date.
type Statement struct {
	AsOf        lending.Date
	Cycles      []Cycle
	Current     int
	CapExceeded bool

	Capital            decimal.Decimal
	PrincipalCredited  decimal.Decimal
	OutstandingCapital decimal.Decimal

	InterestPending decimal.Decimal
	PenaltyPending  decimal.Decimal
}

// TotalOwed is the amount owed as of AsOf: every cycle's pending interest
// and penalty plus outstanding capital.
func (s Statement) TotalOwed() decimal.Decimal {
	return lending.Sum(s.InterestPending, s.PenaltyPending, s.OutstandingCapital)
}

// OpenCycle returns the oldest cycle that still owes interest or penalty.
func (s Statement) OpenCycle() (Cycle, bool) {
	for _, c := range s.Cycles {
		if c.Open() {
			return c, true
		}
	}
	return Cycle{}, false
}

// Overdue reports whether any elapsed cycle still owes, or the cycle cap
// passed with capital outstanding.
func (s Statement) Overdue() bool {
	if s.CapExceeded && s.OutstandingCapital.IsPositive() {
		return true
	}
	for _, c := range s.Cycles {
		if s.AsOf.After(c.DueDate) && c.Open() {
			return true
		}
	}
	return false
}

// Splits returns the per-cycle attribution of a payment, falling back to its
// date when no split was persisted.
func Splits(p lending.Payment, committed lending.Date, maxCycles int) []lending.CycleSplit {
	if len(p.Cycles) > 0 {
		return p.Cycles
	}
	if p.Penalty.IsZero() && p.Interest.IsZero() && p.PenaltyDiscount.IsZero() && p.InterestDiscount.IsZero() {
		return nil
	}
	k, _ := CycleAt(committed, p.PaidOn, maxCycles)
	return []lending.CycleSplit{{
		Cycle:            k,
		Penalty:          p.Penalty,
		Interest:         p.Interest,
		PenaltyDiscount:  p.PenaltyDiscount,
		InterestDiscount: p.InterestDiscount,
	}}
}

func relevantPayments(creditID lending.CreditID, payments []lending.Payment, asOf lending.Date) []lending.Payment {
	var relevant []lending.Payment
	for _, p := range payments {
		if p.CreditID == creditID && !p.PaidOn.After(asOf) {
			relevant = append(relevant, p)
		}
	}
	sort.SliceStable(relevant, func(i, j int) bool { return relevant[i].PaidOn.Before(relevant[j].PaidOn) })
	return relevant
}

// Accrue computes the statement of an open-ended credit as of asOf.
func Accrue(credit lending.Credit, payments []lending.Payment, asOf lending.Date, policy lending.Policy) Statement {
	committed := credit.CommittedOn
	current, capExceeded := CycleAt(committed, asOf, policy.MaxCycles)
	relevant := relevantPayments(credit.ID, payments, asOf)

	st := Statement{
		AsOf:              asOf,
		Current:           current,
		CapExceeded:       capExceeded,
		Capital:           lending.Round(credit.Capital),
		PrincipalCredited: decimal.Zero,
		InterestPending:   decimal.Zero,
		PenaltyPending:    decimal.Zero,
	}
	for _, p := range relevant {
		st.PrincipalCredited = lending.Add(st.PrincipalCredited, p.PrincipalCredited())
	}
	st.OutstandingCapital = lending.NonNegative(lending.Sub(st.Capital, st.PrincipalCredited))

	for k := 1; k <= current; k++ {
		cycle := accrueCycle(k, credit, relevant, asOf, policy)
		st.InterestPending = lending.Add(st.InterestPending, cycle.InterestPending)
		st.PenaltyPending = lending.Add(st.PenaltyPending, cycle.PenaltyPending)
		st.Cycles = append(st.Cycles, cycle)
	}
	return st
}

func accrueCycle(k int, credit lending.Credit, relevant []lending.Payment, asOf lending.Date, policy lending.Policy) Cycle {
	committed := credit.CommittedOn
	cycle := Cycle{
		Index:             k,
		Start:             StartDate(committed, k),
		DueDate:           DueDate(committed, k),
		InterestCollected: decimal.Zero,
		PenaltyCollected:  decimal.Zero,
		PenaltyGross:      decimal.Zero,
	}

	paidBefore := decimal.Zero
	for _, p := range relevant {
		if p.PaidOn.Before(cycle.Start) {
			paidBefore = lending.Add(paidBefore, p.PrincipalCredited())
		}
	}
	cycle.CapitalBase = lending.NonNegative(lending.Sub(credit.Capital, paidBefore))
	cycle.InterestGross = lending.Mul(cycle.CapitalBase, credit.Rate)

	for _, p := range relevant {
		for _, s := range Splits(p, committed, policy.MaxCycles) {
			if s.Cycle != k {
				continue
			}
			cycle.InterestCollected = lending.Add(cycle.InterestCollected, s.InterestCredited())
			cycle.PenaltyCollected = lending.Add(cycle.PenaltyCollected, s.PenaltyCredited())
			if cycle.SettledOn == nil && !cycle.InterestCollected.LessThan(cycle.InterestGross) {
				on := p.PaidOn
				cycle.SettledOn = &on
			}
		}
	}

	if asOf.After(cycle.DueDate) && cycle.InterestGross.IsPositive() {
		end := asOf
		if cycle.SettledOn != nil && cycle.SettledOn.Before(end) {
			end = *cycle.SettledOn
		}
		if days := lending.DaysBetween(cycle.DueDate, end); days > 0 {
			cycle.DaysLate = days
			daily := lending.Mul(cycle.InterestGross, policy.DailyPenaltyRate)
			cycle.PenaltyGross = lending.Mul(daily, decimal.NewFromInt(int64(days)))
		}
	}

	cycle.InterestPending = lending.NonNegative(lending.Sub(cycle.InterestGross, cycle.InterestCollected))
	cycle.PenaltyPending = lending.NonNegative(lending.Sub(cycle.PenaltyGross, cycle.PenaltyCollected))
	return cycle
}
