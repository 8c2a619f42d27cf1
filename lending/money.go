/*
Package lending provides the core loan servicing calculation engine.

PURPOSE:
  This package contains the regime-agnostic types and algorithms for servicing
  micro-credits. Whether a credit is repaid on a fixed schedule or left
  open-ended and billed per monthly cycle, the same core handles money
  rounding, business dates, credit/installment/payment records, error kinds,
  schedule generation, discount policy, bucket waterfalls and lifecycle state.

KEY CONCEPTS IN THIS FILE (money.go):
  - Every amount is a decimal.Decimal rounded to two places
  - Rounding happens after EVERY arithmetic step, never only at the end
  - Rates are normalized fractions (0.60), never percents (60)

PRECISION:
  Floating point is never used for money. Day-granular replays run hundreds of
  steps; rounding each running total keeps the result reproducible and equal
  to what a cashier computes by hand.

SEE ALSO:
  - types.go: Credit, Installment, Payment
  - waterfall.go: Ordered bucket allocation built on these helpers
  - fixed/accrual.go, openended/cycle.go: The two accrual regimes
*/
package lending

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - two decimal places, rounded half away from zero
// =============================================================================

// Places is the number of decimal places kept on every monetary value.
const Places = 2

// ratePlaces bounds derived rates (per-period conversions).
const ratePlaces = 6

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Round rounds a monetary amount to cents.
func Round(d decimal.Decimal) decimal.Decimal { return d.Round(Places) }

// RoundRate rounds a derived rate.
func RoundRate(d decimal.Decimal) decimal.Decimal { return d.Round(ratePlaces) }

// Add returns round(a + b).
func Add(a, b decimal.Decimal) decimal.Decimal { return Round(a.Add(b)) }

// Sub returns round(a - b).
func Sub(a, b decimal.Decimal) decimal.Decimal { return Round(a.Sub(b)) }

// Mul returns round(a * b).
func Mul(a, b decimal.Decimal) decimal.Decimal { return Round(a.Mul(b)) }

// Sum adds amounts left to right, rounding after each step.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = Add(total, a)
	}
	return total
}

// Min returns the smaller amount.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// NonNegative clamps negative amounts to zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Percent returns round(base * percent / 100).
func Percent(base, percent decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(percent).Div(hundred))
}

// MustParseDecimal parses a decimal literal, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Money parses a literal and rounds it to cents. Intended for tests and presets.
func Money(s string) decimal.Decimal { return Round(MustParseDecimal(s)) }
