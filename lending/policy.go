/*
policy.go - Servicing policy, discounts and rate conventions

PURPOSE:
  Defines the product rules that govern how debt accrues and how it may be
  reduced: the daily penalty rate, the open-ended cycle cap, which roles may
  grant discounts or manual refinancing rates, and the refinancing rate menu.

KEY CONCEPTS:
  - Policy: The complete ruleset shared by both accrual regimes
  - DiscountSpec: A requested discount, validated into a Discount
  - Rate normalization: 60 and 0.60 both mean sixty percent

DISCOUNTS:
  A discount is role-gated. Requesting one with an unauthorized role is a
  PermissionError raised before any mutation. The percent is clamped to
  [0, 100]. Scope "penalty" only reduces late penalty; scope "total" is
  distributed penalty -> interest -> principal.

EXAMPLE:
  policy := lending.DefaultPolicy()
  d, err := policy.Discount(&lending.DiscountSpec{
      Scope:   lending.ScopeTotal,
      Percent: decimal.NewFromInt(10),
      Role:    lending.RoleSupervisor,
  })
*/
package lending

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies the requester; it arrives from the routing/auth layer.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleCashier    Role = "cashier"
	RoleSystem     Role = "system"
)

// =============================================================================
// POLICY
// =============================================================================

// RateOption names an entry in the refinancing rate menu.
type RateOption string

const (
	RateStandard RateOption = "standard"
	RateReduced  RateOption = "reduced"
	RateManual   RateOption = "manual"
)

type Policy struct {
	// DailyPenaltyRate is charged per late day (0.025 = 2.5%).
	DailyPenaltyRate decimal.Decimal

	// MaxCycles caps open-ended credits; past the last cycle only
	// cancellation or refinancing is accepted.
	MaxCycles int

	// RollDueDateOnInterest enables pushing an overdue fixed installment's
	// due date forward once its embedded interest is covered.
	RollDueDateOnInterest bool

	DiscountRoles   []Role
	ManualRateRoles []Role

	// RateOptions maps menu entries to monthly rates (fractions).
	RateOptions map[RateOption]decimal.Decimal
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		DailyPenaltyRate:      decimal.RequireFromString("0.025"),
		MaxCycles:             3,
		RollDueDateOnInterest: true,
		DiscountRoles:         []Role{RoleAdmin, RoleSupervisor},
		ManualRateRoles:       []Role{RoleAdmin},
		RateOptions: map[RateOption]decimal.Decimal{
			RateStandard: decimal.RequireFromString("0.20"),
			RateReduced:  decimal.RequireFromString("0.10"),
		},
	}
}

func hasRole(roles []Role, r Role) bool {
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}

// =============================================================================
// DISCOUNTS
// =============================================================================

type DiscountScope string

const (
	ScopePenalty DiscountScope = "penalty"
	ScopeTotal   DiscountScope = "total"
)

// DiscountSpec is a discount as requested by the caller.
type DiscountSpec struct {
	Scope   DiscountScope
	Percent decimal.Decimal
	Role    Role
}

// Discount is a validated discount: scope known, percent within [0, 100].
type Discount struct {
	Scope   DiscountScope
	Percent decimal.Decimal
}

// None reports whether the discount reduces nothing.
func (d Discount) None() bool { return !d.Percent.IsPositive() }

// Discount validates and clamps a requested discount. A nil spec or a
// non-positive percent yields the empty discount and needs no permission.
func (p Policy) Discount(spec *DiscountSpec) (Discount, error) {
	if spec == nil {
		return Discount{Scope: ScopePenalty}, nil
	}
	scope := spec.Scope
	switch scope {
	case ScopePenalty, ScopeTotal:
	case "":
		scope = ScopePenalty
	default:
		return Discount{}, &ValidationError{Field: "discount.scope", Message: fmt.Sprintf("unknown scope %q", scope)}
	}

	percent := spec.Percent
	if percent.IsNegative() {
		percent = decimal.Zero
	}
	if percent.GreaterThan(hundred) {
		percent = hundred
	}
	if percent.IsZero() {
		return Discount{Scope: scope}, nil
	}
	if !hasRole(p.DiscountRoles, spec.Role) {
		return Discount{}, &PermissionError{Role: spec.Role, Action: "grant discounts"}
	}
	return Discount{Scope: scope, Percent: percent}, nil
}

// =============================================================================
// RATES
// =============================================================================

// NormalizeRate converts a stored rate to a fraction. Values above 1 are
// percents (60 -> 0.60); values at or below 1 are already fractions.
func NormalizeRate(r decimal.Decimal) decimal.Decimal {
	if r.GreaterThan(one) {
		return RoundRate(r.Div(hundred))
	}
	return r
}

// PeriodRate converts a monthly rate to the rate of one cadence period.
func PeriodRate(monthly decimal.Decimal, cadence Cadence) decimal.Decimal {
	switch cadence {
	case CadenceWeekly:
		return RoundRate(monthly.Div(decimal.NewFromInt(4)))
	case CadenceBiweekly:
		return RoundRate(monthly.Div(decimal.NewFromInt(2)))
	default:
		return RoundRate(monthly)
	}
}

// RefinanceRate resolves a menu option to a monthly fraction. The manual
// option is restricted to ManualRateRoles.
func (p Policy) RefinanceRate(option RateOption, manual decimal.Decimal, role Role) (decimal.Decimal, error) {
	if option == RateManual {
		if !hasRole(p.ManualRateRoles, role) {
			return decimal.Zero, &PermissionError{Role: role, Action: "set a manual refinancing rate"}
		}
		rate := NormalizeRate(manual)
		if !rate.IsPositive() {
			return decimal.Zero, &ValidationError{Field: "manual_rate", Message: "manual rate must be positive"}
		}
		return rate, nil
	}
	rate, ok := p.RateOptions[option]
	if !ok {
		return decimal.Zero, &ValidationError{Field: "rate_option", Message: fmt.Sprintf("unknown rate option %q", option)}
	}
	return NormalizeRate(rate), nil
}
