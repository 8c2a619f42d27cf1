/*
Package factory provides JSON to Go conversion for servicing definitions.

PURPOSE:
  Converts JSON credit definitions into lending.Credit values and JSON
  policy overrides into a lending.Policy. Product rules and credit intake
  can then change without code changes: the API decodes credits through
  CreditFactory, the config layer builds the policy through PolicyFactory.

POLICY JSON SCHEMA:
  {
    "daily_penalty_rate": 0.025,
    "max_cycles": 3,
    "roll_due_date_on_interest": true,
    "discount_roles": ["admin", "supervisor"],
    "manual_rate_roles": ["admin"],
    "rate_options": {"standard": 0.20, "reduced": 10}
  }

  Every field is optional; missing fields keep lending.DefaultPolicy().
  Rates follow the usual normalization (10 and 0.10 are the same rate).

USAGE:
  policy, err := factory.NewPolicyFactory().ParsePolicy(jsonString)

SEE ALSO:
  - lending/policy.go: Policy type definition
  - factory/credit.go: Credit definitions
  - config/config.go: Builds PolicyJSON from viper keys
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a servicing policy.
type PolicyJSON struct {
	DailyPenaltyRate      *decimal.Decimal           `json:"daily_penalty_rate,omitempty"`
	MaxCycles             int                        `json:"max_cycles,omitempty"`
	RollDueDateOnInterest *bool                      `json:"roll_due_date_on_interest,omitempty"`
	DiscountRoles         []string                   `json:"discount_roles,omitempty"`
	ManualRateRoles       []string                   `json:"manual_rate_roles,omitempty"`
	RateOptions           map[string]decimal.Decimal `json:"rate_options,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to lending.Policy.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a Policy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (lending.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return lending.Policy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON applies pj on top of the default policy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (lending.Policy, error) {
	policy := lending.DefaultPolicy()

	if pj.DailyPenaltyRate != nil {
		rate := lending.NormalizeRate(*pj.DailyPenaltyRate)
		if rate.IsNegative() {
			return lending.Policy{}, &lending.ValidationError{Field: "daily_penalty_rate", Message: "rate cannot be negative"}
		}
		policy.DailyPenaltyRate = rate
	}
	if pj.MaxCycles < 0 {
		return lending.Policy{}, &lending.ValidationError{Field: "max_cycles", Message: "must be at least 1"}
	}
	if pj.MaxCycles > 0 {
		policy.MaxCycles = pj.MaxCycles
	}
	if pj.RollDueDateOnInterest != nil {
		policy.RollDueDateOnInterest = *pj.RollDueDateOnInterest
	}

	if pj.DiscountRoles != nil {
		roles, err := parseRoles("discount_roles", pj.DiscountRoles)
		if err != nil {
			return lending.Policy{}, err
		}
		policy.DiscountRoles = roles
	}
	if pj.ManualRateRoles != nil {
		roles, err := parseRoles("manual_rate_roles", pj.ManualRateRoles)
		if err != nil {
			return lending.Policy{}, err
		}
		policy.ManualRateRoles = roles
	}

	if len(pj.RateOptions) > 0 {
		options := make(map[lending.RateOption]decimal.Decimal, len(pj.RateOptions))
		for name, rate := range pj.RateOptions {
			option := lending.RateOption(name)
			if option == lending.RateManual {
				return lending.Policy{}, &lending.ValidationError{Field: "rate_options", Message: "manual is not a menu entry"}
			}
			rate = lending.NormalizeRate(rate)
			if !rate.IsPositive() {
				return lending.Policy{}, &lending.ValidationError{Field: "rate_options." + name, Message: "rate must be positive"}
			}
			options[option] = rate
		}
		policy.RateOptions = options
	}

	return policy, nil
}

// ToJSON converts a Policy to PolicyJSON.
func (f *PolicyFactory) ToJSON(policy lending.Policy) PolicyJSON {
	rate := policy.DailyPenaltyRate
	roll := policy.RollDueDateOnInterest
	pj := PolicyJSON{
		DailyPenaltyRate:      &rate,
		MaxCycles:             policy.MaxCycles,
		RollDueDateOnInterest: &roll,
		DiscountRoles:         roleNames(policy.DiscountRoles),
		ManualRateRoles:       roleNames(policy.ManualRateRoles),
		RateOptions:           make(map[string]decimal.Decimal, len(policy.RateOptions)),
	}
	for option, r := range policy.RateOptions {
		pj.RateOptions[string(option)] = r
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// ParseRole validates a role name.
func ParseRole(s string) (lending.Role, error) {
	switch r := lending.Role(s); r {
	case lending.RoleAdmin, lending.RoleSupervisor, lending.RoleCashier, lending.RoleSystem:
		return r, nil
	default:
		return "", &lending.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", s)}
	}
}

func parseRoles(field string, names []string) ([]lending.Role, error) {
	roles := make([]lending.Role, 0, len(names))
	for _, name := range names {
		r, err := ParseRole(name)
		if err != nil {
			return nil, &lending.ValidationError{Field: field, Message: fmt.Sprintf("unknown role %q", name)}
		}
		roles = append(roles, r)
	}
	return roles, nil
}

func roleNames(roles []lending.Role) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	sort.Strings(names)
	return names
}
