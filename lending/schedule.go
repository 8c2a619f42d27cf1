package lending

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SCHEDULE GENERATOR - builds the initial installment set
// =============================================================================

// ValidateCredit checks the creation invariants of a credit.
func ValidateCredit(c Credit) error {
	if c.Terms == nil {
		return &ValidationError{Field: "modality", Message: "modality is required"}
	}
	if !c.Capital.IsPositive() {
		return &ValidationError{Field: "capital", Message: "capital must be positive"}
	}
	if c.Rate.IsNegative() {
		return &ValidationError{Field: "rate", Message: "rate cannot be negative"}
	}
	if c.DisbursedOn.IsZero() {
		return &ValidationError{Field: "disbursed_on", Message: "disbursement date is required"}
	}
	if c.CommittedOn.IsZero() {
		return &ValidationError{Field: "committed_on", Message: "commitment date is required"}
	}
	if c.CommittedOn.Before(c.DisbursedOn) {
		return &ValidationError{Field: "committed_on", Message: "commitment date cannot precede disbursement date"}
	}
	switch t := c.Terms.(type) {
	case FixedTerms:
		if t.Count < 1 {
			return &ValidationError{Field: "installments", Message: "at least one installment is required"}
		}
		if _, err := ParseCadence(string(t.Cadence)); err != nil {
			return err
		}
	case OpenTerms:
	default:
		return &ValidationError{Field: "modality", Message: fmt.Sprintf("unsupported terms %T", c.Terms)}
	}
	return nil
}

// FixedTotal is what a fixed-schedule credit repays: capital x (1 + rate),
// the rate being a flat whole-term rate.
func FixedTotal(capital, rate decimal.Decimal) decimal.Decimal {
	return Mul(capital, one.Add(rate))
}

// GenerateSchedule builds the installments of a validated credit: equal or
// progressive amounts for fixed terms, one open container for open-ended.
func GenerateSchedule(c Credit) ([]Installment, error) {
	if err := ValidateCredit(c); err != nil {
		return nil, err
	}

	switch t := c.Terms.(type) {
	case FixedTerms:
		total := FixedTotal(c.Capital, c.Rate)
		weights := make([]decimal.Decimal, t.Count)
		for i := range weights {
			if t.Progressive {
				weights[i] = decimal.NewFromInt(int64(i + 1))
			} else {
				weights[i] = one
			}
		}
		amounts := SplitProportional(total, weights)

		installments := make([]Installment, t.Count)
		for i := range installments {
			installments[i] = newInstallment(c.ID, i+1, amounts[i], t.Cadence.Step(c.CommittedOn, i+1))
		}
		return installments, nil

	case OpenTerms:
		return []Installment{newInstallment(c.ID, 1, Round(c.Capital), OpenEndedDueDate)}, nil
	}
	return nil, &ValidationError{Field: "modality", Message: fmt.Sprintf("unsupported terms %T", c.Terms)}
}

func newInstallment(creditID CreditID, number int, amount decimal.Decimal, due Date) Installment {
	return Installment{
		ID:            NewInstallmentID(),
		CreditID:      creditID,
		Number:        number,
		Amount:        amount,
		DueDate:       due,
		Discount:      decimal.Zero,
		PrincipalPaid: decimal.Zero,
		Penalty:       decimal.Zero,
		State:         InstallmentPending,
	}
}

// InitialOutstanding is the principal a fresh credit starts with: the sum of
// scheduled amounts for fixed terms, the capital for open-ended.
func InitialOutstanding(c Credit, installments []Installment) decimal.Decimal {
	if c.IsOpenEnded() {
		return Round(c.Capital)
	}
	total := decimal.Zero
	for _, inst := range installments {
		total = Add(total, inst.Amount)
	}
	return total
}
