package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// CREDIT JSON
// =============================================================================
//
//   {
//     "borrower": "b-17",
//     "modality": "fixed-equal",
//     "capital": "800.00",
//     "rate": 25,
//     "cadence": "weekly",
//     "installments": 4,
//     "disbursed_on": "2024-01-02",
//     "committed_on": "2024-01-03"
//   }
//
// cadence and installments belong to the fixed modalities only. committed_on
// defaults to disbursed_on.
//
// rate is the only place a rate is ever normalized. "120%" is always a
// percent; a bare number above 1 is a percent and one at or below 1 is a
// fraction. Definitions produced by ToJSON always use the "%" form, so a
// stored rate of 1.2 reads back as 1.2 and never as 1.2%.

// CreditJSON is the JSON representation of a credit definition.
type CreditJSON struct {
	ID           string          `json:"id,omitempty"`
	Borrower     string          `json:"borrower"`
	Modality     string          `json:"modality"`
	Capital      decimal.Decimal `json:"capital"`
	Rate         Rate            `json:"rate"`
	Cadence      string          `json:"cadence,omitempty"`
	Installments int             `json:"installments,omitempty"`
	DisbursedOn  string          `json:"disbursed_on"`
	CommittedOn  string          `json:"committed_on,omitempty"`
}

// =============================================================================
// RATE
// =============================================================================

// Rate is a rate as written in a definition.
type Rate struct {
	Value   decimal.Decimal
	Percent bool // written with a "%" suffix
}

// FractionRate wraps a bare value; see Fraction for how it is read.
func FractionRate(v decimal.Decimal) Rate { return Rate{Value: v} }

// PercentRate writes a fraction as an explicit percent.
func PercentRate(fraction decimal.Decimal) Rate {
	return Rate{Value: fraction.Mul(decimal.NewFromInt(100)), Percent: true}
}

// Fraction returns the rate as a fraction.
func (r Rate) Fraction() decimal.Decimal {
	if r.Percent {
		return lending.RoundRate(r.Value.Div(decimal.NewFromInt(100)))
	}
	return lending.NormalizeRate(r.Value)
}

func (r Rate) String() string {
	if r.Percent {
		return r.Value.String() + "%"
	}
	return r.Value.String()
}

func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts a JSON number or a string, with an optional "%".
func (r *Rate) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*r = Rate{}
		return nil
	}
	raw := strings.TrimSpace(strings.Trim(string(data), `"`))
	percent := strings.HasSuffix(raw, "%")
	raw = strings.TrimSpace(strings.TrimSuffix(raw, "%"))
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return &lending.ValidationError{Field: "rate", Message: fmt.Sprintf("invalid rate %q", string(data))}
	}
	*r = Rate{Value: v, Percent: percent}
	return nil
}

// CreditFactory converts JSON credit definitions to lending.Credit.
type CreditFactory struct{}

func NewCreditFactory() *CreditFactory {
	return &CreditFactory{}
}

// ParseCredit parses a JSON string into a credit draft.
func (f *CreditFactory) ParseCredit(jsonStr string) (lending.Credit, error) {
	var cj CreditJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return lending.Credit{}, fmt.Errorf("failed to parse credit JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON builds the credit variant matching the modality. The result is a
// draft with a fractional rate: the servicing engine assigns state, schedule
// and outstanding.
func (f *CreditFactory) FromJSON(cj CreditJSON) (lending.Credit, error) {
	terms, err := parseTerms(cj)
	if err != nil {
		return lending.Credit{}, err
	}

	if cj.DisbursedOn == "" {
		return lending.Credit{}, &lending.ValidationError{Field: "disbursed_on", Message: "disbursement date is required"}
	}
	disbursed, err := lending.ParseDate(cj.DisbursedOn)
	if err != nil {
		return lending.Credit{}, &lending.ValidationError{Field: "disbursed_on", Message: err.Error()}
	}
	committed := disbursed
	if cj.CommittedOn != "" {
		committed, err = lending.ParseDate(cj.CommittedOn)
		if err != nil {
			return lending.Credit{}, &lending.ValidationError{Field: "committed_on", Message: err.Error()}
		}
	}

	credit := lending.Credit{
		ID:          lending.CreditID(cj.ID),
		Borrower:    cj.Borrower,
		Capital:     cj.Capital,
		Rate:        cj.Rate.Fraction(),
		Terms:       terms,
		DisbursedOn: disbursed,
		CommittedOn: committed,
	}
	if err := lending.ValidateCredit(credit); err != nil {
		return lending.Credit{}, err
	}
	return credit, nil
}

// ToJSON converts a credit to its JSON definition.
func (f *CreditFactory) ToJSON(c lending.Credit) CreditJSON {
	cj := CreditJSON{
		ID:          string(c.ID),
		Borrower:    c.Borrower,
		Modality:    string(c.Modality()),
		Capital:     c.Capital,
		Rate:        PercentRate(c.Rate),
		DisbursedOn: c.DisbursedOn.String(),
		CommittedOn: c.CommittedOn.String(),
	}
	if t, ok := c.Terms.(lending.FixedTerms); ok {
		cj.Cadence = string(t.Cadence)
		cj.Installments = t.Count
	}
	return cj
}

func parseTerms(cj CreditJSON) (lending.Terms, error) {
	switch lending.Modality(cj.Modality) {
	case lending.ModalityFixedEqual, lending.ModalityFixedProgressive:
		cadence, err := lending.ParseCadence(cj.Cadence)
		if err != nil {
			return nil, err
		}
		return lending.FixedTerms{
			Progressive: lending.Modality(cj.Modality) == lending.ModalityFixedProgressive,
			Cadence:     cadence,
			Count:       cj.Installments,
		}, nil

	case lending.ModalityOpenEnded:
		if cj.Cadence != "" || cj.Installments != 0 {
			return nil, &lending.ValidationError{Field: "modality", Message: "open-ended credits take no cadence or installment count"}
		}
		return lending.OpenTerms{}, nil

	case "":
		return nil, &lending.ValidationError{Field: "modality", Message: "modality is required"}
	default:
		return nil, &lending.ValidationError{Field: "modality", Message: fmt.Sprintf("unknown modality %q", cj.Modality)}
	}
}
