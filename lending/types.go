package lending

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CreditID string
type InstallmentID string
type PaymentID string
type ReceiptID string

func NewCreditID() CreditID           { return CreditID(uuid.NewString()) }
func NewInstallmentID() InstallmentID { return InstallmentID(uuid.NewString()) }
func NewPaymentID() PaymentID         { return PaymentID(uuid.NewString()) }
func NewReceiptID() ReceiptID         { return ReceiptID(uuid.NewString()) }

// =============================================================================
// MODALITY / CADENCE
// =============================================================================

type Modality string

const (
	ModalityFixedEqual       Modality = "fixed-equal"
	ModalityFixedProgressive Modality = "fixed-progressive"
	ModalityOpenEnded        Modality = "open-ended"
)

type Cadence string

const (
	CadenceWeekly   Cadence = "weekly"
	CadenceBiweekly Cadence = "biweekly"
	CadenceMonthly  Cadence = "monthly"
)

// ParseCadence validates a cadence name.
func ParseCadence(s string) (Cadence, error) {
	switch c := Cadence(s); c {
	case CadenceWeekly, CadenceBiweekly, CadenceMonthly:
		return c, nil
	default:
		return "", &ValidationError{Field: "cadence", Message: fmt.Sprintf("unknown cadence %q", s)}
	}
}

// Step moves d forward n cadence periods.
func (c Cadence) Step(d Date, n int) Date {
	switch c {
	case CadenceWeekly:
		return d.AddDays(7 * n)
	case CadenceBiweekly:
		return d.AddDays(14 * n)
	default:
		return d.AddMonths(n)
	}
}

// =============================================================================
// TERMS - modality-specific fields live only on the matching variant
// =============================================================================

// Terms is the closed set of credit variants: FixedTerms or OpenTerms.
type Terms interface {
	Modality() Modality
	isTerms()
}

// FixedTerms describes a credit repaid on a fixed installment schedule.
type FixedTerms struct {
	Progressive bool
	Cadence     Cadence
	Count       int
}

func (t FixedTerms) Modality() Modality {
	if t.Progressive {
		return ModalityFixedProgressive
	}
	return ModalityFixedEqual
}
func (FixedTerms) isTerms() {}

// OpenTerms describes an open-ended credit billed per monthly cycle.
type OpenTerms struct{}

func (OpenTerms) Modality() Modality { return ModalityOpenEnded }
func (OpenTerms) isTerms()           {}

// =============================================================================
// STATES
// =============================================================================

type CreditState string

const (
	CreditPending    CreditState = "pending"
	CreditOverdue    CreditState = "overdue"
	CreditPaid       CreditState = "paid"
	CreditRefinanced CreditState = "refinanced"
	CreditVoided     CreditState = "voided"
)

// Frozen reports whether the credit left the aggregation permanently.
func (s CreditState) Frozen() bool { return s == CreditRefinanced || s == CreditVoided }

type InstallmentState string

const (
	InstallmentPending    InstallmentState = "pending"
	InstallmentPartial    InstallmentState = "partial"
	InstallmentOverdue    InstallmentState = "overdue"
	InstallmentPaid       InstallmentState = "paid"
	InstallmentRefinanced InstallmentState = "refinanced"
	InstallmentVoided     InstallmentState = "voided"
)

// Terminal reports whether recompute may never touch the installment again.
func (s InstallmentState) Terminal() bool {
	return s == InstallmentPaid || s == InstallmentRefinanced || s == InstallmentVoided
}

// =============================================================================
// CREDIT
// =============================================================================

type Credit struct {
	ID       CreditID
	Borrower string

	Capital decimal.Decimal
	// Rate is always a normalized fraction. For fixed credits it is the flat
	// whole-term rate; for open-ended credits it is charged once per cycle.
	Rate  decimal.Decimal
	Terms Terms

	// DisbursedOn feeds the cash ledger; CommittedOn anchors due-date arithmetic.
	DisbursedOn Date
	CommittedOn Date

	Outstanding    decimal.Decimal
	State          CreditState
	RefinancedFrom *CreditID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Modality is a shortcut for Terms.Modality().
func (c Credit) Modality() Modality { return c.Terms.Modality() }

// IsOpenEnded reports whether the credit uses the cycle regime.
func (c Credit) IsOpenEnded() bool {
	_, ok := c.Terms.(OpenTerms)
	return ok
}

// =============================================================================
// INSTALLMENT
// =============================================================================

// DueDateRoll records a due date pushed forward by a payment landing on On.
type DueDateRoll struct {
	On   Date
	From Date
	To   Date
}

type Installment struct {
	ID       InstallmentID
	CreditID CreditID
	Number   int

	// Amount is the scheduled obligation. For open-ended credits it is
	// redefined on every recompute to the outstanding capital.
	Amount  decimal.Decimal
	DueDate Date
	Rolls   []DueDateRoll

	// Discount is the discount credited against Amount (principal side).
	Discount      decimal.Decimal
	PrincipalPaid decimal.Decimal
	// Penalty is the pending penalty as of the last recompute.
	Penalty decimal.Decimal
	State   InstallmentState

	UpdatedAt time.Time
}

// OriginalDueDate returns the due date before any roll.
func (i Installment) OriginalDueDate() Date {
	if len(i.Rolls) > 0 {
		return i.Rolls[0].From
	}
	return i.DueDate
}

// DueDateOn returns the due date in force on day d. A roll takes effect the
// day after the payment that caused it.
func (i Installment) DueDateOn(d Date) Date {
	due := i.OriginalDueDate()
	for _, r := range i.Rolls {
		if r.On.Before(d) {
			due = r.To
		}
	}
	return due
}

// =============================================================================
// PAYMENT - immutable once written
// =============================================================================

type PaymentKind string

const (
	PaymentRegular      PaymentKind = "payment"
	PaymentCancellation PaymentKind = "cancellation"
)

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
	MethodCard     PaymentMethod = "card"
	MethodDeposit  PaymentMethod = "deposit"
)

// ParseMethod validates a payment method.
func ParseMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case MethodCash, MethodTransfer, MethodCard, MethodDeposit:
		return m, nil
	default:
		return "", &ValidationError{Field: "method", Message: fmt.Sprintf("unknown payment method %q", s)}
	}
}

// CycleSplit is the slice of an open-ended payment attributed to one cycle.
type CycleSplit struct {
	Cycle            int
	Penalty          decimal.Decimal
	Interest         decimal.Decimal
	PenaltyDiscount  decimal.Decimal
	InterestDiscount decimal.Decimal
}

// PenaltyCredited returns cash plus discount credited to the cycle's penalty.
func (s CycleSplit) PenaltyCredited() decimal.Decimal { return Add(s.Penalty, s.PenaltyDiscount) }

// InterestCredited returns cash plus discount credited to the cycle's interest.
func (s CycleSplit) InterestCredited() decimal.Decimal { return Add(s.Interest, s.InterestDiscount) }

type Payment struct {
	ID            PaymentID
	CreditID      CreditID
	InstallmentID InstallmentID
	ReceiptID     ReceiptID
	Kind          PaymentKind

	Amount decimal.Decimal
	PaidOn Date
	Method PaymentMethod
	Note   string

	// Cash buckets. Penalty + Interest + Principal == Amount.
	Penalty   decimal.Decimal
	Interest  decimal.Decimal
	Principal decimal.Decimal

	// Discount buckets, credited against debt but not paid in cash.
	PenaltyDiscount   decimal.Decimal
	InterestDiscount  decimal.Decimal
	PrincipalDiscount decimal.Decimal

	// Cycles is empty for fixed credits and for legacy open-ended payments,
	// which are attributed to a cycle by date instead.
	Cycles []CycleSplit

	IdempotencyKey string
	ActorRole      Role
	CreatedAt      time.Time
}

// Discount returns the total discount the payment carried.
func (p Payment) Discount() decimal.Decimal {
	return Sum(p.PenaltyDiscount, p.InterestDiscount, p.PrincipalDiscount)
}

// Credited returns cash plus discount: what the payment removed from the debt.
func (p Payment) Credited() decimal.Decimal { return Add(p.Amount, p.Discount()) }

// PrincipalCredited returns the cash and discount that reduced principal.
func (p Payment) PrincipalCredited() decimal.Decimal {
	return Add(p.Principal, p.PrincipalDiscount)
}

// =============================================================================
// ALLOCATION / RECEIPT
// =============================================================================

// Allocation is the breakdown of one payment across the three buckets.
type Allocation struct {
	Penalty   decimal.Decimal
	Interest  decimal.Decimal
	Principal decimal.Decimal
	Discount  decimal.Decimal
}

// Total returns the cash allocated.
func (a Allocation) Total() decimal.Decimal { return Sum(a.Penalty, a.Interest, a.Principal) }

// Plus accumulates another allocation.
func (a Allocation) Plus(b Allocation) Allocation {
	return Allocation{
		Penalty:   Add(a.Penalty, b.Penalty),
		Interest:  Add(a.Interest, b.Interest),
		Principal: Add(a.Principal, b.Principal),
		Discount:  Add(a.Discount, b.Discount),
	}
}

// Receipt summarizes a payment or cancellation for rendering and the cash ledger.
type Receipt struct {
	ID         ReceiptID
	CreditID   CreditID
	Kind       PaymentKind
	Allocation Allocation
	Total      decimal.Decimal
	Method     PaymentMethod
	Note       string
	IssuedOn   Date
	PaymentIDs []PaymentID
}
