/*
errors.go - Centralized error kinds for the servicing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every rejection is raised BEFORE any write. Once a write begins inside a
  transaction, only infrastructure failures may abort it.

ERROR CATEGORIES:
  1. ValidationError    - bad amount, missing date, invalid rate option
  2. PermissionError    - discount or manual rate requested by the wrong role
  3. StateConflictError - operation not allowed in the credit's current state;
                          carries a stable machine-readable Code
  4. OverpaymentError   - submitted amount exceeds what is payable
  5. Not found / idempotency sentinels

USAGE:
  var conflict *lending.StateConflictError
  if errors.As(err, &conflict) && conflict.Code == lending.ConflictCycleCapExceeded {
      // offer cancellation or refinancing
  }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package lending

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation    = errors.New("validation failed")
	ErrPermission    = errors.New("permission denied")
	ErrStateConflict = errors.New("state conflict")
	ErrOverpayment   = errors.New("payment exceeds payable amount")

	ErrCreditNotFound      = errors.New("credit not found")
	ErrInstallmentNotFound = errors.New("installment not found")

	// ErrDuplicateIdempotencyKey is returned by stores when a payment with the
	// same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type PermissionError struct {
	Role   Role
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: role %q may not %s", e.Role, e.Action)
}

func (e *PermissionError) Unwrap() error { return ErrPermission }

// ConflictCode is the stable identifier calling layers switch on.
type ConflictCode string

const (
	ConflictCreditRefinanced  ConflictCode = "credit_refinanced"
	ConflictCreditVoided      ConflictCode = "credit_voided"
	ConflictCreditPaid        ConflictCode = "credit_paid"
	ConflictInstallmentClosed ConflictCode = "installment_closed"
	ConflictCycleCapExceeded  ConflictCode = "cycle_cap_exceeded"
	ConflictCreditHasPayments ConflictCode = "credit_has_payments"
	ConflictNothingToPay      ConflictCode = "nothing_to_pay"
)

type StateConflictError struct {
	Code    ConflictCode
	Message string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict [%s]: %s", e.Code, e.Message)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

type OverpaymentError struct {
	Submitted decimal.Decimal
	Payable   decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("overpayment: submitted %s, payable %s",
		e.Submitted.StringFixed(Places), e.Payable.StringFixed(Places))
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// creditClosedError explains why a frozen or settled credit rejects an operation.
func creditClosedError(c Credit) error {
	switch c.State {
	case CreditRefinanced:
		return &StateConflictError{Code: ConflictCreditRefinanced, Message: fmt.Sprintf("credit %s was refinanced", c.ID)}
	case CreditVoided:
		return &StateConflictError{Code: ConflictCreditVoided, Message: fmt.Sprintf("credit %s is voided", c.ID)}
	case CreditPaid:
		return &StateConflictError{Code: ConflictCreditPaid, Message: fmt.Sprintf("credit %s is already paid", c.ID)}
	}
	return nil
}

// EnsurePayable rejects payments and payoffs on credits that are closed.
func EnsurePayable(c Credit) error { return creditClosedError(c) }

// IsClientError returns true if the error is due to the caller's input or
// the credit's state rather than infrastructure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPermission) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrOverpayment)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCreditNotFound) || errors.Is(err, ErrInstallmentNotFound)
}

// ConflictCodeOf extracts the conflict code, or "" when err is not a conflict.
func ConflictCodeOf(err error) ConflictCode {
	var conflict *StateConflictError
	if errors.As(err, &conflict) {
		return conflict.Code
	}
	return ""
}
