/*
store.go - Persistence interface for credits, installments and payments

PURPOSE:
  Defines the interface between the servicing engine and the database.
  The engine treats persistence as an opaque repository; implementations
  can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:   CRUD over credits and installments, append-only payments
  TxStore: Atomic multi-table writes with rollback on error

APPEND-ONLY PAYMENTS:
  Payments are never updated or deleted. Corrections happen through the
  cancellation and refinancing calculators, never by mutating history.

ATOMICITY:
  Every mutating engine operation runs inside WithTx. Implementations must
  serialize writers for the duration of fn, so balances read inside fn cannot
  go stale before the allocation lands. A failed fn rolls back in full.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (immediate-lock transactions)
  - lending/store/memory.go: In-memory for testing

SEE ALSO:
  - servicing/service.go: The only writer
*/
package lending

import "context"

// CreditFilter narrows ListCredits. Empty fields match everything.
type CreditFilter struct {
	States   []CreditState
	Modality Modality
}

// Matches reports whether c passes the filter.
func (f CreditFilter) Matches(c Credit) bool {
	if f.Modality != "" && c.Modality() != f.Modality {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if c.State == s {
			return true
		}
	}
	return false
}

// Store handles persistence of the ledger records.
type Store interface {
	CreateCredit(ctx context.Context, c Credit) error
	// GetCredit returns ErrCreditNotFound when the id is unknown.
	GetCredit(ctx context.Context, id CreditID) (Credit, error)
	UpdateCredit(ctx context.Context, c Credit) error
	ListCredits(ctx context.Context, filter CreditFilter) ([]Credit, error)

	CreateInstallments(ctx context.Context, installments []Installment) error
	// GetInstallment returns ErrInstallmentNotFound when the id is unknown.
	GetInstallment(ctx context.Context, id InstallmentID) (Installment, error)
	// ListInstallments returns a credit's installments ordered by number.
	ListInstallments(ctx context.Context, creditID CreditID) ([]Installment, error)
	UpdateInstallments(ctx context.Context, installments []Installment) error
	// DeleteInstallments removes a credit's installments. Only used when a
	// credit without payments is edited and its schedule regenerated.
	DeleteInstallments(ctx context.Context, creditID CreditID) error

	// AppendPayments persists payments atomically. Returns
	// ErrDuplicateIdempotencyKey if a key already exists.
	AppendPayments(ctx context.Context, payments []Payment) error
	// ListPayments returns a credit's payments ordered by date, then creation.
	ListPayments(ctx context.Context, creditID CreditID) ([]Payment, error)
	// FindPaymentsByIdempotencyKey returns the payments written under key.
	FindPaymentsByIdempotencyKey(ctx context.Context, key string) ([]Payment, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
