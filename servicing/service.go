/*
Package servicing is the loan servicing engine consumed by collaborators.

PURPOSE:
  Wires the regime calculators (fixed, openended) to persistence, the
  business clock and the notification collaborators. It is the only writer
  of credits, installments and payments.

OPERATIONS:
  CreateCredit / EditCredit / ListCredits   credit definition
  GetCreditSnapshot                         recompute-on-read
  ApplyPayment                              allocation + lifecycle
  CancelCredit / RefinanceCredit            payoff calculators
  VoidCredit                                freeze a credit without payments
  SweepOverdue                              periodic reclassification

ATOMICITY:
  Every mutation runs inside TxStore.WithTx. Balances are read inside the
  transaction, after the store has serialized writers, so two concurrent
  payments can never allocate against the same stale balance. All
  rejections (validation, permission, state conflict, overpayment) are
  raised before the first write; a failed transaction leaves nothing behind.

RECOMPUTE ON READ:
  A snapshot is a pure function of the stored credit, installments and the
  immutable payment history. Reading twice with no payment in between yields
  identical numbers. When the snapshot is taken for today, the recomputed
  penalty and state are cached back into the rows.

SEE ALSO:
  - fixed/, openended/: The calculators
  - lending/store.go: Persistence contract
  - api/handlers.go: HTTP surface
*/
package servicing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/credit-engine/fixed"
	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/openended"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store    lending.TxStore
	Policy   lending.Policy
	Clock    lending.Clock
	Notifier Notifier
	Logger   *zap.Logger

	fixed fixed.Calculator
	open  openended.Calculator
	now   func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

func WithClock(c lending.Clock) Option { return func(s *Service) { s.Clock = c } }
func WithNotifier(n Notifier) Option { return func(s *Service) { s.Notifier = n } }
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.Logger = l } }
func WithNow(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a service. Without options it uses a UTC business
// clock, a no-op logger and a notifier that only logs.
func NewService(store lending.TxStore, policy lending.Policy, opts ...Option) *Service {
	s := &Service{
		Store:  store,
		Policy: policy,
		Clock:  &lending.BusinessClock{Location: time.UTC},
		Logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Notifier == nil {
		s.Notifier = &LogNotifier{Logger: s.Logger}
	}
	s.fixed = fixed.NewCalculator(policy)
	s.open = openended.NewCalculator(policy)
	return s
}

// Today returns the business day used as the accrual reference.
func (s *Service) Today() lending.Date { return s.Clock.Today() }

// =============================================================================
// CREDIT DEFINITION
// =============================================================================

// CreateCredit validates a credit definition, generates its installments and
// stores both atomically. draft.Rate is a fraction; definitions coming from
// JSON are normalized by the factory.
func (s *Service) CreateCredit(ctx context.Context, draft lending.Credit) (lending.Credit, []lending.Installment, error) {
	credit, installments, err := s.prepare(draft)
	if err != nil {
		return lending.Credit{}, nil, err
	}
	now := s.now()
	credit.CreatedAt = now
	credit.UpdatedAt = now

	err = s.Store.WithTx(ctx, func(tx lending.Store) error {
		if err := tx.CreateCredit(ctx, credit); err != nil {
			return fmt.Errorf("failed to create credit: %w", err)
		}
		if err := tx.CreateInstallments(ctx, installments); err != nil {
			return fmt.Errorf("failed to create installments: %w", err)
		}
		return nil
	})
	if err != nil {
		return lending.Credit{}, nil, err
	}

	s.Logger.Info("credit created",
		zap.String("credit_id", string(credit.ID)),
		zap.String("modality", string(credit.Modality())),
		zap.String("capital", credit.Capital.StringFixed(lending.Places)),
		zap.Int("installments", len(installments)))
	return credit, installments, nil
}

// EditCredit replaces a credit's definition. Allowed only while no payment
// exists; the installments are deleted and regenerated in one transaction.
func (s *Service) EditCredit(ctx context.Context, id lending.CreditID, draft lending.Credit) (lending.Credit, []lending.Installment, error) {
	var (
		credit       lending.Credit
		installments []lending.Installment
	)
	err := s.Store.WithTx(ctx, func(tx lending.Store) error {
		current, err := tx.GetCredit(ctx, id)
		if err != nil {
			return err
		}
		if current.State.Frozen() {
			return creditFrozenError(current)
		}
		payments, err := tx.ListPayments(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list payments: %w", err)
		}
		if len(payments) > 0 {
			return &lending.StateConflictError{
				Code:    lending.ConflictCreditHasPayments,
				Message: fmt.Sprintf("credit %s has %d payment(s) and can no longer be edited", id, len(payments)),
			}
		}

		draft.ID = current.ID
		draft.RefinancedFrom = current.RefinancedFrom
		credit, installments, err = s.prepare(draft)
		if err != nil {
			return err
		}
		credit.CreatedAt = current.CreatedAt
		credit.UpdatedAt = s.now()

		if err := tx.DeleteInstallments(ctx, id); err != nil {
			return fmt.Errorf("failed to delete installments: %w", err)
		}
		if err := tx.CreateInstallments(ctx, installments); err != nil {
			return fmt.Errorf("failed to create installments: %w", err)
		}
		if err := tx.UpdateCredit(ctx, credit); err != nil {
			return fmt.Errorf("failed to update credit: %w", err)
		}
		return nil
	})
	if err != nil {
		return lending.Credit{}, nil, err
	}

	s.Logger.Info("credit edited", zap.String("credit_id", string(id)))
	return credit, installments, nil
}

// prepare turns a draft with a fractional rate into a pending credit with
// its fresh schedule.
func (s *Service) prepare(draft lending.Credit) (lending.Credit, []lending.Installment, error) {
	credit := draft
	if credit.ID == "" {
		credit.ID = lending.NewCreditID()
	}
	credit.Capital = lending.Round(credit.Capital)
	credit.State = lending.CreditPending

	installments, err := lending.GenerateSchedule(credit)
	if err != nil {
		return lending.Credit{}, nil, err
	}
	now := s.now()
	for i := range installments {
		installments[i].UpdatedAt = now
	}
	credit.Outstanding = lending.InitialOutstanding(credit, installments)
	return credit, installments, nil
}

// ListCredits returns stored credits matching filter, without recompute.
func (s *Service) ListCredits(ctx context.Context, filter lending.CreditFilter) ([]lending.Credit, error) {
	credits, err := s.Store.ListCredits(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list credits: %w", err)
	}
	return credits, nil
}

func creditFrozenError(c lending.Credit) error {
	if c.State == lending.CreditRefinanced {
		return &lending.StateConflictError{Code: lending.ConflictCreditRefinanced, Message: fmt.Sprintf("credit %s was refinanced", c.ID)}
	}
	return &lending.StateConflictError{Code: lending.ConflictCreditVoided, Message: fmt.Sprintf("credit %s is voided", c.ID)}
}
