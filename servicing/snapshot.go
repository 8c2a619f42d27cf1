package servicing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/credit-engine/fixed"
	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/openended"
)

// =============================================================================
// SNAPSHOT TYPES
// =============================================================================

// InstallmentView is an installment with its recomputed debt.
type InstallmentView struct {
	lending.Installment
	PrincipalPending decimal.Decimal
	PenaltyOwed      decimal.Decimal
	DaysLate         int
}

// Snapshot is the servicing view of one credit as of a reference date.
type Snapshot struct {
	Credit       lending.Credit
	AsOf         lending.Date
	Installments []InstallmentView

	OutstandingPrincipal decimal.Decimal
	PendingInterest      decimal.Decimal
	PendingPenalty       decimal.Decimal

	// Open-ended credits only.
	Cycles       []openended.Cycle
	CurrentCycle int
	CapExceeded  bool
}

// TotalOwed returns principal plus interest plus penalty owed as of AsOf.
func (s Snapshot) TotalOwed() decimal.Decimal {
	return lending.Sum(s.OutstandingPrincipal, s.PendingInterest, s.PendingPenalty)
}

// State is the aggregated credit state.
func (s Snapshot) State() lending.CreditState { return s.Credit.State }

// =============================================================================
// RECOMPUTE
// =============================================================================

// evaluate recomputes a credit and its installments as of asOf. It is pure:
// the same records and date always yield the same snapshot.
func (s *Service) evaluate(credit lending.Credit, insts []lending.Installment, payments []lending.Payment, asOf lending.Date) Snapshot {
	snap := Snapshot{
		AsOf:                 asOf,
		OutstandingPrincipal: decimal.Zero,
		PendingInterest:      decimal.Zero,
		PendingPenalty:       decimal.Zero,
	}
	refreshed := make([]lending.Installment, 0, len(insts))

	switch credit.Terms.(type) {
	case lending.OpenTerms:
		st := s.open.Accrue(credit, payments, asOf)
		for _, inst := range insts {
			updated, _ := s.open.Refresh(credit, inst, payments, asOf)
			refreshed = append(refreshed, updated)
			snap.Installments = append(snap.Installments, InstallmentView{
				Installment:      updated,
				PrincipalPending: st.OutstandingCapital,
				PenaltyOwed:      st.PenaltyPending,
				DaysLate:         maxDaysLate(st.Cycles),
			})
		}
		snap.Cycles = st.Cycles
		snap.CurrentCycle = st.Current
		snap.CapExceeded = st.CapExceeded
		snap.OutstandingPrincipal = st.OutstandingCapital
		snap.PendingInterest = st.InterestPending
		snap.PendingPenalty = st.PenaltyPending

	default:
		for _, inst := range insts {
			updated, acc := s.fixed.Refresh(inst, payments, asOf)
			refreshed = append(refreshed, updated)
			pending := fixed.PrincipalPending(updated)
			if updated.State == lending.InstallmentRefinanced || updated.State == lending.InstallmentVoided {
				pending = decimal.Zero
			}
			snap.Installments = append(snap.Installments, InstallmentView{
				Installment:      updated,
				PrincipalPending: pending,
				PenaltyOwed:      acc.PenaltyOwed,
				DaysLate:         acc.DaysLate,
			})
			snap.OutstandingPrincipal = lending.Add(snap.OutstandingPrincipal, pending)
			snap.PendingPenalty = lending.Add(snap.PendingPenalty, acc.PenaltyOwed)
		}
	}

	if credit.State.Frozen() {
		snap.OutstandingPrincipal = decimal.Zero
		snap.PendingInterest = decimal.Zero
		snap.PendingPenalty = decimal.Zero
	} else {
		credit.Outstanding = snap.OutstandingPrincipal
		credit.State = lending.AggregateCreditState(credit.State, refreshed)
	}
	snap.Credit = credit
	return snap
}

func maxDaysLate(cycles []openended.Cycle) int {
	days := 0
	for _, c := range cycles {
		if c.DaysLate > days {
			days = c.DaysLate
		}
	}
	return days
}

// =============================================================================
// SNAPSHOT OPERATION
// =============================================================================

// GetCreditSnapshot returns the credit's debt as of asOf (today when nil).
// The recompute itself reads without a transaction. When asOf is today and
// a cached penalty or state moved, it is redone and persisted under the
// writer lock.
func (s *Service) GetCreditSnapshot(ctx context.Context, id lending.CreditID, asOf *lending.Date) (Snapshot, error) {
	today := s.Today()
	day := today
	if asOf != nil {
		day = *asOf
	}

	credit, insts, payments, err := s.load(ctx, s.Store, id)
	if err != nil {
		return Snapshot{}, err
	}
	snap := s.evaluate(credit, insts, payments, day)
	if !day.Equal(today) {
		return snap, nil
	}
	if changed, creditMoved := s.changes(credit, insts, snap); len(changed) == 0 && !creditMoved {
		return snap, nil
	}

	err = s.Store.WithTx(ctx, func(tx lending.Store) error {
		var err error
		snap, err = s.refresh(ctx, tx, id, day)
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// load reads everything a recompute needs.
func (s *Service) load(ctx context.Context, st lending.Store, id lending.CreditID) (lending.Credit, []lending.Installment, []lending.Payment, error) {
	credit, err := st.GetCredit(ctx, id)
	if err != nil {
		return lending.Credit{}, nil, nil, err
	}
	insts, err := st.ListInstallments(ctx, id)
	if err != nil {
		return lending.Credit{}, nil, nil, fmt.Errorf("failed to list installments: %w", err)
	}
	payments, err := st.ListPayments(ctx, id)
	if err != nil {
		return lending.Credit{}, nil, nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return credit, insts, payments, nil
}

// refresh recomputes a credit inside tx and writes back whatever changed.
func (s *Service) refresh(ctx context.Context, tx lending.Store, id lending.CreditID, asOf lending.Date) (Snapshot, error) {
	credit, insts, payments, err := s.load(ctx, tx, id)
	if err != nil {
		return Snapshot{}, err
	}
	snap := s.evaluate(credit, insts, payments, asOf)
	if err := s.persist(ctx, tx, credit, insts, snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// persist writes the installments and credit whose cached fields moved.
func (s *Service) persist(ctx context.Context, tx lending.Store, before lending.Credit, insts []lending.Installment, snap Snapshot) error {
	now := s.now()

	changed, creditMoved := s.changes(before, insts, snap)
	if len(changed) > 0 {
		for i := range changed {
			changed[i].UpdatedAt = now
		}
		if err := tx.UpdateInstallments(ctx, changed); err != nil {
			return fmt.Errorf("failed to update installments: %w", err)
		}
	}

	after := snap.Credit
	if creditMoved {
		after.UpdatedAt = now
		if err := tx.UpdateCredit(ctx, after); err != nil {
			return fmt.Errorf("failed to update credit: %w", err)
		}
		if after.State != before.State {
			s.Logger.Info("credit state changed",
				zap.String("credit_id", string(after.ID)),
				zap.String("from", string(before.State)),
				zap.String("to", string(after.State)))
		}
	}
	return nil
}

// changes lists the recomputed installments whose cached fields differ from
// the stored ones, and whether the credit's own cache moved.
func (s *Service) changes(before lending.Credit, insts []lending.Installment, snap Snapshot) ([]lending.Installment, bool) {
	var changed []lending.Installment
	for i, view := range snap.Installments {
		if installmentChanged(insts[i], view.Installment) {
			changed = append(changed, view.Installment)
		}
	}
	after := snap.Credit
	return changed, after.State != before.State || !after.Outstanding.Equal(before.Outstanding)
}

func installmentChanged(a, b lending.Installment) bool {
	return a.State != b.State ||
		!a.Amount.Equal(b.Amount) ||
		!a.DueDate.Equal(b.DueDate) ||
		!a.Penalty.Equal(b.Penalty) ||
		!a.PrincipalPaid.Equal(b.PrincipalPaid) ||
		!a.Discount.Equal(b.Discount) ||
		len(a.Rolls) != len(b.Rolls)
}
