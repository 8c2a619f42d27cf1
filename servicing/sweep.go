package servicing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/credit-engine/lending"
)

// SweepResult summarizes one overdue sweep.
type SweepResult struct {
	AsOf    lending.Date
	Checked int
	Changed int
	Failed  int
}

// SweepOverdue recomputes every pending or overdue credit as of today and
// persists the new penalties and states. A credit that fails is logged and
// skipped; the others are still swept.
func (s *Service) SweepOverdue(ctx context.Context) (SweepResult, error) {
	today := s.Today()
	credits, err := s.Store.ListCredits(ctx, lending.CreditFilter{
		States: []lending.CreditState{lending.CreditPending, lending.CreditOverdue},
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list credits: %w", err)
	}

	result := SweepResult{AsOf: today}
	for _, c := range credits {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		var snap Snapshot
		err := s.Store.WithTx(ctx, func(tx lending.Store) error {
			var err error
			snap, err = s.refresh(ctx, tx, c.ID, today)
			return err
		})
		if err != nil {
			result.Failed++
			s.Logger.Error("overdue sweep failed for credit",
				zap.String("credit_id", string(c.ID)),
				zap.Error(err))
			continue
		}
		if snap.Credit.State != c.State {
			result.Changed++
		}
	}

	s.Logger.Info("overdue sweep completed",
		zap.String("as_of", today.String()),
		zap.Int("checked", result.Checked),
		zap.Int("changed", result.Changed),
		zap.Int("failed", result.Failed))
	return result, nil
}
