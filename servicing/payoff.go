package servicing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// CANCELLATION
// =============================================================================

type CancelRequest struct {
	CreditID       lending.CreditID
	Discount       *lending.DiscountSpec
	Method         lending.PaymentMethod
	Note           string
	ActorRole      lending.Role
	IdempotencyKey string
}

// CancelResult describes a full payoff.
type CancelResult struct {
	// Debt is what was owed before discount; Allocation is the cash per
	// bucket plus the total discount.
	Debt       lending.Allocation
	Allocation lending.Allocation
	Net        decimal.Decimal
	Payments   []lending.Payment
	Receipt    lending.Receipt
	Credit     lending.Credit
	Replayed   bool
}

// QuoteCancellation computes the payoff of a credit as of today without
// writing anything.
func (s *Service) QuoteCancellation(ctx context.Context, id lending.CreditID, spec *lending.DiscountSpec, role lending.Role) (CancelResult, error) {
	discount, err := s.Policy.Discount(withRole(spec, role))
	if err != nil {
		return CancelResult{}, err
	}
	credit, insts, payments, err := s.load(ctx, s.Store, id)
	if err != nil {
		return CancelResult{}, err
	}
	if err := lending.EnsurePayable(credit); err != nil {
		return CancelResult{}, err
	}
	res, _, err := s.cancellationPayments(credit, insts, payments, discount, CancelRequest{}, s.Today())
	return res, err
}

// CancelCredit pays off every open obligation of a credit in one go. Fixed
// credits get one payment row per settled installment; open-ended credits
// get one row carrying the per-cycle splits. All rows share one receipt.
func (s *Service) CancelCredit(ctx context.Context, req CancelRequest) (CancelResult, error) {
	method, err := lending.ParseMethod(string(req.Method))
	if err != nil {
		return CancelResult{}, err
	}
	req.Method = method
	discount, err := s.Policy.Discount(withRole(req.Discount, req.ActorRole))
	if err != nil {
		return CancelResult{}, err
	}

	today := s.Today()
	var result CancelResult

	err = s.Store.WithTx(ctx, func(tx lending.Store) error {
		if req.IdempotencyKey != "" {
			existing, err := tx.FindPaymentsByIdempotencyKey(ctx, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("failed to look up idempotency key: %w", err)
			}
			if len(existing) > 0 {
				return s.replayCancellation(ctx, tx, req.IdempotencyKey, existing, &result)
			}
		}

		credit, insts, payments, err := s.load(ctx, tx, req.CreditID)
		if err != nil {
			return err
		}
		if err := lending.EnsurePayable(credit); err != nil {
			return err
		}
		stored := append([]lending.Installment(nil), insts...)

		res, rows, err := s.cancellationPayments(credit, insts, payments, discount, req, today)
		if err != nil {
			return err
		}
		if err := tx.AppendPayments(ctx, rows); err != nil {
			return fmt.Errorf("failed to append cancellation: %w", err)
		}

		snap := s.evaluate(credit, insts, append(payments, rows...), today)
		if err := s.persist(ctx, tx, credit, stored, snap); err != nil {
			return err
		}
		res.Credit = snap.Credit
		result = res
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	if result.Replayed {
		return result, nil
	}

	s.Logger.Info("credit cancelled",
		zap.String("credit_id", string(req.CreditID)),
		zap.String("net", result.Net.StringFixed(lending.Places)),
		zap.String("discount", result.Allocation.Discount.StringFixed(lending.Places)),
		zap.Int("payments", len(result.Payments)))

	s.notify(ctx, result.Receipt)
	return result, nil
}

// cancellationPayments runs the regime's payoff calculator and turns it into
// payment rows sharing one receipt.
func (s *Service) cancellationPayments(credit lending.Credit, insts []lending.Installment, payments []lending.Payment, discount lending.Discount, req CancelRequest, today lending.Date) (CancelResult, []lending.Payment, error) {
	receiptID := lending.NewReceiptID()
	now := s.now()
	row := func(instID lending.InstallmentID) lending.Payment {
		return lending.Payment{
			ID:                lending.NewPaymentID(),
			CreditID:          credit.ID,
			InstallmentID:     instID,
			ReceiptID:         receiptID,
			Kind:              lending.PaymentCancellation,
			PaidOn:            today,
			Method:            req.Method,
			Note:              req.Note,
			IdempotencyKey:    req.IdempotencyKey,
			ActorRole:         req.ActorRole,
			CreatedAt:         now,
			Interest:          decimal.Zero,
			InterestDiscount:  decimal.Zero,
			PenaltyDiscount:   decimal.Zero,
			PrincipalDiscount: decimal.Zero,
		}
	}

	var (
		res  CancelResult
		rows []lending.Payment
	)
	switch credit.Terms.(type) {
	case lending.OpenTerms:
		if len(insts) == 0 {
			return CancelResult{}, nil, fmt.Errorf("credit %s has no installment", credit.ID)
		}
		payoff, err := s.open.Cancellation(credit, payments, today, discount)
		if err != nil {
			return CancelResult{}, nil, err
		}
		p := row(insts[0].ID)
		p.Penalty = payoff.Allocation.Penalty
		p.Interest = payoff.Allocation.Interest
		p.Principal = payoff.Allocation.Principal
		p.PenaltyDiscount = payoff.PenaltyDiscount
		p.InterestDiscount = payoff.InterestDiscount
		p.PrincipalDiscount = payoff.PrincipalDiscount
		p.Cycles = payoff.Splits
		p.Amount = payoff.Net()
		rows = append(rows, p)
		res.Debt = payoff.Debt
		res.Allocation = payoff.Allocation
		res.Net = payoff.Net()

	default:
		payoff, err := s.fixed.Cancellation(insts, payments, today, discount)
		if err != nil {
			return CancelResult{}, nil, err
		}
		for _, line := range payoff.Lines {
			p := row(line.Installment.ID)
			p.Penalty = line.Allocation.Penalty
			p.Principal = line.Allocation.Principal
			p.PenaltyDiscount = line.PenaltyDiscount
			p.PrincipalDiscount = line.PrincipalDiscount
			p.Amount = line.Allocation.Total()
			rows = append(rows, p)
		}
		res.Debt = payoff.Debt
		res.Allocation = payoff.Allocation
		res.Net = payoff.Net()
	}

	res.Payments = rows
	res.Receipt = receiptFor(receiptID, rows)
	res.Credit = credit
	return res, rows, nil
}

func (s *Service) replayCancellation(ctx context.Context, tx lending.Store, key string, existing []lending.Payment, out *CancelResult) error {
	first := existing[0]
	if first.Kind != lending.PaymentCancellation {
		return &lending.ValidationError{
			Field:   "idempotency_key",
			Message: fmt.Sprintf("key %q was already used by a %s", key, first.Kind),
		}
	}
	credit, err := tx.GetCredit(ctx, first.CreditID)
	if err != nil {
		return err
	}
	receipt := receiptFor(first.ReceiptID, existing)
	*out = CancelResult{
		Allocation: receipt.Allocation,
		Net:        receipt.Total,
		Payments:   existing,
		Receipt:    receipt,
		Credit:     credit,
		Replayed:   true,
	}
	return nil
}

// =============================================================================
// REFINANCING
// =============================================================================

type RefinanceRequest struct {
	CreditID   lending.CreditID
	RateOption lending.RateOption
	// ManualRate is a monthly rate, used only with the manual option.
	ManualRate decimal.Decimal
	Cadence    lending.Cadence
	Count      int
	ActorRole  lending.Role
}

// RefinanceResult describes the replacement of a credit.
type RefinanceResult struct {
	Original     lending.Credit
	Credit       lending.Credit
	Installments []lending.Installment

	// Base is the debt carried over; NewTotal = Base x (1 + PeriodRate x Count).
	Base       decimal.Decimal
	PeriodRate decimal.Decimal
	NewTotal   decimal.Decimal
}

// RefinanceCredit replaces a credit with a new fixed-equal credit whose
// capital is the carried-over debt. The original is frozen as refinanced in
// the same transaction.
func (s *Service) RefinanceCredit(ctx context.Context, req RefinanceRequest) (RefinanceResult, error) {
	cadence, err := lending.ParseCadence(string(req.Cadence))
	if err != nil {
		return RefinanceResult{}, err
	}
	if req.Count < 1 {
		return RefinanceResult{}, &lending.ValidationError{Field: "installments", Message: "at least one installment is required"}
	}
	monthly, err := s.Policy.RefinanceRate(req.RateOption, req.ManualRate, req.ActorRole)
	if err != nil {
		return RefinanceResult{}, err
	}
	periodRate := lending.PeriodRate(monthly, cadence)
	termRate := lending.RoundRate(periodRate.Mul(decimal.NewFromInt(int64(req.Count))))

	today := s.Today()
	var result RefinanceResult

	err = s.Store.WithTx(ctx, func(tx lending.Store) error {
		original, insts, payments, err := s.load(ctx, tx, req.CreditID)
		if err != nil {
			return err
		}
		if err := lending.EnsurePayable(original); err != nil {
			return err
		}

		var base decimal.Decimal
		if original.IsOpenEnded() {
			base = s.open.RefinanceBase(original, payments, today)
		} else {
			base = s.fixed.RefinanceBase(insts, payments, today)
		}
		if !base.IsPositive() {
			return &lending.StateConflictError{Code: lending.ConflictNothingToPay, Message: fmt.Sprintf("credit %s has nothing to refinance", original.ID)}
		}

		from := original.ID
		credit, schedule, err := s.prepare(lending.Credit{
			Borrower:       original.Borrower,
			Capital:        base,
			Rate:           termRate,
			Terms:          lending.FixedTerms{Cadence: cadence, Count: req.Count},
			DisbursedOn:    today,
			CommittedOn:    today,
			RefinancedFrom: &from,
		})
		if err != nil {
			return err
		}
		now := s.now()
		credit.CreatedAt = now
		credit.UpdatedAt = now

		if err := tx.CreateCredit(ctx, credit); err != nil {
			return fmt.Errorf("failed to create refinanced credit: %w", err)
		}
		if err := tx.CreateInstallments(ctx, schedule); err != nil {
			return fmt.Errorf("failed to create installments: %w", err)
		}

		frozen := lending.FreezeInstallments(insts, lending.InstallmentRefinanced)
		for i := range frozen {
			frozen[i].UpdatedAt = now
		}
		if len(frozen) > 0 {
			if err := tx.UpdateInstallments(ctx, frozen); err != nil {
				return fmt.Errorf("failed to freeze installments: %w", err)
			}
		}
		original.State = lending.CreditRefinanced
		original.Outstanding = decimal.Zero
		original.UpdatedAt = now
		if err := tx.UpdateCredit(ctx, original); err != nil {
			return fmt.Errorf("failed to update original credit: %w", err)
		}

		result = RefinanceResult{
			Original:     original,
			Credit:       credit,
			Installments: schedule,
			Base:         base,
			PeriodRate:   periodRate,
			NewTotal:     credit.Outstanding,
		}
		return nil
	})
	if err != nil {
		return RefinanceResult{}, err
	}

	s.Logger.Info("credit refinanced",
		zap.String("credit_id", string(result.Original.ID)),
		zap.String("new_credit_id", string(result.Credit.ID)),
		zap.String("base", result.Base.StringFixed(lending.Places)),
		zap.String("new_total", result.NewTotal.StringFixed(lending.Places)))
	return result, nil
}

// =============================================================================
// VOID
// =============================================================================

// VoidCredit freezes a credit that never received a payment.
func (s *Service) VoidCredit(ctx context.Context, id lending.CreditID) (lending.Credit, error) {
	var credit lending.Credit
	err := s.Store.WithTx(ctx, func(tx lending.Store) error {
		current, insts, payments, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.State.Frozen() {
			return creditFrozenError(current)
		}
		if len(payments) > 0 {
			return &lending.StateConflictError{
				Code:    lending.ConflictCreditHasPayments,
				Message: fmt.Sprintf("credit %s has payments; cancel or refinance it instead", id),
			}
		}

		now := s.now()
		frozen := lending.FreezeInstallments(insts, lending.InstallmentVoided)
		for i := range frozen {
			frozen[i].UpdatedAt = now
		}
		if len(frozen) > 0 {
			if err := tx.UpdateInstallments(ctx, frozen); err != nil {
				return fmt.Errorf("failed to void installments: %w", err)
			}
		}
		current.State = lending.CreditVoided
		current.Outstanding = decimal.Zero
		current.UpdatedAt = now
		if err := tx.UpdateCredit(ctx, current); err != nil {
			return fmt.Errorf("failed to update credit: %w", err)
		}
		credit = current
		return nil
	})
	if err != nil {
		return lending.Credit{}, err
	}
	s.Logger.Info("credit voided", zap.String("credit_id", string(id)))
	return credit, nil
}
