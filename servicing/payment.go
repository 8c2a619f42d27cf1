package servicing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// APPLY PAYMENT
// =============================================================================

// PaymentRequest is a payment against one installment, dated today.
type PaymentRequest struct {
	InstallmentID lending.InstallmentID
	// Amount is required for fixed credits. For open-ended credits a nil
	// amount pays exactly the oldest open cycle.
	Amount   *decimal.Decimal
	Discount *lending.DiscountSpec
	Method   lending.PaymentMethod
	Note     string

	ActorRole      lending.Role
	IdempotencyKey string
}

// PaymentResult describes an applied payment.
type PaymentResult struct {
	Payment     lending.Payment
	Allocation  lending.Allocation
	Cycles      []lending.CycleSplit
	Roll        *lending.DueDateRoll
	Installment lending.Installment
	CreditState lending.CreditState
	Receipt     lending.Receipt
	// Replayed is set when the idempotency key matched an earlier payment
	// and nothing new was written.
	Replayed bool
}

// ApplyPayment allocates a payment, persists it with the recomputed
// installment and credit, and issues a receipt.
//
// Flow:
//  1. Validate method, discount permission and amount sign
//  2. Replay when the idempotency key was already used
//  3. Inside one transaction: load, allocate, append, recompute, persist
//  4. Notify collaborators after commit (best-effort)
func (s *Service) ApplyPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	// 1. Reject before any read of balances
	method, err := lending.ParseMethod(string(req.Method))
	if err != nil {
		return PaymentResult{}, err
	}
	discount, err := s.Policy.Discount(withRole(req.Discount, req.ActorRole))
	if err != nil {
		return PaymentResult{}, err
	}
	if req.Amount != nil && !req.Amount.IsPositive() {
		return PaymentResult{}, &lending.ValidationError{Field: "amount", Message: "amount must be positive"}
	}

	// 2. Idempotent replay
	if req.IdempotencyKey != "" {
		if res, ok, err := s.replay(ctx, s.Store, req.IdempotencyKey); err != nil || ok {
			return res, err
		}
	}

	today := s.Today()
	var result PaymentResult

	// 3. Atomic allocation
	err = s.Store.WithTx(ctx, func(tx lending.Store) error {
		if req.IdempotencyKey != "" {
			res, ok, err := s.replay(ctx, tx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				result = res
				return nil
			}
		}

		inst, err := tx.GetInstallment(ctx, req.InstallmentID)
		if err != nil {
			return err
		}
		credit, insts, payments, err := s.load(ctx, tx, inst.CreditID)
		if err != nil {
			return err
		}
		if err := lending.EnsurePayable(credit); err != nil {
			return err
		}
		stored := append([]lending.Installment(nil), insts...)

		payment := lending.Payment{
			ID:             lending.NewPaymentID(),
			CreditID:       credit.ID,
			InstallmentID:  inst.ID,
			ReceiptID:      lending.NewReceiptID(),
			Kind:           lending.PaymentRegular,
			PaidOn:         today,
			Method:         method,
			Note:           req.Note,
			IdempotencyKey: req.IdempotencyKey,
			ActorRole:      req.ActorRole,
			CreatedAt:      s.now(),
		}

		switch credit.Terms.(type) {
		case lending.OpenTerms:
			plan, err := s.open.Allocate(credit, payments, req.Amount, discount, today)
			if err != nil {
				return err
			}
			payment.Penalty = plan.Allocation.Penalty
			payment.Interest = plan.Allocation.Interest
			payment.Principal = plan.Allocation.Principal
			payment.PenaltyDiscount = plan.Allocation.Discount
			payment.InterestDiscount = decimal.Zero
			payment.PrincipalDiscount = decimal.Zero
			payment.Cycles = plan.Splits
			result.Cycles = plan.Splits

		default:
			if req.Amount == nil {
				return &lending.ValidationError{Field: "amount", Message: "amount is required for fixed-schedule credits"}
			}
			plan, err := s.fixed.Allocate(credit, inst, payments, *req.Amount, discount, today)
			if err != nil {
				return err
			}
			payment.Penalty = plan.Allocation.Penalty
			payment.Interest = decimal.Zero
			payment.Principal = plan.Allocation.Principal
			payment.PenaltyDiscount = plan.PenaltyDiscount
			payment.InterestDiscount = decimal.Zero
			payment.PrincipalDiscount = plan.PrincipalDiscount
			if plan.Roll != nil {
				result.Roll = plan.Roll
				for i := range insts {
					if insts[i].ID == inst.ID {
						insts[i].Rolls = append(insts[i].Rolls, *plan.Roll)
					}
				}
			}
		}
		payment.Amount = lending.Sum(payment.Penalty, payment.Interest, payment.Principal)

		if err := tx.AppendPayments(ctx, []lending.Payment{payment}); err != nil {
			return fmt.Errorf("failed to append payment: %w", err)
		}

		snap := s.evaluate(credit, insts, append(payments, payment), today)
		if err := s.persist(ctx, tx, credit, stored, snap); err != nil {
			return err
		}

		result.Payment = payment
		result.Allocation = allocationOf(payment)
		result.Receipt = receiptFor(payment.ReceiptID, []lending.Payment{payment})
		result.CreditState = snap.Credit.State
		for _, v := range snap.Installments {
			if v.ID == inst.ID {
				result.Installment = v.Installment
			}
		}
		return nil
	})
	if errors.Is(err, lending.ErrDuplicateIdempotencyKey) {
		// Lost a race with a concurrent request carrying the same key.
		return s.replayOrFail(ctx, req.IdempotencyKey, err)
	}
	if err != nil {
		return PaymentResult{}, err
	}
	if result.Replayed {
		return result, nil
	}

	s.Logger.Info("payment applied",
		zap.String("credit_id", string(result.Payment.CreditID)),
		zap.String("installment_id", string(result.Payment.InstallmentID)),
		zap.String("amount", result.Payment.Amount.StringFixed(lending.Places)),
		zap.String("discount", result.Allocation.Discount.StringFixed(lending.Places)),
		zap.Bool("rolled", result.Roll != nil),
		zap.String("credit_state", string(result.CreditState)))

	// 4. Best-effort notification
	s.notify(ctx, result.Receipt)
	return result, nil
}

func withRole(spec *lending.DiscountSpec, role lending.Role) *lending.DiscountSpec {
	if spec == nil {
		return nil
	}
	out := *spec
	if role != "" {
		out.Role = role
	}
	return &out
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

// replay rebuilds the result of a payment already written under key.
func (s *Service) replay(ctx context.Context, st lending.Store, key string) (PaymentResult, bool, error) {
	payments, err := st.FindPaymentsByIdempotencyKey(ctx, key)
	if err != nil {
		return PaymentResult{}, false, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	if len(payments) == 0 {
		return PaymentResult{}, false, nil
	}

	first := payments[0]
	if first.Kind != lending.PaymentRegular {
		return PaymentResult{}, false, &lending.ValidationError{
			Field:   "idempotency_key",
			Message: fmt.Sprintf("key %q was already used by a %s", key, first.Kind),
		}
	}
	inst, err := st.GetInstallment(ctx, first.InstallmentID)
	if err != nil {
		return PaymentResult{}, false, err
	}
	credit, err := st.GetCredit(ctx, first.CreditID)
	if err != nil {
		return PaymentResult{}, false, err
	}

	var roll *lending.DueDateRoll
	for _, r := range inst.Rolls {
		if r.On.Equal(first.PaidOn) {
			r := r
			roll = &r
		}
	}

	s.Logger.Info("payment replayed", zap.String("idempotency_key", key), zap.String("payment_id", string(first.ID)))
	return PaymentResult{
		Payment:     first,
		Allocation:  allocationOf(first),
		Cycles:      first.Cycles,
		Roll:        roll,
		Installment: inst,
		CreditState: credit.State,
		Receipt:     receiptFor(first.ReceiptID, payments),
		Replayed:    true,
	}, true, nil
}

func (s *Service) replayOrFail(ctx context.Context, key string, cause error) (PaymentResult, error) {
	res, ok, err := s.replay(ctx, s.Store, key)
	if err != nil {
		return PaymentResult{}, err
	}
	if !ok {
		return PaymentResult{}, cause
	}
	return res, nil
}
