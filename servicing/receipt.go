package servicing

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Notifier receives receipts after their transaction committed. Failures
// are logged and never undo the payment.
type Notifier interface {
	ReceiptIssued(ctx context.Context, receipt lending.Receipt) error
}

// LogNotifier writes receipts to the structured log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) ReceiptIssued(_ context.Context, r lending.Receipt) error {
	n.Logger.Info("receipt issued",
		zap.String("receipt_id", string(r.ID)),
		zap.String("credit_id", string(r.CreditID)),
		zap.String("kind", string(r.Kind)),
		zap.String("total", r.Total.StringFixed(lending.Places)),
		zap.String("discount", r.Allocation.Discount.StringFixed(lending.Places)))
	return nil
}

func (s *Service) notify(ctx context.Context, r lending.Receipt) {
	if err := s.Notifier.ReceiptIssued(ctx, r); err != nil {
		s.Logger.Warn("receipt notification failed",
			zap.String("receipt_id", string(r.ID)),
			zap.Error(err))
	}
}

// =============================================================================
// RECEIPTS
// =============================================================================

// receiptFor builds the receipt summarizing payments written together.
func receiptFor(id lending.ReceiptID, payments []lending.Payment) lending.Receipt {
	r := lending.Receipt{ID: id}
	for _, p := range payments {
		r.CreditID = p.CreditID
		r.Kind = p.Kind
		r.Method = p.Method
		r.Note = p.Note
		r.IssuedOn = p.PaidOn
		r.PaymentIDs = append(r.PaymentIDs, p.ID)
		r.Allocation = r.Allocation.Plus(allocationOf(p))
	}
	r.Total = r.Allocation.Total()
	return r
}

func allocationOf(p lending.Payment) lending.Allocation {
	return lending.Allocation{
		Penalty:   p.Penalty,
		Interest:  p.Interest,
		Principal: p.Principal,
		Discount:  p.Discount(),
	}
}

