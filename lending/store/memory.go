// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	credits      map[lending.CreditID]lending.Credit
	installments map[lending.InstallmentID]lending.Installment
	payments     map[lending.CreditID][]lending.Payment
	idempotency  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		credits:      make(map[lending.CreditID]lending.Credit),
		installments: make(map[lending.InstallmentID]lending.Installment),
		payments:     make(map[lending.CreditID][]lending.Payment),
		idempotency:  make(map[string]bool),
	}
}

func (m *Memory) CreateCredit(_ context.Context, c lending.Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCreditLocked(c)
}

func (m *Memory) GetCredit(_ context.Context, id lending.CreditID) (lending.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCreditLocked(id)
}

func (m *Memory) UpdateCredit(_ context.Context, c lending.Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCreditLocked(c)
}

func (m *Memory) ListCredits(_ context.Context, filter lending.CreditFilter) ([]lending.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCreditsLocked(filter), nil
}

func (m *Memory) CreateInstallments(_ context.Context, installments []lending.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putInstallmentsLocked(installments)
	return nil
}

func (m *Memory) GetInstallment(_ context.Context, id lending.InstallmentID) (lending.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInstallmentLocked(id)
}

func (m *Memory) ListInstallments(_ context.Context, creditID lending.CreditID) ([]lending.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listInstallmentsLocked(creditID), nil
}

func (m *Memory) UpdateInstallments(_ context.Context, installments []lending.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateInstallmentsLocked(installments)
}

func (m *Memory) DeleteInstallments(_ context.Context, creditID lending.CreditID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteInstallmentsLocked(creditID)
	return nil
}

func (m *Memory) AppendPayments(_ context.Context, payments []lending.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendPaymentsLocked(payments)
}

func (m *Memory) ListPayments(_ context.Context, creditID lending.CreditID) ([]lending.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsLocked(creditID), nil
}

func (m *Memory) FindPaymentsByIdempotencyKey(_ context.Context, key string) ([]lending.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByKeyLocked(key), nil
}

// =============================================================================
// LOCKED HELPERS
// =============================================================================

func (m *Memory) createCreditLocked(c lending.Credit) error {
	m.credits[c.ID] = copyCredit(c)
	return nil
}

func (m *Memory) getCreditLocked(id lending.CreditID) (lending.Credit, error) {
	c, ok := m.credits[id]
	if !ok {
		return lending.Credit{}, lending.ErrCreditNotFound
	}
	return copyCredit(c), nil
}

func (m *Memory) updateCreditLocked(c lending.Credit) error {
	if _, ok := m.credits[c.ID]; !ok {
		return lending.ErrCreditNotFound
	}
	m.credits[c.ID] = copyCredit(c)
	return nil
}

func (m *Memory) listCreditsLocked(filter lending.CreditFilter) []lending.Credit {
	var result []lending.Credit
	for _, c := range m.credits {
		if filter.Matches(c) {
			result = append(result, copyCredit(c))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (m *Memory) putInstallmentsLocked(installments []lending.Installment) {
	for _, inst := range installments {
		m.installments[inst.ID] = copyInstallment(inst)
	}
}

func (m *Memory) getInstallmentLocked(id lending.InstallmentID) (lending.Installment, error) {
	inst, ok := m.installments[id]
	if !ok {
		return lending.Installment{}, lending.ErrInstallmentNotFound
	}
	return copyInstallment(inst), nil
}

func (m *Memory) listInstallmentsLocked(creditID lending.CreditID) []lending.Installment {
	var result []lending.Installment
	for _, inst := range m.installments {
		if inst.CreditID == creditID {
			result = append(result, copyInstallment(inst))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result
}

func (m *Memory) updateInstallmentsLocked(installments []lending.Installment) error {
	for _, inst := range installments {
		if _, ok := m.installments[inst.ID]; !ok {
			return lending.ErrInstallmentNotFound
		}
	}
	m.putInstallmentsLocked(installments)
	return nil
}

func (m *Memory) deleteInstallmentsLocked(creditID lending.CreditID) {
	for id, inst := range m.installments {
		if inst.CreditID == creditID {
			delete(m.installments, id)
		}
	}
}

func (m *Memory) appendPaymentsLocked(payments []lending.Payment) error {
	// Check all idempotency keys first (atomic check)
	for _, p := range payments {
		if p.IdempotencyKey != "" && m.idempotency[p.IdempotencyKey] {
			return lending.ErrDuplicateIdempotencyKey
		}
	}

	for _, p := range payments {
		txs := m.payments[p.CreditID]

		// Keep date order; same-day payments stay in arrival order.
		i := sort.Search(len(txs), func(i int) bool {
			return txs[i].PaidOn.After(p.PaidOn)
		})
		txs = append(txs, lending.Payment{})
		copy(txs[i+1:], txs[i:])
		txs[i] = copyPayment(p)
		m.payments[p.CreditID] = txs
	}
	for _, p := range payments {
		if p.IdempotencyKey != "" {
			m.idempotency[p.IdempotencyKey] = true
		}
	}
	return nil
}

func (m *Memory) listPaymentsLocked(creditID lending.CreditID) []lending.Payment {
	result := make([]lending.Payment, len(m.payments[creditID]))
	for i, p := range m.payments[creditID] {
		result[i] = copyPayment(p)
	}
	return result
}

func (m *Memory) findByKeyLocked(key string) []lending.Payment {
	if key == "" || !m.idempotency[key] {
		return nil
	}
	var result []lending.Payment
	for _, txs := range m.payments {
		for _, p := range txs {
			if p.IdempotencyKey == key {
				result = append(result, copyPayment(p))
			}
		}
	}
	return result
}

func copyCredit(c lending.Credit) lending.Credit {
	if c.RefinancedFrom != nil {
		from := *c.RefinancedFrom
		c.RefinancedFrom = &from
	}
	return c
}

func copyInstallment(inst lending.Installment) lending.Installment {
	inst.Rolls = append([]lending.DueDateRoll(nil), inst.Rolls...)
	return inst
}

func copyPayment(p lending.Payment) lending.Payment {
	p.Cycles = append([]lending.CycleSplit(nil), p.Cycles...)
	return p
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so writers are serialized.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(lending.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	credits      map[lending.CreditID]lending.Credit
	installments map[lending.InstallmentID]lending.Installment
	payments     map[lending.CreditID][]lending.Payment
	idempotency  map[string]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		credits:      make(map[lending.CreditID]lending.Credit, len(tm.credits)),
		installments: make(map[lending.InstallmentID]lending.Installment, len(tm.installments)),
		payments:     make(map[lending.CreditID][]lending.Payment, len(tm.payments)),
		idempotency:  make(map[string]bool, len(tm.idempotency)),
	}
	for k, v := range tm.credits {
		s.credits[k] = v
	}
	for k, v := range tm.installments {
		s.installments[k] = v
	}
	for k, v := range tm.payments {
		s.payments[k] = append([]lending.Payment{}, v...)
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.credits = s.credits
	tm.installments = s.installments
	tm.payments = s.payments
	tm.idempotency = s.idempotency
}

// txMemoryView is the Store handed to WithTx callbacks; the parent lock is
// already held.
type txMemoryView struct {
	parent *Memory
}

func (v *txMemoryView) CreateCredit(_ context.Context, c lending.Credit) error {
	return v.parent.createCreditLocked(c)
}

func (v *txMemoryView) GetCredit(_ context.Context, id lending.CreditID) (lending.Credit, error) {
	return v.parent.getCreditLocked(id)
}

func (v *txMemoryView) UpdateCredit(_ context.Context, c lending.Credit) error {
	return v.parent.updateCreditLocked(c)
}

func (v *txMemoryView) ListCredits(_ context.Context, filter lending.CreditFilter) ([]lending.Credit, error) {
	return v.parent.listCreditsLocked(filter), nil
}

func (v *txMemoryView) CreateInstallments(_ context.Context, installments []lending.Installment) error {
	v.parent.putInstallmentsLocked(installments)
	return nil
}

func (v *txMemoryView) GetInstallment(_ context.Context, id lending.InstallmentID) (lending.Installment, error) {
	return v.parent.getInstallmentLocked(id)
}

func (v *txMemoryView) ListInstallments(_ context.Context, creditID lending.CreditID) ([]lending.Installment, error) {
	return v.parent.listInstallmentsLocked(creditID), nil
}

func (v *txMemoryView) UpdateInstallments(_ context.Context, installments []lending.Installment) error {
	return v.parent.updateInstallmentsLocked(installments)
}

func (v *txMemoryView) DeleteInstallments(_ context.Context, creditID lending.CreditID) error {
	v.parent.deleteInstallmentsLocked(creditID)
	return nil
}

func (v *txMemoryView) AppendPayments(_ context.Context, payments []lending.Payment) error {
	return v.parent.appendPaymentsLocked(payments)
}

func (v *txMemoryView) ListPayments(_ context.Context, creditID lending.CreditID) ([]lending.Payment, error) {
	return v.parent.listPaymentsLocked(creditID), nil
}

func (v *txMemoryView) FindPaymentsByIdempotencyKey(_ context.Context, key string) ([]lending.Payment, error) {
	return v.parent.findByKeyLocked(key), nil
}
