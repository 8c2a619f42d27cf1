package lending

// =============================================================================
// LIFECYCLE STATE MACHINE
// =============================================================================

// installmentTransitions lists the moves recompute may make. Terminal states
// have no entry and are never left. Open-ended installments additionally move
// overdue -> pending once the late cycle is settled.
var installmentTransitions = map[InstallmentState][]InstallmentState{
	InstallmentPending: {InstallmentPartial, InstallmentOverdue, InstallmentPaid},
	InstallmentOverdue: {InstallmentPartial, InstallmentPaid},
	InstallmentPartial: {InstallmentOverdue, InstallmentPaid},
}

// CanTransition reports whether an installment may move from -> to on recompute.
func CanTransition(from, to InstallmentState, openEnded bool) bool {
	if from == to {
		return true
	}
	if openEnded && from == InstallmentOverdue && to == InstallmentPending {
		return true
	}
	for _, allowed := range installmentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NextInstallmentState applies a derived state to the stored one. Terminal
// states stick; disallowed moves keep the current state.
func NextInstallmentState(current, derived InstallmentState, openEnded bool) InstallmentState {
	if current.Terminal() {
		return current
	}
	if CanTransition(current, derived, openEnded) {
		return derived
	}
	return current
}

// AggregateCreditState derives the credit state from its installments:
// paid when all are paid, overdue when every still-open one is overdue,
// pending otherwise. Refinanced and voided credits never change.
func AggregateCreditState(current CreditState, installments []Installment) CreditState {
	if current.Frozen() || len(installments) == 0 {
		return current
	}

	open := 0
	overdue := 0
	for _, inst := range installments {
		if inst.State.Terminal() {
			continue
		}
		open++
		if inst.State == InstallmentOverdue {
			overdue++
		}
	}

	switch {
	case open == 0:
		return CreditPaid
	case overdue == open:
		return CreditOverdue
	default:
		return CreditPending
	}
}

// FreezeInstallments moves every non-terminal installment to the given
// terminal state (refinanced or voided) and returns the ones it touched.
func FreezeInstallments(installments []Installment, to InstallmentState) []Installment {
	var changed []Installment
	for i := range installments {
		if installments[i].State.Terminal() {
			continue
		}
		installments[i].State = to
		changed = append(changed, installments[i])
	}
	return changed
}
