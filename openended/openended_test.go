package openended_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/openended"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) decimal.Decimal { return lending.Money(s) }

func amount(s string) *decimal.Decimal {
	d := money(s)
	return &d
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, money(want).StringFixed(2), got.StringFixed(2), msgAndArgs...)
}

func date(month time.Month, day int) lending.Date { return lending.NewDate(2024, month, day) }

func openCredit(capital, rate string) lending.Credit {
	return lending.Credit{
		ID:          "credit-oe",
		Capital:     money(capital),
		Rate:        lending.MustParseDecimal(rate),
		Terms:       lending.OpenTerms{},
		DisbursedOn: date(time.January, 1),
		CommittedOn: date(time.January, 1),
		State:       lending.CreditPending,
	}
}

// record turns a plan into the payment row the engine persists.
func record(credit lending.Credit, plan openended.Plan, on lending.Date) lending.Payment {
	return lending.Payment{
		ID:              lending.NewPaymentID(),
		CreditID:        credit.ID,
		Kind:            lending.PaymentRegular,
		Amount:          plan.Amount(),
		PaidOn:          on,
		Penalty:         plan.Allocation.Penalty,
		Interest:        plan.Allocation.Interest,
		Principal:       plan.Allocation.Principal,
		PenaltyDiscount: plan.Allocation.Discount,
		Cycles:          plan.Splits,
	}
}

func calculator() openended.Calculator { return openended.NewCalculator(lending.DefaultPolicy()) }

// =============================================================================
// CYCLE CALENDAR TESTS
// =============================================================================

func TestCycleAt(t *testing.T) {
	committed := date(time.January, 1)

	tests := []struct {
		on       lending.Date
		cycle    int
		exceeded bool
	}{
		{date(time.January, 1), 1, false},
		{date(time.January, 31), 1, false},
		{date(time.February, 1), 2, false},
		{date(time.February, 29), 2, false},
		{date(time.March, 31), 3, false},
		{date(time.April, 1), 3, true},
	}
	for _, tt := range tests {
		k, exceeded := openended.CycleAt(committed, tt.on, 3)
		assert.Equal(t, tt.cycle, k, tt.on.String())
		assert.Equal(t, tt.exceeded, exceeded, tt.on.String())
	}
}

// =============================================================================
// CYCLE ACCRUAL ENGINE TESTS
// =============================================================================

func TestAccrue_ExampleB(t *testing.T) {
	// GIVEN: Capital 10,000 at 60% per cycle, committed 2024-01-01
	// WHEN: Accrued on the commitment date, then on 2024-02-05
	// THEN: Cycle 1 interest 6,000 with no penalty, then 750 penalty
	//       (6000 * 0.025 * 5 late days)

	calc := calculator()
	credit := openCredit("10000", "0.60")

	st := calc.Accrue(credit, nil, date(time.January, 1))
	require.Len(t, st.Cycles, 1)
	assertMoney(t, "6000", st.Cycles[0].InterestGross)
	assertMoney(t, "0", st.Cycles[0].PenaltyGross)
	assertMoney(t, "16000", st.TotalOwed())

	st = calc.Accrue(credit, nil, date(time.February, 5))
	require.Len(t, st.Cycles, 2)
	assert.Equal(t, 5, st.Cycles[0].DaysLate)
	assertMoney(t, "750", st.Cycles[0].PenaltyGross)
	assertMoney(t, "750", st.Cycles[0].PenaltyPending)
	assertMoney(t, "6000", st.Cycles[1].InterestGross)
	assertMoney(t, "0", st.Cycles[1].PenaltyGross, "cycle 2 is not due yet")
	assert.Equal(t, lending.InstallmentOverdue, openended.DeriveState(st))
}

func TestAccrue_PenaltyStopsWhenInterestPaid(t *testing.T) {
	// GIVEN: Cycle 1 interest paid in full on day 5 after due
	// WHEN: The reference date advances to day 20
	// THEN: Cycle 1 penalty equals the day-5 value, not a day-20 value

	calc := calculator()
	credit := openCredit("10000", "0.60")
	payDay := date(time.February, 5)

	plan, err := calc.Allocate(credit, nil, nil, lending.Discount{}, payDay)
	require.NoError(t, err)
	assert.True(t, plan.Defaulted)
	assertMoney(t, "6750", plan.Amount(), "default amount closes the oldest cycle")
	payments := []lending.Payment{record(credit, plan, payDay)}

	st := calc.Accrue(credit, payments, date(time.February, 20))

	cycle1 := st.Cycles[0]
	assertMoney(t, "750", cycle1.PenaltyGross)
	assertMoney(t, "0", cycle1.PenaltyPending)
	assertMoney(t, "0", cycle1.InterestPending)
	require.NotNil(t, cycle1.SettledOn)
	assert.True(t, cycle1.SettledOn.Equal(payDay))
	assertMoney(t, "10000", st.OutstandingCapital)
}

func TestAccrue_BaseFrozenAtCycleStart(t *testing.T) {
	// GIVEN: 500 principal paid mid cycle 2
	// WHEN: Accrued in cycle 3
	// THEN: Cycle 2 keeps its 2000 base; cycle 3 is charged on 1500

	calc := calculator()
	credit := openCredit("2000", "0.60")
	payDay := date(time.February, 10)

	plan, err := calc.Allocate(credit, nil, amount("2000"), lending.Discount{}, payDay)
	require.NoError(t, err)
	payments := []lending.Payment{record(credit, plan, payDay)}

	st := calc.Accrue(credit, payments, date(time.March, 1))

	require.Len(t, st.Cycles, 3)
	assertMoney(t, "2000", st.Cycles[1].CapitalBase)
	assertMoney(t, "1200", st.Cycles[1].InterestGross)
	assertMoney(t, "1500", st.Cycles[2].CapitalBase)
	assertMoney(t, "900", st.Cycles[2].InterestGross)
	assertMoney(t, "1500", st.OutstandingCapital)
}

func TestAccrue_FallsBackToDateAttribution(t *testing.T) {
	// GIVEN: A legacy payment without cycle splits dated inside cycle 1
	// WHEN: Accrued after cycle 1's due date
	// THEN: The payment settles cycle 1's interest by its date; no penalty

	calc := calculator()
	credit := openCredit("2000", "0.60")
	legacy := lending.Payment{
		ID:        "legacy",
		CreditID:  credit.ID,
		Amount:    money("1200"),
		Interest:  money("1200"),
		Principal: decimal.Zero,
		PaidOn:    date(time.January, 20),
	}

	st := calc.Accrue(credit, []lending.Payment{legacy}, date(time.February, 10))

	assertMoney(t, "1200", st.Cycles[0].InterestCollected)
	assertMoney(t, "0", st.Cycles[0].PenaltyGross)
	assertMoney(t, "0", st.Cycles[1].InterestCollected)
}

func TestAccrue_Idempotent(t *testing.T) {
	calc := calculator()
	credit := openCredit("10000", "0.60")

	first := calc.Accrue(credit, nil, date(time.March, 10))
	second := calc.Accrue(credit, nil, date(time.March, 10))

	assert.Equal(t, first, second)
}

// =============================================================================
// ALLOCATION TESTS
// =============================================================================

func TestAllocate_ExampleC(t *testing.T) {
	// GIVEN: Oldest open cycle owes penalty 300 and interest 1200
	// WHEN: 2000 is paid
	// THEN: penalty 300, interest 1200, principal 500

	calc := calculator()
	credit := openCredit("2000", "0.60")
	payDay := date(time.February, 10)

	st := calc.Accrue(credit, nil, payDay)
	open, ok := st.OpenCycle()
	require.True(t, ok)
	assertMoney(t, "300", open.PenaltyPending)
	assertMoney(t, "1200", open.InterestPending)

	plan, err := calc.Allocate(credit, nil, amount("2000"), lending.Discount{}, payDay)

	require.NoError(t, err)
	assertMoney(t, "300", plan.Allocation.Penalty)
	assertMoney(t, "1200", plan.Allocation.Interest)
	assertMoney(t, "500", plan.Allocation.Principal)
	assertMoney(t, "2000", plan.Allocation.Total())
	require.Len(t, plan.Splits, 1)
	assert.Equal(t, 1, plan.Splits[0].Cycle)
}

func TestAllocate_FullAmountReachesYoungerCycles(t *testing.T) {
	calc := calculator()
	credit := openCredit("2000", "0.60")

	plan, err := calc.Allocate(credit, nil, amount("4700"), lending.Discount{}, date(time.February, 10))

	require.NoError(t, err)
	assertMoney(t, "300", plan.Allocation.Penalty)
	assertMoney(t, "2400", plan.Allocation.Interest)
	assertMoney(t, "2000", plan.Allocation.Principal)
	require.Len(t, plan.Splits, 2)
	assertMoney(t, "1200", plan.Splits[1].Interest)
}

func TestAllocate_Overpayment(t *testing.T) {
	calc := calculator()
	credit := openCredit("2000", "0.60")

	_, err := calc.Allocate(credit, nil, amount("4800"), lending.Discount{}, date(time.February, 10))

	require.Error(t, err)
	assert.True(t, errors.Is(err, lending.ErrOverpayment))
	var over *lending.OverpaymentError
	require.ErrorAs(t, err, &over)
	assertMoney(t, "4700", over.Payable)
}

func TestAllocate_DiscountOnOpenCyclePenaltyOnly(t *testing.T) {
	calc := calculator()
	credit := openCredit("2000", "0.60")
	discount := lending.Discount{Scope: lending.ScopeTotal, Percent: decimal.NewFromInt(50)}

	plan, err := calc.Allocate(credit, nil, nil, discount, date(time.February, 10))

	require.NoError(t, err)
	assertMoney(t, "150", plan.Allocation.Discount)
	assertMoney(t, "1350", plan.Amount())
	assertMoney(t, "150", plan.Allocation.Penalty)
	assertMoney(t, "1200", plan.Allocation.Interest)
	assertMoney(t, "0", plan.Allocation.Principal)
	require.Len(t, plan.Splits, 1)
	assertMoney(t, "150", plan.Splits[0].PenaltyDiscount)
}

func TestAllocate_CycleCapExceeded(t *testing.T) {
	// GIVEN: A credit past its third cycle
	// WHEN: A partial payment (or a defaulted amount) is submitted
	// THEN: StateConflict cycle_cap_exceeded; the exact payoff is accepted

	calc := calculator()
	credit := openCredit("1000", "0.10")
	payDay := date(time.April, 1)

	_, err := calc.Allocate(credit, nil, amount("100"), lending.Discount{}, payDay)
	assert.Equal(t, lending.ConflictCycleCapExceeded, lending.ConflictCodeOf(err))
	assert.True(t, errors.Is(err, lending.ErrStateConflict))

	_, err = calc.Allocate(credit, nil, nil, lending.Discount{}, payDay)
	assert.Equal(t, lending.ConflictCycleCapExceeded, lending.ConflictCodeOf(err))

	st := calc.Accrue(credit, nil, payDay)
	assert.True(t, st.CapExceeded)
	total := st.TotalOwed()
	plan, err := calc.Allocate(credit, nil, &total, lending.Discount{}, payDay)
	require.NoError(t, err)
	assertMoney(t, "1000", plan.Allocation.Principal)
}

func TestAllocate_NoOpenCycleNeedsAmount(t *testing.T) {
	calc := calculator()
	credit := openCredit("1000", "0")

	_, err := calc.Allocate(credit, nil, nil, lending.Discount{}, date(time.January, 10))
	assert.True(t, errors.Is(err, lending.ErrValidation))

	plan, err := calc.Allocate(credit, nil, amount("250"), lending.Discount{}, date(time.January, 10))
	require.NoError(t, err)
	assertMoney(t, "250", plan.Allocation.Principal)
	assert.Empty(t, plan.Splits)
}

// =============================================================================
// STATE / PAYOFF TESTS
// =============================================================================

func TestRefresh_TracksOutstandingCapital(t *testing.T) {
	calc := calculator()
	credit := openCredit("2000", "0.60")
	inst := lending.Installment{ID: "inst-oe", CreditID: credit.ID, Number: 1, Amount: money("2000"),
		DueDate: lending.OpenEndedDueDate, State: lending.InstallmentOverdue}
	payDay := date(time.February, 10)

	plan, err := calc.Allocate(credit, nil, amount("2000"), lending.Discount{}, payDay)
	require.NoError(t, err)
	payments := []lending.Payment{record(credit, plan, payDay)}

	got, st := calc.Refresh(credit, inst, payments, payDay)

	assertMoney(t, "1500", got.Amount)
	assertMoney(t, "500", got.PrincipalPaid)
	assertMoney(t, "0", got.Penalty)
	assert.Equal(t, lending.InstallmentPending, got.State, "open-ended installments may return to pending")
	assertMoney(t, "2700", st.TotalOwed())
}

func TestCancellation_ExampleD(t *testing.T) {
	// GIVEN: principal 500 + interest 200 + penalty 100 (total 800)
	// WHEN: Cancelled with a 10% total-scope discount
	// THEN: discount 80, absorbed by penalty; net payable 720

	policy := lending.DefaultPolicy()
	policy.MaxCycles = 1
	calc := openended.NewCalculator(policy)
	credit := openCredit("500", "0.40")
	asOf := date(time.February, 20)
	discount := lending.Discount{Scope: lending.ScopeTotal, Percent: decimal.NewFromInt(10)}

	payoff, err := calc.Cancellation(credit, nil, asOf, discount)

	require.NoError(t, err)
	assertMoney(t, "100", payoff.Debt.Penalty)
	assertMoney(t, "200", payoff.Debt.Interest)
	assertMoney(t, "500", payoff.Debt.Principal)
	assertMoney(t, "80", payoff.Allocation.Discount)
	assertMoney(t, "80", payoff.PenaltyDiscount)
	assertMoney(t, "720", payoff.Net())
	assertMoney(t, "20", payoff.Allocation.Penalty)
	require.Len(t, payoff.Splits, 1)
	assertMoney(t, "80", payoff.Splits[0].PenaltyDiscount)
}

func TestCancellation_NothingToPay(t *testing.T) {
	calc := calculator()
	credit := openCredit("1000", "0")
	paid := lending.Payment{ID: "p", CreditID: credit.ID, Amount: money("1000"), Principal: money("1000"),
		PaidOn: date(time.January, 5)}

	_, err := calc.Cancellation(credit, []lending.Payment{paid}, date(time.January, 10), lending.Discount{})

	assert.Equal(t, lending.ConflictNothingToPay, lending.ConflictCodeOf(err))
}

func TestRefinanceBase_OldestCycleOnly(t *testing.T) {
	calc := calculator()
	credit := openCredit("2000", "0.60")

	base := calc.RefinanceBase(credit, nil, date(time.February, 10))

	assertMoney(t, "3500", base, "capital 2000 + cycle 1 (300 + 1200); cycle 2 interest not carried")
}
