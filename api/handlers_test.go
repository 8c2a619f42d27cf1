/*
handlers_test.go - HTTP tests for the servicing API

Tests for:
- Credit creation and snapshots
- Payments, error mapping and idempotency
- Role resolution (header and JWT)
- Cancellation, refinancing, voiding
- Sweep and scenarios
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/lending/store"
	"github.com/warp/credit-engine/servicing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testAPI struct {
	router *chi.Mux
	svc    *servicing.Service
	store  *store.TxMemory
}

func newTestAPI(t *testing.T, today lending.Date, secret string) *testAPI {
	t.Helper()
	st := store.NewTxMemory()
	svc := servicing.NewService(st, lending.DefaultPolicy(),
		servicing.WithClock(lending.FixedClock{Day: today}))
	h := NewHandler(svc, nil)
	return &testAPI{
		router: NewRouter(h, RouterOptions{JWTSecret: secret}),
		svc:    svc,
		store:  st,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func asRole(role lending.Role) map[string]string {
	return map[string]string{RoleHeader: string(role)}
}

// createFixed posts 800 at 25% in one monthly installment of 1000 due 2024-01-10.
func (a *testAPI) createFixed(t *testing.T) CreditWithScheduleDTO {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/credits", `{
		"borrower": "b-1", "modality": "fixed-equal", "capital": "800", "rate": 25,
		"cadence": "monthly", "installments": 1, "disbursed_on": "2023-12-10"
	}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CreditWithScheduleDTO](t, rec)
}

func (a *testAPI) createOpen(t *testing.T, capital string) CreditWithScheduleDTO {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/credits", map[string]any{
		"borrower": "b-2", "modality": "open-ended", "capital": capital, "rate": "0.60",
		"disbursed_on": "2024-01-01",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CreditWithScheduleDTO](t, rec)
}

func payPath(installmentID string) string {
	return "/api/installments/" + installmentID + "/payments"
}

var jan13 = lending.NewDate(2024, time.January, 13)

// =============================================================================
// CREDITS
// =============================================================================

func TestCreateCredit_ReturnsSchedule(t *testing.T) {
	api := newTestAPI(t, jan13, "")

	created := api.createFixed(t)

	assert.Equal(t, "fixed-equal", created.Credit.Modality)
	assert.Equal(t, "25%", created.Credit.Rate.String())
	assert.Equal(t, "0.25", created.Credit.Rate.Fraction().String())
	assert.Equal(t, "pending", created.Credit.State)
	require.Len(t, created.Installments, 1)
	assert.Equal(t, "1000", created.Installments[0].Amount.String())
	assert.Equal(t, "2024-01-10", created.Installments[0].DueDate)
}

func TestCreateCredit_InvalidDefinition(t *testing.T) {
	api := newTestAPI(t, jan13, "")

	rec := api.do(t, http.MethodPost, "/api/credits",
		`{"modality":"balloon","capital":1,"disbursed_on":"2024-01-01"}`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "modality", resp.Field)

	rec = api.do(t, http.MethodPost, "/api/credits", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSnapshot_ExampleA(t *testing.T) {
	// GIVEN: 1000 due 2024-01-10, today 2024-01-13, no payments
	// WHEN: The snapshot is fetched
	// THEN: 75.00 penalty, 1075 owed, overdue three days

	api := newTestAPI(t, jan13, "")
	created := api.createFixed(t)

	rec := api.do(t, http.MethodGet, "/api/credits/"+created.Credit.ID, nil, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[SnapshotDTO](t, rec)
	assert.Equal(t, "75", snap.PendingPenalty.String())
	assert.Equal(t, "1075", snap.TotalOwed.String())
	assert.Equal(t, "overdue", snap.State)
	require.Len(t, snap.Installments, 1)
	assert.Equal(t, 3, snap.Installments[0].DaysLate)
	require.NotNil(t, snap.Installments[0].PrincipalPending)
	assert.Equal(t, "1000", snap.Installments[0].PrincipalPending.String())
}

func TestGetSnapshot_HistoricalAndErrors(t *testing.T) {
	api := newTestAPI(t, jan13, "")
	created := api.createFixed(t)

	rec := api.do(t, http.MethodGet, "/api/credits/"+created.Credit.ID+"/snapshot?as_of=2024-01-12", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "50", decode[SnapshotDTO](t, rec).PendingPenalty.String())

	rec = api.do(t, http.MethodGet, "/api/credits/"+created.Credit.ID+"/snapshot?as_of=12-01-2024", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/credits/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSnapshot_OpenEndedCycles(t *testing.T) {
	api := newTestAPI(t, lending.NewDate(2024, time.February, 5), "")
	created := api.createOpen(t, "10000")

	rec := api.do(t, http.MethodGet, "/api/credits/"+created.Credit.ID, nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[SnapshotDTO](t, rec)
	require.NotEmpty(t, snap.Cycles)
	assert.Equal(t, "6000", snap.Cycles[0].InterestGross.String())
	assert.Equal(t, "750", snap.Cycles[0].PenaltyPending.String())
	assert.Equal(t, 5, snap.Cycles[0].DaysLate)
}

func TestListCredits_FiltersByState(t *testing.T) {
	api := newTestAPI(t, jan13, "")
	api.createFixed(t)
	api.createOpen(t, "1000")

	// The fixed credit becomes overdue once its snapshot is refreshed.
	rec := api.do(t, http.MethodPost, "/api/admin/sweep", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/credits?state=overdue", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	overdue := decode[[]CreditDTO](t, rec)
	require.Len(t, overdue, 1)
	assert.Equal(t, "fixed-equal", overdue[0].Modality)

	rec = api.do(t, http.MethodGet, "/api/credits?modality=open-ended", nil, nil)
	assert.Len(t, decode[[]CreditDTO](t, rec), 1)
}

func TestEditCredit_RejectedAfterPayment(t *testing.T) {
	api := newTestAPI(t, jan13, "")
	created := api.createFixed(t)
	path := "/api/credits/" + created.Credit.ID
	edit := `{"modality":"fixed-equal","capital":"900","rate":20,"cadence":"monthly","installments":3,"disbursed_on":"2023-12-10"}`

	rec := api.do(t, http.MethodPut, path, edit, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decode[CreditWithScheduleDTO](t, rec)
	assert.Equal(t, created.Credit.ID, edited.Credit.ID)
	require.Len(t, edited.Installments, 3)

	rec = api.do(t, http.MethodPost, payPath(edited.Installments[0].ID), `{"amount":"10","method":"cash"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPut, path, edit, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(lending.ConflictCreditHasPayments), decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestApplyPayment_PenaltyFirst(t *testing.T) {
	api := newTestAPI(t, jan13, "")
	created := api.createFixed(t)

	rec := api.do(t, http.MethodPost, payPath(created.Installments[0].ID),
		`{"amount": 100, "method": "cash", "note": "window 2"}`, asRole(lending.RoleCashier))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[PaymentDTO](t, rec)
	assert.Equal(t, "75", res.Allocation.Penalty.String())
	assert.Equal(t, "25", res.Allocation.Principal.String())
	assert.Equal(t, "100", res.Allocation.Total.String())
	assert.Equal(t, "overdue", res.Installment.State, "25 of principal is below the 200 embedded interest")
	assert.Empty(t, res.RolledTo)
	assert.Equal(t, "payment", res.Receipt.Kind)
	assert.Equal(t, "window 2", res.Receipt.Note)
	assert.Equal(t, []string{res.PaymentID}, res.Receipt.PaymentIDs)
}

func TestApplyPayment_CoveringInterestRollsDueDate(t *testing.T) {
	// GIVEN: 1000 due 2024-01-10 (embedded interest 200), 75 penalty on Jan 13
	// WHEN: 275 paid
	// THEN: Due date rolls to Feb 10 and the installment is partial

	api := newTestAPI(t, jan13, "")
	created := api.createFixed(t)

	rec := api.do(t, http.MethodPost, payPath(created.Installments[0].ID),
		`{"amount": 275, "method": "cash"}`, asRole(lending.RoleCashier))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[PaymentDTO](t, rec)
	assert.Equal(t, "75", res.Allocation.Penalty.String())
	assert.Equal(t, "200", res.Allocation.Principal.String())
	assert.Equal(t, "2024-02-10", res.RolledTo)
	assert.Equal(t, "partial", res.Installment.State)
}

func TestApplyPayment_ErrorMapping(t *testing.T) {
	api := newTestAPI(t, jan13, "")
	created := api.createFixed(t)
	path := payPath(created.Installments[0].ID)

	tests := []struct {
		name   string
		body   string
		role   lending.Role
		status int
	}{
		{"unknown method", `{"amount":5,"method":"barter"}`, lending.RoleCashier, http.StatusBadRequest},
		{"missing amount", `{"method":"cash"}`, lending.RoleCashier, http.StatusBadRequest},
		{"discount by cashier", `{"amount":5,"method":"cash","discount":{"scope":"penalty","percent":50}}`, lending.RoleCashier, http.StatusForbidden},
		{"overpayment", `{"amount":2000,"method":"cash"}`, lending.RoleCashier, http.StatusUnprocessableEntity},
		{"malformed", `{"amount":`, lending.RoleCashier, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, path, tt.body, asRole(tt.role))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := api.do(t, http.MethodPost, payPath("missing"), `{"amount":5,"method":"cash"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, path, `{"amount":5,"method":"cash"}`, asRole("janitor"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyPayment_ConflictCarriesCode(t *testing.T) {
	api := newTestAPI(t, jan13, "")
	created := api.createFixed(t)
	path := payPath(created.Installments[0].ID)

	rec := api.do(t, http.MethodPost, path, `{"amount":"1075","method":"transfer"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", decode[PaymentDTO](t, rec).CreditState)

	rec = api.do(t, http.MethodPost, path, `{"amount":"1","method":"transfer"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(lending.ConflictCreditPaid), decode[ErrorResponse](t, rec).Code)
}

func TestApplyPayment_IdempotencyKeyHeader(t *testing.T) {
	// GIVEN: A payment sent with an Idempotency-Key header
	// WHEN: The request is retried
	// THEN: 200 with the same payment, nothing new written

	api := newTestAPI(t, jan13, "")
	created := api.createFixed(t)
	headers := map[string]string{"Idempotency-Key": "pay-1", RoleHeader: "cashier"}

	first := api.do(t, http.MethodPost, payPath(created.Installments[0].ID), `{"amount":100,"method":"cash"}`, headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	retry := api.do(t, http.MethodPost, payPath(created.Installments[0].ID), `{"amount":100,"method":"cash"}`, headers)
	require.Equal(t, http.StatusOK, retry.Code, retry.Body.String())

	a, b := decode[PaymentDTO](t, first), decode[PaymentDTO](t, retry)
	assert.Equal(t, a.PaymentID, b.PaymentID)
	assert.True(t, b.Replayed)

	payments, err := api.store.ListPayments(context.Background(), lending.CreditID(created.Credit.ID))
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

// =============================================================================
// ROLES
// =============================================================================

func TestRoleMiddleware_JWT(t *testing.T) {
	// GIVEN: A router configured with a JWT secret
	// WHEN: A supervisor token requests a penalty discount
	// THEN: The discount is granted; a bad token is 401; the header is ignored

	const secret = "test-secret"
	api := newTestAPI(t, jan13, secret)
	created := api.createFixed(t)
	path := payPath(created.Installments[0].ID)
	body := `{"amount":"1037.50","method":"cash","discount":{"scope":"penalty","percent":50}}`

	rec := api.do(t, http.MethodPost, path, body, asRole(lending.RoleSupervisor))
	assert.Equal(t, http.StatusForbidden, rec.Code, "header role is ignored when JWT is configured")

	forged, err := SignRole("other-secret", lending.RoleAdmin)
	require.NoError(t, err)
	rec = api.do(t, http.MethodPost, path, body, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, path, body, map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := SignRole(secret, lending.RoleSupervisor)
	require.NoError(t, err)
	rec = api.do(t, http.MethodPost, path, body, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[PaymentDTO](t, rec)
	assert.Equal(t, "37.5", res.Allocation.Discount.String())
	assert.Equal(t, "paid", res.CreditState)
}

// =============================================================================
// PAYOFF, REFINANCE, VOID
// =============================================================================

func TestCancelCredit_QuoteThenCommit(t *testing.T) {
	api := newTestAPI(t, jan13, "")
	created := api.createFixed(t)
	base := "/api/credits/" + created.Credit.ID + "/cancel"

	rec := api.do(t, http.MethodPost, base+"/quote", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decode[CancelDTO](t, rec)
	assert.Equal(t, "1075", quote.Net.String())
	assert.Nil(t, quote.Receipt)

	rec = api.do(t, http.MethodPost, base,
		`{"method":"cash","discount":{"scope":"total","percent":10}}`, asRole(lending.RoleAdmin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[CancelDTO](t, rec)
	assert.Equal(t, "967.5", res.Net.String())
	assert.Equal(t, "107.5", res.Allocation.Discount.String())
	assert.Equal(t, "paid", res.CreditState)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, "cancellation", res.Receipt.Kind)

	rec = api.do(t, http.MethodPost, base, `{"method":"cash"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefinanceCredit_OpenEnded(t *testing.T) {
	api := newTestAPI(t, lending.NewDate(2024, time.February, 10), "")
	created := api.createOpen(t, "2000")
	path := "/api/credits/" + created.Credit.ID + "/refinance"

	rec := api.do(t, http.MethodPost, path,
		`{"rate_option":"standard","cadence":"monthly","installments":3}`, asRole(lending.RoleCashier))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[RefinanceDTO](t, rec)
	assert.Equal(t, created.Credit.ID, res.OriginalCreditID)
	assert.NotEqual(t, res.OriginalCreditID, res.NewCreditID)
	assert.Equal(t, "3500", res.PayoffBase.String())
	assert.Equal(t, "5600", res.NewTotal.String())
	require.NotNil(t, res.Credit.Credit.RefinancedFrom)
	assert.Equal(t, created.Credit.ID, *res.Credit.Credit.RefinancedFrom)
	assert.Len(t, res.Credit.Installments, 3)

	rec = api.do(t, http.MethodPost, path, `{"rate_option":"standard","cadence":"monthly","installments":3}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(lending.ConflictCreditRefinanced), decode[ErrorResponse](t, rec).Code)
}

func TestRefinanceCredit_ManualRateForbiddenForCashier(t *testing.T) {
	api := newTestAPI(t, lending.NewDate(2024, time.February, 10), "")
	created := api.createOpen(t, "2000")

	rec := api.do(t, http.MethodPost, "/api/credits/"+created.Credit.ID+"/refinance",
		`{"rate_option":"manual","manual_rate":"0.15","cadence":"weekly","installments":4}`, asRole(lending.RoleCashier))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestVoidCredit(t *testing.T) {
	api := newTestAPI(t, jan13, "")
	created := api.createFixed(t)

	rec := api.do(t, http.MethodPost, "/api/credits/"+created.Credit.ID+"/void", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "voided", decode[CreditDTO](t, rec).State)

	rec = api.do(t, http.MethodPost, payPath(created.Installments[0].ID), `{"amount":1,"method":"cash"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(lending.ConflictCreditVoided), decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// ADMIN AND SCENARIOS
// =============================================================================

func TestTriggerSweep(t *testing.T) {
	api := newTestAPI(t, jan13, "")
	api.createFixed(t)

	rec := api.do(t, http.MethodPost, "/api/admin/sweep", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[SweepDTO](t, rec)
	assert.Equal(t, "2024-01-13", res.AsOf)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Changed)

	rec = api.do(t, http.MethodGet, "/api/admin/sweep", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no sweeper attached")
}

func TestScenarios_LoadEach(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			api := newTestAPI(t, lending.NewDate(2024, time.June, 20), "")

			rec := api.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: s.ID}, nil)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			resp := decode[LoadScenarioResponse](t, rec)
			assert.Equal(t, s.ID, resp.Scenario.ID)
			require.NotEmpty(t, resp.Credits)

			rec = api.do(t, http.MethodGet, "/api/scenarios/current", nil, nil)
			assert.Equal(t, s.ID, decode[ScenarioDTO](t, rec).ID)
		})
	}
}

func TestScenarios_LateFixedIsOverdue(t *testing.T) {
	api := newTestAPI(t, lending.NewDate(2024, time.June, 20), "")

	rec := api.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"late-fixed"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	credit := decode[LoadScenarioResponse](t, rec).Credits[0]

	rec = api.do(t, http.MethodGet, "/api/credits/"+credit.ID, nil, nil)
	snap := decode[SnapshotDTO](t, rec)
	assert.Equal(t, "overdue", snap.State)
	assert.Equal(t, "75", snap.PendingPenalty.String())

	rec = api.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"nope"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, jan13, "")
	rec := api.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
