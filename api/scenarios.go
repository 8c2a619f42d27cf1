/*
scenarios.go - Demo portfolio loaders for testing and demonstrations

PURPOSE:

	Provides pre-built portfolios that populate the store with realistic
	credits for demos and manual testing. Each scenario creates credits
	from JSON definitions (the same path POST /api/credits takes), dated
	relative to today so the interesting state is always visible.

AVAILABLE SCENARIOS:

	late-fixed:         One monthly installment, three days late
	weekly-progressive: Progressive weekly plan with a first payment made
	open-ended-overdue: Open-ended credit five days into its first late period
	cycle-cap:          Open-ended credit past its last billing cycle

HOW SCENARIOS WORK:
 1. Build the credit JSON with dates relative to today
 2. Parse through factory.CreditFactory
 3. Create through servicing.Service (schedule generated there)
 4. Optionally apply payments as the system role

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "late-fixed"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios add to whatever is already stored. Only use in
	development/demo environments.

SEE ALSO:
  - handlers.go: Credit endpoints
  - factory/credit.go: Credit JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/servicing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "late-fixed",
		Name:        "Late Fixed Installment",
		Description: "800 at 25% in one monthly installment of 1000, three days late",
		Category:    "fixed",
	},
	{
		ID:          "weekly-progressive",
		Name:        "Weekly Progressive",
		Description: "1500 at 30% over 5 progressive weekly installments, first one paid",
		Category:    "fixed",
	},
	{
		ID:          "open-ended-overdue",
		Name:        "Open-Ended Overdue",
		Description: "10000 at 60% per cycle, five days after the first cycle fell due",
		Category:    "open-ended",
	},
	{
		ID:          "cycle-cap",
		Name:        "Cycle Cap Exceeded",
		Description: "Open-ended credit past its last cycle; only payoff or refinancing remain",
		Category:    "open-ended",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined portfolio.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	scenario, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	var (
		created []lending.Credit
		err     error
	)
	switch req.ScenarioID {
	case "late-fixed":
		created, err = h.loadLateFixedScenario(ctx)
	case "weekly-progressive":
		created, err = h.loadWeeklyProgressiveScenario(ctx)
	case "open-ended-overdue":
		created, err = h.loadOpenEndedOverdueScenario(ctx)
	case "cycle-cap":
		created, err = h.loadCycleCapScenario(ctx)
	}
	if err != nil {
		h.writeServiceError(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	resp := LoadScenarioResponse{Scenario: scenario}
	for _, c := range created {
		resp.Credits = append(resp.Credits, toCreditDTO(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadLateFixedScenario(ctx context.Context) ([]lending.Credit, error) {
	// Due date = committed + 1 month, three days ago
	committed := h.Service.Today().AddDays(-3).AddMonths(-1)
	credit, _, err := h.createFromJSON(ctx, fixedCreditJSON("b-demo-1", "fixed-equal", "800", "25", "monthly", 1, committed))
	if err != nil {
		return nil, err
	}
	return []lending.Credit{credit}, nil
}

func (h *Handler) loadWeeklyProgressiveScenario(ctx context.Context) ([]lending.Credit, error) {
	committed := h.Service.Today().AddDays(-10)
	credit, insts, err := h.createFromJSON(ctx, fixedCreditJSON("b-demo-2", "fixed-progressive", "1500", "30", "weekly", 5, committed))
	if err != nil {
		return nil, err
	}

	// Installment 1 fell due three days ago; pay it with its penalty.
	snap, err := h.Service.GetCreditSnapshot(ctx, credit.ID, nil)
	if err != nil {
		return nil, err
	}
	owed := lending.Add(snap.Installments[0].PrincipalPending, snap.Installments[0].PenaltyOwed)
	res, err := h.Service.ApplyPayment(ctx, servicing.PaymentRequest{
		InstallmentID: insts[0].ID,
		Amount:        &owed,
		Method:        lending.MethodCash,
		Note:          "demo payment",
		ActorRole:     lending.RoleSystem,
	})
	if err != nil {
		return nil, err
	}
	credit.State = res.CreditState
	return []lending.Credit{credit}, nil
}

func (h *Handler) loadOpenEndedOverdueScenario(ctx context.Context) ([]lending.Credit, error) {
	committed := h.Service.Today().AddDays(-5).AddMonths(-1)
	credit, _, err := h.createFromJSON(ctx, openCreditJSON("b-demo-3", "10000", "60", committed))
	if err != nil {
		return nil, err
	}
	return []lending.Credit{credit}, nil
}

func (h *Handler) loadCycleCapScenario(ctx context.Context) ([]lending.Credit, error) {
	months := h.Service.Policy.MaxCycles + 1
	committed := h.Service.Today().AddMonths(-months)
	credit, _, err := h.createFromJSON(ctx, openCreditJSON("b-demo-4", "5000", "20", committed))
	if err != nil {
		return nil, err
	}
	return []lending.Credit{credit}, nil
}

func (h *Handler) createFromJSON(ctx context.Context, jsonStr string) (lending.Credit, []lending.Installment, error) {
	draft, err := h.Credits.ParseCredit(jsonStr)
	if err != nil {
		return lending.Credit{}, nil, err
	}
	return h.Service.CreateCredit(ctx, draft)
}

func fixedCreditJSON(borrower, modality, capital, rate, cadence string, count int, committed lending.Date) string {
	return fmt.Sprintf(`{
		"borrower": %q,
		"modality": %q,
		"capital": %q,
		"rate": %q,
		"cadence": %q,
		"installments": %d,
		"disbursed_on": %q
	}`, borrower, modality, capital, rate, cadence, count, committed.String())
}

func openCreditJSON(borrower, capital, rate string, committed lending.Date) string {
	return fmt.Sprintf(`{
		"borrower": %q,
		"modality": "open-ended",
		"capital": %q,
		"rate": %q,
		"disbursed_on": %q
	}`, borrower, capital, rate, committed.String())
}
