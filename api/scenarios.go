/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a guest,
	funding approvals and booking activity, driven through the ledger
	exactly as the booking subsystem would drive it.

AVAILABLE SCENARIOS:

	stay-lifecycle:   one approval; confirm 6 nights, amend to 8, cancel free
	split-allocation: two approvals; 5 nights split soonest-expiring first
	additional-rooms: primary + additional-room pools on one approval

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register the guest
 3. Grant approvals, with windows relative to today
 4. Run booking lifecycle events through the ledger
 5. Return the steps taken and the resulting balances

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "split-allocation"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Booking lifecycle handlers
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/funding-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "stay-lifecycle",
		Name:        "Stay Lifecycle",
		Description: "10 approved nights; confirm 6, amend to 8, cancel with no charge",
	},
	{
		ID:          "split-allocation",
		Name:        "Split Allocation",
		Description: "Two approvals (3 nights expiring soon, 10 later); a 5 night stay takes 3 + 2",
	},
	{
		ID:          "additional-rooms",
		Name:        "Additional Rooms",
		Description: "Approval with an additional-room pool; a stay with one extra carer room",
	},
}

type scenarioLoader func(ctx context.Context, l *ledger.Ledger, log *stepLog) (ledger.GuestID, error)

var loaders = map[string]scenarioLoader{
	"stay-lifecycle":   loadStayLifecycle,
	"split-allocation": loadSplitAllocation,
	"additional-rooms": loadAdditionalRooms,
}

type stepLog struct {
	steps []string
}

func (s *stepLog) add(format string, args ...any) {
	s.steps = append(s.steps, fmt.Sprintf(format, args...))
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the database and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	loader, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	var steps stepLog
	guestID, err := loader(ctx, h.Ledger, &steps)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	views, err := h.Ledger.Balances(ctx, guestID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	resp := LoadScenarioResponse{
		ScenarioID: req.ScenarioID,
		GuestID:    string(guestID),
		Steps:      steps.steps,
		Approvals:  make([]ApprovalDTO, 0, len(views)),
	}
	for _, v := range views {
		resp.Approvals = append(resp.Approvals, toApprovalDTO(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// LOADERS
// =============================================================================

var scenarioActor = ledger.Actor{Type: "scenario", ID: "demo"}

func intPtr(n int) *int { return &n }

func loadStayLifecycle(ctx context.Context, l *ledger.Ledger, log *stepLog) (ledger.GuestID, error) {
	today := l.Today()
	g, err := l.RegisterGuest(ctx, ledger.Guest{ID: "guest-lifecycle", Name: "Alex Morgan"}, scenarioActor)
	if err != nil {
		return "", err
	}
	a, err := l.CreateApproval(ctx, ledger.ApprovalInput{
		GuestID:        g.ID,
		FundingType:    ledger.FundingNDIS,
		From:           today.Ptr(),
		To:             today.AddDays(90).Ptr(),
		NightsApproved: intPtr(10),
	}, scenarioActor)
	if err != nil {
		return "", err
	}
	log.add("approval %s granted 10 nights", a.ID)

	b := ledger.Booking{
		ID:      "booking-lifecycle",
		GuestID: g.ID,
		Stay:    ledger.Stay{CheckIn: today.AddDays(14), CheckOut: today.AddDays(20)},
	}
	if _, err := l.ConfirmBooking(ctx, b, scenarioActor); err != nil {
		return "", err
	}
	log.add("booking %s confirmed for %d nights", b.ID, b.Stay.Nights())

	b.Stay.CheckOut = today.AddDays(22)
	if _, err := l.AmendBooking(ctx, b, scenarioActor); err != nil {
		return "", err
	}
	log.add("booking %s amended to %d nights", b.ID, b.Stay.Nights())

	res, err := l.Release(ctx, b, ledger.NoCharge, scenarioActor)
	if err != nil {
		return "", err
	}
	log.add("booking %s cancelled as %s, %d nights returned", b.ID, res.Status, res.Refunded.Primary)
	return g.ID, nil
}

func loadSplitAllocation(ctx context.Context, l *ledger.Ledger, log *stepLog) (ledger.GuestID, error) {
	today := l.Today()
	g, err := l.RegisterGuest(ctx, ledger.Guest{ID: "guest-split", Name: "Sam Lee"}, scenarioActor)
	if err != nil {
		return "", err
	}
	soon, err := l.CreateApproval(ctx, ledger.ApprovalInput{
		GuestID:        g.ID,
		FundingType:    ledger.FundingICare,
		From:           today.AddDays(-30).Ptr(),
		To:             today.AddDays(30).Ptr(),
		NightsApproved: intPtr(3),
	}, scenarioActor)
	if err != nil {
		return "", err
	}
	later, err := l.CreateApproval(ctx, ledger.ApprovalInput{
		GuestID:        g.ID,
		FundingType:    ledger.FundingNDIS,
		From:           today.AddDays(-30).Ptr(),
		To:             today.AddDays(180).Ptr(),
		NightsApproved: intPtr(10),
	}, scenarioActor)
	if err != nil {
		return "", err
	}
	log.add("approval %s: 3 nights, expires %s", soon.ID, soon.Window.To)
	log.add("approval %s: 10 nights, expires %s", later.ID, later.Window.To)

	b := ledger.Booking{
		ID:      "booking-split",
		GuestID: g.ID,
		Stay:    ledger.Stay{CheckIn: today.AddDays(7), CheckOut: today.AddDays(12)},
	}
	records, err := l.ConfirmBooking(ctx, b, scenarioActor)
	if err != nil {
		return "", err
	}
	for _, r := range records {
		log.add("booking %s took %d nights from %s", b.ID, r.Nights, r.ApprovalID)
	}
	return g.ID, nil
}

func loadAdditionalRooms(ctx context.Context, l *ledger.Ledger, log *stepLog) (ledger.GuestID, error) {
	today := l.Today()
	g, err := l.RegisterGuest(ctx, ledger.Guest{ID: "guest-rooms", Name: "Jordan Reyes"}, scenarioActor)
	if err != nil {
		return "", err
	}
	a, err := l.CreateApproval(ctx, ledger.ApprovalInput{
		GuestID:                  g.ID,
		FundingType:              ledger.FundingDVA,
		NightsApproved:           intPtr(14),
		AdditionalNightsApproved: intPtr(7),
		AdditionalRoomCategoryID: "carer",
	}, scenarioActor)
	if err != nil {
		return "", err
	}
	log.add("approval %s: 14 nights, 7 additional carer-room nights, no expiry", a.ID)

	b := ledger.Booking{
		ID:      "booking-rooms",
		GuestID: g.ID,
		Stay:    ledger.Stay{CheckIn: today.AddDays(3), CheckOut: today.AddDays(7)},
		Rooms:   ledger.RoomConfiguration{AdditionalRooms: 1, AdditionalRoomCategoryID: "carer"},
	}
	if _, err := l.ConfirmBooking(ctx, b, scenarioActor); err != nil {
		return "", err
	}
	need := b.RequiredNights()
	log.add("booking %s confirmed: %d primary + %d additional nights", b.ID, need.Primary, need.Additional)
	return g.ID, nil
}
