/*
handlers.go - HTTP API handlers for the funding ledger

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response and JSON
  serialization, and delegates everything else to the ledger package.

ENDPOINTS:
  Guests:
    POST   /api/guests                   Create or rename a guest
    GET    /api/guests/{id}              Get guest
    GET    /api/guests/{id}/approvals    Approvals with balances

  Approvals:
    POST   /api/approvals                Grant an approval
    GET    /api/approvals/{id}           Approval with balances
    POST   /api/approvals/{id}/status    Activate / deactivate
    GET    /api/approvals/{id}/usage     UsageRecords drawn against it

  Booking lifecycle (called by the booking subsystem):
    POST   /api/bookings/{id}/confirm    Allocate nights
    POST   /api/bookings/{id}/cancel     Release nights
    POST   /api/bookings/{id}/amend      Reconcile to the new requirement
    GET    /api/bookings/{id}/usage      UsageRecords of the booking

  Reconciliation:
    GET    /api/reconciliation/runs      Drift verification history
    POST   /api/reconciliation/run       Run verification now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Guest, approval or usage record not found
  - 409: Booking already allocated with different nights
  - 422: No eligible approval / insufficient nights
  - 503: Concurrent modification after retries (safe to retry)
  - 500: Invariant violations and internal errors

ACTOR:
  Mutations are attributed to the X-Actor-ID header (actor type "user"),
  or to the system actor when it is absent.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/funding-ledger/ledger"
	"github.com/warp/funding-ledger/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Ledger
	Store     *sqlite.Store
	Scheduler *ReconciliationScheduler
	Log       zerolog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. The ledger must be backed by store.
func NewHandler(l *ledger.Ledger, store *sqlite.Store, log zerolog.Logger) *Handler {
	h := &Handler{Ledger: l, Store: store, Log: log}
	h.Scheduler = NewReconciliationScheduler(l, store, log)
	h.Scheduler.Enabled = false
	return h
}

// =============================================================================
// GUEST HANDLERS
// =============================================================================

// CreateGuest creates or renames a guest.
// POST /api/guests
func (h *Handler) CreateGuest(w http.ResponseWriter, r *http.Request) {
	var req CreateGuestRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	g, err := h.Ledger.RegisterGuest(r.Context(), ledger.Guest{ID: ledger.GuestID(req.ID), Name: req.Name}, actorFrom(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGuestDTO(g))
}

// GetGuest returns one guest.
// GET /api/guests/{id}
func (h *Handler) GetGuest(w http.ResponseWriter, r *http.Request) {
	g, err := h.Store.GetGuest(r.Context(), ledger.GuestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGuestDTO(g))
}

// ListGuestApprovals returns the guest's approvals with balances.
// GET /api/guests/{id}/approvals
func (h *Handler) ListGuestApprovals(w http.ResponseWriter, r *http.Request) {
	views, err := h.Ledger.Balances(r.Context(), ledger.GuestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	out := make([]ApprovalDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toApprovalDTO(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// APPROVAL HANDLERS
// =============================================================================

// CreateApproval grants a funding approval.
// POST /api/approvals
func (h *Handler) CreateApproval(w http.ResponseWriter, r *http.Request) {
	var req CreateApprovalRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid approval", err)
		return
	}
	a, err := h.Ledger.CreateApproval(r.Context(), in, actorFrom(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApprovalDTO(ledger.BalanceOf(a, h.Ledger.Today())))
}

func (req CreateApprovalRequest) toInput() (ledger.ApprovalInput, error) {
	in := ledger.ApprovalInput{
		GuestID:                  ledger.GuestID(req.GuestID),
		FundingType:              ledger.FundingType(req.FundingType),
		NightsApproved:           req.NightsApproved,
		AdditionalNightsApproved: req.AdditionalNightsApproved,
		HasAdditionalPool:        req.HasAdditionalPool,
		RatePackageID:            req.RatePackageID,
		AdditionalRoomCategoryID: req.AdditionalRoomCategoryID,
	}
	var err error
	if req.ValidFrom != nil {
		if in.From, err = ledger.ParseDatePtr(*req.ValidFrom); err != nil {
			return in, fmt.Errorf("valid_from: %w", err)
		}
	}
	if req.ValidTo != nil {
		if in.To, err = ledger.ParseDatePtr(*req.ValidTo); err != nil {
			return in, fmt.Errorf("valid_to: %w", err)
		}
	}
	switch ledger.ApprovalStatus(req.Status) {
	case "", ledger.StatusActive:
	case ledger.StatusInactive:
		in.Inactive = true
	default:
		return in, fmt.Errorf("status must be active or inactive, got %q", req.Status)
	}
	return in, nil
}

// GetApproval returns one approval with balances.
// GET /api/approvals/{id}
func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	a, err := h.Store.GetApproval(r.Context(), ledger.ApprovalID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(ledger.BalanceOf(a, h.Ledger.Today())))
}

// SetApprovalStatus activates or deactivates an approval.
// POST /api/approvals/{id}/status
func (h *Handler) SetApprovalStatus(w http.ResponseWriter, r *http.Request) {
	var req SetApprovalStatusRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.Ledger.SetApprovalStatus(r.Context(),
		ledger.ApprovalID(chi.URLParam(r, "id")), ledger.ApprovalStatus(req.Status), actorFrom(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(ledger.BalanceOf(a, h.Ledger.Today())))
}

// GetApprovalUsage lists the records drawn against an approval.
// GET /api/approvals/{id}/usage
func (h *Handler) GetApprovalUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.ApprovalID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetApproval(ctx, id); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	records, err := h.Store.ListUsageByApproval(ctx, id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUsageDTOs(records))
}

// =============================================================================
// BOOKING LIFECYCLE HANDLERS
// =============================================================================

// ConfirmBooking allocates nights for a confirmed booking.
// POST /api/bookings/{id}/confirm
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	b, nights, ok := h.bookingFrom(w, r)
	if !ok {
		return
	}
	records, err := h.Ledger.Allocate(r.Context(), b, nights, actorFrom(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AllocationResponse{
		BookingID: string(b.ID),
		Nights:    NightsDTO{Primary: nights.Primary, Additional: nights.Additional},
		Records:   toUsageDTOs(records),
	})
}

// AmendBooking reconciles a booking whose stay or rooms changed.
// POST /api/bookings/{id}/amend
func (h *Handler) AmendBooking(w http.ResponseWriter, r *http.Request) {
	b, nights, ok := h.bookingFrom(w, r)
	if !ok {
		return
	}
	records, err := h.Ledger.Reconcile(r.Context(), b, nights, actorFrom(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AllocationResponse{
		BookingID: string(b.ID),
		Nights:    NightsDTO{Primary: nights.Primary, Additional: nights.Additional},
		Records:   toUsageDTOs(records),
	})
}

// CancelBooking releases a cancelled booking.
// POST /api/bookings/{id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req CancelBookingRequest
	if !decode(w, r, &req) {
		return
	}
	checkIn, err := ledger.ParseDate(req.CheckIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "check_in is required", err)
		return
	}
	b := ledger.Booking{ID: ledger.BookingID(chi.URLParam(r, "id")), Stay: ledger.Stay{CheckIn: checkIn}}
	res, err := h.Ledger.Release(r.Context(), b, ledger.ChargeType(req.ChargeType), actorFrom(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReleaseResponse{
		BookingID:  string(b.ID),
		Status:     string(res.Status),
		Refunded:   NightsDTO{Primary: res.Refunded.Primary, Additional: res.Refunded.Additional},
		Records:    toUsageDTOs(res.Records),
		Violations: len(res.Violations),
	})
}

// GetBookingUsage lists every record of a booking.
// GET /api/bookings/{id}/usage
func (h *Handler) GetBookingUsage(w http.ResponseWriter, r *http.Request) {
	records, err := h.Ledger.BookingUsage(r.Context(), ledger.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUsageDTOs(records))
}

// bookingFrom decodes a BookingRequest for the booking in the URL.
func (h *Handler) bookingFrom(w http.ResponseWriter, r *http.Request) (ledger.Booking, ledger.Nights, bool) {
	var req BookingRequest
	if !decode(w, r, &req) {
		return ledger.Booking{}, ledger.Nights{}, false
	}
	checkIn, err := ledger.ParseDate(req.CheckIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid check_in", err)
		return ledger.Booking{}, ledger.Nights{}, false
	}
	checkOut, err := ledger.ParseDate(req.CheckOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid check_out", err)
		return ledger.Booking{}, ledger.Nights{}, false
	}
	b := ledger.Booking{
		ID:      ledger.BookingID(chi.URLParam(r, "id")),
		GuestID: ledger.GuestID(req.GuestID),
		Stay:    ledger.Stay{CheckIn: checkIn, CheckOut: checkOut},
		Rooms: ledger.RoomConfiguration{
			AdditionalRooms:          req.AdditionalRooms,
			AdditionalRoomCategoryID: req.AdditionalRoomCategoryID,
		},
		RatePackageID: req.RatePackageID,
	}
	nights := b.RequiredNights()
	if req.PrimaryNights != nil {
		nights.Primary = *req.PrimaryNights
	}
	if req.AdditionalNights != nil {
		nights.Additional = *req.AdditionalNights
	}
	return b, nights, true
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// ListReconciliationRuns returns drift verification history.
// GET /api/reconciliation/runs?status=drift_detected&limit=20
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}
	runs, err := h.Store.GetReconciliationRuns(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reconciliation runs", err)
		return
	}
	out := make([]ReconciliationRunDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// RunReconciliation runs drift verification immediately.
// POST /api/reconciliation/run
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	run, err := h.Scheduler.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// =============================================================================
// HELPERS
// =============================================================================

func actorFrom(r *http.Request) ledger.Actor {
	if id := r.Header.Get("X-Actor-ID"); id != "" {
		return ledger.Actor{Type: "user", ID: id}
	}
	return ledger.SystemActor
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	return true
}

// writeLedgerError maps ledger errors to HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	msg := ledger.UserMessage(err)
	switch {
	case errors.Is(err, ledger.ErrNoEligibleApproval):
		writeCodedError(w, http.StatusUnprocessableEntity, msg, "no_eligible_approval", err)
	case errors.Is(err, ledger.ErrInsufficientNights):
		writeCodedError(w, http.StatusUnprocessableEntity, msg, "insufficient_nights", err)
	case errors.Is(err, ledger.ErrConcurrentModification):
		writeCodedError(w, http.StatusServiceUnavailable, msg, "concurrent_modification", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, msg, err)
	case errors.Is(err, ledger.ErrAlreadyAllocated):
		writeCodedError(w, http.StatusConflict, msg, "already_allocated", err)
	case errors.Is(err, ledger.ErrInvalidTransition):
		writeCodedError(w, http.StatusConflict, msg, "booking_settled", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, msg, err)
	case errors.Is(err, ledger.ErrInvariantViolation):
		h.Log.Error().Err(err).Msg("invariant violation surfaced to client")
		writeCodedError(w, http.StatusInternalServerError, msg, "invariant_violation", nil)
	default:
		h.Log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, msg, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	writeCodedError(w, status, message, "", err)
}

func writeCodedError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
