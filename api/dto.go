/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

DATES:
  Calendar dates are "2006-01-02" strings. A missing validity bound is
  null (unbounded). Timestamps are RFC 3339.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/funding-ledger/ledger"
	"github.com/warp/funding-ledger/store/sqlite"
)

// =============================================================================
// GUESTS
// =============================================================================

type CreateGuestRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type GuestDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toGuestDTO(g ledger.Guest) GuestDTO {
	return GuestDTO{ID: string(g.ID), Name: g.Name, CreatedAt: g.CreatedAt}
}

// =============================================================================
// APPROVALS
// =============================================================================

type CreateApprovalRequest struct {
	GuestID                  string  `json:"guest_id"`
	FundingType              string  `json:"funding_type"`
	ValidFrom                *string `json:"valid_from,omitempty"`
	ValidTo                  *string `json:"valid_to,omitempty"`
	NightsApproved           *int    `json:"nights_approved"`
	AdditionalNightsApproved *int    `json:"additional_nights_approved,omitempty"`
	HasAdditionalPool        bool    `json:"has_additional_pool,omitempty"`
	RatePackageID            string  `json:"rate_package_id,omitempty"`
	AdditionalRoomCategoryID string  `json:"additional_room_category_id,omitempty"`
	Status                   string  `json:"status,omitempty"` // active (default) or inactive
}

type SetApprovalStatusRequest struct {
	Status string `json:"status"`
}

// PoolBalanceDTO is one pool of an Approval. Remaining is null when the
// pool is unbounded.
type PoolBalanceDTO struct {
	Pool        string  `json:"pool"`
	Approved    *int    `json:"approved"`
	Used        int     `json:"used"`
	Remaining   *int    `json:"remaining"`
	Unbounded   bool    `json:"unbounded"`
	Utilization *string `json:"utilization,omitempty"`
}

type ApprovalDTO struct {
	ID                       string           `json:"id"`
	GuestID                  string           `json:"guest_id"`
	FundingType              string           `json:"funding_type"`
	ValidFrom                *string          `json:"valid_from"`
	ValidTo                  *string          `json:"valid_to"`
	Status                   string           `json:"status"`
	EffectiveStatus          string           `json:"effective_status"`
	Valid                    bool             `json:"valid"`
	Pools                    []PoolBalanceDTO `json:"pools"`
	RatePackageID            string           `json:"rate_package_id,omitempty"`
	AdditionalRoomCategoryID string           `json:"additional_room_category_id,omitempty"`
	Version                  int64            `json:"version"`
	CreatedAt                time.Time        `json:"created_at"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

func toApprovalDTO(v ledger.BalanceView) ApprovalDTO {
	a := v.Approval
	dto := ApprovalDTO{
		ID:                       string(a.ID),
		GuestID:                  string(a.GuestID),
		FundingType:              string(a.FundingType),
		ValidFrom:                datePtr(a.Window.From),
		ValidTo:                  datePtr(a.Window.To),
		Status:                   string(a.Status),
		EffectiveStatus:          string(v.EffectiveStatus),
		Valid:                    v.Valid,
		Pools:                    make([]PoolBalanceDTO, 0, len(v.Pools)),
		RatePackageID:            a.RatePackageID,
		AdditionalRoomCategoryID: a.AdditionalRoomCategoryID,
		Version:                  a.Version,
		CreatedAt:                a.CreatedAt,
		UpdatedAt:                a.UpdatedAt,
	}
	for _, p := range v.Pools {
		pd := PoolBalanceDTO{
			Pool:        string(p.Pool),
			Approved:    p.Approved,
			Used:        p.Used,
			Unbounded:   p.Remaining.Unbounded,
			Utilization: p.Utilization,
		}
		if !p.Remaining.Unbounded {
			n := p.Remaining.Nights
			pd.Remaining = &n
		}
		dto.Pools = append(dto.Pools, pd)
	}
	return dto
}

// =============================================================================
// BOOKINGS
// =============================================================================

// BookingRequest describes the booking on a lifecycle event. Primary and
// additional nights default to what the stay and rooms require.
type BookingRequest struct {
	GuestID                  string `json:"guest_id"`
	CheckIn                  string `json:"check_in"`
	CheckOut                 string `json:"check_out"`
	AdditionalRooms          int    `json:"additional_rooms,omitempty"`
	AdditionalRoomCategoryID string `json:"additional_room_category_id,omitempty"`
	RatePackageID            string `json:"rate_package_id,omitempty"`
	PrimaryNights            *int   `json:"primary_nights,omitempty"`
	AdditionalNights         *int   `json:"additional_nights,omitempty"`
}

type CancelBookingRequest struct {
	ChargeType string `json:"charge_type"` // no_charge or full_charge
	CheckIn    string `json:"check_in,omitempty"`
}

type UsageRecordDTO struct {
	ID         string    `json:"id"`
	BookingID  string    `json:"booking_id"`
	ApprovalID string    `json:"approval_id"`
	Pool       string    `json:"pool"`
	Nights     int       `json:"nights"`
	Status     string    `json:"status"`
	Sequence   int64     `json:"sequence"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toUsageDTOs(records []ledger.UsageRecord) []UsageRecordDTO {
	out := make([]UsageRecordDTO, 0, len(records))
	for _, r := range records {
		out = append(out, UsageRecordDTO{
			ID:         string(r.ID),
			BookingID:  string(r.BookingID),
			ApprovalID: string(r.ApprovalID),
			Pool:       string(r.Pool),
			Nights:     r.Nights,
			Status:     string(r.Status),
			Sequence:   r.Sequence,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		})
	}
	return out
}

type NightsDTO struct {
	Primary    int `json:"primary"`
	Additional int `json:"additional"`
}

type AllocationResponse struct {
	BookingID string           `json:"booking_id"`
	Nights    NightsDTO        `json:"nights"`
	Records   []UsageRecordDTO `json:"records"`
}

type ReleaseResponse struct {
	BookingID  string           `json:"booking_id"`
	Status     string           `json:"status"`
	Refunded   NightsDTO        `json:"refunded"`
	Records    []UsageRecordDTO `json:"records"`
	Violations int              `json:"violations"`
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

type ReconciliationRunDTO struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Checked     int        `json:"checked"`
	Violations  int        `json:"violations"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toRunDTO(r sqlite.ReconciliationRun) ReconciliationRunDTO {
	return ReconciliationRunDTO{
		ID:          r.ID,
		Status:      r.Status,
		Checked:     r.Checked,
		Violations:  r.Violations,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

// ViolationDTO is one drift finding in a run report.
type ViolationDTO struct {
	ApprovalID string `json:"approval_id"`
	Pool       string `json:"pool"`
	Kind       string `json:"kind"`
	Expected   int    `json:"expected"`
	Actual     int    `json:"actual"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	ScenarioID string        `json:"scenario_id"`
	GuestID    string        `json:"guest_id"`
	Steps      []string      `json:"steps"`
	Approvals  []ApprovalDTO `json:"approvals"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func datePtr(d *ledger.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
