/*
Package ledger provides the funding-approval ledger.

PURPOSE:
  Tracks how many pre-approved nights of subsidized accommodation a guest
  has been granted by an external funder, how many of those nights are
  consumed by confirmed bookings, and how cancellations and amendments move
  that balance. It is a resource-accounting problem with the hazards of a
  financial ledger: double-spend races, partial refunds, several concurrent
  pools per guest, and an audit trail.

KEY CONCEPTS IN THIS FILE (types.go):
  - Approval: An entitlement from one funder to one guest, with a validity
    window and two independent pools (primary, additional room)
  - PoolBalance: approved/used counters of one pool (approved nil = no cap)
  - UsageRecord: Nights consumed from one Approval pool by one booking
  - Nights: A per-pool requirement ({primary, additional})

INVARIANTS:
  - used <= approved whenever approved is set, for both pools
  - an Approval is valid iff status = active AND today is inside its window
  - for every Approval and pool, used == sum(nights) of records whose
    status counts against the balance (confirmed, charged, late_cancelled)

OWNERSHIP:
  Approval is the aggregate root for balance invariants. The *_used counters
  are mutated only through Store.AdjustUsed; UsageRecords change only via
  Store.InsertUsage, Store.TransitionUsage and Store.ResizeUsage.

SEE ALSO:
  - balance.go:    Pure balance/validity/eligibility functions
  - allocation.go: Reserving nights for a booking
  - release.go:    Cancellation (refund vs. charge)
  - amendment.go:  Date/room changes on an allocated booking
  - store.go:      Persistence interface
*/
package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GuestID string
type ApprovalID string
type BookingID string
type UsageID string

// =============================================================================
// ENUMERATIONS
// =============================================================================

// FundingType identifies the external funder behind an Approval.
type FundingType string

const (
	FundingICare   FundingType = "icare"
	FundingNDIS    FundingType = "ndis"
	FundingPrivate FundingType = "private"
	FundingDVA     FundingType = "dva"
	FundingOther   FundingType = "other"
)

func (f FundingType) Valid() bool {
	switch f {
	case FundingICare, FundingNDIS, FundingPrivate, FundingDVA, FundingOther:
		return true
	}
	return false
}

// ApprovalStatus is the lifecycle status of an Approval.
// StatusExpired is never written; it is derived from the window at read time.
type ApprovalStatus string

const (
	StatusActive   ApprovalStatus = "active"
	StatusInactive ApprovalStatus = "inactive"
	StatusExpired  ApprovalStatus = "expired"
)

// Pool selects one of the two independent night allocations on an Approval.
type Pool string

const (
	PoolPrimary    Pool = "primary"
	PoolAdditional Pool = "additional"
)

// Pools lists pools in allocation order.
var Pools = []Pool{PoolPrimary, PoolAdditional}

func (p Pool) Valid() bool { return p == PoolPrimary || p == PoolAdditional }

// UsageStatus is the lifecycle status of a UsageRecord.
//
//	pending -> confirmed -> {cancelled | late_cancelled | charged}
type UsageStatus string

const (
	UsagePending       UsageStatus = "pending"
	UsageConfirmed     UsageStatus = "confirmed"
	UsageCancelled     UsageStatus = "cancelled"
	UsageLateCancelled UsageStatus = "late_cancelled"
	UsageCharged       UsageStatus = "charged"
)

// Counted reports whether records in this status count against an
// Approval's used counter.
func (s UsageStatus) Counted() bool {
	return s == UsageConfirmed || s == UsageCharged || s == UsageLateCancelled
}

// Terminal reports whether no further mutation is allowed.
func (s UsageStatus) Terminal() bool {
	return s == UsageCancelled || s == UsageCharged || s == UsageLateCancelled
}

// CanTransition reports whether a UsageRecord may move from one status to another.
func CanTransition(from, to UsageStatus) bool {
	switch from {
	case UsagePending:
		return to == UsageConfirmed || to == UsageCancelled
	case UsageConfirmed:
		return to == UsageCancelled || to == UsageLateCancelled || to == UsageCharged
	}
	return false
}

// =============================================================================
// APPROVAL - Aggregate root for balance invariants
// =============================================================================

// PoolBalance holds the counters of one pool. Approved nil means no cap.
type PoolBalance struct {
	Approved *int
	Used     int
}

// Capped reports whether the pool has a finite allocation.
func (pb PoolBalance) Capped() bool { return pb.Approved != nil }

// Window is a validity window. A nil bound is open on that side.
type Window struct {
	From *Date
	To   *Date
}

// Unbounded reports whether neither side of the window is set.
func (w Window) Unbounded() bool { return w.From == nil && w.To == nil }

// Contains reports whether d falls inside [From, To].
func (w Window) Contains(d Date) bool {
	if w.From != nil && d.Before(*w.From) {
		return false
	}
	if w.To != nil && d.After(*w.To) {
		return false
	}
	return true
}

// Overlaps reports whether any day of [first, last] falls inside the window.
func (w Window) Overlaps(first, last Date) bool {
	if w.From != nil && last.Before(*w.From) {
		return false
	}
	if w.To != nil && first.After(*w.To) {
		return false
	}
	return true
}

type Approval struct {
	ID          ApprovalID
	GuestID     GuestID
	FundingType FundingType
	Window      Window

	Primary    PoolBalance
	Additional *PoolBalance // nil = no additional-room allocation

	Status ApprovalStatus

	RatePackageID            string
	AdditionalRoomCategoryID string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pool returns the counters for p, and false if the Approval has no such pool.
func (a Approval) Pool(p Pool) (PoolBalance, bool) {
	switch p {
	case PoolPrimary:
		return a.Primary, true
	case PoolAdditional:
		if a.Additional == nil {
			return PoolBalance{}, false
		}
		return *a.Additional, true
	}
	return PoolBalance{}, false
}

// =============================================================================
// USAGE RECORD - Consumption of one Approval pool by one booking
// =============================================================================

type UsageRecord struct {
	ID         UsageID
	BookingID  BookingID
	ApprovalID ApprovalID
	Pool       Pool
	Nights     int
	Status     UsageStatus

	// Sequence is assigned by the store and orders records by allocation time.
	Sequence int64

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Nights is a per-pool requirement or total.
type Nights struct {
	Primary    int
	Additional int
}

func (n Nights) Get(p Pool) int {
	if p == PoolAdditional {
		return n.Additional
	}
	return n.Primary
}

func (n *Nights) add(p Pool, v int) {
	if p == PoolAdditional {
		n.Additional += v
		return
	}
	n.Primary += v
}

func (n Nights) IsZero() bool { return n.Primary == 0 && n.Additional == 0 }

// ConsumedNights sums the nights of confirmed records per pool. Settled
// records are excluded: they belong to an earlier version of the booking.
func ConsumedNights(records []UsageRecord) Nights {
	var n Nights
	for _, r := range records {
		if r.Status == UsageConfirmed {
			n.add(r.Pool, r.Nights)
		}
	}
	return n
}

// =============================================================================
// GUEST
// =============================================================================

type Guest struct {
	ID        GuestID
	Name      string
	CreatedAt time.Time
}

// Actor identifies who triggered a ledger operation, for the audit trail.
type Actor struct {
	Type string // "admin", "guest", "system"
	ID   string
}

var SystemActor = Actor{Type: "system"}
