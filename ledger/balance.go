/*
balance.go - Pure balance, validity and eligibility functions

PURPOSE:
  Everything here is side-effect free and total over well-formed input. The
  administration UI reads balances through these functions; the engines use
  them to pick and order candidate Approvals.

REMAINING:
  remaining = max(0, approved - used), or Unbounded when approved is nil.
  An Approval with unlimited primary nights still honours the cap on its
  additional-room pool.

VALIDITY:
  valid(asOf) = status == active AND window contains asOf
  (an unbounded window contains every date)

ELIGIBILITY:
  eligible(booking) = valid(asOf)
                      AND the stay's nights overlap the window
                      AND EligibilityRules allow the funding/package pairing
*/
package ledger

import (
	"cmp"
	"math"

	"github.com/shopspring/decimal"
)

// Remaining is a pool balance that may be unbounded.
type Remaining struct {
	Nights    int
	Unbounded bool
}

// Covers reports whether n nights fit in the remaining balance.
func (r Remaining) Covers(n int) bool { return r.Unbounded || r.Nights >= n }

// Take returns how many of want nights this balance can provide.
func (r Remaining) Take(want int) int {
	if r.Unbounded {
		return want
	}
	return min(want, r.Nights)
}

// sortKey orders balances, treating unbounded as larger than any finite one.
func (r Remaining) sortKey() int {
	if r.Unbounded {
		return math.MaxInt
	}
	return r.Nights
}

// RemainingNights returns what is left in pool p. An Approval without the
// pool has nothing remaining.
func RemainingNights(a Approval, p Pool) Remaining {
	pb, ok := a.Pool(p)
	if !ok {
		return Remaining{}
	}
	if pb.Approved == nil {
		return Remaining{Unbounded: true}
	}
	return Remaining{Nights: max(0, *pb.Approved-pb.Used)}
}

// IsValid reports whether a can be consumed from on asOf.
func IsValid(a Approval, asOf Date) bool {
	return a.Status == StatusActive && a.Window.Contains(asOf)
}

// EffectiveStatus derives the status shown to readers: an active Approval
// whose window has closed reads as expired.
func EffectiveStatus(a Approval, asOf Date) ApprovalStatus {
	if a.Status == StatusActive && a.Window.To != nil && asOf.After(*a.Window.To) {
		return StatusExpired
	}
	return a.Status
}

// IsEligible reports whether a may fund booking b, evaluated on asOf.
func IsEligible(a Approval, b Booking, asOf Date, rules EligibilityRules) bool {
	if a.GuestID != b.GuestID {
		return false
	}
	if !IsValid(a, asOf) {
		return false
	}
	if b.Stay.Nights() <= 0 || !a.Window.Overlaps(b.Stay.CheckIn, b.Stay.LastNight()) {
		return false
	}
	return rules.Allows(a, b)
}

// IsEligibleForPool adds the pool-specific conditions to IsEligible: the
// additional pool must exist, and a named room category must match.
func IsEligibleForPool(a Approval, b Booking, p Pool, asOf Date, rules EligibilityRules) bool {
	if !IsEligible(a, b, asOf, rules) {
		return false
	}
	if p == PoolAdditional {
		if a.Additional == nil {
			return false
		}
		if a.AdditionalRoomCategoryID != "" && b.Rooms.AdditionalRoomCategoryID != "" &&
			a.AdditionalRoomCategoryID != b.Rooms.AdditionalRoomCategoryID {
			return false
		}
	}
	return true
}

// Utilization is used/approved for a capped pool, rounded to four places.
// It returns false for unbounded pools and pools with nothing approved.
func Utilization(a Approval, p Pool) (decimal.Decimal, bool) {
	pb, ok := a.Pool(p)
	if !ok || pb.Approved == nil || *pb.Approved == 0 {
		return decimal.Zero, false
	}
	used := decimal.NewFromInt(int64(pb.Used))
	approved := decimal.NewFromInt(int64(*pb.Approved))
	return used.Div(approved).Round(4), true
}

// =============================================================================
// CANDIDATE ORDERING
// =============================================================================

// compareCandidates orders Approvals soonest-expiring first (open-ended
// last), then lowest remaining balance first. Creation time and ID break
// the remaining ties so allocation is deterministic.
func compareCandidates(p Pool) func(a, b Approval) int {
	return func(a, b Approval) int {
		if c := compareExpiry(a.Window.To, b.Window.To); c != 0 {
			return c
		}
		if c := cmp.Compare(RemainingNights(a, p).sortKey(), RemainingNights(b, p).sortKey()); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}
}

func compareExpiry(a, b *Date) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	}
	return 0
}
