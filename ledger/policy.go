/*
policy.go - Eligibility rules and cancellation timing policy

ELIGIBILITY RULES:
  Package compatibility is always enforced: if both the Approval and the
  booking name a rate package, they must match. Funders can additionally be
  configured to require a package, or to restrict the packages they fund:

    rules := EligibilityRules{
        ByFunding: map[FundingType]FundingRule{
            FundingNDIS: {RequirePackage: true, AllowedPackages: []string{"respite"}},
        },
    }

CANCELLATION POLICY:
  Whether cancelled nights return to the pool is not left to whoever clicks
  the button. The requested charge type is resolved against a no-refund
  window before check-in:

    requested     | outside window | inside window
    --------------+----------------+------------------------------------
    full_charge   | charged        | late_cancelled
    no_charge     | cancelled      | cancelled (late_cancelled if Enforce)

SEE ALSO:
  - factory/policy.go: JSON configuration for both
  - release.go: Applies the resolved status
*/
package ledger

import (
	"slices"
	"time"
)

// =============================================================================
// ELIGIBILITY RULES
// =============================================================================

// FundingRule restricts which bookings a funding type may pay for.
type FundingRule struct {
	RequirePackage  bool
	AllowedPackages []string
}

type EligibilityRules struct {
	ByFunding map[FundingType]FundingRule
}

// Allows reports whether the funding/package rules permit a to fund b.
func (r EligibilityRules) Allows(a Approval, b Booking) bool {
	if a.RatePackageID != "" && b.RatePackageID != "" && a.RatePackageID != b.RatePackageID {
		return false
	}
	rule, ok := r.ByFunding[a.FundingType]
	if !ok {
		return true
	}
	if rule.RequirePackage && b.RatePackageID == "" {
		return false
	}
	if len(rule.AllowedPackages) > 0 && !slices.Contains(rule.AllowedPackages, b.RatePackageID) {
		return false
	}
	return true
}

// =============================================================================
// CANCELLATION POLICY
// =============================================================================

// ChargeType is what the operator asks for when cancelling.
type ChargeType string

const (
	NoCharge   ChargeType = "no_charge"
	FullCharge ChargeType = "full_charge"
)

func (c ChargeType) Valid() bool { return c == NoCharge || c == FullCharge }

type CancellationPolicy struct {
	// NoRefundWindow is measured back from check-in (midnight UTC). Zero disables it.
	NoRefundWindow time.Duration

	// EnforceWindow turns no_charge cancellations inside the window into late cancellations.
	EnforceWindow bool
}

// InsideWindow reports whether cancelling at the given instant falls inside
// the no-refund window for a stay starting at checkIn.
func (p CancellationPolicy) InsideWindow(cancelledAt time.Time, checkIn Date) bool {
	if p.NoRefundWindow <= 0 || checkIn.IsZero() {
		return false
	}
	return checkIn.Time().Sub(cancelledAt) < p.NoRefundWindow
}

// Resolve maps a requested charge type to the final UsageRecord status.
func (p CancellationPolicy) Resolve(requested ChargeType, cancelledAt time.Time, checkIn Date) UsageStatus {
	inside := p.InsideWindow(cancelledAt, checkIn)
	switch requested {
	case FullCharge:
		if inside {
			return UsageLateCancelled
		}
		return UsageCharged
	default:
		if inside && p.EnforceWindow {
			return UsageLateCancelled
		}
		return UsageCancelled
	}
}
