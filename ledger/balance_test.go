package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/funding-ledger/ledger"
)

// =============================================================================
// REMAINING NIGHTS
// =============================================================================

func TestRemainingNights(t *testing.T) {
	tests := []struct {
		name string
		a    ledger.Approval
		pool ledger.Pool
		want ledger.Remaining
	}{
		{
			name: "capped pool",
			a:    ledger.Approval{Primary: ledger.PoolBalance{Approved: nights(10), Used: 4}},
			pool: ledger.PoolPrimary,
			want: ledger.Remaining{Nights: 6},
		},
		{
			name: "overdrawn pool reads as zero",
			a:    ledger.Approval{Primary: ledger.PoolBalance{Approved: nights(3), Used: 5}},
			pool: ledger.PoolPrimary,
			want: ledger.Remaining{Nights: 0},
		},
		{
			name: "no cap is unbounded",
			a:    ledger.Approval{Primary: ledger.PoolBalance{Used: 40}},
			pool: ledger.PoolPrimary,
			want: ledger.Remaining{Unbounded: true},
		},
		{
			name: "missing additional pool has nothing",
			a:    ledger.Approval{Primary: ledger.PoolBalance{Approved: nights(10)}},
			pool: ledger.PoolAdditional,
			want: ledger.Remaining{},
		},
		{
			name: "unbounded primary still honours additional cap",
			a: ledger.Approval{
				Primary:    ledger.PoolBalance{},
				Additional: &ledger.PoolBalance{Approved: nights(2), Used: 1},
			},
			pool: ledger.PoolAdditional,
			want: ledger.Remaining{Nights: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.RemainingNights(tt.a, tt.pool))
		})
	}
}

func TestRemaining_CoversAndTake(t *testing.T) {
	r := ledger.Remaining{Nights: 3}
	assert.True(t, r.Covers(3))
	assert.False(t, r.Covers(4))
	assert.Equal(t, 3, r.Take(5))
	assert.Equal(t, 2, r.Take(2))

	u := ledger.Remaining{Unbounded: true}
	assert.True(t, u.Covers(1000))
	assert.Equal(t, 1000, u.Take(1000))
}

// =============================================================================
// VALIDITY
// =============================================================================

func TestIsValid(t *testing.T) {
	today := ledger.NewDate(2025, time.March, 1)
	yesterday := today.AddDays(-1)
	tomorrow := today.AddDays(1)

	tests := []struct {
		name   string
		status ledger.ApprovalStatus
		window ledger.Window
		want   bool
	}{
		{"active, unbounded", ledger.StatusActive, ledger.Window{}, true},
		{"active, inside", ledger.StatusActive, ledger.Window{From: &yesterday, To: &tomorrow}, true},
		{"active, ends today", ledger.StatusActive, ledger.Window{To: &today}, true},
		{"active, starts today", ledger.StatusActive, ledger.Window{From: &today}, true},
		{"active, not started", ledger.StatusActive, ledger.Window{From: &tomorrow}, false},
		{"active, ended", ledger.StatusActive, ledger.Window{To: &yesterday}, false},
		{"inactive, inside", ledger.StatusInactive, ledger.Window{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ledger.Approval{Status: tt.status, Window: tt.window}
			assert.Equal(t, tt.want, ledger.IsValid(a, today))
		})
	}
}

func TestEffectiveStatus_ExpiredIsDerived(t *testing.T) {
	// GIVEN: An active approval whose window closed yesterday
	today := ledger.NewDate(2025, time.March, 1)
	yesterday := today.AddDays(-1)
	a := ledger.Approval{Status: ledger.StatusActive, Window: ledger.Window{To: &yesterday}}

	// THEN: It reads as expired, but the stored status is untouched
	assert.Equal(t, ledger.StatusExpired, ledger.EffectiveStatus(a, today))
	assert.Equal(t, ledger.StatusActive, a.Status)

	// AND: Inactive stays inactive regardless of window
	a.Status = ledger.StatusInactive
	assert.Equal(t, ledger.StatusInactive, ledger.EffectiveStatus(a, today))
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestIsEligible_StayMustOverlapWindow(t *testing.T) {
	today := ledger.NewDate(2025, time.March, 1)
	from := today
	to := today.AddDays(10)
	a := ledger.Approval{GuestID: "g1", Status: ledger.StatusActive, Window: ledger.Window{From: &from, To: &to}}

	stay := func(in, out int) ledger.Booking {
		return ledger.Booking{GuestID: "g1", Stay: ledger.Stay{CheckIn: today.AddDays(in), CheckOut: today.AddDays(out)}}
	}

	assert.True(t, ledger.IsEligible(a, stay(2, 5), today, ledger.EligibilityRules{}))
	assert.True(t, ledger.IsEligible(a, stay(9, 14), today, ledger.EligibilityRules{}), "last window day is occupied")
	assert.False(t, ledger.IsEligible(a, stay(11, 14), today, ledger.EligibilityRules{}), "stay starts after window")
	assert.False(t, ledger.IsEligible(a, stay(-5, 0), today, ledger.EligibilityRules{}), "check-out day is not a night")

	other := stay(2, 5)
	other.GuestID = "g2"
	assert.False(t, ledger.IsEligible(a, other, today, ledger.EligibilityRules{}), "other guest")
}

func TestEligibilityRules_Packages(t *testing.T) {
	rules := ledger.EligibilityRules{ByFunding: map[ledger.FundingType]ledger.FundingRule{
		ledger.FundingICare: {RequirePackage: true, AllowedPackages: []string{"respite"}},
	}}
	icare := ledger.Approval{FundingType: ledger.FundingICare}
	ndis := ledger.Approval{FundingType: ledger.FundingNDIS, RatePackageID: "standard"}

	assert.False(t, rules.Allows(icare, ledger.Booking{}), "package required")
	assert.False(t, rules.Allows(icare, ledger.Booking{RatePackageID: "holiday"}), "package not allowed")
	assert.True(t, rules.Allows(icare, ledger.Booking{RatePackageID: "respite"}))

	assert.True(t, rules.Allows(ndis, ledger.Booking{}), "no rule for ndis")
	assert.True(t, rules.Allows(ndis, ledger.Booking{RatePackageID: "standard"}))
	assert.False(t, rules.Allows(ndis, ledger.Booking{RatePackageID: "holiday"}), "approval package mismatch")
}

func TestIsEligibleForPool_AdditionalCategory(t *testing.T) {
	today := ledger.NewDate(2025, time.March, 1)
	a := ledger.Approval{
		GuestID:                  "g1",
		Status:                   ledger.StatusActive,
		Additional:               &ledger.PoolBalance{Approved: nights(5)},
		AdditionalRoomCategoryID: "carer",
	}
	b := ledger.Booking{
		GuestID: "g1",
		Stay:    ledger.Stay{CheckIn: today, CheckOut: today.AddDays(2)},
		Rooms:   ledger.RoomConfiguration{AdditionalRooms: 1, AdditionalRoomCategoryID: "carer"},
	}
	rules := ledger.EligibilityRules{}

	assert.True(t, ledger.IsEligibleForPool(a, b, ledger.PoolAdditional, today, rules))

	b.Rooms.AdditionalRoomCategoryID = "family"
	assert.False(t, ledger.IsEligibleForPool(a, b, ledger.PoolAdditional, today, rules), "category mismatch")
	assert.True(t, ledger.IsEligibleForPool(a, b, ledger.PoolPrimary, today, rules), "primary ignores category")

	a.Additional = nil
	b.Rooms.AdditionalRoomCategoryID = "carer"
	assert.False(t, ledger.IsEligibleForPool(a, b, ledger.PoolAdditional, today, rules), "no additional pool")
}

// =============================================================================
// VIEWS
// =============================================================================

func TestUtilization(t *testing.T) {
	a := ledger.Approval{
		Primary:    ledger.PoolBalance{Approved: nights(3), Used: 1},
		Additional: &ledger.PoolBalance{Used: 2},
	}
	u, ok := ledger.Utilization(a, ledger.PoolPrimary)
	assert.True(t, ok)
	assert.Equal(t, "0.3333", u.StringFixed(4))

	_, ok = ledger.Utilization(a, ledger.PoolAdditional)
	assert.False(t, ok, "unbounded pool has no ratio")
}

func TestBalanceOf(t *testing.T) {
	today := ledger.NewDate(2025, time.March, 1)
	a := ledger.Approval{
		Status:     ledger.StatusActive,
		Primary:    ledger.PoolBalance{Approved: nights(10), Used: 4},
		Additional: &ledger.PoolBalance{Approved: nights(4), Used: 4},
	}
	v := ledger.BalanceOf(a, today)

	assert.True(t, v.Valid)
	assert.Equal(t, ledger.StatusActive, v.EffectiveStatus)
	if assert.Len(t, v.Pools, 2) {
		assert.Equal(t, ledger.Remaining{Nights: 6}, v.Pools[0].Remaining)
		assert.Equal(t, "0.4000", *v.Pools[0].Utilization)
		assert.Equal(t, ledger.Remaining{Nights: 0}, v.Pools[1].Remaining)
		assert.Equal(t, "1.0000", *v.Pools[1].Utilization)
	}
}

// =============================================================================
// BOOKING
// =============================================================================

func TestBooking_RequiredNights(t *testing.T) {
	in := ledger.NewDate(2025, time.April, 10)
	b := ledger.Booking{
		ID:      "b1",
		GuestID: "g1",
		Stay:    ledger.Stay{CheckIn: in, CheckOut: in.AddDays(4)},
		Rooms:   ledger.RoomConfiguration{AdditionalRooms: 2},
	}
	assert.NoError(t, b.Validate())
	assert.Equal(t, ledger.Nights{Primary: 4, Additional: 8}, b.RequiredNights())

	b.Stay.CheckOut = in
	assert.ErrorIs(t, b.Validate(), ledger.ErrInvalidBooking)
}

func TestCancellationPolicy_Resolve(t *testing.T) {
	checkIn := ledger.NewDate(2025, time.March, 3)
	early := time.Date(2025, time.February, 20, 9, 0, 0, 0, time.UTC)
	late := time.Date(2025, time.March, 2, 9, 0, 0, 0, time.UTC)

	p := ledger.CancellationPolicy{NoRefundWindow: 48 * time.Hour}
	assert.Equal(t, ledger.UsageCancelled, p.Resolve(ledger.NoCharge, early, checkIn))
	assert.Equal(t, ledger.UsageCancelled, p.Resolve(ledger.NoCharge, late, checkIn))
	assert.Equal(t, ledger.UsageCharged, p.Resolve(ledger.FullCharge, early, checkIn))
	assert.Equal(t, ledger.UsageLateCancelled, p.Resolve(ledger.FullCharge, late, checkIn))

	p.EnforceWindow = true
	assert.Equal(t, ledger.UsageCancelled, p.Resolve(ledger.NoCharge, early, checkIn))
	assert.Equal(t, ledger.UsageLateCancelled, p.Resolve(ledger.NoCharge, late, checkIn))

	assert.False(t, ledger.CancellationPolicy{}.InsideWindow(late, checkIn), "no window configured")
}

func TestUserMessage(t *testing.T) {
	insufficient := &ledger.InsufficientNightsError{Requested: 5, Available: 2}
	assert.Equal(t, "insufficient approved nights remaining", ledger.UserMessage(insufficient))
	assert.Equal(t, "insufficient approved nights remaining", ledger.UserMessage(&ledger.NoEligibleApprovalError{}))
	assert.Equal(t, "the funding balance is busy, please retry",
		ledger.UserMessage(&ledger.ConcurrentModificationError{Operation: ledger.OpAllocate, Attempts: 3}))
	assert.Equal(t, "internal error", ledger.UserMessage(&ledger.InvariantViolationError{}))
	assert.Equal(t, 3, insufficient.Shortfall())
}
