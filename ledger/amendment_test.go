package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/funding-ledger/ledger"
)

func TestStayLifecycle(t *testing.T) {
	// GIVEN: An approval of 10 nights
	// WHEN: A 6 night booking is confirmed, amended to 8, then cancelled free
	// THEN: used goes 6 -> 8 -> 0 and the record ends cancelled

	f := newFixture(t)
	g := f.guest("g1")
	a := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10)})
	b := f.booking("b1", g, 14, 6)

	records, err := f.ledger.ConfirmBooking(f.ctx, b, admin)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 6, f.get(a.ID).Primary.Used)

	b.Stay.CheckOut = b.Stay.CheckIn.AddDays(8)
	records, err = f.ledger.AmendBooking(f.ctx, b, admin)
	require.NoError(t, err)
	require.Len(t, records, 1, "growth extends the existing record")
	assert.Equal(t, 8, records[0].Nights)
	assert.Equal(t, 8, f.get(a.ID).Primary.Used)

	res, err := f.ledger.Release(f.ctx, b, ledger.NoCharge, admin)
	require.NoError(t, err)
	assert.Equal(t, 0, f.get(a.ID).Primary.Used)
	require.Len(t, res.Records, 1)
	assert.Equal(t, ledger.UsageCancelled, res.Records[0].Status)
	assert.Equal(t, 8, res.Records[0].Nights)
}

func TestReconcile_GrowthSpillsToAnotherApproval(t *testing.T) {
	// GIVEN: A booking holding all 4 nights of approval A, and B with 10
	// WHEN: The booking grows by 3 nights
	// THEN: A new record draws the 3 nights from B

	f := newFixture(t)
	g := f.guest("g1")
	a := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(4), To: f.today.AddDays(60).Ptr()})
	b := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10)})
	bk := f.booking("b1", g, 7, 4)
	_, err := f.ledger.ConfirmBooking(f.ctx, bk, admin)
	require.NoError(t, err)

	records, err := f.ledger.Reconcile(f.ctx, bk, primary(7), admin)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, ledger.Nights{Primary: 7}, ledger.ConsumedNights(records))
	assert.Equal(t, 4, f.get(a.ID).Primary.Used)
	assert.Equal(t, 3, f.get(b.ID).Primary.Used)
}

func TestReconcile_ShrinkTakesNewestFirst(t *testing.T) {
	// GIVEN: A booking split 3 (A, older record) + 2 (B, newer record)
	// WHEN: It shrinks to 2 nights
	// THEN: B's record is cancelled, A's is cut to 2

	f := newFixture(t)
	g := f.guest("g1")
	a := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(3), To: f.today.AddDays(30).Ptr()})
	b := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10), To: f.today.AddDays(180).Ptr()})
	bk := f.booking("b1", g, 7, 5)
	_, err := f.ledger.ConfirmBooking(f.ctx, bk, admin)
	require.NoError(t, err)

	bk.Stay.CheckOut = bk.Stay.CheckIn.AddDays(2)
	records, err := f.ledger.AmendBooking(f.ctx, bk, admin)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, a.ID, records[0].ApprovalID)
	assert.Equal(t, 2, records[0].Nights)
	assert.Equal(t, 2, f.get(a.ID).Primary.Used)
	assert.Equal(t, 0, f.get(b.ID).Primary.Used)

	all := f.usage("b1")
	require.Len(t, all, 2, "the emptied record is kept")
	assert.Equal(t, ledger.UsageCancelled, all[1].Status)
}

func TestReconcile_NoDeltaChangesNothing(t *testing.T) {
	// GIVEN: A confirmed 4 night booking
	// WHEN: Its dates move but the night count does not
	// THEN: No record or counter changes

	sink := &recordingSink{}
	f := newFixture(t, func(c *ledger.Config) { c.Audit = sink })
	g := f.guest("g1")
	a := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10)})
	bk := f.booking("b1", g, 7, 4)
	before, err := f.ledger.ConfirmBooking(f.ctx, bk, admin)
	require.NoError(t, err)
	sink.events = nil

	bk.Stay = ledger.Stay{CheckIn: bk.Stay.CheckIn.AddDays(3), CheckOut: bk.Stay.CheckOut.AddDays(3)}
	after, err := f.ledger.AmendBooking(f.ctx, bk, admin)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, 4, f.get(a.ID).Primary.Used)
	assert.Empty(t, sink.events)
}

func TestReconcile_UnfundableGrowthIsAtomic(t *testing.T) {
	// GIVEN: A booking with primary and additional nights
	// WHEN: An amendment shrinks primary but needs more additional than exists
	// THEN: The amendment fails and primary is not shrunk either

	f := newFixture(t)
	g := f.guest("g1")
	a := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10), AdditionalNightsApproved: nights(4)})
	bk := f.booking("b1", g, 7, 4)
	bk.Rooms.AdditionalRooms = 1
	_, err := f.ledger.ConfirmBooking(f.ctx, bk, admin)
	require.NoError(t, err)

	_, err = f.ledger.Reconcile(f.ctx, bk, ledger.Nights{Primary: 2, Additional: 6}, admin)
	var insufficient *ledger.InsufficientNightsError
	require.ErrorAs(t, err, &insufficient)

	got := f.get(a.ID)
	assert.Equal(t, 4, got.Primary.Used)
	assert.Equal(t, 4, got.Additional.Used)
	assert.Equal(t, ledger.Nights{Primary: 4, Additional: 4}, ledger.ConsumedNights(f.usage("b1")))
}

func TestReconcile_DroppingExtraRoomReleasesAdditionalPool(t *testing.T) {
	f := newFixture(t)
	g := f.guest("g1")
	a := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10), AdditionalNightsApproved: nights(10)})
	bk := f.booking("b1", g, 7, 3)
	bk.Rooms.AdditionalRooms = 1
	_, err := f.ledger.ConfirmBooking(f.ctx, bk, admin)
	require.NoError(t, err)

	bk.Rooms.AdditionalRooms = 0
	records, err := f.ledger.AmendBooking(f.ctx, bk, admin)
	require.NoError(t, err)

	assert.Equal(t, ledger.Nights{Primary: 3}, ledger.ConsumedNights(records))
	assert.Equal(t, 0, f.get(a.ID).Additional.Used)
	assert.Equal(t, 3, f.get(a.ID).Primary.Used)
}

func TestReconcile_UnallocatedBookingAllocatesFresh(t *testing.T) {
	f := newFixture(t)
	g := f.guest("g1")
	a := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10)})

	records, err := f.ledger.Reconcile(f.ctx, f.booking("b1", g, 1, 3), primary(3), admin)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3, f.get(a.ID).Primary.Used)
}

func TestReconcile_GrowThenShrinkReturnsNightsDrawnLast(t *testing.T) {
	// GIVEN: A (3 nights, expires sooner) and B (10 nights); booking x holds
	// A:1 and booking b holds A:2 then B:3; x is cancelled free
	// WHEN: b grows by a night, taken from A, and then shrinks back
	// THEN: The night taken from A is the one given back

	f := newFixture(t)
	g := f.guest("g1")
	a := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(3), To: f.today.AddDays(30).Ptr()})
	b := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10), To: f.today.AddDays(60).Ptr()})

	x := f.booking("x", g, 3, 1)
	_, err := f.ledger.ConfirmBooking(f.ctx, x, admin)
	require.NoError(t, err)
	bk := f.booking("b1", g, 7, 5)
	records, err := f.ledger.ConfirmBooking(f.ctx, bk, admin)
	require.NoError(t, err)
	require.Len(t, records, 2)
	_, err = f.ledger.Release(f.ctx, x, ledger.NoCharge, admin)
	require.NoError(t, err)

	records, err = f.ledger.Reconcile(f.ctx, bk, primary(6), admin)
	require.NoError(t, err)
	require.Len(t, records, 3, "growth on an older record's Approval creates a new record")
	assert.Equal(t, 3, f.get(a.ID).Primary.Used)

	_, err = f.ledger.Reconcile(f.ctx, bk, primary(5), admin)
	require.NoError(t, err)

	assert.Equal(t, 2, f.get(a.ID).Primary.Used)
	assert.Equal(t, 3, f.get(b.ID).Primary.Used)
}

func TestReconcile_GrowthExtendsNewestRecord(t *testing.T) {
	// GIVEN: A booking split A:3 then B:2
	// WHEN: It grows by 2 nights, which only B can cover
	// THEN: B's record, the newest, is extended in place

	f := newFixture(t)
	g := f.guest("g1")
	a := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(3), To: f.today.AddDays(30).Ptr()})
	b := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10), To: f.today.AddDays(60).Ptr()})
	bk := f.booking("b1", g, 7, 5)
	_, err := f.ledger.ConfirmBooking(f.ctx, bk, admin)
	require.NoError(t, err)

	records, err := f.ledger.Reconcile(f.ctx, bk, primary(7), admin)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, b.ID, records[1].ApprovalID)
	assert.Equal(t, 4, records[1].Nights)
	assert.Equal(t, 3, f.get(a.ID).Primary.Used)
	assert.Equal(t, 4, f.get(b.ID).Primary.Used)
}

func TestReconcile_ChargedBookingIsRejected(t *testing.T) {
	// GIVEN: A booking cancelled with full charge
	// WHEN: It is amended
	// THEN: ErrInvalidTransition and the charged nights are not drawn again

	f := newFixture(t)
	g := f.guest("g1")
	a := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10)})
	bk := f.booking("b1", g, 14, 4)
	_, err := f.ledger.ConfirmBooking(f.ctx, bk, admin)
	require.NoError(t, err)
	_, err = f.ledger.Release(f.ctx, bk, ledger.FullCharge, admin)
	require.NoError(t, err)

	_, err = f.ledger.Reconcile(f.ctx, bk, primary(5), admin)

	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
	_, err = f.ledger.ConfirmBooking(f.ctx, bk, admin)
	require.ErrorIs(t, err, ledger.ErrInvalidTransition, "confirming again is rejected too")
	assert.Equal(t, 4, f.get(a.ID).Primary.Used)
	require.Len(t, f.usage("b1"), 1)
	assert.Equal(t, ledger.UsageCharged, f.usage("b1")[0].Status)
}
