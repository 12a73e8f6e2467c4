package ledger_test

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/funding-ledger/ledger"
)

func TestVerify_CleanLedger(t *testing.T) {
	f := newFixture(t)
	g := f.guest("g1")
	f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10), AdditionalNightsApproved: nights(5)})
	f.approval(ledger.ApprovalInput{GuestID: g})

	b := f.booking("b1", g, 3, 4)
	b.Rooms.AdditionalRooms = 1
	_, err := f.ledger.ConfirmBooking(f.ctx, b, admin)
	require.NoError(t, err)
	_, err = f.ledger.ConfirmBooking(f.ctx, f.booking("b2", g, 20, 3), admin)
	require.NoError(t, err)
	_, err = f.ledger.Release(f.ctx, f.booking("b2", g, 20, 3), ledger.NoCharge, admin)
	require.NoError(t, err)

	report, err := f.ledger.Verify(f.ctx)
	require.NoError(t, err)

	assert.True(t, report.Clean())
	assert.Equal(t, 2, report.Checked)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestVerify_DetectsDriftWithoutCorrecting(t *testing.T) {
	// GIVEN: A counter that no longer matches its records
	// WHEN: Verification runs
	// THEN: The drift is reported, logged at error level and left in place

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	reg := prometheus.NewRegistry()
	metrics := ledger.NewMetrics(reg)

	f := newFixture(t, func(c *ledger.Config) {
		c.Logger = &logger
		c.Metrics = metrics
	})
	g := f.guest("g1")
	a := f.approval(ledger.ApprovalInput{GuestID: g, NightsApproved: nights(10)})
	_, err := f.ledger.ConfirmBooking(f.ctx, f.booking("b1", g, 3, 4), admin)
	require.NoError(t, err)
	f.store.ForceUsed(a.ID, ledger.PoolPrimary, 7)

	report, err := f.ledger.Verify(f.ctx)
	require.NoError(t, err)

	require.Len(t, report.Violations, 1)
	v := report.Violations[0]
	assert.Equal(t, a.ID, v.ApprovalID)
	assert.Equal(t, ledger.ViolationCounterDrift, v.Kind)
	assert.Equal(t, 4, v.Expected)
	assert.Equal(t, 7, v.Actual)
	assert.ErrorIs(t, v, ledger.ErrInvariantViolation)

	assert.Equal(t, 7, f.get(a.ID).Primary.Used, "verification never corrects")
	assert.Contains(t, logs.String(), `"level":"error"`)
	assert.Contains(t, logs.String(), "ledger invariant violation")
	assert.Equal(t, 1.0, counterValue(t, reg, "funding_ledger_invariant_violations_total"))
	assert.Equal(t, 2.0, counterValue(t, reg, "funding_ledger_operations_total"), "one allocate, one verify")
}

// counterValue sums every series of a gathered counter family.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestCheckApproval(t *testing.T) {
	a := ledger.Approval{
		ID:         "a1",
		Primary:    ledger.PoolBalance{Approved: nights(5), Used: 6},
		Additional: &ledger.PoolBalance{Used: 1},
	}
	records := []ledger.UsageRecord{
		{ApprovalID: "a1", Pool: ledger.PoolPrimary, Nights: 4, Status: ledger.UsageConfirmed},
		{ApprovalID: "a1", Pool: ledger.PoolPrimary, Nights: 2, Status: ledger.UsageLateCancelled},
		{ApprovalID: "a1", Pool: ledger.PoolPrimary, Nights: 9, Status: ledger.UsageCancelled},
		{ApprovalID: "a1", Pool: ledger.PoolAdditional, Nights: 1, Status: ledger.UsageCharged},
	}

	got := ledger.CheckApproval(a, records)

	// Counters match the counted records, but primary exceeds its cap.
	require.Len(t, got, 1)
	assert.Equal(t, ledger.ViolationExceedsApproved, got[0].Kind)
	assert.Equal(t, 5, got[0].Expected)
	assert.Equal(t, 6, got[0].Actual)
}

func TestCheckApproval_RecordsOnMissingPool(t *testing.T) {
	a := ledger.Approval{ID: "a1", Primary: ledger.PoolBalance{Approved: nights(5)}}
	records := []ledger.UsageRecord{
		{ApprovalID: "a1", Pool: ledger.PoolAdditional, Nights: 2, Status: ledger.UsageConfirmed},
	}

	got := ledger.CheckApproval(a, records)
	require.Len(t, got, 1)
	assert.Equal(t, ledger.PoolAdditional, got[0].Pool)
	assert.Equal(t, ledger.ViolationCounterDrift, got[0].Kind)
}
