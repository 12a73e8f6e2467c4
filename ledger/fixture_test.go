package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/funding-ledger/ledger"
	"github.com/warp/funding-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// March 1 2025, mid-morning UTC. Every test sees the same "today".
var testNow = time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.TxMemory
	ledger *ledger.Ledger
	today  ledger.Date
}

func newFixture(t *testing.T, opts ...func(*ledger.Config)) *fixture {
	t.Helper()
	s := store.NewTxMemory()
	cfg := ledger.Config{
		Now:   func() time.Time { return testNow },
		Retry: ledger.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  s,
		ledger: ledger.New(s, cfg),
		today:  ledger.DateOf(testNow),
	}
}

func (f *fixture) guest(id ledger.GuestID) ledger.GuestID {
	f.t.Helper()
	g, err := f.ledger.RegisterGuest(f.ctx, ledger.Guest{ID: id, Name: string(id)}, admin)
	require.NoError(f.t, err)
	return g.ID
}

func (f *fixture) approval(in ledger.ApprovalInput) ledger.Approval {
	f.t.Helper()
	if in.FundingType == "" {
		in.FundingType = ledger.FundingNDIS
	}
	a, err := f.ledger.CreateApproval(f.ctx, in, ledger.Actor{Type: "admin", ID: "test"})
	require.NoError(f.t, err)
	return a
}

// get re-reads an Approval from the store.
func (f *fixture) get(id ledger.ApprovalID) ledger.Approval {
	f.t.Helper()
	a, err := f.store.GetApproval(f.ctx, id)
	require.NoError(f.t, err)
	return a
}

func (f *fixture) usage(id ledger.BookingID) []ledger.UsageRecord {
	f.t.Helper()
	records, err := f.ledger.BookingUsage(f.ctx, id)
	require.NoError(f.t, err)
	return records
}

// booking builds a stay starting offset days after today.
func (f *fixture) booking(id ledger.BookingID, guest ledger.GuestID, offset, nights int) ledger.Booking {
	checkIn := f.today.AddDays(offset)
	return ledger.Booking{
		ID:      id,
		GuestID: guest,
		Stay:    ledger.Stay{CheckIn: checkIn, CheckOut: checkIn.AddDays(nights)},
	}
}

func nights(n int) *int { return &n }

func primary(n int) ledger.Nights { return ledger.Nights{Primary: n} }

var admin = ledger.Actor{Type: "admin", ID: "test"}

// recordingSink keeps every emitted audit event.
type recordingSink struct {
	events []ledger.AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, e ledger.AuditEvent) error {
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) actions() []string {
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EntityType+":"+e.Action)
	}
	return out
}
