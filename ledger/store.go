/*
store.go - ApprovalStore: persistence boundary for Approvals and UsageRecords

PURPOSE:
  Defines the interface between the engines and the datastore. The store
  owns the only primitives that mutate shared state:

    AdjustUsed       increment/decrement a *_used counter (version-checked)
    InsertUsage      append a UsageRecord
    TransitionUsage  move a UsageRecord along its state machine
    ResizeUsage      change nights on a confirmed UsageRecord

  No other component assigns counters or record fields directly.

OPTIMISTIC LOCKING:
  Every Approval and UsageRecord carries a version. Mutations name the
  version they read; a mismatch returns ErrConcurrentModification and the
  caller's transaction is rolled back and retried with fresh reads.

BOUNDS:
  AdjustUsed rejects a change that would make used negative or exceed the
  approved cap with *InvariantViolationError. Engines never rely on the
  store to clamp.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite with embedded migrations
  - ledger/store/memory.go: In-memory for testing
*/
package ledger

import "context"

// Store is the ApprovalStore.
type Store interface {
	// Guests
	SaveGuest(ctx context.Context, g Guest) error
	GetGuest(ctx context.Context, id GuestID) (Guest, error)

	// Approvals
	CreateApproval(ctx context.Context, a Approval) error
	GetApproval(ctx context.Context, id ApprovalID) (Approval, error)
	ListApprovalsByGuest(ctx context.Context, guestID GuestID) ([]Approval, error)
	ListApprovals(ctx context.Context) ([]Approval, error)

	// SetApprovalStatus is the administrative active/inactive switch.
	SetApprovalStatus(ctx context.Context, id ApprovalID, status ApprovalStatus, expectedVersion int64) (Approval, error)

	// AdjustUsed adds delta (may be negative) to the pool's used counter.
	AdjustUsed(ctx context.Context, id ApprovalID, pool Pool, delta int, expectedVersion int64) (Approval, error)

	// Usage records
	InsertUsage(ctx context.Context, r UsageRecord) (UsageRecord, error)
	GetUsage(ctx context.Context, id UsageID) (UsageRecord, error)
	ListUsageByBooking(ctx context.Context, bookingID BookingID) ([]UsageRecord, error)
	ListUsageByApproval(ctx context.Context, approvalID ApprovalID) ([]UsageRecord, error)
	TransitionUsage(ctx context.Context, id UsageID, to UsageStatus, expectedVersion int64) (UsageRecord, error)
	ResizeUsage(ctx context.Context, id UsageID, nights int, expectedVersion int64) (UsageRecord, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back; otherwise committed.
	// All reads and writes inside fn must go through the supplied Store.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// CheckPoolBounds validates a would-be counter value for pool p of a.
// Stores call it from AdjustUsed.
func CheckPoolBounds(a Approval, p Pool, newUsed int) error {
	pb, ok := a.Pool(p)
	if !ok {
		return &InvariantViolationError{ApprovalID: a.ID, Pool: p, Kind: ViolationExceedsApproved, Expected: 0, Actual: newUsed}
	}
	if newUsed < 0 {
		return &InvariantViolationError{ApprovalID: a.ID, Pool: p, Kind: ViolationNegativeBalance, Expected: 0, Actual: newUsed}
	}
	if pb.Approved != nil && newUsed > *pb.Approved {
		return &InvariantViolationError{ApprovalID: a.ID, Pool: p, Kind: ViolationExceedsApproved, Expected: *pb.Approved, Actual: newUsed}
	}
	return nil
}

// WithUsed returns a copy of a with pool p's used counter set. Only stores
// call this, from within AdjustUsed.
func WithUsed(a Approval, p Pool, used int) Approval {
	if p == PoolAdditional && a.Additional != nil {
		add := *a.Additional
		add.Used = used
		a.Additional = &add
		return a
	}
	a.Primary.Used = used
	return a
}
