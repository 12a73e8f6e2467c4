// Package store provides in-process ledger.Store implementations.
package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/warp/funding-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.Mutex
	st state
}

// state is the data plus the unlocked Store operations over it.
type state struct {
	guests    map[ledger.GuestID]ledger.Guest
	approvals map[ledger.ApprovalID]ledger.Approval
	usage     map[ledger.UsageID]ledger.UsageRecord
	sequence  int64
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{st: state{
		guests:    make(map[ledger.GuestID]ledger.Guest),
		approvals: make(map[ledger.ApprovalID]ledger.Approval),
		usage:     make(map[ledger.UsageID]ledger.UsageRecord),
		now:       time.Now,
	}}
}

func (m *Memory) SaveGuest(ctx context.Context, g ledger.Guest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveGuest(ctx, g)
}

func (m *Memory) GetGuest(ctx context.Context, id ledger.GuestID) (ledger.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetGuest(ctx, id)
}

func (m *Memory) CreateApproval(ctx context.Context, a ledger.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateApproval(ctx, a)
}

func (m *Memory) GetApproval(ctx context.Context, id ledger.ApprovalID) (ledger.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetApproval(ctx, id)
}

func (m *Memory) ListApprovalsByGuest(ctx context.Context, guestID ledger.GuestID) ([]ledger.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListApprovalsByGuest(ctx, guestID)
}

func (m *Memory) ListApprovals(ctx context.Context) ([]ledger.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListApprovals(ctx)
}

func (m *Memory) SetApprovalStatus(ctx context.Context, id ledger.ApprovalID, status ledger.ApprovalStatus, expectedVersion int64) (ledger.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SetApprovalStatus(ctx, id, status, expectedVersion)
}

func (m *Memory) AdjustUsed(ctx context.Context, id ledger.ApprovalID, pool ledger.Pool, delta int, expectedVersion int64) (ledger.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AdjustUsed(ctx, id, pool, delta, expectedVersion)
}

func (m *Memory) InsertUsage(ctx context.Context, r ledger.UsageRecord) (ledger.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertUsage(ctx, r)
}

func (m *Memory) GetUsage(ctx context.Context, id ledger.UsageID) (ledger.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetUsage(ctx, id)
}

func (m *Memory) ListUsageByBooking(ctx context.Context, bookingID ledger.BookingID) ([]ledger.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListUsageByBooking(ctx, bookingID)
}

func (m *Memory) ListUsageByApproval(ctx context.Context, approvalID ledger.ApprovalID) ([]ledger.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListUsageByApproval(ctx, approvalID)
}

func (m *Memory) TransitionUsage(ctx context.Context, id ledger.UsageID, to ledger.UsageStatus, expectedVersion int64) (ledger.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.TransitionUsage(ctx, id, to, expectedVersion)
}

func (m *Memory) ResizeUsage(ctx context.Context, id ledger.UsageID, nights int, expectedVersion int64) (ledger.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ResizeUsage(ctx, id, nights, expectedVersion)
}

// ForceUsed overwrites a counter without any checks. It exists to seed
// drift in tests.
func (m *Memory) ForceUsed(id ledger.ApprovalID, pool ledger.Pool, used int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.st.approvals[id]; ok {
		m.st.approvals[id] = ledger.WithUsed(a, pool, used)
	}
}

// =============================================================================
// UNLOCKED OPERATIONS
// =============================================================================

func (s *state) SaveGuest(_ context.Context, g ledger.Guest) error {
	if g.ID == "" {
		return fmt.Errorf("guest id is required")
	}
	if prev, ok := s.guests[g.ID]; ok && !prev.CreatedAt.IsZero() {
		g.CreatedAt = prev.CreatedAt
	}
	s.guests[g.ID] = g
	return nil
}

func (s *state) GetGuest(_ context.Context, id ledger.GuestID) (ledger.Guest, error) {
	g, ok := s.guests[id]
	if !ok {
		return ledger.Guest{}, fmt.Errorf("%w: %s", ledger.ErrGuestNotFound, id)
	}
	return g, nil
}

func (s *state) CreateApproval(_ context.Context, a ledger.Approval) error {
	if _, ok := s.approvals[a.ID]; ok {
		return fmt.Errorf("%w: approval %s already exists", ledger.ErrInvalidApproval, a.ID)
	}
	if a.Version == 0 {
		a.Version = 1
	}
	s.approvals[a.ID] = cloneApproval(a)
	return nil
}

func (s *state) GetApproval(_ context.Context, id ledger.ApprovalID) (ledger.Approval, error) {
	a, ok := s.approvals[id]
	if !ok {
		return ledger.Approval{}, fmt.Errorf("%w: %s", ledger.ErrApprovalNotFound, id)
	}
	return cloneApproval(a), nil
}

func (s *state) ListApprovalsByGuest(_ context.Context, guestID ledger.GuestID) ([]ledger.Approval, error) {
	var out []ledger.Approval
	for _, a := range s.approvals {
		if a.GuestID == guestID {
			out = append(out, cloneApproval(a))
		}
	}
	sortApprovals(out)
	return out, nil
}

func (s *state) ListApprovals(_ context.Context) ([]ledger.Approval, error) {
	out := make([]ledger.Approval, 0, len(s.approvals))
	for _, a := range s.approvals {
		out = append(out, cloneApproval(a))
	}
	sortApprovals(out)
	return out, nil
}

func (s *state) SetApprovalStatus(ctx context.Context, id ledger.ApprovalID, status ledger.ApprovalStatus, expectedVersion int64) (ledger.Approval, error) {
	a, err := s.checkedApproval(id, expectedVersion)
	if err != nil {
		return ledger.Approval{}, err
	}
	a.Status = status
	return s.putApproval(a), nil
}

func (s *state) AdjustUsed(_ context.Context, id ledger.ApprovalID, pool ledger.Pool, delta int, expectedVersion int64) (ledger.Approval, error) {
	a, err := s.checkedApproval(id, expectedVersion)
	if err != nil {
		return ledger.Approval{}, err
	}
	pb, _ := a.Pool(pool)
	if err := ledger.CheckPoolBounds(a, pool, pb.Used+delta); err != nil {
		return ledger.Approval{}, err
	}
	return s.putApproval(ledger.WithUsed(a, pool, pb.Used+delta)), nil
}

func (s *state) InsertUsage(_ context.Context, r ledger.UsageRecord) (ledger.UsageRecord, error) {
	if _, ok := s.usage[r.ID]; ok {
		return ledger.UsageRecord{}, fmt.Errorf("usage record %s already exists", r.ID)
	}
	if _, ok := s.approvals[r.ApprovalID]; !ok {
		return ledger.UsageRecord{}, fmt.Errorf("%w: %s", ledger.ErrApprovalNotFound, r.ApprovalID)
	}
	if r.Nights <= 0 {
		return ledger.UsageRecord{}, fmt.Errorf("usage record nights must be positive, got %d", r.Nights)
	}
	s.sequence++
	r.Sequence = s.sequence
	r.Version = 1
	s.usage[r.ID] = r
	return r, nil
}

func (s *state) GetUsage(_ context.Context, id ledger.UsageID) (ledger.UsageRecord, error) {
	r, ok := s.usage[id]
	if !ok {
		return ledger.UsageRecord{}, fmt.Errorf("%w: %s", ledger.ErrUsageNotFound, id)
	}
	return r, nil
}

func (s *state) ListUsageByBooking(_ context.Context, bookingID ledger.BookingID) ([]ledger.UsageRecord, error) {
	return s.usageWhere(func(r ledger.UsageRecord) bool { return r.BookingID == bookingID }), nil
}

func (s *state) ListUsageByApproval(_ context.Context, approvalID ledger.ApprovalID) ([]ledger.UsageRecord, error) {
	return s.usageWhere(func(r ledger.UsageRecord) bool { return r.ApprovalID == approvalID }), nil
}

func (s *state) TransitionUsage(_ context.Context, id ledger.UsageID, to ledger.UsageStatus, expectedVersion int64) (ledger.UsageRecord, error) {
	r, err := s.checkedUsage(id, expectedVersion)
	if err != nil {
		return ledger.UsageRecord{}, err
	}
	if !ledger.CanTransition(r.Status, to) {
		return ledger.UsageRecord{}, fmt.Errorf("%w: %s -> %s", ledger.ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return s.putUsage(r), nil
}

func (s *state) ResizeUsage(_ context.Context, id ledger.UsageID, nights int, expectedVersion int64) (ledger.UsageRecord, error) {
	r, err := s.checkedUsage(id, expectedVersion)
	if err != nil {
		return ledger.UsageRecord{}, err
	}
	if r.Status != ledger.UsageConfirmed {
		return ledger.UsageRecord{}, fmt.Errorf("%w: cannot resize %s record", ledger.ErrInvalidTransition, r.Status)
	}
	if nights <= 0 {
		return ledger.UsageRecord{}, fmt.Errorf("usage record nights must be positive, got %d", nights)
	}
	r.Nights = nights
	return s.putUsage(r), nil
}

func (s *state) checkedApproval(id ledger.ApprovalID, expectedVersion int64) (ledger.Approval, error) {
	a, ok := s.approvals[id]
	if !ok {
		return ledger.Approval{}, fmt.Errorf("%w: %s", ledger.ErrApprovalNotFound, id)
	}
	if a.Version != expectedVersion {
		return ledger.Approval{}, fmt.Errorf("%w: approval %s at version %d, expected %d",
			ledger.ErrConcurrentModification, id, a.Version, expectedVersion)
	}
	return cloneApproval(a), nil
}

func (s *state) putApproval(a ledger.Approval) ledger.Approval {
	a.Version++
	a.UpdatedAt = s.now().UTC()
	s.approvals[a.ID] = cloneApproval(a)
	return a
}

func (s *state) checkedUsage(id ledger.UsageID, expectedVersion int64) (ledger.UsageRecord, error) {
	r, ok := s.usage[id]
	if !ok {
		return ledger.UsageRecord{}, fmt.Errorf("%w: %s", ledger.ErrUsageNotFound, id)
	}
	if r.Version != expectedVersion {
		return ledger.UsageRecord{}, fmt.Errorf("%w: usage record %s at version %d, expected %d",
			ledger.ErrConcurrentModification, id, r.Version, expectedVersion)
	}
	return r, nil
}

func (s *state) putUsage(r ledger.UsageRecord) ledger.UsageRecord {
	r.Version++
	r.UpdatedAt = s.now().UTC()
	s.usage[r.ID] = r
	return r
}

func (s *state) usageWhere(keep func(ledger.UsageRecord) bool) []ledger.UsageRecord {
	var out []ledger.UsageRecord
	for _, r := range s.usage {
		if keep(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b ledger.UsageRecord) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return out
}

func (s *state) clone() state {
	c := *s
	c.guests = maps.Clone(s.guests)
	c.approvals = maps.Clone(s.approvals)
	c.usage = maps.Clone(s.usage)
	return c
}

func cloneApproval(a ledger.Approval) ledger.Approval {
	a.Primary = clonePool(a.Primary)
	if a.Additional != nil {
		add := clonePool(*a.Additional)
		a.Additional = &add
	}
	return a
}

func clonePool(pb ledger.PoolBalance) ledger.PoolBalance {
	if pb.Approved != nil {
		n := *pb.Approved
		pb.Approved = &n
	}
	return pb
}

func sortApprovals(as []ledger.Approval) {
	slices.SortFunc(as, func(a, b ledger.Approval) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := tm.st.clone()
	if err := fn(&tm.st); err != nil {
		tm.st = snapshot
		return err
	}
	return nil
}

var (
	_ ledger.TxStore = (*TxMemory)(nil)
	_ ledger.Store   = (*state)(nil)
)
