package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

// =============================================================================
// AMENDMENT RECONCILER - Booking dates or rooms changed
// =============================================================================
//
// Per pool, delta = newRequired - currently confirmed:
//
//   delta > 0   reserve the shortfall through the allocation engine; the
//               newest record of the pool is grown when the first draw lands
//               on its Approval, otherwise a new record is created
//   delta < 0   give back the excess, newest record first; a record that
//               reaches zero nights is cancelled
//   delta = 0   nothing happens, even if the dates moved
//
// Funding already in place is never re-evaluated. The whole amendment is
// one transaction: if the shortfall cannot be funded, no pool changes.
// A booking whose only records were settled as charged or late_cancelled
// cannot be amended; its nights stay with the settlement.

// Reconcile brings the booking's allocation to newRequired and returns its
// confirmed records afterwards.
func (l *Ledger) Reconcile(ctx context.Context, b Booking, newRequired Nights, actor Actor) ([]UsageRecord, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := validateNights(newRequired); err != nil {
		return nil, err
	}

	var (
		out    []UsageRecord
		before Nights
	)
	err := l.transact(ctx, OpReconcile, actor, func(tx Store, sc *scope) error {
		records, err := tx.ListUsageByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		held := confirmed(records)
		if len(held) == 0 && settledAsCharged(records) {
			return fmt.Errorf("%w: booking %s was settled as charged", ErrInvalidTransition, b.ID)
		}
		before = ConsumedNights(held)
		grow := newestPerPool(held)

		var shortfall Nights
		for _, p := range Pools {
			delta := newRequired.Get(p) - before.Get(p)
			switch {
			case delta < 0:
				if err := l.shrink(ctx, tx, sc, held, p, -delta); err != nil {
					return err
				}
			case delta > 0:
				shortfall.add(p, delta)
			}
		}
		if _, err := l.reserve(ctx, tx, sc, b, shortfall, grow); err != nil {
			return err
		}

		after, err := tx.ListUsageByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		out = confirmed(after)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Debug().
		Str("booking_id", string(b.ID)).
		Int("primary_before", before.Primary).
		Int("primary_after", newRequired.Primary).
		Int("additional_before", before.Additional).
		Int("additional_after", newRequired.Additional).
		Msg("booking amended")
	return out, nil
}

// AmendBooking reconciles against what the amended stay and rooms require.
func (l *Ledger) AmendBooking(ctx context.Context, b Booking, actor Actor) ([]UsageRecord, error) {
	return l.Reconcile(ctx, b, b.RequiredNights(), actor)
}

// newestPerPool keys the most recently allocated record of each pool by its
// Approval pool. Only that record may be grown, so shrinking newest first
// still returns the nights drawn last.
func newestPerPool(held []UsageRecord) map[poolKey]UsageRecord {
	newest := make(map[Pool]UsageRecord)
	for _, r := range held {
		if cur, ok := newest[r.Pool]; !ok || r.Sequence > cur.Sequence {
			newest[r.Pool] = r
		}
	}
	grow := make(map[poolKey]UsageRecord, len(newest))
	for p, r := range newest {
		grow[poolKey{approval: r.ApprovalID, pool: p}] = r
	}
	return grow
}

// settledAsCharged reports whether any record holds a non-refundable settlement.
func settledAsCharged(records []UsageRecord) bool {
	for _, r := range records {
		if r.Status == UsageCharged || r.Status == UsageLateCancelled {
			return true
		}
	}
	return false
}

// shrink gives back excess nights of pool p, most recently allocated
// record first.
func (l *Ledger) shrink(ctx context.Context, tx Store, sc *scope, held []UsageRecord, p Pool, excess int) error {
	var inPool []UsageRecord
	for _, r := range held {
		if r.Pool == p {
			inPool = append(inPool, r)
		}
	}
	slices.SortFunc(inPool, func(a, b UsageRecord) int { return cmp.Compare(b.Sequence, a.Sequence) })

	for _, rec := range inPool {
		if excess == 0 {
			break
		}
		take := min(rec.Nights, excess)
		a, err := tx.GetApproval(ctx, rec.ApprovalID)
		if err != nil {
			return err
		}
		if _, _, err := l.refund(ctx, tx, sc, a, p, take); err != nil {
			return err
		}

		var changed UsageRecord
		if take == rec.Nights {
			changed, err = tx.TransitionUsage(ctx, rec.ID, UsageCancelled, rec.Version)
		} else {
			changed, err = tx.ResizeUsage(ctx, rec.ID, rec.Nights-take, rec.Version)
		}
		if err != nil {
			return err
		}
		sc.record(EntityUsageRecord, string(rec.ID), "amended", rec, changed)
		excess -= take
	}
	return nil
}
