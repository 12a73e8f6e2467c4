package ledger

import (
	"context"
	"fmt"
)

// =============================================================================
// RELEASE ENGINE - Booking cancelled
// =============================================================================
//
// The requested charge type is resolved by the CancellationPolicy, then
// every confirmed UsageRecord of the booking moves to that status:
//
//   cancelled        nights return to the Approval (used decremented)
//   late_cancelled   nights stay consumed
//   charged          nights stay consumed
//
// Refunds never drive a counter negative. If a counter is already below
// the nights being returned, it is clamped at zero and the discrepancy is
// reported as an invariant violation; the cancellation still completes.

// ReleaseResult describes a completed release.
type ReleaseResult struct {
	Status     UsageStatus
	Records    []UsageRecord
	Refunded   Nights
	Violations []*InvariantViolationError
}

// Release settles a cancelled booking. Releasing a booking with no
// confirmed records is a no-op.
func (l *Ledger) Release(ctx context.Context, b Booking, charge ChargeType, actor Actor) (ReleaseResult, error) {
	if b.ID == "" {
		return ReleaseResult{}, fmt.Errorf("%w: booking id is required", ErrInvalidBooking)
	}
	if !charge.Valid() {
		return ReleaseResult{}, fmt.Errorf("%w: unknown charge type %q", ErrInvalidBooking, charge)
	}

	var res ReleaseResult
	err := l.transact(ctx, OpRelease, actor, func(tx Store, sc *scope) error {
		res = ReleaseResult{Status: l.cancellation.Resolve(charge, sc.now, b.Stay.CheckIn)}

		records, err := tx.ListUsageByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		approvals := make(map[ApprovalID]Approval)
		for _, rec := range confirmed(records) {
			if res.Status == UsageCancelled {
				a, ok := approvals[rec.ApprovalID]
				if !ok {
					if a, err = tx.GetApproval(ctx, rec.ApprovalID); err != nil {
						return err
					}
				}
				after, refunded, err := l.refund(ctx, tx, sc, a, rec.Pool, rec.Nights)
				if err != nil {
					return err
				}
				approvals[a.ID] = after
				res.Refunded.add(rec.Pool, refunded)
			}

			settled, err := tx.TransitionUsage(ctx, rec.ID, res.Status, rec.Version)
			if err != nil {
				return err
			}
			sc.record(EntityUsageRecord, string(settled.ID), string(res.Status), rec, settled)
			res.Records = append(res.Records, settled)
		}
		res.Violations = sc.violations
		return nil
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	l.log.Debug().
		Str("booking_id", string(b.ID)).
		Str("charge", string(charge)).
		Str("status", string(res.Status)).
		Int("records", len(res.Records)).
		Int("refunded_primary", res.Refunded.Primary).
		Int("refunded_additional", res.Refunded.Additional).
		Msg("booking released")
	return res, nil
}

// refund returns up to n nights to pool p of a, clamping at zero. It
// returns the updated Approval and how many nights were actually returned.
func (l *Ledger) refund(ctx context.Context, tx Store, sc *scope, a Approval, p Pool, n int) (Approval, int, error) {
	pb, ok := a.Pool(p)
	if !ok {
		sc.violations = append(sc.violations, &InvariantViolationError{
			ApprovalID: a.ID, Pool: p, Kind: ViolationCounterDrift, Expected: n, Actual: 0,
		})
		return a, 0, nil
	}
	take := n
	if pb.Used < n {
		sc.violations = append(sc.violations, &InvariantViolationError{
			ApprovalID: a.ID, Pool: p, Kind: ViolationNegativeBalance, Expected: n, Actual: pb.Used,
		})
		take = max(pb.Used, 0)
	}
	if take == 0 {
		return a, 0, nil
	}
	after, err := tx.AdjustUsed(ctx, a.ID, p, -take, a.Version)
	if err != nil {
		return a, 0, err
	}
	sc.record(EntityApproval, string(a.ID), "used_decremented", a, after)
	sc.moved(p, directionReleased, take)
	return after, take, nil
}
