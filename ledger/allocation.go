package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// =============================================================================
// ALLOCATION ENGINE - Booking confirmed
// =============================================================================
//
// For each pool with a non-zero requirement:
//
//   1. candidates = guest's Approvals eligible for the stay and pool
//   2. order soonest-expiring first, then lowest remaining first
//   3. take greedily, splitting across Approvals when one cannot cover it
//   4. nothing eligible        -> *NoEligibleApprovalError
//      combined balance short  -> *InsufficientNightsError
//
// Both pools are planned before anything is written, and all writes share
// one transaction: a booking is either fully funded or not funded at all.

// Allocate reserves required nights for booking b and returns the
// UsageRecords created. Confirming a booking that already holds exactly
// the required nights returns its existing records and changes nothing.
// A booking settled as charged cannot be confirmed again.
func (l *Ledger) Allocate(ctx context.Context, b Booking, required Nights, actor Actor) ([]UsageRecord, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := validateNights(required); err != nil {
		return nil, err
	}

	var out []UsageRecord
	err := l.transact(ctx, OpAllocate, actor, func(tx Store, sc *scope) error {
		existing, err := tx.ListUsageByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if held := ConsumedNights(existing); !held.IsZero() {
			if held != required {
				return fmt.Errorf("%w: booking %s holds %d primary and %d additional nights",
					ErrAlreadyAllocated, b.ID, held.Primary, held.Additional)
			}
			out = confirmed(existing)
			return nil
		}
		if settledAsCharged(existing) {
			return fmt.Errorf("%w: booking %s was settled as charged", ErrInvalidTransition, b.ID)
		}
		out, err = l.reserve(ctx, tx, sc, b, required, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.log.Debug().
		Str("booking_id", string(b.ID)).
		Str("guest_id", string(b.GuestID)).
		Int("primary", required.Primary).
		Int("additional", required.Additional).
		Int("records", len(out)).
		Msg("booking allocated")
	return out, nil
}

// ConfirmBooking allocates the nights the booking's stay and rooms require.
func (l *Ledger) ConfirmBooking(ctx context.Context, b Booking, actor Actor) ([]UsageRecord, error) {
	return l.Allocate(ctx, b, b.RequiredNights(), actor)
}

// chunk is one planned draw against one Approval pool.
type chunk struct {
	approval ApprovalID
	pool     Pool
	nights   int
}

type poolKey struct {
	approval ApprovalID
	pool     Pool
}

// plan picks the Approvals that cover need without writing anything.
func (l *Ledger) plan(b Booking, approvals []Approval, need Nights, asOf Date) ([]chunk, error) {
	var chunks []chunk
	for _, p := range Pools {
		want := need.Get(p)
		if want == 0 {
			continue
		}
		var candidates []Approval
		for _, a := range approvals {
			if IsEligibleForPool(a, b, p, asOf, l.rules) {
				candidates = append(candidates, a)
			}
		}
		if len(candidates) == 0 {
			return nil, &NoEligibleApprovalError{GuestID: b.GuestID, BookingID: b.ID, Pool: p, Stay: b.Stay}
		}
		slices.SortFunc(candidates, compareCandidates(p))

		left := want
		for _, a := range candidates {
			take := RemainingNights(a, p).Take(left)
			if take == 0 {
				continue
			}
			chunks = append(chunks, chunk{approval: a.ID, pool: p, nights: take})
			left -= take
			if left == 0 {
				break
			}
		}
		if left > 0 {
			return nil, &InsufficientNightsError{BookingID: b.ID, Pool: p, Requested: want, Available: want - left}
		}
	}
	return chunks, nil
}

// reserve plans and applies need. A chunk landing on an Approval pool that
// has a record in grow enlarges that record instead of creating a new one,
// until a new record is created for the pool.
func (l *Ledger) reserve(ctx context.Context, tx Store, sc *scope, b Booking, need Nights, grow map[poolKey]UsageRecord) ([]UsageRecord, error) {
	if need.IsZero() {
		return nil, nil
	}
	approvals, err := tx.ListApprovalsByGuest(ctx, b.GuestID)
	if err != nil {
		return nil, err
	}
	chunks, err := l.plan(b, approvals, need, DateOf(sc.now))
	if err != nil {
		return nil, err
	}

	current := make(map[ApprovalID]Approval, len(approvals))
	for _, a := range approvals {
		current[a.ID] = a
	}

	var out []UsageRecord
	for _, c := range chunks {
		before := current[c.approval]
		after, err := tx.AdjustUsed(ctx, c.approval, c.pool, c.nights, before.Version)
		if err != nil {
			return nil, err
		}
		current[c.approval] = after
		sc.record(EntityApproval, string(after.ID), "used_incremented", before, after)
		sc.moved(c.pool, directionAllocated, c.nights)

		key := poolKey{approval: c.approval, pool: c.pool}
		if rec, ok := grow[key]; ok {
			resized, err := tx.ResizeUsage(ctx, rec.ID, rec.Nights+c.nights, rec.Version)
			if err != nil {
				return nil, err
			}
			grow[key] = resized
			sc.record(EntityUsageRecord, string(resized.ID), "resized", rec, resized)
			out = append(out, resized)
			continue
		}

		rec, err := tx.InsertUsage(ctx, UsageRecord{
			ID:         UsageID(uuid.NewString()),
			BookingID:  b.ID,
			ApprovalID: c.approval,
			Pool:       c.pool,
			Nights:     c.nights,
			Status:     UsageConfirmed,
			CreatedAt:  sc.now,
			UpdatedAt:  sc.now,
		})
		if err != nil {
			return nil, err
		}
		sc.record(EntityUsageRecord, string(rec.ID), "created", nil, rec)
		out = append(out, rec)
		for k := range grow {
			if k.pool == c.pool {
				delete(grow, k)
			}
		}
	}
	return out, nil
}

func confirmed(records []UsageRecord) []UsageRecord {
	var out []UsageRecord
	for _, r := range records {
		if r.Status == UsageConfirmed {
			out = append(out, r)
		}
	}
	return out
}

// BookingUsage returns every UsageRecord of a booking in allocation order.
func (l *Ledger) BookingUsage(ctx context.Context, id BookingID) ([]UsageRecord, error) {
	return l.store.ListUsageByBooking(ctx, id)
}
