package ledger

import (
	"context"
	"time"
)

// =============================================================================
// DRIFT VERIFICATION - Counters vs. records
// =============================================================================
//
// For every Approval and pool:
//
//   used == sum(nights of records in a counted status)
//   0 <= used <= approved (when capped)
//
// Verify only reports. Correcting a counter is an operator decision.

// DriftReport is the outcome of one verification pass.
type DriftReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Checked    int
	Violations []*InvariantViolationError
}

// Clean reports whether no violation was found.
func (r DriftReport) Clean() bool { return len(r.Violations) == 0 }

// Verify checks every Approval counter against its UsageRecords.
func (l *Ledger) Verify(ctx context.Context) (DriftReport, error) {
	report := DriftReport{StartedAt: l.now().UTC()}
	err := l.store.WithTx(ctx, func(tx Store) error {
		approvals, err := tx.ListApprovals(ctx)
		if err != nil {
			return err
		}
		for _, a := range approvals {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, err := tx.ListUsageByApproval(ctx, a.ID)
			if err != nil {
				return err
			}
			report.Violations = append(report.Violations, CheckApproval(a, records)...)
			report.Checked++
		}
		return nil
	})
	report.FinishedAt = l.now().UTC()
	l.metrics.operation(OpVerify, err)
	if err != nil {
		return report, err
	}
	for _, v := range report.Violations {
		l.reportViolation(OpVerify, v)
	}
	l.log.Info().
		Int("checked", report.Checked).
		Int("violations", len(report.Violations)).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("drift verification finished")
	return report, nil
}

// CheckApproval compares a's counters with the records drawn against it.
func CheckApproval(a Approval, records []UsageRecord) []*InvariantViolationError {
	var counted Nights
	for _, r := range records {
		if r.ApprovalID == a.ID && r.Status.Counted() {
			counted.add(r.Pool, r.Nights)
		}
	}

	var out []*InvariantViolationError
	for _, p := range Pools {
		pb, ok := a.Pool(p)
		if !ok {
			if n := counted.Get(p); n != 0 {
				out = append(out, &InvariantViolationError{ApprovalID: a.ID, Pool: p, Kind: ViolationCounterDrift, Expected: n, Actual: 0})
			}
			continue
		}
		if pb.Used != counted.Get(p) {
			out = append(out, &InvariantViolationError{ApprovalID: a.ID, Pool: p, Kind: ViolationCounterDrift, Expected: counted.Get(p), Actual: pb.Used})
		}
		if pb.Used < 0 {
			out = append(out, &InvariantViolationError{ApprovalID: a.ID, Pool: p, Kind: ViolationNegativeBalance, Expected: 0, Actual: pb.Used})
		}
		if pb.Approved != nil && pb.Used > *pb.Approved {
			out = append(out, &InvariantViolationError{ApprovalID: a.ID, Pool: p, Kind: ViolationExceedsApproved, Expected: *pb.Approved, Actual: pb.Used})
		}
	}
	return out
}
