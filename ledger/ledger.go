/*
ledger.go - The Ledger: engines, transaction runner, administration

PURPOSE:
  Ledger ties the engines to a transactional ApprovalStore. Every balance
  mutation runs as:

    retry (bounded, backoff) ─▶ store.WithTx ─▶ engine reads + writes
                                     │
                          commit ────┴──▶ audit events, metrics, logs

  Work done by an attempt that rolled back leaves no trace: audit events and
  metric deltas are collected per attempt and published only after commit.

OPERATIONS:
  Allocate  (allocation.go)  booking confirmed
  Release   (release.go)     booking cancelled
  Reconcile (amendment.go)   booking amended
  Verify    (verify.go)      periodic drift detection

  Plus plain administrative CRUD below: RegisterGuest, CreateApproval,
  SetApprovalStatus, Balances.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Operation names used in logs, metrics and errors.
const (
	OpAllocate  = "allocate"
	OpRelease   = "release"
	OpReconcile = "reconcile"
	OpSetStatus = "set_status"
	OpVerify    = "verify"
)

// Config carries the Ledger's collaborators. Zero values get defaults.
type Config struct {
	Rules        EligibilityRules
	Cancellation CancellationPolicy
	Retry        RetryConfig
	Audit        AuditSink
	Metrics      *Metrics
	Logger       *zerolog.Logger
	Now          func() time.Time
}

type Ledger struct {
	store        TxStore
	rules        EligibilityRules
	cancellation CancellationPolicy
	retryPolicy  retrypolicy.RetryPolicy[any]
	audit        AuditSink
	metrics      *Metrics
	log          zerolog.Logger
	now          func() time.Time
}

func New(store TxStore, cfg Config) *Ledger {
	l := &Ledger{
		store:        store,
		rules:        cfg.Rules,
		cancellation: cfg.Cancellation,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
		log:          zerolog.Nop(),
		now:          cfg.Now,
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	l.retryPolicy = newRetryPolicy(cfg.Retry)
	if l.audit == nil {
		l.audit = nopAuditSink{}
	}
	if cfg.Logger != nil {
		l.log = cfg.Logger.With().Str("component", "ledger").Logger()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Store exposes the underlying store for read paths.
func (l *Ledger) Store() TxStore { return l.store }

// Today is the ledger's current calendar date.
func (l *Ledger) Today() Date { return DateOf(l.now().UTC()) }

// =============================================================================
// TRANSACTION SCOPE
// =============================================================================

// scope collects side effects of one transaction attempt.
type scope struct {
	actor      Actor
	now        time.Time
	events     []AuditEvent
	moves      []move
	violations []*InvariantViolationError
}

type move struct {
	pool      Pool
	direction string
	nights    int
}

const (
	directionAllocated = "allocated"
	directionReleased  = "released"
)

func (sc *scope) record(entityType, entityID, action string, before, after any) {
	sc.events = append(sc.events, AuditEvent{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Before:     before,
		After:      after,
		ActorType:  sc.actor.Type,
		ActorID:    sc.actor.ID,
		Timestamp:  sc.now,
	})
}

func (sc *scope) moved(p Pool, direction string, n int) {
	sc.moves = append(sc.moves, move{pool: p, direction: direction, nights: n})
}

// transact runs fn in a retried transaction and publishes its side effects
// once it commits.
func (l *Ledger) transact(ctx context.Context, op string, actor Actor, fn func(tx Store, sc *scope) error) error {
	if actor.Type == "" {
		actor = SystemActor
	}
	var committed *scope
	err := l.withRetry(ctx, op, func() error {
		sc := &scope{actor: actor, now: l.now().UTC()}
		if err := l.store.WithTx(ctx, func(tx Store) error { return fn(tx, sc) }); err != nil {
			return err
		}
		committed = sc
		return nil
	})
	l.metrics.operation(op, err)
	if err != nil {
		var iv *InvariantViolationError
		if errors.As(err, &iv) {
			l.reportViolation(op, iv)
		}
		return err
	}
	l.publish(ctx, op, committed)
	return nil
}

func (l *Ledger) publish(ctx context.Context, op string, sc *scope) {
	for _, e := range sc.events {
		if err := l.audit.Emit(ctx, e); err != nil {
			l.log.Warn().Err(err).Str("operation", op).Str("entity_id", e.EntityID).Msg("failed to emit audit event")
		}
	}
	for _, m := range sc.moves {
		l.metrics.moved(m.pool, m.direction, m.nights)
	}
	for _, v := range sc.violations {
		l.reportViolation(op, v)
	}
}

func (l *Ledger) reportViolation(op string, v *InvariantViolationError) {
	l.metrics.violation(v.Kind)
	l.log.Error().
		Str("operation", op).
		Str("approval_id", string(v.ApprovalID)).
		Str("pool", string(v.Pool)).
		Str("kind", v.Kind).
		Int("expected", v.Expected).
		Int("actual", v.Actual).
		Msg("ledger invariant violation")
}

// =============================================================================
// ADMINISTRATION - Plain CRUD outside the transactional core
// =============================================================================

// RegisterGuest creates or renames a guest.
func (l *Ledger) RegisterGuest(ctx context.Context, g Guest, actor Actor) (Guest, error) {
	now := l.now().UTC()
	if g.ID == "" {
		g.ID = GuestID(uuid.NewString())
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if err := l.store.SaveGuest(ctx, g); err != nil {
		return Guest{}, err
	}
	l.emit(ctx, actor, AuditEvent{
		EntityType: EntityGuest, EntityID: string(g.ID), Action: "registered",
		After: g, Timestamp: now,
	})
	return g, nil
}

// emit sends one event outside a ledger transaction, attributed to actor.
func (l *Ledger) emit(ctx context.Context, actor Actor, e AuditEvent) {
	if actor.Type == "" {
		actor = SystemActor
	}
	e.ActorType, e.ActorID = actor.Type, actor.ID
	if err := l.audit.Emit(ctx, e); err != nil {
		l.log.Warn().Err(err).Str("entity_type", e.EntityType).Str("entity_id", e.EntityID).Msg("failed to emit audit event")
	}
}

// ApprovalInput is what an administrator supplies to grant an entitlement.
type ApprovalInput struct {
	GuestID                  GuestID
	FundingType              FundingType
	From, To                 *Date
	NightsApproved           *int
	AdditionalNightsApproved *int
	HasAdditionalPool        bool
	RatePackageID            string
	AdditionalRoomCategoryID string
	Inactive                 bool
}

// ValidateApproval checks administrator input.
func ValidateApproval(in ApprovalInput) error {
	switch {
	case in.GuestID == "":
		return fmt.Errorf("%w: guest id is required", ErrInvalidApproval)
	case !in.FundingType.Valid():
		return fmt.Errorf("%w: unknown funding type %q", ErrInvalidApproval, in.FundingType)
	case in.From != nil && in.To != nil && in.To.Before(*in.From):
		return fmt.Errorf("%w: window ends %s before it starts %s", ErrInvalidApproval, in.To, in.From)
	case in.NightsApproved != nil && *in.NightsApproved < 0:
		return fmt.Errorf("%w: nights approved cannot be negative", ErrInvalidApproval)
	case in.AdditionalNightsApproved != nil && *in.AdditionalNightsApproved < 0:
		return fmt.Errorf("%w: additional nights approved cannot be negative", ErrInvalidApproval)
	}
	return nil
}

// CreateApproval grants a new entitlement. The guest must exist.
func (l *Ledger) CreateApproval(ctx context.Context, in ApprovalInput, actor Actor) (Approval, error) {
	if err := ValidateApproval(in); err != nil {
		return Approval{}, err
	}
	now := l.now().UTC()
	a := Approval{
		ID:                       ApprovalID(uuid.NewString()),
		GuestID:                  in.GuestID,
		FundingType:              in.FundingType,
		Window:                   Window{From: in.From, To: in.To},
		Primary:                  PoolBalance{Approved: in.NightsApproved},
		Status:                   StatusActive,
		RatePackageID:            in.RatePackageID,
		AdditionalRoomCategoryID: in.AdditionalRoomCategoryID,
		Version:                  1,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if in.HasAdditionalPool || in.AdditionalNightsApproved != nil {
		a.Additional = &PoolBalance{Approved: in.AdditionalNightsApproved}
	}
	if in.Inactive {
		a.Status = StatusInactive
	}

	err := l.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetGuest(ctx, a.GuestID); err != nil {
			return err
		}
		return tx.CreateApproval(ctx, a)
	})
	if err != nil {
		return Approval{}, err
	}
	l.emit(ctx, actor, AuditEvent{
		EntityType: EntityApproval, EntityID: string(a.ID), Action: "created",
		After: a, Timestamp: now,
	})
	return a, nil
}

// SetApprovalStatus is the explicit administrative active/inactive switch.
// Expiry is derived from the window and cannot be set.
func (l *Ledger) SetApprovalStatus(ctx context.Context, id ApprovalID, status ApprovalStatus, actor Actor) (Approval, error) {
	if status != StatusActive && status != StatusInactive {
		return Approval{}, fmt.Errorf("%w: status must be active or inactive, got %q", ErrInvalidApproval, status)
	}
	var out Approval
	err := l.transact(ctx, OpSetStatus, actor, func(tx Store, sc *scope) error {
		before, err := tx.GetApproval(ctx, id)
		if err != nil {
			return err
		}
		if before.Status == status {
			out = before
			return nil
		}
		after, err := tx.SetApprovalStatus(ctx, id, status, before.Version)
		if err != nil {
			return err
		}
		sc.record(EntityApproval, string(id), "status_changed", before, after)
		out = after
		return nil
	})
	return out, err
}

// =============================================================================
// BALANCE VIEWS - What the administration UI reads
// =============================================================================

type PoolView struct {
	Pool        Pool
	Approved    *int
	Used        int
	Remaining   Remaining
	Utilization *string // decimal ratio, nil when unbounded
}

type BalanceView struct {
	Approval        Approval
	EffectiveStatus ApprovalStatus
	Valid           bool
	Pools           []PoolView
}

// BalanceOf computes the read-only view of an Approval on asOf.
func BalanceOf(a Approval, asOf Date) BalanceView {
	v := BalanceView{
		Approval:        a,
		EffectiveStatus: EffectiveStatus(a, asOf),
		Valid:           IsValid(a, asOf),
	}
	for _, p := range Pools {
		pb, ok := a.Pool(p)
		if !ok {
			continue
		}
		pv := PoolView{Pool: p, Approved: pb.Approved, Used: pb.Used, Remaining: RemainingNights(a, p)}
		if u, ok := Utilization(a, p); ok {
			s := u.StringFixed(4)
			pv.Utilization = &s
		}
		v.Pools = append(v.Pools, pv)
	}
	return v
}

// Balances returns the views of every Approval belonging to a guest.
func (l *Ledger) Balances(ctx context.Context, guestID GuestID) ([]BalanceView, error) {
	if _, err := l.store.GetGuest(ctx, guestID); err != nil {
		return nil, err
	}
	approvals, err := l.store.ListApprovalsByGuest(ctx, guestID)
	if err != nil {
		return nil, err
	}
	today := l.Today()
	views := make([]BalanceView, 0, len(approvals))
	for _, a := range approvals {
		views = append(views, BalanceOf(a, today))
	}
	return views, nil
}
