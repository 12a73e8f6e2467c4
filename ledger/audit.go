package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// AUDIT EVENTS - Every Approval/UsageRecord state transition
// =============================================================================

// Audited entity types.
const (
	EntityApproval    = "approval"
	EntityUsageRecord = "usage_record"
	EntityGuest       = "guest"
)

// AuditEvent is an append-only record of one state transition. Before is
// nil for creations. The ledger never reads these back.
type AuditEvent struct {
	EntityType string
	EntityID   string
	Action     string
	Before     any
	After      any
	ActorType  string
	ActorID    string
	Timestamp  time.Time
}

// AuditSink receives events after the transaction that produced them commits.
type AuditSink interface {
	Emit(ctx context.Context, e AuditEvent) error
}

type nopAuditSink struct{}

func (nopAuditSink) Emit(context.Context, AuditEvent) error { return nil }

// LogAuditSink writes events to a zerolog logger.
type LogAuditSink struct {
	Log zerolog.Logger
}

func (s LogAuditSink) Emit(_ context.Context, e AuditEvent) error {
	s.Log.Info().
		Str("entity_type", e.EntityType).
		Str("entity_id", e.EntityID).
		Str("action", e.Action).
		Str("actor_type", e.ActorType).
		Str("actor_id", e.ActorID).
		Interface("before", e.Before).
		Interface("after", e.After).
		Time("at", e.Timestamp).
		Msg("audit")
	return nil
}

type multiSink []AuditSink

func (m multiSink) Emit(ctx context.Context, e AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiSink fans events out to every sink.
func MultiSink(sinks ...AuditSink) AuditSink {
	return multiSink(sinks)
}
