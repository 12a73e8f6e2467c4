/*
Package sqlite provides a SQLite-backed implementation of the ledger storage interfaces.

PURPOSE:
  Implements ledger.TxStore (Approvals, UsageRecords, Guests), ledger.AuditSink
  (audit_events) and the drift verification run history using SQLite. The
  same statements run on PostgreSQL with minor dialect changes.

KEY TABLES:
  guests:              Guest records
  approvals:           Funding entitlements; versioned, two pools each
  usage_records:       One row per booking/approval/pool draw
  audit_events:        Append-only state transition log
  reconciliation_runs: Drift verification history

COUNTER SAFETY:
  Every counter change is a compare-and-swap on the row version:

    UPDATE approvals SET nights_used = ?, version = version + 1
    WHERE id = ? AND version = ?

  Zero rows affected means another writer got there first, and the caller
  sees ledger.ErrConcurrentModification. CHECK constraints reject a negative
  counter or one above its cap even if a caller skips the bounds check.

CONCURRENCY:
  The pool holds a single connection, so transactions are serialized in the
  process and ":memory:" stays one database. Transactions begin IMMEDIATE and
  wait on _busy_timeout for other processes; a busy database surfaces as
  ledger.ErrConcurrentModification so the ledger retries it.

MIGRATION:
  Versioned migrations are embedded from migrations/ and applied on New()
  with golang-migrate.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store, ledger.Config{Audit: store})

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/warp/funding-ledger/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

const dsnParams = "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

// Store implements ledger.TxStore and ledger.AuditSink using SQLite.
type Store struct {
	ops
	db *sql.DB
}

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return FromDB(db), nil
}

// FromDB wraps an already-migrated database handle.
func FromDB(db *sql.DB) *Store {
	return &Store{ops: ops{q: db, now: time.Now}, db: db}
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	// migrator.Close would close the shared *sql.DB.
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(&ops{q: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements ledger.Store over a querier.
type ops struct {
	q   querier
	now func() time.Time
}

var (
	_ ledger.TxStore   = (*Store)(nil)
	_ ledger.AuditSink = (*Store)(nil)
	_ ledger.Store     = (*ops)(nil)
)

// =============================================================================
// GUESTS
// =============================================================================

func (o *ops) SaveGuest(ctx context.Context, g ledger.Guest) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = o.now().UTC()
	}
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO guests (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, g.ID, g.Name, formatTime(g.CreatedAt))
	return mapError(err)
}

func (o *ops) GetGuest(ctx context.Context, id ledger.GuestID) (ledger.Guest, error) {
	var (
		g         ledger.Guest
		createdAt string
	)
	err := o.q.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM guests WHERE id = ?", id,
	).Scan(&g.ID, &g.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Guest{}, fmt.Errorf("%w: %s", ledger.ErrGuestNotFound, id)
	}
	if err != nil {
		return ledger.Guest{}, mapError(err)
	}
	g.CreatedAt = parseTime(createdAt)
	return g, nil
}

// =============================================================================
// APPROVALS
// =============================================================================

const approvalColumns = `id, guest_id, funding_type, valid_from, valid_to,
	nights_approved, nights_used, has_additional, additional_nights_approved, additional_nights_used,
	status, rate_package_id, additional_room_category_id, version, created_at, updated_at`

// usedColumn maps a pool to its counter column.
var usedColumn = map[ledger.Pool]string{
	ledger.PoolPrimary:    "nights_used",
	ledger.PoolAdditional: "additional_nights_used",
}

func (o *ops) CreateApproval(ctx context.Context, a ledger.Approval) error {
	if a.Version == 0 {
		a.Version = 1
	}
	var (
		hasAdditional      bool
		additionalApproved *int
		additionalUsed     int
	)
	if a.Additional != nil {
		hasAdditional = true
		additionalApproved = a.Additional.Approved
		additionalUsed = a.Additional.Used
	}
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.GuestID, a.FundingType,
		nullDate(a.Window.From), nullDate(a.Window.To),
		nullInt(a.Primary.Approved), a.Primary.Used,
		hasAdditional, nullInt(additionalApproved), additionalUsed,
		a.Status, a.RatePackageID, a.AdditionalRoomCategoryID, a.Version,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	switch {
	case isConstraint(err, sqlite3.ErrConstraintPrimaryKey), isConstraint(err, sqlite3.ErrConstraintUnique):
		return fmt.Errorf("%w: approval %s already exists", ledger.ErrInvalidApproval, a.ID)
	case isConstraint(err, sqlite3.ErrConstraintForeignKey):
		return fmt.Errorf("%w: %s", ledger.ErrGuestNotFound, a.GuestID)
	}
	return mapError(err)
}

func (o *ops) GetApproval(ctx context.Context, id ledger.ApprovalID) (ledger.Approval, error) {
	row := o.q.QueryRowContext(ctx, "SELECT "+approvalColumns+" FROM approvals WHERE id = ?", id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Approval{}, fmt.Errorf("%w: %s", ledger.ErrApprovalNotFound, id)
	}
	return a, mapError(err)
}

func (o *ops) ListApprovalsByGuest(ctx context.Context, guestID ledger.GuestID) ([]ledger.Approval, error) {
	return o.queryApprovals(ctx,
		"SELECT "+approvalColumns+" FROM approvals WHERE guest_id = ? ORDER BY created_at, id", guestID)
}

func (o *ops) ListApprovals(ctx context.Context) ([]ledger.Approval, error) {
	return o.queryApprovals(ctx, "SELECT "+approvalColumns+" FROM approvals ORDER BY created_at, id")
}

func (o *ops) queryApprovals(ctx context.Context, query string, args ...any) ([]ledger.Approval, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query approvals: %w", err))
	}
	defer rows.Close()

	var out []ledger.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapError(rows.Err())
}

func (o *ops) SetApprovalStatus(ctx context.Context, id ledger.ApprovalID, status ledger.ApprovalStatus, expectedVersion int64) (ledger.Approval, error) {
	a, err := o.checkedApproval(ctx, id, expectedVersion)
	if err != nil {
		return ledger.Approval{}, err
	}
	now := o.now().UTC()
	if err := o.casExec(ctx, "approval", string(id), `
		UPDATE approvals SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, status, formatTime(now), id, expectedVersion); err != nil {
		return ledger.Approval{}, err
	}
	a.Status = status
	a.Version++
	a.UpdatedAt = now
	return a, nil
}

// AdjustUsed adds delta to the pool counter with a version compare-and-swap.
func (o *ops) AdjustUsed(ctx context.Context, id ledger.ApprovalID, pool ledger.Pool, delta int, expectedVersion int64) (ledger.Approval, error) {
	column, ok := usedColumn[pool]
	if !ok {
		return ledger.Approval{}, fmt.Errorf("unknown pool %q", pool)
	}
	a, err := o.checkedApproval(ctx, id, expectedVersion)
	if err != nil {
		return ledger.Approval{}, err
	}
	pb, _ := a.Pool(pool)
	used := pb.Used + delta
	if err := ledger.CheckPoolBounds(a, pool, used); err != nil {
		return ledger.Approval{}, err
	}

	now := o.now().UTC()
	if err := o.casExec(ctx, "approval", string(id), `
		UPDATE approvals SET `+column+` = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, used, formatTime(now), id, expectedVersion); err != nil {
		bound := 0
		if pb.Approved != nil {
			bound = *pb.Approved
		}
		return ledger.Approval{}, poolViolation(err, id, pool, bound, used)
	}
	a = ledger.WithUsed(a, pool, used)
	a.Version++
	a.UpdatedAt = now
	return a, nil
}

func (o *ops) checkedApproval(ctx context.Context, id ledger.ApprovalID, expectedVersion int64) (ledger.Approval, error) {
	a, err := o.GetApproval(ctx, id)
	if err != nil {
		return ledger.Approval{}, err
	}
	if a.Version != expectedVersion {
		return ledger.Approval{}, fmt.Errorf("%w: approval %s at version %d, expected %d",
			ledger.ErrConcurrentModification, id, a.Version, expectedVersion)
	}
	return a, nil
}

// =============================================================================
// USAGE RECORDS
// =============================================================================

const usageColumns = `seq, id, booking_id, approval_id, pool, nights, status, version, created_at, updated_at`

func (o *ops) InsertUsage(ctx context.Context, r ledger.UsageRecord) (ledger.UsageRecord, error) {
	now := o.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt
	r.Version = 1
	res, err := o.q.ExecContext(ctx, `
		INSERT INTO usage_records (id, booking_id, approval_id, pool, nights, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.BookingID, r.ApprovalID, r.Pool, r.Nights, r.Status, r.Version,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return ledger.UsageRecord{}, fmt.Errorf("%w: %s", ledger.ErrApprovalNotFound, r.ApprovalID)
	}
	if err != nil {
		return ledger.UsageRecord{}, mapError(fmt.Errorf("failed to insert usage record: %w", err))
	}
	if r.Sequence, err = res.LastInsertId(); err != nil {
		return ledger.UsageRecord{}, err
	}
	return r, nil
}

func (o *ops) GetUsage(ctx context.Context, id ledger.UsageID) (ledger.UsageRecord, error) {
	row := o.q.QueryRowContext(ctx, "SELECT "+usageColumns+" FROM usage_records WHERE id = ?", id)
	r, err := scanUsage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.UsageRecord{}, fmt.Errorf("%w: %s", ledger.ErrUsageNotFound, id)
	}
	return r, mapError(err)
}

func (o *ops) ListUsageByBooking(ctx context.Context, bookingID ledger.BookingID) ([]ledger.UsageRecord, error) {
	return o.queryUsage(ctx, "SELECT "+usageColumns+" FROM usage_records WHERE booking_id = ? ORDER BY seq", bookingID)
}

func (o *ops) ListUsageByApproval(ctx context.Context, approvalID ledger.ApprovalID) ([]ledger.UsageRecord, error) {
	return o.queryUsage(ctx, "SELECT "+usageColumns+" FROM usage_records WHERE approval_id = ? ORDER BY seq", approvalID)
}

func (o *ops) queryUsage(ctx context.Context, query string, args ...any) ([]ledger.UsageRecord, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query usage records: %w", err))
	}
	defer rows.Close()

	var out []ledger.UsageRecord
	for rows.Next() {
		r, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, mapError(rows.Err())
}

func (o *ops) TransitionUsage(ctx context.Context, id ledger.UsageID, to ledger.UsageStatus, expectedVersion int64) (ledger.UsageRecord, error) {
	r, err := o.checkedUsage(ctx, id, expectedVersion)
	if err != nil {
		return ledger.UsageRecord{}, err
	}
	if !ledger.CanTransition(r.Status, to) {
		return ledger.UsageRecord{}, fmt.Errorf("%w: %s -> %s", ledger.ErrInvalidTransition, r.Status, to)
	}
	now := o.now().UTC()
	if err := o.casExec(ctx, "usage record", string(id), `
		UPDATE usage_records SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, to, formatTime(now), id, expectedVersion); err != nil {
		return ledger.UsageRecord{}, err
	}
	r.Status = to
	r.Version++
	r.UpdatedAt = now
	return r, nil
}

func (o *ops) ResizeUsage(ctx context.Context, id ledger.UsageID, nights int, expectedVersion int64) (ledger.UsageRecord, error) {
	r, err := o.checkedUsage(ctx, id, expectedVersion)
	if err != nil {
		return ledger.UsageRecord{}, err
	}
	if r.Status != ledger.UsageConfirmed {
		return ledger.UsageRecord{}, fmt.Errorf("%w: cannot resize %s record", ledger.ErrInvalidTransition, r.Status)
	}
	if nights <= 0 {
		return ledger.UsageRecord{}, fmt.Errorf("usage record nights must be positive, got %d", nights)
	}
	now := o.now().UTC()
	if err := o.casExec(ctx, "usage record", string(id), `
		UPDATE usage_records SET nights = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, nights, formatTime(now), id, expectedVersion); err != nil {
		return ledger.UsageRecord{}, poolViolation(err, r.ApprovalID, r.Pool, r.Nights, nights)
	}
	r.Nights = nights
	r.Version++
	r.UpdatedAt = now
	return r, nil
}

func (o *ops) checkedUsage(ctx context.Context, id ledger.UsageID, expectedVersion int64) (ledger.UsageRecord, error) {
	r, err := o.GetUsage(ctx, id)
	if err != nil {
		return ledger.UsageRecord{}, err
	}
	if r.Version != expectedVersion {
		return ledger.UsageRecord{}, fmt.Errorf("%w: usage record %s at version %d, expected %d",
			ledger.ErrConcurrentModification, id, r.Version, expectedVersion)
	}
	return r, nil
}

// casExec runs a version-guarded UPDATE. No affected row means the version
// moved underneath us.
func (o *ops) casExec(ctx context.Context, entity, id, query string, args ...any) error {
	res, err := o.q.ExecContext(ctx, query, args...)
	if isConstraint(err, sqlite3.ErrConstraintCheck) {
		return fmt.Errorf("%w: %s %s rejected by schema constraint: %v", ledger.ErrInvariantViolation, entity, id, err)
	}
	if err != nil {
		return mapError(fmt.Errorf("failed to update %s %s: %w", entity, id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s changed concurrently", ledger.ErrConcurrentModification, entity, id)
	}
	return nil
}

// poolViolation turns a CHECK failure on an Approval pool into a structured
// violation the ledger can log and count.
func poolViolation(err error, id ledger.ApprovalID, pool ledger.Pool, expected, actual int) error {
	if !errors.Is(err, ledger.ErrInvariantViolation) {
		return err
	}
	return &ledger.InvariantViolationError{
		ApprovalID: id, Pool: pool, Kind: ledger.ViolationSchema, Expected: expected, Actual: actual,
	}
}

// =============================================================================
// AUDIT SINK (ledger.AuditSink interface)
// =============================================================================

// Emit appends an audit event. It runs outside any ledger transaction.
func (s *Store) Emit(ctx context.Context, e ledger.AuditEvent) error {
	before, err := marshalNullable(e.Before)
	if err != nil {
		return fmt.Errorf("failed to encode audit before: %w", err)
	}
	after, err := marshalNullable(e.After)
	if err != nil {
		return fmt.Errorf("failed to encode audit after: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (entity_type, entity_id, action, before_json, after_json, actor_type, actor_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EntityType, e.EntityID, e.Action, before, after, e.ActorType, e.ActorID, formatTime(e.Timestamp))
	return mapError(err)
}

// AuditRecord is a stored audit event with its payloads still encoded.
type AuditRecord struct {
	ID         int64
	EntityType string
	EntityID   string
	Action     string
	BeforeJSON string
	AfterJSON  string
	ActorType  string
	ActorID    string
	OccurredAt time.Time
}

// AuditTrail returns the events of one entity, oldest first.
func (s *Store) AuditTrail(ctx context.Context, entityType, entityID string) ([]AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, before_json, after_json, actor_type, actor_id, occurred_at
		FROM audit_events
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id
	`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			r             AuditRecord
			before, after sql.NullString
			occurredAt    string
		)
		if err := rows.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Action, &before, &after,
			&r.ActorType, &r.ActorID, &occurredAt); err != nil {
			return nil, err
		}
		r.BeforeJSON = before.String
		r.AfterJSON = after.String
		r.OccurredAt = parseTime(occurredAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// RECONCILIATION RUNS - Drift verification history
// =============================================================================

// Run statuses.
const (
	RunCompleted = "completed"
	RunDrift     = "drift_detected"
	RunFailed    = "failed"
)

// ReconciliationRun records one drift verification pass.
type ReconciliationRun struct {
	ID          string
	Status      string
	Checked     int
	Violations  int
	ReportJSON  string
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// SaveReconciliationRun inserts or updates a run.
func (s *Store) SaveReconciliationRun(ctx context.Context, r ReconciliationRun) error {
	var completedAt *string
	if r.CompletedAt != nil {
		c := formatTime(*r.CompletedAt)
		completedAt = &c
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, status, checked, violations, report_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			checked = excluded.checked,
			violations = excluded.violations,
			report_json = excluded.report_json,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, r.ID, r.Status, r.Checked, r.Violations, nullString(r.ReportJSON), r.Error,
		formatTime(r.StartedAt), completedAt)
	return mapError(err)
}

// GetReconciliationRuns returns runs newest first, optionally filtered by status.
func (s *Store) GetReconciliationRuns(ctx context.Context, status string, limit int) ([]ReconciliationRun, error) {
	query := `
		SELECT id, status, checked, violations, report_json, error, started_at, completed_at
		FROM reconciliation_runs
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ReconciliationRun
	for rows.Next() {
		var (
			r                   ReconciliationRun
			report, completedAt sql.NullString
			startedAt           string
		)
		if err := rows.Scan(&r.ID, &r.Status, &r.Checked, &r.Violations, &report, &r.Error,
			&startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.ReportJSON = report.String
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"usage_records", "approvals", "guests", "audit_events", "reconciliation_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func scanApproval(row scanner) (ledger.Approval, error) {
	var (
		a                            ledger.Approval
		validFrom, validTo           sql.NullString
		approved, additionalApproved sql.NullInt64
		hasAdditional                bool
		additionalUsed               int
		createdAt, updatedAt         string
	)
	err := row.Scan(
		&a.ID, &a.GuestID, &a.FundingType, &validFrom, &validTo,
		&approved, &a.Primary.Used, &hasAdditional, &additionalApproved, &additionalUsed,
		&a.Status, &a.RatePackageID, &a.AdditionalRoomCategoryID, &a.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return ledger.Approval{}, err
	}
	if a.Window.From, err = parseNullDate(validFrom); err != nil {
		return ledger.Approval{}, err
	}
	if a.Window.To, err = parseNullDate(validTo); err != nil {
		return ledger.Approval{}, err
	}
	a.Primary.Approved = intPtr(approved)
	if hasAdditional {
		a.Additional = &ledger.PoolBalance{Approved: intPtr(additionalApproved), Used: additionalUsed}
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

func scanUsage(row scanner) (ledger.UsageRecord, error) {
	var (
		r                    ledger.UsageRecord
		createdAt, updatedAt string
	)
	err := row.Scan(&r.Sequence, &r.ID, &r.BookingID, &r.ApprovalID, &r.Pool, &r.Nights,
		&r.Status, &r.Version, &createdAt, &updatedAt)
	if err != nil {
		return ledger.UsageRecord{}, err
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullDate(d *ledger.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*ledger.Date, error) {
	if !s.Valid {
		return nil, nil
	}
	return ledger.ParseDatePtr(s.String)
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}

// mapError turns lock contention into ErrConcurrentModification.
func mapError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}
