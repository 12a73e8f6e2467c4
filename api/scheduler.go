/*
scheduler.go - Automated drift verification scheduler

PURPOSE:
  Periodically verifies every Approval counter against the UsageRecords
  drawn against it, and records each pass in reconciliation_runs.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Never corrects a counter; drift is logged, counted and recorded
    for an operator to investigate

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(ledger, store, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunReconciliation endpoint (manual run)
  - ledger/verify.go: Verify
*/
package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/funding-ledger/ledger"
	"github.com/warp/funding-ledger/store/sqlite"
)

// ReconciliationScheduler runs drift verification on an interval.
type ReconciliationScheduler struct {
	Ledger        *ledger.Ledger
	Store         *sqlite.Store
	CheckInterval time.Duration
	Enabled       bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(l *ledger.Ledger, store *sqlite.Store, log zerolog.Logger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Ledger:        l,
		Store:         store,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info().Msg("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.log.Info().Dur("interval", rs.CheckInterval).Msg("started")
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info().Msg("stopped")
	}
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rs.stop
		cancel()
	}()

	// Run immediately on start
	rs.runLogged(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.runLogged(ctx)
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReconciliationScheduler) runLogged(ctx context.Context) {
	if _, err := rs.RunOnce(ctx); err != nil {
		rs.log.Error().Err(err).Msg("drift verification failed")
	}
}

// RunOnce verifies every Approval and records the run. A verification
// failure is recorded as a failed run and also returned.
func (rs *ReconciliationScheduler) RunOnce(ctx context.Context) (sqlite.ReconciliationRun, error) {
	run := sqlite.ReconciliationRun{
		ID:        uuid.NewString(),
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	if err := rs.Store.SaveReconciliationRun(ctx, run); err != nil {
		return run, err
	}

	report, verr := rs.Ledger.Verify(ctx)
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Checked = report.Checked
	run.Violations = len(report.Violations)

	switch {
	case verr != nil:
		run.Status = sqlite.RunFailed
		run.Error = verr.Error()
	case report.Clean():
		run.Status = sqlite.RunCompleted
	default:
		run.Status = sqlite.RunDrift
		findings := make([]ViolationDTO, 0, len(report.Violations))
		for _, v := range report.Violations {
			findings = append(findings, ViolationDTO{
				ApprovalID: string(v.ApprovalID),
				Pool:       string(v.Pool),
				Kind:       v.Kind,
				Expected:   v.Expected,
				Actual:     v.Actual,
			})
		}
		if b, err := json.Marshal(findings); err == nil {
			run.ReportJSON = string(b)
		}
	}

	// Record the outcome even if the request context ended.
	if err := rs.Store.SaveReconciliationRun(context.WithoutCancel(ctx), run); err != nil {
		return run, err
	}
	return run, verr
}
