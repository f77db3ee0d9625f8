/*
scheduler.go - Periodic ledger reconciliation

PURPOSE:
  Walks every enrollment on an interval and checks that its claim history
  sums to the recorded claimed amount (vesting.Engine.Reconcile). Drift is
  logged at error level and kept in the last report for the admin API.

DESIGN:
  - One background goroutine with a configurable check interval
  - Runs once immediately on Start
  - RunNow performs a synchronous sweep (used by the admin endpoint)
  - Sweeps never overlap

USAGE:
  scheduler := NewReconciliationScheduler(registry, engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GetReconciliation / RunReconciliation
  - generic/ledger.go: Reconcile
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/equity-vesting/vesting"
)

// ReconciliationReport summarizes one sweep.
type ReconciliationReport struct {
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Checked    int                `json:"checked"`
	Failures   []ReconcileFailure `json:"failures"`
}

// ReconcileFailure is one identity whose ledger did not reconcile.
type ReconcileFailure struct {
	Identity string `json:"identity"`
	Error    string `json:"error"`
}

// OK reports whether every identity reconciled.
func (r ReconciliationReport) OK() bool { return len(r.Failures) == 0 }

// ReconciliationScheduler runs ledger reconciliation in the background.
type ReconciliationScheduler struct {
	Registry      *vesting.Registry
	Engine        *vesting.Engine
	CheckInterval time.Duration
	Enabled       bool

	logger *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	sweepMu sync.Mutex
	lastMu  sync.Mutex
	last    *ReconciliationReport
}

// NewReconciliationScheduler creates a new scheduler with a one hour interval.
func NewReconciliationScheduler(registry *vesting.Registry, engine *vesting.Engine, logger *slog.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationScheduler{
		Registry:      registry,
		Engine:        engine,
		CheckInterval: time.Hour,
		Enabled:       true,
		logger:        logger.With("component", "scheduler"),
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	rs.logger.Info("scheduler started", "interval", rs.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.logger.Info("scheduler stopped")
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	rs.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep and records it as the last report.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) ReconciliationReport {
	rs.sweepMu.Lock()
	defer rs.sweepMu.Unlock()

	report := ReconciliationReport{StartedAt: time.Now(), Failures: []ReconcileFailure{}}

	enrollments, err := rs.Registry.List(ctx)
	if err != nil {
		rs.logger.ErrorContext(ctx, "failed to list enrollments", "error", err)
		report.Failures = append(report.Failures, ReconcileFailure{Error: err.Error()})
	}

	for _, e := range enrollments {
		if ctx.Err() != nil {
			break
		}
		report.Checked++
		if err := rs.Engine.Reconcile(ctx, e.Identity); err != nil {
			rs.logger.ErrorContext(ctx, "ledger drift", "identity", e.Identity, "error", err)
			report.Failures = append(report.Failures, ReconcileFailure{Identity: string(e.Identity), Error: err.Error()})
		}
	}

	report.FinishedAt = time.Now()
	rs.logger.InfoContext(ctx, "reconciliation completed",
		"checked", report.Checked, "failures", len(report.Failures),
		"duration", report.FinishedAt.Sub(report.StartedAt))

	rs.lastMu.Lock()
	rs.last = &report
	rs.lastMu.Unlock()
	return report
}

// LastReport returns the most recent sweep, if any.
func (rs *ReconciliationScheduler) LastReport() (ReconciliationReport, bool) {
	rs.lastMu.Lock()
	defer rs.lastMu.Unlock()
	if rs.last == nil {
		return ReconciliationReport{}, false
	}
	return *rs.last, true
}
