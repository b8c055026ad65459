/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Periodically checks that every running total (product quantity, pharmacy
  balance) still equals the snapshot recorded by its newest ledger entry,
  and records each run so drift is visible through GET /api/audit/runs.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on Start
  - Never repairs anything; drift is logged at Warn and stored

CONFIGURATION:
  - Interval: How often to check (default: 1 hour)
  - Enabled:  Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewAuditScheduler(store, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/audit.go: the checks
  - ledger.go: TriggerAudit endpoint (manual trigger)
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/supply-ledger/ledger"
)

// AuditScheduler runs the ledger audit on an interval.
type AuditScheduler struct {
	Store    ledger.AuditStore
	Interval time.Duration
	Enabled  bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAuditScheduler creates a scheduler with the default interval.
func NewAuditScheduler(store ledger.AuditStore, log *zap.Logger) *AuditScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditScheduler{
		Store:    store,
		Interval: time.Hour,
		Enabled:  true,
		log:      log.Named("audit"),
	}
}

// Start begins the scheduler.
func (as *AuditScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		as.log.Info("scheduler disabled, not starting")
		return
	}
	if as.ticker != nil {
		return
	}

	as.ticker = time.NewTicker(as.Interval)
	as.stop = make(chan struct{})
	as.wg.Add(1)

	go as.run(as.ticker, as.stop)

	as.log.Info("scheduler started", zap.Duration("interval", as.Interval))
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (as *AuditScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		as.ticker = nil
		as.log.Info("scheduler stopped")
	}
}

func (as *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer as.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	as.check(ctx)

	for {
		select {
		case <-ticker.C:
			as.check(ctx)
		case <-stop:
			return
		}
	}
}

func (as *AuditScheduler) check(ctx context.Context) {
	if _, err := RunAudit(ctx, as.Store, as.log); err != nil && ctx.Err() == nil {
		as.log.Error("audit failed", zap.Error(err))
	}
}

// RunNow runs one audit synchronously (for testing/admin).
func (as *AuditScheduler) RunNow(ctx context.Context) (ledger.AuditRun, error) {
	return RunAudit(ctx, as.Store, as.log)
}

// RunAudit audits the ledgers, saves the run and logs any drift.
func RunAudit(ctx context.Context, store ledger.AuditStore, log *zap.Logger) (ledger.AuditRun, error) {
	run, err := ledger.Audit(ctx, store)
	if err != nil {
		return run, fmt.Errorf("audit: %w", err)
	}
	if err := store.SaveAuditRun(ctx, run); err != nil {
		return run, fmt.Errorf("save audit run: %w", err)
	}

	for _, d := range run.Drifts {
		log.Warn("ledger drift",
			zap.String("run_id", run.ID),
			zap.String("kind", string(d.Kind)),
			zap.Int64("id", d.ID),
			zap.String("actual", d.Actual),
			zap.String("expected", d.Expected))
	}
	log.Info("audit completed",
		zap.String("run_id", run.ID),
		zap.Int("products", run.ProductsChecked),
		zap.Int("pharmacies", run.PharmaciesChecked),
		zap.Int("drifts", len(run.Drifts)))
	return run, nil
}
