/*
scheduler.go - Background unlock scanner

PURPOSE:
  Sales recorded through the API unlock tiers immediately. Spend that
  reaches the ledger any other way (imports, restores, a crash between the
  ledger write and the unlock write) does not. The scanner periodically
  walks every customer and records any reached tier that has no unlock.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs one pass immediately on start
  - One pass at a time; RunOnce from the API waits for a running pass
  - Records each pass as a ScanRun for audit and UI display

CONFIGURATION:
  - Interval: How often to scan (config scan_interval, default 1h)
  - Enabled:  Whether Start launches the loop (config scan_enabled)

USAGE:
  scanner := NewUnlockScanner(svc, store, log, m)
  scanner.Start()
  // ... later
  scanner.Stop()

  // or, under an errgroup:
  g.Go(func() error { return scanner.Run(ctx) })

SEE ALSO:
  - customers/service.go: SyncUnlocks
  - handlers.go: TriggerScan endpoint (manual pass)
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/customers"
	"github.com/warp/incentive-engine/metrics"
	"github.com/warp/incentive-engine/store/sqlite"
)

// ScanRunStore records scanner passes.
type ScanRunStore interface {
	SaveScanRun(ctx context.Context, r sqlite.ScanRun) error
}

// UnlockScanner fills unlock gaps in the background.
type UnlockScanner struct {
	Service  *customers.Service
	Runs     ScanRunStore
	Interval time.Duration
	Enabled  bool
	Log      *zap.Logger
	Metrics  *metrics.Metrics

	mu     sync.Mutex // guards cancel
	cancel context.CancelFunc
	wg     sync.WaitGroup
	passMu sync.Mutex // one pass at a time
}

// NewUnlockScanner creates an enabled scanner with a one hour interval.
func NewUnlockScanner(svc *customers.Service, runs ScanRunStore, log *zap.Logger, m *metrics.Metrics) *UnlockScanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &UnlockScanner{
		Service:  svc,
		Runs:     runs,
		Interval: time.Hour,
		Enabled:  true,
		Log:      log.Named("scanner"),
		Metrics:  m,
	}
}

// Start launches the loop. Calling it twice, or on a disabled scanner, is a
// no-op.
func (s *UnlockScanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("disabled, not starting")
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Run(ctx)
	}()
}

// Stop ends the loop and waits for it to exit.
func (s *UnlockScanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.Log.Info("stopped")
}

// Run scans immediately, then every Interval, until ctx is done.
func (s *UnlockScanner) Run(ctx context.Context) error {
	s.Log.Info("started", zap.Duration("interval", s.Interval))

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.scan(ctx)
	for {
		select {
		case <-ticker.C:
			s.scan(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *UnlockScanner) scan(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.Log.Error("scan failed", zap.Error(err))
	}
}

// RunOnce performs one pass over every customer and records it.
func (s *UnlockScanner) RunOnce(ctx context.Context) (*sqlite.ScanRun, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	start := time.Now().UTC()
	run := sqlite.ScanRun{
		ID:        "scan-" + uuid.New().String(),
		Status:    "running",
		StartedAt: start,
	}
	if err := s.Runs.SaveScanRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run record: %w", err)
	}

	err := s.pass(ctx, &run)

	done := time.Now().UTC()
	run.CompletedAt = &done
	run.Status = "completed"
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
	}
	s.Metrics.ScanCompleted(run.Status, done.Sub(start))

	// The pass context may be cancelled; the record is still written.
	if saveErr := s.Runs.SaveScanRun(context.WithoutCancel(ctx), run); saveErr != nil {
		return &run, fmt.Errorf("failed to update run record: %w", saveErr)
	}
	if err != nil {
		return &run, err
	}

	if run.Unlocked > 0 {
		s.Log.Info("scan completed",
			zap.String("run_id", run.ID),
			zap.Int("customers", run.Customers),
			zap.Int("unlocked", run.Unlocked))
	} else {
		s.Log.Debug("scan completed, nothing to unlock",
			zap.String("run_id", run.ID),
			zap.Int("customers", run.Customers))
	}
	return &run, nil
}

func (s *UnlockScanner) pass(ctx context.Context, run *sqlite.ScanRun) error {
	list, err := s.Service.Directory.ListCustomers(ctx)
	if err != nil {
		return fmt.Errorf("list customers: %w", err)
	}

	for _, c := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		unlocked, err := s.Service.SyncUnlocks(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("sync %s: %w", c.ID, err)
		}
		run.Customers++
		run.Unlocked += len(unlocked)
	}
	return nil
}
