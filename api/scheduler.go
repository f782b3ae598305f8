/*
scheduler.go - Periodic replay scheduler

PURPOSE:
  Periodically replays every food item so divergence between the event log
  and the cached pools (two sessions racing on one item, rule changes,
  legacy rows) is healed without anyone asking.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs once immediately on Start
  - A failed run is logged; the next tick tries again

CONFIGURATION:
  - Interval: How often to replay (default: 1 hour)
  - Enabled:  Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReplayScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - intake/replay.go: Engine.ReplayAll
  - handlers.go: ReplayAll endpoint (manual run)
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/intake-ledger/intake"
)

// ReplayScheduler runs Engine.ReplayAll on an interval.
type ReplayScheduler struct {
	Engine   *intake.Engine
	Logger   *slog.Logger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.Mutex
	last    intake.Report
	lastRun time.Time
}

// NewReplayScheduler creates a new scheduler.
func NewReplayScheduler(engine *intake.Engine, logger *slog.Logger) *ReplayScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplayScheduler{
		Engine:   engine,
		Logger:   logger.With("component", "scheduler"),
		Interval: 1 * time.Hour,
		Enabled:  true,
	}
}

// Start begins the scheduler.
func (rs *ReplayScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.Logger.Info("started", "interval", rs.Interval)
}

// Stop stops the scheduler and waits for a running replay to finish.
func (rs *ReplayScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.cancel()
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("stopped")
	}
}

// RunOnce replays everything now and records the report.
func (rs *ReplayScheduler) RunOnce(ctx context.Context) (intake.Report, error) {
	report, err := rs.Engine.ReplayAll(ctx)
	if err != nil {
		rs.Logger.Error("replay run failed", "error", err)
		return intake.Report{}, err
	}

	rs.lastMu.Lock()
	rs.last = report
	rs.lastRun = time.Now()
	rs.lastMu.Unlock()
	return report, nil
}

// LastRun returns the report of the most recent successful run.
func (rs *ReplayScheduler) LastRun() (intake.Report, time.Time) {
	rs.lastMu.Lock()
	defer rs.lastMu.Unlock()
	return rs.last, rs.lastRun
}

func (rs *ReplayScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunOnce(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.RunOnce(ctx)
		case <-rs.stop:
			return
		}
	}
}
