/*
scheduler.go - Automated overdue sweep

PURPOSE:
  Periodically recomputes every pending or overdue credit as of today so
  that penalties and overdue states are persisted even for credits nobody
  reads. The read path recomputes on fetch anyway; the sweep keeps listings
  and reports current.

DESIGN:
  - Runs on a cron schedule (robfig/cron), default "@every 1h"
  - Runs once immediately on start
  - Overlapping runs are skipped, never queued
  - Idempotent: re-running on the same day changes nothing

CONFIGURATION:
  - Schedule: cron spec or descriptor (sweep.schedule)
  - Enabled:  Whether the sweeper is active

USAGE:
  sweeper := NewOverdueSweeper(svc, logger)
  sweeper.Schedule = cfg.Sweep.Schedule
  if err := sweeper.Start(); err != nil { ... }
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - servicing/sweep.go: SweepOverdue
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/credit-engine/servicing"
)

// Sweeper is the servicing operation the scheduler drives.
type Sweeper interface {
	SweepOverdue(ctx context.Context) (servicing.SweepResult, error)
}

// OverdueSweeper handles the periodic overdue sweep.
type OverdueSweeper struct {
	Sweeper  Sweeper
	Schedule string
	Enabled  bool
	Logger   *zap.Logger

	cron    *cron.Cron
	initial sync.WaitGroup
	running sync.Mutex
	mu      sync.Mutex
	last    *servicing.SweepResult
	lastAt  time.Time
}

// NewOverdueSweeper creates a new sweeper.
func NewOverdueSweeper(sweeper Sweeper, logger *zap.Logger) *OverdueSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverdueSweeper{
		Sweeper:  sweeper,
		Schedule: "@every 1h",
		Enabled:  true,
		Logger:   logger,
	}
}

// Start registers the schedule and begins the sweeper.
func (sw *OverdueSweeper) Start() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !sw.Enabled {
		sw.Logger.Info("overdue sweeper disabled, not starting")
		return nil
	}
	if sw.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(sw.Schedule, sw.RunNow); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", sw.Schedule, err)
	}
	sw.cron = c
	c.Start()

	// Run immediately on start
	sw.initial.Add(1)
	go func() {
		defer sw.initial.Done()
		sw.RunNow()
	}()

	sw.Logger.Info("overdue sweeper started", zap.String("schedule", sw.Schedule))
	return nil
}

// Stop stops the sweeper and waits for a running sweep to finish.
func (sw *OverdueSweeper) Stop() {
	sw.mu.Lock()
	c := sw.cron
	sw.cron = nil
	sw.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	// The run started by Start is not tracked by cron; a manual RunNow
	// holds running.
	sw.initial.Wait()
	sw.running.Lock()
	sw.running.Unlock()
	sw.Logger.Info("overdue sweeper stopped")
}

// RunNow triggers an immediate sweep. It returns at once if a sweep is
// already running.
func (sw *OverdueSweeper) RunNow() {
	if !sw.running.TryLock() {
		sw.Logger.Debug("overdue sweep already running, skipping")
		return
	}
	defer sw.running.Unlock()

	started := time.Now()
	result, err := sw.Sweeper.SweepOverdue(context.Background())
	if err != nil {
		sw.Logger.Error("overdue sweep failed", zap.Error(err))
		return
	}

	sw.mu.Lock()
	sw.last = &result
	sw.lastAt = started
	sw.mu.Unlock()

	sw.Logger.Info("overdue sweep completed",
		zap.String("as_of", result.AsOf.String()),
		zap.Int("checked", result.Checked),
		zap.Int("changed", result.Changed),
		zap.Int("failed", result.Failed),
		zap.Duration("took", time.Since(started)))
}

// LastRun returns the result of the last completed sweep, if any.
func (sw *OverdueSweeper) LastRun() (servicing.SweepResult, time.Time, bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.last == nil {
		return servicing.SweepResult{}, time.Time{}, false
	}
	return *sw.last, sw.lastAt, true
}

// NextRunTime returns when the next scheduled sweep will occur.
func (sw *OverdueSweeper) NextRunTime() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.cron == nil {
		return time.Time{}
	}
	entries := sw.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
