// Package dispatch – sweep.go runs the periodic due-reminder sweep on a
// cron schedule.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper is the delivery side the runner drives each tick.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SweepRunner fires the sweep at a fixed interval for deployments that run
// without an external scheduler, and as a safety net when one is armed.
type SweepRunner struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger

	cron *cron.Cron
}

// NewSweepRunner creates a runner. A non-positive interval defaults to one
// minute.
func NewSweepRunner(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *SweepRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweepRunner{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger.With("component", "sweep"),
	}
}

// Start begins ticking in the background until Stop or ctx cancellation.
func (r *SweepRunner) Start(ctx context.Context) error {
	r.cron = cron.New()
	spec := fmt.Sprintf("@every %s", r.interval)
	_, err := r.cron.AddFunc(spec, func() { r.tick(ctx) })
	if err != nil {
		return fmt.Errorf("register sweep schedule: %w", err)
	}
	r.cron.Start()
	r.logger.Info("reminder sweep started", "interval", r.interval)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for an in-flight tick to finish.
func (r *SweepRunner) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

func (r *SweepRunner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sent, err := r.sweeper.Sweep(ctx)
	if err != nil {
		r.logger.Error("sweep failed", "error", err)
		return
	}
	if sent > 0 {
		r.logger.Info("sweep delivered reminders", "sent", sent)
	}
}
