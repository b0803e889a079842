// Package schedule runs the mailbox processing loop on a fixed interval.
package schedule

import (
	"context"
	"log/slog"
	"time"
)

// TriggerFunc runs one processing pass and reports how many messages
// were replied to.
type TriggerFunc func(ctx context.Context) (processed int, err error)

// Scheduler invokes a trigger on every tick until its context is cancelled.
// Errors from the trigger are logged and the loop keeps running.
type Scheduler struct {
	trigger  TriggerFunc
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Scheduler. If interval is <= 0, Run is a no-op.
func New(trigger TriggerFunc, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		trigger:  trigger,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks, firing the trigger every interval until ctx is cancelled.
// The first pass runs after one full interval, not immediately.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("scheduler disabled, no interval configured")
		return
	}

	s.logger.Info("scheduler started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce fires the trigger a single time, logging the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	processed, err := s.trigger(ctx)
	if err != nil {
		s.logger.Error("scheduled run failed", "error", err)
		return
	}
	s.logger.Info("scheduled run complete", "processed", processed, "duration", time.Since(start).String())
}
