package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// DefaultInterval is the poll interval used when none is configured.
	DefaultInterval = 5 * time.Minute
	// MinInterval is the smallest accepted poll interval.
	MinInterval = time.Minute
	// DefaultInitialDelay is the wait before the first cycle after startup.
	DefaultInitialDelay = 10 * time.Second
)

// Checker runs one poll cycle.
type Checker interface {
	CheckAll(ctx context.Context) error
}

// Scheduler triggers cycles: once after a short delay, then on every tick.
type Scheduler struct {
	checker      Checker
	logger       *slog.Logger
	interval     time.Duration
	initialDelay time.Duration
}

// NewScheduler creates a scheduler firing every interval.
func NewScheduler(checker Checker, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		checker:      checker,
		logger:       logger,
		interval:     interval,
		initialDelay: DefaultInitialDelay,
	}
}

// Run blocks until ctx is done. Cycle errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Started poll scheduler", "interval", s.interval.String(), "initial_delay", s.initialDelay.String())

	initial := time.NewTimer(s.initialDelay)
	defer initial.Stop()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-initial.C:
			s.trigger(ctx, "initial")
		case <-ticker.C:
			s.trigger(ctx, "tick")
		case <-ctx.Done():
			s.logger.Info("Poll scheduler shutting down")
			return
		}
	}
}

// trigger starts a cycle without blocking the timer loop. The monitor's
// guard turns an overlapping trigger into a no-op.
func (s *Scheduler) trigger(ctx context.Context, reason string) {
	go func() {
		err := s.checker.CheckAll(ctx)
		switch {
		case errors.Is(err, ErrCycleInProgress):
			s.logger.Info("Poll trigger skipped, cycle still running", "reason", reason)
		case errors.Is(err, context.Canceled):
		case err != nil:
			s.logger.Error("Poll cycle failed", "reason", reason, "error", err)
		}
	}()
}
