package reconciler

import (
	"context"
	"time"

	"github.com/w3c/groups-server/internal/logging"
)

// Scheduler runs a cycle, then waits for the refresh interval before running the next one
type Scheduler struct {
	runner   *Runner
	interval func() time.Duration
	after    func(time.Duration) <-chan time.Time
	once     bool
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// RunOnce runs a single cycle and returns, for debugging
func RunOnce(once bool) SchedulerOption {
	return func(s *Scheduler) { s.once = once }
}

// WithTimer replaces time.After
func WithTimer(after func(time.Duration) <-chan time.Time) SchedulerOption {
	return func(s *Scheduler) { s.after = after }
}

// NewScheduler creates a scheduler. interval is consulted after every cycle, so that a
// refresh cycle changed in the settings applies from the next wait on.
func NewScheduler(r *Runner, interval func() time.Duration, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner:   r,
		interval: interval,
		after:    time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start blocks until ctx is done. Cycle failures are reported by the runner and do not
// stop the loop.
func (s *Scheduler) Start(ctx context.Context) {
	log := logging.FromContext(ctx)
	if s.once {
		log.Warn().Msg("refresh cycle not starting (debug mode)")
	}

	for {
		_, _ = s.runner.Run(ctx, TriggerSchedule)
		if s.once {
			return
		}

		wait := s.interval()
		log.Info().Dur("next_in", wait).Msg("next refresh scheduled")
		select {
		case <-ctx.Done():
			return
		case <-s.after(wait):
		}
	}
}

// RefreshInterval converts a refresh cycle in hours into a wait duration
func RefreshInterval(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}
