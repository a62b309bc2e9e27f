package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const triggerRunTimeout = 30 * time.Minute

// SessionRunner is the interface for starting runtime runs from triggers.
type SessionRunner interface {
	RunFromTrigger(ctx context.Context, actorID, autonomy, prompt, invocationType string) error
}

// Scheduler manages cron-based runtime runs.
type Scheduler struct {
	cron   *cron.Cron
	runner SessionRunner
}

// NewScheduler creates a scheduler backed by the given runner.
// Cron expressions use the standard 5-field format: minute hour day-of-month
// month day-of-week (e.g. "0 9 * * 1-5" for 09:00 on weekdays). Do not use
// WithSeconds() so docs and configs match.
func NewScheduler(runner SessionRunner) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
	}
}

// RegisterSchedules adds cron entries from the trigger configuration.
func (s *Scheduler) RegisterSchedules(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	for _, sched := range cfg.Schedules {
		sched := sched

		_, err := s.cron.AddFunc(sched.Cron, func() {
			ctx, cancel := context.WithTimeout(context.Background(), triggerRunTimeout)
			defer cancel()

			log.Info().
				Str("actor_id", sched.Actor).
				Str("description", sched.Description).
				Msg("scheduled_trigger_fired")

			if err := s.runner.RunFromTrigger(ctx, sched.Actor, sched.Autonomy, sched.Prompt, "scheduled"); err != nil {
				log.Error().Err(err).
					Str("actor_id", sched.Actor).
					Msg("scheduled_trigger_failed")
			}
		})
		if err != nil {
			return fmt.Errorf("registering cron %q: %w", sched.Cron, err)
		}
	}

	return nil
}

// Start begins executing registered cron jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered cron entries (for testing).
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
