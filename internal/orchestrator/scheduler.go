package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Runner is anything that performs one pipeline pass
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Scheduler invokes a Runner immediately and then every interval. Runs never
// overlap: the next tick is only consumed after the current run returns.
type Scheduler struct {
	runner   Runner
	interval time.Duration
}

// NewScheduler creates a scheduler for runner
func NewScheduler(runner Runner, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Starting ESI status scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping ESI status scheduler")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	res, err := s.runner.Run(ctx)
	switch {
	case err == nil:
		log.Debug().Str("run_id", res.RunID).Str("outcome", string(res.Outcome)).Msg("Scheduled run finished")
	case errors.Is(err, ErrRunInProgress):
		log.Debug().Str("run_id", res.RunID).Msg("Scheduled run skipped; previous run still active")
	default:
		log.Debug().Err(err).Str("run_id", res.RunID).Str("failed_state", res.FailedState.String()).Msg("Scheduled run aborted")
	}
}
