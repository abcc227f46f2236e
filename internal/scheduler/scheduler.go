package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every scheduled run.
type TickFunc func(ctx context.Context)

// Options tune scheduler behaviour.
type Options struct {
	Interval   time.Duration
	RunOnStart bool
}

// Scheduler drives periodic update cycles. At most one tick runs at a time;
// a tick that comes due while the previous one is still running is dropped.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create gocron scheduler: %w", err)
	}

	jobOpts := []gocron.JobOption{
		gocron.WithName("update-cycle"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if s.opts.RunOnStart {
		jobOpts = append(jobOpts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	job, err := sched.NewJob(
		gocron.DurationJob(s.opts.Interval),
		gocron.NewTask(func() { s.execute(ctx, tick) }),
		jobOpts...,
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("create update job: %w", err)
	}

	sched.Start()
	s.logger.Info().Dur("interval", s.opts.Interval).Bool("run_on_start", s.opts.RunOnStart).Str("job_id", job.ID().String()).Msg("scheduler started")

	<-ctx.Done()

	if err := sched.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("scheduler shutdown failed")
	}
	s.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	s.logger.Debug().Msg("executing scheduled tick")
	tick(ctx)
	s.logger.Debug().Dur("elapsed", time.Since(started)).Msg("scheduled tick finished")
}
