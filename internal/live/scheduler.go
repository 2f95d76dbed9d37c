// Package live is the thin, optional wrapper a production deployment
// uses to invoke the Production Engine on a monthly cadence (§5: "the
// surrounding layer may invoke step ... in a worker"). None of this is
// part of the core's contract — a backtest never touches this package.
package live

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one thing the scheduler can run on a cron cadence.
type Job interface {
	Run() error
	Name() string
}

// Scheduler drives registered Jobs against cron expressions.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler constructs a Scheduler with second-level cron precision.
func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "live.scheduler").Logger(),
	}
}

// Start starts the underlying cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop drains in-flight jobs and stops the cron loop.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job against a six-field cron schedule string with a
// leading seconds field (e.g. "0 0 0 1 * *" for "00:00:00 on the first
// of every month").
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("running job")
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job immediately")
	return job.Run()
}
