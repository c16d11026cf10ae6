// Package scheduler runs the earnings table maintenance jobs on cron
// schedules: the weekday refresh and the pre-market cleanup.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/seenimoa/earnvol/internal/scan"
)

// Jobs is the work the scheduler triggers.
type Jobs interface {
	Update(ctx context.Context) (scan.Summary, error)
	DeleteBeforeOpen(ctx context.Context) (int64, error)
}

// Scheduler handles the periodic earnings jobs.
type Scheduler struct {
	jobs       Jobs
	cron       *cron.Cron
	timeout    time.Duration
	tradingDay func(time.Time) bool
	now        func() time.Time
	logger     zerolog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTradingCalendar makes both jobs skip days for which isTradingDay
// reports false.
func WithTradingCalendar(isTradingDay func(time.Time) bool) Option {
	return func(s *Scheduler) { s.tradingDay = isTradingDay }
}

// WithClock overrides the clock the trading calendar is checked against.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler evaluating specs in UTC.
func New(jobs Jobs, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs: jobs,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		timeout: 30 * time.Minute,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// closedToday reports whether the trading calendar rules out running now.
func (s *Scheduler) closedToday(job string) bool {
	if s.tradingDay == nil || s.tradingDay(s.now()) {
		return false
	}
	s.logger.Info().Str("job", job).Msg("market closed today, skipping")
	return true
}

// Start registers both jobs and starts the cron loop. Specs use the
// standard five-field format.
func (s *Scheduler) Start(updateSpec, deleteSpec string) error {
	if _, err := s.cron.AddFunc(updateSpec, s.RunUpdate); err != nil {
		return fmt.Errorf("schedule update %q: %w", updateSpec, err)
	}
	if _, err := s.cron.AddFunc(deleteSpec, s.RunDeleteBeforeOpen); err != nil {
		return fmt.Errorf("schedule delete-before-market %q: %w", deleteSpec, err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("update", updateSpec).
		Str("delete_before_market", deleteSpec).
		Msg("earnings scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info().Msg("earnings scheduler stopped")
}

// Next returns the next activation time of each job, in registration order.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.Next
	}
	return out
}

// RunUpdate deletes past rows and rescans the calendar.
func (s *Scheduler) RunUpdate() {
	if s.closedToday("update-earnings") {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.logger.Info().Msg("starting scheduled earnings update")
	sum, err := s.jobs.Update(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled earnings update failed")
		return
	}
	s.logger.Info().
		Int("written", sum.Written).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Msg("scheduled earnings update completed")
}

// RunDeleteBeforeOpen removes today's before-market-open rows.
func (s *Scheduler) RunDeleteBeforeOpen() {
	if s.closedToday("delete-before-market") {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.jobs.DeleteBeforeOpen(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled before-open cleanup failed")
		return
	}
	s.logger.Info().Int64("rows", n).Msg("scheduled before-open cleanup completed")
}
