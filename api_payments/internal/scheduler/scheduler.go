// Package scheduler turns wall-clock schedules into queued jobs. It never
// does the work itself.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"frameworks/api_payments/internal/jobs"
	"frameworks/api_payments/internal/models"
	"frameworks/pkg/logging"
)

const (
	DefaultRenewalSpec  = "@every 15m"
	DefaultWeeklySpec   = "0 2 * * 1"
	DefaultMonthlySpec  = "0 3 1 * *"
	DefaultDisburseSpec = "@hourly"

	enqueueTimeout = 30 * time.Second
)

// Enqueuer is implemented by jobs.Dispatcher.
type Enqueuer interface {
	EnqueueRenewalSweep(ctx context.Context) error
	EnqueuePayoutRun(ctx context.Context, run jobs.PayoutRun) error
	EnqueueDisburse(ctx context.Context) error
}

// CreatorLister returns creator ids paid on a schedule.
type CreatorLister interface {
	CreatorIDsBySchedule(ctx context.Context, schedule models.PayoutSchedule) ([]string, error)
}

// Config holds cron specs. Weekly and biweekly payouts share WeeklySpec;
// biweekly runs fire on even ISO weeks.
type Config struct {
	RenewalSpec  string
	WeeklySpec   string
	MonthlySpec  string
	DisburseSpec string
}

func (c Config) withDefaults() Config {
	if c.RenewalSpec == "" {
		c.RenewalSpec = DefaultRenewalSpec
	}
	if c.WeeklySpec == "" {
		c.WeeklySpec = DefaultWeeklySpec
	}
	if c.MonthlySpec == "" {
		c.MonthlySpec = DefaultMonthlySpec
	}
	if c.DisburseSpec == "" {
		c.DisburseSpec = DefaultDisburseSpec
	}
	return c
}

type Scheduler struct {
	cron     *cron.Cron
	cfg      Config
	enqueuer Enqueuer
	creators CreatorLister
	now      func() time.Time
	logger   logging.Logger
}

func New(enqueuer Enqueuer, creators CreatorLister, cfg Config, logger logging.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.PrintfLogger(logger))),
		),
		cfg:      cfg.withDefaults(),
		enqueuer: enqueuer,
		creators: creators,
		now:      time.Now,
		logger:   logger,
	}
}

// Start registers every entry and starts the cron loop.
func (s *Scheduler) Start() error {
	entries := []struct {
		name string
		spec string
		fn   func(ctx context.Context) error
	}{
		{"renewal_sweep", s.cfg.RenewalSpec, s.RunRenewal},
		{"weekly_payouts", s.cfg.WeeklySpec, s.runWeekly},
		{"monthly_payouts", s.cfg.MonthlySpec, func(ctx context.Context) error {
			return s.RunPayouts(ctx, models.ScheduleMonthly)
		}},
		{"disburse_payouts", s.cfg.DisburseSpec, s.RunDisburse},
	}
	for _, e := range entries {
		e := e
		if _, err := s.cron.AddFunc(e.spec, func() { s.run(e.name, e.fn) }); err != nil {
			return fmt.Errorf("failed to schedule %s (%q): %w", e.name, e.spec, err)
		}
	}
	s.cron.Start()
	s.logger.WithFields(logging.Fields{
		"renewal":  s.cfg.RenewalSpec,
		"weekly":   s.cfg.WeeklySpec,
		"monthly":  s.cfg.MonthlySpec,
		"disburse": s.cfg.DisburseSpec,
	}).Info("Scheduler started")
	return nil
}

// Stop halts the cron loop and returns a context done once running entries finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.logger.WithError(err).WithField("entry", name).Error("Scheduled enqueue failed")
	}
}

func (s *Scheduler) RunRenewal(ctx context.Context) error {
	return s.enqueuer.EnqueueRenewalSweep(ctx)
}

func (s *Scheduler) RunDisburse(ctx context.Context) error {
	return s.enqueuer.EnqueueDisburse(ctx)
}

func (s *Scheduler) runWeekly(ctx context.Context) error {
	if err := s.RunPayouts(ctx, models.ScheduleWeekly); err != nil {
		return err
	}
	if BiweeklyDue(s.now()) {
		return s.RunPayouts(ctx, models.ScheduleBiweekly)
	}
	return nil
}

// biweeklyEpoch is the Monday that opens a biweekly cycle. Counting weeks
// from a fixed Monday keeps the cadence at exactly 14 days across years
// with 53 ISO weeks.
var biweeklyEpoch = time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)

// BiweeklyDue reports whether the week containing now closes a biweekly period.
func BiweeklyDue(now time.Time) bool {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := int(day.Sub(biweeklyEpoch).Hours() / 24)
	weeks := days / 7
	if days < 0 && days%7 != 0 {
		weeks--
	}
	return weeks%2 == 0
}

// RunPayouts enqueues a payout run over the previous period for every
// creator on schedule. No creators means no job.
func (s *Scheduler) RunPayouts(ctx context.Context, schedule models.PayoutSchedule) error {
	ids, err := s.creators.CreatorIDsBySchedule(ctx, schedule)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	start, end := Period(schedule, s.now())
	if err := s.enqueuer.EnqueuePayoutRun(ctx, jobs.PayoutRun{PeriodStart: start, PeriodEnd: end, CreatorIDs: ids}); err != nil {
		return err
	}
	s.logger.WithFields(logging.Fields{
		"schedule":     schedule,
		"creators":     len(ids),
		"period_start": start,
		"period_end":   end,
	}).Info("Queued payout run")
	return nil
}

// Period returns the last complete period for schedule before now, in UTC.
// Weeks start on Monday. The end is one microsecond before the boundary so
// consecutive periods never share an instant at database precision.
func Period(schedule models.PayoutSchedule, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	var start, boundary time.Time
	switch schedule {
	case models.ScheduleMonthly:
		boundary = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		start = boundary.AddDate(0, -1, 0)
	default:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		boundary = day.AddDate(0, 0, -offset)
		days := 7
		if schedule == models.ScheduleBiweekly {
			days = 14
		}
		start = boundary.AddDate(0, 0, -days)
	}
	return start, boundary.Add(-time.Microsecond)
}
