// Package scheduler runs the stale-lead sweep on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/fixaren/backoffice/internal/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweeper closes stale deals across all tenants.
type Sweeper interface {
	SweepAll(ctx context.Context) (int, error)
}

// Scheduler fires a Sweeper at every tick of a cron schedule.
type Scheduler struct {
	sweeper  Sweeper
	schedule cron.Schedule
	expr     string
	log      *zap.SugaredLogger
	now      func() time.Time
}

// New parses expr and returns a Scheduler for it.
func New(sweeper Sweeper, expr string, log *zap.SugaredLogger) (*Scheduler, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("scheduler: sweeper is required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse %q: %w", expr, err)
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{
		sweeper:  sweeper,
		schedule: sched,
		expr:     expr,
		log:      log,
		now:      time.Now,
	}, nil
}

// Next returns the duration until the next fire time.
func (s *Scheduler) Next() time.Duration {
	now := s.now()
	d := s.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Run blocks, sweeping at each scheduled time, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Infow("stale sweep scheduled", "schedule", s.expr, "next_in", s.Next().Round(time.Second))

	timer := time.NewTimer(s.Next())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(s.Next())
		}
	}
}

// RunOnce performs a single sweep and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	start := time.Now()
	n, err := s.sweeper.SweepAll(ctx)
	if err != nil {
		s.log.Errorw("stale sweep finished with errors", "moved", n, "error", err)
		return n
	}
	s.log.Infow("stale sweep finished", "moved", n, "elapsed", time.Since(start).Round(time.Millisecond))
	return n
}
