// Package schedule enqueues the recurring clustering and trend jobs.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"

	"github.com/lemonslut/that-news-thing-again/internal/config"
	"github.com/lemonslut/that-news-thing-again/internal/queue"
	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/logger"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

var log = logger.Component("Schedule")

// Publisher is the queue side the scheduler writes to.
type Publisher interface {
	Sweep(ctx context.Context, reason string) error
	CaptureTrends(ctx context.Context, msg queue.CaptureTrendsMsg) error
	Cleanup(ctx context.Context, reason string) error
}

type Scheduler struct {
	cron *cron.Cron
	pub  Publisher
	loc  *time.Location
	now  func() time.Time
}

// New validates every spec and registers the jobs. Nothing runs until Start.
func New(cfg config.Schedule, loc *time.Location, pub Publisher) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{cron: cron.NewWithLocation(loc), pub: pub, loc: loc, now: time.Now}

	jobs := []struct {
		field string
		spec  string
		run   func(context.Context) error
	}{
		{"SCHEDULE_SWEEP", cfg.Sweep, s.Sweep},
		{"SCHEDULE_HOURLY", cfg.Hourly, s.Hourly},
		{"SCHEDULE_DAILY", cfg.Daily, s.Daily},
		{"SCHEDULE_CLEANUP", cfg.Cleanup, s.Cleanup},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := cron.Parse(j.spec); err != nil {
			return nil, &common.ConfigError{Field: j.field, Reason: err.Error()}
		}
		run, name := j.run, j.field
		if err := s.cron.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := run(ctx); err != nil {
				log.Error("Failed to enqueue scheduled job", "job", name, "err", err)
			}
		}); err != nil {
			return nil, &common.ConfigError{Field: j.field, Reason: err.Error()}
		}
	}
	return s, nil
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func (s *Scheduler) Start() {
	log.Info("Starting scheduler", "jobs", len(s.cron.Entries()), "location", s.loc.String())
	s.cron.Start()
}

func (s *Scheduler) Stop() { s.cron.Stop() }

func (s *Scheduler) Sweep(ctx context.Context) error {
	return s.pub.Sweep(ctx, "schedule")
}

// Hourly captures the hour that just closed.
func (s *Scheduler) Hourly(ctx context.Context) error {
	return s.capture(ctx, trend.PeriodHour)
}

// Daily captures yesterday.
func (s *Scheduler) Daily(ctx context.Context) error {
	return s.capture(ctx, trend.PeriodDay)
}

func (s *Scheduler) Cleanup(ctx context.Context) error {
	return s.pub.Cleanup(ctx, "schedule")
}

func (s *Scheduler) capture(ctx context.Context, typ trend.PeriodType) error {
	start := trend.PeriodAt(typ, s.now(), s.loc).Previous().Start
	if err := s.pub.CaptureTrends(ctx, queue.CaptureTrendsMsg{PeriodType: typ, PeriodStart: &start}); err != nil {
		return fmt.Errorf("enqueue %s capture: %w", typ, err)
	}
	log.Debug("Enqueued capture", "period_type", typ.String(), "period_start", start)
	return nil
}
