package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/lemonslut/that-news-thing-again/internal/config"
	"github.com/lemonslut/that-news-thing-again/internal/queue"
	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

type fakePublisher struct {
	sweeps   []string
	captures []queue.CaptureTrendsMsg
	cleanups int
}

func (f *fakePublisher) Sweep(ctx context.Context, reason string) error {
	f.sweeps = append(f.sweeps, reason)
	return nil
}

func (f *fakePublisher) CaptureTrends(ctx context.Context, msg queue.CaptureTrendsMsg) error {
	f.captures = append(f.captures, msg)
	return nil
}

func (f *fakePublisher) Cleanup(ctx context.Context, reason string) error {
	f.cleanups++
	return nil
}

func defaults() config.Schedule {
	return config.Schedule{
		Enabled: true,
		Sweep:   "0 */15 * * * *",
		Hourly:  "0 5 * * * *",
		Daily:   "0 15 0 * * *",
		Cleanup: "0 0 3 * * *",
	}
}

func TestNewRegistersJobs(t *testing.T) {
	s, err := New(defaults(), time.UTC, &fakePublisher{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if n := len(s.cron.Entries()); n != 4 {
		t.Fatalf("expected 4 jobs, got %d", n)
	}
}

func TestNewRejectsBadSpec(t *testing.T) {
	cfg := defaults()
	cfg.Daily = "every day"
	_, err := New(cfg, time.UTC, &fakePublisher{})
	if !common.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestCaptureTargetsClosedPeriods(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	pub := &fakePublisher{}
	s, err := New(defaults(), berlin, pub)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// 00:15 local on 2 Dec
	s.WithClock(func() time.Time { return time.Date(2025, 12, 1, 23, 15, 0, 0, time.UTC) })

	ctx := context.Background()
	if err := s.Hourly(ctx); err != nil {
		t.Fatalf("hourly failed: %v", err)
	}
	if err := s.Daily(ctx); err != nil {
		t.Fatalf("daily failed: %v", err)
	}
	if len(pub.captures) != 2 {
		t.Fatalf("expected 2 captures, got %d", len(pub.captures))
	}

	hour := pub.captures[0]
	if hour.PeriodType != trend.PeriodHour || !hour.PeriodStart.Equal(time.Date(2025, 12, 1, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected previous local hour, got %+v at %s", hour, hour.PeriodStart)
	}
	day := pub.captures[1]
	if day.PeriodType != trend.PeriodDay || !day.PeriodStart.Equal(time.Date(2025, 12, 1, 0, 0, 0, 0, berlin)) {
		t.Fatalf("expected 1 Dec local, got %s", day.PeriodStart)
	}
}

func TestSweepAndCleanup(t *testing.T) {
	pub := &fakePublisher{}
	s, err := New(config.Schedule{}, nil, pub)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(s.cron.Entries()) != 0 {
		t.Fatal("expected no jobs for empty specs")
	}
	_ = s.Sweep(context.Background())
	_ = s.Cleanup(context.Background())
	if len(pub.sweeps) != 1 || pub.sweeps[0] != "schedule" || pub.cleanups != 1 {
		t.Fatalf("unexpected publishes %+v", pub)
	}
}
