package trend_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/lemonslut/that-news-thing-again/pkg/store/memory"
	"github.com/lemonslut/that-news-thing-again/pkg/story"
	"github.com/lemonslut/that-news-thing-again/pkg/subject"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

var hourStart = time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)

// seedStory creates a story of n articles published one second apart from at.
func seedStory(t *testing.T, s *memory.Store, firstID int64, n int, at time.Time, subj int64) int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, n)
	for i := range n {
		id := firstID + int64(i)
		s.PutArticle(story.Article{ID: id, Title: "headline", PublishedAt: at.Add(time.Duration(i) * time.Second)},
			subject.Subject{ID: subj, Kind: subject.KindPerson, Label: "Subject"})
		ids[i] = id
	}
	st, err := s.CreateStory(ctx, "headline", ids)
	if err != nil {
		t.Fatalf("failed to seed story: %v", err)
	}
	return st.ID
}

func newEngine(t *testing.T, s trend.Store, now time.Time) *trend.Engine {
	t.Helper()
	e, err := trend.NewEngine(s, trend.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e.WithClock(func() time.Time { return now })
}

func TestCaptureTrendsVelocityAndPrevious(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	prevHour := hourStart.Add(-time.Hour)

	id := seedStory(t, s, 1, 150, hourStart, 1)
	s.PutSnapshot(trend.Snapshot{
		Entity:      trend.EntityRef{Kind: trend.KindStory, ID: id},
		PeriodStart: prevHour, PeriodType: trend.PeriodHour, Count: 100, Rank: 3,
	})

	e := newEngine(t, s, hourStart.Add(90*time.Minute))
	capture, err := e.CaptureTrends(ctx, trend.Request{PeriodType: trend.PeriodHour, PeriodStart: hourStart})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(capture.Snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(capture.Snapshots))
	}
	snap := capture.Snapshots[0]
	if snap.Count != 150 || snap.Rank != 1 || snap.Velocity != 50.0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.PreviousRank == nil || *snap.PreviousRank != 3 {
		t.Fatalf("expected previous rank 3, got %v", snap.PreviousRank)
	}
}

func TestCaptureTrendsNoPriorData(t *testing.T) {
	s := memory.New()
	seedStory(t, s, 1, 4, hourStart, 1)

	capture, err := newEngine(t, s, hourStart).CaptureTrends(context.Background(), trend.Request{PeriodType: trend.PeriodHour, PeriodStart: hourStart})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := capture.Snapshots[0]
	if snap.PreviousRank != nil || snap.Velocity != 0.0 || !snap.IsNewEntry() {
		t.Fatalf("expected new entry with zero velocity, got %+v", snap)
	}
}

func TestCaptureTrendsDefaultsToCurrentPeriod(t *testing.T) {
	s := memory.New()
	seedStory(t, s, 1, 2, hourStart.Add(5*time.Minute), 1)

	capture, err := newEngine(t, s, hourStart.Add(30*time.Minute)).CaptureTrends(context.Background(), trend.Request{PeriodType: trend.PeriodHour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !capture.Period.Start.Equal(hourStart) || capture.Kind != trend.KindStory {
		t.Fatalf("unexpected capture %s %s", capture.Kind, capture.Period)
	}
}

func TestCaptureTrendsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seedStory(t, s, 1, 10, hourStart, 1)
	seedStory(t, s, 100, 10, hourStart, 2)
	seedStory(t, s, 200, 5, hourStart, 3)
	e := newEngine(t, s, hourStart.Add(2*time.Hour))
	req := trend.Request{PeriodType: trend.PeriodHour, PeriodStart: hourStart}

	first, err := e.CaptureTrends(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.CaptureTrends(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first.Snapshots, second.Snapshots) {
		t.Fatalf("expected identical rankings, got %+v and %+v", first.Snapshots, second.Snapshots)
	}
	if s.SnapshotCount() != 3 {
		t.Fatalf("expected 3 rows, got %d", s.SnapshotCount())
	}
	if first.Snapshots[0].Entity.ID != 1 || first.Snapshots[1].Entity.ID != 2 {
		t.Fatalf("expected tie broken by story id, got %+v", first.Snapshots)
	}
}

func TestCaptureTrendsPrunesStaleRows(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seedStory(t, s, 1, 3, hourStart, 1)
	s.PutSnapshot(trend.Snapshot{
		Entity:      trend.EntityRef{Kind: trend.KindStory, ID: 999},
		PeriodStart: hourStart, PeriodType: trend.PeriodHour, Count: 8, Rank: 1,
	})
	s.PutSnapshot(trend.Snapshot{
		Entity:      trend.EntityRef{Kind: trend.KindSubject, ID: 999},
		PeriodStart: hourStart, PeriodType: trend.PeriodHour, Count: 8, Rank: 1,
	})

	if _, err := newEngine(t, s, hourStart).CaptureTrends(ctx, trend.Request{PeriodType: trend.PeriodHour, PeriodStart: hourStart}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, _ := s.ListSnapshots(ctx, trend.Query{Kind: trend.KindStory, PeriodType: trend.PeriodHour, PeriodStart: hourStart})
	if len(rows) != 1 || rows[0].Entity.ID == 999 {
		t.Fatalf("expected stale story row to be pruned, got %+v", rows)
	}
	if s.SnapshotCount() != 2 {
		t.Fatalf("expected subject row to survive, got %d rows", s.SnapshotCount())
	}
}

func TestCaptureKindsAndLabels(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seedStory(t, s, 1, 3, hourStart, 7)
	s.PutCategory(5, "Politics")
	s.TagCategory(1, 5)
	s.TagCategory(2, 5)

	cfg := trend.DefaultConfig()
	cfg.Kinds = trend.Kinds()
	e, err := trend.NewEngine(s, cfg)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	e.WithClock(func() time.Time { return hourStart }).WithLabelers(s.Labelers())

	captures, err := e.CaptureKinds(ctx, trend.PeriodHour, hourStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(captures) != 3 || captures[0].Kind != trend.KindStory || captures[2].Kind != trend.KindCategory {
		t.Fatalf("unexpected captures %+v", captures)
	}
	if captures[1].Snapshots[0].Count != 3 || captures[2].Snapshots[0].Count != 2 {
		t.Fatalf("unexpected counts %+v / %+v", captures[1].Snapshots, captures[2].Snapshots)
	}

	rows, err := e.List(ctx, trend.Query{Kind: trend.KindCategory, PeriodType: trend.PeriodHour, PeriodStart: hourStart})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Label != "Politics" {
		t.Fatalf("expected labelled category row, got %+v", rows)
	}
	subjects, _ := e.List(ctx, trend.Query{Kind: trend.KindSubject, PeriodType: trend.PeriodHour, PeriodStart: hourStart})
	if len(subjects) != 1 || subjects[0].Label != "Subject" {
		t.Fatalf("expected labelled subject row, got %+v", subjects)
	}
}

func TestBackfillCarriesRanksForward(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seedStory(t, s, 1, 2, hourStart, 1)
	seedStory(t, s, 10, 4, hourStart.Add(time.Hour), 2)
	// story 1 also grows in the second hour
	s.PutArticle(story.Article{ID: 50, PublishedAt: hourStart.Add(time.Hour + time.Minute)}, subject.Subject{ID: 1, Kind: subject.KindPerson})
	if _, err := s.AttachArticle(ctx, 50, 1); err != nil {
		t.Fatalf("failed to attach: %v", err)
	}

	e := newEngine(t, s, hourStart.Add(3*time.Hour))
	n, err := e.Backfill(ctx, trend.PeriodHour, hourStart, hourStart.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 periods, got %d", n)
	}

	rows, _ := s.ListSnapshots(ctx, trend.Query{Kind: trend.KindStory, PeriodType: trend.PeriodHour, PeriodStart: hourStart.Add(time.Hour)})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %+v", rows)
	}
	if rows[0].Entity.ID != 2 || !rows[0].IsNewEntry() {
		t.Fatalf("expected story 2 to enter at the top, got %+v", rows[0])
	}
	if rows[1].Entity.ID != 1 || rows[1].PreviousRank == nil || *rows[1].PreviousRank != 1 || !rows[1].IsFalling() {
		t.Fatalf("expected story 1 to fall from rank 1, got %+v", rows[1])
	}
	if rows[1].Velocity != -50.0 {
		t.Fatalf("expected velocity -50, got %v", rows[1].Velocity)
	}
}

type recordingArchiver struct {
	rows   []trend.Snapshot
	err    error
	during func()
}

func (r *recordingArchiver) ArchiveSnapshots(ctx context.Context, cutoff time.Time, rows []trend.Snapshot) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if r.during != nil {
		r.during()
	}
	r.rows = append(r.rows, rows...)
	return "trend-snapshots/test.jsonl", nil
}

func TestCleanupPurgesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	old := trend.Snapshot{Entity: trend.EntityRef{Kind: trend.KindStory, ID: 1}, PeriodStart: now.AddDate(0, 0, -91), PeriodType: trend.PeriodDay, Count: 1, Rank: 1}
	recent := trend.Snapshot{Entity: trend.EntityRef{Kind: trend.KindStory, ID: 1}, PeriodStart: now.AddDate(0, 0, -89), PeriodType: trend.PeriodDay, Count: 1, Rank: 1}
	s.PutSnapshot(old)
	s.PutSnapshot(recent)

	archiver := &recordingArchiver{}
	e := newEngine(t, s, now).WithArchiver(archiver)
	res, err := e.Cleanup(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Deleted != 1 || res.Archived != 1 || len(archiver.rows) != 1 {
		t.Fatalf("unexpected cleanup result %+v", res)
	}
	if s.SnapshotCount() != 1 {
		t.Fatalf("expected recent row to remain, got %d rows", s.SnapshotCount())
	}
}

func TestCleanupKeepsRowsWhenArchiveFails(t *testing.T) {
	s := memory.New()
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	s.PutSnapshot(trend.Snapshot{Entity: trend.EntityRef{Kind: trend.KindStory, ID: 1}, PeriodStart: now.AddDate(-1, 0, 0), PeriodType: trend.PeriodDay, Count: 1, Rank: 1})

	_, err := newEngine(t, s, now).WithArchiver(&recordingArchiver{err: errors.New("bucket missing")}).Cleanup(context.Background())
	if err == nil {
		t.Fatal("expected archive failure to abort cleanup")
	}
	if s.SnapshotCount() != 1 {
		t.Fatal("expected row to be kept")
	}
}

func TestCleanupKeepsRowsWrittenDuringArchive(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	s.PutSnapshot(trend.Snapshot{Entity: trend.EntityRef{Kind: trend.KindStory, ID: 1}, PeriodStart: now.AddDate(0, 0, -100), PeriodType: trend.PeriodDay, Count: 1, Rank: 1})
	late := trend.Snapshot{Entity: trend.EntityRef{Kind: trend.KindStory, ID: 2}, PeriodStart: now.AddDate(0, 0, -95), PeriodType: trend.PeriodDay, Count: 3, Rank: 1}

	// a backfill lands an expired row after the archive read
	archiver := &recordingArchiver{during: func() { s.PutSnapshot(late) }}
	res, err := newEngine(t, s, now).WithArchiver(archiver).Cleanup(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Archived != 1 || res.Deleted != 1 {
		t.Fatalf("expected only the archived row deleted, got %+v", res)
	}
	rows, err := s.SnapshotsBefore(ctx, res.Cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Entity.ID != 2 {
		t.Fatalf("expected unarchived row to survive, got %+v", rows)
	}

	res, err = newEngine(t, s, now).WithArchiver(archiver).Cleanup(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Archived != 1 || res.Deleted != 1 || s.SnapshotCount() != 0 {
		t.Fatalf("expected the next run to archive the late row, got %+v", res)
	}
}

func TestPeriods(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	for i := range 3 {
		s.PutSnapshot(trend.Snapshot{Entity: trend.EntityRef{Kind: trend.KindStory, ID: 1}, PeriodStart: hourStart.Add(time.Duration(i) * time.Hour), PeriodType: trend.PeriodHour, Count: 1, Rank: 1})
	}
	periods, err := newEngine(t, s, hourStart).Periods(ctx, trend.PeriodHour, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(periods) != 2 || !periods[0].Equal(hourStart.Add(2*time.Hour)) {
		t.Fatalf("unexpected periods %v", periods)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := trend.DefaultConfig()
	cfg.TopN = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero top n")
	}
	cfg = trend.DefaultConfig()
	cfg.Kinds = []trend.Kind{"planet"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := newEngine(t, memory.New(), hourStart).CaptureTrends(context.Background(), trend.Request{PeriodType: trend.PeriodType(9)}); err == nil {
		t.Fatal("expected error for invalid period type")
	}
}
