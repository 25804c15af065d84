package pgx

import (
	"context"
	"fmt"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

func (s *NewsDBStorage) CountsInPeriod(ctx context.Context, kind trend.Kind, start, end time.Time, limit int) ([]trend.Count, error) {
	var query string
	switch kind {
	case trend.KindStory:
		query = storyCountsSQL
	case trend.KindSubject:
		query = subjectCountsSQL
	case trend.KindCategory:
		query = categoryCountsSQL
	default:
		return nil, fmt.Errorf("unknown trend kind %q", kind)
	}

	rows, err := s.conn.Query(ctx, query, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s activity: %w", kind, err)
	}
	defer rows.Close()

	out := make([]trend.Count, 0, limit)
	for rows.Next() {
		c := trend.Count{Entity: trend.EntityRef{Kind: kind}}
		if err := rows.Scan(&c.Entity.ID, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *NewsDBStorage) PriorPeriodSnapshots(ctx context.Context, kind trend.Kind, start time.Time, typ trend.PeriodType) ([]trend.Snapshot, error) {
	rows, err := s.conn.Query(ctx, periodSnapshotsSQL, trendableType(kind), start, int16(typ))
	if err != nil {
		return nil, fmt.Errorf("failed to query previous snapshots: %w", err)
	}
	return scanSnapshots(rows)
}

// ReplaceSnapshots upserts rows on the composite key and drops rows of the
// same kind and period that fell out of the ranking.
func (s *NewsDBStorage) ReplaceSnapshots(ctx context.Context, kind trend.Kind, start time.Time, typ trend.PeriodType, rows []trend.Snapshot) error {
	tt := trendableType(kind)
	keep := make([]int64, 0, len(rows))
	for _, r := range rows {
		if r.Entity.Kind != kind || r.PeriodType != typ || !r.PeriodStart.Equal(start) {
			return common.Persistence("replace snapshots", fmt.Errorf("row %s does not belong to %s %s@%s", r.Entity, kind, typ, start))
		}
		keep = append(keep, r.Entity.ID)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return common.Persistence("replace snapshots", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, pruneSnapshotsSQL, tt, start, int16(typ), keep); err != nil {
		return common.Persistence("prune snapshots", err)
	}

	if len(rows) > 0 {
		batch := &pgxv5.Batch{}
		for _, r := range rows {
			batch.Queue(upsertSnapshotSQL, tt, r.Entity.ID, start, int16(typ), r.Count, r.Rank, r.PreviousRank, r.Velocity)
		}
		br := tx.SendBatch(ctx, batch)
		for range rows {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return common.Persistence("upsert snapshot", err)
			}
		}
		if err := br.Close(); err != nil {
			return common.Persistence("upsert snapshot", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return common.Persistence("replace snapshots", err)
	}
	return nil
}

func (s *NewsDBStorage) SnapshotsBefore(ctx context.Context, cutoff time.Time) ([]trend.Snapshot, error) {
	rows, err := s.conn.Query(ctx, snapshotsBeforeSQL, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring snapshots: %w", err)
	}
	return scanSnapshots(rows)
}

func (s *NewsDBStorage) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.conn.Exec(ctx, purgeSnapshotsSQL, cutoff)
	if err != nil {
		return 0, common.Persistence("purge snapshots", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeSnapshots deletes the given rows in one statement keyed on the
// composite snapshot key.
func (s *NewsDBStorage) PurgeSnapshots(ctx context.Context, rows []trend.Snapshot) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	types := make([]string, len(rows))
	ids := make([]int64, len(rows))
	starts := make([]time.Time, len(rows))
	periods := make([]int16, len(rows))
	for i, r := range rows {
		types[i] = trendableType(r.Entity.Kind)
		ids[i] = r.Entity.ID
		starts[i] = r.PeriodStart
		periods[i] = int16(r.PeriodType)
	}
	tag, err := s.conn.Exec(ctx, purgeSnapshotKeysSQL, types, ids, starts, periods)
	if err != nil {
		return 0, common.Persistence("purge snapshots", err)
	}
	return tag.RowsAffected(), nil
}

func (s *NewsDBStorage) ListSnapshots(ctx context.Context, q trend.Query) ([]trend.Snapshot, error) {
	rows, err := s.conn.Query(ctx, listSnapshotsSQL, trendableType(q.Kind), q.PeriodStart, int16(q.PeriodType), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return scanSnapshots(rows)
}

func (s *NewsDBStorage) ListPeriods(ctx context.Context, typ trend.PeriodType, limit int) ([]time.Time, error) {
	rows, err := s.conn.Query(ctx, listPeriodsSQL, int16(typ), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}
	defer rows.Close()
	out := make([]time.Time, 0, limit)
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanSnapshots(rows pgxv5.Rows) ([]trend.Snapshot, error) {
	defer rows.Close()
	out := make([]trend.Snapshot, 0)
	for rows.Next() {
		var (
			snap    trend.Snapshot
			tt      string
			typ     int16
			rank    *int
			created time.Time
			updated time.Time
		)
		if err := rows.Scan(&tt, &snap.Entity.ID, &snap.PeriodStart, &typ, &snap.Count, &rank,
			&snap.PreviousRank, &snap.Velocity, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		kind, err := kindOf(tt)
		if err != nil {
			return nil, err
		}
		snap.Entity.Kind = kind
		snap.PeriodType = trend.PeriodType(typ)
		if rank != nil {
			snap.Rank = *rank
		}
		snap.CreatedAt = created
		snap.UpdatedAt = updated
		out = append(out, snap)
	}
	return out, rows.Err()
}

const snapshotColumns = `trendable_type, trendable_id, period_start, period_type, article_count, rank,
       previous_rank, velocity, created_at, updated_at`

const storyCountsSQL = `
SELECT story_id, count(*)::int AS n
FROM articles
WHERE published_at >= $1 AND published_at < $2 AND story_id IS NOT NULL
GROUP BY story_id
ORDER BY n DESC, story_id ASC
LIMIT $3;
`

const subjectCountsSQL = `
SELECT s.concept_id, count(DISTINCT a.id)::int AS n
FROM articles a
JOIN article_subjects s ON s.article_id = a.id
WHERE a.published_at >= $1 AND a.published_at < $2
GROUP BY s.concept_id
ORDER BY n DESC, s.concept_id ASC
LIMIT $3;
`

const categoryCountsSQL = `
SELECT c.category_id, count(DISTINCT a.id)::int AS n
FROM articles a
JOIN article_categories c ON c.article_id = a.id
WHERE a.published_at >= $1 AND a.published_at < $2
GROUP BY c.category_id
ORDER BY n DESC, c.category_id ASC
LIMIT $3;
`

const periodSnapshotsSQL = `
SELECT ` + snapshotColumns + `
FROM trend_snapshots
WHERE trendable_type = $1 AND period_start = $2 AND period_type = $3
ORDER BY rank NULLS LAST, trendable_id;
`

const pruneSnapshotsSQL = `
DELETE FROM trend_snapshots
WHERE trendable_type = $1 AND period_start = $2 AND period_type = $3
  AND NOT (trendable_id = ANY($4));
`

const upsertSnapshotSQL = `
INSERT INTO trend_snapshots
    (trendable_type, trendable_id, period_start, period_type, article_count, rank, previous_rank, velocity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (trendable_type, trendable_id, period_start, period_type) DO UPDATE
SET article_count = EXCLUDED.article_count,
    rank          = EXCLUDED.rank,
    previous_rank = EXCLUDED.previous_rank,
    velocity      = EXCLUDED.velocity,
    updated_at    = now();
`

const snapshotsBeforeSQL = `
SELECT ` + snapshotColumns + `
FROM trend_snapshots
WHERE period_start < $1
ORDER BY period_start, trendable_type, rank NULLS LAST;
`

const purgeSnapshotsSQL = `
DELETE FROM trend_snapshots WHERE period_start < $1;
`

const purgeSnapshotKeysSQL = `
DELETE FROM trend_snapshots s
USING unnest($1::text[], $2::bigint[], $3::timestamptz[], $4::smallint[])
    AS k(trendable_type, trendable_id, period_start, period_type)
WHERE s.trendable_type = k.trendable_type
  AND s.trendable_id = k.trendable_id
  AND s.period_start = k.period_start
  AND s.period_type = k.period_type;
`

const listSnapshotsSQL = `
SELECT ` + snapshotColumns + `
FROM trend_snapshots
WHERE trendable_type = $1 AND period_start = $2 AND period_type = $3 AND rank IS NOT NULL
ORDER BY rank, trendable_id
LIMIT $4;
`

const listPeriodsSQL = `
SELECT DISTINCT period_start
FROM trend_snapshots
WHERE period_type = $1
ORDER BY period_start DESC
LIMIT $2;
`
