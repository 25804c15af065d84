// Package trend ranks trendable entities per closed hour or day and records
// the ranking as snapshots that carry rank history forward between periods.
package trend

import (
	"context"
	"time"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
)

// Store persists snapshots and counts activity.
type Store interface {
	// CountsInPeriod counts articles published in [start, end) per entity of
	// kind, at most limit rows, ordered by count descending then id ascending.
	CountsInPeriod(ctx context.Context, kind Kind, start, end time.Time, limit int) ([]Count, error)

	// PriorPeriodSnapshots returns the snapshots of kind for one period.
	PriorPeriodSnapshots(ctx context.Context, kind Kind, start time.Time, typ PeriodType) ([]Snapshot, error)

	// ReplaceSnapshots upserts rows by composite key and removes rows of the
	// same kind and period that are not in rows, in one transaction.
	ReplaceSnapshots(ctx context.Context, kind Kind, start time.Time, typ PeriodType, rows []Snapshot) error

	// SnapshotsBefore returns every snapshot with a period start before cutoff.
	SnapshotsBefore(ctx context.Context, cutoff time.Time) ([]Snapshot, error)

	// PurgeBefore deletes every snapshot with a period start before cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// PurgeSnapshots deletes exactly the given rows by composite key.
	PurgeSnapshots(ctx context.Context, rows []Snapshot) (int64, error)

	// ListSnapshots returns the ranked rows of one period, ordered by rank.
	ListSnapshots(ctx context.Context, q Query) ([]Snapshot, error)

	// ListPeriods returns distinct period starts, newest first.
	ListPeriods(ctx context.Context, typ PeriodType, limit int) ([]time.Time, error)
}

// Query selects one period's ranking.
type Query struct {
	Kind        Kind
	PeriodType  PeriodType
	PeriodStart time.Time
	Limit       int
}

// Archiver stores expiring snapshots before they are purged.
type Archiver interface {
	ArchiveSnapshots(ctx context.Context, cutoff time.Time, rows []Snapshot) (string, error)
}

type Config struct {
	// TopN is how many entities are ranked per period.
	TopN int
	// Retention is how long snapshots are kept.
	Retention time.Duration
	// Kinds are captured by CaptureKinds.
	Kinds []Kind
	// Location anchors period boundaries.
	Location *time.Location
	// ListLimit is the default row count for listings.
	ListLimit int
	// PeriodsLimit is the default number of period starts listed.
	PeriodsLimit int
}

func DefaultConfig() Config {
	return Config{
		TopN:         30,
		Retention:    90 * 24 * time.Hour,
		Kinds:        []Kind{KindStory},
		Location:     time.UTC,
		ListLimit:    15,
		PeriodsLimit: 24,
	}
}

func (c Config) Validate() error {
	if c.TopN <= 0 {
		return &common.ConfigError{Field: "TREND_TOP_N", Reason: "must be positive"}
	}
	if c.Retention <= 0 {
		return &common.ConfigError{Field: "TREND_RETENTION", Reason: "must be positive"}
	}
	if len(c.Kinds) == 0 {
		return &common.ConfigError{Field: "TREND_KINDS", Reason: "at least one kind is required"}
	}
	for _, k := range c.Kinds {
		if !k.Valid() {
			return &common.ConfigError{Field: "TREND_KINDS", Reason: "unknown kind " + string(k)}
		}
	}
	if c.Location == nil {
		return &common.ConfigError{Field: "TREND_TIMEZONE", Reason: "location is required"}
	}
	if c.ListLimit <= 0 || c.PeriodsLimit <= 0 {
		return &common.ConfigError{Field: "TREND_LIST_LIMIT", Reason: "must be positive"}
	}
	return nil
}
