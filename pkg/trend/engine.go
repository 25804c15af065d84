package trend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/logger"
)

var log = logger.Component("Trend")

// Engine captures, lists and expires trend snapshots.
type Engine struct {
	store    Store
	cfg      Config
	labelers Labelers
	archiver Archiver
	now      func() time.Time
}

func NewEngine(store Store, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("trend: store is required")
	}
	return &Engine{store: store, cfg: cfg, labelers: Labelers{}, now: time.Now}, nil
}

// WithLabelers sets the label sources used by List.
func (e *Engine) WithLabelers(l Labelers) *Engine {
	e.labelers = l
	return e
}

// WithArchiver makes Cleanup archive rows before deleting them.
func (e *Engine) WithArchiver(a Archiver) *Engine {
	e.archiver = a
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// Request selects the period to capture. A zero PeriodStart means the
// current period; a non-aligned one is truncated to its period start.
type Request struct {
	Kind        Kind
	PeriodType  PeriodType
	PeriodStart time.Time
}

// Capture is the ranking written for one kind and period.
type Capture struct {
	Kind      Kind       `json:"kind"`
	Period    Period     `json:"period"`
	Snapshots []Snapshot `json:"snapshots"`
}

// Period resolves the period a request refers to.
func (e *Engine) Period(typ PeriodType, start time.Time) Period {
	if start.IsZero() {
		start = e.now()
	}
	return PeriodAt(typ, start, e.cfg.Location)
}

// CurrentPeriod is the period containing now.
func (e *Engine) CurrentPeriod(typ PeriodType) Period {
	return PeriodAt(typ, e.now(), e.cfg.Location)
}

// LastClosedPeriod is the period immediately before the current one.
func (e *Engine) LastClosedPeriod(typ PeriodType) Period {
	return e.CurrentPeriod(typ).Previous()
}

// CaptureTrends ranks one kind for one period and replaces its snapshots.
// Running it again over unchanged data writes identical rows.
func (e *Engine) CaptureTrends(ctx context.Context, req Request) (Capture, error) {
	if !req.PeriodType.Valid() {
		return Capture{}, &common.ConfigError{Field: "period_type", Reason: fmt.Sprintf("unknown period type %d", int(req.PeriodType))}
	}
	kind := req.Kind
	if kind == "" {
		kind = KindStory
	}
	if !kind.Valid() {
		return Capture{}, &common.ConfigError{Field: "kind", Reason: "unknown trend kind " + string(kind)}
	}

	period := e.Period(req.PeriodType, req.PeriodStart)
	previous := period.Previous()

	prior, err := e.store.PriorPeriodSnapshots(ctx, kind, previous.Start, period.Type)
	if err != nil {
		return Capture{}, fmt.Errorf("load previous %s snapshots: %w", kind, err)
	}
	counts, err := e.store.CountsInPeriod(ctx, kind, period.Start, period.End, e.cfg.TopN)
	if err != nil {
		return Capture{}, fmt.Errorf("count %s activity: %w", kind, err)
	}

	rows := Rank(counts, period, e.cfg.TopN, PriorLookup(prior))
	if err := e.store.ReplaceSnapshots(ctx, kind, period.Start, period.Type, rows); err != nil {
		return Capture{}, fmt.Errorf("write %s snapshots for %s: %w", kind, period, err)
	}

	log.Info("Captured trends", "kind", kind, "period_type", period.Type.String(),
		"period_start", period.Start, "ranked", len(rows))
	return Capture{Kind: kind, Period: period, Snapshots: rows}, nil
}

// CaptureKinds captures every configured kind for the same period
// concurrently. Results follow the configured kind order.
func (e *Engine) CaptureKinds(ctx context.Context, typ PeriodType, start time.Time) ([]Capture, error) {
	captures := make([]Capture, len(e.cfg.Kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range e.cfg.Kinds {
		g.Go(func() error {
			c, err := e.CaptureTrends(gctx, Request{Kind: kind, PeriodType: typ, PeriodStart: start})
			if err != nil {
				return err
			}
			captures[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return captures, nil
}

// Backfill captures every period of typ from the one containing from up to,
// but not including, the one containing to. Periods run oldest first so each
// sees its predecessor's ranks.
func (e *Engine) Backfill(ctx context.Context, typ PeriodType, from, to time.Time) (int, error) {
	if !to.After(from) {
		return 0, fmt.Errorf("backfill range is empty: %s .. %s", from, to)
	}
	end := PeriodAt(typ, to, e.cfg.Location).Start
	captured := 0
	for p := PeriodAt(typ, from, e.cfg.Location); p.Start.Before(end); p = p.Following() {
		if err := ctx.Err(); err != nil {
			return captured, err
		}
		if _, err := e.CaptureKinds(ctx, typ, p.Start); err != nil {
			return captured, err
		}
		captured++
	}
	log.Info("Backfill finished", "period_type", typ.String(), "periods", captured)
	return captured, nil
}

// CleanupResult reports a retention sweep.
type CleanupResult struct {
	Cutoff     time.Time `json:"cutoff"`
	Archived   int       `json:"archived"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	Deleted    int64     `json:"deleted"`
}

// Cleanup removes snapshots whose period started before now minus the
// retention horizon. With an archiver set, only the rows that were archived
// are deleted; rows written after the read survive until the next run.
func (e *Engine) Cleanup(ctx context.Context) (CleanupResult, error) {
	res := CleanupResult{Cutoff: e.now().Add(-e.cfg.Retention)}

	var deleted int64
	if e.archiver != nil {
		rows, err := e.store.SnapshotsBefore(ctx, res.Cutoff)
		if err != nil {
			return res, fmt.Errorf("load expiring snapshots: %w", err)
		}
		if len(rows) > 0 {
			key, err := e.archiver.ArchiveSnapshots(ctx, res.Cutoff, rows)
			if err != nil {
				return res, fmt.Errorf("archive expiring snapshots: %w", err)
			}
			res.Archived = len(rows)
			res.ArchiveKey = key
		}
		if deleted, err = e.store.PurgeSnapshots(ctx, rows); err != nil {
			return res, fmt.Errorf("purge snapshots: %w", err)
		}
	} else {
		var err error
		if deleted, err = e.store.PurgeBefore(ctx, res.Cutoff); err != nil {
			return res, fmt.Errorf("purge snapshots: %w", err)
		}
	}
	res.Deleted = deleted
	log.Info("Deleted expired trend snapshots", "deleted", deleted, "archived", res.Archived,
		"retention_days", int(e.cfg.Retention.Hours()/24))
	return res, nil
}

// List returns one labelled period ranking. Zero fields of q take defaults:
// story kind, the current period and the configured list limit.
func (e *Engine) List(ctx context.Context, q Query) ([]Snapshot, error) {
	if q.Kind == "" {
		q.Kind = KindStory
	}
	if q.Limit <= 0 {
		q.Limit = e.cfg.ListLimit
	}
	q.PeriodStart = e.Period(q.PeriodType, q.PeriodStart).Start

	rows, err := e.store.ListSnapshots(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := e.labelers.Apply(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Periods lists the most recent period starts that have snapshots.
func (e *Engine) Periods(ctx context.Context, typ PeriodType, limit int) ([]time.Time, error) {
	if limit <= 0 {
		limit = e.cfg.PeriodsLimit
	}
	return e.store.ListPeriods(ctx, typ, limit)
}
